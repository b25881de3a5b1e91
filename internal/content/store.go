// Package content owns notes and documents. Metadata for both kinds lives
// in one aggregate collection file, body text in per-item blob files, and
// attachments in a kind-specific upload store.
package content

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DucVuong2901/internal-management/internal/category"
	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/pkg/domain"
	"github.com/DucVuong2901/internal-management/pkg/text"
)

var (
	ErrEmptyTitle = errors.New("title must not be empty")
	ErrNotFound   = errors.New("item does not exist")
)

// CategoryResolver is the slice of the category store the content store
// needs for validating category keys.
type CategoryResolver interface {
	Exists(key string) bool
}

// metadataFile is the on-disk shape of metadata.json. Both kinds share the
// file, so note and doc stores must share one Collection for locking.
type metadataFile struct {
	Notes []domain.Item `json:"notes"`
	Docs  []domain.Item `json:"docs"`
}

func (m *metadataFile) items(kind domain.Kind) []domain.Item {
	if kind == domain.KindNote {
		return m.Notes
	}
	return m.Docs
}

func (m *metadataFile) setItems(kind domain.Kind, items []domain.Item) {
	if kind == domain.KindNote {
		m.Notes = items
	} else {
		m.Docs = items
	}
}

type Store struct {
	kind       domain.Kind
	meta       *storage.Collection
	bodiesDir  string
	uploads    storage.BlobStore
	categories CategoryResolver
	now        func() time.Time
}

// New builds a store for one kind. Note and doc stores must be given the
// same Collection so writes to metadata.json are serialized.
func New(kind domain.Kind, meta *storage.Collection, bodiesDir string, uploads storage.BlobStore, categories CategoryResolver) (*Store, error) {
	if err := os.MkdirAll(bodiesDir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s body dir: %w", kind, err)
	}
	return &Store{
		kind:       kind,
		meta:       meta,
		bodiesDir:  bodiesDir,
		uploads:    uploads,
		categories: categories,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Kind returns the store's kind tag.
func (s *Store) Kind() domain.Kind {
	return s.kind
}

// Uploads exposes the attachment store for download handlers.
func (s *Store) Uploads() storage.BlobStore {
	return s.uploads
}

func (s *Store) bodyPath(id int) string {
	return filepath.Join(s.bodiesDir, fmt.Sprintf("%d.txt", id))
}

// Create validates the title, coerces an unknown category to "general",
// assigns the next id, and persists metadata plus the body blob.
func (s *Store) Create(title, content, categoryKey string, userID int) (domain.Item, error) {
	if text.StripMarkup(title) == "" {
		return domain.Item{}, ErrEmptyTitle
	}
	if categoryKey == "" || !s.categories.Exists(categoryKey) {
		categoryKey = category.GeneralKey
	}
	var created domain.Item
	err := s.meta.WithLock(func() error {
		var meta metadataFile
		if err := s.meta.Load(&meta); err != nil {
			return err
		}
		items := meta.items(s.kind)
		nextID := 1
		for _, item := range items {
			if item.ID >= nextID {
				nextID = item.ID + 1
			}
		}
		now := s.now()
		created = domain.Item{
			ID:          nextID,
			Title:       title,
			CategoryKey: categoryKey,
			UserID:      userID,
			Attachments: []domain.Attachment{},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := storage.WriteFileAtomic(s.bodyPath(nextID), []byte(content)); err != nil {
			return fmt.Errorf("write %s body: %w", s.kind, err)
		}
		meta.setItems(s.kind, append(items, created))
		return s.meta.Save(&meta)
	})
	if err != nil {
		return domain.Item{}, err
	}
	created.Content = content
	return created, nil
}

// Get returns the item with its body text loaded.
func (s *Store) Get(id int) (domain.Item, error) {
	var found domain.Item
	err := s.meta.WithLock(func() error {
		var meta metadataFile
		if err := s.meta.Load(&meta); err != nil {
			return err
		}
		for _, item := range meta.items(s.kind) {
			if item.ID == id {
				found = item
				return nil
			}
		}
		return ErrNotFound
	})
	if err != nil {
		return domain.Item{}, err
	}
	body, err := os.ReadFile(s.bodyPath(id))
	if err != nil && !os.IsNotExist(err) {
		return domain.Item{}, fmt.Errorf("read %s body: %w", s.kind, err)
	}
	found.Content = string(body)
	if found.Attachments == nil {
		found.Attachments = []domain.Attachment{}
	}
	return found, nil
}

// Update overwrites body and metadata. An unknown category keeps the
// item's previous category; the returned flag signals that coercion so
// callers can warn.
func (s *Store) Update(id int, title, content, categoryKey string, editorID int) (domain.Item, bool, error) {
	if text.StripMarkup(title) == "" {
		return domain.Item{}, false, ErrEmptyTitle
	}
	var (
		updated domain.Item
		coerced bool
	)
	err := s.meta.WithLock(func() error {
		var meta metadataFile
		if err := s.meta.Load(&meta); err != nil {
			return err
		}
		items := meta.items(s.kind)
		idx := -1
		for i, item := range items {
			if item.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNotFound
		}
		if categoryKey == "" || !s.categories.Exists(categoryKey) {
			categoryKey = items[idx].CategoryKey
			coerced = true
		}
		items[idx].Title = title
		items[idx].CategoryKey = categoryKey
		items[idx].UpdatedBy = editorID
		items[idx].UpdatedAt = s.now()
		if err := storage.WriteFileAtomic(s.bodyPath(id), []byte(content)); err != nil {
			return fmt.Errorf("write %s body: %w", s.kind, err)
		}
		updated = items[idx]
		meta.setItems(s.kind, items)
		return s.meta.Save(&meta)
	})
	if err != nil {
		return domain.Item{}, false, err
	}
	updated.Content = content
	return updated, coerced, nil
}

// Delete removes the metadata record, the body blob, and every attachment
// file. Attachment deletions are best effort.
func (s *Store) Delete(id int) error {
	var attachments []domain.Attachment
	err := s.meta.WithLock(func() error {
		var meta metadataFile
		if err := s.meta.Load(&meta); err != nil {
			return err
		}
		items := meta.items(s.kind)
		idx := -1
		for i, item := range items {
			if item.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNotFound
		}
		attachments = items[idx].Attachments
		meta.setItems(s.kind, append(items[:idx], items[idx+1:]...))
		return s.meta.Save(&meta)
	})
	if err != nil {
		return err
	}
	if err := os.Remove(s.bodyPath(id)); err != nil && !os.IsNotExist(err) {
		slog.Warn("delete body file failed", "kind", s.kind, "id", id, "err", err)
	}
	for _, att := range attachments {
		if err := s.uploads.Delete(att.Filename); err != nil {
			slog.Warn("delete attachment failed", "kind", s.kind, "id", id, "file", att.Filename, "err", err)
		}
	}
	return nil
}

// AddAttachment stores the file under a collision-free generated name and
// records it on the item. The stored name never derives solely from user
// input.
func (s *Store) AddAttachment(id int, r io.Reader, originalName string) (domain.Attachment, error) {
	ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
	filename := fmt.Sprintf("%s%d_%s%s", s.kind, id, uuid.NewString()[:8], ext)
	att := domain.Attachment{
		Filename:         filename,
		OriginalFilename: filepath.Base(originalName),
		UploadedAt:       s.now(),
	}
	err := s.meta.WithLock(func() error {
		var meta metadataFile
		if err := s.meta.Load(&meta); err != nil {
			return err
		}
		items := meta.items(s.kind)
		idx := -1
		for i, item := range items {
			if item.ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return ErrNotFound
		}
		if _, err := s.uploads.Save(filename, r); err != nil {
			return fmt.Errorf("save attachment: %w", err)
		}
		items[idx].Attachments = append(items[idx].Attachments, att)
		items[idx].UpdatedAt = s.now()
		meta.setItems(s.kind, items)
		return s.meta.Save(&meta)
	})
	if err != nil {
		return domain.Attachment{}, err
	}
	return att, nil
}

// HasAttachment reports whether (id, filename) names an attachment of that
// item. Download and delete paths must check this pairing first so one
// item's handle can never reach another item's file.
func (s *Store) HasAttachment(id int, filename string) bool {
	item, err := s.Get(id)
	if err != nil {
		return false
	}
	for _, att := range item.Attachments {
		if att.Filename == filename {
			return true
		}
	}
	return false
}

// DeleteAttachment removes the record entry and the stored file. It
// reports false when the (id, filename) pair does not match, leaving the
// file untouched.
func (s *Store) DeleteAttachment(id int, filename string) bool {
	matched := false
	err := s.meta.WithLock(func() error {
		var meta metadataFile
		if err := s.meta.Load(&meta); err != nil {
			return err
		}
		items := meta.items(s.kind)
		for i, item := range items {
			if item.ID != id {
				continue
			}
			for j, att := range item.Attachments {
				if att.Filename == filename {
					items[i].Attachments = append(item.Attachments[:j], item.Attachments[j+1:]...)
					matched = true
					break
				}
			}
			break
		}
		if !matched {
			return nil
		}
		meta.setItems(s.kind, items)
		return s.meta.Save(&meta)
	})
	if err != nil || !matched {
		return false
	}
	if err := s.uploads.Delete(filename); err != nil {
		slog.Warn("delete attachment file failed", "kind", s.kind, "file", filename, "err", err)
	}
	return true
}

// IncrementViewCount bumps the read counter. Last writer wins; the counter
// is advisory.
func (s *Store) IncrementViewCount(id int) error {
	return s.meta.WithLock(func() error {
		var meta metadataFile
		if err := s.meta.Load(&meta); err != nil {
			return err
		}
		items := meta.items(s.kind)
		for i := range items {
			if items[i].ID == id {
				items[i].ViewCount++
				meta.setItems(s.kind, items)
				return s.meta.Save(&meta)
			}
		}
		return ErrNotFound
	})
}

// List filters by category ("all" or empty means no filter) and by a
// case-insensitive substring over title, body text, and category key.
// Order is the stored insertion order.
func (s *Store) List(categoryKey, search string) ([]domain.Item, error) {
	var meta metadataFile
	err := s.meta.WithLock(func() error {
		return s.meta.Load(&meta)
	})
	if err != nil {
		return nil, err
	}
	search = strings.ToLower(strings.TrimSpace(search))
	out := make([]domain.Item, 0)
	for _, item := range meta.items(s.kind) {
		if categoryKey != "" && categoryKey != "all" && item.CategoryKey != categoryKey {
			continue
		}
		if search != "" && !s.matches(item, search) {
			continue
		}
		if item.Attachments == nil {
			item.Attachments = []domain.Attachment{}
		}
		out = append(out, item)
	}
	return out, nil
}

func (s *Store) matches(item domain.Item, search string) bool {
	if strings.Contains(strings.ToLower(item.Title), search) {
		return true
	}
	if strings.Contains(strings.ToLower(item.CategoryKey), search) {
		return true
	}
	body, err := os.ReadFile(s.bodyPath(item.ID))
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(body)), search)
}

// Recent returns the dashboard projection: up to n items sorted by
// (view_count, updated_at) descending.
func (s *Store) Recent(n int) ([]domain.Item, error) {
	items, err := s.List("", "")
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].ViewCount != items[j].ViewCount {
			return items[i].ViewCount > items[j].ViewCount
		}
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	if n > 0 && len(items) > n {
		items = items[:n]
	}
	return items, nil
}

// Categories returns the category keys actually used by at least one item
// of this kind, sorted.
func (s *Store) Categories() ([]string, error) {
	items, err := s.List("", "")
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	for _, item := range items {
		seen[item.CategoryKey] = true
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Count returns the number of items of this kind.
func (s *Store) Count() (int, error) {
	items, err := s.List("", "")
	if err != nil {
		return 0, err
	}
	return len(items), nil
}

// BodiesDir returns the directory holding body blobs. Used by
// export/import for raw file copies.
func (s *Store) BodiesDir() string {
	return s.bodiesDir
}

// Snapshot returns the metadata records without bodies. Used by export.
func (s *Store) Snapshot() ([]domain.Item, error) {
	return s.List("", "")
}

// Replace overwrites every metadata record of this kind. Body and
// attachment files are not touched.
func (s *Store) Replace(items []domain.Item) error {
	return s.meta.WithLock(func() error {
		var meta metadataFile
		if err := s.meta.Load(&meta); err != nil {
			return err
		}
		if items == nil {
			items = []domain.Item{}
		}
		meta.setItems(s.kind, items)
		return s.meta.Save(&meta)
	})
}

// Merge combines incoming metadata by id: an incoming record replaces
// the existing record with the same id, others are appended. Returns
// the number of records taken from incoming.
func (s *Store) Merge(incoming []domain.Item) (int, error) {
	merged := 0
	err := s.meta.WithLock(func() error {
		var meta metadataFile
		if err := s.meta.Load(&meta); err != nil {
			return err
		}
		items := meta.items(s.kind)
		index := make(map[int]int, len(items))
		for i, item := range items {
			index[item.ID] = i
		}
		for _, in := range incoming {
			if i, ok := index[in.ID]; ok {
				items[i] = in
			} else {
				items = append(items, in)
			}
			merged++
		}
		meta.setItems(s.kind, items)
		return s.meta.Save(&meta)
	})
	if err != nil {
		return 0, err
	}
	return merged, nil
}
