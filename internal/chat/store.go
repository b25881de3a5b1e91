// Package chat owns the ephemeral group channel. Messages expire after a
// rolling retention window and attachments count against a hard per-user
// storage quota enforced before upload.
package chat

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

const (
	// StorageLimitBytes caps cumulative attachment bytes per user.
	StorageLimitBytes = 1 << 30 // 1 GiB
	// WarningThreshold flags storage info once usage passes 80%.
	WarningThreshold = 0.8
	// RetentionWindow is how long a message survives before the sweep
	// removes it.
	RetentionWindow = 48 * time.Hour
)

var (
	ErrEmptyMessage  = errors.New("message needs text or an attachment")
	ErrQuotaExceeded = errors.New("chat storage quota exceeded")
)

// QuotaError carries the byte counts callers need to render guidance.
type QuotaError struct {
	RemainingBytes int64
	NeededBytes    int64
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("chat storage quota exceeded: %d bytes left, %d needed", e.RemainingBytes, e.NeededBytes)
}

func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

// StorageInfo reports a user's attachment usage against the quota.
type StorageInfo struct {
	UsedBytes      int64   `json:"used_bytes"`
	LimitBytes     int64   `json:"limit_bytes"`
	RemainingBytes int64   `json:"remaining_bytes"`
	UsedPercent    float64 `json:"used_percent"`
	IsWarning      bool    `json:"is_warning"`
	IsFull         bool    `json:"is_full"`
}

// FileInfo describes one stored chat attachment for the management view.
type FileInfo struct {
	MessageID    int       `json:"message_id"`
	Filename     string    `json:"filename"`
	OriginalName string    `json:"original_name"`
	SizeBytes    int64     `json:"size_bytes"`
	CreatedAt    time.Time `json:"created_at"`
	SenderID     int       `json:"sender_id"`
	IsSender     bool      `json:"is_sender"`
}

type Store struct {
	file    *storage.Collection
	uploads storage.BlobStore
	now     func() time.Time
}

// New opens the store and runs one retention sweep immediately, matching
// the legacy startup behavior.
func New(path string, uploads storage.BlobStore) (*Store, error) {
	s := &Store{
		file:    storage.NewCollection(path),
		uploads: uploads,
		now:     func() time.Time { return time.Now().UTC() },
	}
	if _, err := s.CleanupOldMessages(); err != nil {
		return nil, fmt.Errorf("init chat store: %w", err)
	}
	return s, nil
}

// SetNow overrides the clock. Tests use it to simulate message age.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

// Uploads exposes the attachment store for download handlers.
func (s *Store) Uploads() storage.BlobStore {
	return s.uploads
}

func (s *Store) load() ([]domain.ChatMessage, error) {
	var msgs []domain.ChatMessage
	if err := s.file.Load(&msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// SendGroupMessage appends a message to the group channel. Callers must
// run CanUpload before handing over an attachment; the store itself does
// not re-check the quota.
func (s *Store) SendGroupMessage(senderID int, message string, attachment io.Reader, originalName string) (domain.ChatMessage, error) {
	message = strings.TrimSpace(message)
	if message == "" && attachment == nil {
		return domain.ChatMessage{}, ErrEmptyMessage
	}
	var created domain.ChatMessage
	err := s.file.WithLock(func() error {
		msgs, err := s.load()
		if err != nil {
			return err
		}
		nextID := 1
		for _, m := range msgs {
			if m.ID >= nextID {
				nextID = m.ID + 1
			}
		}
		created = domain.ChatMessage{
			ID:         nextID,
			SenderID:   senderID,
			ReceiverID: domain.GroupReceiverID,
			Message:    message,
			CreatedAt:  s.now(),
		}
		if attachment != nil {
			ext := strings.ToLower(filepath.Ext(filepath.Base(originalName)))
			filename := fmt.Sprintf("chat_%d_%s%s", nextID, uuid.NewString()[:8], ext)
			if _, err := s.uploads.Save(filename, attachment); err != nil {
				return fmt.Errorf("save chat attachment: %w", err)
			}
			created.AttachmentFilename = filename
			created.AttachmentOriginalName = filepath.Base(originalName)
		}
		return s.file.Save(append(msgs, created))
	})
	if err != nil {
		return domain.ChatMessage{}, err
	}
	return created, nil
}

// Usage sums the stored sizes of every attachment on messages the user
// sent or received.
func (s *Store) Usage(userID int) (int64, error) {
	msgs, err := s.load()
	if err != nil {
		return 0, err
	}
	var total int64
	for _, m := range msgs {
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		if m.AttachmentFilename == "" {
			continue
		}
		if size, ok := s.uploads.Size(m.AttachmentFilename); ok {
			total += size
		}
	}
	return total, nil
}

// CanUpload checks the quota before an upload and returns the remaining
// bytes on success. Filling the quota exactly is allowed; exceeding it is
// not.
func (s *Store) CanUpload(userID int, fileSize int64) (int64, error) {
	used, err := s.Usage(userID)
	if err != nil {
		return 0, err
	}
	remaining := StorageLimitBytes - used
	if used >= StorageLimitBytes || used+fileSize > StorageLimitBytes {
		if remaining < 0 {
			remaining = 0
		}
		return 0, &QuotaError{RemainingBytes: remaining, NeededBytes: fileSize}
	}
	return remaining - fileSize, nil
}

// StorageInfo reports usage for client display.
func (s *Store) StorageInfo(userID int) (StorageInfo, error) {
	used, err := s.Usage(userID)
	if err != nil {
		return StorageInfo{}, err
	}
	remaining := StorageLimitBytes - used
	if remaining < 0 {
		remaining = 0
	}
	percent := float64(used) / float64(StorageLimitBytes) * 100
	return StorageInfo{
		UsedBytes:      used,
		LimitBytes:     StorageLimitBytes,
		RemainingBytes: remaining,
		UsedPercent:    percent,
		IsWarning:      percent >= WarningThreshold*100,
		IsFull:         used >= StorageLimitBytes,
	}, nil
}

// ListMessages returns group-channel messages ascending by time. When
// limit is positive, pagination counts backward from the newest: offset
// trailing messages are skipped, then the last limit before them returned.
func (s *Store) ListMessages(limit, offset int) ([]domain.ChatMessage, error) {
	msgs, err := s.load()
	if err != nil {
		return nil, err
	}
	group := make([]domain.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		if m.ReceiverID == domain.GroupReceiverID {
			group = append(group, m)
		}
	}
	sort.SliceStable(group, func(i, j int) bool {
		return group[i].CreatedAt.Before(group[j].CreatedAt)
	})
	if limit <= 0 {
		return group, nil
	}
	end := len(group) - offset
	if end < 0 {
		end = 0
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return group[start:end], nil
}

// MarkRead flags a message as read. Reports whether the id was found.
func (s *Store) MarkRead(id int) (bool, error) {
	found := false
	err := s.file.WithLock(func() error {
		msgs, err := s.load()
		if err != nil {
			return err
		}
		for i := range msgs {
			if msgs[i].ID == id {
				if msgs[i].IsRead {
					found = true
					return nil
				}
				msgs[i].IsRead = true
				found = true
				return s.file.Save(msgs)
			}
		}
		return nil
	})
	return found, err
}

// UnreadCount counts unread messages addressed to the user.
func (s *Store) UnreadCount(userID int) (int, error) {
	msgs, err := s.load()
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range msgs {
		if m.ReceiverID == userID && !m.IsRead {
			count++
		}
	}
	return count, nil
}

// DeleteMessage removes a message and its attachment. Only the original
// sender may delete; a non-owner or missing id reports false.
func (s *Store) DeleteMessage(id, requesterID int) bool {
	deleted := false
	var attachment string
	err := s.file.WithLock(func() error {
		msgs, err := s.load()
		if err != nil {
			return err
		}
		for i, m := range msgs {
			if m.ID == id && m.SenderID == requesterID {
				attachment = m.AttachmentFilename
				msgs = append(msgs[:i], msgs[i+1:]...)
				deleted = true
				return s.file.Save(msgs)
			}
		}
		return nil
	})
	if err != nil || !deleted {
		return false
	}
	s.removeAttachment(attachment)
	return true
}

// ClearAllGroupMessages deletes every group message and its attachment.
// Returns the number removed. Admin only; the caller logs it.
func (s *Store) ClearAllGroupMessages() (int, error) {
	removed := 0
	var attachments []string
	err := s.file.WithLock(func() error {
		msgs, err := s.load()
		if err != nil {
			return err
		}
		kept := msgs[:0]
		for _, m := range msgs {
			if m.ReceiverID == domain.GroupReceiverID {
				if m.AttachmentFilename != "" {
					attachments = append(attachments, m.AttachmentFilename)
				}
				removed++
				continue
			}
			kept = append(kept, m)
		}
		if removed == 0 {
			return nil
		}
		return s.file.Save(kept)
	})
	if err != nil {
		return 0, err
	}
	for _, name := range attachments {
		s.removeAttachment(name)
	}
	return removed, nil
}

// CleanupOldMessages removes every message older than the retention
// window, in any channel, deleting attachments best effort. Returns the
// number removed.
func (s *Store) CleanupOldMessages() (int, error) {
	removed := 0
	var attachments []string
	err := s.file.WithLock(func() error {
		msgs, err := s.load()
		if err != nil {
			return err
		}
		cutoff := s.now().Add(-RetentionWindow)
		kept := msgs[:0]
		for _, m := range msgs {
			// A zero timestamp cannot be aged reliably; keep it.
			if m.CreatedAt.IsZero() || !m.CreatedAt.Before(cutoff) {
				kept = append(kept, m)
				continue
			}
			if m.AttachmentFilename != "" {
				attachments = append(attachments, m.AttachmentFilename)
			}
			removed++
		}
		if removed == 0 {
			return nil
		}
		return s.file.Save(kept)
	})
	if err != nil {
		return 0, err
	}
	for _, name := range attachments {
		s.removeAttachment(name)
	}
	if removed > 0 {
		slog.Info("chat retention sweep", "removed", removed)
	}
	return removed, nil
}

// UserFiles lists the user's stored attachments sorted by size descending
// for the storage-management view.
func (s *Store) UserFiles(userID int) ([]FileInfo, error) {
	msgs, err := s.load()
	if err != nil {
		return nil, err
	}
	files := make([]FileInfo, 0)
	for _, m := range msgs {
		if m.AttachmentFilename == "" {
			continue
		}
		if m.SenderID != userID && m.ReceiverID != userID {
			continue
		}
		size, ok := s.uploads.Size(m.AttachmentFilename)
		if !ok {
			continue
		}
		files = append(files, FileInfo{
			MessageID:    m.ID,
			Filename:     m.AttachmentFilename,
			OriginalName: m.AttachmentOriginalName,
			SizeBytes:    size,
			CreatedAt:    m.CreatedAt,
			SenderID:     m.SenderID,
			IsSender:     m.SenderID == userID,
		})
	}
	sort.SliceStable(files, func(i, j int) bool {
		return files[i].SizeBytes > files[j].SizeBytes
	})
	return files, nil
}

func (s *Store) removeAttachment(name string) {
	if name == "" {
		return
	}
	if err := s.uploads.Delete(name); err != nil {
		slog.Warn("delete chat attachment failed", "file", name, "err", err)
	}
}
