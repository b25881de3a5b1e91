// Package category owns the category tree. Categories are persisted as a
// flat map keyed by a path-like unique key and rewritten wholesale on
// every change.
package category

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

// GeneralKey is the reserved default category. It is seeded at startup and
// can never be deleted.
const GeneralKey = "general"

var (
	ErrDuplicateKey      = errors.New("category already exists")
	ErrUnknownParent     = errors.New("parent category does not exist")
	ErrSelfParent        = errors.New("category cannot be its own parent")
	ErrProtectedCategory = errors.New("the general category cannot be deleted")
	ErrHasChildren       = errors.New("category still has children")
	ErrNotFound          = errors.New("category does not exist")
	ErrCycleDetected     = errors.New("category parent chain contains a cycle")
)

type Store struct {
	file *storage.Collection
}

// New opens the store and seeds the protected general category when the
// map is empty or missing it.
func New(path string) (*Store, error) {
	s := &Store{file: storage.NewCollection(path)}
	err := s.file.WithLock(func() error {
		cats, err := s.load()
		if err != nil {
			return err
		}
		if _, ok := cats[GeneralKey]; ok {
			return nil
		}
		cats[GeneralKey] = &domain.Category{
			Name:        GeneralKey,
			DisplayName: "General",
			Children:    []string{},
		}
		return s.file.Save(cats)
	})
	if err != nil {
		return nil, fmt.Errorf("init category store: %w", err)
	}
	return s, nil
}

func (s *Store) load() (map[string]*domain.Category, error) {
	cats := map[string]*domain.Category{}
	if err := s.file.Load(&cats); err != nil {
		return nil, err
	}
	for key, cat := range cats {
		cat.Key = key
		if cat.Children == nil {
			cat.Children = []string{}
		}
	}
	return cats, nil
}

// List returns the full key to record mapping.
func (s *Store) List() (map[string]*domain.Category, error) {
	var cats map[string]*domain.Category
	err := s.file.WithLock(func() error {
		var err error
		cats, err = s.load()
		return err
	})
	return cats, err
}

// Get returns one category by key.
func (s *Store) Get(key string) (*domain.Category, error) {
	cats, err := s.List()
	if err != nil {
		return nil, err
	}
	cat, ok := cats[key]
	if !ok {
		return nil, ErrNotFound
	}
	return cat, nil
}

// Exists reports whether key resolves to a category.
func (s *Store) Exists(key string) bool {
	cats, err := s.List()
	if err != nil {
		return false
	}
	_, ok := cats[key]
	return ok
}

// Add inserts a category. A root key equals the name; a child key is
// "parent/name". Key derivation is part of the on-disk contract.
func (s *Store) Add(name, parent string) (*domain.Category, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	parent = strings.TrimSpace(parent)
	if name == "" {
		return nil, fmt.Errorf("category name is required")
	}
	if parent != "" && parent == name {
		return nil, ErrSelfParent
	}
	var created *domain.Category
	err := s.file.WithLock(func() error {
		cats, err := s.load()
		if err != nil {
			return err
		}
		key := name
		if parent != "" {
			parentCat, ok := cats[parent]
			if !ok {
				return ErrUnknownParent
			}
			key = parent + "/" + name
			if _, exists := cats[key]; exists {
				return ErrDuplicateKey
			}
			parentCat.Children = append(parentCat.Children, key)
		} else if _, exists := cats[key]; exists {
			return ErrDuplicateKey
		}
		created = &domain.Category{
			Key:         key,
			Name:        name,
			DisplayName: name,
			Parent:      parent,
			Children:    []string{},
		}
		cats[key] = created
		return s.file.Save(cats)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// Delete removes a leaf category and detaches it from its parent.
func (s *Store) Delete(key string) error {
	if key == GeneralKey {
		return ErrProtectedCategory
	}
	return s.file.WithLock(func() error {
		cats, err := s.load()
		if err != nil {
			return err
		}
		cat, ok := cats[key]
		if !ok {
			return ErrNotFound
		}
		if len(cat.Children) > 0 {
			return ErrHasChildren
		}
		if cat.Parent != "" {
			if parent, ok := cats[cat.Parent]; ok {
				parent.Children = removeString(parent.Children, key)
			}
		}
		delete(cats, key)
		return s.file.Save(cats)
	})
}

// ReconcileOrphans repairs children lists that lost entries to partial
// writes: every category whose parent exists but does not list it as a
// child is re-attached. Returns the number of links fixed.
func (s *Store) ReconcileOrphans() (int, error) {
	fixed := 0
	err := s.file.WithLock(func() error {
		cats, err := s.load()
		if err != nil {
			return err
		}
		keys := make([]string, 0, len(cats))
		for key := range cats {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			cat := cats[key]
			if cat.Parent == "" {
				continue
			}
			parent, ok := cats[cat.Parent]
			if !ok {
				continue
			}
			if !containsString(parent.Children, key) {
				parent.Children = append(parent.Children, key)
				fixed++
			}
		}
		if fixed == 0 {
			return nil
		}
		return s.file.Save(cats)
	})
	if err != nil {
		return 0, err
	}
	return fixed, nil
}

// FullPath renders the display path from root to key, joined by " > ".
// A cycle in the parent chain fails instead of looping.
func (s *Store) FullPath(key string) (string, error) {
	cats, err := s.List()
	if err != nil {
		return "", err
	}
	cat, ok := cats[key]
	if !ok {
		return "", ErrNotFound
	}
	parts := []string{cat.DisplayName}
	seen := map[string]bool{key: true}
	for cat.Parent != "" {
		parent, ok := cats[cat.Parent]
		if !ok {
			break
		}
		if seen[parent.Key] {
			return "", ErrCycleDetected
		}
		seen[parent.Key] = true
		parts = append([]string{parent.DisplayName}, parts...)
		cat = parent
	}
	return strings.Join(parts, " > "), nil
}

// Replace overwrites the whole map. Used by the import coordinator. The
// protected general category is re-seeded when the incoming map lacks it.
func (s *Store) Replace(cats map[string]*domain.Category) error {
	return s.file.WithLock(func() error {
		if cats == nil {
			cats = map[string]*domain.Category{}
		}
		if _, ok := cats[GeneralKey]; !ok {
			cats[GeneralKey] = &domain.Category{
				Key:         GeneralKey,
				Name:        GeneralKey,
				DisplayName: "General",
				Children:    []string{},
			}
		}
		return s.file.Save(cats)
	})
}

// Merge unions incoming categories by key; incoming keys win. Returns the
// number of keys added or replaced.
func (s *Store) Merge(incoming map[string]*domain.Category) (int, error) {
	merged := 0
	err := s.file.WithLock(func() error {
		cats, err := s.load()
		if err != nil {
			return err
		}
		for key, cat := range incoming {
			cat.Key = key
			if cat.Children == nil {
				cat.Children = []string{}
			}
			cats[key] = cat
			merged++
		}
		return s.file.Save(cats)
	})
	if err != nil {
		return 0, err
	}
	return merged, nil
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
