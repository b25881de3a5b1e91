// Package notification owns broadcast and targeted notices with
// per-recipient read markers.
package notification

import (
	"errors"
	"sort"
	"time"

	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

// DefaultLimit bounds list results unless the caller asks for more.
const DefaultLimit = 50

var ErrNotFound = errors.New("notification does not exist")

type Store struct {
	file *storage.Collection
	now  func() time.Time
}

func New(path string) *Store {
	return &Store{
		file: storage.NewCollection(path),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock for tests.
func (s *Store) SetNow(now func() time.Time) {
	s.now = now
}

func (s *Store) load() ([]domain.Notification, error) {
	var list []domain.Notification
	if err := s.file.Load(&list); err != nil {
		return nil, err
	}
	return list, nil
}

// Create appends a notification. A nil userID means broadcast to all.
func (s *Store) Create(title, message, typ string, userID *int, link string) (domain.Notification, error) {
	if typ == "" {
		typ = "info"
	}
	var created domain.Notification
	err := s.file.WithLock(func() error {
		list, err := s.load()
		if err != nil {
			return err
		}
		nextID := 1
		for _, n := range list {
			if n.ID >= nextID {
				nextID = n.ID + 1
			}
		}
		created = domain.Notification{
			ID:        nextID,
			Title:     title,
			Message:   message,
			Type:      typ,
			UserID:    userID,
			Link:      link,
			CreatedAt: s.now(),
			ReadBy:    []int{},
		}
		return s.file.Save(append(list, created))
	})
	if err != nil {
		return domain.Notification{}, err
	}
	return created, nil
}

func visibleTo(n domain.Notification, userID int) bool {
	return n.UserID == nil || *n.UserID == userID
}

func readBy(n domain.Notification, userID int) bool {
	for _, id := range n.ReadBy {
		if id == userID {
			return true
		}
	}
	return false
}

// List returns notifications visible to the user, newest first, capped at
// limit (DefaultLimit when limit <= 0).
func (s *Store) List(userID int, unreadOnly bool, limit int) ([]domain.Notification, error) {
	list, err := s.load()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	out := make([]domain.Notification, 0, len(list))
	for _, n := range list {
		if !visibleTo(n, userID) {
			continue
		}
		if unreadOnly && readBy(n, userID) {
			continue
		}
		if n.ReadBy == nil {
			n.ReadBy = []int{}
		}
		out = append(out, n)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MarkRead records the user's acknowledgement. Idempotent; reports
// whether the notification exists.
func (s *Store) MarkRead(id, userID int) (bool, error) {
	found := false
	err := s.file.WithLock(func() error {
		list, err := s.load()
		if err != nil {
			return err
		}
		for i := range list {
			if list[i].ID != id {
				continue
			}
			found = true
			if readBy(list[i], userID) {
				return nil
			}
			list[i].ReadBy = append(list[i].ReadBy, userID)
			return s.file.Save(list)
		}
		return nil
	})
	return found, err
}

// MarkAllRead acknowledges every notification visible to the user.
// Returns the count newly marked.
func (s *Store) MarkAllRead(userID int) (int, error) {
	marked := 0
	err := s.file.WithLock(func() error {
		list, err := s.load()
		if err != nil {
			return err
		}
		for i := range list {
			if !visibleTo(list[i], userID) || readBy(list[i], userID) {
				continue
			}
			list[i].ReadBy = append(list[i].ReadBy, userID)
			marked++
		}
		if marked == 0 {
			return nil
		}
		return s.file.Save(list)
	})
	if err != nil {
		return 0, err
	}
	return marked, nil
}

// Delete hard-deletes one notification. Admin only.
func (s *Store) Delete(id int) error {
	return s.file.WithLock(func() error {
		list, err := s.load()
		if err != nil {
			return err
		}
		for i := range list {
			if list[i].ID == id {
				return s.file.Save(append(list[:i], list[i+1:]...))
			}
		}
		return ErrNotFound
	})
}

// UnreadCount counts unread notifications visible to the user.
func (s *Store) UnreadCount(userID int) (int, error) {
	list, err := s.List(userID, true, 0)
	if err != nil {
		return 0, err
	}
	return len(list), nil
}

// PruneOlderThan hard-deletes notifications older than the given number
// of days. Returns the count removed.
func (s *Store) PruneOlderThan(days int) (int, error) {
	removed := 0
	err := s.file.WithLock(func() error {
		list, err := s.load()
		if err != nil {
			return err
		}
		cutoff := s.now().AddDate(0, 0, -days)
		kept := list[:0]
		for _, n := range list {
			if n.CreatedAt.IsZero() || n.CreatedAt.After(cutoff) {
				kept = append(kept, n)
				continue
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
	return removed, nil
}
