// Package audit keeps the append-only action log. Entries older than the
// retention period are pruned transparently, throttled so housekeeping
// does not run on every append.
package audit

import (
	"sort"
	"sync"
	"time"

	"github.com/DucVuong2901/internal-management/internal/storage"
	"github.com/DucVuong2901/internal-management/pkg/domain"
)

const (
	// RetentionDays is how long entries are kept.
	RetentionDays = 30
	// DefaultListLimit caps List results.
	DefaultListLimit = 100
	// pruneInterval throttles the housekeeping side effect of Append.
	// The legacy system keyed this off "every 10th id", which drifts
	// with id gaps; a time throttle does not.
	pruneInterval = time.Hour
)

type Log struct {
	file *storage.Collection
	now  func() time.Time

	mu        sync.Mutex
	lastPrune time.Time
}

func New(path string) *Log {
	return &Log{
		file: storage.NewCollection(path),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// SetNow overrides the clock for tests.
func (l *Log) SetNow(now func() time.Time) {
	l.now = now
}

func (l *Log) load() ([]domain.AuditEntry, error) {
	var entries []domain.AuditEntry
	if err := l.file.Load(&entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Append assigns the next id, stamps created_at, and persists the entry.
// At most once per hour it also prunes entries past retention.
func (l *Log) Append(entry domain.AuditEntry) (domain.AuditEntry, error) {
	err := l.file.WithLock(func() error {
		entries, err := l.load()
		if err != nil {
			return err
		}
		nextID := 1
		for _, e := range entries {
			if e.ID >= nextID {
				nextID = e.ID + 1
			}
		}
		entry.ID = nextID
		entry.CreatedAt = l.now()
		entries = append(entries, entry)
		entries = l.maybePrune(entries)
		return l.file.Save(entries)
	})
	if err != nil {
		return domain.AuditEntry{}, err
	}
	return entry, nil
}

// maybePrune drops entries older than retention, at most once per
// pruneInterval. Entries with a zero timestamp cannot be aged and are
// kept (fail open).
func (l *Log) maybePrune(entries []domain.AuditEntry) []domain.AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if !l.lastPrune.IsZero() && now.Sub(l.lastPrune) < pruneInterval {
		return entries
	}
	l.lastPrune = now
	cutoff := now.AddDate(0, 0, -RetentionDays)
	kept := entries[:0]
	for _, e := range entries {
		if e.CreatedAt.IsZero() || e.CreatedAt.After(cutoff) {
			kept = append(kept, e)
		}
	}
	return kept
}

// Prune removes entries past retention unconditionally. The scheduler
// calls this on its own cadence.
func (l *Log) Prune() (int, error) {
	removed := 0
	err := l.file.WithLock(func() error {
		entries, err := l.load()
		if err != nil {
			return err
		}
		cutoff := l.now().AddDate(0, 0, -RetentionDays)
		kept := entries[:0]
		for _, e := range entries {
			if e.CreatedAt.IsZero() || e.CreatedAt.After(cutoff) {
				kept = append(kept, e)
				continue
			}
			removed++
		}
		if removed == 0 {
			return nil
		}
		return l.file.Save(kept)
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// List returns the most recent entries, newest first, capped at limit
// (DefaultListLimit when limit <= 0).
func (l *Log) List(limit int) ([]domain.AuditEntry, error) {
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DefaultListLimit
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// All returns every entry in stored order. Used by export.
func (l *Log) All() ([]domain.AuditEntry, error) {
	return l.load()
}

// ListByItem returns entries for one item, newest first.
func (l *Log) ListByItem(itemType string, itemID int) ([]domain.AuditEntry, error) {
	entries, err := l.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.AuditEntry, 0)
	for _, e := range entries {
		if e.ItemType == itemType && e.ItemID == itemID {
			out = append(out, e)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Replace overwrites the whole log. Used by replace-mode import.
func (l *Log) Replace(entries []domain.AuditEntry) error {
	return l.file.WithLock(func() error {
		if entries == nil {
			entries = []domain.AuditEntry{}
		}
		return l.file.Save(entries)
	})
}

// Merge unions incoming entries by id; existing ids are kept. Returns the
// number added.
func (l *Log) Merge(incoming []domain.AuditEntry) (int, error) {
	added := 0
	err := l.file.WithLock(func() error {
		entries, err := l.load()
		if err != nil {
			return err
		}
		have := map[int]bool{}
		for _, e := range entries {
			have[e.ID] = true
		}
		for _, e := range incoming {
			if have[e.ID] {
				continue
			}
			entries = append(entries, e)
			added++
		}
		if added == 0 {
			return nil
		}
		return l.file.Save(entries)
	})
	if err != nil {
		return 0, err
	}
	return added, nil
}
