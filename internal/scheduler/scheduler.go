// Package scheduler runs named maintenance jobs on fixed intervals.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Job performs one maintenance pass. Errors are logged, never escalated.
type Job func(ctx context.Context) error

type entry struct {
	name     string
	interval time.Duration
	job      Job
}

// Scheduler ticks each registered job on its own interval. A Ticker
// factory is injectable so tests can drive time.
type Scheduler struct {
	newTicker func(d time.Duration) Ticker

	mu      sync.Mutex
	entries []entry
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// Ticker abstracts time.Ticker for tests.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ t *time.Ticker }

func (r realTicker) C() <-chan time.Time { return r.t.C }
func (r realTicker) Stop()               { r.t.Stop() }

func New() *Scheduler {
	return &Scheduler{
		newTicker: func(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} },
	}
}

// SetTickerFactory overrides ticker construction for tests.
func (s *Scheduler) SetTickerFactory(f func(d time.Duration) Ticker) {
	s.newTicker = f
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, job Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry{name: name, interval: interval, job: job})
}

// Start launches one goroutine per job. Calling Start twice is a no-op
// until Stop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	for _, e := range s.entries {
		s.wg.Add(1)
		go s.run(ctx, e)
	}
}

func (s *Scheduler) run(ctx context.Context, e entry) {
	defer s.wg.Done()
	ticker := s.newTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			start := time.Now()
			if err := e.job(ctx); err != nil {
				slog.Error("scheduled job failed", "job", e.name, "error", err)
				continue
			}
			slog.Debug("scheduled job finished", "job", e.name, "took", time.Since(start))
		}
	}
}

// Stop cancels all jobs and waits for them to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	s.wg.Wait()
}
