// Package scheduler runs keyed jobs at absolute times.
//
// A key identifies at most one pending job: scheduling under a key that is
// already pending fails, Replace swaps it atomically, and Cancel is a no-op
// for unknown keys. Every registers a repeating job under a key.
package scheduler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrClosed is returned once the scheduler has been closed.
	ErrClosed = errors.New("scheduler closed")
	// ErrDuplicateKey is returned by Schedule when the key is already pending.
	ErrDuplicateKey = errors.New("job key already scheduled")
	// ErrInvalidInterval is returned by Every for non-positive intervals.
	ErrInvalidInterval = errors.New("interval must be positive")
)

// Job is the unit of work run when a schedule fires.
type Job func()

// Scheduler is the capability the coordinator consumes.
type Scheduler interface {
	// Now returns the scheduler's clock.
	Now() time.Time
	// Schedule runs job once at or after at.
	Schedule(at time.Time, key string, job Job) error
	// Replace cancels any pending job under key and schedules the new one.
	Replace(key string, at time.Time, job Job) error
	// Cancel drops the pending job under key, if any.
	Cancel(key string)
	// CancelPrefix drops every pending job whose key starts with prefix.
	CancelPrefix(prefix string) int
	// Every runs job repeatedly, first after one interval.
	Every(key string, interval time.Duration, job Job) error
	// Close cancels everything; later calls to Schedule and Every fail.
	Close()
}

type timerEntry struct {
	at       time.Time
	interval time.Duration
	timer    *time.Timer
	running  atomic.Bool
}

// TimerScheduler is a Scheduler backed by time.AfterFunc. Each firing runs on
// its own goroutine.
type TimerScheduler struct {
	mu      sync.Mutex
	entries map[string]*timerEntry
	closed  bool

	// MisfireGrace drops one-shot jobs that fire later than this past their
	// planned time. Zero disables the check.
	misfireGrace time.Duration
	logger       *zap.Logger
}

// NewTimerScheduler creates a TimerScheduler.
func NewTimerScheduler(misfireGrace time.Duration, logger *zap.Logger) *TimerScheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TimerScheduler{
		entries:      make(map[string]*timerEntry),
		misfireGrace: misfireGrace,
		logger:       logger.Named("scheduler"),
	}
}

func (s *TimerScheduler) Now() time.Time { return time.Now() }

func (s *TimerScheduler) Schedule(at time.Time, key string, job Job) error {
	return s.arm(key, at, 0, job, false)
}

func (s *TimerScheduler) Replace(key string, at time.Time, job Job) error {
	return s.arm(key, at, 0, job, true)
}

func (s *TimerScheduler) Every(key string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	return s.arm(key, time.Now().Add(interval), interval, job, true)
}

func (s *TimerScheduler) arm(key string, at time.Time, interval time.Duration, job Job, replace bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if old, ok := s.entries[key]; ok {
		if !replace {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
		}
		old.timer.Stop()
		delete(s.entries, key)
	}

	e := &timerEntry{at: at, interval: interval}
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	e.timer = time.AfterFunc(delay, func() { s.fire(key, e, job) })
	s.entries[key] = e
	return nil
}

func (s *TimerScheduler) fire(key string, e *timerEntry, job Job) {
	s.mu.Lock()
	if cur, ok := s.entries[key]; !ok || cur != e {
		// replaced or cancelled after the timer had already started
		s.mu.Unlock()
		return
	}
	if e.interval > 0 {
		e.at = time.Now().Add(e.interval)
		e.timer.Reset(e.interval)
	} else {
		delete(s.entries, key)
	}
	late := time.Since(e.at)
	s.mu.Unlock()

	if e.interval == 0 && s.misfireGrace > 0 && late > s.misfireGrace {
		s.logger.Warn("Dropping misfired job", zap.String("key", key), zap.Duration("late", late))
		return
	}
	if e.interval > 0 {
		if !e.running.CompareAndSwap(false, true) {
			s.logger.Debug("Skipping overlapping run", zap.String("key", key))
			return
		}
		defer e.running.Store(false)
	}
	job()
}

func (s *TimerScheduler) Cancel(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[key]; ok {
		e.timer.Stop()
		delete(s.entries, key)
	}
}

func (s *TimerScheduler) CancelPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key, e := range s.entries {
		if strings.HasPrefix(key, prefix) {
			e.timer.Stop()
			delete(s.entries, key)
			n++
		}
	}
	return n
}

// Pending returns the number of scheduled jobs.
func (s *TimerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *TimerScheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for key, e := range s.entries {
		e.timer.Stop()
		delete(s.entries, key)
	}
}
