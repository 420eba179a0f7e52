package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type fakeJob struct {
	key      string
	at       time.Time
	seq      uint64
	interval time.Duration
	job      Job
}

// Fake is a Scheduler driven by a manual clock. Jobs only run inside Advance,
// synchronously and in (time, scheduling order) order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	seq    uint64
	jobs   map[string]*fakeJob
	closed bool

	// Err, when set, is returned by Schedule, Replace and Every.
	Err error
}

// NewFake creates a Fake whose clock starts at start.
func NewFake(start time.Time) *Fake {
	return &Fake{now: start, jobs: make(map[string]*fakeJob)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) Schedule(at time.Time, key string, job Job) error {
	return f.add(key, at, 0, job, false)
}

func (f *Fake) Replace(key string, at time.Time, job Job) error {
	return f.add(key, at, 0, job, true)
}

func (f *Fake) Every(key string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("%w: %s", ErrInvalidInterval, interval)
	}
	f.mu.Lock()
	at := f.now.Add(interval)
	f.mu.Unlock()
	return f.add(key, at, interval, job, true)
}

func (f *Fake) add(key string, at time.Time, interval time.Duration, job Job, replace bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if f.closed {
		return ErrClosed
	}
	if _, ok := f.jobs[key]; ok && !replace {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}
	f.seq++
	f.jobs[key] = &fakeJob{key: key, at: at, seq: f.seq, interval: interval, job: job}
	return nil
}

func (f *Fake) Cancel(key string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.jobs, key)
}

func (f *Fake) CancelPrefix(prefix string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for key := range f.jobs {
		if strings.HasPrefix(key, prefix) {
			delete(f.jobs, key)
			n++
		}
	}
	return n
}

func (f *Fake) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.jobs = make(map[string]*fakeJob)
}

// Has reports whether a job is pending under key.
func (f *Fake) Has(key string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[key]
	return ok
}

// At returns the planned time of the job under key.
func (f *Fake) At(key string) (time.Time, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[key]
	if !ok {
		return time.Time{}, false
	}
	return j.at, true
}

// Keys returns the pending keys with the given prefix.
func (f *Fake) Keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.jobs {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Advance moves the clock forward by d, running every job that becomes due.
// Jobs scheduled by running jobs also run if they fall inside the window.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		f.mu.Lock()
		next := f.nextDue(target)
		if next == nil {
			f.now = target
			f.mu.Unlock()
			return
		}
		if next.at.After(f.now) {
			f.now = next.at
		}
		if next.interval > 0 {
			f.seq++
			next.at = next.at.Add(next.interval)
			next.seq = f.seq
		} else {
			delete(f.jobs, next.key)
		}
		job := next.job
		f.mu.Unlock()

		job()
	}
}

func (f *Fake) nextDue(target time.Time) *fakeJob {
	var best *fakeJob
	for _, j := range f.jobs {
		if j.at.After(target) {
			continue
		}
		if best == nil || j.at.Before(best.at) || (j.at.Equal(best.at) && j.seq < best.seq) {
			best = j
		}
	}
	return best
}
