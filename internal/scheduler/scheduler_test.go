package scheduler

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// --- TimerScheduler ---

func TestTimerScheduler_FiresOnce(t *testing.T) {
	s := NewTimerScheduler(0, nil)
	defer s.Close()

	var calls atomic.Int32
	done := make(chan struct{})
	require.NoError(t, s.Schedule(time.Now().Add(10*time.Millisecond), "job", func() {
		calls.Add(1)
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not fire")
	}
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 0, s.Pending())
}

func TestTimerScheduler_DuplicateKey(t *testing.T) {
	s := NewTimerScheduler(0, nil)
	defer s.Close()

	at := time.Now().Add(time.Hour)
	require.NoError(t, s.Schedule(at, "k", func() {}))
	assert.ErrorIs(t, s.Schedule(at, "k", func() {}), ErrDuplicateKey)
}

func TestTimerScheduler_ReplaceRunsOnlyLatest(t *testing.T) {
	s := NewTimerScheduler(0, nil)
	defer s.Close()

	var mu sync.Mutex
	var ran []string
	done := make(chan struct{})

	require.NoError(t, s.Replace("k", time.Now().Add(20*time.Millisecond), func() {
		mu.Lock()
		ran = append(ran, "first")
		mu.Unlock()
	}))
	require.NoError(t, s.Replace("k", time.Now().Add(40*time.Millisecond), func() {
		mu.Lock()
		ran = append(ran, "second")
		mu.Unlock()
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("replacement did not fire")
	}
	time.Sleep(30 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"second"}, ran)
}

func TestTimerScheduler_CancelUnknownKey(t *testing.T) {
	s := NewTimerScheduler(0, nil)
	defer s.Close()
	s.Cancel("nope")
	assert.Equal(t, 0, s.CancelPrefix("nope"))
}

func TestTimerScheduler_CancelPrefix(t *testing.T) {
	s := NewTimerScheduler(0, nil)
	defer s.Close()

	var calls atomic.Int32
	at := time.Now().Add(20 * time.Millisecond)
	require.NoError(t, s.Schedule(at, "send_part:u1:a", func() { calls.Add(1) }))
	require.NoError(t, s.Schedule(at, "send_part:u1:b", func() { calls.Add(1) }))
	require.NoError(t, s.Schedule(at, "send_part:u2:a", func() { calls.Add(1) }))

	assert.Equal(t, 2, s.CancelPrefix("send_part:u1:"))
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestTimerScheduler_MisfireGraceDropsLateJobs(t *testing.T) {
	s := NewTimerScheduler(10*time.Millisecond, nil)
	defer s.Close()

	var calls atomic.Int32
	require.NoError(t, s.Schedule(time.Now().Add(-time.Second), "late", func() { calls.Add(1) }))
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, int32(0), calls.Load())
}

func TestTimerScheduler_Every(t *testing.T) {
	s := NewTimerScheduler(0, nil)

	var calls atomic.Int32
	require.NoError(t, s.Every("tick", 5*time.Millisecond, func() { calls.Add(1) }))
	assert.ErrorIs(t, s.Every("bad", 0, func() {}), ErrInvalidInterval)

	assert.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	s.Close()
}

func TestTimerScheduler_ClosedRejectsWork(t *testing.T) {
	s := NewTimerScheduler(0, nil)
	s.Close()
	s.Close()
	assert.ErrorIs(t, s.Schedule(time.Now(), "k", func() {}), ErrClosed)
	assert.ErrorIs(t, s.Every("k", time.Second, func() {}), ErrClosed)
}

// --- Fake ---

func TestFake_AdvanceRunsInTimeOrder(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	var order []string
	require.NoError(t, f.Schedule(start.Add(3*time.Second), "c", func() { order = append(order, "c") }))
	require.NoError(t, f.Schedule(start.Add(time.Second), "a", func() { order = append(order, "a") }))
	require.NoError(t, f.Schedule(start.Add(time.Second), "b", func() { order = append(order, "b") }))

	f.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, start.Add(2*time.Second), f.Now())

	f.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFake_JobsScheduledDuringAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	var fired []time.Time
	require.NoError(t, f.Schedule(start.Add(time.Second), "first", func() {
		fired = append(fired, f.Now())
		_ = f.Schedule(f.Now().Add(time.Second), "second", func() { fired = append(fired, f.Now()) })
	}))

	f.Advance(5 * time.Second)
	assert.Equal(t, []time.Time{start.Add(time.Second), start.Add(2 * time.Second)}, fired)
}

func TestFake_EveryAndCancel(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	calls := 0
	require.NoError(t, f.Every("tick", time.Second, func() { calls++ }))
	f.Advance(3500 * time.Millisecond)
	assert.Equal(t, 3, calls)

	f.Cancel("tick")
	f.Advance(5 * time.Second)
	assert.Equal(t, 3, calls)
}

func TestFake_ReplaceAndErr(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	require.NoError(t, f.Schedule(start.Add(time.Second), "k", func() {}))
	require.NoError(t, f.Replace("k", start.Add(5*time.Second), func() {}))
	at, ok := f.At("k")
	require.True(t, ok)
	assert.Equal(t, start.Add(5*time.Second), at)

	f.Err = ErrClosed
	assert.ErrorIs(t, f.Schedule(start, "x", func() {}), ErrClosed)
}
