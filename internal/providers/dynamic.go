package providers

import (
	"context"
	"sync"
)

// BuildFunc constructs a streamer for the provider serving model.
type BuildFunc func(model string) Streamer

// Dynamic wraps a Streamer with atomic hot-swap support and per-family routing.
//
// Requests whose model belongs to the same provider family as the default model
// go to the inner streamer. Other families are built on first use through the
// BuildFunc and cached. Swap() atomically replaces the inner streamer and drops
// the cache: in-flight streams finish on the old backend; new ones use the new one.
type Dynamic struct {
	mu       sync.RWMutex
	inner    Streamer
	build    BuildFunc
	byFamily map[string]Streamer
}

// NewDynamic creates a Dynamic wrapping initial. build may be nil, in which case
// every request goes to the inner streamer.
func NewDynamic(initial Streamer, build BuildFunc) *Dynamic {
	return &Dynamic{inner: initial, build: build, byFamily: make(map[string]Streamer)}
}

// Stream delegates to the streamer serving req.Model.
func (d *Dynamic) Stream(ctx context.Context, req StreamRequest, onChunk ChunkFunc) error {
	return d.pick(req.Model).Stream(ctx, req, onChunk)
}

// DefaultModel returns the current inner streamer's default model.
func (d *Dynamic) DefaultModel() string {
	d.mu.RLock()
	p := d.inner
	d.mu.RUnlock()
	return p.DefaultModel()
}

func (d *Dynamic) pick(model string) Streamer {
	d.mu.RLock()
	inner := d.inner
	if d.build == nil || model == "" {
		d.mu.RUnlock()
		return inner
	}
	family := Family(model)
	if family == Family(inner.DefaultModel()) {
		d.mu.RUnlock()
		return inner
	}
	s, ok := d.byFamily[family]
	d.mu.RUnlock()
	if ok {
		return s
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.byFamily[family]; ok {
		return s
	}
	s = d.build(model)
	d.byFamily[family] = s
	return s
}

// Swap atomically replaces the inner streamer and forgets cached families.
func (d *Dynamic) Swap(next Streamer, build BuildFunc) {
	d.mu.Lock()
	d.inner = next
	d.build = build
	d.byFamily = make(map[string]Streamer)
	d.mu.Unlock()
}

// Inner returns the current inner streamer (for inspection/debugging).
func (d *Dynamic) Inner() Streamer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.inner
}
