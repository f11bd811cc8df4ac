// Package singleflight implements the per-key mutual exclusion gate used to
// deduplicate concurrent fetches and writes for the same content hash
// (§4.1, C2).
//
// This is deliberately not built on golang.org/x/sync/singleflight: that
// package collapses concurrent callers onto one execution and fans the
// same result back out to all of them, but never tells a caller whether it
// was the one that had to wait. The session layer (§4.5) branches directly
// on that fact — "if not wait-free, re-try local (another thread may have
// just populated it)" — so the gate here is a plain keyed mutex that
// reports contention explicitly instead.
package singleflight

import (
	"context"
	"sync"

	"go.uber.org/atomic"
)

// Gate is a keyed mutex: Acquire(key) blocks until key is free, then hands
// back a Handle the caller must Release.
type Gate struct {
	mu      sync.Mutex
	entries map[string]*gateEntry
}

type gateEntry struct {
	// tokens is a 1-buffered channel acting as the lock for this key: a
	// token present means the key is free.
	tokens chan struct{}
	// refs counts acquirers (held + waiting) referencing this entry;
	// guarded by Gate.mu.
	refs int
}

// New creates an empty gate.
func New() *Gate {
	return &Gate{entries: make(map[string]*gateEntry)}
}

// Handle is held for the duration of one critical section (§3 lifecycle).
type Handle struct {
	gate  *Gate
	key   string
	entry *gateEntry

	// WaitFree is true iff this handle was acquired without contention:
	// no other holder was present at acquisition time (§4.1).
	WaitFree bool

	released atomic.Bool
}

// Acquire blocks until key is free or ctx is cancelled.
func (g *Gate) Acquire(ctx context.Context, key string) (*Handle, error) {
	g.mu.Lock()
	e, ok := g.entries[key]
	if !ok {
		e = &gateEntry{tokens: make(chan struct{}, 1)}
		e.tokens <- struct{}{}
		g.entries[key] = e
	}
	e.refs++
	g.mu.Unlock()

	waitFree := false
	select {
	case <-e.tokens:
		waitFree = true
	default:
	}

	if !waitFree {
		select {
		case <-e.tokens:
		case <-ctx.Done():
			g.release(key, e, false)
			return nil, ctx.Err()
		}
	}

	return &Handle{gate: g, key: key, entry: e, WaitFree: waitFree}, nil
}

// Release drops the handle. Releasing the last handle for a key removes
// the key from the gate (§3). Release is idempotent and safe to call more
// than once or under defer after an early return.
func (h *Handle) Release() {
	if h == nil || !h.released.CompareAndSwap(false, true) {
		return
	}
	h.gate.release(h.key, h.entry, true)
}

func (g *Gate) release(key string, e *gateEntry, pushToken bool) {
	if pushToken {
		e.tokens <- struct{}{}
	}
	g.mu.Lock()
	e.refs--
	if e.refs == 0 {
		if cur, ok := g.entries[key]; ok && cur == e {
			delete(g.entries, key)
		}
	}
	g.mu.Unlock()
}

// Len reports how many keys currently have at least one live handle or
// waiter; exposed for tests.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
