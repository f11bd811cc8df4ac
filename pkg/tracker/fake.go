package tracker

import (
	"context"
	"sync"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

// FakeTracker is an in-memory Tracker for tests that don't need badger's
// durability, only its claims-by-hash semantics.
type FakeTracker struct {
	mu     sync.Mutex
	claims map[string]map[contenthash.MachineId]bool
}

// NewFake creates an empty FakeTracker.
func NewFake() *FakeTracker {
	return &FakeTracker{claims: make(map[string]map[contenthash.MachineId]bool)}
}

func (f *FakeTracker) Record(_ context.Context, hash contenthash.ContentHash, machine contenthash.MachineId) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := hash.String()
	if f.claims[key] == nil {
		f.claims[key] = make(map[contenthash.MachineId]bool)
	}
	f.claims[key][machine] = true
	return nil
}

func (f *FakeTracker) ClaimantsOtherThan(_ context.Context, hash contenthash.ContentHash, self contenthash.MachineId) ([]contenthash.MachineId, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []contenthash.MachineId
	for machine := range f.claims[hash.String()] {
		if machine != self {
			out = append(out, machine)
		}
	}
	return out, nil
}

func (f *FakeTracker) Close() error { return nil }
