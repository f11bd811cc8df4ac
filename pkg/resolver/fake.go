package resolver

import (
	"context"
	"sync"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

// FakeResolver is an in-memory Resolver, for tests that need to script
// which peers claim a hash without standing up a real content-location
// index (grounded on the teacher's hand-rolled-fake testing style, e.g.
// pkg/cafs/mocks_test.go, rather than a mocking framework).
type FakeResolver struct {
	mu      sync.Mutex
	results map[string]Result
}

// NewFake creates an empty FakeResolver.
func NewFake() *FakeResolver {
	return &FakeResolver{results: make(map[string]Result)}
}

// Set scripts the Result returned for hash.
func (f *FakeResolver) Set(hash contenthash.ContentHash, result Result) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.results[hash.String()] = result
}

func (f *FakeResolver) GetLocations(_ context.Context, req LocationRequest) ([]Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.results[req.Hash.String()]; ok {
		return []Result{r}, nil
	}
	return nil, nil
}

func (f *FakeResolver) GetSingleLocation(ctx context.Context, hash contenthash.ContentHash) (Result, error) {
	rs, err := f.GetLocations(ctx, LocationRequest{Hash: hash})
	if err != nil {
		return Result{}, err
	}
	if len(rs) == 0 {
		return Result{}, nil
	}
	return rs[0], nil
}

// FakeClusterState is an in-memory ClusterState for tests.
type FakeClusterState struct {
	mu       sync.Mutex
	primary  contenthash.MachineId
	records  map[contenthash.MachineId]ClusterRecord
	inactive map[contenthash.MachineId]bool
}

// NewFakeClusterState creates a FakeClusterState whose own ID is primary.
func NewFakeClusterState(primary contenthash.MachineId) *FakeClusterState {
	return &FakeClusterState{
		primary:  primary,
		records:  make(map[contenthash.MachineId]ClusterRecord),
		inactive: make(map[contenthash.MachineId]bool),
	}
}

// AddPeer registers id as a known, active peer at location.
func (f *FakeClusterState) AddPeer(id contenthash.MachineId, location contenthash.MachineLocation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[id] = ClusterRecord{Id: id, Location: location}
}

// MarkInactive flags a known peer as inactive.
func (f *FakeClusterState) MarkInactive(id contenthash.MachineId) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inactive[id] = true
}

func (f *FakeClusterState) PrimaryMachineId() contenthash.MachineId {
	return f.primary
}

func (f *FakeClusterState) RecordByMachineId(id contenthash.MachineId) (ClusterRecord, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.records[id]
	return r, ok
}

func (f *FakeClusterState) IsInactive(id contenthash.MachineId) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inactive[id]
}
