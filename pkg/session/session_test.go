package session

import (
	"context"
	"sync"
	"testing"

	"github.com/oneconcern/ephemeralcache/internal/dlogger"
	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
	"github.com/oneconcern/ephemeralcache/pkg/copyengine"
	"github.com/oneconcern/ephemeralcache/pkg/elision"
	"github.com/oneconcern/ephemeralcache/pkg/resolver"
	"github.com/oneconcern/ephemeralcache/pkg/singleflight"
	"github.com/oneconcern/ephemeralcache/pkg/store"
	"github.com/oneconcern/ephemeralcache/pkg/tracker"
)

// fakeCopier scripts CopyToAsync results by peer location, mirroring
// pkg/copyengine's own test fake.
type fakeCopier struct {
	mu      sync.Mutex
	scripts map[contenthash.MachineLocation][]byte
	codes   map[contenthash.MachineLocation]copyengine.CopyFileCode
}

func newFakeCopier() *fakeCopier {
	return &fakeCopier{
		scripts: make(map[contenthash.MachineLocation][]byte),
		codes:   make(map[contenthash.MachineLocation]copyengine.CopyFileCode),
	}
}

func (f *fakeCopier) script(loc contenthash.MachineLocation, code copyengine.CopyFileCode, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.codes[loc] = code
	f.scripts[loc] = data
}

func (f *fakeCopier) CopyToAsync(_ context.Context, source contenthash.MachineLocation, dest copyengine.WriteSeekerAt, _ copyengine.CopyToOptions) (copyengine.CopyFileResult, error) {
	f.mu.Lock()
	data := f.scripts[source]
	code := f.codes[source]
	f.mu.Unlock()

	if len(data) > 0 {
		if _, err := dest.Write(data); err != nil {
			return copyengine.CopyFileResult{}, err
		}
	}
	return copyengine.CopyFileResult{Code: code, Size: int64(len(data))}, nil
}

type testRig struct {
	session    *Session
	local      *store.FakeStore
	persistent *store.FakeStore
	resolver   *resolver.FakeResolver
	cluster    *resolver.FakeClusterState
	copier     *fakeCopier
}

func newTestRig(t *testing.T) *testRig {
	workspace := t.TempDir()
	local := store.NewFake()
	persistent := store.NewFake()
	fr := resolver.NewFake()
	cluster := resolver.NewFakeClusterState("self")
	copier := newFakeCopier()

	engine := copyengine.New(copier, DummyHostCallbacks{Workspace: workspace}, copyengine.WithLogger(dlogger.NewTestLogger()))
	host := NewEphemeralHost(cluster, fr, engine, singleflight.New(), elision.New(0), tracker.NewFake(), workspace)
	sess := New(local, persistent, host, WithLogger(dlogger.NewTestLogger()))

	return &testRig{
		session:    sess,
		local:      local,
		persistent: persistent,
		resolver:   fr,
		cluster:    cluster,
		copier:     copier,
	}
}

func resultOf(hash contenthash.ContentHash, machines ...contenthash.MachineId) resolver.Result {
	ops := make([]resolver.Operation, 0, len(machines))
	for _, m := range machines {
		ops = append(ops, resolver.Operation{MachineId: m, Kind: resolver.OperationAdd})
	}
	return resolver.Result{Hash: hash, Operations: ops}
}
