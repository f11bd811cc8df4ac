// Package session implements the ephemeral session (C6, §4.5): three-tier
// orchestration of Pin/PlaceFile/PutFile/PutStream/OpenStream over a local
// and a persistent content store, backed by a shared EphemeralHost carrying
// the cluster-wide collaborators (cluster state, content resolver, copy
// engine, single-flight gate, elision cache, local tracker).
//
// Grounded on the teacher's context.Stores aggregate (pkg/context/context.go),
// which bundles multiple named storage backends behind one handle the same
// way EphemeralHost bundles this core's collaborators, and on
// pkg/cafs/cafs.go's functional-options construction idiom.
package session

import (
	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
	"github.com/oneconcern/ephemeralcache/pkg/copyengine"
	"github.com/oneconcern/ephemeralcache/pkg/elision"
	"github.com/oneconcern/ephemeralcache/pkg/reputation"
	"github.com/oneconcern/ephemeralcache/pkg/resolver"
	"github.com/oneconcern/ephemeralcache/pkg/singleflight"
	"github.com/oneconcern/ephemeralcache/pkg/tracker"
)

// EphemeralHost bundles the collaborators every Session borrows (§9: "the
// session references an EphemeralHost ... model as session owns a borrowed
// handle to host state; host outlives all sessions"). Every field is owned
// by the caller's wiring — the cluster-state membership service, the
// content-location index, and the copy transport beneath Engine are all
// external collaborators per spec.md §1.
type EphemeralHost struct {
	Cluster  resolver.ClusterState
	Resolver resolver.Resolver
	Engine   *copyengine.Engine
	Gate     *singleflight.Gate
	Elision  *elision.Cache
	Tracker  tracker.Tracker

	// Workspace is the shared working folder used both for the copy
	// engine's temp files and for OpenStream's delete-on-close handles.
	Workspace string
}

// NewEphemeralHost assembles a host from its collaborators.
func NewEphemeralHost(
	cluster resolver.ClusterState,
	res resolver.Resolver,
	engine *copyengine.Engine,
	gate *singleflight.Gate,
	elisionCache *elision.Cache,
	localTracker tracker.Tracker,
	workspace string,
) *EphemeralHost {
	return &EphemeralHost{
		Cluster:   cluster,
		Resolver:  res,
		Engine:    engine,
		Gate:      gate,
		Elision:   elisionCache,
		Tracker:   localTracker,
		Workspace: workspace,
	}
}

// DummyHostCallbacks is the no-op copyengine.HostCallbacks adapter used when
// the session itself is the copy engine's caller (§9: "the copy engine
// requires a reputation-and-copy-result reporter; ... provide a no-op
// adapter that only carries the working-folder path").
type DummyHostCallbacks struct {
	Workspace string
}

func (DummyHostCallbacks) ReportReputation(contenthash.MachineLocation, reputation.Signal) {}

func (DummyHostCallbacks) ReportCopyResult(copyengine.CopyAttemptInfo, copyengine.CopyFileResult) string {
	return ""
}

func (d DummyHostCallbacks) WorkingFolder() string { return d.Workspace }
