// Package resolver declares the content-location index and cluster-state
// membership interfaces the ephemeral session consumes (§6, C7).
//
// Both are external collaborators per §1 ("the cluster-state membership
// service, the content-location index") — this package owns only the
// contract, grounded on the teacher's minimal storage.Store interface
// shape (pkg/storage/store.go): a handful of verbs, no implementation
// assumptions.
package resolver

import (
	"context"
	"time"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

// OperationKind is one entry in a location's event log.
type OperationKind string

const (
	OperationAdd    OperationKind = "add"
	OperationRemove OperationKind = "remove"
)

// Operation is one recorded event for a hash at a machine (§6: "Operations[]
// (event log)").
type Operation struct {
	MachineId contenthash.MachineId
	Kind      OperationKind
	At        time.Time
}

// Result is one content-location index lookup result (§6).
type Result struct {
	Hash       contenthash.ContentHash
	Size       int64
	Operations []Operation
}

// Existing derives the set of machine IDs the event log implies currently
// hold the hash: the last operation recorded for each machine, in order of
// first appearance, filtered to OperationAdd (§6: "a derived Existing() set
// of machine IDs").
func (r Result) Existing() []contenthash.MachineId {
	order := make([]contenthash.MachineId, 0, len(r.Operations))
	last := make(map[contenthash.MachineId]OperationKind, len(r.Operations))
	for _, op := range r.Operations {
		if _, seen := last[op.MachineId]; !seen {
			order = append(order, op.MachineId)
		}
		last[op.MachineId] = op.Kind
	}
	out := make([]contenthash.MachineId, 0, len(order))
	for _, id := range order {
		if last[id] == OperationAdd {
			out = append(out, id)
		}
	}
	return out
}

// LocationRequest parameterizes a lookup (§4.5a: "single-hash, recursive").
type LocationRequest struct {
	Hash      contenthash.ContentHash
	Recursive bool
}

// Resolver is the content-location index adapter (C7).
type Resolver interface {
	// GetLocations resolves candidate peer locations for a hash.
	GetLocations(ctx context.Context, req LocationRequest) ([]Result, error)
	// GetSingleLocation is a convenience single-hash, non-recursive lookup.
	GetSingleLocation(ctx context.Context, hash contenthash.ContentHash) (Result, error)
}

// ClusterRecord maps a MachineId to its dialable MachineLocation.
type ClusterRecord struct {
	Id       contenthash.MachineId
	Location contenthash.MachineLocation
}

// ClusterState is the membership service adapter (§6).
type ClusterState interface {
	// PrimaryMachineId is this machine's own ID.
	PrimaryMachineId() contenthash.MachineId
	// RecordByMachineId looks up a peer's record, if known to the cluster.
	RecordByMachineId(id contenthash.MachineId) (ClusterRecord, bool)
	// IsInactive reports whether a known peer is currently marked inactive.
	IsInactive(id contenthash.MachineId) bool
}
