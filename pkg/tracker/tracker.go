// Package tracker implements the local content tracker consulted by
// ExistsElsewhere (§4.5): a per-build record of which machines — including
// this one — have been observed to claim a hash, independent of whatever
// the content resolver currently reports.
//
// Grounded on the teacher's kvBadger wrapper (pkg/core/purge_badger.go),
// narrowed from a general byte-key/value KV to the single claims-by-hash
// shape this package needs.
package tracker

import (
	"context"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

// Tracker records and answers "who claims this hash" for the local build.
type Tracker interface {
	// Record notes that machine claims to hold hash. Idempotent: recording
	// the same (hash, machine) pair twice has no additional effect beyond
	// refreshing its recency.
	Record(ctx context.Context, hash contenthash.ContentHash, machine contenthash.MachineId) error

	// ClaimantsOtherThan returns every machine recorded as claiming hash,
	// excluding self. Order is unspecified.
	ClaimantsOtherThan(ctx context.Context, hash contenthash.ContentHash, self contenthash.MachineId) ([]contenthash.MachineId, error)

	// Close releases underlying resources.
	Close() error
}
