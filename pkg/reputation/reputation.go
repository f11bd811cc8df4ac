// Package reputation tracks the per-peer Good/Bad/Missing/Timeout signal
// the copy engine reports as a fire-and-forget host callback (§4.4), and
// summarizes it per MachineId so callers can read cumulative standing
// without re-deriving it from logs.
//
// This is a pure readout: it never feeds back into the copy engine's retry
// decisions, which are governed solely by the §4.4 classification table.
//
// Grounded on the teacher's pkg/metrics counter-table idiom
// (pkg/metrics/metrics.go's per-module counter registration), narrowed
// from opencensus/influxdb export to a plain in-memory tally since the
// core's metrics aggregation, not its export, is what the spec's
// reputation table needs.
package reputation

import (
	"sync"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

// Signal is one reported outcome for a peer copy attempt (§4.4's
// classification table).
type Signal int

const (
	SignalGood Signal = iota
	SignalBad
	SignalMissing
	SignalTimeout
)

func (s Signal) String() string {
	switch s {
	case SignalGood:
		return "Good"
	case SignalBad:
		return "Bad"
	case SignalMissing:
		return "Missing"
	case SignalTimeout:
		return "Timeout"
	default:
		return "Unknown"
	}
}

// Tally is a single machine's cumulative signal counts.
type Tally struct {
	Good    int
	Bad     int
	Missing int
	Timeout int
}

func (t *Tally) record(s Signal) {
	switch s {
	case SignalGood:
		t.Good++
	case SignalBad:
		t.Bad++
	case SignalMissing:
		t.Missing++
	case SignalTimeout:
		t.Timeout++
	}
}

// Tracker accumulates Tally per MachineId. The zero value is not usable;
// construct with New.
type Tracker struct {
	mu     sync.Mutex
	tallys map[contenthash.MachineId]*Tally
}

// New creates an empty Tracker.
func New() *Tracker {
	return &Tracker{tallys: make(map[contenthash.MachineId]*Tally)}
}

// Report records one observed signal for machine (§4.4: "report_reputation
// (location, reputation)").
func (t *Tracker) Report(machine contenthash.MachineId, signal Signal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	tally, ok := t.tallys[machine]
	if !ok {
		tally = &Tally{}
		t.tallys[machine] = tally
	}
	tally.record(signal)
}

// TallyFor returns a copy of machine's cumulative tally.
func (t *Tracker) TallyFor(machine contenthash.MachineId) Tally {
	t.mu.Lock()
	defer t.mu.Unlock()
	if tally, ok := t.tallys[machine]; ok {
		return *tally
	}
	return Tally{}
}

// Snapshot returns a copy of every machine's tally, for host inspection.
func (t *Tracker) Snapshot() map[contenthash.MachineId]Tally {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[contenthash.MachineId]Tally, len(t.tallys))
	for machine, tally := range t.tallys {
		out[machine] = *tally
	}
	return out
}
