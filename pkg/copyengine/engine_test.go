package copyengine

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneconcern/ephemeralcache/internal/dlogger"
	"github.com/oneconcern/ephemeralcache/internal/ecerrors"
	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
	"github.com/oneconcern/ephemeralcache/pkg/reputation"
	"github.com/oneconcern/ephemeralcache/pkg/store"
)

type scriptedResult struct {
	code CopyFileCode
	data []byte
	err  error
}

type fakeCopier struct {
	mu        sync.Mutex
	scripts   map[contenthash.MachineLocation]scriptedResult
	callCount map[contenthash.MachineLocation]int
}

func newFakeCopier() *fakeCopier {
	return &fakeCopier{
		scripts:   make(map[contenthash.MachineLocation]scriptedResult),
		callCount: make(map[contenthash.MachineLocation]int),
	}
}

func (f *fakeCopier) script(loc contenthash.MachineLocation, s scriptedResult) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts[loc] = s
}

func (f *fakeCopier) calls(loc contenthash.MachineLocation) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.callCount[loc]
}

func (f *fakeCopier) CopyToAsync(_ context.Context, source contenthash.MachineLocation, dest WriteSeekerAt, _ CopyToOptions) (CopyFileResult, error) {
	f.mu.Lock()
	s := f.scripts[source]
	f.callCount[source]++
	f.mu.Unlock()

	if s.err != nil {
		return CopyFileResult{}, s.err
	}
	if len(s.data) > 0 {
		if _, err := dest.Write(s.data); err != nil {
			return CopyFileResult{}, err
		}
	}
	return CopyFileResult{Code: s.code, Size: int64(len(s.data))}, nil
}

type reputationEvent struct {
	location contenthash.MachineLocation
	signal   reputation.Signal
}

type fakeHost struct {
	mu            sync.Mutex
	workingFolder string
	events        []reputationEvent
}

func newFakeHost(t *testing.T) *fakeHost {
	return &fakeHost{workingFolder: t.TempDir()}
}

func (h *fakeHost) ReportReputation(location contenthash.MachineLocation, signal reputation.Signal) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, reputationEvent{location: location, signal: signal})
}

func (h *fakeHost) ReportCopyResult(CopyAttemptInfo, CopyFileResult) string { return "" }

func (h *fakeHost) WorkingFolder() string { return h.workingFolder }

func (h *fakeHost) signalsFor(loc contenthash.MachineLocation) []reputation.Signal {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []reputation.Signal
	for _, e := range h.events {
		if e.location == loc {
			out = append(out, e.signal)
		}
	}
	return out
}

func trustedHandleCopy(t *testing.T) HandleCopyFunc {
	return func(_ context.Context, _ CopyFileResult, tempPath string, _ int) (store.PutResult, error) {
		data, err := os.ReadFile(tempPath)
		require.NoError(t, err)
		return store.PutResult{
			Hash:   contenthash.ComputeSha256(data),
			Size:   int64(len(data)),
			Source: store.SourceDatacenterCache,
		}, nil
	}
}

// shortIntervals keeps the outer retry loop fast in tests: same shape as
// DefaultConfig's table, scaled down to milliseconds.
func shortIntervals() []time.Duration {
	return []time.Duration{time.Millisecond, 2 * time.Millisecond, 4 * time.Millisecond}
}

func testEngine(copier RemoteFileCopier, host HostCallbacks) *Engine {
	cfg := DefaultConfig()
	cfg.RetryIntervalForCopies = shortIntervals()
	return New(copier, host, WithConfig(cfg), WithLogger(dlogger.NewTestLogger()))
}

func TestTryCopyAndPutSuccessOnFirstCandidate(t *testing.T) {
	data := []byte("hello ephemeral cache")
	hash := contenthash.ComputeSha256(data)

	copier := newFakeCopier()
	copier.script("peer1", scriptedResult{code: CodeSuccess, data: data})
	host := newFakeHost(t)
	e := testEngine(copier, host)

	req := CopyRequest{
		HashInfo: contenthash.ContentHashWithSizeAndLocations{
			ContentHashWithSize: contenthash.ContentHashWithSize{Hash: hash, Size: int64(len(data))},
			Locations:           []contenthash.MachineLocation{"peer1"},
		},
		Reason:     "test",
		HandleCopy: trustedHandleCopy(t),
	}

	put, err := e.TryCopyAndPut(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, put.Hash.Equal(hash))
	assert.Equal(t, int64(len(data)), put.Size)
	assert.Equal(t, 1, copier.calls("peer1"))
	assert.Equal(t, []reputation.Signal{reputation.SignalGood}, host.signalsFor("peer1"))
}

func TestTryCopyAndPutTriesNextReplicaOnServerUnavailable(t *testing.T) {
	data := []byte("the second replica has it")
	hash := contenthash.ComputeSha256(data)

	copier := newFakeCopier()
	copier.script("peer1", scriptedResult{code: CodeServerUnavailable})
	copier.script("peer2", scriptedResult{code: CodeSuccess, data: data})
	host := newFakeHost(t)
	e := testEngine(copier, host)

	req := CopyRequest{
		HashInfo: contenthash.ContentHashWithSizeAndLocations{
			ContentHashWithSize: contenthash.ContentHashWithSize{Hash: hash, Size: int64(len(data))},
			Locations:           []contenthash.MachineLocation{"peer1", "peer2"},
		},
		Reason:     "test",
		HandleCopy: trustedHandleCopy(t),
	}

	put, err := e.TryCopyAndPut(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, put.Hash.Equal(hash))
	assert.Equal(t, []reputation.Signal{reputation.SignalBad}, host.signalsFor("peer1"))
	assert.Equal(t, []reputation.Signal{reputation.SignalGood}, host.signalsFor("peer2"))
}

func TestTryCopyAndPutAllMissingReturnsNotFoundAnywhere(t *testing.T) {
	data := []byte("nobody has this one")
	hash := contenthash.ComputeSha256(data)

	copier := newFakeCopier()
	copier.script("peer1", scriptedResult{code: CodeFileNotFoundError})
	copier.script("peer2", scriptedResult{code: CodeFileNotFoundError})
	host := newFakeHost(t)
	e := testEngine(copier, host)

	req := CopyRequest{
		HashInfo: contenthash.ContentHashWithSizeAndLocations{
			ContentHashWithSize: contenthash.ContentHashWithSize{Hash: hash, Size: int64(len(data))},
			Locations:           []contenthash.MachineLocation{"peer1", "peer2"},
		},
		Reason:     "test",
		HandleCopy: trustedHandleCopy(t),
	}

	_, err := e.TryCopyAndPut(context.Background(), req, nil)
	require.Error(t, err)
	assert.Equal(t, ecerrors.KindNotFoundAnywhere, ecerrors.KindOf(err))
}

func TestTryCopyAndPutHashMismatchTriesNextReplica(t *testing.T) {
	wrongData := []byte("this is not the content you want")
	rightData := []byte("this is the right content")
	hash := contenthash.ComputeSha256(rightData)

	copier := newFakeCopier()
	copier.script("peer1", scriptedResult{code: CodeSuccess, data: wrongData})
	copier.script("peer2", scriptedResult{code: CodeSuccess, data: rightData})
	host := newFakeHost(t)
	e := testEngine(copier, host)

	req := CopyRequest{
		HashInfo: contenthash.ContentHashWithSizeAndLocations{
			ContentHashWithSize: contenthash.ContentHashWithSize{Hash: hash, Size: int64(len(rightData))},
			Locations:           []contenthash.MachineLocation{"peer1", "peer2"},
		},
		Reason:     "test",
		HandleCopy: trustedHandleCopy(t),
	}

	put, err := e.TryCopyAndPut(context.Background(), req, nil)
	require.NoError(t, err)
	assert.True(t, put.Hash.Equal(hash))
	// peer1's mismatch carries no reputation signal per the classification
	// table (InvalidHash has no associated signal).
	assert.Empty(t, host.signalsFor("peer1"))
	assert.Equal(t, []reputation.Signal{reputation.SignalGood}, host.signalsFor("peer2"))
}

func TestTryCopyAndPutNoCandidatesReturnsError(t *testing.T) {
	copier := newFakeCopier()
	host := newFakeHost(t)
	e := testEngine(copier, host)

	req := CopyRequest{
		HashInfo: contenthash.ContentHashWithSizeAndLocations{
			ContentHashWithSize: contenthash.ContentHashWithSize{Hash: contenthash.ComputeSha256([]byte("x")), Size: 1},
		},
		Reason:     "test",
		HandleCopy: trustedHandleCopy(t),
	}

	_, err := e.TryCopyAndPut(context.Background(), req, nil)
	require.Error(t, err)
	assert.Equal(t, ecerrors.KindNotFoundAnywhere, ecerrors.KindOf(err))
}

func TestGetAllLocationCandidatesAppendsInRingExtras(t *testing.T) {
	hashInfo := contenthash.ContentHashWithSizeAndLocations{
		Locations: []contenthash.MachineLocation{"peer1"},
	}
	inRingLocations := map[contenthash.MachineId]contenthash.MachineLocation{
		"ring-machine": "peer2",
	}
	candidates := getAllLocationCandidates(hashInfo, []contenthash.MachineId{"ring-machine"}, inRingLocations)
	require.Len(t, candidates, 2)
	assert.Equal(t, contenthash.MachineLocation("peer1"), candidates[0].Location)
	assert.False(t, candidates[0].FromRing)
	assert.Equal(t, contenthash.MachineLocation("peer2"), candidates[1].Location)
	assert.True(t, candidates[1].FromRing)
}

func TestGetAllLocationCandidatesDedupesAgainstExisting(t *testing.T) {
	hashInfo := contenthash.ContentHashWithSizeAndLocations{
		Locations: []contenthash.MachineLocation{"peer1"},
	}
	inRingLocations := map[contenthash.MachineId]contenthash.MachineLocation{
		"ring-machine": "peer1",
	}
	candidates := getAllLocationCandidates(hashInfo, []contenthash.MachineId{"ring-machine"}, inRingLocations)
	assert.Len(t, candidates, 1)
}
