package tracker

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
)

func newTestTracker(t *testing.T) *BadgerTracker {
	t.Helper()
	tr, err := OpenBadgerTracker("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = tr.Close() })
	return tr
}

func TestClaimantsOtherThan_NoClaims(t *testing.T) {
	tr := newTestTracker(t)
	h := contenthash.ComputeSha256([]byte("x"))
	claimants, err := tr.ClaimantsOtherThan(context.Background(), h, "self")
	require.NoError(t, err)
	assert.Empty(t, claimants)
}

func TestClaimantsOtherThan_ExcludesSelf(t *testing.T) {
	tr := newTestTracker(t)
	h := contenthash.ComputeSha256([]byte("x"))
	require.NoError(t, tr.Record(context.Background(), h, "self"))

	claimants, err := tr.ClaimantsOtherThan(context.Background(), h, "self")
	require.NoError(t, err)
	assert.Empty(t, claimants)
}

func TestClaimantsOtherThan_ReportsPeers(t *testing.T) {
	tr := newTestTracker(t)
	h := contenthash.ComputeSha256([]byte("x"))
	require.NoError(t, tr.Record(context.Background(), h, "self"))
	require.NoError(t, tr.Record(context.Background(), h, "peer-1"))
	require.NoError(t, tr.Record(context.Background(), h, "peer-2"))

	claimants, err := tr.ClaimantsOtherThan(context.Background(), h, "self")
	require.NoError(t, err)
	assert.ElementsMatch(t, []contenthash.MachineId{"peer-1", "peer-2"}, claimants)
}

func TestClaimantsOtherThan_DistinctHashesDoNotLeak(t *testing.T) {
	tr := newTestTracker(t)
	h1 := contenthash.ComputeSha256([]byte("one"))
	h2 := contenthash.ComputeSha256([]byte("two"))
	require.NoError(t, tr.Record(context.Background(), h1, "peer-1"))

	claimants, err := tr.ClaimantsOtherThan(context.Background(), h2, "self")
	require.NoError(t, err)
	assert.Empty(t, claimants)
}

func TestRecordIsIdempotent(t *testing.T) {
	tr := newTestTracker(t)
	h := contenthash.ComputeSha256([]byte("x"))
	require.NoError(t, tr.Record(context.Background(), h, "peer-1"))
	require.NoError(t, tr.Record(context.Background(), h, "peer-1"))

	claimants, err := tr.ClaimantsOtherThan(context.Background(), h, "self")
	require.NoError(t, err)
	assert.Equal(t, []contenthash.MachineId{"peer-1"}, claimants)
}
