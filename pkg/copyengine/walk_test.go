package copyengine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/oneconcern/ephemeralcache/pkg/reputation"
)

func TestClassifyTable(t *testing.T) {
	cases := []struct {
		code     CopyFileCode
		semantic retrySemantic
		signal   reputation.Signal
		has      bool
	}{
		{CodeSuccess, semanticTryNextReplica, reputation.SignalGood, true},
		{CodeFileNotFoundError, semanticSkipInRemainingPasses, reputation.SignalMissing, true},
		{CodeServerUnavailable, semanticTryNextReplica, reputation.SignalBad, true},
		{CodeUnknownServerError, semanticTryNextReplica, reputation.SignalBad, true},
		{CodeRpcError, semanticTryNextReplica, reputation.SignalBad, true},
		{CodeUnknown, semanticTryNextReplica, reputation.SignalBad, true},
		{CodeConnectionTimeout, semanticTryNextReplica, reputation.SignalTimeout, true},
		{CodeTimeToFirstByteTimeout, semanticTryNextReplica, reputation.SignalTimeout, true},
		{CodeCopyTimeout, semanticTryNextReplica, reputation.SignalTimeout, true},
		{CodeCopyBandwidthTimeout, semanticTryNextReplica, reputation.SignalTimeout, true},
		{CodeDestinationPathError, semanticStopImmediately, 0, false},
		{CodeInvalidHash, semanticTryNextReplica, 0, false},
	}
	for _, c := range cases {
		got := classify(c.code)
		assert.Equal(t, c.semantic, got.semantic, c.code.String())
		assert.Equal(t, c.has, got.hasSignal, c.code.String())
		if c.has {
			assert.Equal(t, c.signal, got.signal, c.code.String())
		}
	}
}

func TestIsOutOfSpace(t *testing.T) {
	assert.True(t, IsOutOfSpace("write /tmp/x: no space left on device"))
	assert.True(t, IsOutOfSpace("Disk Quota Exceeded for user"))
	assert.True(t, IsOutOfSpace("not enough space on volume"))
	assert.False(t, IsOutOfSpace("permission denied"))
}

func TestUseTrustedHash(t *testing.T) {
	assert.True(t, useTrustedHash(100, -1))
	assert.True(t, useTrustedHash(100, 100))
	assert.False(t, useTrustedHash(99, 100))
}

func TestJitteredIntervalWithinBounds(t *testing.T) {
	nominal := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := jitteredInterval(nominal)
		assert.GreaterOrEqual(t, got, nominal/2)
		assert.Less(t, got, nominal+nominal/2)
	}
}

func TestJitteredIntervalZeroIsZero(t *testing.T) {
	assert.Equal(t, time.Duration(0), jitteredInterval(0))
}

func TestAllMissing(t *testing.T) {
	assert.False(t, allMissing(nil))
	assert.False(t, allMissing([]bool{true, false}))
	assert.True(t, allMissing([]bool{true, true}))
}
