package scheduler

import "time"

// BandwidthConfiguration is the per-attempt profile the copy engine uses to
// compute a copy's deadline (§4.3, SPEC_FULL §C.3).
type BandwidthConfiguration struct {
	// MinimumBandwidthMbPerSec is the slowest throughput, in megabits per
	// second, a copy at this attempt is allowed before it is considered
	// stalled.
	MinimumBandwidthMbPerSec float64
	// DefaultTimeSecondsPerByte is the fallback used when the blob's size
	// is unknown (ContentHashWithSize.Size == contenthash.UnknownSize):
	// a flat per-byte allowance applied against a nominal size, rather
	// than a throughput computed from an actual size.
	DefaultTimeSecondsPerByte float64
}

// minBytesPerSecond converts the configured megabit rate to bytes/sec.
func (b BandwidthConfiguration) minBytesPerSecond() float64 {
	return b.MinimumBandwidthMbPerSec * 1_000_000 / 8
}

// nominalUnknownSizeBytes stands in for an unsized blob when computing a
// deadline from DefaultTimeSecondsPerByte: large enough that a slow peer
// still gets a meaningful window, small enough not to wait forever.
const nominalUnknownSizeBytes = 64 * 1024 * 1024

// Deadline computes the time budget for copying size bytes at this
// profile's minimum bandwidth. size < 0 (unknown) falls back to
// DefaultTimeSecondsPerByte over a nominal size.
func (b BandwidthConfiguration) Deadline(size int64) time.Duration {
	if size < 0 {
		return time.Duration(float64(nominalUnknownSizeBytes) * b.DefaultTimeSecondsPerByte * float64(time.Second))
	}
	bps := b.minBytesPerSecond()
	if bps <= 0 {
		return time.Duration(float64(size) * b.DefaultTimeSecondsPerByte * float64(time.Second))
	}
	return time.Duration(float64(size) / bps * float64(time.Second))
}

// DefaultBandwidthTable is the built-in attempt-indexed profile table:
// aggressive deadlines on early attempts, relaxed on later ones, with -1
// as the fallback profile used once the global retry counter passes half
// of MaxRetryCount (§4.3).
func DefaultBandwidthTable() map[int]BandwidthConfiguration {
	return map[int]BandwidthConfiguration{
		0:  {MinimumBandwidthMbPerSec: 50, DefaultTimeSecondsPerByte: 1e-7},
		1:  {MinimumBandwidthMbPerSec: 25, DefaultTimeSecondsPerByte: 2e-7},
		2:  {MinimumBandwidthMbPerSec: 10, DefaultTimeSecondsPerByte: 4e-7},
		3:  {MinimumBandwidthMbPerSec: 5, DefaultTimeSecondsPerByte: 8e-7},
		-1: {MinimumBandwidthMbPerSec: 1, DefaultTimeSecondsPerByte: 1.6e-6},
	}
}

// EffectiveAttempt applies §4.3's fall-through rule: once totalRetries
// exceeds half of maxRetryCount, the bandwidth lookup always uses the
// default (-1) profile regardless of the per-replica attempt index.
func EffectiveAttempt(attempt, totalRetries, maxRetryCount int) int {
	if maxRetryCount > 0 && totalRetries > maxRetryCount/2 {
		return -1
	}
	return attempt
}
