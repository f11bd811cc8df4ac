package copyengine

import (
	"context"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/oneconcern/ephemeralcache/internal/ecerrors"
	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
	"github.com/oneconcern/ephemeralcache/pkg/reputation"
	"github.com/oneconcern/ephemeralcache/pkg/scheduler"
	"github.com/oneconcern/ephemeralcache/pkg/store"
)

// retrySemantic is what a classified CopyFileCode means for the inner walk
// loop (§4.4's classification table).
type retrySemantic int

const (
	semanticTryNextReplica retrySemantic = iota
	semanticSkipInRemainingPasses
	semanticStopImmediately
)

type classification struct {
	signal    reputation.Signal
	hasSignal bool
	semantic  retrySemantic
}

// classify maps a CopyFileCode to its reputation effect and retry
// semantic, exactly the table in §4.4.
func classify(code CopyFileCode) classification {
	switch code {
	case CodeSuccess:
		return classification{signal: reputation.SignalGood, hasSignal: true, semantic: semanticTryNextReplica}
	case CodeFileNotFoundError:
		return classification{signal: reputation.SignalMissing, hasSignal: true, semantic: semanticSkipInRemainingPasses}
	case CodeServerUnavailable, CodeUnknownServerError, CodeRpcError, CodeUnknown:
		return classification{signal: reputation.SignalBad, hasSignal: true, semantic: semanticTryNextReplica}
	case CodeConnectionTimeout, CodeTimeToFirstByteTimeout, CodeCopyTimeout, CodeCopyBandwidthTimeout:
		return classification{signal: reputation.SignalTimeout, hasSignal: true, semantic: semanticTryNextReplica}
	case CodeDestinationPathError:
		return classification{semantic: semanticStopImmediately}
	case CodeInvalidHash:
		return classification{semantic: semanticTryNextReplica}
	default:
		return classification{signal: reputation.SignalBad, hasSignal: true, semantic: semanticTryNextReplica}
	}
}

// outOfSpaceSubstrings are OS-observed substrings that indicate a
// DestinationPathError is an out-of-disk condition rather than some other
// local I/O failure (SPEC_FULL §C.2; the original design leaves the match
// "per diagnostic" without naming them).
var outOfSpaceSubstrings = []string{
	"no space left on device",
	"disk quota exceeded",
	"not enough space",
}

// IsOutOfSpace reports whether a DestinationPathError's diagnostic
// indicates an out-of-disk condition.
func IsOutOfSpace(diagnostic string) bool {
	lower := toLower(diagnostic)
	for _, substr := range outOfSpaceSubstrings {
		if containsSubstring(lower, substr) {
			return true
		}
	}
	return false
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func containsSubstring(s, substr string) bool {
	if len(substr) == 0 {
		return true
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return true
		}
	}
	return false
}

// walkState carries the per-pass parameters the inner walker needs from
// the outer retry loop.
type walkState struct {
	attemptCount    int
	maxReplicaCount int
	totalRetries    int
	nominalInterval time.Duration
	missing         []bool
	lastFailureTime []time.Time
	workingFolder   string
}

// walkOutcome is what one call to walkLocationsAndCopyAndPut reports back
// to the outer retry loop.
type walkOutcome struct {
	success     bool
	result      store.PutResult
	cancelled   bool
	shouldRetry bool
	attempted   int
	err         error
}

// walkLocationsAndCopyAndPut is WalkLocationsAndCopyAndPut (§4.4 inner
// retry loop): clears the transient "bad" set at entry (only "missing" is
// sticky across passes), and tries each candidate up to maxReplicaCount.
func (e *Engine) walkLocationsAndCopyAndPut(ctx context.Context, req CopyRequest, candidates []candidate, ws walkState) walkOutcome {
	bad := make([]bool, len(candidates))
	attempted := 0

	for idx := 0; idx < ws.maxReplicaCount && idx < len(candidates); idx++ {
		if ws.totalRetries+idx >= e.cfg.MaxRetryCount {
			return walkOutcome{shouldRetry: false, attempted: attempted,
				err: ecerrors.NewKind(ecerrors.KindMaxRetries, "copyengine: max retry count reached")}
		}
		if ws.missing[idx] {
			continue
		}
		if bad[idx] {
			// cleared every pass, but once set within a pass we still skip
			// the same replica for the remainder of that pass.
			continue
		}

		if err := e.waitRemainingDelay(ctx, ws.nominalInterval, ws.lastFailureTime[idx]); err != nil {
			return walkOutcome{cancelled: true, attempted: attempted,
				err: ecerrors.NewKind(ecerrors.KindCancelled, "copyengine: cancelled while waiting to retry").Wrap(err)}
		}

		attempted++
		e.attemptsTotal.Inc()
		cand := candidates[idx]
		outcome := e.attemptCandidate(ctx, req, cand, idx, ws)
		ws.lastFailureTime[idx] = now()

		if outcome.markMissing {
			ws.missing[idx] = true
		}
		if outcome.markBad {
			bad[idx] = true
		}
		if outcome.abort {
			outcome.result.attempted = attempted
			return outcome.result
		}
	}

	return walkOutcome{shouldRetry: true, attempted: attempted}
}

// attemptResult is the per-candidate detail attemptCandidate reports;
// walkOutcome is reused as the carrier for terminal states.
type attemptResult struct {
	result      walkOutcome
	markMissing bool
	markBad     bool
	abort       bool
}

func (e *Engine) attemptCandidate(ctx context.Context, req CopyRequest, cand candidate, idx int, ws walkState) attemptResult {
	tempPath := newTempFilePath(ws.workingFolder)
	defer removeTempFile(tempPath, e.logger)

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return attemptResult{result: walkOutcome{shouldRetry: false,
			err: ecerrors.NewKind(ecerrors.KindDestinationError, "copyengine: cannot open temp file").Wrap(err)}, abort: true}
	}

	size := req.HashInfo.Size
	boundary := e.cfg.TrustedHashFileSizeBoundary
	trusted := useTrustedHash(size, boundary)

	var stream *hashingWriteStream
	var writer WriteSeekerAt = file
	if trusted {
		stream, err = newHashingWriteStream(file, req.HashInfo.Hash.Tag(), size, e.cfg.ParallelHashingFileSizeBoundary)
		if err != nil {
			_ = file.Close()
			return attemptResult{result: walkOutcome{shouldRetry: false,
				err: ecerrors.NewKind(ecerrors.KindDestinationError, "copyengine: cannot start hashing stream").Wrap(err)}, abort: true}
		}
		writer = stream
	}

	profile := e.scheduler.BandwidthProfile(ws.attemptCount, ws.totalRetries)
	deadline := profile.Deadline(size)

	summary, copyResult, copyErr := scheduler.Admit(ctx, e.scheduler, scheduler.DirectionPull, req.Reason, func(ctx context.Context) (CopyFileResult, error) {
		return e.copier.CopyToAsync(ctx, cand.Location, writer, CopyToOptions{
			ExpectedSize:    size,
			Deadline:        deadline,
			CompressionHint: req.CompressionHint,
		})
	})
	_ = file.Close()
	e.logger.Debug("copyengine: attempt complete",
		zap.String("reason", req.Reason), zap.Int("replica", idx), zap.Duration("queueWait", summary.QueueWait))

	if copyErr != nil {
		return attemptResult{result: walkOutcome{shouldRetry: true,
			err: ecerrors.NewKind(ecerrors.KindSourceBad, "copyengine: scheduler admission failed").Wrap(copyErr)}}
	}

	if trusted {
		hash, timeHashing, timeWriting, ferr := stream.Finish()
		copyResult.TimeSpentHashing = timeHashing
		copyResult.TimeSpentWritingToDisk = timeWriting
		if ferr != nil {
			copyResult.Code = CodeInvalidHash
			copyResult.Diagnostic = ferr.Error()
		} else if copyResult.Code == CodeSuccess && !hash.Equal(req.HashInfo.Hash) {
			copyResult.Code = CodeInvalidHash
			copyResult.Diagnostic = "trusted hash mismatch"
		}
	}

	if note := e.host.ReportCopyResult(CopyAttemptInfo{
		Hash: req.HashInfo.Hash, Location: cand.Location,
		AttemptCount: ws.attemptCount, ReplicaIndex: idx, FromRing: cand.FromRing,
	}, copyResult); note != "" {
		e.logger.Debug("copyengine: host copy-result note", zap.String("note", note))
	}

	class := classify(copyResult.Code)
	// The Good signal is reported only once the copy is fully verified
	// below (size, then handle-copy's own hash check); every other
	// signal reflects a copy-result code that is already final.
	if class.hasSignal && class.signal != reputation.SignalGood {
		e.reputation.Report(contenthash.MachineId(cand.Location), class.signal)
		e.host.ReportReputation(cand.Location, class.signal)
	}

	switch class.semantic {
	case semanticSkipInRemainingPasses:
		return attemptResult{markMissing: true}
	case semanticStopImmediately:
		if IsOutOfSpace(copyResult.Diagnostic) {
			return attemptResult{result: walkOutcome{shouldRetry: false,
				err: ecerrors.NewKind(ecerrors.KindDestinationFull, "copyengine: destination out of space: "+copyResult.Diagnostic)}, abort: true}
		}
		return attemptResult{result: walkOutcome{shouldRetry: true,
			err: ecerrors.NewKind(ecerrors.KindDestinationError, "copyengine: destination error: "+copyResult.Diagnostic)}, abort: true}
	}

	if copyResult.Code != CodeSuccess {
		return attemptResult{markBad: true}
	}

	if req.HashInfo.SizeKnown() && copyResult.Size != req.HashInfo.Size {
		// size mismatch: try the next replica, no reputation penalty (§4.4
		// step 7 — no Good signal has been reported for this replica yet,
		// and the table attaches no negative signal to a size mismatch).
		return attemptResult{markBad: true}
	}

	put, err := req.HandleCopy(ctx, copyResult, tempPath, ws.attemptCount)
	if err != nil {
		if ecerrors.KindOf(err) == ecerrors.KindCancelled {
			return attemptResult{result: walkOutcome{cancelled: true, err: err}, abort: true}
		}
		return attemptResult{result: walkOutcome{shouldRetry: false, err: err}, abort: true}
	}
	if !put.Hash.Equal(req.HashInfo.Hash) {
		return attemptResult{markBad: true}
	}

	e.reputation.Report(contenthash.MachineId(cand.Location), reputation.SignalGood)
	e.host.ReportReputation(cand.Location, reputation.SignalGood)

	return attemptResult{result: walkOutcome{success: true, result: put}, abort: true}
}

// useTrustedHash implements §4.4's UseTrustedHash(size) predicate.
func useTrustedHash(size, boundary int64) bool {
	return size >= boundary
}

// waitRemainingDelay blocks for the per-replica remaining delay: nominal,
// jittered into [0.5x, 1.5x), minus whatever time has already elapsed
// since this replica's last failure (§4.4 step 3).
func (e *Engine) waitRemainingDelay(ctx context.Context, nominal time.Duration, lastFailure time.Time) error {
	if nominal <= 0 || lastFailure.IsZero() {
		return nil
	}
	jittered := jitteredInterval(nominal)
	elapsed := now().Sub(lastFailure)
	remaining := jittered - elapsed
	if remaining <= 0 {
		return nil
	}
	timer := time.NewTimer(remaining)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var now = time.Now

// jitteredInterval randomizes nominal into [0.5x, 1.5x) (§4.4 step 3: "the
// configured interval randomized into half to one-and-a-half times its
// nominal value"), reusing cenkalti/backoff/v4's ExponentialBackOff as a
// one-shot jitter source rather than hand-rolling a random draw.
func jitteredInterval(nominal time.Duration) time.Duration {
	if nominal <= 0 {
		return 0
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = nominal
	b.MaxInterval = nominal
	b.RandomizationFactor = 0.5
	b.Multiplier = 1
	b.MaxElapsedTime = 0
	b.Reset()
	d := b.NextBackOff()
	if d == backoff.Stop {
		return nominal
	}
	return d
}
