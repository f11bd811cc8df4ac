// Package copyengine implements the copy engine (C5, §4.4) — "the heart of
// the core": it walks a hash's candidate peer locations in order, streams
// and verifies each candidate's bytes through a trusted-hash write, and
// retries across an attempt-indexed interval table until one candidate's
// bytes are committed via the caller-supplied HandleCopy continuation.
//
// Grounded on the teacher's pkg/cafs/writer.go (streaming hash-while-write)
// for the trusted-hash path and pkg/storage/multi.go's MultiPut
// fan-out/TolerateFailure modeling ("try the next candidate on failure").
package copyengine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/oneconcern/ephemeralcache/internal/dlogger"
	"github.com/oneconcern/ephemeralcache/internal/ecerrors"
	"github.com/oneconcern/ephemeralcache/pkg/contenthash"
	"github.com/oneconcern/ephemeralcache/pkg/reputation"
	"github.com/oneconcern/ephemeralcache/pkg/scheduler"
	"github.com/oneconcern/ephemeralcache/pkg/store"
)

// CopyFileCode is the outcome of one candidate-peer copy attempt, the
// union given in §4.4's classification table.
type CopyFileCode int

const (
	CodeSuccess CopyFileCode = iota
	CodeFileNotFoundError
	CodeServerUnavailable
	CodeUnknownServerError
	CodeRpcError
	CodeUnknown
	CodeConnectionTimeout
	CodeTimeToFirstByteTimeout
	CodeCopyTimeout
	CodeCopyBandwidthTimeout
	CodeDestinationPathError
	CodeInvalidHash
)

func (c CopyFileCode) String() string {
	switch c {
	case CodeSuccess:
		return "Success"
	case CodeFileNotFoundError:
		return "FileNotFoundError"
	case CodeServerUnavailable:
		return "ServerUnavailable"
	case CodeUnknownServerError:
		return "UnknownServerError"
	case CodeRpcError:
		return "RpcError"
	case CodeConnectionTimeout:
		return "ConnectionTimeout"
	case CodeTimeToFirstByteTimeout:
		return "TimeToFirstByteTimeout"
	case CodeCopyTimeout:
		return "CopyTimeout"
	case CodeCopyBandwidthTimeout:
		return "CopyBandwidthTimeout"
	case CodeDestinationPathError:
		return "DestinationPathError"
	case CodeInvalidHash:
		return "InvalidHash"
	default:
		return "Unknown"
	}
}

// CopyFileResult is what the remote file copier hands back for one
// candidate attempt (§6: "copy_to_async(...) -> CopyFileResult").
type CopyFileResult struct {
	Code                   CopyFileCode
	Size                   int64
	MinimumSpeedInMbPerSec float64
	HeaderResponseTime     time.Duration
	TimeSpentHashing       time.Duration
	TimeSpentWritingToDisk time.Duration
	Diagnostic             string
}

// RemoteFileCopier is the consumed wire-copy transport (§6; its protocol is
// explicitly out of scope per §1 — this package only depends on the
// contract).
type RemoteFileCopier interface {
	CopyToAsync(ctx context.Context, source contenthash.MachineLocation, dest WriteSeekerAt, opts CopyToOptions) (CopyFileResult, error)
}

// WriteSeekerAt is what the engine hands the copier to write into: a
// plain file, which the engine also uses to compute the trusted hash as
// bytes land on disk.
type WriteSeekerAt interface {
	Write(p []byte) (int, error)
}

// CopyToOptions parameterizes one candidate attempt.
type CopyToOptions struct {
	ExpectedSize    int64
	Deadline        time.Duration
	CompressionHint bool
	HeaderDeadline  time.Duration
}

// HostCallbacks are the consumed host capabilities (§6, §9: "a small
// capability interface on the host").
type HostCallbacks interface {
	ReportReputation(location contenthash.MachineLocation, signal reputation.Signal)
	ReportCopyResult(info CopyAttemptInfo, result CopyFileResult) string
	WorkingFolder() string
}

// CopyAttemptInfo is the diagnostic context passed to ReportCopyResult.
type CopyAttemptInfo struct {
	Hash         contenthash.ContentHash
	Location     contenthash.MachineLocation
	AttemptCount int
	ReplicaIndex int
	FromRing     bool
}

// HandleCopyFunc commits a successfully copied, byte-accurate temp file
// into the local store (§3: "handleCopy ... commits the copied bytes into
// the local store and returns a PutResult"). It may be invoked multiple
// times across one request — once per candidate whose bytes later prove
// to hash-mismatch — and must have no side effects on failure paths other
// than best-effort writes to the local store (§9).
type HandleCopyFunc func(ctx context.Context, result CopyFileResult, tempPath string, attemptCount int) (store.PutResult, error)

// CopyRequest is one request to try_copy_and_put (§3).
type CopyRequest struct {
	HashInfo        contenthash.ContentHashWithSizeAndLocations
	Reason          string
	HandleCopy      HandleCopyFunc
	CompressionHint bool
	InRingMachines  []contenthash.MachineId
	WorkingFolder   string
}

// Config is the engine's configuration surface (§6 "Configuration
// surface").
type Config struct {
	CopyAttemptsWithRestrictedReplicas int
	RestrictedCopyReplicaCount         int
	ParallelHashingFileSizeBoundary    int64
	TrustedHashFileSizeBoundary        int64
	MaxRetryCount                      int
	RetryIntervalForCopies             []time.Duration
}

// DefaultConfig matches §6's named defaults exactly.
func DefaultConfig() Config {
	return Config{
		RestrictedCopyReplicaCount:      3,
		ParallelHashingFileSizeBoundary: 8 * 1024 * 1024,
		TrustedHashFileSizeBoundary:     -1,
		MaxRetryCount:                  32,
		RetryIntervalForCopies: []time.Duration{
			20 * time.Millisecond, 200 * time.Millisecond, time.Second,
			5 * time.Second, 10 * time.Second, 30 * time.Second,
			60 * time.Second, 120 * time.Second,
		},
	}
}

// Option configures an Engine.
type Option func(*Engine)

func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }
func WithLogger(logger *zap.Logger) Option { return func(e *Engine) { e.logger = logger } }

func WithScheduler(s *scheduler.Scheduler) Option {
	return func(e *Engine) { e.scheduler = s }
}

func WithReputation(r *reputation.Tracker) Option {
	return func(e *Engine) { e.reputation = r }
}

// Engine is the copy engine (C5).
type Engine struct {
	copier     RemoteFileCopier
	host       HostCallbacks
	scheduler  *scheduler.Scheduler
	reputation *reputation.Tracker
	logger     *zap.Logger
	cfg        Config

	// attemptsTotal is a lock-free counter of every candidate attempt made
	// across all requests, for host-side diagnostics; it never affects
	// retry decisions.
	attemptsTotal atomic.Int64
}

// New creates an Engine over a remote file copier and host adapter.
func New(copier RemoteFileCopier, host HostCallbacks, opts ...Option) *Engine {
	e := &Engine{
		copier:     copier,
		host:       host,
		scheduler:  scheduler.New(),
		reputation: reputation.New(),
		logger:     dlogger.MustGetLogger("info"),
		cfg:        DefaultConfig(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AttemptsSoFar reports the total number of candidate copy attempts this
// engine has made across every request, for host-side diagnostics.
func (e *Engine) AttemptsSoFar() int64 {
	return e.attemptsTotal.Load()
}

// candidate is one entry in a request's ordered location list.
type candidate struct {
	Location contenthash.MachineLocation
	FromRing bool
}

// getAllLocationCandidates concatenates hashInfo.Locations with any
// inRingMachines-derived locations not already present, appending the
// in-ring extras at the end and tagging them FromRing (§4.4).
//
// inRingLocations maps a MachineId to its dialable location; callers that
// have no such mapping (e.g. tests) may pass nil, in which case in-ring
// machines contribute no additional candidates.
func getAllLocationCandidates(hashInfo contenthash.ContentHashWithSizeAndLocations, inRing []contenthash.MachineId, inRingLocations map[contenthash.MachineId]contenthash.MachineLocation) []candidate {
	seen := make(map[contenthash.MachineLocation]bool, len(hashInfo.Locations))
	out := make([]candidate, 0, len(hashInfo.Locations)+len(inRing))
	for _, loc := range hashInfo.Locations {
		seen[loc] = true
		out = append(out, candidate{Location: loc})
	}
	for _, id := range inRing {
		loc, ok := inRingLocations[id]
		if !ok || seen[loc] {
			continue
		}
		seen[loc] = true
		out = append(out, candidate{Location: loc, FromRing: true})
	}
	return out
}

// TryCopyAndPut is the engine's contract (§4.4): try candidate peer
// locations in order, invoking req.HandleCopy on the first successful
// byte-accurate copy, and return its result.
func (e *Engine) TryCopyAndPut(ctx context.Context, req CopyRequest, inRingLocations map[contenthash.MachineId]contenthash.MachineLocation) (store.PutResult, error) {
	candidates := getAllLocationCandidates(req.HashInfo, req.InRingMachines, inRingLocations)
	if len(candidates) == 0 {
		return store.PutResult{}, ecerrors.NewKind(ecerrors.KindNotFoundAnywhere, "copyengine: no candidate locations for "+req.HashInfo.Hash.ShortString())
	}

	workingFolder := req.WorkingFolder
	if workingFolder == "" {
		workingFolder = e.host.WorkingFolder()
	}

	missing := make([]bool, len(candidates))
	lastFailureTime := make([]time.Time, len(candidates))
	totalRetries := 0

	intervals := e.cfg.RetryIntervalForCopies
	if len(intervals) == 0 {
		intervals = DefaultConfig().RetryIntervalForCopies
	}

	var combined error
	for attemptCount := 0; attemptCount < len(intervals); attemptCount++ {
		if err := ctx.Err(); err != nil {
			return store.PutResult{}, ecerrors.NewKind(ecerrors.KindCancelled, "copyengine: cancelled").Wrap(err)
		}

		maxReplicaCount := len(candidates)
		if attemptCount < e.cfg.CopyAttemptsWithRestrictedReplicas && e.cfg.RestrictedCopyReplicaCount < maxReplicaCount {
			maxReplicaCount = e.cfg.RestrictedCopyReplicaCount
		}

		outcome := e.walkLocationsAndCopyAndPut(ctx, req, candidates, walkState{
			attemptCount:    attemptCount,
			maxReplicaCount: maxReplicaCount,
			totalRetries:    totalRetries,
			nominalInterval: intervals[attemptCount],
			missing:         missing,
			lastFailureTime: lastFailureTime,
			workingFolder:   workingFolder,
		})

		totalRetries += outcome.attempted

		if outcome.success {
			return outcome.result, nil
		}
		if outcome.cancelled {
			return store.PutResult{}, outcome.err
		}
		if allMissing(missing) {
			return store.PutResult{}, ecerrors.NewKind(ecerrors.KindNotFoundAnywhere, "copyengine: all candidates reported missing for "+req.HashInfo.Hash.ShortString())
		}
		if !outcome.shouldRetry {
			return store.PutResult{}, outcome.err
		}
		if outcome.err != nil {
			combined = multierr.Append(combined, outcome.err)
		}
	}

	if combined == nil {
		combined = fmt.Errorf("copyengine: retry table exhausted for %s", req.HashInfo.Hash.ShortString())
	}
	return store.PutResult{}, ecerrors.NewKind(ecerrors.KindMaxRetries, "copyengine: retry table exhausted").Wrap(combined)
}

func allMissing(missing []bool) bool {
	for _, m := range missing {
		if !m {
			return false
		}
	}
	return len(missing) > 0
}
