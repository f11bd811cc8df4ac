// Package scheduler implements the copy scheduler (C4, §4.3): admission
// control for outbound pull/push copies, bounded per-direction
// concurrency, and the attempt-indexed bandwidth profile consumed by the
// copy engine's per-copy deadlines.
//
// Grounded on the teacher's bounded-channel admission pattern
// (pkg/cafs/writer.go's maxGoRoutines worker-pool gate), replacing the
// ad hoc channel with golang.org/x/sync/semaphore.Weighted so admission can
// be cancelled or time out cleanly via context.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/oneconcern/ephemeralcache/internal/dlogger"
	"github.com/oneconcern/ephemeralcache/internal/ecerrors"
)

// Direction distinguishes outbound pulls (fetching a blob from a peer)
// from outbound pushes (serving one), since each is admission-controlled
// independently (§4.3: "bounded concurrency per direction").
type Direction int

const (
	DirectionPull Direction = iota
	DirectionPush
)

func (d Direction) String() string {
	if d == DirectionPush {
		return "push"
	}
	return "pull"
}

// DefaultMaxConcurrency is the default bound on simultaneous admitted
// operations per direction.
const DefaultMaxConcurrency = 8

// Summary reports admission bookkeeping for one scheduled call (§4.3: "a
// summary with queue-wait time").
type Summary struct {
	QueueWait time.Duration
}

var metricsOnce sync.Once

type metrics struct {
	queueWait *prometheus.HistogramVec
	admitted  *prometheus.CounterVec
	timedOut  *prometheus.CounterVec
}

var m *metrics

func metricsInstance() *metrics {
	metricsOnce.Do(func() {
		m = &metrics{
			queueWait: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name: "ephemeralcache_scheduler_queue_wait_seconds",
				Help: "Time an admission request spent waiting before being let through.",
			}, []string{"direction"}),
			admitted: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ephemeralcache_scheduler_admitted_total",
				Help: "Number of admission requests that were let through.",
			}, []string{"direction"}),
			timedOut: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "ephemeralcache_scheduler_timed_out_total",
				Help: "Number of admission requests that timed out before being let through.",
			}, []string{"direction"}),
		}
	})
	return m
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithMaxConcurrency overrides the admitted-at-once bound for dir.
func WithMaxConcurrency(dir Direction, n int64) Option {
	return func(s *Scheduler) {
		s.sems[dir] = semaphore.NewWeighted(n)
	}
}

// WithAdmissionTimeout bounds how long Admit will wait for a semaphore
// slot before returning a scheduler timeout (§4.3: "Timeout (the gate
// itself timed out before admitting)").
func WithAdmissionTimeout(d time.Duration) Option {
	return func(s *Scheduler) { s.admissionTimeout = d }
}

// WithBandwidthTable overrides the attempt-indexed bandwidth profile
// table. The table must carry a -1 entry as the fallback profile.
func WithBandwidthTable(table map[int]BandwidthConfiguration) Option {
	return func(s *Scheduler) { s.bandwidthTable = table }
}

// WithMaxRetryCount sets the retry ceiling used by BandwidthProfile's
// fall-through rule (§4.3).
func WithMaxRetryCount(n int) Option {
	return func(s *Scheduler) { s.maxRetryCount = n }
}

// WithLogger overrides the scheduler's logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// Scheduler admission-controls outbound pulls and pushes (C4).
type Scheduler struct {
	sems             map[Direction]*semaphore.Weighted
	admissionTimeout time.Duration
	bandwidthTable   map[int]BandwidthConfiguration
	maxRetryCount    int
	logger           *zap.Logger
	metrics          *metrics
}

// New creates a Scheduler with DefaultMaxConcurrency per direction and the
// DefaultBandwidthTable, then applies opts.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		sems: map[Direction]*semaphore.Weighted{
			DirectionPull: semaphore.NewWeighted(DefaultMaxConcurrency),
			DirectionPush: semaphore.NewWeighted(DefaultMaxConcurrency),
		},
		bandwidthTable: DefaultBandwidthTable(),
		maxRetryCount:  32,
		logger:         dlogger.MustGetLogger("info"),
		metrics:        metricsInstance(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// BandwidthProfile resolves the bandwidth profile for attempt, applying
// §4.3's fall-through: once totalRetries exceeds half of maxRetryCount the
// lookup always uses the -1 (default) profile.
func (s *Scheduler) BandwidthProfile(attempt, totalRetries int) BandwidthConfiguration {
	effective := EffectiveAttempt(attempt, totalRetries, s.maxRetryCount)
	if cfg, ok := s.bandwidthTable[effective]; ok {
		return cfg
	}
	return s.bandwidthTable[-1]
}

// Admit admission-controls perform: it blocks until a slot for dir is free
// (or admission times out, or ctx is cancelled), then runs perform and
// returns its result alongside a Summary describing the wait. Admit is a
// package-level function rather than a method because Go methods cannot
// carry their own type parameters.
func Admit[T any](ctx context.Context, s *Scheduler, dir Direction, reason string, perform func(ctx context.Context) (T, error)) (Summary, T, error) {
	var zero T

	sem := s.sems[dir]
	start := time.Now()

	admitCtx := ctx
	if s.admissionTimeout > 0 {
		var cancel context.CancelFunc
		admitCtx, cancel = context.WithTimeout(ctx, s.admissionTimeout)
		defer cancel()
	}

	if err := sem.Acquire(admitCtx, 1); err != nil {
		wait := time.Since(start)
		s.metrics.timedOut.WithLabelValues(dir.String()).Inc()
		s.logger.Warn("scheduler admission timed out",
			zap.String("direction", dir.String()), zap.String("reason", reason), zap.Duration("wait", wait))
		return Summary{QueueWait: wait}, zero, ecerrors.NewKind(ecerrors.KindSchedulerTimeout, "scheduler: admission timed out for "+reason)
	}
	defer sem.Release(1)

	wait := time.Since(start)
	s.metrics.queueWait.WithLabelValues(dir.String()).Observe(wait.Seconds())
	s.metrics.admitted.WithLabelValues(dir.String()).Inc()
	s.logger.Debug("scheduler admitted",
		zap.String("direction", dir.String()), zap.String("reason", reason), zap.Duration("wait", wait))

	result, err := perform(ctx)
	return Summary{QueueWait: wait}, result, err
}
