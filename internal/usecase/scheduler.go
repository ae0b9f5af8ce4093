package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/Wilsonc7/mp-notifier/internal/adapter/metrics"
	"github.com/Wilsonc7/mp-notifier/internal/domain"
)

// SchedulerState is the position of the polling loop.
type SchedulerState string

const (
	StateSleeping SchedulerState = "sleeping"
	StatePolling  SchedulerState = "polling"
)

// Failure reasons, also used as metric labels.
const (
	reasonCredential = "credential"
	reasonIngest     = "ingest"
	reasonStorage    = "storage"
	reasonPanic      = "panic"
	reasonTenantList = "tenant_list"
)

// SchedulerStatus describes the loop and its last completed cycle.
type SchedulerStatus struct {
	State          SchedulerState `json:"state"`
	Cycles         uint64         `json:"cycles"`
	LastCycleStart time.Time      `json:"last_cycle_start"`
	LastDuration   string         `json:"last_duration"`
	TenantsPolled  int            `json:"tenants_polled"`
	Failures       int            `json:"failures"`
	Inserted       int            `json:"inserted"`
	SkippedNoLease bool           `json:"skipped_no_lease"`
}

// SchedulerOptions configures a Scheduler.
type SchedulerOptions struct {
	Interval    time.Duration
	Concurrency int
	// Lease is optional. When set, a cycle only polls while the lease is held.
	Lease    domain.Lease
	LeaseTTL time.Duration
}

// Scheduler polls every pollable tenant on a fixed period, independent of requests.
type Scheduler struct {
	tenants     domain.TenantRepository
	ingestor    *Ingestor
	interval    time.Duration
	concurrency int
	lease       domain.Lease
	leaseTTL    time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	mu     sync.RWMutex
	status SchedulerStatus
}

// NewScheduler creates a scheduler. m may be nil.
func NewScheduler(tenants domain.TenantRepository, ingestor *Ingestor, opts SchedulerOptions, logger *slog.Logger, m *metrics.Metrics) *Scheduler {
	concurrency := opts.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	leaseTTL := opts.LeaseTTL
	if leaseTTL <= 0 {
		leaseTTL = 3 * opts.Interval
	}
	return &Scheduler{
		tenants:     tenants,
		ingestor:    ingestor,
		interval:    opts.Interval,
		concurrency: concurrency,
		lease:       opts.Lease,
		leaseTTL:    leaseTTL,
		logger:      logger.With("component", "scheduler"),
		metrics:     m,
		now:         time.Now,
		status:      SchedulerStatus{State: StateSleeping},
	}
}

// Run polls immediately and then on every tick until ctx is cancelled.
// Ticks are measured from cycle start; a cycle that overruns the interval is
// followed by the next one right away.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.interval, "concurrency", s.concurrency, "lease", s.lease != nil)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.releaseLease()
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle performs one polling pass over all tenants.
func (s *Scheduler) RunCycle(ctx context.Context) {
	start := s.now()
	ctx, span := otel.Tracer("scheduler").Start(ctx, "scheduler.cycle")
	defer span.End()

	s.setState(StatePolling)
	defer s.setState(StateSleeping)

	if !s.holdsLease(ctx) {
		s.finishCycle(start, &cycleStats{skipped: true})
		return
	}

	if err := s.ingestor.Replay(ctx); err != nil {
		s.logger.Warn("spool replay failed, will retry next cycle", "error", err)
	}

	tenants, err := s.tenants.List(ctx)
	if err != nil {
		s.logger.Error("failed to load tenants", "error", err)
		s.countFailure(reasonTenantList)
		s.finishCycle(start, &cycleStats{failures: 1})
		return
	}

	var stats cycleStats
	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, t := range tenants {
		if !t.Pollable() {
			continue
		}
		stats.polled++
		g.Go(func() error {
			s.pollTenant(ctx, t, &stats)
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("tenants", stats.polled),
		attribute.Int64("inserted", stats.inserted.Load()),
	)
	s.finishCycle(start, &stats)
}

type cycleStats struct {
	polled   int
	inserted atomic.Int64
	failed   atomic.Int64
	failures int
	skipped  bool
}

// pollTenant isolates one tenant: errors and panics are logged and counted.
func (s *Scheduler) pollTenant(ctx context.Context, t *domain.Tenant, stats *cycleStats) {
	defer func() {
		if r := recover(); r != nil {
			stats.failed.Add(1)
			s.countFailure(reasonPanic)
			s.logger.Error("tenant poll panicked", "tenant", t.Key, "panic", fmt.Sprint(r))
		}
	}()

	n, err := s.ingestor.PollTenant(ctx, t)
	if err != nil {
		stats.failed.Add(1)
		reason := failureReason(err)
		s.countFailure(reason)
		s.logger.Warn("tenant poll failed", "tenant", t.Key, "reason", reason, "error", err)
		return
	}
	stats.inserted.Add(int64(n))
}

func (s *Scheduler) holdsLease(ctx context.Context) bool {
	if s.lease == nil {
		return true
	}
	held, err := s.lease.Acquire(ctx, s.leaseTTL)
	if err != nil {
		// The store deduplicates, so polling without the lease is safe.
		s.logger.Warn("lease unavailable, polling anyway", "error", err)
		return true
	}
	if !held {
		s.logger.Debug("lease held by another replica, skipping cycle")
	}
	return held
}

func (s *Scheduler) releaseLease() {
	if s.lease == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.lease.Release(ctx); err != nil {
		s.logger.Warn("failed to release lease", "error", err)
	}
}

func (s *Scheduler) finishCycle(start time.Time, stats *cycleStats) {
	elapsed := s.now().Sub(start)
	failures := stats.failures + int(stats.failed.Load())

	s.mu.Lock()
	s.status.Cycles++
	s.status.LastCycleStart = start
	s.status.LastDuration = elapsed.String()
	s.status.TenantsPolled = stats.polled
	s.status.Failures = failures
	s.status.Inserted = int(stats.inserted.Load())
	s.status.SkippedNoLease = stats.skipped
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.PollCycles.Inc()
		s.metrics.PollCycleDuration.Observe(elapsed.Seconds())
	}
	if !stats.skipped {
		s.logger.Info("poll cycle finished",
			"tenants", stats.polled,
			"inserted", stats.inserted.Load(),
			"failures", failures,
			"duration", elapsed,
		)
	}
}

func (s *Scheduler) setState(state SchedulerState) {
	s.mu.Lock()
	s.status.State = state
	s.mu.Unlock()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrNoCredential), errors.Is(err, ErrCredentialOpen):
		return reasonCredential
	case errors.Is(err, domain.ErrStorageUnavailable):
		return reasonStorage
	default:
		return reasonIngest
	}
}

func (s *Scheduler) countFailure(reason string) {
	if s.metrics != nil {
		s.metrics.TenantPollFailures.WithLabelValues(reason).Inc()
	}
}

// Status returns a copy of the current scheduler status.
func (s *Scheduler) Status() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}
