package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"sigex/internal/application/port"
	"sigex/internal/application/service"
	domainsvc "sigex/internal/domain/service"
	"sigex/internal/infrastructure/metrics"
)

type ServiceDeps struct {
	Repo        port.Repository
	Executor    *service.ExecutorService
	ServiceName string
	Interval    time.Duration
	BatchSize   int
	MaxRetryAge time.Duration
}

// Service is the fixed-interval driver. One active cycle per process,
// enforced by a CAS guard; concurrent processes against the same storage are
// expected and need no coordination beyond the storage atomics.
type Service struct {
	deps ServiceDeps

	inFlight atomic.Bool
	running  atomic.Bool
	wg       sync.WaitGroup

	mu          sync.Mutex
	lastCycleAt time.Time
	lastErr     error
}

func NewService(deps ServiceDeps) *Service {
	if deps.Interval <= 0 {
		deps.Interval = time.Minute
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = 20
	}
	if deps.MaxRetryAge <= 0 {
		deps.MaxRetryAge = 24 * time.Hour
	}
	return &Service{deps: deps}
}

// Run ticks until ctx is cancelled, then waits for the in-flight cycle to
// finish so shutdown never aborts mid-write.
func (s *Service) Run(ctx context.Context) error {
	s.running.Store(true)
	defer s.running.Store(false)

	log.Info().
		Dur("interval", s.deps.Interval).
		Int("batch_size", s.deps.BatchSize).
		Dur("max_retry_age", s.deps.MaxRetryAge).
		Msg("execution engine started")

	ticker := time.NewTicker(s.deps.Interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			log.Info().Msg("execution engine stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick starts a cycle unless the previous one is still going.
func (s *Service) tick(ctx context.Context) {
	if !s.inFlight.CompareAndSwap(false, true) {
		metrics.CyclesTotal.WithLabelValues("skipped").Inc()
		log.Warn().Msg("previous cycle still running, skipping tick")
		return
	}
	// the cycle must run to completion even when shutdown cancels ctx;
	// Run's wg.Wait provides the drain, so nothing aborts mid-write
	cctx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.inFlight.Store(false)
		s.runCycle(cctx)
	}()
}

func (s *Service) runCycle(ctx context.Context) {
	started := time.Now()
	err := s.cycle(ctx)
	metrics.CycleDuration.Observe(time.Since(started).Seconds())

	s.mu.Lock()
	s.lastCycleAt = started
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		// fatal for this cycle only; the loop stays alive and retries on the
		// next interval
		metrics.CyclesTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("execution cycle failed")
		return
	}
	metrics.CyclesTotal.WithLabelValues("completed").Inc()
}

func (s *Service) cycle(ctx context.Context) error {
	cutoff := time.Now().Add(-s.deps.MaxRetryAge)

	expired, err := s.deps.Repo.ExpireStaleRetries(ctx, cutoff, domainsvc.ExpiredReason(s.deps.MaxRetryAge))
	if err != nil {
		return err
	}
	if expired > 0 {
		log.Info().Int64("count", expired).Msg("expired stale retry signals")
	}

	batch, err := s.deps.Repo.ClaimablePendingSignals(ctx, s.deps.BatchSize, cutoff)
	if err != nil {
		return err
	}
	if len(batch) == 0 {
		return nil
	}

	log.Info().Int("signals", len(batch)).Msg("processing signal batch")
	s.deps.Executor.ExecuteBatch(ctx, batch)
	return nil
}

// HealthStatus is the engine's self-report for the health endpoint.
type HealthStatus struct {
	Service     string        `json:"service"`
	Interval    time.Duration `json:"-"`
	IsRunning   bool          `json:"isRunning"`
	LastCycleAt time.Time     `json:"lastCycleAt,omitempty"`
	LastError   string        `json:"lastError,omitempty"`
}

func (s *Service) Health() HealthStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := HealthStatus{
		Service:     s.deps.ServiceName,
		Interval:    s.deps.Interval,
		IsRunning:   s.running.Load(),
		LastCycleAt: s.lastCycleAt,
	}
	if s.lastErr != nil {
		h.LastError = s.lastErr.Error()
	}
	return h
}
