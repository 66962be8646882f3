package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/pivot-analyzer/pivot-dashboard/internal/config"
	"github.com/pivot-analyzer/pivot-dashboard/internal/generator"
	"github.com/pivot-analyzer/pivot-dashboard/internal/logging"
	"github.com/pivot-analyzer/pivot-dashboard/internal/otel"
	"github.com/pivot-analyzer/pivot-dashboard/internal/status"
	"github.com/pivot-analyzer/pivot-dashboard/internal/telemetry"
)

// Generation triggers
const (
	TriggerBootstrap = "bootstrap"
	TriggerScheduled = "scheduled"
	TriggerRetry     = "retry"
)

// ErrAlreadyStarted is returned when Start is called twice
var ErrAlreadyStarted = errors.New("scheduler already started")

// Scheduler runs the generator at startup and then periodically
type Scheduler struct {
	gen           generator.Generator
	interval      time.Duration
	retryInterval time.Duration

	logger      *slog.Logger
	metrics     *telemetry.GenerationMetrics
	tracer      trace.Tracer
	persistence status.Persistence
	now         func() time.Time

	// Lifecycle management
	lifecycleMu sync.Mutex
	started     bool
	stopped     bool
	cancelFunc  context.CancelFunc
	done        chan struct{}

	restoreOnce sync.Once

	mu     sync.RWMutex
	status status.GenerationStatus
}

// Option configures a Scheduler
type Option func(*Scheduler)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Scheduler) {
		s.logger = logger
	}
}

// WithMetrics sets the generation metrics
func WithMetrics(metrics *telemetry.GenerationMetrics) Option {
	return func(s *Scheduler) {
		s.metrics = metrics
	}
}

// WithTracer sets the tracer used for generation spans
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) {
		s.tracer = tracer
	}
}

// WithStatusPersistence saves the status on every transition
func WithStatusPersistence(p status.Persistence) Option {
	return func(s *Scheduler) {
		s.persistence = p
	}
}

// WithClock overrides the time source used for status timestamps
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

// New creates a scheduler for gen using the intervals from cfg
func New(gen generator.Generator, cfg *config.Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		gen:           gen,
		interval:      cfg.GetRegenerationInterval(),
		retryInterval: cfg.GetRetryInterval(),
		logger:        slog.Default(),
		now:           time.Now,
		done:          make(chan struct{}),
		status:        status.GenerationStatus{Phase: status.PhasePending},
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Bootstrap runs exactly one generation synchronously. A failure is logged
// and returned; callers are expected to keep serving whatever content is
// already on disk.
func (s *Scheduler) Bootstrap(ctx context.Context) error {
	s.restore(ctx)
	if err := s.runOnce(ctx, TriggerBootstrap); err != nil {
		return fmt.Errorf("bootstrap generation failed: %w", err)
	}
	return nil
}

// Start runs the regeneration loop until ctx is cancelled or Stop is called.
// It returns nil on cancellation.
func (s *Scheduler) Start(ctx context.Context) error {
	s.lifecycleMu.Lock()
	if s.started {
		s.lifecycleMu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	if s.stopped {
		s.lifecycleMu.Unlock()
		close(s.done)
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel
	s.lifecycleMu.Unlock()

	defer func() {
		cancel()
		close(s.done)
		s.logger.Info("Regeneration scheduler stopped")
	}()

	s.restore(runCtx)
	s.logger.Info("Starting regeneration scheduler",
		"interval", s.interval.String(),
		"retry_interval", s.retryInterval.String())

	// The first loop run waits the full interval even when the bootstrap
	// failed; the retry interval only applies between loop attempts.
	for {
		s.awaiting(runCtx, TriggerScheduled, s.interval)
		if !s.sleep(runCtx, s.interval) {
			return nil
		}
		if err := s.regenerate(runCtx); err != nil {
			return nil
		}
	}
}

// regenerate runs a scheduled generation and keeps retrying it on the fixed
// retry interval until an attempt succeeds. It only returns an error once
// ctx is cancelled.
func (s *Scheduler) regenerate(ctx context.Context) error {
	trigger := TriggerScheduled
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := s.runOnce(ctx, trigger)
		trigger = TriggerRetry
		return struct{}{}, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(s.retryInterval)),
		backoff.WithMaxTries(0),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(_ error, next time.Duration) {
			s.awaiting(ctx, TriggerRetry, next)
		}),
	)
	return err
}

// awaiting records and logs when the next generation is due
func (s *Scheduler) awaiting(ctx context.Context, trigger string, delay time.Duration) {
	next := s.now().Add(delay)
	s.setNextRun(ctx, next)
	s.logger.Info("Waiting for next generation", "trigger", trigger, "in", delay.String(), "next_run", next)
}

// Stop cancels the loop and waits for it to exit until ctx is done. A
// generation that ignores cancellation is abandoned once ctx expires and
// Stop returns the context error. It is safe to call before Start and more
// than once.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.lifecycleMu.Lock()
	s.stopped = true
	cancel, started := s.cancelFunc, s.started
	s.lifecycleMu.Unlock()

	if !started {
		return nil
	}
	if cancel != nil {
		s.logger.Info("Stopping regeneration scheduler")
		cancel()
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		s.logger.Warn("Abandoning in-flight generation", "error", ctx.Err())
		return fmt.Errorf("scheduler did not stop: %w", ctx.Err())
	}
}

// Status returns a snapshot of the generation status
func (s *Scheduler) Status() status.GenerationStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.status.Clone()
}

// NextRun returns when the next generation is due, or the zero time when
// the loop is not waiting
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status.NextRun == nil {
		return time.Time{}
	}
	return *s.status.NextRun
}

// sleep waits d and reports whether the loop should continue
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runOnce performs one generation and records its outcome
func (s *Scheduler) runOnce(ctx context.Context, trigger string) error {
	runID := uuid.NewString()
	logger := s.logger.With("run_id", runID, "trigger", trigger)

	ctx, span := otel.StartSpan(ctx, s.tracer, "dashboard.generate",
		trace.WithAttributes(
			otel.AttrRunID.String(runID),
			otel.AttrTrigger.String(trigger),
		),
	)
	defer span.End()

	started := s.now()
	s.update(ctx, func(st *status.GenerationStatus) {
		st.Phase = status.PhaseGenerating
		st.Message = "Generating dashboard"
		st.RunID = runID
		st.LastAttempt = &started
		st.NextRun = nil
	})

	result, err := s.generate(ctx)
	finished := s.now()
	duration := finished.Sub(started)
	s.metrics.RecordGeneration(ctx, trigger, duration, err == nil)

	if err != nil {
		otel.RecordError(span, err)

		var failures int
		s.update(ctx, func(st *status.GenerationStatus) {
			st.Phase = status.PhaseFailed
			st.Message = err.Error()
			st.ConsecutiveFailures++
			failures = st.ConsecutiveFailures
		})
		s.metrics.RecordConsecutiveFailures(ctx, failures)

		logger.ErrorContext(ctx, "Dashboard generation failed",
			"error", err,
			"duration", duration.String(),
			"consecutive_failures", failures)
		return err
	}

	span.SetStatus(codes.Ok, "")
	s.update(ctx, func(st *status.GenerationStatus) {
		st.Phase = status.PhaseComplete
		st.Message = result.Headline()
		st.LastSuccess = &finished
		st.ConsecutiveFailures = 0
		st.Assets = result.Summaries()
	})
	s.metrics.RecordConsecutiveFailures(ctx, 0)
	s.metrics.RecordLastSuccess(ctx, finished)

	logging.Success(ctx, logger, "Dashboard updated",
		"summary", result.Headline(),
		"duration", duration.String())
	for _, a := range result.Alerts() {
		logger.WarnContext(ctx, "Active context alert", "asset", a.AssetID, "alert", a.Alert.Type)
	}
	return nil
}

// generate calls the generator, converting a panic into an error
func (s *Scheduler) generate(ctx context.Context) (result *generator.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorContext(ctx, "Generator panicked", "panic", r, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("generator panicked: %v", r)
		}
	}()
	return s.gen.Generate(ctx)
}

func (s *Scheduler) setNextRun(ctx context.Context, next time.Time) {
	s.update(ctx, func(st *status.GenerationStatus) {
		st.NextRun = &next
	})
}

// update applies fn to the status and persists the result
func (s *Scheduler) update(ctx context.Context, fn func(*status.GenerationStatus)) {
	s.mu.Lock()
	fn(&s.status)
	snapshot := s.status.Clone()
	s.mu.Unlock()

	if s.persistence == nil {
		return
	}
	// Saved even when ctx is cancelled so shutdown does not lose the last outcome
	if err := s.persistence.Save(context.WithoutCancel(ctx), snapshot); err != nil {
		s.logger.Warn("Failed to persist generation status", "error", err)
	}
}

// restore seeds the in-memory status with the last persisted outcome
func (s *Scheduler) restore(ctx context.Context) {
	s.restoreOnce.Do(func() {
		if s.persistence == nil {
			return
		}
		prev, err := s.persistence.Load(ctx)
		if err != nil {
			s.logger.Warn("Failed to load previous generation status", "error", err)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.status.LastSuccess = prev.LastSuccess
		s.status.Assets = prev.Assets
		s.status.ConsecutiveFailures = prev.ConsecutiveFailures
	})
}
