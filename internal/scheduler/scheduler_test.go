package scheduler_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/mock/gomock"

	"github.com/pivot-analyzer/pivot-dashboard/internal/config"
	"github.com/pivot-analyzer/pivot-dashboard/internal/generator"
	genmocks "github.com/pivot-analyzer/pivot-dashboard/internal/generator/mocks"
	"github.com/pivot-analyzer/pivot-dashboard/internal/logging"
	"github.com/pivot-analyzer/pivot-dashboard/internal/scheduler"
	"github.com/pivot-analyzer/pivot-dashboard/internal/status"
	statusmocks "github.com/pivot-analyzer/pivot-dashboard/internal/status/mocks"
	"github.com/pivot-analyzer/pivot-dashboard/internal/telemetry"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func testConfig(interval, retry string) *config.Config {
	return &config.Config{RegenerationInterval: interval, RetryInterval: retry}
}

func bullishResult() *generator.Result {
	return &generator.Result{
		Analyses: []*generator.Analysis{
			{AssetID: "BTC", Bias: "BULLISH", Score: 3, MaxScore: 4, Alert: generator.Alert{Active: true, Type: "VOLATILITY_SPIKE"}},
			{AssetID: "ETH", Bias: "NEUTRAL", Score: 2, MaxScore: 4},
		},
	}
}

// scriptedGenerator fails the first failures calls, then succeeds
type scriptedGenerator struct {
	mu       sync.Mutex
	failures int
	calls    []time.Time
}

func (g *scriptedGenerator) Generate(context.Context) (*generator.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, time.Now())
	if len(g.calls) <= g.failures {
		return nil, errors.New("upstream data source timeout")
	}
	return bullishResult(), nil
}

func (g *scriptedGenerator) Calls() []time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]time.Time(nil), g.calls...)
}

func startScheduler(t *testing.T, s *scheduler.Scheduler) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(context.Background()) }()
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return errCh
}

func TestBootstrap_Success(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	gen := genmocks.NewMockGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any()).Return(bullishResult(), nil)

	var buf bytes.Buffer
	logger := slog.New(logging.NewHandler(logging.WithWriter(&buf)))
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	s := scheduler.New(gen, testConfig("1h", "5m"),
		scheduler.WithLogger(logger),
		scheduler.WithClock(func() time.Time { return now }),
	)
	assert.Equal(t, status.PhasePending, s.Status().Phase)

	require.NoError(t, s.Bootstrap(context.Background()))

	st := s.Status()
	assert.Equal(t, status.PhaseComplete, st.Phase)
	assert.Equal(t, "BTC: BULLISH (3/4)", st.Message)
	assert.NotEmpty(t, st.RunID)
	require.NotNil(t, st.LastSuccess)
	assert.Equal(t, now, *st.LastSuccess)
	assert.Zero(t, st.ConsecutiveFailures)
	require.Len(t, st.Assets, 2)
	assert.Equal(t, "VOLATILITY_SPIKE", st.Assets[0].AlertType)

	out := buf.String()
	assert.Contains(t, out, `"level":"SUCCESS"`)
	assert.Contains(t, out, `"summary":"BTC: BULLISH (3/4)"`)
	assert.Contains(t, out, `"level":"WARN","msg":"Active context alert"`)
	assert.Contains(t, out, `"alert":"VOLATILITY_SPIKE"`)
	assert.Contains(t, out, `"trigger":"bootstrap"`)
}

func TestBootstrap_FailureIsReturnedNotFatal(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	upstream := errors.New("upstream timeout")
	gen := genmocks.NewMockGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any()).Return(nil, upstream)

	var buf bytes.Buffer
	logger := slog.New(logging.NewHandler(logging.WithWriter(&buf)))

	s := scheduler.New(gen, testConfig("1h", "5m"), scheduler.WithLogger(logger))

	err := s.Bootstrap(context.Background())
	require.ErrorIs(t, err, upstream)

	st := s.Status()
	assert.Equal(t, status.PhaseFailed, st.Phase)
	assert.Equal(t, "upstream timeout", st.Message)
	assert.Equal(t, 1, st.ConsecutiveFailures)
	assert.Nil(t, st.LastSuccess)
	assert.Contains(t, buf.String(), `"level":"ERROR","msg":"Dashboard generation failed"`)
}

func TestBootstrap_RecoversGeneratorPanic(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	gen := genmocks.NewMockGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any()).DoAndReturn(func(context.Context) (*generator.Result, error) {
		panic("renderer exploded")
	})

	s := scheduler.New(gen, testConfig("1h", "5m"), scheduler.WithLogger(discardLogger))

	err := s.Bootstrap(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "generator panicked: renderer exploded")
	assert.Equal(t, status.PhaseFailed, s.Status().Phase)
}

func TestStart_RetriesOnFixedBackoffAfterFailures(t *testing.T) {
	t.Parallel()

	const (
		retry    = 40 * time.Millisecond
		interval = 2 * time.Second
		failures = 3
	)

	gen := &scriptedGenerator{failures: failures}
	s := scheduler.New(gen, testConfig("2s", "40ms"), scheduler.WithLogger(discardLogger))

	// Bootstrap consumes the first failure; the loop then sleeps a full interval
	require.Error(t, s.Bootstrap(context.Background()))
	require.Equal(t, 1, s.Status().ConsecutiveFailures)

	errCh := startScheduler(t, s)

	require.Eventually(t, func() bool {
		return len(gen.Calls()) == failures+1
	}, interval+2*time.Second, 10*time.Millisecond)

	calls := gen.Calls()
	assert.GreaterOrEqual(t, calls[1].Sub(calls[0]), interval, "first loop run waits the regular interval")
	for i := 2; i < len(calls); i++ {
		gap := calls[i].Sub(calls[i-1])
		assert.GreaterOrEqual(t, gap, retry, "retry %d came too early", i)
		assert.Less(t, gap, retry+500*time.Millisecond, "retry %d came too late", i)
	}

	require.Eventually(t, func() bool {
		return s.Status().Phase == status.PhaseComplete && !s.NextRun().IsZero()
	}, time.Second, 5*time.Millisecond)
	st := s.Status()
	assert.Zero(t, st.ConsecutiveFailures)
	assert.WithinDuration(t, time.Now().Add(interval), s.NextRun(), 500*time.Millisecond,
		"success returns to the regular interval")

	// No extra run happens during the retry window once the streak is over
	time.Sleep(3 * retry)
	assert.Len(t, gen.Calls(), failures+1)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, <-errCh)
}

func TestStop_InterruptsSleep(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{}
	s := scheduler.New(gen, testConfig("1h", "5m"), scheduler.WithLogger(discardLogger))
	errCh := startScheduler(t, s)

	require.Eventually(t, func() bool {
		return !s.NextRun().IsZero()
	}, time.Second, 5*time.Millisecond)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.NextRun(), time.Minute)

	stopped := make(chan struct{})
	go func() {
		_ = s.Stop(context.Background())
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not interrupt the sleeping scheduler")
	}
	require.NoError(t, <-errCh)
	assert.Empty(t, gen.Calls())
}

func TestStop_CancelsInFlightGeneration(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	running := make(chan struct{})
	gen := genmocks.NewMockGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any()).DoAndReturn(func(ctx context.Context) (*generator.Result, error) {
		close(running)
		<-ctx.Done()
		return nil, ctx.Err()
	})

	s := scheduler.New(gen, testConfig("10ms", "10ms"), scheduler.WithLogger(discardLogger))
	errCh := startScheduler(t, s)

	<-running
	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, <-errCh)
}

func TestStop_AbandonsGenerationIgnoringContext(t *testing.T) {
	t.Parallel()
	ctrl := gomock.NewController(t)

	running := make(chan struct{})
	release := make(chan struct{})
	gen := genmocks.NewMockGenerator(ctrl)
	gen.EXPECT().Generate(gomock.Any()).DoAndReturn(func(context.Context) (*generator.Result, error) {
		close(running)
		<-release
		return nil, errors.New("analyzer hung")
	})

	s := scheduler.New(gen, testConfig("10ms", "10ms"), scheduler.WithLogger(discardLogger))
	errCh := startScheduler(t, s)
	<-running

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := s.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)

	// The abandoned loop still exits once the generator returns
	close(release)
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit after the generator returned")
	}
}

func TestStart_FailedBootstrapWaitsFullInterval(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{failures: 1}
	s := scheduler.New(gen, testConfig("1h", "10ms"), scheduler.WithLogger(discardLogger))

	require.Error(t, s.Bootstrap(context.Background()))
	errCh := startScheduler(t, s)

	require.Eventually(t, func() bool {
		return !s.NextRun().IsZero()
	}, time.Second, 5*time.Millisecond)
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.NextRun(), time.Minute,
		"the retry interval does not apply to a failed bootstrap")

	time.Sleep(100 * time.Millisecond)
	assert.Len(t, gen.Calls(), 1)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, <-errCh)
}

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()

	gen := &scriptedGenerator{}
	s := scheduler.New(gen, testConfig("10ms", "10ms"), scheduler.WithLogger(discardLogger))

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, s.Stop(context.Background()))

	done := make(chan error, 1)
	go func() { done <- s.Start(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Start after Stop should return immediately")
	}
	assert.Empty(t, gen.Calls())
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()

	s := scheduler.New(&scriptedGenerator{}, testConfig("1h", "5m"), scheduler.WithLogger(discardLogger))
	errCh := startScheduler(t, s)

	require.Eventually(t, func() bool {
		return !s.NextRun().IsZero()
	}, time.Second, 5*time.Millisecond)
	require.ErrorIs(t, s.Start(context.Background()), scheduler.ErrAlreadyStarted)

	require.NoError(t, s.Stop(context.Background()))
	require.NoError(t, <-errCh)
}

func TestStart_ParentContextCancellation(t *testing.T) {
	t.Parallel()

	s := scheduler.New(&scriptedGenerator{}, testConfig("1h", "5m"), scheduler.WithLogger(discardLogger))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start(ctx) }()

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after context cancellation")
	}
	require.NoError(t, s.Stop(context.Background()))
}

func TestStatusPersistence(t *testing.T) {
	t.Parallel()

	t.Run("saves transitions and restores the last success", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		persistence := status.NewFilePersistence(dir)

		first := scheduler.New(&scriptedGenerator{}, testConfig("1h", "5m"),
			scheduler.WithLogger(discardLogger),
			scheduler.WithStatusPersistence(persistence),
		)
		require.NoError(t, first.Bootstrap(context.Background()))

		saved, err := persistence.Load(context.Background())
		require.NoError(t, err)
		assert.Equal(t, status.PhaseComplete, saved.Phase)
		require.NotNil(t, saved.LastSuccess)

		// A restarted process whose bootstrap fails still reports the previous success
		second := scheduler.New(&scriptedGenerator{failures: 1}, testConfig("1h", "5m"),
			scheduler.WithLogger(discardLogger),
			scheduler.WithStatusPersistence(persistence),
		)
		require.Error(t, second.Bootstrap(context.Background()))

		st := second.Status()
		assert.Equal(t, status.PhaseFailed, st.Phase)
		require.NotNil(t, st.LastSuccess)
		assert.True(t, saved.LastSuccess.Equal(*st.LastSuccess))
		assert.Len(t, st.Assets, 2)
	})

	t.Run("save errors do not fail the generation", func(t *testing.T) {
		t.Parallel()
		ctrl := gomock.NewController(t)

		persistence := statusmocks.NewMockPersistence(ctrl)
		persistence.EXPECT().Load(gomock.Any()).Return(&status.GenerationStatus{}, nil)
		persistence.EXPECT().Save(gomock.Any(), gomock.Any()).Return(errors.New("read-only filesystem")).MinTimes(2)

		s := scheduler.New(&scriptedGenerator{}, testConfig("1h", "5m"),
			scheduler.WithLogger(discardLogger),
			scheduler.WithStatusPersistence(persistence),
		)
		require.NoError(t, s.Bootstrap(context.Background()))
		assert.Equal(t, status.PhaseComplete, s.Status().Phase)
	})
}

func TestGenerationTelemetry(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })
	metrics, err := telemetry.NewGenerationMetrics(mp)
	require.NoError(t, err)

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	gen := &scriptedGenerator{failures: 1}
	s := scheduler.New(gen, testConfig("1h", "5m"),
		scheduler.WithLogger(discardLogger),
		scheduler.WithMetrics(metrics),
		scheduler.WithTracer(tp.Tracer(telemetry.SchedulerTracerName)),
	)

	require.Error(t, s.Bootstrap(ctx))
	require.NoError(t, s.Bootstrap(ctx))

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, "dashboard.generate", spans[0].Name)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, codes.Ok, spans[1].Status.Code)
	assert.Contains(t, spans[1].Attributes, attribute.String("generation.trigger", scheduler.TriggerBootstrap))

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	outcomes := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "pivot_dashboard_generations_total" {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			for _, dp := range sum.DataPoints {
				outcome, _ := dp.Attributes.Value("outcome")
				outcomes[outcome.AsString()] += dp.Value
			}
		}
	}
	assert.Equal(t, map[string]int64{telemetry.OutcomeSuccess: 1, telemetry.OutcomeFailure: 1}, outcomes)
}

func TestStart_RetryAttemptsAreTraced(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(ctx) })

	gen := &scriptedGenerator{failures: 2}
	s := scheduler.New(gen, testConfig("20ms", "20ms"),
		scheduler.WithLogger(discardLogger),
		scheduler.WithTracer(tp.Tracer(telemetry.SchedulerTracerName)),
	)
	errCh := startScheduler(t, s)

	require.Eventually(t, func() bool {
		return s.Status().Phase == status.PhaseComplete
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, <-errCh)

	spans := exporter.GetSpans()
	require.GreaterOrEqual(t, len(spans), 3)
	triggers := make([]string, 0, 3)
	for _, span := range spans[:3] {
		for _, kv := range span.Attributes {
			if kv.Key == "generation.trigger" {
				triggers = append(triggers, kv.Value.AsString())
			}
		}
	}
	assert.Equal(t, []string{scheduler.TriggerScheduled, scheduler.TriggerRetry, scheduler.TriggerRetry}, triggers)
}
