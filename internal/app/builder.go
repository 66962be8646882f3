package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/pivot-analyzer/pivot-dashboard/internal/artifact"
	"github.com/pivot-analyzer/pivot-dashboard/internal/config"
	"github.com/pivot-analyzer/pivot-dashboard/internal/generator"
	"github.com/pivot-analyzer/pivot-dashboard/internal/scheduler"
	"github.com/pivot-analyzer/pivot-dashboard/internal/server"
	"github.com/pivot-analyzer/pivot-dashboard/internal/status"
	"github.com/pivot-analyzer/pivot-dashboard/internal/telemetry"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = 15 * time.Second
	defaultIdleTimeout    = 60 * time.Second
)

// DashboardAppOptions is a function that configures the dashboard app builder
type DashboardAppOptions func(*dashboardAppConfig) error

// dashboardAppConfig collects the builder inputs.
// It supports dependency injection for testing while providing production defaults.
type dashboardAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	generator generator.Generator
	logger    *slog.Logger
	telemetry *telemetry.Telemetry

	// HTTP server options
	address        string
	adminAddress   string
	adminSet       bool
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...DashboardAppOptions) (*dashboardAppConfig, error) {
	cfg := &dashboardAppConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.address == "" {
		cfg.address = cfg.config.Address()
	}
	if !cfg.adminSet {
		cfg.adminAddress = cfg.config.GetAdminAddress()
	}
	if cfg.logger == nil {
		cfg.logger = slog.Default()
	}

	return cfg, nil
}

// NewDashboardApp wires the artifact store, generator, scheduler and HTTP
// servers described by the configuration
func NewDashboardApp(
	ctx context.Context,
	opts ...DashboardAppOptions,
) (*DashboardApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	store := artifact.NewStore(cfg.config.OutputDir, cfg.config.CacheDir)

	if cfg.generator == nil {
		cfg.generator, err = BuildGenerator(cfg.config, store, cfg.logger)
		switch {
		case errors.Is(err, config.ErrInvalidConfig):
			// Keep serving the existing content; every generation reports why
			cfg.logger.Warn("Dashboard generation disabled", "error", err)
			cfg.generator = generator.Unavailable(err)
		case err != nil:
			return nil, fmt.Errorf("failed to build generator: %w", err)
		}
	}

	sched, err := buildScheduler(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build scheduler: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	var adminServer *http.Server
	if cfg.adminAddress != "" {
		adminServer = buildAdminServer(cfg, store, sched)
	}

	appCtx, cancel := context.WithCancel(ctx)

	return &DashboardApp{
		config:      cfg.config,
		store:       store,
		scheduler:   sched,
		httpServer:  httpServer,
		adminServer: adminServer,
		logger:      cfg.logger,
		ready:       make(chan struct{}),
		ctx:         appCtx,
		cancelFunc:  cancel,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) DashboardAppOptions {
	return func(cfg *dashboardAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress overrides the content server address derived from the port
func WithAddress(addr string) DashboardAppOptions {
	return func(cfg *dashboardAppConfig) error {
		if err := validateAddress(addr); err != nil {
			return err
		}
		cfg.address = addr
		return nil
	}
}

// WithAdminAddress overrides the admin listener address. An empty address
// disables the admin listener.
func WithAdminAddress(addr string) DashboardAppOptions {
	return func(cfg *dashboardAppConfig) error {
		if addr != "" {
			if err := validateAddress(addr); err != nil {
				return err
			}
		}
		cfg.adminAddress = addr
		cfg.adminSet = true
		return nil
	}
}

// WithMiddlewares replaces the default content server middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) DashboardAppOptions {
	return func(cfg *dashboardAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithGenerator injects the generator run by the scheduler
func WithGenerator(gen generator.Generator) DashboardAppOptions {
	return func(cfg *dashboardAppConfig) error {
		cfg.generator = gen
		return nil
	}
}

// WithTelemetry enables metrics and tracing from an initialized Telemetry.
// The caller owns its shutdown.
func WithTelemetry(t *telemetry.Telemetry) DashboardAppOptions {
	return func(cfg *dashboardAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// WithLogger sets the logger shared by the scheduler and access log
func WithLogger(logger *slog.Logger) DashboardAppOptions {
	return func(cfg *dashboardAppConfig) error {
		cfg.logger = logger
		return nil
	}
}

func validateAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("address cannot be empty")
	}

	host, port, found := strings.Cut(addr, ":")
	if !found || port == "" {
		return fmt.Errorf("address is not a valid port: %s", addr)
	}
	if host == "localhost" {
		host = "127.0.0.1"
	}
	if host == "" {
		host = "0.0.0.0"
	}

	if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
		return fmt.Errorf("address is not a valid port: %w", err)
	}
	return nil
}

// BuildGenerator assembles the default pipeline: the configured analyzer
// command, the HTML renderer and the artifact store as publisher
func BuildGenerator(cfg *config.Config, store *artifact.Store, logger *slog.Logger) (generator.Generator, error) {
	if err := cfg.ValidateForGeneration(); err != nil {
		return nil, err
	}

	renderer, err := generator.NewHTMLRenderer()
	if err != nil {
		return nil, err
	}

	analyzer := generator.NewCommandAnalyzer(
		cfg.Analyzer.Command,
		cfg.Analyzer.Args,
		generator.WithTimeout(cfg.GetAnalyzerTimeout()),
	)

	return generator.NewPipeline(analyzer, renderer, store,
		generator.WithAssets(cfg.Assets...),
		generator.WithEducation(cfg.Education),
		generator.WithLogger(logger),
	), nil
}

func buildScheduler(b *dashboardAppConfig) (*scheduler.Scheduler, error) {
	opts := []scheduler.Option{
		scheduler.WithLogger(b.logger),
		scheduler.WithStatusPersistence(status.NewFilePersistence(b.config.CacheDir)),
	}

	if b.telemetry != nil {
		metrics, err := telemetry.NewGenerationMetrics(b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create generation metrics: %w", err)
		}
		opts = append(opts,
			scheduler.WithMetrics(metrics),
			scheduler.WithTracer(b.telemetry.Tracer(telemetry.SchedulerTracerName)),
		)
	}

	return scheduler.New(b.generator, b.config, opts...), nil
}

// buildHTTPServer builds the content server with router and middleware
func buildHTTPServer(b *dashboardAppConfig) (*http.Server, error) {
	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			server.AccessLog(b.logger),
			middleware.Recoverer,
			middleware.Timeout(b.requestTimeout),
		}
	}

	// Telemetry goes first so rejected and failed requests are still observed
	if b.telemetry != nil {
		inst, err := telemetry.NewHTTPInstrumentation(b.telemetry.MeterProvider(), b.telemetry.TracerProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP instrumentation: %w", err)
		}
		middlewares = append([]func(http.Handler) http.Handler{inst.Middleware}, middlewares...)
	}

	router := server.NewServer(b.config.OutputDir, server.WithMiddlewares(middlewares...))

	return &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}, nil
}

func buildAdminServer(b *dashboardAppConfig, store *artifact.Store, sched *scheduler.Scheduler) *http.Server {
	opts := []server.AdminOption{
		server.WithStatusProvider(sched),
		server.WithArtifactChecker(store),
		server.WithAdminMiddlewares(middleware.Recoverer),
	}
	if b.telemetry != nil {
		if h := b.telemetry.MetricsHandler(); h != nil {
			opts = append(opts, server.WithMetricsHandler(h))
		}
	}

	return &http.Server{
		Addr:         b.adminAddress,
		Handler:      server.NewAdminRouter(opts...),
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}
}
