// Package app provides application lifecycle management for the dashboard server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/pivot-analyzer/pivot-dashboard/internal/artifact"
	"github.com/pivot-analyzer/pivot-dashboard/internal/config"
	"github.com/pivot-analyzer/pivot-dashboard/internal/scheduler"
	"github.com/pivot-analyzer/pivot-dashboard/internal/server"
)

// DashboardApp encapsulates the content server, the optional admin server
// and the regeneration scheduler that feeds them
type DashboardApp struct {
	config      *config.Config
	store       *artifact.Store
	scheduler   *scheduler.Scheduler
	httpServer  *http.Server
	adminServer *http.Server
	logger      *slog.Logger

	addrMu    sync.RWMutex
	addr      net.Addr
	adminAddr net.Addr
	ready     chan struct{}

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start prepares the output directory, runs the bootstrap generation, binds
// the listeners and then serves until Stop is called. Only directory and
// bind failures are returned; a failed bootstrap generation is logged and
// the existing content is served.
func (app *DashboardApp) Start() error {
	if err := app.store.EnsureLayout(); err != nil {
		return err
	}

	created, err := app.store.EnsurePlaceholder()
	if err != nil {
		return err
	}
	if created {
		app.logger.Info("Placeholder dashboard written", "path", app.store.Path(artifact.CanonicalName))
	}

	app.logger.Info("Running initial dashboard generation")
	if err := app.scheduler.Bootstrap(app.ctx); err != nil {
		app.logger.Warn("Initial generation failed, serving existing content", "error", err)
	}

	ln, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}

	var adminLn net.Listener
	if app.adminServer != nil {
		adminLn, err = net.Listen("tcp", app.adminServer.Addr)
		if err != nil {
			_ = ln.Close()
			return fmt.Errorf("failed to listen on admin address %s: %w", app.adminServer.Addr, err)
		}
	}

	app.addrMu.Lock()
	app.addr = ln.Addr()
	if adminLn != nil {
		app.adminAddr = adminLn.Addr()
	}
	app.addrMu.Unlock()

	go func() {
		if err := app.scheduler.Start(app.ctx); err != nil {
			app.logger.Error("Regeneration scheduler failed", "error", err)
		}
	}()

	if adminLn != nil {
		go func() {
			app.logger.Info("Admin server listening", "address", adminLn.Addr().String())
			if err := app.adminServer.Serve(adminLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				app.logger.Error("Admin server failed", "error", err)
			}
		}()
	}

	app.logBanner(ln.Addr())
	close(app.ready)

	// Start HTTP server (blocks until stopped)
	if err := app.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

func (app *DashboardApp) logBanner(addr net.Addr) {
	port := app.config.Port
	if tcp, ok := addr.(*net.TCPAddr); ok {
		port = tcp.Port
	}
	app.logger.Info("Content server listening", "address", addr.String())
	app.logger.Info("Dashboard available",
		"url", fmt.Sprintf("http://localhost:%d%s", port, server.DashboardPath))
	app.logger.Info("Dashboard regenerates periodically",
		"interval", app.config.GetRegenerationInterval().String(),
		"retry_interval", app.config.GetRetryInterval().String())
	app.logger.Info("Press Ctrl+C to stop")
}

// Stop gracefully stops the application within timeout. The scheduler is
// given until the deadline to finish an in-flight generation and is
// abandoned after that; the HTTP servers are shut down either way.
func (app *DashboardApp) Stop(timeout time.Duration) error {
	app.logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := app.scheduler.Stop(shutdownCtx); err != nil {
		app.logger.Error("Failed to stop regeneration scheduler", "error", err)
	}

	// Cancel the application context
	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	var errs []error
	if app.adminServer != nil {
		if err := app.adminServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("admin server forced to shutdown: %w", err))
		}
	}
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	app.logger.Info("Server shutdown complete")
	return nil
}

// Ready is closed once the listeners are bound and the scheduler is running
func (app *DashboardApp) Ready() <-chan struct{} {
	return app.ready
}

// Addr returns the bound content server address, nil before Start binds
func (app *DashboardApp) Addr() net.Addr {
	app.addrMu.RLock()
	defer app.addrMu.RUnlock()
	return app.addr
}

// AdminAddr returns the bound admin address, nil when disabled or not yet bound
func (app *DashboardApp) AdminAddr() net.Addr {
	app.addrMu.RLock()
	defer app.addrMu.RUnlock()
	return app.adminAddr
}

// GetConfig returns the application configuration
func (app *DashboardApp) GetConfig() *config.Config {
	return app.config
}

// GetScheduler returns the regeneration scheduler
func (app *DashboardApp) GetScheduler() *scheduler.Scheduler {
	return app.scheduler
}
