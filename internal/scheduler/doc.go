// Package scheduler keeps the dashboard artifact fresh.
//
// The scheduler runs one synchronous generation at startup (Bootstrap) and
// then a background loop (Start) that alternates between three states:
//
//   - Sleeping: wait the regeneration interval
//   - Generating: invoke the generator once
//   - Backoff: after a failure, wait the retry interval instead
//
// The Generating and Backoff states are driven by backoff.Retry with a
// constant backoff, so a failure streak ends only with a success or shutdown.
// The first loop run always waits the regeneration interval, including after
// a failed bootstrap.
//
// Failures never stop the loop. The previously published artifact stays in
// place until a later generation succeeds, and the retry delay is fixed: it
// does not grow with repeated failures.
//
// # Lifecycle
//
//	s := scheduler.New(gen, cfg, scheduler.WithLogger(logger))
//	if err := s.Bootstrap(ctx); err != nil {
//	    logger.Warn("Serving existing content", "error", err)
//	}
//	go func() { _ = s.Start(ctx) }()
//	...
//	_ = s.Stop(shutdownCtx)
//
// Stop cancels the context handed to an in-flight generation and waits for
// the loop to return. A generator that ignores its context is abandoned
// once shutdownCtx expires.
//
// # Status
//
// Status and NextRun return snapshots safe for concurrent use. When a
// status.Persistence is configured, every phase transition is saved so the
// last outcome survives restarts.
package scheduler
