// Package app runs a service under signal-driven cancellation and tears down its
// resources in reverse order of acquisition.
package app

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

type Runner struct {
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	closers []namedCloser
}

type namedCloser struct {
	name string
	fn   func(context.Context) error
}

func NewRunner(logger *slog.Logger, shutdownTimeout time.Duration) *Runner {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 15 * time.Second
	}
	return &Runner{logger: logger, timeout: shutdownTimeout}
}

// OnShutdown registers fn to run after the main function returns. Closers run last
// registered first.
func (r *Runner) OnShutdown(name string, fn func(context.Context) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closers = append(r.closers, namedCloser{name: name, fn: fn})
}

// Closer adapts an io.Closer-style Close for OnShutdown.
func Closer(close func() error) func(context.Context) error {
	return func(context.Context) error { return close() }
}

// Run calls fn with a context cancelled on SIGINT/SIGTERM, then runs the closers.
func (r *Runner) Run(fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return r.run(ctx, fn)
}

func (r *Runner) run(ctx context.Context, fn func(ctx context.Context) error) error {
	r.logger.Info("Service starting")
	runErr := fn(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		r.logger.Error("Service stopped with error", "error", runErr)
	} else {
		runErr = nil
		r.logger.Info("Shutdown signal received, cleaning up")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	r.mu.Lock()
	closers := r.closers
	r.closers = nil
	r.mu.Unlock()

	var errs []error
	for i := len(closers) - 1; i >= 0; i-- {
		c := closers[i]
		if err := c.fn(shutdownCtx); err != nil {
			r.logger.Error("Shutdown step failed", "step", c.name, "error", err)
			errs = append(errs, err)
		}
	}

	r.logger.Info("Service shutdown complete")
	return errors.Join(append([]error{runErr}, errs...)...)
}
