// Package shutdown provides graceful shutdown handling.
package shutdown

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"
)

// CleanupFunc is a function called during shutdown.
type CleanupFunc func(ctx context.Context) error

type cleanup struct {
	name string
	fn   CleanupFunc
}

// Handler manages graceful shutdown of multiple components.
type Handler struct {
	logger   *slog.Logger
	timeout  time.Duration
	cleanups []cleanup
	mu       sync.Mutex
}

// New creates a new shutdown handler.
func New(logger *slog.Logger, timeout time.Duration) *Handler {
	return &Handler{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a named cleanup function. Cleanups run in LIFO order
// (last registered, first called).
func (h *Handler) Register(name string, fn CleanupFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cleanups = append(h.cleanups, cleanup{name: name, fn: fn})
}

// Wait blocks until a shutdown signal is received, then performs cleanup.
func (h *Handler) Wait() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	sig := <-quit
	h.logger.Info("received shutdown signal", "signal", sig.String())

	h.Shutdown()
}

// Shutdown runs all registered cleanups in reverse registration order,
// bounded by the handler timeout.
func (h *Handler) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	cleanups := make([]cleanup, len(h.cleanups))
	copy(cleanups, h.cleanups)
	h.mu.Unlock()

	for i := len(cleanups) - 1; i >= 0; i-- {
		c := cleanups[i]
		select {
		case <-ctx.Done():
			h.logger.Warn("shutdown timed out, skipping remaining cleanups",
				"remaining", i+1,
			)
			return
		default:
		}

		h.logger.Info("shutting down component", "component", c.name)
		if err := c.fn(ctx); err != nil {
			h.logger.Error("error shutting down component",
				"component", c.name,
				"error", err,
			)
			continue
		}
		h.logger.Info("component shut down", "component", c.name)
	}

	h.logger.Info("graceful shutdown completed")
}

// ListenAndShutdown starts listening for signals in a goroutine and returns
// a channel that is closed when shutdown is complete.
func (h *Handler) ListenAndShutdown() <-chan struct{} {
	done := make(chan struct{})

	go func() {
		h.Wait()
		close(done)
	}()

	return done
}
