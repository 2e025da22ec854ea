package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/psantana5/secprof/pkg/logging"
)

type hook struct {
	name string
	fn   func(context.Context) error
}

// Manager handles graceful shutdown
type Manager struct {
	hooks   []hook
	mu      sync.Mutex
	timeout time.Duration
	logger  *logging.Logger
	done    chan struct{}
	once    sync.Once
}

// New creates a new shutdown manager
func New(timeout time.Duration, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Manager{
		timeout: timeout,
		logger:  logger,
		done:    make(chan struct{}),
	}
}

// Register adds a shutdown function.
// Functions are called in reverse order (LIFO)
func (m *Manager) Register(name string, fn func(context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, hook{name: name, fn: fn})
}

// Done returns a channel that is closed when shutdown is initiated
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Shutdown runs every registered function once, newest first, and returns
// the joined errors. Later calls are no-ops.
func (m *Manager) Shutdown() error {
	var errs []error
	m.once.Do(func() {
		close(m.done)

		m.mu.Lock()
		hooks := m.hooks
		m.hooks = nil
		m.mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()

		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			if err := h.fn(ctx); err != nil {
				m.logger.Error("Shutdown step failed", map[string]interface{}{
					"step":  h.name,
					"error": err.Error(),
				})
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
				continue
			}
			m.logger.Debug("Shutdown step complete", map[string]interface{}{"step": h.name})
		}
		m.logger.Info("Graceful shutdown complete")
	})
	return errors.Join(errs...)
}

// WaitWithContext blocks until SIGINT/SIGTERM or ctx cancellation and then
// runs Shutdown. It returns ctx.Err() when the context ended the wait.
func (m *Manager) WaitWithContext(ctx context.Context) error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		m.logger.Info("Received signal, initiating graceful shutdown", map[string]interface{}{
			"signal": sig.String(),
		})
		return m.Shutdown()
	case <-ctx.Done():
		if err := m.Shutdown(); err != nil {
			return errors.Join(ctx.Err(), err)
		}
		return ctx.Err()
	}
}

// StopHTTPServer creates a shutdown function for http.Server
func StopHTTPServer(server interface{ Shutdown(context.Context) error }) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop HTTP server: %w", err)
		}
		return nil
	}
}

// PublishReport creates a shutdown function that hands the final report to
// the publisher's sink.
func PublishReport(p interface{ Publish(string) error }, label string) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := p.Publish(label); err != nil {
			return fmt.Errorf("failed to publish final report: %w", err)
		}
		return nil
	}
}

// CloseResource creates a shutdown function for io.Closer
func CloseResource(closer interface{ Close() error }) func(context.Context) error {
	return func(ctx context.Context) error {
		return closer.Close()
	}
}
