// Package lifecycle collects the cleanup steps of the process (engine,
// redo queue, status server) and runs them exactly once, whether the run
// finished normally, aborted, or was interrupted by a signal.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// CloseFunc releases one resource.
type CloseFunc func(ctx context.Context) error

type hook struct {
	name string
	fn   CloseFunc
}

// Manager runs registered cleanup hooks in reverse registration order.
type Manager struct {
	logger *slog.Logger

	mu     sync.Mutex
	hooks  []hook
	closed bool

	once sync.Once
	err  error
}

// NewManager creates an empty Manager.
func NewManager(logger *slog.Logger) *Manager {
	return &Manager{logger: logger.With("component", "lifecycle")}
}

// Register adds a cleanup hook. Hooks registered after Shutdown has started
// run immediately.
func (m *Manager) Register(name string, fn CloseFunc) {
	m.mu.Lock()
	if !m.closed {
		m.hooks = append(m.hooks, hook{name: name, fn: fn})
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.logger.Warn("hook registered after shutdown, running now", "hook", name)
	if err := fn(context.Background()); err != nil {
		m.logger.Error("cleanup failed", "hook", name, "error", err)
	}
}

// Shutdown runs every hook once, last registered first, and returns the
// joined errors. Later calls return the same result without running
// anything.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.mu.Lock()
		m.closed = true
		hooks := m.hooks
		m.hooks = nil
		m.mu.Unlock()

		var errs []error
		for i := len(hooks) - 1; i >= 0; i-- {
			h := hooks[i]
			if err := h.fn(ctx); err != nil {
				m.logger.Error("cleanup failed", "hook", h.name, "error", err)
				errs = append(errs, fmt.Errorf("%s: %w", h.name, err))
				continue
			}
			m.logger.Debug("cleanup done", "hook", h.name)
		}
		m.err = errors.Join(errs...)
	})
	return m.err
}
