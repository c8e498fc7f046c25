// Package process provides process management utilities
package process

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/poltergeist/conveyor/pkg/logger"
)

// Manager turns termination signals into an orderly shutdown. The first
// signal runs the registered shutdown handlers; a second one exits at once.
type Manager struct {
	logger           logger.Logger
	shutdownHandlers []func()

	heartbeatFunc     func()
	heartbeatInterval time.Duration

	// replaced in tests
	notify func(c chan<- os.Signal, sig ...os.Signal)
	stop   func(c chan<- os.Signal)
	exit   func(code int)

	quit    chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool
}

// NewManager creates a new process manager
func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.Discard()
	}
	return &Manager{
		logger:           log,
		shutdownHandlers: make([]func(), 0),
		notify:           signal.Notify,
		stop:             signal.Stop,
		exit:             os.Exit,
	}
}

// RegisterShutdownHandler adds a shutdown handler. Handlers run in reverse
// registration order.
func (m *Manager) RegisterShutdownHandler(handler func()) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.shutdownHandlers = append(m.shutdownHandlers, handler)
}

// SetHeartbeat runs fn every interval while the manager is running
func (m *Manager) SetHeartbeat(interval time.Duration, fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.heartbeatInterval = interval
	m.heartbeatFunc = fn
}

// Start begins listening for signals until ctx is done or Stop is called
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.quit = make(chan struct{})
	quit := m.quit
	heartbeat, interval := m.heartbeatFunc, m.heartbeatInterval
	m.mu.Unlock()

	sigChan := make(chan os.Signal, 2)
	m.notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer m.stop(sigChan)

		shuttingDown := false
		for {
			select {
			case <-ctx.Done():
				return
			case <-quit:
				return
			case sig := <-sigChan:
				if shuttingDown {
					m.logger.Warn("Received second signal, exiting", logger.WithField("signal", sig))
					m.exit(130)
					return
				}
				shuttingDown = true
				m.logger.Info("Received signal", logger.WithField("signal", sig))
				m.handleShutdown()
			}
		}
	}()

	if heartbeat != nil && interval > 0 {
		m.startHeartbeat(ctx, quit, interval, heartbeat)
	}
}

// Stop stops listening and waits for the manager's goroutines
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.quit)
	m.mu.Unlock()

	m.wg.Wait()
}

// IsRunning checks if the process manager is running
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

func (m *Manager) handleShutdown() {
	m.logger.Info("Initiating graceful shutdown...")

	m.mu.Lock()
	handlers := make([]func(), len(m.shutdownHandlers))
	copy(handlers, m.shutdownHandlers)
	m.mu.Unlock()

	for i := len(handlers) - 1; i >= 0; i-- {
		handlers[i]()
	}
}

func (m *Manager) startHeartbeat(ctx context.Context, quit <-chan struct{}, interval time.Duration, fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}
