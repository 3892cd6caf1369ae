// Package connwatch watches the health of the bot's external services
// (the model endpoint, mainly) and reports transitions.
//
// This is distinct from the per-request retries in llm and httpkit,
// which cover sub-second blips. A Watcher covers outages: a model server
// restarting or a GPU box being rebooted. It probes with exponential
// backoff at startup, then polls at a fixed interval and reports every
// ready/down transition to its callbacks and the event bus.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/nugget/terrarium-irc/internal/events"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls probe timing. Zero fields take the defaults
// from DefaultBackoffConfig.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	MaxRetries   int
	PollInterval time.Duration
	ProbeTimeout time.Duration
}

// DefaultBackoffConfig probes at 2s, 4s, 8s ... capped at 60s for ten
// startup attempts, then every 60s.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// WatcherConfig configures a single service watcher.
type WatcherConfig struct {
	Name    string
	Probe   ProbeFunc
	Backoff BackoffConfig

	// OnReady and OnDown run in their own goroutine on each transition.
	OnReady func()
	OnDown  func(err error)

	// Bus receives a KindHealth event on each transition. Optional.
	Bus    *events.Bus
	Logger *slog.Logger
}

// ServiceStatus is a snapshot of a watched service.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the last probe succeeded. A nil Watcher is
// always ready so callers without health checks need no guard.
func (w *Watcher) IsReady() bool {
	if w == nil {
		return true
	}
	return w.ready.Load()
}

// Status returns the current health snapshot.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()
	s := ServiceStatus{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Stop cancels the watcher and waits for it to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	cfg := w.config.Backoff
	logger := w.config.Logger

	attempts := 0
	backoff := retry.WithCappedDuration(cfg.MaxDelay,
		retry.WithMaxRetries(uint64(cfg.MaxRetries-1), retry.NewExponential(cfg.InitialDelay)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempts++
		if err := w.check(ctx); err != nil {
			logger.Debug("startup probe failed", "service", w.config.Name, "attempt", attempts, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		logger.Warn("service unreachable at startup, polling in background",
			"service", w.config.Name, "attempts", attempts, "error", err)
		w.transition(false, err)
	} else {
		logger.Info("service connected", "service", w.config.Name, "after_attempts", attempts)
	}

	ticker := time.NewTicker(cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.check(ctx); err != nil && !w.ready.Load() {
				logger.Debug("service still unreachable", "service", w.config.Name, "error", err)
			}
		}
	}
}

// check probes once, records the outcome and fires transitions.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()
	err := w.config.Probe(probeCtx)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()

	if ready := err == nil; ready != w.ready.Load() {
		w.transition(ready, err)
	}
	return err
}

func (w *Watcher) transition(ready bool, err error) {
	wasReady := w.ready.Swap(ready)
	data := map[string]any{"service": w.config.Name, "ready": ready}
	if err != nil {
		data["error"] = err.Error()
	}

	switch {
	case ready && !wasReady:
		w.config.Logger.Info("service ready", "service", w.config.Name)
		if w.config.OnReady != nil {
			go w.config.OnReady()
		}
	case !ready && wasReady:
		w.config.Logger.Warn("service became unreachable", "service", w.config.Name, "error", err)
		if w.config.OnDown != nil {
			go w.config.OnDown(err)
		}
	case !ready:
		// First failure after startup: nothing was up before, but
		// subscribers still need to hear about it.
	default:
		return
	}
	w.config.Bus.Emit(events.SourceModel, events.KindHealth, data)
}

// Manager owns a set of watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates a Manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch starts a watcher that runs until ctx is cancelled or Stop is
// called. It panics on an empty Name or nil Probe.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()
	return w
}

// Status returns a snapshot of every watched service.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Stop shuts down all watchers.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
