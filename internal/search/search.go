// Package search provides the web search capability behind the
// web_search tool.
//
// Each backend implements [Provider] and is registered by name. The
// [Manager] routes a query to the primary backend and falls back to the
// others, in registration order, when the primary fails.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotConfigured is returned when no provider is registered.
var ErrNotConfigured = errors.New("web search is not configured")

// DefaultCount is the number of results returned when Options.Count is
// unset.
const DefaultCount = 5

// MaxCount caps Options.Count.
const MaxCount = 10

// A provider that refuses the connection (a local SearXNG restarting,
// say) is retried briefly before the manager falls back.
const (
	dialRetries    = 2
	dialRetryDelay = 500 * time.Millisecond
)

// Result is a single search result with markup already removed.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet,omitempty"`
}

// Options are optional parameters for a search query.
type Options struct {
	// Count is the maximum number of results. Zero means DefaultCount.
	Count int `json:"count,omitempty"`

	// Language is an ISO 639-1 code such as "en".
	Language string `json:"language,omitempty"`
}

func (o Options) count() int {
	switch {
	case o.Count <= 0:
		return DefaultCount
	case o.Count > MaxCount:
		return MaxCount
	default:
		return o.Count
	}
}

// Provider is a search backend.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string, opts Options) ([]Result, error)
}

// Manager holds the configured providers.
type Manager struct {
	providers map[string]Provider
	order     []string
	primary   string
	logger    *slog.Logger
}

// NewManager creates a manager that prefers the provider named primary.
func NewManager(primary string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		providers: make(map[string]Provider),
		primary:   primary,
		logger:    logger,
	}
}

// Register adds a provider. Registering the same name twice replaces
// the earlier provider but keeps its position.
func (m *Manager) Register(p Provider) {
	if _, ok := m.providers[p.Name()]; !ok {
		m.order = append(m.order, p.Name())
	}
	m.providers[p.Name()] = p
}

// Configured reports whether at least one provider is registered.
func (m *Manager) Configured() bool {
	return m != nil && len(m.providers) > 0
}

// Providers returns the registered provider names in registration order.
func (m *Manager) Providers() []string {
	return append([]string(nil), m.order...)
}

// Search runs query against the primary provider, then each remaining
// provider until one succeeds. The returned name identifies the
// provider that answered.
func (m *Manager) Search(ctx context.Context, query string, opts Options) ([]Result, string, error) {
	if !m.Configured() {
		return nil, "", ErrNotConfigured
	}
	opts.Count = opts.count()

	var errs []error
	for _, name := range m.candidates() {
		results, err := m.providers[name].Search(ctx, query, opts)
		if err == nil {
			if len(results) > opts.Count {
				results = results[:opts.Count]
			}
			return results, name, nil
		}
		if ctx.Err() != nil {
			return nil, name, err
		}
		m.logger.Warn("search provider failed", "provider", name, "error", err)
		errs = append(errs, err)
	}
	return nil, "", fmt.Errorf("all search providers failed: %w", errors.Join(errs...))
}

func (m *Manager) candidates() []string {
	names := make([]string, 0, len(m.order))
	if _, ok := m.providers[m.primary]; ok {
		names = append(names, m.primary)
	}
	for _, n := range m.order {
		if n != m.primary {
			names = append(names, n)
		}
	}
	return names
}
