package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrijs2005/chaincache/internal/logging"
	"github.com/dmitrijs2005/chaincache/internal/store"
)

// Manager is the domain cache. It is safe for concurrent use.
type Manager struct {
	store *store.Store
	log   logging.Logger
	now   func() time.Time
	id    string

	initMu      sync.Mutex
	initialized bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger for the manager and its store.
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// New returns a Manager for the database at dsn. Call Initialize before use.
func New(dsn string, opts ...Option) *Manager {
	m := &Manager{
		log: logging.Nop(),
		now: time.Now,
		id:  uuid.NewString(),
	}
	for _, o := range opts {
		o(m)
	}
	m.log = m.log.With("component", "cache", "manager_id", m.id)
	m.store = store.New(dsn, DefaultSchema(), store.WithLogger(m.log))
	return m
}

// ID identifies this manager instance in logs.
func (m *Manager) ID() string {
	return m.id
}

// Initialize opens the store once and sweeps expired entries. Concurrent and
// repeated calls are no-ops after the first success. A failure is returned as
// is; a later call tries again.
func (m *Manager) Initialize(ctx context.Context) error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	if m.initialized {
		return nil
	}
	if err := m.store.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize cache: %w", err)
	}
	m.initialized = true

	// Best effort: a failed sweep leaves stale rows that the read path
	// still treats as absent.
	removed, err := m.CleanupExpiredCache(ctx)
	if err != nil {
		m.log.Warn(ctx, "expired cache cleanup failed", "error", err)
	} else if removed > 0 {
		m.log.Info(ctx, "expired cache entries removed", "count", removed)
	}
	return nil
}

// Close releases the store. Initialize may be called again afterwards.
func (m *Manager) Close() error {
	m.initMu.Lock()
	defer m.initMu.Unlock()

	m.initialized = false
	return m.store.Close()
}

// SchemaVersion returns the stored schema version.
func (m *Manager) SchemaVersion(ctx context.Context) (int64, error) {
	return m.store.Version(ctx)
}
