package store

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/dmitrijs2005/chaincache/internal/common"
	"github.com/dmitrijs2005/chaincache/internal/logging"
)

const driverName = "sqlite"

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA synchronous=NORMAL",
}

// Store is a versioned document database. The zero value is not usable; build
// one with New and open it with Initialize.
type Store struct {
	dsn    string
	schema Schema
	log    logging.Logger

	mu          sync.RWMutex
	db          *sql.DB
	collections map[string]*Collection
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for lifecycle events.
func WithLogger(l logging.Logger) Option {
	return func(s *Store) { s.log = l }
}

// New returns an unopened Store for the database at dsn (a file path or
// ":memory:") laid out according to schema.
func New(dsn string, schema Schema, opts ...Option) *Store {
	s := &Store{dsn: dsn, schema: schema, log: logging.Nop()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "store", "database", schema.Name)
	return s
}

// Schema returns the layout the store was built with.
func (s *Store) Schema() Schema {
	return s.schema
}

// Initialize opens the database and brings it to the schema version. Calling
// it on an open store is a no-op.
func (s *Store) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db != nil {
		return nil
	}
	if err := s.schema.Validate(); err != nil {
		return err
	}

	db, err := sql.Open(driverName, s.dsn)
	if err != nil {
		return fmt.Errorf("%w: open %q: %w", common.ErrStorageUnavailable, s.dsn, err)
	}
	// A single connection keeps ":memory:" databases alive across calls and
	// serializes writers the way SQLite wants anyway.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("%w: open %q: %w", common.ErrStorageUnavailable, s.dsn, err)
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			_ = db.Close()
			return fmt.Errorf("%w: %s: %w", common.ErrStorageUnavailable, p, err)
		}
	}

	if err := s.migrate(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.collections = make(map[string]*Collection, len(s.schema.Collections))
	for i := range s.schema.Collections {
		c := s.schema.Collections[i]
		s.collections[c.Name] = &c
	}
	s.db = db
	return nil
}

// migrate runs the schema migration when the stored version is older than
// the requested one.
func (s *Store) migrate(ctx context.Context, db *sql.DB) error {
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, nil,
		goose.WithGoMigrations(
			goose.NewGoMigration(s.schema.Version, &goose.GoFunc{RunTx: s.upgrade}, nil),
		),
	)
	if err != nil {
		return fmt.Errorf("%w: %w", common.ErrSchemaUpgrade, err)
	}

	current, err := provider.GetDBVersion(ctx)
	if err != nil {
		return fmt.Errorf("%w: read version: %w", common.ErrSchemaUpgrade, err)
	}
	if current > s.schema.Version {
		return fmt.Errorf("%w: requested version %d is older than stored version %d",
			common.ErrSchemaUpgrade, s.schema.Version, current)
	}
	if current == s.schema.Version {
		s.log.Debug(ctx, "schema up to date", "version", current)
		return nil
	}

	if _, err := provider.Up(ctx); err != nil {
		return fmt.Errorf("%w: %d -> %d: %w", common.ErrSchemaUpgrade, current, s.schema.Version, err)
	}
	s.log.Info(ctx, "schema upgraded", "from", current, "to", s.schema.Version)
	return nil
}

// upgrade creates every collection and index of the schema. Statements are
// idempotent so an upgrade over an older layout only adds what is missing.
func (s *Store) upgrade(ctx context.Context, tx *sql.Tx) error {
	for i := range s.schema.Collections {
		c := &s.schema.Collections[i]
		if _, err := tx.ExecContext(ctx, c.createTableSQL()); err != nil {
			return fmt.Errorf("create collection %q: %w", c.Name, err)
		}
		for _, idx := range c.Indexes {
			if _, err := tx.ExecContext(ctx, c.createIndexSQL(idx)); err != nil {
				return fmt.Errorf("create index %q on %q: %w", idx.Name, c.Name, err)
			}
		}
	}
	return nil
}

// Version returns the schema version stored in the database.
func (s *Store) Version(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return 0, common.ErrNotInitialized
	}
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(version_id), 0) FROM goose_db_version WHERE is_applied = 1`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("%w: read version: %w", common.ErrOperationFailed, err)
	}
	return v, nil
}

// Close releases the connection. Operations fail with ErrNotInitialized until
// Initialize is called again.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	s.collections = nil
	if err != nil {
		return fmt.Errorf("%w: close: %w", common.ErrOperationFailed, err)
	}
	return nil
}

// acquire read-locks the store and resolves the collection. The caller must
// call the returned release func.
func (s *Store) acquire(name string) (*sql.DB, *Collection, func(), error) {
	s.mu.RLock()
	if s.db == nil {
		s.mu.RUnlock()
		return nil, nil, nil, common.ErrNotInitialized
	}
	c, ok := s.collections[name]
	if !ok {
		s.mu.RUnlock()
		return nil, nil, nil, fmt.Errorf("%w: %q", common.ErrCollectionNotFound, name)
	}
	return s.db, c, s.mu.RUnlock, nil
}
