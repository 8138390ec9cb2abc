// Package sqlsource is the reference relational-database Source,
// demonstrating the "initially relational databases" scope note from
// the framework's purpose statement. It wraps database/sql bound to
// the lib/pq Postgres driver; connection pooling is handled entirely
// by *sql.DB and never touched by the source-provider manager.
package sqlsource

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/lib/pq"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
	"github.com/halimchaibi/cheshire-core/internal/discovery"
)

// Config is sqlsource's typed configuration, produced by Adapter from
// a SourceSpec's raw connectionOpts/poolOpts maps.
type Config struct {
	DSN         string
	MaxOpenConn int
	MaxIdleConn int
}

// Source is a database/sql-backed Source.
type Source struct {
	mu     sync.RWMutex
	cfg    Config
	db     *sql.DB
	opened bool
}

// New constructs an unopened Source from cfg.
func New(cfg Config) *Source {
	return &Source{cfg: cfg}
}

// Open establishes the connection pool. Idempotent: calling it again
// while already open is a no-op success.
func (s *Source) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.opened {
		return nil
	}
	db, err := sql.Open("postgres", s.cfg.DSN)
	if err != nil {
		return cherr.Wrap(cherr.KindConnection, "dsn", err)
	}
	if s.cfg.MaxOpenConn > 0 {
		db.SetMaxOpenConns(s.cfg.MaxOpenConn)
	}
	if s.cfg.MaxIdleConn > 0 {
		db.SetMaxIdleConns(s.cfg.MaxIdleConn)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return cherr.Wrap(cherr.KindConnection, "ping", err)
	}
	s.db = db
	s.opened = true
	return nil
}

// Close releases the pool. Idempotent.
func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.opened {
		return nil
	}
	s.opened = false
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return cherr.Wrap(cherr.KindConnection, "close", err)
	}
	return nil
}

// IsOpen reports whether the source currently holds an open pool.
func (s *Source) IsOpen() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.opened
}

// Config returns the source's configuration as a plain map, for
// introspection/debug snapshots.
func (s *Source) Config() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]any{
		"maxOpenConn": s.cfg.MaxOpenConn,
		"maxIdleConn": s.cfg.MaxIdleConn,
	}
}

// Execute runs query against the pool, returning *sql.Rows as the
// opaque result; engines bound to this source know how to consume it.
func (s *Source) Execute(ctx context.Context, query string, args ...any) (any, error) {
	s.mu.RLock()
	db, opened := s.db, s.opened
	s.mu.RUnlock()
	if !opened {
		return nil, cherr.New(cherr.KindConnection, "source is not open")
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cherr.Wrap(cherr.KindExecution, "query", err)
	}
	return rows, nil
}

// Factory adapts raw SourceSpec maps into Config, validates them, and
// creates Sources — the discovery.SourceProviderFactory this package
// registers itself under.
func Factory() discovery.SourceProviderFactory {
	return discovery.SourceProviderFactory{
		ConfigType: "sqlsource.Config",
		Adapter:    adapt,
		Validate:   validate,
		Create:     create,
	}
}

func adapt(raw map[string]any) (any, error) {
	conn, _ := raw["connectionOpts"].(map[string]any)
	pool, _ := raw["poolOpts"].(map[string]any)

	dsn, _ := conn["dsn"].(string)
	cfg := Config{DSN: dsn}
	if v, ok := pool["maxOpenConn"].(int); ok {
		cfg.MaxOpenConn = v
	}
	if v, ok := pool["maxIdleConn"].(int); ok {
		cfg.MaxIdleConn = v
	}
	return cfg, nil
}

func validate(config any) error {
	cfg, ok := config.(Config)
	if !ok {
		return cherr.New(cherr.KindInternal, "sqlsource.validate: unexpected config type %T", config)
	}
	if cfg.DSN == "" {
		return cherr.New(cherr.KindConfiguration, "sqlsource: connectionOpts.dsn is required")
	}
	return nil
}

func create(config any) (any, error) {
	cfg, ok := config.(Config)
	if !ok {
		return nil, fmt.Errorf("sqlsource.create: unexpected config type %T", config)
	}
	return New(cfg), nil
}
