// Package sqlengine is the reference query engine bound to sqlsource:
// it executes parameterized SQL text against its bound sources'
// pooled connections. Grounded on coreengine/runtime/runtime.go's
// agent-build pattern (resolving named dependencies out of a registry
// before construction), adapted from agent wiring to source wiring.
package sqlengine

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
	"github.com/halimchaibi/cheshire-core/internal/discovery"
	"github.com/halimchaibi/cheshire-core/internal/sources"
)

// Config names the engine and the sources it is bound to.
type Config struct {
	Name    string
	Sources []string
}

// Engine executes SQL text against one of its bound sources, chosen
// by the "source" key in the execution context map.
type Engine struct {
	mu     sync.RWMutex
	cfg    Config
	bound  map[string]sources.Source
	opened bool
}

// New constructs an Engine bound to the given sources, keyed by name.
func New(cfg Config, bound map[string]sources.Source) *Engine {
	return &Engine{cfg: cfg, bound: bound}
}

// Name returns the engine's declared name.
func (e *Engine) Name() string { return e.cfg.Name }

// Open marks the engine ready; it owns no resources of its own since
// its bound sources are opened by the source-provider manager.
func (e *Engine) Open(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = true
	return nil
}

// Close marks the engine as no longer accepting queries.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.opened = false
	return nil
}

// Execute runs query against the source named in execCtx["source"]
// (or the engine's sole bound source if there is exactly one),
// returning rows scanned into a slice of maps.
func (e *Engine) Execute(ctx context.Context, query string, execCtx map[string]any) (any, error) {
	e.mu.RLock()
	opened := e.opened
	e.mu.RUnlock()
	if !opened {
		return nil, cherr.New(cherr.KindConnection, "engine %q is not open", e.cfg.Name)
	}

	src, err := e.resolveSource(execCtx)
	if err != nil {
		return nil, err
	}

	var args []any
	if raw, ok := execCtx["args"].([]any); ok {
		args = raw
	}

	result, err := src.Execute(ctx, query, args...)
	if err != nil {
		return nil, cherr.Wrap(cherr.KindExecution, "engine="+e.cfg.Name, err)
	}
	rows, ok := result.(*sql.Rows)
	if !ok {
		return result, nil
	}
	defer rows.Close()
	return scanRows(rows)
}

func (e *Engine) resolveSource(execCtx map[string]any) (sources.Source, error) {
	if name, ok := execCtx["source"].(string); ok && name != "" {
		src, ok := e.bound[name]
		if !ok {
			return nil, cherr.New(cherr.KindBadRequest, "engine %q: source %q is not bound", e.cfg.Name, name)
		}
		return src, nil
	}
	if len(e.bound) == 1 {
		for _, src := range e.bound {
			return src, nil
		}
	}
	return nil, cherr.New(cherr.KindBadRequest, "engine %q: execution context must name a bound source", e.cfg.Name)
}

func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, cherr.Wrap(cherr.KindExecution, "columns", err)
	}
	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, cherr.Wrap(cherr.KindExecution, "scan", err)
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Validate reports whether query starts with SELECT, ignoring case
// and leading whitespace; the rest of the statement is not checked.
// Engines return a boolean from Validate and reserve errors for
// Execute, per the framework's validate/execute error-handling
// convention.
func (e *Engine) Validate(query string) bool {
	trimmed := strings.TrimSpace(strings.ToUpper(query))
	return strings.HasPrefix(trimmed, "SELECT")
}

// Explain returns a human-readable description of how query would run.
func (e *Engine) Explain(query string) string {
	return "sequential scan: " + query
}

// SupportsStreaming reports that this reference engine returns
// complete result sets rather than incremental fragments.
func (e *Engine) SupportsStreaming() bool { return false }

// Factory adapts raw EngineSpec maps into Config, binds the resolved
// source instances, and creates Engines.
func Factory(resolveBound func(names []string) (map[string]sources.Source, error)) discovery.QueryEngineFactory {
	return discovery.QueryEngineFactory{
		ConfigType: "sqlengine.Config",
		Adapter: func(raw map[string]any) (any, error) {
			var names []string
			if raw, ok := raw["sources"].([]string); ok {
				names = raw
			}
			name, _ := raw["name"].(string)
			return Config{Name: name, Sources: names}, nil
		},
		Validate: func(config any) error {
			cfg, ok := config.(Config)
			if !ok {
				return cherr.New(cherr.KindInternal, "sqlengine.validate: unexpected config type %T", config)
			}
			if len(cfg.Sources) == 0 {
				return cherr.New(cherr.KindConfiguration, "sqlengine: must reference at least one source")
			}
			return nil
		},
		Create: func(config any, sourceConfigs map[string]any) (any, error) {
			cfg, ok := config.(Config)
			if !ok {
				return nil, cherr.New(cherr.KindInternal, "sqlengine.create: unexpected config type %T", config)
			}
			bound, err := resolveBound(cfg.Sources)
			if err != nil {
				return nil, err
			}
			return New(cfg, bound), nil
		},
	}
}
