// Package engines implements the query-engine manager. Structurally
// the same as internal/sources' manager, but with two extra
// resolution steps per spec §4.6: the raw adapter input is enriched
// with the resolved configs of the engine's referenced sources, and
// the created engine's own declared name must equal its spec key.
// Grounded on the teacher's ServiceRegistry registration shape
// (coreengine/kernel/services.go).
package engines

import (
	"context"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
	"github.com/halimchaibi/cheshire-core/internal/discovery"
	"github.com/halimchaibi/cheshire-core/internal/logging"
	"github.com/halimchaibi/cheshire-core/internal/registry"
	"github.com/halimchaibi/cheshire-core/internal/sources"
	"github.com/halimchaibi/cheshire-core/internal/specconfig"
)

// Engine is the contract every query-engine implementation must
// satisfy. Engines hold name-based (weak) references to sources via
// the source manager and never own them.
type Engine interface {
	Name() string
	Open(ctx context.Context) error
	Close() error
	Execute(ctx context.Context, query string, execCtx map[string]any) (any, error)
	Validate(query string) bool
	Explain(query string) string
	SupportsStreaming() bool
}

// Manager resolves EngineSpecs into live Engines.
type Manager struct {
	discovery *discovery.Registry
	sources   *sources.Manager
	logger    logging.Logger
	registry  *registry.Registry[Engine]
}

// NewManager creates a Manager backed by disc for factory lookups and
// srcMgr for resolving the sources each engine references.
func NewManager(disc *discovery.Registry, srcMgr *sources.Manager, logger logging.Logger) *Manager {
	m := &Manager{discovery: disc, sources: srcMgr, logger: logger}
	m.registry = registry.New(func(e Engine) error { return e.Close() })
	return m
}

// Init builds, opens, and registers every engine in specs. All
// sources must already be open (bootstrap.Build initializes the
// source manager before calling this).
func (m *Manager) Init(ctx context.Context, specs map[string]specconfig.EngineSpec) error {
	var merr cherr.MultiError
	for name, spec := range specs {
		eng, err := m.build(name, spec)
		if err != nil {
			merr.Add(err)
			continue
		}
		if err := eng.Open(ctx); err != nil {
			merr.Add(cherr.Wrap(cherr.KindConnection, "engine="+name, err))
			continue
		}
		if eng.Name() != name {
			merr.Add(cherr.New(cherr.KindConfiguration, "engine %q: engine.Name() returned %q, must equal spec key", name, eng.Name()))
			continue
		}
		if err := m.registry.Register(name, eng); err != nil {
			merr.Add(err)
			continue
		}
		m.logger.Info("engine opened", "engine", name)
	}
	return merr.ErrOrNil()
}

func (m *Manager) build(name string, spec specconfig.EngineSpec) (Engine, error) {
	factory, err := m.discovery.QueryEngine(spec.FactoryID)
	if err != nil {
		return nil, cherr.Wrap(cherr.KindConfiguration, "engine="+name, err)
	}

	resolvedSources, err := m.sources.All(spec.ReferencedSourceNames)
	if err != nil {
		return nil, cherr.Wrap(cherr.KindConfiguration, "engine="+name, err)
	}
	sourceConfigs := make(map[string]any, len(resolvedSources))
	for srcName, src := range resolvedSources {
		sourceConfigs[srcName] = src.Config()
	}

	raw := map[string]any{
		"name":          name,
		"extras":        spec.Extras,
		"sources":       spec.ReferencedSourceNames,
		"sourceConfigs": sourceConfigs,
	}
	config, err := factory.Adapter(raw)
	if err != nil {
		return nil, cherr.Wrap(cherr.KindConfiguration, "engine="+name, err)
	}
	if factory.Validate != nil {
		if err := factory.Validate(config); err != nil {
			return nil, cherr.Wrap(cherr.KindConfiguration, "engine="+name, err)
		}
	}
	created, err := factory.Create(config, sourceConfigs)
	if err != nil {
		return nil, cherr.Wrap(cherr.KindConfiguration, "engine="+name, err)
	}
	eng, ok := created.(Engine)
	if !ok {
		return nil, cherr.New(cherr.KindInternal, "engine=%s: factory produced %T, expected Engine", name, created)
	}
	return eng, nil
}

// Get returns the named Engine.
func (m *Manager) Get(name string) (Engine, error) {
	eng, ok := m.registry.Get(name)
	if !ok {
		return nil, cherr.New(cherr.KindConfiguration, "engine %q is not registered", name)
	}
	return eng, nil
}

// Shutdown closes every engine in reverse registration order.
func (m *Manager) Shutdown() error {
	return m.registry.Shutdown()
}
