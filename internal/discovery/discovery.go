// Package discovery locates plug-in factory implementations by a
// declared string identifier. Grounded on the teacher's
// handlers map[string]ServiceHandler in ServiceRegistry
// (coreengine/kernel/services.go) generalized into one registry per
// plug-in kind, populated at process start by explicit registration
// calls rather than reflection-based scanning (per the framework's
// redesign note against reflective pipeline-step instantiation).
package discovery

import (
	"sync"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
)

// SourceProviderFactory creates a Source from a raw configuration map.
// The concrete Source/EngineConfig shapes live in internal/sources;
// discovery only knows about the adapt/validate/create contract shape
// via these functions.
type SourceProviderFactory struct {
	ConfigType string
	Adapter    func(raw map[string]any) (any, error)
	Validate   func(config any) error
	Create     func(config any) (any, error)
}

// QueryEngineFactory mirrors SourceProviderFactory for engines.
type QueryEngineFactory struct {
	ConfigType string
	Adapter    func(raw map[string]any) (any, error)
	Validate   func(config any) error
	Create     func(config any, sourceConfigs map[string]any) (any, error)
}

// ServerFactory creates a transport Server bound to a capability and
// dispatcher.
type ServerFactory struct {
	Create func(capability string, binding string, dispatcher any) (any, error)
}

// StepConstructor builds a pipeline step instance, optionally from the
// step's {template, name, params} configuration map. Constructors that
// ignore the map are still valid — the capability manager tries the
// configured constructor before falling back to a default.
type StepConstructor func(config map[string]any) (any, error)

// Kind is the closed set of plug-in kinds the registry tracks.
type Kind string

const (
	KindSourceProvider Kind = "source-provider"
	KindQueryEngine    Kind = "query-engine"
	KindServer         Kind = "server"
	KindPipelineStep   Kind = "pipeline-step"
)

// Registry holds named factory implementations per kind. Lookups
// after process start are pure map reads under a read lock.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]SourceProviderFactory
	engines map[string]QueryEngineFactory
	servers map[string]ServerFactory
	steps   map[string]StepConstructor
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		sources: make(map[string]SourceProviderFactory),
		engines: make(map[string]QueryEngineFactory),
		servers: make(map[string]ServerFactory),
		steps:   make(map[string]StepConstructor),
	}
}

// RegisterSourceProvider registers a SourceProviderFactory under id.
func (r *Registry) RegisterSourceProvider(id string, f SourceProviderFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[id]; exists {
		return cherr.New(cherr.KindConfiguration, "source provider factory %q already registered", id)
	}
	r.sources[id] = f
	return nil
}

// SourceProvider looks up a SourceProviderFactory by id.
func (r *Registry) SourceProvider(id string) (SourceProviderFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.sources[id]
	if !ok {
		return SourceProviderFactory{}, cherr.New(cherr.KindConfiguration, "no source provider factory registered for %q", id)
	}
	return f, nil
}

// RegisterQueryEngine registers a QueryEngineFactory under id.
func (r *Registry) RegisterQueryEngine(id string, f QueryEngineFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.engines[id]; exists {
		return cherr.New(cherr.KindConfiguration, "query engine factory %q already registered", id)
	}
	r.engines[id] = f
	return nil
}

// QueryEngine looks up a QueryEngineFactory by id.
func (r *Registry) QueryEngine(id string) (QueryEngineFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.engines[id]
	if !ok {
		return QueryEngineFactory{}, cherr.New(cherr.KindConfiguration, "no query engine factory registered for %q", id)
	}
	return f, nil
}

// RegisterServer registers a ServerFactory under id.
func (r *Registry) RegisterServer(id string, f ServerFactory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.servers[id]; exists {
		return cherr.New(cherr.KindConfiguration, "server factory %q already registered", id)
	}
	r.servers[id] = f
	return nil
}

// Server looks up a ServerFactory by id.
func (r *Registry) Server(id string) (ServerFactory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.servers[id]
	if !ok {
		return ServerFactory{}, cherr.New(cherr.KindConfiguration, "no server factory registered for %q", id)
	}
	return f, nil
}

// RegisterStep registers a pipeline step constructor under id.
func (r *Registry) RegisterStep(id string, ctor StepConstructor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.steps[id]; exists {
		return cherr.New(cherr.KindConfiguration, "pipeline step constructor %q already registered", id)
	}
	r.steps[id] = ctor
	return nil
}

// Step looks up a pipeline step constructor by id.
func (r *Registry) Step(id string) (StepConstructor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ctor, ok := r.steps[id]
	if !ok {
		return nil, cherr.New(cherr.KindConfiguration, "no pipeline step constructor registered for %q", id)
	}
	return ctor, nil
}
