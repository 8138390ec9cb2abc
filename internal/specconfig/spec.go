// Package specconfig implements the configuration loader and resolver:
// a layered declarative document tree loaded into an immutable Spec.
// Grounded on the teacher's CoreConfig round-trip shape
// (coreengine/config/core_config.go: CoreConfigFromMap/ToMap,
// global Get/Set/Reset behind sync.RWMutex) generalized from a flat
// execution-tuning struct to the framework's full cross-referenced
// document (sources, engines, capabilities, transports, exposures).
package specconfig

// SourceSpec declares a data-source connection.
type SourceSpec struct {
	FactoryID      string         `yaml:"factoryId"`
	Type           string         `yaml:"type"`
	ConnectionOpts map[string]any `yaml:"connectionOpts"`
	PoolOpts       map[string]any `yaml:"poolOpts"`
	Extras         map[string]any `yaml:"extras"`
}

func (s SourceSpec) clone() SourceSpec {
	return SourceSpec{
		FactoryID:      s.FactoryID,
		Type:           s.Type,
		ConnectionOpts: cloneMap(s.ConnectionOpts),
		PoolOpts:       cloneMap(s.PoolOpts),
		Extras:         cloneMap(s.Extras),
	}
}

// EngineSpec declares a query engine and the sources it reads through.
type EngineSpec struct {
	FactoryID             string         `yaml:"factoryId"`
	ReferencedSourceNames []string       `yaml:"sources"`
	Extras                map[string]any `yaml:"extras"`
}

func (e EngineSpec) clone() EngineSpec {
	return EngineSpec{
		FactoryID:             e.FactoryID,
		ReferencedSourceNames: append([]string(nil), e.ReferencedSourceNames...),
		Extras:                cloneMap(e.Extras),
	}
}

// TransportSpec declares a server transport binding's own configuration.
type TransportSpec struct {
	FactoryID string         `yaml:"factoryId"`
	Options   map[string]any `yaml:"options"`
}

func (t TransportSpec) clone() TransportSpec {
	return TransportSpec{FactoryID: t.FactoryID, Options: cloneMap(t.Options)}
}

// ExposureSpec declares how a capability is exposed externally.
type ExposureSpec struct {
	Binding string `yaml:"binding"`
	Version string `yaml:"version"`
	Path    string `yaml:"path"`
}

// StepDef names a pipeline step's implementation and its static
// configuration.
type StepDef struct {
	Name             string         `yaml:"name"`
	ImplementationID string         `yaml:"implementationId"`
	Template         string         `yaml:"template"`
	Params           map[string]any `yaml:"params"`
}

func (s StepDef) clone() StepDef {
	return StepDef{Name: s.Name, ImplementationID: s.ImplementationID, Template: s.Template, Params: cloneMap(s.Params)}
}

// PipelineSpec declares one action's pre → exec → post chain plus the
// canonical input/output shapes it operates on.
type PipelineSpec struct {
	Input  string    `yaml:"input"`
	Output string    `yaml:"output"`
	Steps  StepsSpec `yaml:"steps"`
}

// StepsSpec is the pre/exec/post triple of a PipelineSpec.
type StepsSpec struct {
	Pre  []StepDef `yaml:"pre"`
	Exec StepDef   `yaml:"exec"`
	Post []StepDef `yaml:"post"`
}

func (p PipelineSpec) clone() PipelineSpec {
	pre := make([]StepDef, len(p.Steps.Pre))
	for i, s := range p.Steps.Pre {
		pre[i] = s.clone()
	}
	post := make([]StepDef, len(p.Steps.Post))
	for i, s := range p.Steps.Post {
		post[i] = s.clone()
	}
	return PipelineSpec{
		Input:  p.Input,
		Output: p.Output,
		Steps:  StepsSpec{Pre: pre, Exec: p.Steps.Exec.clone(), Post: post},
	}
}

// ActionDef names the pipeline backing one action.
type ActionDef struct {
	Description string `yaml:"description"`
	Pipeline    string `yaml:"pipeline"`
}

// ActionsSpec maps an action name to its definition, as loaded from a
// capability's actionsFile.
type ActionsSpec map[string]ActionDef

// PipelinesSpec maps a pipeline name to its definition, as loaded from
// a capability's pipelinesFile.
type PipelinesSpec map[string]PipelineSpec

// CapabilitySpec declares one domain grouping of actions.
type CapabilitySpec struct {
	Description   string   `yaml:"description"`
	Domain        string   `yaml:"domain"`
	ExposureRef   string   `yaml:"exposureRef"`
	TransportRef  string   `yaml:"transportRef"`
	SourceRefs    []string `yaml:"sourceRefs"`
	EngineRef     string   `yaml:"engineRef"`
	ActionsFile   string   `yaml:"actionsFile"`
	PipelinesFile string   `yaml:"pipelinesFile"`

	ResolvedActions   ActionsSpec   `yaml:"-"`
	ResolvedPipelines PipelinesSpec `yaml:"-"`
}

func (c CapabilitySpec) clone() CapabilitySpec {
	actions := make(ActionsSpec, len(c.ResolvedActions))
	for k, v := range c.ResolvedActions {
		actions[k] = v
	}
	pipelines := make(PipelinesSpec, len(c.ResolvedPipelines))
	for k, v := range c.ResolvedPipelines {
		pipelines[k] = v.clone()
	}
	return CapabilitySpec{
		Description:       c.Description,
		Domain:            c.Domain,
		ExposureRef:       c.ExposureRef,
		TransportRef:      c.TransportRef,
		SourceRefs:        append([]string(nil), c.SourceRefs...),
		EngineRef:         c.EngineRef,
		ActionsFile:       c.ActionsFile,
		PipelinesFile:     c.PipelinesFile,
		ResolvedActions:   actions,
		ResolvedPipelines: pipelines,
	}
}

// Spec is the root configuration document. It is immutable once
// returned by Load; every Manager.Get() hands out a deep clone.
type Spec struct {
	Sources      map[string]SourceSpec     `yaml:"sources"`
	Engines      map[string]EngineSpec     `yaml:"engines"`
	Capabilities map[string]CapabilitySpec `yaml:"capabilities"`
	Transports   map[string]TransportSpec  `yaml:"transports"`
	Exposures    map[string]ExposureSpec   `yaml:"exposures"`
	Metadata     map[string]any            `yaml:"metadata"`
}

// Clone returns a deep copy of the spec, mirroring the teacher's
// CoreConfig.ToMap/CoreConfigFromMap round trip but operating
// directly on the struct graph rather than through a map
// intermediary, since this document's shape is already a fixed tree
// rather than a flat tuning-parameter bag.
func (s *Spec) Clone() *Spec {
	if s == nil {
		return nil
	}
	sources := make(map[string]SourceSpec, len(s.Sources))
	for k, v := range s.Sources {
		sources[k] = v.clone()
	}
	engines := make(map[string]EngineSpec, len(s.Engines))
	for k, v := range s.Engines {
		engines[k] = v.clone()
	}
	caps := make(map[string]CapabilitySpec, len(s.Capabilities))
	for k, v := range s.Capabilities {
		caps[k] = v.clone()
	}
	transports := make(map[string]TransportSpec, len(s.Transports))
	for k, v := range s.Transports {
		transports[k] = v.clone()
	}
	exposures := make(map[string]ExposureSpec, len(s.Exposures))
	for k, v := range s.Exposures {
		exposures[k] = v
	}
	return &Spec{
		Sources:      sources,
		Engines:      engines,
		Capabilities: caps,
		Transports:   transports,
		Exposures:    exposures,
		Metadata:     cloneMap(s.Metadata),
	}
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneMap(t)
	case []any:
		cp := make([]any, len(t))
		for i, e := range t {
			cp[i] = cloneValue(e)
		}
		return cp
	default:
		return v
	}
}
