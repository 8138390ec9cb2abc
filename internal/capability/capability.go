// Package capability implements the capability manager and pipeline
// builder: it materializes each configured Capability and, per
// action, a PipelineProcessor wired from discovery-registered step
// constructors. Grounded on coreengine/runtime/runtime.go's
// PipelineRunner (the fold-based execution shape) and
// coreengine/config/pipeline.go's step declarations, generalized from
// a fixed agent pipeline to the framework's capability/action
// addressing scheme.
package capability

import (
	"context"
	"time"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/cherr"
	"github.com/halimchaibi/cheshire-core/internal/discovery"
	"github.com/halimchaibi/cheshire-core/internal/engines"
	"github.com/halimchaibi/cheshire-core/internal/logging"
	"github.com/halimchaibi/cheshire-core/internal/registry"
	"github.com/halimchaibi/cheshire-core/internal/sources"
	"github.com/halimchaibi/cheshire-core/internal/specconfig"
)

// PreProcessor transforms a CanonicalInput before execution. It must
// return a new value; the input it received is left unmodified.
type PreProcessor interface {
	Apply(ctx context.Context, input canon.CanonicalInput, bag map[string]any) (canon.CanonicalInput, error)
}

// Executor transforms a CanonicalInput into a CanonicalOutput. Every
// pipeline has exactly one.
type Executor interface {
	Apply(ctx context.Context, input canon.CanonicalInput, bag map[string]any) (canon.CanonicalOutput, error)
}

// PostProcessor transforms a CanonicalOutput after execution.
type PostProcessor interface {
	Apply(ctx context.Context, output canon.CanonicalOutput, bag map[string]any) (canon.CanonicalOutput, error)
}

// PipelineProcessor owns a frozen pre/exec/post chain for one action.
type PipelineProcessor struct {
	Name        string
	InputShape  string
	OutputShape string
	pre         []PreProcessor
	exec        Executor
	post        []PostProcessor
}

// Execute folds input through pre, exec, then post, strictly
// sequentially — per §4.10, no step runs in parallel with another
// step of the same pipeline, since post-steps may depend on executor
// side-effects and pre-steps form a dependency chain.
func (p *PipelineProcessor) Execute(ctx context.Context, input canon.CanonicalInput, bag map[string]any) (canon.CanonicalOutput, error) {
	if _, ok := bag["pipeline-processor-at"]; !ok {
		bag["pipeline-processor-at"] = time.Now()
	}

	acc := input
	for _, step := range p.pre {
		next, err := step.Apply(ctx, acc, bag)
		if err != nil {
			return canon.CanonicalOutput{}, err
		}
		acc = next
	}

	out, err := p.exec.Apply(ctx, acc, bag)
	if err != nil {
		return canon.CanonicalOutput{}, err
	}

	for _, step := range p.post {
		next, err := step.Apply(ctx, out, bag)
		if err != nil {
			return canon.CanonicalOutput{}, err
		}
		out = next
	}
	return out, nil
}

// Capability is a grouping of actions sharing data sources, an
// engine, an exposure, and a transport.
type Capability struct {
	Name        string
	Description string
	Domain      string
	Exposure    specconfig.ExposureSpec
	Transport   specconfig.TransportSpec
	SourceRefs  []string
	EngineRef   string
	Pipelines   map[string]*PipelineProcessor // by pipeline name
	Actions     specconfig.ActionsSpec
}

// PipelineFor resolves the PipelineProcessor backing actionName, or a
// bad-request error if the action is unknown.
func (c *Capability) PipelineFor(actionName string) (*PipelineProcessor, error) {
	action, ok := c.Actions[actionName]
	if !ok {
		return nil, cherr.New(cherr.KindBadRequest, "capability %q has no action %q", c.Name, actionName)
	}
	pipeline, ok := c.Pipelines[action.Pipeline]
	if !ok {
		return nil, cherr.New(cherr.KindBadRequest, "capability %q action %q: pipeline %q not built", c.Name, actionName, action.Pipeline)
	}
	return pipeline, nil
}

// Manager builds and owns every configured Capability.
type Manager struct {
	discovery *discovery.Registry
	sources   *sources.Manager
	engines   *engines.Manager
	logger    logging.Logger
	registry  *registry.Registry[*Capability]
}

// NewManager creates a Manager backed by disc for step-constructor
// lookups. srcMgr and engineMgr are held but not consulted while
// building; the existence of sourceRefs/engineRef is checked earlier,
// by specconfig.Load.
func NewManager(disc *discovery.Registry, srcMgr *sources.Manager, engineMgr *engines.Manager, logger logging.Logger) *Manager {
	m := &Manager{discovery: disc, sources: srcMgr, engines: engineMgr, logger: logger}
	m.registry = registry.New[*Capability](nil)
	return m
}

// Init builds every capability in specs, per §4.7's algorithm. Any
// instantiation failure fails that capability's entire construction
// with a configuration error tagged with the capability/action; other
// capabilities still attempt to build so the lifecycle can report a
// deterministic, complete set of errors.
func (m *Manager) Init(specs map[string]specconfig.CapabilitySpec, exposures map[string]specconfig.ExposureSpec, transports map[string]specconfig.TransportSpec) error {
	var merr cherr.MultiError
	for name, spec := range specs {
		capVal, err := m.build(name, spec, exposures, transports)
		if err != nil {
			merr.Add(err)
			continue
		}
		if err := m.registry.Register(name, capVal); err != nil {
			merr.Add(err)
			continue
		}
		m.logger.Info("capability registered", "capability", name)
	}
	return merr.ErrOrNil()
}

func (m *Manager) build(name string, spec specconfig.CapabilitySpec, exposures map[string]specconfig.ExposureSpec, transports map[string]specconfig.TransportSpec) (*Capability, error) {
	exposure, ok := exposures[spec.ExposureRef]
	if !ok {
		return nil, cherr.New(cherr.KindConfiguration, "capability %q: exposure %q is missing", name, spec.ExposureRef)
	}
	transport := transports[spec.TransportRef]
	if spec.TransportRef != "" {
		if t, ok := transports[spec.TransportRef]; ok {
			transport = t
		} else {
			m.logger.Warn("capability transport missing, using empty transport record", "capability", name, "transportRef", spec.TransportRef)
		}
	}

	pipelines := make(map[string]*PipelineProcessor, len(spec.ResolvedPipelines))
	for pipelineName, pipelineSpec := range spec.ResolvedPipelines {
		pp, err := m.buildPipeline(name, pipelineName, pipelineSpec)
		if err != nil {
			return nil, err
		}
		pipelines[pipelineName] = pp
	}

	return &Capability{
		Name:        name,
		Description: spec.Description,
		Domain:      spec.Domain,
		Exposure:    exposure,
		Transport:   transport,
		SourceRefs:  append([]string(nil), spec.SourceRefs...),
		EngineRef:   spec.EngineRef,
		Pipelines:   pipelines,
		Actions:     spec.ResolvedActions,
	}, nil
}

func (m *Manager) buildPipeline(capName, pipelineName string, spec specconfig.PipelineSpec) (*PipelineProcessor, error) {
	pre := make([]PreProcessor, 0, len(spec.Steps.Pre))
	for _, stepDef := range spec.Steps.Pre {
		step, err := m.instantiateStep(capName, pipelineName, stepDef)
		if err != nil {
			return nil, err
		}
		pp, ok := step.(PreProcessor)
		if !ok {
			return nil, cherr.New(cherr.KindConfiguration, "capability %q pipeline %q: step %q is not a PreProcessor", capName, pipelineName, stepDef.ImplementationID)
		}
		pre = append(pre, pp)
	}

	execStep, err := m.instantiateStep(capName, pipelineName, spec.Steps.Exec)
	if err != nil {
		return nil, err
	}
	exec, ok := execStep.(Executor)
	if !ok {
		return nil, cherr.New(cherr.KindConfiguration, "capability %q pipeline %q: step %q is not an Executor", capName, pipelineName, spec.Steps.Exec.ImplementationID)
	}

	post := make([]PostProcessor, 0, len(spec.Steps.Post))
	for _, stepDef := range spec.Steps.Post {
		step, err := m.instantiateStep(capName, pipelineName, stepDef)
		if err != nil {
			return nil, err
		}
		ps, ok := step.(PostProcessor)
		if !ok {
			return nil, cherr.New(cherr.KindConfiguration, "capability %q pipeline %q: step %q is not a PostProcessor", capName, pipelineName, stepDef.ImplementationID)
		}
		post = append(post, ps)
	}

	return &PipelineProcessor{
		Name:        pipelineName,
		InputShape:  spec.Input,
		OutputShape: spec.Output,
		pre:         pre,
		exec:        exec,
		post:        post,
	}, nil
}

// instantiateStep tries the configured constructor for
// stepDef.ImplementationID first (passing {template, name, params},
// with each params entry also copied to the top level), falling back to a parameterless call if the constructor rejects the
// configuration map. This realizes §9's "try config-constructor, fall
// back to default" rule without reflection.
func (m *Manager) instantiateStep(capName, pipelineName string, stepDef specconfig.StepDef) (any, error) {
	ctor, err := m.discovery.Step(stepDef.ImplementationID)
	if err != nil {
		return nil, cherr.Wrap(cherr.KindConfiguration, "capability="+capName+" pipeline="+pipelineName, err)
	}
	config := map[string]any{"name": stepDef.Name, "template": stepDef.Template}
	for k, v := range stepDef.Params {
		config[k] = v
	}
	if stepDef.Params != nil {
		config["params"] = stepDef.Params
	}
	step, err := ctor(config)
	if err != nil {
		step, err = ctor(nil)
	}
	if err != nil {
		return nil, cherr.Wrap(cherr.KindConfiguration, "capability="+capName+" pipeline="+pipelineName+" step="+stepDef.ImplementationID, err)
	}
	return step, nil
}

// Get returns the named Capability.
func (m *Manager) Get(name string) (*Capability, error) {
	capVal, ok := m.registry.Get(name)
	if !ok {
		return nil, cherr.New(cherr.KindBadRequest, "unknown capability %q", name)
	}
	return capVal, nil
}

// Names returns every registered capability name.
func (m *Manager) Names() []string {
	return m.registry.Names()
}
