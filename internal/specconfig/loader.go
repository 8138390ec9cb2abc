package specconfig

import (
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
)

// DefaultDocument is the top-level document name loaded when
// CHESHIRE_CONFIG is unset.
const DefaultDocument = "cheshire.yaml"

// EnvOverride is the environment variable overriding DefaultDocument.
const EnvOverride = "CHESHIRE_CONFIG"

// rootDocument returns the configured top-level document name.
func rootDocument() string {
	if v := os.Getenv(EnvOverride); v != "" {
		return v
	}
	return DefaultDocument
}

// Load reads the root document from source, resolves every
// capability's actionsFile/pipelinesFile, validates the whole tree in
// one pass, and returns a frozen Spec. All accumulated validation
// errors are reported together via a cherr.MultiError.
func Load(source ConfigSource) (*Spec, error) {
	raw, err := source.Read(rootDocument())
	if err != nil {
		return nil, err
	}

	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, cherr.Wrap(cherr.KindConfiguration, "document="+rootDocument(), err)
	}

	var merr cherr.MultiError
	for name, capSpec := range spec.Capabilities {
		resolved, err := resolveCapability(source, name, capSpec)
		if err != nil {
			merr.Add(err)
			continue
		}
		spec.Capabilities[name] = resolved
	}
	if err := merr.ErrOrNil(); err != nil {
		return nil, err
	}

	if err := validate(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

func resolveCapability(source ConfigSource, name string, capSpec CapabilitySpec) (CapabilitySpec, error) {
	if capSpec.ActionsFile == "" {
		return capSpec, cherr.New(cherr.KindConfiguration, "capability %q: actionsFile is required", name)
	}
	actionsRaw, err := source.Read(capSpec.ActionsFile)
	if err != nil {
		return capSpec, cherr.Wrap(cherr.KindConfiguration, "capability="+name, err)
	}
	var actions ActionsSpec
	if err := yaml.Unmarshal(actionsRaw, &actions); err != nil {
		return capSpec, cherr.Wrap(cherr.KindConfiguration, "capability="+name+" actionsFile="+capSpec.ActionsFile, err)
	}
	capSpec.ResolvedActions = actions

	if capSpec.PipelinesFile != "" {
		pipelinesRaw, err := source.Read(capSpec.PipelinesFile)
		if err != nil {
			return capSpec, cherr.Wrap(cherr.KindConfiguration, "capability="+name, err)
		}
		var pipelines PipelinesSpec
		if err := yaml.Unmarshal(pipelinesRaw, &pipelines); err != nil {
			return capSpec, cherr.Wrap(cherr.KindConfiguration, "capability="+name+" pipelinesFile="+capSpec.PipelinesFile, err)
		}
		capSpec.ResolvedPipelines = pipelines
	}
	return capSpec, nil
}

// validate checks cross-references and required scalars across the
// whole spec, accumulating every failure instead of stopping at the
// first.
func validate(spec *Spec) error {
	var merr cherr.MultiError

	for name, src := range spec.Sources {
		if src.FactoryID == "" {
			merr.Add(cherr.New(cherr.KindConfiguration, "source %q: factoryId is required", name))
		}
	}

	for name, eng := range spec.Engines {
		if eng.FactoryID == "" {
			merr.Add(cherr.New(cherr.KindConfiguration, "engine %q: factoryId is required", name))
		}
		for _, ref := range eng.ReferencedSourceNames {
			if _, ok := spec.Sources[ref]; !ok {
				merr.Add(cherr.New(cherr.KindConfiguration, "engine %q: referenced source %q does not exist", name, ref))
			}
		}
	}

	for name, capSpec := range spec.Capabilities {
		if capSpec.ExposureRef == "" {
			merr.Add(cherr.New(cherr.KindConfiguration, "capability %q: exposure is required", name))
		} else if _, ok := spec.Exposures[capSpec.ExposureRef]; !ok {
			merr.Add(cherr.New(cherr.KindConfiguration, "capability %q: exposure %q does not exist", name, capSpec.ExposureRef))
		}
		if capSpec.TransportRef == "" {
			merr.Add(cherr.New(cherr.KindConfiguration, "capability %q: transport is required", name))
		} else if _, ok := spec.Transports[capSpec.TransportRef]; !ok {
			merr.Add(cherr.New(cherr.KindConfiguration, "capability %q: transport %q does not exist", name, capSpec.TransportRef))
		}
		for _, ref := range capSpec.SourceRefs {
			if _, ok := spec.Sources[ref]; !ok {
				merr.Add(cherr.New(cherr.KindConfiguration, "capability %q: referenced source %q does not exist", name, ref))
			}
		}
		if capSpec.EngineRef != "" {
			if _, ok := spec.Engines[capSpec.EngineRef]; !ok {
				merr.Add(cherr.New(cherr.KindConfiguration, "capability %q: engine %q does not exist", name, capSpec.EngineRef))
			}
		}
		if len(capSpec.ResolvedActions) == 0 {
			merr.Add(cherr.New(cherr.KindConfiguration, "capability %q: must declare at least one action", name))
			continue
		}
		for actionName, action := range capSpec.ResolvedActions {
			pipeline, ok := capSpec.ResolvedPipelines[action.Pipeline]
			if !ok {
				merr.Add(cherr.New(cherr.KindConfiguration, "capability %q action %q: no pipeline %q", name, actionName, action.Pipeline))
				continue
			}
			if strings.TrimSpace(pipeline.Steps.Exec.ImplementationID) == "" {
				merr.Add(cherr.New(cherr.KindConfiguration, "capability %q action %q: pipeline must declare exactly one executor step", name, actionName))
			}
			if pipeline.Input == "" || pipeline.Output == "" {
				merr.Add(cherr.New(cherr.KindConfiguration, "capability %q action %q: pipeline input/output shape must be declared", name, actionName))
			}
		}
	}

	return merr.ErrOrNil()
}
