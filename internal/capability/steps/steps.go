// Package steps provides reference pipeline step implementations —
// validate, redact, enrich-metadata pre/post steps and an echo
// executor — plus registration helpers wiring them into a
// discovery.Registry under stable implementation IDs. Grounded on the
// teacher's StandardToolResult/ToolErrorDetails validation shape
// (coreengine/agents/contracts.go): a result is either clean or
// carries a structured error with a reason, not a bare string.
package steps

import (
	"context"
	"strings"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/cherr"
	"github.com/halimchaibi/cheshire-core/internal/discovery"
)

// Implementation IDs every reference step registers under.
const (
	IDValidate       = "core.validate"
	IDRedact         = "core.redact"
	IDEnrichMetadata = "core.enrich-metadata"
	IDEcho           = "core.echo"
)

// Register wires every reference step into disc under its stable
// implementation ID.
func Register(disc *discovery.Registry) error {
	var merr cherr.MultiError
	merr.Add(disc.RegisterStep(IDValidate, newValidateStep))
	merr.Add(disc.RegisterStep(IDRedact, newRedactStep))
	merr.Add(disc.RegisterStep(IDEnrichMetadata, newEnrichMetadataStep))
	merr.Add(disc.RegisterStep(IDEcho, newEchoExecutor))
	return merr.ErrOrNil()
}

// validateStep rejects input missing any of its configured required
// data keys, reporting a bad-request error carrying the offending
// key — the pipeline-step analogue of the teacher's
// ToolErrorDetailsNotFound.
type validateStep struct {
	required []string
}

func newValidateStep(config map[string]any) (any, error) {
	var required []string
	if raw, ok := config["required"].([]string); ok {
		required = raw
	} else if raw, ok := config["params"].(map[string]any); ok {
		if rs, ok := raw["required"].([]string); ok {
			required = rs
		}
	}
	return &validateStep{required: required}, nil
}

func (s *validateStep) Apply(ctx context.Context, input canon.CanonicalInput, bag map[string]any) (canon.CanonicalInput, error) {
	data := input.Data()
	for _, key := range s.required {
		if _, ok := data[key]; !ok {
			return canon.CanonicalInput{}, cherr.New(cherr.KindBadRequest, "missing required field %q", key)
		}
	}
	return input, nil
}

// redactStep strips configured keys from output data before it
// reaches the caller.
type redactStep struct {
	keys []string
}

func newRedactStep(config map[string]any) (any, error) {
	var keys []string
	if raw, ok := config["keys"].([]string); ok {
		keys = raw
	}
	return &redactStep{keys: keys}, nil
}

func (s *redactStep) Apply(ctx context.Context, output canon.CanonicalOutput, bag map[string]any) (canon.CanonicalOutput, error) {
	data := output.Data()
	for _, k := range s.keys {
		delete(data, k)
	}
	return canon.NewCanonicalOutput(output.Shape, data, output.Metadata()), nil
}

// enrichMetadataStep merges static metadata declared at pipeline
// configuration time into the output's metadata bag, without
// overwriting keys the executor already set.
type enrichMetadataStep struct {
	extra map[string]any
}

func newEnrichMetadataStep(config map[string]any) (any, error) {
	extra := map[string]any{}
	if raw, ok := config["params"].(map[string]any); ok {
		for k, v := range raw {
			extra[k] = v
		}
	}
	return &enrichMetadataStep{extra: extra}, nil
}

func (s *enrichMetadataStep) Apply(ctx context.Context, output canon.CanonicalOutput, bag map[string]any) (canon.CanonicalOutput, error) {
	return output.WithMetadata(func(m map[string]any) map[string]any {
		for k, v := range s.extra {
			if _, exists := m[k]; !exists {
				m[k] = v
			}
		}
		return m
	}), nil
}

// echoExecutor returns its input data unchanged as output data — the
// trivial executor used by the package tests and by any capability
// action that is a pure pass-through.
type echoExecutor struct{}

func newEchoExecutor(config map[string]any) (any, error) {
	return &echoExecutor{}, nil
}

func (e *echoExecutor) Apply(ctx context.Context, input canon.CanonicalInput, bag map[string]any) (canon.CanonicalOutput, error) {
	return canon.NewCanonicalOutput(input.Shape, input.Data(), input.Metadata()), nil
}

// RequireString is a small helper pre/post steps can use to read a
// string data field with a distinguishable error, mirroring the
// teacher's StandardToolResult.Validate cross-field checks.
func RequireString(data map[string]any, key string) (string, error) {
	raw, ok := data[key]
	if !ok {
		return "", cherr.New(cherr.KindBadRequest, "missing required field %q", key)
	}
	s, ok := raw.(string)
	if !ok {
		return "", cherr.New(cherr.KindBadRequest, "field %q must be a string, got %T", key, raw)
	}
	if strings.TrimSpace(s) == "" {
		return "", cherr.New(cherr.KindBadRequest, "field %q must not be blank", key)
	}
	return s, nil
}
