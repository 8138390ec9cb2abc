// Package session implements the one place a request becomes an
// execution: start/stop hook ordering guarded by an idempotent atomic
// flag, and execute(task, ctx) → TaskResult, which resolves a
// capability and pipeline and folds the request through it. Grounded
// on coreengine/kernel/kernel.go's idempotent Kernel lifecycle guards
// and coreengine/runtime/runtime.go's top-level Execute orchestration
// (metrics recorded at completion, failure kind translated to a
// status category).
package session

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/capability"
	"github.com/halimchaibi/cheshire-core/internal/cherr"
	"github.com/halimchaibi/cheshire-core/internal/health"
	"github.com/halimchaibi/cheshire-core/internal/logging"
	"github.com/halimchaibi/cheshire-core/internal/trace"
)

// Metadata keys the session reads from/writes into SessionTask and the
// pipeline's metadata bag.
const (
	KeyCapability = "CAPABILITY"
	KeyAction     = "ACTION"
	KeyEngine     = "ENGINE"
	KeySources    = "SOURCES"
	KeyUserID     = "USER_ID"
)

// SessionContext carries request identity through to the canonical
// pipeline Context.
type SessionContext struct {
	SessionID       string
	UserID          string
	TraceID         string
	SecurityContext any
	Attributes      map[string]any
	Deadline        *time.Time
}

// SessionTask is the session's input: a data bag plus a metadata bag
// naming the capability/action to resolve.
type SessionTask struct {
	Data     map[string]any
	Metadata map[string]any
}

// EngineBinding resolves the engine and named sources bound to a
// capability, so execute can populate the ENGINE/SOURCES metadata
// without the session depending on the engine/sources manager types
// directly.
type EngineBinding interface {
	Engine(capabilityName string) (any, error)
	Sources(capabilityName string) (map[string]any, error)
}

// Hook is a start/stop lifecycle callback.
type Hook func() error

// Session is the sole place a request becomes an execution.
type Session struct {
	capabilities *capability.Manager
	bindings     EngineBinding
	metrics      *health.Metrics
	logger       logging.Logger

	started    atomic.Bool
	startHooks []Hook
	stopHooks  []Hook
	tracer     *trace.Tracer
}

// New creates a Session bound to the given capability manager.
func New(capabilities *capability.Manager, bindings EngineBinding, metrics *health.Metrics, logger logging.Logger) *Session {
	return &Session{capabilities: capabilities, bindings: bindings, metrics: metrics, logger: logger, tracer: trace.New("cheshire-core/session")}
}

// SetTracer overrides the Tracer session spans are emitted under;
// passing nil disables span emission entirely.
func (s *Session) SetTracer(t *trace.Tracer) {
	s.tracer = t
}

// AddStartHook registers hook to run, in declared order, from Start.
func (s *Session) AddStartHook(hook Hook) {
	s.startHooks = append(s.startHooks, hook)
}

// AddStopHook registers hook to run, in reverse declared order, from Stop.
func (s *Session) AddStopHook(hook Hook) {
	s.stopHooks = append(s.stopHooks, hook)
}

// Start runs every start hook in order. Idempotent: a second call is a
// no-op.
func (s *Session) Start() error {
	if !s.started.CompareAndSwap(false, true) {
		return nil
	}
	for _, hook := range s.startHooks {
		if err := hook(); err != nil {
			return cherr.Wrap(cherr.KindLifecycle, "session start hook", err)
		}
	}
	return nil
}

// Stop runs every stop hook in reverse declared order. A failing hook
// does not stop the remaining ones; each failure is logged and all of
// them are returned together as one error. Idempotent: a second call
// is a no-op.
func (s *Session) Stop() error {
	if !s.started.CompareAndSwap(true, false) {
		return nil
	}
	var merr cherr.MultiError
	for i := len(s.stopHooks) - 1; i >= 0; i-- {
		if err := s.stopHooks[i](); err != nil {
			merr.Add(err)
			s.logger.Warn("session stop hook failed", "error", err)
		}
	}
	return merr.ErrOrNil()
}

// Execute resolves task.metadata[CAPABILITY]/[ACTION] to a pipeline,
// builds the pipeline's canonical input, runs it, and translates the
// outcome into a TaskResult. It never returns a Go error: every
// failure is represented as a TaskResult.Failure.
func (s *Session) Execute(ctx context.Context, task SessionTask, sctx SessionContext) canon.TaskResult {
	timer := s.metrics.StartRequest(capabilityNameOf(task))
	defer timer.Close()

	if !s.started.Load() {
		timer.Failure(health.ErrorCategory(canon.StatusServiceUnavailable))
		return canon.TaskFailure(canon.StatusServiceUnavailable, cherr.New(cherr.KindLifecycle, "session is not started"), nil)
	}

	capName, ok := stringMeta(task.Metadata, KeyCapability)
	if !ok || capName == "" {
		timer.Failure(health.ErrorCategory(canon.StatusBadRequest))
		return canon.TaskFailure(canon.StatusBadRequest, cherr.New(cherr.KindBadRequest, "task metadata missing required %q", KeyCapability), nil)
	}
	capRef, err := s.capabilities.Get(capName)
	if err != nil {
		timer.Failure(health.ErrorCategory(canon.StatusBadRequest))
		return canon.TaskFailure(canon.StatusBadRequest, err, nil)
	}

	actionName, ok := stringMeta(task.Metadata, KeyAction)
	if !ok || actionName == "" {
		timer.Failure(health.ErrorCategory(canon.StatusBadRequest))
		return canon.TaskFailure(canon.StatusBadRequest, cherr.New(cherr.KindBadRequest, "task metadata missing required %q", KeyAction), nil)
	}
	pipeline, err := capRef.PipelineFor(actionName)
	if err != nil {
		timer.Failure(health.ErrorCategory(canon.StatusBadRequest))
		return canon.TaskFailure(canon.StatusBadRequest, err, nil)
	}

	input, err := s.buildInput(pipeline, capName, task)
	if err != nil {
		timer.Failure(health.ErrorCategory(canon.StatusExecutionFailed))
		return canon.TaskFailure(canon.StatusExecutionFailed, err, nil)
	}

	reqCtx := canon.NewRequestContext(sctx.SessionID, sctx.UserID, sctx.TraceID, sctx.Attributes)
	reqCtx.Deadline = sctx.Deadline
	if reqCtx.Expired() {
		timer.Failure(health.ErrorCategory(canon.StatusExecutionFailed))
		return canon.TaskFailure(canon.StatusExecutionFailed, cherr.New(cherr.KindTimeout, "request deadline already passed"), nil)
	}

	runCtx := ctx
	if sctx.Deadline != nil {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(ctx, *sctx.Deadline)
		defer cancel()
	}

	pipelineCtx := map[string]any{
		"arrivedAt":       time.Now(),
		"requestContext":  reqCtx,
		"securityContext": sctx.SecurityContext,
	}

	spanCtx, span := s.tracer.Start(runCtx, "session.Execute",
		attribute.String("capability", capName),
		attribute.String("action", actionName),
	)
	out, err := pipeline.Execute(spanCtx, input, pipelineCtx)
	if err != nil {
		trace.RecordError(span, err)
		span.End()
		status := canon.StatusFromKind(cherr.KindOf(err))
		timer.Failure(health.ErrorCategory(status))
		return canon.TaskFailure(status, err, nil)
	}
	span.End()

	timer.Success()
	return canon.TaskSuccess(out.Data(), out.Metadata())
}

func (s *Session) buildInput(pipeline *capability.PipelineProcessor, capName string, task SessionTask) (canon.CanonicalInput, error) {
	meta := map[string]any{
		KeyCapability: capName,
	}
	if s.bindings != nil {
		if engine, err := s.bindings.Engine(capName); err == nil {
			meta[KeyEngine] = engine
		}
		if sources, err := s.bindings.Sources(capName); err == nil {
			meta[KeySources] = sources
		}
	}
	for k, v := range task.Metadata {
		if _, reserved := meta[k]; reserved {
			continue
		}
		meta[k] = v
	}
	return canon.NewCanonicalInput(pipeline.InputShape, task.Data, meta), nil
}

func stringMeta(m map[string]any, key string) (string, bool) {
	raw, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

func capabilityNameOf(task SessionTask) string {
	if name, ok := stringMeta(task.Metadata, KeyCapability); ok {
		return name
	}
	return "unknown"
}
