// Package dispatch implements the per-transport adapter from a
// canonical request envelope to a session invocation: one Dispatcher
// per transport kind, all sharing the same envelope→task extraction
// and result→response mapping. Grounded on
// coreengine/grpc/server.go's EngineServer (one request-handling
// method per RPC, all funneling into a single runner) and
// commbus/middleware.go's cross-cutting chain, reused here for the
// rate-limit gate that runs before every dispatch.
package dispatch

import (
	"context"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/cherr"
	"github.com/halimchaibi/cheshire-core/internal/logging"
	"github.com/halimchaibi/cheshire-core/internal/ratelimit"
	"github.com/halimchaibi/cheshire-core/internal/session"
	"github.com/halimchaibi/cheshire-core/internal/trace"
)

// Metadata keys the dispatcher writes into a SessionTask, beyond the
// CAPABILITY/ACTION/USER_ID keys session already owns.
const (
	KeyPayloadData        = "PAYLOAD_DATA"
	KeyPayloadParameters  = "PAYLOAD_PARAMETERS"
	KeyDebugContext       = "DEBUG.ctx"
	KeyDebugTaskStartedAt = "debug.task-started-at"
)

// Kind is the closed set of transport kinds a capability's
// exposure.binding selects between.
type Kind string

const (
	KindHTTPJSON  Kind = "HTTP_JSON"
	KindJSONRPC   Kind = "JSONRPC"
	KindStdio     Kind = "STDIO"
	KindStreaming Kind = "STREAMING"
)

// ParseKind resolves a binding string case-insensitively. An unknown
// binding is a configuration error, raised at startup per §4.11.
func ParseKind(binding string) (Kind, error) {
	switch strings.ToUpper(binding) {
	case string(KindHTTPJSON):
		return KindHTTPJSON, nil
	case string(KindJSONRPC):
		return KindJSONRPC, nil
	case string(KindStdio):
		return KindStdio, nil
	case string(KindStreaming):
		return KindStreaming, nil
	default:
		return "", cherr.New(cherr.KindConfiguration, "unknown transport binding %q", binding)
	}
}

// Executor is the subset of Session's contract the dispatcher
// depends on, so dispatch doesn't need to import a concrete session
// type beyond its task/context shapes.
type Executor interface {
	Execute(ctx context.Context, task session.SessionTask, sctx session.SessionContext) canon.TaskResult
}

// Core implements the shared dispatch(envelope) → ResponseEntity
// algorithm every transport kind wraps.
type Core struct {
	executor Executor
	limiter  *ratelimit.Limiter
	logger   logging.Logger
	tracer   *trace.Tracer
}

// NewCore builds a Core invoking executor for every dispatch, gated
// by limiter if non-nil.
func NewCore(executor Executor, limiter *ratelimit.Limiter, logger logging.Logger) *Core {
	return &Core{executor: executor, limiter: limiter, logger: logger, tracer: trace.New("cheshire-core/dispatch")}
}

// SetTracer overrides the Tracer dispatch spans are emitted under;
// passing nil disables span emission entirely.
func (c *Core) SetTracer(t *trace.Tracer) {
	c.tracer = t
}

// Dispatch runs the §4.11 algorithm: build a SessionContext and
// SessionTask from env, rate-limit check, execute, and pattern-match
// the TaskResult into a ResponseEntity. It never panics the caller's
// goroutine with an unhandled error; every failure path returns a
// populated Error arm.
func (c *Core) Dispatch(ctx context.Context, env canon.RequestEnvelope) (resp canon.ResponseEntity) {
	ctx, span := c.tracer.Start(ctx, "dispatch.Execute",
		attribute.String("capability", env.Capability),
		attribute.String("action", env.Action),
	)
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			cause := cherr.New(cherr.KindExecution, "dispatch panicked: %v", r)
			c.logger.Error("dispatch panicked", "capability", env.Capability, "action", env.Action, "panic", r)
			trace.RecordError(span, cause)
			resp = canon.ResponseError(canon.StatusExecutionFailed, cause, cause.Error())
		}
	}()

	if c.limiter != nil {
		result := c.limiter.Check(env.Context.UserID, env.Capability, env.Action)
		if !result.Allowed {
			cause := cherr.New(cherr.KindConnection, "rate limit exceeded (%s window, %d/%d)", result.LimitType, result.Current, result.Limit)
			c.logger.Warn("request rate limited", "capability", env.Capability, "action", env.Action, "limitType", result.LimitType)
			trace.RecordError(span, cause)
			return canon.ResponseError(canon.StatusServiceUnavailable, cause, cause.Error())
		}
	}

	sctx := sessionContextFrom(env)
	task := buildTask(env)
	result := c.executor.Execute(ctx, task, sctx)
	response := canon.ResultToResponse(result)
	if !response.IsOK() {
		trace.RecordError(span, response.Cause())
	}
	return response
}

func sessionContextFrom(env canon.RequestEnvelope) session.SessionContext {
	return session.SessionContext{
		SessionID:       env.Context.SessionID,
		UserID:          env.Context.UserID,
		TraceID:         env.Context.TraceID,
		SecurityContext: env.Context.SecurityContext,
		Attributes:      env.Context.Attributes,
		Deadline:        env.Context.Deadline,
	}
}

func buildTask(env canon.RequestEnvelope) session.SessionTask {
	data := map[string]any{
		KeyPayloadData:       env.Payload.Data(),
		KeyPayloadParameters: env.Payload.Parameters(),
	}

	metadata := map[string]any{}
	for k, v := range env.Payload.Metadata() {
		metadata[k] = v
	}
	metadata[session.KeyAction] = env.Action
	metadata[session.KeyCapability] = env.Capability
	if env.Context.UserID != "" {
		metadata[session.KeyUserID] = env.Context.UserID
	}
	metadata[KeyDebugContext] = env.Context
	metadata[KeyDebugTaskStartedAt] = time.Now()

	return session.SessionTask{Data: data, Metadata: metadata}
}

// HTTPJSONDispatcher dispatches envelopes arriving over the HTTP_JSON
// binding. Structurally identical to the other non-streaming kinds;
// kept as a distinct type so a ServerFactory can select on concrete
// type or on Kind().
type HTTPJSONDispatcher struct{ *Core }

// NewHTTPJSONDispatcher wraps core for the HTTP_JSON binding.
func NewHTTPJSONDispatcher(core *Core) *HTTPJSONDispatcher { return &HTTPJSONDispatcher{core} }

// Kind reports the transport kind this dispatcher serves.
func (d *HTTPJSONDispatcher) Kind() Kind { return KindHTTPJSON }

// JSONRPCDispatcher dispatches envelopes arriving over the JSONRPC
// binding.
type JSONRPCDispatcher struct{ *Core }

// NewJSONRPCDispatcher wraps core for the JSONRPC binding.
func NewJSONRPCDispatcher(core *Core) *JSONRPCDispatcher { return &JSONRPCDispatcher{core} }

// Kind reports the transport kind this dispatcher serves.
func (d *JSONRPCDispatcher) Kind() Kind { return KindJSONRPC }

// StdioDispatcher dispatches envelopes arriving over the STDIO
// binding.
type StdioDispatcher struct{ *Core }

// NewStdioDispatcher wraps core for the STDIO binding.
func NewStdioDispatcher(core *Core) *StdioDispatcher { return &StdioDispatcher{core} }

// Kind reports the transport kind this dispatcher serves.
func (d *StdioDispatcher) Kind() Kind { return KindStdio }

// StreamingDispatcher dispatches envelopes arriving over the
// STREAMING binding. Its contract differs per §4.11: it returns a
// publisher over output fragments instead of a single ResponseEntity.
// This reference pipeline executes synchronously and produces one
// result, so the publisher carries exactly one fragment before
// closing — a transport wanting true incremental fragments would
// plug a streaming-aware Executor in behind the same Core.
type StreamingDispatcher struct{ *Core }

// NewStreamingDispatcher wraps core for the STREAMING binding.
func NewStreamingDispatcher(core *Core) *StreamingDispatcher { return &StreamingDispatcher{core} }

// Kind reports the transport kind this dispatcher serves.
func (d *StreamingDispatcher) Kind() Kind { return KindStreaming }

// DispatchStream runs the same algorithm as Dispatch but returns a
// channel of fragments. It carries at most one fragment and is always
// closed afterwards; if ctx is done by the time the result is ready,
// the fragment may be dropped and the channel closed without a send.
func (d *StreamingDispatcher) DispatchStream(ctx context.Context, env canon.RequestEnvelope) <-chan canon.ResponseEntity {
	out := make(chan canon.ResponseEntity, 1)
	go func() {
		defer close(out)
		fragment := d.Core.Dispatch(ctx, env)
		select {
		case out <- fragment:
		case <-ctx.Done():
		}
	}()
	return out
}
