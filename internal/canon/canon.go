// Package canon implements the framework's canonical data model: the
// envelope types carried from a transport into a session, and the
// closed result/response variants carried back out. Grounded on the
// teacher's coreengine/envelope package, generalized from its
// pipeline-agent-specific envelope into a capability/action-oriented
// one.
package canon

import (
	"maps"
	"time"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
)

// StatusCategory is the closed set of coarse outcome categories
// reported back to transports.
type StatusCategory string

const (
	StatusSuccess            StatusCategory = "SUCCESS"
	StatusBadRequest         StatusCategory = "BAD_REQUEST"
	StatusUnauthorized       StatusCategory = "UNAUTHORIZED"
	StatusForbidden          StatusCategory = "FORBIDDEN"
	StatusNotFound           StatusCategory = "NOT_FOUND"
	StatusExecutionFailed    StatusCategory = "EXECUTION_FAILED"
	StatusServiceUnavailable StatusCategory = "SERVICE_UNAVAILABLE"
)

func snapshot(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	maps.Copy(out, m)
	return out
}

// RequestContext carries session/user/trace identity and the caller's
// deadline, if any.
type RequestContext struct {
	SessionID       string
	UserID          string
	TraceID         string
	SecurityContext any
	Attributes      map[string]any
	ArrivedAt       time.Time
	Deadline        *time.Time
}

// NewRequestContext builds a RequestContext, snapshotting attributes
// and stamping ArrivedAt with the current time.
func NewRequestContext(sessionID, userID, traceID string, attributes map[string]any) RequestContext {
	return RequestContext{
		SessionID:  sessionID,
		UserID:     userID,
		TraceID:    traceID,
		Attributes: snapshot(attributes),
		ArrivedAt:  time.Now(),
	}
}

// Expired reports whether the context's deadline, if set, has passed.
func (c RequestContext) Expired() bool {
	return c.Deadline != nil && time.Now().After(*c.Deadline)
}

// RequestPayload is the request's `{ type, data, parameters, metadata }`
// shape.
type RequestPayload struct {
	Type       string
	data       map[string]any
	parameters map[string]any
	metadata   map[string]any
}

// NO_DATA is the sentinel payload used in place of a nullable payload.
var NO_DATA = RequestPayload{data: map[string]any{}, parameters: map[string]any{}, metadata: map[string]any{}} //nolint:revive,stylecheck // sentinel name mirrors the framework's wire vocabulary

// NewRequestPayload builds a payload, snapshotting all three maps.
func NewRequestPayload(typ string, data, parameters, metadata map[string]any) RequestPayload {
	return RequestPayload{
		Type:       typ,
		data:       snapshot(data),
		parameters: snapshot(parameters),
		metadata:   snapshot(metadata),
	}
}

// Data returns the backing data map.
func (p RequestPayload) Data() map[string]any { return p.data }

// Parameters returns the backing parameters map. The teacher's source
// has a self-recursive bug here (parameters() calling itself); this
// returns the stored map instead.
func (p RequestPayload) Parameters() map[string]any { return p.parameters }

// Metadata returns the backing metadata map.
func (p RequestPayload) Metadata() map[string]any { return p.metadata }

// RequestEnvelope is the canonical inbound request, identical in
// shape regardless of which transport produced it.
type RequestEnvelope struct {
	RequestID    string
	Capability   string
	Action       string
	ProtocolMeta map[string]any
	Payload      RequestPayload
	Context      RequestContext
	ReceivedAt   time.Time
}

// NewRequestEnvelope validates the required identity fields and
// stamps ReceivedAt with the current time.
func NewRequestEnvelope(requestID, capability, action string, protocolMeta map[string]any, payload RequestPayload, ctx RequestContext) (RequestEnvelope, error) {
	if requestID == "" {
		return RequestEnvelope{}, cherr.New(cherr.KindBadRequest, "requestID is required")
	}
	if capability == "" {
		return RequestEnvelope{}, cherr.New(cherr.KindBadRequest, "capability is required")
	}
	if action == "" {
		return RequestEnvelope{}, cherr.New(cherr.KindBadRequest, "action is required")
	}
	return RequestEnvelope{
		RequestID:    requestID,
		Capability:   capability,
		Action:       action,
		ProtocolMeta: snapshot(protocolMeta),
		Payload:      payload,
		Context:      ctx,
		ReceivedAt:   time.Now(),
	}, nil
}

// mapValue is a map<string,any> data/metadata bundle that snapshots
// on construction and returns new values from mutators instead of
// mutating in place. Keys present at construction are taken from a
// Go map and have no defined order; keys added later by with are
// appended in the order they were added.
type mapValue struct {
	keys []string
	data map[string]any
}

func newMapValue(m map[string]any) mapValue {
	s := snapshot(m)
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	return mapValue{keys: keys, data: s}
}

// Get returns the value and whether the key was present.
func (v mapValue) Get(key string) (any, bool) {
	val, ok := v.data[key]
	return val, ok
}

// Keys returns the construction-time keys in unspecified order,
// followed by keys added later in the order they were added.
func (v mapValue) Keys() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Map returns a defensive copy of the backing map.
func (v mapValue) Map() map[string]any { return snapshot(v.data) }

func (v mapValue) with(key string, value any) mapValue {
	next := snapshot(v.data)
	next[key] = value
	keys := v.keys
	if _, existed := v.data[key]; !existed {
		keys = append(append([]string{}, v.keys...), key)
	}
	return mapValue{keys: keys, data: next}
}

// RequireAs fetches key from the map and type-asserts it to T. A
// missing key and a wrong-typed value both fail with
// cherr.KindBadRequest; only the error message tells them apart.
func RequireAs[T any](v mapValue, key string) (T, error) {
	var zero T
	raw, ok := v.Get(key)
	if !ok {
		return zero, cherr.New(cherr.KindBadRequest, "missing required key %q", key)
	}
	typed, ok := raw.(T)
	if !ok {
		return zero, cherr.New(cherr.KindBadRequest, "key %q has wrong type: %T", key, raw)
	}
	return typed, nil
}

// CanonicalInput is the pipeline-facing `{data, metadata}` input
// shape, tagged with which concrete shape it was built for.
type CanonicalInput struct {
	Shape string
	dataV mapValue
	metaV mapValue
}

// NewCanonicalInput builds a CanonicalInput for the given declared shape.
func NewCanonicalInput(shape string, data, metadata map[string]any) CanonicalInput {
	return CanonicalInput{Shape: shape, dataV: newMapValue(data), metaV: newMapValue(metadata)}
}

// Data returns a defensive copy of the input's data map.
func (c CanonicalInput) Data() map[string]any { return c.dataV.Map() }

// Metadata returns a defensive copy of the input's metadata map.
func (c CanonicalInput) Metadata() map[string]any { return c.metaV.Map() }

// RequireData fetches and type-asserts a data key.
func (c CanonicalInput) RequireData(key string) (any, error) {
	return RequireAs[any](c.dataV, key)
}

// RequireMetadata fetches and type-asserts a metadata key.
func (c CanonicalInput) RequireMetadata(key string) (any, error) {
	return RequireAs[any](c.metaV, key)
}

// WithMetadata returns a new CanonicalInput whose metadata is derived
// by fn from the current metadata map. The receiver is unchanged.
func (c CanonicalInput) WithMetadata(fn func(map[string]any) map[string]any) CanonicalInput {
	next := fn(c.metaV.Map())
	return CanonicalInput{Shape: c.Shape, dataV: c.dataV, metaV: newMapValue(next)}
}

// CanonicalOutput is the pipeline-facing `{data, metadata}` output shape.
type CanonicalOutput struct {
	Shape string
	dataV mapValue
	metaV mapValue
}

// NewCanonicalOutput builds a CanonicalOutput for the given declared shape.
func NewCanonicalOutput(shape string, data, metadata map[string]any) CanonicalOutput {
	return CanonicalOutput{Shape: shape, dataV: newMapValue(data), metaV: newMapValue(metadata)}
}

// Data returns a defensive copy of the output's data map.
func (c CanonicalOutput) Data() map[string]any { return c.dataV.Map() }

// Metadata returns a defensive copy of the output's metadata map.
func (c CanonicalOutput) Metadata() map[string]any { return c.metaV.Map() }

// WithMetadata returns a new CanonicalOutput with metadata replaced by
// the result of fn. The receiver is unchanged.
func (c CanonicalOutput) WithMetadata(fn func(map[string]any) map[string]any) CanonicalOutput {
	next := fn(c.metaV.Map())
	return CanonicalOutput{Shape: c.Shape, dataV: c.dataV, metaV: newMapValue(next)}
}

// TaskResult is the closed Success|Failure variant returned by a
// session's execute step. Exactly one of the accessors is valid;
// callers must switch on IsSuccess before reading either.
type TaskResult struct {
	success  bool
	output   map[string]any
	outMeta  map[string]any
	status   StatusCategory
	cause    error
	failMeta map[string]any
}

// TaskSuccess builds a successful TaskResult.
func TaskSuccess(output, metadata map[string]any) TaskResult {
	return TaskResult{success: true, output: snapshot(output), outMeta: snapshot(metadata)}
}

// TaskFailure builds a failed TaskResult.
func TaskFailure(status StatusCategory, cause error, metadata map[string]any) TaskResult {
	return TaskResult{success: false, status: status, cause: cause, failMeta: snapshot(metadata)}
}

// IsSuccess reports which arm of the variant is populated.
func (t TaskResult) IsSuccess() bool { return t.success }

// Output returns the success arm's output map. Only valid when
// IsSuccess() is true.
func (t TaskResult) Output() map[string]any { return snapshot(t.output) }

// OutputMetadata returns the success arm's metadata map.
func (t TaskResult) OutputMetadata() map[string]any { return snapshot(t.outMeta) }

// Status returns the failure arm's status category. Only valid when
// IsSuccess() is false.
func (t TaskResult) Status() StatusCategory { return t.status }

// Cause returns the failure arm's underlying error.
func (t TaskResult) Cause() error { return t.cause }

// FailureMetadata returns the failure arm's metadata map.
func (t TaskResult) FailureMetadata() map[string]any { return snapshot(t.failMeta) }

// ResponseEntity is the closed OK|Error variant a dispatcher returns
// to a transport.
type ResponseEntity struct {
	ok       bool
	data     map[string]any
	metadata map[string]any
	status   StatusCategory
	cause    error
	message  string
}

// ResponseOK builds a successful ResponseEntity.
func ResponseOK(data, metadata map[string]any) ResponseEntity {
	return ResponseEntity{ok: true, data: snapshot(data), metadata: snapshot(metadata)}
}

// ResponseError builds a failed ResponseEntity.
func ResponseError(status StatusCategory, cause error, message string) ResponseEntity {
	return ResponseEntity{ok: false, status: status, cause: cause, message: message}
}

// IsOK reports which arm of the variant is populated.
func (r ResponseEntity) IsOK() bool { return r.ok }

// Data returns the OK arm's data map.
func (r ResponseEntity) Data() map[string]any { return snapshot(r.data) }

// Metadata returns the OK arm's metadata map.
func (r ResponseEntity) Metadata() map[string]any { return snapshot(r.metadata) }

// Status returns the Error arm's status category.
func (r ResponseEntity) Status() StatusCategory { return r.status }

// Cause returns the Error arm's underlying error, if any.
func (r ResponseEntity) Cause() error { return r.cause }

// Message returns the Error arm's human-readable message.
func (r ResponseEntity) Message() string { return r.message }

// ResultToResponse maps a TaskResult to a ResponseEntity without
// altering the status category on the failure arm.
func ResultToResponse(result TaskResult) ResponseEntity {
	if result.IsSuccess() {
		return ResponseOK(result.Output(), result.OutputMetadata())
	}
	msg := ""
	if result.Cause() != nil {
		msg = result.Cause().Error()
	}
	return ResponseError(result.Status(), result.Cause(), msg)
}

// StatusFromKind maps a cherr.Kind to the nearest StatusCategory, used
// when a session must translate a raw pipeline error into a
// TaskResult.Failure.
func StatusFromKind(kind cherr.Kind) StatusCategory {
	switch kind {
	case cherr.KindBadRequest:
		return StatusBadRequest
	case cherr.KindUnauthorized:
		return StatusUnauthorized
	case cherr.KindForbidden:
		return StatusForbidden
	case cherr.KindTimeout, cherr.KindConnection:
		return StatusServiceUnavailable
	default:
		return StatusExecutionFailed
	}
}
