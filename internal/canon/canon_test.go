package canon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halimchaibi/cheshire-core/internal/cherr"
)

func TestNewRequestEnvelopeValidatesIdentity(t *testing.T) {
	_, err := NewRequestEnvelope("", "blog", "ping", nil, NO_DATA, RequestContext{})
	require.Error(t, err)
	assert.Equal(t, cherr.KindBadRequest, cherr.KindOf(err))

	env, err := NewRequestEnvelope("r1", "blog", "ping", nil, NO_DATA, RequestContext{})
	require.NoError(t, err)
	assert.Equal(t, "r1", env.RequestID)
	assert.False(t, env.ReceivedAt.IsZero())
}

func TestRequestPayloadParametersReturnsStoredMap(t *testing.T) {
	p := NewRequestPayload("query", map[string]any{"x": 1}, map[string]any{"limit": 10}, nil)
	assert.Equal(t, map[string]any{"limit": 10}, p.Parameters())
}

func TestMapsAreDefensivelySnapshotted(t *testing.T) {
	data := map[string]any{"x": 1}
	in := NewCanonicalInput("echo", data, nil)
	data["x"] = 2

	got := in.Data()
	assert.Equal(t, 1, got["x"])

	got["x"] = 999
	assert.Equal(t, 1, in.Data()["x"])
}

func TestWithMetadataReturnsNewValueLeavesOriginalUnchanged(t *testing.T) {
	in := NewCanonicalInput("echo", nil, map[string]any{"a": 1})
	next := in.WithMetadata(func(m map[string]any) map[string]any {
		m["b"] = 2
		return m
	})

	assert.Equal(t, map[string]any{"a": 1}, in.Metadata())
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, next.Metadata())
}

func TestRequireDataFailsOnMissingKeyAndReturnsAnyTypedValue(t *testing.T) {
	in := NewCanonicalInput("echo", map[string]any{"count": "not-a-number"}, nil)

	_, err := in.RequireData("missing")
	require.Error(t, err)
	assert.Equal(t, cherr.KindBadRequest, cherr.KindOf(err))

	v, err := in.RequireData("count")
	require.NoError(t, err)
	assert.Equal(t, "not-a-number", v)
}

func TestResultToResponseSuccess(t *testing.T) {
	result := TaskSuccess(map[string]any{"x": 1}, map[string]any{"CAPABILITY": "blog"})
	resp := ResultToResponse(result)

	assert.True(t, resp.IsOK())
	assert.Equal(t, map[string]any{"x": 1}, resp.Data())
	assert.Equal(t, "blog", resp.Metadata()["CAPABILITY"])
}

func TestResultToResponseFailurePreservesStatus(t *testing.T) {
	cause := cherr.New(cherr.KindBadRequest, "negative x")
	result := TaskFailure(StatusBadRequest, cause, nil)
	resp := ResultToResponse(result)

	assert.False(t, resp.IsOK())
	assert.Equal(t, StatusBadRequest, resp.Status())
	assert.ErrorIs(t, resp.Cause(), cause)
	assert.Contains(t, resp.Message(), "negative x")
}

func TestRequestContextExpired(t *testing.T) {
	past := time.Now().Add(-time.Millisecond)
	ctx := RequestContext{Deadline: &past}
	assert.True(t, ctx.Expired())

	future := time.Now().Add(time.Hour)
	ctx2 := RequestContext{Deadline: &future}
	assert.False(t, ctx2.Expired())

	ctx3 := RequestContext{}
	assert.False(t, ctx3.Expired())
}

func TestStatusFromKind(t *testing.T) {
	assert.Equal(t, StatusBadRequest, StatusFromKind(cherr.KindBadRequest))
	assert.Equal(t, StatusUnauthorized, StatusFromKind(cherr.KindUnauthorized))
	assert.Equal(t, StatusForbidden, StatusFromKind(cherr.KindForbidden))
	assert.Equal(t, StatusServiceUnavailable, StatusFromKind(cherr.KindTimeout))
	assert.Equal(t, StatusExecutionFailed, StatusFromKind(cherr.KindInternal))
}
