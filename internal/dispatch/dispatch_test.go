package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/logging"
	"github.com/halimchaibi/cheshire-core/internal/ratelimit"
	"github.com/halimchaibi/cheshire-core/internal/session"
)

type fakeExecutor struct {
	lastTask session.SessionTask
	lastCtx  session.SessionContext
	result   canon.TaskResult
}

func (f *fakeExecutor) Execute(ctx context.Context, task session.SessionTask, sctx session.SessionContext) canon.TaskResult {
	f.lastTask = task
	f.lastCtx = sctx
	return f.result
}

func testEnvelope(t *testing.T) canon.RequestEnvelope {
	payload := canon.NewRequestPayload("post.create", map[string]any{"title": "hi"}, map[string]any{"draft": true}, map[string]any{"trace-hint": "abc"})
	env, err := canon.NewRequestEnvelope("req-1", "blog", "createPost", nil, payload, canon.RequestContext{SessionID: "s1", UserID: "u1", TraceID: "t1"})
	require.NoError(t, err)
	return env
}

func TestDispatchBuildsTaskFromEnvelope(t *testing.T) {
	exec := &fakeExecutor{result: canon.TaskSuccess(map[string]any{"id": "1"}, nil)}
	core := NewCore(exec, nil, logging.Noop())

	resp := core.Dispatch(context.Background(), testEnvelope(t))
	require.True(t, resp.IsOK())
	assert.Equal(t, "1", resp.Data()["id"])

	assert.Equal(t, "createPost", exec.lastTask.Metadata[session.KeyAction])
	assert.Equal(t, "blog", exec.lastTask.Metadata[session.KeyCapability])
	assert.Equal(t, "u1", exec.lastTask.Metadata[session.KeyUserID])
	assert.Equal(t, "abc", exec.lastTask.Metadata["trace-hint"])
	assert.NotNil(t, exec.lastTask.Metadata[KeyDebugTaskStartedAt])

	payloadData, ok := exec.lastTask.Data[KeyPayloadData].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "hi", payloadData["title"])

	assert.Equal(t, "s1", exec.lastCtx.SessionID)
	assert.Equal(t, "t1", exec.lastCtx.TraceID)
}

func TestDispatchMapsFailureResult(t *testing.T) {
	exec := &fakeExecutor{result: canon.TaskFailure(canon.StatusBadRequest, assertErr, nil)}
	core := NewCore(exec, nil, logging.Noop())

	resp := core.Dispatch(context.Background(), testEnvelope(t))
	require.False(t, resp.IsOK())
	assert.Equal(t, canon.StatusBadRequest, resp.Status())
}

func TestDispatchRejectsWhenRateLimited(t *testing.T) {
	exec := &fakeExecutor{result: canon.TaskSuccess(nil, nil)}
	limiter := ratelimit.NewLimiter(ratelimit.Config{PerMinute: 1})
	core := NewCore(exec, limiter, logging.Noop())

	env := testEnvelope(t)
	first := core.Dispatch(context.Background(), env)
	require.True(t, first.IsOK())

	second := core.Dispatch(context.Background(), env)
	require.False(t, second.IsOK())
	assert.Equal(t, canon.StatusServiceUnavailable, second.Status())
}

func TestParseKindIsCaseInsensitiveAndRejectsUnknown(t *testing.T) {
	kind, err := ParseKind("http_json")
	require.NoError(t, err)
	assert.Equal(t, KindHTTPJSON, kind)

	_, err = ParseKind("carrier-pigeon")
	require.Error(t, err)
}

func TestStreamingDispatcherSendsExactlyOneFragment(t *testing.T) {
	exec := &fakeExecutor{result: canon.TaskSuccess(map[string]any{"ok": true}, nil)}
	d := NewStreamingDispatcher(NewCore(exec, nil, logging.Noop()))

	ch := d.DispatchStream(context.Background(), testEnvelope(t))
	frag, ok := <-ch
	require.True(t, ok)
	assert.True(t, frag.IsOK())

	_, ok = <-ch
	assert.False(t, ok)
}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }

var assertErr = &stubErr{"boom"}
