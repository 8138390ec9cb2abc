package stdio

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/dispatch"
	"github.com/halimchaibi/cheshire-core/internal/logging"
	"github.com/halimchaibi/cheshire-core/internal/session"
)

// syncBuffer guards bytes.Buffer for the tests that read its contents
// from a different goroutine than the one the server writes from.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type fakeExecutor struct {
	lastCtx session.SessionContext
	result  canon.TaskResult
}

func (f *fakeExecutor) Execute(ctx context.Context, task session.SessionTask, sctx session.SessionContext) canon.TaskResult {
	f.lastCtx = sctx
	return f.result
}

func TestHandleLineDerivesIdentityFromFrameContext(t *testing.T) {
	exec := &fakeExecutor{result: canon.TaskSuccess(map[string]any{"id": "1"}, nil)}
	d := dispatch.NewStdioDispatcher(dispatch.NewCore(exec, nil, logging.Noop()))
	var out bytes.Buffer
	s := New("blog", strings.NewReader(""), &out, d, logging.Noop())

	frame, _ := json.Marshal(wireFrame{Action: "createPost", Context: wireContext{SessionID: "s1", UserID: "u1", TraceID: "t1"}})
	s.handleLine(context.Background(), frame)

	assert.Equal(t, "s1", exec.lastCtx.SessionID)
	assert.Equal(t, "u1", exec.lastCtx.UserID)
	assert.Equal(t, "t1", exec.lastCtx.TraceID)

	var resp wireResponse
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	assert.True(t, resp.OK)
	assert.Equal(t, "1", resp.Data["id"])
}

func TestHandleLineRejectsMalformedFrame(t *testing.T) {
	exec := &fakeExecutor{result: canon.TaskSuccess(nil, nil)}
	d := dispatch.NewStdioDispatcher(dispatch.NewCore(exec, nil, logging.Noop()))
	var out bytes.Buffer
	s := New("blog", strings.NewReader(""), &out, d, logging.Noop())

	s.handleLine(context.Background(), []byte("{not json"))

	var resp wireResponse
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(out.Bytes()), &resp))
	assert.False(t, resp.OK)
	assert.Equal(t, string(canon.StatusBadRequest), resp.Status)
}

func TestLoopProcessesMultipleLinesAndSkipsBlankOnes(t *testing.T) {
	exec := &fakeExecutor{result: canon.TaskSuccess(map[string]any{"ok": true}, nil)}
	d := dispatch.NewStdioDispatcher(dispatch.NewCore(exec, nil, logging.Noop()))

	frame1, _ := json.Marshal(wireFrame{Action: "createPost"})
	frame2, _ := json.Marshal(wireFrame{Action: "deletePost"})
	in := strings.NewReader(string(frame1) + "\n\n" + string(frame2) + "\n")

	out := &syncBuffer{}
	s := New("blog", in, out, d, logging.Noop())

	require.NoError(t, s.Start(context.Background()))

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if strings.Count(out.String(), "\n") >= 2 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 2)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
