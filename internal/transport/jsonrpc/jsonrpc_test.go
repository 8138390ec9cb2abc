package jsonrpc

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/dispatch"
	"github.com/halimchaibi/cheshire-core/internal/logging"
	"github.com/halimchaibi/cheshire-core/internal/session"
)

type fakeExecutor struct {
	result canon.TaskResult
}

func (f *fakeExecutor) Execute(ctx context.Context, task session.SessionTask, sctx session.SessionContext) canon.TaskResult {
	return f.result
}

func TestHandleReturnsJSONRPCResultOnSuccess(t *testing.T) {
	exec := &fakeExecutor{result: canon.TaskSuccess(map[string]any{"id": "1"}, nil)}
	d := dispatch.NewJSONRPCDispatcher(dispatch.NewCore(exec, nil, logging.Noop()))
	s := New("blog", ":0", d, logging.Noop())

	body, _ := json.Marshal(rpcRequest{JSONRPC: protocolVersion, Method: "createPost", ID: float64(7)})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "1", resp.Result.Data["id"])
	assert.EqualValues(t, 7, resp.ID)
}

func TestHandleReturnsJSONRPCErrorOnFailure(t *testing.T) {
	exec := &fakeExecutor{result: canon.TaskFailure(canon.StatusBadRequest, assertErr, nil)}
	d := dispatch.NewJSONRPCDispatcher(dispatch.NewCore(exec, nil, logging.Noop()))
	s := New("blog", ":0", d, logging.Noop())

	body, _ := json.Marshal(rpcRequest{JSONRPC: protocolVersion, Method: "createPost"})
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, string(canon.StatusBadRequest), resp.Error.Status)
}

func TestHandleRejectsMalformedBody(t *testing.T) {
	exec := &fakeExecutor{result: canon.TaskSuccess(nil, nil)}
	d := dispatch.NewJSONRPCDispatcher(dispatch.NewCore(exec, nil, logging.Noop()))
	s := New("blog", ":0", d, logging.Noop())

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{bad")))
	rec := httptest.NewRecorder()
	s.handle(rec, req)

	var resp rpcResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
}

type stubErr struct{ msg string }

func (e *stubErr) Error() string { return e.msg }

var assertErr = &stubErr{"boom"}
