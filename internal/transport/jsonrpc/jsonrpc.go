// Package jsonrpc implements the JSONRPC transport kind: a JSON-RPC
// 2.0 envelope over HTTP POST, where the RPC method names the action
// and params carries the action's data/parameters. Structurally this
// is the same boundary-adapter weight as internal/transport/httpjson
// per spec §1 — a minimal reference implementation of an external
// collaborator's contract, grounded the same way on
// coreengine/grpc/server.go's Start/StartBackground pair.
package jsonrpc

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/dispatch"
	"github.com/halimchaibi/cheshire-core/internal/logging"
)

const protocolVersion = "2.0"

type rpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  rpcParams   `json:"params"`
	ID      any         `json:"id"`
	Context wireContext `json:"context"`
}

type rpcParams struct {
	Data       map[string]any `json:"data"`
	Parameters map[string]any `json:"parameters"`
	Metadata   map[string]any `json:"metadata"`
}

type wireContext struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	TraceID   string `json:"traceId"`
}

type rpcResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  *rpcResult  `json:"result,omitempty"`
	Error   *rpcError   `json:"error,omitempty"`
	ID      any         `json:"id"`
}

type rpcResult struct {
	Data     map[string]any `json:"data"`
	Metadata map[string]any `json:"metadata"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Server is the JSONRPC runtime.Server implementation.
type Server struct {
	capability string
	addr       string
	dispatcher *dispatch.JSONRPCDispatcher
	logger     logging.Logger
	httpServer *http.Server
}

// New builds a Server listening on addr, dispatching every request
// for capability through dispatcher.
func New(capability, addr string, dispatcher *dispatch.JSONRPCDispatcher, logger logging.Logger) *Server {
	return &Server{capability: capability, addr: addr, dispatcher: dispatcher, logger: logger}
}

// Capability reports the capability this server was bound to.
func (s *Server) Capability() string { return s.capability }

// Start begins accepting connections in the background.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("jsonrpc server exited", "capability", s.capability, "error", err)
		}
	}()
	return nil
}

// Stop attempts a graceful drain bounded by ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, nil, canon.StatusBadRequest, err.Error())
		return
	}

	requestID := uuid.NewString()
	payload := canon.NewRequestPayload("", req.Params.Data, req.Params.Parameters, req.Params.Metadata)
	reqCtx := canon.NewRequestContext(req.Context.SessionID, req.Context.UserID, req.Context.TraceID, nil)
	env, err := canon.NewRequestEnvelope(requestID, s.capability, req.Method, nil, payload, reqCtx)
	if err != nil {
		writeError(w, req.ID, canon.StatusBadRequest, err.Error())
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), env)
	writeResult(w, req.ID, resp)
}

func writeResult(w http.ResponseWriter, id any, resp canon.ResponseEntity) {
	w.Header().Set("Content-Type", "application/json")
	if resp.IsOK() {
		_ = json.NewEncoder(w).Encode(rpcResponse{
			JSONRPC: protocolVersion,
			ID:      id,
			Result:  &rpcResult{Data: resp.Data(), Metadata: resp.Metadata()},
		})
		return
	}
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: protocolVersion,
		ID:      id,
		Error:   &rpcError{Code: -32000, Message: resp.Message(), Status: string(resp.Status())},
	})
}

func writeError(w http.ResponseWriter, id any, status canon.StatusCategory, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: protocolVersion,
		ID:      id,
		Error:   &rpcError{Code: -32600, Message: message, Status: string(status)},
	})
}
