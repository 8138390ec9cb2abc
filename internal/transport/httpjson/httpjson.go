// Package httpjson implements the HTTP_JSON transport kind: a thin
// net/http boundary adapter that decodes one JSON request body per
// POST into a canon.RequestEnvelope, calls the shared dispatcher, and
// writes back the ResponseEntity. Per spec §1, the concrete HTTP
// binding is an external collaborator whose only specified surface is
// its boundary contract, so this stays a minimal reference adapter
// rather than a routing framework — grounded on
// coreengine/grpc/server.go's Start/StartBackground pair, generalized
// from gRPC's net.Listener to net/http.Server.
package httpjson

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/dispatch"
	"github.com/halimchaibi/cheshire-core/internal/logging"
)

// wireRequest is the JSON shape accepted on the request body.
type wireRequest struct {
	RequestID  string         `json:"requestId"`
	Action     string         `json:"action"`
	Type       string         `json:"type"`
	Data       map[string]any `json:"data"`
	Parameters map[string]any `json:"parameters"`
	Metadata   map[string]any `json:"metadata"`
	Context    wireContext    `json:"context"`
}

type wireContext struct {
	SessionID string `json:"sessionId"`
	UserID    string `json:"userId"`
	TraceID   string `json:"traceId"`
}

type wireResponse struct {
	OK       bool           `json:"ok"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Status   string         `json:"status,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// Server is the HTTP_JSON runtime.Server implementation: one
// net/http.Server per capability, bound to a single dispatcher.
type Server struct {
	capability string
	addr       string
	dispatcher *dispatch.HTTPJSONDispatcher
	logger     logging.Logger
	httpServer *http.Server
}

// New builds a Server listening on addr, dispatching every request
// for capability through dispatcher.
func New(capability, addr string, dispatcher *dispatch.HTTPJSONDispatcher, logger logging.Logger) *Server {
	return &Server{capability: capability, addr: addr, dispatcher: dispatcher, logger: logger}
}

// Capability reports the capability this server was bound to.
func (s *Server) Capability() string { return s.capability }

// Start begins accepting connections in the background and returns
// promptly, per §6's Server contract.
func (s *Server) Start(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handle)
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("httpjson server exited", "capability", s.capability, "error", err)
		}
	}()
	return nil
}

// Stop attempts a graceful drain via http.Server.Shutdown, bounded by
// ctx.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	var wire wireRequest
	if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
		writeResponse(w, wireResponse{OK: false, Status: string(canon.StatusBadRequest), Message: err.Error()})
		return
	}

	requestID := wire.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	payload := canon.NewRequestPayload(wire.Type, wire.Data, wire.Parameters, wire.Metadata)
	reqCtx := canon.NewRequestContext(wire.Context.SessionID, wire.Context.UserID, wire.Context.TraceID, nil)
	env, err := canon.NewRequestEnvelope(requestID, s.capability, wire.Action, nil, payload, reqCtx)
	if err != nil {
		writeResponse(w, wireResponse{OK: false, Status: string(canon.StatusBadRequest), Message: err.Error()})
		return
	}

	resp := s.dispatcher.Dispatch(r.Context(), env)
	writeResponse(w, responseToWire(resp))
}

func responseToWire(resp canon.ResponseEntity) wireResponse {
	if resp.IsOK() {
		return wireResponse{OK: true, Data: resp.Data(), Metadata: resp.Metadata()}
	}
	return wireResponse{OK: false, Status: string(resp.Status()), Message: resp.Message()}
}

func writeResponse(w http.ResponseWriter, wire wireResponse) {
	w.Header().Set("Content-Type", "application/json")
	if !wire.OK {
		w.WriteHeader(statusToHTTP(canon.StatusCategory(wire.Status)))
	}
	_ = json.NewEncoder(w).Encode(wire)
}

func statusToHTTP(status canon.StatusCategory) int {
	switch status {
	case canon.StatusBadRequest:
		return http.StatusBadRequest
	case canon.StatusUnauthorized:
		return http.StatusUnauthorized
	case canon.StatusForbidden:
		return http.StatusForbidden
	case canon.StatusNotFound:
		return http.StatusNotFound
	case canon.StatusServiceUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
