// Package stdio implements the STDIO transport kind: newline-delimited
// JSON frames read from an io.Reader and written to an io.Writer, one
// request per line. Grounded on the same boundary-adapter weight as
// internal/transport/httpjson (spec §1 treats the concrete stdio loop
// as an external collaborator); the framing technique (bufio.Scanner
// over a line-delimited protocol) mirrors how the teacher's own
// EngineServer.ExecutePipeline streams discrete framed events over a
// single long-lived connection, generalized from gRPC frames to
// newline-delimited JSON.
package stdio

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"

	"github.com/google/uuid"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/dispatch"
	"github.com/halimchaibi/cheshire-core/internal/logging"
)

type wireFrame struct {
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
	RequestID string         `json:"requestId"`
	OK        bool           `json:"ok"`
	Data      map[string]any `json:"data,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Status    string         `json:"status,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// Server is the STDIO runtime.Server implementation: one read/dispatch
// loop per capability over a dedicated in/out pair.
type Server struct {
	capability string
	in         io.Reader
	out        io.Writer
	dispatcher *dispatch.StdioDispatcher
	logger     logging.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Server reading frames from in and writing responses to
// out, dispatching every frame for capability through dispatcher.
func New(capability string, in io.Reader, out io.Writer, dispatcher *dispatch.StdioDispatcher, logger logging.Logger) *Server {
	return &Server{capability: capability, in: in, out: out, dispatcher: dispatcher, logger: logger}
}

// Capability reports the capability this server was bound to.
func (s *Server) Capability() string { return s.capability }

// Start begins the read loop in the background and returns promptly.
func (s *Server) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx)
	return nil
}

func (s *Server) loop(ctx context.Context) {
	defer close(s.done)
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		s.handleLine(ctx, append([]byte(nil), line...))
	}
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var wire wireFrame
	if err := json.Unmarshal(line, &wire); err != nil {
		s.writeError("", canon.StatusBadRequest, err.Error())
		return
	}

	requestID := wire.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	// sessionID/userID/traceID come from the frame's own context
	// object, never a placeholder: each line carries a full
	// RequestContext exactly like the HTTP and JSON-RPC transports.
	payload := canon.NewRequestPayload(wire.Type, wire.Data, wire.Parameters, wire.Metadata)
	reqCtx := canon.NewRequestContext(wire.Context.SessionID, wire.Context.UserID, wire.Context.TraceID, nil)
	env, err := canon.NewRequestEnvelope(requestID, s.capability, wire.Action, nil, payload, reqCtx)
	if err != nil {
		s.writeError(requestID, canon.StatusBadRequest, err.Error())
		return
	}

	resp := s.dispatcher.Dispatch(ctx, env)
	s.writeResult(requestID, resp)
}

func (s *Server) writeResult(requestID string, resp canon.ResponseEntity) {
	if resp.IsOK() {
		s.write(wireResponse{RequestID: requestID, OK: true, Data: resp.Data(), Metadata: resp.Metadata()})
		return
	}
	s.write(wireResponse{RequestID: requestID, OK: false, Status: string(resp.Status()), Message: resp.Message()})
}

func (s *Server) writeError(requestID string, status canon.StatusCategory, message string) {
	s.write(wireResponse{RequestID: requestID, OK: false, Status: string(status), Message: message})
}

func (s *Server) write(wire wireResponse) {
	line, err := json.Marshal(wire)
	if err != nil {
		s.logger.Error("stdio response encode failed", "error", err)
		return
	}
	line = append(line, '\n')
	if _, err := s.out.Write(line); err != nil {
		s.logger.Error("stdio response write failed", "error", err)
	}
}

// Stop cancels the read loop and waits for it to exit, bounded by
// ctx. A loop blocked on Scan with no further input on s.in won't
// observe cancellation until the next line arrives or s.in is closed
// by its owner.
func (s *Server) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	if s.done == nil {
		return nil
	}
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
