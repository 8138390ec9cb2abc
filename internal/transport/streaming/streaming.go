// Package streaming implements the STREAMING transport kind as a
// hand-registered gRPC server-streaming service. The teacher's own
// gRPC surface (coreengine/grpc) is generated from a .proto file that
// this retrieval pack filtered out as generated code, so instead of
// protoc-compiled request/response types this package registers a
// grpc.ServiceDesc directly against a JSON wire codec: envelopes in,
// response fragments out, framed exactly like coreengine/grpc's own
// discrete stream.Send events, just without the generated stub.
package streaming

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/stats"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"

	"github.com/halimchaibi/cheshire-core/internal/canon"
	"github.com/halimchaibi/cheshire-core/internal/dispatch"
	"github.com/halimchaibi/cheshire-core/internal/logging"
)

// codecName is the gRPC content-subtype clients must negotiate
// ("application/grpc+json") to have their frames decoded by jsonCodec
// instead of the default proto codec.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

func otelStatsHandler() stats.Handler {
	return otelgrpc.NewServerHandler()
}

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

type wireFragment struct {
	OK       bool           `json:"ok"`
	Data     map[string]any `json:"data,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
	Status   string         `json:"status,omitempty"`
	Message  string         `json:"message,omitempty"`
}

// serviceDesc declares one server-streaming RPC, Execute, bound to
// streamHandler below. HandlerType is left untyped (any) since there
// is no generated service interface to satisfy; streamHandler type
// -asserts srv back to *Server itself.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "cheshire.streaming.Pipeline",
	HandlerType: (*any)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Execute",
			Handler:       streamHandler,
			ServerStreams: true,
		},
	},
	Metadata: "streaming.proto",
}

func streamHandler(srv any, stream grpc.ServerStream) error {
	s := srv.(*Server)

	var frame wireFrame
	if err := stream.RecvMsg(&frame); err != nil {
		return err
	}

	requestID := frame.RequestID
	if requestID == "" {
		requestID = s.nextRequestID()
	}

	payload := canon.NewRequestPayload(frame.Type, frame.Data, frame.Parameters, frame.Metadata)
	reqCtx := canon.NewRequestContext(frame.Context.SessionID, frame.Context.UserID, frame.Context.TraceID, nil)
	env, err := canon.NewRequestEnvelope(requestID, s.capability, frame.Action, nil, payload, reqCtx)
	if err != nil {
		return stream.SendMsg(fragmentFromError(err))
	}

	for resp := range s.dispatcher.DispatchStream(stream.Context(), env) {
		if err := stream.SendMsg(fragmentFrom(resp)); err != nil {
			return err
		}
	}
	return nil
}

func fragmentFrom(resp canon.ResponseEntity) wireFragment {
	if resp.IsOK() {
		return wireFragment{OK: true, Data: resp.Data(), Metadata: resp.Metadata()}
	}
	return wireFragment{OK: false, Status: string(resp.Status()), Message: resp.Message()}
}

func fragmentFromError(err error) wireFragment {
	return wireFragment{OK: false, Status: string(canon.StatusBadRequest), Message: err.Error()}
}

// Server is the STREAMING runtime.Server implementation: a gRPC
// server hosting exactly one service, the one capability it was
// bound to.
type Server struct {
	capability string
	addr       string
	dispatcher *dispatch.StreamingDispatcher
	logger     logging.Logger

	grpcServer *grpc.Server
	listener   net.Listener

	idSeq atomic.Int64
}

// New builds a Server listening on addr, dispatching every streamed
// request for capability through dispatcher.
func New(capability, addr string, dispatcher *dispatch.StreamingDispatcher, logger logging.Logger) *Server {
	return &Server{capability: capability, addr: addr, dispatcher: dispatcher, logger: logger}
}

// Capability reports the capability this server was bound to.
func (s *Server) Capability() string { return s.capability }

func (s *Server) nextRequestID() string {
	return fmt.Sprintf("%s-stream-%d", s.capability, s.idSeq.Add(1))
}

// Start listens on addr and begins serving in the background,
// mirroring coreengine/grpc's StartBackground.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("streaming: listen %s: %w", s.addr, err)
	}
	s.listener = lis

	s.grpcServer = grpc.NewServer(ServerOptions(s.logger)...)
	s.grpcServer.RegisterService(&serviceDesc, s)

	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			s.logger.Error("streaming server exited", "capability", s.capability, "error", err)
		}
	}()
	s.logger.Info("streaming server started", "capability", s.capability, "addr", s.addr)
	return nil
}

// Stop gracefully drains in-flight streams, mirroring
// coreengine/grpc's GracefulStop.
func (s *Server) Stop(ctx context.Context) error {
	if s.grpcServer == nil {
		return nil
	}
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.grpcServer.Stop()
		return ctx.Err()
	}
}
