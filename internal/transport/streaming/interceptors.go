// Interceptors adapted from coreengine/grpc/interceptors.go: logging
// and panic recovery around the stream handler, chained the same way
// the teacher chains its unary/stream interceptor lists.
package streaming

import (
	"fmt"
	"runtime/debug"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/halimchaibi/cheshire-core/internal/logging"
)

// StreamLoggingInterceptor logs the start, duration, and outcome of
// every streaming call.
func StreamLoggingInterceptor(logger logging.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		logger.Debug("stream_started", "method", info.FullMethod)

		err := handler(srv, ss)

		duration := time.Since(start)
		if err != nil {
			st, _ := status.FromError(err)
			logger.Error("stream_failed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
				"code", st.Code().String(),
				"error", err.Error(),
			)
		} else {
			logger.Debug("stream_completed",
				"method", info.FullMethod,
				"duration_ms", duration.Milliseconds(),
			)
		}
		return err
	}
}

// RecoveryHandler turns a recovered panic value into a gRPC error.
type RecoveryHandler func(p any) error

// DefaultRecoveryHandler returns an Internal status carrying the
// panic value.
func DefaultRecoveryHandler(p any) error {
	return status.Errorf(codes.Internal, "panic recovered: %v", p)
}

// StreamRecoveryInterceptor recovers from a panic inside the stream
// handler, logs the stack, and turns it into a gRPC error instead of
// crashing the server.
func StreamRecoveryInterceptor(logger logging.Logger, handler RecoveryHandler) grpc.StreamServerInterceptor {
	if handler == nil {
		handler = DefaultRecoveryHandler
	}
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, grpcHandler grpc.StreamHandler) (err error) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("stream_panic_recovered",
					"method", info.FullMethod,
					"panic", fmt.Sprintf("%v", p),
					"stack", string(debug.Stack()),
				)
				err = handler(p)
			}
		}()
		return grpcHandler(srv, ss)
	}
}

// ChainStreamInterceptors composes interceptors so the first wraps
// the second, and so on, around the innermost handler.
func ChainStreamInterceptors(interceptors ...grpc.StreamServerInterceptor) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		chain := handler
		for i := len(interceptors) - 1; i >= 0; i-- {
			interceptor := interceptors[i]
			currentHandler := chain
			chain = func(srv any, ss grpc.ServerStream) error {
				return interceptor(srv, ss, info, currentHandler)
			}
		}
		return chain(srv, ss)
	}
}

// ServerOptions builds the standard recovery+logging stream
// interceptor chain plus the otelgrpc stats handler.
func ServerOptions(logger logging.Logger) []grpc.ServerOption {
	streamInterceptor := ChainStreamInterceptors(
		StreamRecoveryInterceptor(logger, nil),
		StreamLoggingInterceptor(logger),
	)
	return []grpc.ServerOption{
		grpc.StreamInterceptor(streamInterceptor),
		grpc.StatsHandler(otelStatsHandler()),
	}
}
