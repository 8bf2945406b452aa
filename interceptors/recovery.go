package interceptors

import (
	"context"

	"github.com/Keksclan/goSunSquirrel/contextx"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var errInternal = status.Error(codes.Internal, "internal server error")

// RecoveryUnary returns a unary server interceptor that recovers from panics,
// logs them with the request id and returns an Internal gRPC error instead of
// crashing the process. A nil logger discards the report.
func RecoveryUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	logger = orNop(logger)
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(ctx, logger, info.FullMethod, r)
				resp = nil
				err = errInternal
			}
		}()
		return handler(ctx, req)
	}
}

// RecoveryStream returns a stream server interceptor that recovers from panics
// and returns an Internal gRPC error instead of crashing the process.
func RecoveryStream(logger *zap.Logger) grpc.StreamServerInterceptor {
	logger = orNop(logger)
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) (err error) {
		defer func() {
			if r := recover(); r != nil {
				ctx := context.Background()
				if ss != nil {
					ctx = ss.Context()
				}
				logPanic(ctx, logger, info.FullMethod, r)
				err = errInternal
			}
		}()
		return handler(srv, ss)
	}
}

func logPanic(ctx context.Context, logger *zap.Logger, method string, r any) {
	logger.Error("panic in handler",
		zap.String("method", method),
		zap.String("request_id", contextx.RequestIDFromContext(ctx)),
		zap.Any("panic", r),
		zap.Stack("stack"),
	)
}

func orNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
