package telemetry

import (
	"context"

	"github.com/Keksclan/goSunSquirrel/contextx"
	_ "github.com/Keksclan/goSunSquirrel/internal/wire" // JSON codec for the message types below
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Query selects a device for per-ID resources. It is ignored elsewhere.
type Query struct {
	ID string `json:"id,omitempty"`
}

// RowReply carries a single-record result.
type RowReply struct {
	Row Row `json:"row"`
}

// RowsReply carries a result set.
type RowsReply struct {
	Rows []Row `json:"rows"`
}

func (*Query) JSONMessage()     {}
func (*RowReply) JSONMessage()  {}
func (*RowsReply) JSONMessage() {}

// Server is the interface that a Telemetry service implementation must
// satisfy. *Service implements it.
type Server interface {
	Rows(ctx context.Context, res Resource, id string) ([]Row, error)
	Row(ctx context.Context, res Resource) (Row, error)
}

var _ Server = (*Service)(nil)

// ServiceDesc is the grpc.ServiceDesc for the scada.Telemetry service. It has
// one method per entry in Resources. EnergyData replies with a RowReply,
// every other method with a RowsReply.
var ServiceDesc = newServiceDesc()

func newServiceDesc() grpc.ServiceDesc {
	methods := make([]grpc.MethodDesc, 0, len(Resources))
	for _, res := range Resources {
		h := rowsHandler(res)
		if res == EnergyData {
			h = rowHandler(res)
		}
		methods = append(methods, grpc.MethodDesc{MethodName: res.Method, Handler: h})
	}
	return grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*Server)(nil),
		Methods:     methods,
		Streams:     []grpc.StreamDesc{},
		Metadata:    "scada/telemetry.proto",
	}
}

// Register registers a Telemetry implementation on the given gRPC server.
// Failed fetches are logged to logger (may be nil) before being reported to
// the client as Internal.
func Register(s grpc.ServiceRegistrar, srv Server, logger *zap.Logger) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s.RegisterService(&ServiceDesc, &registered{Server: srv, logger: logger})
}

// registered pairs an implementation with the logger used by the method
// handlers.
type registered struct {
	Server
	logger *zap.Logger
}

func rowsHandler(res Resource) grpc.MethodHandler {
	return unary(res, func(ctx context.Context, srv *registered, q *Query) (any, error) {
		rows, err := srv.Rows(ctx, res, q.ID)
		if err != nil {
			return nil, srv.toStatus(ctx, res, err)
		}
		return &RowsReply{Rows: rows}, nil
	})
}

func rowHandler(res Resource) grpc.MethodHandler {
	return unary(res, func(ctx context.Context, srv *registered, _ *Query) (any, error) {
		row, err := srv.Row(ctx, res)
		if err != nil {
			return nil, srv.toStatus(ctx, res, err)
		}
		return &RowReply{Row: row}, nil
	})
}

func unary(res Resource, call func(context.Context, *registered, *Query) (any, error)) grpc.MethodHandler {
	fullMethod := res.FullMethod()
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		q := new(Query)
		if err := dec(q); err != nil {
			return nil, err
		}
		r := srv.(*registered)
		if interceptor == nil {
			return call(ctx, r, q)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: fullMethod,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(ctx, r, req.(*Query))
		}
		return interceptor(ctx, q, info, handler)
	}
}

// toStatus hides data-layer failures behind a generic Internal error. Errors
// that already carry a gRPC status pass through.
func (r *registered) toStatus(ctx context.Context, res Resource, err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	r.logger.Error("telemetry fetch failed",
		zap.String("resource", res.Name),
		zap.String("request_id", contextx.RequestIDFromContext(ctx)),
		zap.String("policy_group", contextx.PolicyGroupFromContext(ctx)),
		zap.Error(err),
	)
	return status.Error(codes.Internal, "internal server error")
}
