// Package health provides the scada.Health/Check RPC. It reports the process
// as serving together with the state of the shared cache backend. A cache
// outage is informational only: the service keeps serving from the backing
// store, so it never reports NOT_SERVING because of the cache.
package health

import (
	"context"
	"time"

	"github.com/Keksclan/goSunSquirrel/cache"
	_ "github.com/Keksclan/goSunSquirrel/internal/wire" // JSON codec for the message types below
	"google.golang.org/grpc"
)

// Serving is the only status the check reports.
const Serving = "SERVING"

// CacheDisabled is reported when no cache backend is configured.
const CacheDisabled = "disabled"

// CheckRequest is the input for the Check method.
type CheckRequest struct{}

// CheckResponse is the output of the Check method.
type CheckResponse struct {
	Status         string `json:"status"`
	Cache          string `json:"cache"`
	ServerTimeUnix int64  `json:"server_time_unix"`
}

func (*CheckRequest) JSONMessage()  {}
func (*CheckResponse) JSONMessage() {}

// CacheProbe reports the connection state of the cache backend.
// *cache.Client satisfies it.
type CacheProbe interface {
	State() cache.State
}

// Handler is the interface that a Health service implementation must satisfy.
type Handler interface {
	Check(ctx context.Context, req *CheckRequest) (*CheckResponse, error)
}

// NewHandler returns a Handler reporting the state of probe. A nil probe
// reports the cache as disabled.
func NewHandler(probe CacheProbe) Handler {
	return handler{probe: probe}
}

type handler struct {
	probe CacheProbe
}

func (h handler) Check(context.Context, *CheckRequest) (*CheckResponse, error) {
	state := CacheDisabled
	if h.probe != nil {
		state = h.probe.State().String()
	}
	return &CheckResponse{
		Status:         Serving,
		Cache:          state,
		ServerTimeUnix: time.Now().Unix(),
	}, nil
}

// ServiceDesc is the grpc.ServiceDesc for the scada.Health service.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: "scada.Health",
	HandlerType: (*Handler)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "Check",
			Handler:    checkHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "scada/health.proto",
}

func checkHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	req := new(CheckRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(Handler).Check(ctx, req)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: "/scada.Health/Check",
	}
	handler := func(ctx context.Context, r any) (any, error) {
		return srv.(Handler).Check(ctx, r.(*CheckRequest))
	}
	return interceptor(ctx, req, info, handler)
}

// Register registers a Health service implementation on the given gRPC server.
func Register(s grpc.ServiceRegistrar, h Handler) {
	s.RegisterService(&ServiceDesc, h)
}
