// Package core orders server middleware independently of the order in which
// options are applied.
package core

import (
	"cmp"
	"slices"

	"google.golang.org/grpc"
)

// middleware is one interceptor pair with its priority. Lower Order values
// run first (outermost).
type middleware struct {
	Unary  grpc.UnaryServerInterceptor
	Stream grpc.StreamServerInterceptor
	Order  int
}

// MiddlewareBuilder collects middleware and produces the sorted chains.
type MiddlewareBuilder struct {
	entries []middleware
}

// Add registers a middleware entry with the given order. Either interceptor
// may be nil if only one direction is needed.
func (b *MiddlewareBuilder) Add(order int, unary grpc.UnaryServerInterceptor, stream grpc.StreamServerInterceptor) {
	b.entries = append(b.entries, middleware{
		Unary:  unary,
		Stream: stream,
		Order:  order,
	})
}

// Build sorts the collected middleware by Order (stable, so entries with the
// same order keep their registration order) and returns the unary and stream
// chains.
func (b *MiddlewareBuilder) Build() ([]grpc.UnaryServerInterceptor, []grpc.StreamServerInterceptor) {
	slices.SortStableFunc(b.entries, func(a, c middleware) int {
		return cmp.Compare(a.Order, c.Order)
	})

	var unary []grpc.UnaryServerInterceptor
	var stream []grpc.StreamServerInterceptor
	for _, m := range b.entries {
		if m.Unary != nil {
			unary = append(unary, m.Unary)
		}
		if m.Stream != nil {
			stream = append(stream, m.Stream)
		}
	}
	return unary, stream
}

// ServerOptions returns the sorted chains as grpc.ChainUnaryInterceptor and
// grpc.ChainStreamInterceptor options. Empty chains produce no option.
func (b *MiddlewareBuilder) ServerOptions() []grpc.ServerOption {
	unary, stream := b.Build()

	var opts []grpc.ServerOption
	if len(unary) > 0 {
		opts = append(opts, grpc.ChainUnaryInterceptor(unary...))
	}
	if len(stream) > 0 {
		opts = append(opts, grpc.ChainStreamInterceptor(stream...))
	}
	return opts
}
