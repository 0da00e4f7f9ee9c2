package grpcx

import (
	"context"
	"log/slog"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
)

// NewServer returns a server with tracing, scope and panic interceptors
// installed.
func NewServer(logger *slog.Logger, extra ...grpc.ServerOption) *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			UnaryServerRecoverInterceptor(logger),
			UnaryServerScopeInterceptor(),
		),
	}
	return grpc.NewServer(append(opts, extra...)...)
}

// Serve listens on addr and stops gracefully when ctx is done.
func Serve(ctx context.Context, logger *slog.Logger, srv *grpc.Server, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()
	logger.Info("grpc server starting", "addr", lis.Addr().String())
	return srv.Serve(lis)
}
