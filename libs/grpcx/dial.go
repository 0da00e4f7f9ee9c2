package grpcx

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials/insecure"
)

type DialOptions struct {
	Timeout time.Duration
	// Nil means plaintext, for local use or a mesh that terminates mTLS.
	TransportCredentials grpc.DialOption
}

// Dial creates a client and waits until it is READY, so command line tools
// fail fast on a wrong address instead of on their first call.
func Dial(ctx context.Context, addr string, opts DialOptions, extra ...grpc.DialOption) (*grpc.ClientConn, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 3 * time.Second
	}
	creds := opts.TransportCredentials
	if creds == nil {
		creds = grpc.WithTransportCredentials(insecure.NewCredentials())
	}
	dialOpts := append([]grpc.DialOption{
		creds,
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithChainUnaryInterceptor(UnaryClientScopeInterceptor()),
	}, extra...)

	cc, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	cc.Connect()
	for {
		s := cc.GetState()
		if s == connectivity.Ready {
			return cc, nil
		}
		if !cc.WaitForStateChange(ctx, s) {
			_ = cc.Close()
			return nil, fmt.Errorf("grpc dial %s: %w (last state %s)", addr, ctx.Err(), s)
		}
	}
}
