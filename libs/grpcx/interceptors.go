package grpcx

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolsync/libs/httpx"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// Metadata keys are lowercase per gRPC conventions.
const (
	RequestIDMetadataKey = "x-request-id"
	TenantIDMetadataKey  = "x-tenant-id"
)

// UnaryClientScopeInterceptor forwards the request id and tenant carried by
// ctx. The request id lives in the same context slot httpx uses, so an HTTP
// request fanning out to gRPC keeps one id end to end.
func UnaryClientScopeInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		var kv []string
		if id := httpx.RequestIDFromContext(ctx); id != "" {
			kv = append(kv, RequestIDMetadataKey, id)
		}
		if id, err := tenant.CurrentTenantID(ctx); err == nil {
			kv = append(kv, TenantIDMetadataKey, id.String())
		}
		if len(kv) > 0 {
			ctx = metadata.AppendToOutgoingContext(ctx, kv...)
		}
		return invoker(ctx, method, req, reply, cc, opts...)
	}
}

// UnaryServerScopeInterceptor restores the caller's request id (minting one
// when absent and echoing it in the response header) and tenant. Calls
// without a tenant proceed untouched; handlers that need one fail on
// CurrentTenantID.
func UnaryServerScopeInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		md, _ := metadata.FromIncomingContext(ctx)

		rid := first(md, RequestIDMetadataKey)
		if rid == "" {
			rid = uuid.NewString()
		}
		_ = grpc.SetHeader(ctx, metadata.Pairs(RequestIDMetadataKey, rid))
		ctx = httpx.ContextWithRequestID(ctx, rid)

		if id := tenant.ID(first(md, TenantIDMetadataKey)); !id.Empty() {
			ctx = tenant.WithTenant(ctx, id)
		}
		return handler(ctx, req)
	}
}

func UnaryServerRecoverInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("grpc handler panic", "method", info.FullMethod, "panic", rec,
					"request_id", httpx.RequestIDFromContext(ctx))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func first(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return vals[0]
	}
	return ""
}
