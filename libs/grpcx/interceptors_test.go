package grpcx

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/md-rashed-zaman/schoolsync/libs/httpx"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

func TestServerScopeRestoresTenantAndRequestID(t *testing.T) {
	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(
		TenantIDMetadataKey, "T1",
		RequestIDMetadataKey, "req-7",
	))
	var (
		gotTenant tenant.ID
		gotReq    string
	)
	_, err := UnaryServerScopeInterceptor()(ctx, nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
		gotTenant, _ = tenant.CurrentTenantID(ctx)
		gotReq = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, tenant.ID("T1"), gotTenant)
	assert.Equal(t, "req-7", gotReq)
}

func TestServerScopeMintsRequestID(t *testing.T) {
	var gotReq string
	_, err := UnaryServerScopeInterceptor()(context.Background(), nil, &grpc.UnaryServerInfo{}, func(ctx context.Context, _ any) (any, error) {
		_, terr := tenant.CurrentTenantID(ctx)
		assert.ErrorIs(t, terr, tenant.ErrTenantContextUnavailable)
		gotReq = httpx.RequestIDFromContext(ctx)
		return nil, nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, gotReq)
}

func TestClientScopeForwardsTenantAndRequestID(t *testing.T) {
	ctx := httpx.ContextWithRequestID(tenant.WithTenant(context.Background(), "T2"), "req-9")
	err := UnaryClientScopeInterceptor()(ctx, "/svc/M", nil, nil, nil, func(ctx context.Context, _ string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
		md, _ := metadata.FromOutgoingContext(ctx)
		assert.Equal(t, []string{"T2"}, md.Get(TenantIDMetadataKey))
		assert.Equal(t, []string{"req-9"}, md.Get(RequestIDMetadataKey))
		return nil
	})
	require.NoError(t, err)
}

func TestRecoverInterceptor(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	_, err := UnaryServerRecoverInterceptor(logger)(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/svc/M"}, func(context.Context, any) (any, error) {
		panic("boom")
	})
	assert.Equal(t, codes.Internal, status.Code(err))
}
