// Package tenant carries the identity of the school a unit of work belongs to.
//
// The tenant is attached to a context.Context once per inbound operation
// (HTTP request, gRPC call or consumed event) and read from there by every
// tenant-scoped component. There is no process-wide current tenant.
package tenant

import (
	"context"
	"errors"
	"strings"
)

var (
	ErrTenantContextUnavailable = errors.New("tenant context unavailable")
	ErrTenantMismatch           = errors.New("tenant does not match context")
)

type ID string

func (id ID) String() string { return string(id) }

func (id ID) Empty() bool { return strings.TrimSpace(string(id)) == "" }

// Info is what an operation knows about its tenant. Name is optional.
type Info struct {
	ID   ID
	Name string
}

type ctxKey struct{}

func WithTenant(ctx context.Context, id ID) context.Context {
	return WithInfo(ctx, Info{ID: id})
}

func WithInfo(ctx context.Context, info Info) context.Context {
	return context.WithValue(ctx, ctxKey{}, info)
}

func FromContext(ctx context.Context) (Info, bool) {
	info, ok := ctx.Value(ctxKey{}).(Info)
	if !ok || info.ID.Empty() {
		return Info{}, false
	}
	return info, true
}

func CurrentTenantID(ctx context.Context) (ID, error) {
	info, ok := FromContext(ctx)
	if !ok {
		return "", ErrTenantContextUnavailable
	}
	return info.ID, nil
}

// Match returns the tenant of ctx. A non-empty id naming another tenant fails
// with ErrTenantMismatch.
func Match(ctx context.Context, id ID) (ID, error) {
	current, err := CurrentTenantID(ctx)
	if err != nil {
		return "", err
	}
	if !id.Empty() && id != current {
		return "", ErrTenantMismatch
	}
	return current, nil
}
