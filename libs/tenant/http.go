package tenant

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/md-rashed-zaman/schoolsync/libs/auth"
)

const HeaderTenantID = "X-Tenant-Id"

var errTenantMismatch = errors.New("tenant header does not match token")

// TokenVerifier checks a bearer token. *auth.Verifier is the usual one.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (*auth.Claims, error)
}

// Resolver extracts the tenant of an inbound HTTP request. A verified bearer
// token wins over the X-Tenant-Id header; when both are present they must agree.
type Resolver struct {
	Verifier TokenVerifier
	// AllowHeader accepts a bare X-Tenant-Id header without a token. Meant for
	// service-to-service calls behind the gateway.
	AllowHeader bool
}

func (r Resolver) Resolve(req *http.Request) (Info, error) {
	header := ID(strings.TrimSpace(req.Header.Get(HeaderTenantID)))

	if token := bearerToken(req); token != "" && r.Verifier != nil {
		claims, err := r.Verifier.Verify(req.Context(), token)
		if err != nil {
			return Info{}, err
		}
		id := ID(claims.TenantID)
		if id.Empty() {
			return Info{}, ErrTenantContextUnavailable
		}
		if !header.Empty() && header != id {
			return Info{}, errTenantMismatch
		}
		return Info{ID: id}, nil
	}

	if r.AllowHeader && !header.Empty() {
		return Info{ID: header}, nil
	}
	return Info{}, ErrTenantContextUnavailable
}

// Middleware rejects requests without a resolvable tenant and attaches the
// tenant to the request context otherwise.
func Middleware(r Resolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			info, err := r.Resolve(req)
			switch {
			case errors.Is(err, errTenantMismatch):
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			case err != nil:
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, req.WithContext(WithInfo(req.Context(), info)))
		})
	}
}

func bearerToken(req *http.Request) string {
	h := req.Header.Get("Authorization")
	if len(h) < 7 || !strings.EqualFold(h[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}
