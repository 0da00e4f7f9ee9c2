package main

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/md-rashed-zaman/schoolsync/libs/auth"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

// Identity headers are only ever set by the gateway after verification.
const (
	headerUserID = "X-User-Id"
	headerRole   = "X-Role"
)

type upstreams struct {
	identity, students, teachers, chat *url.URL
}

func parseUpstreams(cfg Config) (upstreams, error) {
	var (
		u   upstreams
		err error
	)
	for _, p := range []struct {
		dst **url.URL
		raw string
	}{
		{&u.identity, cfg.IdentityURL},
		{&u.students, cfg.StudentURL},
		{&u.teachers, cfg.TeacherURL},
		{&u.chat, cfg.ChatURL},
	} {
		if *p.dst, err = url.Parse(p.raw); err != nil {
			return upstreams{}, fmt.Errorf("%q: %w", p.raw, err)
		}
	}
	return u, nil
}

func newVerifier(cfg Config) tenant.TokenVerifier {
	var jwks *auth.JWKSClient
	if cfg.JWKSURL != "" {
		jwks = auth.NewJWKSClient(cfg.JWKSURL, cfg.JWKSCacheTTL)
	}
	return auth.NewVerifier(cfg.JWTSecret, jwks)
}

func registerRoutes(mux *http.ServeMux, up upstreams, v tenant.TokenVerifier, transport http.RoundTripper) {
	proxy := func(u *url.URL) http.Handler {
		p := httputil.NewSingleHostReverseProxy(u)
		p.Transport = transport
		return p
	}
	identity := proxy(up.identity)

	// Public: sign-up, login and key discovery.
	mux.Handle("/api/v1/tenants", anonymous(identity))
	mux.Handle("/api/v1/auth/login", anonymous(identity))
	mux.Handle("/.well-known/jwks.json", anonymous(identity))

	mux.Handle("/api/v1/tenants/me", requireAuth(identity, v))
	mux.Handle("/api/v1/tenants/plan", requireAuth(requireRole(identity, "admin"), v))
	mux.Handle("/api/v1/tenants/deactivate", requireAuth(requireRole(identity, "admin"), v))

	registerPrefix(mux, "/api/v1/students", requireAuth(proxy(up.students), v))
	registerPrefix(mux, "/api/v1/teachers", requireAuth(proxy(up.teachers), v))
	registerPrefix(mux, "/api/v1/chat", requireAuth(proxy(up.chat), v))
}

func registerPrefix(mux *http.ServeMux, prefix string, h http.Handler) {
	mux.Handle(prefix, h)
	mux.Handle(prefix+"/", h)
}

func anonymous(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Header.Del(headerUserID)
		r.Header.Del(headerRole)
		next.ServeHTTP(w, r)
	})
}

// requireAuth verifies the bearer token and passes the caller's tenant, user
// and role upstream. The Authorization header is forwarded untouched.
func requireAuth(next http.Handler, v tenant.TokenVerifier) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if !strings.HasPrefix(authHeader, "Bearer ") || len(strings.TrimSpace(authHeader)) <= len("Bearer ") {
			http.Error(w, "missing or invalid Authorization header", http.StatusUnauthorized)
			return
		}
		claims, err := v.Verify(r.Context(), strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer ")))
		if err != nil || strings.TrimSpace(claims.TenantID) == "" {
			http.Error(w, "invalid token", http.StatusUnauthorized)
			return
		}
		if h := r.Header.Get(tenant.HeaderTenantID); h != "" && h != claims.TenantID {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		r.Header.Set(tenant.HeaderTenantID, claims.TenantID)
		r.Header.Set(headerUserID, claims.Sub)
		r.Header.Set(headerRole, claims.Role)
		next.ServeHTTP(w, r)
	})
}

func requireRole(next http.Handler, roles ...string) http.Handler {
	allowed := map[string]struct{}{}
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := allowed[r.Header.Get(headerRole)]; !ok {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
