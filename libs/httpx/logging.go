package httpx

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (w *statusCapturingResponseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingResponseWriter) Write(p []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(p)
	w.bytes += int64(n)
	return n, err
}

// tenantSlot lets the access log see a tenant resolved by an inner middleware.
type tenantSlot struct{ id tenant.ID }

type tenantSlotKey struct{}

func contextWithTenantSlot(ctx context.Context, slot *tenantSlot) context.Context {
	return context.WithValue(ctx, tenantSlotKey{}, slot)
}

func WithAccessLog(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sw := &statusCapturingResponseWriter{ResponseWriter: w}
			slot := &tenantSlot{}
			r = r.WithContext(contextWithTenantSlot(r.Context(), slot))

			next.ServeHTTP(sw, r)

			logger.Info("http request",
				"request_id", RequestIDFromContext(r.Context()),
				"tenant_id", slot.id.String(),
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"bytes", sw.bytes,
				"duration_ms", time.Since(start).Milliseconds(),
			)
		})
	}
}

// TenantScoped wraps h with the tenant middleware and records the resolved
// tenant for the access log.
func TenantScoped(resolver tenant.Resolver, h http.Handler) http.Handler {
	return tenant.Middleware(resolver)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slot, ok := r.Context().Value(tenantSlotKey{}).(*tenantSlot); ok {
			if id, err := tenant.CurrentTenantID(r.Context()); err == nil {
				slot.id = id
			}
		}
		h.ServeHTTP(w, r)
	}))
}
