package httpx

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWithRequestID(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	for name, tc := range map[string]struct {
		in   string
		keep bool
	}{
		"caller id kept": {in: "abc-123", keep: true},
		"missing":        {in: ""},
		"control chars":  {in: "abc\r\nforged: 1"},
		"too long":       {in: strings.Repeat("x", maxRequestIDLen+1)},
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.in != "" {
				req.Header[RequestIDHeader] = []string{tc.in}
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.NotEmpty(t, seen)
			assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
			if tc.keep {
				assert.Equal(t, tc.in, seen)
			} else {
				assert.NotEqual(t, tc.in, seen)
			}
		})
	}
}
