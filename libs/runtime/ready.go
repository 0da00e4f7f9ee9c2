package runtime

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ReadyCheck is a named dependency check for /readyz.
type ReadyCheck struct {
	Name  string
	Check func(context.Context) error
}

// NewBaseMuxWithReady serves /healthz unconditionally and /readyz once every
// check passes. Checks run concurrently with a shared 2s budget.
func NewBaseMuxWithReady(checks ...ReadyCheck) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		failures := runChecks(r.Context(), checks)
		if len(failures) > 0 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(strings.Join(failures, "; ")))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

func runChecks(ctx context.Context, checks []ReadyCheck) []string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	var (
		mu       sync.Mutex
		failures []string
	)
	var g errgroup.Group
	for _, check := range checks {
		if check.Check == nil {
			continue
		}
		g.Go(func() error {
			if err := check.Check(ctx); err != nil {
				name := check.Name
				if name == "" {
					name = "dependency"
				}
				mu.Lock()
				failures = append(failures, name+": "+err.Error())
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures
}
