// Package healthz serves liveness and readiness checks.
package healthz

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Check returns nil when its dependency is usable.
type Check func(ctx context.Context) error

type Handler struct {
	checks map[string]Check
}

// New returns a handler that reports healthy once every check passes.  With
// no checks it always reports healthy.
func New(checks map[string]Check) *Handler {
	return &Handler{checks: checks}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			http.Error(w, fmt.Sprintf("503 %s: %v", name, err), http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("200 OK"))
}
