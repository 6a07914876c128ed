package observability

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// routePattern keeps entity ids out of the metric labels.
func routePattern(r *http.Request) string {
	if rc := chi.RouteContext(r.Context()); rc != nil {
		if p := rc.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
