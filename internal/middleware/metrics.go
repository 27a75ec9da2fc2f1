package middleware

import (
	"net/http"
	"time"

	"github.com/darkodi/shortlink/internal/metrics"
)

// Metrics records count and latency per matched route. The route label is
// the ServeMux pattern, so path parameters do not explode cardinality.
func Metrics(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapped := wrapResponseWriter(w)

			next.ServeHTTP(wrapped, r)

			// ServeMux fills in r.Pattern on the request it was handed
			route := r.Pattern
			if route == "" {
				route = "unmatched"
			}
			m.ObserveRequest(r.Method, route, wrapped.status, time.Since(start))
		})
	}
}
