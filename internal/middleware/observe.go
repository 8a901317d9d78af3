package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/walletguard/walletguard/internal/logger"
	"github.com/walletguard/walletguard/internal/metrics"
)

// Observe records per-request latency metrics and an access log line.
// Paths outside the registered route set collapse into a single label so
// scanner noise cannot inflate metric cardinality.
func Observe(reg *metrics.Registry, routes []string) func(http.Handler) http.Handler {
	known := make(map[string]struct{}, len(routes))
	for _, route := range routes {
		known[route] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := NewStatusRecorder(w)

			next.ServeHTTP(rec, r)

			elapsed := time.Since(start)
			route := r.URL.Path
			if _, ok := known[route]; !ok {
				route = "unknown"
			}
			reg.ObserveRequest(route, statusClass(rec.StatusCode), elapsed)

			// Probe traffic stays out of the INFO log.
			logFn := logger.Info
			if route == "/healthz" || route == "/metrics" {
				logFn = logger.Debug
			}
			logFn(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", rec.StatusCode,
				"elapsed_ms", elapsed.Milliseconds(),
			)
		})
	}
}

// statusClass buckets a status code into its hundreds class ("2xx").
func statusClass(code int) string {
	return strconv.Itoa(code/100) + "xx"
}
