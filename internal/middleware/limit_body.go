package middleware

import (
	"net/http"
)

// MaxBodySize caps request bodies at 64KB. The largest legitimate
// payload is a policy document, which sits far below this.
const MaxBodySize = 64 << 10

// LimitBody bounds request body size before handlers read it.
func LimitBody(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
		next.ServeHTTP(w, r)
	})
}
