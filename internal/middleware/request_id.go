package middleware

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/walletguard/walletguard/internal/logger"
)

// RequestID tags every request with an ID for log correlation. An ID
// supplied by an upstream proxy via X-Request-ID is kept; otherwise a
// fresh one is generated. The ID is echoed back in the response header.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logger.WithRequestID(r.Context(), requestID)
		w.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
