package middleware

import (
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/walletguard/walletguard/internal/logger"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

// Recover converts handler panics into 500 responses instead of letting
// them tear down the connection. The log line carries redacted headers
// only; a panic must never spill credentials.
func Recover(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error(r.Context(), "handler panic",
					"panic", fmt.Sprint(rec),
					"method", r.Method,
					"path", r.URL.Path,
					"headers", RedactHeaders(r.Header),
					"stack", string(debug.Stack()),
				)
				writeError(w, apperrors.ErrInternalError)
			}
		}()

		next.ServeHTTP(w, r)
	})
}
