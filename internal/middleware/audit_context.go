package middleware

import (
	"net"
	"net/http"
	"strings"

	"github.com/walletguard/walletguard/internal/storage"
)

// AuditContext captures the client IP and User-Agent so the audit trail
// can attribute every entry to its origin.
func AuditContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := storage.WithClientInfo(r.Context(), storage.ClientInfo{
			IP:        getClientIP(r),
			UserAgent: r.Header.Get("User-Agent"),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// getClientIP resolves the originating client address, preferring proxy
// headers over the socket peer. X-Forwarded-For may carry a chain
// ("client, proxy1, proxy2"); the first entry is the original client.
func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.Split(xff, ",")[0])
		if net.ParseIP(first) != nil {
			return first
		}
	}

	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		if net.ParseIP(xri) != nil {
			return xri
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		// RemoteAddr may already be a bare IP in tests
		if net.ParseIP(r.RemoteAddr) != nil {
			return r.RemoteAddr
		}
		return ""
	}
	return ip
}
