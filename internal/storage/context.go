package storage

import (
	"context"
)

// ContextKey is a type for context keys used in storage layer
type ContextKey string

const (
	// ClientInfoContextKey is the key for request client info in context
	ClientInfoContextKey ContextKey = "storage_client_info"
)

// ClientInfo carries the request attribution recorded on audit entries.
// Middleware sets it once per request; the service layer reads it when
// logging custody actions.
type ClientInfo struct {
	IP        string
	UserAgent string
}

// WithClientInfo creates a new context carrying the request client info
func WithClientInfo(ctx context.Context, info ClientInfo) context.Context {
	return context.WithValue(ctx, ClientInfoContextKey, info)
}

// GetClientInfo retrieves the client info from context. The zero value is
// returned when no middleware set it, so audit logging never fails for
// lack of attribution.
func GetClientInfo(ctx context.Context) ClientInfo {
	if info, ok := ctx.Value(ClientInfoContextKey).(ClientInfo); ok {
		return info
	}
	return ClientInfo{}
}
