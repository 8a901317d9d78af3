package middleware

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

// ContextKey is a type for context keys set by auth middleware
type ContextKey string

const actorKey ContextKey = "request_actor"

// WithActor returns a context carrying the authenticated actor identity.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// GetActor returns the actor recorded by operator or token auth.
func GetActor(ctx context.Context) (string, bool) {
	actor, ok := ctx.Value(actorKey).(string)
	return actor, ok
}

// AuthMiddleware validates bearer tokens issued by a single configured
// identity provider. Signing keys come from the provider's JWKS endpoint
// and are cached for an hour.
type AuthMiddleware struct {
	issuer   string
	audience string
	jwksURL  string

	httpClient *http.Client

	mu        sync.RWMutex
	keys      map[string]interface{}
	refreshAt time.Time
}

// NewAuthMiddleware creates a token validator for the given issuer. An
// empty jwksURL leaves token auth disabled.
func NewAuthMiddleware(issuer, audience, jwksURL string) *AuthMiddleware {
	return &AuthMiddleware{
		issuer:   issuer,
		audience: audience,
		jwksURL:  jwksURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		keys: make(map[string]interface{}),
	}
}

// Enabled reports whether token auth is configured.
func (m *AuthMiddleware) Enabled() bool {
	return m.jwksURL != ""
}

// Authenticate requires a valid bearer token and records its subject
// claim as the request actor.
func (m *AuthMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sub, err := m.VerifyRequest(r)
		if err != nil {
			writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				"Invalid token",
				err.Error(),
				http.StatusUnauthorized,
			))
			return
		}

		StripCredentialHeaders(r.Header)
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), sub)))
	})
}

// VerifyRequest validates the request's bearer token and returns the
// subject claim.
func (m *AuthMiddleware) VerifyRequest(r *http.Request) (string, error) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return "", fmt.Errorf("missing bearer token")
	}
	return m.VerifyToken(parts[1])
}

// VerifyToken parses and validates a token, returning its subject.
func (m *AuthMiddleware) VerifyToken(tokenString string) (string, error) {
	if !m.Enabled() {
		return "", fmt.Errorf("token authentication is not configured")
	}

	token, err := jwt.Parse(tokenString, m.signingKey)
	if err != nil {
		return "", err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", fmt.Errorf("invalid token claims")
	}

	if iss, _ := claims["iss"].(string); iss != m.issuer {
		return "", fmt.Errorf("invalid issuer: expected %s, got %s", m.issuer, iss)
	}

	if !matchAudience(claims, m.audience) {
		return "", fmt.Errorf("invalid audience: expected %s", m.audience)
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return "", fmt.Errorf("missing subject claim")
	}

	return sub, nil
}

// signingKey resolves the verification key for a token. Only asymmetric
// algorithms are accepted; alg=none and HMAC are rejected outright.
func (m *AuthMiddleware) signingKey(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA, *jwt.SigningMethodECDSA:
	default:
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	}

	kid, ok := token.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("missing kid in token header")
	}

	return m.publicKey(kid)
}

// publicKey returns the cached JWKS key for kid, refreshing the cache
// when the kid is unknown or the cache has gone stale.
func (m *AuthMiddleware) publicKey(kid string) (interface{}, error) {
	m.mu.RLock()
	key, found := m.keys[kid]
	fresh := time.Now().Before(m.refreshAt)
	m.mu.RUnlock()

	if found && fresh {
		return key, nil
	}

	if err := m.refreshKeys(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	key, found = m.keys[kid]
	if !found {
		return nil, fmt.Errorf("key %s not found in JWKS", kid)
	}
	return key, nil
}

// refreshKeys refetches the JWKS document and replaces the key cache.
// Keys that fail to parse are skipped rather than failing the whole set.
func (m *AuthMiddleware) refreshKeys() error {
	resp, err := m.httpClient.Get(m.jwksURL)
	if err != nil {
		return fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("JWKS endpoint returned status %d", resp.StatusCode)
	}

	var jwks struct {
		Keys []map[string]interface{} `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return fmt.Errorf("failed to decode JWKS: %w", err)
	}

	keys := make(map[string]interface{})
	for _, jwk := range jwks.Keys {
		kid, ok := jwk["kid"].(string)
		if !ok {
			continue
		}
		kty, ok := jwk["kty"].(string)
		if !ok {
			continue
		}

		var publicKey interface{}
		var parseErr error
		switch kty {
		case "RSA":
			publicKey, parseErr = parseRSAJWK(jwk)
		case "EC":
			publicKey, parseErr = parseECJWK(jwk)
		default:
			continue
		}
		if parseErr != nil {
			continue
		}

		keys[kid] = publicKey
	}

	m.mu.Lock()
	m.keys = keys
	m.refreshAt = time.Now().Add(time.Hour)
	m.mu.Unlock()

	return nil
}

// parseRSAJWK builds an RSA public key from base64url JWK parameters.
func parseRSAJWK(jwk map[string]interface{}) (*rsa.PublicKey, error) {
	nStr, ok := jwk["n"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'n' parameter")
	}
	eStr, ok := jwk["e"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'e' parameter")
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(nStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode n: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(eStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode e: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

// parseECJWK builds an ECDSA public key from JWK curve coordinates.
func parseECJWK(jwk map[string]interface{}) (*ecdsa.PublicKey, error) {
	crv, ok := jwk["crv"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'crv' parameter")
	}
	xStr, ok := jwk["x"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'x' parameter")
	}
	yStr, ok := jwk["y"].(string)
	if !ok {
		return nil, fmt.Errorf("missing 'y' parameter")
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(xStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode x: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(yStr)
	if err != nil {
		return nil, fmt.Errorf("failed to decode y: %w", err)
	}

	var c elliptic.Curve
	switch crv {
	case "P-256":
		c = elliptic.P256()
	case "P-384":
		c = elliptic.P384()
	case "P-521":
		c = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve: %s", crv)
	}

	return &ecdsa.PublicKey{
		Curve: c,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}

// matchAudience checks the aud claim, which may be a string or an array.
func matchAudience(claims jwt.MapClaims, expected string) bool {
	aud, ok := claims["aud"]
	if !ok {
		return false
	}

	switch v := aud.(type) {
	case string:
		return v == expected
	case []interface{}:
		for _, a := range v {
			if str, ok := a.(string); ok && str == expected {
				return true
			}
		}
	}
	return false
}
