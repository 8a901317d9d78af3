package middleware

import (
	"net/http"

	"golang.org/x/crypto/bcrypt"

	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

const operatorActor = "operator"

// OperatorAuth authenticates the out-of-band operator credential used
// for emergency controls. The key arrives in X-Operator-Key and is
// compared against a bcrypt hash, so configuration never holds the key
// itself.
type OperatorAuth struct {
	keyHash []byte
}

// NewOperatorAuth creates the operator check. An empty hash leaves
// operator auth disabled.
func NewOperatorAuth(keyHash string) *OperatorAuth {
	return &OperatorAuth{keyHash: []byte(keyHash)}
}

// Enabled reports whether an operator key hash is configured.
func (o *OperatorAuth) Enabled() bool {
	return len(o.keyHash) > 0
}

// VerifyRequest checks the X-Operator-Key header against the hash.
func (o *OperatorAuth) VerifyRequest(r *http.Request) bool {
	if !o.Enabled() {
		return false
	}
	key := r.Header.Get("X-Operator-Key")
	if key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(o.keyHash, []byte(key)) == nil
}

// Require rejects requests lacking a valid operator key.
func (o *OperatorAuth) Require(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !o.VerifyRequest(r) {
			writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				"Operator credentials required",
				"",
				http.StatusUnauthorized,
			))
			return
		}

		// Reduce risk of accidental leakage in downstream logs.
		StripCredentialHeaders(r.Header)

		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), operatorActor)))
	})
}

// RequireAny admits an operator key or a valid bearer token. Emergency
// stop must stay reachable to the on-call operator and to the wallet
// owner's own tooling alike.
func RequireAny(op *OperatorAuth, tokens *AuthMiddleware) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if op.VerifyRequest(r) {
				StripCredentialHeaders(r.Header)
				next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), operatorActor)))
				return
			}

			if tokens.Enabled() {
				if sub, err := tokens.VerifyRequest(r); err == nil {
					StripCredentialHeaders(r.Header)
					next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), sub)))
					return
				}
			}

			writeError(w, apperrors.NewWithDetail(
				apperrors.ErrCodeUnauthorized,
				"Operator key or bearer token required",
				"",
				http.StatusUnauthorized,
			))
		})
	}
}
