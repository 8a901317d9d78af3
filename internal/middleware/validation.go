package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

var (
	// Accepts 20-byte secp256k1 addresses and 32-byte ed25519 public keys.
	walletAddressRegex = regexp.MustCompile(`^(0x)?([a-fA-F0-9]{40}|[a-fA-F0-9]{64})$`)
	hexRegex           = regexp.MustCompile(`^(0x)?[a-fA-F0-9]+$`)
)

// ValidationError represents a single field failure
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

func (ve ValidationErrors) Error() string {
	if len(ve) == 0 {
		return "validation failed"
	}
	var b strings.Builder
	for i, e := range ve {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.Field)
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	return b.String()
}

// Validator accumulates field checks for one request
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{errors: make(ValidationErrors, 0)}
}

// HasErrors returns true if any check failed
func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

// Errors returns all validation errors
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

// AddError adds a validation error
func (v *Validator) AddError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Required validates that a string is not empty
func (v *Validator) Required(field, value string) bool {
	if strings.TrimSpace(value) == "" {
		v.AddError(field, "is required")
		return false
	}
	return true
}

// MaxLength validates maximum string length. Empty passes so optional
// fields can layer Required separately.
func (v *Validator) MaxLength(field, value string, maxLen int) bool {
	if len(value) > maxLen {
		v.AddError(field, fmt.Sprintf("must be at most %d characters", maxLen))
		return false
	}
	return true
}

// WalletAddress validates a wallet address: 20 hex bytes for secp256k1
// chains or a 32-byte ed25519 public key, 0x prefix optional.
func (v *Validator) WalletAddress(field, value string) bool {
	if !walletAddressRegex.MatchString(strings.TrimSpace(value)) {
		v.AddError(field, "must be a 40 or 64 character hex address")
		return false
	}
	return true
}

// HexString validates that a string is valid hex. Empty passes so
// optional fields can layer Required separately.
func (v *Validator) HexString(field, value string) bool {
	if value == "" {
		return true
	}
	if !hexRegex.MatchString(value) {
		v.AddError(field, "must be a valid hex string")
		return false
	}
	return true
}

// OneOf validates that a value is one of the allowed values
func (v *Validator) OneOf(field, value string, allowed []string) bool {
	for _, a := range allowed {
		if value == a {
			return true
		}
	}
	v.AddError(field, fmt.Sprintf("must be one of: %s", strings.Join(allowed, ", ")))
	return false
}

// WriteValidationError writes field errors in the standard error shape
func WriteValidationError(w http.ResponseWriter, errors ValidationErrors) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"code":    apperrors.ErrCodeBadRequest,
		"message": "Validation failed",
		"errors":  errors,
	})
}

// ValidateJSON decodes a JSON request body, rejecting unknown fields and
// trailing content after the document.
func ValidateJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return fmt.Errorf("request body is required")
	}

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("invalid JSON: unexpected trailing data")
	}

	return nil
}
