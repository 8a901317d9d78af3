package api

import (
	"net/http"

	"github.com/walletguard/walletguard/internal/app"
	"github.com/walletguard/walletguard/internal/middleware"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

// handlePolicy commits a policy document, binding it to the wallet with
// a keyed integrity tag
func (s *Server) handlePolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	req, ok := s.decodePolicy(w, r)
	if !ok {
		return
	}

	result, err := s.service.CommitPolicy(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleVerifyPolicy checks a policy document against its committed tag
func (s *Server) handleVerifyPolicy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	req, ok := s.decodePolicy(w, r)
	if !ok {
		return
	}

	result, err := s.service.VerifyPolicy(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// decodePolicy parses and validates the shared request shape of the
// policy commit and verify endpoints
func (s *Server) decodePolicy(w http.ResponseWriter, r *http.Request) (*app.PolicyRequest, bool) {
	token, ok := s.requireSessionToken(w, r)
	if !ok {
		return nil, false
	}

	var req app.PolicyRequest
	if err := middleware.ValidateJSON(r, &req); err != nil {
		s.writeError(w, apperrors.BadRequest(err.Error()))
		return nil, false
	}
	req.SessionToken = token

	v := middleware.NewValidator()
	if v.Required("wallet_address", req.WalletAddress) {
		v.WalletAddress("wallet_address", req.WalletAddress)
	}
	if len(req.Policy) == 0 {
		v.AddError("policy", "is required")
	}
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return nil, false
	}

	return &req, true
}
