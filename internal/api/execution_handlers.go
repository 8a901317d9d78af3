package api

import (
	"net/http"

	"github.com/walletguard/walletguard/internal/app"
	"github.com/walletguard/walletguard/internal/middleware"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

// handleEnableExecution turns on headless execution for a wallet after
// verifying a fresh owner signature
func (s *Server) handleEnableExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	req, ok := s.decodeExecutionChange(w, r)
	if !ok {
		return
	}

	status, err := s.service.EnableExecution(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleRevokeExecution turns off headless execution for a wallet
func (s *Server) handleRevokeExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	req, ok := s.decodeExecutionChange(w, r)
	if !ok {
		return
	}

	status, err := s.service.RevokeExecution(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleExecutionStatus reports the execution authorization state for a
// wallet
func (s *Server) handleExecutionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w)
		return
	}

	token, ok := s.requireSessionToken(w, r)
	if !ok {
		return
	}

	wallet := r.URL.Query().Get("wallet_address")
	v := middleware.NewValidator()
	if v.Required("wallet_address", wallet) {
		v.WalletAddress("wallet_address", wallet)
	}
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return
	}

	status, err := s.service.ExecutionStatus(r.Context(), token, wallet)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleEmergencyStop trips the sticky stop for a wallet. The actor
// comes from whichever credential middleware admitted the request.
func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	req, ok := s.decodeEmergencyChange(w, r)
	if !ok {
		return
	}

	status, err := s.service.EmergencyStop(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// handleEmergencyClear lifts a stop flag without re-enabling execution
func (s *Server) handleEmergencyClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	req, ok := s.decodeEmergencyChange(w, r)
	if !ok {
		return
	}

	status, err := s.service.ClearEmergencyStop(r.Context(), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, status)
}

// decodeExecutionChange parses and validates the shared request shape of
// the enable and revoke endpoints
func (s *Server) decodeExecutionChange(w http.ResponseWriter, r *http.Request) (*app.ExecutionChangeRequest, bool) {
	token, ok := s.requireSessionToken(w, r)
	if !ok {
		return nil, false
	}

	var req app.ExecutionChangeRequest
	if err := middleware.ValidateJSON(r, &req); err != nil {
		s.writeError(w, apperrors.BadRequest(err.Error()))
		return nil, false
	}
	req.SessionToken = token

	v := middleware.NewValidator()
	if v.Required("wallet_address", req.WalletAddress) {
		v.WalletAddress("wallet_address", req.WalletAddress)
	}
	if v.Required("nonce", req.Nonce) {
		v.HexString("nonce", req.Nonce)
	}
	if v.Required("signature", req.Signature) {
		v.HexString("signature", req.Signature)
	}
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return nil, false
	}

	return &req, true
}

// decodeEmergencyChange parses and validates the shared request shape of
// the emergency stop and clear endpoints
func (s *Server) decodeEmergencyChange(w http.ResponseWriter, r *http.Request) (*app.EmergencyStopRequest, bool) {
	actor, ok := middleware.GetActor(r.Context())
	if !ok {
		s.writeError(w, apperrors.ErrUnauthorized)
		return nil, false
	}

	var req app.EmergencyStopRequest
	if err := middleware.ValidateJSON(r, &req); err != nil {
		s.writeError(w, apperrors.BadRequest(err.Error()))
		return nil, false
	}
	req.Actor = actor

	v := middleware.NewValidator()
	if v.Required("wallet_address", req.WalletAddress) {
		v.WalletAddress("wallet_address", req.WalletAddress)
	}
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return nil, false
	}

	return &req, true
}
