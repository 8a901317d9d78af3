package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/walletguard/walletguard/internal/app"
	"github.com/walletguard/walletguard/internal/logger"
	"github.com/walletguard/walletguard/internal/middleware"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
	"github.com/walletguard/walletguard/pkg/types"
)

// SessionTokenHeader carries the session token for operations that
// require an unlocked wallet.
const SessionTokenHeader = "X-Session-Token"

// challengePurposes lists every purpose a challenge can be issued for
var challengePurposes = []string{
	string(types.PurposeUnlock),
	string(types.PurposeRevealMnemonic),
	string(types.PurposeEnableExecution),
	string(types.PurposeRevokeExecution),
}

// handleChallenge issues a single-use signing challenge for a wallet
// and purpose
func (s *Server) handleChallenge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	var req app.ChallengeRequest
	if err := middleware.ValidateJSON(r, &req); err != nil {
		s.writeError(w, apperrors.BadRequest(err.Error()))
		return
	}

	v := middleware.NewValidator()
	if v.Required("wallet_address", req.WalletAddress) {
		v.WalletAddress("wallet_address", req.WalletAddress)
	}
	if v.Required("purpose", req.Purpose) {
		v.OneOf("purpose", req.Purpose, challengePurposes)
	}
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return
	}

	challenge, err := s.service.IssueChallenge(r.Context(), &req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, challenge)
}

// handleUnlock verifies a signed challenge and opens a session
func (s *Server) handleUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	var req app.UnlockRequest
	if err := middleware.ValidateJSON(r, &req); err != nil {
		s.writeError(w, apperrors.BadRequest(err.Error()))
		return
	}

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
		return
	}

	resp, err := s.service.Unlock(r.Context(), &req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, resp)
}

// handleSession routes session operations
func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleGetSession(w, r)
	case http.MethodDelete:
		s.handleEndSession(w, r)
	default:
		s.methodNotAllowed(w)
	}
}

// handleGetSession reports the caller's session
func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	token, ok := s.requireSessionToken(w, r)
	if !ok {
		return
	}

	info, err := s.service.GetSession(r.Context(), token)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, info)
}

// handleEndSession ends the caller's session. Ending a session that no
// longer exists still succeeds.
func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	token, ok := s.requireSessionToken(w, r)
	if !ok {
		return
	}

	if err := s.service.EndSession(r.Context(), token); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// requireSessionToken reads the session token header, rejecting the
// request when it is absent
func (s *Server) requireSessionToken(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := strings.TrimSpace(r.Header.Get(SessionTokenHeader))
	if token == "" {
		s.writeError(w, apperrors.NewWithDetail(
			apperrors.ErrCodeUnauthorized,
			"Authentication required",
			"X-Session-Token header is required",
			http.StatusUnauthorized,
		))
		return "", false
	}
	return token, true
}

// methodNotAllowed writes the rejection for an unsupported HTTP method
func (s *Server) methodNotAllowed(w http.ResponseWriter) {
	s.writeError(w, apperrors.New(
		apperrors.ErrCodeBadRequest,
		"Method not allowed",
		http.StatusMethodNotAllowed,
	))
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, err *apperrors.AppError) {
	w.Header().Set("Content-Type", "application/json")
	if err.RetryAfterSeconds > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(err.RetryAfterSeconds))
	}
	w.WriteHeader(err.StatusCode)
	json.NewEncoder(w).Encode(err)
}

// writeServiceError maps a service error onto the response. Errors that
// are not AppErrors are logged and answered with an opaque 500.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperrors.IsAppError(err); ok {
		s.writeError(w, appErr)
		return
	}
	logger.Error(r.Context(), "unhandled service error", "path", r.URL.Path, "error", err)
	s.writeError(w, apperrors.ErrInternalError)
}
