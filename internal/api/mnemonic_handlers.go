package api

import (
	"net/http"
	"strings"

	"github.com/walletguard/walletguard/internal/app"
	"github.com/walletguard/walletguard/internal/custody"
	"github.com/walletguard/walletguard/internal/middleware"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

// handleMnemonic provisions key material for a wallet. With a mnemonic
// in the body the wallet's existing phrase is imported; without one the
// service generates a fresh 24-word phrase.
func (s *Server) handleMnemonic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	token, ok := s.requireSessionToken(w, r)
	if !ok {
		return
	}

	var req app.ImportMnemonicRequest
	if err := middleware.ValidateJSON(r, &req); err != nil {
		s.writeError(w, apperrors.BadRequest(err.Error()))
		return
	}
	req.SessionToken = token

	v := middleware.NewValidator()
	if v.Required("wallet_address", req.WalletAddress) {
		v.WalletAddress("wallet_address", req.WalletAddress)
	}
	v.MaxLength("mnemonic", req.Mnemonic, 512)
	if v.HasErrors() {
		middleware.WriteValidationError(w, v.Errors())
		return
	}

	// Word count and checksum of an imported phrase are checked by the
	// vault, not here.
	var result *custody.ProvisionResult
	var err error
	if strings.TrimSpace(req.Mnemonic) == "" {
		result, err = s.service.ProvisionMnemonic(r.Context(), &app.MnemonicRequest{
			WalletAddress: req.WalletAddress,
			SessionToken:  req.SessionToken,
		})
	} else {
		result, err = s.service.ImportMnemonic(r.Context(), &req)
	}
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, result)
}

// handleRevealMnemonic discloses the stored mnemonic after verifying a
// dedicated reveal signature
func (s *Server) handleRevealMnemonic(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w)
		return
	}

	token, ok := s.requireSessionToken(w, r)
	if !ok {
		return
	}

	var req app.RevealRequest
	if err := middleware.ValidateJSON(r, &req); err != nil {
		s.writeError(w, apperrors.BadRequest(err.Error()))
		return
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
		return
	}

	result, err := s.service.RevealMnemonic(r.Context(), &req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}
