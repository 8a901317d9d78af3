package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/walletguard/walletguard/internal/app"
	"github.com/walletguard/walletguard/internal/custody"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

const testMnemonic = "zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo " +
	"zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo vote"

func TestHandleMnemonic(t *testing.T) {
	t.Run("generates when mnemonic omitted", func(t *testing.T) {
		var provisioned *app.MnemonicRequest
		imported := false
		server := &Server{service: &mockCustodyService{
			ProvisionMnemonicFn: func(ctx context.Context, req *app.MnemonicRequest) (*custody.ProvisionResult, error) {
				provisioned = req
				return &custody.ProvisionResult{DelegatedPublicKey: "a1b2c3"}, nil
			},
			ImportMnemonicFn: func(ctx context.Context, req *app.ImportMnemonicRequest) (*custody.ProvisionResult, error) {
				imported = true
				return nil, errNotImplemented
			},
		}}

		req := withSession(postJSON(t, "/v1/mnemonic", map[string]any{
			"wallet_address": testWallet,
		}))
		rec := httptest.NewRecorder()
		server.handleMnemonic(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		require.False(t, imported)
		require.Equal(t, testSession, provisioned.SessionToken)
		require.Equal(t, "a1b2c3", decodeBody(t, rec)["delegated_public_key"])
	})

	t.Run("imports when mnemonic present", func(t *testing.T) {
		var got *app.ImportMnemonicRequest
		server := &Server{service: &mockCustodyService{
			ImportMnemonicFn: func(ctx context.Context, req *app.ImportMnemonicRequest) (*custody.ProvisionResult, error) {
				got = req
				return &custody.ProvisionResult{DelegatedPublicKey: "a1b2c3"}, nil
			},
		}}

		req := withSession(postJSON(t, "/v1/mnemonic", map[string]any{
			"wallet_address": testWallet,
			"mnemonic":       testMnemonic,
		}))
		rec := httptest.NewRecorder()
		server.handleMnemonic(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		require.Equal(t, testMnemonic, got.Mnemonic)
	})

	t.Run("requires session token", func(t *testing.T) {
		server := &Server{service: &mockCustodyService{}}
		req := postJSON(t, "/v1/mnemonic", map[string]any{"wallet_address": testWallet})
		rec := httptest.NewRecorder()
		server.handleMnemonic(rec, req)

		require.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("conflict when already provisioned", func(t *testing.T) {
		server := &Server{service: &mockCustodyService{
			ProvisionMnemonicFn: func(ctx context.Context, req *app.MnemonicRequest) (*custody.ProvisionResult, error) {
				return nil, apperrors.ErrConflict
			},
		}}
		req := withSession(postJSON(t, "/v1/mnemonic", map[string]any{"wallet_address": testWallet}))
		rec := httptest.NewRecorder()
		server.handleMnemonic(rec, req)

		require.Equal(t, http.StatusConflict, rec.Code)
	})
}

func TestHandleRevealMnemonic(t *testing.T) {
	t.Run("reveals after signature check", func(t *testing.T) {
		deadline := time.Now().Add(90 * time.Second).UTC()
		var got *app.RevealRequest
		server := &Server{service: &mockCustodyService{
			RevealMnemonicFn: func(ctx context.Context, req *app.RevealRequest) (*custody.RevealResult, error) {
				got = req
				return &custody.RevealResult{Mnemonic: testMnemonic, DisplayExpiresAt: deadline}, nil
			},
		}}

		req := withSession(postJSON(t, "/v1/mnemonic/reveal", map[string]any{
			"wallet_address": testWallet,
			"nonce":          "9f41c55a12de8cc0",
			"signature":      "0xdeadbeef01",
		}))
		rec := httptest.NewRecorder()
		server.handleRevealMnemonic(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, testSession, got.SessionToken)

		body := decodeBody(t, rec)
		require.Equal(t, testMnemonic, body["mnemonic"])
		require.NotEmpty(t, body["display_expires_at"])
	})

	t.Run("rate limited reveals carry Retry-After", func(t *testing.T) {
		server := &Server{service: &mockCustodyService{
			RevealMnemonicFn: func(ctx context.Context, req *app.RevealRequest) (*custody.RevealResult, error) {
				return nil, apperrors.RateLimited(45 * time.Minute)
			},
		}}
		req := withSession(postJSON(t, "/v1/mnemonic/reveal", map[string]any{
			"wallet_address": testWallet,
			"nonce":          "9f41c55a12de8cc0",
			"signature":      "0xdeadbeef01",
		}))
		rec := httptest.NewRecorder()
		server.handleRevealMnemonic(rec, req)

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		require.Equal(t, "2700", rec.Header().Get("Retry-After"))
	})

	t.Run("rejects missing nonce", func(t *testing.T) {
		server := &Server{service: &mockCustodyService{}}
		req := withSession(postJSON(t, "/v1/mnemonic/reveal", map[string]any{
			"wallet_address": testWallet,
			"signature":      "0xdeadbeef01",
		}))
		rec := httptest.NewRecorder()
		server.handleRevealMnemonic(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "nonce")
	})
}

func TestHandlePolicy(t *testing.T) {
	policy := map[string]any{
		"max_order_usd": 2500,
		"pairs":         []string{"ETH-USDC"},
	}

	t.Run("commits policy", func(t *testing.T) {
		var got *app.PolicyRequest
		server := &Server{service: &mockCustodyService{
			CommitPolicyFn: func(ctx context.Context, req *app.PolicyRequest) (*app.PolicyCommitResponse, error) {
				got = req
				return &app.PolicyCommitResponse{PolicyHmac: "0b1c2d3e"}, nil
			},
		}}

		req := withSession(postJSON(t, "/v1/policy", map[string]any{
			"wallet_address": testWallet,
			"policy":         policy,
		}))
		rec := httptest.NewRecorder()
		server.handlePolicy(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, testSession, got.SessionToken)
		require.True(t, json.Valid(got.Policy))
		require.True(t, strings.Contains(string(got.Policy), "max_order_usd"))
		require.Equal(t, "0b1c2d3e", decodeBody(t, rec)["policy_hmac"])
	})

	t.Run("rejects missing policy", func(t *testing.T) {
		server := &Server{service: &mockCustodyService{}}
		req := withSession(postJSON(t, "/v1/policy", map[string]any{
			"wallet_address": testWallet,
		}))
		rec := httptest.NewRecorder()
		server.handlePolicy(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)
		require.Contains(t, rec.Body.String(), "policy")
	})
}

func TestHandleVerifyPolicy(t *testing.T) {
	policy := map[string]any{"max_order_usd": 2500}

	t.Run("reports match", func(t *testing.T) {
		server := &Server{service: &mockCustodyService{
			VerifyPolicyFn: func(ctx context.Context, req *app.PolicyRequest) (*app.PolicyVerifyResponse, error) {
				return &app.PolicyVerifyResponse{Verified: true}, nil
			},
		}}
		req := withSession(postJSON(t, "/v1/policy/verify", map[string]any{
			"wallet_address": testWallet,
			"policy":         policy,
		}))
		rec := httptest.NewRecorder()
		server.handleVerifyPolicy(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, true, decodeBody(t, rec)["verified"])
	})

	t.Run("reports mismatch without failing", func(t *testing.T) {
		server := &Server{service: &mockCustodyService{
			VerifyPolicyFn: func(ctx context.Context, req *app.PolicyRequest) (*app.PolicyVerifyResponse, error) {
				return &app.PolicyVerifyResponse{Verified: false}, nil
			},
		}}
		req := withSession(postJSON(t, "/v1/policy/verify", map[string]any{
			"wallet_address": testWallet,
			"policy":         policy,
		}))
		rec := httptest.NewRecorder()
		server.handleVerifyPolicy(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		require.Equal(t, false, decodeBody(t, rec)["verified"])
	})

	t.Run("404 when nothing committed", func(t *testing.T) {
		server := &Server{service: &mockCustodyService{
			VerifyPolicyFn: func(ctx context.Context, req *app.PolicyRequest) (*app.PolicyVerifyResponse, error) {
				return nil, apperrors.ErrNotFound
			},
		}}
		req := withSession(postJSON(t, "/v1/policy/verify", map[string]any{
			"wallet_address": testWallet,
			"policy":         policy,
		}))
		rec := httptest.NewRecorder()
		server.handleVerifyPolicy(rec, req)

		require.Equal(t, http.StatusNotFound, rec.Code)
	})
}
