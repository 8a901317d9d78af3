package app

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/walletguard/walletguard/internal/auth"
	"github.com/walletguard/walletguard/internal/crypto"
	"github.com/walletguard/walletguard/internal/custody"
	"github.com/walletguard/walletguard/internal/logger"
	"github.com/walletguard/walletguard/internal/metrics"
	"github.com/walletguard/walletguard/internal/storage"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
	"github.com/walletguard/walletguard/pkg/types"
)

// AuditSink records custody actions. *storage.AuditLogRepo is the
// production implementation.
type AuditSink interface {
	Log(ctx context.Context, entry *storage.AuditLogEntry) error
}

// CustodyService stitches the authentication, custody, and storage
// components into the operations the HTTP layer and the trading engine
// call. It holds no state of its own; every secret it touches lives in
// the session store or on the stack of a single call.
type CustodyService struct {
	authenticator *auth.Authenticator
	custodian     *custody.Custodian
	sessions      *custody.SessionStore
	executor      *custody.ExecutionAuthorizer
	vault         *custody.MnemonicVault
	records       custody.RecordStore
	audit         AuditSink
	metrics       *metrics.Registry
}

// NewCustodyService creates a new custody service. All dependencies are
// required.
func NewCustodyService(
	authenticator *auth.Authenticator,
	custodian *custody.Custodian,
	sessions *custody.SessionStore,
	executor *custody.ExecutionAuthorizer,
	vault *custody.MnemonicVault,
	records custody.RecordStore,
	audit AuditSink,
	reg *metrics.Registry,
) *CustodyService {
	return &CustodyService{
		authenticator: authenticator,
		custodian:     custodian,
		sessions:      sessions,
		executor:      executor,
		vault:         vault,
		records:       records,
		audit:         audit,
		metrics:       reg,
	}
}

// ChallengeRequest represents a request for a signing challenge
type ChallengeRequest struct {
	WalletAddress string `json:"wallet_address"`
	Purpose       string `json:"purpose"`
}

// IssueChallenge creates a single-use signing challenge for the wallet
// and purpose. The response carries the exact message the wallet must
// sign.
func (s *CustodyService) IssueChallenge(ctx context.Context, req *ChallengeRequest) (*auth.IssuedChallenge, error) {
	address := auth.NormalizeAddress(req.WalletAddress)
	purpose := types.Purpose(req.Purpose)

	issued, err := s.authenticator.IssueChallenge(ctx, address, purpose)
	if err != nil {
		return nil, err
	}

	s.metrics.ChallengesIssued.WithLabelValues(string(purpose)).Inc()
	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Action:        storage.AuditActionChallengeIssued,
		Purpose:       strPtr(string(purpose)),
	})
	return issued, nil
}

// UnlockRequest represents a signed unlock challenge
type UnlockRequest struct {
	WalletAddress string `json:"wallet_address"`
	Nonce         string `json:"nonce"`
	// Signature is hex encoded, with or without a 0x prefix.
	Signature string `json:"signature"`
}

// UnlockResponse carries the session opened by a successful unlock
type UnlockResponse struct {
	SessionToken  string    `json:"session_token"`
	WalletAddress string    `json:"wallet_address"`
	ExpiresAt     time.Time `json:"expires_at"`
	IsNewWallet   bool      `json:"is_new_wallet"`
	Migrated      bool      `json:"migrated,omitempty"`
	Regenerated   bool      `json:"regenerated,omitempty"`
}

// Unlock verifies a signed challenge, decrypts (or provisions) the
// wallet's Master Secret, and opens a time-boxed session holding it.
func (s *CustodyService) Unlock(ctx context.Context, req *UnlockRequest) (*UnlockResponse, error) {
	address := auth.NormalizeAddress(req.WalletAddress)

	signature, err := decodeSignature(req.Signature)
	if err != nil {
		return nil, err
	}

	_, err = s.authenticator.VerifyAndConsume(ctx, address, req.Nonce, types.PurposeUnlock, signature, auth.VerifierFor(address))
	if err != nil {
		s.metrics.Unlocks.WithLabelValues(metrics.ResultFailure).Inc()
		s.auditAuthFailure(ctx, address, types.PurposeUnlock, err)
		return nil, err
	}

	init, err := s.custodian.Initialize(ctx, address, custody.UnlockRequest{
		Signature: signature,
		Purpose:   types.PurposeUnlock,
	})
	if err != nil {
		s.metrics.Unlocks.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, err
	}
	defer crypto.Wipe(init.MasterSecret)

	token, err := s.sessions.Create(address, init.MasterSecret)
	if err != nil {
		s.metrics.Unlocks.WithLabelValues(metrics.ResultFailure).Inc()
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	sess, err := s.sessions.Get(token)
	if err != nil {
		return nil, fmt.Errorf("failed to load new session: %w", err)
	}

	s.metrics.Unlocks.WithLabelValues(metrics.ResultSuccess).Inc()
	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Action:        storage.AuditActionSessionUnlocked,
		Purpose:       strPtr(string(types.PurposeUnlock)),
	})
	switch {
	case init.IsNew:
		s.auditLog(ctx, &storage.AuditLogEntry{
			WalletAddress: address,
			Action:        storage.AuditActionSecretInitialized,
		})
	case init.Regenerated:
		// lossy event: dependent secrets under the old Master Secret
		// are gone and must be provisioned again
		s.metrics.SecretMigrations.WithLabelValues(metrics.OutcomeRegenerated).Inc()
		s.auditLog(ctx, &storage.AuditLogEntry{
			WalletAddress: address,
			Action:        storage.AuditActionSecretRegenerated,
		})
	case init.Migrated:
		outcome := metrics.OutcomeReencrypted
		if init.Repaired {
			outcome = metrics.OutcomeRepaired
		}
		s.metrics.SecretMigrations.WithLabelValues(outcome).Inc()
		s.auditLog(ctx, &storage.AuditLogEntry{
			WalletAddress: address,
			Action:        storage.AuditActionSecretMigrated,
			Metadata:      map[string]interface{}{"outcome": outcome},
		})
	}

	return &UnlockResponse{
		SessionToken:  token,
		WalletAddress: address,
		ExpiresAt:     sess.ExpiresAt,
		IsNewWallet:   init.IsNew,
		Migrated:      init.Migrated,
		Regenerated:   init.Regenerated,
	}, nil
}

// SessionInfo is the externally visible view of a session. The Master
// Secret never leaves the session store.
type SessionInfo struct {
	WalletAddress string    `json:"wallet_address"`
	CreatedAt     time.Time `json:"created_at"`
	ExpiresAt     time.Time `json:"expires_at"`
}

// GetSession returns session metadata for a valid token.
func (s *CustodyService) GetSession(ctx context.Context, token string) (*SessionInfo, error) {
	sess, err := s.sessions.Get(token)
	if err != nil {
		return nil, err
	}
	return &SessionInfo{
		WalletAddress: sess.WalletAddress,
		CreatedAt:     sess.CreatedAt,
		ExpiresAt:     sess.ExpiresAt,
	}, nil
}

// EndSession invalidates a session and wipes its Master Secret.
// Idempotent: ending an unknown or expired session is not an error.
func (s *CustodyService) EndSession(ctx context.Context, token string) error {
	sess, err := s.sessions.Get(token)
	if err != nil {
		return nil
	}
	address := sess.WalletAddress

	s.sessions.Invalidate(token)
	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Action:        storage.AuditActionSessionEnded,
	})
	return nil
}

// ExecutionChangeRequest represents a signed request to enable or revoke
// headless execution
type ExecutionChangeRequest struct {
	WalletAddress string `json:"wallet_address"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
	SessionToken  string `json:"-"`
}

// EnableExecution authorizes headless use of the wallet's Master Secret.
// It demands both a live session and a fresh purpose-bound signature, so
// a stolen session token alone cannot turn automation on.
func (s *CustodyService) EnableExecution(ctx context.Context, req *ExecutionChangeRequest) (*custody.ExecutionStatus, error) {
	address := auth.NormalizeAddress(req.WalletAddress)

	signature, err := decodeSignature(req.Signature)
	if err != nil {
		return nil, err
	}
	if _, err := s.authenticator.VerifyAndConsume(ctx, address, req.Nonce, types.PurposeEnableExecution, signature, auth.VerifierFor(address)); err != nil {
		s.auditAuthFailure(ctx, address, types.PurposeEnableExecution, err)
		return nil, err
	}

	if err := s.executor.Enable(ctx, req.SessionToken, address); err != nil {
		return nil, err
	}

	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Action:        storage.AuditActionExecutionEnabled,
		Purpose:       strPtr(string(types.PurposeEnableExecution)),
	})
	return s.executor.Status(ctx, address)
}

// RevokeExecution withdraws headless authorization and destroys the
// wrapped secret.
func (s *CustodyService) RevokeExecution(ctx context.Context, req *ExecutionChangeRequest) (*custody.ExecutionStatus, error) {
	address := auth.NormalizeAddress(req.WalletAddress)

	signature, err := decodeSignature(req.Signature)
	if err != nil {
		return nil, err
	}
	if _, err := s.authenticator.VerifyAndConsume(ctx, address, req.Nonce, types.PurposeRevokeExecution, signature, auth.VerifierFor(address)); err != nil {
		s.auditAuthFailure(ctx, address, types.PurposeRevokeExecution, err)
		return nil, err
	}

	if err := s.executor.Revoke(ctx, req.SessionToken, address); err != nil {
		return nil, err
	}

	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Action:        storage.AuditActionExecutionRevoked,
		Purpose:       strPtr(string(types.PurposeRevokeExecution)),
	})
	return s.executor.Status(ctx, address)
}

// ExecutionStatus reports the wallet's authorization state to its owner.
// The caller must hold a session for the wallet.
func (s *CustodyService) ExecutionStatus(ctx context.Context, sessionToken, walletAddress string) (*custody.ExecutionStatus, error) {
	address := auth.NormalizeAddress(walletAddress)
	if _, err := s.matchSession(sessionToken, address); err != nil {
		return nil, err
	}
	return s.executor.Status(ctx, address)
}

// MnemonicRequest represents a session-gated mnemonic operation
type MnemonicRequest struct {
	WalletAddress string `json:"wallet_address"`
	SessionToken  string `json:"-"`
}

// ProvisionMnemonic generates a recovery phrase and delegated signing
// key for the wallet. Only the delegated public key is returned; the
// phrase stays encrypted until revealed.
func (s *CustodyService) ProvisionMnemonic(ctx context.Context, req *MnemonicRequest) (*custody.ProvisionResult, error) {
	address := auth.NormalizeAddress(req.WalletAddress)

	res, err := s.vault.Provision(ctx, req.SessionToken, address)
	if err != nil {
		return nil, err
	}

	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Action:        storage.AuditActionMnemonicProvisioned,
		Metadata:      map[string]interface{}{"delegated_public_key": res.DelegatedPublicKey},
	})
	return res, nil
}

// ImportMnemonicRequest represents a request to adopt an existing phrase
type ImportMnemonicRequest struct {
	WalletAddress string `json:"wallet_address"`
	Mnemonic      string `json:"mnemonic"`
	SessionToken  string `json:"-"`
}

// ImportMnemonic stores a caller-supplied recovery phrase instead of
// generating one, deriving the same delegated key the phrase encodes.
func (s *CustodyService) ImportMnemonic(ctx context.Context, req *ImportMnemonicRequest) (*custody.ProvisionResult, error) {
	address := auth.NormalizeAddress(req.WalletAddress)

	res, err := s.vault.Import(ctx, req.SessionToken, address, req.Mnemonic)
	if err != nil {
		return nil, err
	}

	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Action:        storage.AuditActionMnemonicImported,
		Metadata:      map[string]interface{}{"delegated_public_key": res.DelegatedPublicKey},
	})
	return res, nil
}

// RevealRequest represents a signed request to display the recovery
// phrase
type RevealRequest struct {
	WalletAddress string `json:"wallet_address"`
	Nonce         string `json:"nonce"`
	Signature     string `json:"signature"`
	SessionToken  string `json:"-"`
}

// RevealMnemonic decrypts the recovery phrase for display. It demands a
// live session plus a fresh reveal-purpose signature, and is rate
// limited per wallet on top of that.
func (s *CustodyService) RevealMnemonic(ctx context.Context, req *RevealRequest) (*custody.RevealResult, error) {
	address := auth.NormalizeAddress(req.WalletAddress)

	signature, err := decodeSignature(req.Signature)
	if err != nil {
		return nil, err
	}
	if _, err := s.authenticator.VerifyAndConsume(ctx, address, req.Nonce, types.PurposeRevealMnemonic, signature, auth.VerifierFor(address)); err != nil {
		s.metrics.MnemonicReveals.WithLabelValues(metrics.ResultFailure).Inc()
		s.auditAuthFailure(ctx, address, types.PurposeRevealMnemonic, err)
		return nil, err
	}

	res, err := s.vault.Reveal(ctx, req.SessionToken, address)
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok && appErr.Code == apperrors.ErrCodeRateLimited {
			s.metrics.MnemonicReveals.WithLabelValues(metrics.ResultRateLimited).Inc()
			s.auditLog(ctx, &storage.AuditLogEntry{
				WalletAddress: address,
				Action:        storage.AuditActionRateLimitExceeded,
				ErrorMessage:  errMsg(err),
			})
		} else {
			s.metrics.MnemonicReveals.WithLabelValues(metrics.ResultFailure).Inc()
		}
		return nil, err
	}

	s.metrics.MnemonicReveals.WithLabelValues(metrics.ResultSuccess).Inc()
	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Action:        storage.AuditActionMnemonicRevealed,
		Purpose:       strPtr(string(types.PurposeRevealMnemonic)),
	})
	return res, nil
}

// PolicyRequest represents a session-gated policy operation. Policy is
// the raw JSON object whose integrity is being committed or checked.
type PolicyRequest struct {
	WalletAddress string          `json:"wallet_address"`
	Policy        json.RawMessage `json:"policy"`
	SessionToken  string          `json:"-"`
}

// PolicyCommitResponse carries the committed integrity tag
type PolicyCommitResponse struct {
	PolicyHmac string `json:"policy_hmac"`
}

// CommitPolicy computes the keyed integrity tag over the policy under
// the session's Master Secret and persists it on the wallet record.
func (s *CustodyService) CommitPolicy(ctx context.Context, req *PolicyRequest) (*PolicyCommitResponse, error) {
	address := auth.NormalizeAddress(req.WalletAddress)
	sess, err := s.matchSession(req.SessionToken, address)
	if err != nil {
		return nil, err
	}
	if len(req.Policy) == 0 {
		return nil, apperrors.BadRequest("policy is required")
	}

	hmacHex, err := custody.ComputePolicyHmac(sess.MasterSecret, req.Policy)
	if err != nil {
		return nil, err
	}
	if err := s.records.UpdatePolicyHmac(ctx, address, &hmacHex); err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}

	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Action:        storage.AuditActionPolicyCommitted,
		Metadata:      map[string]interface{}{"policy_hmac": hmacHex},
	})
	return &PolicyCommitResponse{PolicyHmac: hmacHex}, nil
}

// PolicyVerifyResponse reports whether a policy matches its committed
// tag
type PolicyVerifyResponse struct {
	Verified bool `json:"verified"`
}

// VerifyPolicy recomputes the policy's integrity tag and compares it to
// the committed one. A mismatch is reported, audited, and counted, but
// is not an error at this layer.
func (s *CustodyService) VerifyPolicy(ctx context.Context, req *PolicyRequest) (*PolicyVerifyResponse, error) {
	address := auth.NormalizeAddress(req.WalletAddress)
	sess, err := s.matchSession(req.SessionToken, address)
	if err != nil {
		return nil, err
	}
	if len(req.Policy) == 0 {
		return nil, apperrors.BadRequest("policy is required")
	}

	record, err := s.records.GetByAddress(ctx, address)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	if record == nil || record.PolicyHmac == nil {
		return nil, apperrors.ErrNotFound
	}

	ok, err := custody.VerifyPolicyHmac(sess.MasterSecret, req.Policy, *record.PolicyHmac)
	if err != nil {
		return nil, err
	}
	if !ok {
		s.metrics.PolicyChecks.WithLabelValues(metrics.ResultFailure).Inc()
		s.auditLog(ctx, &storage.AuditLogEntry{
			WalletAddress: address,
			Action:        storage.AuditActionPolicyVerifyFailed,
		})
		return &PolicyVerifyResponse{Verified: false}, nil
	}

	s.metrics.PolicyChecks.WithLabelValues(metrics.ResultSuccess).Inc()
	return &PolicyVerifyResponse{Verified: true}, nil
}

// EmergencyStopRequest identifies the wallet to stop and the actor
// pulling the switch
type EmergencyStopRequest struct {
	WalletAddress string `json:"wallet_address"`
	Actor         string `json:"-"`
}

// EmergencyStop kills all execution authorization for the wallet,
// destroys its live sessions, and blocks re-enabling until the stop is
// cleared administratively.
func (s *CustodyService) EmergencyStop(ctx context.Context, req *EmergencyStopRequest) (*custody.ExecutionStatus, error) {
	address := auth.NormalizeAddress(req.WalletAddress)
	if req.Actor == "" {
		return nil, apperrors.BadRequest("actor is required")
	}

	if err := s.executor.EmergencyStop(ctx, address, req.Actor); err != nil {
		return nil, err
	}

	s.metrics.EmergencyStops.Inc()
	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Actor:         strPtr(req.Actor),
		Action:        storage.AuditActionEmergencyStop,
	})
	return s.executor.Status(ctx, address)
}

// ClearEmergencyStop lifts a stop flag. Execution stays revoked; the
// wallet owner must enable it again with a fresh signature.
func (s *CustodyService) ClearEmergencyStop(ctx context.Context, req *EmergencyStopRequest) (*custody.ExecutionStatus, error) {
	address := auth.NormalizeAddress(req.WalletAddress)
	if req.Actor == "" {
		return nil, apperrors.BadRequest("actor is required")
	}

	if err := s.executor.ClearEmergencyStop(ctx, address); err != nil {
		return nil, err
	}

	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Actor:         strPtr(req.Actor),
		Action:        storage.AuditActionEmergencyStopCleared,
	})
	return s.executor.Status(ctx, address)
}

// WithHeadlessSecret runs fn with the wallet's Master Secret recovered
// through the headless execution path, with no session involved. The
// secret is wiped when fn returns; fn must not retain it.
func (s *CustodyService) WithHeadlessSecret(ctx context.Context, walletAddress string, fn func(masterSecret []byte) error) error {
	address := auth.NormalizeAddress(walletAddress)

	secret, dispose, err := s.executor.GetForHeadlessUse(ctx, address)
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok &&
			(appErr.Code == apperrors.ErrCodeEmergencyStopActive || appErr.Code == apperrors.ErrCodeExecutionNotAuthorized) {
			s.metrics.HeadlessAccesses.WithLabelValues(metrics.ResultDenied).Inc()
		} else {
			s.metrics.HeadlessAccesses.WithLabelValues(metrics.ResultFailure).Inc()
		}
		return err
	}
	defer dispose()

	s.metrics.HeadlessAccesses.WithLabelValues(metrics.ResultSuccess).Inc()
	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Actor:         strPtr(headlessActor),
		Action:        storage.AuditActionExecutionAccessed,
	})
	return fn(secret)
}

// WithDelegatedSigner runs fn with the wallet's delegated signing key,
// decrypted through the headless execution path. The key is wiped when
// fn returns.
func (s *CustodyService) WithDelegatedSigner(ctx context.Context, walletAddress string, fn func(signer ed25519.PrivateKey) error) error {
	address := auth.NormalizeAddress(walletAddress)
	return s.WithHeadlessSecret(ctx, address, func(masterSecret []byte) error {
		key, err := s.vault.LoadDelegatedKey(ctx, address, masterSecret)
		if err != nil {
			return err
		}
		defer crypto.Wipe(key)
		return fn(key)
	})
}

// VerifyPolicyForExecution checks a policy against its committed tag
// using the headless path, for callers acting without a session. Unlike
// VerifyPolicy, a mismatch here is an error: an automated actor must
// never proceed on a tampered policy.
func (s *CustodyService) VerifyPolicyForExecution(ctx context.Context, walletAddress string, policy interface{}) error {
	address := auth.NormalizeAddress(walletAddress)
	return s.WithHeadlessSecret(ctx, address, func(masterSecret []byte) error {
		record, err := s.records.GetByAddress(ctx, address)
		if err != nil {
			return apperrors.StorageUnavailable(err)
		}
		if record == nil || record.PolicyHmac == nil {
			return apperrors.ErrNotFound
		}

		ok, err := custody.VerifyPolicyHmac(masterSecret, policy, *record.PolicyHmac)
		if err != nil {
			return err
		}
		if !ok {
			s.metrics.PolicyChecks.WithLabelValues(metrics.ResultFailure).Inc()
			s.auditLog(ctx, &storage.AuditLogEntry{
				WalletAddress: address,
				Actor:         strPtr(headlessActor),
				Action:        storage.AuditActionPolicyVerifyFailed,
			})
			return apperrors.ErrPolicyTampered
		}
		s.metrics.PolicyChecks.WithLabelValues(metrics.ResultSuccess).Inc()
		return nil
	})
}

// headlessActor attributes audit entries written on behalf of the
// automated execution path rather than a user request.
const headlessActor = "headless"

// matchSession resolves a token and checks it belongs to the wallet. A
// session for a different wallet is reported as not found, same as no
// session at all.
func (s *CustodyService) matchSession(token, walletAddress string) (*custody.Session, error) {
	sess, err := s.sessions.Get(token)
	if err != nil {
		return nil, err
	}
	if sess.WalletAddress != walletAddress {
		return nil, apperrors.ErrSessionNotFound
	}
	return sess, nil
}

// auditLog writes an audit entry with the request attribution from ctx.
// Audit failures never fail the operation they describe.
func (s *CustodyService) auditLog(ctx context.Context, entry *storage.AuditLogEntry) {
	info := storage.GetClientInfo(ctx)
	entry.ClientIP = info.IP
	entry.UserAgent = info.UserAgent
	if err := s.audit.Log(ctx, entry); err != nil {
		logger.Warn(ctx, "failed to write audit log", "action", entry.Action, "error", err)
	}
}

func (s *CustodyService) auditAuthFailure(ctx context.Context, address string, purpose types.Purpose, err error) {
	s.auditLog(ctx, &storage.AuditLogEntry{
		WalletAddress: address,
		Action:        storage.AuditActionAuthenticationFailed,
		Purpose:       strPtr(string(purpose)),
		ErrorMessage:  errMsg(err),
	})
}

// decodeSignature accepts the hex encoding wallets emit, with or
// without a 0x prefix.
func decodeSignature(s string) ([]byte, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) == 0 {
		return nil, apperrors.InvalidSignature("signature must be hex encoded")
	}
	return raw, nil
}

func strPtr(s string) *string { return &s }

func errMsg(err error) *string {
	m := err.Error()
	return &m
}
