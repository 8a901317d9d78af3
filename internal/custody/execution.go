package custody

import (
	"context"
	"fmt"
	"time"

	"github.com/walletguard/walletguard/internal/crypto"
	"github.com/walletguard/walletguard/internal/logger"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

// SecretWrapper wraps and unwraps the Master Secret under the
// server-wide execution key. Implementations live in internal/keywrap.
type SecretWrapper interface {
	Wrap(ctx context.Context, plaintext, aad []byte) ([]byte, error)
	Unwrap(ctx context.Context, wrapped, aad []byte) ([]byte, error)
}

// ExecutionAuthorizer controls headless recovery of Master Secrets: a
// trusted server-side actor reacting to market signals can obtain the
// secret without a live user session, as long as the wallet owner has
// enabled it and nobody pulled the emergency stop.
type ExecutionAuthorizer struct {
	records  RecordStore
	sessions *SessionStore
	wrapper  SecretWrapper

	// maxLifetime bounds how long an authorization stays valid.
	// Zero keeps the authorization open until explicitly revoked.
	maxLifetime time.Duration

	// now is replaceable in tests
	now func() time.Time
}

// ExecutionStatus is the externally visible authorization state.
type ExecutionStatus struct {
	Enabled                bool       `json:"enabled"`
	EnabledAt              *time.Time `json:"enabled_at,omitempty"`
	ExpiresAt              *time.Time `json:"expires_at,omitempty"`
	EmergencyStopTriggered bool       `json:"emergency_stop_triggered"`
	EmergencyStopAt        *time.Time `json:"emergency_stop_at,omitempty"`
	EmergencyStopBy        *string    `json:"emergency_stop_by,omitempty"`
}

// NewExecutionAuthorizer creates an ExecutionAuthorizer.
func NewExecutionAuthorizer(records RecordStore, sessions *SessionStore, wrapper SecretWrapper, maxLifetime time.Duration) *ExecutionAuthorizer {
	return &ExecutionAuthorizer{
		records:     records,
		sessions:    sessions,
		wrapper:     wrapper,
		maxLifetime: maxLifetime,
		now:         time.Now,
	}
}

// Enable authorizes headless execution for a wallet. The caller must
// hold a valid session for that wallet, proving recent ownership. The
// session's Master Secret is wrapped under the server-wide execution key
// and persisted together with the enabled flag.
func (a *ExecutionAuthorizer) Enable(ctx context.Context, sessionToken, walletAddress string) error {
	session, err := a.matchSession(sessionToken, walletAddress)
	if err != nil {
		return err
	}

	record, err := a.records.GetByAddress(ctx, walletAddress)
	if err != nil {
		return apperrors.StorageUnavailable(err)
	}
	if record == nil {
		return apperrors.ErrNotFound
	}
	if record.EmergencyStopTriggered {
		return apperrors.ErrEmergencyStopActive
	}

	secret := append([]byte(nil), session.MasterSecret...)
	defer crypto.Wipe(secret)

	aad := crypto.BuildAAD(walletAddress, crypto.RecordTypeExecutionWrap)
	wrapped, err := a.wrapper.Wrap(ctx, secret, aad)
	if err != nil {
		return fmt.Errorf("failed to wrap master secret for execution: %w", err)
	}

	now := a.now()
	var expiresAt *time.Time
	if a.maxLifetime > 0 {
		t := now.Add(a.maxLifetime)
		expiresAt = &t
	}

	if err := a.records.EnableExecution(ctx, walletAddress, wrapped, now, expiresAt); err != nil {
		return apperrors.StorageUnavailable(err)
	}
	return nil
}

// Revoke withdraws headless authorization. The enabled flag, the wrapped
// secret, and any expiry are cleared regardless of current state.
func (a *ExecutionAuthorizer) Revoke(ctx context.Context, sessionToken, walletAddress string) error {
	if _, err := a.matchSession(sessionToken, walletAddress); err != nil {
		return err
	}

	if err := a.records.RevokeExecution(ctx, walletAddress); err != nil {
		return apperrors.StorageUnavailable(err)
	}
	return nil
}

// GetForHeadlessUse recovers the Master Secret without a session. Every
// call reads current storage state; an emergency stop or revocation is
// visible immediately, with no cache window. The caller must invoke the
// returned dispose function as soon as it is done with the secret.
func (a *ExecutionAuthorizer) GetForHeadlessUse(ctx context.Context, walletAddress string) ([]byte, func(), error) {
	record, err := a.records.GetByAddress(ctx, walletAddress)
	if err != nil {
		return nil, nil, apperrors.StorageUnavailable(err)
	}
	if record == nil {
		return nil, nil, apperrors.ErrExecutionNotAuthorized
	}
	if record.EmergencyStopTriggered {
		return nil, nil, apperrors.ErrEmergencyStopActive
	}
	if !record.ExecutionEnabled || len(record.ExecutionWrappedSecret) == 0 {
		return nil, nil, apperrors.ErrExecutionNotAuthorized
	}
	if record.ExecutionExpiresAt != nil && a.now().After(*record.ExecutionExpiresAt) {
		// lapsed authorization, revoke it so storage reflects reality
		if err := a.records.RevokeExecution(ctx, walletAddress); err != nil {
			logger.Warn(ctx, "failed to revoke lapsed execution authorization", "wallet", walletAddress, "error", err)
		}
		return nil, nil, apperrors.ErrExecutionNotAuthorized
	}

	aad := crypto.BuildAAD(walletAddress, crypto.RecordTypeExecutionWrap)
	secret, err := a.wrapper.Unwrap(ctx, record.ExecutionWrappedSecret, aad)
	if err != nil {
		if appErr, ok := apperrors.IsAppError(err); ok {
			return nil, nil, appErr
		}
		return nil, nil, fmt.Errorf("failed to unwrap execution secret: %w", err)
	}

	dispose := func() { crypto.Wipe(secret) }
	return secret, dispose, nil
}

// EmergencyStop kills all automated activity for a wallet: execution
// authorization is cleared, live sessions are destroyed, and the sticky
// stop flag blocks re-enabling until an operator clears it out of band.
func (a *ExecutionAuthorizer) EmergencyStop(ctx context.Context, walletAddress, actorID string) error {
	record, err := a.records.GetByAddress(ctx, walletAddress)
	if err != nil {
		return apperrors.StorageUnavailable(err)
	}
	if record == nil {
		return apperrors.ErrNotFound
	}

	if err := a.records.TriggerEmergencyStop(ctx, walletAddress, actorID, a.now()); err != nil {
		return apperrors.StorageUnavailable(err)
	}

	destroyed := a.sessions.InvalidateAllForWallet(walletAddress)
	logger.Warn(ctx, "emergency stop triggered",
		"wallet", walletAddress, "actor", actorID, "sessions_destroyed", destroyed)
	return nil
}

// ClearEmergencyStop lifts the stop flag. This is the out-of-band
// administrative path; execution stays revoked and the wallet owner must
// enable it again with a fresh signature.
func (a *ExecutionAuthorizer) ClearEmergencyStop(ctx context.Context, walletAddress string) error {
	record, err := a.records.GetByAddress(ctx, walletAddress)
	if err != nil {
		return apperrors.StorageUnavailable(err)
	}
	if record == nil {
		return apperrors.ErrNotFound
	}
	if !record.EmergencyStopTriggered {
		return nil
	}

	if err := a.records.ClearEmergencyStop(ctx, walletAddress); err != nil {
		return apperrors.StorageUnavailable(err)
	}

	logger.Info(ctx, "emergency stop cleared", "wallet", walletAddress)
	return nil
}

// Status reports the authorization state for a wallet.
func (a *ExecutionAuthorizer) Status(ctx context.Context, walletAddress string) (*ExecutionStatus, error) {
	record, err := a.records.GetByAddress(ctx, walletAddress)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	if record == nil {
		return nil, apperrors.ErrNotFound
	}

	return &ExecutionStatus{
		Enabled:                record.ExecutionEnabled,
		EnabledAt:              record.ExecutionEnabledAt,
		ExpiresAt:              record.ExecutionExpiresAt,
		EmergencyStopTriggered: record.EmergencyStopTriggered,
		EmergencyStopAt:        record.EmergencyStopAt,
		EmergencyStopBy:        record.EmergencyStopBy,
	}, nil
}

// matchSession loads a session and checks it belongs to the wallet. A
// session for a different wallet is reported as not found rather than
// revealing that the token exists.
func (a *ExecutionAuthorizer) matchSession(token, walletAddress string) (*Session, error) {
	session, err := a.sessions.Get(token)
	if err != nil {
		return nil, err
	}
	if session.WalletAddress != walletAddress {
		return nil, apperrors.ErrSessionNotFound
	}
	return session, nil
}
