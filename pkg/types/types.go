package types

import (
	"time"

	"github.com/google/uuid"
)

// Purpose names the authorization flow a signing challenge is issued for.
// Every challenge is bound to exactly one purpose and cannot be replayed
// into another flow.
type Purpose string

const (
	PurposeUnlock          Purpose = "unlock"
	PurposeRevealMnemonic  Purpose = "reveal-mnemonic"
	PurposeEnableExecution Purpose = "enable-execution"
	PurposeRevokeExecution Purpose = "revoke-execution"
)

// AllPurposes returns every purpose a challenge can be issued for.
func AllPurposes() []Purpose {
	return []Purpose{
		PurposeUnlock,
		PurposeRevealMnemonic,
		PurposeEnableExecution,
		PurposeRevokeExecution,
	}
}

// IsValidPurpose checks whether the given string names a known purpose.
func IsValidPurpose(s string) bool {
	switch Purpose(s) {
	case PurposeUnlock, PurposeRevealMnemonic, PurposeEnableExecution, PurposeRevokeExecution:
		return true
	}
	return false
}

// Master Secret storage-key derivation schemes. The format version on a
// wallet record tells the custodian which scheme wrapped the stored
// Master Secret.
const (
	// FormatSignatureDerived wrapped the Master Secret under a key derived
	// from the unlock signature of a single historical request. The key
	// cannot be re-derived from a later signature.
	FormatSignatureDerived = 1
	// FormatServerDerived wraps the Master Secret under a key derived from
	// (address, salt, server secret), stable across requests.
	FormatServerDerived = 2
)

// WalletSecurityRecord holds the persisted security state for one wallet.
// Byte fields are envelope ciphertexts; nil means not provisioned.
type WalletSecurityRecord struct {
	Address                      string     `json:"address"`
	MasterSecretSalt             []byte     `json:"-"`
	EncryptedMasterSecret        []byte     `json:"-"`
	MasterSecretFormatVersion    int        `json:"master_secret_format_version"`
	EncryptedMnemonic            []byte     `json:"-"`
	EncryptedDelegatedKeyLegacy  []byte     `json:"-"`
	EncryptedDelegatedKeyCurrent []byte     `json:"-"`
	ExecutionEnabled             bool       `json:"execution_enabled"`
	ExecutionWrappedSecret       []byte     `json:"-"`
	ExecutionEnabledAt           *time.Time `json:"execution_enabled_at,omitempty"`
	ExecutionExpiresAt           *time.Time `json:"execution_expires_at,omitempty"`
	EmergencyStopTriggered       bool       `json:"emergency_stop_triggered"`
	EmergencyStopAt              *time.Time `json:"emergency_stop_at,omitempty"`
	EmergencyStopBy              *string    `json:"emergency_stop_by,omitempty"`
	PolicyHmac                   *string    `json:"-"`
	CreatedAt                    time.Time  `json:"created_at"`
	UpdatedAt                    time.Time  `json:"updated_at"`
}

// HasMnemonic reports whether a recovery phrase is provisioned.
func (r *WalletSecurityRecord) HasMnemonic() bool {
	return len(r.EncryptedMnemonic) > 0
}

// HasDelegatedKey reports whether a delegated signing key is provisioned
// under the current scheme.
func (r *WalletSecurityRecord) HasDelegatedKey() bool {
	return len(r.EncryptedDelegatedKeyCurrent) > 0
}

// AuthChallenge is a single-use signing challenge. Only the hash of the
// nonce is ever persisted; the raw nonce lives with the client until it
// comes back for verification.
type AuthChallenge struct {
	ID            uuid.UUID  `json:"id"`
	WalletAddress string     `json:"wallet_address"`
	NonceHash     string     `json:"-"`
	Purpose       Purpose    `json:"purpose"`
	IssuedAt      time.Time  `json:"issued_at"`
	ExpiresAt     time.Time  `json:"expires_at"`
	UsedAt        *time.Time `json:"used_at,omitempty"`
}

// Used reports whether the challenge was already consumed.
func (c *AuthChallenge) Used() bool {
	return c.UsedAt != nil
}
