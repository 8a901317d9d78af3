package custody

import (
	"context"
	"crypto/rand"
	"fmt"
	"time"

	"github.com/walletguard/walletguard/internal/crypto"
	"github.com/walletguard/walletguard/internal/logger"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
	"github.com/walletguard/walletguard/pkg/types"
)

// RecordStore is the storage collaborator for wallet security records.
// Every method is atomic at single-record granularity; multi-field
// transitions (enable, revoke, stop) happen in one statement.
type RecordStore interface {
	GetByAddress(ctx context.Context, address string) (*types.WalletSecurityRecord, error)
	Create(ctx context.Context, record *types.WalletSecurityRecord) error
	UpdateMasterSecret(ctx context.Context, address string, salt, encrypted []byte, formatVersion int, clearDependents bool) error
	ProvisionMnemonic(ctx context.Context, address string, encryptedMnemonic, encryptedDelegatedKey []byte) (bool, error)
	UpdateMnemonic(ctx context.Context, address string, encryptedMnemonic []byte) error
	UpdateDelegatedKey(ctx context.Context, address string, encryptedKey []byte) error
	PromoteDelegatedKey(ctx context.Context, address string, encryptedKey []byte) error
	EnableExecution(ctx context.Context, address string, wrappedSecret []byte, enabledAt time.Time, expiresAt *time.Time) error
	RevokeExecution(ctx context.Context, address string) error
	TriggerEmergencyStop(ctx context.Context, address, actor string, at time.Time) error
	ClearEmergencyStop(ctx context.Context, address string) error
	UpdatePolicyHmac(ctx context.Context, address string, policyHmac *string) error
}

// UnlockRequest carries the authentication material from the request that
// reached Initialize. The legacy storage-key scheme derives from the raw
// signature, so the custodian needs it even though the current scheme
// never touches it.
type UnlockRequest struct {
	Signature []byte
	Purpose   types.Purpose
}

// InitializeResult reports what Initialize did for the wallet.
type InitializeResult struct {
	MasterSecret []byte
	IsNew        bool
	// Migrated is set when a deprecated-format record was recovered and
	// re-encryption under the current scheme was scheduled.
	Migrated bool
	// Repaired is set alongside Migrated when only the version tag was
	// stale and the ciphertext itself was already current.
	Repaired bool
	// Regenerated is set when no scheme could open a deprecated-format
	// record and a fresh Master Secret replaced it. Everything encrypted
	// under the old secret is gone.
	Regenerated bool
}

// storageScheme derives the storage key for one master-secret wrapping
// scheme. On deprecated-format records schemes are tried in declaration
// order and the first key that opens the ciphertext wins.
type storageScheme interface {
	FormatVersion() int
	StorageKey(record *types.WalletSecurityRecord, req UnlockRequest) ([]byte, error)
}

type serverDerivedScheme struct {
	serverSecret []byte
}

func (s *serverDerivedScheme) FormatVersion() int { return types.FormatServerDerived }

func (s *serverDerivedScheme) StorageKey(record *types.WalletSecurityRecord, _ UnlockRequest) ([]byte, error) {
	return crypto.DeriveStorageKey(s.serverSecret, record.MasterSecretSalt, record.Address)
}

type signatureDerivedScheme struct{}

func (s *signatureDerivedScheme) FormatVersion() int { return types.FormatSignatureDerived }

func (s *signatureDerivedScheme) StorageKey(record *types.WalletSecurityRecord, req UnlockRequest) ([]byte, error) {
	if len(req.Signature) == 0 {
		return nil, fmt.Errorf("no signature available for signature-derived storage key")
	}
	return crypto.DeriveSessionUnlockKey(record.Address, req.Signature, record.MasterSecretSalt, string(req.Purpose))
}

var (
	_ storageScheme = (*serverDerivedScheme)(nil)
	_ storageScheme = (*signatureDerivedScheme)(nil)
)

// Custodian owns the Master Secret lifecycle: provisioning, storage-key
// derivation, and migration of records wrapped under deprecated schemes.
type Custodian struct {
	records      RecordStore
	serverSecret []byte
	schemes      []storageScheme
}

// NewCustodian creates a Custodian. serverSecret is the process-wide
// secret the current storage-key scheme derives from.
func NewCustodian(records RecordStore, serverSecret []byte) *Custodian {
	return &Custodian{
		records:      records,
		serverSecret: serverSecret,
		schemes: []storageScheme{
			&serverDerivedScheme{serverSecret: serverSecret},
			&signatureDerivedScheme{},
		},
	}
}

// Initialize returns the wallet's Master Secret, provisioning one for
// wallets seen for the first time. The caller owns the returned buffer
// and must wipe it when done.
//
// Existing records wrapped under the current scheme decrypt directly; a
// tag mismatch there is DecryptionFailure, never treated as "no wallet".
// Deprecated-format records go through the scheme chain: recovery via a
// non-primary scheme schedules re-encryption under the current one, and
// total failure regenerates the Master Secret, dropping every dependent
// ciphertext.
func (c *Custodian) Initialize(ctx context.Context, walletAddress string, req UnlockRequest) (*InitializeResult, error) {
	record, err := c.records.GetByAddress(ctx, walletAddress)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}

	if record == nil {
		return c.provision(ctx, walletAddress)
	}

	if record.MasterSecretFormatVersion == types.FormatServerDerived {
		masterSecret, err := c.decryptWith(c.schemes[0], record, req)
		if err != nil {
			return nil, apperrors.ErrDecryptionFailure
		}
		return &InitializeResult{MasterSecret: masterSecret}, nil
	}

	return c.migrate(ctx, record, req)
}

// provision creates the security record for a wallet seen for the first
// time. A concurrent provision for the same wallet loses the insert and
// falls back to reading the winner's record.
func (c *Custodian) provision(ctx context.Context, walletAddress string) (*InitializeResult, error) {
	salt := make([]byte, crypto.KeySize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	masterSecret := make([]byte, crypto.KeySize)
	if _, err := rand.Read(masterSecret); err != nil {
		return nil, fmt.Errorf("failed to generate master secret: %w", err)
	}

	encrypted, err := c.encryptUnderCurrent(masterSecret, salt, walletAddress)
	if err != nil {
		crypto.Wipe(masterSecret)
		return nil, err
	}

	record := &types.WalletSecurityRecord{
		Address:                   walletAddress,
		MasterSecretSalt:          salt,
		EncryptedMasterSecret:     encrypted,
		MasterSecretFormatVersion: types.FormatServerDerived,
	}
	if err := c.records.Create(ctx, record); err != nil {
		crypto.Wipe(masterSecret)

		existing, getErr := c.records.GetByAddress(ctx, walletAddress)
		if getErr != nil || existing == nil {
			return nil, apperrors.StorageUnavailable(err)
		}
		recovered, decErr := c.decryptWith(c.schemes[0], existing, UnlockRequest{})
		if decErr != nil {
			return nil, apperrors.ErrDecryptionFailure
		}
		return &InitializeResult{MasterSecret: recovered}, nil
	}

	logger.Info(ctx, "provisioned master secret", "wallet", walletAddress)
	return &InitializeResult{MasterSecret: masterSecret, IsNew: true}, nil
}

// migrate handles records whose format version is deprecated.
func (c *Custodian) migrate(ctx context.Context, record *types.WalletSecurityRecord, req UnlockRequest) (*InitializeResult, error) {
	for _, scheme := range c.schemes {
		masterSecret, err := c.decryptWith(scheme, record, req)
		if err != nil {
			continue
		}

		if scheme.FormatVersion() == types.FormatServerDerived {
			// ciphertext already under the current scheme, only the
			// version tag is stale
			c.repairVersionTag(record)
			return &InitializeResult{MasterSecret: masterSecret, Migrated: true, Repaired: true}, nil
		}

		c.scheduleReencryption(record, masterSecret, req)
		return &InitializeResult{MasterSecret: masterSecret, Migrated: true}, nil
	}

	return c.regenerate(ctx, record)
}

// repairVersionTag fixes a record whose ciphertext is current but whose
// version tag is stale. Runs off the request path; a failure leaves the
// tag stale and the next unlock retries.
func (c *Custodian) repairVersionTag(record *types.WalletSecurityRecord) {
	address := record.Address
	salt := append([]byte(nil), record.MasterSecretSalt...)
	encrypted := append([]byte(nil), record.EncryptedMasterSecret...)

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.records.UpdateMasterSecret(ctx, address, salt, encrypted, types.FormatServerDerived, false); err != nil {
			logger.Error(ctx, "failed to repair format version tag", "wallet", address, "error", err)
		}
	}()
}

// scheduleReencryption re-wraps a legacy-recovered Master Secret under
// the current scheme without blocking the unlock that recovered it. The
// legacy delegated-key ciphertext, if any, rides along: it decrypts
// under the same legacy key and is promoted to the current slot.
func (c *Custodian) scheduleReencryption(record *types.WalletSecurityRecord, masterSecret []byte, req UnlockRequest) {
	address := record.Address
	salt := append([]byte(nil), record.MasterSecretSalt...)
	secret := append([]byte(nil), masterSecret...)

	var legacyKey []byte
	var legacyDelegated []byte
	if len(record.EncryptedDelegatedKeyLegacy) > 0 {
		if key, err := (&signatureDerivedScheme{}).StorageKey(record, req); err == nil {
			legacyKey = key
			legacyDelegated = append([]byte(nil), record.EncryptedDelegatedKeyLegacy...)
		}
	}

	go func() {
		defer crypto.Wipe(secret)
		defer crypto.Wipe(legacyKey)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		encrypted, err := c.encryptUnderCurrent(secret, salt, address)
		if err != nil {
			logger.Error(ctx, "failed to re-encrypt master secret", "wallet", address, "error", err)
			return
		}
		if err := c.records.UpdateMasterSecret(ctx, address, salt, encrypted, types.FormatServerDerived, false); err != nil {
			logger.Error(ctx, "failed to persist migrated master secret", "wallet", address, "error", err)
			return
		}
		logger.Info(ctx, "migrated master secret to current scheme", "wallet", address)

		if len(legacyDelegated) > 0 {
			c.promoteLegacyDelegatedKey(ctx, address, legacyDelegated, legacyKey, secret)
		}
	}()
}

// promoteLegacyDelegatedKey re-encrypts a signature-era delegated key
// under the current delegated-key subkey and clears the legacy slot.
func (c *Custodian) promoteLegacyDelegatedKey(ctx context.Context, address string, legacyCiphertext, legacyKey, masterSecret []byte) {
	aad := crypto.BuildAAD(address, crypto.RecordTypeDelegatedKey)

	seed, err := crypto.Decrypt(legacyCiphertext, legacyKey, aad)
	if err != nil {
		logger.Warn(ctx, "legacy delegated key did not open under migration key, leaving in place",
			"wallet", address, "error", err)
		return
	}
	defer crypto.Wipe(seed)

	subkey, err := crypto.DeriveSubkey(masterSecret, crypto.SubkeyDelegatedKey)
	if err != nil {
		logger.Error(ctx, "failed to derive delegated-key subkey", "wallet", address, "error", err)
		return
	}
	defer crypto.Wipe(subkey)

	encrypted, err := crypto.Encrypt(seed, subkey, aad)
	if err != nil {
		logger.Error(ctx, "failed to re-encrypt delegated key", "wallet", address, "error", err)
		return
	}
	if err := c.records.PromoteDelegatedKey(ctx, address, encrypted); err != nil {
		logger.Error(ctx, "failed to promote delegated key", "wallet", address, "error", err)
		return
	}
	logger.Info(ctx, "promoted legacy delegated key", "wallet", address)
}

// regenerate replaces an unrecoverable Master Secret. Dependent
// ciphertexts are cleared in the same statement so the wallet reads as
// "not provisioned" instead of failing authentication later.
func (c *Custodian) regenerate(ctx context.Context, record *types.WalletSecurityRecord) (*InitializeResult, error) {
	masterSecret := make([]byte, crypto.KeySize)
	if _, err := rand.Read(masterSecret); err != nil {
		return nil, fmt.Errorf("failed to generate master secret: %w", err)
	}

	encrypted, err := c.encryptUnderCurrent(masterSecret, record.MasterSecretSalt, record.Address)
	if err != nil {
		crypto.Wipe(masterSecret)
		return nil, err
	}
	if err := c.records.UpdateMasterSecret(ctx, record.Address, record.MasterSecretSalt, encrypted, types.FormatServerDerived, true); err != nil {
		crypto.Wipe(masterSecret)
		return nil, apperrors.StorageUnavailable(err)
	}

	logger.Warn(ctx, "regenerated master secret, dependent secrets lost",
		"wallet", record.Address,
		"previous_format_version", record.MasterSecretFormatVersion,
		"had_mnemonic", record.HasMnemonic(),
		"had_delegated_key", record.HasDelegatedKey() || len(record.EncryptedDelegatedKeyLegacy) > 0,
	)

	return &InitializeResult{MasterSecret: masterSecret, Regenerated: true}, nil
}

func (c *Custodian) encryptUnderCurrent(masterSecret, salt []byte, walletAddress string) ([]byte, error) {
	storageKey, err := crypto.DeriveStorageKey(c.serverSecret, salt, walletAddress)
	if err != nil {
		return nil, fmt.Errorf("failed to derive storage key: %w", err)
	}
	defer crypto.Wipe(storageKey)

	aad := crypto.BuildAAD(walletAddress, crypto.RecordTypeMasterSecret)
	encrypted, err := crypto.Encrypt(masterSecret, storageKey, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt master secret: %w", err)
	}
	return encrypted, nil
}

func (c *Custodian) decryptWith(scheme storageScheme, record *types.WalletSecurityRecord, req UnlockRequest) ([]byte, error) {
	storageKey, err := scheme.StorageKey(record, req)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(storageKey)

	aad := crypto.BuildAAD(record.Address, crypto.RecordTypeMasterSecret)
	return crypto.Decrypt(record.EncryptedMasterSecret, storageKey, aad)
}
