package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/walletguard/walletguard/pkg/types"
)

// SecurityRecordRepository handles wallet security record operations
type SecurityRecordRepository struct {
	store *Store
}

// NewSecurityRecordRepository creates a new SecurityRecordRepository
func NewSecurityRecordRepository(store *Store) *SecurityRecordRepository {
	return &SecurityRecordRepository{store: store}
}

const securityRecordColumns = `
	address, master_secret_salt, encrypted_master_secret, master_secret_format_version,
	encrypted_mnemonic, encrypted_delegated_key_legacy, encrypted_delegated_key_current,
	execution_enabled, execution_wrapped_secret, execution_enabled_at, execution_expires_at,
	emergency_stop_triggered, emergency_stop_at, emergency_stop_by,
	policy_hmac, created_at, updated_at`

func scanSecurityRecord(row pgx.Row) (*types.WalletSecurityRecord, error) {
	var record types.WalletSecurityRecord
	err := row.Scan(
		&record.Address,
		&record.MasterSecretSalt,
		&record.EncryptedMasterSecret,
		&record.MasterSecretFormatVersion,
		&record.EncryptedMnemonic,
		&record.EncryptedDelegatedKeyLegacy,
		&record.EncryptedDelegatedKeyCurrent,
		&record.ExecutionEnabled,
		&record.ExecutionWrappedSecret,
		&record.ExecutionEnabledAt,
		&record.ExecutionExpiresAt,
		&record.EmergencyStopTriggered,
		&record.EmergencyStopAt,
		&record.EmergencyStopBy,
		&record.PolicyHmac,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// Create inserts a new security record for a wallet
func (r *SecurityRecordRepository) Create(ctx context.Context, record *types.WalletSecurityRecord) error {
	return r.CreateTx(ctx, r.store.pool, record)
}

// CreateTx inserts a new security record using the provided transaction or connection
func (r *SecurityRecordRepository) CreateTx(ctx context.Context, db DBTX, record *types.WalletSecurityRecord) error {
	query := `
		INSERT INTO wallet_security_records (
			address, master_secret_salt, encrypted_master_secret, master_secret_format_version
		)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at
	`

	err := db.QueryRow(ctx, query,
		record.Address,
		record.MasterSecretSalt,
		record.EncryptedMasterSecret,
		record.MasterSecretFormatVersion,
	).Scan(&record.CreatedAt, &record.UpdatedAt)

	if err != nil {
		return fmt.Errorf("failed to create security record: %w", err)
	}

	return nil
}

// GetByAddress retrieves a security record by wallet address
func (r *SecurityRecordRepository) GetByAddress(ctx context.Context, address string) (*types.WalletSecurityRecord, error) {
	query := `
		SELECT` + securityRecordColumns + `
		FROM wallet_security_records
		WHERE address = $1
	`

	record, err := scanSecurityRecord(r.store.pool.QueryRow(ctx, query, address))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get security record: %w", err)
	}

	return record, nil
}

// UpdateMasterSecret replaces the stored master secret ciphertext. When
// clearDependents is set, every ciphertext encrypted under the previous
// master secret is dropped in the same statement: a regenerated secret
// cannot decrypt them, and stale execution wraps must not outlive it.
func (r *SecurityRecordRepository) UpdateMasterSecret(ctx context.Context, address string, salt, encrypted []byte, formatVersion int, clearDependents bool) error {
	var query string
	if clearDependents {
		query = `
			UPDATE wallet_security_records
			SET master_secret_salt = $2,
			    encrypted_master_secret = $3,
			    master_secret_format_version = $4,
			    encrypted_mnemonic = NULL,
			    encrypted_delegated_key_legacy = NULL,
			    encrypted_delegated_key_current = NULL,
			    execution_enabled = FALSE,
			    execution_wrapped_secret = NULL,
			    execution_enabled_at = NULL,
			    execution_expires_at = NULL,
			    policy_hmac = NULL,
			    updated_at = NOW()
			WHERE address = $1
		`
	} else {
		query = `
			UPDATE wallet_security_records
			SET master_secret_salt = $2,
			    encrypted_master_secret = $3,
			    master_secret_format_version = $4,
			    updated_at = NOW()
			WHERE address = $1
		`
	}

	tag, err := r.store.pool.Exec(ctx, query, address, salt, encrypted, formatVersion)
	if err != nil {
		return fmt.Errorf("failed to update master secret: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("security record not found")
	}

	return nil
}

// ProvisionMnemonic stores the encrypted recovery phrase and delegated
// key in one statement. The NULL guard makes concurrent provisioning
// first-writer-wins; the return value reports whether this call won.
func (r *SecurityRecordRepository) ProvisionMnemonic(ctx context.Context, address string, encryptedMnemonic, encryptedDelegatedKey []byte) (bool, error) {
	query := `
		UPDATE wallet_security_records
		SET encrypted_mnemonic = $2,
		    encrypted_delegated_key_current = $3,
		    updated_at = NOW()
		WHERE address = $1 AND encrypted_mnemonic IS NULL
	`

	tag, err := r.store.pool.Exec(ctx, query, address, encryptedMnemonic, encryptedDelegatedKey)
	if err != nil {
		return false, fmt.Errorf("failed to provision mnemonic: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// UpdateMnemonic stores the encrypted recovery phrase
func (r *SecurityRecordRepository) UpdateMnemonic(ctx context.Context, address string, encryptedMnemonic []byte) error {
	query := `
		UPDATE wallet_security_records
		SET encrypted_mnemonic = $2, updated_at = NOW()
		WHERE address = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, address, encryptedMnemonic)
	if err != nil {
		return fmt.Errorf("failed to update mnemonic: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("security record not found")
	}

	return nil
}

// UpdateDelegatedKey stores the delegated key ciphertext under the current scheme
func (r *SecurityRecordRepository) UpdateDelegatedKey(ctx context.Context, address string, encryptedKey []byte) error {
	query := `
		UPDATE wallet_security_records
		SET encrypted_delegated_key_current = $2, updated_at = NOW()
		WHERE address = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, address, encryptedKey)
	if err != nil {
		return fmt.Errorf("failed to update delegated key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("security record not found")
	}

	return nil
}

// PromoteDelegatedKey moves a re-encrypted delegated key into the current
// slot and clears the legacy ciphertext in the same statement
func (r *SecurityRecordRepository) PromoteDelegatedKey(ctx context.Context, address string, encryptedKey []byte) error {
	query := `
		UPDATE wallet_security_records
		SET encrypted_delegated_key_current = $2,
		    encrypted_delegated_key_legacy = NULL,
		    updated_at = NOW()
		WHERE address = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, address, encryptedKey)
	if err != nil {
		return fmt.Errorf("failed to promote delegated key: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("security record not found")
	}

	return nil
}

// EnableExecution authorizes headless execution. The flag, the wrapped
// secret, and both timestamps change together or not at all.
func (r *SecurityRecordRepository) EnableExecution(ctx context.Context, address string, wrappedSecret []byte, enabledAt time.Time, expiresAt *time.Time) error {
	query := `
		UPDATE wallet_security_records
		SET execution_enabled = TRUE,
		    execution_wrapped_secret = $2,
		    execution_enabled_at = $3,
		    execution_expires_at = $4,
		    updated_at = NOW()
		WHERE address = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, address, wrappedSecret, enabledAt, expiresAt)
	if err != nil {
		return fmt.Errorf("failed to enable execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("security record not found")
	}

	return nil
}

// RevokeExecution withdraws headless authorization and drops the wrapped
// secret so no decryptable copy remains at rest
func (r *SecurityRecordRepository) RevokeExecution(ctx context.Context, address string) error {
	query := `
		UPDATE wallet_security_records
		SET execution_enabled = FALSE,
		    execution_wrapped_secret = NULL,
		    execution_enabled_at = NULL,
		    execution_expires_at = NULL,
		    updated_at = NOW()
		WHERE address = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, address)
	if err != nil {
		return fmt.Errorf("failed to revoke execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("security record not found")
	}

	return nil
}

// TriggerEmergencyStop marks the wallet stopped and revokes execution in
// the same statement. The stop flag stays set until explicitly cleared.
func (r *SecurityRecordRepository) TriggerEmergencyStop(ctx context.Context, address, actor string, at time.Time) error {
	query := `
		UPDATE wallet_security_records
		SET emergency_stop_triggered = TRUE,
		    emergency_stop_at = $3,
		    emergency_stop_by = $2,
		    execution_enabled = FALSE,
		    execution_wrapped_secret = NULL,
		    execution_enabled_at = NULL,
		    execution_expires_at = NULL,
		    updated_at = NOW()
		WHERE address = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, address, actor, at)
	if err != nil {
		return fmt.Errorf("failed to trigger emergency stop: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("security record not found")
	}

	return nil
}

// ClearEmergencyStop lifts the stop flag. Execution stays revoked; the
// wallet owner must re-authorize it with a fresh signature.
func (r *SecurityRecordRepository) ClearEmergencyStop(ctx context.Context, address string) error {
	query := `
		UPDATE wallet_security_records
		SET emergency_stop_triggered = FALSE,
		    emergency_stop_at = NULL,
		    emergency_stop_by = NULL,
		    updated_at = NOW()
		WHERE address = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, address)
	if err != nil {
		return fmt.Errorf("failed to clear emergency stop: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("security record not found")
	}

	return nil
}

// UpdatePolicyHmac stores the policy integrity tag. Nil clears it.
func (r *SecurityRecordRepository) UpdatePolicyHmac(ctx context.Context, address string, policyHmac *string) error {
	query := `
		UPDATE wallet_security_records
		SET policy_hmac = $2, updated_at = NOW()
		WHERE address = $1
	`

	tag, err := r.store.pool.Exec(ctx, query, address, policyHmac)
	if err != nil {
		return fmt.Errorf("failed to update policy hmac: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("security record not found")
	}

	return nil
}
