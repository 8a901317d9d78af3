package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogRepo handles custody audit log operations
type AuditLogRepo struct {
	db *pgxpool.Pool
}

// NewAuditLogRepo creates a new audit log repository
func NewAuditLogRepo(db *pgxpool.Pool) *AuditLogRepo {
	return &AuditLogRepo{db: db}
}

// AuditLogEntry represents a custody audit log entry
type AuditLogEntry struct {
	ID            int64                  `json:"id,omitempty"`
	WalletAddress string                 `json:"wallet_address"`
	Actor         *string                `json:"actor,omitempty"`
	Action        string                 `json:"action"`
	Purpose       *string                `json:"purpose,omitempty"`
	ErrorMessage  *string                `json:"error_message,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	ClientIP      string                 `json:"client_ip,omitempty"`
	UserAgent     string                 `json:"user_agent,omitempty"`
	CreatedAt     time.Time              `json:"created_at,omitempty"`
}

// Log creates a new audit log entry
func (r *AuditLogRepo) Log(ctx context.Context, entry *AuditLogEntry) error {
	var metadataJSON []byte
	var err error
	if entry.Metadata != nil {
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO custody_audit_logs (
			wallet_address, actor, action, purpose, error_message, metadata, client_ip, user_agent, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		entry.WalletAddress,
		entry.Actor,
		entry.Action,
		entry.Purpose,
		entry.ErrorMessage,
		metadataJSON,
		entry.ClientIP,
		entry.UserAgent,
		time.Now(),
	)
	return err
}

// ListByWallet returns the most recent audit entries for a wallet
func (r *AuditLogRepo) ListByWallet(ctx context.Context, walletAddress string, limit int) ([]*AuditLogEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, wallet_address, actor, action, purpose, error_message, metadata, client_ip, user_agent, created_at
		FROM custody_audit_logs
		WHERE wallet_address = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, walletAddress, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	var entries []*AuditLogEntry
	for rows.Next() {
		var entry AuditLogEntry
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.WalletAddress,
			&entry.Actor,
			&entry.Action,
			&entry.Purpose,
			&entry.ErrorMessage,
			&metadataJSON,
			&entry.ClientIP,
			&entry.UserAgent,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode audit metadata: %w", err)
			}
		}
		entries = append(entries, &entry)
	}

	return entries, nil
}

// Audit action constants
const (
	AuditActionChallengeIssued      = "challenge_issued"
	AuditActionSessionUnlocked      = "session_unlocked"
	AuditActionSessionEnded         = "session_ended"
	AuditActionSecretInitialized    = "secret_initialized"
	AuditActionSecretMigrated       = "secret_migrated"
	AuditActionSecretRegenerated    = "secret_regenerated"
	AuditActionMnemonicProvisioned  = "mnemonic_provisioned"
	AuditActionMnemonicImported     = "mnemonic_imported"
	AuditActionMnemonicRevealed     = "mnemonic_revealed"
	AuditActionDelegatedKeyStored   = "delegated_key_stored"
	AuditActionExecutionEnabled     = "execution_enabled"
	AuditActionExecutionRevoked     = "execution_revoked"
	AuditActionExecutionAccessed    = "execution_secret_accessed"
	AuditActionEmergencyStop        = "emergency_stop_triggered"
	AuditActionEmergencyStopCleared = "emergency_stop_cleared"
	AuditActionPolicyCommitted      = "policy_committed"
	AuditActionPolicyVerifyFailed   = "policy_verify_failed"
	AuditActionRateLimitExceeded    = "rate_limit_exceeded"
	AuditActionAuthenticationFailed = "authentication_failed"
)
