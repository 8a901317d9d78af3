package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/walletguard/walletguard/pkg/types"
)

// ChallengeRepository handles signing challenge persistence. It satisfies
// auth.ChallengeStore.
type ChallengeRepository struct {
	store *Store
}

// NewChallengeRepository creates a new ChallengeRepository
func NewChallengeRepository(store *Store) *ChallengeRepository {
	return &ChallengeRepository{store: store}
}

// CreateChallenge inserts a new challenge
func (r *ChallengeRepository) CreateChallenge(ctx context.Context, challenge *types.AuthChallenge) error {
	query := `
		INSERT INTO auth_challenges (id, wallet_address, nonce_hash, purpose, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.store.pool.Exec(ctx, query,
		challenge.ID,
		challenge.WalletAddress,
		challenge.NonceHash,
		challenge.Purpose,
		challenge.IssuedAt,
		challenge.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}

	return nil
}

// GetChallengeByHash retrieves a challenge by its nonce hash
func (r *ChallengeRepository) GetChallengeByHash(ctx context.Context, nonceHash string) (*types.AuthChallenge, error) {
	query := `
		SELECT id, wallet_address, nonce_hash, purpose, issued_at, expires_at, used_at
		FROM auth_challenges
		WHERE nonce_hash = $1
	`

	var challenge types.AuthChallenge
	err := r.store.pool.QueryRow(ctx, query, nonceHash).Scan(
		&challenge.ID,
		&challenge.WalletAddress,
		&challenge.NonceHash,
		&challenge.Purpose,
		&challenge.IssuedAt,
		&challenge.ExpiresAt,
		&challenge.UsedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}

	return &challenge, nil
}

// MarkChallengeUsed consumes a challenge. The used_at guard makes the
// update first-writer-wins: the row changes for exactly one caller.
func (r *ChallengeRepository) MarkChallengeUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error) {
	query := `
		UPDATE auth_challenges
		SET used_at = $2
		WHERE id = $1 AND used_at IS NULL
	`

	tag, err := r.store.pool.Exec(ctx, query, id, usedAt)
	if err != nil {
		return false, fmt.Errorf("failed to mark challenge used: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

// DeleteExpiredChallenges removes challenges that expired before the cutoff
func (r *ChallengeRepository) DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM auth_challenges WHERE expires_at < $1`

	tag, err := r.store.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired challenges: %w", err)
	}

	return tag.RowsAffected(), nil
}
