package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/walletguard/walletguard/internal/logger"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
	"github.com/walletguard/walletguard/pkg/types"
)

// Default challenge lifetimes. The reveal purpose gets a narrower window
// because its payoff for an attacker is the recovery phrase itself.
const (
	DefaultChallengeTTL         = 5 * time.Minute
	DefaultMnemonicChallengeTTL = 2 * time.Minute
	DefaultSweepInterval        = time.Minute

	nonceBytes = 32
)

// ChallengeStore is the storage collaborator for challenges. All methods
// are atomic at single-record granularity.
type ChallengeStore interface {
	CreateChallenge(ctx context.Context, challenge *types.AuthChallenge) error
	// GetChallengeByHash returns (nil, nil) when no challenge matches.
	GetChallengeByHash(ctx context.Context, nonceHash string) (*types.AuthChallenge, error)
	// MarkChallengeUsed sets usedAt exactly once and reports whether this
	// call was the one that consumed the challenge.
	MarkChallengeUsed(ctx context.Context, id uuid.UUID, usedAt time.Time) (bool, error)
	DeleteExpiredChallenges(ctx context.Context, before time.Time) (int64, error)
}

// VerifyFunc checks a wallet signature over message. Implementations for
// the supported wallet kinds live in verify.go.
type VerifyFunc func(message, signature []byte, walletAddress string) bool

// Config holds challenge TTLs and the cleanup interval. Zero values fall
// back to the defaults above.
type Config struct {
	DefaultTTL    time.Duration
	MnemonicTTL   time.Duration
	SweepInterval time.Duration
}

// IssuedChallenge is handed back to the client: the raw nonce plus the
// exact text to sign. Only the nonce hash is persisted.
type IssuedChallenge struct {
	ChallengeID uuid.UUID `json:"challenge_id"`
	Nonce       string    `json:"nonce"`
	Message     string    `json:"message"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Authenticator issues single-use signing challenges and verifies the
// signatures that come back. A background sweep deletes expired rows so
// abandoned challenges do not accumulate.
type Authenticator struct {
	store ChallengeStore
	cfg   Config

	// now is replaceable in tests
	now  func() time.Time
	stop chan struct{}
}

// NewAuthenticator creates an authenticator and starts its cleanup sweep.
// Call Close to stop the sweep.
func NewAuthenticator(store ChallengeStore, cfg Config) *Authenticator {
	if cfg.DefaultTTL <= 0 {
		cfg.DefaultTTL = DefaultChallengeTTL
	}
	if cfg.MnemonicTTL <= 0 {
		cfg.MnemonicTTL = DefaultMnemonicChallengeTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = DefaultSweepInterval
	}

	a := &Authenticator{
		store: store,
		cfg:   cfg,
		now:   time.Now,
		stop:  make(chan struct{}),
	}
	go a.sweepLoop()
	return a
}

// Close stops the background sweep.
func (a *Authenticator) Close() {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
}

// TTLFor returns the challenge lifetime for a purpose.
func (a *Authenticator) TTLFor(purpose types.Purpose) time.Duration {
	if purpose == types.PurposeRevealMnemonic {
		return a.cfg.MnemonicTTL
	}
	return a.cfg.DefaultTTL
}

// IssueChallenge generates a 256-bit nonce for (wallet, purpose), persists
// its hash, and returns the canonical message for the client to sign.
func (a *Authenticator) IssueChallenge(ctx context.Context, walletAddress string, purpose types.Purpose) (*IssuedChallenge, error) {
	if walletAddress == "" || !types.IsValidPurpose(string(purpose)) {
		return nil, apperrors.ErrBadRequest
	}

	nonce, err := generateNonce()
	if err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	now := a.now().UTC()
	// whole-second expiry so the RFC3339 rendering round-trips through
	// storage unchanged
	expiresAt := now.Add(a.TTLFor(purpose)).Truncate(time.Second)

	challenge := &types.AuthChallenge{
		ID:            uuid.New(),
		WalletAddress: walletAddress,
		NonceHash:     HashNonce(nonce),
		Purpose:       purpose,
		IssuedAt:      now,
		ExpiresAt:     expiresAt,
	}
	if err := a.store.CreateChallenge(ctx, challenge); err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}

	return &IssuedChallenge{
		ChallengeID: challenge.ID,
		Nonce:       nonce,
		Message:     BuildSignMessage(walletAddress, purpose, nonce, expiresAt),
		ExpiresAt:   expiresAt,
	}, nil
}

// Validate checks a nonce without consuming it: the challenge must exist,
// belong to this wallet and purpose, be unused, and be unexpired.
func (a *Authenticator) Validate(ctx context.Context, walletAddress, nonce string, purpose types.Purpose) (*types.AuthChallenge, error) {
	challenge, err := a.store.GetChallengeByHash(ctx, HashNonce(nonce))
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	if challenge == nil || challenge.WalletAddress != walletAddress || challenge.Purpose != purpose {
		return nil, apperrors.ErrInvalidChallenge
	}
	if challenge.Used() {
		return nil, apperrors.ErrUsedChallenge
	}
	if !a.now().Before(challenge.ExpiresAt) {
		return nil, apperrors.ErrExpiredChallenge
	}
	return challenge, nil
}

// VerifyAndConsume rebuilds the canonical message, verifies the signature,
// and marks the challenge used. Marking is atomic at the storage layer, so
// of two concurrent submissions of the same nonce exactly one wins; the
// loser sees the already-used error.
func (a *Authenticator) VerifyAndConsume(ctx context.Context, walletAddress, nonce string, purpose types.Purpose, signature []byte, verify VerifyFunc) (*types.AuthChallenge, error) {
	challenge, err := a.Validate(ctx, walletAddress, nonce, purpose)
	if err != nil {
		return nil, err
	}

	message := BuildSignMessage(walletAddress, purpose, nonce, challenge.ExpiresAt)
	if !verify([]byte(message), signature, walletAddress) {
		return nil, apperrors.ErrInvalidSignature
	}

	usedAt := a.now().UTC()
	won, err := a.store.MarkChallengeUsed(ctx, challenge.ID, usedAt)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	if !won {
		return nil, apperrors.ErrUsedChallenge
	}

	challenge.UsedAt = &usedAt
	return challenge, nil
}

// HashNonce returns the hex SHA-256 of a nonce, the only form that ever
// reaches storage.
func HashNonce(nonce string) string {
	sum := sha256.Sum256([]byte(nonce))
	return hex.EncodeToString(sum[:])
}

func generateNonce() (string, error) {
	raw := make([]byte, nonceBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func (a *Authenticator) sweepLoop() {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			deleted, err := a.store.DeleteExpiredChallenges(ctx, a.now().UTC())
			cancel()
			if err != nil {
				logger.Warn(context.Background(), "challenge sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				logger.Debug(context.Background(), "purged expired challenges", "count", deleted)
			}
		case <-a.stop:
			return
		}
	}
}
