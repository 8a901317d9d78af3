package custody

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/walletguard/walletguard/internal/crypto"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

// Reveal exposure limits.
const (
	DefaultRevealLimit  = 3
	DefaultRevealWindow = time.Hour
	DefaultDisplayTTL   = 90 * time.Second

	// revealLimiterCap bounds the per-wallet limiter map; idle limiters
	// are pruned inline once it is reached.
	revealLimiterCap = 1024
)

// VaultConfig holds reveal limits and the client display deadline. Zero
// values fall back to the defaults.
type VaultConfig struct {
	RevealLimit  int
	RevealWindow time.Duration
	DisplayTTL   time.Duration
}

// ProvisionResult reports the delegated wallet created alongside a new
// recovery phrase. The phrase itself is only ever exposed through Reveal.
type ProvisionResult struct {
	DelegatedPublicKey string `json:"delegated_public_key"`
}

// RevealResult carries a decrypted recovery phrase and the deadline by
// which the client must stop displaying it.
type RevealResult struct {
	Mnemonic         string    `json:"mnemonic"`
	DisplayExpiresAt time.Time `json:"display_expires_at"`
}

// MnemonicVault guards recovery phrases for delegated signing keys. A
// phrase is generated once, encrypted under the wallet's mnemonic
// subkey, and only leaves storage through the rate-limited Reveal path.
type MnemonicVault struct {
	records  RecordStore
	sessions *SessionStore
	cfg      VaultConfig

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	// now is replaceable in tests
	now func() time.Time
}

// NewMnemonicVault creates a MnemonicVault.
func NewMnemonicVault(records RecordStore, sessions *SessionStore, cfg VaultConfig) *MnemonicVault {
	if cfg.RevealLimit <= 0 {
		cfg.RevealLimit = DefaultRevealLimit
	}
	if cfg.RevealWindow <= 0 {
		cfg.RevealWindow = DefaultRevealWindow
	}
	if cfg.DisplayTTL <= 0 {
		cfg.DisplayTTL = DefaultDisplayTTL
	}

	return &MnemonicVault{
		records:  records,
		sessions: sessions,
		cfg:      cfg,
		limiters: make(map[string]*rate.Limiter),
		now:      time.Now,
	}
}

// Provision generates a fresh 24-word recovery phrase, derives the
// delegated keypair from it, and persists both ciphertexts. Fails with a
// conflict when the wallet already holds a phrase.
func (v *MnemonicVault) Provision(ctx context.Context, sessionToken, walletAddress string) (*ProvisionResult, error) {
	mnemonic, err := crypto.GenerateMnemonic()
	if err != nil {
		return nil, fmt.Errorf("failed to generate mnemonic: %w", err)
	}
	return v.storeMnemonic(ctx, sessionToken, walletAddress, mnemonic)
}

// Import stores a caller-supplied recovery phrase instead of generating
// one. The phrase must carry a valid checksum.
func (v *MnemonicVault) Import(ctx context.Context, sessionToken, walletAddress, mnemonic string) (*ProvisionResult, error) {
	if !crypto.ValidateMnemonic(mnemonic) {
		return nil, apperrors.BadRequest("mnemonic failed checksum validation")
	}
	return v.storeMnemonic(ctx, sessionToken, walletAddress, mnemonic)
}

func (v *MnemonicVault) storeMnemonic(ctx context.Context, sessionToken, walletAddress, mnemonic string) (*ProvisionResult, error) {
	session, err := v.matchSession(sessionToken, walletAddress)
	if err != nil {
		return nil, err
	}

	record, err := v.records.GetByAddress(ctx, walletAddress)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	if record == nil {
		return nil, apperrors.ErrNotFound
	}
	if record.HasMnemonic() {
		return nil, apperrors.ErrConflict
	}

	pub, priv, err := crypto.DeriveKeypairFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to derive delegated keypair: %w", err)
	}
	seed := priv.Seed()
	defer crypto.Wipe(seed)
	defer crypto.Wipe(priv)

	masterSecret := append([]byte(nil), session.MasterSecret...)
	defer crypto.Wipe(masterSecret)

	encryptedMnemonic, err := v.encryptMnemonic(walletAddress, mnemonic, masterSecret)
	if err != nil {
		return nil, err
	}
	encryptedSeed, err := encryptDelegatedSeed(walletAddress, seed, masterSecret)
	if err != nil {
		return nil, err
	}

	won, err := v.records.ProvisionMnemonic(ctx, walletAddress, encryptedMnemonic, encryptedSeed)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	if !won {
		return nil, apperrors.ErrConflict
	}

	return &ProvisionResult{DelegatedPublicKey: hex.EncodeToString(pub)}, nil
}

// Reveal decrypts and returns the recovery phrase. A valid session for
// the wallet is required, and reveals are rate limited per wallet on a
// rolling window regardless of how many sessions the wallet holds. The
// phrase is re-decrypted from storage on every call, never cached.
func (v *MnemonicVault) Reveal(ctx context.Context, sessionToken, walletAddress string) (*RevealResult, error) {
	session, err := v.matchSession(sessionToken, walletAddress)
	if err != nil {
		return nil, err
	}

	if retryAfter := v.reserveReveal(walletAddress); retryAfter > 0 {
		return nil, apperrors.RateLimited(retryAfter)
	}

	record, err := v.records.GetByAddress(ctx, walletAddress)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	if record == nil || !record.HasMnemonic() {
		return nil, apperrors.ErrNotFound
	}

	subkey, err := crypto.DeriveSubkey(session.MasterSecret, crypto.SubkeyMnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to derive mnemonic subkey: %w", err)
	}
	defer crypto.Wipe(subkey)

	aad := crypto.BuildAAD(walletAddress, crypto.RecordTypeMnemonic)
	plaintext, err := crypto.Decrypt(record.EncryptedMnemonic, subkey, aad)
	if err != nil {
		return nil, err
	}

	mnemonic := string(plaintext)
	crypto.Wipe(plaintext)

	return &RevealResult{
		Mnemonic:         mnemonic,
		DisplayExpiresAt: v.now().Add(v.cfg.DisplayTTL),
	}, nil
}

// LoadDelegatedKey decrypts the delegated signing key. The caller owns
// the returned private key and must wipe it after use.
func (v *MnemonicVault) LoadDelegatedKey(ctx context.Context, walletAddress string, masterSecret []byte) (ed25519.PrivateKey, error) {
	record, err := v.records.GetByAddress(ctx, walletAddress)
	if err != nil {
		return nil, apperrors.StorageUnavailable(err)
	}
	if record == nil || !record.HasDelegatedKey() {
		return nil, apperrors.ErrNotFound
	}

	subkey, err := crypto.DeriveSubkey(masterSecret, crypto.SubkeyDelegatedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive delegated-key subkey: %w", err)
	}
	defer crypto.Wipe(subkey)

	aad := crypto.BuildAAD(walletAddress, crypto.RecordTypeDelegatedKey)
	seed, err := crypto.Decrypt(record.EncryptedDelegatedKeyCurrent, subkey, aad)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(seed)

	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("stored delegated key has unexpected size %d", len(seed))
	}
	return ed25519.NewKeyFromSeed(seed), nil
}

// StoreDelegatedKey re-encrypts a delegated seed under the current
// subkey, replacing any stored key. Used by key-rotation flows.
func (v *MnemonicVault) StoreDelegatedKey(ctx context.Context, walletAddress string, seed, masterSecret []byte) error {
	encryptedSeed, err := encryptDelegatedSeed(walletAddress, seed, masterSecret)
	if err != nil {
		return err
	}
	if err := v.records.UpdateDelegatedKey(ctx, walletAddress, encryptedSeed); err != nil {
		return apperrors.StorageUnavailable(err)
	}
	return nil
}

func (v *MnemonicVault) encryptMnemonic(walletAddress, mnemonic string, masterSecret []byte) ([]byte, error) {
	subkey, err := crypto.DeriveSubkey(masterSecret, crypto.SubkeyMnemonic)
	if err != nil {
		return nil, fmt.Errorf("failed to derive mnemonic subkey: %w", err)
	}
	defer crypto.Wipe(subkey)

	plaintext := []byte(mnemonic)
	defer crypto.Wipe(plaintext)

	aad := crypto.BuildAAD(walletAddress, crypto.RecordTypeMnemonic)
	encrypted, err := crypto.Encrypt(plaintext, subkey, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt mnemonic: %w", err)
	}
	return encrypted, nil
}

func encryptDelegatedSeed(walletAddress string, seed, masterSecret []byte) ([]byte, error) {
	subkey, err := crypto.DeriveSubkey(masterSecret, crypto.SubkeyDelegatedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to derive delegated-key subkey: %w", err)
	}
	defer crypto.Wipe(subkey)

	aad := crypto.BuildAAD(walletAddress, crypto.RecordTypeDelegatedKey)
	encrypted, err := crypto.Encrypt(seed, subkey, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt delegated key: %w", err)
	}
	return encrypted, nil
}

// reserveReveal consumes one reveal slot for the wallet, returning zero
// when allowed or the wait until the next slot frees up. The limiter is
// a token bucket holding RevealLimit tokens that refill evenly across
// the rolling window.
func (v *MnemonicVault) reserveReveal(walletAddress string) time.Duration {
	now := v.now()

	v.mu.Lock()
	defer v.mu.Unlock()

	lim, ok := v.limiters[walletAddress]
	if !ok {
		if len(v.limiters) >= revealLimiterCap {
			v.pruneLocked(now)
		}
		lim = rate.NewLimiter(rate.Every(v.cfg.RevealWindow/time.Duration(v.cfg.RevealLimit)), v.cfg.RevealLimit)
		v.limiters[walletAddress] = lim
	}

	reservation := lim.ReserveN(now, 1)
	if !reservation.OK() {
		return v.cfg.RevealWindow
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return delay
	}
	return 0
}

// pruneLocked drops limiters back at full burst; a full bucket carries
// no history worth keeping. Callers hold v.mu.
func (v *MnemonicVault) pruneLocked(now time.Time) {
	for address, lim := range v.limiters {
		if lim.TokensAt(now) >= float64(v.cfg.RevealLimit) {
			delete(v.limiters, address)
		}
	}
}

func (v *MnemonicVault) matchSession(token, walletAddress string) (*Session, error) {
	session, err := v.sessions.Get(token)
	if err != nil {
		return nil, err
	}
	if session.WalletAddress != walletAddress {
		return nil, apperrors.ErrSessionNotFound
	}
	return session, nil
}
