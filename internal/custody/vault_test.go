package custody

import (
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletguard/walletguard/internal/crypto"
	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

type vaultFixture struct {
	store     *memRecordStore
	sessions  *SessionStore
	vault     *MnemonicVault
	custodian *Custodian
}

func newVaultFixture(t *testing.T, cfg VaultConfig) *vaultFixture {
	t.Helper()

	store := newMemRecordStore()
	sessions := NewSessionStore(SessionConfig{TTL: time.Minute, SweepInterval: time.Hour})
	t.Cleanup(sessions.Close)

	return &vaultFixture{
		store:     store,
		sessions:  sessions,
		vault:     NewMnemonicVault(store, sessions, cfg),
		custodian: NewCustodian(store, []byte("0123456789abcdef0123456789abcdef")),
	}
}

func (f *vaultFixture) unlock(t *testing.T, address string) string {
	t.Helper()
	result, err := f.custodian.Initialize(context.Background(), address, UnlockRequest{})
	require.NoError(t, err)
	token, err := f.sessions.Create(address, result.MasterSecret)
	require.NoError(t, err)
	return token
}

func TestProvisionAndReveal(t *testing.T) {
	f := newVaultFixture(t, VaultConfig{})
	ctx := context.Background()
	token := f.unlock(t, testWalletAddress)

	provisioned, err := f.vault.Provision(ctx, token, testWalletAddress)
	require.NoError(t, err)
	assert.Len(t, provisioned.DelegatedPublicKey, 64, "hex ed25519 public key")

	record, err := f.store.GetByAddress(ctx, testWalletAddress)
	require.NoError(t, err)
	assert.True(t, record.HasMnemonic())
	assert.True(t, record.HasDelegatedKey())

	revealed, err := f.vault.Reveal(ctx, token, testWalletAddress)
	require.NoError(t, err)
	assert.Len(t, strings.Fields(revealed.Mnemonic), 24)
	assert.True(t, crypto.ValidateMnemonic(revealed.Mnemonic))
	assert.True(t, revealed.DisplayExpiresAt.After(time.Now()))

	t.Run("revealed phrase re-derives the delegated keypair", func(t *testing.T) {
		pub, _, err := crypto.DeriveKeypairFromMnemonic(revealed.Mnemonic)
		require.NoError(t, err)
		assert.Equal(t, provisioned.DelegatedPublicKey, hex.EncodeToString(pub))
	})

	t.Run("second provision conflicts", func(t *testing.T) {
		_, err := f.vault.Provision(ctx, token, testWalletAddress)
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})
}

func TestRevealRequiresSession(t *testing.T) {
	f := newVaultFixture(t, VaultConfig{})
	ctx := context.Background()
	token := f.unlock(t, testWalletAddress)

	_, err := f.vault.Provision(ctx, token, testWalletAddress)
	require.NoError(t, err)

	t.Run("no session", func(t *testing.T) {
		_, err := f.vault.Reveal(ctx, "bogus-token", testWalletAddress)
		assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})

	t.Run("session for another wallet", func(t *testing.T) {
		other := "d" + testWalletAddress[1:]
		otherToken := f.unlock(t, other)
		_, err := f.vault.Reveal(ctx, otherToken, testWalletAddress)
		assert.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	})

	t.Run("nothing provisioned", func(t *testing.T) {
		other := "e" + testWalletAddress[1:]
		otherToken := f.unlock(t, other)
		_, err := f.vault.Reveal(ctx, otherToken, other)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})
}

func TestRevealRateLimit(t *testing.T) {
	f := newVaultFixture(t, VaultConfig{RevealLimit: 3, RevealWindow: time.Hour})
	ctx := context.Background()
	base := time.Now()
	f.vault.now = func() time.Time { return base }

	token := f.unlock(t, testWalletAddress)
	_, err := f.vault.Provision(ctx, token, testWalletAddress)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := f.vault.Reveal(ctx, token, testWalletAddress)
		require.NoError(t, err, "reveal %d within the window", i+1)
	}

	_, err = f.vault.Reveal(ctx, token, testWalletAddress)
	require.Error(t, err, "fourth reveal inside the window")
	appErr, ok := apperrors.IsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeRateLimited, appErr.Code)
	assert.Positive(t, appErr.RetryAfterSeconds)

	t.Run("recovers after the window passes", func(t *testing.T) {
		f.vault.now = func() time.Time { return base.Add(time.Hour) }
		_, err := f.vault.Reveal(ctx, token, testWalletAddress)
		assert.NoError(t, err)
	})

	t.Run("limits are per wallet", func(t *testing.T) {
		other := "f" + testWalletAddress[1:]
		otherToken := f.unlock(t, other)
		_, err := f.vault.Provision(ctx, otherToken, other)
		require.NoError(t, err)

		_, err = f.vault.Reveal(ctx, otherToken, other)
		assert.NoError(t, err, "another wallet starts with a fresh window")
	})
}

func TestRevealRateLimitNotConsumedByBadSessions(t *testing.T) {
	f := newVaultFixture(t, VaultConfig{RevealLimit: 3, RevealWindow: time.Hour})
	ctx := context.Background()

	token := f.unlock(t, testWalletAddress)
	_, err := f.vault.Provision(ctx, token, testWalletAddress)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		_, err := f.vault.Reveal(ctx, "wrong-token", testWalletAddress)
		require.ErrorIs(t, err, apperrors.ErrSessionNotFound)
	}

	for i := 0; i < 3; i++ {
		_, err := f.vault.Reveal(ctx, token, testWalletAddress)
		require.NoError(t, err, "failed authentications must not burn reveal slots")
	}
}

func TestImportMnemonic(t *testing.T) {
	f := newVaultFixture(t, VaultConfig{})
	ctx := context.Background()
	token := f.unlock(t, testWalletAddress)

	phrase, err := crypto.GenerateMnemonic()
	require.NoError(t, err)

	imported, err := f.vault.Import(ctx, token, testWalletAddress, phrase)
	require.NoError(t, err)

	revealed, err := f.vault.Reveal(ctx, token, testWalletAddress)
	require.NoError(t, err)
	assert.Equal(t, phrase, revealed.Mnemonic, "import stores the exact phrase")

	pub, _, err := crypto.DeriveKeypairFromMnemonic(phrase)
	require.NoError(t, err)
	assert.Equal(t, hex.EncodeToString(pub), imported.DelegatedPublicKey)

	t.Run("rejects invalid phrases", func(t *testing.T) {
		other := "1" + testWalletAddress[1:]
		otherToken := f.unlock(t, other)

		_, err := f.vault.Import(ctx, otherToken, other, "definitely not a mnemonic")
		require.Error(t, err)
		appErr, ok := apperrors.IsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeBadRequest, appErr.Code)
	})
}

func TestLoadDelegatedKey(t *testing.T) {
	f := newVaultFixture(t, VaultConfig{})
	ctx := context.Background()
	token := f.unlock(t, testWalletAddress)

	provisioned, err := f.vault.Provision(ctx, token, testWalletAddress)
	require.NoError(t, err)

	session, err := f.sessions.Get(token)
	require.NoError(t, err)

	priv, err := f.vault.LoadDelegatedKey(ctx, testWalletAddress, session.MasterSecret)
	require.NoError(t, err)
	defer crypto.Wipe(priv)

	assert.Equal(t, provisioned.DelegatedPublicKey, hex.EncodeToString(priv.Public().(ed25519.PublicKey)))

	message := []byte("order: buy 1 SOL")
	signature := ed25519.Sign(priv, message)
	assert.True(t, ed25519.Verify(priv.Public().(ed25519.PublicKey), message, signature))

	t.Run("unknown wallet", func(t *testing.T) {
		_, err := f.vault.LoadDelegatedKey(ctx, "never-seen", session.MasterSecret)
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	t.Run("wrong master secret fails authentication", func(t *testing.T) {
		_, err := f.vault.LoadDelegatedKey(ctx, testWalletAddress, []byte("fedcba9876543210fedcba9876543210"))
		assert.ErrorIs(t, err, apperrors.ErrAuthenticationFailure)
	})
}

func TestRevealNeverCaches(t *testing.T) {
	f := newVaultFixture(t, VaultConfig{})
	ctx := context.Background()
	token := f.unlock(t, testWalletAddress)

	_, err := f.vault.Provision(ctx, token, testWalletAddress)
	require.NoError(t, err)

	first, err := f.vault.Reveal(ctx, token, testWalletAddress)
	require.NoError(t, err)
	require.Len(t, strings.Fields(first.Mnemonic), 24)

	// clear the stored ciphertext behind the vault's back; a cached
	// phrase would still come back, a re-decryption cannot
	require.NoError(t, f.store.UpdateMnemonic(ctx, testWalletAddress, nil))

	_, err = f.vault.Reveal(ctx, token, testWalletAddress)
	assert.ErrorIs(t, err, apperrors.ErrNotFound, "phrase must be re-read from storage on every reveal")
}
