// Package fixtures builds the test data the cross-package suites sign
// requests and commit policies with.
package fixtures

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	bip39 "github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/bcrypt"

	"github.com/walletguard/walletguard/pkg/types"
)

// Mnemonic24 is a fixed valid 24-word recovery phrase (all-ones
// entropy), for tests that import rather than generate.
const Mnemonic24 = "zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo zoo vote"

// Wallet is a client-side signing identity: an address plus the private
// key that answers challenges for it.
type Wallet struct {
	Address string
	sign    func(message []byte) ([]byte, error)
}

// SignMessage signs the challenge message the way the wallet's client
// software would, returning the hex encoding the API accepts.
func (w *Wallet) SignMessage(t *testing.T, message string) string {
	t.Helper()
	sig, err := w.sign([]byte(message))
	require.NoError(t, err)
	return "0x" + hex.EncodeToString(sig)
}

// NewEthereumWallet generates a secp256k1 wallet that signs with EIP-191
// personal_sign, emitting the 27/28 recovery id real wallets use.
func NewEthereumWallet(t *testing.T) *Wallet {
	t.Helper()

	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	return &Wallet{
		Address: ethcrypto.PubkeyToAddress(key.PublicKey).Hex(),
		sign: func(message []byte) ([]byte, error) {
			sig, err := ethcrypto.Sign(personalSignHash(message), key)
			if err != nil {
				return nil, err
			}
			sig[64] += 27
			return sig, nil
		},
	}
}

// NewEd25519Wallet generates a wallet whose address is its hex-encoded
// ed25519 public key.
func NewEd25519Wallet(t *testing.T) *Wallet {
	t.Helper()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	return &Wallet{
		Address: hex.EncodeToString(pub),
		sign: func(message []byte) ([]byte, error) {
			return ed25519.Sign(priv, message), nil
		},
	}
}

// ForeignSigner returns a signer for w's address backed by a different
// key, for forgery tests. The kind matches so only the key is wrong.
func ForeignSigner(t *testing.T, w *Wallet) *Wallet {
	t.Helper()

	var other *Wallet
	if len(w.Address) == 42 {
		other = NewEthereumWallet(t)
	} else {
		other = NewEd25519Wallet(t)
	}
	return &Wallet{Address: w.Address, sign: other.sign}
}

func personalSignHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return ethcrypto.Keccak256([]byte(prefix), message)
}

// NewMnemonic generates a fresh valid 24-word phrase.
func NewMnemonic(t *testing.T) string {
	t.Helper()

	entropy, err := bip39.NewEntropy(256)
	require.NoError(t, err)
	mnemonic, err := bip39.NewMnemonic(entropy)
	require.NoError(t, err)
	return mnemonic
}

// PolicyJSON renders a realistic trading policy document.
func PolicyJSON(t *testing.T) json.RawMessage {
	t.Helper()

	policy := types.TradingPolicy{
		Version:        1,
		MaxOrderValue:  "2500.00",
		MaxDailyValue:  "10000.00",
		MaxOpenOrders:  4,
		AllowedMarkets: []string{"ETH-USD", "BTC-USD"},
		AllowShort:     false,
		ApprovedAt:     time.Date(2025, 11, 3, 9, 30, 0, 0, time.UTC),
	}
	raw, err := json.Marshal(policy)
	require.NoError(t, err)
	return raw
}

// OperatorCredential mints a random operator key and its bcrypt hash,
// the pair OPERATOR_KEY_HASH deployments are configured with.
func OperatorCredential(t *testing.T) (key, hash string) {
	t.Helper()

	raw := make([]byte, 24)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	key = hex.EncodeToString(raw)

	hashed, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
	require.NoError(t, err)
	return key, string(hashed)
}

// ServerSecret returns a random 32-byte process secret.
func ServerSecret(t *testing.T) []byte {
	t.Helper()

	secret := make([]byte, 32)
	_, err := rand.Read(secret)
	require.NoError(t, err)
	return secret
}
