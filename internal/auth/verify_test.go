package auth

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeAddress(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "checksummed ethereum address lowercased",
			input: "0xAb5801a7D398351b8bE11C439e05C5B3259aeC9B",
			want:  "0xab5801a7d398351b8be11c439e05c5b3259aec9b",
		},
		{
			name:  "ed25519 hex pubkey lowercased",
			input: strings.ToUpper(strings.Repeat("ab", 32)),
			want:  strings.Repeat("ab", 32),
		},
		{
			name:  "whitespace trimmed",
			input: "  0xab5801a7d398351b8be11c439e05c5b3259aec9b\n",
			want:  "0xab5801a7d398351b8be11c439e05c5b3259aec9b",
		},
		{
			name:  "non-hex address passes through unchanged",
			input: "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
			want:  "9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM",
		},
		{
			name:  "short hex string passes through",
			input: "0xDEAD",
			want:  "0xDEAD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeAddress(tt.input))
		})
	}
}

func TestEd25519Verifier(t *testing.T) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)

	address := hex.EncodeToString(pub)
	message := []byte("walletguard test message")
	signature := ed25519.Sign(priv, message)
	verify := Ed25519Verifier()

	t.Run("valid signature", func(t *testing.T) {
		assert.True(t, verify(message, signature, address))
	})

	t.Run("address case and prefix are irrelevant", func(t *testing.T) {
		assert.True(t, verify(message, signature, strings.ToUpper(address)))
		assert.True(t, verify(message, signature, "0x"+address))
	})

	t.Run("wrong message", func(t *testing.T) {
		assert.False(t, verify([]byte("different message"), signature, address))
	})

	t.Run("wrong key", func(t *testing.T) {
		otherPub, _, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		assert.False(t, verify(message, signature, hex.EncodeToString(otherPub)))
	})

	t.Run("truncated signature", func(t *testing.T) {
		assert.False(t, verify(message, signature[:32], address))
	})

	t.Run("malformed address", func(t *testing.T) {
		assert.False(t, verify(message, signature, "not-hex-at-all"))
		assert.False(t, verify(message, signature, "abcd"))
	})
}

func TestEthereumVerifier(t *testing.T) {
	key, err := ethcrypto.GenerateKey()
	require.NoError(t, err)

	address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
	message := []byte("walletguard test message")
	signature, err := ethcrypto.Sign(personalSignHash(message), key)
	require.NoError(t, err)
	verify := EthereumVerifier()

	t.Run("valid signature with raw recovery id", func(t *testing.T) {
		assert.True(t, verify(message, signature, address))
	})

	t.Run("valid signature with legacy 27/28 recovery id", func(t *testing.T) {
		legacy := make([]byte, len(signature))
		copy(legacy, signature)
		legacy[64] += 27
		assert.True(t, verify(message, legacy, address))
	})

	t.Run("address comparison is case-insensitive", func(t *testing.T) {
		assert.True(t, verify(message, signature, strings.ToLower(address)))
	})

	t.Run("wrong message recovers a different signer", func(t *testing.T) {
		assert.False(t, verify([]byte("different message"), signature, address))
	})

	t.Run("wrong address", func(t *testing.T) {
		other, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		otherAddr := ethcrypto.PubkeyToAddress(other.PublicKey).Hex()
		assert.False(t, verify(message, signature, otherAddr))
	})

	t.Run("truncated signature", func(t *testing.T) {
		assert.False(t, verify(message, signature[:64], address))
	})

	t.Run("out of range recovery id", func(t *testing.T) {
		bad := make([]byte, len(signature))
		copy(bad, signature)
		bad[64] = 5
		assert.False(t, verify(message, bad, address))
	})
}

func TestVerifierFor(t *testing.T) {
	t.Run("ethereum address gets the recovery verifier", func(t *testing.T) {
		key, err := ethcrypto.GenerateKey()
		require.NoError(t, err)
		address := ethcrypto.PubkeyToAddress(key.PublicKey).Hex()
		message := []byte("scheme selection")
		signature, err := ethcrypto.Sign(personalSignHash(message), key)
		require.NoError(t, err)

		assert.True(t, VerifierFor(address)(message, signature, address))
	})

	t.Run("ed25519 pubkey gets the direct verifier", func(t *testing.T) {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		require.NoError(t, err)
		address := hex.EncodeToString(pub)
		message := []byte("scheme selection")

		assert.True(t, VerifierFor(address)(message, ed25519.Sign(priv, message), address))
	})
}
