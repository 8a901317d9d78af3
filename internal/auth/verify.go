package auth

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// NormalizeAddress canonicalizes a wallet address at the service boundary.
// Hex addresses are case-insensitive on chain but byte-sensitive in AAD
// construction and record keys, so they are lowercased once here. Other
// encodings pass through untouched.
func NormalizeAddress(address string) string {
	trimmed := strings.TrimSpace(address)
	if isHexAddress(trimmed) {
		return strings.ToLower(trimmed)
	}
	return trimmed
}

func isHexAddress(s string) bool {
	t := strings.TrimPrefix(strings.ToLower(s), "0x")
	if len(t) != 40 && len(t) != 64 {
		return false
	}
	_, err := hex.DecodeString(t)
	return err == nil
}

// Ed25519Verifier treats the wallet address as a hex-encoded ed25519
// public key and verifies the signature directly against it.
func Ed25519Verifier() VerifyFunc {
	return func(message, signature []byte, walletAddress string) bool {
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.ToLower(walletAddress), "0x"))
		if err != nil || len(raw) != ed25519.PublicKeySize {
			return false
		}
		if len(signature) != ed25519.SignatureSize {
			return false
		}
		return ed25519.Verify(ed25519.PublicKey(raw), message, signature)
	}
}

// EthereumVerifier checks an EIP-191 personal_sign signature by
// recovering the signer and comparing addresses.
func EthereumVerifier() VerifyFunc {
	return func(message, signature []byte, walletAddress string) bool {
		if len(signature) != 65 {
			return false
		}
		sig := make([]byte, 65)
		copy(sig, signature)
		// wallets emit the recovery id as 27/28, secp256k1 wants 0/1
		if sig[64] >= 27 {
			sig[64] -= 27
		}
		if sig[64] > 1 {
			return false
		}

		pub, err := ethcrypto.SigToPub(personalSignHash(message), sig)
		if err != nil {
			return false
		}
		recovered := ethcrypto.PubkeyToAddress(*pub)
		return strings.EqualFold(recovered.Hex(), walletAddress)
	}
}

// personalSignHash applies the EIP-191 prefix before hashing.
func personalSignHash(message []byte) []byte {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return ethcrypto.Keccak256([]byte(prefix), message)
}

// VerifierFor picks the signature scheme for an address: 0x plus 40 hex
// chars is an Ethereum account, 64 hex chars is an ed25519 public key.
func VerifierFor(address string) VerifyFunc {
	t := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(address)), "0x")
	if len(t) == 40 {
		return EthereumVerifier()
	}
	return Ed25519Verifier()
}
