package crypto

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// Purpose tags for subkey derivation. Distinct tags yield keys
// indistinguishable from independent random keys; renaming a tag orphans
// every ciphertext produced under it.
const (
	SubkeyMnemonic     = "walletguard-mnemonic-encryption-v1"
	SubkeyDelegatedKey = "walletguard-delegated-key-encryption-v1"
	SubkeyPolicyHMAC   = "walletguard-policy-hmac-v1"
)

// DeriveSubkey derives a purpose-bound 32-byte key from a wallet's Master
// Secret. Deterministic: the same (masterSecret, purposeTag) pair yields
// the same key across calls and process restarts.
func DeriveSubkey(masterSecret []byte, purposeTag string) ([]byte, error) {
	if len(masterSecret) != KeySize {
		return nil, fmt.Errorf("master secret must be %d bytes, got %d", KeySize, len(masterSecret))
	}
	if purposeTag == "" {
		return nil, fmt.Errorf("purpose tag is required")
	}
	return expand(hkdf.New(sha256.New, masterSecret, nil, []byte(purposeTag)))
}

// DeriveStorageKey derives the stable key that wraps a wallet's Master
// Secret at rest. Keyed on the server-wide secret, salted per wallet, and
// bound to the address, so any future request re-derives the same key
// without depending on anything transient.
func DeriveStorageKey(serverSecret, salt []byte, walletAddress string) ([]byte, error) {
	if len(serverSecret) != KeySize {
		return nil, fmt.Errorf("server secret must be %d bytes, got %d", KeySize, len(serverSecret))
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("salt is required")
	}
	if walletAddress == "" {
		return nil, fmt.Errorf("wallet address is required")
	}
	info := []byte("walletguard-storage-key-v2:" + walletAddress)
	return expand(hkdf.New(sha256.New, serverSecret, salt, info))
}

// DeriveSessionUnlockKey re-derives the storage key of the deprecated
// signature-derived scheme: keyed on the raw signature bytes of a single
// request. Retained only so the migration path can attempt to open v1
// ciphertexts when the wallet signs deterministically.
func DeriveSessionUnlockKey(walletAddress string, signature, salt []byte, purpose string) ([]byte, error) {
	if len(signature) == 0 {
		return nil, fmt.Errorf("signature is required")
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("salt is required")
	}
	info := []byte("walletguard-unlock-key-v1:" + walletAddress + ":" + purpose)
	return expand(hkdf.New(sha256.New, signature, salt, info))
}

func expand(r io.Reader) ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}
