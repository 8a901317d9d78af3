package crypto

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"

	"github.com/tyler-smith/go-bip39"
)

// DerivationPath is the fixed path every delegated trading key is derived
// at. Changing it would re-derive different keypairs from existing phrases.
const DerivationPath = "m/44'/501'/0'/0'"

// hardened child indexes of DerivationPath, applied in order
var derivationIndexes = []uint32{44, 501, 0, 0}

const hardenedOffset = 0x80000000

// GenerateMnemonic produces a 24-word recovery phrase from 256 bits of
// entropy.
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return "", fmt.Errorf("failed to generate entropy: %w", err)
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("failed to build mnemonic: %w", err)
	}
	return mnemonic, nil
}

// ValidateMnemonic checks the word list and checksum.
func ValidateMnemonic(mnemonic string) bool {
	return bip39.IsMnemonicValid(mnemonic)
}

// DeriveKeypairFromMnemonic deterministically derives the delegated
// ed25519 keypair at DerivationPath. The same phrase always re-derives the
// same keypair.
func DeriveKeypairFromMnemonic(mnemonic string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, nil, fmt.Errorf("invalid mnemonic phrase")
	}

	seed := bip39.NewSeed(mnemonic, "")
	defer Wipe(seed)

	key, chain := masterKeyFromSeed(seed)
	for _, idx := range derivationIndexes {
		key, chain = deriveHardenedChild(key, chain, idx+hardenedOffset)
	}
	defer Wipe(key)
	defer Wipe(chain)

	// ed25519.NewKeyFromSeed copies the seed bytes
	priv := ed25519.NewKeyFromSeed(key)
	pub := priv.Public().(ed25519.PublicKey)
	return pub, priv, nil
}

// SLIP-0010 ed25519 master key: HMAC-SHA512 over the BIP39 seed with the
// fixed curve string.
func masterKeyFromSeed(seed []byte) (key, chainCode []byte) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	return sum[:32], sum[32:]
}

// SLIP-0010 hardened child derivation. ed25519 supports hardened children
// only, so the index must already carry the hardened offset.
func deriveHardenedChild(key, chainCode []byte, index uint32) (childKey, childChain []byte) {
	data := make([]byte, 0, 1+32+4)
	data = append(data, 0x00)
	data = append(data, key...)

	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], index)
	data = append(data, idx[:]...)

	mac := hmac.New(sha512.New, chainCode)
	mac.Write(data)
	sum := mac.Sum(nil)

	Wipe(data)
	Wipe(key)
	Wipe(chainCode)
	return sum[:32], sum[32:]
}
