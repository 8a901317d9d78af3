package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

// Envelope wire format: IV (12 bytes) || auth tag (16 bytes) || ciphertext.
const (
	// KeySize is the AES-256 key length used everywhere in this package
	KeySize = 32

	ivSize  = 12
	tagSize = 16

	envelopeOverhead = ivSize + tagSize
)

// envelopeVersion is the AAD schema version, authenticated with every
// ciphertext. Bump only with a storage migration.
const envelopeVersion uint32 = 1

// RecordType tags the kind of secret a ciphertext protects. The tag is
// part of the AAD, so a ciphertext produced for one record type can never
// be opened as another.
type RecordType uint8

const (
	RecordMasterSecret  RecordType = 1
	RecordMnemonic      RecordType = 2
	RecordDelegatedKey  RecordType = 3
	RecordExecutionWrap RecordType = 4
)

// BuildAAD builds the 37-byte additional authenticated data binding a
// ciphertext to its context: version (uint32 LE) || record type (1 byte) ||
// wallet identity (32 bytes). Deterministic and side-effect free; encrypt
// and decrypt must call it with identical inputs.
func BuildAAD(walletAddress string, recordType RecordType) []byte {
	aad := make([]byte, 0, 4+1+32)

	var version [4]byte
	binary.LittleEndian.PutUint32(version[:], envelopeVersion)
	aad = append(aad, version[:]...)
	aad = append(aad, byte(recordType))

	identity := walletIdentity(walletAddress)
	aad = append(aad, identity[:]...)
	return aad
}

// walletIdentity maps an address to a fixed 32-byte identity. A 64-char
// hex address (an ed25519 public key) decodes directly; anything else is
// hashed. Callers must pass addresses in canonical form.
func walletIdentity(address string) [32]byte {
	s := strings.TrimPrefix(strings.ToLower(address), "0x")
	if len(s) == 64 {
		if raw, err := hex.DecodeString(s); err == nil {
			var id [32]byte
			copy(id[:], raw)
			return id
		}
	}
	return sha256.Sum256([]byte(address))
}

// Encrypt seals plaintext under key with a fresh random IV per call, so
// identical inputs never produce identical ciphertext. The supplied AAD is
// authenticated but not encrypted.
func Encrypt(plaintext, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	// gcm.Seal appends the tag after the ciphertext; the wire format wants
	// IV || tag || ciphertext
	sealed := gcm.Seal(nil, iv, plaintext, aad)
	ctLen := len(sealed) - tagSize

	out := make([]byte, 0, envelopeOverhead+ctLen)
	out = append(out, iv...)
	out = append(out, sealed[ctLen:]...)
	out = append(out, sealed[:ctLen]...)
	return out, nil
}

// Decrypt opens an envelope produced by Encrypt. Malformed input, a
// tampered ciphertext, and a wrong key or AAD all surface as the same
// authentication failure.
func Decrypt(envelope, key, aad []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	if len(envelope) < envelopeOverhead {
		return nil, apperrors.ErrAuthenticationFailure
	}

	iv := envelope[:ivSize]
	tag := envelope[ivSize:envelopeOverhead]
	ct := envelope[envelopeOverhead:]

	sealed := make([]byte, 0, len(ct)+tagSize)
	sealed = append(sealed, ct...)
	sealed = append(sealed, tag...)

	plaintext, err := gcm.Open(nil, iv, sealed, aad)
	if err != nil {
		return nil, apperrors.ErrAuthenticationFailure
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("envelope key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return gcm, nil
}
