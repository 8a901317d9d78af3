package crypto

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"

	apperrors "github.com/walletguard/walletguard/pkg/errors"
)

func randomKey(t *testing.T) []byte {
	t.Helper()
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return key
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := randomKey(t)
	aad := BuildAAD("wallet-1", RecordMasterSecret)

	plaintexts := [][]byte{
		[]byte("a"),
		[]byte("the quick brown fox"),
		make([]byte, 1024),
	}
	if _, err := rand.Read(plaintexts[2]); err != nil {
		t.Fatalf("failed to generate plaintext: %v", err)
	}

	for _, plaintext := range plaintexts {
		envelope, err := Encrypt(plaintext, key, aad)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		if len(envelope) != len(plaintext)+envelopeOverhead {
			t.Errorf("expected envelope length %d, got %d", len(plaintext)+envelopeOverhead, len(envelope))
		}

		decrypted, err := Decrypt(envelope, key, aad)
		if err != nil {
			t.Fatalf("Decrypt failed: %v", err)
		}
		if !bytes.Equal(decrypted, plaintext) {
			t.Error("decrypted plaintext does not match original")
		}
	}
}

func TestEncrypt_NonDeterministic(t *testing.T) {
	key := randomKey(t)
	aad := BuildAAD("wallet-1", RecordMasterSecret)
	plaintext := []byte("same input every time")

	first, err := Encrypt(plaintext, key, aad)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	second, err := Encrypt(plaintext, key, aad)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if bytes.Equal(first, second) {
		t.Error("two encryptions of identical input produced identical ciphertext")
	}
}

func TestDecrypt_ContextBinding(t *testing.T) {
	key := randomKey(t)
	plaintext := []byte("bound to its context")

	t.Run("different record type fails", func(t *testing.T) {
		envelope, err := Encrypt(plaintext, key, BuildAAD("wallet-1", RecordMasterSecret))
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		_, err = Decrypt(envelope, key, BuildAAD("wallet-1", RecordMnemonic))
		if !errors.Is(err, apperrors.ErrAuthenticationFailure) {
			t.Errorf("expected authentication failure, got %v", err)
		}
	})

	t.Run("different wallet fails", func(t *testing.T) {
		envelope, err := Encrypt(plaintext, key, BuildAAD("wallet-1", RecordMasterSecret))
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		_, err = Decrypt(envelope, key, BuildAAD("wallet-2", RecordMasterSecret))
		if !errors.Is(err, apperrors.ErrAuthenticationFailure) {
			t.Errorf("expected authentication failure, got %v", err)
		}
	})

	t.Run("different key fails", func(t *testing.T) {
		aad := BuildAAD("wallet-1", RecordMasterSecret)
		envelope, err := Encrypt(plaintext, key, aad)
		if err != nil {
			t.Fatalf("Encrypt failed: %v", err)
		}
		_, err = Decrypt(envelope, randomKey(t), aad)
		if !errors.Is(err, apperrors.ErrAuthenticationFailure) {
			t.Errorf("expected authentication failure, got %v", err)
		}
	})
}

func TestDecrypt_TamperedCiphertext(t *testing.T) {
	key := randomKey(t)
	aad := BuildAAD("wallet-1", RecordMasterSecret)

	envelope, err := Encrypt([]byte("integrity matters"), key, aad)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// flip one bit in every region of the envelope
	for _, pos := range []int{0, ivSize, envelopeOverhead} {
		tampered := bytes.Clone(envelope)
		tampered[pos] ^= 0x01
		if _, err := Decrypt(tampered, key, aad); !errors.Is(err, apperrors.ErrAuthenticationFailure) {
			t.Errorf("tamper at offset %d: expected authentication failure, got %v", pos, err)
		}
	}
}

func TestDecrypt_Malformed(t *testing.T) {
	key := randomKey(t)
	aad := BuildAAD("wallet-1", RecordMasterSecret)

	for _, size := range []int{0, 1, ivSize, envelopeOverhead - 1} {
		if _, err := Decrypt(make([]byte, size), key, aad); !errors.Is(err, apperrors.ErrAuthenticationFailure) {
			t.Errorf("size %d: expected authentication failure, got %v", size, err)
		}
	}
}

func TestEncrypt_RejectsBadKeySize(t *testing.T) {
	aad := BuildAAD("wallet-1", RecordMasterSecret)
	for _, size := range []int{0, 16, 31, 33} {
		if _, err := Encrypt([]byte("p"), make([]byte, size), aad); err == nil {
			t.Errorf("expected error for key size %d", size)
		}
	}
}

func TestBuildAAD(t *testing.T) {
	t.Run("layout", func(t *testing.T) {
		aad := BuildAAD("wallet-1", RecordMnemonic)
		if len(aad) != 37 {
			t.Fatalf("expected 37-byte AAD, got %d", len(aad))
		}
		// version 1, little-endian
		if aad[0] != 1 || aad[1] != 0 || aad[2] != 0 || aad[3] != 0 {
			t.Errorf("unexpected version bytes: %v", aad[:4])
		}
		if aad[4] != byte(RecordMnemonic) {
			t.Errorf("expected record type %d, got %d", RecordMnemonic, aad[4])
		}
	})

	t.Run("deterministic", func(t *testing.T) {
		if !bytes.Equal(BuildAAD("w", RecordMasterSecret), BuildAAD("w", RecordMasterSecret)) {
			t.Error("AAD is not deterministic")
		}
	})

	t.Run("distinct inputs produce distinct AADs", func(t *testing.T) {
		base := BuildAAD("wallet-1", RecordMasterSecret)
		if bytes.Equal(base, BuildAAD("wallet-1", RecordMnemonic)) {
			t.Error("record type does not affect AAD")
		}
		if bytes.Equal(base, BuildAAD("wallet-2", RecordMasterSecret)) {
			t.Error("wallet address does not affect AAD")
		}
	})

	t.Run("hex address decodes to raw identity", func(t *testing.T) {
		pubkey := "7f3b9a1c5d2e8f4a6b0c7d9e1f3a5b7c9d0e2f4a6b8c0d1e3f5a7b9c1d2e3f40"
		aad := BuildAAD(pubkey, RecordMasterSecret)
		upper := BuildAAD("0x7F3B9A1C5D2E8F4A6B0C7D9E1F3A5B7C9D0E2F4A6B8C0D1E3F5A7B9C1D2E3F40", RecordMasterSecret)
		if !bytes.Equal(aad, upper) {
			t.Error("hex identity should be case and prefix insensitive")
		}
	})
}
