package crypto

import (
	"bytes"
	"crypto/ed25519"
	"strings"
	"testing"
)

func TestGenerateMnemonic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic failed: %v", err)
	}

	words := strings.Fields(mnemonic)
	if len(words) != 24 {
		t.Errorf("expected 24 words, got %d", len(words))
	}
	if !ValidateMnemonic(mnemonic) {
		t.Error("generated mnemonic fails validation")
	}
}

func TestGenerateMnemonic_Unique(t *testing.T) {
	first, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic failed: %v", err)
	}
	second, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic failed: %v", err)
	}
	if first == second {
		t.Error("two generated mnemonics are identical")
	}
}

func TestValidateMnemonic(t *testing.T) {
	t.Run("rejects garbage", func(t *testing.T) {
		if ValidateMnemonic("not a mnemonic at all") {
			t.Error("garbage passed validation")
		}
	})

	t.Run("rejects bad checksum", func(t *testing.T) {
		// 24 valid words whose checksum cannot match
		bad := strings.TrimSpace(strings.Repeat("abandon ", 24))
		if ValidateMnemonic(bad) {
			t.Error("mnemonic with broken checksum passed validation")
		}
	})

	t.Run("rejects wrong word count", func(t *testing.T) {
		if ValidateMnemonic("abandon abandon abandon") {
			t.Error("3-word mnemonic passed validation")
		}
	})
}

func TestDeriveKeypairFromMnemonic_Deterministic(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic failed: %v", err)
	}

	pub1, priv1, err := DeriveKeypairFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("DeriveKeypairFromMnemonic failed: %v", err)
	}
	pub2, priv2, err := DeriveKeypairFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("DeriveKeypairFromMnemonic failed: %v", err)
	}

	if !bytes.Equal(pub1, pub2) {
		t.Error("public keys differ across derivations of the same phrase")
	}
	if !bytes.Equal(priv1, priv2) {
		t.Error("private keys differ across derivations of the same phrase")
	}
	if !bytes.Equal(priv1.Public().(ed25519.PublicKey), pub1) {
		t.Error("returned public key does not match the private key")
	}
}

func TestDeriveKeypairFromMnemonic_DistinctPhrases(t *testing.T) {
	first, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic failed: %v", err)
	}
	second, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic failed: %v", err)
	}

	pub1, _, err := DeriveKeypairFromMnemonic(first)
	if err != nil {
		t.Fatalf("DeriveKeypairFromMnemonic failed: %v", err)
	}
	pub2, _, err := DeriveKeypairFromMnemonic(second)
	if err != nil {
		t.Fatalf("DeriveKeypairFromMnemonic failed: %v", err)
	}

	if bytes.Equal(pub1, pub2) {
		t.Error("distinct phrases derived the same keypair")
	}
}

func TestDeriveKeypairFromMnemonic_SignVerify(t *testing.T) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic failed: %v", err)
	}
	pub, priv, err := DeriveKeypairFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("DeriveKeypairFromMnemonic failed: %v", err)
	}

	message := []byte("order: buy 1 unit")
	sig := ed25519.Sign(priv, message)
	if !ed25519.Verify(pub, message, sig) {
		t.Error("signature from derived key does not verify")
	}
}

func TestDeriveKeypairFromMnemonic_RejectsInvalid(t *testing.T) {
	if _, _, err := DeriveKeypairFromMnemonic("definitely not valid words"); err == nil {
		t.Error("expected error for invalid mnemonic")
	}
}
