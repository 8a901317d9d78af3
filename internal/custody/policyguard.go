package custody

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/walletguard/walletguard/internal/crypto"
)

// ComputePolicyHmac produces the integrity tag for a policy object. The
// policy is serialized to RFC 8785 canonical JSON first, so key order
// never affects the result, then keyed-hashed under the policy subkey of
// the wallet's Master Secret.
func ComputePolicyHmac(masterSecret []byte, policy interface{}) (string, error) {
	canonical, err := canonicalPolicyBytes(policy)
	if err != nil {
		return "", err
	}

	key, err := crypto.DeriveSubkey(masterSecret, crypto.SubkeyPolicyHMAC)
	if err != nil {
		return "", fmt.Errorf("failed to derive policy hmac key: %w", err)
	}
	defer crypto.Wipe(key)

	mac := hmac.New(sha256.New, key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// VerifyPolicyHmac recomputes the tag and compares in constant time. Any
// field change flips the result; reordering keys does not.
func VerifyPolicyHmac(masterSecret []byte, policy interface{}, expectedHex string) (bool, error) {
	expected, err := hex.DecodeString(expectedHex)
	if err != nil {
		return false, nil
	}

	computedHex, err := ComputePolicyHmac(masterSecret, policy)
	if err != nil {
		return false, err
	}
	computed, err := hex.DecodeString(computedHex)
	if err != nil {
		return false, err
	}

	return hmac.Equal(computed, expected), nil
}

func canonicalPolicyBytes(policy interface{}) ([]byte, error) {
	encoded, err := json.Marshal(policy)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize policy: %w", err)
	}
	canonical, err := jcs.Transform(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize policy: %w", err)
	}
	return canonical, nil
}
