package crypto

import (
	"fmt"

	"github.com/hashicorp/vault/shamir"
)

const (
	// DefaultShareThreshold is the minimum number of shares required to
	// reconstruct the execution wrap key
	DefaultShareThreshold = 2
	// DefaultShareCount is the total number of shares handed to operators
	DefaultShareCount = 3

	// MaxShareCount bounds the scheme; shamir's field arithmetic supports
	// at most 255 shares
	MaxShareCount = 255
)

// SplitKey splits the execution wrap key into count shares of which
// threshold are required to reconstruct it. Shares are handed to separate
// operators so no single person can recover the key.
func SplitKey(key []byte, count, threshold int) ([][]byte, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("key cannot be empty")
	}
	if threshold < 2 {
		return nil, fmt.Errorf("threshold must be at least 2, got %d", threshold)
	}
	if count < threshold {
		return nil, fmt.Errorf("share count %d is below threshold %d", count, threshold)
	}
	if count > MaxShareCount {
		return nil, fmt.Errorf("share count must be at most %d, got %d", MaxShareCount, count)
	}

	shares, err := shamir.Split(key, count, threshold)
	if err != nil {
		return nil, fmt.Errorf("failed to split key: %w", err)
	}
	return shares, nil
}

// CombineShares reconstructs the execution wrap key from threshold-many
// shares. Order does not matter; shamir.Combine yields garbage rather
// than an error when given fewer than threshold shares, so callers must
// verify the result against expected key length.
func CombineShares(shares [][]byte) ([]byte, error) {
	if len(shares) < 2 {
		return nil, fmt.Errorf("at least 2 shares are required, got %d", len(shares))
	}
	for i, share := range shares {
		if err := ValidateShare(share); err != nil {
			return nil, fmt.Errorf("share %d: %w", i, err)
		}
	}

	key, err := shamir.Combine(shares)
	if err != nil {
		return nil, fmt.Errorf("failed to combine shares: %w", err)
	}
	return key, nil
}

// ValidateShare checks if a share appears to be valid.
// Note: This only checks format, not cryptographic validity.
func ValidateShare(share []byte) error {
	if len(share) == 0 {
		return fmt.Errorf("share cannot be empty")
	}
	// Shares carry a 1-byte index suffixed to the share data; a share of a
	// 32-byte key is 33 bytes
	if len(share) < 33 {
		return fmt.Errorf("share too short: expected at least 33 bytes, got %d", len(share))
	}
	return nil
}
