package custody

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/walletguard/walletguard/pkg/types"
)

func testPolicy() *types.TradingPolicy {
	return &types.TradingPolicy{
		Version:        1,
		MaxOrderValue:  "2500.00",
		MaxDailyValue:  "10000.00",
		MaxOpenOrders:  5,
		AllowedMarkets: []string{"SOL-USDC", "ETH-USDC"},
		AllowShort:     false,
	}
}

func TestComputePolicyHmac(t *testing.T) {
	masterSecret := []byte("0123456789abcdef0123456789abcdef")

	first, err := ComputePolicyHmac(masterSecret, testPolicy())
	require.NoError(t, err)
	assert.Len(t, first, 64, "hmac-sha256 hex")

	second, err := ComputePolicyHmac(masterSecret, testPolicy())
	require.NoError(t, err)
	assert.Equal(t, first, second, "deterministic for identical policies")

	otherSecret, err := ComputePolicyHmac([]byte("fedcba9876543210fedcba9876543210"), testPolicy())
	require.NoError(t, err)
	assert.NotEqual(t, first, otherSecret, "bound to the master secret")
}

func TestPolicyHmacKeyOrderIndependence(t *testing.T) {
	masterSecret := []byte("0123456789abcdef0123456789abcdef")

	// the same document serialized with different member order
	var a, b json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(`{"max_open_orders":5,"version":1,"allow_short":false}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"version":1,"allow_short":false,"max_open_orders":5}`), &b))

	hmacA, err := ComputePolicyHmac(masterSecret, a)
	require.NoError(t, err)
	hmacB, err := ComputePolicyHmac(masterSecret, b)
	require.NoError(t, err)

	assert.Equal(t, hmacA, hmacB, "member order must not affect the tag")
}

func TestVerifyPolicyHmac(t *testing.T) {
	masterSecret := []byte("0123456789abcdef0123456789abcdef")
	policy := testPolicy()

	tag, err := ComputePolicyHmac(masterSecret, policy)
	require.NoError(t, err)

	ok, err := VerifyPolicyHmac(masterSecret, policy, tag)
	require.NoError(t, err)
	assert.True(t, ok)

	t.Run("single field mutations flip the result", func(t *testing.T) {
		mutations := map[string]func(p *types.TradingPolicy){
			"version":       func(p *types.TradingPolicy) { p.Version = 2 },
			"order value":   func(p *types.TradingPolicy) { p.MaxOrderValue = "2500.01" },
			"daily value":   func(p *types.TradingPolicy) { p.MaxDailyValue = "9999.99" },
			"open orders":   func(p *types.TradingPolicy) { p.MaxOpenOrders = 6 },
			"markets":       func(p *types.TradingPolicy) { p.AllowedMarkets = []string{"SOL-USDC"} },
			"short allowed": func(p *types.TradingPolicy) { p.AllowShort = true },
		}

		for name, mutate := range mutations {
			t.Run(name, func(t *testing.T) {
				tampered := testPolicy()
				mutate(tampered)

				ok, err := VerifyPolicyHmac(masterSecret, tampered, tag)
				require.NoError(t, err)
				assert.False(t, ok)
			})
		}
	})

	t.Run("wrong master secret", func(t *testing.T) {
		ok, err := VerifyPolicyHmac([]byte("fedcba9876543210fedcba9876543210"), policy, tag)
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("malformed expected tag", func(t *testing.T) {
		ok, err := VerifyPolicyHmac(masterSecret, policy, "not-hex")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("truncated expected tag", func(t *testing.T) {
		ok, err := VerifyPolicyHmac(masterSecret, policy, tag[:32])
		require.NoError(t, err)
		assert.False(t, ok)
	})
}
