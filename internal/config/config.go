package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/walletguard/walletguard/internal/crypto"
)

// Config holds infrastructure-level configuration. Everything arrives
// via environment variables; secrets (SERVER_SECRET, EXECUTION_WRAP_KEY)
// are hex-encoded there and decoded here.
type Config struct {
	// Database
	PostgresDSN string

	// ServerSecret is the 32-byte server-side secret mixed into
	// storage key derivation. Losing it makes every record
	// undecryptable, so treat it like a KMS root key.
	ServerSecret []byte

	// Execution wrap key backend
	WrapProvider    string
	WrapKey         []byte // local provider only
	AWSKMSKeyID     string
	AWSKMSRegion    string
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string

	// Sessions
	SessionTTL           time.Duration
	SessionSweepInterval time.Duration

	// Challenges
	ChallengeTTL           time.Duration
	MnemonicChallengeTTL   time.Duration
	ChallengeSweepInterval time.Duration

	// Mnemonic reveal
	RevealRateLimit    int
	RevealRateWindow   time.Duration
	MnemonicDisplayTTL time.Duration

	// Challenge issuance throttle, per client IP
	ChallengeRateLimit int
	ChallengeRateBurst int
	RateLimitEnabled   bool

	// ExecutionMaxLifetime bounds headless authorizations.
	// Zero means authorizations stay valid until revoked.
	ExecutionMaxLifetime time.Duration

	// OperatorKeyHash is the bcrypt hash of the operator API key that
	// guards admin endpoints. Empty disables them.
	OperatorKeyHash string

	// JWT settings for the emergency-stop endpoint. JWKSURL empty
	// disables bearer auth and the endpoint falls back to
	// signature-based auth only.
	JWTIssuer   string
	JWTAudience string
	JWKSURL     string

	// Server
	Port int
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	serverSecret, err := decodeServerSecret(os.Getenv("SERVER_SECRET"))
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	wrapKey, err := resolveWrapKey()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cfg := &Config{
		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		ServerSecret: serverSecret,

		WrapProvider:    getEnv("EXECUTION_WRAP_PROVIDER", "local"),
		WrapKey:         wrapKey,
		AWSKMSKeyID:     getEnv("AWS_KMS_KEY_ID", ""),
		AWSKMSRegion:    getEnv("AWS_KMS_REGION", ""),
		VaultAddress:    getEnv("VAULT_ADDR", ""),
		VaultToken:      getEnv("VAULT_TOKEN", ""),
		VaultTransitKey: getEnv("VAULT_TRANSIT_KEY", ""),

		SessionTTL:           getEnvDuration("SESSION_TTL", 15*time.Minute),
		SessionSweepInterval: getEnvDuration("SESSION_SWEEP_INTERVAL", time.Minute),

		ChallengeTTL:           getEnvDuration("CHALLENGE_TTL", 5*time.Minute),
		MnemonicChallengeTTL:   getEnvDuration("MNEMONIC_CHALLENGE_TTL", 2*time.Minute),
		ChallengeSweepInterval: getEnvDuration("CHALLENGE_SWEEP_INTERVAL", time.Minute),

		RevealRateLimit:    getEnvInt("REVEAL_RATE_LIMIT", 3),
		RevealRateWindow:   getEnvDuration("REVEAL_RATE_WINDOW", time.Hour),
		MnemonicDisplayTTL: getEnvDuration("MNEMONIC_DISPLAY_TTL", 90*time.Second),

		ChallengeRateLimit: getEnvInt("CHALLENGE_RATE_LIMIT", 5),
		ChallengeRateBurst: getEnvInt("CHALLENGE_RATE_BURST", 10),
		RateLimitEnabled:   getEnvBool("RATE_LIMIT_ENABLED", true),

		ExecutionMaxLifetime: getEnvDuration("EXECUTION_MAX_LIFETIME", 0),

		OperatorKeyHash: getEnv("OPERATOR_KEY_HASH", ""),

		JWTIssuer:   getEnv("JWT_ISSUER", ""),
		JWTAudience: getEnv("JWT_AUDIENCE", ""),
		JWKSURL:     getEnv("JWKS_URL", ""),

		Port: getEnvInt("PORT", 8080),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if len(c.ServerSecret) != crypto.KeySize {
		return fmt.Errorf("SERVER_SECRET must be %d hex-encoded bytes", crypto.KeySize)
	}

	switch c.WrapProvider {
	case "local":
		if len(c.WrapKey) == 0 {
			return fmt.Errorf("EXECUTION_WRAP_KEY or EXECUTION_WRAP_KEY_SHARES is required when EXECUTION_WRAP_PROVIDER is 'local'")
		}
		if len(c.WrapKey) != crypto.KeySize {
			return fmt.Errorf("execution wrap key must be %d bytes, got %d", crypto.KeySize, len(c.WrapKey))
		}
	case "aws-kms":
		if c.AWSKMSKeyID == "" {
			return fmt.Errorf("AWS_KMS_KEY_ID is required when EXECUTION_WRAP_PROVIDER is 'aws-kms'")
		}
		if c.AWSKMSRegion == "" {
			return fmt.Errorf("AWS_KMS_REGION is required when EXECUTION_WRAP_PROVIDER is 'aws-kms'")
		}
	case "vault":
		if c.VaultAddress == "" {
			return fmt.Errorf("VAULT_ADDR is required when EXECUTION_WRAP_PROVIDER is 'vault'")
		}
		if c.VaultToken == "" {
			return fmt.Errorf("VAULT_TOKEN is required when EXECUTION_WRAP_PROVIDER is 'vault'")
		}
		if c.VaultTransitKey == "" {
			return fmt.Errorf("VAULT_TRANSIT_KEY is required when EXECUTION_WRAP_PROVIDER is 'vault'")
		}
	default:
		return fmt.Errorf("unsupported EXECUTION_WRAP_PROVIDER: %s (supported: local, aws-kms, vault)", c.WrapProvider)
	}

	if c.RevealRateLimit < 1 {
		return fmt.Errorf("REVEAL_RATE_LIMIT must be at least 1, got %d", c.RevealRateLimit)
	}

	if c.RateLimitEnabled && c.ChallengeRateLimit < 1 {
		return fmt.Errorf("CHALLENGE_RATE_LIMIT must be at least 1, got %d", c.ChallengeRateLimit)
	}

	if c.ExecutionMaxLifetime < 0 {
		return fmt.Errorf("EXECUTION_MAX_LIFETIME cannot be negative")
	}

	return nil
}

func decodeServerSecret(value string) ([]byte, error) {
	if value == "" {
		return nil, fmt.Errorf("SERVER_SECRET is required")
	}
	secret, err := hex.DecodeString(strings.TrimSpace(value))
	if err != nil {
		return nil, fmt.Errorf("SERVER_SECRET is not valid hex: %w", err)
	}
	return secret, nil
}

// resolveWrapKey reads the local wrap key from either EXECUTION_WRAP_KEY
// (a single hex key) or EXECUTION_WRAP_KEY_SHARES (comma-separated hex
// Shamir shares, combined here so the full key never appears in any one
// place). Returns nil when neither is set; Validate decides whether
// that is acceptable for the selected provider.
func resolveWrapKey() ([]byte, error) {
	keyHex := os.Getenv("EXECUTION_WRAP_KEY")
	sharesValue := os.Getenv("EXECUTION_WRAP_KEY_SHARES")

	if keyHex != "" && sharesValue != "" {
		return nil, fmt.Errorf("EXECUTION_WRAP_KEY and EXECUTION_WRAP_KEY_SHARES are mutually exclusive")
	}

	if keyHex != "" {
		key, err := hex.DecodeString(strings.TrimSpace(keyHex))
		if err != nil {
			return nil, fmt.Errorf("EXECUTION_WRAP_KEY is not valid hex: %w", err)
		}
		return key, nil
	}

	if sharesValue != "" {
		parts := strings.Split(sharesValue, ",")
		shares := make([][]byte, 0, len(parts))
		for i, part := range parts {
			share, err := hex.DecodeString(strings.TrimSpace(part))
			if err != nil {
				return nil, fmt.Errorf("EXECUTION_WRAP_KEY_SHARES share %d is not valid hex: %w", i, err)
			}
			shares = append(shares, share)
		}
		key, err := crypto.CombineShares(shares)
		if err != nil {
			return nil, fmt.Errorf("failed to combine EXECUTION_WRAP_KEY_SHARES: %w", err)
		}
		return key, nil
	}

	return nil, nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvDuration gets a duration environment variable with a default
// value. Accepts anything time.ParseDuration does ("90s", "15m", "1h").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
