package keywrap

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	vault "github.com/hashicorp/vault/api"

	"github.com/walletguard/walletguard/internal/crypto"
)

// Provider wraps Master Secrets under a server-wide execution key for
// at-rest storage while headless execution is enabled. The aad carries
// the wallet-bound encryption context; every backend must refuse to
// unwrap when it does not match.
type Provider interface {
	// Wrap encrypts plaintext bound to aad.
	Wrap(ctx context.Context, plaintext, aad []byte) ([]byte, error)

	// Unwrap decrypts wrapped, verifying it was produced under the
	// same aad.
	Unwrap(ctx context.Context, wrapped, aad []byte) ([]byte, error)

	// Name returns the provider name (e.g. "local", "aws-kms", "vault")
	Name() string
}

// ProviderType represents supported wrap key backends
type ProviderType string

const (
	// ProviderLocal holds the wrap key in process memory (development
	// or single-operator deployments, optionally Shamir-split)
	ProviderLocal ProviderType = "local"

	// ProviderAWSKMS keeps the wrap key inside AWS KMS
	ProviderAWSKMS ProviderType = "aws-kms"

	// ProviderVault uses the HashiCorp Vault Transit engine
	ProviderVault ProviderType = "vault"
)

// awsContextKey is the EncryptionContext entry that carries the aad on
// AWS KMS calls. KMS rejects decryption under a different context.
const awsContextKey = "walletguard:aad"

// Config selects and configures a wrap key backend.
type Config struct {
	// Provider specifies which backend to use
	Provider string

	// Local provider config. The key arrives already decoded (and,
	// when Shamir shares are configured, already combined).
	LocalKey []byte

	// AWS KMS config
	AWSKMSKeyID  string
	AWSKMSRegion string

	// Vault config
	VaultAddress    string
	VaultToken      string
	VaultTransitKey string
}

// LocalProvider implements Provider with an in-process AES-256-GCM key.
// Suitable for development or self-hosted deployments where the key is
// delivered via environment or reassembled from operator shares.
type LocalProvider struct {
	wrapKey []byte
}

// NewLocalProvider creates a local provider. The key must be exactly
// 32 bytes.
func NewLocalProvider(key []byte) (*LocalProvider, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("wrap key is required for local provider")
	}
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("wrap key must be %d bytes, got %d", crypto.KeySize, len(key))
	}

	return &LocalProvider{
		wrapKey: append([]byte(nil), key...),
	}, nil
}

// Wrap encrypts plaintext with AES-GCM under the local wrap key.
func (p *LocalProvider) Wrap(_ context.Context, plaintext, aad []byte) ([]byte, error) {
	wrapped, err := crypto.Encrypt(plaintext, p.wrapKey, aad)
	if err != nil {
		return nil, fmt.Errorf("failed to wrap secret: %w", err)
	}
	return wrapped, nil
}

// Unwrap decrypts wrapped with the local wrap key. A mismatched aad
// fails authentication.
func (p *LocalProvider) Unwrap(_ context.Context, wrapped, aad []byte) ([]byte, error) {
	return crypto.Decrypt(wrapped, p.wrapKey, aad)
}

// Name returns the provider name
func (p *LocalProvider) Name() string {
	return string(ProviderLocal)
}

// Close wipes the in-process wrap key.
func (p *LocalProvider) Close() {
	crypto.Wipe(p.wrapKey)
}

// AWSKMSProvider implements Provider using AWS KMS. The aad travels as
// KMS EncryptionContext, so context enforcement happens inside KMS.
type AWSKMSProvider struct {
	keyID  string
	region string
	client *kms.Client
}

// NewAWSKMSProvider creates a new AWS KMS provider
func NewAWSKMSProvider(keyID, region string) (*AWSKMSProvider, error) {
	if keyID == "" {
		return nil, fmt.Errorf("AWS KMS key ID is required")
	}
	if region == "" {
		return nil, fmt.Errorf("AWS region is required")
	}

	// Uses default credential chain: env vars, shared config, IAM role, etc.
	cfg, err := config.LoadDefaultConfig(context.Background(), config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &AWSKMSProvider{
		keyID:  keyID,
		region: region,
		client: kms.NewFromConfig(cfg),
	}, nil
}

// Wrap encrypts plaintext using AWS KMS with the aad as EncryptionContext
func (p *AWSKMSProvider) Wrap(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	output, err := p.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:             aws.String(p.keyID),
		Plaintext:         plaintext,
		EncryptionContext: encryptionContext(aad),
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS encrypt failed: %w", err)
	}
	return output.CiphertextBlob, nil
}

// Unwrap decrypts wrapped using AWS KMS. KMS refuses the call when the
// EncryptionContext does not match the one used at encryption time.
func (p *AWSKMSProvider) Unwrap(ctx context.Context, wrapped, aad []byte) ([]byte, error) {
	output, err := p.client.Decrypt(ctx, &kms.DecryptInput{
		KeyId:             aws.String(p.keyID),
		CiphertextBlob:    wrapped,
		EncryptionContext: encryptionContext(aad),
	})
	if err != nil {
		return nil, fmt.Errorf("AWS KMS decrypt failed: %w", err)
	}
	return output.Plaintext, nil
}

// Name returns the provider name
func (p *AWSKMSProvider) Name() string {
	return string(ProviderAWSKMS)
}

func encryptionContext(aad []byte) map[string]string {
	if len(aad) == 0 {
		return nil
	}
	return map[string]string{awsContextKey: hex.EncodeToString(aad)}
}

// VaultTransitProvider implements Provider using the HashiCorp Vault
// Transit engine. The aad is passed as the transit context; the transit
// key must be created with derived=true for Vault to enforce it.
type VaultTransitProvider struct {
	transitKey string
	client     *vault.Client
}

// NewVaultTransitProvider creates a new Vault Transit provider
func NewVaultTransitProvider(address, token, transitKey string) (*VaultTransitProvider, error) {
	if address == "" {
		return nil, fmt.Errorf("Vault address is required")
	}
	if token == "" {
		return nil, fmt.Errorf("Vault token is required")
	}
	if transitKey == "" {
		return nil, fmt.Errorf("Vault transit key name is required")
	}

	vaultConfig := vault.DefaultConfig()
	vaultConfig.Address = address

	client, err := vault.NewClient(vaultConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	client.SetToken(token)

	return &VaultTransitProvider{
		transitKey: transitKey,
		client:     client,
	}, nil
}

// Wrap encrypts plaintext using the Vault Transit engine
func (p *VaultTransitProvider) Wrap(ctx context.Context, plaintext, aad []byte) ([]byte, error) {
	path := fmt.Sprintf("transit/encrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, transitRequest("plaintext", plaintext, aad))
	if err != nil {
		return nil, fmt.Errorf("Vault Transit encrypt failed: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("Vault Transit encrypt returned empty response")
	}

	ciphertext, ok := secret.Data["ciphertext"].(string)
	if !ok {
		return nil, fmt.Errorf("Vault Transit encrypt: ciphertext not found in response")
	}

	// the ciphertext is a vault:v1:... string
	return []byte(ciphertext), nil
}

// Unwrap decrypts wrapped using the Vault Transit engine
func (p *VaultTransitProvider) Unwrap(ctx context.Context, wrapped, aad []byte) ([]byte, error) {
	path := fmt.Sprintf("transit/decrypt/%s", p.transitKey)
	secret, err := p.client.Logical().WriteWithContext(ctx, path, transitRequest("ciphertext", wrapped, aad))
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt failed: %w", err)
	}

	if secret == nil || secret.Data == nil {
		return nil, fmt.Errorf("Vault Transit decrypt returned empty response")
	}

	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, fmt.Errorf("Vault Transit decrypt: plaintext not found in response")
	}

	plaintext, err := base64.StdEncoding.DecodeString(plaintextB64)
	if err != nil {
		return nil, fmt.Errorf("Vault Transit decrypt: failed to decode plaintext: %w", err)
	}

	return plaintext, nil
}

// Name returns the provider name
func (p *VaultTransitProvider) Name() string {
	return string(ProviderVault)
}

// transitRequest builds a transit engine request body. Plaintext and
// context are base64 per the transit API; ciphertext goes through as-is.
func transitRequest(field string, value, aad []byte) map[string]interface{} {
	body := map[string]interface{}{}
	if field == "ciphertext" {
		body[field] = string(value)
	} else {
		body[field] = base64.StdEncoding.EncodeToString(value)
	}
	if len(aad) > 0 {
		body["context"] = base64.StdEncoding.EncodeToString(aad)
	}
	return body
}

// New creates a Provider based on the configuration
func New(cfg *Config) (Provider, error) {
	provider := ProviderType(cfg.Provider)

	switch provider {
	case ProviderLocal, "": // Default to local
		return NewLocalProvider(cfg.LocalKey)

	case ProviderAWSKMS:
		return NewAWSKMSProvider(cfg.AWSKMSKeyID, cfg.AWSKMSRegion)

	case ProviderVault:
		return NewVaultTransitProvider(cfg.VaultAddress, cfg.VaultToken, cfg.VaultTransitKey)

	default:
		return nil, fmt.Errorf("unsupported wrap key provider: %s (supported: %s, %s, %s)",
			provider, ProviderLocal, ProviderAWSKMS, ProviderVault)
	}
}

// Ensure backends implement Provider
var (
	_ Provider = (*LocalProvider)(nil)
	_ Provider = (*AWSKMSProvider)(nil)
	_ Provider = (*VaultTransitProvider)(nil)
)
