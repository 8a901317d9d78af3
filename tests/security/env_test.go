//go:build security

package security

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/walletguard/walletguard/internal/api"
	"github.com/walletguard/walletguard/internal/app"
	"github.com/walletguard/walletguard/internal/auth"
	"github.com/walletguard/walletguard/internal/config"
	"github.com/walletguard/walletguard/internal/custody"
	"github.com/walletguard/walletguard/internal/keywrap"
	"github.com/walletguard/walletguard/internal/metrics"
	"github.com/walletguard/walletguard/internal/middleware"
	"github.com/walletguard/walletguard/tests/fixtures"
	"github.com/walletguard/walletguard/tests/helpers"
	"github.com/walletguard/walletguard/tests/mocks"
)

// testEnv runs the whole custody stack over in-memory stores behind a
// real HTTP server, so every attack goes through the same middleware and
// handlers production traffic does.
type testEnv struct {
	records    *mocks.MemoryRecordStore
	challenges *mocks.MemoryChallengeStore
	audit      *mocks.MemoryAuditLog
	sessions   *custody.SessionStore
	service    *app.CustodyService
	jwks       *mocks.JWKSServer

	operatorKey string
	server      *httptest.Server
	client      *http.Client
}

// envOptions tightens individual limits for tests that probe them. Zero
// values get test defaults.
type envOptions struct {
	revealLimit  int
	revealWindow time.Duration
	limiter      *middleware.RateLimiter
}

func newTestEnv(t *testing.T) *testEnv {
	return newTestEnvWith(t, envOptions{})
}

func newTestEnvWith(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	if opts.revealLimit == 0 {
		opts.revealLimit = 2
	}
	if opts.revealWindow == 0 {
		opts.revealWindow = time.Hour
	}

	records := mocks.NewMemoryRecordStore()
	challenges := mocks.NewMemoryChallengeStore()
	audit := mocks.NewMemoryAuditLog()

	authenticator := auth.NewAuthenticator(challenges, auth.Config{})
	t.Cleanup(authenticator.Close)

	sessions := custody.NewSessionStore(custody.SessionConfig{})
	t.Cleanup(sessions.Close)

	custodian := custody.NewCustodian(records, fixtures.ServerSecret(t))

	wrapper, err := keywrap.NewLocalProvider(fixtures.ServerSecret(t))
	require.NoError(t, err)
	t.Cleanup(wrapper.Close)

	executor := custody.NewExecutionAuthorizer(records, sessions, wrapper, 24*time.Hour)
	vault := custody.NewMnemonicVault(records, sessions, custody.VaultConfig{
		RevealLimit:  opts.revealLimit,
		RevealWindow: opts.revealWindow,
		DisplayTTL:   2 * time.Minute,
	})

	reg := metrics.NewRegistry(sessions.Count)
	service := app.NewCustodyService(authenticator, custodian, sessions, executor, vault, records, audit, reg)

	jwks := mocks.NewJWKSServer("https://auth.walletguard.test", "walletguard")
	_, err = jwks.AddRSAKey("suite-rsa-1")
	require.NoError(t, err)
	t.Cleanup(jwks.Close)

	operatorKey, operatorHash := fixtures.OperatorCredential(t)

	limiter := opts.limiter
	if limiter == nil {
		limiter = middleware.NewRateLimiter(100, 200, false)
	}
	t.Cleanup(limiter.Close)

	tokenAuth := middleware.NewAuthMiddleware(jwks.Issuer(), jwks.Audience(), jwks.URL())
	operator := middleware.NewOperatorAuth(operatorHash)

	apiServer := api.NewServer(&config.Config{}, service, limiter, tokenAuth, operator, reg, nil)
	server := httptest.NewServer(apiServer.Handler())
	t.Cleanup(server.Close)

	return &testEnv{
		records:     records,
		challenges:  challenges,
		audit:       audit,
		sessions:    sessions,
		service:     service,
		jwks:        jwks,
		operatorKey: operatorKey,
		server:      server,
		client:      server.Client(),
	}
}

func (env *testEnv) post(t *testing.T, path string, body interface{}, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	return helpers.DoJSON(t, env.client, http.MethodPost, env.server.URL+path, body, headers)
}

func (env *testEnv) get(t *testing.T, path string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()
	return helpers.DoJSON(t, env.client, http.MethodGet, env.server.URL+path, nil, headers)
}

func sessionHeader(token string) map[string]string {
	return map[string]string{"X-Session-Token": token}
}

// issueChallenge requests a signing challenge through the API.
func (env *testEnv) issueChallenge(t *testing.T, address, purpose string) (nonce, message string) {
	t.Helper()

	status, body := env.post(t, "/v1/auth/challenge", map[string]interface{}{
		"wallet_address": address,
		"purpose":        purpose,
	}, nil)
	require.Equal(t, http.StatusCreated, status, "body: %v", body)

	nonce, _ = body["nonce"].(string)
	message, _ = body["message"].(string)
	require.NotEmpty(t, nonce)
	require.NotEmpty(t, message)
	return nonce, message
}

// signedChange runs the issue-sign-submit round for one of the
// signature-gated endpoints, returning the raw response.
func (env *testEnv) signedChange(t *testing.T, w *fixtures.Wallet, purpose, path string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()

	nonce, message := env.issueChallenge(t, w.Address, purpose)
	return env.post(t, path, map[string]interface{}{
		"wallet_address": w.Address,
		"nonce":          nonce,
		"signature":      w.SignMessage(t, message),
	}, headers)
}

// unlock opens a session for the wallet and returns its token.
func (env *testEnv) unlock(t *testing.T, w *fixtures.Wallet) string {
	t.Helper()

	status, body := env.signedChange(t, w, "unlock", "/v1/auth/unlock", nil)
	require.Equal(t, http.StatusOK, status, "body: %v", body)

	token, _ := body["session_token"].(string)
	require.NotEmpty(t, token)
	return token
}

// provisionMnemonic generates the wallet's recovery phrase and delegated
// key through the API.
func (env *testEnv) provisionMnemonic(t *testing.T, w *fixtures.Wallet, sessionToken string) string {
	t.Helper()

	status, body := env.post(t, "/v1/mnemonic", map[string]interface{}{
		"wallet_address": w.Address,
	}, sessionHeader(sessionToken))
	require.Equal(t, http.StatusCreated, status, "body: %v", body)

	pub, _ := body["delegated_public_key"].(string)
	require.NotEmpty(t, pub)
	return pub
}

// enableExecution authorizes headless execution for the wallet.
func (env *testEnv) enableExecution(t *testing.T, w *fixtures.Wallet, sessionToken string) {
	t.Helper()

	status, body := env.signedChange(t, w, "enable-execution", "/v1/execution/enable", sessionHeader(sessionToken))
	require.Equal(t, http.StatusOK, status, "body: %v", body)
	require.Equal(t, true, body["enabled"])
}

// bearer returns an Authorization header with a valid token for subject.
func (env *testEnv) bearer(t *testing.T, subject string) map[string]string {
	t.Helper()

	token, err := env.jwks.ValidToken(subject)
	require.NoError(t, err)
	return map[string]string{"Authorization": "Bearer " + token}
}
