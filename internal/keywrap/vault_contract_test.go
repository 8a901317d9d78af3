package keywrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type transitRequestBody struct {
	Plaintext  string `json:"plaintext"`
	Ciphertext string `json:"ciphertext"`
	Context    string `json:"context"`
}

type transitResponseBody struct {
	RequestID string                 `json:"request_id"`
	Data      map[string]interface{} `json:"data"`
}

// newTransitTestServer fakes the transit encrypt/decrypt endpoints of a
// derived key: the encryption context is folded into the ciphertext and
// enforced on decrypt, like Vault does for keys created with derived=true.
func newTransitTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req transitRequestBody
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		switch {
		case strings.HasPrefix(r.URL.Path, "/v1/transit/encrypt/"):
			resp := transitResponseBody{
				RequestID: "req-encrypt",
				Data: map[string]interface{}{
					"ciphertext": "vault:v1:" + req.Plaintext + "." + req.Context,
				},
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)

		case strings.HasPrefix(r.URL.Path, "/v1/transit/decrypt/"):
			payload := strings.TrimPrefix(req.Ciphertext, "vault:v1:")
			parts := strings.SplitN(payload, ".", 2)
			if len(parts) != 2 || parts[1] != req.Context {
				w.WriteHeader(http.StatusBadRequest)
				json.NewEncoder(w).Encode(map[string]interface{}{
					"errors": []string{"cipher: message authentication failed"},
				})
				return
			}
			resp := transitResponseBody{
				RequestID: "req-decrypt",
				Data: map[string]interface{}{
					"plaintext": parts[0],
				},
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(resp)

		default:
			http.NotFound(w, r)
		}
	}))
}

func TestVaultTransitProvider_WrapUnwrap_RoundTrip(t *testing.T) {
	server := newTransitTestServer(t)
	defer server.Close()

	provider, err := NewVaultTransitProvider(server.URL, "token", "test-key")
	require.NoError(t, err)

	ctx := context.Background()
	plaintext := []byte("vault-wrapped-master-secret")
	aad := []byte("wallet-binding")

	wrapped, err := provider.Wrap(ctx, plaintext, aad)
	require.NoError(t, err)
	require.NotEmpty(t, wrapped)
	require.True(t, strings.HasPrefix(string(wrapped), "vault:v1:"))

	unwrapped, err := provider.Unwrap(ctx, wrapped, aad)
	require.NoError(t, err)
	require.Equal(t, plaintext, unwrapped)
}

func TestVaultTransitProvider_ContextMismatch(t *testing.T) {
	server := newTransitTestServer(t)
	defer server.Close()

	provider, err := NewVaultTransitProvider(server.URL, "token", "test-key")
	require.NoError(t, err)

	ctx := context.Background()
	wrapped, err := provider.Wrap(ctx, []byte("secret"), []byte("wallet-a"))
	require.NoError(t, err)

	_, err = provider.Unwrap(ctx, wrapped, []byte("wallet-b"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "Vault Transit decrypt failed")
}

func TestVaultTransitProvider_Wrap_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"errors":["boom"]}`))
	}))
	defer server.Close()

	provider, err := NewVaultTransitProvider(server.URL, "token", "test-key")
	require.NoError(t, err)

	_, err = provider.Wrap(context.Background(), []byte("data"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Vault Transit encrypt failed")
}

func TestVaultTransitProvider_Unwrap_Error(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"errors":["boom"]}`))
	}))
	defer server.Close()

	provider, err := NewVaultTransitProvider(server.URL, "token", "test-key")
	require.NoError(t, err)

	_, err = provider.Unwrap(context.Background(), []byte("vault:v1:abcd"), nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "Vault Transit decrypt failed")
}
