// Package helpers provides HTTP utilities shared by the cross-package
// test suites.
package helpers

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// NewTestContext returns a context that expires with a generous test
// timeout and is cancelled on cleanup.
func NewTestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// DoJSON sends a JSON request and decodes the JSON response. A nil body
// sends no payload; a non-JSON response body fails the test unless it is
// empty.
func DoJSON(t *testing.T, client *http.Client, method, url string, body interface{}, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded),
			"expected JSON response, got: %s", raw)
	}
	return resp.StatusCode, decoded
}

// DoRaw sends a verbatim request body, bypassing marshalling. Tests use
// it for malformed payloads and for JSON whose exact byte layout matters.
func DoRaw(t *testing.T, client *http.Client, method, url, body string, headers map[string]string) (int, map[string]interface{}) {
	t.Helper()

	req, err := http.NewRequest(method, url, bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]interface{}
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded),
			"expected JSON response, got: %s", raw)
	}
	return resp.StatusCode, decoded
}

// RequireErrorCode asserts an error response: the expected status and
// the machine-readable code in the body.
func RequireErrorCode(t *testing.T, status int, body map[string]interface{}, wantStatus int, wantCode string) {
	t.Helper()
	require.Equal(t, wantStatus, status, "body: %v", body)
	require.Equal(t, wantCode, body["code"], "body: %v", body)
}

// RandomEthAddress generates a syntactically valid address no wallet
// holds the key for.
func RandomEthAddress(t *testing.T) string {
	t.Helper()
	raw := make([]byte, 20)
	_, err := rand.Read(raw)
	require.NoError(t, err)
	return fmt.Sprintf("0x%x", raw)
}
