package middleware

import (
	"net/http"
	"strings"
)

const redactedValue = "[REDACTED]"

// redactedHeaders are credential-bearing headers whose values never appear
// in logs. Keys are in canonical form.
var redactedHeaders = headerSet(
	"Authorization",
	"Cookie",
	"Set-Cookie",
	"X-Operator-Key",
	"X-Session-Token",
)

// strippedHeaders are removed outright once authentication has consumed
// them. X-Session-Token stays: handlers read it after auth runs.
var strippedHeaders = headerSet(
	"Authorization",
	"X-Operator-Key",
)

func headerSet(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[http.CanonicalHeaderKey(n)] = struct{}{}
	}
	return set
}

// redactValue keeps the Authorization scheme visible so log readers can tell
// bearer tokens apart from other credential shapes.
func redactValue(key, value string) string {
	if http.CanonicalHeaderKey(key) == "Authorization" {
		if scheme, _, found := strings.Cut(strings.TrimSpace(value), " "); found && scheme != "" {
			return scheme + " " + redactedValue
		}
	}
	return redactedValue
}

// RedactHeaders returns a copy of h with credential values replaced by a
// constant, safe for logging.
func RedactHeaders(h http.Header) http.Header {
	if h == nil {
		return nil
	}

	out := make(http.Header, len(h))
	for key, values := range h {
		if _, sensitive := redactedHeaders[http.CanonicalHeaderKey(key)]; !sensitive {
			out[key] = append([]string(nil), values...)
			continue
		}

		redacted := make([]string, len(values))
		for i := range values {
			redacted[i] = redactValue(key, values[i])
		}
		out[key] = redacted
	}
	return out
}

// StripCredentialHeaders removes long-lived credentials from h in-place
// once authentication has consumed them.
func StripCredentialHeaders(h http.Header) {
	if h == nil {
		return
	}
	for name := range strippedHeaders {
		h.Del(name)
	}
}
