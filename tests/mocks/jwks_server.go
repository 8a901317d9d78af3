package mocks

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWKSServer serves a JWKS document over httptest and mints tokens
// against it, including deliberately broken ones for negative tests.
type JWKSServer struct {
	server *httptest.Server
	mu     sync.RWMutex

	rsaKeys map[string]*rsa.PrivateKey
	ecKeys  map[string]*ecdsa.PrivateKey

	issuer   string
	audience string
}

// NewJWKSServer starts a JWKS endpoint for the given issuer and
// audience. Call Close when done.
func NewJWKSServer(issuer, audience string) *JWKSServer {
	s := &JWKSServer{
		rsaKeys:  make(map[string]*rsa.PrivateKey),
		ecKeys:   make(map[string]*ecdsa.PrivateKey),
		issuer:   issuer,
		audience: audience,
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handleJWKS))
	return s
}

// AddRSAKey generates an RSA signing key and publishes it under kid.
func (s *JWKSServer) AddRSAKey(kid string) (*rsa.PrivateKey, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}
	s.mu.Lock()
	s.rsaKeys[kid] = key
	s.mu.Unlock()
	return key, nil
}

// AddECKey generates a P-256 signing key and publishes it under kid.
func (s *JWKSServer) AddECKey(kid string) (*ecdsa.PrivateKey, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate EC key: %w", err)
	}
	s.mu.Lock()
	s.ecKeys[kid] = key
	s.mu.Unlock()
	return key, nil
}

// URL returns the JWKS document URL.
func (s *JWKSServer) URL() string {
	return s.server.URL + "/.well-known/jwks.json"
}

// Issuer returns the configured issuer claim.
func (s *JWKSServer) Issuer() string { return s.issuer }

// Audience returns the configured audience claim.
func (s *JWKSServer) Audience() string { return s.audience }

// Close shuts down the endpoint.
func (s *JWKSServer) Close() {
	s.server.Close()
}

func (s *JWKSServer) handleJWKS(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]map[string]interface{}, 0, len(s.rsaKeys)+len(s.ecKeys))
	for kid, key := range s.rsaKeys {
		keys = append(keys, map[string]interface{}{
			"kty": "RSA",
			"kid": kid,
			"use": "sig",
			"alg": "RS256",
			"n":   base64.RawURLEncoding.EncodeToString(key.PublicKey.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.PublicKey.E)).Bytes()),
		})
	}
	for kid, key := range s.ecKeys {
		size := (key.PublicKey.Curve.Params().BitSize + 7) / 8
		keys = append(keys, map[string]interface{}{
			"kty": "EC",
			"kid": kid,
			"use": "sig",
			"alg": "ES256",
			"crv": "P-256",
			"x":   base64.RawURLEncoding.EncodeToString(key.PublicKey.X.FillBytes(make([]byte, size))),
			"y":   base64.RawURLEncoding.EncodeToString(key.PublicKey.Y.FillBytes(make([]byte, size))),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{"keys": keys})
}

// baseClaims returns a fresh claim set for subject, valid for an hour.
func (s *JWKSServer) baseClaims(subject string) jwt.MapClaims {
	now := time.Now()
	return jwt.MapClaims{
		"iss": s.issuer,
		"aud": s.audience,
		"sub": subject,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
}

// sign issues a token over claims with the first published key.
func (s *JWKSServer) sign(claims jwt.MapClaims, withKid bool) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for kid, key := range s.rsaKeys {
		token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
		if withKid {
			token.Header["kid"] = kid
		}
		return token.SignedString(key)
	}
	for kid, key := range s.ecKeys {
		token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
		if withKid {
			token.Header["kid"] = kid
		}
		return token.SignedString(key)
	}
	return "", fmt.Errorf("no signing keys published")
}

// ValidToken issues a token that should pass verification.
func (s *JWKSServer) ValidToken(subject string) (string, error) {
	return s.sign(s.baseClaims(subject), true)
}

// ExpiredToken issues a token whose exp is in the past.
func (s *JWKSServer) ExpiredToken(subject string) (string, error) {
	claims := s.baseClaims(subject)
	claims["iat"] = time.Now().Add(-2 * time.Hour).Unix()
	claims["exp"] = time.Now().Add(-time.Hour).Unix()
	return s.sign(claims, true)
}

// WrongIssuerToken issues a token claiming a different issuer.
func (s *JWKSServer) WrongIssuerToken(subject string) (string, error) {
	claims := s.baseClaims(subject)
	claims["iss"] = "https://rogue-issuer.example.com"
	return s.sign(claims, true)
}

// WrongAudienceToken issues a token for a different audience.
func (s *JWKSServer) WrongAudienceToken(subject string) (string, error) {
	claims := s.baseClaims(subject)
	claims["aud"] = "some-other-service"
	return s.sign(claims, true)
}

// NoKidToken issues a valid signature with no kid header, so the
// verifier cannot resolve the key.
func (s *JWKSServer) NoKidToken(subject string) (string, error) {
	return s.sign(s.baseClaims(subject), false)
}

// UnknownKeyToken issues a token signed with a key that is not in the
// published JWKS.
func (s *JWKSServer) UnknownKeyToken(subject string) (string, error) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return "", err
	}
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, s.baseClaims(subject))
	token.Header["kid"] = "not-in-jwks"
	return token.SignedString(key)
}

// NoneAlgorithmToken builds an unsigned alg=none token by hand. The
// claims are otherwise valid.
func (s *JWKSServer) NoneAlgorithmToken(subject string) string {
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"none","typ":"JWT"}`))
	payload := base64.RawURLEncoding.EncodeToString([]byte(fmt.Sprintf(
		`{"iss":"%s","aud":"%s","sub":"%s","iat":%d,"exp":%d}`,
		s.issuer, s.audience, subject,
		time.Now().Unix(), time.Now().Add(time.Hour).Unix(),
	)))
	return header + "." + payload + "."
}

// ConfusedHS256Token signs with HS256 using a published RSA public key
// as the HMAC secret, probing for algorithm-confusion acceptance.
func (s *JWKSServer) ConfusedHS256Token(subject string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for kid, key := range s.rsaKeys {
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, s.baseClaims(subject))
		token.Header["kid"] = kid
		return token.SignedString(key.PublicKey.N.Bytes())
	}
	return "", fmt.Errorf("no RSA keys published")
}
