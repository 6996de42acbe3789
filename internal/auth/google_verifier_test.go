package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestGoogleVerifierValidatesTokenUsingJWKS(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	jwksServer := newJWKSServer(t, &privateKey.PublicKey)
	defer jwksServer.Close()

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"aud":     "test-client",
		"iss":     "https://accounts.google.com",
		"sub":     "google-user-123",
		"email":   "person@example.com",
		"name":    "Test Person",
		"picture": "https://example.com/avatar.png",
		"exp":     now.Add(5 * time.Minute).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signedToken, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        jwksServer.URL + "/oauth2/v3/certs",
		AllowedIssuers: []string{"https://accounts.google.com", "accounts.google.com"},
		HTTPClient:     jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	verified, err := verifier.Verify(context.Background(), signedToken)
	if err != nil {
		t.Fatalf("expected verification to succeed: %v", err)
	}

	if verified.Subject != "google-user-123" {
		t.Fatalf("unexpected subject %s", verified.Subject)
	}
	if verified.Audience != "test-client" {
		t.Fatalf("unexpected audience %s", verified.Audience)
	}
	if verified.Email != "person@example.com" {
		t.Fatalf("unexpected email %s", verified.Email)
	}
	if verified.Name != "Test Person" {
		t.Fatalf("unexpected name %s", verified.Name)
	}
	if verified.AvatarURL != "https://example.com/avatar.png" {
		t.Fatalf("unexpected avatar url %s", verified.AvatarURL)
	}
}

func TestGoogleVerifierRejectsInvalidAudience(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	jwksServer := newJWKSServer(t, &privateKey.PublicKey)
	defer jwksServer.Close()

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"aud": "unexpected-client",
		"iss": "https://accounts.google.com",
		"sub": "google-user-123",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signedToken, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        jwksServer.URL,
		AllowedIssuers: []string{"https://accounts.google.com"},
		HTTPClient:     jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = verifier.Verify(context.Background(), signedToken)
	if err == nil {
		t.Fatalf("expected verification to fail for mismatched audience")
	}
}

func TestGoogleVerifierRejectsUntrustedIssuer(t *testing.T) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	jwksServer := newJWKSServer(t, &privateKey.PublicKey)
	defer jwksServer.Close()

	now := time.Now().UTC()
	claims := jwt.MapClaims{
		"aud": "test-client",
		"iss": "https://evil.example.com",
		"sub": "google-user-123",
		"exp": now.Add(5 * time.Minute).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = "test-key"
	signedToken, err := token.SignedString(privateKey)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}

	verifier, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        jwksServer.URL,
		AllowedIssuers: []string{"https://accounts.google.com"},
		HTTPClient:     jwksServer.Client(),
	})
	if err != nil {
		t.Fatalf("unexpected constructor error: %v", err)
	}

	_, err = verifier.Verify(context.Background(), signedToken)
	if !errors.Is(err, errUntrustedIssuer) {
		t.Fatalf("expected untrusted issuer error, got %v", err)
	}
}

func TestNewGoogleVerifierRequiresAudienceAndJWKS(t *testing.T) {
	_, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "",
		JWKSURL:        "https://example.com/jwks",
		AllowedIssuers: []string{"https://accounts.google.com"},
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingAudienceConfig.Error()) {
		t.Fatalf("expected audience validation error to be reported, got %v", err)
	}

	_, err = NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        " ",
		AllowedIssuers: []string{"https://accounts.google.com"},
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
	if !strings.Contains(err.Error(), errMissingJWKSURL.Error()) {
		t.Fatalf("expected jwks validation error to be reported, got %v", err)
	}
}

func TestNewGoogleVerifierRejectsBlankIssuerList(t *testing.T) {
	_, err := NewGoogleVerifier(GoogleVerifierConfig{
		Audience:       "test-client",
		JWKSURL:        "https://example.com/jwks",
		AllowedIssuers: []string{"", "   "},
	})
	if !errors.Is(err, ErrInvalidVerifierConfig) {
		t.Fatalf("expected invalid verifier config error, got %v", err)
	}
}

func newJWKSServer(t *testing.T, publicKey *rsa.PublicKey) *httptest.Server {
	t.Helper()
	jwksResponse := map[string]any{
		"keys": []any{map[string]string{
			"kty": "RSA",
			"alg": "RS256",
			"kid": "test-key",
			"use": "sig",
			"n":   encodeBigInt(publicKey.N),
			"e":   encodeBigInt(publicKey.E),
		}},
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(jwksResponse)
	}))
}

func encodeBigInt(value interface{}) string {
	switch v := value.(type) {
	case *big.Int:
		return base64.RawURLEncoding.EncodeToString(v.Bytes())
	case int:
		return encodeBigInt(int64(v))
	case int64:
		return base64.RawURLEncoding.EncodeToString(big.NewInt(v).Bytes())
	case uint64:
		return base64.RawURLEncoding.EncodeToString(new(big.Int).SetUint64(v).Bytes())
	default:
		return ""
	}
}
