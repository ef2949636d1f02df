package hmacjwt

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := tok.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return s
}

func TestValidateAcceptsSignedToken(t *testing.T) {
	v, err := NewValidatorFromJSON(json.RawMessage(`{"secret":"s3cret","issuer":"designq","audience":"agent"}`))
	if err != nil {
		t.Fatalf("new validator: %v", err)
	}

	token := signToken(t, "s3cret", jwt.MapClaims{
		"sub":   "agent-runner",
		"iss":   "designq",
		"aud":   "agent",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Unix(),
		"scope": "callbacks:write tasks:read",
	})

	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.Subject != "agent-runner" || claims.Issuer != "designq" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.HasScope("callbacks:write") {
		t.Fatalf("expected callbacks:write scope, got %v", claims.Scopes)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	v, _ := NewValidatorFromJSON(json.RawMessage(`{"secret":"right"}`))
	token := signToken(t, "wrong", jwt.MapClaims{
		"sub": "x", "exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.Validate(token); err == nil {
		t.Fatal("expected signature failure")
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	v, _ := NewValidatorFromJSON(json.RawMessage(`{"secret":"s"}`))
	token := signToken(t, "s", jwt.MapClaims{
		"sub": "x", "exp": time.Now().Add(-time.Hour).Unix(),
	})
	if _, err := v.Validate(token); err == nil {
		t.Fatal("expected expiry failure")
	}
}

func TestValidateRejectsWrongIssuer(t *testing.T) {
	v, _ := NewValidatorFromJSON(json.RawMessage(`{"secret":"s","issuer":"designq"}`))
	token := signToken(t, "s", jwt.MapClaims{
		"sub": "x", "iss": "someone-else", "exp": time.Now().Add(time.Hour).Unix(),
	})
	if _, err := v.Validate(token); err == nil {
		t.Fatal("expected issuer failure")
	}
}

func TestScopesArrayForm(t *testing.T) {
	v, _ := NewValidatorFromJSON(json.RawMessage(`{"secret":"s"}`))
	token := signToken(t, "s", jwt.MapClaims{
		"sub": "x", "exp": time.Now().Add(time.Hour).Unix(),
		"scopes": []string{"callbacks:write"},
	})
	claims, err := v.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !claims.HasScope("callbacks:write") {
		t.Fatalf("expected scope from array form, got %v", claims.Scopes)
	}
}

func TestConfigRequiresSecret(t *testing.T) {
	if _, err := NewValidatorFromJSON(json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected missing secret error")
	}
}
