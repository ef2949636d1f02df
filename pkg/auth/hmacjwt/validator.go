package hmacjwt

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hydrantlabs/designq/pkg/auth"

	"github.com/golang-jwt/jwt/v5"
)

type validatorConfig struct {
	// Secret is the shared HMAC signing secret.
	Secret string `json:"secret"`

	// Issuer, when set, must match the token's iss claim.
	Issuer string `json:"issuer,omitempty"`

	// Audience, when set, must be present in the token's aud claim.
	Audience string `json:"audience,omitempty"`

	// ClockSkewSeconds widens exp/nbf validation.
	ClockSkewSeconds int `json:"clockSkewSeconds,omitempty"`
}

type validator struct {
	cfg    validatorConfig
	parser *jwt.Parser
	keyFn  jwt.Keyfunc
}

func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	var cfg validatorConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("hmacjwt auth: invalid config: %w", err)
	}
	cfg.Secret = strings.TrimSpace(cfg.Secret)
	if cfg.Secret == "" {
		return nil, errors.New("hmacjwt auth: secret is required")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.ClockSkewSeconds > 0 {
		opts = append(opts, jwt.WithLeeway(time.Duration(cfg.ClockSkewSeconds)*time.Second))
	}

	secret := []byte(cfg.Secret)
	return &validator{
		cfg:    cfg,
		parser: jwt.NewParser(opts...),
		keyFn:  func(*jwt.Token) (interface{}, error) { return secret, nil },
	}, nil
}

func (v *validator) Validate(token string) (*auth.Claims, error) {
	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(strings.TrimSpace(token), claims, v.keyFn)
	if err != nil {
		return nil, fmt.Errorf("hmacjwt auth: %w", err)
	}
	if !parsed.Valid {
		return nil, errors.New("hmacjwt auth: invalid token")
	}

	out := &auth.Claims{Raw: map[string]interface{}(claims)}
	if sub, err := claims.GetSubject(); err == nil {
		out.Subject = sub
	}
	if iss, err := claims.GetIssuer(); err == nil {
		out.Issuer = iss
	}
	if aud, err := claims.GetAudience(); err == nil {
		out.Audience = []string(aud)
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}
	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		out.IssuedAt = iat.Time
	}
	out.Scopes = extractScopes(claims)
	return out, nil
}

// extractScopes accepts both the space-delimited "scope" form and the
// array "scopes" form.
func extractScopes(claims jwt.MapClaims) []string {
	if s, ok := claims["scope"].(string); ok && s != "" {
		return strings.Fields(s)
	}
	raw, ok := claims["scopes"].([]interface{})
	if !ok {
		return nil
	}
	scopes := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			scopes = append(scopes, s)
		}
	}
	return scopes
}

func init() {
	auth.RegisterProvider("hmacjwt", NewValidatorFromJSON)
}
