package middleware

import (
	"context"
	"errors"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"
)

// ScopeAdmin unlocks the admin routes.
const ScopeAdmin = "admin"

// Claims is what a validated bearer token tells us about its holder.
type Claims struct {
	Subject string
	Issuer  string
	Scopes  []string
}

// TokenValidator validates a bearer token that is not an API key.
type TokenValidator interface {
	Validate(ctx context.Context, token string) (*Claims, error)
}

// HS256Validator verifies access tokens signed with the auth backend's shared
// secret.
type HS256Validator struct {
	secret []byte
}

func NewHS256Validator(secret string) (*HS256Validator, error) {
	if secret == "" {
		return nil, errors.New("JWT secret is required")
	}
	return &HS256Validator{secret: []byte(secret)}, nil
}

func (v *HS256Validator) Validate(_ context.Context, token string) (*Claims, error) {
	tok, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	raw, ok := tok.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("parse claims: unsupported claim type %T", tok.Claims)
	}
	return claimsFromMap(raw)
}

// OIDCValidator verifies ID tokens against an OIDC issuer's published keys.
type OIDCValidator struct {
	verifier *oidc.IDTokenVerifier
}

func NewOIDCValidator(ctx context.Context, issuerURL, audience string) (*OIDCValidator, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("oidc provider discovery: %w", err)
	}
	cfg := &oidc.Config{ClientID: audience, SkipClientIDCheck: audience == ""}
	return &OIDCValidator{verifier: provider.Verifier(cfg)}, nil
}

func (v *OIDCValidator) Validate(ctx context.Context, token string) (*Claims, error) {
	idToken, err := v.verifier.Verify(ctx, token)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}
	var raw map[string]any
	if err := idToken.Claims(&raw); err != nil {
		return nil, fmt.Errorf("parse claims: %w", err)
	}
	return claimsFromMap(raw)
}

// claimsFromMap maps the auth backend's claims: sub is the owner, and either
// role=service_role or app_metadata.role=admin grants the admin scope.
func claimsFromMap(raw map[string]any) (*Claims, error) {
	sub, _ := raw["sub"].(string)
	if sub == "" {
		return nil, errors.New("token has no subject")
	}
	c := &Claims{Subject: sub}
	c.Issuer, _ = raw["iss"].(string)

	if role, _ := raw["role"].(string); role == "service_role" {
		c.Scopes = append(c.Scopes, ScopeAdmin)
	} else if meta, ok := raw["app_metadata"].(map[string]any); ok {
		if role, _ := meta["role"].(string); role == ScopeAdmin {
			c.Scopes = append(c.Scopes, ScopeAdmin)
		}
	}
	return c, nil
}
