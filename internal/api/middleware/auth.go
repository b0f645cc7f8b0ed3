package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"

	"github.com/kiranshivaraju/beyanname/internal/api/response"
	"github.com/kiranshivaraju/beyanname/internal/store"
)

const (
	// APIKeyPrefix marks bearer tokens that are API keys rather than JWTs.
	APIKeyPrefix = "bk_"
	keyPrefixLen = 8
)

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	store      store.Store
	validators []TokenValidator
}

// NewAuth creates a new Auth middleware. API keys are always accepted; JWTs
// only when at least one validator is configured.
func NewAuth(s store.Store, validators ...TokenValidator) *Auth {
	return &Auth{store: s, validators: validators}
}

// Authenticate resolves the Bearer token to an owner and sets owner_id,
// credential and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r)
		if token == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		var (
			ctx context.Context
			ok  bool
		)
		if strings.HasPrefix(token, APIKeyPrefix) {
			ctx, ok = a.apiKeyContext(w, r, token)
		} else {
			ctx, ok = a.jwtContext(w, r, token)
		}
		if !ok {
			return
		}
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) apiKeyContext(w http.ResponseWriter, r *http.Request, rawKey string) (context.Context, bool) {
	if len(rawKey) < keyPrefixLen {
		response.Error(w, http.StatusUnauthorized,
			"INVALID_TOKEN", "Invalid API key format", nil)
		return nil, false
	}
	prefix := rawKey[:keyPrefixLen]

	keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
	if err != nil {
		response.Error(w, http.StatusInternalServerError,
			"INTERNAL_ERROR", "Failed to validate API key", nil)
		return nil, false
	}

	for _, key := range keys {
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
			continue
		}
		ctx := SetOwnerID(r.Context(), key.OwnerID)
		ctx = setCredential(ctx, "key:"+prefix)
		ctx = SetScopes(ctx, key.Scopes)

		id := key.ID
		go func() {
			if err := a.store.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
				slog.Warn("updating api key last use", "key_id", id, "error", err)
			}
		}()
		return ctx, true
	}

	response.Error(w, http.StatusUnauthorized,
		"INVALID_TOKEN", "Invalid API key", nil)
	return nil, false
}

func (a *Auth) jwtContext(w http.ResponseWriter, r *http.Request, token string) (context.Context, bool) {
	for _, v := range a.validators {
		claims, err := v.Validate(r.Context(), token)
		if err != nil {
			slog.Debug("token rejected", "error", err)
			continue
		}
		ctx := SetOwnerID(r.Context(), claims.Subject)
		ctx = setCredential(ctx, "sub:"+claims.Subject)
		ctx = SetScopes(ctx, claims.Scopes)
		return ctx, true
	}
	response.Error(w, http.StatusUnauthorized,
		"INVALID_TOKEN", "Invalid or expired token", nil)
	return nil, false
}

// RequireScope returns middleware that checks whether the authenticated
// credential has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if HasScope(r, scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
