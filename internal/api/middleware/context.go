package middleware

import (
	"context"
	"net/http"
)

type contextKey string

const (
	ownerIDKey    contextKey = "owner_id"
	credentialKey contextKey = "credential"
	scopesKey     contextKey = "scopes"
)

func SetOwnerID(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerIDKey, ownerID)
}

// GetOwnerID returns the owner the request was authenticated as.
func GetOwnerID(r *http.Request) (string, bool) {
	id, ok := r.Context().Value(ownerIDKey).(string)
	return id, ok && id != ""
}

// setCredential records which credential authenticated the request. Rate
// limiting counts per credential, not per owner.
func setCredential(ctx context.Context, credential string) context.Context {
	return context.WithValue(ctx, credentialKey, credential)
}

func getCredential(r *http.Request) (string, bool) {
	c, ok := r.Context().Value(credentialKey).(string)
	return c, ok
}

func SetScopes(ctx context.Context, scopes []string) context.Context {
	return context.WithValue(ctx, scopesKey, scopes)
}

func getScopes(r *http.Request) []string {
	scopes, _ := r.Context().Value(scopesKey).([]string)
	return scopes
}

// HasScope reports whether the authenticated credential carries scope.
func HasScope(r *http.Request, scope string) bool {
	for _, s := range getScopes(r) {
		if s == scope {
			return true
		}
	}
	return false
}

// ExportedCredentialKey returns the context key for the credential (for testing).
func ExportedCredentialKey() contextKey {
	return credentialKey
}
