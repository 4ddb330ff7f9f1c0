// Package auth handles client authentication and owner identity for the
// Studio MCP server.
package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/windriver/studio-mcp/internal/cache"
)

// Request headers carrying the caller identity.
const (
	HeaderUserID      = "X-Studio-User"
	HeaderOrgID       = "X-Studio-Org"
	HeaderEnvironment = "X-Studio-Env"
)

// Principal identifies the authenticated caller. Cached data is scoped to
// the principal so one caller never observes another caller's entries.
type Principal struct {
	UserID      string
	OrgID       string
	Environment string
}

// Owner converts the principal into a cache owner context.
func (p Principal) Owner() cache.Owner {
	return cache.NewOwner(p.UserID, p.OrgID, p.Environment)
}

// Authenticator validates incoming requests and resolves the caller identity.
type Authenticator interface {
	AuthenticateRequest(r *http.Request) (Principal, bool)
}

// KeyAuthenticator validates requests against a single configured API key.
// An empty key disables authentication (development mode): every request is
// accepted and identity is taken from the headers as-is.
type KeyAuthenticator struct {
	apiKey string
}

// NewKeyAuthenticator creates an authenticator for the given API key.
func NewKeyAuthenticator(apiKey string) *KeyAuthenticator {
	return &KeyAuthenticator{apiKey: apiKey}
}

// AuthenticateRequest checks the request credentials and, on success, returns
// the principal derived from the identity headers.
func (a *KeyAuthenticator) AuthenticateRequest(r *http.Request) (Principal, bool) {
	if a.apiKey == "" {
		return PrincipalFromHeaders(r), true
	}

	key := extractAPIKey(r)
	if key == "" {
		return Principal{}, false
	}
	if subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) != 1 {
		return Principal{}, false
	}

	return PrincipalFromHeaders(r), true
}

// extractAPIKey pulls the API key from the Authorization header, the
// X-API-Key header, or the token query parameter (for WebSocket connections
// from browsers), in that order.
func extractAPIKey(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		authHeader = r.Header.Get("X-API-Key")
	}
	if authHeader == "" {
		authHeader = r.URL.Query().Get("token")
	}
	if authHeader == "" {
		return ""
	}

	return strings.TrimPrefix(authHeader, "Bearer ")
}

// PrincipalFromHeaders reads the identity headers. Missing components fall
// back to the shared default owner scope.
func PrincipalFromHeaders(r *http.Request) Principal {
	return Principal{
		UserID:      r.Header.Get(HeaderUserID),
		OrgID:       r.Header.Get(HeaderOrgID),
		Environment: r.Header.Get(HeaderEnvironment),
	}
}

type contextKey struct{}

// WithPrincipal stores the principal on the context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// PrincipalFromContext returns the principal stored on the context, if any.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(Principal)
	return p, ok
}

// OwnerFromContext resolves the cache owner for the current request. Requests
// without an authenticated principal share the default owner scope.
func OwnerFromContext(ctx context.Context) cache.Owner {
	if p, ok := PrincipalFromContext(ctx); ok {
		return p.Owner()
	}
	return cache.DefaultOwner()
}
