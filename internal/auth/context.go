// ABOUTME: Authentication context for tracking identity through request handlers
// ABOUTME: Provides WithAuth/FromContext for propagating auth info via context

package auth

import (
	"context"
)

// Authentication methods recorded on AuthContext.
const (
	MethodBearer = "bearer"  // static MCP token
	MethodAPIKey = "api_key" // X-API-Key header
	MethodJWT    = "jwt"     // signed admin token
)

// MCPPrincipal is the fixed identity given to clients holding the MCP token.
const MCPPrincipal = "mcp-client"

// AuthContext holds the authenticated identity extracted from a request.
type AuthContext struct {
	PrincipalID string // "mcp-client", "admin", or the JWT subject
	Method      string // one of the Method* constants
}

// authContextKey is the key type for storing AuthContext in context.Context.
type authContextKey struct{}

// WithAuth returns a new context with the AuthContext attached.
func WithAuth(ctx context.Context, auth *AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey{}, auth)
}

// FromContext retrieves the AuthContext from the context, returning nil if not present.
func FromContext(ctx context.Context) *AuthContext {
	val := ctx.Value(authContextKey{})
	if val == nil {
		return nil
	}
	auth, ok := val.(*AuthContext)
	if !ok {
		return nil
	}
	return auth
}
