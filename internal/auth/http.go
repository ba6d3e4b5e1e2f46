// ABOUTME: HTTP middleware for the MCP bearer gate and registry admin auth
// ABOUTME: Extracts credentials from headers and adds the actor to the request context

package auth

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"
)

// extractBearerToken extracts a bearer token from the Authorization header.
// The scheme is matched case-insensitively. Returns the token and an error
// message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	const prefix = "bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", "invalid authorization header format"
	}
	token := authHeader[len(prefix):]
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// writeJSON writes a small JSON body with the given status.
func writeJSON(w http.ResponseWriter, status int, body map[string]string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// BearerGate protects the MCP endpoint. GET and HEAD pass through so clients
// can discover the server; every other method needs the MCP bearer token.
func BearerGate(verifier CredentialVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodGet || r.Method == http.MethodHead {
				next.ServeHTTP(w, r)
				return
			}

			token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
			if errMsg != "" || !verifier.Verify(token) {
				w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
				writeJSON(w, http.StatusUnauthorized, map[string]string{
					"error":             "invalid_token",
					"error_description": "Authentication required",
				})
				return
			}

			authCtx := &AuthContext{PrincipalID: MCPPrincipal, Method: MethodBearer}
			next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
		})
	}
}

// AdminMiddleware protects registry writes. It accepts an X-API-Key header
// matching apiKey, or a bearer JWT accepted by verifier. Either may be
// disabled by passing an empty key or a nil verifier.
func AdminMiddleware(apiKey string, verifier TokenVerifier) func(http.Handler) http.Handler {
	key := []byte(apiKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if authCtx := authenticateAdmin(r, key, verifier); authCtx != nil {
				next.ServeHTTP(w, r.WithContext(WithAuth(r.Context(), authCtx)))
				return
			}
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error": "Invalid or missing API key",
			})
		})
	}
}

func authenticateAdmin(r *http.Request, key []byte, verifier TokenVerifier) *AuthContext {
	if presented := r.Header.Get("X-API-Key"); presented != "" && len(key) > 0 {
		if subtle.ConstantTimeCompare([]byte(presented), key) == 1 {
			return &AuthContext{PrincipalID: "admin", Method: MethodAPIKey}
		}
		return nil
	}

	if verifier == nil {
		return nil
	}
	token, errMsg := extractBearerToken(r.Header.Get("Authorization"))
	if errMsg != "" {
		return nil
	}
	sub, err := verifier.Verify(token)
	if err != nil {
		return nil
	}
	return &AuthContext{PrincipalID: sub, Method: MethodJWT}
}
