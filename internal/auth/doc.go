// Package auth provides authentication for jesseverse's HTTP surfaces.
//
// # MCP Bearer Gate
//
// The MCP endpoint is protected by a single static token (auth.mcp_token).
// BearerGate lets GET and HEAD through for discovery and requires
//
//	Authorization: Bearer <mcp_token>
//
// on everything else. Comparison is constant time. A failure answers 401
// with WWW-Authenticate: Bearer error="invalid_token".
//
// # Admin Auth
//
// Registry writes (register, delete, execute, refresh) go through
// AdminMiddleware, which accepts either:
//
//   - X-API-Key: the configured auth.api_key
//   - Authorization: Bearer <jwt>, an HS256 token signed with auth.jwt_secret
//     carrying aud "authenticated" and a non-empty sub
//
// Admin JWTs are minted with `jesseverse token --subject NAME`.
//
// # Context
//
// Successful authentication attaches an AuthContext retrievable with
// FromContext, used by handlers to log who did what.
package auth
