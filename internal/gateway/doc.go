// Package gateway orchestrates the jesseverse server components.
//
// # Overview
//
// The gateway package is the central coordinator of the jesseverse server.
// It owns the extension registry, the extension client, the MCP endpoint,
// the REST registry API, the metadata refresher and the HTML dashboard, and
// serves them all from one HTTP listener.
//
// # HTTP Surface
//
// Public:
//
//   - GET /health - Liveness check
//   - GET /api/health - JSON liveness check
//   - GET /api/extensions - List registered extensions
//   - GET /api/extensions/{name} - One extension
//   - GET /api/extensions/{name}/capabilities - Live capabilities
//   - GET /api/extensions/register?url= - Preview an extension without storing it
//   - GET /api/extensions/probe?url= - Reachability report
//   - GET /api/protocol/schema - JSON Schema for /info and /capabilities
//   - GET / and GET /extensions/{name} - Dashboard
//   - GET /mcp - MCP server descriptor
//
// Bearer token (auth.mcp_token):
//
//   - POST /mcp - MCP JSON-RPC
//
// Admin (X-API-Key or admin JWT):
//
//   - POST /api/extensions - Register or replace an extension
//   - DELETE /api/extensions/{name} - Remove an extension
//   - POST /api/extensions/{name}/execute - Run an action directly
//   - POST /api/extensions/refresh - Re-read /info for every extension
//
// # Registration
//
// Registration validates the name and URL, then fetches /info and
// /capabilities and checks both against the protocol schemas. An extension
// that cannot be reached answers 502; one that answers with a body that
// breaks the protocol answers 422. Nothing is stored unless both pass.
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := context.WithCancel(context.Background())
//	go gw.Run(ctx)
//
//	cancel() // Run shuts down with a 5s grace period
package gateway
