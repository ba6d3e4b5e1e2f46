// Package mcp exposes the hub's tools over the Model Context Protocol.
//
// # Endpoint
//
//   - GET/HEAD /mcp returns a small JSON descriptor (name, description,
//     protocolVersion) without authentication, for client discovery.
//   - POST /mcp carries one JSON-RPC message or a batch and requires
//     Authorization: Bearer <mcp_token>.
//   - Anything else is 405.
//
// # Session Bridge
//
// The server is stateless. Each POST gets its own engine (an mcp.Server
// from the official go-sdk) connected to a requestTransport, an in-process
// channel pair that lives for that one request:
//
//	decode body -> build transport + engine -> start engine goroutine
//	  -> wait for ready -> push messages -> collect one response per call ID
//	  -> write JSON -> cancel, close session, wait for the goroutine
//
// Messages are never pushed before the engine has signalled ready, so
// concurrent requests cannot race a half-started engine. The handshake is
// preset the way a stateless server presets it, so a bare tools/call works.
// If the engine stops before answering, or the exchange outlives its
// timeout, the missing IDs get a JSON-RPC internal error (-32603). A batch
// with no calls answers 202, and a batch that repeats a call ID is rejected
// with -32600 because answers are matched to calls by ID.
//
// Tool handlers run with a context tied to the HTTP request and to the
// exchange: a client that disconnects, or an exchange that times out,
// cancels any extension call still in flight.
package mcp
