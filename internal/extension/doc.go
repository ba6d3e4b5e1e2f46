// Package extension implements the client side of the extension HTTP contract.
//
// An extension is any HTTP service answering three calls relative to its
// base URL:
//
//	GET  /info          metadata: title, description, version (semver)
//	GET  /capabilities  JSON array of actions with their parameters
//	POST /execute       {"action": ..., "parameters": {...}}
//	                    -> {"success": bool, "data": any, "error": string}
//
// Client performs these calls with a separate timeout per call kind and
// never retries. Every failure surfaces as a *CallError so callers can tell
// an unreachable extension from one that answered badly (ErrInvalidInfo,
// ErrProtocolViolation).
//
// Validator holds the JSON Schema documents for /info and /capabilities,
// reflected from the Go wire types, and validates raw bodies before an
// extension is admitted to the registry.
package extension
