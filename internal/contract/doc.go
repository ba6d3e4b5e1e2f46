// Package contract holds tests that pin the externally visible shapes of
// jesseverse: the SQLite schema, the extension wire protocol and the MCP
// tool surface. It contains no production code.
package contract
