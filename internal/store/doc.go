// Package store provides persistent storage for the extension registry using SQLite.
//
// # Architecture
//
// ExtensionStore is the narrow registry interface the hub depends on:
// list (ordered by name), get (nil when absent), upsert keyed on name, and an
// idempotent delete. Store adds Close for implementations that own a
// resource.
//
//   - SQLiteStore: modernc.org/sqlite backed, used by the server
//   - MockStore: in-memory, used by tests in other packages
//
// # Data Model
//
// Extension records carry the metadata an extension reports from GET /info
// (title, description, version, author, icon_url, homepage_url) plus the
// registry key (name) and base URL. Capabilities are never persisted; they
// are fetched live on every listing.
//
// Names are lowercase slugs (see ValidateExtensionName). URLs are stored
// without trailing slashes (see NormalizeURL) so "{url}/execute" is always
// well formed.
//
// # SQLite Configuration
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA busy_timeout=5000;
//
// The schema is created on open and column migrations are applied
// idempotently. Timestamps are stored as RFC3339 text.
package store
