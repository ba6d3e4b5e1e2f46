// Package config handles configuration loading for jesseverse.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment variable
// expansion. Files ending in .toml are decoded as TOML; anything else is YAML.
// Unset extension timings fall back to the defaults exported by this package.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from JESSEVERSE_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/jesseverse/config.yaml
//  3. ~/.config/jesseverse/config.yaml
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  mcp_token: "${JESSEVERSE_MCP_TOKEN}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//
//	database:
//	  path: "/var/lib/jesseverse/hub.db"
//
//	auth:
//	  mcp_token: "${JESSEVERSE_MCP_TOKEN}"  # required, bearer token for POST /mcp
//	  api_key: "${JESSEVERSE_API_KEY}"      # X-API-Key for registry writes
//	  jwt_secret: ""                         # optional HS256 admin tokens
//
//	extensions:
//	  info_timeout: "10s"
//	  capabilities_timeout: "10s"
//	  execute_timeout: "30s"
//	  max_concurrency: 8
//	  refresh_schedule: "@every 1h"          # empty disables metadata refresh
//
//	tailscale:
//	  enabled: false
//	  hostname: "jesseverse"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// JESSEVERSE_DB_PATH overrides database.path when set.
package config
