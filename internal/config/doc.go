// Package config handles configuration loading for perch-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	auth:
//	  jwt_secret: "${PERCH_JWT_SECRET}"
//
// Syntax: ${VAR_NAME} or $VAR_NAME
//
// # Configuration Sections
//
// Server and database:
//
//	server:
//	  http_addr: "0.0.0.0:8080"
//	database:
//	  path: "/var/lib/perch/gateway.db"
//
// Authentication:
//
//	auth:
//	  jwt_secret: "${PERCH_JWT_SECRET}"
//
// Relay capacity:
//
//	relay:
//	  max_mobiles_per_user: 4
//
// Sessions and the agent runtime:
//
//	sessions:
//	  max_running_per_user: 5
//	  workspace_root: "/var/lib/perch/workspaces"
//	  default_model: "large"
//	runtime:
//	  command: "perch-agent"
//	  args: ["--output-format", "jsonl"]
//	  start_timeout: "30s"
//
// Tailscale:
//
//	tailscale:
//	  enabled: false
//	  hostname: "perch-gateway"
//	  auth_key: "${TS_AUTHKEY}"
//	  https: true
//	  funnel: false
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Usage
//
//	cfg, err := config.Load("/etc/perch/gateway.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
package config
