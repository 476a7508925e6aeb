// Package config handles configuration loading for solipcord.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from SOLIPCORD_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/solipcord/gateway.yaml
//  3. ~/.config/solipcord/gateway.yaml
//
// Files ending in .toml are read as TOML; anything else is YAML.
// SOLIPCORD_DB_PATH overrides database.path.
//
// # Environment Variable Expansion
//
// Values can reference environment variables with ${VAR_NAME}:
//
//	tailscale:
//	  auth_key: "${TS_AUTHKEY}"
//
// Unset variables expand to the empty string.
//
// # Durations
//
// Duration values use time.ParseDuration syntax and must be positive:
//
//	stream:
//	  heartbeat_interval: "30s"
//	generation:
//	  retry_base_delay: "1s"
//	  retry_max_delay: "30s"
//	  timeout: "90s"
//
// # Generation
//
// backend selects "ollama" (requires model and ollama_url) or "scripted",
// which answers every message with a fixed self-introduction.
package config
