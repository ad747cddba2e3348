// Package config handles configuration loading for codex-monitor-web.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file with environment
// variable expansion, layered over Default(). The launcher applies the
// environment and then its flags on top, so precedence is
// flags > environment > file > defaults.
//
// # Configuration File
//
// Locations (in order):
//
//  1. --config flag
//  2. Path from CODEX_MONITOR_WEB_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/codex-monitor-web/config.yaml (or .yml, .toml)
//
// A missing file at the default location is not an error.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	backend:
//	  token: "${CODEX_MONITOR_WEB_TOKEN}"
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	supervisor:
//	  ready_timeout: "180s"
//	  probe_interval: "300ms"
//	  grace_period: "5s"
//
// # Configuration Sections
//
// Backend daemon:
//
//	backend:
//	  listen: "127.0.0.1:4732"
//	  data_dir: "~/.local/share/codex-monitor-web"
//	  token: "secret"
//	  bin: "/opt/codex_monitor_web"
//	  source_dir: "/src/CodexMonitor"
//
// Frontend asset server:
//
//	frontend:
//	  command: "npx"
//	  args: ["vite", "preview"]
//	  host: "127.0.0.1"
//	  port: 4173
//
// Backend downloads:
//
//	download:
//	  skip: false
//	  cache_dir: "~/.cache/codex-monitor-web"
//	  release_base: "https://github.com/abigmiu/codex-monitor-webui/releases/download"
//
// RPC client used by `codex-monitor-web call`:
//
//	client:
//	  url: "http://127.0.0.1:4732"
//	  call_timeout: "30s"
//	  reconnect_delay: "1.2s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
package config
