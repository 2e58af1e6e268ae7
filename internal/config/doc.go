// Package config loads runtime configuration for the chaincache CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file selected with -c or --config.
//  3. Environment variables prefixed with CHAINCACHE_.
//  4. Command-line flags, applied by the CLI after Load returns.
//
// # JSON schema
//
// Durations are either strings like "15m" or integer nanoseconds:
//
//	{
//	  "db_path": "chaincache.db",
//	  "log_format": "json",
//	  "log_level": "debug",
//	  "default_ttl": "15m",
//	  "sweep_interval": "1m",
//	  "fixture_path": "chain.json",
//	  "retry_attempts": 3
//	}
package config
