// Package config loads the launcher configuration: defaults, then an optional YAML file,
// then HYBRID_LAUNCHER_* environment variables. Command-line flags are applied on top by the caller.
package config
