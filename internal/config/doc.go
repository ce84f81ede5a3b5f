// Package config loads graffiti server configuration.
//
// Configuration is layered: built-in defaults, then an optional YAML file
// validated against an embedded CUE schema, then environment variables,
// then command-line flags (applied by the CLI). Validate runs last, on the
// merged result.
package config
