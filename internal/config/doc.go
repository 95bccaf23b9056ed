// Package config loads UniScout configuration.
//
// Values are resolved in order: built-in baseline, optional YAML file,
// UNISCOUT_* environment overrides. The result is validated before use.
package config
