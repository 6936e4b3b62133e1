// Package config loads provable runtime settings from a YAML or JSON file,
// then applies PROVABLE_* environment overrides and defaults.
package config
