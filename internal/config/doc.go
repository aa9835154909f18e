// Package config loads, defaults, and validates the TOML configuration used
// by the kiln daemon and CLI. Paths are expanded (~ aware) during load, and a
// sample configuration can be written for new installs.
package config
