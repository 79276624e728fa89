// Package config loads, normalizes, and validates cropwatch configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, loads a .env file when present, and honours
// environment fallbacks such as CROPWATCH_SOURCE_URL and DATABASE_URL. The
// Config type centralizes every knob the daemon and CLI need: where snapshots
// come from, how often to poll, where dedup state lives, and which categories
// are enabled.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
