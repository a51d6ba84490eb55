// Package config loads, normalizes, and validates chorus configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// GLADIA_API_KEY and OPENAI_API_KEY. The Config type centralizes every knob
// the engine and CLI need, so staging directories and external service
// credentials are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
