// Package config loads, normalizes, and validates storybook configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// FACESWAP_API_KEY and STYLIZE_API_KEY. The Config type centralizes every knob
// the daemon, the pipeline, and the CLI need so provider credentials and job
// directories are discovered in one pass.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
