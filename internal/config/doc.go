// Package config loads application settings from defaults, an optional
// YAML file and SCRYCAT_ environment variables, and validates them before
// any component is built. Every numeric tunable of the estimator, the model
// strategy and the selector is injected from here; nothing reads globals.
package config
