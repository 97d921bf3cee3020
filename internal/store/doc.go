// Package store defines the persistence collaborators of the calibration
// engine and the adaptive selector: response streams, the scale hierarchy,
// item pools and the context publisher. Implementations live under
// internal/platform.
package store
