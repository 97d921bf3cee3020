// Package events decouples the components that trigger work from the ones
// that carry it out.
//
// The API emits CalibrationRequested events without knowing about the task
// scheduler; the calibration service emits ContextPublished events that
// let the attempt service drop its cached active context for the scale.
// Handlers receive every event and ignore the types they do not handle.
package events
