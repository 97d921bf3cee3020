// Package calibration turns stored responses into published contexts.
//
// A run loads every response of a scale and its sub-scales, hands them to
// the model strategy together with the parameters of the active context,
// and publishes the outcome as a new context with a compare-and-swap on
// the scale's active pointer. A run that loses the swap, or is cancelled
// before it publishes, leaves no trace. Manual overrides and rollbacks
// also produce or reactivate contexts; no context is ever changed in place.
package calibration
