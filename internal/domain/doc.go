// Package domain contains the core entities of the calibration engine and the
// adaptive test loop: response records, item and person parameters, contexts,
// scales and attempt state. It is independent of any storage or transport.
package domain
