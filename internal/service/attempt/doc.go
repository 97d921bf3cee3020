// Package attempt hosts live adaptive attempts. Each attempt is bound at
// start to the active context of its scale and keeps using that context
// until it terminates, even when a newer one is published meanwhile.
// Attempt states live in memory; every scored answer is also appended to
// the response store so later calibrations can use it.
package attempt
