// Package api serves the HTTP interface: attempts, calibration triggers
// and context management. Handlers translate requests into service calls
// and map service errors to status codes without leaking internals.
package api
