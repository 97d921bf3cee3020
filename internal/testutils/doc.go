// Package testutils provides helpers shared by tests across packages:
// deterministic response simulation from known item parameters and an
// in-memory slog handler for asserting on log output.
package testutils
