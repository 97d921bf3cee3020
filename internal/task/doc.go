// Package task runs calibrations in the background. Requests are queued on
// a bounded in-memory queue and executed by a fixed pool of workers. A newer
// request for a scale supersedes the older one, cancelling it when it is
// already running.
package task
