// Package audit carries security audit events from the trust-core services to
// a pluggable [Sink].
//
// A [Dispatcher] buffers events and delivers them on one goroutine. Sink
// panics are recovered and counted; they never reach the audited operation.
// Which events exist and what they carry is decided by the caller.
package audit
