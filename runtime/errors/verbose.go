package errors

import "sync/atomic"

// verbose is the process-wide "verbose errors" flag (spec §5 "Global state",
// §7 "Verbosity"). It is set once at startup and read by AttachRaw. The
// provider adapters in features/providers do not call AttachRaw, so their
// errors carry no raw request/response bodies whatever the flag's value.
var verbose atomic.Bool

// SetVerbose sets the process-wide verbose-errors flag. Call once at
// startup; default is false.
func SetVerbose(v bool) { verbose.Store(v) }

// Verbose reports whether raw provider bodies should be attached to errors.
func Verbose() bool { return verbose.Load() }

// AttachRaw attaches raw request/response bodies to e only when Verbose is
// set, so adapters can call this unconditionally.
func AttachRaw(e *Error, rawRequest, rawResponse string) *Error {
	if e == nil || !Verbose() {
		return e
	}
	e.RawRequest = rawRequest
	e.RawResponse = rawResponse
	return e
}
