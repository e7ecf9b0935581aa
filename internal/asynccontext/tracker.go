// Package asynccontext issues stable identity tokens for AsyncContext and
// AsyncLocalStorage instances created inside an isolate.
//
// The actual propagation — snapshotting the active-value stack at every
// scheduling boundary (setTimeout, Promise continuations) and restoring it
// when the callback runs — happens entirely in JS (internal/webapi wraps
// setTimeout/setInterval and Promise.prototype.then; catch and finally go
// through then), since that's where the call stack and closures that make
// propagation possible actually live. This package gives each JS-side
// AsyncContext a Go-issued identity, stored on the instance as __id; log
// lines and RequestState do not record it.
package asynccontext

import "sync/atomic"

var nextID atomic.Uint64

// NextID returns a process-wide unique identity for a newly constructed
// AsyncContext or AsyncLocalStorage instance.
func NextID() uint64 {
	return nextID.Add(1)
}
