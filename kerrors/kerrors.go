// Package kerrors collects the sentinel errors surfaced to callers of the
// node façade and iterative lookup, per spec §7.
package kerrors

import "errors"

var (
	// NotFound is returned when a requested id is not locally known and no
	// next hop towards it is available.
	NotFound = errors.New("kademlia: node not found")

	// Timeout is returned when a request elapsed without a correlated
	// response arriving.
	Timeout = errors.New("kademlia: request timed out")

	// TransportError is returned when the underlying socket send failed.
	TransportError = errors.New("kademlia: transport error")

	// Cancelled is returned when the caller's reply slot was dropped
	// before the request completed.
	Cancelled = errors.New("kademlia: request cancelled")
)
