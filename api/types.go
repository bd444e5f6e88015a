// File: api/types.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared contracts consumed across the reactor, tcp and udp packages.

package api

// Task is a unit of deferred work executed on a reactor or worker thread.
type Task func()

// ConnState is the lifecycle state of a TCP connection.
type ConnState int32

const (
	// StateInvalid is the zero state before the first connect or attach.
	StateInvalid ConnState = iota + 1
	// StateHandshaking covers the window between issuing a connect (or
	// accepting) and confirming the socket is usable.
	StateHandshaking
	// StateConnected means the socket is established and readable/writable.
	StateConnected
	// StateClosed is the terminal state of a connection that was established.
	StateClosed
	// StateFailed is the terminal state of a connection that never completed
	// its handshake.
	StateFailed
)

// String returns the state name for diagnostics.
func (s ConnState) String() string {
	switch s {
	case StateInvalid:
		return "Invalid"
	case StateHandshaking:
		return "HandShaking"
	case StateConnected:
		return "Connected"
	case StateClosed:
		return "Closed"
	case StateFailed:
		return "Failed"
	}
	return "Unknown"
}
