// File: reactor/poller.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Platform-neutral poller contract. Implementations live in
// poller_linux.go (epoll) and poller_bsd.go (kqueue).

package reactor

// Event interest mask bits carried by a Channel.
const (
	// EventRead requests readability notification.
	EventRead = 1 << 0
	// EventWrite requests writability notification.
	EventWrite = 1 << 1
)

// maxPollEvents bounds one readiness batch.
const maxPollEvents = 2000

// poller multiplexes readiness for a set of registered channels and
// dispatches their callback slots directly from loopOnce.
//
// Registration failures are unrecoverable: they indicate descriptor or
// resource exhaustion the caller cannot continue past, so add/update panic
// instead of returning an error. A channel removed mid-batch is skipped by
// the dispatch loop, never dereferenced.
type poller interface {
	add(ch *Channel)
	remove(ch *Channel)
	update(ch *Channel)
	// loopOnce blocks up to waitMs (-1 = forever), dispatches ready
	// channels (error/readable before writable) and returns the number of
	// readiness events seen. Signal interruption is retried transparently.
	loopOnce(waitMs int) int
	// close releases the poller descriptor.
	close()
}
