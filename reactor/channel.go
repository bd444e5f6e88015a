// File: reactor/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Channel binds one descriptor to an event-interest mask and a pair of
// callback slots; it is the poller's unit of registration. A channel owns
// its descriptor for life and is never shared between descriptors. All
// methods must run on the owning reactor's thread.

package reactor

import (
	"sync/atomic"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
)

// channelSeq issues process-wide monotonically increasing channel ids.
var channelSeq int64

// Channel is the registration unit binding a descriptor to callbacks.
type Channel struct {
	base    *Reactor
	fd      int
	id      int64
	events  int
	readCB  api.Task
	writeCB api.Task
}

// NewChannel puts fd into non-blocking mode and registers it with the
// reactor's poller. Both failures are unrecoverable.
func NewChannel(base *Reactor, fd int, events int) *Channel {
	if err := unix.SetNonblock(fd, true); err != nil {
		panic("reactor: set non-blocking failed: " + err.Error())
	}
	ch := &Channel{
		base:   base,
		fd:     fd,
		id:     atomic.AddInt64(&channelSeq, 1),
		events: events,
	}
	base.poller.add(ch)
	logrus.WithFields(logrus.Fields{
		"channel": ch.id,
		"fd":      fd,
		"events":  events,
	}).Debug("channel registered")
	return ch
}

// Base returns the owning reactor.
func (ch *Channel) Base() *Reactor { return ch.base }

// Fd returns the descriptor, -1 once closed.
func (ch *Channel) Fd() int { return ch.fd }

// ID returns the channel's monotonic identity.
func (ch *Channel) ID() int64 { return ch.id }

// ReadEnabled reports whether read interest is armed.
func (ch *Channel) ReadEnabled() bool { return ch.events&EventRead != 0 }

// WriteEnabled reports whether write interest is armed.
func (ch *Channel) WriteEnabled() bool { return ch.events&EventWrite != 0 }

// OnRead installs the on-readable slot.
func (ch *Channel) OnRead(cb api.Task) { ch.readCB = cb }

// OnWrite installs the on-writable slot.
func (ch *Channel) OnWrite(cb api.Task) { ch.writeCB = cb }

// EnableRead arms or disarms read interest and re-syncs the poller.
func (ch *Channel) EnableRead(enable bool) {
	ch.setMask(enable, ch.WriteEnabled())
}

// EnableWrite arms or disarms write interest and re-syncs the poller.
func (ch *Channel) EnableWrite(enable bool) {
	ch.setMask(ch.ReadEnabled(), enable)
}

// EnableReadWrite sets both interests at once with a single poller update.
func (ch *Channel) EnableReadWrite(read, write bool) {
	ch.setMask(read, write)
}

func (ch *Channel) setMask(read, write bool) {
	if ch.fd < 0 {
		return
	}
	events := 0
	if read {
		events |= EventRead
	}
	if write {
		events |= EventWrite
	}
	if events == ch.events {
		return
	}
	ch.events = events
	ch.base.poller.update(ch)
}

// Close deregisters the channel, closes the descriptor and then invokes the
// on-readable slot one final time so the owner's read-completion logic can
// observe end-of-stream. Idempotent. The slot must tolerate a closed fd.
func (ch *Channel) Close() {
	if ch.fd < 0 {
		return
	}
	logrus.WithFields(logrus.Fields{
		"channel": ch.id,
		"fd":      ch.fd,
	}).Debug("channel closing")
	ch.base.poller.remove(ch)
	if err := unix.Close(ch.fd); err != nil {
		logrus.WithFields(logrus.Fields{
			"channel": ch.id,
			"fd":      ch.fd,
			"error":   err,
		}).Warn("channel close failed")
	}
	ch.fd = -1
	ch.handleRead()
}

// Closed reports whether the descriptor has been released.
func (ch *Channel) Closed() bool { return ch.fd < 0 }

// handleRead runs the on-readable slot; called by the poller and by Close.
func (ch *Channel) handleRead() {
	if ch.readCB != nil {
		ch.readCB()
	}
}

// handleWrite runs the on-writable slot; called by the poller.
func (ch *Channel) handleWrite() {
	if ch.writeCB != nil {
		ch.writeCB()
	}
}
