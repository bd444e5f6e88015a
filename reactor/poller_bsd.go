//go:build darwin || dragonfly || freebsd || netbsd || openbsd
// +build darwin dragonfly freebsd netbsd openbsd

// File: reactor/poller_bsd.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// kqueue(2) poller for the BSD family. Read and write interest are separate
// kevent filters, so the poller tracks which filters are currently installed
// per channel and only issues the EV_ADD/EV_DELETE transitions that changed.

package reactor

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type kqueuePoller struct {
	kqfd int

	mu       sync.Mutex
	channels map[int32]*Channel
	// installed filters per fd: bit 0 read, bit 1 write
	filters map[int32]int

	events []unix.Kevent_t
}

// newPoller creates the platform poller. Failure is unrecoverable.
func newPoller() poller {
	kqfd, err := unix.Kqueue()
	if err != nil {
		panic("reactor: kqueue failed: " + err.Error())
	}
	logrus.WithField("kqueue_fd", kqfd).Debug("poller created")
	return &kqueuePoller{
		kqfd:     kqfd,
		channels: make(map[int32]*Channel),
		filters:  make(map[int32]int),
		events:   make([]unix.Kevent_t, maxPollEvents),
	}
}

// sync installs or removes the kevent filters so they match the channel's
// interest mask. Registration failure is unrecoverable.
func (p *kqueuePoller) sync(ch *Channel) {
	fd := int32(ch.Fd())
	p.mu.Lock()
	have := p.filters[fd]
	p.mu.Unlock()

	want := 0
	if ch.ReadEnabled() {
		want |= EventRead
	}
	if ch.WriteEnabled() {
		want |= EventWrite
	}

	var changes []unix.Kevent_t
	apply := func(bit int, filter int16) {
		switch {
		case want&bit != 0 && have&bit == 0:
			changes = append(changes, unix.Kevent_t{
				Ident:  uint64(fd),
				Filter: filter,
				Flags:  unix.EV_ADD | unix.EV_ENABLE,
			})
		case want&bit == 0 && have&bit != 0:
			changes = append(changes, unix.Kevent_t{
				Ident:  uint64(fd),
				Filter: filter,
				Flags:  unix.EV_DELETE,
			})
		}
	}
	apply(EventRead, unix.EVFILT_READ)
	apply(EventWrite, unix.EVFILT_WRITE)

	if len(changes) > 0 {
		ts := unix.Timespec{}
		if _, err := unix.Kevent(p.kqfd, changes, nil, &ts); err != nil {
			panic("reactor: kevent(change) failed: " + err.Error())
		}
	}
	p.mu.Lock()
	p.filters[fd] = want
	p.mu.Unlock()
}

func (p *kqueuePoller) add(ch *Channel) {
	p.mu.Lock()
	p.channels[int32(ch.Fd())] = ch
	p.mu.Unlock()
	p.sync(ch)
}

func (p *kqueuePoller) remove(ch *Channel) {
	fd := int32(ch.Fd())
	p.mu.Lock()
	delete(p.channels, fd)
	delete(p.filters, fd)
	p.mu.Unlock()
	// the fd leaves the kqueue automatically once closed
}

func (p *kqueuePoller) update(ch *Channel) {
	p.sync(ch)
}

func (p *kqueuePoller) loopOnce(waitMs int) int {
	var tsp *unix.Timespec
	if waitMs >= 0 {
		ts := unix.NsecToTimespec(int64(waitMs) * 1e6)
		tsp = &ts
	}
	n, err := unix.Kevent(p.kqfd, nil, p.events, tsp)
	if err != nil {
		if err == unix.EINTR {
			return 0
		}
		panic("reactor: kevent(wait) failed: " + err.Error())
	}
	for i := n - 1; i >= 0; i-- {
		ev := p.events[i]
		p.mu.Lock()
		ch := p.channels[int32(ev.Ident)]
		p.mu.Unlock()
		if ch == nil {
			continue // removed mid-batch
		}
		switch {
		case ev.Filter == unix.EVFILT_READ || ev.Flags&unix.EV_EOF != 0:
			ch.handleRead()
		case ev.Filter == unix.EVFILT_WRITE:
			ch.handleWrite()
		default:
			logrus.WithFields(logrus.Fields{
				"fd":     ev.Ident,
				"filter": ev.Filter,
			}).Error("poller: unexpected kevent")
		}
	}
	return n
}

func (p *kqueuePoller) close() {
	_ = unix.Close(p.kqfd)
}
