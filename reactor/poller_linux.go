//go:build linux
// +build linux

// File: reactor/poller_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll(7) poller. Level-triggered: the tcp layer drains sockets to
// EAGAIN on every callback, so edge-triggered wakeup coalescing buys nothing
// here and would complicate the write path.

package reactor

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

type epollPoller struct {
	epfd int

	// registration slots; a slot removed mid-batch makes the in-flight
	// event dispatch skip that fd instead of touching a dead channel
	mu       sync.Mutex
	channels map[int32]*Channel

	events []unix.EpollEvent
}

// newPoller creates the platform poller. Failure is unrecoverable.
func newPoller() poller {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		panic("reactor: epoll_create1 failed: " + err.Error())
	}
	logrus.WithField("epoll_fd", epfd).Debug("poller created")
	return &epollPoller{
		epfd:     epfd,
		channels: make(map[int32]*Channel),
		events:   make([]unix.EpollEvent, maxPollEvents),
	}
}

func epollMask(ch *Channel) uint32 {
	var m uint32
	if ch.ReadEnabled() {
		m |= unix.EPOLLIN
	}
	if ch.WriteEnabled() {
		m |= unix.EPOLLOUT
	}
	return m
}

func (p *epollPoller) add(ch *Channel) {
	ev := unix.EpollEvent{Events: epollMask(ch), Fd: int32(ch.Fd())}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_ADD, ch.Fd(), &ev); err != nil {
		panic("reactor: epoll_ctl(ADD) failed: " + err.Error())
	}
	p.mu.Lock()
	p.channels[int32(ch.Fd())] = ch
	p.mu.Unlock()
}

func (p *epollPoller) remove(ch *Channel) {
	p.mu.Lock()
	delete(p.channels, int32(ch.Fd()))
	p.mu.Unlock()
	// the fd leaves the epoll set automatically once closed; an explicit
	// DEL can fail if close raced ahead, which is fine
	_ = unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, ch.Fd(), nil)
}

func (p *epollPoller) update(ch *Channel) {
	ev := unix.EpollEvent{Events: epollMask(ch), Fd: int32(ch.Fd())}
	if err := unix.EpollCtl(p.epfd, unix.EPOLL_CTL_MOD, ch.Fd(), &ev); err != nil {
		panic("reactor: epoll_ctl(MOD) failed: " + err.Error())
	}
}

func (p *epollPoller) loopOnce(waitMs int) int {
	n, err := unix.EpollWait(p.epfd, p.events, waitMs)
	if err != nil {
		if err == unix.EINTR {
			return 0
		}
		panic("reactor: epoll_wait failed: " + err.Error())
	}
	for i := n - 1; i >= 0; i-- {
		ev := p.events[i]
		p.mu.Lock()
		ch := p.channels[ev.Fd]
		p.mu.Unlock()
		if ch == nil {
			continue // removed mid-batch
		}
		if ev.Events&(unix.EPOLLIN|unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ch.handleRead()
		} else if ev.Events&unix.EPOLLOUT != 0 {
			ch.handleWrite()
		} else {
			logrus.WithFields(logrus.Fields{
				"fd":     ev.Fd,
				"events": ev.Events,
			}).Error("poller: unexpected epoll event")
		}
	}
	return n
}

func (p *epollPoller) close() {
	_ = unix.Close(p.epfd)
}
