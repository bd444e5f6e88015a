// File: udp/udp.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Datagram endpoints. UDP needs no handshake, state machine or output
// buffering, so both the server and the connected client are thin channel
// wrappers: one readable event drains every pending datagram and hands each
// to the message callback as a discrete unit.

package udp

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/internal/netutil"
	"github.com/momentics/hioload-net/reactor"
)

// MaxPacketSize is the largest datagram either endpoint will receive.
const MaxPacketSize = 4096

// ServerMsgCallback receives one datagram. msg is only valid for the
// duration of the call; from aliases a reusable sockaddr.
type ServerMsgCallback func(s *Server, msg []byte, from *unix.SockaddrInet4)

// Server is a bound UDP endpoint spread across an allocator's reactor.
type Server struct {
	base  *reactor.Reactor
	ch    *reactor.Channel
	addr  string
	msgcb ServerMsgCallback
	buf   []byte
}

// NewServer binds host:port ("" binds every interface) with SO_REUSEADDR and
// optionally SO_REUSEPORT. Must run before the allocated reactor's loop
// starts, or on its thread.
func NewServer(alloc reactor.Allocator, host string, port int, reusePort bool) (*Server, error) {
	sa, err := netutil.ResolveIPv4(host, port)
	if err != nil {
		return nil, err
	}
	fd, err := netutil.NewSocket(unix.SOCK_DGRAM)
	if err != nil {
		return nil, err
	}
	if err := netutil.SetReuseAddr(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("udp: set SO_REUSEADDR: %w", err)
	}
	if reusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("udp: set SO_REUSEPORT: %w", err)
		}
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("udp: bind %s: %w", netutil.FormatSockaddr(sa), err)
	}
	s := &Server{
		base: alloc.Alloc(),
		addr: netutil.LocalAddrString(fd),
		buf:  make([]byte, MaxPacketSize),
	}
	s.ch = reactor.NewChannel(s.base, fd, reactor.EventRead)
	s.ch.OnRead(s.handleRead)
	logrus.WithField("addr", s.addr).Info("udp server listening")
	return s, nil
}

// Base returns the reactor owning the server channel.
func (s *Server) Base() *reactor.Reactor { return s.base }

// Addr returns the bound address as "ip:port".
func (s *Server) Addr() string { return s.addr }

// OnMsg installs the per-datagram callback.
func (s *Server) OnMsg(cb ServerMsgCallback) { s.msgcb = cb }

// SendTo writes one datagram to addr. Datagrams are never buffered; a full
// socket queue drops the packet, which is the UDP contract anyway.
// Owner-thread only; from another thread post through SafeCall.
func (s *Server) SendTo(msg []byte, addr *unix.SockaddrInet4) {
	if s.ch == nil || s.ch.Closed() {
		logrus.WithField("addr", s.addr).Warn("udp send on closed server dropped")
		return
	}
	if err := unix.Sendto(s.ch.Fd(), msg, 0, addr); err != nil {
		logrus.WithFields(logrus.Fields{
			"addr":  s.addr,
			"to":    netutil.FormatSockaddr(addr),
			"error": err,
		}).Warn("udp sendto failed")
	}
}

// Close releases the socket from any thread.
func (s *Server) Close() {
	s.base.SafeCall(func() {
		if s.ch != nil && !s.ch.Closed() {
			s.ch.Close()
		}
	})
}

func (s *Server) handleRead() {
	if s.ch.Closed() {
		return
	}
	for {
		n, from, err := unix.Recvfrom(s.ch.Fd(), s.buf, 0)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"addr":  s.addr,
				"error": err,
			}).Warn("udp recvfrom failed")
			return
		}
		v4, ok := from.(*unix.SockaddrInet4)
		if !ok {
			continue
		}
		if s.msgcb != nil {
			s.msgcb(s, s.buf[:n], v4)
		}
	}
}

// ConnMsgCallback receives one datagram on a connected client socket.
type ConnMsgCallback func(c *Conn, msg []byte)

// Conn is a connected client socket: Send writes to the fixed peer, received
// datagrams arrive through the message callback.
type Conn struct {
	base  *reactor.Reactor
	ch    *reactor.Channel
	peer  string
	msgcb ConnMsgCallback
	buf   []byte

	ctxMu sync.Mutex
	ctx   any
}

// Dial creates a connected UDP socket to host:port on the given reactor.
func Dial(base *reactor.Reactor, host string, port int) (*Conn, error) {
	sa, err := netutil.ResolveIPv4(host, port)
	if err != nil {
		return nil, err
	}
	fd, err := netutil.NewSocket(unix.SOCK_DGRAM)
	if err != nil {
		return nil, err
	}
	if err := unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return nil, fmt.Errorf("udp: connect %s: %w", netutil.FormatSockaddr(sa), err)
	}
	c := &Conn{
		base: base,
		peer: netutil.FormatSockaddr(sa),
		buf:  make([]byte, MaxPacketSize),
	}
	c.ch = reactor.NewChannel(base, fd, reactor.EventRead)
	c.ch.OnRead(c.handleRead)
	logrus.WithField("peer", c.peer).Debug("udp connection created")
	return c, nil
}

// Base returns the owning reactor.
func (c *Conn) Base() *reactor.Reactor { return c.base }

// PeerAddr returns the fixed peer address as "ip:port".
func (c *Conn) PeerAddr() string { return c.peer }

// OnMsg installs the per-datagram callback.
func (c *Conn) OnMsg(cb ConnMsgCallback) { c.msgcb = cb }

// SetContext attaches an application value. Safe from any thread.
func (c *Conn) SetContext(v any) {
	c.ctxMu.Lock()
	c.ctx = v
	c.ctxMu.Unlock()
}

// Context returns the attached application value. Safe from any thread.
func (c *Conn) Context() any {
	c.ctxMu.Lock()
	defer c.ctxMu.Unlock()
	return c.ctx
}

// Send writes one datagram to the peer. Owner-thread only.
func (c *Conn) Send(msg []byte) {
	if c.ch == nil || c.ch.Closed() {
		logrus.WithField("peer", c.peer).Warn("udp send on closed connection dropped")
		return
	}
	if _, err := unix.Write(c.ch.Fd(), msg); err != nil {
		logrus.WithFields(logrus.Fields{
			"peer":  c.peer,
			"error": err,
		}).Warn("udp send failed")
	}
}

// Close releases the socket from any thread.
func (c *Conn) Close() {
	c.base.SafeCall(func() {
		if c.ch != nil && !c.ch.Closed() {
			c.ch.Close()
		}
	})
}

func (c *Conn) handleRead() {
	if c.ch.Closed() {
		return
	}
	for {
		n, err := unix.Read(c.ch.Fd(), c.buf)
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			return
		}
		if err != nil || n < 0 {
			logrus.WithFields(logrus.Fields{
				"peer":  c.peer,
				"error": err,
			}).Warn("udp read failed")
			return
		}
		if c.msgcb != nil {
			c.msgcb(c, c.buf[:n])
		}
	}
}
