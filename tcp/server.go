// File: tcp/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server accepts TCP connections on one reactor and spreads the accepted
// connections across an Allocator (a single reactor or a Pool). The accept
// channel drains until EAGAIN so one readable event admits a whole burst.

package tcp

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/internal/netutil"
	"github.com/momentics/hioload-net/reactor"
)

// Server is a listening endpoint.
type Server struct {
	base  *reactor.Reactor
	alloc reactor.Allocator
	ch    *reactor.Channel
	addr  string

	createcb func() *Conn
	statecb  ConnCallback
	readcb   ConnCallback
	cdc      api.Codec
	msgcb    MsgCallback
}

// NewServer binds host:port ("" binds every interface) with SO_REUSEADDR and
// starts listening. base owns the acceptor channel; alloc picks the reactor
// for each accepted connection. Must run on base's loop thread (or before the
// loop starts).
func NewServer(base *reactor.Reactor, alloc reactor.Allocator, host string, port int) (*Server, error) {
	sa, err := netutil.ResolveIPv4(host, port)
	if err != nil {
		return nil, err
	}
	fd, err := netutil.NewSocket(unix.SOCK_STREAM)
	if err != nil {
		return nil, err
	}
	if err := netutil.SetReuseAddr(fd); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: set SO_REUSEADDR: %w", err)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: bind %s: %w", netutil.FormatSockaddr(sa), err)
	}
	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("tcp: listen %s: %w", netutil.FormatSockaddr(sa), err)
	}
	s := &Server{
		base:  base,
		alloc: alloc,
		addr:  netutil.LocalAddrString(fd),
	}
	s.ch = reactor.NewChannel(base, fd, reactor.EventRead)
	s.ch.OnRead(s.handleAccept)
	logrus.WithField("addr", s.addr).Info("server listening")
	return s, nil
}

// Addr returns the bound listening address as "ip:port".
func (s *Server) Addr() string { return s.addr }

// OnConnCreate installs a factory for accepted connections, letting callers
// substitute a pre-configured Conn. The factory runs on the acceptor thread.
func (s *Server) OnConnCreate(f func() *Conn) { s.createcb = f }

// OnConnState installs the state callback copied onto every accepted
// connection.
func (s *Server) OnConnState(cb ConnCallback) { s.statecb = cb }

// OnConnRead installs the raw read callback copied onto every accepted
// connection. Mutually exclusive with OnConnMsg.
func (s *Server) OnConnRead(cb ConnCallback) { s.readcb = cb }

// OnConnMsg installs a framer prototype and message callback copied onto
// every accepted connection; each connection decodes with its own clone.
// Mutually exclusive with OnConnRead.
func (s *Server) OnConnMsg(cdc api.Codec, cb MsgCallback) {
	s.cdc = cdc
	s.msgcb = cb
}

// Close stops accepting. Established connections are unaffected.
func (s *Server) Close() {
	if s.ch != nil && !s.ch.Closed() {
		s.ch.Close()
	}
}

// handleAccept admits every pending connection, handing each to its allocated
// reactor. Accept-time errors are logged and never stop the listener.
func (s *Server) handleAccept() {
	if s.ch.Closed() {
		return
	}
	for {
		fd, sa, err := unix.Accept(s.ch.Fd())
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
			}).Warn("accept failed")
			return
		}
		unix.CloseOnExec(fd)
		if err := netutil.SetNoDelay(fd); err != nil {
			logrus.WithField("error", err).Debug("TCP_NODELAY failed")
		}
		local := netutil.LocalAddrString(fd)
		peer := netutil.FormatSockaddr(sa)
		target := s.alloc.Alloc()
		c := s.newConn()
		if target == s.base {
			s.attachConn(c, target, fd, local, peer)
		} else {
			target.SafeCall(func() { s.attachConn(c, target, fd, local, peer) })
		}
	}
}

func (s *Server) newConn() *Conn {
	if s.createcb != nil {
		return s.createcb()
	}
	return NewConn()
}

// attachConn wires the server-level callbacks onto one accepted connection
// and binds it to its owning reactor. Runs on that reactor's thread.
func (s *Server) attachConn(c *Conn, base *reactor.Reactor, fd int, local, peer string) {
	if s.statecb != nil {
		c.OnState(s.statecb)
	}
	if s.msgcb != nil {
		c.OnMsg(s.cdc, s.msgcb)
	} else if s.readcb != nil {
		c.OnRead(s.readcb)
	}
	c.attach(base, fd, local, peer)
	// accepted sockets are readable-or-better already; complete the
	// handshake now instead of waiting for the first event
	c.handleHandshake()
}
