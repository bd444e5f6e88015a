// File: tcp/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Conn is the TCP connection state machine:
//
//	Invalid -> HandShaking -> Connected -> {Closed | Failed}
//
// with Closed/Failed -> HandShaking permitted only through the reconnect
// path. All I/O callback bodies execute on the owning reactor's thread; a
// few fields (state, channel presence, callback slots, reconnect interval)
// are lock-guarded because other threads query or mutate them directly.
// Closures dispatched through the reactor capture the *Conn, which keeps
// the connection alive while callbacks are outstanding.

package tcp

import (
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
	"github.com/momentics/hioload-net/internal/netutil"
	"github.com/momentics/hioload-net/reactor"
)

// ConnCallback observes a connection event (state change, readable input,
// output drained).
type ConnCallback func(*Conn)

// MsgCallback receives one decoded message. msg aliases the input buffer and
// is valid only for the duration of the call; copy it to keep it.
type MsgCallback func(c *Conn, msg []byte)

// Conn is one TCP connection owned by one reactor.
type Conn struct {
	base *reactor.Reactor

	chMu sync.Mutex
	ch   *reactor.Channel

	input  *buffer.Buffer
	output *buffer.Buffer

	local string
	peer  string

	stateMu sync.Mutex
	state   api.ConnState

	cbMu    sync.Mutex
	statecb ConnCallback
	readcb  ConnCallback
	writecb ConnCallback

	cdc   api.Codec
	msgcb MsgCallback

	idleIDs   []reactor.IdleID
	timeoutID reactor.TimerID

	ctxMu sync.Mutex
	ctx   any

	destHost         string
	destPort         int
	localIP          string
	connectTimeoutMs int64

	intervalMu          sync.Mutex
	reconnectIntervalMs int64 // negative disables reconnection

	connectedTime int64 // unix ms of the last successful connect attempt
}

// NewConn returns a connection in the Invalid state with reconnection
// disabled. Use Connect for the client path or let a Server attach it.
func NewConn() *Conn {
	return &Conn{
		input:               buffer.New(),
		output:              buffer.New(),
		state:               api.StateInvalid,
		reconnectIntervalMs: -1,
	}
}

// Connect creates a client connection and starts a non-blocking connect to
// host:port. timeoutMs > 0 arms a connect timeout; localIP optionally binds
// the local end. The outcome surfaces through the state callback only.
// Must run on base's loop thread (or before the loop starts).
func Connect(base *reactor.Reactor, host string, port int, timeoutMs int64, localIP string) *Conn {
	c := NewConn()
	c.connect(base, host, port, timeoutMs, localIP)
	return c
}

// Attach builds a server-side connection from an accepted descriptor.
// Must run on base's loop thread.
func Attach(base *reactor.Reactor, fd int, local, peer string) *Conn {
	c := NewConn()
	c.attach(base, fd, local, peer)
	return c
}

// Base returns the owning reactor (nil before the first connect/attach).
func (c *Conn) Base() *reactor.Reactor { return c.base }

// LocalAddr returns the bound local address as "ip:port".
func (c *Conn) LocalAddr() string { return c.local }

// PeerAddr returns the remote address as "ip:port".
func (c *Conn) PeerAddr() string { return c.peer }

// IsClient reports whether this connection was created via Connect.
func (c *Conn) IsClient() bool { return c.destPort > 0 }

// Input exposes the input buffer; owner-thread only.
func (c *Conn) Input() *buffer.Buffer { return c.input }

// Output exposes the output buffer; owner-thread only.
func (c *Conn) Output() *buffer.Buffer { return c.output }

// State returns the connection state. Safe from any thread.
func (c *Conn) State() api.ConnState {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()
	return c.state
}

func (c *Conn) setState(s api.ConnState) {
	c.stateMu.Lock()
	c.state = s
	c.stateMu.Unlock()
}

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

// SetReconnectInterval enables client reconnection with the given minimum
// spacing between connect attempts in milliseconds (0 reconnects
// immediately); a negative value disables it. Safe from any thread.
func (c *Conn) SetReconnectInterval(ms int64) {
	c.intervalMu.Lock()
	c.reconnectIntervalMs = ms
	c.intervalMu.Unlock()
}

func (c *Conn) reconnectInterval() int64 {
	c.intervalMu.Lock()
	defer c.intervalMu.Unlock()
	return c.reconnectIntervalMs
}

// OnState installs the state callback, invoked on every transition to
// Connected, Closed or Failed.
func (c *Conn) OnState(cb ConnCallback) {
	c.cbMu.Lock()
	c.statecb = cb
	c.cbMu.Unlock()
}

// OnRead installs a raw read callback invoked whenever buffered input is
// flushed. Mutually exclusive with OnMsg.
func (c *Conn) OnRead(cb ConnCallback) {
	c.cbMu.Lock()
	defer c.cbMu.Unlock()
	if c.readcb != nil {
		panic("tcp: read callback already installed")
	}
	c.readcb = cb
}

// OnWrite installs the write-completion callback, invoked each time the
// output buffer drains.
func (c *Conn) OnWrite(cb ConnCallback) {
	c.cbMu.Lock()
	c.writecb = cb
	c.cbMu.Unlock()
}

// OnMsg installs a framer and a message callback. Decoded messages are
// delivered in wire order; a framer-reported protocol error closes the
// connection. Mutually exclusive with OnRead.
func (c *Conn) OnMsg(cdc api.Codec, cb MsgCallback) {
	c.cbMu.Lock()
	if c.readcb != nil {
		c.cbMu.Unlock()
		panic("tcp: read callback already installed")
	}
	c.cdc = cdc.Clone()
	c.msgcb = cb
	c.readcb = c.decodeLoop
	c.cbMu.Unlock()
}

// AddIdleCB fires cb once the connection has been idle for the given number
// of seconds, and again on that cadence until the connection closes.
// Owner-thread only.
func (c *Conn) AddIdleCB(seconds int, cb ConnCallback) {
	id := c.base.RegisterIdle(seconds, func() { cb(c) })
	c.idleIDs = append(c.idleIDs, id)
}

// Send queues p for transmission. If nothing is pending the bytes are
// written immediately and only the unsent remainder is buffered with write
// interest armed. Output buffering is unbounded. Owner-thread only; from
// another thread post through SafeCall.
func (c *Conn) Send(p []byte) {
	ch := c.channel()
	if ch == nil || ch.Closed() {
		logrus.WithField("peer", c.peer).Warn("send on closed connection dropped")
		return
	}
	if !c.output.Empty() || ch.WriteEnabled() {
		// backpressure path: the pending flush keeps FIFO order
		c.output.Append(p)
		return
	}
	sent := c.writeSome(ch, p)
	if sent < len(p) {
		c.output.Append(p[sent:])
		ch.EnableWrite(true)
	}
}

// SendMsg frames msg with the codec installed by OnMsg and sends it.
func (c *Conn) SendMsg(msg []byte) error {
	c.cbMu.Lock()
	cdc := c.cdc
	c.cbMu.Unlock()
	if cdc == nil {
		panic("tcp: SendMsg without an installed codec")
	}
	out := buffer.New()
	if err := cdc.Encode(msg, out); err != nil {
		return err
	}
	c.Send(out.Data())
	return nil
}

// Close shuts the connection down from any thread. The actual teardown runs
// on the owning reactor's thread; the state callback observes Closed.
func (c *Conn) Close() {
	base := c.base
	if base == nil {
		return
	}
	base.SafeCall(func() {
		if ch := c.channel(); ch != nil && !ch.Closed() {
			ch.Close()
		}
	})
}

func (c *Conn) channel() *reactor.Channel {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	return c.ch
}

func (c *Conn) takeChannel() *reactor.Channel {
	c.chMu.Lock()
	defer c.chMu.Unlock()
	ch := c.ch
	c.ch = nil
	return ch
}

// connect runs one connect attempt against the stored or given destination.
func (c *Conn) connect(base *reactor.Reactor, host string, port int, timeoutMs int64, localIP string) {
	st := c.State()
	if st != api.StateInvalid && st != api.StateClosed && st != api.StateFailed {
		panic("tcp: connect from state " + st.String())
	}
	c.base = base
	c.destHost = host
	c.destPort = port
	c.localIP = localIP
	c.connectTimeoutMs = timeoutMs
	c.connectedTime = reactor.NowMillis()

	fd, err := netutil.NewSocket(unix.SOCK_STREAM)
	if err != nil {
		// descriptor exhaustion; callers cannot continue past this
		panic("tcp: create socket: " + err.Error())
	}
	if localIP != "" {
		lsa, lerr := netutil.ResolveIPv4(localIP, 0)
		if lerr != nil || unix.Bind(fd, lsa) != nil {
			logrus.WithFields(logrus.Fields{
				"local_ip": localIP,
				"error":    lerr,
			}).Error("bind local address failed")
			unix.Close(fd)
			c.failDial()
			return
		}
	}
	sa, err := netutil.ResolveIPv4(host, port)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"host":  host,
			"error": err,
		}).Error("resolve destination failed")
		unix.Close(fd)
		c.failDial()
		return
	}
	err = unix.Connect(fd, sa)
	if err != nil && err != unix.EINPROGRESS {
		// attach anyway; the handshake probe observes the socket error
		logrus.WithFields(logrus.Fields{
			"peer":  netutil.FormatSockaddr(sa),
			"error": err,
		}).Warn("connect issued with error")
	}
	local := netutil.LocalAddrString(fd)
	c.setState(api.StateHandshaking)
	c.attach(base, fd, local, netutil.FormatSockaddr(sa))

	if timeoutMs > 0 {
		c.timeoutID = base.RunAfter(timeoutMs, func() {
			if c.State() == api.StateHandshaking {
				logrus.WithField("peer", c.peer).Debug("connect timeout")
				if ch := c.channel(); ch != nil {
					ch.Close()
				}
			}
		}, 0)
	}
}

// failDial handles a connect attempt that never produced a descriptor:
// resolution or local-bind failure. The state callback fires exactly once
// and reconnection, when enabled, is scheduled as usual.
func (c *Conn) failDial() {
	c.setState(api.StateFailed)
	c.invokeStateCB()
	if c.reconnectInterval() >= 0 && !c.base.Exited() {
		c.scheduleReconnect(false)
	}
}

// attach binds an open descriptor to this connection: validates the prior
// state against the connection's role, builds a Channel with read and write
// interest, and installs the dispatch closures.
func (c *Conn) attach(base *reactor.Reactor, fd int, local, peer string) {
	st := c.State()
	if c.IsClient() {
		if st != api.StateHandshaking {
			panic("tcp: client attach from state " + st.String())
		}
	} else if st != api.StateInvalid {
		panic("tcp: server attach from state " + st.String())
	}
	c.base = base
	c.local = local
	c.peer = peer
	c.setState(api.StateHandshaking)

	ch := reactor.NewChannel(base, fd, reactor.EventRead|reactor.EventWrite)
	c.chMu.Lock()
	c.ch = ch
	c.chMu.Unlock()
	ch.OnRead(c.handleRead)
	ch.OnWrite(c.handleWrite)
	logrus.WithFields(logrus.Fields{
		"local": local,
		"peer":  peer,
		"fd":    fd,
	}).Debug("connection attached")
}

// handleHandshake probes the descriptor for writability without error and
// completes or fails the handshake. Reports whether the connection survived.
func (c *Conn) handleHandshake() bool {
	ch := c.channel()
	if ch == nil || ch.Closed() {
		c.cleanup()
		return false
	}
	fds := []unix.PollFd{{Fd: int32(ch.Fd()), Events: unix.POLLOUT | unix.POLLERR}}
	n, err := unix.Poll(fds, 0)
	if err == nil && n == 1 &&
		fds[0].Revents&(unix.POLLERR|unix.POLLHUP) == 0 &&
		fds[0].Revents&unix.POLLOUT != 0 {
		ch.EnableReadWrite(true, false)
		c.setState(api.StateConnected)
		c.connectedTime = reactor.NowMillis()
		c.cancelConnectTimeout()
		logrus.WithFields(logrus.Fields{
			"local": c.local,
			"peer":  c.peer,
		}).Debug("connection established")
		c.invokeStateCB()
		// bytes queued while handshaking wait for the first writable event
		if !c.output.Empty() && !ch.Closed() {
			ch.EnableWrite(true)
		}
		return true
	}
	logrus.WithFields(logrus.Fields{
		"peer":    c.peer,
		"revents": fds[0].Revents,
		"error":   err,
	}).Debug("handshake failed")
	c.cleanup()
	return false
}

// handleRead drains the socket until EAGAIN, then flushes buffered input
// through the read callback. EOF, a hard error or an already-invalid
// descriptor runs cleanup.
func (c *Conn) handleRead() {
	if c.State() == api.StateHandshaking && !c.handleHandshake() {
		return
	}
	for c.State() == api.StateConnected {
		ch := c.channel()
		if ch == nil || ch.Closed() {
			c.cleanup()
			return
		}
		space := c.input.MakeRoom(0)
		n, err := unix.Read(ch.Fd(), space)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.EAGAIN:
			c.refreshIdles()
			c.flushInput()
			return
		case n <= 0 || err != nil:
			c.cleanup()
			return
		default:
			c.input.AddSize(n)
		}
	}
}

// handleWrite re-runs the handshake check while handshaking, otherwise
// flushes the output buffer.
func (c *Conn) handleWrite() {
	st := c.State()
	if st == api.StateHandshaking {
		c.handleHandshake()
		return
	}
	if st != api.StateConnected {
		logrus.WithFields(logrus.Fields{
			"peer":  c.peer,
			"state": st.String(),
		}).Debug("writable event ignored")
		return
	}
	ch := c.channel()
	if ch == nil || ch.Closed() {
		return
	}
	sent := c.writeSome(ch, c.output.Data())
	c.output.Consume(sent)
	if c.output.Empty() {
		c.cbMu.Lock()
		writecb := c.writecb
		c.cbMu.Unlock()
		if writecb != nil {
			writecb(c)
		}
		// the callback may have queued more output
		if c.output.Empty() && ch.WriteEnabled() {
			ch.EnableWrite(false)
		}
	}
}

// writeSome writes as much of p as the socket accepts. EINTR retries, EAGAIN
// arms write interest and stops, any other error is logged and stops the
// attempt.
func (c *Conn) writeSome(ch *reactor.Channel, p []byte) int {
	sent := 0
	for sent < len(p) {
		n, err := unix.Write(ch.Fd(), p[sent:])
		if err == unix.EINTR {
			continue
		}
		if err == unix.EAGAIN {
			if !ch.WriteEnabled() {
				ch.EnableWrite(true)
			}
			break
		}
		if err != nil || n <= 0 {
			logrus.WithFields(logrus.Fields{
				"peer":  c.peer,
				"error": err,
			}).Warn("write failed")
			break
		}
		sent += n
	}
	return sent
}

// decodeLoop is the read-callback adapter installed by OnMsg.
func (c *Conn) decodeLoop(_ *Conn) {
	for {
		data := c.input.Data()
		if len(data) == 0 {
			return
		}
		msg, consumed, err := c.cdc.TryDecode(data)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"peer":  c.peer,
				"error": err,
			}).Warn("protocol error, closing connection")
			// the poisoned bytes must not reach the flush inside cleanup
			c.input.Clear()
			c.cleanup()
			return
		}
		if consumed == 0 {
			return
		}
		c.msgcb(c, msg)
		c.input.Consume(consumed)
	}
}

// flushInput hands buffered input to the read callback.
func (c *Conn) flushInput() {
	c.cbMu.Lock()
	readcb := c.readcb
	c.cbMu.Unlock()
	if readcb != nil && !c.input.Empty() {
		readcb(c)
	}
}

func (c *Conn) refreshIdles() {
	for _, id := range c.idleIDs {
		c.base.UpdateIdle(id)
	}
}

func (c *Conn) cancelConnectTimeout() {
	if c.timeoutID.Valid() {
		c.base.Cancel(c.timeoutID)
		c.timeoutID = reactor.TimerID{}
	}
}

func (c *Conn) invokeStateCB() {
	c.cbMu.Lock()
	statecb := c.statecb
	c.cbMu.Unlock()
	if statecb != nil {
		statecb(c)
	}
}

// cleanup runs the terminal transition: flush residual input, set Failed or
// Closed, cancel the connect timeout, notify the state callback exactly
// once, then either schedule a reconnect or tear the connection down.
func (c *Conn) cleanup() {
	st := c.State()
	if st != api.StateHandshaking && st != api.StateConnected {
		return // already terminal
	}
	c.flushInput()
	if c.State() != st {
		return // a nested cleanup finished the transition
	}
	if st == api.StateHandshaking {
		c.setState(api.StateFailed)
	} else {
		c.setState(api.StateClosed)
	}
	c.cancelConnectTimeout()
	logrus.WithFields(logrus.Fields{
		"local": c.local,
		"peer":  c.peer,
		"state": c.State().String(),
	}).Debug("connection terminated")
	c.invokeStateCB()

	if c.IsClient() && c.reconnectInterval() >= 0 && !c.base.Exited() {
		// the reconnect timer closure holds the connection until it fires
		c.scheduleReconnect(true)
		return
	}

	for _, id := range c.idleIDs {
		c.base.RemoveIdle(id)
	}
	c.idleIDs = nil
	c.cbMu.Lock()
	// break retained-closure cycles
	c.statecb = nil
	c.readcb = nil
	c.writecb = nil
	c.msgcb = nil
	c.cbMu.Unlock()
	if ch := c.takeChannel(); ch != nil {
		ch.Close()
	}
}

// scheduleReconnect arms the backoff timer for the next connect attempt and
// releases the dead channel immediately when one exists.
func (c *Conn) scheduleReconnect(releaseChannel bool) {
	interval := c.reconnectInterval()
	remaining := interval - (reactor.NowMillis() - c.connectedTime)
	if remaining < 0 {
		remaining = 0
	}
	c.input.Clear()
	c.output.Clear()
	c.base.RunAfter(remaining, func() {
		if !c.base.Exited() {
			c.connect(c.base, c.destHost, c.destPort, c.connectTimeoutMs, c.localIP)
		}
	}, 0)
	if releaseChannel {
		if ch := c.takeChannel(); ch != nil {
			ch.Close()
		}
	}
}
