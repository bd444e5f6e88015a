// File: tcp/hsha.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// HSHA (half-sync/half-async) runs message handlers on a worker pool while
// the reactor threads stay non-blocking. Decoded messages are copied before
// leaving the reactor thread; replies hop back through SafeCall so every
// Send still happens on the connection's owner thread.

package tcp

import (
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/concurrency"
	"github.com/momentics/hioload-net/reactor"
)

// RetMsgCallback processes one request on a worker thread and returns the
// reply, or nil for no reply. It must not touch the connection's buffers.
type RetMsgCallback func(c *Conn, msg []byte) []byte

// HSHA couples a Server with a worker pool.
type HSHA struct {
	server *Server
	pool   *concurrency.ThreadPool
}

// NewHSHA listens on host:port and starts numWorkers handler threads with an
// unbounded task queue.
func NewHSHA(base *reactor.Reactor, alloc reactor.Allocator, host string, port int, numWorkers int) (*HSHA, error) {
	s, err := NewServer(base, alloc, host, port)
	if err != nil {
		return nil, err
	}
	return &HSHA{
		server: s,
		pool:   concurrency.NewThreadPool(numWorkers, 0),
	}, nil
}

// Server exposes the underlying listener for callback configuration.
func (h *HSHA) Server() *Server { return h.server }

// OnMsg installs the framer and hands every decoded message to the worker
// pool. The reply, when non-nil, is framed and sent from the owner thread.
func (h *HSHA) OnMsg(cdc api.Codec, cb RetMsgCallback) {
	h.server.OnConnMsg(cdc, func(c *Conn, msg []byte) {
		// msg aliases the input buffer; it is gone once this callback returns
		req := make([]byte, len(msg))
		copy(req, msg)
		ok := h.pool.AddTask(func() {
			resp := cb(c, req)
			if resp == nil {
				return
			}
			c.Base().SafeCall(func() {
				if err := c.SendMsg(resp); err != nil {
					logrus.WithFields(logrus.Fields{
						"peer":  c.PeerAddr(),
						"error": err,
					}).Warn("hsha reply dropped")
				}
			})
		})
		if !ok {
			logrus.WithField("peer", c.PeerAddr()).Warn("hsha worker pool rejected request")
		}
	})
}

// Exit stops the listener and the worker pool, discarding queued requests.
func (h *HSHA) Exit() {
	h.server.Close()
	h.pool.Exit()
	h.pool.Join()
}
