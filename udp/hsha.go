// File: udp/hsha.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package udp

import (
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/concurrency"
	"github.com/momentics/hioload-net/reactor"
)

// RetMsgCallback processes one datagram on a worker thread and returns the
// reply, or nil for no reply.
type RetMsgCallback func(s *Server, msg []byte, from *unix.SockaddrInet4) []byte

// HSHA runs UDP message handlers on a worker pool; replies hop back to the
// server's reactor thread before being sent.
type HSHA struct {
	server *Server
	pool   *concurrency.ThreadPool
}

// NewHSHA binds host:port and starts numWorkers handler threads.
func NewHSHA(alloc reactor.Allocator, host string, port int, numWorkers int) (*HSHA, error) {
	s, err := NewServer(alloc, host, port, false)
	if err != nil {
		return nil, err
	}
	return &HSHA{
		server: s,
		pool:   concurrency.NewThreadPool(numWorkers, 0),
	}, nil
}

// Server exposes the underlying endpoint.
func (h *HSHA) Server() *Server { return h.server }

// OnMsg hands every datagram to the worker pool. The datagram and the sender
// address are copied before leaving the reactor thread.
func (h *HSHA) OnMsg(cb RetMsgCallback) {
	h.server.OnMsg(func(s *Server, msg []byte, from *unix.SockaddrInet4) {
		req := make([]byte, len(msg))
		copy(req, msg)
		peer := *from
		h.pool.AddTask(func() {
			resp := cb(s, req, &peer)
			if resp == nil {
				return
			}
			s.Base().SafeCall(func() { s.SendTo(resp, &peer) })
		})
	})
}

// Exit stops the endpoint and the worker pool, discarding queued requests.
func (h *HSHA) Exit() {
	h.server.Close()
	h.pool.Exit()
	h.pool.Join()
}
