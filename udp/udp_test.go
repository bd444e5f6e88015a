// File: udp/udp_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package udp_test

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-net/reactor"
	"github.com/momentics/hioload-net/udp"
)

func runLoop(r *reactor.Reactor) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		r.Loop()
		r.Close()
		close(done)
	}()
	return done
}

func TestServerEcho(t *testing.T) {
	r := reactor.New(0)
	s, err := udp.NewServer(r, "127.0.0.1", 0, false)
	require.NoError(t, err)
	s.OnMsg(func(s *udp.Server, msg []byte, from *unix.SockaddrInet4) {
		s.SendTo(msg, from)
	})
	done := runLoop(r)
	defer func() { r.Exit(); <-done }()

	conn, err := net.Dial("udp", s.Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("ping"))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(buf[:n]))
}

func TestConnSendReceive(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()
	port := peer.LocalAddr().(*net.UDPAddr).Port

	r := reactor.New(0)
	c, err := udp.Dial(r, "127.0.0.1", port)
	require.NoError(t, err)
	got := make(chan string, 1)
	c.OnMsg(func(c *udp.Conn, msg []byte) { got <- string(msg) })
	done := runLoop(r)
	defer func() { r.Exit(); <-done }()

	r.SafeCall(func() { c.Send([]byte("hello")) })

	peer.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, from, err := peer.ReadFromUDP(buf)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(buf[:n]))

	_, err = peer.WriteToUDP([]byte("world"), from)
	require.NoError(t, err)
	select {
	case msg := <-got:
		assert.Equal(t, "world", msg)
	case <-time.After(2 * time.Second):
		t.Fatal("reply never arrived")
	}
	c.Close()
}

func TestConnContext(t *testing.T) {
	peer, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	defer peer.Close()

	r := reactor.New(0)
	c, err := udp.Dial(r, "127.0.0.1", peer.LocalAddr().(*net.UDPAddr).Port)
	require.NoError(t, err)
	c.SetContext("session")
	assert.Equal(t, "session", c.Context())

	done := runLoop(r)
	c.Close()
	r.Exit()
	<-done
}

func TestHSHAEcho(t *testing.T) {
	r := reactor.New(0)
	h, err := udp.NewHSHA(r, "127.0.0.1", 0, 2)
	require.NoError(t, err)
	h.OnMsg(func(s *udp.Server, msg []byte, from *unix.SockaddrInet4) []byte {
		return append([]byte("echo:"), msg...)
	})
	done := runLoop(r)
	defer func() {
		h.Exit()
		r.Exit()
		<-done
	}()

	conn, err := net.Dial("udp", h.Server().Addr())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("work"))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 64)
	n, err := conn.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "echo:work", string(buf[:n]))
}
