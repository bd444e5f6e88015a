// File: internal/netutil/netutil.go
// Package netutil wraps the raw socket plumbing shared by the tcp and udp
// layers: IPv4 address resolution, sockaddr formatting and socket options.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package netutil

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// ResolveIPv4 resolves host (name, dotted quad, or "" for INADDR_ANY) and
// port into a connectable sockaddr.
func ResolveIPv4(host string, port int) (*unix.SockaddrInet4, error) {
	sa := &unix.SockaddrInet4{Port: port}
	if host == "" {
		return sa, nil
	}
	if ip := net.ParseIP(host); ip != nil {
		ip4 := ip.To4()
		if ip4 == nil {
			return nil, fmt.Errorf("netutil: %q is not an IPv4 address", host)
		}
		copy(sa.Addr[:], ip4)
		return sa, nil
	}
	ips, err := net.LookupIP(host)
	if err != nil {
		return nil, fmt.Errorf("netutil: resolve %q: %w", host, err)
	}
	for _, ip := range ips {
		if ip4 := ip.To4(); ip4 != nil {
			copy(sa.Addr[:], ip4)
			return sa, nil
		}
	}
	return nil, fmt.Errorf("netutil: no IPv4 address for %q", host)
}

// FormatSockaddr renders an IPv4 sockaddr as "a.b.c.d:port".
func FormatSockaddr(sa unix.Sockaddr) string {
	if v4, ok := sa.(*unix.SockaddrInet4); ok {
		return fmt.Sprintf("%d.%d.%d.%d:%d",
			v4.Addr[0], v4.Addr[1], v4.Addr[2], v4.Addr[3], v4.Port)
	}
	return "<non-ipv4>"
}

// LocalAddrString returns the formatted local address of fd.
func LocalAddrString(fd int) string {
	sa, err := unix.Getsockname(fd)
	if err != nil {
		return "<unknown>"
	}
	return FormatSockaddr(sa)
}

// SetReuseAddr enables SO_REUSEADDR so listeners rebind across restarts.
func SetReuseAddr(fd int) error {
	return unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
}

// SetNoDelay disables Nagle coalescing on a TCP socket.
func SetNoDelay(fd int) error {
	return unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
}

// NewSocket creates a non-blocking close-on-exec IPv4 socket of the given
// type (unix.SOCK_STREAM or unix.SOCK_DGRAM).
func NewSocket(sockType int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, sockType, 0)
	if err != nil {
		return -1, fmt.Errorf("netutil: socket: %w", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("netutil: set non-blocking: %w", err)
	}
	return fd, nil
}
