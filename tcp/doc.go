// File: tcp/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package tcp provides non-blocking TCP endpoints on top of the reactor:
// client connections with optional automatic reconnection, an accepting
// server that spreads connections across a reactor pool, message framing via
// pluggable codecs, and a half-sync/half-async adapter that offloads message
// handling to worker threads.
package tcp
