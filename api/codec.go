// File: api/codec.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Message framing contract shared by the tcp layer and the codec package.

package api

import "github.com/momentics/hioload-net/core/buffer"

// Codec frames messages on a byte stream. Implementations are stateless with
// respect to the stream: TryDecode never consumes input itself, it reports how
// many bytes the caller should consume.
type Codec interface {
	// TryDecode inspects data for one complete message.
	// msg is valid only when consumed > 0 and aliases data; the caller must
	// use it before consuming. consumed == 0 with a nil error means more
	// bytes are needed. A non-nil error is a protocol violation and the
	// stream cannot continue.
	TryDecode(data []byte) (msg []byte, consumed int, err error)

	// Encode appends the framed representation of msg to out.
	Encode(msg []byte, out *buffer.Buffer) error

	// Clone returns an independent codec instance for per-connection use.
	Clone() Codec
}
