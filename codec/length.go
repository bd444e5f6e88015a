// File: codec/length.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Length-prefixed framer. Wire format:
//
//	["mBdT"][int32 big-endian payload length][payload]
//
// The payload length is capped (1 MiB by default) so a hostile peer cannot
// force an arbitrary allocation from an 8-byte header.

package codec

import (
	"encoding/binary"
	"sync"

	"github.com/agilira/go-errors"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
)

const (
	// lengthMagic guards frame alignment; any other prefix is a decode error.
	lengthMagic = "mBdT"
	// lengthHeaderLen is magic plus the 4-byte length field.
	lengthHeaderLen = 8
	// DefaultMaxMsgLen is the default payload cap.
	DefaultMaxMsgLen = 1 << 20
)

// LengthCodec frames messages with a magic-prefixed binary header.
type LengthCodec struct {
	mu     sync.Mutex
	maxLen int
}

// NewLengthCodec returns a length-prefixed framer with the default cap.
func NewLengthCodec() *LengthCodec {
	return &LengthCodec{maxLen: DefaultMaxMsgLen}
}

// SetMaxMsgLen adjusts the payload cap. Non-positive values are ignored.
func (c *LengthCodec) SetMaxMsgLen(n int) {
	if n <= 0 {
		return
	}
	c.mu.Lock()
	c.maxLen = n
	c.mu.Unlock()
}

// MaxMsgLen returns the current payload cap.
func (c *LengthCodec) MaxMsgLen() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.maxLen
}

// TryDecode implements api.Codec. Fewer than 8 buffered bytes always reports
// "need more"; a bad magic or an out-of-range length is a protocol error that
// consumes nothing.
func (c *LengthCodec) TryDecode(data []byte) (msg []byte, consumed int, err error) {
	if len(data) < lengthHeaderLen {
		return nil, 0, nil
	}
	if string(data[:4]) != lengthMagic {
		return nil, 0, ErrInvalidMagic
	}
	n := int32(binary.BigEndian.Uint32(data[4:8]))
	if n <= 0 || int(n) > c.MaxMsgLen() {
		return nil, 0, ErrInvalidLength
	}
	total := lengthHeaderLen + int(n)
	if len(data) < total {
		return nil, 0, nil
	}
	return data[lengthHeaderLen:total], total, nil
}

// Encode appends the framed representation of msg to out.
func (c *LengthCodec) Encode(msg []byte, out *buffer.Buffer) error {
	if len(msg) > c.MaxMsgLen() {
		return errors.New(ErrCodeOversizedMsg, "message exceeds length codec cap")
	}
	var hdr [lengthHeaderLen]byte
	copy(hdr[:4], lengthMagic)
	binary.BigEndian.PutUint32(hdr[4:], uint32(len(msg)))
	out.Append(hdr[:])
	out.Append(msg)
	return nil
}

// Clone implements api.Codec. The clone inherits the configured cap.
func (c *LengthCodec) Clone() api.Codec {
	return &LengthCodec{maxLen: c.MaxMsgLen()}
}
