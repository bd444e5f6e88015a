// File: codec/line.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Newline-delimited framer. Accepts both \r\n and bare \n terminators; the
// decoded message never includes the terminator. A buffer holding exactly one
// EOT byte (0x04) forms a message of its own and signals end of transmission;
// an EOT byte mixed with other data is ordinary line content.

package codec

import (
	"bytes"

	"github.com/agilira/go-errors"
	"github.com/momentics/hioload-net/api"
	"github.com/momentics/hioload-net/core/buffer"
)

// eot is the transmission-end marker recognized by LineCodec.
const eot = 0x04

// LineCodec frames messages as text lines.
type LineCodec struct{}

// NewLineCodec returns a line framer.
func NewLineCodec() *LineCodec { return &LineCodec{} }

// TryDecode implements api.Codec.
func (c *LineCodec) TryDecode(data []byte) (msg []byte, consumed int, err error) {
	if len(data) == 1 && data[0] == eot {
		return data[:1], 1, nil
	}
	i := bytes.IndexByte(data, '\n')
	if i < 0 {
		return nil, 0, nil
	}
	if i > 0 && data[i-1] == '\r' {
		return data[:i-1], i + 1, nil
	}
	return data[:i], i + 1, nil
}

// Encode appends msg followed by \r\n. Messages containing a newline would
// corrupt the framing and are rejected.
func (c *LineCodec) Encode(msg []byte, out *buffer.Buffer) error {
	if bytes.IndexByte(msg, '\n') >= 0 {
		return errors.New(ErrCodeBareNewline, "line message contains '\\n'")
	}
	out.Append(msg)
	out.AppendString("\r\n")
	return nil
}

// Clone implements api.Codec.
func (c *LineCodec) Clone() api.Codec { return &LineCodec{} }
