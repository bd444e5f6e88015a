// File: codec/codec_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/codec"
	"github.com/momentics/hioload-net/core/buffer"
)

func TestLineCodecRoundTrip(t *testing.T) {
	c := codec.NewLineCodec()
	out := buffer.New()
	require.NoError(t, c.Encode([]byte("ping"), out))

	msg, consumed, err := c.TryDecode(out.Data())
	require.NoError(t, err)
	assert.Equal(t, out.Size(), consumed)
	assert.Equal(t, []byte("ping"), msg)
}

func TestLineCodecBareNewlineTerminator(t *testing.T) {
	c := codec.NewLineCodec()
	msg, consumed, err := c.TryDecode([]byte("ping\nrest"))
	require.NoError(t, err)
	assert.Equal(t, 5, consumed)
	assert.Equal(t, []byte("ping"), msg)
}

func TestLineCodecNeedMore(t *testing.T) {
	c := codec.NewLineCodec()
	msg, consumed, err := c.TryDecode([]byte("no terminator yet"))
	require.NoError(t, err)
	assert.Zero(t, consumed)
	assert.Nil(t, msg)
}

func TestLineCodecEOT(t *testing.T) {
	c := codec.NewLineCodec()

	msg, consumed, err := c.TryDecode([]byte{0x04})
	require.NoError(t, err)
	assert.Equal(t, 1, consumed)
	assert.Equal(t, []byte{0x04}, msg)

	// mixed with other bytes the marker is ordinary line data
	_, consumed, err = c.TryDecode([]byte{0x04, 'x'})
	require.NoError(t, err)
	assert.Zero(t, consumed, "no terminator yet")

	msg, consumed, err = c.TryDecode([]byte{0x04, 'x', '\n'})
	require.NoError(t, err)
	assert.Equal(t, 3, consumed)
	assert.Equal(t, []byte{0x04, 'x'}, msg)
}

func TestLineCodecRejectsEmbeddedNewline(t *testing.T) {
	c := codec.NewLineCodec()
	out := buffer.New()
	assert.Error(t, c.Encode([]byte("two\nlines"), out))
	assert.True(t, out.Empty())
}

func TestLengthCodecRoundTrip(t *testing.T) {
	c := codec.NewLengthCodec()
	out := buffer.New()
	payload := bytes.Repeat([]byte("abc"), 100)
	require.NoError(t, c.Encode(payload, out))

	msg, consumed, err := c.TryDecode(out.Data())
	require.NoError(t, err)
	assert.Equal(t, out.Size(), consumed)
	assert.Equal(t, payload, msg)
}

func TestLengthCodecShortHeaderNeedsMore(t *testing.T) {
	c := codec.NewLengthCodec()
	for i := 0; i < 8; i++ {
		msg, consumed, err := c.TryDecode(make([]byte, i))
		require.NoError(t, err, "len=%d", i)
		assert.Zero(t, consumed)
		assert.Nil(t, msg)
	}
}

func TestLengthCodecPartialPayloadNeedsMore(t *testing.T) {
	c := codec.NewLengthCodec()
	out := buffer.New()
	require.NoError(t, c.Encode([]byte("hello world"), out))

	_, consumed, err := c.TryDecode(out.Data()[:out.Size()-3])
	require.NoError(t, err)
	assert.Zero(t, consumed)
}

func TestLengthCodecBadMagic(t *testing.T) {
	c := codec.NewLengthCodec()
	_, consumed, err := c.TryDecode([]byte("XXXX\x00\x00\x00\x01a"))
	assert.ErrorIs(t, err, codec.ErrInvalidMagic)
	assert.Zero(t, consumed)
}

func TestLengthCodecBadLength(t *testing.T) {
	c := codec.NewLengthCodec()

	// zero length
	_, _, err := c.TryDecode([]byte("mBdT\x00\x00\x00\x00"))
	assert.ErrorIs(t, err, codec.ErrInvalidLength)

	// negative length
	_, _, err = c.TryDecode([]byte("mBdT\xff\xff\xff\xff"))
	assert.ErrorIs(t, err, codec.ErrInvalidLength)

	// over the configured cap
	c.SetMaxMsgLen(16)
	_, _, err = c.TryDecode([]byte("mBdT\x00\x00\x00\x20"))
	assert.ErrorIs(t, err, codec.ErrInvalidLength)
}

func TestLengthCodecEncodeOverCap(t *testing.T) {
	c := codec.NewLengthCodec()
	c.SetMaxMsgLen(4)
	out := buffer.New()
	assert.Error(t, c.Encode([]byte("too long"), out))
}

func TestLengthCodecCloneKeepsCap(t *testing.T) {
	c := codec.NewLengthCodec()
	c.SetMaxMsgLen(32)
	clone, ok := c.Clone().(*codec.LengthCodec)
	require.True(t, ok)
	assert.Equal(t, 32, clone.MaxMsgLen())
}
