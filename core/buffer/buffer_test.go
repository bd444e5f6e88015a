// File: core/buffer/buffer_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package buffer_test

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-net/core/buffer"
)

func TestAppendConsume(t *testing.T) {
	b := buffer.New()
	assert.True(t, b.Empty())

	b.AppendString("hello ")
	b.AppendString("world")
	assert.Equal(t, 11, b.Size())
	assert.Equal(t, []byte("hello world"), b.Data())

	b.Consume(6)
	assert.Equal(t, []byte("world"), b.Data())

	b.Consume(5)
	assert.True(t, b.Empty())
}

func TestMakeRoomAddSize(t *testing.T) {
	b := buffer.New()
	space := b.MakeRoom(4)
	require.GreaterOrEqual(t, len(space), 4)
	copy(space, "abcd")
	b.AddSize(4)
	assert.Equal(t, []byte("abcd"), b.Data())
}

func TestGrowthPreservesData(t *testing.T) {
	b := buffer.New()
	chunk := bytes.Repeat([]byte{0xab}, 700)
	for i := 0; i < 10; i++ {
		b.Append(chunk)
	}
	assert.Equal(t, 7000, b.Size())
	assert.Equal(t, bytes.Repeat([]byte{0xab}, 7000), b.Data())
}

func TestCompactionAfterConsume(t *testing.T) {
	b := buffer.New()
	b.Append(bytes.Repeat([]byte{1}, 1024))
	b.Consume(1000)
	// plenty of dead head space; further appends must not lose the tail
	b.Append(bytes.Repeat([]byte{2}, 512))
	want := append(bytes.Repeat([]byte{1}, 24), bytes.Repeat([]byte{2}, 512)...)
	assert.Equal(t, want, b.Data())
}

func TestAbsorbMovesAndEmpties(t *testing.T) {
	a := buffer.New()
	b := buffer.New()
	b.AppendString("payload")

	a.Absorb(b)
	assert.Equal(t, []byte("payload"), a.Data())
	assert.True(t, b.Empty())

	// absorbing into a non-empty buffer appends
	c := buffer.New()
	c.AppendString("tail")
	a.Absorb(c)
	assert.Equal(t, []byte("payloadtail"), a.Data())
	assert.True(t, c.Empty())
}

func TestClear(t *testing.T) {
	b := buffer.New()
	b.AppendString("x")
	b.Clear()
	assert.True(t, b.Empty())
}
