// File: core/buffer/buffer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Growable byte buffer backing the tcp input/output paths. Data lives between
// the b and e offsets; consumed head space is reclaimed by compaction before
// the backing slice is grown.

package buffer

import "sync"

// defaultSuggestSize is the initial growth hint for an empty buffer.
const defaultSuggestSize = 512

// Buffer is an append/consume byte container. It is internally synchronized,
// but each connection uses its own instance from its owning reactor thread
// only; the lock exists for the occasional cross-thread inspection.
type Buffer struct {
	mu  sync.Mutex
	buf []byte
	b   int // first byte of live data
	e   int // one past last byte of live data
	exp int // suggested growth size
}

// New returns an empty buffer.
func New() *Buffer {
	return &Buffer{exp: defaultSuggestSize}
}

// Size returns the number of live bytes.
func (bf *Buffer) Size() int {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	return bf.e - bf.b
}

// Empty reports whether the buffer holds no live bytes.
func (bf *Buffer) Empty() bool {
	return bf.Size() == 0
}

// Data returns a view of the live bytes. The view is invalidated by any
// mutating call.
func (bf *Buffer) Data() []byte {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	return bf.buf[bf.b:bf.e]
}

// SetSuggestSize adjusts the growth hint used by MakeRoom.
func (bf *Buffer) SetSuggestSize(n int) {
	if n <= 0 {
		return
	}
	bf.mu.Lock()
	bf.exp = n
	bf.mu.Unlock()
}

// Append copies p onto the tail.
func (bf *Buffer) Append(p []byte) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	space := bf.makeRoomLocked(len(p))
	copy(space, p)
	bf.e += len(p)
}

// AppendString copies s onto the tail.
func (bf *Buffer) AppendString(s string) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	space := bf.makeRoomLocked(len(s))
	copy(space, s)
	bf.e += len(s)
}

// MakeRoom guarantees writable tail space for at least n bytes (the growth
// hint when n <= 0) and returns it. The caller fills some prefix of the
// returned slice and commits it with AddSize.
func (bf *Buffer) MakeRoom(n int) []byte {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if n <= 0 {
		n = bf.exp
	}
	return bf.makeRoomLocked(n)
}

// AddSize commits n bytes previously written into MakeRoom space.
func (bf *Buffer) AddSize(n int) {
	bf.mu.Lock()
	bf.e += n
	bf.mu.Unlock()
}

// Consume drops n bytes from the head. Consuming everything resets the
// offsets so the backing slice is reused from the start.
func (bf *Buffer) Consume(n int) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	bf.b += n
	if bf.b >= bf.e {
		bf.b = 0
		bf.e = 0
	}
}

// Clear drops all live bytes but keeps the backing slice.
func (bf *Buffer) Clear() {
	bf.mu.Lock()
	bf.b = 0
	bf.e = 0
	bf.mu.Unlock()
}

// Absorb moves the live bytes of other into bf, emptying other. When bf is
// empty the backing slices are swapped instead of copied.
func (bf *Buffer) Absorb(other *Buffer) {
	if bf == other {
		return
	}
	bf.mu.Lock()
	other.mu.Lock()
	defer other.mu.Unlock()
	defer bf.mu.Unlock()
	if bf.e-bf.b == 0 {
		bf.buf, other.buf = other.buf, bf.buf
		bf.b, bf.e = other.b, other.e
	} else {
		space := bf.makeRoomLocked(other.e - other.b)
		copy(space, other.buf[other.b:other.e])
		bf.e += other.e - other.b
	}
	other.b = 0
	other.e = 0
}

// makeRoomLocked ensures n writable tail bytes, compacting before growing.
func (bf *Buffer) makeRoomLocked(n int) []byte {
	if len(bf.buf)-bf.e >= n {
		return bf.buf[bf.e : bf.e+n]
	}
	size := bf.e - bf.b
	if size+n < len(bf.buf)/2 {
		// enough dead head space: compact instead of allocating
		copy(bf.buf, bf.buf[bf.b:bf.e])
	} else {
		cap2 := 2 * len(bf.buf)
		if cap2 < size+n {
			cap2 = size + n
		}
		nb := make([]byte, cap2)
		copy(nb, bf.buf[bf.b:bf.e])
		bf.buf = nb
	}
	bf.b = 0
	bf.e = size
	return bf.buf[bf.e : bf.e+n]
}
