// Package buffer implements the elastic byte buffer that backs every
// connection's read and write side: a growable contiguous region with a
// read index and a write index, scatter reads off a socket, and single
// writes back to it.
package buffer

import (
	"errors"
	"unsafe"

	"golang.org/x/sys/unix"
)

// spillSize is the size of the stack-local overflow slice used by
// ReadFromFD's scatter read: most requests fit in the buffer's writable
// tail, but a burst larger than the tail lands here first.
const spillSize = 64 * 1024

// initialCap is the size a zero-value Buffer grows to on first use.
const initialCap = 1024

// ErrOverrun is the panic value raised by Consume/ConsumeUntil when the
// caller asks to retire more bytes than are readable. Callers hitting this have a
// programming error, not a transient failure.
var ErrOverrun = errors.New("buffer: consume past write index")

// Buffer is a growable byte region with 0 <= r <= w <= cap(buf).
// [r,w) is readable, [w,cap) is writable, [0,r) is reclaimable.
// It is not safe for concurrent use; a connection's in/out buffers are
// touched only by the single in-flight task for that connection.
type Buffer struct {
	buf []byte
	r   int
	w   int
}

// New returns a Buffer with the given initial capacity.
func New(cap int) *Buffer {
	if cap <= 0 {
		cap = initialCap
	}
	return &Buffer{buf: make([]byte, cap)}
}

// ReadableLen returns the number of bytes available in [r,w).
func (b *Buffer) ReadableLen() int { return b.w - b.r }

// WritableLen returns the number of bytes available in [w,cap).
func (b *Buffer) WritableLen() int { return len(b.buf) - b.w }

// PrependableLen returns the reclaimable prefix [0,r).
func (b *Buffer) PrependableLen() int { return b.r }

// Peek returns the readable extent without consuming it.
func (b *Buffer) Peek() []byte { return b.buf[b.r:b.w] }

// Consume retires n bytes from the front of the readable extent.
func (b *Buffer) Consume(n int) {
	if n > b.ReadableLen() {
		panic(ErrOverrun)
	}
	if n < b.ReadableLen() {
		b.r += n
		return
	}
	b.Reset()
}

// ConsumeUntil retires bytes up to (not including) the start of end, which
// must be a subslice of the buffer's readable extent (typically returned
// by Peek and advanced by the caller while scanning for a delimiter).
func (b *Buffer) ConsumeUntil(end []byte) {
	if len(end) == 0 || b.ReadableLen() == 0 {
		b.Consume(b.ReadableLen())
		return
	}
	base := uintptr(unsafe.Pointer(&b.buf[b.r]))
	target := uintptr(unsafe.Pointer(&end[0]))
	off := int(target - base)
	if off < 0 || off > b.ReadableLen() {
		panic(ErrOverrun)
	}
	b.Consume(off)
}

// Reset clears the buffer, reusing the backing array.
func (b *Buffer) Reset() {
	b.r = 0
	b.w = 0
}

// DrainToString consumes the entire readable extent and returns it as a
// string.
func (b *Buffer) DrainToString() string {
	s := string(b.buf[b.r:b.w])
	b.Reset()
	return s
}

// BeginWrite returns the writable tail, guaranteed to be at least n bytes
// long after a preceding EnsureWritable(n).
func (b *Buffer) BeginWrite() []byte { return b.buf[b.w:] }

// HasWritten advances the write index after the caller has filled n bytes
// starting at BeginWrite().
func (b *Buffer) HasWritten(n int) { b.w += n }

// Append copies p into the writable region, growing/compacting first.
func (b *Buffer) Append(p []byte) {
	b.EnsureWritable(len(p))
	n := copy(b.buf[b.w:], p)
	b.w += n
}

// EnsureWritable guarantees WritableLen() >= n, compacting the buffer in
// place when the reclaimable prefix plus the writable tail suffice, or
// growing the backing array otherwise.
func (b *Buffer) EnsureWritable(n int) {
	if b.WritableLen() >= n {
		return
	}
	if b.PrependableLen()+b.WritableLen() >= n {
		readable := b.ReadableLen()
		copy(b.buf, b.buf[b.r:b.w])
		b.r = 0
		b.w = readable
		return
	}
	grown := make([]byte, b.w+n+1)
	copy(grown, b.buf[:b.w])
	b.buf = grown
}

// ReadFromFD performs one scatter read into the buffer's writable tail
// plus a 64 KiB stack spill, appending any overflow. It returns the
// number of bytes read and whatever error unix.Readv reported (including
// EAGAIN/EWOULDBLOCK on a non-blocking fd with nothing available);
// callers distinguish "no data yet" from a real I/O failure themselves.
func (b *Buffer) ReadFromFD(fd int) (int, error) {
	b.EnsureWritable(spillSize)
	var spill [spillSize]byte
	tail := b.BeginWrite()

	iov := [][]byte{tail, spill[:]}
	n, err := unix.Readv(fd, iov)
	if n <= 0 {
		return n, err
	}

	if n <= len(tail) {
		b.HasWritten(n)
		return n, nil
	}
	b.HasWritten(len(tail))
	overflow := n - len(tail)
	b.Append(spill[:overflow])
	return n, nil
}

// WriteToFD performs a single write of the readable extent and advances
// r by the number of bytes accepted by the kernel.
func (b *Buffer) WriteToFD(fd int) (int, error) {
	n, err := unix.Write(fd, b.Peek())
	if n > 0 {
		b.Consume(n)
	}
	return n, err
}
