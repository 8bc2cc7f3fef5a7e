// Package cursor provides a bounds-checked little-endian reader over an
// in-memory buffer with an explicit offset.
//
// A failed read never advances the offset, and every failure is a
// *compress.Error of kind compress.ErrInsufficientData (or ErrInvalidFormat
// for an out-of-range seek or integer width).
package cursor

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/horde/compress/pkg/compress"
)

// Cursor reads sequentially from buf starting at off.
type Cursor struct {
	buf []byte
	off int
}

// New returns a cursor positioned at the start of buf.
func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// Offset returns the current read position.
func (c *Cursor) Offset() int { return c.off }

// Len returns the length of the underlying buffer.
func (c *Cursor) Len() int { return len(c.buf) }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

// Buffer returns the underlying buffer.
func (c *Cursor) Buffer() []byte { return c.buf }

func (c *Cursor) short(op string, need int) error {
	return compress.NewError("", op, int64(c.off), compress.ErrInsufficientData,
		fmt.Errorf("need %d bytes, have %d", need, c.Remaining()))
}

// Bytes returns exactly n bytes and advances past them. The returned slice
// aliases the buffer.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, c.short("read bytes", n)
	}
	b := c.buf[c.off : c.off+n : c.off+n]
	c.off += n
	return b, nil
}

// Peek returns the next n bytes without advancing.
func (c *Cursor) Peek(n int) ([]byte, error) {
	if n < 0 || n > c.Remaining() {
		return nil, c.short("peek", n)
	}
	return c.buf[c.off : c.off+n : c.off+n], nil
}

// Skip advances n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || n > c.Remaining() {
		return c.short("skip", n)
	}
	c.off += n
	return nil
}

// Seek moves to an absolute offset within the buffer.
func (c *Cursor) Seek(off int64) error {
	if off < 0 || off > int64(len(c.buf)) {
		return compress.NewError("", "seek", off, compress.ErrInvalidFormat,
			fmt.Errorf("offset outside buffer of %d bytes", len(c.buf)))
	}
	c.off = int(off)
	return nil
}

// Align skips padding up to the next multiple of n relative to the buffer
// start.
func (c *Cursor) Align(n int) error {
	if n <= 1 {
		return nil
	}
	if pad := (n - c.off%n) % n; pad > 0 {
		return c.Skip(pad)
	}
	return nil
}

// Uint8 reads one byte.
func (c *Cursor) Uint8() (uint8, error) {
	if c.Remaining() < 1 {
		return 0, c.short("read uint8", 1)
	}
	v := c.buf[c.off]
	c.off++
	return v, nil
}

// Uint16 reads a little-endian uint16.
func (c *Cursor) Uint16() (uint16, error) {
	if c.Remaining() < 2 {
		return 0, c.short("read uint16", 2)
	}
	v := binary.LittleEndian.Uint16(c.buf[c.off:])
	c.off += 2
	return v, nil
}

// Uint32 reads a little-endian uint32.
func (c *Cursor) Uint32() (uint32, error) {
	if c.Remaining() < 4 {
		return 0, c.short("read uint32", 4)
	}
	v := binary.LittleEndian.Uint32(c.buf[c.off:])
	c.off += 4
	return v, nil
}

// Uint64 reads a little-endian uint64.
func (c *Cursor) Uint64() (uint64, error) {
	if c.Remaining() < 8 {
		return 0, c.short("read uint64", 8)
	}
	v := binary.LittleEndian.Uint64(c.buf[c.off:])
	c.off += 8
	return v, nil
}

// ReadUint reads an unsigned little-endian integer of the given width in
// bits (8, 16, 32 or 64).
func (c *Cursor) ReadUint(bits int) (uint64, error) {
	switch bits {
	case 8:
		v, err := c.Uint8()
		return uint64(v), err
	case 16:
		v, err := c.Uint16()
		return uint64(v), err
	case 32:
		v, err := c.Uint32()
		return uint64(v), err
	case 64:
		return c.Uint64()
	default:
		return 0, compress.NewError("", "read uint", int64(c.off), compress.ErrInvalidFormat,
			fmt.Errorf("unsupported integer width %d", bits))
	}
}

// CString reads a NUL-terminated string and advances past the terminator.
// The terminator is required.
func (c *Cursor) CString() ([]byte, error) {
	i := bytes.IndexByte(c.buf[c.off:], 0)
	if i < 0 {
		return nil, c.short("read string", c.Remaining()+1)
	}
	s := c.buf[c.off : c.off+i : c.off+i]
	c.off += i + 1
	return s, nil
}

// At returns n bytes at an absolute offset without moving the cursor.
func (c *Cursor) At(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off > int64(len(c.buf)) || int64(n) > int64(len(c.buf))-off {
		return nil, compress.NewError("", "read", off, compress.ErrInsufficientData,
			fmt.Errorf("need %d bytes in buffer of %d", n, len(c.buf)))
	}
	return c.buf[off : off+int64(n) : off+int64(n)], nil
}

// Index returns the offset of the first occurrence of sep at or after the
// current position, or -1.
func (c *Cursor) Index(sep []byte) int {
	i := bytes.Index(c.buf[c.off:], sep)
	if i < 0 {
		return -1
	}
	return c.off + i
}
