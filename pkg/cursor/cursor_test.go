package cursor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horde/compress/pkg/compress"
)

func TestCursorIntegers(t *testing.T) {
	c := New([]byte{0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07, 0x08, 0x09, 0x0a, 0x0b, 0x0c, 0x0d, 0x0e, 0x0f})

	v8, err := c.Uint8()
	require.NoError(t, err)
	assert.Equal(t, uint8(0x01), v8)

	v16, err := c.Uint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0302), v16)

	v32, err := c.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(0x07060504), v32)

	v64, err := c.Uint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0f0e0d0c0b0a0908), v64)

	assert.Equal(t, 15, c.Offset())
	assert.Equal(t, 0, c.Remaining())
}

func TestCursorReadUint(t *testing.T) {
	tests := []struct {
		bits int
		want uint64
		off  int
	}{
		{8, 0xaa, 1},
		{16, 0xbbaa, 2},
		{32, 0xddccbbaa, 4},
		{64, 0x1100ffeeddccbbaa, 8},
	}
	for _, tt := range tests {
		c := New([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff, 0x00, 0x11})
		got, err := c.ReadUint(tt.bits)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "width %d", tt.bits)
		assert.Equal(t, tt.off, c.Offset())
	}

	c := New([]byte{1, 2, 3})
	_, err := c.ReadUint(24)
	require.ErrorIs(t, err, compress.ErrInvalidFormat)
	var e *compress.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, "read uint", e.Op)
	assert.Equal(t, 0, c.Offset())
}

func TestCursorInsufficientData(t *testing.T) {
	c := New([]byte{0x01, 0x02, 0x03})
	require.NoError(t, c.Skip(2))

	_, err := c.Uint16()
	assert.ErrorIs(t, err, compress.ErrInsufficientData)
	assert.Equal(t, 2, c.Offset(), "failed read must not advance")

	_, err = c.Uint32()
	assert.ErrorIs(t, err, compress.ErrInsufficientData)

	_, err = c.Bytes(2)
	assert.ErrorIs(t, err, compress.ErrInsufficientData)

	_, err = c.Bytes(-1)
	assert.ErrorIs(t, err, compress.ErrInsufficientData)

	assert.ErrorIs(t, c.Skip(5), compress.ErrInsufficientData)
	assert.Equal(t, 2, c.Offset())

	b, err := c.Bytes(1)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x03}, b)

	_, err = c.Uint8()
	assert.ErrorIs(t, err, compress.ErrInsufficientData)
}

func TestCursorSeekPeek(t *testing.T) {
	c := New([]byte("abcdef"))

	require.NoError(t, c.Seek(4))
	p, err := c.Peek(2)
	require.NoError(t, err)
	assert.Equal(t, "ef", string(p))
	assert.Equal(t, 4, c.Offset())

	require.NoError(t, c.Seek(6))
	assert.Equal(t, 0, c.Remaining())

	assert.ErrorIs(t, c.Seek(7), compress.ErrInvalidFormat)
	assert.ErrorIs(t, c.Seek(-1), compress.ErrInvalidFormat)

	at, err := c.At(1, 3)
	require.NoError(t, err)
	assert.Equal(t, "bcd", string(at))

	_, err = c.At(4, 3)
	assert.ErrorIs(t, err, compress.ErrInsufficientData)
}

func TestCursorCString(t *testing.T) {
	c := New([]byte("name\x00comment\x00tail"))

	s, err := c.CString()
	require.NoError(t, err)
	assert.Equal(t, "name", string(s))

	s, err = c.CString()
	require.NoError(t, err)
	assert.Equal(t, "comment", string(s))

	_, err = c.CString()
	assert.ErrorIs(t, err, compress.ErrInsufficientData)
	assert.Equal(t, "tail", string(c.Buffer()[c.Offset():]))
}

func TestCursorAlign(t *testing.T) {
	c := New(make([]byte, 9))
	require.NoError(t, c.Skip(5))
	require.NoError(t, c.Align(4))
	assert.Equal(t, 8, c.Offset())
	require.NoError(t, c.Align(4))
	assert.Equal(t, 8, c.Offset())

	require.NoError(t, c.Skip(1))
	assert.ErrorIs(t, c.Align(4), compress.ErrInsufficientData)
}

func TestCursorIndex(t *testing.T) {
	c := New([]byte("xxPK\x03\x04yyPK\x03\x04"))
	assert.Equal(t, 2, c.Index([]byte("PK\x03\x04")))
	require.NoError(t, c.Seek(3))
	assert.Equal(t, 8, c.Index([]byte("PK\x03\x04")))
	assert.Equal(t, -1, c.Index([]byte("Rar!")))
}
