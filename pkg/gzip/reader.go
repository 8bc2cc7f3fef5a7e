package gzip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/klauspost/compress/flate"
	"github.com/rs/zerolog"
	"golang.org/x/text/encoding/charmap"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/cursor"
)

// Decoder inflates gzip members.
type Decoder struct {
	logger zerolog.Logger
	limits compress.Limits
}

// NewDecoder creates a gzip decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		logger: zerolog.Nop(),
		limits: compress.DefaultLimits(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.limits = d.limits.Normalize()
	return d
}

// Decompress parses the member header, inflates the raw DEFLATE stream
// that follows it and verifies the CRC-32 and size trailer.
//
// The optional header fields are consumed strictly in the order FEXTRA,
// FNAME, FCOMMENT, FHCRC, each only when its flag bit is set.
func (d *Decoder) Decompress(data []byte) (*Member, error) {
	m, err := d.decompress(data)
	if err != nil {
		return nil, compress.Stamp(format, err)
	}
	return m, nil
}

func (d *Decoder) decompress(data []byte) (*Member, error) {
	log := d.logger.With().Str("component", "decoder").Str("format", format).Logger()
	c := cursor.New(data)

	hdr, err := c.Bytes(headerSize)
	if err != nil {
		return nil, err
	}
	if hdr[0] != id1 || hdr[1] != id2 {
		return nil, compress.NewError(format, "read header", 0, compress.ErrInvalidFormat,
			fmt.Errorf("bad magic %02x %02x", hdr[0], hdr[1]))
	}
	if hdr[2] != methodDeflate {
		return nil, compress.NewError(format, "read header", 2, compress.ErrUnsupportedMethod,
			fmt.Errorf("compression method %d", hdr[2]))
	}
	m := &Member{
		Flags:      hdr[3],
		ExtraFlags: hdr[8],
		OS:         hdr[9],
	}
	if m.Flags&flagReserved != 0 {
		return nil, compress.NewError(format, "read header", 3, compress.ErrInvalidFormat,
			fmt.Errorf("reserved flag bits set: %#02x", m.Flags))
	}
	if mtime := binary.LittleEndian.Uint32(hdr[4:8]); mtime != 0 {
		m.ModTime = time.Unix(int64(mtime), 0).UTC()
	}

	if m.Flags&FlagExtra != 0 {
		xlen, err := c.Uint16()
		if err != nil {
			return nil, err
		}
		if m.Extra, err = c.Bytes(int(xlen)); err != nil {
			return nil, err
		}
	}
	if m.Flags&FlagName != 0 {
		name, err := c.CString()
		if err != nil {
			return nil, err
		}
		m.Name = latin1(name)
	}
	if m.Flags&FlagComment != 0 {
		comment, err := c.CString()
		if err != nil {
			return nil, err
		}
		m.Comment = latin1(comment)
	}
	if m.Flags&FlagHCRC != 0 {
		end := c.Offset()
		hcrc, err := c.Uint16()
		if err != nil {
			return nil, err
		}
		if want := uint16(crc32.ChecksumIEEE(data[:end])); hcrc != want {
			return nil, compress.NewError(format, "verify header crc", int64(end), compress.ErrInvalidFormat,
				fmt.Errorf("stored %#04x, computed %#04x", hcrc, want))
		}
	}

	streamStart := c.Offset()
	src := bytes.NewReader(data[streamStart:])
	fr := flate.NewReader(src)
	defer fr.Close()

	out, err := io.ReadAll(io.LimitReader(fr, d.limits.MaxOutput+1))
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		return nil, compress.NewError(format, "inflate", int64(streamStart), compress.ErrInsufficientData, err)
	case err != nil:
		return nil, compress.NewError(format, "inflate", int64(streamStart), compress.ErrInvalidFormat, err)
	case int64(len(out)) > d.limits.MaxOutput:
		return nil, compress.NewError(format, "inflate", int64(streamStart), compress.ErrInvalidFormat,
			fmt.Errorf("output exceeds %d bytes", d.limits.MaxOutput))
	}

	// flate reads bytes.Reader one byte at a time, so whatever is left is
	// the trailer.
	if err := c.Seek(int64(len(data) - src.Len())); err != nil {
		return nil, err
	}
	trailerAt := c.Offset()
	sum, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	size, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	if got := crc32.ChecksumIEEE(out); got != sum {
		return nil, compress.NewError(format, "verify trailer", int64(trailerAt), compress.ErrInvalidFormat,
			fmt.Errorf("crc32 stored %#08x, computed %#08x", sum, got))
	}
	if uint32(len(out)) != size {
		return nil, compress.NewError(format, "verify trailer", int64(trailerAt+4), compress.ErrInvalidFormat,
			fmt.Errorf("size stored %d, inflated %d", size, len(out)))
	}
	if c.Remaining() > 0 {
		log.Debug().Int("offset", c.Offset()).Int("bytes", c.Remaining()).Msg("ignoring data after member")
	}

	m.Data = out
	return m, nil
}

// latin1 decodes an ISO 8859-1 header string.
func latin1(b []byte) string {
	s, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}
