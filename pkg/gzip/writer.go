package gzip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/klauspost/compress/flate"
	"golang.org/x/text/encoding/charmap"

	"github.com/horde/compress/pkg/compress"
)

// DefaultCompressionLevel is the DEFLATE level used by the encoder.
const DefaultCompressionLevel = flate.DefaultCompression

// osUnix is written to the OS header byte.
const osUnix = 3

// Encoder writes single-member gzip data.
type Encoder struct {
	level int
	now   func() time.Time
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithCompressionLevel sets the DEFLATE level.
func WithCompressionLevel(level int) EncoderOption {
	return func(e *Encoder) {
		e.level = level
	}
}

// WithClock sets the time source used when a file has no ModTime.
func WithClock(now func() time.Time) EncoderOption {
	return func(e *Encoder) {
		e.now = now
	}
}

// NewEncoder creates a gzip encoder.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{
		level: DefaultCompressionLevel,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compress encodes exactly one file as a gzip member carrying its name.
func (e *Encoder) Compress(files []compress.File) ([]byte, error) {
	if len(files) != 1 {
		return nil, fmt.Errorf("gzip: holds exactly one file, got %d", len(files))
	}
	f := files[0]
	mtime := f.ModTime
	if mtime.IsZero() {
		mtime = e.now()
	}
	return e.Encode(&Member{Name: f.Name, ModTime: mtime, Data: f.Data})
}

// Encode writes m as a gzip member. Name and Comment are stored when
// non-empty and must be representable in ISO 8859-1.
func (e *Encoder) Encode(m *Member) ([]byte, error) {
	var buf bytes.Buffer

	var flags byte
	var name, comment []byte
	var err error
	if m.Name != "" {
		flags |= FlagName
		if name, err = charmap.ISO8859_1.NewEncoder().Bytes([]byte(m.Name)); err != nil {
			return nil, fmt.Errorf("gzip: encode name: %w", err)
		}
	}
	if m.Comment != "" {
		flags |= FlagComment
		if comment, err = charmap.ISO8859_1.NewEncoder().Bytes([]byte(m.Comment)); err != nil {
			return nil, fmt.Errorf("gzip: encode comment: %w", err)
		}
	}
	if len(m.Extra) > 0 {
		if len(m.Extra) > 0xffff {
			return nil, fmt.Errorf("gzip: extra field too long: %d", len(m.Extra))
		}
		flags |= FlagExtra
	}

	hdr := [headerSize]byte{id1, id2, methodDeflate, flags}
	if !m.ModTime.IsZero() && m.ModTime.Unix() > 0 {
		binary.LittleEndian.PutUint32(hdr[4:8], uint32(m.ModTime.Unix()))
	}
	hdr[9] = osUnix
	buf.Write(hdr[:])
	if flags&FlagExtra != 0 {
		_ = binary.Write(&buf, binary.LittleEndian, uint16(len(m.Extra)))
		buf.Write(m.Extra)
	}
	if flags&FlagName != 0 {
		buf.Write(name)
		buf.WriteByte(0)
	}
	if flags&FlagComment != 0 {
		buf.Write(comment)
		buf.WriteByte(0)
	}

	fw, err := flate.NewWriter(&buf, e.level)
	if err != nil {
		return nil, fmt.Errorf("gzip: create compressor: %w", err)
	}
	if _, err := fw.Write(m.Data); err != nil {
		return nil, fmt.Errorf("gzip: compress: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("gzip: close compressor: %w", err)
	}

	var trailer [trailerSize]byte
	binary.LittleEndian.PutUint32(trailer[0:4], crc32.ChecksumIEEE(m.Data))
	binary.LittleEndian.PutUint32(trailer[4:8], uint32(len(m.Data)))
	buf.Write(trailer[:])
	return buf.Bytes(), nil
}
