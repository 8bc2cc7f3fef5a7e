// Package rtf implements the compressed RTF format used for the
// PR_RTF_COMPRESSED MAPI property: an LZ77 variant ("LZFu") over a 4096
// byte ring dictionary preloaded with common RTF text, or stored data
// ("MELA").
package rtf

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"

	"github.com/rs/zerolog"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/cursor"
)

const format = "rtf"

// Header magic values.
const (
	MagicCompressed   uint32 = 0x75465A4C // "LZFu"
	MagicUncompressed uint32 = 0x414C454D // "MELA"
)

// HeaderSize is the size of the stream header.
const HeaderSize = 16

const (
	dictSize = 4096
	dictMask = dictSize - 1
	maxMatch = 17
)

// prefix preloads the dictionary.
const prefix = `{\rtf1\ansi\mac\deff0\deftab720{\fonttbl;}{\f0\fnil \froman \fswiss \fmodern \fscript \fdecor MS Sans SerifSymbolArialTimes New RomanCourier{\colortbl\red0\green0\blue0` +
	"\r\n" + `\par \pard\plain\f0\fs20\b\i\u\tab\tx`

// Header is the stream header. CompSize counts the bytes that follow the
// CompSize field itself.
type Header struct {
	CompSize uint32
	RawSize  uint32
	Magic    uint32
	CRC      uint32
}

// DecodeFrom reads the header from b, which must hold HeaderSize bytes.
func (h *Header) DecodeFrom(b []byte) {
	h.CompSize = binary.LittleEndian.Uint32(b[0:4])
	h.RawSize = binary.LittleEndian.Uint32(b[4:8])
	h.Magic = binary.LittleEndian.Uint32(b[8:12])
	h.CRC = binary.LittleEndian.Uint32(b[12:16])
}

// EncodeTo writes the header to b, which must hold HeaderSize bytes.
func (h *Header) EncodeTo(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], h.CompSize)
	binary.LittleEndian.PutUint32(b[4:8], h.RawSize)
	binary.LittleEndian.PutUint32(b[8:12], h.Magic)
	binary.LittleEndian.PutUint32(b[12:16], h.CRC)
}

// Validate checks the magic and that the stream covers its own header.
func (h *Header) Validate() error {
	if h.Magic != MagicCompressed && h.Magic != MagicUncompressed {
		return fmt.Errorf("unknown magic %#08x", h.Magic)
	}
	if h.CompSize < HeaderSize-4 {
		return fmt.Errorf("compressed size %d shorter than header", h.CompSize)
	}
	return nil
}

// Checksum is the CRC-32 of compressed RTF: the IEEE polynomial with a zero
// seed and no final inversion.
func Checksum(p []byte) uint32 {
	return ^crc32.Update(^uint32(0), crc32.IEEETable, p)
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = l
	}
}

// WithLimits sets the resource limits. MaxOutput bounds the raw size.
func WithLimits(l compress.Limits) Option {
	return func(d *Decoder) {
		d.limits = l
	}
}

// Decoder expands compressed RTF.
type Decoder struct {
	logger zerolog.Logger
	limits compress.Limits
}

// NewDecoder creates a compressed RTF decoder.
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

// Decompress expands a compressed RTF stream with default limits.
func Decompress(data []byte) ([]byte, error) {
	return NewDecoder().Decompress(data)
}

// Decompress expands data. LZFu streams are checked against their CRC;
// output is truncated to the declared raw size.
func (d *Decoder) Decompress(data []byte) ([]byte, error) {
	out, err := d.decompress(data)
	if err != nil {
		return nil, compress.Stamp(format, err)
	}
	return out, nil
}

func (d *Decoder) decompress(data []byte) ([]byte, error) {
	c := cursor.New(data)
	b, err := c.Bytes(HeaderSize)
	if err != nil {
		return nil, err
	}
	var h Header
	h.DecodeFrom(b)
	if err := h.Validate(); err != nil {
		return nil, compress.NewError(format, "read header", 0, compress.ErrInvalidFormat, err)
	}
	if int64(h.RawSize) > d.limits.MaxOutput {
		return nil, compress.NewError(format, "read header", 4, compress.ErrInvalidFormat,
			fmt.Errorf("raw size %d exceeds %d", h.RawSize, d.limits.MaxOutput))
	}
	body, err := c.Bytes(int(h.CompSize) - (HeaderSize - 4))
	if err != nil {
		return nil, err
	}
	if c.Remaining() > 0 {
		d.logger.Debug().Str("format", format).Int("bytes", c.Remaining()).Msg("ignoring data after stream")
	}

	if h.Magic == MagicUncompressed {
		if uint32(len(body)) < h.RawSize {
			return nil, compress.NewError(format, "copy", HeaderSize, compress.ErrInsufficientData,
				fmt.Errorf("raw size %d, stream holds %d", h.RawSize, len(body)))
		}
		return append([]byte(nil), body[:h.RawSize]...), nil
	}

	if sum := Checksum(body); sum != h.CRC {
		return nil, compress.NewError(format, "verify crc", 12, compress.ErrInvalidFormat,
			fmt.Errorf("stored %#08x, computed %#08x", h.CRC, sum))
	}
	out, err := expand(body, int(h.RawSize))
	if err != nil {
		return nil, err
	}
	return out, nil
}

// expand runs the LZFu decoder over body. Control bytes are read least
// significant bit first; a set bit is a big-endian reference of a 12-bit
// dictionary offset and a 4-bit length less two. A reference to the
// current write position ends the stream, as does reaching rawSize.
func expand(body []byte, rawSize int) ([]byte, error) {
	var dict [dictSize]byte
	copy(dict[:], prefix)
	wp := len(prefix)
	out := make([]byte, 0, rawSize)

	in := 0
	for in < len(body) {
		control := body[in]
		in++
		for bit := 0; bit < 8; bit++ {
			if in >= len(body) {
				break
			}
			if control&(1<<bit) == 0 {
				b := body[in]
				in++
				out = append(out, b)
				dict[wp] = b
				wp = (wp + 1) & dictMask
				if len(out) >= rawSize {
					return trim(out, rawSize), nil
				}
				continue
			}
			if in+2 > len(body) {
				return nil, compress.NewError(format, "read reference", int64(HeaderSize+in), compress.ErrInsufficientData,
					errors.New("reference split by end of stream"))
			}
			ref := int(body[in])<<8 | int(body[in+1])
			in += 2
			off, n := ref>>4, ref&0xf+2
			if off == wp {
				return trim(out, rawSize), nil
			}
			for i := 0; i < n; i++ {
				b := dict[(off+i)&dictMask]
				out = append(out, b)
				dict[wp] = b
				wp = (wp + 1) & dictMask
			}
			if len(out) >= rawSize {
				return trim(out, rawSize), nil
			}
		}
	}
	return trim(out, rawSize), nil
}

func trim(out []byte, rawSize int) []byte {
	if len(out) > rawSize {
		return out[:rawSize]
	}
	return out
}

// Compress encodes raw as an LZFu stream using a greedy longest match
// against the ring dictionary.
func Compress(raw []byte) []byte {
	var dict [dictSize]byte
	copy(dict[:], prefix)
	wp := len(prefix)

	put := func(b byte) {
		dict[wp] = b
		wp = (wp + 1) & dictMask
	}

	var body []byte
	i := 0
	done := false
	for !done {
		ctl := len(body)
		body = append(body, 0)
		for bit := 0; bit < 8; bit++ {
			if i >= len(raw) {
				body[ctl] |= 1 << bit
				body = append(body, byte(wp>>4), byte(wp<<4))
				done = true
				break
			}
			off, n := longestMatch(&dict, wp, raw[i:])
			if n < 2 {
				body = append(body, raw[i])
				put(raw[i])
				i++
				continue
			}
			body[ctl] |= 1 << bit
			ref := off<<4 | (n - 2)
			body = append(body, byte(ref>>8), byte(ref))
			for k := 0; k < n; k++ {
				put(raw[i+k])
			}
			i += n
		}
	}

	out := make([]byte, HeaderSize, HeaderSize+len(body))
	h := Header{
		CompSize: uint32(len(body) + HeaderSize - 4),
		RawSize:  uint32(len(raw)),
		Magic:    MagicCompressed,
		CRC:      Checksum(body),
	}
	h.EncodeTo(out)
	return append(out, body...)
}

// longestMatch finds the longest run of src in the dictionary whose source
// span lies wholly behind the write position.
func longestMatch(dict *[dictSize]byte, wp int, src []byte) (off, n int) {
	limit := min(len(src), maxMatch)
	for o := 0; o < dictSize; o++ {
		dist := (wp - o) & dictMask
		if dist == 0 {
			continue
		}
		k := 0
		for k < limit && k < dist && dict[(o+k)&dictMask] == src[k] {
			k++
		}
		if k > n {
			off, n = o, k
			if n == limit {
				break
			}
		}
	}
	return off, n
}

// Store wraps raw as an uncompressed ("MELA") stream.
func Store(raw []byte) []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(raw))
	h := Header{
		CompSize: uint32(len(raw) + HeaderSize - 4),
		RawSize:  uint32(len(raw)),
		Magic:    MagicUncompressed,
	}
	h.EncodeTo(out)
	return append(out, raw...)
}
