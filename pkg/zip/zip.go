package zip

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/horde/compress/pkg/compress"
)

const format = "zip"

// Entry is a member described by the central directory.
type Entry struct {
	Name           string
	Comment        string
	Method         Method
	Flags          uint16
	DOSTime        uint32
	ModTime        time.Time
	CRC32          uint32
	CompressedSize uint64
	Size           uint64
	InternalAttrs  uint16
	ExternalAttrs  uint32
	VersionMadeBy  uint16

	HeaderOffset int64 // Local header offset, relative to the archive start
	DataStart    int64 // Start of the member data, -1 until joined

	rawName string
}

// IsDir reports whether the entry names a directory.
func (e *Entry) IsDir() bool {
	return strings.HasSuffix(e.Name, "/") || e.ExternalAttrs&0x10 != 0
}

// Type renders the internal attributes.
func (e *Entry) Type() string {
	if e.InternalAttrs&1 != 0 {
		return "text"
	}
	return "binary"
}

// Attr renders the MS-DOS external attributes as D, A, S, H and R, with a
// dash for each bit that is clear.
func (e *Entry) Attr() string {
	var b [5]byte
	for i, bit := range []struct {
		mask uint32
		c    byte
	}{{0x10, 'D'}, {0x20, 'A'}, {0x04, 'S'}, {0x02, 'H'}, {0x01, 'R'}} {
		b[i] = '-'
		if e.ExternalAttrs&bit.mask != 0 {
			b[i] = bit.c
		}
	}
	return string(b[:])
}

// Common converts the entry into the shared form. Data is left nil.
func (e *Entry) Common() compress.Entry {
	return compress.Entry{
		Name:           e.Name,
		Size:           e.Size,
		CompressedSize: e.CompressedSize,
		ModTime:        e.ModTime,
		Method:         e.Method.String(),
		Attr:           e.Attr(),
		Type:           e.Type(),
		DataOffset:     e.DataStart,
	}
}

// Action selects what Decompress produces.
type Action int

const (
	// ActionList returns the member list.
	ActionList Action = iota + 1
	// ActionData returns the contents of one member.
	ActionData
)

// Params drives Decompress.
type Params struct {
	Action Action
	Info   []Entry // Result of a previous list; listed again when nil
	Key    int     // Index into Info for ActionData
}

// Result is the output of Decompress.
type Result struct {
	Entries []Entry
	Data    []byte
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = l
	}
}

// WithLimits sets the resource limits. MaxNodes bounds the entry count and
// MaxOutput the size of one extracted member.
func WithLimits(l compress.Limits) Option {
	return func(d *Decoder) {
		d.limits = l
	}
}

// WithCharset sets the encoding of names and comments that do not carry
// the UTF-8 flag. The default is code page 437.
func WithCharset(enc encoding.Encoding) Option {
	return func(d *Decoder) {
		d.charset = enc
	}
}

// WithLocation sets the zone DOS timestamps are interpreted in. The
// default is UTC.
func WithLocation(loc *time.Location) Option {
	return func(d *Decoder) {
		d.loc = loc
	}
}

func defaultCharset() encoding.Encoding {
	return charmap.CodePage437
}
