// Package rar lists the members of RAR 1.5 to 4.x archives.
//
// Only metadata is decoded. Member payloads can be returned for entries
// that were stored without compression; everything else reports
// compress.ErrUnsupportedMethod.
package rar

import (
	"io/fs"
	"time"

	"github.com/rs/zerolog"

	"github.com/horde/compress/pkg/compress"
)

const format = "rar"

// Marker is the signature block that opens every archive.
var Marker = []byte("Rar!\x1a\x07\x00")

// Block types.
const (
	BlockMarker  byte = 0x72
	BlockArchive byte = 0x73
	BlockFile    byte = 0x74
	BlockComment byte = 0x75
	BlockAV      byte = 0x76
	BlockSub     byte = 0x77
	BlockProtect byte = 0x78
	BlockSign    byte = 0x79
	BlockNewSub  byte = 0x7a
	BlockEnd     byte = 0x7b
)

// Block header flags.
const (
	FlagSplitBefore uint16 = 0x0001
	FlagSplitAfter  uint16 = 0x0002
	FlagEncrypted   uint16 = 0x0004
	FlagSolid       uint16 = 0x0010
	FlagHighSize    uint16 = 0x0100
	FlagUnicode     uint16 = 0x0200
	FlagSalt        uint16 = 0x0400
	FlagExtTime     uint16 = 0x1000
	FlagAddSize     uint16 = 0x8000

	flagDirMask uint16 = 0x00e0
)

// BlockHeaderSize is the fixed part every block starts with.
const BlockHeaderSize = 7

// fileHeaderSize is the fixed part of a file block following the block
// header, up to the name.
const fileHeaderSize = 25

// Compression methods.
const (
	MethodStore   byte = 0x30
	MethodFastest byte = 0x31
	MethodFast    byte = 0x32
	MethodNormal  byte = 0x33
	MethodGood    byte = 0x34
	MethodBest    byte = 0x35
)

var methodNames = map[byte]string{
	MethodStore:   "Store",
	MethodFastest: "Fastest",
	MethodFast:    "Fast",
	MethodNormal:  "Normal",
	MethodGood:    "Good",
	MethodBest:    "Best",
}

// MethodName returns the display name of a method byte.
func MethodName(m byte) string {
	if n, ok := methodNames[m]; ok {
		return n
	}
	return "Unknown"
}

var hostNames = []string{"MS-DOS", "OS/2", "Win32", "Unix", "Mac OS", "BeOS"}

// HostName returns the display name of a host OS byte.
func HostName(os byte) string {
	if int(os) < len(hostNames) {
		return hostNames[os]
	}
	return "Unknown"
}

// Entry is a decoded file block.
type Entry struct {
	Name           string
	Size           uint64
	CompressedSize uint64
	HostOS         byte
	CRC32          uint32
	DOSTime        uint32
	ModTime        time.Time
	Version        byte
	Method         byte
	Attributes     uint32
	Flags          uint16
	DataStart      int64
}

// IsDir reports whether the block describes a directory.
func (e *Entry) IsDir() bool {
	return e.Flags&flagDirMask == flagDirMask
}

// Attr renders the attributes for the host that wrote them: a mode string
// for Unix, otherwise the MS-DOS D, A, S, H and R bits.
func (e *Entry) Attr() string {
	if e.HostOS == 3 {
		mode := fs.FileMode(e.Attributes & 0o777)
		if e.IsDir() {
			mode |= fs.ModeDir
		}
		return mode.String()
	}
	var b [5]byte
	for i, bit := range []struct {
		mask uint32
		c    byte
	}{{0x10, 'D'}, {0x20, 'A'}, {0x04, 'S'}, {0x02, 'H'}, {0x01, 'R'}} {
		b[i] = '-'
		if e.Attributes&bit.mask != 0 {
			b[i] = bit.c
		}
	}
	return string(b[:])
}

// Common converts the entry into the shared form.
func (e *Entry) Common() compress.Entry {
	typ := "File"
	if e.IsDir() {
		typ = "Directory"
	}
	return compress.Entry{
		Name:           e.Name,
		Size:           e.Size,
		CompressedSize: e.CompressedSize,
		ModTime:        e.ModTime,
		Method:         MethodName(e.Method),
		Attr:           e.Attr(),
		Type:           typ,
		DataOffset:     e.DataStart,
	}
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = l
	}
}

// WithLimits sets the resource limits. MaxNodes bounds the number of
// blocks walked.
func WithLimits(l compress.Limits) Option {
	return func(d *Decoder) {
		d.limits = l
	}
}

// WithLocation sets the zone DOS timestamps are interpreted in.
func WithLocation(loc *time.Location) Option {
	return func(d *Decoder) {
		d.loc = loc
	}
}
