// Package gzip decodes and encodes single-member gzip (RFC 1952) data held
// in memory.
package gzip

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/horde/compress/pkg/compress"
)

const format = "gzip"

// Header flag bits.
const (
	FlagText    byte = 0x01
	FlagHCRC    byte = 0x02
	FlagExtra   byte = 0x04
	FlagName    byte = 0x08
	FlagComment byte = 0x10

	flagReserved byte = 0xe0
)

const (
	id1           = 0x1f
	id2           = 0x8b
	methodDeflate = 8
	headerSize    = 10
	trailerSize   = 8
)

// OS values found in the header.
var osNames = map[byte]string{
	0: "FAT", 1: "Amiga", 2: "VMS", 3: "Unix", 4: "VM/CMS", 5: "Atari TOS",
	6: "HPFS", 7: "Macintosh", 8: "Z-System", 9: "CP/M", 10: "TOPS-20",
	11: "NTFS", 12: "QDOS", 13: "Acorn RISCOS", 255: "unknown",
}

// OSName returns the display name of the header OS byte.
func OSName(os byte) string {
	if n, ok := osNames[os]; ok {
		return n
	}
	return "unknown"
}

// Member is a decoded gzip member.
type Member struct {
	Name       string
	Comment    string
	ModTime    time.Time // Zero when the header carries no timestamp
	Flags      byte
	ExtraFlags byte
	OS         byte
	Extra      []byte
	Data       []byte
}

// Entry converts the member into the common entry form.
func (m *Member) Entry(compressedSize int) compress.Entry {
	return compress.Entry{
		Name:           m.Name,
		Size:           uint64(len(m.Data)),
		CompressedSize: uint64(compressedSize),
		ModTime:        m.ModTime,
		Method:         "Deflated",
		Type:           OSName(m.OS),
		Data:           m.Data,
		DataOffset:     -1,
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

// WithLimits sets the resource limits. MaxOutput bounds the inflated size.
func WithLimits(l compress.Limits) Option {
	return func(d *Decoder) {
		d.limits = l
	}
}
