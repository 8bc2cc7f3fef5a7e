// Package tar decodes and encodes POSIX ustar / GNU tar archives held in
// memory.
package tar

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
)

// BlockSize is the size of a header and the content alignment unit.
const BlockSize = 512

// Header field offsets within a 512-byte block.
const (
	offName     = 0
	offMode     = 100
	offUID      = 108
	offGID      = 116
	offSize     = 124
	offMtime    = 136
	offChksum   = 148
	offTypeflag = 156
	offLinkname = 157
	offMagic    = 257
	offVersion  = 263
	offUname    = 265
	offGname    = 297
	offDevmajor = 329
	offDevminor = 337
	offPrefix   = 345
)

// Type flags.
const (
	TypeUnixFile   byte = 0x00
	TypeFile       byte = '0'
	TypeLink       byte = '1'
	TypeSymlink    byte = '2'
	TypeChar       byte = '3'
	TypeBlock      byte = '4'
	TypeDir        byte = '5'
	TypeFifo       byte = '6'
	TypeContiguous byte = '7'
	TypeXHeader    byte = 'x'
	TypeXGlobal    byte = 'g'
	TypeGNULong    byte = 'L'
	TypeGNULink    byte = 'K'
)

var typeNames = map[byte]string{
	TypeUnixFile:   "Unix file",
	TypeFile:       "File",
	TypeLink:       "Link",
	TypeSymlink:    "Symbolic link",
	TypeChar:       "Character special file",
	TypeBlock:      "Block special file",
	TypeDir:        "Directory",
	TypeFifo:       "FIFO special file",
	TypeContiguous: "Contiguous file",
}

// TypeName returns the display name of a type flag, or "" if unknown.
func TypeName(flag byte) string {
	return typeNames[flag]
}

var (
	magicUstar  = []byte("ustar\x00")
	magicGNU    = []byte("ustar ")
	versionZero = []byte("00")
)

// Header is a decoded 512-byte tar header block.
type Header struct {
	Name     string
	Mode     int64
	UID      int64
	GID      int64
	Size     int64
	ModTime  int64
	Checksum int64
	Typeflag byte
	Linkname string
	Magic    string
	Uname    string
	Gname    string
	Prefix   string
}

// DecodeFrom parses a header block. The block must be BlockSize bytes.
// Does not validate the checksum - use Validate.
func (h *Header) DecodeFrom(b []byte) error {
	if len(b) < BlockSize {
		return fmt.Errorf("header block too short: need %d, got %d", BlockSize, len(b))
	}
	var err error
	numeric := []struct {
		dst  *int64
		off  int
		size int
		name string
	}{
		{&h.Mode, offMode, 8, "mode"},
		{&h.UID, offUID, 8, "uid"},
		{&h.GID, offGID, 8, "gid"},
		{&h.Size, offSize, 12, "size"},
		{&h.ModTime, offMtime, 12, "mtime"},
		{&h.Checksum, offChksum, 8, "checksum"},
	}
	for _, f := range numeric {
		if *f.dst, err = parseNumber(b[f.off : f.off+f.size]); err != nil {
			return fmt.Errorf("parse %s: %w", f.name, err)
		}
	}
	h.Name = cstring(b[offName : offName+100])
	h.Typeflag = b[offTypeflag]
	h.Linkname = cstring(b[offLinkname : offLinkname+100])
	h.Magic = string(b[offMagic : offMagic+6])
	if bytes.Equal(b[offMagic:offMagic+6], magicUstar) || bytes.Equal(b[offMagic:offMagic+6], magicGNU) {
		h.Uname = cstring(b[offUname : offUname+32])
		h.Gname = cstring(b[offGname : offGname+32])
	}
	if bytes.Equal(b[offMagic:offMagic+6], magicUstar) {
		h.Prefix = cstring(b[offPrefix : offPrefix+155])
	}
	return nil
}

// Validate checks the size and the stored checksum against the block.
func (h *Header) Validate(b []byte) error {
	if h.Size < 0 {
		return fmt.Errorf("negative size %d", h.Size)
	}
	if !h.ChecksumOK(b) {
		unsigned, _ := checksum(b)
		return fmt.Errorf("checksum mismatch: stored %o, computed %o", h.Checksum, unsigned)
	}
	return nil
}

// ChecksumOK reports whether the stored checksum matches the block. Both
// the unsigned and the historic signed sums are accepted.
func (h *Header) ChecksumOK(b []byte) bool {
	unsigned, signed := checksum(b)
	return h.Checksum == unsigned || h.Checksum == signed
}

// FullName joins the ustar prefix and name.
func (h *Header) FullName() string {
	name := strings.TrimSpace(h.Name)
	if h.Prefix != "" {
		return h.Prefix + "/" + name
	}
	return name
}

// EncodeTo writes the header into a zeroed BlockSize buffer, computing the
// checksum last.
func (h *Header) EncodeTo(b []byte) error {
	if len(b) < BlockSize {
		return fmt.Errorf("header buffer too short: need %d, got %d", BlockSize, len(b))
	}
	if len(h.Name) > 100 || len(h.Linkname) > 100 || len(h.Prefix) > 155 {
		return fmt.Errorf("name too long for ustar header: %q", h.Name)
	}
	copy(b[offName:], h.Name)
	formatOctal(b[offMode:offMode+8], h.Mode)
	formatOctal(b[offUID:offUID+8], h.UID)
	formatOctal(b[offGID:offGID+8], h.GID)
	formatOctal(b[offSize:offSize+12], h.Size)
	formatOctal(b[offMtime:offMtime+12], h.ModTime)
	b[offTypeflag] = h.Typeflag
	copy(b[offLinkname:], h.Linkname)
	copy(b[offMagic:], magicUstar)
	copy(b[offVersion:], versionZero)
	copy(b[offUname:offUname+32], h.Uname)
	copy(b[offGname:offGname+32], h.Gname)
	formatOctal(b[offDevmajor:offDevmajor+8], 0)
	formatOctal(b[offDevminor:offDevminor+8], 0)
	copy(b[offPrefix:offPrefix+155], h.Prefix)

	sum, _ := checksum(b)
	h.Checksum = sum
	// Six octal digits, NUL, space.
	copy(b[offChksum:offChksum+8], fmt.Sprintf("%06o\x00 ", sum))
	return nil
}

// Attr renders the mode as a type character followed by rwx triads.
func (h *Header) Attr() string {
	var b [10]byte
	switch h.Typeflag {
	case TypeDir:
		b[0] = 'd'
	case TypeSymlink:
		b[0] = 'l'
	case TypeChar:
		b[0] = 'c'
	case TypeBlock:
		b[0] = 'b'
	case TypeFifo:
		b[0] = 'p'
	default:
		b[0] = '-'
	}
	const rwx = "rwxrwxrwx"
	for i := 0; i < 9; i++ {
		if h.Mode&(1<<uint(8-i)) != 0 {
			b[i+1] = rwx[i]
		} else {
			b[i+1] = '-'
		}
	}
	return string(b[:])
}

// checksum returns the unsigned and signed byte sums of a header block with
// the checksum field taken as spaces.
func checksum(b []byte) (unsigned, signed int64) {
	for i := 0; i < BlockSize; i++ {
		c := b[i]
		if i >= offChksum && i < offChksum+8 {
			c = ' '
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return unsigned, signed
}

// parseNumber extracts a number from the encoded form in the tar header.
// Both octal text and the GNU base-256 binary form are accepted.
func parseNumber(b []byte) (int64, error) {
	if len(b) > 0 && b[0]&0x80 != 0 {
		// Handling negative numbers relies on the identity -a-1 == ^a.
		var inv byte
		if b[0]&0x40 != 0 {
			inv = 0xff
		}
		var x uint64
		for i, c := range b {
			c ^= inv
			if i == 0 {
				c &= 0x7f
			}
			if (x >> 56) > 0 {
				return 0, fmt.Errorf("integer overflow")
			}
			x = x<<8 | uint64(c)
		}
		if (x >> 63) > 0 {
			return 0, fmt.Errorf("integer overflow")
		}
		if inv == 0xff {
			return ^int64(x), nil
		}
		return int64(x), nil
	}
	s := strings.Trim(cstring(b), " \x00")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 8, 63)
	if err != nil {
		return 0, err
	}
	return int64(n), nil
}

// formatOctal writes v as zero-padded octal followed by a NUL, or base-256
// when it does not fit.
func formatOctal(b []byte, v int64) {
	s := strconv.FormatInt(v, 8)
	if len(s) < len(b) {
		copy(b, strings.Repeat("0", len(b)-1-len(s))+s)
		b[len(b)-1] = 0
		return
	}
	for i := len(b) - 1; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	b[0] |= 0x80
}

// cstring interprets b as a C string. If there is no NUL, it returns the
// entire slice.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
