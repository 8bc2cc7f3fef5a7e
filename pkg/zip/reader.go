package zip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/cursor"
)

const sigEnd64Locator uint32 = 0x07064b50

// Decoder lists and extracts the members of a ZIP archive.
type Decoder struct {
	logger  zerolog.Logger
	limits  compress.Limits
	charset encoding.Encoding
	loc     *time.Location
}

// NewDecoder creates a zip decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		logger:  zerolog.Nop(),
		limits:  compress.DefaultLimits(),
		charset: defaultCharset(),
		loc:     time.UTC,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.limits = d.limits.Normalize()
	if d.charset == nil {
		d.charset = defaultCharset()
	}
	return d
}

// Decompress lists the archive or extracts one member of it, depending on
// p.Action. For ActionData the returned Result carries the listing used.
func (d *Decoder) Decompress(data []byte, p Params) (*Result, error) {
	switch p.Action {
	case ActionList:
		entries, err := d.List(data)
		if err != nil {
			return nil, err
		}
		return &Result{Entries: entries}, nil
	case ActionData:
		info := p.Info
		if info == nil {
			var err error
			if info, err = d.List(data); err != nil {
				return nil, err
			}
		}
		if p.Key < 0 || p.Key >= len(info) {
			return nil, compress.NewError(format, "decompress", -1, compress.ErrInvalidFormat,
				fmt.Errorf("key %d out of range [0,%d)", p.Key, len(info)))
		}
		out, err := d.Extract(data, &info[p.Key])
		if err != nil {
			return nil, err
		}
		return &Result{Entries: info, Data: out}, nil
	}
	return nil, compress.NewError(format, "decompress", -1, compress.ErrInvalidFormat,
		fmt.Errorf("unknown action %d", p.Action))
}

// List returns the members named by the central directory, each joined to
// its local header.
func (d *Decoder) List(data []byte) ([]Entry, error) {
	entries, err := d.list(data)
	if err != nil {
		return nil, compress.Stamp(format, err)
	}
	return entries, nil
}

func (d *Decoder) list(data []byte) ([]Entry, error) {
	log := d.logger.With().Str("component", "decoder").Str("format", format).Logger()

	endAt, end, err := findEnd(data)
	if err != nil {
		return nil, err
	}
	if err := end.Validate(); err != nil {
		return nil, compress.NewError(format, "read end record", int64(endAt), compress.ErrInvalidFormat, err)
	}
	if endAt >= 20 && binary.LittleEndian.Uint32(data[endAt-20:]) == sigEnd64Locator {
		return nil, compress.NewError(format, "read end record", int64(endAt-20), compress.ErrUnsupportedMethod,
			errors.New("zip64 end of central directory"))
	}
	dirEnd := int64(end.DirectoryOff) + int64(end.DirectorySize)
	if dirEnd > int64(endAt) {
		return nil, compress.NewError(format, "read end record", int64(endAt), compress.ErrInvalidFormat,
			fmt.Errorf("central directory [%d,%d) overlaps end record", end.DirectoryOff, dirEnd))
	}
	if int(end.TotalEntries) > d.limits.MaxNodes {
		return nil, compress.NewError(format, "read end record", int64(endAt), compress.ErrInvalidFormat,
			fmt.Errorf("%d entries exceeds limit %d", end.TotalEntries, d.limits.MaxNodes))
	}
	// Bytes prepended to the archive (a self-extractor stub) shift every
	// recorded offset.
	base := int64(endAt) - dirEnd
	if base > 0 {
		log.Debug().Int64("bytes", base).Msg("archive has prepended data")
	}

	entries, err := d.readDirectory(data, base+int64(end.DirectoryOff), int(end.TotalEntries))
	if err != nil {
		return nil, err
	}
	if err := d.joinLocal(data, base, entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// findEnd scans backwards for the end record. A candidate is accepted when
// its comment fits in the buffer.
func findEnd(data []byte) (int, EndRecord, error) {
	var r EndRecord
	if len(data) < EndRecordSize {
		return 0, r, compress.NewError(format, "find end record", 0, compress.ErrInsufficientData,
			fmt.Errorf("archive of %d bytes", len(data)))
	}
	lo := len(data) - EndRecordSize - uint16Max
	if lo < 0 {
		lo = 0
	}
	for i := len(data) - EndRecordSize; i >= lo; i-- {
		if binary.LittleEndian.Uint32(data[i:]) != sigEnd {
			continue
		}
		r.DecodeFrom(data[i : i+EndRecordSize])
		if i+EndRecordSize+int(r.CommentLength) > len(data) {
			continue
		}
		return i, r, nil
	}
	return 0, r, compress.NewError(format, "find end record", -1, compress.ErrInvalidFormat,
		errors.New("end of central directory not found"))
}

// readDirectory is pass one: it decodes n central directory records
// starting at off.
func (d *Decoder) readDirectory(data []byte, off int64, n int) ([]Entry, error) {
	c := cursor.New(data)
	if err := c.Seek(off); err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, n)
	for i := 0; i < n; i++ {
		at := int64(c.Offset())
		b, err := c.Bytes(CentralHeaderSize)
		if err != nil {
			return nil, err
		}
		var h CentralHeader
		h.DecodeFrom(b)
		if err := h.Validate(); err != nil {
			return nil, compress.NewError(format, "read central directory", at, compress.ErrInvalidFormat, err)
		}
		name, err := c.Bytes(int(h.NameLength))
		if err != nil {
			return nil, err
		}
		extra, err := c.Bytes(int(h.ExtraLength))
		if err != nil {
			return nil, err
		}
		comment, err := c.Bytes(int(h.CommentLength))
		if err != nil {
			return nil, err
		}

		size, csize, offset := uint64(h.Size), uint64(h.CompressedSize), uint64(h.LocalHeaderOffset)
		if err := zip64Extra(extra, &size, &csize, &offset); err != nil {
			return nil, compress.NewError(format, "read extra field", at, compress.ErrInvalidFormat, err)
		}
		if offset > uint64(len(data)) {
			return nil, compress.NewError(format, "read central directory", at, compress.ErrInvalidFormat,
				fmt.Errorf("local header offset %d beyond archive", offset))
		}
		entries = append(entries, Entry{
			Name:           d.text(name, h.Flags),
			Comment:        d.text(comment, h.Flags),
			Method:         Method(h.Method),
			Flags:          h.Flags,
			DOSTime:        h.DOSTime,
			ModTime:        DecodeDOSTimeIn(h.DOSTime, d.loc),
			CRC32:          h.CRC32,
			CompressedSize: csize,
			Size:           size,
			InternalAttrs:  h.InternalAttrs,
			ExternalAttrs:  h.ExternalAttrs,
			VersionMadeBy:  h.VersionMadeBy,
			HeaderOffset:   int64(offset),
			DataStart:      -1,
			rawName:        string(name),
		})
	}
	return entries, nil
}

// localHeader reads the local header at pos. ok is false when no complete
// header is there.
func localHeader(data []byte, pos int64) (h LocalHeader, name string, dataStart int64, ok bool) {
	if pos < 0 || pos+LocalHeaderSize > int64(len(data)) {
		return h, "", 0, false
	}
	h.DecodeFrom(data[pos : pos+LocalHeaderSize])
	if h.Validate() != nil {
		return h, "", 0, false
	}
	nameAt := pos + LocalHeaderSize
	dataStart = nameAt + int64(h.NameLength) + int64(h.ExtraLength)
	if dataStart > int64(len(data)) {
		return h, "", 0, false
	}
	return h, string(data[nameAt : nameAt+int64(h.NameLength)]), dataStart, true
}

// joinLocal is pass two: it walks the local headers from the start of the
// archive and records where each entry's data begins. Entries the walk
// misses are looked up at their recorded header offset.
func (d *Decoder) joinLocal(data []byte, base int64, entries []Entry) error {
	log := d.logger.With().Str("component", "decoder").Str("format", format).Logger()

	byName := make(map[string][]int, len(entries))
	for i := range entries {
		byName[entries[i].rawName] = append(byName[entries[i].rawName], i)
	}
	claim := func(name string) int {
		for _, i := range byName[name] {
			if entries[i].DataStart < 0 {
				return i
			}
		}
		return -1
	}

	// Each local header backs at most one entry.
	claimed := make(map[int64]bool, len(entries))
	pending := len(entries)
	pos := base
	for steps := 0; pending > 0 && steps < d.limits.MaxNodes; steps++ {
		h, name, start, ok := localHeader(data, pos)
		if !ok {
			break
		}
		csize := uint64(h.CompressedSize)
		zip64 := false
		if i := claim(name); i >= 0 {
			entries[i].DataStart = start
			claimed[start] = true
			csize = entries[i].CompressedSize
			zip64 = entries[i].Size >= uint32Max || csize >= uint32Max
			pending--
		} else {
			log.Debug().Int64("offset", pos).Str("name", name).Msg("local header not in central directory")
			if h.Flags&FlagDescriptor != 0 {
				break
			}
		}
		pos = start + int64(csize)
		if h.Flags&FlagDescriptor != 0 {
			pos = skipDescriptor(data, pos, zip64)
		}
	}

	for i := range entries {
		e := &entries[i]
		if e.DataStart < 0 {
			at := base + e.HeaderOffset
			if _, name, start, ok := localHeader(data, at); ok && name == e.rawName {
				if claimed[start] {
					return compress.NewError(format, "join local headers", at, compress.ErrInvalidFormat,
						fmt.Errorf("%q shares its local header with another entry", e.Name))
				}
				log.Debug().Int64("offset", at).Str("name", e.Name).Msg("joined by header offset")
				claimed[start] = true
				e.DataStart = start
			}
		}
		if e.DataStart < 0 {
			return compress.NewError(format, "join local headers", base+e.HeaderOffset, compress.ErrInvalidFormat,
				fmt.Errorf("no local header for %q", e.Name))
		}
		if end := uint64(e.DataStart) + e.CompressedSize; end > uint64(len(data)) {
			return compress.NewError(format, "join local headers", e.DataStart, compress.ErrInsufficientData,
				fmt.Errorf("%q needs %d bytes, %d available", e.Name, e.CompressedSize, int64(len(data))-e.DataStart))
		}
	}
	return nil
}

// skipDescriptor returns the offset following a data descriptor at pos.
// The descriptor signature is optional.
func skipDescriptor(data []byte, pos int64, zip64 bool) int64 {
	if pos+4 <= int64(len(data)) && binary.LittleEndian.Uint32(data[pos:]) == sigDescriptor {
		pos += 4
	}
	if zip64 {
		return pos + 20
	}
	return pos + 12
}

// Extract inflates the member e, verifying its size and CRC-32.
func (d *Decoder) Extract(data []byte, e *Entry) ([]byte, error) {
	out, err := d.extract(data, e)
	if err != nil {
		return nil, compress.Stamp(format, err)
	}
	return out, nil
}

func (d *Decoder) extract(data []byte, e *Entry) ([]byte, error) {
	if e.DataStart < 0 {
		return nil, compress.NewError(format, "extract", -1, compress.ErrInvalidFormat,
			fmt.Errorf("%q has no data offset", e.Name))
	}
	if e.Flags&FlagEncrypted != 0 {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrUnsupportedMethod,
			fmt.Errorf("%q is encrypted", e.Name))
	}
	if !e.Method.Supported() {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrUnsupportedMethod,
			fmt.Errorf("%q uses method %s", e.Name, e.Method))
	}
	c := cursor.New(data)
	if err := c.Seek(e.DataStart); err != nil {
		return nil, err
	}
	if uint64(c.Remaining()) < e.CompressedSize {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrInsufficientData,
			fmt.Errorf("%q needs %d bytes, %d available", e.Name, e.CompressedSize, c.Remaining()))
	}
	raw, err := c.Bytes(int(e.CompressedSize))
	if err != nil {
		return nil, err
	}
	if e.Size > uint64(d.limits.MaxOutput) {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrInvalidFormat,
			fmt.Errorf("%q declares %d bytes, limit %d", e.Name, e.Size, d.limits.MaxOutput))
	}

	rc, err := openMethod(e.Method, e.Flags, raw, e.Size)
	if err != nil {
		return nil, streamError(e, err)
	}
	defer rc.Close()
	out, err := io.ReadAll(io.LimitReader(rc, int64(e.Size)+1))
	if err != nil {
		return nil, streamError(e, err)
	}
	if uint64(len(out)) != e.Size {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrInvalidFormat,
			fmt.Errorf("%q expanded to %d bytes, declared %d", e.Name, len(out), e.Size))
	}
	if sum := crc32.ChecksumIEEE(out); sum != e.CRC32 {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrInvalidFormat,
			fmt.Errorf("%q crc32 stored %#08x, computed %#08x", e.Name, e.CRC32, sum))
	}
	return out, nil
}

func streamError(e *Entry, err error) error {
	kind := compress.ErrInvalidFormat
	if errors.Is(err, io.ErrUnexpectedEOF) {
		kind = compress.ErrInsufficientData
	}
	return compress.NewError(format, "expand "+e.Method.String(), e.DataStart, kind, err)
}

// text decodes a name or comment.
func (d *Decoder) text(b []byte, flags uint16) string {
	if flags&FlagUTF8 != 0 || isASCII(b) {
		return string(b)
	}
	s, err := d.charset.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(s)
}

func isASCII(b []byte) bool {
	return bytes.IndexFunc(b, func(r rune) bool { return r >= 0x80 }) < 0
}
