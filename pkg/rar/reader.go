package rar

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/rs/zerolog"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/cursor"
	"github.com/horde/compress/pkg/zip"
)

// Decoder walks the block chain of a RAR archive.
type Decoder struct {
	logger zerolog.Logger
	limits compress.Limits
	loc    *time.Location
}

// NewDecoder creates a rar decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		logger: zerolog.Nop(),
		limits: compress.DefaultLimits(),
		loc:    time.UTC,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.limits = d.limits.Normalize()
	return d
}

// Decompress lists the archive in the shared entry form.
func (d *Decoder) Decompress(data []byte) ([]compress.Entry, error) {
	entries, err := d.List(data)
	if err != nil {
		return nil, err
	}
	out := make([]compress.Entry, len(entries))
	for i := range entries {
		out[i] = entries[i].Common()
	}
	return out, nil
}

// List walks the blocks following the marker and returns one entry per
// file block. The walk ends at the end-of-archive block, which must be
// present.
func (d *Decoder) List(data []byte) ([]Entry, error) {
	entries, err := d.list(data)
	if err != nil {
		return nil, compress.Stamp(format, err)
	}
	return entries, nil
}

func (d *Decoder) list(data []byte) ([]Entry, error) {
	log := d.logger.With().Str("component", "decoder").Str("format", format).Logger()

	start := bytes.Index(data, Marker)
	if start < 0 {
		return nil, compress.NewError(format, "find marker", -1, compress.ErrInvalidFormat,
			errors.New("marker block not found"))
	}
	if start > 0 {
		log.Debug().Int("offset", start).Msg("marker found after prepended data")
	}
	c := cursor.New(data)
	if err := c.Seek(int64(start + len(Marker))); err != nil {
		return nil, err
	}

	var entries []Entry
	for blocks := 0; ; blocks++ {
		if blocks >= d.limits.MaxNodes {
			return nil, compress.NewError(format, "walk blocks", int64(c.Offset()), compress.ErrInvalidFormat,
				fmt.Errorf("more than %d blocks", d.limits.MaxNodes))
		}
		// Writers may omit the end block; running out at a block
		// boundary ends the archive.
		if c.Remaining() == 0 {
			log.Debug().Int("offset", c.Offset()).Int("entries", len(entries)).Msg("archive ends without end block")
			return entries, nil
		}
		at := c.Offset()
		hdr, err := c.Bytes(BlockHeaderSize)
		if err != nil {
			return nil, err
		}
		var (
			crc   = binary.LittleEndian.Uint16(hdr[0:2])
			typ   = hdr[2]
			flags = binary.LittleEndian.Uint16(hdr[3:5])
			size  = int(binary.LittleEndian.Uint16(hdr[5:7]))
		)
		// The size counts the block header itself; anything smaller would
		// not advance the walk.
		if size < BlockHeaderSize {
			return nil, compress.NewError(format, "read block", int64(at), compress.ErrInvalidFormat,
				fmt.Errorf("block %#02x declares size %d", typ, size))
		}
		body, err := c.Bytes(size - BlockHeaderSize)
		if err != nil {
			return nil, err
		}
		if sum := uint16(crc32.ChecksumIEEE(data[at+2 : at+size])); sum != crc {
			log.Debug().Int("offset", at).Uint16("stored", crc).Uint16("computed", sum).Msg("block header crc mismatch")
		}

		switch typ {
		case BlockEnd:
			return entries, nil
		case BlockArchive:
			log.Debug().Int("offset", at).Msg("skipping archive header")
		case BlockFile:
			e, err := d.fileBlock(at, flags, body)
			if err != nil {
				return nil, err
			}
			e.DataStart = int64(c.Offset())
			if e.CompressedSize > uint64(c.Remaining()) {
				return nil, compress.NewError(format, "read file data", e.DataStart, compress.ErrInsufficientData,
					fmt.Errorf("%q packs %d bytes, %d available", e.Name, e.CompressedSize, c.Remaining()))
			}
			if err := c.Skip(int(e.CompressedSize)); err != nil {
				return nil, err
			}
			entries = append(entries, e)
		default:
			if flags&FlagAddSize != 0 {
				if len(body) < 4 {
					return nil, compress.NewError(format, "read block", int64(at), compress.ErrInvalidFormat,
						fmt.Errorf("block %#02x too short for its added size", typ))
				}
				add := binary.LittleEndian.Uint32(body[0:4])
				if uint64(add) > uint64(c.Remaining()) {
					return nil, compress.NewError(format, "skip block", int64(c.Offset()), compress.ErrInsufficientData,
						fmt.Errorf("block %#02x adds %d bytes, %d available", typ, add, c.Remaining()))
				}
				if err := c.Skip(int(add)); err != nil {
					return nil, err
				}
			}
			log.Debug().Int("offset", at).Uint8("type", typ).Msg("skipping block")
		}
	}
}

// fileBlock decodes the body of a file block starting at offset at.
func (d *Decoder) fileBlock(at int, flags uint16, body []byte) (Entry, error) {
	c := cursor.New(body)
	fixed, err := c.Bytes(fileHeaderSize)
	if err != nil {
		return Entry{}, compress.NewError(format, "read file header", int64(at), compress.ErrInvalidFormat,
			fmt.Errorf("file header body of %d bytes", len(body)))
	}
	e := Entry{
		CompressedSize: uint64(binary.LittleEndian.Uint32(fixed[0:4])),
		Size:           uint64(binary.LittleEndian.Uint32(fixed[4:8])),
		HostOS:         fixed[8],
		CRC32:          binary.LittleEndian.Uint32(fixed[9:13]),
		DOSTime:        binary.LittleEndian.Uint32(fixed[13:17]),
		Version:        fixed[17],
		Method:         fixed[18],
		Attributes:     binary.LittleEndian.Uint32(fixed[21:25]),
		Flags:          flags,
	}
	e.ModTime = zip.DecodeDOSTimeIn(e.DOSTime, d.loc)
	nameSize := int(binary.LittleEndian.Uint16(fixed[19:21]))

	if flags&FlagHighSize != 0 {
		high, err := c.Bytes(8)
		if err != nil {
			return Entry{}, compress.NewError(format, "read file header", int64(at), compress.ErrInvalidFormat,
				errors.New("missing high size words"))
		}
		e.CompressedSize |= uint64(binary.LittleEndian.Uint32(high[0:4])) << 32
		e.Size |= uint64(binary.LittleEndian.Uint32(high[4:8])) << 32
	}
	name, err := c.Bytes(nameSize)
	if err != nil {
		return Entry{}, compress.NewError(format, "read file name", int64(at), compress.ErrInvalidFormat,
			fmt.Errorf("name of %d bytes overruns header", nameSize))
	}
	if flags&FlagUnicode != 0 {
		if i := bytes.IndexByte(name, 0); i >= 0 {
			name = name[:i]
		}
	}
	e.Name = string(name)
	return e, nil
}

// Extract returns the payload of a stored entry after checking its CRC-32.
func (d *Decoder) Extract(data []byte, e *Entry) ([]byte, error) {
	if e.Flags&FlagEncrypted != 0 {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrUnsupportedMethod,
			fmt.Errorf("%q is encrypted", e.Name))
	}
	if e.Method != MethodStore || e.Flags&(FlagSplitBefore|FlagSplitAfter) != 0 {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrUnsupportedMethod,
			fmt.Errorf("%q uses method %s", e.Name, MethodName(e.Method)))
	}
	if e.Size > uint64(d.limits.MaxOutput) {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrInvalidFormat,
			fmt.Errorf("%q declares %d bytes, limit %d", e.Name, e.Size, d.limits.MaxOutput))
	}
	if e.Size != e.CompressedSize {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrInvalidFormat,
			fmt.Errorf("stored %q packs %d bytes for %d", e.Name, e.CompressedSize, e.Size))
	}
	c := cursor.New(data)
	if err := c.Seek(e.DataStart); err != nil {
		return nil, compress.Stamp(format, err)
	}
	out, err := c.Bytes(int(e.Size))
	if err != nil {
		return nil, compress.Stamp(format, err)
	}
	if sum := crc32.ChecksumIEEE(out); sum != e.CRC32 {
		return nil, compress.NewError(format, "extract", e.DataStart, compress.ErrInvalidFormat,
			fmt.Errorf("%q crc32 stored %#08x, computed %#08x", e.Name, e.CRC32, sum))
	}
	return bytes.Clone(out), nil
}
