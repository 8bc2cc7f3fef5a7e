package tar

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/horde/compress/pkg/compress"
)

const format = "tar"

// Decoder lists tar archives.
type Decoder struct {
	logger zerolog.Logger
	limits compress.Limits
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = l
	}
}

// WithLimits sets the resource limits. MaxNodes bounds the number of headers.
func WithLimits(l compress.Limits) Option {
	return func(d *Decoder) {
		d.limits = l
	}
}

// NewDecoder creates a tar decoder.
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

// Decompress walks the header blocks of data and returns one entry per
// named member. Regular files and directories carry their content in Data;
// other types carry metadata only.
//
// Fewer than BlockSize bytes remaining, or an all-zero block, ends the
// archive. A member whose declared size runs past the buffer is an error.
func (d *Decoder) Decompress(data []byte) ([]compress.Entry, error) {
	log := d.logger.With().Str("component", "decoder").Str("format", format).Logger()

	var (
		entries  []compress.Entry
		longName string
		paxPath  string
		headers  int
	)
	pos := 0
	for len(data)-pos >= BlockSize {
		block := data[pos : pos+BlockSize]
		if isZeroBlock(block) {
			log.Debug().Int("offset", pos).Msg("end of archive marker")
			break
		}
		headers++
		if headers > d.limits.MaxNodes {
			return nil, compress.NewError(format, "read header", int64(pos), compress.ErrInvalidFormat,
				fmt.Errorf("more than %d headers", d.limits.MaxNodes))
		}

		var h Header
		if err := h.DecodeFrom(block); err != nil {
			return nil, compress.NewError(format, "read header", int64(pos), compress.ErrInvalidFormat, err)
		}
		if h.Size < 0 {
			return nil, compress.NewError(format, "read header", int64(pos), compress.ErrInvalidFormat,
				fmt.Errorf("negative size %d", h.Size))
		}
		// Checksums are advisory; a blank field is left unchecked.
		if h.Checksum != 0 && !h.ChecksumOK(block) {
			log.Debug().Int("offset", pos).Int64("stored", h.Checksum).Msg("header checksum mismatch")
		}
		pos += BlockSize

		if h.Size > int64(len(data)-pos) {
			return nil, compress.NewError(format, "read contents", int64(pos), compress.ErrInsufficientData,
				fmt.Errorf("%q declares %d bytes, %d remain", h.FullName(), h.Size, len(data)-pos))
		}
		start := pos
		contents := data[pos : pos+int(h.Size) : pos+int(h.Size)]
		blocks := (h.Size + BlockSize - 1) / BlockSize
		pos += int(blocks) * BlockSize
		if pos > len(data) {
			pos = len(data)
		}

		switch h.Typeflag {
		case TypeGNULong:
			longName = cstring(contents)
			continue
		case TypeXHeader:
			paxPath = paxRecord(contents, "path")
			continue
		case TypeXGlobal, TypeGNULink:
			log.Debug().Int("offset", start-BlockSize).Str("type", string(h.Typeflag)).Msg("skipping extension header")
			continue
		}

		name := h.FullName()
		if paxPath != "" {
			name = paxPath
		} else if longName != "" {
			name = longName
		}
		longName, paxPath = "", ""
		if name == "" {
			continue
		}

		e := compress.Entry{
			Name:       name,
			Size:       uint64(h.Size),
			ModTime:    time.Unix(h.ModTime, 0).UTC(),
			Type:       TypeName(h.Typeflag),
			Attr:       h.Attr(),
			DataOffset: -1,
		}
		switch h.Typeflag {
		case TypeUnixFile, TypeFile, TypeDir:
			e.Data = contents
			e.DataOffset = int64(start)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// paxRecord returns the value of key in a PAX extended header, or "".
// Records have the form "%d %s=%s\n".
func paxRecord(b []byte, key string) string {
	for len(b) > 0 {
		sp := bytes.IndexByte(b, ' ')
		if sp <= 0 {
			return ""
		}
		n, err := strconv.Atoi(string(b[:sp]))
		if err != nil || n <= sp || n > len(b) {
			return ""
		}
		rec := strings.TrimSuffix(string(b[sp+1:n]), "\n")
		if k, v, ok := strings.Cut(rec, "="); ok && k == key {
			return v
		}
		b = b[n:]
	}
	return ""
}

func isZeroBlock(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}
