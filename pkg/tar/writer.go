package tar

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/horde/compress/pkg/compress"
)

// Encoder builds ustar archives.
type Encoder struct {
	now func() time.Time
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithClock sets the time source used for files without a ModTime.
func WithClock(now func() time.Time) EncoderOption {
	return func(e *Encoder) {
		e.now = now
	}
}

// NewEncoder creates a tar encoder.
func NewEncoder(opts ...EncoderOption) *Encoder {
	e := &Encoder{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compress writes files as a ustar archive terminated by two zero blocks.
// Names ending in "/" become directories. Names longer than the ustar
// fields allow are carried in a GNU long-name header.
func (e *Encoder) Compress(files []compress.File) ([]byte, error) {
	var buf bytes.Buffer
	block := make([]byte, BlockSize)

	writeHeader := func(h *Header) error {
		clear(block)
		if err := h.EncodeTo(block); err != nil {
			return err
		}
		buf.Write(block)
		return nil
	}
	writeContents := func(p []byte) {
		buf.Write(p)
		if pad := (BlockSize - len(p)%BlockSize) % BlockSize; pad > 0 {
			buf.Write(make([]byte, pad))
		}
	}

	for _, f := range files {
		name := strings.ReplaceAll(f.Name, "\\", "/")
		if name == "" {
			return nil, fmt.Errorf("tar: empty file name")
		}
		mtime := f.ModTime
		if mtime.IsZero() {
			mtime = e.now()
		}

		h := &Header{
			Mode:     0o644,
			Size:     int64(len(f.Data)),
			ModTime:  mtime.Unix(),
			Typeflag: TypeFile,
		}
		if strings.HasSuffix(name, "/") {
			h.Mode = 0o755
			h.Size = 0
			h.Typeflag = TypeDir
		}

		prefix, base, ok := splitUstarName(name)
		switch {
		case ok:
			h.Prefix, h.Name = prefix, base
		default:
			long := append([]byte(name), 0)
			lh := &Header{Name: "././@LongLink", Size: int64(len(long)), Typeflag: TypeGNULong}
			if err := writeHeader(lh); err != nil {
				return nil, fmt.Errorf("tar: write long name for %q: %w", name, err)
			}
			writeContents(long)
			h.Name = name[:100]
		}

		if err := writeHeader(h); err != nil {
			return nil, fmt.Errorf("tar: write header for %q: %w", name, err)
		}
		if h.Typeflag != TypeDir {
			writeContents(f.Data)
		}
	}
	buf.Write(make([]byte, 2*BlockSize))
	return buf.Bytes(), nil
}

// splitUstarName fits name into the 155-byte prefix and 100-byte name
// fields, splitting at a slash.
func splitUstarName(name string) (prefix, base string, ok bool) {
	if len(name) <= 100 {
		return "", name, true
	}
	for i := len(name) - 1; i > 0; i-- {
		if name[i] != '/' || i == len(name)-1 {
			continue
		}
		if i <= 155 && len(name)-i-1 <= 100 {
			return name[:i], name[i+1:], true
		}
	}
	return "", "", false
}
