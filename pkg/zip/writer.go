package zip

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"strings"
	"time"

	"github.com/klauspost/compress/flate"

	"github.com/horde/compress/pkg/compress"
)

// DefaultCompressionLevel is used for Deflate and Zstd members.
const DefaultCompressionLevel = flate.DefaultCompression

const (
	hostUnix      = 3
	versionMadeBy = hostUnix<<8 | 63

	fileAttrs = 0o100644<<16 | 0x20
	dirAttrs  = 0o40755<<16 | 0x10
)

type centralRecord struct {
	header CentralHeader
	name   string
}

// Writer streams a ZIP archive to an io.Writer. Each member is compressed
// in full before its local header is written, so sizes are known up front
// and the destination never needs to seek.
type Writer struct {
	dst    io.Writer
	method Method
	level  int
	now    func() time.Time

	offset int64
	dir    []centralRecord
	closed bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithMethod sets the compression method for file members. Directories
// and empty files are always stored.
func WithMethod(m Method) WriterOption {
	return func(w *Writer) {
		w.method = m
	}
}

// WithCompressionLevel sets the level for Deflate and Zstd.
func WithCompressionLevel(level int) WriterOption {
	return func(w *Writer) {
		w.level = level
	}
}

// WithClock sets the time source used when a file has no ModTime.
func WithClock(now func() time.Time) WriterOption {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a writer that emits an archive to dst.
func NewWriter(dst io.Writer, opts ...WriterOption) *Writer {
	w := &Writer{
		dst:    dst,
		method: Deflate,
		level:  DefaultCompressionLevel,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Add compresses f and writes its local header and data. Backslashes in
// the name become forward slashes; a trailing slash marks a directory.
func (w *Writer) Add(f compress.File) error {
	if w.closed {
		return errors.New("zip: add to closed writer")
	}
	name := strings.ReplaceAll(f.Name, `\`, "/")
	if name == "" {
		return errors.New("zip: empty name")
	}
	if len(name) > uint16Max {
		return fmt.Errorf("zip: name of %d bytes too long", len(name))
	}
	if len(w.dir) >= uint16Max {
		return fmt.Errorf("zip: more than %d entries", uint16Max-1)
	}
	if w.offset > uint32Max {
		return fmt.Errorf("zip: archive exceeds %d bytes", int64(uint32Max))
	}
	if !w.method.Supported() {
		return fmt.Errorf("zip: cannot write method %s", w.method)
	}

	isDir := strings.HasSuffix(name, "/")
	method := w.method
	if isDir || len(f.Data) == 0 {
		method = Store
	}
	packed, err := compressMethod(method, w.level, f.Data)
	if err != nil {
		return fmt.Errorf("zip: compress %q: %w", name, err)
	}
	if uint64(len(f.Data)) >= uint32Max || uint64(len(packed)) >= uint32Max {
		return fmt.Errorf("zip: %q exceeds %d bytes", name, int64(uint32Max))
	}

	mtime := f.ModTime
	if mtime.IsZero() {
		mtime = w.now()
	}
	var flags uint16
	if !isASCII([]byte(name)) {
		flags |= FlagUTF8
	}
	attrs := uint32(fileAttrs)
	if isDir {
		attrs = dirAttrs
	}

	lh := LocalHeader{
		Version:        method.versionNeeded(),
		Flags:          flags,
		Method:         uint16(method),
		DOSTime:        EncodeDOSTime(mtime),
		CRC32:          crc32.ChecksumIEEE(f.Data),
		CompressedSize: uint32(len(packed)),
		Size:           uint32(len(f.Data)),
		NameLength:     uint16(len(name)),
	}
	start := w.offset
	var hdr [LocalHeaderSize]byte
	lh.EncodeTo(hdr[:])
	if err := w.write(hdr[:], []byte(name), packed); err != nil {
		return fmt.Errorf("zip: write %q: %w", name, err)
	}

	w.dir = append(w.dir, centralRecord{
		header: CentralHeader{
			VersionMadeBy:     versionMadeBy,
			Version:           lh.Version,
			Flags:             lh.Flags,
			Method:            lh.Method,
			DOSTime:           lh.DOSTime,
			CRC32:             lh.CRC32,
			CompressedSize:    lh.CompressedSize,
			Size:              lh.Size,
			NameLength:        lh.NameLength,
			ExternalAttrs:     attrs,
			LocalHeaderOffset: uint32(start),
		},
		name: name,
	})
	return nil
}

// Close writes the central directory and end record. It does not close
// the destination.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if w.offset > uint32Max {
		return fmt.Errorf("zip: archive exceeds %d bytes", int64(uint32Max))
	}

	dirStart := w.offset
	var hdr [CentralHeaderSize]byte
	for _, r := range w.dir {
		r.header.EncodeTo(hdr[:])
		if err := w.write(hdr[:], []byte(r.name)); err != nil {
			return fmt.Errorf("zip: write central directory: %w", err)
		}
	}
	end := EndRecord{
		DiskEntries:   uint16(len(w.dir)),
		TotalEntries:  uint16(len(w.dir)),
		DirectorySize: uint32(w.offset - dirStart),
		DirectoryOff:  uint32(dirStart),
	}
	var rec [EndRecordSize]byte
	end.EncodeTo(rec[:])
	if err := w.write(rec[:]); err != nil {
		return fmt.Errorf("zip: write end record: %w", err)
	}
	return nil
}

func (w *Writer) write(parts ...[]byte) error {
	for _, p := range parts {
		n, err := w.dst.Write(p)
		w.offset += int64(n)
		if err != nil {
			return err
		}
	}
	return nil
}

// Encoder builds complete archives in memory.
type Encoder struct {
	opts []WriterOption
}

// NewEncoder creates an encoder whose writers use opts.
func NewEncoder(opts ...WriterOption) *Encoder {
	return &Encoder{opts: opts}
}

// Compress returns an archive holding files in order.
func (e *Encoder) Compress(files []compress.File) ([]byte, error) {
	var buf bytes.Buffer
	if err := e.CompressTo(&buf, files); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressTo streams an archive holding files to dst.
func (e *Encoder) CompressTo(dst io.Writer, files []compress.File) error {
	w := NewWriter(dst, e.opts...)
	for _, f := range files {
		if err := w.Add(f); err != nil {
			return err
		}
	}
	return w.Close()
}
