package zip

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/DataDog/zstd"
	"github.com/klauspost/compress/flate"
	"github.com/ulikunitz/xz/lzma"
)

// Method is a ZIP compression method.
type Method uint16

// Methods the decoder recognizes by name.
const (
	Store     Method = 0
	Shrink    Method = 1
	Reduce1   Method = 2
	Reduce2   Method = 3
	Reduce3   Method = 4
	Reduce4   Method = 5
	Implode   Method = 6
	Deflate   Method = 8
	Deflate64 Method = 9
	BZIP2     Method = 12
	LZMA      Method = 14
	Zstd      Method = 93
	XZ        Method = 95
	PPMd      Method = 98
)

var methodNames = map[Method]string{
	Store:     "None",
	Shrink:    "Shrunk",
	Reduce1:   "Super Fast",
	Reduce2:   "Fast",
	Reduce3:   "Normal",
	Reduce4:   "Maximum",
	Implode:   "Imploded",
	Deflate:   "Deflated",
	Deflate64: "Deflate64",
	BZIP2:     "BZIP2",
	LZMA:      "LZMA",
	Zstd:      "Zstandard",
	XZ:        "XZ",
	PPMd:      "PPMd",
}

func (m Method) String() string {
	if n, ok := methodNames[m]; ok {
		return n
	}
	return fmt.Sprintf("Unknown(%d)", uint16(m))
}

// Supported reports whether the method can be extracted and written.
func (m Method) Supported() bool {
	switch m {
	case Store, Deflate, LZMA, Zstd:
		return true
	}
	return false
}

// versionNeeded is the "version needed to extract" written for m.
func (m Method) versionNeeded() uint16 {
	switch m {
	case LZMA, Zstd:
		return 63
	}
	return 20
}

// lzmaVersion is the LZMA SDK version written in the ZIP LZMA header.
var lzmaVersion = [2]byte{9, 20}

const lzmaPropsSize = 5

// openMethod returns a reader that expands raw according to m. size is the
// declared uncompressed size.
func openMethod(m Method, flags uint16, raw []byte, size uint64) (io.ReadCloser, error) {
	switch m {
	case Store:
		return io.NopCloser(bytes.NewReader(raw)), nil
	case Deflate:
		return flate.NewReader(bytes.NewReader(raw)), nil
	case LZMA:
		return openLZMA(flags, raw, size)
	case Zstd:
		return zstd.NewReader(bytes.NewReader(raw)), nil
	}
	return nil, fmt.Errorf("method %s", m)
}

// openLZMA converts the ZIP LZMA framing (version, properties size,
// properties) into the classic .lzma header the lzma package reads.
func openLZMA(flags uint16, raw []byte, size uint64) (io.ReadCloser, error) {
	if len(raw) < 4 {
		return nil, io.ErrUnexpectedEOF
	}
	psize := int(binary.LittleEndian.Uint16(raw[2:4]))
	if psize != lzmaPropsSize {
		return nil, fmt.Errorf("lzma properties size %d", psize)
	}
	if len(raw) < 4+psize {
		return nil, io.ErrUnexpectedEOF
	}
	hdr := make([]byte, lzmaPropsSize+8)
	copy(hdr, raw[4:4+psize])
	if flags&FlagLZMAEOS != 0 {
		binary.LittleEndian.PutUint64(hdr[lzmaPropsSize:], ^uint64(0))
	} else {
		binary.LittleEndian.PutUint64(hdr[lzmaPropsSize:], size)
	}
	r, err := lzma.NewReader(io.MultiReader(bytes.NewReader(hdr), bytes.NewReader(raw[4+psize:])))
	if err != nil {
		return nil, err
	}
	return io.NopCloser(r), nil
}

// compressMethod compresses data with m at the given level. The level is
// ignored by Store and LZMA.
func compressMethod(m Method, level int, data []byte) ([]byte, error) {
	switch m {
	case Store:
		return data, nil
	case Deflate:
		var buf bytes.Buffer
		fw, err := flate.NewWriter(&buf, level)
		if err != nil {
			return nil, err
		}
		if _, err := fw.Write(data); err != nil {
			return nil, err
		}
		if err := fw.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case LZMA:
		return compressLZMA(data)
	case Zstd:
		if level < 1 {
			level = zstd.DefaultCompression
		}
		return zstd.CompressLevel(nil, data, level)
	}
	return nil, fmt.Errorf("method %s", m)
}

// compressLZMA writes a classic .lzma stream with the size in its header,
// then swaps that 13-byte header for the ZIP LZMA framing.
func compressLZMA(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	cfg := lzma.WriterConfig{SizeInHeader: true, Size: int64(len(data))}
	lw, err := cfg.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := lw.Write(data); err != nil {
		return nil, err
	}
	if err := lw.Close(); err != nil {
		return nil, err
	}
	classic := buf.Bytes()
	if len(classic) < lzmaPropsSize+8 {
		return nil, fmt.Errorf("short lzma stream")
	}
	out := make([]byte, 0, 4+len(classic)-8)
	out = append(out, lzmaVersion[0], lzmaVersion[1], lzmaPropsSize, 0)
	out = append(out, classic[:lzmaPropsSize]...)
	return append(out, classic[lzmaPropsSize+8:]...), nil
}
