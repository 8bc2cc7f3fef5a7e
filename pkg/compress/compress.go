// Package compress defines the contract shared by the archive decoders:
// the common file entry, encoder input, error taxonomy and resource limits.
package compress

import "time"

// Entry describes one member of a decoded archive.
type Entry struct {
	Name           string
	Size           uint64 // Uncompressed size
	CompressedSize uint64 // On-disk size, zero where the format has none
	ModTime        time.Time
	Method         string // Format specific compression method name
	Attr           string // Rendered permission or attribute flags
	Type           string // Format specific entry type
	Data           []byte // Inline content, nil when not retained
	DataOffset     int64  // Offset of the content in the source, -1 if unknown
}

// File is an input member for an encoder.
type File struct {
	Name    string
	Data    []byte
	ModTime time.Time // Zero means the encoder's clock
}

// Decompressor lists the members of an archive held in memory.
type Decompressor interface {
	Decompress(data []byte) ([]Entry, error)
}

// Compressor builds an archive from a set of files.
type Compressor interface {
	Compress(files []File) ([]byte, error)
}
