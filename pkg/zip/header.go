// Package zip reads and writes ZIP archives held in memory.
//
// Reading is two-pass: the central directory supplies authoritative
// metadata and the local file headers supply the offset where each member's
// data begins. Writing is single-pass: every member is compressed before its
// local header is emitted, so no seeking is required.
package zip

import (
	"encoding/binary"
	"fmt"
)

// Record signatures.
const (
	sigLocal      uint32 = 0x04034b50 // "PK\x03\x04"
	sigCentral    uint32 = 0x02014b50 // "PK\x01\x02"
	sigEnd        uint32 = 0x06054b50 // "PK\x05\x06"
	sigDescriptor uint32 = 0x08074b50 // "PK\x07\x08"
)

// Fixed record sizes, signature included.
const (
	LocalHeaderSize   = 30
	CentralHeaderSize = 46
	EndRecordSize     = 22
)

// General purpose flag bits.
const (
	FlagEncrypted  uint16 = 0x0001
	FlagLZMAEOS    uint16 = 0x0002
	FlagDescriptor uint16 = 0x0008
	FlagUTF8       uint16 = 0x0800
)

const (
	zip64ExtraID = 0x0001
	uint32Max    = 0xffffffff
	uint16Max    = 0xffff
)

// LocalHeader is the fixed part of a local file header.
type LocalHeader struct {
	Signature      uint32
	Version        uint16
	Flags          uint16
	Method         uint16
	DOSTime        uint32
	CRC32          uint32
	CompressedSize uint32
	Size           uint32
	NameLength     uint16
	ExtraLength    uint16
}

// DecodeFrom reads the header from b, which must hold LocalHeaderSize
// bytes. Does not validate - use Validate.
func (h *LocalHeader) DecodeFrom(b []byte) {
	h.Signature = binary.LittleEndian.Uint32(b[0:4])
	h.Version = binary.LittleEndian.Uint16(b[4:6])
	h.Flags = binary.LittleEndian.Uint16(b[6:8])
	h.Method = binary.LittleEndian.Uint16(b[8:10])
	h.DOSTime = binary.LittleEndian.Uint32(b[10:14])
	h.CRC32 = binary.LittleEndian.Uint32(b[14:18])
	h.CompressedSize = binary.LittleEndian.Uint32(b[18:22])
	h.Size = binary.LittleEndian.Uint32(b[22:26])
	h.NameLength = binary.LittleEndian.Uint16(b[26:28])
	h.ExtraLength = binary.LittleEndian.Uint16(b[28:30])
}

// EncodeTo writes the header to b, which must hold LocalHeaderSize bytes.
func (h *LocalHeader) EncodeTo(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], sigLocal)
	binary.LittleEndian.PutUint16(b[4:6], h.Version)
	binary.LittleEndian.PutUint16(b[6:8], h.Flags)
	binary.LittleEndian.PutUint16(b[8:10], h.Method)
	binary.LittleEndian.PutUint32(b[10:14], h.DOSTime)
	binary.LittleEndian.PutUint32(b[14:18], h.CRC32)
	binary.LittleEndian.PutUint32(b[18:22], h.CompressedSize)
	binary.LittleEndian.PutUint32(b[22:26], h.Size)
	binary.LittleEndian.PutUint16(b[26:28], h.NameLength)
	binary.LittleEndian.PutUint16(b[28:30], h.ExtraLength)
}

// Validate checks the signature.
func (h *LocalHeader) Validate() error {
	if h.Signature != sigLocal {
		return fmt.Errorf("invalid local header signature %#08x", h.Signature)
	}
	return nil
}

// CentralHeader is the fixed part of a central directory record.
type CentralHeader struct {
	Signature         uint32
	VersionMadeBy     uint16
	Version           uint16
	Flags             uint16
	Method            uint16
	DOSTime           uint32
	CRC32             uint32
	CompressedSize    uint32
	Size              uint32
	NameLength        uint16
	ExtraLength       uint16
	CommentLength     uint16
	DiskStart         uint16
	InternalAttrs     uint16
	ExternalAttrs     uint32
	LocalHeaderOffset uint32
}

// DecodeFrom reads the header from b, which must hold CentralHeaderSize
// bytes. Does not validate - use Validate.
func (h *CentralHeader) DecodeFrom(b []byte) {
	h.Signature = binary.LittleEndian.Uint32(b[0:4])
	h.VersionMadeBy = binary.LittleEndian.Uint16(b[4:6])
	h.Version = binary.LittleEndian.Uint16(b[6:8])
	h.Flags = binary.LittleEndian.Uint16(b[8:10])
	h.Method = binary.LittleEndian.Uint16(b[10:12])
	h.DOSTime = binary.LittleEndian.Uint32(b[12:16])
	h.CRC32 = binary.LittleEndian.Uint32(b[16:20])
	h.CompressedSize = binary.LittleEndian.Uint32(b[20:24])
	h.Size = binary.LittleEndian.Uint32(b[24:28])
	h.NameLength = binary.LittleEndian.Uint16(b[28:30])
	h.ExtraLength = binary.LittleEndian.Uint16(b[30:32])
	h.CommentLength = binary.LittleEndian.Uint16(b[32:34])
	h.DiskStart = binary.LittleEndian.Uint16(b[34:36])
	h.InternalAttrs = binary.LittleEndian.Uint16(b[36:38])
	h.ExternalAttrs = binary.LittleEndian.Uint32(b[38:42])
	h.LocalHeaderOffset = binary.LittleEndian.Uint32(b[42:46])
}

// EncodeTo writes the header to b, which must hold CentralHeaderSize bytes.
func (h *CentralHeader) EncodeTo(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], sigCentral)
	binary.LittleEndian.PutUint16(b[4:6], h.VersionMadeBy)
	binary.LittleEndian.PutUint16(b[6:8], h.Version)
	binary.LittleEndian.PutUint16(b[8:10], h.Flags)
	binary.LittleEndian.PutUint16(b[10:12], h.Method)
	binary.LittleEndian.PutUint32(b[12:16], h.DOSTime)
	binary.LittleEndian.PutUint32(b[16:20], h.CRC32)
	binary.LittleEndian.PutUint32(b[20:24], h.CompressedSize)
	binary.LittleEndian.PutUint32(b[24:28], h.Size)
	binary.LittleEndian.PutUint16(b[28:30], h.NameLength)
	binary.LittleEndian.PutUint16(b[30:32], h.ExtraLength)
	binary.LittleEndian.PutUint16(b[32:34], h.CommentLength)
	binary.LittleEndian.PutUint16(b[34:36], h.DiskStart)
	binary.LittleEndian.PutUint16(b[36:38], h.InternalAttrs)
	binary.LittleEndian.PutUint32(b[38:42], h.ExternalAttrs)
	binary.LittleEndian.PutUint32(b[42:46], h.LocalHeaderOffset)
}

// Validate checks the signature.
func (h *CentralHeader) Validate() error {
	if h.Signature != sigCentral {
		return fmt.Errorf("invalid central directory signature %#08x", h.Signature)
	}
	return nil
}

// EndRecord is the end-of-central-directory record.
type EndRecord struct {
	Signature     uint32
	Disk          uint16
	DirectoryDisk uint16
	DiskEntries   uint16
	TotalEntries  uint16
	DirectorySize uint32
	DirectoryOff  uint32
	CommentLength uint16
}

// DecodeFrom reads the record from b, which must hold EndRecordSize bytes.
func (r *EndRecord) DecodeFrom(b []byte) {
	r.Signature = binary.LittleEndian.Uint32(b[0:4])
	r.Disk = binary.LittleEndian.Uint16(b[4:6])
	r.DirectoryDisk = binary.LittleEndian.Uint16(b[6:8])
	r.DiskEntries = binary.LittleEndian.Uint16(b[8:10])
	r.TotalEntries = binary.LittleEndian.Uint16(b[10:12])
	r.DirectorySize = binary.LittleEndian.Uint32(b[12:16])
	r.DirectoryOff = binary.LittleEndian.Uint32(b[16:20])
	r.CommentLength = binary.LittleEndian.Uint16(b[20:22])
}

// EncodeTo writes the record to b, which must hold EndRecordSize bytes.
func (r *EndRecord) EncodeTo(b []byte) {
	binary.LittleEndian.PutUint32(b[0:4], sigEnd)
	binary.LittleEndian.PutUint16(b[4:6], r.Disk)
	binary.LittleEndian.PutUint16(b[6:8], r.DirectoryDisk)
	binary.LittleEndian.PutUint16(b[8:10], r.DiskEntries)
	binary.LittleEndian.PutUint16(b[10:12], r.TotalEntries)
	binary.LittleEndian.PutUint32(b[12:16], r.DirectorySize)
	binary.LittleEndian.PutUint32(b[16:20], r.DirectoryOff)
	binary.LittleEndian.PutUint16(b[20:22], r.CommentLength)
}

// Validate checks the record for a single-disk archive.
func (r *EndRecord) Validate() error {
	if r.Signature != sigEnd {
		return fmt.Errorf("invalid end record signature %#08x", r.Signature)
	}
	if r.Disk != 0 || r.DirectoryDisk != 0 {
		return fmt.Errorf("multi-disk archives are not supported")
	}
	if r.DiskEntries != r.TotalEntries {
		return fmt.Errorf("entry counts disagree: disk %d, total %d", r.DiskEntries, r.TotalEntries)
	}
	return nil
}

// zip64Extra overrides saturated 32-bit fields from a Zip64 extended
// information extra field, in APPNOTE order.
func zip64Extra(extra []byte, size, csize, offset *uint64) error {
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra[0:2])
		n := int(binary.LittleEndian.Uint16(extra[2:4]))
		if 4+n > len(extra) {
			return fmt.Errorf("extra field %#04x overruns by %d bytes", id, 4+n-len(extra))
		}
		body := extra[4 : 4+n]
		extra = extra[4+n:]
		if id != zip64ExtraID {
			continue
		}
		for _, f := range []*uint64{size, csize, offset} {
			if *f != uint32Max {
				continue
			}
			if len(body) < 8 {
				return fmt.Errorf("zip64 extra field too short")
			}
			*f = binary.LittleEndian.Uint64(body[:8])
			body = body[8:]
		}
	}
	return nil
}
