package dbx

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/cursor"
)

// Decoder walks the index tree of a folder file.
type Decoder struct {
	logger  zerolog.Logger
	limits  compress.Limits
	charset encoding.Encoding
}

// NewDecoder creates a dbx decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		logger:  zerolog.Nop(),
		limits:  compress.DefaultLimits(),
		charset: defaultCharset(),
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

// Decompress returns the messages of the folder in walk order.
func (d *Decoder) Decompress(data []byte) ([]Message, error) {
	f, err := d.Decode(data)
	if err != nil {
		return nil, err
	}
	return f.Messages, nil
}

// Decode returns the folder with its index tree.
func (d *Decoder) Decode(data []byte) (*Folder, error) {
	f, err := d.decode(data)
	if err != nil {
		return nil, compress.Stamp(format, err)
	}
	return f, nil
}

type walkKind int

const (
	walkIndex walkKind = iota
	walkMessage
)

type work struct {
	kind   walkKind
	pos    uint32
	parent int
}

func (d *Decoder) decode(data []byte) (*Folder, error) {
	log := d.logger.With().Str("component", "decoder").Str("format", format).Logger()
	c := cursor.New(data)

	hdr, err := c.At(0, headerSize)
	if err != nil {
		return nil, err
	}
	if magic := binary.LittleEndian.Uint32(hdr[0:4]); magic != Magic {
		return nil, compress.NewError(format, "read header", 0, compress.ErrInvalidFormat,
			fmt.Errorf("bad magic %#08x", magic))
	}
	f := &Folder{ItemCount: binary.LittleEndian.Uint32(hdr[offItemCount:])}
	root := binary.LittleEndian.Uint32(hdr[offRootIndex:])
	if root == 0 {
		return f, nil
	}

	// Pushed in reverse so that nodes are visited next sibling first, then
	// previous sibling, then each entry's message followed by its child.
	stack := []work{{kind: walkIndex, pos: root, parent: -1}}
	visited := make(map[uint32]bool)
	// Bodies share one output budget; a record listed by many entries is
	// charged each time.
	budget := d.limits.MaxOutput
	for len(stack) > 0 {
		w := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if w.kind == walkMessage {
			if len(f.Messages) >= d.limits.MaxNodes {
				return nil, compress.NewError(format, "walk index", int64(w.pos), compress.ErrInvalidFormat,
					fmt.Errorf("more than %d messages", d.limits.MaxNodes))
			}
			m, err := d.readMessage(c, w.pos, budget)
			if err != nil {
				return nil, err
			}
			budget -= int64(len(m.Content))
			f.Messages = append(f.Messages, m)
			continue
		}

		if visited[w.pos] {
			log.Debug().Uint32("offset", w.pos).Msg("index node already visited")
			continue
		}
		if len(f.Tree.Nodes) >= d.limits.MaxNodes {
			return nil, compress.NewError(format, "walk index", int64(w.pos), compress.ErrInvalidFormat,
				fmt.Errorf("more than %d index nodes", d.limits.MaxNodes))
		}
		visited[w.pos] = true
		node, err := readIndex(c, w.pos, w.parent)
		if err != nil {
			return nil, err
		}
		at := len(f.Tree.Nodes)
		f.Tree.Nodes = append(f.Tree.Nodes, node)

		for i := len(node.Entries) - 1; i >= 0; i-- {
			e := node.Entries[i]
			if e.ChildIndex > 0 {
				stack = append(stack, work{kind: walkIndex, pos: e.ChildIndex, parent: at})
			}
			if e.HeaderPos > 0 {
				stack = append(stack, work{kind: walkMessage, pos: e.HeaderPos, parent: at})
			}
		}
		if node.PrevIndex > 0 {
			stack = append(stack, work{kind: walkIndex, pos: node.PrevIndex, parent: at})
		}
		if node.NextIndex > 0 {
			stack = append(stack, work{kind: walkIndex, pos: node.NextIndex, parent: at})
		}
	}

	if uint32(len(f.Messages)) != f.ItemCount {
		log.Debug().Uint32("declared", f.ItemCount).Int("found", len(f.Messages)).Msg("item count mismatch")
	}
	return f, nil
}

func readIndex(c *cursor.Cursor, pos uint32, parent int) (Node, error) {
	b, err := c.At(int64(pos), indexHeaderSize)
	if err != nil {
		return Node{}, err
	}
	if filePos := binary.LittleEndian.Uint32(b[0:4]); filePos != pos {
		return Node{}, compress.NewError(format, "read index", int64(pos), compress.ErrInvalidFormat,
			fmt.Errorf("node records position %#x", filePos))
	}
	n := Node{
		Offset:    int64(pos),
		Parent:    parent,
		PrevIndex: binary.LittleEndian.Uint32(b[8:12]),
		NextIndex: binary.LittleEndian.Uint32(b[12:16]),
	}
	count := int(binary.LittleEndian.Uint32(b[16:20]) >> 8)
	raw, err := c.At(int64(pos)+indexHeaderSize, count*indexEntrySize)
	if err != nil {
		return Node{}, err
	}
	n.Entries = make([]IndexEntry, count)
	for i := range n.Entries {
		e := raw[i*indexEntrySize:]
		n.Entries[i] = IndexEntry{
			HeaderPos:  binary.LittleEndian.Uint32(e[0:4]),
			ChildIndex: binary.LittleEndian.Uint32(e[4:8]),
		}
	}
	return n, nil
}

func (d *Decoder) readMessage(c *cursor.Cursor, pos uint32, budget int64) (Message, error) {
	info, err := d.readInfo(c, pos)
	if err != nil {
		return Message{}, err
	}
	m := Message{Info: info, InfoOffset: int64(pos)}
	if info.Position != 0 {
		if m.Content, err = d.readBody(c, info.Position, budget); err != nil {
			return Message{}, err
		}
	}
	return m, nil
}

// readInfo decodes the message info record at pos: a 12-byte header, the
// flag words, then the data buffer the out-of-line flags point into.
func (d *Decoder) readInfo(c *cursor.Cursor, pos uint32) (Info, error) {
	var info Info
	b, err := c.At(int64(pos), infoHeaderSize)
	if err != nil {
		return info, err
	}
	if filePos := binary.LittleEndian.Uint32(b[0:4]); filePos != pos {
		return info, compress.NewError(format, "read message info", int64(pos), compress.ErrInvalidFormat,
			fmt.Errorf("record states position %#x", filePos))
	}
	dataLen := binary.LittleEndian.Uint32(b[4:8])
	flagCount := int(binary.LittleEndian.Uint16(b[10:12]) & 0xff)
	if uint64(flagCount)*4 > uint64(dataLen) {
		return info, compress.NewError(format, "read message info", int64(pos), compress.ErrInvalidFormat,
			fmt.Errorf("%d flags in %d bytes", flagCount, dataLen))
	}
	body, err := c.At(int64(pos)+infoHeaderSize, int(dataLen))
	if err != nil {
		return info, err
	}
	flags, buf := body[:flagCount*4], body[flagCount*4:]

	for i := 0; i < flagCount; i++ {
		word := binary.LittleEndian.Uint32(flags[i*4:])
		id, val := byte(word&0xff), word>>8
		if id&flagInline != 0 {
			switch id {
			case FlagIndex:
				info.Index = val
			case FlagMsgFlagsDir:
				info.MsgFlags = val
			case FlagPositionDir:
				info.Position = val
			case FlagSize:
				info.Size = val
			default:
				d.logger.Debug().Str("format", format).Uint8("flag", id).Msg("ignoring inline flag")
			}
			continue
		}

		fc := cursor.New(buf)
		if err := fc.Seek(int64(val)); err != nil {
			return info, compress.NewError(format, "read message info", int64(pos), compress.ErrInvalidFormat,
				fmt.Errorf("flag %#02x points at %d in %d bytes", id, val, len(buf)))
		}
		if err := d.readField(fc, id, &info); err != nil {
			return info, err
		}
	}
	return info, nil
}

func (d *Decoder) readField(c *cursor.Cursor, id byte, info *Info) error {
	var str *string
	switch id {
	case FlagMsgFlags:
		b, err := c.Bytes(3)
		if err != nil {
			return err
		}
		info.MsgFlags = uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16
		return nil
	case FlagSent, FlagReceived:
		v, err := c.Uint64()
		if err != nil {
			return err
		}
		if id == FlagSent {
			info.Sent = filetime(v)
		} else {
			info.Received = filetime(v)
		}
		return nil
	case FlagPosition:
		v, err := c.Uint32()
		if err != nil {
			return err
		}
		info.Position = v
		return nil
	case FlagMessageID:
		str = &info.MessageID
	case FlagSubject:
		str = &info.Subject
	case FlagFromReply:
		str = &info.FromReply
	case FlagReferences:
		str = &info.References
	case FlagNewsgroup:
		str = &info.Newsgroup
	case FlagFrom:
		str = &info.From
	case FlagReplyTo:
		str = &info.ReplyTo
	case FlagReceipt:
		str = &info.Receipt
	case FlagAccount:
		str = &info.Account
	case FlagAccountID:
		str = &info.AccountID
	default:
		d.logger.Debug().Str("format", format).Uint8("flag", id).Msg("ignoring flag")
		return nil
	}
	s, err := c.CString()
	if err != nil {
		return err
	}
	*str = d.text(s)
	return nil
}

// readBody reassembles the block chain starting at pos. The body may add at
// most budget bytes to the output of the call.
func (d *Decoder) readBody(c *cursor.Cursor, pos uint32, budget int64) ([]byte, error) {
	var out []byte
	seen := make(map[uint32]bool)
	for pos != 0 {
		if seen[pos] {
			return nil, compress.NewError(format, "read body", int64(pos), compress.ErrInvalidFormat,
				fmt.Errorf("block %#x revisited", pos))
		}
		if len(seen) >= d.limits.MaxNodes {
			return nil, compress.NewError(format, "read body", int64(pos), compress.ErrInvalidFormat,
				fmt.Errorf("more than %d blocks", d.limits.MaxNodes))
		}
		seen[pos] = true

		b, err := c.At(int64(pos), blockSize)
		if err != nil {
			return nil, err
		}
		if filePos := binary.LittleEndian.Uint32(b[0:4]); filePos != pos {
			return nil, compress.NewError(format, "read body", int64(pos), compress.ErrInvalidFormat,
				fmt.Errorf("block records position %#x", filePos))
		}
		size := binary.LittleEndian.Uint32(b[8:12])
		if size > blockContent {
			return nil, compress.NewError(format, "read body", int64(pos), compress.ErrInvalidFormat,
				fmt.Errorf("block holds %d bytes", size))
		}
		if int64(len(out))+int64(size) > budget {
			return nil, compress.NewError(format, "read body", int64(pos), compress.ErrInvalidFormat,
				fmt.Errorf("output exceeds %d bytes", d.limits.MaxOutput))
		}
		out = append(out, b[blockHeaderSize:blockHeaderSize+size]...)
		pos = binary.LittleEndian.Uint32(b[12:16])
	}
	return out, nil
}

func (d *Decoder) text(b []byte) string {
	for _, c := range b {
		if c >= 0x80 {
			s, err := d.charset.NewDecoder().Bytes(b)
			if err != nil {
				return string(b)
			}
			return string(s)
		}
	}
	return string(b)
}

// filetime converts 100ns ticks since 1601 to a UTC time.
func filetime(v uint64) time.Time {
	if v == 0 || v > math.MaxInt64 {
		return time.Time{}
	}
	ticks := int64(v) - filetimeUnixDiff
	return time.Unix(ticks/1e7, ticks%1e7*100).UTC()
}
