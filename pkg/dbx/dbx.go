// Package dbx decodes Outlook Express 5/6 mail folders (.dbx).
//
// A folder is a tree of index nodes. Every node links to a previous and
// next sibling node and lists pointers to message info records, each of
// which may own a child node. Message bodies are chains of fixed-size
// blocks.
package dbx

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"

	"github.com/horde/compress/pkg/compress"
)

const format = "dbx"

// Magic is the first word of every folder file.
const Magic uint32 = 0xFE12ADCF

// Fixed offsets in the file header.
const (
	offItemCount = 0xC4
	offRootIndex = 0xE4
	headerSize   = offRootIndex + 4
)

// Record sizes.
const (
	indexHeaderSize = 24
	indexEntrySize  = 12
	infoHeaderSize  = 12
	blockSize       = 528
	blockHeaderSize = 16
	blockContent    = blockSize - blockHeaderSize
)

// Message info flag IDs. IDs with bit 0x80 set carry their value inline.
const (
	FlagMsgFlags    = 0x01
	FlagSent        = 0x02
	FlagPosition    = 0x04
	FlagMessageID   = 0x07
	FlagSubject     = 0x08
	FlagFromReply   = 0x09
	FlagReferences  = 0x0A
	FlagNewsgroup   = 0x0B
	FlagFrom        = 0x0D
	FlagReplyTo     = 0x0E
	FlagReceived    = 0x12
	FlagReceipt     = 0x13
	FlagAccount     = 0x1A
	FlagAccountID   = 0x1B
	FlagIndex       = 0x80
	FlagMsgFlagsDir = 0x81
	FlagPositionDir = 0x84
	FlagSize        = 0x91

	flagInline = 0x80
)

// FILETIME of the Unix epoch, in 100ns ticks since 1601.
const filetimeUnixDiff = 116444736000000000

// Info is a decoded message info record.
type Info struct {
	Index      uint32
	MsgFlags   uint32
	Sent       time.Time
	Position   uint32
	MessageID  string
	Subject    string
	FromReply  string
	References string
	Newsgroup  string
	From       string
	ReplyTo    string
	Received   time.Time
	Receipt    string
	Account    string
	AccountID  string
	Size       uint32
}

// Message is a message info record with its reassembled body.
type Message struct {
	Info       Info
	InfoOffset int64
	Content    []byte
}

// Entry converts the message into the shared entry form. The name falls
// back to the record offset when the message has no subject.
func (m *Message) Entry() compress.Entry {
	name := m.Info.Subject
	if name == "" {
		name = fmt.Sprintf("message-%08x", m.InfoOffset)
	}
	mtime := m.Info.Received
	if mtime.IsZero() {
		mtime = m.Info.Sent
	}
	return compress.Entry{
		Name:       name,
		Size:       uint64(len(m.Content)),
		ModTime:    mtime,
		Method:     "None",
		Type:       "message/rfc822",
		Data:       m.Content,
		DataOffset: int64(m.Info.Position),
	}
}

// IndexEntry is one pointer pair of an index node.
type IndexEntry struct {
	HeaderPos  uint32
	ChildIndex uint32
}

// Node is an index node as visited, in walk order.
type Node struct {
	Offset    int64
	Parent    int // Index into Tree.Nodes, -1 for the root
	PrevIndex uint32
	NextIndex uint32
	Entries   []IndexEntry
}

// Tree holds the visited index nodes.
type Tree struct {
	Nodes []Node
}

// Children returns the indices of the nodes reached from node i.
func (t *Tree) Children(i int) []int {
	var out []int
	for j := range t.Nodes {
		if t.Nodes[j].Parent == i {
			out = append(out, j)
		}
	}
	return out
}

// Folder is a decoded folder file.
type Folder struct {
	ItemCount uint32
	Tree      Tree
	Messages  []Message
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = l
	}
}

// WithLimits sets the resource limits. MaxNodes bounds the index nodes and
// body blocks visited; MaxOutput bounds one message body.
func WithLimits(l compress.Limits) Option {
	return func(d *Decoder) {
		d.limits = l
	}
}

// WithCharset sets the encoding of header strings. The default is
// Windows-1252.
func WithCharset(enc encoding.Encoding) Option {
	return func(d *Decoder) {
		d.charset = enc
	}
}

func defaultCharset() encoding.Encoding {
	return charmap.Windows1252
}
