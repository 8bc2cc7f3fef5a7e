package dbx

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horde/compress/pkg/compress"
)

// builder lays out a folder file record by record.
type builder struct {
	buf []byte
}

func newBuilder() *builder {
	b := &builder{buf: make([]byte, headerSize)}
	binary.LittleEndian.PutUint32(b.buf[0:], Magic)
	return b
}

func (b *builder) alloc(n int) uint32 {
	pos := len(b.buf)
	b.buf = append(b.buf, make([]byte, n)...)
	return uint32(pos)
}

func (b *builder) put32(pos uint32, v uint32) {
	binary.LittleEndian.PutUint32(b.buf[pos:], v)
}

func (b *builder) allocIndex(entries int) uint32 {
	pos := b.alloc(indexHeaderSize + entries*indexEntrySize)
	b.put32(pos, pos)
	b.put32(pos+16, uint32(entries)<<8)
	return pos
}

func (b *builder) link(pos, prev, next uint32, entries ...IndexEntry) {
	b.put32(pos+8, prev)
	b.put32(pos+12, next)
	for i, e := range entries {
		at := pos + indexHeaderSize + uint32(i*indexEntrySize)
		b.put32(at, e.HeaderPos)
		b.put32(at+4, e.ChildIndex)
	}
}

type field struct {
	id    byte
	value uint32 // inline value
	data  []byte // out-of-line value
}

func (b *builder) info(fields ...field) uint32 {
	var words, data []byte
	for _, f := range fields {
		v := f.value
		if f.id&flagInline == 0 {
			v = uint32(len(data))
			data = append(data, f.data...)
		}
		words = binary.LittleEndian.AppendUint32(words, uint32(f.id)|v<<8)
	}
	body := append(words, data...)
	pos := b.alloc(infoHeaderSize + len(body))
	b.put32(pos, pos)
	b.put32(pos+4, uint32(len(body)))
	binary.LittleEndian.PutUint16(b.buf[pos+10:], uint16(len(fields)))
	copy(b.buf[pos+infoHeaderSize:], body)
	return pos
}

func (b *builder) body(content []byte) uint32 {
	var first, prev uint32
	for len(content) > 0 {
		n := min(len(content), blockContent)
		pos := b.alloc(blockSize)
		b.put32(pos, pos)
		b.put32(pos+8, uint32(n))
		copy(b.buf[pos+blockHeaderSize:], content[:n])
		content = content[n:]
		if prev != 0 {
			b.put32(prev+12, pos)
		} else {
			first = pos
		}
		prev = pos
	}
	return first
}

func (b *builder) root(pos uint32, items uint32) []byte {
	b.put32(offRootIndex, pos)
	b.put32(offItemCount, items)
	return b.buf
}

func cstr(s string) []byte { return append([]byte(s), 0) }

func ft(t time.Time) []byte {
	return binary.LittleEndian.AppendUint64(nil, uint64(t.UnixNano()/100+filetimeUnixDiff))
}

var (
	sent     = time.Date(2004, 3, 2, 10, 0, 0, 0, time.UTC)
	received = time.Date(2004, 3, 2, 10, 5, 30, 0, time.UTC)
	long     = bytes.Repeat([]byte("Body line of a long message.\r\n"), 60)
)

// sampleFolder builds a root with two entries whose first owns a child
// node, and a next sibling holding a third message.
//
//	root -> next: sibling[msg "three"]
//	root entries: [msg "one", child[msg "four"]], [msg "two"]
func sampleFolder() []byte {
	b := newBuilder()
	root := b.allocIndex(2)
	sibling := b.allocIndex(1)
	child := b.allocIndex(1)

	msg := func(subject string, index uint32, content []byte) uint32 {
		fields := []field{
			{id: FlagIndex, value: index},
			{id: FlagSubject, data: cstr(subject)},
			{id: FlagFrom, data: cstr("Gr\xfcn <gruen@example.com>")},
			{id: FlagMessageID, data: cstr("<" + subject + "@example.com>")},
			{id: FlagSent, data: ft(sent)},
			{id: FlagReceived, data: ft(received)},
			{id: FlagMsgFlags, data: []byte{0x81, 0x00, 0x01}},
			{id: FlagSize, value: uint32(len(content))},
		}
		pos := b.info(append(fields, field{id: FlagPositionDir})...)
		if len(content) > 0 {
			body := b.body(content)
			// Patch the inline position word, the last flag.
			word := pos + infoHeaderSize + uint32(len(fields))*4
			b.put32(word, uint32(FlagPositionDir)|body<<8)
		}
		return pos
	}

	one := msg("one", 1, []byte("Subject: one\r\n\r\nfirst"))
	two := msg("two", 2, nil)
	three := msg("three", 3, long)
	four := msg("four", 4, []byte("Subject: four\r\n\r\nfourth"))

	b.link(root, 0, sibling, IndexEntry{HeaderPos: one, ChildIndex: child}, IndexEntry{HeaderPos: two})
	b.link(sibling, 0, 0, IndexEntry{HeaderPos: three})
	b.link(child, 0, 0, IndexEntry{HeaderPos: four})
	return b.root(root, 4)
}

func TestDecode(t *testing.T) {
	data := sampleFolder()
	f, err := NewDecoder().Decode(data)
	require.NoError(t, err)

	var subjects []string
	for _, m := range f.Messages {
		subjects = append(subjects, m.Info.Subject)
	}
	assert.Equal(t, []string{"three", "one", "four", "two"}, subjects)
	assert.Equal(t, uint32(4), f.ItemCount)

	require.Len(t, f.Tree.Nodes, 3)
	assert.Equal(t, -1, f.Tree.Nodes[0].Parent)
	assert.Equal(t, []int{1, 2}, f.Tree.Children(0))

	want := Info{
		Index:     1,
		MsgFlags:  0x010081,
		Sent:      sent,
		Subject:   "one",
		MessageID: "<one@example.com>",
		From:      "Grün <gruen@example.com>",
		Received:  received,
		Size:      uint32(len("Subject: one\r\n\r\nfirst")),
	}
	got := f.Messages[1].Info
	want.Position = got.Position
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("info mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []byte("Subject: one\r\n\r\nfirst"), f.Messages[1].Content)
	assert.Equal(t, long, f.Messages[0].Content)
	assert.Nil(t, f.Messages[3].Content)

	e := f.Messages[3].Entry()
	assert.Equal(t, "two", e.Name)
	assert.Equal(t, received, e.ModTime)
	assert.Equal(t, "message/rfc822", e.Type)
}

func TestCycles(t *testing.T) {
	t.Run("Self", func(t *testing.T) {
		b := newBuilder()
		root := b.allocIndex(1)
		b.link(root, root, root, IndexEntry{HeaderPos: b.info(field{id: FlagSubject, data: cstr("only")}), ChildIndex: root})
		f, err := NewDecoder().Decode(b.root(root, 1))
		require.NoError(t, err)
		assert.Len(t, f.Tree.Nodes, 1)
		require.Len(t, f.Messages, 1)
		assert.Equal(t, "only", f.Messages[0].Info.Subject)
	})

	t.Run("Mutual", func(t *testing.T) {
		b := newBuilder()
		a := b.allocIndex(0)
		c := b.allocIndex(0)
		b.link(a, c, c)
		b.link(c, a, a)
		f, err := NewDecoder().Decode(b.root(a, 0))
		require.NoError(t, err)
		assert.Len(t, f.Tree.Nodes, 2)
		assert.Empty(t, f.Messages)
	})

	t.Run("NodeLimit", func(t *testing.T) {
		b := newBuilder()
		nodes := make([]uint32, 5)
		for i := range nodes {
			nodes[i] = b.allocIndex(0)
		}
		for i := 0; i < len(nodes)-1; i++ {
			b.link(nodes[i], 0, nodes[i+1])
		}
		_, err := NewDecoder(WithLimits(compress.Limits{MaxNodes: 3})).Decode(b.root(nodes[0], 0))
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})

	t.Run("BodyLoop", func(t *testing.T) {
		b := newBuilder()
		root := b.allocIndex(1)
		body := b.body([]byte("looping"))
		b.put32(body+12, body)
		b.link(root, 0, 0, IndexEntry{HeaderPos: b.info(field{id: FlagPositionDir, value: body})})
		_, err := NewDecoder().Decode(b.root(root, 1))
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})
}

func TestCorruption(t *testing.T) {
	t.Run("Magic", func(t *testing.T) {
		data := sampleFolder()
		data[0] ^= 0xff
		_, err := NewDecoder().Decode(data)
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})

	t.Run("IndexPosition", func(t *testing.T) {
		data := sampleFolder()
		root := binary.LittleEndian.Uint32(data[offRootIndex:])
		binary.LittleEndian.PutUint32(data[root:], root+4)
		_, err := NewDecoder().Decode(data)
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})

	t.Run("BlockPosition", func(t *testing.T) {
		b := newBuilder()
		root := b.allocIndex(1)
		body := b.body([]byte("x"))
		b.put32(body, body+1)
		b.link(root, 0, 0, IndexEntry{HeaderPos: b.info(field{id: FlagPositionDir, value: body})})
		_, err := NewDecoder().Decode(b.root(root, 1))
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})

	t.Run("ItemSize", func(t *testing.T) {
		b := newBuilder()
		root := b.allocIndex(1)
		body := b.body([]byte("x"))
		b.put32(body+8, blockContent+1)
		b.link(root, 0, 0, IndexEntry{HeaderPos: b.info(field{id: FlagPositionDir, value: body})})
		_, err := NewDecoder().Decode(b.root(root, 1))
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})

	t.Run("FieldOffset", func(t *testing.T) {
		b := newBuilder()
		root := b.allocIndex(1)
		pos := b.info(field{id: FlagSubject, data: cstr("s")})
		b.put32(pos+infoHeaderSize, uint32(FlagSubject)|200<<8)
		b.link(root, 0, 0, IndexEntry{HeaderPos: pos})
		_, err := NewDecoder().Decode(b.root(root, 1))
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})

	t.Run("Empty", func(t *testing.T) {
		f, err := NewDecoder().Decode(newBuilder().buf)
		require.NoError(t, err)
		assert.Empty(t, f.Messages)
	})
}

func TestTruncation(t *testing.T) {
	data := sampleFolder()
	dec := NewDecoder()
	for cut := 0; cut < len(data); cut++ {
		_, err := dec.Decompress(data[:cut])
		require.Error(t, err, "cut %d", cut)
		var e *compress.Error
		assert.ErrorAs(t, err, &e, "cut %d", cut)
	}
}

// sharedInfo builds a root whose entries all point at one message record
// with a body of size bytes.
func sharedInfo(entries, size int) []byte {
	b := newBuilder()
	root := b.allocIndex(entries)
	body := b.body(bytes.Repeat([]byte("m"), size))
	pos := b.info(field{id: FlagSubject, data: cstr("shared")}, field{id: FlagPositionDir, value: body})
	refs := make([]IndexEntry, entries)
	for i := range refs {
		refs[i] = IndexEntry{HeaderPos: pos}
	}
	b.link(root, 0, 0, refs...)
	return b.root(root, uint32(entries))
}

func TestOutputBudget(t *testing.T) {
	t.Run("SharedRecord", func(t *testing.T) {
		data := sharedInfo(200, 4000)
		_, err := NewDecoder(WithLimits(compress.Limits{MaxOutput: 8192})).Decode(data)
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)

		f, err := NewDecoder().Decode(data)
		require.NoError(t, err)
		require.Len(t, f.Messages, 200)
		assert.Len(t, f.Messages[199].Content, 4000)
	})

	t.Run("WithinBudget", func(t *testing.T) {
		f, err := NewDecoder(WithLimits(compress.Limits{MaxOutput: 8000})).Decode(sharedInfo(2, 4000))
		require.NoError(t, err)
		assert.Len(t, f.Messages, 2)
	})

	t.Run("MessageLimit", func(t *testing.T) {
		_, err := NewDecoder(WithLimits(compress.Limits{MaxNodes: 3})).Decode(sharedInfo(5, 10))
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})
}
