package tnef

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/encoding"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/cursor"
	"github.com/horde/compress/pkg/rtf"
)

// Decoder decodes TNEF streams. It holds no per-call state and is safe for
// concurrent use.
type Decoder struct {
	logger zerolog.Logger
	limits compress.Limits
	now    func() time.Time
}

// NewDecoder creates a TNEF decoder.
func NewDecoder(opts ...Option) *Decoder {
	d := &Decoder{
		logger: zerolog.Nop(),
		limits: compress.DefaultLimits(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.limits = d.limits.Normalize()
	return d
}

// Decompress decodes a TNEF stream into an object arena.
func (d *Decoder) Decompress(data []byte) (*Result, error) {
	res, err := d.decode(data)
	if err != nil {
		return nil, compress.Stamp(format, err)
	}
	return res, nil
}

// Entries flattens data into parts and returns them as entries with
// inline data.
func (d *Decoder) Entries(data []byte) ([]compress.Entry, error) {
	res, err := d.Decompress(data)
	if err != nil {
		return nil, err
	}
	parts, err := res.Parts()
	if err != nil {
		return nil, err
	}
	out := make([]compress.Entry, 0, len(parts))
	for _, p := range parts {
		out = append(out, compress.Entry{
			Name:           p.Name,
			Size:           uint64(len(p.Data)),
			CompressedSize: uint64(len(p.Data)),
			Type:           p.Type + "/" + p.Subtype,
			Method:         "None",
			Data:           p.Data,
			DataOffset:     -1,
		})
	}
	return out, nil
}

type state struct {
	d      *Decoder
	log    zerolog.Logger
	res    *Result
	output int64
}

func (d *Decoder) decode(data []byte) (*Result, error) {
	s := &state{
		d:   d,
		log: d.logger.With().Str("component", "decoder").Str("format", format).Logger(),
		res: &Result{Stamp: d.now().UTC()},
	}
	if err := s.message(data, -1, 0); err != nil {
		return nil, err
	}
	s.res.Info = *s.res.Nodes[0].Info
	return s.res, nil
}

// add appends o to the arena and links it to its parent.
func (s *state) add(o Object) (int, error) {
	if len(s.res.Nodes) >= s.d.limits.MaxNodes {
		return -1, compress.NewError(format, "add object", -1, compress.ErrInvalidFormat,
			fmt.Errorf("more than %d objects", s.d.limits.MaxNodes))
	}
	i := len(s.res.Nodes)
	s.res.Nodes = append(s.res.Nodes, o)
	if o.Parent >= 0 {
		s.res.Nodes[o.Parent].Children = append(s.res.Nodes[o.Parent].Children, i)
	}
	return i, nil
}

// msg tracks one message while its records are read.
type msg struct {
	s      *state
	node   int
	info   *MessageInfo
	depth  int
	enc    encoding.Encoding
	typed  int // Meeting, task or contact object, -1 if none
	attach int // Open attachment, -1 if none

	longName bool
	hasPlain bool
}

func (s *state) message(data []byte, parent, depth int) error {
	c := cursor.New(data)
	sig, err := c.Uint32()
	if err != nil {
		return err
	}
	if sig != Signature {
		return compress.NewError(format, "read signature", 0, compress.ErrInvalidFormat,
			fmt.Errorf("found %#08x", sig))
	}
	key, err := c.Uint16()
	if err != nil {
		return err
	}
	node, err := s.add(Object{Kind: KindMessage, Parent: parent, Info: &MessageInfo{}})
	if err != nil {
		return err
	}
	m := &msg{
		s:      s,
		node:   node,
		info:   s.res.Nodes[node].Info,
		depth:  depth,
		enc:    defaultCodepage,
		typed:  -1,
		attach: -1,
	}
	s.log.Debug().Int("depth", depth).Uint16("key", key).Msg("message")

	for c.Remaining() > 0 {
		at := int64(c.Offset())
		level, err := c.Uint8()
		if err != nil {
			return err
		}
		id, err := c.Uint32()
		if err != nil {
			return err
		}
		length, err := c.Uint32()
		if err != nil {
			return err
		}
		if int64(length) > int64(c.Remaining()) {
			return compress.NewError(format, "read attribute", at, compress.ErrInsufficientData,
				fmt.Errorf("attribute %#08x of %d bytes, %d remain", id, length, c.Remaining()))
		}
		body, err := c.Bytes(int(length))
		if err != nil {
			return err
		}
		sum, err := c.Uint16()
		if err != nil {
			return err
		}
		if got := checksum(body); got != sum {
			s.log.Debug().Int64("offset", at).Uint32("attribute", id).
				Uint16("stored", sum).Uint16("computed", got).Msg("checksum mismatch")
		}
		if typ := id >> 16; typ > atpMax {
			return compress.NewError(format, "read attribute", at, compress.ErrUnsupportedMethod,
				fmt.Errorf("attribute %#08x has type %#04x", id, typ))
		}

		switch level {
		case LevelMessage:
			err = m.messageAttr(id, body, at)
		case LevelAttachment:
			err = m.attachmentAttr(id, body, at)
		default:
			err = compress.NewError(format, "read attribute", at, compress.ErrInvalidFormat,
				fmt.Errorf("level %d", level))
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func checksum(p []byte) uint16 {
	var sum uint16
	for _, b := range p {
		sum += uint16(b)
	}
	return sum
}

func (m *msg) messageAttr(id uint32, data []byte, at int64) error {
	info := m.info
	switch id {
	case attMessageClass:
		info.Class = cstring(data)
		return m.setClass(info.Class)
	case attSubject:
		info.Subject = m.text(data)
	case attMessageID:
		info.MessageID = m.text(data)
	case attFrom:
		info.From = m.triples(data)
	case attBody:
		info.Body = m.text(data)
		m.hasPlain = true
		return m.body("plain", []byte(info.Body))
	case attDateSent, attDateRecd, attDateModified, attDateStart, attDateEnd:
		t, err := date(data, at)
		if err != nil {
			return err
		}
		switch id {
		case attDateSent:
			info.Sent = t
		case attDateRecd:
			info.Received = t
		case attDateModified:
			info.Modified = t
		case attDateStart:
			info.Start = t
		case attDateEnd:
			info.End = t
		}
	case attPriority:
		v, err := scalar(data, 2, at)
		info.Priority = uint16(v)
		return err
	case attMessageStatus:
		v, err := scalar(data, 1, at)
		info.Status = uint8(v)
		return err
	case attAidOwner:
		v, err := scalar(data, 4, at)
		info.AidOwner = uint32(v)
		return err
	case attRequestRes:
		v, err := scalar(data, 2, at)
		info.RequestResponse = uint16(v)
		return err
	case attTnefVersion:
		v, err := scalar(data, 4, at)
		info.Version = uint32(v)
		return err
	case attOemCodepage:
		v, err := scalar(data, 4, at)
		if err != nil {
			return err
		}
		info.Codepage = uint32(v)
		m.setCodepage(info.Codepage)
	case attMsgProps:
		props, err := parseProperties(data)
		if err != nil {
			return err
		}
		return m.messageProps(props)
	default:
		m.s.log.Debug().Uint32("attribute", id).Int("bytes", len(data)).Msg("skipping message attribute")
	}
	return nil
}

func (m *msg) setCodepage(cp uint32) {
	enc, ok := Codepage(cp)
	if !ok {
		m.s.log.Debug().Uint32("codepage", cp).Msg("unknown codepage")
		return
	}
	m.enc = enc
}

// setClass creates the typed object a message class calls for. Only the
// first class seen counts.
func (m *msg) setClass(class string) error {
	if m.typed >= 0 {
		return nil
	}
	o := Object{Parent: m.node}
	meeting := func(method, stat string) {
		o.Kind = KindMeeting
		o.Meeting = &Meeting{Method: method, PartStat: stat}
	}
	switch {
	case strings.HasPrefix(class, classMeetingAccepted):
		meeting("REPLY", "ACCEPTED")
	case strings.HasPrefix(class, classMeetingDeclined):
		meeting("REPLY", "DECLINED")
	case strings.HasPrefix(class, classMeetingTentative):
		meeting("REPLY", "TENTATIVE")
	case strings.HasPrefix(class, classMeetingCancelled):
		meeting("CANCEL", "")
	case strings.HasPrefix(class, classMeetingRequest):
		meeting("REQUEST", "")
	case strings.HasPrefix(class, classAppointment):
		meeting("PUBLISH", "")
	case strings.HasPrefix(class, classTaskRequest), strings.HasPrefix(class, classTask):
		o.Kind = KindTask
		o.Task = &Task{}
	case strings.HasPrefix(class, classContact):
		o.Kind = KindContact
		o.Contact = &Contact{}
	default:
		return nil
	}
	i, err := m.s.add(o)
	if err != nil {
		return err
	}
	m.typed = i
	m.s.log.Debug().Str("class", class).Stringer("kind", o.Kind).Msg("typed object")
	return nil
}

func (m *msg) messageProps(props []Property) error {
	if m.info.Codepage == 0 {
		for i := range props {
			if p := &props[i]; p.Named == nil && p.Tag == tagMessageCodepage {
				m.info.Codepage = p.Uint32()
				m.setCodepage(m.info.Codepage)
			}
		}
	}

	for i := range props {
		p := &props[i]
		if p.Named == nil {
			if err := m.messageProp(p); err != nil {
				return err
			}
		}
		if m.typed < 0 {
			m.info.Props = append(m.info.Props, *p)
			continue
		}
		o := &m.s.res.Nodes[m.typed]
		o.Props = append(o.Props, *p)
		switch o.Kind {
		case KindMeeting:
			m.meetingProp(o.Meeting, p)
		case KindTask:
			taskProp(o.Task, p)
		case KindContact:
			m.contactProp(o.Contact, p)
		}
	}
	return nil
}

func (m *msg) messageProp(p *Property) error {
	info := m.info
	switch p.Tag {
	case tagMessageClass:
		cls := p.Text(m.enc)
		if info.Class == "" {
			info.Class = cls
		}
		return m.setClass(cls)
	case tagSubject:
		if info.Subject == "" {
			info.Subject = p.Text(m.enc)
		}
	case tagConversationTopic:
		info.ConversationTopic = p.Text(m.enc)
	case tagLastModifierName:
		info.LastModifier = p.Text(m.enc)
	case tagSenderName:
		info.SenderName = p.Text(m.enc)
	case tagSenderEmail:
		info.SenderEmail = p.Text(m.enc)
	case tagImportance:
		info.Importance = p.Uint32()
		info.HasImportance = true
	case tagBody:
		if m.hasPlain {
			return nil
		}
		m.hasPlain = true
		return m.body("plain", []byte(p.Text(m.enc)))
	case tagBodyHTML:
		if p.Type == TypeBinary {
			return m.body("html", bytes.Clone(p.Value()))
		}
		return m.body("html", []byte(p.Text(m.enc)))
	case tagRTFCompressed:
		return m.rtfBody(p.Value())
	}
	return nil
}

func (m *msg) rtfBody(data []byte) error {
	limits := m.s.d.limits
	limits.MaxOutput -= m.s.output
	if limits.MaxOutput <= 0 {
		return compress.NewError(format, "expand rtf", -1, compress.ErrInvalidFormat,
			fmt.Errorf("output exceeds %d bytes", m.s.d.limits.MaxOutput))
	}
	out, err := rtf.NewDecoder(rtf.WithLogger(m.s.d.logger), rtf.WithLimits(limits)).Decompress(data)
	if err != nil {
		return fmt.Errorf("tnef: rtf body: %w", err)
	}
	m.s.output += int64(len(out))
	return m.body("rtf", out)
}

var bodyNames = map[string]string{
	"plain": "body.txt",
	"html":  "body.html",
	"rtf":   "body.rtf",
}

func (m *msg) body(subtype string, data []byte) error {
	_, err := m.s.add(Object{
		Kind:    KindBody,
		Parent:  m.node,
		Type:    "text",
		Subtype: subtype,
		Name:    bodyNames[subtype],
		Data:    data,
	})
	return err
}

func (m *msg) attachmentAttr(id uint32, data []byte, at int64) error {
	if id == attAttachRenddata {
		i, err := m.s.add(Object{
			Kind:    KindAttachment,
			Parent:  m.node,
			Type:    "application",
			Subtype: "octet-stream",
			Name:    "unknown",
		})
		if err != nil {
			return err
		}
		m.attach = i
		m.longName = false
		return nil
	}
	if m.attach < 0 {
		m.s.log.Debug().Uint32("attribute", id).Msg("attachment attribute before any attachment")
		m.info.Stray = append(m.info.Stray, Attribute{Level: LevelAttachment, ID: id, Data: bytes.Clone(data)})
		return nil
	}

	a := &m.s.res.Nodes[m.attach]
	switch id {
	case attAttachTitle:
		if name := cleanName(m.text(data)); name != "" && !m.longName {
			a.Name = name
		}
	case attAttachData:
		a.Data = bytes.Clone(data)
	case attAttachCreateDate, attAttachModifyDate:
		t, err := date(data, at)
		if err != nil {
			return err
		}
		if id == attAttachModifyDate || a.ModTime.IsZero() {
			a.ModTime = t
		}
	case attAttachment:
		props, err := parseProperties(data)
		if err != nil {
			return err
		}
		return m.attachmentProps(props)
	default:
		m.s.log.Debug().Uint32("attribute", id).Int("bytes", len(data)).Msg("skipping attachment attribute")
	}
	return nil
}

func (m *msg) attachmentProps(props []Property) error {
	for i := range props {
		p := &props[i]
		a := &m.s.res.Nodes[m.attach]
		a.Props = append(a.Props, *p)
		if p.Named != nil {
			continue
		}
		switch p.Tag {
		case tagAttachLongFilename:
			if name := cleanName(p.Text(m.enc)); name != "" {
				a.Name = name
				m.longName = true
			}
		case tagAttachFilename, tagDisplayName:
			if name := cleanName(p.Text(m.enc)); name != "" && a.Name == "unknown" {
				a.Name = name
			}
		case tagAttachExtension:
			if ext := p.Text(m.enc); ext != "" && path.Ext(a.Name) == "" {
				a.Name += ext
			}
		case tagAttachMimeTag:
			typ, sub, ok := strings.Cut(strings.ToLower(strings.TrimSpace(p.Text(m.enc))), "/")
			if ok && typ != "" && sub != "" {
				a.Type, a.Subtype = typ, sub
			}
		case tagAttachDataObj:
			if err := m.dataObject(p); err != nil {
				return err
			}
		}
	}
	return nil
}

// dataObject stores an attachment's data object, decoding it as a nested
// message when it holds a TNEF stream behind its interface ID.
func (m *msg) dataObject(p *Property) error {
	v := p.Value()
	if p.Type == TypeObject && len(v) >= 16 {
		v = v[16:]
		if len(v) >= 4 && binary.LittleEndian.Uint32(v) == Signature {
			if m.depth+1 > m.s.d.limits.MaxDepth {
				return compress.NewError(format, "decode embedded message", -1, compress.ErrInvalidFormat,
					fmt.Errorf("nesting deeper than %d", m.s.d.limits.MaxDepth))
			}
			a := &m.s.res.Nodes[m.attach]
			a.Embedded = true
			a.Data = bytes.Clone(v)
			a.Type, a.Subtype = "application", "ms-tnef"
			m.s.log.Debug().Int("depth", m.depth+1).Msg("embedded message")
			return m.s.message(v, m.attach, m.depth+1)
		}
	}
	m.s.res.Nodes[m.attach].Data = bytes.Clone(v)
	return nil
}

func (m *msg) text(data []byte) string {
	return decodeWith(m.enc, bytes.TrimRight(data, "\x00"))
}

// triples renders an attFrom TRP structure as "name <address>".
func (m *msg) triples(data []byte) string {
	c := cursor.New(data)
	hdr, err := c.Bytes(8)
	if err != nil {
		return ""
	}
	nameLen := int(binary.LittleEndian.Uint16(hdr[4:]))
	addrLen := int(binary.LittleEndian.Uint16(hdr[6:]))
	name, err := c.Bytes(nameLen)
	if err != nil {
		return ""
	}
	addr, err := c.Bytes(addrLen)
	if err != nil {
		m.s.log.Debug().Msg("short sender triple")
		return m.text(name)
	}
	a := string(bytes.TrimRight(addr, "\x00"))
	if _, rest, ok := strings.Cut(a, ":"); ok {
		a = rest
	}
	n := m.text(name)
	switch {
	case a == "":
		return n
	case n == "" || n == a:
		return a
	}
	return n + " <" + a + ">"
}

func cstring(data []byte) string {
	if i := bytes.IndexByte(data, 0); i >= 0 {
		data = data[:i]
	}
	return strings.TrimSpace(string(data))
}

// cleanName strips any directory part and NULs from an attachment name.
func cleanName(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	if i := strings.LastIndexAny(s, `/\`); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

func scalar(data []byte, n int, at int64) (uint64, error) {
	if len(data) < n {
		return 0, compress.NewError(format, "read attribute value", at, compress.ErrInsufficientData,
			fmt.Errorf("need %d bytes, have %d", n, len(data)))
	}
	switch n {
	case 1:
		return uint64(data[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(data)), nil
	}
	return uint64(binary.LittleEndian.Uint32(data)), nil
}

// date decodes an atpDate: year, month, day, hour, minute, second and day
// of week as 16-bit words.
func date(data []byte, at int64) (time.Time, error) {
	if len(data) < 12 {
		return time.Time{}, compress.NewError(format, "read date", at, compress.ErrInsufficientData,
			fmt.Errorf("need 12 bytes, have %d", len(data)))
	}
	var f [6]int
	for i := range f {
		f[i] = int(binary.LittleEndian.Uint16(data[2*i:]))
	}
	if f[0] == 0 {
		return time.Time{}, nil
	}
	return time.Date(f[0], time.Month(f[1]), f[2], f[3], f[4], f[5], 0, time.UTC), nil
}
