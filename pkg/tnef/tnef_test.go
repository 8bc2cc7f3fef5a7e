package tnef

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"
	"time"
	"unicode/utf16"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/rtf"
)

var stamp = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func le16(v uint16) []byte { return binary.LittleEndian.AppendUint16(nil, v) }
func le32(v uint32) []byte { return binary.LittleEndian.AppendUint32(nil, v) }
func le64(v uint64) []byte { return binary.LittleEndian.AppendUint64(nil, v) }

func record(level byte, id uint32, data []byte) []byte {
	b := []byte{level}
	b = binary.LittleEndian.AppendUint32(b, id)
	b = binary.LittleEndian.AppendUint32(b, uint32(len(data)))
	b = append(b, data...)
	return binary.LittleEndian.AppendUint16(b, checksum(data))
}

func stream(records ...[]byte) []byte {
	b := le32(Signature)
	b = append(b, le16(0x0001)...)
	for _, r := range records {
		b = append(b, r...)
	}
	return b
}

func pad4(b []byte) []byte {
	for len(b)%4 != 0 {
		b = append(b, 0)
	}
	return b
}

func appendValues(b []byte, typ uint16, values [][]byte) []byte {
	_, variable, _ := valueSize(typ &^ typeMultiValue)
	if variable || typ&typeMultiValue != 0 {
		b = append(b, le32(uint32(len(values)))...)
	}
	for _, v := range values {
		if variable {
			b = append(b, le32(uint32(len(v)))...)
		}
		b = pad4(append(b, v...))
	}
	return b
}

func prop(typ, tag uint16, values ...[]byte) []byte {
	b := append(le16(typ), le16(tag)...)
	return appendValues(b, typ, values)
}

func namedProp(typ uint16, set uuid.UUID, id uint32, values ...[]byte) []byte {
	b := append(le16(typ), le16(0x8000)...)
	b = append(b, windowsGUID(set)...)
	b = append(b, le32(NamedID)...)
	b = append(b, le32(id)...)
	return appendValues(b, typ, values)
}

func props(ps ...[]byte) []byte {
	b := le32(uint32(len(ps)))
	for _, p := range ps {
		b = append(b, p...)
	}
	return b
}

func str8(s string) []byte { return append([]byte(s), 0) }

func unicode16(s string) []byte {
	var b []byte
	for _, u := range utf16.Encode([]rune(s)) {
		b = append(b, le16(u)...)
	}
	return append(b, 0, 0)
}

func systime(t time.Time) []byte {
	return le64(uint64(t.UnixNano()/100) + filetimeUnixDiff)
}

func atpDateValue(t time.Time) []byte {
	var b []byte
	for _, v := range []int{t.Year(), int(t.Month()), t.Day(), t.Hour(), t.Minute(), t.Second(), int(t.Weekday())} {
		b = append(b, le16(uint16(v))...)
	}
	return b
}

func msgAttr(id uint32, data []byte) []byte    { return record(LevelMessage, id, data) }
func attachAttr(id uint32, data []byte) []byte { return record(LevelAttachment, id, data) }

func decode(t *testing.T, data []byte, opts ...Option) *Result {
	t.Helper()
	opts = append([]Option{WithClock(func() time.Time { return stamp })}, opts...)
	res, err := NewDecoder(opts...).Decompress(data)
	require.NoError(t, err)
	return res
}

func renderParts(t *testing.T, res *Result) []Part {
	t.Helper()
	parts, err := res.Parts()
	require.NoError(t, err)
	return parts
}

func mailStream() [][]byte {
	sent := time.Date(2023, 7, 14, 10, 30, 0, 0, time.UTC)
	return [][]byte{
		msgAttr(attTnefVersion, le32(0x00010000)),
		msgAttr(attOemCodepage, append(le32(1252), le32(0)...)),
		msgAttr(attMessageClass, str8("IPM.Microsoft Mail.Note")),
		msgAttr(attSubject, str8("Quarterly report")),
		msgAttr(attDateSent, atpDateValue(sent)),
		attachAttr(attAttachRenddata, make([]byte, 14)),
		attachAttr(attAttachTitle, str8(`C:\reports\REPORT~1.TXT`)),
		attachAttr(attAttachData, []byte("numbers go here")),
		attachAttr(attAttachment, props(
			prop(TypeString8, tagAttachLongFilename, str8("reports/Report for Q3.txt")),
			prop(TypeString8, tagAttachMimeTag, str8("Text/Plain")),
		)),
		attachAttr(attAttachRenddata, make([]byte, 14)),
		attachAttr(attAttachData, []byte{0xde, 0xad}),
	}
}

func TestAttachments(t *testing.T) {
	res := decode(t, stream(mailStream()...))

	assert.Equal(t, "Quarterly report", res.Info.Subject)
	assert.Equal(t, "IPM.Microsoft Mail.Note", res.Info.Class)
	assert.Equal(t, uint32(1252), res.Info.Codepage)
	assert.Equal(t, uint32(0x00010000), res.Info.Version)
	assert.Equal(t, time.Date(2023, 7, 14, 10, 30, 0, 0, time.UTC), res.Info.Sent)

	require.Len(t, res.Nodes, 3)
	assert.Equal(t, KindMessage, res.Nodes[0].Kind)
	assert.Equal(t, -1, res.Nodes[0].Parent)
	assert.Equal(t, []int{1, 2}, res.Nodes[0].Children)

	parts := renderParts(t, res)
	require.Len(t, parts, 2)
	assert.Equal(t, Part{Type: "text", Subtype: "plain", Name: "Report for Q3.txt", Data: []byte("numbers go here")}, parts[0])
	assert.Equal(t, Part{Type: "application", Subtype: "octet-stream", Name: "unknown", Data: []byte{0xde, 0xad}}, parts[1])

	entries, err := NewDecoder().Entries(stream(mailStream()...))
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "text/plain", entries[0].Type)
	assert.Equal(t, uint64(15), entries[0].Size)
	assert.Equal(t, int64(-1), entries[0].DataOffset)
}

func TestAttachmentNames(t *testing.T) {
	for _, tt := range []struct {
		name  string
		attrs [][]byte
		want  string
	}{
		{
			name:  "Title",
			attrs: [][]byte{attachAttr(attAttachTitle, str8("dir/a.txt\x00\x00"))},
			want:  "a.txt",
		},
		{
			name: "LongNameWins",
			attrs: [][]byte{
				attachAttr(attAttachment, props(prop(TypeUnicode, tagAttachLongFilename, unicode16("Long name.docx")))),
				attachAttr(attAttachTitle, str8("LONGNA~1.DOC")),
			},
			want: "Long name.docx",
		},
		{
			name: "DisplayNameAndExtension",
			attrs: [][]byte{attachAttr(attAttachment, props(
				prop(TypeString8, tagDisplayName, str8("picture")),
				prop(TypeString8, tagAttachExtension, str8(".png")),
			))},
			want: "picture.png",
		},
	} {
		t.Run(tt.name, func(t *testing.T) {
			recs := append([][]byte{attachAttr(attAttachRenddata, nil)}, tt.attrs...)
			res := decode(t, stream(recs...))
			require.Len(t, res.Nodes, 2)
			assert.Equal(t, tt.want, res.Nodes[1].Name)
		})
	}
}

func TestCodepage(t *testing.T) {
	for cp, want := range map[uint32]string{1252: "café", 1251: "cafй", 0: "café"} {
		recs := [][]byte{msgAttr(attSubject, str8("caf\xe9"))}
		if cp != 0 {
			recs = append([][]byte{msgAttr(attOemCodepage, append(le32(cp), le32(0)...))}, recs...)
		}
		res := decode(t, stream(recs...))
		assert.Equal(t, want, res.Info.Subject, "codepage %d", cp)
	}

	t.Run("MessageCodepageProperty", func(t *testing.T) {
		res := decode(t, stream(msgAttr(attMsgProps, props(
			prop(TypeString8, tagSubject, str8("\xcf\xf0\xe8\xe2\xe5\xf2")),
			prop(TypeLong, tagMessageCodepage, le32(1251)),
		))))
		assert.Equal(t, "Привет", res.Info.Subject)
		assert.Equal(t, uint32(1251), res.Info.Codepage)
	})
}

func TestFrom(t *testing.T) {
	name, addr := str8("Alice"), str8("SMTP:alice@example.com")
	trp := append(le16(4), le16(uint16(len(name)+len(addr)))...)
	trp = append(trp, le16(uint16(len(name)))...)
	trp = append(trp, le16(uint16(len(addr)))...)
	trp = append(append(trp, name...), addr...)

	res := decode(t, stream(msgAttr(attFrom, trp)))
	assert.Equal(t, "Alice <alice@example.com>", res.Info.From)
}

func TestBodies(t *testing.T) {
	raw := []byte(`{\rtf1\ansi\ansicpg1252 {\fonttbl\f0 Arial;} Hello}`)
	res := decode(t, stream(
		msgAttr(attMsgProps, props(
			prop(TypeString8, tagBody, str8("Hello")),
			prop(TypeBinary, tagBodyHTML, []byte("<p>Hello</p>")),
			prop(TypeBinary, tagRTFCompressed, rtf.Compress(raw)),
		)),
	))

	parts := renderParts(t, res)
	require.Len(t, parts, 3)
	assert.Equal(t, Part{Type: "text", Subtype: "plain", Name: "body.txt", Data: []byte("Hello")}, parts[0])
	assert.Equal(t, Part{Type: "text", Subtype: "html", Name: "body.html", Data: []byte("<p>Hello</p>")}, parts[1])
	assert.Equal(t, "rtf", parts[2].Subtype)
	assert.Equal(t, raw, parts[2].Data)

	t.Run("LegacyBodyFirst", func(t *testing.T) {
		res := decode(t, stream(
			msgAttr(attBody, str8("legacy")),
			msgAttr(attMsgProps, props(prop(TypeString8, tagBody, str8("mapi")))),
		))
		parts := renderParts(t, res)
		require.Len(t, parts, 1)
		assert.Equal(t, []byte("legacy"), parts[0].Data)
		assert.Equal(t, "legacy", res.Info.Body)
	})

	t.Run("RTFOutputLimit", func(t *testing.T) {
		data := stream(msgAttr(attMsgProps, props(
			prop(TypeBinary, tagRTFCompressed, rtf.Compress(bytes.Repeat([]byte("x"), 4096))),
		)))
		_, err := NewDecoder(WithLimits(compress.Limits{MaxOutput: 1024})).Decompress(data)
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})
}

func vcalGOID(uid string) []byte {
	b := make([]byte, 40)
	b = append(b, "vCal-Uid"...)
	b = append(b, le32(1)...)
	return append(b, str8(uid)...)
}

func meetingStream(class string, extra ...[]byte) []byte {
	start := time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC)
	ps := [][]byte{
		prop(TypeString8, tagConversationTopic, str8("Planning")),
		namedProp(TypeSysTime, PSETIDAppointment, lidStartWhole, systime(start)),
		namedProp(TypeSysTime, PSETIDAppointment, lidEndWhole, systime(start.Add(90*time.Minute))),
		namedProp(TypeString8, PSETIDAppointment, lidLocation, str8("Room 1, east")),
		namedProp(TypeLong, PSETIDAppointment, lidAppointmentSequence, le32(2)),
		namedProp(TypeString8, PSETIDAppointment, lidOrganizerAlias, str8("carol@example.com")),
		namedProp(TypeBinary, PSETIDMeeting, lidGlobalObjectID, vcalGOID("abc-123")),
	}
	ps = append(ps, extra...)
	return stream(
		msgAttr(attMessageClass, str8(class)),
		msgAttr(attMsgProps, props(ps...)),
	)
}

// event decodes a calendar part and returns its single child component.
func event(t *testing.T, p Part, name string) (*ical.Calendar, *ical.Component) {
	t.Helper()
	require.Equal(t, "calendar", p.Subtype)
	cal, err := ical.NewDecoder(bytes.NewReader(p.Data)).Decode()
	require.NoError(t, err)
	require.Len(t, cal.Children, 1)
	require.Equal(t, name, cal.Children[0].Name)
	return cal, cal.Children[0]
}

func text(t *testing.T, props ical.Props, name string) string {
	t.Helper()
	v, err := props.Text(name)
	require.NoError(t, err)
	return v
}

func value(props ical.Props, name string) string {
	if p := props.Get(name); p != nil {
		return p.Value
	}
	return ""
}

func TestMeeting(t *testing.T) {
	t.Run("Request", func(t *testing.T) {
		res := decode(t, meetingStream(classMeetingRequest))
		require.Len(t, res.Nodes, 2)
		assert.Equal(t, KindMeeting, res.Nodes[1].Kind)
		assert.Len(t, res.Nodes[1].Props, 7)
		assert.Empty(t, res.Info.Props)

		parts := renderParts(t, res)
		require.Len(t, parts, 1)
		assert.Equal(t, "Planning.ics", parts[0].Name)
		assert.True(t, bytes.HasPrefix(parts[0].Data, []byte("BEGIN:VCALENDAR\r\n")))
		assert.Contains(t, string(parts[0].Data), "LOCATION:Room 1\\, east\r\n")

		cal, ev := event(t, parts[0], ical.CompEvent)
		assert.Equal(t, "2.0", value(cal.Props, ical.PropVersion))
		assert.Equal(t, prodID, text(t, cal.Props, ical.PropProductID))
		assert.Equal(t, "REQUEST", value(cal.Props, ical.PropMethod))

		start, err := ev.Props.DateTime(ical.PropDateTimeStart, time.UTC)
		require.NoError(t, err)
		assert.Equal(t, time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), start)
		assert.Equal(t, "20240102T163000Z", value(ev.Props, ical.PropDateTimeEnd))
		assert.Equal(t, "20240101T090000Z", value(ev.Props, ical.PropDateTimeStamp))
		assert.Equal(t, "abc-123", text(t, ev.Props, ical.PropUID))
		assert.Equal(t, "Planning", text(t, ev.Props, ical.PropSummary))
		assert.Equal(t, "Room 1, east", text(t, ev.Props, ical.PropLocation))
		assert.Equal(t, "2", value(ev.Props, ical.PropSequence))
		assert.Equal(t, "mailto:carol@example.com", value(ev.Props, ical.PropOrganizer))
		assert.Nil(t, ev.Props.Get(ical.PropStatus))
	})

	t.Run("NoGlobalObjectID", func(t *testing.T) {
		data := stream(
			msgAttr(attMessageClass, str8(classMeetingRequest)),
			msgAttr(attSubject, str8("Standup")),
		)
		first := renderParts(t, decode(t, data))
		_, ev := event(t, first[0], ical.CompEvent)
		uid := text(t, ev.Props, ical.PropUID)
		assert.NotEmpty(t, uid)

		again := renderParts(t, decode(t, data))
		_, ev = event(t, again[0], ical.CompEvent)
		assert.Equal(t, uid, text(t, ev.Props, ical.PropUID))
	})

	t.Run("AllDay", func(t *testing.T) {
		res := decode(t, meetingStream(classMeetingRequest,
			namedProp(TypeBoolean, PSETIDAppointment, lidAllDay, le16(1))))
		_, ev := event(t, renderParts(t, res)[0], ical.CompEvent)
		for _, name := range []string{ical.PropDateTimeStart, ical.PropDateTimeEnd} {
			p := ev.Props.Get(name)
			require.NotNil(t, p, name)
			assert.Equal(t, ical.ValueDate, p.ValueType())
			assert.Equal(t, "20240102", p.Value)
		}
	})

	t.Run("Reply", func(t *testing.T) {
		for class, stat := range map[string]string{
			classMeetingAccepted:  "ACCEPTED",
			classMeetingDeclined:  "DECLINED",
			classMeetingTentative: "TENTATIVE",
		} {
			res := decode(t, meetingStream(class,
				prop(TypeString8, tagSenderEmail, str8("bob@example.com"))))
			cal, ev := event(t, renderParts(t, res)[0], ical.CompEvent)
			assert.Equal(t, "REPLY", value(cal.Props, ical.PropMethod))
			attendee := ev.Props.Get(ical.PropAttendee)
			require.NotNil(t, attendee)
			assert.Equal(t, stat, attendee.Params.Get(ical.ParamParticipationStatus))
			assert.Equal(t, "mailto:bob@example.com", attendee.Value)
		}
	})

	t.Run("Cancel", func(t *testing.T) {
		res := decode(t, meetingStream(classMeetingCancelled))
		cal, ev := event(t, renderParts(t, res)[0], ical.CompEvent)
		assert.Equal(t, "CANCEL", value(cal.Props, ical.PropMethod))
		assert.Equal(t, "CANCELLED", value(ev.Props, ical.PropStatus))
	})

	t.Run("GUIDMustMatch", func(t *testing.T) {
		res := decode(t, stream(
			msgAttr(attMessageClass, str8(classMeetingRequest)),
			msgAttr(attMsgProps, props(
				namedProp(TypeString8, PSETIDCommon, lidLocation, str8("elsewhere")),
			)),
		))
		assert.Empty(t, res.Nodes[1].Meeting.Location)
	})
}

func TestUID(t *testing.T) {
	assert.Equal(t, "abc-123", UID(vcalGOID("abc-123")))
	assert.Empty(t, UID(nil))

	goid := make([]byte, 40)
	for i := range goid {
		goid[i] = byte(i)
	}
	want := bytes.Clone(goid)
	clear(want[16:20])
	assert.Equal(t, strings.ToUpper(hex.EncodeToString(want)), UID(goid))
	assert.Equal(t, byte(16), goid[16])
}

func TestTask(t *testing.T) {
	due := time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
	res := decode(t, stream(
		msgAttr(attMessageClass, str8("IPM.Task")),
		msgAttr(attSubject, str8("File taxes")),
		msgAttr(attMsgProps, props(
			prop(TypeLong, tagImportance, le32(2)),
			namedProp(TypeLong, PSETIDTask, lidTaskStatus, le32(1)),
			namedProp(TypeDouble, PSETIDTask, lidPercent, le64(0x3fe0000000000000)),
			namedProp(TypeSysTime, PSETIDTask, lidTaskDue, systime(due)),
		)),
	))
	require.Len(t, res.Nodes, 2)
	task := res.Nodes[1].Task
	require.NotNil(t, task)
	assert.InDelta(t, 0.5, task.Percent, 1e-9)

	parts := renderParts(t, res)
	require.Len(t, parts, 1)
	assert.Equal(t, "File taxes.ics", parts[0].Name)

	cal, todo := event(t, parts[0], ical.CompToDo)
	assert.Equal(t, "PUBLISH", value(cal.Props, ical.PropMethod))
	assert.Equal(t, "20240101T090000Z", value(todo.Props, ical.PropDateTimeStamp))
	assert.NotEmpty(t, text(t, todo.Props, ical.PropUID))
	assert.Equal(t, "File taxes", text(t, todo.Props, ical.PropSummary))
	assert.Nil(t, todo.Props.Get(ical.PropDateTimeStart))
	dueProp := todo.Props.Get(ical.PropDue)
	require.NotNil(t, dueProp)
	assert.Equal(t, ical.ValueDate, dueProp.ValueType())
	assert.Equal(t, "20240308", dueProp.Value)
	assert.Equal(t, "IN-PROCESS", value(todo.Props, ical.PropStatus))
	assert.Equal(t, "50", value(todo.Props, ical.PropPercentComplete))
	assert.Equal(t, "1", value(todo.Props, ical.PropPriority))
}

func TestContact(t *testing.T) {
	res := decode(t, stream(
		msgAttr(attMessageClass, str8("IPM.Contact")),
		msgAttr(attMsgProps, props(
			prop(TypeUnicode, tagDisplayName, unicode16("Ada Lovelace")),
			prop(TypeString8, tagGivenName, str8("Ada")),
			prop(TypeString8, tagSurname, str8("Lovelace")),
			prop(TypeString8, tagMobilePhone, str8("+44 20 7946 0000")),
			prop(TypeString8, tagCompanyName, str8("Analytical Engines")),
			namedProp(TypeString8, PSETIDAddress, lidEmail1Address, str8("ada@example.com")),
		)),
	))
	parts := renderParts(t, res)
	require.Len(t, parts, 1)
	assert.Equal(t, "x-vcard", parts[0].Subtype)
	assert.Equal(t, "Ada Lovelace.vcf", parts[0].Name)
	assert.True(t, bytes.HasPrefix(parts[0].Data, []byte("BEGIN:VCARD\r\nVERSION:3.0\r\n")))

	card, err := vcard.NewDecoder(bytes.NewReader(parts[0].Data)).Decode()
	require.NoError(t, err)
	assert.Equal(t, "Ada Lovelace", card.Value(vcard.FieldFormattedName))
	name := card.Name()
	require.NotNil(t, name)
	assert.Equal(t, "Lovelace", name.FamilyName)
	assert.Equal(t, "Ada", name.GivenName)

	emails := card[vcard.FieldEmail]
	require.Len(t, emails, 1)
	assert.Equal(t, "ada@example.com", emails[0].Value)
	assert.Equal(t, "INTERNET", emails[0].Params.Get(vcard.ParamType))

	tels := card[vcard.FieldTelephone]
	require.Len(t, tels, 1)
	assert.Equal(t, "+44 20 7946 0000", tels[0].Value)
	assert.Equal(t, vcard.TypeCell, tels[0].Params.Get(vcard.ParamType))

	assert.Equal(t, "Analytical Engines", card.Value(vcard.FieldOrganization))
	assert.Nil(t, card.Get(vcard.FieldTitle))
}

// nest wraps inner as the data object of an attachment of a new message.
func nest(subject string, inner []byte) []byte {
	obj := append(make([]byte, 16), inner...)
	return stream(
		msgAttr(attSubject, str8(subject)),
		attachAttr(attAttachRenddata, nil),
		attachAttr(attAttachment, props(prop(TypeObject, tagAttachDataObj, obj))),
	)
}

func TestEmbedded(t *testing.T) {
	inner := stream(
		msgAttr(attSubject, str8("inner")),
		attachAttr(attAttachRenddata, nil),
		attachAttr(attAttachTitle, str8("inner.txt")),
		attachAttr(attAttachData, []byte("deep")),
	)
	res := decode(t, nest("outer", inner))

	assert.Equal(t, "outer", res.Info.Subject)
	require.Len(t, res.Nodes, 4)
	assert.True(t, res.Nodes[1].Embedded)
	assert.Equal(t, KindMessage, res.Nodes[2].Kind)
	assert.Equal(t, 1, res.Nodes[2].Parent)
	assert.Equal(t, "inner", res.Nodes[2].Info.Subject)
	assert.Equal(t, 2, res.Nodes[3].Parent)

	parts := renderParts(t, res)
	require.Len(t, parts, 1)
	assert.Equal(t, "inner.txt", parts[0].Name)
	assert.Equal(t, []byte("deep"), parts[0].Data)

	t.Run("PlainObject", func(t *testing.T) {
		obj := append(make([]byte, 16), "not tnef"...)
		res := decode(t, stream(
			attachAttr(attAttachRenddata, nil),
			attachAttr(attAttachment, props(prop(TypeObject, tagAttachDataObj, obj))),
		))
		assert.False(t, res.Nodes[1].Embedded)
		assert.Equal(t, []byte("not tnef"), res.Nodes[1].Data)
	})

	t.Run("Depth", func(t *testing.T) {
		data := nest("a", nest("b", stream()))
		_, err := NewDecoder(WithLimits(compress.Limits{MaxDepth: 2})).Decompress(data)
		require.NoError(t, err)
		_, err = NewDecoder(WithLimits(compress.Limits{MaxDepth: 1})).Decompress(data)
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})
}

func TestOrphans(t *testing.T) {
	res := decode(t, stream(
		attachAttr(attAttachData, []byte("early")),
		msgAttr(attMsgProps, props(
			prop(TypeLong, 0x0e08, le32(1234)),
			namedProp(TypeString8, PSETIDCommon, 0x8530, str8("x")),
		)),
	))
	require.Len(t, res.Info.Stray, 1)
	assert.Equal(t, Attribute{Level: LevelAttachment, ID: attAttachData, Data: []byte("early")}, res.Info.Stray[0])
	require.Len(t, res.Info.Props, 2)
	assert.Equal(t, uint32(1234), res.Info.Props[0].Uint32())
	assert.Empty(t, renderParts(t, res))
}

func TestProperties(t *testing.T) {
	name := unicode16("Keywords")
	namedString := append(le16(TypeString8|typeMultiValue), le16(0x8001)...)
	namedString = append(namedString, windowsGUID(PSETIDCommon)...)
	namedString = append(namedString, le32(NamedString)...)
	namedString = append(namedString, le32(uint32(len(name)))...)
	namedString = pad4(append(namedString, name...))
	namedString = appendValues(namedString, TypeString8|typeMultiValue, [][]byte{str8("red"), str8("blue")})

	clsid := windowsGUID(PSETIDMeeting)
	ps, err := ParseProperties(props(
		prop(TypeShort, 0x0001, le16(7)),
		prop(TypeLong|typeMultiValue, 0x0002, le32(1), le32(2), le32(3)),
		prop(TypeCLSID, 0x0003, clsid),
		prop(TypeBoolean, 0x0004, le16(1)),
		namedString,
	))
	require.NoError(t, err)
	require.Len(t, ps, 5)

	assert.Equal(t, uint32(7), ps[0].Uint32())
	assert.Equal(t, []byte{7, 0}, ps[0].Value())
	assert.True(t, ps[1].MultiValue)
	assert.Len(t, ps[1].Values, 3)
	assert.Equal(t, PSETIDMeeting, guid(ps[2].Value()))
	assert.True(t, ps[3].Bool())
	require.NotNil(t, ps[4].Named)
	assert.Equal(t, PSETIDCommon, ps[4].Named.GUID)
	assert.Equal(t, "Keywords", ps[4].Named.Name)
	assert.Equal(t, []string{"red", "blue"}, ps[4].Texts(nil))

	_, err = ParseProperties(props(prop(0x0099, 0x0001, le32(0))))
	assert.ErrorIs(t, err, compress.ErrUnsupportedMethod)

	t.Run("Null", func(t *testing.T) {
		ps, err := ParseProperties(props(
			prop(TypeNull, 0x0005),
			prop(TypeLong, 0x0006, le32(42)),
		))
		require.NoError(t, err)
		require.Len(t, ps, 2)
		assert.Equal(t, uint16(TypeNull), ps[0].Type)
		assert.Empty(t, ps[0].Value())
		assert.Equal(t, uint16(0x0006), ps[1].Tag)
		assert.Equal(t, uint32(42), ps[1].Uint32())
	})

	_, err = ParseProperties(le32(1000))
	assert.ErrorIs(t, err, compress.ErrInsufficientData)
}

func TestGUID(t *testing.T) {
	b := windowsGUID(PSETIDAppointment)
	assert.Equal(t, []byte{0x02, 0x20, 0x06, 0x00, 0x00, 0x00, 0x00, 0x00}, b[:8])
	assert.Equal(t, PSETIDAppointment, guid(b))
}

func TestErrors(t *testing.T) {
	t.Run("Signature", func(t *testing.T) {
		data := stream()
		data[0] ^= 0xff
		_, err := NewDecoder().Decompress(data)
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})

	t.Run("Level", func(t *testing.T) {
		_, err := NewDecoder().Decompress(stream(record(3, attSubject, str8("x"))))
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})

	t.Run("AttributeType", func(t *testing.T) {
		_, err := NewDecoder().Decompress(stream(msgAttr(0x000a8004, nil)))
		assert.ErrorIs(t, err, compress.ErrUnsupportedMethod)
	})

	t.Run("PropertyType", func(t *testing.T) {
		_, err := NewDecoder().Decompress(stream(msgAttr(attMsgProps, props(prop(0x0099, 0x0001, le32(0))))))
		assert.ErrorIs(t, err, compress.ErrUnsupportedMethod)
		var e *compress.Error
		require.ErrorAs(t, err, &e)
		assert.Equal(t, "tnef", e.Format)
	})

	t.Run("NodeLimit", func(t *testing.T) {
		data := stream(
			attachAttr(attAttachRenddata, nil),
			attachAttr(attAttachRenddata, nil),
			attachAttr(attAttachRenddata, nil),
		)
		_, err := NewDecoder(WithLimits(compress.Limits{MaxNodes: 3})).Decompress(data)
		assert.ErrorIs(t, err, compress.ErrInvalidFormat)
	})

	t.Run("Checksum", func(t *testing.T) {
		data := stream(msgAttr(attSubject, str8("sum")))
		data[len(data)-1] ^= 0xff

		var logs bytes.Buffer
		res := decode(t, data, WithLogger(zerolog.New(&logs).Level(zerolog.DebugLevel)))
		assert.Equal(t, "sum", res.Info.Subject)
		assert.Contains(t, logs.String(), "checksum mismatch")
		assert.Contains(t, logs.String(), `"format":"tnef"`)
	})
}

func TestTruncation(t *testing.T) {
	recs := mailStream()
	data := stream(recs...)
	boundary := map[int]bool{6: true}
	at := 6
	for _, r := range recs {
		at += len(r)
		boundary[at] = true
	}

	dec := NewDecoder()
	for cut := 0; cut < len(data); cut++ {
		_, err := dec.Decompress(data[:cut])
		if boundary[cut] {
			assert.NoError(t, err, "cut %d", cut)
			continue
		}
		require.Error(t, err, "cut %d", cut)
		var e *compress.Error
		assert.ErrorAs(t, err, &e, "cut %d", cut)
	}
}
