package tnef

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/encoding"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/cursor"
)

// MAPI property types.
const (
	TypeNull     = 0x0001
	TypeShort    = 0x0002
	TypeLong     = 0x0003
	TypeFloat    = 0x0004
	TypeDouble   = 0x0005
	TypeCurrency = 0x0006
	TypeAppTime  = 0x0007
	TypeError    = 0x000a
	TypeBoolean  = 0x000b
	TypeObject   = 0x000d
	TypeInt64    = 0x0014
	TypeString8  = 0x001e
	TypeUnicode  = 0x001f
	TypeSysTime  = 0x0040
	TypeCLSID    = 0x0048
	TypeBinary   = 0x0102

	typeMultiValue = 0x1000
)

// Property tags.
const (
	tagImportance         = 0x0017
	tagMessageClass       = 0x001a
	tagSubject            = 0x0037
	tagStartDate          = 0x0060
	tagEndDate            = 0x0061
	tagConversationTopic  = 0x0070
	tagSenderName         = 0x0c1a
	tagSenderEmail        = 0x0c1f
	tagBody               = 0x1000
	tagRTFCompressed      = 0x1009
	tagBodyHTML           = 0x1013
	tagDisplayName        = 0x3001
	tagAttachDataObj      = 0x3701
	tagAttachExtension    = 0x3703
	tagAttachFilename     = 0x3704
	tagAttachLongFilename = 0x3707
	tagAttachMimeTag      = 0x370e
	tagGivenName          = 0x3a06
	tagBusinessPhone      = 0x3a08
	tagHomePhone          = 0x3a09
	tagSurname            = 0x3a11
	tagCompanyName        = 0x3a16
	tagTitle              = 0x3a17
	tagMobilePhone        = 0x3a1c
	tagInternetCodepage   = 0x3fde
	tagLastModifierName   = 0x3ffa
	tagMessageCodepage    = 0x3ffd

	namedMin = 0x8000
	namedMax = 0xfffe
)

// Named property kinds.
const (
	NamedID     = 0
	NamedString = 1
)

// Property sets of the named properties the decoder interprets.
var (
	PSETIDAppointment = uuid.MustParse("00062002-0000-0000-c000-000000000046")
	PSETIDTask        = uuid.MustParse("00062003-0000-0000-c000-000000000046")
	PSETIDAddress     = uuid.MustParse("00062004-0000-0000-c000-000000000046")
	PSETIDCommon      = uuid.MustParse("00062008-0000-0000-c000-000000000046")
	PSETIDMeeting     = uuid.MustParse("6ed8da90-450b-101b-98da-00aa003f1305")
)

// Named property IDs within their sets.
const (
	lidAppointmentSequence = 0x8201
	lidBusyStatus          = 0x8205
	lidLocation            = 0x8208
	lidURL                 = 0x8209
	lidStartWhole          = 0x820d
	lidEndWhole            = 0x820e
	lidDuration            = 0x8213
	lidAllDay              = 0x8215
	lidRecur               = 0x8216
	lidResponseStatus      = 0x8218
	lidRecurring           = 0x8223
	lidRecurrenceType      = 0x8231
	lidOrganizerAlias      = 0x8243

	lidGlobalObjectID      = 0x0003
	lidCleanGlobalObjectID = 0x0023

	lidTaskStatus    = 0x8101
	lidPercent       = 0x8102
	lidTaskStart     = 0x8104
	lidTaskDue       = 0x8105
	lidTaskComplete  = 0x811c
	lidEmail1Address = 0x8083
	lidEmail2Address = 0x8093
	lidEmail3Address = 0x80a3
)

// Named identifies a named property.
type Named struct {
	GUID uuid.UUID
	Kind uint32
	ID   uint32 // Kind NamedID
	Name string // Kind NamedString
}

// Property is one MAPI property. Values holds the raw bytes of each value
// with padding removed; single valued properties have exactly one.
type Property struct {
	Type       uint16
	Tag        uint16
	MultiValue bool
	Named      *Named
	Values     [][]byte
}

// Is reports whether p is the named property id in set.
func (p *Property) Is(set uuid.UUID, id uint32) bool {
	return p.Named != nil && p.Named.Kind == NamedID && p.Named.GUID == set && p.Named.ID == id
}

// Value returns the first value or nil.
func (p *Property) Value() []byte {
	if len(p.Values) == 0 {
		return nil
	}
	return p.Values[0]
}

// Uint32 returns an integer property, widening Short and Boolean.
func (p *Property) Uint32() uint32 {
	v := p.Value()
	switch {
	case len(v) >= 4 && p.Type != TypeShort && p.Type != TypeBoolean:
		return binary.LittleEndian.Uint32(v)
	case len(v) >= 2:
		return uint32(binary.LittleEndian.Uint16(v))
	case len(v) == 1:
		return uint32(v[0])
	}
	return 0
}

// Bool returns a Boolean property.
func (p *Property) Bool() bool {
	return p.Uint32() != 0
}

// Float64 returns a Double or Float property.
func (p *Property) Float64() float64 {
	v := p.Value()
	switch {
	case p.Type == TypeFloat && len(v) >= 4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(v)))
	case len(v) >= 8:
		return math.Float64frombits(binary.LittleEndian.Uint64(v))
	}
	return 0
}

// Time returns a SysTime property in UTC.
func (p *Property) Time() time.Time {
	v := p.Value()
	if len(v) < 8 {
		return time.Time{}
	}
	return filetime(binary.LittleEndian.Uint64(v))
}

// Text returns a String8 value decoded with enc, or a Unicode value, with
// trailing NULs removed. Binary values are returned as they are.
func (p *Property) Text(enc encoding.Encoding) string {
	v := p.Value()
	switch p.Type {
	case TypeUnicode:
		return strings.TrimRight(decodeUTF16(v), "\x00")
	case TypeString8:
		v = bytes.TrimRight(v, "\x00")
		if enc == nil {
			enc = defaultCodepage
		}
		return decodeWith(enc, v)
	}
	return string(bytes.TrimRight(v, "\x00"))
}

// Texts returns every value of a multi-valued string property.
func (p *Property) Texts(enc encoding.Encoding) []string {
	out := make([]string, 0, len(p.Values))
	for i := range p.Values {
		one := Property{Type: p.Type, Values: p.Values[i : i+1]}
		out = append(out, one.Text(enc))
	}
	return out
}

// filetimeUnixDiff is the number of 100ns intervals between 1601-01-01 and
// the Unix epoch.
const filetimeUnixDiff = 116444736000000000

func filetime(ft uint64) time.Time {
	if ft == 0 || ft < filetimeUnixDiff {
		return time.Time{}
	}
	d := ft - filetimeUnixDiff
	return time.Unix(int64(d/1e7), int64(d%1e7)*100).UTC()
}

// ParseProperties decodes a MAPI property list: a count followed by that
// many tagged properties.
func ParseProperties(data []byte) ([]Property, error) {
	props, err := parseProperties(data)
	if err != nil {
		return nil, compress.Stamp(format, err)
	}
	return props, nil
}

func parseProperties(data []byte) ([]Property, error) {
	c := cursor.New(data)
	count, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	// Each property takes at least 8 bytes.
	if int64(count) > int64(c.Remaining())/8+1 {
		return nil, compress.NewError(format, "read property count", 0, compress.ErrInsufficientData,
			fmt.Errorf("%d properties in %d bytes", count, c.Remaining()))
	}
	props := make([]Property, 0, count)
	for i := uint32(0); i < count; i++ {
		p, err := readProperty(c)
		if err != nil {
			return nil, err
		}
		props = append(props, p)
	}
	return props, nil
}

func readProperty(c *cursor.Cursor) (Property, error) {
	at := int64(c.Offset())
	typ, err := c.Uint16()
	if err != nil {
		return Property{}, err
	}
	tag, err := c.Uint16()
	if err != nil {
		return Property{}, err
	}
	p := Property{Type: typ &^ typeMultiValue, Tag: tag, MultiValue: typ&typeMultiValue != 0}

	if tag >= namedMin && tag < namedMax {
		n, err := readNamed(c)
		if err != nil {
			return Property{}, err
		}
		p.Named = n
	}

	size, variable, ok := valueSize(p.Type)
	if !ok {
		return Property{}, compress.NewError(format, "read property", at, compress.ErrUnsupportedMethod,
			fmt.Errorf("type %#04x tag %#04x", p.Type, tag))
	}

	count := uint32(1)
	if p.MultiValue || variable {
		if count, err = c.Uint32(); err != nil {
			return Property{}, err
		}
		if int64(count) > int64(c.Remaining())/4+1 {
			return Property{}, compress.NewError(format, "read value count", at, compress.ErrInsufficientData,
				fmt.Errorf("%d values in %d bytes", count, c.Remaining()))
		}
	}

	p.Values = make([][]byte, 0, count)
	for i := uint32(0); i < count; i++ {
		n := size
		if variable {
			l, err := c.Uint32()
			if err != nil {
				return Property{}, err
			}
			if int64(l) > int64(c.Remaining()) {
				return Property{}, compress.NewError(format, "read value", int64(c.Offset()), compress.ErrInsufficientData,
					fmt.Errorf("value of %d bytes, %d remain", l, c.Remaining()))
			}
			n = int(l)
		}
		v, err := c.Bytes(n)
		if err != nil {
			return Property{}, err
		}
		if err := c.Align(4); err != nil {
			return Property{}, err
		}
		if p.Type == TypeShort {
			v = v[:2]
		}
		p.Values = append(p.Values, v)
	}
	return p, nil
}

// valueSize returns the padded size of a fixed value, or variable for
// length prefixed types.
func valueSize(typ uint16) (size int, variable, ok bool) {
	switch typ {
	case TypeNull:
		// A null property carries no value bytes.
		return 0, false, true
	case TypeShort, TypeLong, TypeFloat, TypeError, TypeBoolean:
		return 4, false, true
	case TypeDouble, TypeCurrency, TypeAppTime, TypeInt64, TypeSysTime:
		return 8, false, true
	case TypeCLSID:
		return 16, false, true
	case TypeString8, TypeUnicode, TypeBinary, TypeObject:
		return 0, true, true
	}
	return 0, false, false
}

func readNamed(c *cursor.Cursor) (*Named, error) {
	g, err := c.Bytes(16)
	if err != nil {
		return nil, err
	}
	kind, err := c.Uint32()
	if err != nil {
		return nil, err
	}
	n := &Named{GUID: guid(g), Kind: kind}
	switch kind {
	case NamedID:
		if n.ID, err = c.Uint32(); err != nil {
			return nil, err
		}
	case NamedString:
		l, err := c.Uint32()
		if err != nil {
			return nil, err
		}
		if int64(l) > int64(c.Remaining()) {
			return nil, compress.NewError(format, "read property name", int64(c.Offset()), compress.ErrInsufficientData,
				fmt.Errorf("name of %d bytes, %d remain", l, c.Remaining()))
		}
		b, err := c.Bytes(int(l))
		if err != nil {
			return nil, err
		}
		if err := c.Align(4); err != nil {
			return nil, err
		}
		n.Name = strings.TrimRight(decodeUTF16(b), "\x00")
	}
	return n, nil
}

// guid converts a Windows GUID, whose first three fields are little
// endian, into a UUID.
func guid(b []byte) uuid.UUID {
	var u uuid.UUID
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	copy(u[8:], b[8:16])
	return u
}

// windowsGUID is the inverse of guid.
func windowsGUID(u uuid.UUID) []byte {
	b := make([]byte, 16)
	b[0], b[1], b[2], b[3] = u[3], u[2], u[1], u[0]
	b[4], b[5] = u[5], u[4]
	b[6], b[7] = u[7], u[6]
	copy(b[8:], u[8:])
	return b
}
