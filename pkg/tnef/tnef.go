// Package tnef decodes Transport Neutral Encapsulation Format streams
// (winmail.dat) into a flat arena of message, attachment, body and
// calendar objects.
//
// A stream is a signature and legacy key followed by attribute records.
// Message level records describe the message, attachment level records
// describe the attachment most recently opened by attAttachRenddata. Both
// levels may carry MAPI property lists; an attachment whose data object
// is itself a TNEF stream is decoded into the same arena.
package tnef

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/horde/compress/pkg/compress"
)

const format = "tnef"

// Signature opens every TNEF stream.
const Signature = 0x223e9f78

// Record levels.
const (
	LevelMessage    = 0x01
	LevelAttachment = 0x02
)

// Attribute types, the high word of an attribute ID.
const (
	atpTriples = 0x0000
	atpString  = 0x0001
	atpText    = 0x0002
	atpDate    = 0x0003
	atpShort   = 0x0004
	atpLong    = 0x0005
	atpByte    = 0x0006
	atpWord    = 0x0007
	atpDword   = 0x0008
	atpMax     = 0x0009
)

// Attribute IDs.
const (
	attFrom             = 0x00008000
	attSubject          = 0x00018004
	attDateSent         = 0x00038005
	attDateRecd         = 0x00038006
	attMessageStatus    = 0x00068007
	attMessageClass     = 0x00078008
	attMessageID        = 0x00018009
	attBody             = 0x0002800c
	attPriority         = 0x0004800d
	attAttachData       = 0x0006800f
	attAttachTitle      = 0x00018010
	attAttachCreateDate = 0x00038012
	attAttachModifyDate = 0x00038013
	attDateModified     = 0x00038020
	attAttachRenddata   = 0x00069002
	attMsgProps         = 0x00069003
	attRecipTable       = 0x00069004
	attAttachment       = 0x00069005
	attTnefVersion      = 0x00089006
	attOemCodepage      = 0x00069007
	attDateStart        = 0x00030006
	attDateEnd          = 0x00030007
	attAidOwner         = 0x00050008
	attRequestRes       = 0x00040009
)

// Message classes that produce typed objects.
const (
	classMeetingRequest   = "IPM.Microsoft Schedule.MtgReq"
	classMeetingAccepted  = "IPM.Microsoft Schedule.MtgRespP"
	classMeetingDeclined  = "IPM.Microsoft Schedule.MtgRespN"
	classMeetingTentative = "IPM.Microsoft Schedule.MtgRespA"
	classMeetingCancelled = "IPM.Microsoft Schedule.MtgCncl"
	classAppointment      = "IPM.Appointment"
	classTaskRequest      = "IPM.TaskRequest"
	classTask             = "IPM.Task"
	classContact          = "IPM.Contact"
)

// Kind classifies an arena object.
type Kind int

// Object kinds.
const (
	KindMessage Kind = iota
	KindAttachment
	KindMeeting
	KindTask
	KindContact
	KindBody
)

var kindNames = [...]string{"message", "attachment", "meeting", "task", "contact", "body"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Object is one node of the arena. Parent is -1 for the top-level message.
type Object struct {
	Kind     Kind
	Parent   int
	Children []int

	// Attachments and bodies.
	Type    string
	Subtype string
	Name    string
	Data    []byte
	ModTime time.Time

	// Embedded is set on an attachment whose data object decoded as a
	// nested message.
	Embedded bool

	Info    *MessageInfo // KindMessage
	Meeting *Meeting     // KindMeeting
	Task    *Task        // KindTask
	Contact *Contact     // KindContact

	Props []Property
}

// MessageInfo collects message level attributes, and MAPI properties that
// arrived with no typed object to receive them.
type MessageInfo struct {
	Class           string
	Subject         string
	MessageID       string
	From            string
	Sent            time.Time
	Received        time.Time
	Modified        time.Time
	Start           time.Time
	End             time.Time
	Body            string
	Codepage        uint32
	Version         uint32
	Priority        uint16
	Status          uint8
	AidOwner        uint32
	RequestResponse uint16

	ConversationTopic string
	LastModifier      string
	SenderName        string
	SenderEmail       string
	Importance        uint32
	HasImportance     bool

	Props []Property
	Stray []Attribute // Attachment records seen before any attachment
}

// Attribute is a raw record kept when nothing else consumes it.
type Attribute struct {
	Level uint8
	ID    uint32
	Data  []byte
}

// Meeting is a calendar item synthesized from an IPM.Microsoft Schedule
// message.
type Meeting struct {
	Method   string // REQUEST, REPLY, CANCEL or PUBLISH
	PartStat string // For replies
	Start    time.Time
	End      time.Time
	AllDay   bool
	Duration uint32 // Minutes

	Location       string
	URL            string
	Organizer      string
	GlobalObjectID []byte
	Sequence       uint32
	Recurring      bool
	RecurrenceType uint32
	Recurrence     []byte // Undecoded AppointmentRecur blob
	ResponseStatus uint32
}

// Task is an IPM.Task or task request.
type Task struct {
	Status   uint32
	Percent  float64
	Start    time.Time
	Due      time.Time
	Complete bool
}

// Contact is an IPM.Contact item.
type Contact struct {
	DisplayName string
	GivenName   string
	Surname     string
	Company     string
	Title       string
	Emails      []string
	WorkPhone   string
	HomePhone   string
	MobilePhone string
}

// Result is the arena produced by one decode. Nodes[0] is the top-level
// message and Info is its MessageInfo.
type Result struct {
	Nodes []Object
	Info  MessageInfo
	Stamp time.Time // DTSTAMP of synthesized calendar parts
}

// Part is one flattened MIME part.
type Part struct {
	Type    string
	Subtype string
	Name    string
	Data    []byte
}

// Option configures a Decoder.
type Option func(*Decoder)

// WithLogger sets the logger used for debug output.
func WithLogger(l zerolog.Logger) Option {
	return func(d *Decoder) {
		d.logger = l
	}
}

// WithLimits sets the resource limits. MaxDepth bounds nested messages,
// MaxNodes the arena and MaxOutput the expanded RTF bodies.
func WithLimits(l compress.Limits) Option {
	return func(d *Decoder) {
		d.limits = l
	}
}

// WithClock sets the time source for DTSTAMP.
func WithClock(now func() time.Time) Option {
	return func(d *Decoder) {
		d.now = now
	}
}
