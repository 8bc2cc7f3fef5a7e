package tnef

import (
	"bytes"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-ical"
	"github.com/emersion/go-vcard"
	"github.com/google/uuid"

	"github.com/horde/compress/pkg/compress"
)

const prodID = "-//Horde//Compress TNEF//EN"

func (m *msg) meetingProp(mt *Meeting, p *Property) {
	switch {
	case p.Is(PSETIDAppointment, lidAppointmentSequence):
		mt.Sequence = p.Uint32()
	case p.Is(PSETIDAppointment, lidLocation):
		mt.Location = p.Text(m.enc)
	case p.Is(PSETIDAppointment, lidURL):
		mt.URL = p.Text(m.enc)
	case p.Is(PSETIDAppointment, lidStartWhole):
		mt.Start = p.Time()
	case p.Is(PSETIDAppointment, lidEndWhole):
		mt.End = p.Time()
	case p.Is(PSETIDAppointment, lidDuration):
		mt.Duration = p.Uint32()
	case p.Is(PSETIDAppointment, lidAllDay):
		mt.AllDay = p.Bool()
	case p.Is(PSETIDAppointment, lidRecur):
		mt.Recurrence = bytes.Clone(p.Value())
	case p.Is(PSETIDAppointment, lidRecurring):
		mt.Recurring = p.Bool()
	case p.Is(PSETIDAppointment, lidRecurrenceType):
		mt.RecurrenceType = p.Uint32()
	case p.Is(PSETIDAppointment, lidResponseStatus):
		mt.ResponseStatus = p.Uint32()
	case p.Is(PSETIDAppointment, lidOrganizerAlias):
		mt.Organizer = p.Text(m.enc)
	case p.Is(PSETIDMeeting, lidGlobalObjectID):
		mt.GlobalObjectID = bytes.Clone(p.Value())
	case p.Is(PSETIDMeeting, lidCleanGlobalObjectID):
		if mt.GlobalObjectID == nil {
			mt.GlobalObjectID = bytes.Clone(p.Value())
		}
	case p.Named == nil && p.Tag == tagStartDate && mt.Start.IsZero():
		mt.Start = p.Time()
	case p.Named == nil && p.Tag == tagEndDate && mt.End.IsZero():
		mt.End = p.Time()
	}
}

func taskProp(t *Task, p *Property) {
	switch {
	case p.Is(PSETIDTask, lidTaskStatus):
		t.Status = p.Uint32()
	case p.Is(PSETIDTask, lidPercent):
		t.Percent = p.Float64()
	case p.Is(PSETIDTask, lidTaskStart):
		t.Start = p.Time()
	case p.Is(PSETIDTask, lidTaskDue):
		t.Due = p.Time()
	case p.Is(PSETIDTask, lidTaskComplete):
		t.Complete = p.Bool()
	}
}

func (m *msg) contactProp(ct *Contact, p *Property) {
	switch {
	case p.Is(PSETIDAddress, lidEmail1Address), p.Is(PSETIDAddress, lidEmail2Address), p.Is(PSETIDAddress, lidEmail3Address):
		if v := p.Text(m.enc); v != "" {
			ct.Emails = append(ct.Emails, v)
		}
	case p.Named != nil:
	case p.Tag == tagDisplayName:
		ct.DisplayName = p.Text(m.enc)
	case p.Tag == tagGivenName:
		ct.GivenName = p.Text(m.enc)
	case p.Tag == tagSurname:
		ct.Surname = p.Text(m.enc)
	case p.Tag == tagCompanyName:
		ct.Company = p.Text(m.enc)
	case p.Tag == tagTitle:
		ct.Title = p.Text(m.enc)
	case p.Tag == tagBusinessPhone:
		ct.WorkPhone = p.Text(m.enc)
	case p.Tag == tagHomePhone:
		ct.HomePhone = p.Text(m.enc)
	case p.Tag == tagMobilePhone:
		ct.MobilePhone = p.Text(m.enc)
	}
}

// UID derives an iCalendar UID from a meeting GlobalObjectId. Ids that wrap
// a vCalendar UID yield it unchanged; others are hex encoded with the
// instance date zeroed so every occurrence shares one UID.
func UID(goid []byte) string {
	if len(goid) == 0 {
		return ""
	}
	if len(goid) > 52 && string(goid[40:48]) == "vCal-Uid" {
		return strings.TrimRight(string(goid[52:]), "\x00")
	}
	b := bytes.Clone(goid)
	if len(b) >= 20 {
		clear(b[16:20])
	}
	return strings.ToUpper(hex.EncodeToString(b))
}

// Parts flattens the arena in archive order. Attachments that hold an
// embedded message are replaced by that message's own parts; meetings and
// tasks become text/calendar and contacts text/x-vcard.
func (r *Result) Parts() ([]Part, error) {
	var parts []Part
	for i := range r.Nodes {
		o := &r.Nodes[i]
		switch o.Kind {
		case KindAttachment:
			if o.Embedded {
				continue
			}
			parts = append(parts, Part{Type: o.Type, Subtype: o.Subtype, Name: o.Name, Data: o.Data})
		case KindBody:
			parts = append(parts, Part{Type: o.Type, Subtype: o.Subtype, Name: o.Name, Data: o.Data})
		case KindMeeting:
			info := r.messageInfo(i)
			data, err := meetingCalendar(o.Meeting, info, r.Stamp)
			if err != nil {
				return nil, compress.NewError(format, "render meeting", -1, compress.ErrInvalidFormat, err)
			}
			parts = append(parts, Part{
				Type:    "text",
				Subtype: "calendar",
				Name:    partName(summary(info), "calendar", ".ics"),
				Data:    data,
			})
		case KindTask:
			info := r.messageInfo(i)
			data, err := taskCalendar(o.Task, info, r.Stamp)
			if err != nil {
				return nil, compress.NewError(format, "render task", -1, compress.ErrInvalidFormat, err)
			}
			parts = append(parts, Part{
				Type:    "text",
				Subtype: "calendar",
				Name:    partName(info.Subject, "task", ".ics"),
				Data:    data,
			})
		case KindContact:
			data, err := contactCard(o.Contact)
			if err != nil {
				return nil, compress.NewError(format, "render contact", -1, compress.ErrInvalidFormat, err)
			}
			parts = append(parts, Part{
				Type:    "text",
				Subtype: "x-vcard",
				Name:    partName(contactName(o.Contact), "contact", ".vcf"),
				Data:    data,
			})
		}
	}
	return parts, nil
}

// messageInfo returns the info of the message enclosing node i.
func (r *Result) messageInfo(i int) *MessageInfo {
	for i >= 0 {
		if o := &r.Nodes[i]; o.Kind == KindMessage {
			return o.Info
		}
		i = r.Nodes[i].Parent
	}
	return &r.Info
}

func partName(base, fallback, ext string) string {
	base = cleanName(base)
	if base == "" {
		base = fallback
	}
	return base + ext
}

func summary(info *MessageInfo) string {
	if info.ConversationTopic != "" {
		return info.ConversationTopic
	}
	return info.Subject
}

// address extracts the mail address from an attFrom rendering.
func address(from string) string {
	if i := strings.LastIndexByte(from, '<'); i >= 0 {
		return strings.TrimSuffix(from[i+1:], ">")
	}
	return from
}

func calendar(method string) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, prodID)
	cal.Props.SetText(ical.PropMethod, method)
	return cal
}

func encodeCalendar(cal *ical.Calendar) ([]byte, error) {
	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setTime(c *ical.Component, name string, t time.Time, allDay bool) {
	if t.IsZero() {
		return
	}
	if allDay {
		c.Props.SetDate(name, t)
		return
	}
	c.Props.SetDateTime(name, t.UTC())
}

func setValue(c *ical.Component, name, value string) {
	p := ical.NewProp(name)
	p.Value = value
	c.Props.Set(p)
}

// fallbackUID names an object that carries no id of its own. It is stable
// for a given kind, subject and stamp.
func fallbackUID(kind, subject string, stamp time.Time) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(kind+"\x00"+subject+"\x00"+stamp.UTC().Format(time.RFC3339))).String()
}

func meetingCalendar(mt *Meeting, info *MessageInfo, stamp time.Time) ([]byte, error) {
	cal := calendar(mt.Method)
	ev := ical.NewEvent()

	start, end := mt.Start, mt.End
	if start.IsZero() {
		start = info.Start
	}
	if end.IsZero() {
		end = info.End
	}
	if end.IsZero() && !start.IsZero() && mt.Duration > 0 {
		end = start.Add(time.Duration(mt.Duration) * time.Minute)
	}
	setTime(ev.Component, ical.PropDateTimeStart, start, mt.AllDay)
	setTime(ev.Component, ical.PropDateTimeEnd, end, mt.AllDay)
	ev.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	uid := UID(mt.GlobalObjectID)
	if uid == "" {
		uid = fallbackUID("VEVENT", summary(info), stamp)
	}
	ev.Props.SetText(ical.PropUID, uid)
	if s := summary(info); s != "" {
		ev.Props.SetText(ical.PropSummary, s)
	}
	if mt.Location != "" {
		ev.Props.SetText(ical.PropLocation, mt.Location)
	}
	if mt.URL != "" {
		setValue(ev.Component, ical.PropURL, mt.URL)
	}
	if mt.Sequence > 0 {
		setValue(ev.Component, ical.PropSequence, strconv.FormatUint(uint64(mt.Sequence), 10))
	}

	organizer := mt.Organizer
	if organizer == "" {
		organizer = info.LastModifier
	}
	if organizer != "" {
		setValue(ev.Component, ical.PropOrganizer, "mailto:"+organizer)
	}

	switch mt.Method {
	case "REPLY":
		attendee := info.SenderEmail
		if attendee == "" {
			attendee = address(info.From)
		}
		if attendee != "" {
			p := ical.NewProp(ical.PropAttendee)
			p.Params.Set(ical.ParamParticipationStatus, mt.PartStat)
			p.Value = "mailto:" + attendee
			ev.Props.Set(p)
		}
	case "CANCEL":
		setValue(ev.Component, ical.PropStatus, "CANCELLED")
	}
	cal.Children = append(cal.Children, ev.Component)
	return encodeCalendar(cal)
}

var taskStatus = map[uint32]string{
	0: "NEEDS-ACTION",
	1: "IN-PROCESS",
	2: "COMPLETED",
	3: "NEEDS-ACTION",
	4: "CANCELLED",
}

func taskCalendar(t *Task, info *MessageInfo, stamp time.Time) ([]byte, error) {
	method := "PUBLISH"
	if strings.HasPrefix(info.Class, classTaskRequest) {
		method = "REQUEST"
	}
	cal := calendar(method)
	todo := ical.NewComponent(ical.CompToDo)
	todo.Props.SetDateTime(ical.PropDateTimeStamp, stamp.UTC())
	uid := info.MessageID
	if uid == "" {
		uid = fallbackUID("VTODO", info.Subject, stamp)
	}
	todo.Props.SetText(ical.PropUID, uid)
	if info.Subject != "" {
		todo.Props.SetText(ical.PropSummary, info.Subject)
	}
	setTime(todo, ical.PropDateTimeStart, t.Start, true)
	setTime(todo, ical.PropDue, t.Due, true)

	status, ok := taskStatus[t.Status]
	if !ok {
		status = "NEEDS-ACTION"
	}
	percent := int(math.Round(t.Percent * 100))
	if t.Complete {
		status, percent = "COMPLETED", 100
	}
	setValue(todo, ical.PropStatus, status)
	setValue(todo, ical.PropPercentComplete, strconv.Itoa(min(max(percent, 0), 100)))
	if info.HasImportance {
		// Low, normal and high importance.
		setValue(todo, ical.PropPriority, [...]string{"9", "5", "1"}[min(info.Importance, 2)])
	}
	cal.Children = append(cal.Children, todo)
	return encodeCalendar(cal)
}

func contactName(ct *Contact) string {
	if ct.DisplayName != "" {
		return ct.DisplayName
	}
	return strings.TrimSpace(ct.GivenName + " " + ct.Surname)
}

func contactCard(ct *Contact) ([]byte, error) {
	card := make(vcard.Card)
	card.SetValue(vcard.FieldVersion, "3.0")
	card.SetValue(vcard.FieldFormattedName, contactName(ct))
	card.SetName(&vcard.Name{FamilyName: ct.Surname, GivenName: ct.GivenName})
	for _, e := range ct.Emails {
		card.Add(vcard.FieldEmail, &vcard.Field{
			Value:  e,
			Params: vcard.Params{vcard.ParamType: {"INTERNET"}},
		})
	}
	for _, tel := range []struct{ kind, number string }{
		{vcard.TypeWork, ct.WorkPhone},
		{vcard.TypeHome, ct.HomePhone},
		{vcard.TypeCell, ct.MobilePhone},
	} {
		if tel.number != "" {
			card.Add(vcard.FieldTelephone, &vcard.Field{
				Value:  tel.number,
				Params: vcard.Params{vcard.ParamType: {tel.kind}},
			})
		}
	}
	if ct.Company != "" {
		card.SetValue(vcard.FieldOrganization, ct.Company)
	}
	if ct.Title != "" {
		card.SetValue(vcard.FieldTitle, ct.Title)
	}
	var buf bytes.Buffer
	if err := vcard.NewEncoder(&buf).Encode(card); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
