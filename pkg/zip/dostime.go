package zip

import "time"

// EncodeDOSTime packs t into an MS-DOS date/time word: date in the high 16
// bits (year-1980:7, month:4, day:5) and time in the low 16 bits (hour:5,
// minute:6, second/2:5). The fields of t are taken in t's own location.
// Times before 1980 clamp to 1980-01-01 00:00:00 and times after 2107 clamp
// to 2107-12-31 23:59:58.
func EncodeDOSTime(t time.Time) uint32 {
	year := t.Year()
	switch {
	case year < 1980:
		return 1<<21 | 1<<16
	case year > 2107:
		return 127<<25 | 12<<21 | 31<<16 | 23<<11 | 59<<5 | 29
	}
	return uint32(year-1980)<<25 |
		uint32(t.Month())<<21 |
		uint32(t.Day())<<16 |
		uint32(t.Hour())<<11 |
		uint32(t.Minute())<<5 |
		uint32(t.Second()>>1)
}

// DecodeDOSTime unpacks an MS-DOS date/time word as UTC.
func DecodeDOSTime(v uint32) time.Time {
	return DecodeDOSTimeIn(v, time.UTC)
}

// DecodeDOSTimeIn unpacks an MS-DOS date/time word in loc. A word whose
// month or day is out of range decodes to the zero Time.
func DecodeDOSTimeIn(v uint32, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	var (
		sec   = int(v&0x1f) * 2
		min   = int(v >> 5 & 0x3f)
		hour  = int(v >> 11 & 0x1f)
		day   = int(v >> 16 & 0x1f)
		month = int(v >> 21 & 0x0f)
		year  = int(v>>25&0x7f) + 1980
	)
	if month < 1 || month > 12 || day < 1 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, 0, loc)
}
