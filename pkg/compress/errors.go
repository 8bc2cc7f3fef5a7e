package compress

import (
	"errors"
	"strconv"
	"strings"
)

// Error kinds. Every decoder failure matches exactly one of these with
// errors.Is.
var (
	// ErrInsufficientData is returned when the buffer is shorter than a
	// declared or required field.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrInvalidFormat is returned when a structural invariant is violated.
	ErrInvalidFormat = errors.New("invalid format")

	// ErrUnsupportedMethod is returned for a valid record the decoder does
	// not implement.
	ErrUnsupportedMethod = errors.New("unsupported method")
)

// Error is the decoder error domain type.
//
// Decoders create an Error at the point the input is found wanting; callers
// above them wrap with fmt.Errorf and "%w" rather than nesting Errors.
type Error struct {
	Format string // "zip", "tnef", ...
	Op     string // What the decoder was doing
	Offset int64  // Buffer offset, -1 when not meaningful
	Kind   error  // One of the Err* kinds above
	Err    error  // Optional underlying cause
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	if e.Format != "" {
		b.WriteString(e.Format)
		b.WriteString(": ")
	}
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Offset >= 0 {
			b.WriteString(" at offset ")
			b.WriteString(strconv.FormatInt(e.Offset, 10))
		}
		b.WriteString(": ")
	}
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("error")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Is reports whether target is the error's kind.
func (e *Error) Is(target error) bool {
	return e.Kind != nil && e.Kind == target
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an Error. The cause may be nil.
func NewError(format, op string, offset int64, kind, cause error) *Error {
	return &Error{Format: format, Op: op, Offset: offset, Kind: kind, Err: cause}
}

// Stamp fills in the format of err when err is an *Error without one and
// returns err. Helpers shared between formats (the cursor) leave Format
// empty.
func Stamp(format string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Format == "" {
		e.Format = format
	}
	return err
}
