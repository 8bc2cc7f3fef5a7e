package compress

const (
	// DefaultMaxDepth bounds nested decoding (embedded TNEF messages).
	DefaultMaxDepth = 8

	// DefaultMaxNodes bounds the number of index nodes and chained blocks a
	// decoder will visit.
	DefaultMaxNodes = 1 << 16

	// DefaultMaxOutput bounds the bytes a single decode may produce (256MB).
	DefaultMaxOutput = 256 << 20
)

// Limits caps the work a decoder performs on untrusted input. Exceeding a
// limit is reported as ErrInvalidFormat. A zero field means its default.
type Limits struct {
	MaxDepth  int
	MaxNodes  int
	MaxOutput int64
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxDepth:  DefaultMaxDepth,
		MaxNodes:  DefaultMaxNodes,
		MaxOutput: DefaultMaxOutput,
	}
}

// Normalize replaces zero fields with their defaults.
func (l Limits) Normalize() Limits {
	if l.MaxDepth <= 0 {
		l.MaxDepth = DefaultMaxDepth
	}
	if l.MaxNodes <= 0 {
		l.MaxNodes = DefaultMaxNodes
	}
	if l.MaxOutput <= 0 {
		l.MaxOutput = DefaultMaxOutput
	}
	return l
}
