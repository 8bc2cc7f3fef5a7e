// Package driver detects archive formats and builds decoders and encoders
// for them behind the shared compress interfaces.
package driver

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/dbx"
	"github.com/horde/compress/pkg/gzip"
	"github.com/horde/compress/pkg/rar"
	"github.com/horde/compress/pkg/tar"
	"github.com/horde/compress/pkg/tnef"
	"github.com/horde/compress/pkg/zip"
)

// Format names a supported container format.
type Format int

// Formats.
const (
	Unknown Format = iota
	Tar
	Gzip
	Zip
	Rar
	Dbx
	Tnef
)

var formatNames = [...]string{"unknown", "tar", "gzip", "zip", "rar", "dbx", "tnef"}

func (f Format) String() string {
	if f >= 0 && int(f) < len(formatNames) {
		return formatNames[f]
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// Formats lists every format in a stable order.
func Formats() []Format {
	return []Format{Tar, Gzip, Zip, Rar, Dbx, Tnef}
}

var aliases = map[string]Format{
	"tgz":     Gzip,
	"gz":      Gzip,
	"winmail": Tnef,
	"ms-tnef": Tnef,
}

// ByName returns the format called name, ignoring case. A few common
// aliases such as "gz" and "winmail" are accepted.
func ByName(name string) (Format, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for _, f := range Formats() {
		if f.String() == name {
			return f, nil
		}
	}
	if f, ok := aliases[name]; ok {
		return f, nil
	}
	return Unknown, fmt.Errorf("unknown format %q", name)
}

var (
	zipLocal = []byte("PK\x03\x04")
	zipEnd   = []byte("PK\x05\x06")
	zipSpan  = []byte("PK\x07\x08")
)

// Detect identifies the format of data from its leading bytes. Tar has no
// leading magic and is recognized by a valid first header block.
func Detect(data []byte) Format {
	if len(data) >= 4 {
		switch binary.LittleEndian.Uint32(data) {
		case tnef.Signature:
			return Tnef
		case dbx.Magic:
			return Dbx
		}
	}
	switch {
	case bytes.HasPrefix(data, zipLocal), bytes.HasPrefix(data, zipEnd), bytes.HasPrefix(data, zipSpan):
		return Zip
	case len(data) >= 2 && data[0] == 0x1f && data[1] == 0x8b:
		return Gzip
	case bytes.HasPrefix(data, rar.Marker):
		return Rar
	case isTar(data):
		return Tar
	}
	return Unknown
}

func isTar(data []byte) bool {
	if len(data) < tar.BlockSize {
		return false
	}
	block := data[:tar.BlockSize]
	var h tar.Header
	if err := h.DecodeFrom(block); err != nil {
		return false
	}
	return h.Validate(block) == nil
}

type config struct {
	logger zerolog.Logger
	limits compress.Limits
	now    func() time.Time
	level  int
	method zip.Method
}

// Option configures the decoders and encoders built by Open and
// NewCompressor.
type Option func(*config)

// WithLogger sets the logger passed to decoders.
func WithLogger(l zerolog.Logger) Option {
	return func(c *config) {
		c.logger = l
	}
}

// WithLimits sets the resource limits passed to decoders.
func WithLimits(l compress.Limits) Option {
	return func(c *config) {
		c.limits = l
	}
}

// WithClock sets the time source of encoders and of TNEF calendar stamps.
func WithClock(now func() time.Time) Option {
	return func(c *config) {
		c.now = now
	}
}

// WithCompressionLevel sets the gzip and zip compression level.
func WithCompressionLevel(level int) Option {
	return func(c *config) {
		c.level = level
	}
}

// WithZipMethod sets the method of zip members.
func WithZipMethod(m zip.Method) Option {
	return func(c *config) {
		c.method = m
	}
}

func newConfig(opts []Option) *config {
	c := &config{
		logger: zerolog.Nop(),
		limits: compress.DefaultLimits(),
		now:    time.Now,
		level:  zip.DefaultCompressionLevel,
		method: zip.Deflate,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ErrNoEncoder is returned by NewCompressor for read-only formats.
var ErrNoEncoder = errors.New("format has no encoder")

// Open returns a decoder for f.
func Open(f Format, opts ...Option) (compress.Decompressor, error) {
	c := newConfig(opts)
	switch f {
	case Tar:
		return tar.NewDecoder(tar.WithLogger(c.logger), tar.WithLimits(c.limits)), nil
	case Gzip:
		return gzipDecoder{gzip.NewDecoder(gzip.WithLogger(c.logger), gzip.WithLimits(c.limits))}, nil
	case Zip:
		return zipDecoder{
			dec:    zip.NewDecoder(zip.WithLogger(c.logger), zip.WithLimits(c.limits)),
			log:    c.logger,
			limits: c.limits.Normalize(),
		}, nil
	case Rar:
		return rarDecoder{
			dec:    rar.NewDecoder(rar.WithLogger(c.logger), rar.WithLimits(c.limits)),
			log:    c.logger,
			limits: c.limits.Normalize(),
		}, nil
	case Dbx:
		return dbxDecoder{dbx.NewDecoder(dbx.WithLogger(c.logger), dbx.WithLimits(c.limits))}, nil
	case Tnef:
		return tnefDecoder{tnef.NewDecoder(
			tnef.WithLogger(c.logger),
			tnef.WithLimits(c.limits),
			tnef.WithClock(c.now),
		)}, nil
	}
	return nil, fmt.Errorf("open %s: unknown format", f)
}

// NewCompressor returns an encoder for f.
func NewCompressor(f Format, opts ...Option) (compress.Compressor, error) {
	c := newConfig(opts)
	switch f {
	case Tar:
		return tar.NewEncoder(tar.WithClock(c.now)), nil
	case Gzip:
		return gzip.NewEncoder(gzip.WithClock(c.now), gzip.WithCompressionLevel(c.level)), nil
	case Zip:
		return zip.NewEncoder(
			zip.WithMethod(c.method),
			zip.WithCompressionLevel(c.level),
			zip.WithClock(c.now),
		), nil
	case Rar, Dbx, Tnef:
		return nil, fmt.Errorf("compress %s: %w", f, ErrNoEncoder)
	}
	return nil, fmt.Errorf("compress %s: unknown format", f)
}

type gzipDecoder struct {
	dec *gzip.Decoder
}

func (g gzipDecoder) Decompress(data []byte) ([]compress.Entry, error) {
	m, err := g.dec.Decompress(data)
	if err != nil {
		return nil, err
	}
	return []compress.Entry{m.Entry(len(data))}, nil
}

// output tracks the bytes extracted by one Decompress call against
// Limits.MaxOutput.
type output struct {
	format string
	total  int64
	max    int64
}

func (o *output) add(name string, n int) error {
	o.total += int64(n)
	if o.total > o.max {
		return compress.NewError(o.format, "extract", -1, compress.ErrInvalidFormat,
			fmt.Errorf("output exceeds %d bytes at %q", o.max, name))
	}
	return nil
}

// zipDecoder lists an archive and extracts every member it can. Members
// with an unsupported method or encryption are listed without data.
type zipDecoder struct {
	dec    *zip.Decoder
	log    zerolog.Logger
	limits compress.Limits
}

func (z zipDecoder) Decompress(data []byte) ([]compress.Entry, error) {
	entries, err := z.dec.List(data)
	if err != nil {
		return nil, err
	}
	budget := output{format: "zip", max: z.limits.MaxOutput}
	out := make([]compress.Entry, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		ce := e.Common()
		if !e.IsDir() {
			b, err := z.dec.Extract(data, e)
			switch {
			case errors.Is(err, compress.ErrUnsupportedMethod):
				z.log.Debug().Str("format", "zip").Str("name", e.Name).Err(err).Msg("listing without data")
			case err != nil:
				return nil, err
			default:
				if err := budget.add(e.Name, len(b)); err != nil {
					return nil, err
				}
				ce.Data = b
			}
		}
		out = append(out, ce)
	}
	return out, nil
}

// rarDecoder lists an archive and attaches the data of stored members.
type rarDecoder struct {
	dec    *rar.Decoder
	log    zerolog.Logger
	limits compress.Limits
}

func (r rarDecoder) Decompress(data []byte) ([]compress.Entry, error) {
	entries, err := r.dec.List(data)
	if err != nil {
		return nil, err
	}
	budget := output{format: "rar", max: r.limits.MaxOutput}
	out := make([]compress.Entry, 0, len(entries))
	for i := range entries {
		e := &entries[i]
		ce := e.Common()
		if !e.IsDir() {
			b, err := r.dec.Extract(data, e)
			switch {
			case errors.Is(err, compress.ErrUnsupportedMethod):
				r.log.Debug().Str("format", "rar").Str("name", e.Name).Err(err).Msg("listing without data")
			case err != nil:
				return nil, err
			default:
				if err := budget.add(e.Name, len(b)); err != nil {
					return nil, err
				}
				ce.Data = b
			}
		}
		out = append(out, ce)
	}
	return out, nil
}

type dbxDecoder struct {
	dec *dbx.Decoder
}

func (d dbxDecoder) Decompress(data []byte) ([]compress.Entry, error) {
	msgs, err := d.dec.Decompress(data)
	if err != nil {
		return nil, err
	}
	out := make([]compress.Entry, 0, len(msgs))
	for i := range msgs {
		out = append(out, msgs[i].Entry())
	}
	return out, nil
}

type tnefDecoder struct {
	dec *tnef.Decoder
}

func (t tnefDecoder) Decompress(data []byte) ([]compress.Entry, error) {
	return t.dec.Entries(data)
}
