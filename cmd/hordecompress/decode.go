package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/driver"
)

var errUnknownFormat = errors.New("unrecognized format (use --format)")

// decoded is one input file after decoding.
type decoded struct {
	Path    string
	Format  driver.Format
	Entries []compress.Entry
}

func driverOptions() ([]driver.Option, error) {
	limits := compress.DefaultLimits()
	if maxOutput != "" {
		n, err := humanize.ParseBytes(maxOutput)
		if err != nil {
			return nil, fmt.Errorf("parse --max-output: %w", err)
		}
		limits.MaxOutput = int64(n)
	}
	return []driver.Option{driver.WithLogger(logger), driver.WithLimits(limits)}, nil
}

func resolveFormat(data []byte) (driver.Format, error) {
	if formatName != "" {
		return driver.ByName(formatName)
	}
	if f := driver.Detect(data); f != driver.Unknown {
		return f, nil
	}
	return driver.Unknown, errUnknownFormat
}

// decodeFiles decodes paths concurrently, at most jobs at a time. Results
// keep the order of paths.
func decodeFiles(ctx context.Context, paths []string) ([]decoded, error) {
	opts, err := driverOptions()
	if err != nil {
		return nil, err
	}

	results := make([]decoded, len(paths))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(jobs)
	for i, p := range paths {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return fmt.Errorf("read %s: %w", p, err)
			}
			f, err := resolveFormat(data)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			dec, err := driver.Open(f, opts...)
			if err != nil {
				return err
			}
			entries, err := dec.Decompress(data)
			if err != nil {
				return fmt.Errorf("%s: %w", p, err)
			}
			logger.Debug().Str("file", p).Stringer("format", f).Int("entries", len(entries)).Msg("decoded")
			results[i] = decoded{Path: p, Format: f, Entries: entries}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
