package main

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/horde/compress/pkg/compress"
	"github.com/horde/compress/pkg/driver"
	"github.com/horde/compress/pkg/zip"
)

var (
	createMethod string
	createLevel  int
)

var zipMethods = map[string]zip.Method{
	"store":   zip.Store,
	"deflate": zip.Deflate,
	"lzma":    zip.LZMA,
	"zstd":    zip.Zstd,
}

var createCmd = &cobra.Command{
	Use:   "create ARCHIVE PATH...",
	Short: "Create a tar, gzip or zip archive",
	Long: `Create packs files and directories into ARCHIVE. The format comes from
--format or, failing that, the archive extension. Gzip takes a single file.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		out, inputs := args[0], args[1:]

		f, err := createFormat(out)
		if err != nil {
			return err
		}
		opts := []driver.Option{driver.WithCompressionLevel(createLevel)}
		if createMethod != "" {
			m, ok := zipMethods[strings.ToLower(createMethod)]
			if !ok {
				return fmt.Errorf("unknown zip method %q", createMethod)
			}
			opts = append(opts, driver.WithZipMethod(m))
		}
		enc, err := driver.NewCompressor(f, opts...)
		if err != nil {
			return err
		}

		files, err := collectFiles(inputs)
		if err != nil {
			return err
		}
		data, err := enc.Compress(files)
		if err != nil {
			return fmt.Errorf("create %s: %w", out, err)
		}
		if err := os.WriteFile(out, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", out, err)
		}
		cmd.Printf("Wrote %s archive %s with %d entries (%s)\n", f, out, len(files), humanize.IBytes(uint64(len(data))))
		return nil
	},
}

func init() {
	createCmd.Flags().StringVarP(&createMethod, "method", "m", "", "Zip method (store, deflate, lzma, zstd)")
	createCmd.Flags().IntVarP(&createLevel, "level", "l", zip.DefaultCompressionLevel, "Compression level")
	rootCmd.AddCommand(createCmd)
}

func createFormat(out string) (driver.Format, error) {
	if formatName != "" {
		return driver.ByName(formatName)
	}
	lower := strings.ToLower(out)
	switch {
	case strings.HasSuffix(lower, ".zip"):
		return driver.Zip, nil
	case strings.HasSuffix(lower, ".tar"):
		return driver.Tar, nil
	case strings.HasSuffix(lower, ".gz"):
		return driver.Gzip, nil
	}
	return driver.Unknown, fmt.Errorf("cannot tell the format of %s (use --format)", out)
}

// collectFiles reads the given paths. Directories are walked and their
// members named relative to the directory's parent, with a trailing slash
// entry for each directory.
func collectFiles(paths []string) ([]compress.File, error) {
	var files []compress.File
	for _, root := range paths {
		base := filepath.Dir(filepath.Clean(root))
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			rel, err := filepath.Rel(base, p)
			if err != nil {
				return err
			}
			name := filepath.ToSlash(rel)
			info, err := d.Info()
			if err != nil {
				return err
			}
			if d.IsDir() {
				files = append(files, compress.File{Name: name + "/", ModTime: info.ModTime()})
				return nil
			}
			if !d.Type().IsRegular() {
				logger.Debug().Str("path", p).Msg("skipping non-regular file")
				return nil
			}
			data, err := os.ReadFile(p)
			if err != nil {
				return err
			}
			files = append(files, compress.File{Name: name, Data: data, ModTime: info.ModTime()})
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("collect %s: %w", root, err)
		}
	}
	return files, nil
}
