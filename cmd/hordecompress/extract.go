package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	extractOutput string
	extractForce  bool
)

var extractCmd = &cobra.Command{
	Use:     "extract FILE...",
	Aliases: []string{"x"},
	Short:   "Extract the members of archives into a directory",
	Long: `Extract writes every member that carries data below the output directory.
When more than one archive is given each gets a subdirectory named after it.
Members with an unsupported method are listed by "list" but skipped here.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := prepareOutputDir(extractOutput, extractForce); err != nil {
			return err
		}
		results, err := decodeFiles(cmd.Context(), args)
		if err != nil {
			return err
		}
		for _, r := range results {
			dir := extractOutput
			if len(results) > 1 {
				dir = filepath.Join(extractOutput, archiveStem(r.Path))
			}
			n, size, err := writeEntries(dir, r)
			if err != nil {
				return err
			}
			cmd.Printf("Extracted %d files (%s) from %s to %s\n", n, humanize.IBytes(size), r.Path, dir)
		}
		return nil
	},
}

func init() {
	extractCmd.Flags().StringVarP(&extractOutput, "output", "o", ".", "Output directory")
	extractCmd.Flags().BoolVar(&extractForce, "force", false, "Extract into a non-empty directory, replacing files")
	rootCmd.AddCommand(extractCmd)
}

func writeEntries(dir string, r decoded) (files int, size uint64, err error) {
	for _, e := range r.Entries {
		target, err := safeJoin(dir, e.Name)
		if err != nil {
			logger.Warn().Str("file", r.Path).Str("name", e.Name).Err(err).Msg("skipping member")
			continue
		}
		if strings.HasSuffix(e.Name, "/") {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return files, size, fmt.Errorf("create directory %s: %w", target, err)
			}
			continue
		}
		if e.Data == nil {
			logger.Debug().Str("file", r.Path).Str("name", e.Name).Msg("no data, skipping")
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return files, size, fmt.Errorf("create directory %s: %w", filepath.Dir(target), err)
		}
		flag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
		if !extractForce {
			flag |= os.O_EXCL
		}
		f, err := os.OpenFile(target, flag, 0o644)
		if err != nil {
			return files, size, fmt.Errorf("create %s: %w", target, err)
		}
		if _, err := f.Write(e.Data); err != nil {
			f.Close()
			return files, size, fmt.Errorf("write %s: %w", target, err)
		}
		if err := f.Close(); err != nil {
			return files, size, fmt.Errorf("close %s: %w", target, err)
		}
		if !e.ModTime.IsZero() {
			if err := os.Chtimes(target, e.ModTime, e.ModTime); err != nil {
				logger.Debug().Str("name", target).Err(err).Msg("set modification time")
			}
		}
		files++
		size += uint64(len(e.Data))
	}
	return files, size, nil
}

// safeJoin places an archive member name below root. Backslashes are
// treated as separators and leading or parent components cannot escape.
func safeJoin(root, name string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" || clean == "." {
		return "", fmt.Errorf("unusable member name %q", name)
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}

func archiveStem(p string) string {
	base := filepath.Base(p)
	for _, ext := range []string{".tar.gz", ".tgz", ".tar", ".gz", ".zip", ".rar", ".dbx", ".dat", ".tnef"} {
		if strings.HasSuffix(strings.ToLower(base), ext) && len(base) > len(ext) {
			return base[:len(base)-len(ext)]
		}
	}
	return base
}

// prepareOutputDir creates dir, refusing a non-empty one unless force is set.
func prepareOutputDir(dir string, force bool) error {
	info, err := os.Stat(dir)
	if errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create output directory: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat output directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("output path %s is not a directory", dir)
	}
	if force || dir == "." {
		return nil
	}
	empty, err := isDirEmpty(dir)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("output directory %s is not empty (use --force)", dir)
	}
	return nil
}

func isDirEmpty(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, fmt.Errorf("read output directory: %w", err)
	}
	return len(entries) == 0, nil
}
