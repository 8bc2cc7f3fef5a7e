// Command hordecompress lists, extracts, creates and identifies legacy
// archive and mail container files: tar, gzip, zip, rar, Outlook Express
// dbx folders and TNEF (winmail.dat) attachments.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	formatName string
	jobs       int
	maxOutput  string

	logger = zerolog.Nop()
)

var rootCmd = &cobra.Command{
	Use:           "hordecompress",
	Short:         "Work with tar, gzip, zip, rar, dbx and TNEF files",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		logger = zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.TimeOnly}).
			Level(level).
			With().Timestamp().Logger()
		if jobs < 1 {
			return fmt.Errorf("--jobs must be at least 1")
		}
		return nil
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.BoolVarP(&verbose, "verbose", "v", false, "Log decoder debug output")
	flags.StringVarP(&formatName, "format", "f", "", "Format override (tar, gzip, zip, rar, dbx, tnef)")
	flags.IntVarP(&jobs, "jobs", "j", 4, "Files decoded concurrently")
	flags.StringVar(&maxOutput, "max-output", "256MiB", "Largest output a single decode may produce")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
