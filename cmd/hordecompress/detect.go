package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/horde/compress/pkg/driver"
)

// detectPrefix covers the tar header, the largest structure Detect reads.
const detectPrefix = 4096

var detectCmd = &cobra.Command{
	Use:   "detect FILE...",
	Short: "Identify the format of files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		for _, p := range args {
			f, err := detectFile(p)
			if err != nil {
				return err
			}
			fmt.Fprintf(tw, "%s\t%s\n", p, f)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(detectCmd)
}

func detectFile(path string) (driver.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return driver.Unknown, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, detectPrefix)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return driver.Unknown, fmt.Errorf("read %s: %w", path, err)
	}
	return driver.Detect(buf[:n]), nil
}
