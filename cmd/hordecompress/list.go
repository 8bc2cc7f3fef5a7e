package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var listJSON bool

var listCmd = &cobra.Command{
	Use:     "list FILE...",
	Aliases: []string{"ls"},
	Short:   "List the members of archives",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		results, err := decodeFiles(cmd.Context(), args)
		if err != nil {
			return err
		}
		if listJSON {
			return writeJSON(cmd.OutOrStdout(), results)
		}
		return writeListing(cmd.OutOrStdout(), results)
	},
}

func init() {
	listCmd.Flags().BoolVar(&listJSON, "json", false, "Write the listing as JSON")
	rootCmd.AddCommand(listCmd)
}

type jsonEntry struct {
	Name           string     `json:"name"`
	Size           uint64     `json:"size"`
	CompressedSize uint64     `json:"compressed_size"`
	ModTime        *time.Time `json:"mod_time,omitempty"`
	Method         string     `json:"method,omitempty"`
	Attr           string     `json:"attr,omitempty"`
	Type           string     `json:"type,omitempty"`
	HasData        bool       `json:"has_data"`
}

type jsonArchive struct {
	Path    string      `json:"path"`
	Format  string      `json:"format"`
	Entries []jsonEntry `json:"entries"`
}

func writeJSON(w io.Writer, results []decoded) error {
	out := make([]jsonArchive, 0, len(results))
	for _, r := range results {
		a := jsonArchive{Path: r.Path, Format: r.Format.String(), Entries: make([]jsonEntry, 0, len(r.Entries))}
		for _, e := range r.Entries {
			je := jsonEntry{
				Name:           e.Name,
				Size:           e.Size,
				CompressedSize: e.CompressedSize,
				Method:         e.Method,
				Attr:           e.Attr,
				Type:           e.Type,
				HasData:        e.Data != nil,
			}
			if !e.ModTime.IsZero() {
				mt := e.ModTime
				je.ModTime = &mt
			}
			a.Entries = append(a.Entries, je)
		}
		out = append(out, a)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func writeListing(w io.Writer, results []decoded) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', tabwriter.AlignRight)
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(tw)
		}
		fmt.Fprintf(tw, "%s (%s)\t\t\t\t\t\n", r.Path, r.Format)
		fmt.Fprintln(tw, "Size\tPacked\tModified\tMethod\tAttr\tName\t")

		var total uint64
		for _, e := range r.Entries {
			mod := "-"
			if !e.ModTime.IsZero() {
				mod = e.ModTime.Format(time.DateTime)
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
				humanize.IBytes(e.Size), humanize.IBytes(e.CompressedSize), mod,
				orDash(e.Method), orDash(e.Attr), e.Name)
			total += e.Size
		}
		fmt.Fprintf(tw, "%s\t\t\t\t\t%s entries\t\n", humanize.IBytes(total), humanize.Comma(int64(len(r.Entries))))
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
