// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/convarchive/internal/archive"
	"github.com/jeranaias/convarchive/internal/format"
	"github.com/jeranaias/convarchive/internal/util"
)

func newPreviewCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "preview <bundle>",
		Short: "Show a bundle's manifest without importing anything",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := archive.Preview(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return app.emit("preview", m, func(w io.Writer) { printManifest(w, args[0], m) })
		},
	}
}

func printManifest(w io.Writer, source string, m *format.Manifest) {
	fmt.Fprintf(w, "Bundle:      %s\n", source)
	fmt.Fprintf(w, "Format:      %s\n", m.FormatVersion)
	fmt.Fprintf(w, "Created:     %s by %s (%s)\n", m.CreatedAt.Local().Format(time.DateTime), m.CreatedBy, m.AppVersion)
	if format.Current.Less(m.FormatVersion) {
		fmt.Fprintf(w, "             newer than this build (%s)\n", format.Current)
	}
	if m.Notes != "" {
		fmt.Fprintf(w, "Notes:       %s\n", m.Notes)
	}
	fmt.Fprintf(w, "Artifacts:   %d (%d paper, %d repository snapshots)\n",
		m.Artifacts.Count, m.Artifacts.Snapshots.PaperCount, m.Artifacts.Snapshots.RepoCount)
	fmt.Fprintf(w, "Provenance:  %d events\n", m.Provenance.EventCount)
	fmt.Fprintf(w, "Attachments: %d (%d bytes)\n", m.Attachments.Count, m.Attachments.TotalSize)
	fmt.Fprintf(w, "\n%d conversation(s), %d message(s):\n", len(m.Conversations), m.MessageCount())

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tMESSAGES\tLAST ACTIVITY\tTITLE")
	for _, c := range m.Conversations {
		fmt.Fprintf(tw, "  %s\t%d\t%s\t%s\n", c.ID, c.MessageCount,
			c.LastActivityAt.Local().Format(time.DateTime), util.TruncateRunes(c.Title, 50))
	}
	tw.Flush()
}
