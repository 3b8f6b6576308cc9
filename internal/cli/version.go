// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/convarchive/internal/format"
)

func newVersionCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Args:  exactArgs(0),
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			data := VersionData{
				Version:         Version,
				GitCommit:       GitCommit,
				BuildDate:       BuildDate,
				FormatVersion:   format.Current.String(),
				MinimumReadable: format.MinimumReadable.String(),
			}
			return app.emit("version", data, func(w io.Writer) {
				fmt.Fprintf(w, "convarchive %s\n", data.Version)
				fmt.Fprintf(w, "  Commit:  %s\n", data.GitCommit)
				fmt.Fprintf(w, "  Built:   %s\n", data.BuildDate)
				fmt.Fprintf(w, "  Format:  %s (reads %s and later)\n", data.FormatVersion, data.MinimumReadable)
			})
		},
	}
}
