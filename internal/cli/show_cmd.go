// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/convarchive/internal/archive"
	"github.com/jeranaias/convarchive/internal/transcript"
)

func newShowCommand(app *App) *cobra.Command {
	var (
		formatName string
		out        string
		noMeta     bool
		noTimes    bool
	)
	cmd := &cobra.Command{
		Use:   "show <bundle> <conversation-id>",
		Short: "Render one conversation of a bundle without importing it",
		Args:  exactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := transcript.DefaultOptions()
			opts.IncludeMetadata = !noMeta
			opts.IncludeTimestamps = !noTimes
			r, err := transcript.ForFormat(formatName, opts)
			if err != nil {
				return &UsageError{Err: err}
			}

			conv, err := archive.ReadConversation(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if app.jsonOutput {
				return NewJSONResponse("show", conv).Print(app.Stdout)
			}
			if out != "" {
				if err := transcript.WriteFile(out, conv, r); err != nil {
					return &CommandError{Command: "show", Reason: "cannot write " + out, Err: err}
				}
				fmt.Fprintf(app.Stderr, "Wrote %s\n", out)
				return nil
			}
			content, err := r.Render(conv)
			if err != nil {
				return &CommandError{Command: "show", Reason: "cannot render", Err: err}
			}
			_, err = io.WriteString(app.Stdout, string(content))
			return err
		},
	}
	cmd.Flags().StringVarP(&formatName, "format", "f", "markdown", "markdown or json")
	cmd.Flags().StringVarP(&out, "out", "o", "", "write to a file instead of stdout")
	cmd.Flags().BoolVar(&noMeta, "no-metadata", false, "omit frontmatter and session information")
	cmd.Flags().BoolVar(&noTimes, "no-timestamps", false, "omit per-message timestamps")
	return cmd
}
