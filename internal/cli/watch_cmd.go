// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/convarchive/internal/archive"
	"github.com/jeranaias/convarchive/internal/inbox"
)

func newWatchCommand(app *App) *cobra.Command {
	var (
		dir      string
		debounce time.Duration
		merge    bool
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Import bundles dropped into the inbox directory until interrupted",
		Long: `watch imports every bundle that appears in the inbox directory.
A bundle directory is imported once its manifest.json exists; a
.convbundle.tar.zst file once it has stopped changing. Processed bundles
are moved to done/ or failed/ inside the inbox.`,
		Args: exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			if dir == "" {
				dir = app.cfg.Inbox.Dir
			}
			if !cmd.Flags().Changed("debounce") {
				debounce = app.cfg.Inbox.Debounce()
			}
			opts := app.cfg.Import.Options()
			if cmd.Flags().Changed("merge") {
				opts.MergeExisting = merge
			}

			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			im := archive.NewImporter(servicesOf(st), archive.WithLogger(app.logger))
			w, err := inbox.New(dir, im, opts,
				inbox.WithDebounce(debounce),
				inbox.WithLogger(app.logger),
				inbox.WithResultHandler(app.printWatchResult),
			)
			if err != nil {
				return &CommandError{Command: "watch", Reason: "cannot prepare inbox", Err: err}
			}
			if !app.jsonOutput {
				fmt.Fprintf(app.Stderr, "Watching %s (Ctrl+C to stop)\n", dir)
			}
			return w.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "inbox directory (default from config)")
	cmd.Flags().DurationVar(&debounce, "debounce", 500*time.Millisecond, "quiet period before a bundle is imported")
	cmd.Flags().BoolVar(&merge, "merge", false, "merge into conversations that already exist")
	return cmd
}

// printWatchResult prints one line per bundle, or one JSON object per line
// in --json mode.
func (a *App) printWatchResult(r inbox.Result) {
	ev := WatchEvent{Source: r.Source, MovedTo: r.MovedTo}
	if r.Import != nil {
		ev.Import = importData(r.Source, r.Import)
	}
	if r.Err != nil {
		ev.Error = r.Err.Error()
	}

	if a.jsonOutput {
		data, err := json.Marshal(ev)
		if err == nil {
			fmt.Fprintln(a.Stdout, string(data))
		}
		return
	}
	switch {
	case r.Err != nil:
		fmt.Fprintf(a.Stdout, "FAILED %s: %v\n", r.Source, r.Err)
	case ev.Import != nil:
		fmt.Fprintf(a.Stdout, "OK     %s: %d conversation(s), %d warning(s), %d error(s)\n",
			r.Source, ev.Import.Conversations, len(ev.Import.Warnings), len(ev.Import.Errors))
	}
}
