// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/jeranaias/convarchive/internal/storage"
	"github.com/jeranaias/convarchive/internal/util"
)

func newListCommand(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List conversations in the live store",
		Args:  exactArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := app.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			metas, err := st.List(cmd.Context())
			if err != nil {
				return &CommandError{Command: "list", Reason: "cannot list conversations", Err: err}
			}
			if metas == nil {
				metas = []storage.ConversationMeta{}
			}
			return app.emit("list", metas, func(w io.Writer) { printList(w, metas) })
		},
	}
}

func printList(w io.Writer, metas []storage.ConversationMeta) {
	if len(metas) == 0 {
		fmt.Fprintln(w, "No conversations.")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tMESSAGES\tLAST ACTIVITY\tTITLE")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", m.ID, m.MessageCount,
			m.LastActivityAt.Local().Format(time.DateTime), util.TruncateRunes(m.Title, 50))
	}
	tw.Flush()
}
