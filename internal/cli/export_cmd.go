// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/jeranaias/convarchive/internal/archive"
)

type exportFlags struct {
	all         bool
	name        string
	dest        string
	notes       string
	policy      string
	compress    bool
	snapshots   bool
	attachments bool
	provenance  bool
	cleanup     bool
}

func newExportCommand(app *App) *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export [conversation-id...]",
		Short: "Write conversations from the live store into a bundle",
		Example: `  convarchive export conv_1 conv_2 --name weekly
  convarchive export --all --compress --out /backups`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, app, &f, args)
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&f.all, "all", false, "export every conversation in the store")
	fl.StringVar(&f.name, "name", "", "bundle name (default archive_YYYYMMDD_HHMMSS)")
	fl.StringVarP(&f.dest, "out", "o", "", "destination directory (default from config)")
	fl.StringVar(&f.notes, "notes", "", "free-form notes stored in the manifest")
	fl.StringVar(&f.policy, "failure-policy", "", "fail-fast or best-effort")
	fl.BoolVar(&f.compress, "compress", false, "write a single .convbundle.tar.zst file")
	fl.BoolVar(&f.snapshots, "snapshots", true, "include artifact snapshots")
	fl.BoolVar(&f.attachments, "attachments", true, "include attachments")
	fl.BoolVar(&f.provenance, "provenance", true, "include provenance events")
	fl.BoolVar(&f.cleanup, "cleanup-on-failure", false, "remove the incomplete bundle after a failure")
	return cmd
}

// options layers explicitly set flags over the config defaults.
func (f *exportFlags) options(cmd *cobra.Command, app *App) (archive.ExportOptions, error) {
	opts := app.cfg.Export.Options()
	opts.Name = f.name
	opts.Notes = f.notes

	fl := cmd.Flags()
	if fl.Changed("failure-policy") {
		p, err := archive.ParseFailurePolicy(f.policy)
		if err != nil {
			return opts, usageErrorf("--failure-policy: %v", err)
		}
		opts.FailurePolicy = p
	}
	if fl.Changed("compress") {
		opts.Compress = f.compress
	}
	if fl.Changed("snapshots") {
		opts.IncludeSnapshots = f.snapshots
	}
	if fl.Changed("attachments") {
		opts.IncludeAttachments = f.attachments
	}
	if fl.Changed("provenance") {
		opts.IncludeProvenance = f.provenance
	}
	if fl.Changed("cleanup-on-failure") {
		opts.CleanupOnFailure = f.cleanup
	}
	return opts, nil
}

func runExport(cmd *cobra.Command, app *App, f *exportFlags, args []string) error {
	if f.all && len(args) > 0 {
		return usageErrorf("--all cannot be combined with conversation ids")
	}
	if !f.all && len(args) == 0 {
		return usageErrorf("give at least one conversation id or --all")
	}
	opts, err := f.options(cmd, app)
	if err != nil {
		return err
	}
	dest := f.dest
	if dest == "" {
		dest = app.cfg.Export.Destination
	}

	ctx := cmd.Context()
	st, err := app.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ids := args
	if f.all {
		metas, err := st.List(ctx)
		if err != nil {
			return &CommandError{Command: "export", Reason: "cannot list conversations", Err: err}
		}
		for _, m := range metas {
			ids = append(ids, m.ID)
		}
	}

	exp := archive.NewExporter(servicesOf(st),
		archive.WithLogger(app.logger),
		archive.WithCreatedBy(app.cfg.Export.CreatedBy),
		archive.WithAppVersion("convarchive "+Version),
	)
	res, err := exp.Export(ctx, ids, dest, opts, app.progressFunc())
	if err != nil {
		return err
	}

	m := res.Manifest
	data := ExportData{
		Path:          res.Path,
		Conversations: len(m.Conversations),
		Messages:      m.MessageCount(),
		Artifacts:     m.Artifacts.Count,
		Events:        m.Provenance.EventCount,
		Attachments:   m.Attachments.Count,
		Skipped:       failedItems(res.Skipped),
		Warnings:      res.Warnings,
	}
	return app.emit("export", data, func(w io.Writer) {
		fmt.Fprintf(w, "Exported %d conversation(s), %d message(s) to %s\n", data.Conversations, data.Messages, data.Path)
		fmt.Fprintf(w, "  artifacts: %d  events: %d  attachments: %d\n", data.Artifacts, data.Events, data.Attachments)
		for _, s := range data.Skipped {
			fmt.Fprintf(w, "  skipped %s: %s\n", s.ID, s.Error)
		}
		for _, warning := range data.Warnings {
			fmt.Fprintf(w, "  warning: %s\n", warning)
		}
	})
}
