// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/jeranaias/convarchive/internal/archive"
	"github.com/jeranaias/convarchive/internal/storage"
)

type importFlags struct {
	merge       bool
	prefix      string
	policy      string
	newer       string
	attachments bool
	provenance  bool
}

func newImportCommand(app *App) *cobra.Command {
	var f importFlags
	cmd := &cobra.Command{
		Use:   "import <bundle>",
		Short: "Read a bundle directory or .convbundle.tar.zst into the live store",
		Args:  exactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, app, &f, args[0])
		},
	}

	fl := cmd.Flags()
	fl.BoolVar(&f.merge, "merge", false, "merge into conversations that already exist")
	fl.StringVar(&f.prefix, "title-prefix", "", "prefix for imported conversation titles")
	fl.StringVar(&f.policy, "failure-policy", "", "best-effort or fail-fast")
	fl.StringVar(&f.newer, "newer-versions", "", "warn or reject bundles newer than this build")
	fl.BoolVar(&f.attachments, "attachments", true, "import attachments")
	fl.BoolVar(&f.provenance, "provenance", true, "import provenance events")
	return cmd
}

func (f *importFlags) options(cmd *cobra.Command, app *App) (archive.ImportOptions, error) {
	opts := app.cfg.Import.Options()
	fl := cmd.Flags()
	if fl.Changed("merge") {
		opts.MergeExisting = f.merge
	}
	if fl.Changed("title-prefix") {
		opts.TitlePrefix = f.prefix
	}
	if fl.Changed("failure-policy") {
		p, err := archive.ParseFailurePolicy(f.policy)
		if err != nil {
			return opts, usageErrorf("--failure-policy: %v", err)
		}
		opts.FailurePolicy = p
	}
	if fl.Changed("newer-versions") {
		p, err := archive.ParseVersionPolicy(f.newer)
		if err != nil {
			return opts, usageErrorf("--newer-versions: %v", err)
		}
		opts.VersionPolicy = p
	}
	if fl.Changed("attachments") {
		opts.ImportAttachments = f.attachments
	}
	if fl.Changed("provenance") {
		opts.ImportProvenance = f.provenance
	}
	return opts, nil
}

func runImport(cmd *cobra.Command, app *App, f *importFlags, source string) error {
	opts, err := f.options(cmd, app)
	if err != nil {
		return err
	}
	st, err := app.openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	im := archive.NewImporter(servicesOf(st), archive.WithLogger(app.logger))
	res, err := im.Import(cmd.Context(), source, opts, app.progressFunc())
	if err != nil {
		return err
	}

	data := importData(source, res)
	if err := app.emit("import", data, func(w io.Writer) { printImport(w, data) }); err != nil {
		return err
	}
	if len(res.Errors) > 0 {
		return &PartialError{
			Command: "import",
			Failed:  len(res.Errors),
			Total:   len(res.Errors) + res.ConversationsImported,
		}
	}
	return nil
}

func importData(source string, res *archive.ImportResult) *ImportData {
	return &ImportData{
		Source:        source,
		Conversations: res.ConversationsImported,
		Messages:      res.MessagesImported,
		Artifacts:     res.ArtifactsImported,
		Events:        res.ProvenanceEventsImported,
		Attachments:   res.AttachmentsImported,
		Imported:      res.ImportedConversationIDs,
		IDMap:         res.IDMap,
		Warnings:      res.Warnings,
		Errors:        failedItems(res.Errors),
	}
}

func printImport(w io.Writer, data *ImportData) {
	fmt.Fprintf(w, "Imported %d conversation(s), %d message(s) from %s\n", data.Conversations, data.Messages, data.Source)
	fmt.Fprintf(w, "  artifacts: %d  events: %d  attachments: %d\n", data.Artifacts, data.Events, data.Attachments)

	remapped := make([]string, 0, len(data.IDMap))
	for from, to := range data.IDMap {
		if from != to {
			remapped = append(remapped, from)
		}
	}
	sort.Strings(remapped)
	for _, from := range remapped {
		fmt.Fprintf(w, "  %s -> %s\n", from, data.IDMap[from])
	}
	for _, warning := range data.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	for _, e := range data.Errors {
		fmt.Fprintf(w, "  error: %s %s: %s\n", e.Phase, e.ID, e.Error)
	}
}

func servicesOf(st storage.Store) archive.Services {
	return storage.Services(st)
}
