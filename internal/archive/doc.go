// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package archive exports conversations into portable bundles and imports
// them back into a live store.
//
// A bundle is a directory laid out by package format, optionally packed into
// a single tar+zstd file. The manifest is written last and is the only proof
// that a bundle is complete: a directory without a readable manifest is
// never treated as a partial bundle.
//
// # Key Types
//
//   - Exporter: writes conversations, artifact references, provenance events
//     and attachments, finishing with the manifest
//   - Importer: validates a bundle and reconstructs it through the services
//   - Preview: reads only the manifest and never touches a service
//   - Services: the conversation store, artifact and provenance services
//
// # Failure Semantics
//
// Export defaults to FailFast: the first conversation that cannot be
// serialized aborts the export before a manifest exists. Import defaults to
// BestEffort: a conversation that cannot be reconstructed is recorded in
// ImportResult.Errors and the rest continue. Both defaults can be changed
// through the FailurePolicy option.
//
// # Usage
//
//	svc := archive.Services{Conversations: store, Artifacts: store, Provenance: store}
//	exp := archive.NewExporter(svc, archive.WithCreatedBy("alice"))
//	res, err := exp.Export(ctx, []string{"conv_a", "conv_b"}, dir, archive.DefaultExportOptions(), nil)
//
//	imp := archive.NewImporter(svc)
//	result, err := imp.Import(ctx, res.Path, archive.DefaultImportOptions(), nil)
//
// Operations run sequentially and check ctx between phases.
package archive
