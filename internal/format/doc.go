// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package format defines the on-disk contract of a conversation bundle.
//
// Every other package that reads or writes bundles agrees on the types and
// path derivations declared here, so changes to this package are changes to
// the bundle format and must bump Current.
//
// # Key Types
//
//   - Version: (major, minor, patch) triple with total ordering
//   - Manifest: root record; its presence is the sole completeness signal
//   - Line: closed set of JSON-Lines record kinds for conversation files
//   - ReferenceLine, EventLine: records of the artifact and provenance files
//
// # Layout
//
//	<name>.convbundle/
//	  manifest.json
//	  conversations/{conversationId}.jsonl
//	  artifacts/references.jsonl
//	  artifacts/snapshots/papers/...
//	  artifacts/snapshots/repos/...
//	  provenance/events.jsonl
//	  attachments/{contentHash}.{ext}
//
// All paths stored inside a manifest are slash-separated and relative to the
// bundle root. Use ResolvePath to turn them into filesystem paths.
package format
