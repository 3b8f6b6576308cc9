// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package transcript renders a single conversation as a human-readable
// document. It is used to inspect a conversation inside a bundle without
// importing it.
//
// Supported formats:
//   - Markdown (YAML frontmatter, message sections, attachment and artifact lists)
//   - JSON (the conversation record, indented)
package transcript
