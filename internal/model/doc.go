// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the domain records exchanged with the live store.
//
// These are the shapes the conversation store, artifact service and
// provenance service hand to the archive package and accept back from it.
// They are independent of the bundle wire format in package format.
//
// # Key Types
//
//   - Conversation: header plus messages and artifact mentions
//   - Message: single message with role, author, content and attachment refs
//   - Attachment: binary payload belonging to a message
//   - ArtifactReference: URI-addressed pointer to a paper, repository or document
//   - ProvenanceEvent: immutable, sequence-numbered fact about a conversation
package model
