// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"encoding/json"
	"time"
)

// =============================================================================
// ARTIFACTS
// =============================================================================

// ArtifactReference is a URI-addressed pointer to something a conversation
// discussed. It exists independently of any cached snapshot.
type ArtifactReference struct {
	URI          string    `json:"uri"`
	Type         string    `json:"type"` // "paper", "repository", "document", ...
	DisplayName  string    `json:"display_name"`
	Version      string    `json:"version,omitempty"`
	IntroducedBy string    `json:"introduced_by,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// Snapshot is cached content of an artifact.
type Snapshot struct {
	URI  string
	Type string
	Data []byte
}

// =============================================================================
// PROVENANCE
// =============================================================================

// Common provenance event kinds.
const (
	EventMessageSent        = "message_sent"
	EventArtifactIntroduced = "artifact_introduced"
	EventBranchCreated      = "branch_created"
)

// ProvenanceEvent is an immutable fact about a conversation, ordered by a
// per-conversation monotonic Sequence.
type ProvenanceEvent struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Sequence       int64           `json:"sequence"`
	Kind           string          `json:"kind"`
	Actor          string          `json:"actor,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}
