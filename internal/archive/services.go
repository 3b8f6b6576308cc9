// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"errors"
	"strings"

	"github.com/jeranaias/convarchive/internal/model"
)

// =============================================================================
// EXTERNAL SERVICES
// =============================================================================

// ConversationStore is the live store holding conversations and messages.
type ConversationStore interface {
	// Conversation returns the header, messages and mentions of id.
	Conversation(ctx context.Context, id string) (*model.Conversation, error)

	// Attachments returns the binary payloads referenced by the messages of
	// a conversation.
	Attachments(ctx context.Context, conversationID string) ([]model.Attachment, error)

	// Exists reports whether a conversation with id is stored.
	Exists(ctx context.Context, id string) (bool, error)

	// SaveConversation creates or updates the header and mentions of conv.
	// conv.Messages is ignored; use AppendMessage.
	SaveConversation(ctx context.Context, conv *model.Conversation) error

	// AppendMessage appends msg to an existing conversation.
	AppendMessage(ctx context.Context, conversationID string, msg *model.Message) error

	// StoreBlob stores a content-addressed attachment payload. Storing the
	// same hash twice is not an error.
	StoreBlob(ctx context.Context, blob model.Blob) error
}

// ConversationDeleter is implemented by conversation stores that can remove
// a conversation. The importer uses it to roll back partial writes.
type ConversationDeleter interface {
	Delete(ctx context.Context, id string) error
}

// ArtifactService is the registry of artifact references.
type ArtifactService interface {
	// ArtifactsFor returns the artifacts referenced by a conversation.
	ArtifactsFor(ctx context.Context, conversationID string) ([]model.ArtifactReference, error)

	// GetOrCreateArtifact returns the stored reference for ref.URI, creating
	// it from ref when absent.
	GetOrCreateArtifact(ctx context.Context, ref model.ArtifactReference) (*model.ArtifactReference, error)
}

// SnapshotSource is implemented by artifact services that cache artifact content.
type SnapshotSource interface {
	// Snapshot returns the cached content of ref, or nil when none exists.
	Snapshot(ctx context.Context, ref model.ArtifactReference) (*model.Snapshot, error)
}

// SnapshotSink is implemented by artifact services that accept restored content.
type SnapshotSink interface {
	StoreSnapshot(ctx context.Context, snap model.Snapshot) error
}

// ProvenanceService is the append-only provenance event log.
type ProvenanceService interface {
	// EventsForConversation returns the events of id sorted by sequence.
	EventsForConversation(ctx context.Context, id string) ([]model.ProvenanceEvent, error)

	// Record appends an event.
	Record(ctx context.Context, event model.ProvenanceEvent) error
}

// Services bundles the handles both Exporter and Importer depend on.
type Services struct {
	Conversations ConversationStore
	Artifacts     ArtifactService
	Provenance    ProvenanceService
}

func (s Services) validate() error {
	var missing []string
	if s.Conversations == nil {
		missing = append(missing, "conversations")
	}
	if s.Artifacts == nil {
		missing = append(missing, "artifacts")
	}
	if s.Provenance == nil {
		missing = append(missing, "provenance")
	}
	if len(missing) > 0 {
		return errors.New("archive: missing services: " + strings.Join(missing, ", "))
	}
	return nil
}
