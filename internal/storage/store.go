// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/convarchive/internal/archive"
	"github.com/jeranaias/convarchive/internal/model"
)

// =============================================================================
// STORE INTERFACE
// =============================================================================

// Store is a live store usable on both sides of an archive.
type Store interface {
	archive.ConversationStore
	archive.ArtifactService
	archive.SnapshotSource
	archive.SnapshotSink
	archive.ProvenanceService
	io.Closer

	// List returns metadata for every stored conversation, most recent first.
	List(ctx context.Context) ([]ConversationMeta, error)

	// Delete removes a conversation and its messages.
	Delete(ctx context.Context, id string) error
}

// ConversationMeta contains metadata for listing conversations.
type ConversationMeta struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`
	MessageCount   int       `json:"message_count"`
	Preview        string    `json:"preview"` // First user message truncated
}

// Driver names a Store implementation.
type Driver string

const (
	DriverFile   Driver = "file"
	DriverSQLite Driver = "sqlite"
)

// Open opens the store of the given driver at path, creating it if needed.
// A leading "~/" in path is expanded to the home directory.
func Open(driver Driver, path string) (Store, error) {
	path, err := expandHome(path)
	if err != nil {
		return nil, err
	}
	switch driver {
	case DriverFile, "":
		return NewFileStore(path)
	case DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// Services returns the archive services backed by s.
func Services(s Store) archive.Services {
	return archive.Services{Conversations: s, Artifacts: s, Provenance: s}
}

func expandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// referencedURIs returns the set of artifact URIs conv mentions.
func referencedURIs(conv *model.Conversation) map[string]bool {
	uris := make(map[string]bool, len(conv.Mentions))
	for _, m := range conv.Mentions {
		uris[m.URI] = true
	}
	return uris
}

// previewOf returns the first user message truncated for listings.
func previewOf(msgs []*model.Message) string {
	for _, msg := range msgs {
		if msg.Role == model.RoleUser && msg.Content != "" {
			return truncatePreview(msg.Content)
		}
	}
	return ""
}

func truncatePreview(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", "")
	runes := []rune(s)
	if len(runes) > 80 {
		return string(runes[:77]) + "..."
	}
	return s
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrConversationNotFound is returned when a conversation doesn't exist.
// Use errors.Is(err, ErrConversationNotFound) to check for this error.
var ErrConversationNotFound = &StoreError{Message: "conversation not found"}

// ErrArtifactNotFound is returned when no artifact has the requested URI.
var ErrArtifactNotFound = &StoreError{Message: "artifact not found"}

// StoreError represents a store-related error.
// It implements the error interface and can be compared using errors.Is.
type StoreError struct {
	Message string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return e.Message
}

// Is implements errors.Is support for comparing store errors.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	if !ok {
		return false
	}
	return e.Message == t.Message
}
