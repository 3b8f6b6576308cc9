// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package format

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// MANIFEST
// =============================================================================

// Manifest is the root record of a bundle. It is written last; a bundle
// without a readable manifest is not a bundle.
type Manifest struct {
	FormatVersion Version             `json:"formatVersion"`
	CreatedAt     time.Time           `json:"createdAt"`
	CreatedBy     string              `json:"createdBy"`
	AppVersion    string              `json:"appVersion"`
	Conversations []ConversationEntry `json:"conversations"`
	Artifacts     ArtifactsEntry      `json:"artifacts"`
	Provenance    ProvenanceEntry     `json:"provenance"`
	Attachments   AttachmentsEntry    `json:"attachments"`
	Notes         string              `json:"notes,omitempty"`
}

// ConversationEntry describes one exported conversation.
type ConversationEntry struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Participants   []string  `json:"participants"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	MessageCount   int       `json:"messageCount"`
	Path           string    `json:"path"`
	ParentID       string    `json:"parentId,omitempty"`
	ChildIDs       []string  `json:"childIds,omitempty"`
}

// ArtifactsEntry describes the artifact references file and snapshots.
type ArtifactsEntry struct {
	Count          int            `json:"count"`
	ReferencesPath string         `json:"referencesPath"`
	Snapshots      SnapshotsEntry `json:"snapshots"`
}

// SnapshotsEntry counts cached paper and repository snapshots.
type SnapshotsEntry struct {
	PaperCount int    `json:"paperCount"`
	RepoCount  int    `json:"repoCount"`
	PapersPath string `json:"papersPath"`
	ReposPath  string `json:"reposPath"`
}

// ProvenanceEntry describes the provenance events file.
type ProvenanceEntry struct {
	EventCount   int        `json:"eventCount"`
	EventsPath   string     `json:"eventsPath"`
	FirstEventAt *time.Time `json:"firstEventAt,omitempty"`
	LastEventAt  *time.Time `json:"lastEventAt,omitempty"`
}

// AttachmentsEntry describes the content-addressed attachments directory.
type AttachmentsEntry struct {
	Count     int    `json:"count"`
	TotalSize int64  `json:"totalSize"`
	Path      string `json:"path"`
}

// NewManifest returns a manifest stamped with Current and the canonical paths.
func NewManifest(createdBy, appVersion string, now time.Time) *Manifest {
	return &Manifest{
		FormatVersion: Current,
		CreatedAt:     now.UTC(),
		CreatedBy:     createdBy,
		AppVersion:    appVersion,
		Conversations: []ConversationEntry{},
		Artifacts: ArtifactsEntry{
			ReferencesPath: ReferencesFile,
			Snapshots: SnapshotsEntry{
				PapersPath: PaperSnapshotsDir,
				ReposPath:  RepoSnapshotsDir,
			},
		},
		Provenance:  ProvenanceEntry{EventsPath: EventsFile},
		Attachments: AttachmentsEntry{Path: AttachmentsDir},
	}
}

// ConversationIDs returns the ids of all entries in manifest order.
func (m *Manifest) ConversationIDs() []string {
	ids := make([]string, 0, len(m.Conversations))
	for _, c := range m.Conversations {
		ids = append(ids, c.ID)
	}
	return ids
}

// MessageCount sums the message counts of all entries.
func (m *Manifest) MessageCount() int {
	total := 0
	for _, c := range m.Conversations {
		total += c.MessageCount
	}
	return total
}

// Marshal encodes the manifest as indented JSON.
func (m *Manifest) Marshal() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// ErrInvalidManifest is wrapped by every error returned from UnmarshalManifest.
var ErrInvalidManifest = errors.New("invalid manifest")

// UnmarshalManifest decodes and validates a manifest.
func UnmarshalManifest(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidManifest, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the fields every reader depends on.
func (m *Manifest) Validate() error {
	if m.FormatVersion.IsZero() {
		return fmt.Errorf("%w: missing formatVersion", ErrInvalidManifest)
	}
	seen := make(map[string]bool, len(m.Conversations))
	for i, c := range m.Conversations {
		if c.ID == "" {
			return fmt.Errorf("%w: conversation %d has no id", ErrInvalidManifest, i)
		}
		if c.Path == "" {
			return fmt.Errorf("%w: conversation %s has no path", ErrInvalidManifest, c.ID)
		}
		if seen[c.ID] {
			return fmt.Errorf("%w: duplicate conversation %s", ErrInvalidManifest, c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}
