// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"errors"
	"fmt"

	"github.com/jeranaias/convarchive/internal/format"
	"github.com/jeranaias/convarchive/internal/model"
)

// ErrNotInBundle is returned by ReadConversation for an id the manifest does
// not list.
var ErrNotInBundle = errors.New("conversation not in bundle")

// ReadConversation decodes one conversation of the bundle at source without
// calling any service. Attachment payloads are not loaded; their refs carry
// the content hash. A compressed source is extracted to a temporary
// directory for the duration of the call.
func ReadConversation(ctx context.Context, source, id string) (*model.Conversation, error) {
	const op = "read"
	root, cleanup, err := openBundle(ctx, op, source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	m, _, err := loadManifest(op, source, root, WarnOnNewer)
	if err != nil {
		return nil, err
	}
	var entry *format.ConversationEntry
	for i := range m.Conversations {
		if m.Conversations[i].ID == id {
			entry = &m.Conversations[i]
			break
		}
	}
	if entry == nil {
		return nil, fmt.Errorf("%s %s: %w: %s", op, source, ErrNotInBundle, id)
	}

	p, err := format.ResolvePath(root, entry.Path)
	if err != nil {
		return nil, fmt.Errorf("%s %s: path %q: %w", op, source, entry.Path, err)
	}
	dec, err := decodeConversationFile(p)
	if err != nil {
		return nil, fmt.Errorf("%s %s: conversation %s: %w", op, source, id, err)
	}

	h := dec.header
	conv := &model.Conversation{
		ID:             h.ID,
		Title:          h.Title,
		Participants:   h.Participants,
		CreatedAt:      h.CreatedAt,
		LastActivityAt: h.LastActivityAt,
		ParentID:       h.ParentID,
		ChildIDs:       h.ChildIDs,
	}
	for _, ml := range dec.messages {
		conv.Messages = append(conv.Messages, toMessage(ml))
	}
	for _, ml := range dec.mentions {
		conv.Mentions = append(conv.Mentions, model.ArtifactMention{
			MessageID:   ml.MessageID,
			URI:         ml.URI,
			DisplayName: ml.DisplayName,
			MentionedAt: ml.MentionedAt,
		})
	}
	return conv, nil
}
