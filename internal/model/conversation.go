// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package model contains the domain records exchanged with the live store.
package model

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// =============================================================================
// CONVERSATION TYPE
// =============================================================================

// Conversation holds a research conversation as the store knows it.
type Conversation struct {
	// Identity
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Participants   []string  `json:"participants"`
	CreatedAt      time.Time `json:"created_at"`
	LastActivityAt time.Time `json:"last_activity_at"`

	// Branching (conversations form a forest)
	ParentID string   `json:"parent_id,omitempty"`
	ChildIDs []string `json:"child_ids,omitempty"`

	// Content
	Messages []*Message        `json:"messages"`
	Mentions []ArtifactMention `json:"mentions,omitempty"`
}

// ArtifactMention records that a message referred to an artifact.
type ArtifactMention struct {
	MessageID   string    `json:"message_id,omitempty"`
	URI         string    `json:"uri"`
	DisplayName string    `json:"display_name,omitempty"`
	MentionedAt time.Time `json:"mentioned_at"`
}

// NewConversation creates an empty conversation with a generated ID.
func NewConversation(title string) *Conversation {
	now := time.Now()
	return &Conversation{
		ID:             generateID("conv_"),
		Title:          title,
		CreatedAt:      now,
		LastActivityAt: now,
		Messages:       make([]*Message, 0),
	}
}

// AddMessage appends a message and advances LastActivityAt.
// The author is added to Participants if not already present.
func (c *Conversation) AddMessage(msg *Message) {
	c.Messages = append(c.Messages, msg)
	if msg.Timestamp.After(c.LastActivityAt) {
		c.LastActivityAt = msg.Timestamp
	}
	if msg.Author != "" && !c.HasParticipant(msg.Author) {
		c.Participants = append(c.Participants, msg.Author)
	}
}

// HasParticipant reports whether id is a participant.
func (c *Conversation) HasParticipant(id string) bool {
	for _, p := range c.Participants {
		if p == id {
			return true
		}
	}
	return false
}

// MessageIDs returns the set of message ids in the conversation.
func (c *Conversation) MessageIDs() map[string]bool {
	ids := make(map[string]bool, len(c.Messages))
	for _, m := range c.Messages {
		ids[m.ID] = true
	}
	return ids
}

// MessageCount returns the number of messages in the conversation.
func (c *Conversation) MessageCount() int {
	return len(c.Messages)
}

// IsBranch reports whether the conversation was spawned from a parent.
func (c *Conversation) IsBranch() bool {
	return c.ParentID != ""
}

// generateID creates a random id with the given prefix.
func generateID(prefix string) string {
	bytes := make([]byte, 8)
	rand.Read(bytes)
	return prefix + hex.EncodeToString(bytes)
}
