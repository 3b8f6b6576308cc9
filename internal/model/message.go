// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package model

import (
	"path/filepath"
	"time"
)

// =============================================================================
// ROLE TYPE
// =============================================================================

// Role represents the sender of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// String returns the string representation of the role.
func (r Role) String() string {
	return string(r)
}

// =============================================================================
// MESSAGE TYPE
// =============================================================================

// Message represents a single message in a conversation.
type Message struct {
	// Identity
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Author    string    `json:"author,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	// Content
	Content     string            `json:"content"`
	Attachments []AttachmentRef   `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewMessage creates a message with a generated ID and the current time.
func NewMessage(role Role, author, content string) *Message {
	return &Message{
		ID:        generateID("msg_"),
		Role:      role,
		Author:    author,
		Content:   content,
		Timestamp: time.Now(),
	}
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

// AttachmentRef is how a message points at a binary payload. ContentHash and
// Ext locate the blob in content-addressed storage.
type AttachmentRef struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	MimeType    string `json:"mime_type,omitempty"`
	Size        int64  `json:"size"`
	ContentHash string `json:"content_hash,omitempty"`
	Ext         string `json:"ext,omitempty"`
}

// Attachment is a binary payload together with the message it belongs to.
type Attachment struct {
	ID        string
	MessageID string
	Filename  string
	MimeType  string
	Data      []byte
}

// Ext returns the filename extension without its dot.
func (a *Attachment) Ext() string {
	ext := filepath.Ext(a.Filename)
	if len(ext) > 0 {
		ext = ext[1:]
	}
	return ext
}

// Blob is a content-addressed payload handed to the store on import.
type Blob struct {
	ContentHash string
	Ext         string
	Data        []byte
}
