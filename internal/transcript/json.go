// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"encoding/json"
	"errors"

	"github.com/jeranaias/convarchive/internal/model"
)

// JSONRenderer renders the complete conversation record as indented JSON.
type JSONRenderer struct{}

// NewJSONRenderer creates a new JSON renderer.
func NewJSONRenderer() *JSONRenderer {
	return &JSONRenderer{}
}

// Render converts a conversation to JSON.
func (e *JSONRenderer) Render(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, errors.New("conversation is nil")
	}
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(data, '\n'), nil
}

// FileExtension returns the file extension for JSON.
func (e *JSONRenderer) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONRenderer) MimeType() string {
	return "application/json"
}
