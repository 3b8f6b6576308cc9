// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"io"
	"time"

	"github.com/jeranaias/convarchive/internal/archive"
)

// JSONResponse is the response envelope printed by every command in --json mode.
type JSONResponse struct {
	// Success indicates whether the command completed successfully
	Success bool `json:"success"`

	// Data contains the command-specific response data
	Data any `json:"data"`

	// Error contains the error message if Success is false, null otherwise
	Error *string `json:"error"`

	// Timestamp is the RFC 3339 time the response was generated
	Timestamp string `json:"timestamp"`

	// Command is the command that was executed
	Command string `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data any) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// Print writes the response as indented JSON.
func (r *JSONResponse) Print(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// =============================================================================
// COMMAND-SPECIFIC DATA STRUCTURES
// =============================================================================

// ExportData is returned by the export command.
type ExportData struct {
	Path          string       `json:"path"`
	Conversations int          `json:"conversations"`
	Messages      int          `json:"messages"`
	Artifacts     int          `json:"artifacts"`
	Events        int          `json:"events"`
	Attachments   int          `json:"attachments"`
	Skipped       []FailedItem `json:"skipped,omitempty"`
	Warnings      []string     `json:"warnings,omitempty"`
}

// ImportData is returned by the import command.
type ImportData struct {
	Source        string            `json:"source"`
	Conversations int               `json:"conversations"`
	Messages      int               `json:"messages"`
	Artifacts     int               `json:"artifacts"`
	Events        int               `json:"events"`
	Attachments   int               `json:"attachments"`
	Imported      []string          `json:"imported"`
	IDMap         map[string]string `json:"id_map"`
	Warnings      []string          `json:"warnings,omitempty"`
	Errors        []FailedItem      `json:"errors,omitempty"`
}

// FailedItem is one per-item failure.
type FailedItem struct {
	Phase string `json:"phase"`
	ID    string `json:"id"`
	Error string `json:"error"`
}

// VersionData is returned by the version command.
type VersionData struct {
	Version         string `json:"version"`
	GitCommit       string `json:"git_commit"`
	BuildDate       string `json:"build_date"`
	FormatVersion   string `json:"format_version"`
	MinimumReadable string `json:"minimum_readable"`
}

// WatchEvent is printed for each bundle the watch command processes.
type WatchEvent struct {
	Source  string      `json:"source"`
	MovedTo string      `json:"moved_to,omitempty"`
	Import  *ImportData `json:"import,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func failedItems(items []archive.ItemError) []FailedItem {
	out := make([]FailedItem, 0, len(items))
	for _, it := range items {
		msg := ""
		if it.Err != nil {
			msg = it.Err.Error()
		}
		out = append(out, FailedItem{Phase: string(it.Phase), ID: it.ID, Error: msg})
	}
	return out
}
