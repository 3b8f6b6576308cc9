// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/convarchive/internal/model"
	"github.com/jeranaias/convarchive/internal/util"
)

// =============================================================================
// RENDERER INTERFACE
// =============================================================================

// Renderer converts a conversation into a document.
type Renderer interface {
	// Render converts a conversation and returns the content.
	Render(conv *model.Conversation) ([]byte, error)

	// FileExtension returns the file extension (e.g., ".md").
	FileExtension() string

	// MimeType returns the MIME type of the output.
	MimeType() string
}

// =============================================================================
// OPTIONS
// =============================================================================

// Options configures rendering.
type Options struct {
	// IncludeMetadata includes the frontmatter and session information.
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool

	// Now stamps the footer. Default: time.Now
	Now func() time.Time
}

// DefaultOptions returns default rendering options.
func DefaultOptions() *Options {
	return &Options{
		IncludeMetadata:   true,
		IncludeTimestamps: true,
		Now:               time.Now,
	}
}

func (o *Options) now() time.Time {
	if o.Now == nil {
		return time.Now()
	}
	return o.Now()
}

// ForFormat returns the renderer for "markdown" (or "md") and "json".
func ForFormat(name string, opts *Options) (Renderer, error) {
	switch strings.ToLower(name) {
	case "markdown", "md", "":
		return NewMarkdownRenderer(opts), nil
	case "json":
		return NewJSONRenderer(), nil
	default:
		return nil, fmt.Errorf("unknown transcript format %q (markdown, json)", name)
	}
}

// WriteFile renders conv and writes it atomically to path.
func WriteFile(path string, conv *model.Conversation, r Renderer) error {
	content, err := r.Render(conv)
	if err != nil {
		return fmt.Errorf("render failed: %w", err)
	}
	if err := util.AtomicWriteFile(path, content, 0644); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

func formatTimestamp(t time.Time) string {
	return t.Format("January 2, 2006 at 3:04 PM MST")
}

func formatShortTimestamp(t time.Time) string {
	return t.Format("Jan 2 15:04:05")
}

func formatSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
