// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package transcript

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jeranaias/convarchive/internal/model"
)

// =============================================================================
// MARKDOWN RENDERER
// =============================================================================

// MarkdownRenderer renders conversations as Markdown.
type MarkdownRenderer struct {
	options *Options
}

// NewMarkdownRenderer creates a new Markdown renderer.
func NewMarkdownRenderer(opts *Options) *MarkdownRenderer {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownRenderer{options: opts}
}

// Render converts a conversation to Markdown.
func (e *MarkdownRenderer) Render(conv *model.Conversation) ([]byte, error) {
	if conv == nil {
		return nil, errors.New("conversation is nil")
	}
	if conv.CreatedAt.IsZero() {
		return nil, errors.New("conversation has invalid creation timestamp")
	}

	var sb strings.Builder
	title := conv.Title
	if title == "" {
		title = conv.ID
	}

	// YAML frontmatter with metadata
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("id: %s\n", escapeYAML(conv.ID)))
		sb.WriteString(fmt.Sprintf("title: %s\n", escapeYAML(title)))
		sb.WriteString(fmt.Sprintf("created: %s\n", conv.CreatedAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("last_activity: %s\n", conv.LastActivityAt.Format(time.RFC3339)))
		sb.WriteString(fmt.Sprintf("messages: %d\n", len(conv.Messages)))
		if conv.ParentID != "" {
			sb.WriteString(fmt.Sprintf("parent: %s\n", escapeYAML(conv.ParentID)))
		}
		sb.WriteString("generator: convarchive\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# %s\n\n", escapeMarkdown(title)))

	if e.options.IncludeMetadata {
		sb.WriteString("## Session Information\n\n")
		if len(conv.Participants) > 0 {
			sb.WriteString(fmt.Sprintf("- **Participants**: %s\n", strings.Join(conv.Participants, ", ")))
		}
		sb.WriteString(fmt.Sprintf("- **Created**: %s\n", formatTimestamp(conv.CreatedAt)))
		sb.WriteString(fmt.Sprintf("- **Last Activity**: %s\n", formatTimestamp(conv.LastActivityAt)))
		sb.WriteString(fmt.Sprintf("- **Messages**: %d\n", len(conv.Messages)))
		if conv.ParentID != "" {
			sb.WriteString(fmt.Sprintf("- **Branched from**: `%s`\n", conv.ParentID))
		}
		if len(conv.ChildIDs) > 0 {
			sb.WriteString(fmt.Sprintf("- **Branches**: %s\n", codeList(conv.ChildIDs)))
		}
		sb.WriteString("\n")
		e.writeArtifacts(&sb, conv.Mentions)
		sb.WriteString("---\n\n")
	}

	sb.WriteString("## Conversation\n\n")
	if len(conv.Messages) == 0 {
		sb.WriteString("*No messages.*\n\n")
	}
	for i, msg := range conv.Messages {
		label := formatRoleLabel(msg.Role)
		if msg.Author != "" && msg.Role == model.RoleUser {
			label += " " + escapeMarkdown(msg.Author)
		}
		if e.options.IncludeTimestamps {
			sb.WriteString(fmt.Sprintf("### %s <sub>%s</sub>\n\n", label, formatShortTimestamp(msg.Timestamp)))
		} else {
			sb.WriteString(fmt.Sprintf("### %s\n\n", label))
		}

		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")

		if len(msg.Attachments) > 0 {
			for _, a := range msg.Attachments {
				sb.WriteString(fmt.Sprintf("- Attachment: `%s` (%s)\n", a.Filename, formatSize(a.Size)))
			}
			sb.WriteString("\n")
		}

		if i < len(conv.Messages)-1 {
			sb.WriteString("---\n\n")
		}
	}

	sb.WriteString("\n---\n\n")
	sb.WriteString(fmt.Sprintf("*Rendered by convarchive on %s*\n",
		e.options.now().Format("January 2, 2006 at 3:04 PM")))

	return []byte(sb.String()), nil
}

func (e *MarkdownRenderer) writeArtifacts(sb *strings.Builder, mentions []model.ArtifactMention) {
	if len(mentions) == 0 {
		return
	}
	sb.WriteString("### Artifacts\n\n")
	seen := make(map[string]bool, len(mentions))
	for _, m := range mentions {
		if seen[m.URI] {
			continue
		}
		seen[m.URI] = true
		if m.DisplayName != "" {
			sb.WriteString(fmt.Sprintf("- %s (`%s`)\n", escapeMarkdown(m.DisplayName), m.URI))
		} else {
			sb.WriteString(fmt.Sprintf("- `%s`\n", m.URI))
		}
	}
	sb.WriteString("\n")
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownRenderer) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownRenderer) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatRoleLabel returns a formatted label for the message role.
func formatRoleLabel(role model.Role) string {
	switch role {
	case "":
		return "Unknown"
	case model.RoleUser:
		return "[User]"
	case model.RoleAssistant:
		return "[Assistant]"
	case model.RoleSystem:
		return "[System]"
	case model.RoleTool:
		return "[Tool]"
	default:
		runes := []rune(string(role))
		return strings.ToUpper(string(runes[0])) + string(runes[1:])
	}
}

func codeList(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "`" + id + "`"
	}
	return strings.Join(quoted, ", ")
}

// =============================================================================
// ESCAPING HELPERS
// =============================================================================

// escapeMarkdown escapes special Markdown characters in plain text.
func escapeMarkdown(s string) string {
	// Only escape characters that would break formatting in titles/headings
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

// escapeYAML quotes a frontmatter value when it contains YAML syntax.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
