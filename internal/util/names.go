// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// maxNameRunes bounds generated file and directory names.
const maxNameRunes = 64

// SanitizeName turns s into a name that is safe on Windows and Unix
// filesystems. The result is NFC-normalized so that visually identical
// titles produce identical names. Returns fallback when nothing survives.
func SanitizeName(s, fallback string) string {
	s = norm.NFC.String(strings.TrimSpace(s))

	var b strings.Builder
	for _, r := range s {
		switch {
		case strings.ContainsRune(`/\:*?"<>|`, r):
			b.WriteRune('-')
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			b.WriteRune('_')
		case r < 32 || r == 127:
			b.WriteRune('-')
		default:
			b.WriteRune(r)
		}
	}

	name := strings.Trim(TruncateRunesNoEllipsis(b.String(), maxNameRunes), ".")
	if name == "" {
		return fallback
	}
	return name
}

// NormalizeText returns s in Unicode NFC form.
func NormalizeText(s string) string {
	return norm.NFC.String(s)
}

// UNICODE: Rune-aware truncation preserves multi-byte characters.

// TruncateRunes truncates a string to a maximum number of runes (characters).
// If the string is truncated, "..." is appended.
func TruncateRunes(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	if maxRunes <= 3 {
		return string(runes[:maxRunes])
	}
	return string(runes[:maxRunes-3]) + "..."
}

// TruncateRunesNoEllipsis truncates a string to a maximum number of runes
// without appending an ellipsis.
func TruncateRunesNoEllipsis(s string, maxRunes int) string {
	if maxRunes <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes])
}
