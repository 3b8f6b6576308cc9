// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERROR KINDS
// =============================================================================

// Fatal error kinds. Match them with errors.Is.
var (
	// ErrNotBundle means the source does not exist or has no manifest.
	ErrNotBundle = errors.New("not a bundle")

	// ErrUnreadableManifest means the manifest exists but cannot be decoded.
	ErrUnreadableManifest = errors.New("unreadable manifest")

	// ErrCompression means packing or unpacking the single-file form failed.
	ErrCompression = errors.New("compression failure")

	// ErrUnsupportedVersion means the bundle's format version is refused.
	ErrUnsupportedVersion = errors.New("unsupported format version")

	// ErrDestination means the export destination cannot be written.
	ErrDestination = errors.New("destination not writable")

	// ErrConversationExport means a conversation could not be exported.
	ErrConversationExport = errors.New("conversation export failed")

	// ErrConversationImport means a conversation could not be imported under
	// the FailFast policy.
	ErrConversationImport = errors.New("conversation import failed")

	// ErrNothingToExport means no conversation ids were given, or every one
	// of them was skipped.
	ErrNothingToExport = errors.New("no conversations to export")
)

// ErrMessageCountMismatch means a conversation file holds a different number
// of messages than its manifest entry announces, typically from truncation.
var ErrMessageCountMismatch = errors.New("message count does not match manifest")

// BundleError is returned for every fatal failure of Export, Import and Preview.
type BundleError struct {
	Op   string // "export", "import" or "preview"
	Path string
	Kind error
	Err  error
}

func (e *BundleError) Error() string {
	msg := e.Op + " " + e.Path + ": " + e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is implements errors.Is support for comparing error kinds.
func (e *BundleError) Is(target error) bool {
	return target == e.Kind
}

func (e *BundleError) Unwrap() error {
	return e.Err
}

func bundleErr(op, path string, kind, err error) *BundleError {
	return &BundleError{Op: op, Path: path, Kind: kind, Err: err}
}

// =============================================================================
// ITEM ERRORS
// =============================================================================

// ItemError is a non-fatal failure of a single record during import.
type ItemError struct {
	Phase Phase
	ID    string
	Err   error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Phase, e.ID, e.Err)
}

func (e ItemError) Unwrap() error {
	return e.Err
}
