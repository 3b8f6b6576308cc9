// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package format

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// =============================================================================
// CANONICAL LAYOUT
// =============================================================================

const (
	// BundleExt is the suffix of a bundle directory.
	BundleExt = ".convbundle"

	// CompressedExt is the suffix of a single-file bundle.
	CompressedExt = BundleExt + ".tar.zst"

	// LineExt is the suffix of every JSON-Lines file.
	LineExt = ".jsonl"

	ManifestFile      = "manifest.json"
	ConversationsDir  = "conversations"
	ArtifactsDir      = "artifacts"
	ReferencesFile    = ArtifactsDir + "/references" + LineExt
	SnapshotsDir      = ArtifactsDir + "/snapshots"
	PaperSnapshotsDir = SnapshotsDir + "/papers"
	RepoSnapshotsDir  = SnapshotsDir + "/repos"
	ProvenanceDir     = "provenance"
	EventsFile        = ProvenanceDir + "/events" + LineExt
	AttachmentsDir    = "attachments"

	// SnapshotExt is the suffix of a cached artifact snapshot.
	SnapshotExt = ".snapshot"

	// DefaultAttachmentExt is used when an attachment has no usable extension.
	DefaultAttachmentExt = "bin"
)

// Artifact types that carry content snapshots.
const (
	ArtifactPaper      = "paper"
	ArtifactRepository = "repository"
	ArtifactDocument   = "document"
)

// ErrUnsafePath is returned when a bundle-relative path escapes the bundle root.
var ErrUnsafePath = errors.New("path escapes bundle root")

// Directories returns every directory of the canonical skeleton, parents first.
func Directories() []string {
	return []string{
		ConversationsDir,
		ArtifactsDir,
		SnapshotsDir,
		PaperSnapshotsDir,
		RepoSnapshotsDir,
		ProvenanceDir,
		AttachmentsDir,
	}
}

// ConversationPath returns the bundle-relative JSON-Lines path for a conversation.
// The id is path-escaped so that separators cannot leave the directory.
func ConversationPath(id string) string {
	return path.Join(ConversationsDir, url.PathEscape(id)+LineExt)
}

// =============================================================================
// CONTENT ADDRESSING
// =============================================================================

// ContentHash returns the hex SHA-256 of data.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NormalizeExt lowercases an extension and strips its leading dot.
// Extensions with separators or other unexpected runes collapse to
// DefaultAttachmentExt.
func NormalizeExt(ext string) string {
	ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
	if ext == "" || len(ext) > 16 {
		return DefaultAttachmentExt
	}
	for _, r := range ext {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return DefaultAttachmentExt
		}
	}
	return ext
}

// AttachmentPath returns the content-addressed bundle path for data.
// Identical bytes with the same extension always map to the same path.
func AttachmentPath(data []byte, ext string) string {
	return AttachmentPathForHash(ContentHash(data), ext)
}

// AttachmentPathForHash is AttachmentPath for an already computed hash.
func AttachmentPathForHash(hash, ext string) string {
	return path.Join(AttachmentsDir, hash+"."+NormalizeExt(ext))
}

// ParseAttachmentName splits a content-addressed file name into hash and
// extension. It reports false for names that were not produced by
// AttachmentPath.
func ParseAttachmentName(name string) (hash, ext string, ok bool) {
	dot := strings.IndexByte(name, '.')
	if dot <= 0 || dot == len(name)-1 {
		return "", "", false
	}
	hash, ext = name[:dot], name[dot+1:]
	if len(hash) != sha256.Size*2 {
		return "", "", false
	}
	if _, err := hex.DecodeString(hash); err != nil {
		return "", "", false
	}
	if NormalizeExt(ext) != ext {
		return "", "", false
	}
	return hash, ext, true
}

// SnapshotPath returns the bundle path of an artifact snapshot, or "" when
// the artifact type has no snapshot directory.
func SnapshotPath(artifactType, uri string) string {
	var dir string
	switch strings.ToLower(artifactType) {
	case ArtifactPaper:
		dir = PaperSnapshotsDir
	case ArtifactRepository, "repo":
		dir = RepoSnapshotsDir
	default:
		return ""
	}
	return path.Join(dir, ContentHash([]byte(uri))+SnapshotExt)
}

// =============================================================================
// PATH RESOLUTION
// =============================================================================

// ResolvePath joins a bundle-relative slash path onto root.
// SECURITY: rejects absolute paths and any path that escapes root, since
// manifests and archives come from outside the process.
func ResolvePath(root, rel string) (string, error) {
	if rel == "" {
		return "", ErrUnsafePath
	}
	if path.IsAbs(rel) || filepath.IsAbs(rel) || strings.Contains(rel, `\`) {
		return "", ErrUnsafePath
	}
	clean := path.Clean(rel)
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", ErrUnsafePath
	}
	return filepath.Join(root, filepath.FromSlash(clean)), nil
}
