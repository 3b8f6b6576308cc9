// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/convarchive/internal/format"
)

// =============================================================================
// HELPERS
// =============================================================================

func bundleFile(root, rel string) string {
	return filepath.Join(root, filepath.FromSlash(rel))
}

// rewriteManifest applies fn to the manifest of the bundle at root.
func rewriteManifest(t *testing.T, root string, fn func(m *format.Manifest)) {
	t.Helper()
	path := filepath.Join(root, format.ManifestFile)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	m, err := format.UnmarshalManifest(data)
	require.NoError(t, err)
	fn(m)
	data, err = m.Marshal()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func appendToFile(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(text)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func importInto(t *testing.T, dst *memStore, source string, opts ImportOptions) *ImportResult {
	t.Helper()
	res, err := testImporter(dst).Import(context.Background(), source, opts, nil)
	require.NoError(t, err)
	return res
}

// =============================================================================
// ROUND TRIP
// =============================================================================

func TestImport_RoundTrip(t *testing.T) {
	src := newMemStore()
	src.seed("A", 3)
	src.seed("B", 2)
	src.attachTo("A", "plot.png", []byte("png bytes"))
	exp := exportAll(t, src, DefaultExportOptions(), "A", "B")

	dst := newMemStore()
	res := importInto(t, dst, exp.Path, DefaultImportOptions())

	assert.Equal(t, 2, res.ConversationsImported)
	assert.Equal(t, []string{"A", "B"}, res.ImportedConversationIDs)
	assert.Equal(t, map[string]string{"A": "A", "B": "B"}, res.IDMap)
	assert.Equal(t, 5, res.MessagesImported)
	assert.Equal(t, 2, res.ArtifactsImported)
	assert.Equal(t, 5, res.ProvenanceEventsImported)
	assert.Equal(t, 1, res.AttachmentsImported)
	assert.Empty(t, res.Errors)
	assert.Empty(t, res.Warnings)

	a := dst.convs["A"]
	require.NotNil(t, a)
	orig := src.convs["A"]
	assert.Equal(t, orig.Title, a.Title)
	assert.Equal(t, orig.Participants, a.Participants)
	require.Len(t, a.Messages, 3)
	for i, msg := range a.Messages {
		assert.Equal(t, orig.Messages[i].ID, msg.ID)
		assert.Equal(t, orig.Messages[i].Content, msg.Content)
		assert.True(t, orig.Messages[i].Timestamp.Equal(msg.Timestamp))
	}
	require.Len(t, a.Messages[0].Attachments, 1)
	ref := a.Messages[0].Attachments[0]
	assert.Equal(t, format.ContentHash([]byte("png bytes")), ref.ContentHash)
	assert.Equal(t, "png", ref.Ext)
	assert.Equal(t, []byte("png bytes"), dst.blobs[ref.ContentHash])
	assert.Len(t, a.Mentions, 1)
	assert.Contains(t, dst.artifacts, "arxiv:A")
}

func TestImport_CompressedMatchesDirectory(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	src.seed("B", 1)
	src.attachTo("B", "doc.pdf", []byte("%PDF"))

	plain := exportAll(t, src, DefaultExportOptions(), "A", "B")
	opts := DefaultExportOptions()
	opts.Compress = true
	packed := exportAll(t, src, opts, "A", "B")

	assert.True(t, strings.HasSuffix(packed.Path, format.CompressedExt), "path = %s", packed.Path)
	info, err := os.Stat(packed.Path)
	require.NoError(t, err)
	assert.True(t, info.Mode().IsRegular())
	assert.NoDirExists(t, strings.TrimSuffix(packed.Path, ".tar.zst"), "uncompressed form is removed")

	fromDir := importInto(t, newMemStore(), plain.Path, DefaultImportOptions())
	fromFile := importInto(t, newMemStore(), packed.Path, DefaultImportOptions())
	assert.Equal(t, fromDir.ConversationsImported, fromFile.ConversationsImported)
	assert.Equal(t, fromDir.MessagesImported, fromFile.MessagesImported)
	assert.Equal(t, fromDir.AttachmentsImported, fromFile.AttachmentsImported)
	assert.Equal(t, fromDir.ProvenanceEventsImported, fromFile.ProvenanceEventsImported)
}

// =============================================================================
// PARTIAL FAILURE
// =============================================================================

func TestImport_TruncatedConversationIsSkipped(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	src.seed("B", 3)
	src.seed("C", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A", "B", "C")

	// cut B's file in the middle of its last line
	path := bundleFile(exp.Path, format.ConversationPath("B"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data[:len(data)-20], 0644))

	dst := newMemStore()
	res := importInto(t, dst, exp.Path, DefaultImportOptions())

	assert.Equal(t, 2, res.ConversationsImported)
	assert.Equal(t, []string{"A", "C"}, res.ImportedConversationIDs)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "B", res.Errors[0].ID)
	assert.Equal(t, PhaseConversations, res.Errors[0].Phase)
	assert.NotContains(t, dst.convs, "B", "nothing of B reaches the store")
	assert.Equal(t, 3, res.MessagesImported)
}

func TestImport_MessageCountMismatch(t *testing.T) {
	src := newMemStore()
	src.seed("A", 3)
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	// drop the last message line cleanly, leaving valid JSON-Lines
	path := bundleFile(exp.Path, format.ConversationPath("A"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.SplitAfter(string(data), "\n")
	var kept []string
	for _, l := range lines {
		if strings.Contains(l, `"id":"A-m3"`) {
			continue
		}
		kept = append(kept, l)
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(kept, "")), 0644))

	res := importInto(t, newMemStore(), exp.Path, DefaultImportOptions())
	require.Len(t, res.Errors, 1)
	assert.True(t, errors.Is(res.Errors[0], ErrMessageCountMismatch), "err = %v", res.Errors[0])
}

func TestImport_FailFastStopsOnFirstFailure(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.seed("B", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A", "B")
	require.NoError(t, os.Remove(bundleFile(exp.Path, format.ConversationPath("A"))))

	opts := DefaultImportOptions()
	opts.FailurePolicy = FailFast
	_, err := testImporter(newMemStore()).Import(context.Background(), exp.Path, opts, nil)
	assert.True(t, errors.Is(err, ErrConversationImport), "err = %v", err)
}

func TestImport_ExistsFailureSkipsOnlyThatConversation(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.seed("B", 2)
	src.seed("C", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A", "B", "C")

	dst := newMemStore()
	dst.failExists["B"] = errors.New("store hiccup")
	res := importInto(t, dst, exp.Path, DefaultImportOptions())

	assert.Equal(t, 2, res.ConversationsImported)
	assert.Equal(t, []string{"A", "C"}, res.ImportedConversationIDs)
	assert.NotContains(t, res.IDMap, "B")
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "B", res.Errors[0].ID)
	assert.Equal(t, PhaseConversations, res.Errors[0].Phase)
	assert.NotContains(t, dst.convs, "B")
	assert.Equal(t, 2, res.ProvenanceEventsImported, "events of B are skipped")
}

func TestImport_ExistsFailureFailFast(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.seed("B", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A", "B")

	dst := newMemStore()
	dst.failExists["B"] = errors.New("store hiccup")
	opts := DefaultImportOptions()
	opts.FailurePolicy = FailFast
	_, err := testImporter(dst).Import(context.Background(), exp.Path, opts, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConversationImport), "err = %v", err)
	var item ItemError
	require.True(t, errors.As(err, &item))
	assert.Equal(t, "B", item.ID)
}

func TestImport_FailedAppendRollsBack(t *testing.T) {
	src := newMemStore()
	src.seed("A", 3)
	src.seed("B", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A", "B")

	dst := newMemStore()
	dst.failAppend["A"] = 2
	res := importInto(t, dst, exp.Path, DefaultImportOptions())

	assert.Equal(t, []string{"B"}, res.ImportedConversationIDs)
	assert.Equal(t, 1, res.MessagesImported)
	require.Len(t, res.Errors, 1)
	assert.Equal(t, "A", res.Errors[0].ID)
	assert.NotContains(t, dst.convs, "A", "partial conversation is removed")
	for _, w := range res.Warnings {
		assert.NotContains(t, w, "left in store")
	}
}

func TestImport_FailedAppendWithoutDeleteWarns(t *testing.T) {
	src := newMemStore()
	src.seed("A", 3)
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	dst := newMemStore()
	dst.failAppend["A"] = 2
	svc := Services{Conversations: undeletable{dst}, Artifacts: dst, Provenance: dst}
	res, err := NewImporter(svc).Import(context.Background(), exp.Path, DefaultImportOptions(), nil)
	require.NoError(t, err)

	require.Len(t, res.Errors, 1)
	assert.Empty(t, res.ImportedConversationIDs)
	require.Contains(t, dst.convs, "A")
	assert.Len(t, dst.convs["A"].Messages, 1)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "conversation A left in store with 1 message(s)")
}

func TestImport_FailedMergeKeepsExistingConversation(t *testing.T) {
	src := newMemStore()
	src.seed("A", 4)
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	dst := newMemStore()
	dst.seed("A", 1)
	dst.failAppend["A"] = 2
	opts := DefaultImportOptions()
	opts.MergeExisting = true
	res := importInto(t, dst, exp.Path, opts)

	require.Len(t, res.Errors, 1)
	require.Contains(t, dst.convs, "A", "a merge target is never deleted")
	assert.Len(t, dst.convs["A"].Messages, 2)
	assert.Contains(t, strings.Join(res.Warnings, "\n"), "conversation A keeps 1 merged message(s)")
}

func TestImport_ProgressCoversSkippedItems(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.seed("B", 1)
	src.seed("C", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A", "B", "C")
	require.NoError(t, os.Remove(bundleFile(exp.Path, format.ConversationPath("B"))))

	var convSteps, eventSteps []int
	progress := func(p Progress) {
		switch p.Phase {
		case PhaseConversations:
			convSteps = append(convSteps, p.Current)
		case PhaseProvenance:
			eventSteps = append(eventSteps, p.Current)
		}
	}
	_, err := testImporter(newMemStore()).Import(context.Background(), exp.Path, DefaultImportOptions(), progress)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, convSteps)
	assert.Equal(t, []int{1, 2, 3}, eventSteps, "the orphaned event of B still advances progress")
}

func TestImport_UnsafeConversationPath(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A")
	rewriteManifest(t, exp.Path, func(m *format.Manifest) {
		m.Conversations[0].Path = "../../etc/passwd"
	})

	res := importInto(t, newMemStore(), exp.Path, DefaultImportOptions())
	require.Len(t, res.Errors, 1)
	assert.True(t, errors.Is(res.Errors[0], format.ErrUnsafePath), "err = %v", res.Errors[0])
}

// =============================================================================
// FATAL ERRORS
// =============================================================================

func TestImport_MissingManifestIsFatal(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A")
	require.NoError(t, os.Remove(filepath.Join(exp.Path, format.ManifestFile)))

	dst := newMemStore()
	_, err := testImporter(dst).Import(context.Background(), exp.Path, DefaultImportOptions(), nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotBundle), "err = %v", err)
	assert.Zero(t, dst.callCount(), "no service may be called")
}

func TestImport_MissingSource(t *testing.T) {
	_, err := testImporter(newMemStore()).Import(context.Background(), filepath.Join(t.TempDir(), "nope"), DefaultImportOptions(), nil)
	assert.True(t, errors.Is(err, ErrNotBundle), "err = %v", err)
}

func TestImport_UndecodableManifest(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, format.ManifestFile), []byte(`{"formatVersion": "one"`), 0644))

	dst := newMemStore()
	_, err := testImporter(dst).Import(context.Background(), root, DefaultImportOptions(), nil)
	assert.True(t, errors.Is(err, ErrUnreadableManifest), "err = %v", err)
	assert.Zero(t, dst.callCount())
}

func TestImport_CorruptCompressedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk"+format.CompressedExt)
	require.NoError(t, os.WriteFile(path, []byte("this is not zstd"), 0644))

	_, err := testImporter(newMemStore()).Import(context.Background(), path, DefaultImportOptions(), nil)
	assert.True(t, errors.Is(err, ErrCompression), "err = %v", err)
}

// =============================================================================
// VERSIONS
// =============================================================================

func TestImport_NewerVersionWarns(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A")
	rewriteManifest(t, exp.Path, func(m *format.Manifest) {
		m.FormatVersion = format.Version{Major: format.Current.Major + 1}
	})

	res := importInto(t, newMemStore(), exp.Path, DefaultImportOptions())
	assert.Equal(t, 1, res.ConversationsImported)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "newer")
}

func TestImport_NewerVersionRejected(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A")
	rewriteManifest(t, exp.Path, func(m *format.Manifest) {
		m.FormatVersion = format.Version{Major: 2}
	})

	opts := DefaultImportOptions()
	opts.VersionPolicy = RejectNewer
	dst := newMemStore()
	_, err := testImporter(dst).Import(context.Background(), exp.Path, opts, nil)
	assert.True(t, errors.Is(err, ErrUnsupportedVersion), "err = %v", err)
	assert.Zero(t, dst.callCount())
}

func TestImport_OlderThanMinimumIsFatal(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A")
	rewriteManifest(t, exp.Path, func(m *format.Manifest) {
		m.FormatVersion = format.Version{Major: 0, Minor: 9}
	})

	_, err := testImporter(newMemStore()).Import(context.Background(), exp.Path, DefaultImportOptions(), nil)
	assert.True(t, errors.Is(err, ErrUnsupportedVersion), "err = %v", err)
}

// =============================================================================
// MALFORMED SIDE FILES
// =============================================================================

func TestImport_MalformedProvenanceLineWarns(t *testing.T) {
	src := newMemStore()
	src.seed("A", 3)
	exp := exportAll(t, src, DefaultExportOptions(), "A")
	appendToFile(t, bundleFile(exp.Path, format.EventsFile), "{not json\n")
	appendToFile(t, bundleFile(exp.Path, format.EventsFile), `{"conversationId":"A","sequence":99}`+"\n")

	res := importInto(t, newMemStore(), exp.Path, DefaultImportOptions())
	assert.Equal(t, 3, res.ProvenanceEventsImported, "valid lines still import")
	assert.Len(t, res.Warnings, 2)
	assert.Empty(t, res.Errors)
}

func TestImport_MalformedReferenceLineWarns(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.seed("B", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A", "B")
	appendToFile(t, bundleFile(exp.Path, format.ReferencesFile), "[1,2,3]\n")

	res := importInto(t, newMemStore(), exp.Path, DefaultImportOptions())
	assert.Equal(t, 2, res.ArtifactsImported)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], format.ReferencesFile)
}

func TestImport_EventsOfSkippedConversationWarn(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.seed("B", 2)
	exp := exportAll(t, src, DefaultExportOptions(), "A", "B")
	require.NoError(t, os.Remove(bundleFile(exp.Path, format.ConversationPath("B"))))

	res := importInto(t, newMemStore(), exp.Path, DefaultImportOptions())
	assert.Equal(t, 1, res.ProvenanceEventsImported)
	assert.Len(t, res.Warnings, 2, "one warning per orphaned event")
}

func TestImport_AttachmentHashMismatchWarns(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.attachTo("A", "good.txt", []byte("original"))
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	p := bundleFile(exp.Path, format.AttachmentPath([]byte("original"), "txt"))
	require.NoError(t, os.WriteFile(p, []byte("tampered"), 0644))

	dst := newMemStore()
	res := importInto(t, dst, exp.Path, DefaultImportOptions())
	assert.Zero(t, res.AttachmentsImported)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "content hash")
	assert.Empty(t, dst.blobs)
}

func TestImport_TogglesOff(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	src.attachTo("A", "f.bin", []byte("bin"))
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	opts := DefaultImportOptions()
	opts.ImportAttachments = false
	opts.ImportProvenance = false
	dst := newMemStore()
	res := importInto(t, dst, exp.Path, opts)

	assert.Equal(t, 1, res.ConversationsImported)
	assert.Zero(t, res.AttachmentsImported)
	assert.Zero(t, res.ProvenanceEventsImported)
	assert.Empty(t, dst.blobs)
	assert.Empty(t, dst.events)
}

// =============================================================================
// IDS, MERGE AND TITLES
// =============================================================================

func TestImport_ExistingIDGetsFreshID(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	dst := newMemStore()
	dst.seed("A", 1)
	res := importInto(t, dst, exp.Path, DefaultImportOptions())

	newID := res.IDMap["A"]
	assert.NotEqual(t, "A", newID)
	assert.True(t, strings.HasPrefix(newID, "conv_"), "id = %s", newID)
	assert.Equal(t, []string{"A"}, res.ImportedConversationIDs, "result lists manifest ids")
	assert.Len(t, dst.convs["A"].Messages, 1, "existing conversation untouched")
	assert.Len(t, dst.convs[newID].Messages, 2)

	for _, ev := range dst.events[1:] {
		assert.Equal(t, newID, ev.ConversationID, "events follow the new id")
	}
}

func TestImport_MergeAppendsOnlyNewMessages(t *testing.T) {
	src := newMemStore()
	src.seed("A", 3)
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	dst := newMemStore()
	dst.seed("A", 2) // same ids A-m1, A-m2
	dst.convs["A"].Title = "Local title"
	opts := DefaultImportOptions()
	opts.MergeExisting = true
	res := importInto(t, dst, exp.Path, opts)

	assert.Equal(t, "A", res.IDMap["A"])
	assert.Equal(t, 1, res.MessagesImported)
	conv := dst.convs["A"]
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "A-m3", conv.Messages[2].ID)
	assert.Equal(t, "Local title", conv.Title)
	assert.Len(t, conv.Mentions, 1, "duplicate mention merged")
}

func TestImport_RemapsBranchLinks(t *testing.T) {
	src := newMemStore()
	parent := src.seed("P", 1)
	child := src.seed("C", 1)
	parent.ChildIDs = []string{"C"}
	child.ParentID = "P"
	exp := exportAll(t, src, DefaultExportOptions(), "P", "C")

	dst := newMemStore()
	dst.seed("P", 1)
	dst.seed("C", 1)
	res := importInto(t, dst, exp.Path, DefaultImportOptions())

	newP, newC := res.IDMap["P"], res.IDMap["C"]
	require.NotEqual(t, "P", newP)
	assert.Equal(t, newP, dst.convs[newC].ParentID)
	assert.Equal(t, []string{newC}, dst.convs[newP].ChildIDs)
}

func TestImport_TitlePrefixIsNormalized(t *testing.T) {
	src := newMemStore()
	conv := src.seed("A", 1)
	conv.Title = "Cafe\u0301 notes"
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	opts := DefaultImportOptions()
	opts.TitlePrefix = "[imported] "
	dst := newMemStore()
	importInto(t, dst, exp.Path, opts)

	assert.Equal(t, "[imported] Caf\u00e9 notes", dst.convs["A"].Title)
}

func TestImport_SnapshotsReachSink(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.snapshots["arxiv:A"] = []byte("cached paper")
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	dst := newMemStore()
	importInto(t, dst, exp.Path, DefaultImportOptions())
	assert.Equal(t, "cached paper", string(dst.snapshots["arxiv:A"]))
}

// =============================================================================
// PREVIEW
// =============================================================================

func TestPreview_IsReadOnly(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	dst := newMemStore()
	m, err := testImporter(dst).Preview(context.Background(), exp.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, m.ConversationIDs())
	assert.Zero(t, dst.callCount())
}

func TestPreview_CompressedDoesNotExtract(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	opts := DefaultExportOptions()
	opts.Compress = true
	exp := exportAll(t, src, opts, "A")

	before, err := os.ReadDir(filepath.Dir(exp.Path))
	require.NoError(t, err)
	m, err := Preview(context.Background(), exp.Path)
	require.NoError(t, err)
	assert.Equal(t, 2, m.MessageCount())
	after, err := os.ReadDir(filepath.Dir(exp.Path))
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestImport_AddsOnlyManifestListedConversations(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	exp := exportAll(t, src, DefaultExportOptions(), "A")

	// a stray file not listed in the manifest is ignored
	stray := &format.ConversationLine{ID: "stray", Title: "x"}
	data, err := format.MarshalLine(stray)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(bundleFile(exp.Path, format.ConversationPath("stray")), append(data, '\n'), 0644))

	dst := newMemStore()
	res := importInto(t, dst, exp.Path, DefaultImportOptions())
	assert.Equal(t, []string{"A"}, res.ImportedConversationIDs)
	assert.NotContains(t, dst.convs, "stray")
}

// =============================================================================
// READ CONVERSATION
// =============================================================================

func TestReadConversation(t *testing.T) {
	src := newMemStore()
	src.seed("A", 3)
	src.seed("B", 1)
	src.attachTo("A", "a.txt", []byte("attached"))
	opts := DefaultExportOptions()
	opts.Compress = true
	exp := exportAll(t, src, opts, "A", "B")

	conv, err := ReadConversation(context.Background(), exp.Path, "A")
	require.NoError(t, err)
	assert.Equal(t, "Conversation A", conv.Title)
	require.Len(t, conv.Messages, 3)
	assert.Equal(t, "A-m1", conv.Messages[0].ID)
	require.Len(t, conv.Messages[0].Attachments, 1)
	assert.Equal(t, format.ContentHash([]byte("attached")), conv.Messages[0].Attachments[0].ContentHash)
	assert.Len(t, conv.Mentions, 1)

	_, err = ReadConversation(context.Background(), exp.Path, "Z")
	assert.True(t, errors.Is(err, ErrNotInBundle), "err = %v", err)
}
