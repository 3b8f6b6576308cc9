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
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/convarchive/internal/format"
)

// =============================================================================
// LAYOUT AND MANIFEST
// =============================================================================

func TestExport_WritesCanonicalLayout(t *testing.T) {
	src := newMemStore()
	src.seed("A", 3)
	src.seed("B", 2)

	res := exportAll(t, src, DefaultExportOptions(), "A", "B")

	assert.Equal(t, "archive_20250601_120000"+format.BundleExt, filepath.Base(res.Path))
	for _, dir := range format.Directories() {
		assert.DirExists(t, filepath.Join(res.Path, filepath.FromSlash(dir)))
	}
	for _, f := range []string{format.ManifestFile, format.ReferencesFile, format.EventsFile,
		format.ConversationPath("A"), format.ConversationPath("B")} {
		assert.FileExists(t, filepath.Join(res.Path, filepath.FromSlash(f)))
	}

	m := res.Manifest
	assert.Equal(t, format.Current, m.FormatVersion)
	assert.Equal(t, "tester", m.CreatedBy)
	assert.Equal(t, "test-1", m.AppVersion)
	assert.True(t, m.CreatedAt.Equal(fixedNow))
	assert.Equal(t, []string{"A", "B"}, m.ConversationIDs())
	assert.Equal(t, 3, m.Conversations[0].MessageCount)
	assert.Equal(t, 5, m.MessageCount())
	assert.Equal(t, 2, m.Artifacts.Count)
	assert.Equal(t, 2, m.Artifacts.Snapshots.PaperCount)
	assert.Equal(t, 5, m.Provenance.EventCount)
	require.NotNil(t, m.Provenance.FirstEventAt)
	assert.True(t, m.Provenance.FirstEventAt.Before(*m.Provenance.LastEventAt))

	onDisk, err := Preview(context.Background(), res.Path)
	require.NoError(t, err)
	assert.Equal(t, m.ConversationIDs(), onDisk.ConversationIDs())
}

func TestExport_ConversationFileStartsWithHeader(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	res := exportAll(t, src, DefaultExportOptions(), "A")

	var types []format.LineType
	err := readLines(filepath.Join(res.Path, filepath.FromSlash(format.ConversationPath("A"))), func(_ int, data []byte) error {
		l, err := format.DecodeLine(data)
		if err != nil {
			return err
		}
		types = append(types, l.LineType())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []format.LineType{
		format.LineConversation, format.LineMessage, format.LineMessage, format.LineArtifactMention,
	}, types)
}

func TestExport_EventsSortedBySequence(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	src.seed("B", 2)
	// interleave: give B's first event the lowest sequence
	src.events[2].Sequence = 0

	res := exportAll(t, src, DefaultExportOptions(), "A", "B")

	var seqs []int64
	err := readLines(filepath.Join(res.Path, format.EventsFile), func(_ int, data []byte) error {
		ev, err := format.DecodeEvent(data)
		require.NoError(t, err)
		seqs = append(seqs, ev.Sequence)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1, 2, 4}, seqs)
}

func TestExport_ProvenanceDisabledWritesEmptyFile(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	opts := DefaultExportOptions()
	opts.IncludeProvenance = false

	res := exportAll(t, src, opts, "A")
	assert.Equal(t, 0, res.Manifest.Provenance.EventCount)
	assert.Nil(t, res.Manifest.Provenance.FirstEventAt)

	info, err := os.Stat(filepath.Join(res.Path, format.EventsFile))
	require.NoError(t, err)
	assert.Zero(t, info.Size())
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func TestExport_AttachmentsAreContentAddressed(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	src.seed("B", 2)
	same := []byte("identical figure bytes")
	src.attachTo("A", "figure.PNG", same)
	src.attachTo("B", "copy.png", same)
	src.attachTo("B", "notes.txt", []byte("different"))

	res := exportAll(t, src, DefaultExportOptions(), "A", "B")

	entries, err := os.ReadDir(filepath.Join(res.Path, format.AttachmentsDir))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "identical bytes are stored once")
	assert.FileExists(t, filepath.Join(res.Path, filepath.FromSlash(format.AttachmentPath(same, "png"))))

	a := res.Manifest.Attachments
	assert.Equal(t, 2, a.Count)
	assert.Equal(t, int64(len(same)+len("different")), a.TotalSize)
}

func TestExport_AttachmentPathStableAcrossRuns(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.attachTo("A", "figure.png", []byte("figure bytes"))

	opts := DefaultExportOptions()
	opts.Name = "first"
	first := exportAll(t, src, opts, "A")
	opts.Name = "second"
	second := exportAll(t, src, opts, "A")

	list := func(root string) []string {
		entries, err := os.ReadDir(filepath.Join(root, format.AttachmentsDir))
		require.NoError(t, err)
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		return names
	}
	assert.Len(t, list(first.Path), 1)
	assert.Equal(t, list(first.Path), list(second.Path))
}

func TestExport_WithoutAttachmentsSkipsPayloads(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.attachTo("A", "f.bin", []byte("payload"))
	opts := DefaultExportOptions()
	opts.IncludeAttachments = false

	res := exportAll(t, src, opts, "A")

	entries, err := os.ReadDir(filepath.Join(res.Path, format.AttachmentsDir))
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, res.Manifest.Attachments.Count)
}

// =============================================================================
// SNAPSHOTS
// =============================================================================

func TestExport_WritesSnapshotsFromSource(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.snapshots["arxiv:A"] = []byte("%PDF cached")

	res := exportAll(t, src, DefaultExportOptions(), "A")

	rel := format.SnapshotPath(format.ArtifactPaper, "arxiv:A")
	data, err := os.ReadFile(filepath.Join(res.Path, filepath.FromSlash(rel)))
	require.NoError(t, err)
	assert.Equal(t, "%PDF cached", string(data))

	var line *format.ReferenceLine
	require.NoError(t, readLines(filepath.Join(res.Path, format.ReferencesFile), func(_ int, b []byte) error {
		var err error
		line, err = format.DecodeReference(b)
		return err
	}))
	assert.Equal(t, rel, line.SnapshotPath)
}

// =============================================================================
// FAILURES
// =============================================================================

func TestExport_FailFastLeavesNoManifest(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	src.seed("B", 2)
	src.failFetch["B"] = errors.New("disk on fire")
	dest := t.TempDir()

	_, err := testExporter(t, src).Export(context.Background(), []string{"A", "B"}, dest, ExportOptions{Name: "broken"}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConversationExport), "err = %v", err)
	var item ItemError
	require.True(t, errors.As(err, &item))
	assert.Equal(t, "B", item.ID)

	root := filepath.Join(dest, "broken"+format.BundleExt)
	assert.FileExists(t, filepath.Join(root, filepath.FromSlash(format.ConversationPath("A"))), "earlier writes stay on disk")
	assert.NoFileExists(t, filepath.Join(root, format.ManifestFile))

	_, err = Preview(context.Background(), root)
	assert.True(t, errors.Is(err, ErrNotBundle), "preview err = %v", err)
	_, err = testImporter(newMemStore()).Import(context.Background(), root, DefaultImportOptions(), nil)
	assert.True(t, errors.Is(err, ErrNotBundle), "import err = %v", err)
}

func TestExport_FailureAfterSideFilesLeavesNoManifest(t *testing.T) {
	src := newMemStore()
	src.seed("A", 2)
	src.attachTo("A", "plot.png", []byte("png bytes"))
	dest := t.TempDir()
	root := filepath.Join(dest, "late"+format.BundleExt)
	opts := DefaultExportOptions()
	opts.Name = "late"

	// once artifacts are collected, turn the attachments directory into a
	// plain file so the attachments phase cannot write
	sabotage := func(p Progress) {
		if p.Phase != PhaseArtifacts {
			return
		}
		dir := filepath.Join(root, format.AttachmentsDir)
		require.NoError(t, os.RemoveAll(dir))
		require.NoError(t, os.WriteFile(dir, nil, 0644))
	}
	_, err := testExporter(t, src).Export(context.Background(), []string{"A"}, dest, opts, sabotage)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDestination), "err = %v", err)

	assert.FileExists(t, filepath.Join(root, filepath.FromSlash(format.ConversationPath("A"))))
	assert.FileExists(t, filepath.Join(root, format.ReferencesFile))
	assert.FileExists(t, filepath.Join(root, format.EventsFile))
	assert.NoFileExists(t, filepath.Join(root, format.ManifestFile))

	_, err = Preview(context.Background(), root)
	assert.True(t, errors.Is(err, ErrNotBundle), "preview err = %v", err)
	_, err = testImporter(newMemStore()).Import(context.Background(), root, DefaultImportOptions(), nil)
	assert.True(t, errors.Is(err, ErrNotBundle), "import err = %v", err)
}

func TestExport_CleanupOnFailureRemovesDirectory(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.failFetch["A"] = errors.New("boom")
	dest := t.TempDir()

	_, err := testExporter(t, src).Export(context.Background(), []string{"A"}, dest,
		ExportOptions{Name: "gone", CleanupOnFailure: true}, nil)
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(dest, "gone"+format.BundleExt))
}

func TestExport_BestEffortSkipsFailures(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.seed("B", 1)
	src.failFetch["A"] = errors.New("locked")
	opts := DefaultExportOptions()
	opts.FailurePolicy = BestEffort

	res := exportAll(t, src, opts, "A", "B")

	assert.Equal(t, []string{"B"}, res.Manifest.ConversationIDs())
	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "A", res.Skipped[0].ID)
	assert.Equal(t, 1, res.Manifest.Artifacts.Count, "artifacts only for exported conversations")
	assert.NoFileExists(t, filepath.Join(res.Path, filepath.FromSlash(format.ConversationPath("A"))))
}

func TestExport_SkippedConversationLeavesNoAttachments(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	b := src.seed("B", 2)
	src.attachTo("A", "a.txt", []byte("kept"))
	src.attachTo("B", "b.txt", []byte("dropped"))
	// time.Time refuses to encode years past 9999, so B fails while its file is written
	b.Messages[1].Timestamp = time.Date(10000, 1, 1, 0, 0, 0, 0, time.UTC)
	opts := DefaultExportOptions()
	opts.FailurePolicy = BestEffort

	res := exportAll(t, src, opts, "A", "B")

	require.Len(t, res.Skipped, 1)
	assert.Equal(t, "B", res.Skipped[0].ID)
	entries, err := os.ReadDir(filepath.Join(res.Path, format.AttachmentsDir))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
	assert.NoFileExists(t, filepath.Join(res.Path, filepath.FromSlash(format.AttachmentPath([]byte("dropped"), "txt"))))
	assert.Equal(t, 1, res.Manifest.Attachments.Count)
	assert.Equal(t, int64(len("kept")), res.Manifest.Attachments.TotalSize)
}

func TestExport_ProgressCoversSkippedItems(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.seed("B", 1)
	src.failArtifacts["A"] = errors.New("registry offline")
	opts := DefaultExportOptions()
	opts.FailurePolicy = BestEffort

	var steps []int
	_, err := testExporter(t, src).Export(context.Background(), []string{"A", "B"}, t.TempDir(), opts,
		func(p Progress) {
			if p.Phase == PhaseArtifacts {
				steps = append(steps, p.Current)
			}
		})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, steps)
}

func TestExport_BestEffortAllFailing(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.failFetch["A"] = errors.New("locked")

	_, err := testExporter(t, src).Export(context.Background(), []string{"A"}, t.TempDir(),
		ExportOptions{FailurePolicy: BestEffort}, nil)
	assert.True(t, errors.Is(err, ErrNothingToExport), "err = %v", err)
}

func TestExport_NoIDs(t *testing.T) {
	_, err := testExporter(t, newMemStore()).Export(context.Background(), nil, t.TempDir(), DefaultExportOptions(), nil)
	assert.True(t, errors.Is(err, ErrNothingToExport), "err = %v", err)
}

func TestExport_RefusesToOverwrite(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	dest := t.TempDir()
	opts := ExportOptions{Name: "same"}

	_, err := testExporter(t, src).Export(context.Background(), []string{"A"}, dest, opts, nil)
	require.NoError(t, err)
	_, err = testExporter(t, src).Export(context.Background(), []string{"A"}, dest, opts, nil)
	assert.True(t, errors.Is(err, ErrDestination), "err = %v", err)
}

func TestExport_UnwritableDestination(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	file := filepath.Join(t.TempDir(), "not-a-dir")
	require.NoError(t, os.WriteFile(file, nil, 0644))

	_, err := testExporter(t, src).Export(context.Background(), []string{"A"}, file, DefaultExportOptions(), nil)
	assert.True(t, errors.Is(err, ErrDestination), "err = %v", err)
}

func TestExport_MissingServices(t *testing.T) {
	_, err := NewExporter(Services{}).Export(context.Background(), []string{"A"}, t.TempDir(), DefaultExportOptions(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "conversations")
}

// =============================================================================
// CANCELLATION AND PROGRESS
// =============================================================================

func TestExport_CanceledRemovesDirectory(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.seed("B", 1)
	dest := t.TempDir()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	progress := func(p Progress) {
		if p.Phase == PhaseConversations && p.Current == p.Total {
			cancel()
		}
	}

	_, err := testExporter(t, src).Export(ctx, []string{"A", "B"}, dest, ExportOptions{Name: "cut"}, progress)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled), "err = %v", err)
	assert.NoDirExists(t, filepath.Join(dest, "cut"+format.BundleExt))
}

func TestExport_ReportsEveryPhase(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	src.attachTo("A", "f.txt", []byte("x"))

	seen := map[Phase]bool{}
	_, err := testExporter(t, src).Export(context.Background(), []string{"A"}, t.TempDir(), DefaultExportOptions(),
		func(p Progress) { seen[p.Phase] = true })
	require.NoError(t, err)
	for _, ph := range []Phase{PhasePreparing, PhaseConversations, PhaseArtifacts, PhaseProvenance, PhaseAttachments, PhaseFinalizing} {
		assert.True(t, seen[ph], "phase %s not reported", ph)
	}
}

func TestExport_SanitizesName(t *testing.T) {
	src := newMemStore()
	src.seed("A", 1)
	res := exportAll(t, src, ExportOptions{Name: "project/alpha: notes"}, "A")
	base := filepath.Base(res.Path)
	assert.False(t, strings.ContainsAny(strings.TrimSuffix(base, format.BundleExt), `/\:`), "base = %s", base)
}
