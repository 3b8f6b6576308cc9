// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/convarchive/internal/archive"
	"github.com/jeranaias/convarchive/internal/format"
)

// fakeImporter records sources and fails those listed in fail.
type fakeImporter struct {
	mu      sync.Mutex
	sources []string
	fail    map[string]bool
}

func (f *fakeImporter) Import(_ context.Context, source string, _ archive.ImportOptions, _ archive.ProgressFunc) (*archive.ImportResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, source)
	if f.fail[filepath.Base(source)] {
		return nil, &archive.BundleError{Op: "import", Path: source, Kind: archive.ErrNotBundle}
	}
	return &archive.ImportResult{ConversationsImported: 1}, nil
}

func (f *fakeImporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

// startWatcher runs a watcher over a fresh directory and returns a channel of
// its results.
func startWatcher(t *testing.T, imp BundleImporter, setup func(dir string)) (string, <-chan Result) {
	t.Helper()
	dir := t.TempDir()
	if setup != nil {
		setup(dir)
	}
	results := make(chan Result, 8)
	w, err := New(dir, imp, archive.DefaultImportOptions(),
		WithDebounce(30*time.Millisecond),
		WithResultHandler(func(r Result) { results <- r }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	// give the watcher time to register before files appear
	time.Sleep(50 * time.Millisecond)
	return dir, results
}

func waitResult(t *testing.T, results <-chan Result) Result {
	t.Helper()
	select {
	case r := <-results:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for bundle to be processed")
		return Result{}
	}
}

func makeBundleDir(t *testing.T, dir, name string, withManifest bool) string {
	t.Helper()
	root := filepath.Join(dir, name+format.BundleExt)
	require.NoError(t, os.MkdirAll(filepath.Join(root, format.ConversationsDir), 0755))
	if withManifest {
		require.NoError(t, os.WriteFile(filepath.Join(root, format.ManifestFile), []byte("{}"), 0644))
	}
	return root
}

func TestWatcher_ImportsDirectoryOnceManifestAppears(t *testing.T) {
	imp := &fakeImporter{}
	dir, results := startWatcher(t, imp, nil)

	root := makeBundleDir(t, dir, "incoming", false)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 0, imp.count(), "bundle without manifest must wait")

	require.NoError(t, os.WriteFile(filepath.Join(root, format.ManifestFile), []byte("{}"), 0644))
	r := waitResult(t, results)

	require.NoError(t, r.Err)
	assert.Equal(t, root, r.Source)
	assert.Equal(t, filepath.Join(dir, DoneDir, "incoming"+format.BundleExt), r.MovedTo)
	assert.DirExists(t, r.MovedTo)
	assert.NoDirExists(t, root)
}

func TestWatcher_ImportsCompressedFile(t *testing.T) {
	imp := &fakeImporter{}
	dir, results := startWatcher(t, imp, nil)

	path := filepath.Join(dir, "packed"+format.CompressedExt)
	require.NoError(t, os.WriteFile(path, []byte("zstd bytes"), 0644))
	r := waitResult(t, results)

	require.NoError(t, r.Err)
	assert.FileExists(t, filepath.Join(dir, DoneDir, "packed"+format.CompressedExt))
}

func TestWatcher_FailedBundleMovesToFailed(t *testing.T) {
	imp := &fakeImporter{fail: map[string]bool{"bad" + format.CompressedExt: true}}
	dir, results := startWatcher(t, imp, nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad"+format.CompressedExt), []byte("x"), 0644))
	r := waitResult(t, results)

	assert.True(t, errors.Is(r.Err, archive.ErrNotBundle), "err = %v", r.Err)
	assert.Equal(t, filepath.Join(dir, FailedDir, "bad"+format.CompressedExt), r.MovedTo)
}

func TestWatcher_PicksUpExistingBundles(t *testing.T) {
	imp := &fakeImporter{}
	_, results := startWatcher(t, imp, func(dir string) {
		makeBundleDir(t, dir, "already-here", true)
	})

	r := waitResult(t, results)
	require.NoError(t, r.Err)
	assert.Equal(t, 1, r.Import.ConversationsImported)
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	imp := &fakeImporter{}
	dir, _ := startWatcher(t, imp, nil)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hi"), 0644))
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 0, imp.count())
}

func TestWatcher_MoveAvoidsCollisions(t *testing.T) {
	dir := t.TempDir()
	w, err := New(dir, &fakeImporter{}, archive.DefaultImportOptions())
	require.NoError(t, err)

	name := "dup" + format.CompressedExt
	require.NoError(t, os.WriteFile(filepath.Join(dir, DoneDir, name), []byte("old"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("new"), 0644))

	dest, err := w.move(filepath.Join(dir, name), DoneDir)
	require.NoError(t, err)
	assert.NotEqual(t, filepath.Join(dir, DoneDir, name), dest)
	assert.FileExists(t, dest)
	assert.True(t, strings.HasSuffix(dest, format.CompressedExt), "dest = %s", dest)
}

func TestNew_RequiresImporter(t *testing.T) {
	_, err := New(t.TempDir(), nil, archive.DefaultImportOptions())
	assert.Error(t, err)
}
