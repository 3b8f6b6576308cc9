// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package inbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jeranaias/convarchive/internal/archive"
	"github.com/jeranaias/convarchive/internal/format"
)

// Subdirectories processed bundles are moved into.
const (
	DoneDir   = "done"
	FailedDir = "failed"
)

// =============================================================================
// WATCHER
// =============================================================================

// BundleImporter is the part of archive.Importer the watcher uses.
type BundleImporter interface {
	Import(ctx context.Context, source string, opts archive.ImportOptions, progress archive.ProgressFunc) (*archive.ImportResult, error)
}

// Result describes one processed bundle.
type Result struct {
	Source string
	// MovedTo is where the bundle ended up, or "" if it could not be moved.
	MovedTo string
	Import  *archive.ImportResult
	Err     error
}

// Watcher imports bundles as they appear in Dir.
type Watcher struct {
	dir      string
	importer BundleImporter
	opts     archive.ImportOptions

	debounce time.Duration
	logger   *slog.Logger
	onResult func(Result)

	mu      sync.Mutex
	pending map[string]time.Time // bundle path -> last change time
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long a bundle must be quiet before it is imported.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithResultHandler registers fn to be called after every processed bundle.
// fn runs on the watcher goroutine.
func WithResultHandler(fn func(Result)) Option {
	return func(w *Watcher) { w.onResult = fn }
}

// New creates a watcher for dir, creating dir and its done/ and failed/
// subdirectories if needed.
func New(dir string, importer BundleImporter, opts archive.ImportOptions, options ...Option) (*Watcher, error) {
	if importer == nil {
		return nil, errors.New("inbox: importer is nil")
	}
	for _, sub := range []string{"", DoneDir, FailedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0755); err != nil {
			return nil, fmt.Errorf("inbox: %w", err)
		}
	}
	w := &Watcher{
		dir:      dir,
		importer: importer,
		opts:     opts,
		debounce: 500 * time.Millisecond,
		logger:   slog.Default(),
		pending:  make(map[string]time.Time),
	}
	for _, o := range options {
		o(w)
	}
	w.logger = w.logger.With("component", "inbox", "dir", dir)
	return w, nil
}

// Run watches until ctx is canceled. Bundles already present when Run starts
// are queued too.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("inbox: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", w.dir, err)
	}
	if err := w.scan(fw); err != nil {
		return fmt.Errorf("inbox: scan %s: %w", w.dir, err)
	}
	w.logger.Info("watching for bundles", "debounce", w.debounce)

	tick := w.debounce / 2
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(fw, event)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case <-ticker.C:
			w.processReady(ctx, fw)
		}
	}
}

// scan queues every bundle already in the directory.
func (w *Watcher) scan(fw *fsnotify.Watcher) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		w.track(fw, filepath.Join(w.dir, e.Name()))
	}
	return nil
}

func (w *Watcher) handleEvent(fw *fsnotify.Watcher, event fsnotify.Event) {
	bundle := w.bundleFor(event.Name)
	if bundle == "" {
		return
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		if bundle == event.Name {
			w.mu.Lock()
			delete(w.pending, bundle)
			w.mu.Unlock()
			return
		}
	}
	w.track(fw, bundle)
}

// bundleFor maps an event path to the top-level bundle it belongs to, or ""
// for anything else.
func (w *Watcher) bundleFor(name string) string {
	rel, err := filepath.Rel(w.dir, name)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	top := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	if !isBundleName(top) {
		return ""
	}
	return filepath.Join(w.dir, top)
}

// track marks a bundle as changed now. Bundle directories are watched so
// their manifest appearing counts as a change.
func (w *Watcher) track(fw *fsnotify.Watcher, bundle string) {
	if !isBundleName(filepath.Base(bundle)) {
		return
	}
	if info, err := os.Stat(bundle); err == nil && info.IsDir() {
		if err := fw.Add(bundle); err != nil {
			w.logger.Debug("could not watch bundle directory", "bundle", bundle, "error", err)
		}
	}
	w.mu.Lock()
	w.pending[bundle] = time.Now()
	w.mu.Unlock()
}

// processReady imports every pending bundle that is complete and quiet.
func (w *Watcher) processReady(ctx context.Context, fw *fsnotify.Watcher) {
	now := time.Now()
	var ready []string

	w.mu.Lock()
	for path, changed := range w.pending {
		if now.Sub(changed) < w.debounce {
			continue
		}
		info, err := os.Stat(path)
		if err != nil {
			delete(w.pending, path)
			continue
		}
		if info.IsDir() {
			// Manifest is written last; without it the export is still running.
			if _, err := os.Stat(filepath.Join(path, format.ManifestFile)); err != nil {
				continue
			}
		}
		delete(w.pending, path)
		ready = append(ready, path)
	}
	w.mu.Unlock()

	for _, path := range ready {
		if ctx.Err() != nil {
			return
		}
		fw.Remove(path)
		w.process(ctx, path)
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	log := w.logger.With("bundle", path)
	log.Info("importing bundle")

	res, err := w.importer.Import(ctx, path, w.opts, nil)
	if err != nil && ctx.Err() != nil {
		// Leave the bundle in place to be picked up again on the next run.
		log.Info("import interrupted", "error", err)
		return
	}

	target := DoneDir
	if err != nil {
		target = FailedDir
		log.Error("import failed", "error", err)
	} else {
		log.Info("import complete",
			"conversations", res.ConversationsImported,
			"failed", len(res.Errors),
			"warnings", len(res.Warnings))
	}

	moved, mvErr := w.move(path, target)
	if mvErr != nil {
		log.Warn("could not move bundle", "error", mvErr)
	}
	if w.onResult != nil {
		w.onResult(Result{Source: path, MovedTo: moved, Import: res, Err: err})
	}
}

// move renames path into sub, adding a timestamp when the name is taken.
func (w *Watcher) move(path, sub string) (string, error) {
	name := filepath.Base(path)
	dest := filepath.Join(w.dir, sub, name)
	if _, err := os.Lstat(dest); err == nil {
		stem, ext := splitBundleName(name)
		dest = filepath.Join(w.dir, sub, stem+"_"+time.Now().Format("20060102_150405.000000000")+ext)
	}
	if err := os.Rename(path, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func isBundleName(name string) bool {
	return strings.HasSuffix(name, format.BundleExt) || strings.HasSuffix(name, format.CompressedExt)
}

func splitBundleName(name string) (stem, ext string) {
	for _, ext := range []string{format.CompressedExt, format.BundleExt} {
		if strings.HasSuffix(name, ext) {
			return strings.TrimSuffix(name, ext), ext
		}
	}
	return name, ""
}
