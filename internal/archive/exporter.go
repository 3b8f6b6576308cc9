// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/jeranaias/convarchive/internal/format"
	"github.com/jeranaias/convarchive/internal/model"
	"github.com/jeranaias/convarchive/internal/util"
)

// =============================================================================
// EXPORTER
// =============================================================================

// Exporter writes conversations into bundles.
type Exporter struct {
	svc Services
	settings
}

// ExportResult describes a finished export.
type ExportResult struct {
	// Path is the bundle directory, or the single file when compressed.
	Path     string
	Manifest *format.Manifest

	// Skipped lists conversations left out under the BestEffort policy.
	Skipped []ItemError

	// Warnings lists non-fatal problems, such as artifact lookups that failed
	// under BestEffort.
	Warnings []string
}

// NewExporter creates an exporter over the given services.
func NewExporter(svc Services, opts ...Option) *Exporter {
	return &Exporter{svc: svc, settings: newSettings(opts)}
}

// exportRun carries the state of one Export call.
type exportRun struct {
	*Exporter
	opts     ExportOptions
	policy   FailurePolicy
	root     string
	progress ProgressFunc
	log      *slog.Logger

	manifest *format.Manifest
	result   *ExportResult
	exported []string

	// pending attachments keyed by bundle path, in first-seen order
	blobs     map[string][]byte
	blobOrder []string
}

// Export writes the conversations identified by ids into a new bundle under
// destination and returns its location.
//
// The manifest is written only after every other file is durable, so any
// failure before that point leaves a directory that readers reject.
// Cancellation is checked between phases; a canceled export removes its
// incomplete directory.
func (e *Exporter) Export(ctx context.Context, ids []string, destination string, opts ExportOptions, progress ProgressFunc) (res *ExportResult, err error) {
	if err := e.svc.validate(); err != nil {
		return nil, err
	}
	ids = dedupeIDs(ids)
	if len(ids) == 0 {
		return nil, bundleErr("export", destination, ErrNothingToExport, nil)
	}

	now := e.now()
	name := util.SanitizeName(opts.Name, "archive_"+now.Format("20060102_150405"))
	root := filepath.Join(destination, name+format.BundleExt)
	packed := filepath.Join(destination, name+format.CompressedExt)

	run := &exportRun{
		Exporter: e,
		opts:     opts,
		policy:   opts.FailurePolicy.or(FailFast),
		root:     root,
		progress: progress,
		log:      e.logger.With("op", "export", "bundle", root),
		manifest: format.NewManifest(e.createdBy, e.appVersion, now),
		result:   &ExportResult{},
		blobs:    make(map[string][]byte),
	}
	run.manifest.Notes = opts.Notes

	progress.report(PhasePreparing, 0, len(ids), "creating bundle skeleton")
	if err := run.prepare(packed); err != nil {
		return nil, err
	}
	defer func() {
		if err == nil {
			return
		}
		if ctx.Err() != nil || opts.CleanupOnFailure {
			if rmErr := os.RemoveAll(root); rmErr != nil {
				run.log.Warn("could not remove incomplete bundle", "error", rmErr)
			}
		}
	}()

	steps := []struct {
		phase Phase
		run   func(context.Context, []string) error
		skip  bool
	}{
		{PhaseConversations, run.writeConversations, false},
		{PhaseArtifacts, run.writeArtifacts, false},
		{PhaseProvenance, run.writeProvenance, false},
		{PhaseAttachments, run.writeAttachments, !opts.IncludeAttachments},
	}
	for _, step := range steps {
		if err := checkCanceled(ctx, step.phase); err != nil {
			return nil, err
		}
		if step.skip {
			continue
		}
		run.log.Debug("phase started", "phase", step.phase)
		if err := step.run(ctx, ids); err != nil {
			return nil, err
		}
		// later phases only see conversations that made it into the bundle
		ids = run.exported
	}

	if err := checkCanceled(ctx, PhaseFinalizing); err != nil {
		return nil, err
	}
	progress.report(PhaseFinalizing, 0, 1, "writing manifest")
	if err := run.writeManifest(); err != nil {
		return nil, err
	}

	run.result.Path = root
	run.result.Manifest = run.manifest
	if opts.Compress {
		progress.report(PhaseFinalizing, 0, 1, "compressing bundle")
		if err := packBundle(ctx, root, packed); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, fmt.Errorf("export canceled while compressing: %w", ctxErr)
			}
			return nil, bundleErr("export", packed, ErrCompression, err)
		}
		if err := os.RemoveAll(root); err != nil {
			run.log.Warn("could not remove uncompressed bundle", "error", err)
		}
		run.result.Path = packed
	}
	progress.report(PhaseFinalizing, 1, 1, "done")
	run.log.Info("export complete",
		"conversations", len(run.manifest.Conversations),
		"skipped", len(run.result.Skipped),
		"path", run.result.Path)
	return run.result, nil
}

// prepare creates the bundle directory and the whole canonical skeleton.
func (r *exportRun) prepare(packed string) error {
	if err := os.MkdirAll(filepath.Dir(r.root), 0755); err != nil {
		return bundleErr("export", r.root, ErrDestination, err)
	}
	if r.opts.Compress {
		if _, err := os.Stat(packed); err == nil {
			return bundleErr("export", packed, ErrDestination, os.ErrExist)
		}
	}
	// Mkdir (not MkdirAll) so an existing bundle is never written into.
	if err := os.Mkdir(r.root, 0755); err != nil {
		return bundleErr("export", r.root, ErrDestination, err)
	}
	for _, dir := range format.Directories() {
		p, err := format.ResolvePath(r.root, dir)
		if err == nil {
			err = os.MkdirAll(p, 0755)
		}
		if err != nil {
			return bundleErr("export", r.root, ErrDestination, err)
		}
	}
	return nil
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func (r *exportRun) writeConversations(ctx context.Context, ids []string) error {
	r.exported = make([]string, 0, len(ids))
	for i, id := range ids {
		entry, err := r.writeConversation(ctx, id)
		if err != nil {
			item := ItemError{Phase: PhaseConversations, ID: id, Err: err}
			if r.policy == FailFast {
				return bundleErr("export", r.root, ErrConversationExport, item)
			}
			r.log.Warn("skipping conversation", "conversation", id, "error", err)
			r.result.Skipped = append(r.result.Skipped, item)
		} else {
			r.manifest.Conversations = append(r.manifest.Conversations, *entry)
			r.exported = append(r.exported, id)
		}
		r.progress.report(PhaseConversations, i+1, len(ids), id)
	}
	if len(r.exported) == 0 {
		return bundleErr("export", r.root, ErrNothingToExport, errors.New("every conversation failed"))
	}
	return nil
}

func (r *exportRun) writeConversation(ctx context.Context, id string) (*format.ConversationEntry, error) {
	conv, err := r.svc.Conversations.Conversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch: %w", err)
	}
	if conv == nil {
		return nil, errors.New("fetch: store returned no conversation")
	}
	if conv.ID != id {
		return nil, fmt.Errorf("fetch: store returned conversation %q", conv.ID)
	}

	byMessage, pending, err := r.collectAttachments(ctx, conv)
	if err != nil {
		return nil, err
	}

	rel := format.ConversationPath(id)
	w, err := createLineFile(r.root, rel)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", rel, err)
	}

	writeErr := func() error {
		if err := w.WriteLine(&format.ConversationLine{
			ID:             conv.ID,
			Title:          conv.Title,
			Participants:   nonNil(conv.Participants),
			CreatedAt:      conv.CreatedAt,
			LastActivityAt: conv.LastActivityAt,
			ParentID:       conv.ParentID,
			ChildIDs:       conv.ChildIDs,
		}); err != nil {
			return err
		}
		for _, msg := range conv.Messages {
			if err := w.WriteLine(messageLine(msg, byMessage[msg.ID])); err != nil {
				return fmt.Errorf("message %s: %w", msg.ID, err)
			}
		}
		for _, m := range conv.Mentions {
			if err := w.WriteLine(&format.MentionLine{
				MessageID:   m.MessageID,
				URI:         m.URI,
				DisplayName: m.DisplayName,
				MentionedAt: m.MentionedAt,
			}); err != nil {
				return fmt.Errorf("mention %s: %w", m.URI, err)
			}
		}
		return nil
	}()
	if writeErr != nil {
		w.Abort()
		return nil, fmt.Errorf("write %s: %w", rel, writeErr)
	}
	if err := w.Close(); err != nil {
		os.Remove(w.path)
		return nil, fmt.Errorf("close %s: %w", rel, err)
	}
	r.queueBlobs(pending)

	return &format.ConversationEntry{
		ID:             conv.ID,
		Title:          conv.Title,
		Participants:   nonNil(conv.Participants),
		CreatedAt:      conv.CreatedAt,
		LastActivityAt: conv.LastActivityAt,
		MessageCount:   len(conv.Messages),
		Path:           rel,
		ParentID:       conv.ParentID,
		ChildIDs:       conv.ChildIDs,
	}, nil
}

// pendingBlob is an attachment payload waiting for its conversation file to
// be committed.
type pendingBlob struct {
	path string
	data []byte
}

// collectAttachments fetches payloads when attachments are included and
// returns their lines grouped by message along with the payloads to queue.
// Without attachments, refs that already carry a content hash are kept so
// message lines still name their blobs.
func (r *exportRun) collectAttachments(ctx context.Context, conv *model.Conversation) (map[string][]format.AttachmentLine, []pendingBlob, error) {
	byMessage := make(map[string][]format.AttachmentLine)
	if !r.opts.IncludeAttachments {
		for _, msg := range conv.Messages {
			for _, ref := range msg.Attachments {
				if ref.ContentHash == "" {
					continue
				}
				byMessage[msg.ID] = append(byMessage[msg.ID], format.AttachmentLine{
					ID:       ref.ID,
					Filename: ref.Filename,
					MimeType: ref.MimeType,
					Size:     ref.Size,
					Path:     format.AttachmentPathForHash(ref.ContentHash, ref.Ext),
				})
			}
		}
		return byMessage, nil, nil
	}

	atts, err := r.svc.Conversations.Attachments(ctx, conv.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch attachments: %w", err)
	}
	pending := make([]pendingBlob, 0, len(atts))
	for _, a := range atts {
		p := format.AttachmentPath(a.Data, a.Ext())
		pending = append(pending, pendingBlob{path: p, data: a.Data})
		byMessage[a.MessageID] = append(byMessage[a.MessageID], format.AttachmentLine{
			ID:       a.ID,
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     int64(len(a.Data)),
			Path:     p,
		})
	}
	return byMessage, pending, nil
}

// queueBlobs adds payloads to the attachments phase, once per path.
func (r *exportRun) queueBlobs(pending []pendingBlob) {
	for _, b := range pending {
		if _, seen := r.blobs[b.path]; seen {
			continue
		}
		r.blobs[b.path] = b.data
		r.blobOrder = append(r.blobOrder, b.path)
	}
}

func messageLine(msg *model.Message, atts []format.AttachmentLine) *format.MessageLine {
	return &format.MessageLine{
		ID:          msg.ID,
		Role:        string(msg.Role),
		Author:      msg.Author,
		Content:     msg.Content,
		Timestamp:   msg.Timestamp,
		Attachments: atts,
		Metadata:    msg.Metadata,
	}
}

// =============================================================================
// ARTIFACTS
// =============================================================================

func (r *exportRun) writeArtifacts(ctx context.Context, ids []string) error {
	seen := make(map[string]bool)
	var refs []model.ArtifactReference
	for i, id := range ids {
		found, err := r.svc.Artifacts.ArtifactsFor(ctx, id)
		if err != nil {
			if r.policy == FailFast {
				return bundleErr("export", r.root, ErrConversationExport,
					ItemError{Phase: PhaseArtifacts, ID: id, Err: err})
			}
			r.warn("artifacts for %s: %v", id, err)
			found = nil
		}
		for _, ref := range found {
			if ref.URI == "" || seen[ref.URI] {
				continue
			}
			seen[ref.URI] = true
			refs = append(refs, ref)
		}
		r.progress.report(PhaseArtifacts, i+1, len(ids), id)
	}

	w, err := createLineFile(r.root, format.ReferencesFile)
	if err != nil {
		return bundleErr("export", r.root, ErrDestination, err)
	}
	for _, ref := range refs {
		line := format.ReferenceLine{
			URI:          ref.URI,
			Type:         ref.Type,
			DisplayName:  ref.DisplayName,
			Version:      ref.Version,
			IntroducedBy: ref.IntroducedBy,
			CreatedAt:    ref.CreatedAt,
		}
		if r.opts.IncludeSnapshots {
			r.tallySnapshot(ref.Type)
			if line.SnapshotPath, err = r.writeSnapshot(ctx, ref); err != nil {
				w.Abort()
				return bundleErr("export", r.root, ErrDestination, fmt.Errorf("snapshot %s: %w", ref.URI, err))
			}
		}
		if err := w.WriteRecord(line); err != nil {
			w.Abort()
			return bundleErr("export", r.root, ErrDestination, err)
		}
	}
	if err := w.Close(); err != nil {
		return bundleErr("export", r.root, ErrDestination, err)
	}
	r.manifest.Artifacts.Count = len(refs)
	return nil
}

func (r *exportRun) tallySnapshot(artifactType string) {
	switch p := format.SnapshotPath(artifactType, ""); path.Dir(p) {
	case format.PaperSnapshotsDir:
		r.manifest.Artifacts.Snapshots.PaperCount++
	case format.RepoSnapshotsDir:
		r.manifest.Artifacts.Snapshots.RepoCount++
	}
}

// writeSnapshot copies cached content when the artifact service has any.
// Returns the bundle path, or "" when nothing was written.
func (r *exportRun) writeSnapshot(ctx context.Context, ref model.ArtifactReference) (string, error) {
	src, ok := r.svc.Artifacts.(SnapshotSource)
	if !ok {
		return "", nil
	}
	rel := format.SnapshotPath(ref.Type, ref.URI)
	if rel == "" {
		return "", nil
	}
	snap, err := src.Snapshot(ctx, ref)
	if err != nil || snap == nil {
		return "", err
	}
	p, err := format.ResolvePath(r.root, rel)
	if err != nil {
		return "", err
	}
	if err := util.AtomicWriteFile(p, snap.Data, 0644); err != nil {
		return "", err
	}
	return rel, nil
}

// =============================================================================
// PROVENANCE
// =============================================================================

func (r *exportRun) writeProvenance(ctx context.Context, ids []string) error {
	var events []model.ProvenanceEvent
	if r.opts.IncludeProvenance {
		for i, id := range ids {
			found, err := r.svc.Provenance.EventsForConversation(ctx, id)
			if err != nil {
				if r.policy == FailFast {
					return bundleErr("export", r.root, ErrConversationExport,
						ItemError{Phase: PhaseProvenance, ID: id, Err: err})
				}
				r.warn("provenance for %s: %v", id, err)
				found = nil
			}
			events = append(events, found...)
			r.progress.report(PhaseProvenance, i+1, len(ids), id)
		}
	}

	// File order follows each event's own sequence number, not conversation order.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Sequence < events[j].Sequence
	})

	w, err := createLineFile(r.root, format.EventsFile)
	if err != nil {
		return bundleErr("export", r.root, ErrDestination, err)
	}
	var first, last time.Time
	for _, ev := range events {
		if err := w.WriteRecord(format.EventLine{
			ID:             ev.ID,
			ConversationID: ev.ConversationID,
			Sequence:       ev.Sequence,
			Kind:           ev.Kind,
			Actor:          ev.Actor,
			Timestamp:      ev.Timestamp,
			Payload:        ev.Payload,
		}); err != nil {
			w.Abort()
			return bundleErr("export", r.root, ErrDestination, err)
		}
		if first.IsZero() || ev.Timestamp.Before(first) {
			first = ev.Timestamp
		}
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
	}
	if err := w.Close(); err != nil {
		return bundleErr("export", r.root, ErrDestination, err)
	}

	r.manifest.Provenance.EventCount = len(events)
	if len(events) > 0 {
		r.manifest.Provenance.FirstEventAt = &first
		r.manifest.Provenance.LastEventAt = &last
	}
	return nil
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func (r *exportRun) writeAttachments(ctx context.Context, _ []string) error {
	entry := &r.manifest.Attachments
	for i, rel := range r.blobOrder {
		data := r.blobs[rel]
		p, err := format.ResolvePath(r.root, rel)
		if err != nil {
			return bundleErr("export", r.root, ErrDestination, err)
		}
		// Content addressing makes an existing file a finished copy.
		if _, err := os.Stat(p); err != nil {
			if err := util.AtomicWriteFile(p, data, 0644); err != nil {
				return bundleErr("export", r.root, ErrDestination, err)
			}
		}
		entry.Count++
		entry.TotalSize += int64(len(data))
		r.progress.report(PhaseAttachments, i+1, len(r.blobOrder), path.Base(rel))
	}
	return nil
}

// =============================================================================
// MANIFEST
// =============================================================================

func (r *exportRun) writeManifest() error {
	data, err := r.manifest.Marshal()
	if err != nil {
		return bundleErr("export", r.root, ErrDestination, err)
	}
	// RELIABILITY: temp + fsync + rename so readers see all of the manifest or none
	if err := util.AtomicWriteFile(filepath.Join(r.root, format.ManifestFile), data, 0644); err != nil {
		return bundleErr("export", r.root, ErrDestination, err)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *exportRun) warn(msg string, args ...any) {
	w := fmt.Sprintf(msg, args...)
	r.log.Warn(w)
	r.result.Warnings = append(r.result.Warnings, w)
}

func checkCanceled(ctx context.Context, next Phase) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("canceled before %s: %w", next, err)
	}
	return nil
}

func dedupeIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
