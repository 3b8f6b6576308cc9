// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/jeranaias/convarchive/internal/format"
	"github.com/jeranaias/convarchive/internal/model"
	"github.com/jeranaias/convarchive/internal/util"
)

// =============================================================================
// IMPORTER
// =============================================================================

// Importer reads bundles back into the services.
type Importer struct {
	svc Services
	settings
}

// ImportResult reports what an import did. Warnings and Errors are meant to be
// shown to the user as they are.
type ImportResult struct {
	ConversationsImported    int
	MessagesImported         int
	ArtifactsImported        int
	ProvenanceEventsImported int
	AttachmentsImported      int

	Warnings []string
	Errors   []ItemError

	// ImportedConversationIDs lists the manifest ids that were imported, in
	// manifest order.
	ImportedConversationIDs []string

	// IDMap maps manifest ids to the ids they were stored under. Ids imported
	// unchanged map to themselves.
	IDMap map[string]string
}

// NewImporter creates an importer over the given services.
func NewImporter(svc Services, opts ...Option) *Importer {
	return &Importer{svc: svc, settings: newSettings(opts)}
}

type importRun struct {
	*Importer
	opts     ImportOptions
	policy   FailurePolicy
	root     string
	source   string
	manifest *format.Manifest
	progress ProgressFunc
	log      *slog.Logger
	result   *ImportResult
}

// Import reads the bundle at source, which may be a directory or a
// compressed single file, and writes its contents through the services.
//
// A missing or unreadable manifest fails the call before any service is used.
// Afterwards a failing conversation is recorded in the result and skipped,
// unless the FailFast policy is set.
func (im *Importer) Import(ctx context.Context, source string, opts ImportOptions, progress ProgressFunc) (*ImportResult, error) {
	if err := im.svc.validate(); err != nil {
		return nil, err
	}
	log := im.logger.With("op", "import", "bundle", source)

	progress.report(PhaseValidating, 0, 1, "reading manifest")
	root, cleanup, err := openBundle(ctx, "import", source)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	manifest, warning, err := loadManifest("import", source, root, opts.VersionPolicy)
	if err != nil {
		return nil, err
	}
	progress.report(PhaseValidating, 1, 1, manifest.FormatVersion.String())

	run := &importRun{
		Importer: im,
		opts:     opts,
		policy:   opts.FailurePolicy.or(BestEffort),
		root:     root,
		source:   source,
		manifest: manifest,
		progress: progress,
		log:      log,
		result:   &ImportResult{IDMap: make(map[string]string)},
	}
	if warning != "" {
		run.warn("%s", warning)
	}

	steps := []struct {
		phase Phase
		run   func(context.Context) error
		skip  bool
	}{
		{PhaseConversations, run.importConversations, false},
		{PhaseArtifacts, run.importArtifacts, false},
		{PhaseProvenance, run.importProvenance, !opts.ImportProvenance},
		{PhaseAttachments, run.importAttachments, !opts.ImportAttachments},
	}
	for _, step := range steps {
		if err := checkCanceled(ctx, step.phase); err != nil {
			return nil, err
		}
		if step.skip {
			continue
		}
		log.Debug("phase started", "phase", step.phase)
		if err := step.run(ctx); err != nil {
			return nil, err
		}
	}

	progress.report(PhaseFinalizing, 1, 1, "done")
	r := run.result
	log.Info("import complete",
		"conversations", r.ConversationsImported,
		"messages", r.MessagesImported,
		"failed", len(r.Errors),
		"warnings", len(r.Warnings))
	return r, nil
}

// =============================================================================
// PREVIEW
// =============================================================================

// Preview returns the bundle's manifest without calling any service.
func (im *Importer) Preview(ctx context.Context, source string) (*format.Manifest, error) {
	return Preview(ctx, source)
}

// Preview returns the manifest of the bundle at source. A compressed bundle is
// streamed up to its manifest entry and nothing is extracted to disk.
func Preview(ctx context.Context, source string) (*format.Manifest, error) {
	info, err := os.Stat(source)
	if err != nil {
		return nil, bundleErr("preview", source, ErrNotBundle, err)
	}

	var data []byte
	if info.IsDir() {
		data, err = os.ReadFile(filepath.Join(source, format.ManifestFile))
	} else {
		data, err = readPackedManifest(ctx, source)
	}
	if err != nil {
		return nil, classifyReadError("preview", source, ctx, err)
	}
	m, err := format.UnmarshalManifest(data)
	if err != nil {
		return nil, bundleErr("preview", source, ErrUnreadableManifest, err)
	}
	return m, nil
}

// =============================================================================
// BUNDLE ACCESS
// =============================================================================

// openBundle returns the directory to read from. A compressed source is
// extracted into a private temporary directory that cleanup removes.
func openBundle(ctx context.Context, op, source string) (string, func(), error) {
	noop := func() {}
	info, err := os.Stat(source)
	if err != nil {
		return "", noop, bundleErr(op, source, ErrNotBundle, err)
	}
	if info.IsDir() {
		return source, noop, nil
	}

	tmp, err := os.MkdirTemp("", "convarchive-import-")
	if err != nil {
		return "", noop, bundleErr(op, source, ErrCompression, err)
	}
	cleanup := func() { os.RemoveAll(tmp) }
	root, err := unpackBundle(ctx, source, tmp)
	if err != nil {
		cleanup()
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", noop, fmt.Errorf("%s canceled while extracting: %w", op, ctxErr)
		}
		return "", noop, bundleErr(op, source, ErrCompression, err)
	}
	return root, cleanup, nil
}

// loadManifest reads and checks the manifest under root. The returned warning
// is non-empty when the bundle is newer than this build and policy allows it.
func loadManifest(op, source, root string, policy VersionPolicy) (*format.Manifest, string, error) {
	data, err := os.ReadFile(filepath.Join(root, format.ManifestFile))
	if err != nil {
		return nil, "", bundleErr(op, source, ErrNotBundle, err)
	}
	m, err := format.UnmarshalManifest(data)
	if err != nil {
		return nil, "", bundleErr(op, source, ErrUnreadableManifest, err)
	}

	v := m.FormatVersion
	switch {
	case v.Less(format.MinimumReadable):
		return nil, "", bundleErr(op, source, ErrUnsupportedVersion,
			fmt.Errorf("format %s is older than %s", v, format.MinimumReadable))
	case format.Current.Less(v):
		if policy == RejectNewer {
			return nil, "", bundleErr(op, source, ErrUnsupportedVersion,
				fmt.Errorf("format %s is newer than %s", v, format.Current))
		}
		return m, fmt.Sprintf("bundle format %s is newer than supported %s; importing what can be read", v, format.Current), nil
	}
	return m, "", nil
}


func classifyReadError(op, source string, ctx context.Context, err error) error {
	var pe *packError
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%s canceled: %w", op, ctx.Err())
	case errors.As(err, &pe):
		return bundleErr(op, source, ErrCompression, err)
	case errors.Is(err, fs.ErrNotExist):
		return bundleErr(op, source, ErrNotBundle, err)
	default:
		return bundleErr(op, source, ErrUnreadableManifest, err)
	}
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

func (r *importRun) importConversations(ctx context.Context) error {
	entries := r.manifest.Conversations

	// Ids are assigned up front so parent and child links can be remapped to
	// conversations that come later in the manifest.
	failed := make(map[string]bool)
	for _, entry := range entries {
		id, err := r.targetID(ctx, entry.ID)
		if err != nil {
			if err := r.conversationFailed(entry.ID, err); err != nil {
				return err
			}
			failed[entry.ID] = true
			continue
		}
		r.result.IDMap[entry.ID] = id
	}

	for i, entry := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("import canceled: %w", err)
		}
		if !failed[entry.ID] {
			n, err := r.importConversation(ctx, entry)
			if err != nil {
				delete(r.result.IDMap, entry.ID)
				if err := r.conversationFailed(entry.ID, err); err != nil {
					return err
				}
			} else {
				r.result.ConversationsImported++
				r.result.MessagesImported += n
				r.result.ImportedConversationIDs = append(r.result.ImportedConversationIDs, entry.ID)
			}
		}
		r.progress.report(PhaseConversations, i+1, len(entries), entry.Title)
	}
	return nil
}

// conversationFailed records a per-conversation failure. Under FailFast it
// returns the error that ends the import.
func (r *importRun) conversationFailed(id string, err error) error {
	item := ItemError{Phase: PhaseConversations, ID: id, Err: err}
	if r.policy == FailFast {
		return bundleErr("import", r.source, ErrConversationImport, item)
	}
	r.log.Warn("conversation not imported", "conversation", id, "error", err)
	r.result.Errors = append(r.result.Errors, item)
	return nil
}

// targetID picks the store id for a manifest id. Existing ids are kept when
// merging, and replaced by a fresh id otherwise.
func (r *importRun) targetID(ctx context.Context, id string) (string, error) {
	if r.opts.MergeExisting {
		return id, nil
	}
	exists, err := r.svc.Conversations.Exists(ctx, id)
	if err != nil {
		return "", fmt.Errorf("lookup: %w", err)
	}
	if !exists {
		return id, nil
	}
	return "conv_" + uuid.NewString(), nil
}

// decodedConversation is a conversation file read fully into memory.
type decodedConversation struct {
	header   *format.ConversationLine
	messages []*format.MessageLine
	mentions []*format.MentionLine
}

// importConversation returns the number of messages written.
func (r *importRun) importConversation(ctx context.Context, entry format.ConversationEntry) (int, error) {
	p, err := format.ResolvePath(r.root, entry.Path)
	if err != nil {
		return 0, fmt.Errorf("path %q: %w", entry.Path, err)
	}
	dec, err := decodeConversationFile(p)
	if err != nil {
		return 0, err
	}
	if dec.header.ID != entry.ID {
		return 0, fmt.Errorf("file header is for %q", dec.header.ID)
	}
	if len(dec.messages) != entry.MessageCount {
		return 0, fmt.Errorf("%w: file has %d, manifest lists %d",
			ErrMessageCountMismatch, len(dec.messages), entry.MessageCount)
	}

	targetID := r.result.IDMap[entry.ID]
	conv, existing, err := r.buildConversation(ctx, targetID, dec)
	if err != nil {
		return 0, err
	}
	if err := r.svc.Conversations.SaveConversation(ctx, conv); err != nil {
		return 0, fmt.Errorf("save: %w", err)
	}

	written := 0
	for _, ml := range dec.messages {
		if existing[ml.ID] {
			continue
		}
		if err := r.svc.Conversations.AppendMessage(ctx, targetID, toMessage(ml)); err != nil {
			r.discardPartial(ctx, targetID, existing != nil, written)
			return 0, fmt.Errorf("message %s: %w", ml.ID, err)
		}
		written++
	}
	return written, nil
}

// discardPartial undoes a conversation whose messages could not all be
// written. A conversation that was stored before this import is never
// deleted; neither is one held by a store without Delete. Both leave a warning.
func (r *importRun) discardPartial(ctx context.Context, id string, merged bool, written int) {
	if merged {
		r.warn("conversation %s keeps %d merged message(s) from the failed import", id, written)
		return
	}
	d, ok := r.svc.Conversations.(ConversationDeleter)
	if !ok {
		r.warn("conversation %s left in store with %d message(s) from the failed import", id, written)
		return
	}
	// rollback still runs when the import itself was canceled
	if err := d.Delete(context.WithoutCancel(ctx), id); err != nil {
		r.warn("conversation %s left in store with %d message(s): rollback failed: %v", id, written, err)
		return
	}
	r.log.Debug("rolled back partial conversation", "conversation", id, "messages", written)
}

// buildConversation turns the decoded header into the conversation to save.
// When merging into an existing conversation it also returns the message ids
// already stored there; the map is nil when the conversation is new.
func (r *importRun) buildConversation(ctx context.Context, id string, dec *decodedConversation) (*model.Conversation, map[string]bool, error) {
	h := dec.header
	conv := &model.Conversation{
		ID:             id,
		Title:          util.NormalizeText(r.opts.TitlePrefix + h.Title),
		Participants:   h.Participants,
		CreatedAt:      h.CreatedAt,
		LastActivityAt: h.LastActivityAt,
		ParentID:       r.remap(h.ParentID),
	}
	for _, child := range h.ChildIDs {
		conv.ChildIDs = append(conv.ChildIDs, r.remap(child))
	}
	for _, m := range dec.mentions {
		conv.Mentions = append(conv.Mentions, model.ArtifactMention{
			MessageID:   m.MessageID,
			URI:         m.URI,
			DisplayName: m.DisplayName,
			MentionedAt: m.MentionedAt,
		})
	}

	if !r.opts.MergeExisting {
		return conv, nil, nil
	}
	ok, err := r.svc.Conversations.Exists(ctx, id)
	if err != nil || !ok {
		return conv, nil, err
	}
	cur, err := r.svc.Conversations.Conversation(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch existing: %w", err)
	}
	if cur == nil {
		return conv, nil, nil
	}
	existing := cur.MessageIDs()
	for _, p := range cur.Participants {
		if !conv.HasParticipant(p) {
			conv.Participants = append(conv.Participants, p)
		}
	}
	if cur.Title != "" {
		conv.Title = cur.Title
	}
	if cur.CreatedAt.Before(conv.CreatedAt) {
		conv.CreatedAt = cur.CreatedAt
	}
	if cur.LastActivityAt.After(conv.LastActivityAt) {
		conv.LastActivityAt = cur.LastActivityAt
	}
	conv.Mentions = mergeMentions(cur.Mentions, conv.Mentions)
	return conv, existing, nil
}

func (r *importRun) remap(id string) string {
	if mapped, ok := r.result.IDMap[id]; ok {
		return mapped
	}
	return id
}

func decodeConversationFile(p string) (*decodedConversation, error) {
	dec := &decodedConversation{}
	err := readLines(p, func(lineNo int, data []byte) error {
		l, err := format.DecodeLine(data)
		if err != nil {
			var le *format.LineError
			if errors.As(err, &le) {
				le.Line = lineNo
			}
			return err
		}
		switch v := l.(type) {
		case *format.ConversationLine:
			if dec.header != nil {
				return &format.LineError{Line: lineNo, Kind: format.ErrMalformedLine,
					Err: errors.New("second conversation header")}
			}
			dec.header = v
		default:
			if dec.header == nil {
				return &format.LineError{Line: lineNo, Kind: format.ErrMissingField,
					Err: errors.New("first line is not the conversation header")}
			}
			switch v := l.(type) {
			case *format.MessageLine:
				dec.messages = append(dec.messages, v)
			case *format.MentionLine:
				dec.mentions = append(dec.mentions, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if dec.header == nil {
		return nil, &format.LineError{Kind: format.ErrMissingField, Err: errors.New("empty conversation file")}
	}
	return dec, nil
}

func toMessage(ml *format.MessageLine) *model.Message {
	msg := &model.Message{
		ID:        ml.ID,
		Role:      model.Role(ml.Role),
		Author:    ml.Author,
		Timestamp: ml.Timestamp,
		Content:   util.NormalizeText(ml.Content),
		Metadata:  ml.Metadata,
	}
	for _, a := range ml.Attachments {
		ref := model.AttachmentRef{
			ID:       a.ID,
			Filename: a.Filename,
			MimeType: a.MimeType,
			Size:     a.Size,
		}
		if hash, ext, ok := format.ParseAttachmentName(path.Base(a.Path)); ok {
			ref.ContentHash, ref.Ext = hash, ext
		}
		msg.Attachments = append(msg.Attachments, ref)
	}
	return msg
}

func mergeMentions(a, b []model.ArtifactMention) []model.ArtifactMention {
	type key struct{ msg, uri string }
	seen := make(map[key]bool, len(a))
	out := append([]model.ArtifactMention(nil), a...)
	for _, m := range a {
		seen[key{m.MessageID, m.URI}] = true
	}
	for _, m := range b {
		k := key{m.MessageID, m.URI}
		if !seen[k] {
			seen[k] = true
			out = append(out, m)
		}
	}
	return out
}

// =============================================================================
// ARTIFACTS
// =============================================================================

func (r *importRun) importArtifacts(ctx context.Context) error {
	p, err := format.ResolvePath(r.root, r.manifest.Artifacts.ReferencesPath)
	if err != nil {
		r.warn("artifact references path %q: %v", r.manifest.Artifacts.ReferencesPath, err)
		return nil
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	sink, _ := r.svc.Artifacts.(SnapshotSink)
	total := r.manifest.Artifacts.Count
	done := 0
	err = readLines(p, func(lineNo int, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		done++
		r.progress.report(PhaseArtifacts, done, total, r.importReference(ctx, sink, lineNo, data))
		return nil
	})
	return r.fileError(ctx, format.ReferencesFile, err)
}

// importReference restores one references.jsonl line and returns a label
// for progress reporting.
func (r *importRun) importReference(ctx context.Context, sink SnapshotSink, lineNo int, data []byte) string {
	line, err := format.DecodeReference(data)
	if err != nil {
		r.warn("%s line %d skipped: %v", format.ReferencesFile, lineNo, err)
		return fmt.Sprintf("line %d", lineNo)
	}
	ref := model.ArtifactReference{
		URI:          line.URI,
		Type:         line.Type,
		DisplayName:  line.DisplayName,
		Version:      line.Version,
		IntroducedBy: r.remap(line.IntroducedBy),
		CreatedAt:    line.CreatedAt,
	}
	if _, err := r.svc.Artifacts.GetOrCreateArtifact(ctx, ref); err != nil {
		r.warn("artifact %s: %v", line.URI, err)
		return line.URI
	}
	r.result.ArtifactsImported++
	if sink != nil && line.SnapshotPath != "" {
		r.importSnapshot(ctx, sink, ref, line.SnapshotPath)
	}
	return line.URI
}

func (r *importRun) importSnapshot(ctx context.Context, sink SnapshotSink, ref model.ArtifactReference, rel string) {
	p, err := format.ResolvePath(r.root, rel)
	if err != nil {
		r.warn("snapshot %q: %v", rel, err)
		return
	}
	data, err := os.ReadFile(p)
	if err != nil {
		r.warn("snapshot for %s: %v", ref.URI, err)
		return
	}
	if err := sink.StoreSnapshot(ctx, model.Snapshot{URI: ref.URI, Type: ref.Type, Data: data}); err != nil {
		r.warn("store snapshot for %s: %v", ref.URI, err)
	}
}

// =============================================================================
// PROVENANCE
// =============================================================================

func (r *importRun) importProvenance(ctx context.Context) error {
	p, err := format.ResolvePath(r.root, r.manifest.Provenance.EventsPath)
	if err != nil {
		r.warn("provenance path %q: %v", r.manifest.Provenance.EventsPath, err)
		return nil
	}
	if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
		return nil
	}

	total := r.manifest.Provenance.EventCount
	done := 0
	err = readLines(p, func(lineNo int, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		done++
		r.progress.report(PhaseProvenance, done, total, r.importEvent(ctx, lineNo, data))
		return nil
	})
	return r.fileError(ctx, format.EventsFile, err)
}

// importEvent records one events.jsonl line and returns a label for
// progress reporting.
func (r *importRun) importEvent(ctx context.Context, lineNo int, data []byte) string {
	line, err := format.DecodeEvent(data)
	if err != nil {
		r.warn("%s line %d skipped: %v", format.EventsFile, lineNo, err)
		return fmt.Sprintf("line %d", lineNo)
	}
	convID, ok := r.result.IDMap[line.ConversationID]
	if !ok {
		r.warn("event %d skipped: conversation %s was not imported", line.Sequence, line.ConversationID)
		return line.Kind
	}
	ev := model.ProvenanceEvent{
		ID:             line.ID,
		ConversationID: convID,
		Sequence:       line.Sequence,
		Kind:           line.Kind,
		Actor:          line.Actor,
		Timestamp:      line.Timestamp,
		Payload:        line.Payload,
	}
	if err := r.svc.Provenance.Record(ctx, ev); err != nil {
		r.warn("event %d: %v", line.Sequence, err)
		return line.Kind
	}
	r.result.ProvenanceEventsImported++
	return line.Kind
}

// =============================================================================
// ATTACHMENTS
// =============================================================================

func (r *importRun) importAttachments(ctx context.Context) error {
	dir, err := format.ResolvePath(r.root, format.AttachmentsDir)
	if err != nil {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		r.warn("read %s: %v", format.AttachmentsDir, err)
		return nil
	}

	for i, e := range entries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("import canceled: %w", err)
		}
		if e.Type().IsRegular() {
			r.importAttachment(ctx, dir, e.Name())
		}
		r.progress.report(PhaseAttachments, i+1, len(entries), e.Name())
	}
	return nil
}

func (r *importRun) importAttachment(ctx context.Context, dir, name string) {
	hash, ext, ok := format.ParseAttachmentName(name)
	if !ok {
		r.warn("attachment %s skipped: name is not a content hash", name)
		return
	}
	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		r.warn("attachment %s: %v", name, err)
		return
	}
	if got := format.ContentHash(data); got != hash {
		r.warn("attachment %s skipped: content hash is %s", name, got)
		return
	}
	if err := r.svc.Conversations.StoreBlob(ctx, model.Blob{ContentHash: hash, Ext: ext, Data: data}); err != nil {
		r.warn("attachment %s: %v", name, err)
		return
	}
	r.result.AttachmentsImported++
}

// =============================================================================
// HELPERS
// =============================================================================

func (r *importRun) warn(msg string, args ...any) {
	w := fmt.Sprintf(msg, args...)
	r.log.Warn(w)
	r.result.Warnings = append(r.result.Warnings, w)
}

// fileError turns a failure to read a whole side file into a warning.
// Cancellation is returned as is.
func (r *importRun) fileError(ctx context.Context, name string, err error) error {
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("import canceled: %w", ctxErr)
	}
	r.warn("read %s: %v", name, err)
	return nil
}
