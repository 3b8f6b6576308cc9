// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/jeranaias/convarchive/internal/format"
	"github.com/jeranaias/convarchive/internal/model"
	"github.com/jeranaias/convarchive/internal/util"
)

// =============================================================================
// FILE STORE
// =============================================================================

// FileStore keeps each conversation in its own JSON file under BaseDir.
// It is safe for concurrent use within one process.
type FileStore struct {
	// BaseDir is the root of the store. Default: ~/.convarchive/store/
	BaseDir string

	mu sync.RWMutex
}

// NewFileStore creates a store rooted at baseDir.
func NewFileStore(baseDir string) (*FileStore, error) {
	for _, dir := range []string{"conversations", "blobs", "snapshots"} {
		if err := os.MkdirAll(filepath.Join(baseDir, dir), 0755); err != nil {
			return nil, err
		}
	}
	return &FileStore{BaseDir: baseDir}, nil
}

// Close implements io.Closer. FileStore holds no open handles.
func (s *FileStore) Close() error { return nil }

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Conversation loads a conversation by ID.
func (s *FileStore) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(id)
}

// Exists reports whether a conversation file exists for id.
func (s *FileStore) Exists(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, err := os.Stat(s.conversationPath(id))
	switch {
	case err == nil:
		return true, nil
	case os.IsNotExist(err):
		return false, nil
	default:
		return false, err
	}
}

// SaveConversation writes the header and mentions of conv, keeping any
// messages already stored under its ID.
func (s *FileStore) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if conv.ID == "" {
		return errors.New("conversation has no id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := &model.Conversation{}
	if cur, err := s.load(conv.ID); err == nil {
		stored.Messages = cur.Messages
	} else if !errors.Is(err, ErrConversationNotFound) {
		return err
	}
	stored.ID = conv.ID
	stored.Title = conv.Title
	stored.Participants = conv.Participants
	stored.CreatedAt = conv.CreatedAt
	stored.LastActivityAt = conv.LastActivityAt
	stored.ParentID = conv.ParentID
	stored.ChildIDs = conv.ChildIDs
	stored.Mentions = conv.Mentions
	if stored.Messages == nil {
		stored.Messages = make([]*model.Message, 0)
	}
	return s.write(stored)
}

// AppendMessage appends msg to a stored conversation.
func (s *FileStore) AppendMessage(ctx context.Context, conversationID string, msg *model.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, err := s.load(conversationID)
	if err != nil {
		return err
	}
	if msg.ID == "" {
		msg.ID = "msg_" + uuid.NewString()
	}
	conv.Messages = append(conv.Messages, msg)
	if msg.Timestamp.After(conv.LastActivityAt) {
		conv.LastActivityAt = msg.Timestamp
	}
	return s.write(conv)
}

// Attachments returns the blobs referenced by the messages of a conversation.
// Refs whose blob is missing are skipped.
func (s *FileStore) Attachments(ctx context.Context, conversationID string) ([]model.Attachment, error) {
	conv, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	var out []model.Attachment
	for _, msg := range conv.Messages {
		for _, ref := range msg.Attachments {
			if ref.ContentHash == "" {
				continue
			}
			data, err := os.ReadFile(s.blobPath(ref.ContentHash, ref.Ext))
			if os.IsNotExist(err) {
				continue
			}
			if err != nil {
				return nil, err
			}
			out = append(out, model.Attachment{
				ID:        ref.ID,
				MessageID: msg.ID,
				Filename:  ref.Filename,
				MimeType:  ref.MimeType,
				Data:      data,
			})
		}
	}
	return out, nil
}

// StoreBlob writes a content-addressed payload. Existing blobs are kept.
func (s *FileStore) StoreBlob(ctx context.Context, blob model.Blob) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if got := format.ContentHash(blob.Data); got != blob.ContentHash {
		return fmt.Errorf("blob hash %s does not match content %s", blob.ContentHash, got)
	}
	p := s.blobPath(blob.ContentHash, blob.Ext)
	if _, err := os.Stat(p); err == nil {
		return nil
	}
	return util.AtomicWriteFile(p, blob.Data, 0644)
}

// List returns all saved conversations (most recent first).
func (s *FileStore) List(ctx context.Context) ([]ConversationMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(filepath.Join(s.BaseDir, "conversations"))
	if err != nil {
		if os.IsNotExist(err) {
			return []ConversationMeta{}, nil
		}
		return nil, err
	}

	metas := make([]ConversationMeta, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		id, err := url.PathUnescape(strings.TrimSuffix(entry.Name(), ".json"))
		if err != nil {
			continue
		}
		conv, err := s.load(id)
		if err != nil {
			continue // Skip corrupted files
		}
		metas = append(metas, ConversationMeta{
			ID:             conv.ID,
			Title:          conv.Title,
			CreatedAt:      conv.CreatedAt,
			LastActivityAt: conv.LastActivityAt,
			MessageCount:   len(conv.Messages),
			Preview:        previewOf(conv.Messages),
		})
	}

	sort.Slice(metas, func(i, j int) bool {
		return metas[i].LastActivityAt.After(metas[j].LastActivityAt)
	})
	return metas, nil
}

// Delete removes a conversation by ID. Blobs are left in place since other
// conversations may share them.
func (s *FileStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(s.conversationPath(id)); err != nil {
		if os.IsNotExist(err) {
			return ErrConversationNotFound
		}
		return err
	}
	return nil
}

// =============================================================================
// ARTIFACTS
// =============================================================================

// ArtifactsFor returns the artifacts a conversation mentions or introduced.
func (s *FileStore) ArtifactsFor(ctx context.Context, conversationID string) ([]model.ArtifactReference, error) {
	conv, err := s.Conversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	uris := referencedURIs(conv)

	s.mu.RLock()
	defer s.mu.RUnlock()
	all, err := s.loadArtifacts()
	if err != nil {
		return nil, err
	}
	var out []model.ArtifactReference
	for _, ref := range all {
		if uris[ref.URI] || ref.IntroducedBy == conversationID {
			out = append(out, ref)
		}
	}
	return out, nil
}

// GetOrCreateArtifact returns the stored reference for ref.URI, adding ref
// when no reference with that URI exists.
func (s *FileStore) GetOrCreateArtifact(ctx context.Context, ref model.ArtifactReference) (*model.ArtifactReference, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if ref.URI == "" {
		return nil, errors.New("artifact has no uri")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.loadArtifacts()
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].URI == ref.URI {
			return &all[i], nil
		}
	}
	all = append(all, ref)
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return nil, err
	}
	if err := util.AtomicWriteFile(s.artifactsPath(), data, 0644); err != nil {
		return nil, err
	}
	return &ref, nil
}

// Snapshot returns the cached content of ref, or nil when none is stored.
func (s *FileStore) Snapshot(ctx context.Context, ref model.ArtifactReference) (*model.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.snapshotPath(ref.URI))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &model.Snapshot{URI: ref.URI, Type: ref.Type, Data: data}, nil
}

// StoreSnapshot caches snap, replacing older content for the same URI.
func (s *FileStore) StoreSnapshot(ctx context.Context, snap model.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return util.AtomicWriteFile(s.snapshotPath(snap.URI), snap.Data, 0644)
}

// =============================================================================
// PROVENANCE
// =============================================================================

// EventsForConversation returns the events recorded for id, by sequence.
func (s *FileStore) EventsForConversation(ctx context.Context, id string) ([]model.ProvenanceEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.loadEvents()
	if err != nil {
		return nil, err
	}
	var out []model.ProvenanceEvent
	for _, ev := range all {
		if ev.ConversationID == id {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

// Record appends an event to the log. A zero Sequence is assigned the next
// number and an empty ID a fresh one.
func (s *FileStore) Record(ctx context.Context, event model.ProvenanceEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.Sequence == 0 {
		all, err := s.loadEvents()
		if err != nil {
			return err
		}
		for _, ev := range all {
			if ev.Sequence > event.Sequence {
				event.Sequence = ev.Sequence
			}
		}
		event.Sequence++
	}
	if event.ID == "" {
		event.ID = "evt_" + uuid.NewString()
	}
	line, err := json.Marshal(event)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(s.eventsPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func (s *FileStore) load(id string) (*model.Conversation, error) {
	data, err := os.ReadFile(s.conversationPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	var conv model.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return nil, fmt.Errorf("conversation %s: %w", id, err)
	}
	return &conv, nil
}

func (s *FileStore) write(conv *model.Conversation) error {
	data, err := json.MarshalIndent(conv, "", "  ")
	if err != nil {
		return err
	}
	// RELIABILITY: Atomic write with fsync prevents data loss on crash
	return util.AtomicWriteFile(s.conversationPath(conv.ID), data, 0644)
}

func (s *FileStore) loadArtifacts() ([]model.ArtifactReference, error) {
	data, err := os.ReadFile(s.artifactsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var all []model.ArtifactReference
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("artifacts.json: %w", err)
	}
	return all, nil
}

// loadEvents reads the event log. Unreadable lines are skipped.
func (s *FileStore) loadEvents() ([]model.ProvenanceEvent, error) {
	f, err := os.Open(s.eventsPath())
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var all []model.ProvenanceEvent
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 16<<20)
	for sc.Scan() {
		var ev model.ProvenanceEvent
		if err := json.Unmarshal(sc.Bytes(), &ev); err != nil {
			continue
		}
		all = append(all, ev)
	}
	return all, sc.Err()
}

func (s *FileStore) conversationPath(id string) string {
	return filepath.Join(s.BaseDir, "conversations", url.PathEscape(id)+".json")
}

func (s *FileStore) blobPath(hash, ext string) string {
	return filepath.Join(s.BaseDir, "blobs", hash+"."+format.NormalizeExt(ext))
}

func (s *FileStore) snapshotPath(uri string) string {
	return filepath.Join(s.BaseDir, "snapshots", format.ContentHash([]byte(uri))+format.SnapshotExt)
}

func (s *FileStore) artifactsPath() string {
	return filepath.Join(s.BaseDir, "artifacts.json")
}

func (s *FileStore) eventsPath() string {
	return filepath.Join(s.BaseDir, "provenance.jsonl")
}
