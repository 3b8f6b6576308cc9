// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/jeranaias/convarchive/internal/format"
	"github.com/jeranaias/convarchive/internal/model"
)

// =============================================================================
// IN-MEMORY SERVICES
// =============================================================================

var errNotFound = errors.New("not found")

// memStore implements every service interface in memory and counts calls.
type memStore struct {
	mu sync.Mutex

	convs     map[string]*model.Conversation
	order     []string
	blobs     map[string][]byte // key: hash
	attach    map[string][]model.Attachment
	artifacts map[string]model.ArtifactReference
	snapshots map[string][]byte
	events    []model.ProvenanceEvent

	// failFetch makes Conversation fail for the listed ids.
	failFetch map[string]error
	// failArtifacts makes ArtifactsFor fail for the listed ids.
	failArtifacts map[string]error
	// failExists makes Exists fail for the listed ids.
	failExists map[string]error
	// failAppend makes the nth AppendMessage call for an id fail.
	failAppend map[string]int
	appended   map[string]int

	calls int
}

func newMemStore() *memStore {
	return &memStore{
		convs:         make(map[string]*model.Conversation),
		blobs:         make(map[string][]byte),
		attach:        make(map[string][]model.Attachment),
		artifacts:     make(map[string]model.ArtifactReference),
		snapshots:     make(map[string][]byte),
		failFetch:     make(map[string]error),
		failExists:    make(map[string]error),
		failArtifacts: make(map[string]error),
		failAppend:    make(map[string]int),
		appended:      make(map[string]int),
	}
}

func (m *memStore) services() Services {
	return Services{Conversations: m, Artifacts: m, Provenance: m}
}

func (m *memStore) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *memStore) hit() {
	m.calls++
}

// --- ConversationStore ---

func (m *memStore) Conversation(_ context.Context, id string) (*model.Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	if err := m.failFetch[id]; err != nil {
		return nil, err
	}
	c, ok := m.convs[id]
	if !ok {
		return nil, fmt.Errorf("conversation %s: %w", id, errNotFound)
	}
	cp := *c
	cp.Messages = append([]*model.Message(nil), c.Messages...)
	cp.Mentions = append([]model.ArtifactMention(nil), c.Mentions...)
	return &cp, nil
}

func (m *memStore) Attachments(_ context.Context, id string) ([]model.Attachment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	return m.attach[id], nil
}

func (m *memStore) Exists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	if err := m.failExists[id]; err != nil {
		return false, err
	}
	_, ok := m.convs[id]
	return ok, nil
}

func (m *memStore) SaveConversation(_ context.Context, conv *model.Conversation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	cp := *conv
	if cur, ok := m.convs[conv.ID]; ok {
		cp.Messages = cur.Messages
	} else {
		cp.Messages = nil
		m.order = append(m.order, conv.ID)
	}
	m.convs[conv.ID] = &cp
	return nil
}

func (m *memStore) AppendMessage(_ context.Context, id string, msg *model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	c, ok := m.convs[id]
	if !ok {
		return errNotFound
	}
	m.appended[id]++
	if n := m.failAppend[id]; n > 0 && m.appended[id] == n {
		return errors.New("append refused")
	}
	c.Messages = append(c.Messages, msg)
	return nil
}

func (m *memStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	if _, ok := m.convs[id]; !ok {
		return errNotFound
	}
	delete(m.convs, id)
	for i, o := range m.order {
		if o == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// undeletable hides Delete so the importer cannot roll back.
type undeletable struct {
	ConversationStore
}

func (m *memStore) StoreBlob(_ context.Context, b model.Blob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	m.blobs[b.ContentHash] = b.Data
	return nil
}

// --- ArtifactService, SnapshotSource, SnapshotSink ---

func (m *memStore) ArtifactsFor(_ context.Context, id string) ([]model.ArtifactReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	if err := m.failArtifacts[id]; err != nil {
		return nil, err
	}
	c, ok := m.convs[id]
	if !ok {
		return nil, errNotFound
	}
	var out []model.ArtifactReference
	for _, mention := range c.Mentions {
		if ref, ok := m.artifacts[mention.URI]; ok {
			out = append(out, ref)
		}
	}
	return out, nil
}

func (m *memStore) GetOrCreateArtifact(_ context.Context, ref model.ArtifactReference) (*model.ArtifactReference, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	if cur, ok := m.artifacts[ref.URI]; ok {
		return &cur, nil
	}
	m.artifacts[ref.URI] = ref
	return &ref, nil
}

func (m *memStore) Snapshot(_ context.Context, ref model.ArtifactReference) (*model.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	data, ok := m.snapshots[ref.URI]
	if !ok {
		return nil, nil
	}
	return &model.Snapshot{URI: ref.URI, Type: ref.Type, Data: data}, nil
}

func (m *memStore) StoreSnapshot(_ context.Context, snap model.Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	m.snapshots[snap.URI] = snap.Data
	return nil
}

// --- ProvenanceService ---

func (m *memStore) EventsForConversation(_ context.Context, id string) ([]model.ProvenanceEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	var out []model.ProvenanceEvent
	for _, ev := range m.events {
		if ev.ConversationID == id {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func (m *memStore) Record(_ context.Context, ev model.ProvenanceEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hit()
	m.events = append(m.events, ev)
	return nil
}

// =============================================================================
// FIXTURES
// =============================================================================

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

// seed adds a conversation with n messages, one mention, one artifact and
// one provenance event per message.
func (m *memStore) seed(id string, n int) *model.Conversation {
	base := fixedNow.Add(-time.Hour)
	conv := &model.Conversation{
		ID:             id,
		Title:          "Conversation " + id,
		Participants:   []string{"alice", "assistant"},
		CreatedAt:      base,
		LastActivityAt: base.Add(time.Duration(n) * time.Minute),
	}
	for i := 0; i < n; i++ {
		role := model.RoleUser
		if i%2 == 1 {
			role = model.RoleAssistant
		}
		conv.Messages = append(conv.Messages, &model.Message{
			ID:        fmt.Sprintf("%s-m%d", id, i+1),
			Role:      role,
			Author:    "alice",
			Content:   fmt.Sprintf("message %d of %s", i+1, id),
			Timestamp: base.Add(time.Duration(i+1) * time.Minute),
		})
	}
	uri := "arxiv:" + id
	conv.Mentions = []model.ArtifactMention{{MessageID: id + "-m1", URI: uri, DisplayName: "Paper " + id, MentionedAt: base}}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.convs[id] = conv
	m.order = append(m.order, id)
	m.artifacts[uri] = model.ArtifactReference{URI: uri, Type: format.ArtifactPaper, DisplayName: "Paper " + id, IntroducedBy: id, CreatedAt: base}
	for i := range conv.Messages {
		payload, _ := json.Marshal(map[string]string{"messageId": conv.Messages[i].ID})
		m.events = append(m.events, model.ProvenanceEvent{
			ID:             fmt.Sprintf("evt-%s-%d", id, i+1),
			ConversationID: id,
			Sequence:       int64(len(m.events) + 1),
			Kind:           model.EventMessageSent,
			Timestamp:      conv.Messages[i].Timestamp,
			Payload:        payload,
		})
	}
	return conv
}

// attachTo adds a payload to the first message of a conversation.
func (m *memStore) attachTo(convID, filename string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := m.convs[convID]
	m.attach[convID] = append(m.attach[convID], model.Attachment{
		ID:        fmt.Sprintf("att-%s-%d", convID, len(m.attach[convID])+1),
		MessageID: c.Messages[0].ID,
		Filename:  filename,
		MimeType:  "application/octet-stream",
		Data:      data,
	})
}

func testExporter(t *testing.T, m *memStore) *Exporter {
	t.Helper()
	return NewExporter(m.services(), WithClock(fixedClock), WithCreatedBy("tester"), WithAppVersion("test-1"))
}

func testImporter(m *memStore) *Importer {
	return NewImporter(m.services())
}

func exportAll(t *testing.T, src *memStore, opts ExportOptions, ids ...string) *ExportResult {
	t.Helper()
	res, err := testExporter(t, src).Export(context.Background(), ids, t.TempDir(), opts, nil)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	return res
}
