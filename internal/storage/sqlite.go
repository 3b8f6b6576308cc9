// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/jeranaias/convarchive/internal/format"
	"github.com/jeranaias/convarchive/internal/model"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// =============================================================================
// SQLITE STORE
// =============================================================================

// SQLiteStore keeps the whole live store in one SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time, so limit connections
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=FULL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma: %w", err)
		}
	}

	if _, err := db.Exec(Schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	if _, err := db.Exec(InitMetadata); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize metadata: %w", err)
	}

	return &SQLiteStore{db: db, path: path}, nil
}

// Path returns the database file.
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// CONVERSATIONS
// =============================================================================

// Conversation loads the header, messages and mentions of id.
func (s *SQLiteStore) Conversation(ctx context.Context, id string) (*model.Conversation, error) {
	conv := &model.Conversation{ID: id}
	var participants, childIDs, created, active string
	err := s.db.QueryRowContext(ctx, `
		SELECT title, participants, created_at, last_activity_at, parent_id, child_ids
		FROM conversations WHERE id = ?`, id).
		Scan(&conv.Title, &participants, &created, &active, &conv.ParentID, &childIDs)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := decodeJSON(participants, &conv.Participants); err != nil {
		return nil, err
	}
	if err := decodeJSON(childIDs, &conv.ChildIDs); err != nil {
		return nil, err
	}
	if conv.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if conv.LastActivityAt, err = parseTime(active); err != nil {
		return nil, err
	}

	if conv.Messages, err = s.messages(ctx, id); err != nil {
		return nil, err
	}
	if conv.Mentions, err = s.mentions(ctx, id); err != nil {
		return nil, err
	}
	return conv, nil
}

func (s *SQLiteStore) messages(ctx context.Context, convID string) ([]*model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, author, content, timestamp, attachments, metadata
		FROM messages WHERE conversation_id = ? ORDER BY seq`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]*model.Message, 0)
	for rows.Next() {
		var msg model.Message
		var role, ts, atts, meta string
		if err := rows.Scan(&msg.ID, &role, &msg.Author, &msg.Content, &ts, &atts, &meta); err != nil {
			return nil, err
		}
		msg.Role = model.Role(role)
		if msg.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if err := decodeJSON(atts, &msg.Attachments); err != nil {
			return nil, err
		}
		if err := decodeJSON(meta, &msg.Metadata); err != nil {
			return nil, err
		}
		msgs = append(msgs, &msg)
	}
	return msgs, rows.Err()
}

func (s *SQLiteStore) mentions(ctx context.Context, convID string) ([]model.ArtifactMention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, uri, display_name, mentioned_at
		FROM mentions WHERE conversation_id = ? ORDER BY rowid`, convID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ArtifactMention
	for rows.Next() {
		var m model.ArtifactMention
		var at string
		if err := rows.Scan(&m.MessageID, &m.URI, &m.DisplayName, &at); err != nil {
			return nil, err
		}
		if m.MentionedAt, err = parseTime(at); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Exists reports whether a conversation row exists for id.
func (s *SQLiteStore) Exists(ctx context.Context, id string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE id = ?`, id).Scan(&n)
	return n > 0, err
}

// SaveConversation upserts the header and replaces the mentions of conv.
// Stored messages are untouched.
func (s *SQLiteStore) SaveConversation(ctx context.Context, conv *model.Conversation) error {
	if conv.ID == "" {
		return errors.New("conversation has no id")
	}
	participants, err := encodeJSON(nonNilStrings(conv.Participants))
	if err != nil {
		return err
	}
	childIDs, err := encodeJSON(nonNilStrings(conv.ChildIDs))
	if err != nil {
		return err
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO conversations (id, title, participants, created_at, last_activity_at, parent_id, child_ids)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				title = excluded.title,
				participants = excluded.participants,
				created_at = excluded.created_at,
				last_activity_at = excluded.last_activity_at,
				parent_id = excluded.parent_id,
				child_ids = excluded.child_ids`,
			conv.ID, conv.Title, participants, formatTime(conv.CreatedAt),
			formatTime(conv.LastActivityAt), conv.ParentID, childIDs); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM mentions WHERE conversation_id = ?`, conv.ID); err != nil {
			return err
		}
		for _, m := range conv.Mentions {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO mentions (conversation_id, message_id, uri, display_name, mentioned_at)
				VALUES (?, ?, ?, ?, ?)`,
				conv.ID, m.MessageID, m.URI, m.DisplayName, formatTime(m.MentionedAt)); err != nil {
				return err
			}
		}
		return nil
	})
}

// AppendMessage appends msg after the last stored message of the conversation.
func (s *SQLiteStore) AppendMessage(ctx context.Context, conversationID string, msg *model.Message) error {
	if msg.ID == "" {
		msg.ID = "msg_" + uuid.NewString()
	}
	atts, err := encodeJSON(nonNilRefs(msg.Attachments))
	if err != nil {
		return err
	}
	meta := "{}"
	if len(msg.Metadata) > 0 {
		if meta, err = encodeJSON(msg.Metadata); err != nil {
			return err
		}
	}

	return s.inTx(ctx, func(tx *sql.Tx) error {
		var ok int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM conversations WHERE id = ?`, conversationID).Scan(&ok); err != nil {
			return err
		}
		if ok == 0 {
			return ErrConversationNotFound
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO messages (conversation_id, seq, id, role, author, content, timestamp, attachments, metadata)
			VALUES (?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE conversation_id = ?), ?, ?, ?, ?, ?, ?, ?)`,
			conversationID, conversationID, msg.ID, string(msg.Role), msg.Author, msg.Content,
			formatTime(msg.Timestamp), atts, meta); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			UPDATE conversations SET last_activity_at = ?
			WHERE id = ? AND last_activity_at < ?`,
			formatTime(msg.Timestamp), conversationID, formatTime(msg.Timestamp))
		return err
	})
}

// Attachments returns the stored blobs referenced by a conversation's messages.
func (s *SQLiteStore) Attachments(ctx context.Context, conversationID string) ([]model.Attachment, error) {
	msgs, err := s.messages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	var out []model.Attachment
	for _, msg := range msgs {
		for _, ref := range msg.Attachments {
			if ref.ContentHash == "" {
				continue
			}
			var data []byte
			err := s.db.QueryRowContext(ctx, `SELECT data FROM blobs WHERE hash = ?`, ref.ContentHash).Scan(&data)
			if errors.Is(err, sql.ErrNoRows) {
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

// StoreBlob inserts a content-addressed payload unless its hash is present.
func (s *SQLiteStore) StoreBlob(ctx context.Context, blob model.Blob) error {
	if got := format.ContentHash(blob.Data); got != blob.ContentHash {
		return fmt.Errorf("blob hash %s does not match content %s", blob.ContentHash, got)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO blobs (hash, ext, data) VALUES (?, ?, ?)`,
		blob.ContentHash, format.NormalizeExt(blob.Ext), blob.Data)
	return err
}

// List returns metadata for every conversation, most recent first.
func (s *SQLiteStore) List(ctx context.Context) ([]ConversationMeta, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.title, c.created_at, c.last_activity_at,
			(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id),
			COALESCE((SELECT m.content FROM messages m
				WHERE m.conversation_id = c.id AND m.role = 'user' AND m.content != ''
				ORDER BY m.seq LIMIT 1), '')
		FROM conversations c
		ORDER BY c.last_activity_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	metas := make([]ConversationMeta, 0)
	for rows.Next() {
		var m ConversationMeta
		var created, active, preview string
		if err := rows.Scan(&m.ID, &m.Title, &created, &active, &m.MessageCount, &preview); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		if m.LastActivityAt, err = parseTime(active); err != nil {
			return nil, err
		}
		m.Preview = truncatePreview(preview)
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

// Delete removes a conversation with its messages and mentions.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// =============================================================================
// ARTIFACTS
// =============================================================================

// ArtifactsFor returns the artifacts a conversation mentions or introduced.
func (s *SQLiteStore) ArtifactsFor(ctx context.Context, conversationID string) ([]model.ArtifactReference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT uri, type, display_name, version, introduced_by, created_at
		FROM artifacts
		WHERE introduced_by = ?
		   OR uri IN (SELECT uri FROM mentions WHERE conversation_id = ?)
		ORDER BY created_at, uri`, conversationID, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ArtifactReference
	for rows.Next() {
		var ref model.ArtifactReference
		var created string
		if err := rows.Scan(&ref.URI, &ref.Type, &ref.DisplayName, &ref.Version, &ref.IntroducedBy, &created); err != nil {
			return nil, err
		}
		if ref.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, rows.Err()
}

// GetOrCreateArtifact returns the row for ref.URI, inserting ref when absent.
func (s *SQLiteStore) GetOrCreateArtifact(ctx context.Context, ref model.ArtifactReference) (*model.ArtifactReference, error) {
	if ref.URI == "" {
		return nil, errors.New("artifact has no uri")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO artifacts (uri, type, display_name, version, introduced_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ref.URI, ref.Type, ref.DisplayName, ref.Version, ref.IntroducedBy, formatTime(ref.CreatedAt)); err != nil {
		return nil, err
	}

	var out model.ArtifactReference
	var created string
	err := s.db.QueryRowContext(ctx, `
		SELECT uri, type, display_name, version, introduced_by, created_at
		FROM artifacts WHERE uri = ?`, ref.URI).
		Scan(&out.URI, &out.Type, &out.DisplayName, &out.Version, &out.IntroducedBy, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrArtifactNotFound
	}
	if err != nil {
		return nil, err
	}
	if out.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &out, nil
}

// Snapshot returns the cached content of ref, or nil when none is stored.
func (s *SQLiteStore) Snapshot(ctx context.Context, ref model.ArtifactReference) (*model.Snapshot, error) {
	snap := &model.Snapshot{URI: ref.URI}
	err := s.db.QueryRowContext(ctx, `SELECT type, data FROM snapshots WHERE uri = ?`, ref.URI).
		Scan(&snap.Type, &snap.Data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// StoreSnapshot caches snap, replacing older content for the same URI.
func (s *SQLiteStore) StoreSnapshot(ctx context.Context, snap model.Snapshot) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (uri, type, data) VALUES (?, ?, ?)
		ON CONFLICT(uri) DO UPDATE SET type = excluded.type, data = excluded.data`,
		snap.URI, snap.Type, snap.Data)
	return err
}

// =============================================================================
// PROVENANCE
// =============================================================================

// EventsForConversation returns the events recorded for id, by sequence.
func (s *SQLiteStore) EventsForConversation(ctx context.Context, id string) ([]model.ProvenanceEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sequence, kind, actor, timestamp, payload
		FROM events WHERE conversation_id = ? ORDER BY sequence, pos`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProvenanceEvent
	for rows.Next() {
		var ev model.ProvenanceEvent
		var ts, payload string
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &ev.Sequence, &ev.Kind, &ev.Actor, &ts, &payload); err != nil {
			return nil, err
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, err
		}
		if payload != "" {
			ev.Payload = json.RawMessage(payload)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Record appends an event. A zero Sequence is assigned the next number and
// an empty ID a fresh one.
func (s *SQLiteStore) Record(ctx context.Context, event model.ProvenanceEvent) error {
	if event.ID == "" {
		event.ID = "evt_" + uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO events (id, conversation_id, sequence, kind, actor, timestamp, payload)
		VALUES (?, ?, CASE WHEN ? = 0 THEN (SELECT COALESCE(MAX(sequence), 0) + 1 FROM events) ELSE ? END,
			?, ?, ?, ?)`,
		event.ID, event.ConversationID, event.Sequence, event.Sequence,
		event.Kind, event.Actor, formatTime(event.Timestamp), string(event.Payload))
	return err
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *SQLiteStore) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// timeLayout has a fixed-width fraction so stored timestamps sort as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("bad timestamp %q: %w", s, err)
	}
	return t, nil
}

func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	return string(data), err
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	return json.Unmarshal([]byte(s), v)
}

func nonNilStrings(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilRefs(r []model.AttachmentRef) []model.AttachmentRef {
	if r == nil {
		return []model.AttachmentRef{}
	}
	return r
}
