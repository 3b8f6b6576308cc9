// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

const (
	// SchemaVersion tracks the database schema version for migrations
	SchemaVersion = 1
)

// Schema is the SQLite schema of SQLiteStore.
// Timestamps are RFC 3339 strings with nanoseconds, in UTC.
const Schema = `
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS conversations (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    participants TEXT NOT NULL DEFAULT '[]', -- JSON array
    created_at TEXT NOT NULL,
    last_activity_at TEXT NOT NULL,
    parent_id TEXT NOT NULL DEFAULT '',
    child_ids TEXT NOT NULL DEFAULT '[]'     -- JSON array
);

CREATE INDEX IF NOT EXISTS idx_conversations_activity ON conversations(last_activity_at);

-- Messages keep insertion order through seq.
CREATE TABLE IF NOT EXISTS messages (
    conversation_id TEXT NOT NULL,
    seq INTEGER NOT NULL,
    id TEXT NOT NULL,
    role TEXT NOT NULL,
    author TEXT NOT NULL DEFAULT '',
    content TEXT NOT NULL,
    timestamp TEXT NOT NULL,
    attachments TEXT NOT NULL DEFAULT '[]',  -- JSON array of refs
    metadata TEXT NOT NULL DEFAULT '{}',     -- JSON object
    PRIMARY KEY (conversation_id, id),
    FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_messages_seq ON messages(conversation_id, seq);

CREATE TABLE IF NOT EXISTS mentions (
    conversation_id TEXT NOT NULL,
    message_id TEXT NOT NULL DEFAULT '',
    uri TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    mentioned_at TEXT NOT NULL,
    FOREIGN KEY(conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_mentions_conversation ON mentions(conversation_id);
CREATE INDEX IF NOT EXISTS idx_mentions_uri ON mentions(uri);

-- Content-addressed attachment payloads shared across conversations.
CREATE TABLE IF NOT EXISTS blobs (
    hash TEXT PRIMARY KEY,
    ext TEXT NOT NULL,
    data BLOB NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS artifacts (
    uri TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    display_name TEXT NOT NULL DEFAULT '',
    version TEXT NOT NULL DEFAULT '',
    introduced_by TEXT NOT NULL DEFAULT '',
    created_at TEXT NOT NULL
) WITHOUT ROWID;

CREATE INDEX IF NOT EXISTS idx_artifacts_introduced_by ON artifacts(introduced_by);

CREATE TABLE IF NOT EXISTS snapshots (
    uri TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    data BLOB NOT NULL
) WITHOUT ROWID;

-- Append-only provenance log.
CREATE TABLE IF NOT EXISTS events (
    pos INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL,
    conversation_id TEXT NOT NULL,
    sequence INTEGER NOT NULL,
    kind TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    timestamp TEXT NOT NULL,
    payload TEXT NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_events_conversation ON events(conversation_id, sequence);
`

// InitMetadata initializes the metadata table with default values
const InitMetadata = `
INSERT OR IGNORE INTO metadata (key, value) VALUES ('schema_version', '1');
INSERT OR IGNORE INTO metadata (key, value) VALUES ('created_at', strftime('%s', 'now'));
`
