// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package format

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// LINE ERRORS
// =============================================================================

var (
	// ErrMalformedLine means the line is not a JSON object of the expected shape.
	ErrMalformedLine = errors.New("malformed line")

	// ErrUnknownLineType means the "type" discriminant is missing or unrecognized.
	ErrUnknownLineType = errors.New("unknown line type")

	// ErrMissingField means a required field is empty.
	ErrMissingField = errors.New("missing required field")
)

// LineError reports a JSON-Lines record that could not be decoded.
// Line is 1-based and zero when the caller did not know it.
type LineError struct {
	Line int
	Kind error
	Err  error
}

func (e *LineError) Error() string {
	msg := e.Kind.Error()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Line > 0 {
		return fmt.Sprintf("line %d: %s", e.Line, msg)
	}
	return msg
}

// Is matches the error kind so callers can use errors.Is(err, ErrUnknownLineType).
func (e *LineError) Is(target error) bool {
	return target == e.Kind
}

func (e *LineError) Unwrap() error {
	return e.Err
}

func lineErr(kind error, format string, args ...any) error {
	return &LineError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// =============================================================================
// CONVERSATION FILE VARIANTS
// =============================================================================

// LineType is the "type" discriminant of a conversation file line.
type LineType string

const (
	LineConversation    LineType = "conversation"
	LineMessage         LineType = "message"
	LineArtifactMention LineType = "artifact_mention"
)

// Line is one record of a conversation file. The set of implementations is
// closed: ConversationLine, MessageLine and MentionLine.
type Line interface {
	LineType() LineType
	validate() error
}

// ConversationLine is the header and always the first line of a file.
type ConversationLine struct {
	ID             string    `json:"id"`
	Title          string    `json:"title"`
	Participants   []string  `json:"participants"`
	CreatedAt      time.Time `json:"createdAt"`
	LastActivityAt time.Time `json:"lastActivityAt"`
	ParentID       string    `json:"parentId,omitempty"`
	ChildIDs       []string  `json:"childIds,omitempty"`
}

// MessageLine is one message.
type MessageLine struct {
	ID          string            `json:"id"`
	Role        string            `json:"role"`
	Author      string            `json:"author,omitempty"`
	Content     string            `json:"content"`
	Timestamp   time.Time         `json:"timestamp"`
	Attachments []AttachmentLine  `json:"attachments,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// AttachmentLine references a content-addressed attachment from a message.
type AttachmentLine struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size"`
	Path     string `json:"path"`
}

// MentionLine records that a message mentioned an artifact.
type MentionLine struct {
	MessageID   string    `json:"messageId,omitempty"`
	URI         string    `json:"uri"`
	DisplayName string    `json:"displayName,omitempty"`
	MentionedAt time.Time `json:"mentionedAt"`
}

func (*ConversationLine) LineType() LineType { return LineConversation }
func (*MessageLine) LineType() LineType      { return LineMessage }
func (*MentionLine) LineType() LineType      { return LineArtifactMention }

func (l *ConversationLine) validate() error {
	if l.ID == "" {
		return lineErr(ErrMissingField, "conversation: id")
	}
	return nil
}

func (l *MessageLine) validate() error {
	if l.ID == "" {
		return lineErr(ErrMissingField, "message: id")
	}
	if l.Role == "" {
		return lineErr(ErrMissingField, "message %s: role", l.ID)
	}
	for _, a := range l.Attachments {
		if a.Path == "" {
			return lineErr(ErrMissingField, "message %s: attachment path", l.ID)
		}
	}
	return nil
}

func (l *MentionLine) validate() error {
	if l.URI == "" {
		return lineErr(ErrMissingField, "artifact_mention: uri")
	}
	return nil
}

// MarshalLine encodes a line as a single JSON object carrying its "type".
// The result has no trailing newline.
func MarshalLine(l Line) ([]byte, error) {
	if l == nil {
		return nil, lineErr(ErrMalformedLine, "nil line")
	}
	var v any
	switch t := l.(type) {
	case *ConversationLine:
		v = struct {
			Type LineType `json:"type"`
			*ConversationLine
		}{LineConversation, t}
	case *MessageLine:
		v = struct {
			Type LineType `json:"type"`
			*MessageLine
		}{LineMessage, t}
	case *MentionLine:
		v = struct {
			Type LineType `json:"type"`
			*MentionLine
		}{LineArtifactMention, t}
	default:
		return nil, lineErr(ErrUnknownLineType, "%T", l)
	}
	return json.Marshal(v)
}

// DecodeLine decodes one conversation file line, checking the discriminant
// and required fields.
func DecodeLine(data []byte) (Line, error) {
	var env struct {
		Type *LineType `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &LineError{Kind: ErrMalformedLine, Err: err}
	}
	if env.Type == nil {
		return nil, lineErr(ErrUnknownLineType, "no type field")
	}

	var l Line
	switch *env.Type {
	case LineConversation:
		l = &ConversationLine{}
	case LineMessage:
		l = &MessageLine{}
	case LineArtifactMention:
		l = &MentionLine{}
	default:
		return nil, lineErr(ErrUnknownLineType, "%q", *env.Type)
	}
	if err := json.Unmarshal(data, l); err != nil {
		return nil, &LineError{Kind: ErrMalformedLine, Err: err}
	}
	if err := l.validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// =============================================================================
// ARTIFACT AND PROVENANCE RECORDS
// =============================================================================

// ReferenceLine is one line of artifacts/references.jsonl.
type ReferenceLine struct {
	URI          string    `json:"uri"`
	Type         string    `json:"type"`
	DisplayName  string    `json:"displayName"`
	Version      string    `json:"version,omitempty"`
	IntroducedBy string    `json:"introducedBy,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	SnapshotPath string    `json:"snapshotPath,omitempty"`
}

// EventLine is one line of provenance/events.jsonl.
type EventLine struct {
	ID             string          `json:"id"`
	ConversationID string          `json:"conversationId"`
	Sequence       int64           `json:"sequence"`
	Kind           string          `json:"kind"`
	Actor          string          `json:"actor,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
	Payload        json.RawMessage `json:"payload,omitempty"`
}

// DecodeReference decodes and validates a reference line.
func DecodeReference(data []byte) (*ReferenceLine, error) {
	var r ReferenceLine
	if err := decodeObject(data, &r); err != nil {
		return nil, err
	}
	if r.URI == "" {
		return nil, lineErr(ErrMissingField, "reference: uri")
	}
	if r.Type == "" {
		return nil, lineErr(ErrMissingField, "reference %s: type", r.URI)
	}
	return &r, nil
}

// DecodeEvent decodes and validates a provenance event line.
func DecodeEvent(data []byte) (*EventLine, error) {
	var e EventLine
	if err := decodeObject(data, &e); err != nil {
		return nil, err
	}
	if e.ConversationID == "" {
		return nil, lineErr(ErrMissingField, "event: conversationId")
	}
	if e.Kind == "" {
		return nil, lineErr(ErrMissingField, "event %d: kind", e.Sequence)
	}
	if e.Timestamp.IsZero() {
		return nil, lineErr(ErrMissingField, "event %d: timestamp", e.Sequence)
	}
	return &e, nil
}

func decodeObject(data []byte, v any) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return lineErr(ErrMalformedLine, "not a JSON object")
	}
	if err := json.Unmarshal(trimmed, v); err != nil {
		return &LineError{Kind: ErrMalformedLine, Err: err}
	}
	return nil
}
