package convo

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrForbidden = errors.New("forbidden")
)

// Part types.
const (
	PartText = "text"
	PartFile = "file"
	PartData = "data"
)

// Author roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// FilePart references file content by URI or carries it inline. Exactly one
// of URI and Bytes must be set.
type FilePart struct {
	URI      string `json:"uri,omitempty"`
	Bytes    []byte `json:"bytes,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
	Name     string `json:"name,omitempty"`
}

// Part is one element of a message's content, discriminated by Type.
type Part struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	File *FilePart       `json:"file,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func (p Part) Validate() error {
	switch p.Type {
	case PartText:
		return nil
	case PartFile:
		if p.File == nil {
			return fmt.Errorf("file part without file payload")
		}
		hasURI := p.File.URI != ""
		hasBytes := len(p.File.Bytes) > 0
		if hasURI == hasBytes {
			return fmt.Errorf("file part must carry exactly one of uri and bytes")
		}
		return nil
	case PartData:
		if len(p.Data) == 0 {
			return fmt.Errorf("data part without data payload")
		}
		return nil
	default:
		return fmt.Errorf("unknown part type %q", p.Type)
	}
}

type Author struct {
	Role string `json:"role"`
	Name string `json:"name,omitempty"`
}

// Message is one append-only conversation entry. MessageID is a UUIDv7; its
// lexicographic order is the pagination order.
type Message struct {
	MessageID      uuid.UUID       `json:"message_id"`
	ConversationID uuid.UUID       `json:"conversation_id"`
	Author         Author          `json:"author"`
	Parts          []Part          `json:"parts"`
	CreatedAt      time.Time       `json:"created_at"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

type Conversation struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	Title          string          `json:"title,omitempty"`
	UserID         string          `json:"user_id"`
	CreatedAt      time.Time       `json:"created_at"`
	Metadata       json.RawMessage `json:"metadata,omitempty"`
}

// The cursor contract equates "most recent" with "largest UUIDv7", which
// only holds while IDs are minted in real time. Far-future or heavily
// backdated timestamps are rejected at the boundary; the past bound stays
// generous so delayed idempotent retries keep their original ID.
const (
	maxIDClockSkew = time.Minute
	maxIDAge       = 24 * time.Hour
)

// ValidateID checks that id is a UUIDv7 with a plausible timestamp.
func ValidateID(id uuid.UUID) error {
	if id == uuid.Nil {
		return fmt.Errorf("id is required")
	}
	if id.Version() != 7 {
		return fmt.Errorf("id must be a UUIDv7, got version %d", id.Version())
	}
	sec, nsec := id.Time().UnixTime()
	ts := time.Unix(sec, nsec)
	now := time.Now()
	if ts.After(now.Add(maxIDClockSkew)) {
		return fmt.Errorf("id timestamp lies in the future")
	}
	if ts.Before(now.Add(-maxIDAge)) {
		return fmt.Errorf("id timestamp is backdated beyond %s", maxIDAge)
	}
	return nil
}

func (m *Message) Validate() error {
	if err := ValidateID(m.MessageID); err != nil {
		return fmt.Errorf("message_id: %w", err)
	}
	if err := ValidateID(m.ConversationID); err != nil {
		return fmt.Errorf("conversation_id: %w", err)
	}
	if m.Author.Role != RoleUser && m.Author.Role != RoleAgent {
		return fmt.Errorf("author role must be user or agent, got %q", m.Author.Role)
	}
	if len(m.Parts) == 0 {
		return fmt.Errorf("message has no parts")
	}
	for i, part := range m.Parts {
		if err := part.Validate(); err != nil {
			return fmt.Errorf("part %d: %w", i, err)
		}
	}
	return nil
}

// Direction selects the pagination order of list operations.
type Direction string

const (
	// Backward returns newest first and is the default.
	Backward Direction = "backward"
	// Forward returns oldest first.
	Forward Direction = "forward"
)

func ParseDirection(s string) (Direction, error) {
	switch Direction(s) {
	case "":
		return Backward, nil
	case Backward, Forward:
		return Direction(s), nil
	default:
		return "", fmt.Errorf("unknown direction %q", s)
	}
}
