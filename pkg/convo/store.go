package convo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const DefaultPageLimit = 50

// Store persists conversations and messages in Postgres. Messages are
// append-only: saving an existing message_id is a no-op, never an update.
type Store struct {
	conn *pgxpool.Pool
}

func NewStore(conn *pgxpool.Pool) *Store {
	return &Store{conn: conn}
}

func (s *Store) CreateConversation(ctx context.Context, conv *Conversation) error {
	if err := ValidateID(conv.ConversationID); err != nil {
		return fmt.Errorf("conversation_id: %w", err)
	}
	if conv.UserID == "" {
		return fmt.Errorf("user_id is required")
	}
	_, err := s.conn.Exec(ctx, `
		INSERT INTO conversations (id, title, user_id, metadata)
		VALUES ($1, nullif($2, ''), $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, conv.ConversationID, conv.Title, conv.UserID, metadataOrNil(conv.Metadata))
	return err
}

func (s *Store) FindConversation(ctx context.Context, conversationID uuid.UUID) (*Conversation, error) {
	var conv Conversation
	var title *string
	err := s.conn.QueryRow(ctx, `
		SELECT id, title, user_id, created_at, metadata
		FROM conversations
		WHERE id = $1
	`, conversationID).Scan(&conv.ConversationID, &title, &conv.UserID, &conv.CreatedAt, &conv.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if title != nil {
		conv.Title = *title
	}
	return &conv, nil
}

// FindConversationForUser loads a conversation and enforces ownership:
// missing -> ErrNotFound, other user's -> ErrForbidden.
func (s *Store) FindConversationForUser(ctx context.Context, conversationID uuid.UUID, userID string) (*Conversation, error) {
	conv, err := s.FindConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if conv.UserID != userID {
		return nil, ErrForbidden
	}
	return conv, nil
}

// ListConversationsByUser pages a user's conversations with the same
// UUIDv7 cursor contract as messages.
func (s *Store) ListConversationsByUser(
	ctx context.Context,
	userID string,
	limit int,
	cursor *uuid.UUID,
	direction Direction,
) ([]Conversation, *string, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	query := `
		SELECT id, coalesce(title, ''), user_id, created_at, metadata
		FROM conversations
		WHERE user_id = $1
	`
	args := []any{userID}
	query, args = applyCursor(query, args, cursor, direction)
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	convs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Conversation, error) {
		var c Conversation
		err := row.Scan(&c.ConversationID, &c.Title, &c.UserID, &c.CreatedAt, &c.Metadata)
		return c, err
	})
	if err != nil {
		return nil, nil, err
	}

	var next *string
	if len(convs) == limit {
		token := EncodeCursor(convs[len(convs)-1].ConversationID)
		next = &token
	}
	return convs, next, nil
}

// SaveMessage appends a message. A message_id that already exists is left
// untouched.
func (s *Store) SaveMessage(ctx context.Context, msg *Message) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	parts, err := json.Marshal(msg.Parts)
	if err != nil {
		return err
	}
	author, err := json.Marshal(msg.Author)
	if err != nil {
		return err
	}
	_, err = s.conn.Exec(ctx, `
		INSERT INTO messages (id, conversation_id, author, parts, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`, msg.MessageID, msg.ConversationID, author, parts, metadataOrNil(msg.Metadata))
	return err
}

func (s *Store) FindMessage(ctx context.Context, messageID uuid.UUID) (*Message, error) {
	var msg Message
	var author, parts []byte
	err := s.conn.QueryRow(ctx, `
		SELECT id, conversation_id, author, parts, created_at, metadata
		FROM messages
		WHERE id = $1
	`, messageID).Scan(&msg.MessageID, &msg.ConversationID, &author, &parts, &msg.CreatedAt, &msg.Metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(author, &msg.Author); err != nil {
		return nil, fmt.Errorf("corrupt author for message %s: %w", messageID, err)
	}
	if err := json.Unmarshal(parts, &msg.Parts); err != nil {
		return nil, fmt.Errorf("corrupt parts for message %s: %w", messageID, err)
	}
	return &msg, nil
}

// ListByConversation pages a conversation's messages ordered by message_id.
// Backward returns newest first; forward oldest first. next_cursor is the
// last returned ID when the page is full, nil otherwise.
func (s *Store) ListByConversation(
	ctx context.Context,
	conversationID uuid.UUID,
	limit int,
	cursor *uuid.UUID,
	direction Direction,
) ([]Message, *string, error) {
	if limit <= 0 {
		limit = DefaultPageLimit
	}

	query := `
		SELECT id, conversation_id, author, parts, created_at, metadata
		FROM messages
		WHERE conversation_id = $1
	`
	args := []any{conversationID}
	query, args = applyCursor(query, args, cursor, direction)
	query += fmt.Sprintf(" LIMIT %d", limit)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, nil, err
	}
	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Message, error) {
		var m Message
		var author, parts []byte
		if err := row.Scan(&m.MessageID, &m.ConversationID, &author, &parts, &m.CreatedAt, &m.Metadata); err != nil {
			return m, err
		}
		if err := json.Unmarshal(author, &m.Author); err != nil {
			return m, err
		}
		return m, json.Unmarshal(parts, &m.Parts)
	})
	if err != nil {
		return nil, nil, err
	}

	var next *string
	if len(msgs) == limit {
		token := EncodeCursor(msgs[len(msgs)-1].MessageID)
		next = &token
	}
	return msgs, next, nil
}

// applyCursor appends the cursor filter and ordering for the direction.
// Backward: id < cursor, descending. Forward: id > cursor, ascending.
func applyCursor(query string, args []any, cursor *uuid.UUID, direction Direction) (string, []any) {
	if direction == Forward {
		if cursor != nil {
			args = append(args, *cursor)
			query += fmt.Sprintf(" AND id > $%d", len(args))
		}
		return query + " ORDER BY id ASC", args
	}
	if cursor != nil {
		args = append(args, *cursor)
		query += fmt.Sprintf(" AND id < $%d", len(args))
	}
	return query + " ORDER BY id DESC", args
}

func metadataOrNil(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}
