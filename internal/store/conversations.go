package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by lookups that find no matching row.
var ErrNotFound = errors.New("store: not found")

// Role is the role of a message within a conversation.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Attachment is an opaque reference crossing the trust boundary: only the
// ID, filename, MIME type, and size are ever exposed to external actors.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	MIME     string `json:"mime"`
	Size     int64  `json:"size"`
}

// Conversation is an append-only ordered message log identified by an
// opaque string ID.
type Conversation struct {
	ID         string
	Title      string
	LastActive time.Time
	CreatedAt  time.Time
}

// Message is one entry in a conversation's append-only log.
type Message struct {
	ID             string
	ConversationID string
	Role           Role
	Content        string
	RequestID      string
	Attachments    []Attachment
	CreatedAt      time.Time
}

// CreateConversation inserts a new conversation row.
func (s *Store) CreateConversation(ctx context.Context, c *Conversation) error {
	now := time.Now().UTC()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.LastActive.IsZero() {
		c.LastActive = now
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, title, last_active, created_at)
		VALUES (?, ?, ?, ?)`,
		c.ID, c.Title, c.LastActive.Format(time.RFC3339Nano), c.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: create conversation: %w", err)
	}
	return nil
}

// GetConversation loads a conversation by ID.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	var c Conversation
	var lastActive, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, title, last_active, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &lastActive, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get conversation: %w", err)
	}
	c.LastActive, _ = time.Parse(time.RFC3339Nano, lastActive)
	c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &c, nil
}

// ListConversations returns all conversations ordered by most recently
// active first.
func (s *Store) ListConversations(ctx context.Context) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, last_active, created_at FROM conversations ORDER BY last_active DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list conversations: %w", err)
	}
	defer rows.Close()

	var out []Conversation
	for rows.Next() {
		var c Conversation
		var lastActive, createdAt string
		if err := rows.Scan(&c.ID, &c.Title, &lastActive, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan conversation: %w", err)
		}
		c.LastActive, _ = time.Parse(time.RFC3339Nano, lastActive)
		c.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and (via FK cascade) its
// messages and session mapping.
func (s *Store) DeleteConversation(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete conversation: %w", err)
	}
	return nil
}

// touchConversation updates last_active to now. Called whenever a message
// is appended.
func (s *Store) touchConversation(ctx context.Context, id string, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `UPDATE conversations SET last_active = ? WHERE id = ?`,
		at.Format(time.RFC3339Nano), id)
	return err
}

// AppendMessage appends a message to a conversation's log and bumps the
// conversation's last-active timestamp. Messages are append-only: there is
// no Update method.
func (s *Store) AppendMessage(ctx context.Context, m *Message) error {
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}

	var attachmentsJSON []byte
	if len(m.Attachments) > 0 {
		var err error
		attachmentsJSON, err = json.Marshal(m.Attachments)
		if err != nil {
			return fmt.Errorf("store: marshal attachments: %w", err)
		}
	}

	var requestID sql.NullString
	if m.RequestID != "" {
		requestID = sql.NullString{String: m.RequestID, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, role, content, request_id, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.ConversationID, string(m.Role), m.Content, requestID, attachmentsJSON,
		m.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: append message: %w", err)
	}

	if err := s.touchConversation(ctx, m.ConversationID, m.CreatedAt); err != nil {
		return fmt.Errorf("store: touch conversation: %w", err)
	}
	return nil
}

// ListMessages returns a conversation's messages in chronological order.
func (s *Store) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, role, content, request_id, attachments, created_at
		FROM messages WHERE conversation_id = ? ORDER BY created_at ASC, rowid ASC`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("store: list messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var m Message
		var requestID sql.NullString
		var attachmentsJSON sql.NullString
		var createdAt string
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &requestID, &attachmentsJSON, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan message: %w", err)
		}
		if requestID.Valid {
			m.RequestID = requestID.String
		}
		if attachmentsJSON.Valid && attachmentsJSON.String != "" {
			if err := json.Unmarshal([]byte(attachmentsJSON.String), &m.Attachments); err != nil {
				return nil, fmt.Errorf("store: unmarshal attachments: %w", err)
			}
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// TailMessages returns the last n messages of a conversation in
// chronological order, used by the agent loop's context builder.
func (s *Store) TailMessages(ctx context.Context, conversationID string, n int) ([]Message, error) {
	all, err := s.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if n <= 0 || len(all) <= n {
		return all, nil
	}
	return all[len(all)-n:], nil
}
