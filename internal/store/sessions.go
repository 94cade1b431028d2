package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session maps a (channel, sender) pair to exactly one active conversation.
type Session struct {
	ChannelID      string
	SenderID       string
	ConversationID string
	CreatedAt      time.Time
}

// ResolveSession returns the conversation ID mapped to (channel, sender),
// or ErrNotFound if none exists yet. Callers create a session lazily on
// first message via CreateSession.
func (s *Store) ResolveSession(ctx context.Context, channelID, senderID string) (string, error) {
	var conversationID string
	err := s.db.QueryRowContext(ctx, `
		SELECT conversation_id FROM sessions WHERE channel_id = ? AND sender_id = ?`,
		channelID, senderID,
	).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("store: resolve session: %w", err)
	}
	return conversationID, nil
}

// CreateSession records a new (channel, sender) -> conversation mapping.
// It is an error to call this when a mapping already exists; callers should
// check ResolveSession first (lazy creation on first message).
func (s *Store) CreateSession(ctx context.Context, sess *Session) error {
	if sess.CreatedAt.IsZero() {
		sess.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (channel_id, sender_id, conversation_id, created_at)
		VALUES (?, ?, ?, ?)`,
		sess.ChannelID, sess.SenderID, sess.ConversationID, sess.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: create session: %w", err)
	}
	return nil
}

// RebindSession repoints an existing (channel, sender) mapping at a
// different conversation — used when a client explicitly switches
// conversations mid-session.
func (s *Store) RebindSession(ctx context.Context, channelID, senderID, conversationID string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET conversation_id = ? WHERE channel_id = ? AND sender_id = ?`,
		conversationID, channelID, senderID,
	)
	if err != nil {
		return fmt.Errorf("store: rebind session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: rebind session: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
