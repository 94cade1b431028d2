package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// AttachmentEntry is the on-disk record backing an Attachment reference.
// The local path never crosses the trust boundary — only the opaque ID,
// filename, MIME type, and size do (see Attachment in conversations.go).
type AttachmentEntry struct {
	ID        string
	LocalPath string
	Filename  string
	MIME      string
	Size      int64
	CreatedAt time.Time
}

// CreateAttachment inserts a new attachment entry, recorded at upload
// time so the TTL sweep can later find and remove it.
func (s *Store) CreateAttachment(ctx context.Context, a *AttachmentEntry) error {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, local_path, filename, mime, size, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.LocalPath, a.Filename, a.MIME, a.Size, a.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: create attachment: %w", err)
	}
	return nil
}

// GetAttachment loads an attachment entry by its opaque ID.
func (s *Store) GetAttachment(ctx context.Context, id string) (*AttachmentEntry, error) {
	var a AttachmentEntry
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, local_path, filename, mime, size, created_at FROM attachments WHERE id = ?`, id,
	).Scan(&a.ID, &a.LocalPath, &a.Filename, &a.MIME, &a.Size, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get attachment: %w", err)
	}
	a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &a, nil
}

// ExpiredAttachments returns every attachment entry created before the
// cutoff, for the TTL sweep to remove both the row and its on-disk file.
func (s *Store) ExpiredAttachments(ctx context.Context, cutoff time.Time) ([]AttachmentEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, local_path, filename, mime, size, created_at FROM attachments WHERE created_at < ?`,
		cutoff.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("store: expired attachments: %w", err)
	}
	defer rows.Close()

	var out []AttachmentEntry
	for rows.Next() {
		var a AttachmentEntry
		var createdAt string
		if err := rows.Scan(&a.ID, &a.LocalPath, &a.Filename, &a.MIME, &a.Size, &createdAt); err != nil {
			return nil, fmt.Errorf("store: scan attachment: %w", err)
		}
		a.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		out = append(out, a)
	}
	return out, rows.Err()
}

// DeleteAttachment removes an attachment's row. Removing the on-disk file
// is the caller's responsibility (the sweep does both; see
// internal/attachments.Store.SweepExpired).
func (s *Store) DeleteAttachment(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete attachment: %w", err)
	}
	return nil
}
