package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// MemoryKind categorizes a durable fact extracted from conversations.
type MemoryKind string

const (
	MemoryKindFact       MemoryKind = "fact"
	MemoryKindPreference MemoryKind = "preference"
)

// MemoryStatus is the lifecycle state of a memory record.
type MemoryStatus string

const (
	MemoryStatusActive     MemoryStatus = "active"
	MemoryStatusSuperseded MemoryStatus = "superseded"
)

// MemoryRecord is a durable fact extracted from conversations, optionally
// vector-embedded for similarity recall.
type MemoryRecord struct {
	ID         string
	Kind       MemoryKind
	Title      string
	Content    string
	Scope      string // "global" or a conversation/sender scope key
	Source     string
	Confidence float64
	Status     MemoryStatus
	Embedding  []float32
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// InsertMemory inserts a new active memory record.
func (s *Store) InsertMemory(ctx context.Context, m *MemoryRecord) error {
	now := time.Now().UTC()
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.UpdatedAt = now
	if m.Status == "" {
		m.Status = MemoryStatusActive
	}

	var embeddingJSON []byte
	if len(m.Embedding) > 0 {
		var err error
		embeddingJSON, err = json.Marshal(m.Embedding)
		if err != nil {
			return fmt.Errorf("store: marshal embedding: %w", err)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_records
			(id, kind, title, content, scope, source, confidence, status, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, string(m.Kind), m.Title, m.Content, m.Scope, m.Source, m.Confidence, string(m.Status),
		embeddingJSON, m.CreatedAt.Format(time.RFC3339Nano), m.UpdatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: insert memory: %w", err)
	}
	return nil
}

// Supersede marks oldID superseded and inserts newRecord as active, in a
// single transaction so the transition is atomic: recall can never observe
// both as active, or neither.
func (s *Store) Supersede(ctx context.Context, oldID string, newRecord *MemoryRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: supersede begin: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `
		UPDATE memory_records SET status = ?, updated_at = ? WHERE id = ?`,
		string(MemoryStatusSuperseded), now.Format(time.RFC3339Nano), oldID,
	); err != nil {
		return fmt.Errorf("store: supersede old record: %w", err)
	}

	newRecord.CreatedAt = now
	newRecord.UpdatedAt = now
	newRecord.Status = MemoryStatusActive

	var embeddingJSON []byte
	if len(newRecord.Embedding) > 0 {
		embeddingJSON, err = json.Marshal(newRecord.Embedding)
		if err != nil {
			return fmt.Errorf("store: marshal embedding: %w", err)
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memory_records
			(id, kind, title, content, scope, source, confidence, status, embedding, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		newRecord.ID, string(newRecord.Kind), newRecord.Title, newRecord.Content, newRecord.Scope,
		newRecord.Source, newRecord.Confidence, string(newRecord.Status), embeddingJSON,
		newRecord.CreatedAt.Format(time.RFC3339Nano), newRecord.UpdatedAt.Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("store: insert superseding record: %w", err)
	}

	return tx.Commit()
}

// ActiveMemoriesByScope returns all active memory records for a scope
// (global or a conversation/sender scope key). Used by the textual-fallback
// recall path when no embedding provider is active.
func (s *Store) ActiveMemoriesByScope(ctx context.Context, scope string) ([]MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, content, scope, source, confidence, status, embedding, created_at, updated_at
		FROM memory_records WHERE scope = ? AND status = ? ORDER BY created_at DESC`,
		scope, string(MemoryStatusActive))
	if err != nil {
		return nil, fmt.Errorf("store: query active memories: %w", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

// AllActiveMemories returns every active record across all scopes, used by
// embedding-backed recall which ranks by similarity rather than scope.
func (s *Store) AllActiveMemories(ctx context.Context) ([]MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, content, scope, source, confidence, status, embedding, created_at, updated_at
		FROM memory_records WHERE status = ? ORDER BY created_at DESC`, string(MemoryStatusActive))
	if err != nil {
		return nil, fmt.Errorf("store: query all active memories: %w", err)
	}
	defer rows.Close()
	return scanMemoryRows(rows)
}

func scanMemoryRows(rows *sql.Rows) ([]MemoryRecord, error) {
	var out []MemoryRecord
	for rows.Next() {
		var m MemoryRecord
		var kind, status string
		var embeddingJSON sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&m.ID, &kind, &m.Title, &m.Content, &m.Scope, &m.Source, &m.Confidence,
			&status, &embeddingJSON, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("store: scan memory record: %w", err)
		}
		m.Kind = MemoryKind(kind)
		m.Status = MemoryStatus(status)
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &m.Embedding); err != nil {
				return nil, fmt.Errorf("store: unmarshal embedding: %w", err)
			}
		}
		m.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		m.UpdatedAt, _ = time.Parse(time.RFC3339Nano, updatedAt)
		out = append(out, m)
	}
	return out, rows.Err()
}

// GetMemory loads a single memory record by ID.
func (s *Store) GetMemory(ctx context.Context, id string) (*MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, title, content, scope, source, confidence, status, embedding, created_at, updated_at
		FROM memory_records WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("store: get memory: %w", err)
	}
	defer rows.Close()
	records, err := scanMemoryRows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}
	return &records[0], nil
}
