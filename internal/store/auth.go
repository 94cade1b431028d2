package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// GatewaySettings holds the gateway's stable identity, assigned once on
// first run.
type GatewaySettings struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Token is a persisted bearer token. The plaintext value is never stored —
// only its SHA-256 hash.
type Token struct {
	ID         string
	TokenHash  string
	DeviceName string
	CreatedAt  time.Time
	LastUsedAt *time.Time
	RevokedAt  *time.Time
}

// PairingSession is a short-lived code-to-token exchange (10 minute TTL,
// 5 wrong-attempt cap — enforced by internal/auth, not here).
type PairingSession struct {
	ID        string
	Code      string
	ExpiresAt time.Time
	Attempts  int
	UsedAt    *time.Time
	CreatedAt time.Time
}

// GetGatewaySettings returns the singleton gateway settings row, or
// ErrNotFound if auth.Gate.EnsureGatewaySettings has not run yet.
func (s *Store) GetGatewaySettings(ctx context.Context) (*GatewaySettings, error) {
	var g GatewaySettings
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, name, created_at FROM gateway_settings LIMIT 1`).
		Scan(&g.ID, &g.Name, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get gateway settings: %w", err)
	}
	g.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return &g, nil
}

// CreateGatewaySettings inserts the one-time gateway identity row.
func (s *Store) CreateGatewaySettings(ctx context.Context, g *GatewaySettings) error {
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gateway_settings (id, name, created_at) VALUES (?, ?, ?)`,
		g.ID, g.Name, g.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: create gateway settings: %w", err)
	}
	return nil
}

// CreatePairingSession inserts a new pairing session.
func (s *Store) CreatePairingSession(ctx context.Context, p *PairingSession) error {
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pairing_sessions (id, code, expires_at, attempts, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		p.ID, p.Code, p.ExpiresAt.UTC().Format(time.RFC3339Nano), p.Attempts,
		p.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: create pairing session: %w", err)
	}
	return nil
}

// GetPairingSession loads a pairing session by ID.
func (s *Store) GetPairingSession(ctx context.Context, id string) (*PairingSession, error) {
	var p PairingSession
	var expiresAt, createdAt string
	var usedAt sql.NullString
	err := s.db.QueryRowContext(ctx, `
		SELECT id, code, expires_at, attempts, used_at, created_at FROM pairing_sessions WHERE id = ?`, id,
	).Scan(&p.ID, &p.Code, &expiresAt, &p.Attempts, &usedAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get pairing session: %w", err)
	}
	p.ExpiresAt, _ = time.Parse(time.RFC3339Nano, expiresAt)
	p.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if usedAt.Valid {
		t, _ := time.Parse(time.RFC3339Nano, usedAt.String)
		p.UsedAt = &t
	}
	return &p, nil
}

// MostRecentActivePairingSession returns the newest unused, unexpired
// pairing session, or ErrNotFound if none exists — used by
// /api/pair/start to reuse an active session instead of minting a new one.
func (s *Store) MostRecentActivePairingSession(ctx context.Context, now time.Time) (*PairingSession, error) {
	var id string
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM pairing_sessions
		WHERE used_at IS NULL AND expires_at > ?
		ORDER BY created_at DESC LIMIT 1`,
		now.UTC().Format(time.RFC3339Nano),
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: most recent pairing session: %w", err)
	}
	return s.GetPairingSession(ctx, id)
}

// IncrementPairingAttempts bumps the attempt counter and returns the new
// value.
func (s *Store) IncrementPairingAttempts(ctx context.Context, id string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: increment pairing attempts: %w", err)
	}
	defer tx.Rollback()

	var attempts int
	if err := tx.QueryRowContext(ctx, `SELECT attempts FROM pairing_sessions WHERE id = ?`, id).Scan(&attempts); err != nil {
		return 0, fmt.Errorf("store: increment pairing attempts: %w", err)
	}
	attempts++
	if _, err := tx.ExecContext(ctx, `UPDATE pairing_sessions SET attempts = ? WHERE id = ?`, attempts, id); err != nil {
		return 0, fmt.Errorf("store: increment pairing attempts: %w", err)
	}
	return attempts, tx.Commit()
}

// MarkPairingUsed marks a pairing session used (consumed).
func (s *Store) MarkPairingUsed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE pairing_sessions SET used_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id,
	)
	if err != nil {
		return fmt.Errorf("store: mark pairing used: %w", err)
	}
	return nil
}

// CreateToken inserts a new token row. Only the hash is persisted.
func (s *Store) CreateToken(ctx context.Context, t *Token) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tokens (id, token_hash, device_name, created_at)
		VALUES (?, ?, ?, ?)`,
		t.ID, t.TokenHash, nullIfEmpty(t.DeviceName), t.CreatedAt.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("store: create token: %w", err)
	}
	return nil
}

// GetTokenByHash looks up a token by its hash, revoked or not; callers
// check RevokedAt.
func (s *Store) GetTokenByHash(ctx context.Context, hash string) (*Token, error) {
	var t Token
	var deviceName, lastUsedAt, revokedAt sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, token_hash, device_name, created_at, last_used_at, revoked_at
		FROM tokens WHERE token_hash = ?`, hash,
	).Scan(&t.ID, &t.TokenHash, &deviceName, &createdAt, &lastUsedAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get token by hash: %w", err)
	}
	if deviceName.Valid {
		t.DeviceName = deviceName.String
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	if lastUsedAt.Valid {
		ts, _ := time.Parse(time.RFC3339Nano, lastUsedAt.String)
		t.LastUsedAt = &ts
	}
	if revokedAt.Valid {
		ts, _ := time.Parse(time.RFC3339Nano, revokedAt.String)
		t.RevokedAt = &ts
	}
	return &t, nil
}

// TouchToken updates last_used_at to now.
func (s *Store) TouchToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tokens SET last_used_at = ? WHERE id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	return err
}

// RevokeToken sets revoked_at to now. Idempotent.
func (s *Store) RevokeToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE tokens SET revoked_at = ? WHERE id = ? AND revoked_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("store: revoke token: %w", err)
	}
	return nil
}

// ListTokens returns all tokens, revoked or not.
func (s *Store) ListTokens(ctx context.Context) ([]Token, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, token_hash, device_name, created_at, last_used_at, revoked_at
		FROM tokens ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list tokens: %w", err)
	}
	defer rows.Close()

	var out []Token
	for rows.Next() {
		var t Token
		var deviceName, lastUsedAt, revokedAt sql.NullString
		var createdAt string
		if err := rows.Scan(&t.ID, &t.TokenHash, &deviceName, &createdAt, &lastUsedAt, &revokedAt); err != nil {
			return nil, fmt.Errorf("store: scan token: %w", err)
		}
		if deviceName.Valid {
			t.DeviceName = deviceName.String
		}
		t.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		if lastUsedAt.Valid {
			ts, _ := time.Parse(time.RFC3339Nano, lastUsedAt.String)
			t.LastUsedAt = &ts
		}
		if revokedAt.Valid {
			ts, _ := time.Parse(time.RFC3339Nano, revokedAt.String)
			t.RevokedAt = &ts
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
