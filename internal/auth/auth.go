// Package auth implements gateway identity, pairing, and bearer-token
// authentication.
//
// Pairing converts a physically displayed six-digit code into a bearer
// token: a client calls CreatePairingSession, a human reads the code off
// /pair (served by the HTTP router), and a second client submits the code
// via ConfirmPairing to redeem a token. Tokens are stored only as SHA-256
// hashes; the plaintext exists solely on issue and in client storage.
package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

// PairingTTL is the lifetime of a pairing session before it expires.
const PairingTTL = 10 * time.Minute

// MaxPairingAttempts is the hard cap on wrong-code guesses per session.
const MaxPairingAttempts = 5

// ConfirmResult enumerates the outcomes of ConfirmPairing.
type ConfirmResult string

const (
	ConfirmOK          ConfirmResult = "ok"
	ConfirmNotFound    ConfirmResult = "not_found"
	ConfirmAlreadyUsed ConfirmResult = "already_used"
	ConfirmExpired     ConfirmResult = "expired"
	ConfirmRateLimited ConfirmResult = "rate_limited"
	ConfirmWrongCode   ConfirmResult = "wrong_code"
)

// Clock abstracts time.Now for deterministic tests, following the same
// seam the scheduler's cron engine uses.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Store is the persistence interface auth.Store depends on.
type Store interface {
	GetGatewaySettings(ctx context.Context) (*store.GatewaySettings, error)
	CreateGatewaySettings(ctx context.Context, g *store.GatewaySettings) error
	CreatePairingSession(ctx context.Context, p *store.PairingSession) error
	GetPairingSession(ctx context.Context, id string) (*store.PairingSession, error)
	MostRecentActivePairingSession(ctx context.Context, now time.Time) (*store.PairingSession, error)
	IncrementPairingAttempts(ctx context.Context, id string) (int, error)
	MarkPairingUsed(ctx context.Context, id string) error
	CreateToken(ctx context.Context, t *store.Token) error
	GetTokenByHash(ctx context.Context, hash string) (*store.Token, error)
	TouchToken(ctx context.Context, id string) error
	RevokeToken(ctx context.Context, id string) error
	ListTokens(ctx context.Context) ([]store.Token, error)
}

// Gate manages gateway identity, pairing, and bearer tokens.
type Gate struct {
	store Store
	clock Clock
}

// New creates a Gate backed by the given Store.
func New(s Store) *Gate {
	return &Gate{store: s, clock: realClock{}}
}

// WithClock overrides the clock, for tests.
func (g *Gate) WithClock(c Clock) *Gate {
	g.clock = c
	return g
}

// EnsureGatewaySettings assigns a stable gateway id and name on first run.
// Idempotent: subsequent calls return the existing settings.
func (g *Gate) EnsureGatewaySettings(ctx context.Context, defaultName string) (*store.GatewaySettings, error) {
	existing, err := g.store.GetGatewaySettings(ctx)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("auth: ensure gateway settings: %w", err)
	}

	settings := &store.GatewaySettings{ID: uuid.NewString(), Name: defaultName}
	if err := g.store.CreateGatewaySettings(ctx, settings); err != nil {
		return nil, fmt.Errorf("auth: create gateway settings: %w", err)
	}
	return settings, nil
}

// CreatePairingSession mints a new six-digit code with a 10 minute TTL.
func (g *Gate) CreatePairingSession(ctx context.Context) (*store.PairingSession, error) {
	code, err := randomSixDigitCode()
	if err != nil {
		return nil, fmt.Errorf("auth: generate pairing code: %w", err)
	}

	p := &store.PairingSession{
		ID:        uuid.NewString(),
		Code:      code,
		ExpiresAt: g.clock.Now().Add(PairingTTL),
	}
	if err := g.store.CreatePairingSession(ctx, p); err != nil {
		return nil, fmt.Errorf("auth: create pairing session: %w", err)
	}
	return p, nil
}

// ActiveOrNewPairingSession reuses the most recent unexpired, unused
// pairing session if one exists, otherwise mints a new one.
func (g *Gate) ActiveOrNewPairingSession(ctx context.Context) (*store.PairingSession, error) {
	existing, err := g.store.MostRecentActivePairingSession(ctx, g.clock.Now())
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("auth: active pairing session: %w", err)
	}
	return g.CreatePairingSession(ctx)
}

// ConfirmPairing validates a submitted code against a pairing session and,
// on success, issues a bearer token. The plaintext token is returned only
// here; it is never persisted or logged.
func (g *Gate) ConfirmPairing(ctx context.Context, pairingID, code, deviceName string) (result ConfirmResult, token string, err error) {
	p, err := g.store.GetPairingSession(ctx, pairingID)
	if errors.Is(err, store.ErrNotFound) {
		return ConfirmNotFound, "", nil
	}
	if err != nil {
		return "", "", fmt.Errorf("auth: confirm pairing: %w", err)
	}

	if p.UsedAt != nil {
		return ConfirmAlreadyUsed, "", nil
	}
	if g.clock.Now().After(p.ExpiresAt) {
		return ConfirmExpired, "", nil
	}
	if p.Attempts >= MaxPairingAttempts {
		return ConfirmRateLimited, "", nil
	}

	if code != p.Code {
		// The attempt that reaches the cap still reports wrong_code;
		// rate_limited starts with the next confirm call.
		if _, aerr := g.store.IncrementPairingAttempts(ctx, pairingID); aerr != nil {
			return "", "", fmt.Errorf("auth: increment pairing attempts: %w", aerr)
		}
		return ConfirmWrongCode, "", nil
	}

	if err := g.store.MarkPairingUsed(ctx, pairingID); err != nil {
		return "", "", fmt.Errorf("auth: mark pairing used: %w", err)
	}

	raw, hash, err := newToken()
	if err != nil {
		return "", "", fmt.Errorf("auth: generate token: %w", err)
	}
	if err := g.store.CreateToken(ctx, &store.Token{ID: uuid.NewString(), TokenHash: hash, DeviceName: deviceName}); err != nil {
		return "", "", fmt.Errorf("auth: persist token: %w", err)
	}

	return ConfirmOK, raw, nil
}

// VerifyToken looks up a raw bearer token by its hash, rejecting revoked
// tokens, and updates LastUsedAt on success.
func (g *Gate) VerifyToken(ctx context.Context, raw string) (*store.Token, error) {
	hash := hashToken(raw)
	t, err := g.store.GetTokenByHash(ctx, hash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("auth: verify token: %w", err)
	}
	if t.RevokedAt != nil {
		return nil, ErrUnauthorized
	}
	if err := g.store.TouchToken(ctx, t.ID); err != nil {
		return nil, fmt.Errorf("auth: touch token: %w", err)
	}
	return t, nil
}

// RevokeToken revokes a token by ID.
func (g *Gate) RevokeToken(ctx context.Context, id string) error {
	return g.store.RevokeToken(ctx, id)
}

// ListTokens returns all tokens (hashes only, never plaintext).
func (g *Gate) ListTokens(ctx context.Context) ([]store.Token, error) {
	return g.store.ListTokens(ctx)
}

// ErrUnauthorized is returned by VerifyToken when the token is unknown or
// revoked.
var ErrUnauthorized = errors.New("auth: unauthorized")

func randomSixDigitCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}

func newToken() (raw string, hash string, err error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	raw = hex.EncodeToString(buf)
	return raw, hashToken(raw), nil
}

func hashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}
