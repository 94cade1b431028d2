// Package memory is the long-term memory layer: durable, typed facts
// and preferences extracted from conversations, recalled either by
// embedding cosine similarity or, when no embedder is configured, a
// textual scope-based fallback.
//
// Records are typed MemoryRecord entries with kind/scope/confidence/
// status, each independently superseded as facts change.
package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
)

// ScopeGlobal is the scope key for facts that apply across every
// conversation (as opposed to a single conversation/sender pair).
const ScopeGlobal = "global"

// Store is the long-term memory surface the agent loop recalls from and
// the extractor writes to.
type Store struct {
	db       *store.Store
	embedder provider.EmbeddingProvider
}

// New returns a memory Store. embedder may be the no-op implementation,
// in which case Recall falls back to ActiveMemoriesByScope instead of
// similarity search — the same branch-free design
// internal/provider.EmbeddingProvider documents for its no-op case.
func New(db *store.Store, embedder provider.EmbeddingProvider) *Store {
	return &Store{db: db, embedder: embedder}
}

// Remember inserts a new active memory record, embedding its content if
// an embedder is configured.
func (s *Store) Remember(ctx context.Context, kind store.MemoryKind, scope, title, content, source string, confidence float64) (*store.MemoryRecord, error) {
	rec := &store.MemoryRecord{
		ID:         uuid.NewString(),
		Kind:       kind,
		Title:      title,
		Content:    content,
		Scope:      scope,
		Source:     source,
		Confidence: confidence,
	}
	if err := s.embed(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.db.InsertMemory(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Supersede replaces oldID with a freshly embedded record carrying the
// same kind/scope, in one atomic transition.
func (s *Store) Supersede(ctx context.Context, oldID string, kind store.MemoryKind, scope, title, content, source string, confidence float64) (*store.MemoryRecord, error) {
	rec := &store.MemoryRecord{
		ID:         uuid.NewString(),
		Kind:       kind,
		Title:      title,
		Content:    content,
		Scope:      scope,
		Source:     source,
		Confidence: confidence,
	}
	if err := s.embed(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.db.Supersede(ctx, oldID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// RememberOrSupersede persists a candidate fact, superseding an
// existing active record that fills the same slot (same kind and
// scope, title compared case-insensitively) instead of accumulating a
// second permanently-active copy. Restating an unchanged fact is a
// no-op that returns the existing record.
func (s *Store) RememberOrSupersede(ctx context.Context, kind store.MemoryKind, scope, title, content, source string, confidence float64) (*store.MemoryRecord, error) {
	existing, err := s.db.ActiveMemoriesByScope(ctx, scope)
	if err != nil {
		return nil, fmt.Errorf("memory: look up conflicting records: %w", err)
	}
	for i := range existing {
		rec := &existing[i]
		if rec.Kind != kind || !strings.EqualFold(rec.Title, title) {
			continue
		}
		if rec.Content == content {
			return rec, nil
		}
		return s.Supersede(ctx, rec.ID, kind, scope, title, content, source, confidence)
	}
	return s.Remember(ctx, kind, scope, title, content, source, confidence)
}

func (s *Store) embed(ctx context.Context, rec *store.MemoryRecord) error {
	if s.embedder == nil {
		return nil
	}
	vec, err := s.embedder.Embed(ctx, rec.Title+"\n"+rec.Content)
	if err != nil {
		return fmt.Errorf("memory: embed record: %w", err)
	}
	rec.Embedding = vec
	return nil
}

// Recall returns the topK memory records most relevant to query, scoped
// to scope. When an embedder is configured it ranks every active record
// (in scope or global) by cosine similarity to the embedded query;
// otherwise it ignores query and returns active records in scope
// followed by global ones, cut to topK.
func (s *Store) Recall(ctx context.Context, query, scope string, topK int) ([]store.MemoryRecord, error) {
	if topK <= 0 {
		return nil, nil
	}

	if s.embedder == nil {
		return s.recallTextual(ctx, scope, topK)
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("memory: embed query: %w", err)
	}
	if len(queryVec) == 0 {
		return s.recallTextual(ctx, scope, topK)
	}

	records, err := s.db.AllActiveMemories(ctx)
	if err != nil {
		return nil, err
	}

	type scored struct {
		rec   store.MemoryRecord
		score float64
	}
	candidates := make([]scored, 0, len(records))
	for _, r := range records {
		if r.Scope != scope && r.Scope != ScopeGlobal {
			continue
		}
		if len(r.Embedding) == 0 {
			continue
		}
		candidates = append(candidates, scored{rec: r, score: cosineSimilarity(queryVec, r.Embedding)})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if topK > len(candidates) {
		topK = len(candidates)
	}
	out := make([]store.MemoryRecord, topK)
	for i := 0; i < topK; i++ {
		out[i] = candidates[i].rec
	}
	return out, nil
}

func (s *Store) recallTextual(ctx context.Context, scope string, topK int) ([]store.MemoryRecord, error) {
	records, err := s.db.ActiveMemoriesByScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	if scope != ScopeGlobal {
		globals, err := s.db.ActiveMemoriesByScope(ctx, ScopeGlobal)
		if err != nil {
			return nil, err
		}
		records = append(records, globals...)
	}
	if topK > len(records) {
		topK = len(records)
	}
	return records[:topK], nil
}

// cosineSimilarity returns the cosine similarity of a and b, or 0 if
// either is empty or zero-magnitude.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
