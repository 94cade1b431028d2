package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// ErrConflict is returned by Patch when expectedRev does not match the
// current revision.
type ErrConflict struct {
	ActualRev string
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("config: revision conflict, current rev is %s", e.ActualRev)
}

// Store is the single source of truth for the declarative runtime
// configuration. All writes — patches and secret set/unset — serialize
// through writeMu so concurrent HTTP requests can never interleave a
// validate-then-write sequence.
type Store struct {
	path    string
	secrets *secretStore

	writeMu sync.Mutex // single-writer chain for validate→write sequences

	cacheMu sync.RWMutex
	cached  Document
	rev     string
}

// New loads the configuration from configDir, writing defaults
// atomically if the file does not yet exist, and opens the sibling
// encrypted secret store using masterKey.
func New(configDir string, masterKey []byte) (*Store, error) {
	secrets, err := newSecretStore(configDir, masterKey)
	if err != nil {
		return nil, err
	}

	s := &Store{
		path:    filepath.Join(configDir, "spaceduck.config.json5"),
		secrets: secrets,
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		doc := Defaults()
		applyDefaults(&doc)
		if err := Validate(&doc); err != nil {
			return fmt.Errorf("config: default document failed validation: %w", err)
		}
		if err := s.writeDocument(doc); err != nil {
			return err
		}
		return s.setCache(doc)
	}
	if err != nil {
		return fmt.Errorf("config: read config file: %w", err)
	}

	plain := stripJSONC(raw)
	doc := Defaults()
	if err := unmarshalStrict(plain, &doc); err != nil {
		return fmt.Errorf("config: parse config file: %w", err)
	}
	applyDefaults(&doc)
	if err := Validate(&doc); err != nil {
		return fmt.Errorf("config: validate loaded document: %w", err)
	}
	return s.setCache(doc)
}

func (s *Store) setCache(doc Document) error {
	rev, err := Rev(doc)
	if err != nil {
		return err
	}
	s.cacheMu.Lock()
	s.cached = doc
	s.rev = rev
	s.cacheMu.Unlock()
	return nil
}

// Current returns the cached validated snapshot.
func (s *Store) Current() Document {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.cached
}

// Rev returns the cached revision hash.
func (s *Store) Rev() string {
	s.cacheMu.RLock()
	defer s.cacheMu.RUnlock()
	return s.rev
}

// RedactedSnapshot is the response shape for getRedacted.
type RedactedSnapshot struct {
	Config  Document      `json:"config"`
	Rev     string        `json:"rev"`
	Secrets []SecretEntry `json:"secrets"`
}

// GetRedacted returns the current config, its revision, and the
// known-secret-path set-state listing. The document itself never
// contains secret values (they live only in the secret store), so no
// redaction pass is needed on the returned Config beyond that
// structural separation.
func (s *Store) GetRedacted() RedactedSnapshot {
	return RedactedSnapshot{
		Config:  s.Current(),
		Rev:     s.Rev(),
		Secrets: s.secrets.Entries(),
	}
}

// Patch applies ops atomically against expectedRev, in six steps:
// conflict check, secret-path rejection, apply to a clone,
// re-validate, atomic write, restart classification.
func (s *Store) Patch(ops []PatchOp, expectedRev string) PatchResult {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	currentRev := s.Rev()
	if expectedRev != currentRev {
		return PatchResult{Conflict: true, ActualRev: currentRev}
	}

	for _, op := range ops {
		if isSecretPath(op.Path) {
			return PatchResult{
				PatchError:   true,
				ErrorMessage: fmt.Sprintf("path %q is a secret path; use setSecret/unsetSecret instead", op.Path),
			}
		}
	}

	generic, err := toGeneric(s.Current())
	if err != nil {
		return PatchResult{PatchError: true, ErrorMessage: err.Error()}
	}

	mutated, err := applyOps(generic, ops)
	if err != nil {
		return PatchResult{PatchError: true, ErrorMessage: err.Error()}
	}

	doc, err := decodeDocument(mutated)
	if err != nil {
		return PatchResult{PatchError: true, ErrorMessage: err.Error()}
	}

	if err := Validate(&doc); err != nil {
		return PatchResult{Validation: true, Issues: []string{err.Error()}}
	}

	if err := s.writeDocument(doc); err != nil {
		return PatchResult{PatchError: true, ErrorMessage: err.Error()}
	}
	if err := s.setCache(doc); err != nil {
		return PatchResult{PatchError: true, ErrorMessage: err.Error()}
	}

	needsRestart := classifyRestart(touchedPaths(ops))

	return PatchResult{
		Ok:           true,
		NewRev:       s.Rev(),
		NeedsRestart: needsRestart,
	}
}

// SetSecret stores a secret value. It never changes Rev.
func (s *Store) SetSecret(path, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.secrets.Set(path, value)
}

// UnsetSecret removes a secret value. It never changes Rev.
func (s *Store) UnsetSecret(path string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.secrets.Unset(path)
}

// Secret returns the plaintext value for a known secret path, for
// internal consumers (provider/tool builders) that need the raw
// credential. Never exposed over HTTP.
func (s *Store) Secret(path string) (string, bool) {
	return s.secrets.Get(path)
}

func (s *Store) writeDocument(doc Document) error {
	canon, err := marshalIndent(doc)
	if err != nil {
		return fmt.Errorf("config: marshal document: %w", err)
	}
	return atomicWrite(s.path, canon)
}
