package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// atomicWrite writes data to path by first writing a sibling temp file
// then renaming over the target, so a crash mid-write never leaves a
// truncated document on disk.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}

	suffix, err := randomSuffix()
	if err != nil {
		return fmt.Errorf("config: atomic write: %w", err)
	}
	tmp := filepath.Join(dir, fmt.Sprintf(".%s.tmp-%d-%s", filepath.Base(path), time.Now().UnixNano(), suffix))

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("config: write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("config: rename temp file: %w", err)
	}
	return nil
}

func randomSuffix() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
