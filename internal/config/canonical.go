package config

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/maziarzamani/spaceduck-sub000/common/redact"
)

// Rev computes the revision for a document: sha256 of the canonical
// serialization of its redacted form. Canonical serialization sorts
// object keys and uses Go's default stable float formatting, so the
// same logical document always hashes identically regardless of
// struct field order.
func Rev(cfg Document) (string, error) {
	generic, err := toGeneric(cfg)
	if err != nil {
		return "", fmt.Errorf("config: canonicalize for rev: %w", err)
	}

	redacted := redact.JSONPointerPaths(generic, SecretPaths())

	canon, err := canonicalJSON(redacted)
	if err != nil {
		return "", fmt.Errorf("config: canonicalize for rev: %w", err)
	}

	sum := sha256.Sum256(canon)
	return hex.EncodeToString(sum[:]), nil
}

// toGeneric round-trips cfg through JSON to obtain a map[string]any /
// []any tree that redact.JSONPointerPaths and canonicalJSON both
// operate on.
func toGeneric(cfg Document) (any, error) {
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return generic, nil
}

// canonicalJSON serializes a generic JSON tree with object keys sorted,
// sorted object keys and stable number formatting.
func canonicalJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeCanonical(buf *bytes.Buffer, v any) error {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return err
			}
			buf.Write(kb)
			buf.WriteByte(':')
			if err := writeCanonical(buf, t[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
		return nil

	case []any:
		buf.WriteByte('[')
		for i, elem := range t {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
		return nil

	default:
		b, err := json.Marshal(t)
		if err != nil {
			return err
		}
		buf.Write(b)
		return nil
	}
}
