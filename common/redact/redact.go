// Package redact provides helpers for stripping sensitive values from log
// output, structured data, and config snapshots before they leave the
// process boundary.
//
// # Threat model
//
// Secrets (provider API keys, channel tokens, etc.) must never appear in:
//   - Log lines emitted by the gateway
//   - Audit payloads stored in SQLite (except the encrypted blob)
//   - Config revision hashes or redacted config reads
//
// Redaction is best-effort: it operates on string representations and relies
// on callers to pass the right set of sensitive terms.  It is NOT a substitute
// for keeping secrets out of log call-sites in the first place.
package redact

import (
	"strings"
)

const placeholder = "[REDACTED]"

// String replaces every occurrence of each sensitive value in s with
// [REDACTED].  Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
//
// Example:
//
//	safe := redact.String(logLine, apiKey, matrixToken)
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Map returns a shallow copy of m with values replaced by [REDACTED] for
// every key whose name suggests it contains a secret (password, token, key,
// secret, credential, auth).  Non-string values are left unchanged.
func Map(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		if isSensitiveKey(k) {
			if str, ok := v.(string); ok && str != "" {
				out[k] = placeholder
				continue
			}
		}
		out[k] = v
	}
	return out
}

// isSensitiveKey returns true when the key name suggests it holds a secret.
func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, word := range []string{"password", "passwd", "token", "secret", "key", "credential", "auth", "apikey"} {
		if strings.Contains(lower, word) {
			return true
		}
	}
	return false
}

// JSONPointerPaths walks a generically-decoded JSON document (the shape
// produced by json.Unmarshal into interface{}) and removes the value at each
// given "/"-separated JSON Pointer path, replacing it with nil. The input is
// not mutated; a deep copy is redacted and returned.
//
// Unknown paths are silently ignored: callers pass the full known-secret-path
// set and not every path need be present in every document.
func JSONPointerPaths(doc any, paths []string) any {
	out := deepCopy(doc)
	for _, p := range paths {
		segs := splitPointer(p)
		if len(segs) == 0 {
			continue
		}
		redactAt(out, segs)
	}
	return out
}

func splitPointer(p string) []string {
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}

func redactAt(node any, segs []string) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	if len(segs) == 1 {
		if _, present := m[segs[0]]; present {
			m[segs[0]] = nil
		}
		return
	}
	child, ok := m[segs[0]]
	if !ok {
		return
	}
	redactAt(child, segs[1:])
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = deepCopy(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = deepCopy(val)
		}
		return out
	default:
		return v
	}
}
