package config

import (
	"bytes"
	"encoding/json"
)

// unmarshalStrict decodes data into doc, rejecting unknown fields so a
// typo'd config key surfaces as a load-time error instead of silently
// being dropped.
func unmarshalStrict(data []byte, doc *Document) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	return dec.Decode(doc)
}

// marshalIndent produces the on-disk canonical form: exactly
// json.MarshalIndent(doc, "", "  ") plus a trailing newline.
func marshalIndent(doc Document) ([]byte, error) {
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
