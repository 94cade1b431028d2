// Package ws implements the WebSocket dispatcher: inbound envelope
// validation, type-based routing, and ordered outbound event emission
// for one connection's conversational turns.
//
// Parsing is two-stage: validate the message's shape before ever
// looking up a handler.
package ws

import (
	"encoding/json"
	"fmt"
)

const protocolVersion = 1

// Error codes the dispatcher returns for malformed input, before any
// handler runs.
const (
	ErrInvalidJSON        = "INVALID_JSON"
	ErrInvalidEnvelope    = "INVALID_ENVELOPE"
	ErrUnsupportedVersion = "UNSUPPORTED_VERSION"
	ErrUnknownType        = "UNKNOWN_TYPE"
)

// inboundEnvelope is the generic shape every client message carries;
// type-specific fields are decoded from Raw by each handler.
type inboundEnvelope struct {
	V    int             `json:"v"`
	Type string          `json:"type"`
	Raw  json.RawMessage `json:"-"`
}

// parseEnvelope validates shape before content: invalid JSON, a
// non-object payload, and an unsupported version are all rejected here
// so handlers never see a malformed envelope.
func parseEnvelope(data []byte) (inboundEnvelope, string, error) {
	var generic map[string]json.RawMessage
	if err := json.Unmarshal(data, &generic); err != nil {
		return inboundEnvelope{}, ErrInvalidJSON, fmt.Errorf("ws: invalid JSON: %w", err)
	}

	vRaw, hasV := generic["v"]
	typeRaw, hasType := generic["type"]
	if !hasV || !hasType {
		return inboundEnvelope{}, ErrInvalidEnvelope, fmt.Errorf("ws: envelope missing v or type")
	}

	var v int
	if err := json.Unmarshal(vRaw, &v); err != nil {
		return inboundEnvelope{}, ErrInvalidEnvelope, fmt.Errorf("ws: envelope v must be an integer")
	}
	var typ string
	if err := json.Unmarshal(typeRaw, &typ); err != nil {
		return inboundEnvelope{}, ErrInvalidEnvelope, fmt.Errorf("ws: envelope type must be a string")
	}
	if v != protocolVersion {
		return inboundEnvelope{}, ErrUnsupportedVersion, fmt.Errorf("ws: unsupported version %d", v)
	}

	return inboundEnvelope{V: v, Type: typ, Raw: data}, "", nil
}
