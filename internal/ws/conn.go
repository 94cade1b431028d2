package ws

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn wraps one upgraded WebSocket connection. gorilla/websocket
// forbids concurrent writes on the same connection, so every outbound
// send goes through writeMu, a mutex rather than a dedicated writer
// goroutine since sends are already short-lived.
type Conn struct {
	ws        *websocket.Conn
	writeMu   sync.Mutex
	SenderID  string
	ChannelID string
	ConnectedAt time.Time
}

// NewConn wraps ws with the per-connection identity the dispatcher and
// handlers need.
func NewConn(wsConn *websocket.Conn, senderID, channelID string) *Conn {
	return &Conn{ws: wsConn, SenderID: senderID, ChannelID: channelID, ConnectedAt: time.Now()}
}

// send writes one JSON envelope, serializing concurrent callers.
func (c *Conn) send(fields map[string]any) error {
	fields["v"] = protocolVersion
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.ws.WriteJSON(fields)
}

// SendError emits a top-level error envelope, used for malformed
// inbound envelopes that never reach a handler.
func (c *Conn) SendError(code, message string) error {
	return c.send(map[string]any{"type": "error", "code": code, "message": message})
}

// Accepted acknowledges a message.send request before any processing
// begins.
func (c *Conn) Accepted(requestID string) error {
	return c.send(map[string]any{"type": "message.accepted", "requestId": requestID})
}

// ProcessingStarted reports that the run lock was acquired and the
// agent loop is now running.
func (c *Conn) ProcessingStarted(requestID string) error {
	return c.send(map[string]any{"type": "processing.started", "requestId": requestID})
}

// StreamDelta forwards one content chunk.
func (c *Conn) StreamDelta(requestID, text string) error {
	return c.send(map[string]any{"type": "stream.delta", "requestId": requestID, "text": text})
}

// ToolCalling reports a tool call about to run.
func (c *Conn) ToolCalling(requestID, name string) error {
	return c.send(map[string]any{"type": "tool.calling", "requestId": requestID, "name": name})
}

// ToolResult reports a tool call's outcome.
func (c *Conn) ToolResult(requestID, name, result string, isError bool) error {
	return c.send(map[string]any{
		"type": "tool.result", "requestId": requestID, "name": name,
		"result": result, "isError": isError,
	})
}

// StreamDone emits the terminal success event for a request.
func (c *Conn) StreamDone(requestID, messageID string) error {
	return c.send(map[string]any{"type": "stream.done", "requestId": requestID, "messageId": messageID})
}

// StreamError emits the terminal failure event for a request.
func (c *Conn) StreamError(requestID, code, message string) error {
	return c.send(map[string]any{
		"type": "stream.error", "requestId": requestID, "code": code, "message": message,
	})
}

// SendTyped marshals payload's fields alongside a type tag, for the
// conversation.* replies whose shape varies by type.
func (c *Conn) SendTyped(typ string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var fields map[string]any
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	fields["type"] = typ
	return c.send(fields)
}
