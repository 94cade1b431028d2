package ws_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/maziarzamani/spaceduck-sub000/internal/agent"
	"github.com/maziarzamani/spaceduck-sub000/internal/store"
	"github.com/maziarzamani/spaceduck-sub000/internal/ws"
)

// scriptedLoop is a stand-in agent that streams a fixed reply through
// the sink, so tests can assert the dispatcher's emission order without
// a provider.
type scriptedLoop struct {
	deltas []string
}

func (l *scriptedLoop) RunTurn(_ context.Context, conversationID, _ string, sink agent.EventSink) (string, error) {
	sink.OnProcessingStarted()
	for _, d := range l.deltas {
		sink.OnDelta(d)
	}
	final := strings.Join(l.deltas, "")
	sink.OnDone("msg-1", final)
	return final, nil
}

func newTestSocket(t *testing.T) *websocket.Conn {
	t.Helper()

	f, err := os.CreateTemp(t.TempDir(), "ws-test-*.db")
	if err != nil {
		t.Fatalf("temp db: %v", err)
	}
	f.Close()
	db, err := store.New(f.Name())
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	dispatcher := ws.New(db, &scriptedLoop{deltas: []string{"hello ", "world"}}, nil)

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wsConn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := ws.NewConn(wsConn, "tester", "ws")
		for {
			_, frame, err := wsConn.ReadMessage()
			if err != nil {
				return
			}
			dispatcher.Handle(r.Context(), conn, frame)
		}
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func readEnvelope(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, frame, err := c.ReadMessage()
	if err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	var env map[string]any
	if err := json.Unmarshal(frame, &env); err != nil {
		t.Fatalf("decode envelope %s: %v", frame, err)
	}
	return env
}

func TestMessageSendEmissionOrder(t *testing.T) {
	client := newTestSocket(t)

	err := client.WriteJSON(map[string]any{
		"v": 1, "type": "message.send", "requestId": "req-1", "content": "hi",
	})
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	var types []string
	deltas := ""
	for {
		env := readEnvelope(t, client)
		typ, _ := env["type"].(string)
		types = append(types, typ)

		if env["requestId"] != "req-1" {
			t.Errorf("envelope %s missing requestId: %v", typ, env)
		}
		if typ == "stream.delta" {
			deltas += env["text"].(string)
		}
		if typ == "stream.done" || typ == "stream.error" {
			break
		}
	}

	if types[0] != "message.accepted" || types[1] != "processing.started" {
		t.Fatalf("emission order = %v, want message.accepted then processing.started first", types)
	}
	if last := types[len(types)-1]; last != "stream.done" {
		t.Fatalf("terminal envelope = %s, want stream.done", last)
	}
	if deltas != "hello world" {
		t.Errorf("concatenated deltas = %q, want %q", deltas, "hello world")
	}
}

func TestMalformedEnvelopes(t *testing.T) {
	client := newTestSocket(t)

	cases := []struct {
		frame    string
		wantCode string
	}{
		{`{broken`, "INVALID_JSON"},
		{`{"type":"message.send"}`, "INVALID_ENVELOPE"},
		{`{"v":9,"type":"message.send"}`, "UNSUPPORTED_VERSION"},
		{`{"v":1,"type":"no.such.type"}`, "UNKNOWN_TYPE"},
	}

	for _, tc := range cases {
		if err := client.WriteMessage(websocket.TextMessage, []byte(tc.frame)); err != nil {
			t.Fatalf("write %s: %v", tc.frame, err)
		}
		env := readEnvelope(t, client)
		if env["type"] != "error" || env["code"] != tc.wantCode {
			t.Errorf("frame %s: got %v, want error envelope with code %s", tc.frame, env, tc.wantCode)
		}
	}
}
