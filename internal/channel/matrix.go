package channel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// MatrixConfig configures the Matrix channel adapter.
type MatrixConfig struct {
	Homeserver  string
	UserID      string
	AccessToken string
	AdminRooms  []string
}

// Matrix is the Channel implementation backed by a mautrix client. It
// speaks plaintext only: end-to-end encryption is not implemented, so
// secret values sent through a Matrix room remain visible in room
// history.
type Matrix struct {
	cfg    MatrixConfig
	client *mautrix.Client
	stopCh chan struct{}
	log    *slog.Logger

	handler Handler
}

// NewMatrix builds (but does not start) a Matrix channel.
func NewMatrix(cfg MatrixConfig, log *slog.Logger) (*Matrix, error) {
	if log == nil {
		log = slog.Default()
	}
	client, err := mautrix.NewClient(cfg.Homeserver, id.UserID(cfg.UserID), cfg.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("channel: matrix client: %w", err)
	}
	return &Matrix{cfg: cfg, client: client, stopCh: make(chan struct{}), log: log}, nil
}

// Name returns the channel's registry key.
func (m *Matrix) Name() string { return "matrix" }

// OnMessage registers the gateway's inbound message handler.
func (m *Matrix) OnMessage(h Handler) { m.handler = h }

// Start joins the configured admin rooms and begins syncing in the
// background with exponential-backoff reconnection, so a transient
// homeserver error never silently kills the sync loop.
func (m *Matrix) Start(ctx context.Context) error {
	m.log.Warn("channel: matrix E2EE is not enabled; messages are transmitted in plaintext")

	syncer := m.client.Syncer.(*mautrix.DefaultSyncer)
	syncer.OnEventType(event.EventMessage, m.handleEvent)

	for _, roomID := range m.cfg.AdminRooms {
		if err := m.joinRoom(id.RoomID(roomID)); err != nil {
			return fmt.Errorf("channel: matrix join room %s: %w", roomID, err)
		}
	}

	go func() {
		const (
			backoffMin = 2 * time.Second
			backoffMax = 5 * time.Minute
		)
		backoff := backoffMin
		for {
			if err := m.client.Sync(); err != nil {
				select {
				case <-m.stopCh:
					return
				default:
				}
				m.log.Error("channel: matrix sync stopped; reconnecting", "err", err, "backoff", backoff)
				select {
				case <-m.stopCh:
					return
				case <-time.After(backoff):
				}
				backoff *= 2
				if backoff > backoffMax {
					backoff = backoffMax
				}
				continue
			}
			return
		}
	}()

	return nil
}

// Stop halts the sync goroutine.
func (m *Matrix) Stop() error {
	select {
	case <-m.stopCh:
	default:
		close(m.stopCh)
	}
	m.client.StopSync()
	return nil
}

// SendDelta is a no-op for Matrix: per the channel contract, channels
// deliver one final message on SendDone rather than streaming partial
// content to the remote side.
func (m *Matrix) SendDelta(string, string, Reference) error { return nil }

// SendDone posts the final assistant message to the room the inbound
// message arrived from.
func (m *Matrix) SendDone(senderID, messageID, text string, refs Reference) error {
	roomID, ok := refs["roomId"].(string)
	if !ok || roomID == "" {
		return fmt.Errorf("channel: matrix send done: missing roomId in refs")
	}
	_, err := m.client.SendText(context.Background(), id.RoomID(roomID), text)
	if err != nil {
		return fmt.Errorf("channel: matrix send message: %w", err)
	}
	return nil
}

// SendError posts a notice-type message describing the failure.
func (m *Matrix) SendError(senderID, code, message string, refs Reference) error {
	roomID, ok := refs["roomId"].(string)
	if !ok || roomID == "" {
		return fmt.Errorf("channel: matrix send error: missing roomId in refs")
	}
	content := event.MessageEventContent{
		MsgType: event.MsgNotice,
		Body:    fmt.Sprintf("[%s] %s", code, message),
	}
	_, err := m.client.SendMessageEvent(context.Background(), id.RoomID(roomID), event.EventMessage, &content)
	if err != nil {
		return fmt.Errorf("channel: matrix send notice: %w", err)
	}
	return nil
}

func (m *Matrix) isAdminRoom(roomID string) bool {
	for _, r := range m.cfg.AdminRooms {
		if r == roomID {
			return true
		}
	}
	return false
}

func (m *Matrix) handleEvent(ctx context.Context, evt *event.Event) {
	if evt.Sender == id.UserID(m.cfg.UserID) {
		return
	}
	msgContent := evt.Content.AsMessage()
	if msgContent == nil || msgContent.MsgType != event.MsgText {
		return
	}
	if !m.isAdminRoom(evt.RoomID.String()) {
		return
	}
	if m.handler == nil {
		return
	}
	m.handler(ctx, InboundMessage{
		SenderID: evt.Sender.String(),
		Text:     msgContent.Body,
		Refs:     Reference{"roomId": evt.RoomID.String(), "eventId": evt.ID.String()},
	})
}

func (m *Matrix) joinRoom(roomID id.RoomID) error {
	_, err := m.client.JoinRoomByID(context.Background(), roomID)
	if err != nil {
		if errors.Is(err, mautrix.MForbidden) {
			m.log.Warn("channel: matrix already a member or access denied, continuing", "room", roomID)
			return nil
		}
		return err
	}
	return nil
}

var _ Channel = (*Matrix)(nil)
