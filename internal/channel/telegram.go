package channel

import (
	"context"
	"fmt"
	"log/slog"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// TelegramConfig configures the Telegram channel adapter.
type TelegramConfig struct {
	BotToken      string
	AllowedChatIDs []int64 // empty means any chat that messages the bot
}

// Telegram is the Channel implementation backed by long-polling
// getUpdates, the simplest transport the bot API library supports and
// the one that needs no externally reachable webhook URL.
type Telegram struct {
	cfg     TelegramConfig
	bot     *tgbotapi.BotAPI
	log     *slog.Logger
	handler Handler
	stopCh  chan struct{}
}

// NewTelegram builds (but does not start) a Telegram channel.
func NewTelegram(cfg TelegramConfig, log *slog.Logger) (*Telegram, error) {
	if log == nil {
		log = slog.Default()
	}
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("channel: telegram bot api: %w", err)
	}
	return &Telegram{cfg: cfg, bot: bot, log: log, stopCh: make(chan struct{})}, nil
}

// Name returns the channel's registry key.
func (t *Telegram) Name() string { return "telegram" }

// OnMessage registers the gateway's inbound message handler.
func (t *Telegram) OnMessage(h Handler) { t.handler = h }

// Start begins the long-polling update loop in the background.
func (t *Telegram) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-t.stopCh:
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				t.handleUpdate(update)
			}
		}
	}()
	return nil
}

// Stop halts the update loop and shuts down the getUpdates channel.
func (t *Telegram) Stop() error {
	select {
	case <-t.stopCh:
	default:
		close(t.stopCh)
	}
	t.bot.StopReceivingUpdates()
	return nil
}

// SendDelta is a no-op: Telegram delivers one final message per turn.
func (t *Telegram) SendDelta(string, string, Reference) error { return nil }

// SendDone posts the final assistant message to the chat the inbound
// message arrived from.
func (t *Telegram) SendDone(senderID, messageID, text string, refs Reference) error {
	chatID, ok := refs["chatId"].(int64)
	if !ok {
		return fmt.Errorf("channel: telegram send done: missing chatId in refs")
	}
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("channel: telegram send message: %w", err)
	}
	return nil
}

// SendError posts an error message to the originating chat.
func (t *Telegram) SendError(senderID, code, message string, refs Reference) error {
	chatID, ok := refs["chatId"].(int64)
	if !ok {
		return fmt.Errorf("channel: telegram send error: missing chatId in refs")
	}
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("[%s] %s", code, message))
	if _, err := t.bot.Send(msg); err != nil {
		return fmt.Errorf("channel: telegram send error message: %w", err)
	}
	return nil
}

func (t *Telegram) isAllowedChat(chatID int64) bool {
	if len(t.cfg.AllowedChatIDs) == 0 {
		return true
	}
	for _, c := range t.cfg.AllowedChatIDs {
		if c == chatID {
			return true
		}
	}
	return false
}

func (t *Telegram) handleUpdate(update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	if !t.isAllowedChat(update.Message.Chat.ID) {
		return
	}
	if t.handler == nil {
		return
	}
	t.handler(context.Background(), InboundMessage{
		SenderID: fmt.Sprintf("%d", update.Message.From.ID),
		Text:     update.Message.Text,
		Refs:     Reference{"chatId": update.Message.Chat.ID, "messageId": update.Message.MessageID},
	})
}

var _ Channel = (*Telegram)(nil)
