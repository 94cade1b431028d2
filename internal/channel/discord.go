package channel

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// DiscordConfig configures the Discord channel adapter.
type DiscordConfig struct {
	BotToken      string
	AllowedGuilds []string // empty means any guild the bot is invited to
}

// Discord is the Channel implementation backed by discordgo's gateway
// websocket client.
type Discord struct {
	cfg     DiscordConfig
	session *discordgo.Session
	log     *slog.Logger
	handler Handler
}

// NewDiscord builds (but does not start) a Discord channel.
func NewDiscord(cfg DiscordConfig, log *slog.Logger) (*Discord, error) {
	if log == nil {
		log = slog.Default()
	}
	session, err := discordgo.New("Bot " + cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("channel: discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return &Discord{cfg: cfg, session: session, log: log}, nil
}

// Name returns the channel's registry key.
func (d *Discord) Name() string { return "discord" }

// OnMessage registers the gateway's inbound message handler.
func (d *Discord) OnMessage(h Handler) { d.handler = h }

// Start opens the gateway websocket connection and begins receiving
// message-create events.
func (d *Discord) Start(ctx context.Context) error {
	d.session.AddHandler(d.onMessageCreate)
	if err := d.session.Open(); err != nil {
		return fmt.Errorf("channel: discord open: %w", err)
	}
	return nil
}

// Stop closes the gateway websocket connection.
func (d *Discord) Stop() error {
	if err := d.session.Close(); err != nil {
		return fmt.Errorf("channel: discord close: %w", err)
	}
	return nil
}

// SendDelta is a no-op: Discord delivers one final message per turn.
func (d *Discord) SendDelta(string, string, Reference) error { return nil }

// SendDone posts the final assistant message to the channel the
// inbound message arrived on.
func (d *Discord) SendDone(senderID, messageID, text string, refs Reference) error {
	channelID, ok := refs["channelId"].(string)
	if !ok || channelID == "" {
		return fmt.Errorf("channel: discord send done: missing channelId in refs")
	}
	if _, err := d.session.ChannelMessageSend(channelID, text); err != nil {
		return fmt.Errorf("channel: discord send message: %w", err)
	}
	return nil
}

// SendError posts an error message to the originating channel.
func (d *Discord) SendError(senderID, code, message string, refs Reference) error {
	channelID, ok := refs["channelId"].(string)
	if !ok || channelID == "" {
		return fmt.Errorf("channel: discord send error: missing channelId in refs")
	}
	if _, err := d.session.ChannelMessageSend(channelID, fmt.Sprintf("[%s] %s", code, message)); err != nil {
		return fmt.Errorf("channel: discord send error message: %w", err)
	}
	return nil
}

func (d *Discord) isAllowedGuild(guildID string) bool {
	if len(d.cfg.AllowedGuilds) == 0 {
		return true
	}
	for _, g := range d.cfg.AllowedGuilds {
		if g == guildID {
			return true
		}
	}
	return false
}

func (d *Discord) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.GuildID != "" && !d.isAllowedGuild(m.GuildID) {
		return
	}
	if d.handler == nil {
		return
	}
	d.handler(context.Background(), InboundMessage{
		SenderID: m.Author.ID,
		Text:     m.Content,
		Refs:     Reference{"channelId": m.ChannelID, "messageId": m.ID, "guildId": m.GuildID},
	})
}

var _ Channel = (*Discord)(nil)
