package hotswap

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/maziarzamani/spaceduck-sub000/internal/channel"
	"github.com/maziarzamani/spaceduck-sub000/internal/config"
	"github.com/maziarzamani/spaceduck-sub000/internal/provider"
	"github.com/maziarzamani/spaceduck-sub000/internal/stt"
)

// buildProvider constructs the completion provider named by
// doc.AI.Provider, reading its API key from the secret store. An
// unrecognized or unconfigured provider name is an error, not a
// silent fallback to Unconfigured — a hot-swap failure must roll back
// to the previous live instance, never quietly stop answering.
func buildProvider(doc config.Document, secrets *config.Store) (provider.Provider, error) {
	switch doc.AI.Provider {
	case "", "none":
		return provider.Unconfigured{}, nil
	case "openai":
		key, _ := secrets.Secret("/ai/secrets/apiKey")
		if key == "" {
			return nil, fmt.Errorf("hotswap: ai.provider=openai requires /ai/secrets/apiKey")
		}
		return provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:  key,
			BaseURL: doc.AI.BaseURL,
			Model:   doc.AI.Model,
		}), nil
	default:
		return nil, fmt.Errorf("hotswap: unknown ai.provider %q", doc.AI.Provider)
	}
}

// BuildProvider exposes the provider factory for reachability probes
// (POST /api/config/provider-test) that construct a candidate provider
// from a hypothetical config document without writing it.
func BuildProvider(doc config.Document, secrets *config.Store) (provider.Provider, error) {
	return buildProvider(doc, secrets)
}

// buildEmbedding constructs the embedding provider. Disabled or absent
// config installs NoopEmbedding, which degrades memory recall to
// textual matching rather than failing.
func buildEmbedding(doc config.Document, secrets *config.Store) (provider.EmbeddingProvider, error) {
	if !doc.Embedding.Enabled {
		return provider.NoopEmbedding{}, nil
	}
	switch doc.Embedding.Provider {
	case "", "none":
		return provider.NoopEmbedding{}, nil
	case "openai":
		key, _ := secrets.Secret("/embedding/secrets/apiKey")
		if key == "" {
			return nil, fmt.Errorf("hotswap: embedding.provider=openai requires /embedding/secrets/apiKey")
		}
		return provider.NewOpenAIEmbedding(provider.OpenAIEmbeddingConfig{
			APIKey:  key,
			BaseURL: doc.Embedding.BaseURL,
			Model:   doc.Embedding.Model,
		}), nil
	default:
		return nil, fmt.Errorf("hotswap: unknown embedding.provider %q", doc.Embedding.Provider)
	}
}

// buildSTT constructs the speech-to-text backend named by
// doc.STT.Backend.
func buildSTT(doc config.Document, secrets *config.Store) (stt.Backend, error) {
	switch doc.STT.Backend {
	case "", "none":
		return stt.Unconfigured{}, nil
	case "whisper":
		return stt.NewWhisper(stt.WhisperConfig{BinaryPath: "whisper", Model: doc.STT.Model}), nil
	case "aws_transcribe":
		accessKey, _ := secrets.Secret("/stt/secrets/awsAccessKeyId")
		secretKey, _ := secrets.Secret("/stt/secrets/awsSecretAccessKey")
		return stt.NewAWSTranscribe(stt.AWSTranscribeConfig{
			Region:          doc.STT.AWSTranscribe.Region,
			AccessKeyID:     accessKey,
			SecretAccessKey: secretKey,
		}), nil
	default:
		return nil, fmt.Errorf("hotswap: unknown stt.backend %q", doc.STT.Backend)
	}
}

// buildChannels constructs one Channel per enabled entry in
// doc.Channels, reading each channel's access token from the secret
// store. Any single channel failing to construct fails the whole
// rebuild: a half-built channel set is worse than keeping the previous
// set running, since the caller rolls back on error.
func buildChannels(doc config.Document, secrets *config.Store, cliIn io.Reader, cliOut io.Writer, log *slog.Logger) ([]channel.Channel, error) {
	var out []channel.Channel

	if doc.Channels.Matrix.Enabled {
		token, _ := secrets.Secret("/channels/matrix/secrets/accessToken")
		if token == "" {
			return nil, fmt.Errorf("hotswap: channels.matrix.enabled requires /channels/matrix/secrets/accessToken")
		}
		m, err := channel.NewMatrix(channel.MatrixConfig{
			Homeserver:  doc.Channels.Matrix.Homeserver,
			UserID:      doc.Channels.Matrix.UserID,
			AccessToken: token,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("hotswap: build matrix channel: %w", err)
		}
		out = append(out, m)
	}

	if doc.Channels.Discord.Enabled {
		token, _ := secrets.Secret("/channels/discord/secrets/botToken")
		if token == "" {
			return nil, fmt.Errorf("hotswap: channels.discord.enabled requires /channels/discord/secrets/botToken")
		}
		d, err := channel.NewDiscord(channel.DiscordConfig{BotToken: token}, log)
		if err != nil {
			return nil, fmt.Errorf("hotswap: build discord channel: %w", err)
		}
		out = append(out, d)
	}

	if doc.Channels.Telegram.Enabled {
		token, _ := secrets.Secret("/channels/telegram/secrets/botToken")
		if token == "" {
			return nil, fmt.Errorf("hotswap: channels.telegram.enabled requires /channels/telegram/secrets/botToken")
		}
		t, err := channel.NewTelegram(channel.TelegramConfig{BotToken: token}, log)
		if err != nil {
			return nil, fmt.Errorf("hotswap: build telegram channel: %w", err)
		}
		out = append(out, t)
	}

	if doc.Channels.CLI.Enabled {
		out = append(out, channel.NewCLI(channel.CLIConfig{In: cliIn, Out: cliOut}, log))
	}

	return out, nil
}
