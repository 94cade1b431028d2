package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// CLIConfig configures the CLI channel adapter.
type CLIConfig struct {
	SenderID string // identity attributed to every line read from In
	In       io.Reader
	Out      io.Writer
}

// CLI is a Channel that reads one message per line from In and writes
// replies to Out, for local operator use without any external chat
// surface.
type CLI struct {
	cfg     CLIConfig
	log     *slog.Logger
	handler Handler
	stopCh  chan struct{}
	writeMu sync.Mutex
}

// NewCLI builds (but does not start) a CLI channel.
func NewCLI(cfg CLIConfig, log *slog.Logger) *CLI {
	if log == nil {
		log = slog.Default()
	}
	if cfg.SenderID == "" {
		cfg.SenderID = "local"
	}
	return &CLI{cfg: cfg, log: log, stopCh: make(chan struct{})}
}

// Name returns the channel's registry key.
func (c *CLI) Name() string { return "cli" }

// OnMessage registers the gateway's inbound message handler.
func (c *CLI) OnMessage(h Handler) { c.handler = h }

// Start begins reading lines from In in the background until Stop is
// called or In is exhausted.
func (c *CLI) Start(ctx context.Context) error {
	go func() {
		scanner := bufio.NewScanner(c.cfg.In)
		for scanner.Scan() {
			select {
			case <-c.stopCh:
				return
			default:
			}
			line := scanner.Text()
			if line == "" || c.handler == nil {
				continue
			}
			c.handler(context.Background(), InboundMessage{SenderID: c.cfg.SenderID, Text: line, Refs: Reference{}})
		}
	}()
	return nil
}

// Stop halts the read loop.
func (c *CLI) Stop() error {
	select {
	case <-c.stopCh:
	default:
		close(c.stopCh)
	}
	return nil
}

// SendDelta streams a content chunk directly to Out, since a local
// terminal has no remote-delivery cost to batch against.
func (c *CLI) SendDelta(senderID, text string, refs Reference) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := fmt.Fprint(c.cfg.Out, text)
	return err
}

// SendDone writes the turn's final reply to Out, followed by a newline.
func (c *CLI) SendDone(senderID, messageID, text string, refs Reference) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := fmt.Fprintln(c.cfg.Out, text)
	return err
}

// SendError writes the error inline, prefixed with its code.
func (c *CLI) SendError(senderID, code, message string, refs Reference) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := fmt.Fprintf(c.cfg.Out, "\n[%s] %s\n", code, message)
	return err
}

var _ Channel = (*CLI)(nil)
