// Package cli is the interactive console channel: a readline-driven
// input loop on stdin, streaming output on stdout, and transient
// status lines on stderr. It is the default channel when no messaging
// transport is configured.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/charmbracelet/huh"
	"github.com/chzyer/readline"
	"golang.org/x/term"

	"github.com/agentcore/runtime/pkg/channels"
)

// Config tunes the console channel.
type Config struct {
	// Prompt is the readline prompt.
	Prompt string `yaml:"prompt"`

	// HistoryFile persists input history across sessions.
	HistoryFile string `yaml:"history_file"`

	// ConversationID tags every input; the CLI is single-conversation.
	ConversationID string `yaml:"conversation_id"`
}

// Channel is the console implementation of channels.Channel.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	rl     *readline.Instance
	inbox  chan channels.Incoming
	done   chan struct{}
	closed sync.Once

	mu         sync.Mutex
	chunkOpen  bool
	statusLive bool
	isTerminal bool
}

// New builds the console channel. The readline instance is created in
// Start so construction never touches the terminal.
func New(cfg Config, logger *slog.Logger) *Channel {
	if cfg.Prompt == "" {
		cfg.Prompt = "> "
	}
	if cfg.ConversationID == "" {
		cfg.ConversationID = "cli"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:        cfg,
		logger:     logger,
		inbox:      make(chan channels.Incoming, 16),
		done:       make(chan struct{}),
		isTerminal: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// Name identifies the transport.
func (c *Channel) Name() string { return "cli" }

// SetConversationID rebinds the channel to a conversation, typically a
// store-issued id resolved after construction. Call before Start.
func (c *Channel) SetConversationID(id string) {
	if id != "" {
		c.cfg.ConversationID = id
	}
}

// Start opens readline and begins pumping lines into the inbox.
func (c *Channel) Start(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          c.cfg.Prompt,
		HistoryFile:     c.cfg.HistoryFile,
		InterruptPrompt: "^C",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	c.rl = rl

	go c.readLoop(ctx)
	return nil
}

func (c *Channel) readLoop(ctx context.Context) {
	defer c.closeInbox()
	for {
		line, err := c.rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			// ^C on an empty line exits, on a typed line clears it.
			if len(line) == 0 {
				return
			}
			continue
		case errors.Is(err, io.EOF):
			return
		case err != nil:
			c.logger.Error("reading input", "error", err)
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		msg := channels.Incoming{Text: line, User: "operator", ConversationID: c.cfg.ConversationID}
		select {
		case c.inbox <- msg:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Channel) closeInbox() {
	c.closed.Do(func() { close(c.done) })
}

// Stop closes the readline instance; the read loop then drains out.
func (c *Channel) Stop() error {
	c.closeInbox()
	if c.rl != nil {
		return c.rl.Close()
	}
	return nil
}

// Recv blocks until input arrives, the channel closes, or ctx ends.
func (c *Channel) Recv(ctx context.Context) (channels.Incoming, bool) {
	select {
	case msg := <-c.inbox:
		return msg, true
	case <-c.done:
		// Drain anything the read loop enqueued before closing.
		select {
		case msg := <-c.inbox:
			return msg, true
		default:
			return channels.Incoming{}, false
		}
	case <-ctx.Done():
		return channels.Incoming{}, false
	}
}

// TryRecv is the non-blocking receive the queue drainer uses.
func (c *Channel) TryRecv() (channels.Incoming, bool) {
	select {
	case msg := <-c.inbox:
		return msg, true
	default:
		return channels.Incoming{}, false
	}
}

// Send displays one complete message.
func (c *Channel) Send(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearStatusLocked()
	fmt.Println(text)
}

// SendChunk streams partial output without trailing newline.
func (c *Channel) SendChunk(chunk string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearStatusLocked()
	c.chunkOpen = true
	fmt.Print(chunk)
}

// FlushChunks terminates a streamed message.
func (c *Channel) FlushChunks() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chunkOpen {
		fmt.Println()
		c.chunkOpen = false
	}
}

// SendTyping shows a working hint via the status line.
func (c *Channel) SendTyping() { c.SendStatus("thinking...") }

// SendStatus writes a transient status line to stderr. On a terminal
// it overwrites in place; elsewhere it is a plain log line.
func (c *Channel) SendStatus(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.isTerminal {
		if text != "" {
			fmt.Fprintln(os.Stderr, text)
		}
		return
	}
	c.clearStatusLocked()
	if text != "" {
		fmt.Fprintf(os.Stderr, "\r\033[K%s", text)
		c.statusLive = true
	}
}

func (c *Channel) clearStatusLocked() {
	if c.statusLive {
		fmt.Fprint(os.Stderr, "\r\033[K")
		c.statusLive = false
	}
}

// SendQueueCount surfaces pending-input depth in the status line.
func (c *Channel) SendQueueCount(n int) {
	if n <= 0 {
		c.SendStatus("")
		return
	}
	c.SendStatus(fmt.Sprintf("%d message(s) queued", n))
}

// SendToolOutput prints the canonical framing, with a diff summary
// line when present.
func (c *Channel) SendToolOutput(name, body string, diff *channels.Diff, stats *channels.FilterStats) {
	var b strings.Builder
	b.WriteString(channels.RenderToolOutput(name, body))
	if diff != nil {
		fmt.Fprintf(&b, "\n%s: +%d -%d", diff.Path, diff.Added, diff.Removed)
	}
	if stats != nil && stats.LinesIn > stats.LinesOut {
		fmt.Fprintf(&b, "\n(%s kept %d of %d lines)", stats.Filter, stats.LinesOut, stats.LinesIn)
	}
	c.Send(b.String())
}

// Confirm asks a blocking yes/no question, with a form on a terminal
// and a conservative "no" when there is no terminal to ask on.
func (c *Channel) Confirm(prompt string) bool {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		c.logger.Warn("confirmation requested without a terminal, denying", "prompt", prompt)
		return false
	}
	var ok bool
	err := huh.NewConfirm().
		Title(prompt).
		Affirmative("Yes").
		Negative("No").
		Value(&ok).
		Run()
	if err != nil {
		c.logger.Warn("confirmation prompt failed, denying", "error", err)
		return false
	}
	return ok
}
