// Package discord adapts a Discord bot to the operator channel
// surface using discordgo. One guild text channel acts as the
// operator console: messages from allowed users become runtime input,
// agent output is posted back, and confirmations are answered with a
// yes/no reply.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/agentcore/runtime/pkg/channels"
)

// maxMessageLen is Discord's hard limit per message; longer output is
// split on line boundaries.
const maxMessageLen = 2000

// confirmTimeout bounds how long a confirmation prompt waits for a
// yes/no reply before denying.
const confirmTimeout = 2 * time.Minute

// Config holds the Discord channel settings.
type Config struct {
	// Token is the bot token.
	Token string `yaml:"token"`

	// AllowedChannels restricts which channel IDs are listened to.
	// Empty means every channel the bot can read.
	AllowedChannels []string `yaml:"allowed_channels"`

	// AllowedUsers restricts which user IDs may drive the agent.
	AllowedUsers []string `yaml:"allowed_users"`
}

// Channel is the Discord implementation of channels.Channel.
type Channel struct {
	cfg     Config
	logger  *slog.Logger
	session *discordgo.Session

	inbox chan channels.Incoming
	done  chan struct{}
	once  sync.Once

	mu sync.Mutex
	// replyTo is the channel the last input arrived on; output goes
	// back there.
	replyTo string
	// statusID is the message holding the transient status line.
	statusID string
	chunks   strings.Builder
	// confirmWait, when non-nil, captures the next reply as a
	// confirmation answer instead of runtime input.
	confirmWait chan bool
}

// New builds the channel; the session is opened in Start.
func New(cfg Config, logger *slog.Logger) *Channel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Channel{
		cfg:    cfg,
		logger: logger,
		inbox:  make(chan channels.Incoming, 32),
		done:   make(chan struct{}),
	}
}

// Name identifies the transport.
func (c *Channel) Name() string { return "discord" }

// Start opens the gateway connection and registers the message
// handler.
func (c *Channel) Start(ctx context.Context) error {
	session, err := discordgo.New("Bot " + c.cfg.Token)
	if err != nil {
		return fmt.Errorf("creating discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent
	session.AddHandler(c.onMessage)

	if err := session.Open(); err != nil {
		return fmt.Errorf("opening discord gateway: %w", err)
	}
	c.session = session
	c.logger.Info("discord channel connected", "user", session.State.User.Username)

	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return nil
}

// Stop closes the gateway connection.
func (c *Channel) Stop() error {
	c.once.Do(func() { close(c.done) })
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}

func (c *Channel) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}
	if !allowed(c.cfg.AllowedChannels, m.ChannelID) || !allowed(c.cfg.AllowedUsers, m.Author.ID) {
		return
	}
	text := strings.TrimSpace(m.Content)
	if text == "" {
		return
	}

	c.mu.Lock()
	c.replyTo = m.ChannelID
	wait := c.confirmWait
	c.mu.Unlock()

	if wait != nil {
		select {
		case wait <- isAffirmative(text):
		default:
		}
		return
	}

	msg := channels.Incoming{
		Text:           text,
		User:           m.Author.ID,
		Group:          m.GuildID,
		ConversationID: "discord:" + m.ChannelID,
	}
	select {
	case c.inbox <- msg:
	default:
		c.logger.Warn("discord inbox full, dropping message", "channel", m.ChannelID)
	}
}

func allowed(list []string, id string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == id {
			return true
		}
	}
	return false
}

func isAffirmative(text string) bool {
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes", "ok", "confirm", "approve":
		return true
	}
	return false
}

// Recv blocks until operator input arrives.
func (c *Channel) Recv(ctx context.Context) (channels.Incoming, bool) {
	select {
	case msg := <-c.inbox:
		return msg, true
	case <-c.done:
		return channels.Incoming{}, false
	case <-ctx.Done():
		return channels.Incoming{}, false
	}
}

// TryRecv is the non-blocking receive.
func (c *Channel) TryRecv() (channels.Incoming, bool) {
	select {
	case msg := <-c.inbox:
		return msg, true
	default:
		return channels.Incoming{}, false
	}
}

// Send posts one complete message, split at Discord's length limit.
func (c *Channel) Send(text string) {
	target := c.target()
	if target == "" || text == "" {
		return
	}
	for _, part := range splitMessage(text) {
		if _, err := c.session.ChannelMessageSend(target, part); err != nil {
			c.logger.Error("sending discord message", "error", err)
			return
		}
	}
}

// SendChunk accumulates streamed output; Discord has no partial
// message edit cheap enough to stream through, so chunks buffer until
// FlushChunks posts them as one message.
func (c *Channel) SendChunk(chunk string) {
	c.mu.Lock()
	c.chunks.WriteString(chunk)
	c.mu.Unlock()
}

// FlushChunks posts the accumulated stream buffer.
func (c *Channel) FlushChunks() {
	c.mu.Lock()
	text := c.chunks.String()
	c.chunks.Reset()
	c.mu.Unlock()
	if text != "" {
		c.Send(text)
	}
}

// SendTyping triggers the native typing indicator.
func (c *Channel) SendTyping() {
	if target := c.target(); target != "" {
		if err := c.session.ChannelTyping(target); err != nil {
			c.logger.Debug("typing indicator failed", "error", err)
		}
	}
}

// SendStatus maintains a single italicized status message, edited in
// place and deleted when cleared.
func (c *Channel) SendStatus(text string) {
	target := c.target()
	if target == "" {
		return
	}

	c.mu.Lock()
	statusID := c.statusID
	c.mu.Unlock()

	if text == "" {
		if statusID != "" {
			_ = c.session.ChannelMessageDelete(target, statusID)
			c.mu.Lock()
			c.statusID = ""
			c.mu.Unlock()
		}
		return
	}

	rendered := "*" + text + "*"
	if statusID != "" {
		if _, err := c.session.ChannelMessageEdit(target, statusID, rendered); err == nil {
			return
		}
		// The status message may have been deleted out from under us;
		// fall through and post a fresh one.
	}
	msg, err := c.session.ChannelMessageSend(target, rendered)
	if err != nil {
		c.logger.Debug("posting status", "error", err)
		return
	}
	c.mu.Lock()
	c.statusID = msg.ID
	c.mu.Unlock()
}

// SendQueueCount reuses the status line.
func (c *Channel) SendQueueCount(n int) {
	if n <= 0 {
		c.SendStatus("")
		return
	}
	c.SendStatus(fmt.Sprintf("%d message(s) queued", n))
}

// SendToolOutput posts the canonical framing inside Discord's code
// formatting, with diff and filter annotations when present.
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

// Confirm posts the prompt and waits for a yes/no reply from an
// allowed user, denying on timeout or shutdown.
func (c *Channel) Confirm(prompt string) bool {
	wait := make(chan bool, 1)
	c.mu.Lock()
	c.confirmWait = wait
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.confirmWait = nil
		c.mu.Unlock()
	}()

	c.Send(prompt + "\nReply `yes` to proceed or `no` to cancel.")

	select {
	case answer := <-wait:
		return answer
	case <-time.After(confirmTimeout):
		c.Send("No answer, treating as `no`.")
		return false
	case <-c.done:
		return false
	}
}

func (c *Channel) target() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replyTo
}

// splitMessage breaks text at line boundaries under the length limit,
// hard-splitting any single oversized line.
func splitMessage(text string) []string {
	if len(text) <= maxMessageLen {
		return []string{text}
	}
	var parts []string
	var b strings.Builder
	for _, line := range strings.Split(text, "\n") {
		for len(line) > maxMessageLen {
			parts = append(parts, flush(&b), line[:maxMessageLen])
			line = line[maxMessageLen:]
		}
		if b.Len()+len(line)+1 > maxMessageLen {
			parts = append(parts, flush(&b))
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
	}
	if b.Len() > 0 {
		parts = append(parts, b.String())
	}
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func flush(b *strings.Builder) string {
	s := b.String()
	b.Reset()
	return s
}
