// Package whatsapp adapts WhatsApp Web to the operator channel
// surface via whatsmeow. One chat acts as the operator console; the
// session is persisted in a local SQLite store so restarts don't need
// a new QR scan.
package whatsapp

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3" // driver for the whatsmeow session store
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"
	"google.golang.org/protobuf/proto"

	"github.com/agentcore/runtime/pkg/channels"
)

// confirmTimeout bounds how long a confirmation prompt waits for a
// yes/no reply before denying.
const confirmTimeout = 2 * time.Minute

// Config holds the WhatsApp channel settings.
type Config struct {
	// SessionDir holds the whatsmeow device store.
	SessionDir string `yaml:"session_dir"`

	// AllowedUsers restricts which JIDs may drive the agent. Empty
	// allows any direct chat.
	AllowedUsers []string `yaml:"allowed_users"`
}

// Channel is the WhatsApp implementation of channels.Channel.
type Channel struct {
	cfg    Config
	logger *slog.Logger

	client    *whatsmeow.Client
	connected atomic.Bool

	inbox chan channels.Incoming
	done  chan struct{}
	once  sync.Once

	mu          sync.Mutex
	replyTo     types.JID
	chunks      strings.Builder
	confirmWait chan bool
}

// New builds the channel; the connection is established in Start.
func New(cfg Config, logger *slog.Logger) *Channel {
	if cfg.SessionDir == "" {
		cfg.SessionDir = "."
	}
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
func (c *Channel) Name() string { return "whatsapp" }

// Start opens the session store and connects. A fresh device logs in
// via QR, printed to the log for scanning.
func (c *Channel) Start(ctx context.Context) error {
	dbPath := filepath.Join(c.cfg.SessionDir, "whatsapp.db")
	container, err := sqlstore.New(ctx, "sqlite3",
		fmt.Sprintf("file:%s?_foreign_keys=1&_journal_mode=WAL", dbPath), waLog.Noop)
	if err != nil {
		return fmt.Errorf("creating session store: %w", err)
	}
	device, err := firstDevice(ctx, container)
	if err != nil {
		return fmt.Errorf("loading device: %w", err)
	}
	store.SetOSInfo("AgentCore", [3]uint32{1, 0, 0})

	c.client = whatsmeow.NewClient(device, waLog.Noop)
	c.client.AddEventHandler(c.handleEvent)

	if c.client.Store.ID == nil {
		qrChan, _ := c.client.GetQRChannel(ctx)
		if err := c.client.Connect(); err != nil {
			return fmt.Errorf("connecting for QR login: %w", err)
		}
		go func() {
			for evt := range qrChan {
				switch evt.Event {
				case "code":
					c.logger.Info("whatsapp login required, scan QR code", "code", evt.Code)
				case "success":
					c.logger.Info("whatsapp linked")
				}
			}
		}()
		return nil
	}

	if err := c.client.Connect(); err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	return nil
}

// firstDevice reuses the stored device when one exists, otherwise
// registers a fresh one that will go through QR linking.
func firstDevice(ctx context.Context, container *sqlstore.Container) (*store.Device, error) {
	devices, err := container.GetAllDevices(ctx)
	if err != nil {
		return nil, err
	}
	if len(devices) > 0 {
		return devices[0], nil
	}
	return container.NewDevice(), nil
}

// Stop disconnects and closes the inbox.
func (c *Channel) Stop() error {
	c.once.Do(func() { close(c.done) })
	c.connected.Store(false)
	if c.client != nil {
		c.client.Disconnect()
	}
	return nil
}

func (c *Channel) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		c.connected.Store(true)
		c.logger.Info("whatsapp connected")
	case *events.Disconnected:
		c.connected.Store(false)
		c.logger.Warn("whatsapp disconnected")
	case *events.LoggedOut:
		c.connected.Store(false)
		c.logger.Warn("whatsapp logged out, delete the session store and relink")
	case *events.Message:
		c.onMessage(e)
	}
}

func (c *Channel) onMessage(evt *events.Message) {
	if evt.Info.IsFromMe || evt.Info.Chat.Server == "broadcast" {
		return
	}
	sender := evt.Info.Sender.ToNonAD().String()
	if !allowed(c.cfg.AllowedUsers, sender) {
		return
	}
	text := extractText(evt.Message)
	if text == "" {
		return
	}

	c.mu.Lock()
	c.replyTo = evt.Info.Chat
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
		User:           sender,
		ConversationID: "whatsapp:" + evt.Info.Chat.String(),
	}
	if evt.Info.IsGroup {
		msg.Group = evt.Info.Chat.String()
	}
	select {
	case c.inbox <- msg:
	default:
		c.logger.Warn("whatsapp inbox full, dropping message", "chat", evt.Info.Chat.String())
	}
}

func extractText(msg *waE2E.Message) string {
	if msg == nil {
		return ""
	}
	if msg.Conversation != nil {
		return strings.TrimSpace(msg.GetConversation())
	}
	if ext := msg.ExtendedTextMessage; ext != nil {
		return strings.TrimSpace(ext.GetText())
	}
	return ""
}

func allowed(list []string, jid string) bool {
	if len(list) == 0 {
		return true
	}
	for _, v := range list {
		if v == jid {
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

// Send delivers one complete message to the active chat.
func (c *Channel) Send(text string) {
	if text == "" || !c.connected.Load() {
		return
	}
	target := c.target()
	if target.IsEmpty() {
		return
	}
	waMsg := &waE2E.Message{Conversation: proto.String(text)}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := c.client.SendMessage(ctx, target, waMsg); err != nil {
		c.logger.Error("sending whatsapp message", "error", err)
	}
}

// SendChunk buffers streamed output; WhatsApp has no partial-message
// surface, so chunks accumulate until FlushChunks.
func (c *Channel) SendChunk(chunk string) {
	c.mu.Lock()
	c.chunks.WriteString(chunk)
	c.mu.Unlock()
}

// FlushChunks sends the accumulated stream buffer.
func (c *Channel) FlushChunks() {
	c.mu.Lock()
	text := c.chunks.String()
	c.chunks.Reset()
	c.mu.Unlock()
	if text != "" {
		c.Send(text)
	}
}

// SendTyping shows the native composing indicator.
func (c *Channel) SendTyping() {
	if !c.connected.Load() {
		return
	}
	target := c.target()
	if target.IsEmpty() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.client.SendChatPresence(ctx, target, types.ChatPresenceComposing, types.ChatPresenceMediaText); err != nil {
		c.logger.Debug("sending chat presence", "error", err)
	}
}

// SendStatus has no transient surface on WhatsApp; statuses are
// dropped rather than spamming the chat.
func (c *Channel) SendStatus(string) {}

// SendQueueCount is dropped for the same reason as SendStatus.
func (c *Channel) SendQueueCount(int) {}

// SendToolOutput sends the canonical framing as a plain message.
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

// Confirm asks in-chat and waits for a yes/no reply.
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

	c.Send(prompt + "\nReply \"yes\" to proceed or \"no\" to cancel.")

	select {
	case answer := <-wait:
		return answer
	case <-time.After(confirmTimeout):
		c.Send("No answer, treating as no.")
		return false
	case <-c.done:
		return false
	}
}

func (c *Channel) target() types.JID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.replyTo
}
