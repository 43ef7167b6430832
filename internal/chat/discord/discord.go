// Package discord implements the chat transport on the Discord gateway.
// Inbound traffic is filtered to direct messages and guild mentions; each
// working message gets a thread for the run's activity log; edits are
// throttled per message to stay inside Discord's rate limits.
package discord

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/EdibleTuber/Mother/internal/chat"
)

const (
	// Discord drops the typing indicator after ~10 s; refresh under that.
	typingKeepalive = 9 * time.Second
	typingCeiling   = 15 * time.Minute

	threadArchiveMinutes = 60
	threadName           = "activity"

	// Per-message state (edit limiters, thread ids) is evicted oldest-first
	// past this many entries so a long-lived host does not leak.
	maxMessageState = 256
)

// Transport speaks the Discord gateway and REST API.
type Transport struct {
	session *discordgo.Session
	guildID string
	logger  *slog.Logger

	mu        sync.Mutex
	botUserID string
	botName   string

	editLimiters *messageState // messageID → *rate.Limiter
	threads      *messageState // parent messageID → thread channelID

	typingMu    sync.Mutex
	typingStops map[string]chan struct{}
}

// New builds a transport for one bot token, scoped to guildID (plus DMs).
func New(token, guildID string, logger *slog.Logger) (*Transport, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		session:      session,
		guildID:      guildID,
		logger:       logger.With("component", "discord"),
		editLimiters: newMessageState(maxMessageState),
		threads:      newMessageState(maxMessageState),
		typingStops:  make(map[string]chan struct{}),
	}, nil
}

func (t *Transport) Name() string { return "discord" }

// BotName returns the connected bot's username; empty before Run connects.
func (t *Transport) BotName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botName
}

// BotUserID returns the connected bot's user id; empty before Run connects.
func (t *Transport) BotUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUserID
}

// Run opens the gateway connection and delivers inbound messages to handler
// until ctx is cancelled.
func (t *Transport) Run(ctx context.Context, handler chat.Handler) error {
	t.session.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
		t.handleMessage(m, handler)
	})

	if err := t.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	user, err := t.session.User("@me")
	if err != nil {
		t.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	t.mu.Lock()
	t.botUserID = user.ID
	t.botName = user.Username
	t.mu.Unlock()
	t.logger.Info("discord connected", "username", user.Username, "id", user.ID)

	<-ctx.Done()
	t.stopAllTyping()
	if err := t.session.Close(); err != nil {
		return fmt.Errorf("close discord session: %w", err)
	}
	return nil
}

// handleMessage filters and normalizes one gateway message. Only direct
// messages and guild messages that mention the bot get through.
func (t *Transport) handleMessage(m *discordgo.MessageCreate, handler chat.Handler) {
	if m.Author == nil || m.Author.Bot {
		return
	}

	t.mu.Lock()
	botUserID := t.botUserID
	t.mu.Unlock()
	if m.Author.ID == botUserID {
		return
	}

	isDM := m.GuildID == ""
	if !isDM {
		if t.guildID != "" && m.GuildID != t.guildID {
			return
		}
		if !mentionsUser(m, botUserID) {
			return
		}
	}

	files := make([]chat.InboundFile, 0, len(m.Attachments))
	for _, att := range m.Attachments {
		files = append(files, chat.InboundFile{Name: att.Filename, URL: att.URL})
	}

	msg := chat.InboundMessage{
		ChannelID:   m.ChannelID,
		TS:          m.ID,
		UserID:      m.Author.ID,
		UserName:    m.Author.Username,
		DisplayName: displayName(m),
		Text:        stripMention(m.Content, botUserID),
		Files:       files,
		IsDM:        isDM,
		Time:        m.Timestamp,
	}
	t.logger.Debug("discord message received",
		"channel", m.ChannelID, "user", m.Author.ID, "is_dm", isDM, "files", len(files))
	handler(msg)
}

func (t *Transport) PostMessage(ctx context.Context, channelID, text string) (chat.MessageHandle, error) {
	msg, err := t.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return chat.MessageHandle{}, fmt.Errorf("send discord message: %w", err)
	}
	return chat.MessageHandle{ChannelID: channelID, MessageID: msg.ID}, nil
}

// UpdateMessage edits a posted message, waiting out the per-message edit
// throttle first.
func (t *Transport) UpdateMessage(ctx context.Context, h chat.MessageHandle, text string) error {
	if err := t.limiterFor(h.MessageID).Wait(ctx); err != nil {
		return err
	}
	if _, err := t.session.ChannelMessageEdit(h.ChannelID, h.MessageID, text); err != nil {
		return fmt.Errorf("edit discord message: %w", err)
	}
	return nil
}

func (t *Transport) DeleteMessage(ctx context.Context, h chat.MessageHandle) error {
	t.editLimiters.delete(h.MessageID)
	t.threads.delete(h.MessageID)
	if err := t.session.ChannelMessageDelete(h.ChannelID, h.MessageID); err != nil {
		return fmt.Errorf("delete discord message: %w", err)
	}
	return nil
}

// PostInThread posts under the thread hanging off parent, creating the
// thread on first use.
func (t *Transport) PostInThread(ctx context.Context, parent chat.MessageHandle, text string) (chat.MessageHandle, error) {
	threadID := t.ensureThread(parent)
	msg, err := t.session.ChannelMessageSend(threadID, text)
	if err != nil {
		return chat.MessageHandle{}, fmt.Errorf("send thread message: %w", err)
	}
	return chat.MessageHandle{ChannelID: threadID, MessageID: msg.ID}, nil
}

func (t *Transport) UploadFile(ctx context.Context, channelID, path, title string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open upload: %w", err)
	}
	defer f.Close()

	if title == "" {
		title = filepath.Base(path)
	}
	if _, err := t.session.ChannelFileSend(channelID, title, f); err != nil {
		return fmt.Errorf("upload discord file: %w", err)
	}
	return nil
}

// SetTyping starts or stops the typing indicator. Discord expires it after
// seconds, so on it runs a keepalive loop until stopped or the ceiling hits.
func (t *Transport) SetTyping(_ context.Context, channelID string, typing bool) error {
	t.typingMu.Lock()
	defer t.typingMu.Unlock()

	if stop, ok := t.typingStops[channelID]; ok {
		close(stop)
		delete(t.typingStops, channelID)
	}
	if !typing {
		return nil
	}

	stop := make(chan struct{})
	t.typingStops[channelID] = stop
	go t.typingLoop(channelID, stop)
	return nil
}

func (t *Transport) typingLoop(channelID string, stop <-chan struct{}) {
	ceiling := time.After(typingCeiling)
	for {
		if err := t.session.ChannelTyping(channelID); err != nil {
			t.logger.Debug("typing signal failed", "channel", channelID, "error", err)
		}
		select {
		case <-stop:
			return
		case <-ceiling:
			t.logger.Warn("typing indicator hit its ceiling", "channel", channelID)
			return
		case <-time.After(typingKeepalive):
		}
	}
}

func (t *Transport) stopAllTyping() {
	t.typingMu.Lock()
	defer t.typingMu.Unlock()
	for id, stop := range t.typingStops {
		close(stop)
		delete(t.typingStops, id)
	}
}

// ensureThread resolves the thread channel for a working message. A thread
// started from a message shares the message's id, so when creation reports
// the thread already exists the message id is the answer.
func (t *Transport) ensureThread(parent chat.MessageHandle) string {
	if v, ok := t.threads.get(parent.MessageID); ok {
		return v.(string)
	}

	th, err := t.session.MessageThreadStartComplex(parent.ChannelID, parent.MessageID, &discordgo.ThreadStart{
		Name:                threadName,
		AutoArchiveDuration: threadArchiveMinutes,
	})
	threadID := parent.MessageID
	if err != nil {
		t.logger.Debug("thread create failed, using message id", "message", parent.MessageID, "error", err)
	} else {
		threadID = th.ID
	}
	t.threads.set(parent.MessageID, threadID)
	return threadID
}

func (t *Transport) limiterFor(messageID string) *rate.Limiter {
	if v, ok := t.editLimiters.get(messageID); ok {
		return v.(*rate.Limiter)
	}
	limiter := rate.NewLimiter(rate.Every(time.Second), 1)
	actual := t.editLimiters.getOrSet(messageID, limiter)
	return actual.(*rate.Limiter)
}

// messageState is a bounded map keyed by message id. Insertion past the cap
// evicts the oldest entry; a delete frees the slot early.
type messageState struct {
	mu    sync.Mutex
	max   int
	order []string
	items map[string]any
}

func newMessageState(max int) *messageState {
	return &messageState{max: max, items: make(map[string]any)}
}

func (s *messageState) get(key string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.items[key]
	return v, ok
}

func (s *messageState) set(key string, val any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setLocked(key, val)
}

// getOrSet returns the existing value for key, storing val if absent.
func (s *messageState) getOrSet(key string, val any) any {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.items[key]; ok {
		return v
	}
	s.setLocked(key, val)
	return val
}

func (s *messageState) setLocked(key string, val any) {
	if _, ok := s.items[key]; !ok {
		for len(s.order) >= s.max {
			delete(s.items, s.order[0])
			s.order = s.order[1:]
		}
		s.order = append(s.order, key)
	}
	s.items[key] = val
}

func (s *messageState) delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[key]; !ok {
		return
	}
	delete(s.items, key)
	for i, k := range s.order {
		if k == key {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

func (s *messageState) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// mentionsUser reports whether the message @-mentions the given user.
func mentionsUser(m *discordgo.MessageCreate, userID string) bool {
	for _, u := range m.Mentions {
		if u != nil && u.ID == userID {
			return true
		}
	}
	return false
}

// stripMention removes the bot's mention tokens from text.
func stripMention(text, userID string) string {
	if userID == "" {
		return strings.TrimSpace(text)
	}
	text = strings.ReplaceAll(text, "<@"+userID+">", "")
	text = strings.ReplaceAll(text, "<@!"+userID+">", "")
	return strings.TrimSpace(text)
}

// displayName prefers server nickname, then global name, then username.
func displayName(m *discordgo.MessageCreate) string {
	if m.Member != nil && m.Member.Nick != "" {
		return m.Member.Nick
	}
	if m.Author.GlobalName != "" {
		return m.Author.GlobalName
	}
	return m.Author.Username
}
