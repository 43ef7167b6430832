// Package cli implements the chat transport on stdin/stdout so the host
// can run without Discord. Every line typed becomes an inbound message on
// the fixed "cli" channel; outbound traffic prints with per-kind prefixes
// and thread posts are indented under their parent.
package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EdibleTuber/Mother/internal/chat"
)

// ChannelID is the synthetic channel all CLI traffic runs on.
const ChannelID = "cli"

const maxLineBytes = 1 << 20

// Transport reads prompts from in and prints bot output to out.
type Transport struct {
	in      io.Reader
	out     io.Writer
	botName string
	logger  *slog.Logger

	mu sync.Mutex
}

func New(in io.Reader, out io.Writer, botName string, logger *slog.Logger) *Transport {
	if botName == "" {
		botName = "mother"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Transport{
		in:      in,
		out:     out,
		botName: botName,
		logger:  logger.With("component", "cli"),
	}
}

func (t *Transport) Name() string    { return "cli" }
func (t *Transport) BotName() string { return t.botName }

// Run reads lines until EOF or cancellation. EOF is a clean shutdown.
func (t *Transport) Run(ctx context.Context, handler chat.Handler) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(t.in)
		scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		if err := scanner.Err(); err != nil {
			t.logger.Warn("stdin read failed", "error", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				t.logger.Info("stdin closed, shutting down")
				return nil
			}
			text := strings.TrimSpace(line)
			if text == "" {
				continue
			}
			// TS must sort after every stored message or the
			// transcript sync high-water mark drops this one.
			handler(chat.InboundMessage{
				ChannelID:   ChannelID,
				TS:          strconv.FormatInt(time.Now().UnixNano(), 10),
				UserID:      "user",
				UserName:    "user",
				DisplayName: "user",
				Text:        text,
				IsDM:        true,
				Time:        time.Now(),
			})
		}
	}
}

func (t *Transport) PostMessage(_ context.Context, channelID, text string) (chat.MessageHandle, error) {
	t.writeLines(t.botName+"> ", text)
	return chat.MessageHandle{ChannelID: channelID, MessageID: uuid.NewString()}, nil
}

func (t *Transport) UpdateMessage(_ context.Context, h chat.MessageHandle, text string) error {
	t.writeLines(t.botName+"* ", text)
	return nil
}

func (t *Transport) DeleteMessage(_ context.Context, h chat.MessageHandle) error {
	t.logger.Debug("message removed", "id", h.MessageID)
	return nil
}

func (t *Transport) PostInThread(_ context.Context, parent chat.MessageHandle, text string) (chat.MessageHandle, error) {
	t.writeLines("  | ", text)
	return chat.MessageHandle{ChannelID: parent.ChannelID, MessageID: uuid.NewString()}, nil
}

func (t *Transport) UploadFile(_ context.Context, channelID, path, title string) error {
	t.writeLines(t.botName+"> ", fmt.Sprintf("[file: %s]", path))
	return nil
}

func (t *Transport) SetTyping(_ context.Context, channelID string, typing bool) error {
	return nil
}

func (t *Transport) writeLines(prefix, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, line := range strings.Split(text, "\n") {
		fmt.Fprintf(t.out, "%s%s\n", prefix, line)
	}
}
