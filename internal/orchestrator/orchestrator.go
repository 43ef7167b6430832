// Package orchestrator routes inbound chat traffic: every message is logged
// first, then either handled as a stop command, rejected while a run is
// active, or queued as agent work on its channel. Scheduled events enter
// through the same door so channel serialization and queue caps hold.
package orchestrator

import (
	"context"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/EdibleTuber/Mother/internal/agent"
	"github.com/EdibleTuber/Mother/internal/chat"
	"github.com/EdibleTuber/Mother/internal/queue"
	"github.com/EdibleTuber/Mother/internal/store"
)

// Runner is the per-channel agent session the orchestrator drives.
type Runner interface {
	Running() bool
	Abort() bool
	PostNotice(text string)
	Run(ctx context.Context, p agent.RunParams) error
}

// RunnerFactory builds a channel's runner on first use. The stop hint is
// fixed at creation from the first triggering message's channel kind.
type RunnerFactory func(channelID, stopHint string) Runner

type Config struct {
	Store     *store.ChannelStore
	Transport chat.Transport
	Queue     *queue.ChannelQueue
	NewRunner RunnerFactory

	// Messages timestamped before Started are logged but never trigger
	// a run.
	Started time.Time

	Logger *slog.Logger
}

type Orchestrator struct {
	store     *store.ChannelStore
	transport chat.Transport
	queue     *queue.ChannelQueue
	newRunner RunnerFactory
	started   time.Time
	logger    *slog.Logger

	mu      sync.Mutex
	runners map[string]Runner
}

func New(cfg Config) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:     cfg.Store,
		transport: cfg.Transport,
		queue:     cfg.Queue,
		newRunner: cfg.NewRunner,
		started:   cfg.Started,
		logger:    logger.With("component", "orchestrator"),
		runners:   make(map[string]Runner),
	}
}

// HandleInbound is the transport's message handler.
func (o *Orchestrator) HandleInbound(msg chat.InboundMessage) {
	channelID := msg.ChannelID
	if err := o.store.EnsureChannel(channelID); err != nil {
		o.logger.Error("channel setup failed", "channel", channelID, "error", err)
		return
	}

	entry := store.LogEntry{
		Date:        msg.Time,
		TS:          msg.TS,
		User:        msg.UserID,
		UserName:    msg.UserName,
		DisplayName: msg.DisplayName,
		Text:        msg.Text,
		IsBot:       msg.IsBot,
	}
	var downloads []store.Download
	var imagePaths []string
	for _, f := range msg.Files {
		local := store.AttachmentLocal(channelID, msg.TS, f.Name)
		entry.Attachments = append(entry.Attachments, store.Attachment{Original: f.URL, Local: local})
		downloads = append(downloads, store.Download{
			ChannelID: channelID,
			LocalPath: local,
			URL:       f.URL,
		})
		if isImageName(f.Name) {
			imagePaths = append(imagePaths, filepath.Join(o.store.Workspace(), local))
		}
	}

	appended, err := o.store.Append(channelID, entry)
	if err != nil {
		o.logger.Error("log append failed", "channel", channelID, "error", err)
		return
	}
	if !appended {
		o.logger.Debug("duplicate message ignored", "channel", channelID, "ts", msg.TS)
		return
	}
	o.store.QueueDownloads(downloads)

	if msg.IsBot {
		return
	}
	if msg.Time.Before(o.started) {
		o.logger.Info("message predates startup, logged only", "channel", channelID, "ts", msg.TS)
		return
	}

	runner := o.runnerFor(channelID, o.stopHint(msg.IsDM))

	if isStopCommand(msg.Text) {
		if runner.Abort() {
			runner.PostNotice("*Stopping...*")
		} else {
			runner.PostNotice("*Nothing running*")
		}
		return
	}

	if runner.Running() {
		runner.PostNotice("*Already working. Say " + o.stopHint(msg.IsDM) + " to cancel.*")
		return
	}

	params := agent.RunParams{TS: msg.TS, Text: msg.Text, ImagePaths: imagePaths}
	if !o.queue.Enqueue(channelID, func(ctx context.Context) error {
		return runner.Run(ctx, params)
	}) {
		o.logger.Warn("run dropped, channel queue full", "channel", channelID)
	}
}

// EnqueuePrompt injects a synthesized prompt (the event scheduler's hook).
// The text is logged like a user line and queued behind any active run;
// nobody gets nagged about being busy.
func (o *Orchestrator) EnqueuePrompt(channelID, text string) bool {
	if err := o.store.EnsureChannel(channelID); err != nil {
		o.logger.Error("channel setup failed", "channel", channelID, "error", err)
		return false
	}

	ts := strconv.FormatInt(time.Now().UnixNano(), 10)
	appended, err := o.store.Append(channelID, store.LogEntry{
		Date:     time.Now(),
		TS:       ts,
		User:     "event",
		UserName: "event",
		Text:     text,
	})
	if err != nil {
		o.logger.Error("event log append failed", "channel", channelID, "error", err)
		return false
	}
	if !appended {
		return false
	}

	runner := o.runnerFor(channelID, o.stopHint(false))
	params := agent.RunParams{TS: ts, Text: text}
	ok := o.queue.Enqueue(channelID, func(ctx context.Context) error {
		return runner.Run(ctx, params)
	})
	if !ok {
		o.logger.Warn("event prompt dropped, channel queue full", "channel", channelID)
	}
	return ok
}

// runnerFor returns the channel's runner, creating and caching it on first
// use. Runners are never evicted.
func (o *Orchestrator) runnerFor(channelID, stopHint string) Runner {
	o.mu.Lock()
	defer o.mu.Unlock()
	if r, ok := o.runners[channelID]; ok {
		return r
	}
	r := o.newRunner(channelID, stopHint)
	o.runners[channelID] = r
	return r
}

func (o *Orchestrator) stopHint(isDM bool) string {
	if isDM {
		return "stop"
	}
	name := o.transport.BotName()
	if name == "" {
		name = "mother"
	}
	return "@" + name + " stop"
}

func isStopCommand(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), "stop")
}

func isImageName(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".png", ".jpg", ".jpeg", ".gif", ".webp":
		return true
	}
	return false
}
