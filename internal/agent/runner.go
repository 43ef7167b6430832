package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mattn/go-runewidth"

	"github.com/EdibleTuber/Mother/internal/chat"
	"github.com/EdibleTuber/Mother/internal/providers"
	"github.com/EdibleTuber/Mother/internal/sandbox"
	"github.com/EdibleTuber/Mother/internal/skills"
	"github.com/EdibleTuber/Mother/internal/store"
	"github.com/EdibleTuber/Mother/internal/transcript"
)

const (
	workingIndicator = "*Thinking...*"
	stoppedIndicator = "*Stopped*"
	failedIndicator  = "*Sorry, something went wrong*"
	silentToken      = "[SILENT]"

	// Main-channel messages over this length are split.
	mainMessageCap = 1900
	splitChunkSize = 1850

	// Thread-post budgets for tool summaries.
	threadArgsCap   = 300
	threadResultCap = 900

	// Display width for the working-message caption.
	captionWidth = 60
)

// RunnerConfig wires one channel's runner.
type RunnerConfig struct {
	ChannelID string
	Store     *store.ChannelStore
	Transport chat.Transport
	Engine    *Engine
	Model     providers.ModelSpec
	Exec      sandbox.Executor
	Skills    *skills.Loader

	BotName   string
	BotUserID string
	StopHint  string
	Sandbox   string

	// ThinkingInThread opts thread posts of thinking content in; thinking
	// is always logged.
	ThinkingInThread bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Runner owns one channel's agent session: its transcript, run state, and
// the ordered side-effect chain for everything UI-visible. Created on first
// use and cached for the process lifetime; runs are serialized by the
// channel queue.
type Runner struct {
	cfg    RunnerConfig
	chain  *EffectChain
	logger *slog.Logger
	now    func() time.Time

	mu            sync.Mutex
	running       bool
	stopRequested bool
	cancel        context.CancelFunc
	currentUI     *runUI
}

func NewRunner(cfg RunnerConfig) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "runner", "channel", cfg.ChannelID)
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	r := &Runner{
		cfg:    cfg,
		chain:  NewEffectChain(logger),
		logger: logger,
		now:    now,
	}
	r.chain.OnError(r.postEffectError)
	return r
}

// Running reports whether a run is currently active.
func (r *Runner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// Abort requests cancellation of the active run. Returns false when nothing
// is running. The in-flight step surrenders and the run ends with an
// aborted stop reason; the working indicator becomes the stopped marker.
func (r *Runner) Abort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return false
	}
	r.stopRequested = true
	if r.cancel != nil {
		r.cancel()
	}
	return true
}

// PostNotice posts a transient main-channel line (stop confirmations, busy
// notices) through the side-effect chain so it lands in event order.
func (r *Runner) PostNotice(text string) {
	r.chain.EnqueueQuiet("notice", func() error {
		_, err := r.cfg.Transport.PostMessage(context.Background(), r.cfg.ChannelID, text)
		return err
	})
}

// QueueUpload enqueues a file upload; the attach tool routes through here
// so uploads interleave correctly with posts.
func (r *Runner) QueueUpload(hostPath, title string) {
	if title == "" {
		title = filepath.Base(hostPath)
	}
	r.chain.Enqueue("upload", func() error {
		return r.cfg.Transport.UploadFile(context.Background(), r.cfg.ChannelID, hostPath, title)
	})
}

// RunParams identifies the inbound message driving a run. The message is
// already in the channel log; the transcript sync picks it up by ts.
type RunParams struct {
	TS         string
	Text       string
	ImagePaths []string
}

// Run executes one prompt to completion: sync the transcript, rebuild the
// system prompt, drive the engine, and route its events to the channel.
func (r *Runner) Run(ctx context.Context, p RunParams) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return errors.New("run already active")
	}
	runCtx, cancel := context.WithCancel(ctx)
	r.running = true
	r.stopRequested = false
	r.cancel = cancel
	r.mu.Unlock()

	defer func() {
		cancel()
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.currentUI = nil
		r.mu.Unlock()
	}()

	msgs, system, wire, err := r.prepare(p)
	if err != nil {
		return err
	}

	ui := &runUI{
		transport: r.cfg.Transport,
		channelID: r.cfg.ChannelID,
		chain:     r.chain,
	}
	r.mu.Lock()
	r.currentUI = ui
	r.mu.Unlock()

	ui.setTyping(true)
	ui.postWorking()

	type pendingTool struct {
		label   string
		started time.Time
	}
	pending := make(map[string]pendingTool)
	var usage transcript.Usage
	var finalText string
	aborted := false

	for ev := range r.cfg.Engine.Run(runCtx, EngineRequest{System: system, Messages: wire}) {
		switch ev.Type {
		case EventRetryStart:
			ui.editWorking(fmt.Sprintf("*Retrying (%d/%d)...*", ev.Attempt, ev.MaxRetries))

		case EventCompactionStart:
			r.logger.Info("auto compaction started")
		case EventCompactionEnd:
			r.logger.Info("auto compaction finished")

		case EventMessageStart:
			// Progress is reflected per tool; nothing to show yet.

		case EventToolStart:
			pending[ev.ToolCallID] = pendingTool{label: ev.Label(), started: r.now()}
			ui.editWorking("*-> " + runewidth.Truncate(ev.Label(), captionWidth, "…") + "*")

		case EventToolEnd:
			pt := pending[ev.ToolCallID]
			delete(pending, ev.ToolCallID)
			ui.threadPost(toolSummary(ev, pt.label, r.now().Sub(pt.started)))
			if ev.IsError && ev.Result != nil {
				ui.threadPost("*Error: " + firstN(ev.Result.ForLLM, 200) + "*")
			}
			msgs = append(msgs, toolTranscript(ev))

		case EventMessageEnd:
			msgs = append(msgs, assistantTranscript(ev))
			if thinking := partsThinking(ev.Content); thinking != "" {
				r.logger.Info("model thinking", "thinking", firstN(thinking, 500))
				if r.cfg.ThinkingInThread {
					ui.threadPost("*thinking:* " + firstN(thinking, 1500))
				}
			}

			switch ev.StopReason {
			case transcript.StopToolUse:
				usage.Add(usageOf(ev))
				if text := CleanAssistantText(partsText(ev.Content)); text != "" {
					ui.threadPost(text)
				}

			case transcript.StopAborted:
				aborted = true
				ui.replaceWorking(stoppedIndicator)

			case transcript.StopError:
				ui.replaceWorking(failedIndicator)
				if ev.ErrorMessage != "" {
					ui.threadPost("*Error: " + firstN(ev.ErrorMessage, 500) + "*")
				}

			default: // endTurn, maxTokens
				usage.Add(usageOf(ev))
				finalText = r.deliverFinal(ui, CleanAssistantText(partsText(ev.Content)))
			}
		}
	}

	r.finishUsage(ui, usage, aborted, system, msgs)
	ui.setTyping(false)
	r.chain.Drain()

	r.recordFinal(msgs, finalText, aborted, ui)
	return nil
}

// prepare syncs the transcript from the channel log, trims it by turns,
// rebuilds the system prompt, and snapshots the full context window.
func (r *Runner) prepare(p RunParams) ([]transcript.Message, string, []providers.Message, error) {
	channelID := r.cfg.ChannelID
	contextPath := r.cfg.Store.ContextPath(channelID)

	msgs, err := transcript.Load(contextPath)
	if err != nil {
		r.logger.Warn("transcript load failed, starting fresh", "error", err)
		msgs = nil
	}
	entries, err := r.cfg.Store.EntriesSince(channelID, "")
	if err != nil {
		return nil, "", nil, fmt.Errorf("read channel log: %w", err)
	}
	msgs = transcript.Sync(msgs, entries, p.TS)
	msgs = transcript.TrimTurns(msgs, transcript.MaxTurns)

	system := BuildSystemPrompt(PromptConfig{
		BotName:       r.cfg.BotName,
		ChannelID:     channelID,
		Workspace:     r.cfg.Exec.WorkspacePath(),
		ChannelDir:    filepath.Join(r.cfg.Exec.WorkspacePath(), channelID),
		EventsDir:     filepath.Join(r.cfg.Exec.WorkspacePath(), "events"),
		HostWorkspace: r.cfg.Store.Workspace(),
		HostChannel:   r.cfg.Store.ChannelDir(channelID),
		StopHint:      r.cfg.StopHint,
		Sandbox:       r.cfg.Sandbox,
		Now:           r.now(),
		Entries:       entries,
		Skills:        r.cfg.Skills,
	})

	images := LoadAttachedImages(r.logger, p.ImagePaths)
	wire := wireMessages(msgs, images)

	transcript.WriteSnapshot(r.cfg.Store.SnapshotPath(channelID), transcript.Snapshot{
		SystemPrompt:   system,
		Transcript:     msgs,
		UserMessage:    p.Text,
		AttachedImages: len(images),
	})
	return msgs, system, wire, nil
}

// deliverFinal applies the silent contract and the splitting rules, then
// posts the final text to the main channel and the thread. Returns the text
// actually shown ("" when suppressed).
func (r *Runner) deliverFinal(ui *runUI, text string) string {
	if isSilentReply(text) {
		r.logger.Info("silent reply, removing run output")
		ui.deleteAllVisible()
		return ""
	}
	if strings.TrimSpace(text) == "" {
		ui.deleteWorking()
		return ""
	}

	parts := splitFinal(text)
	ui.replaceWorking(parts[0])
	for _, part := range parts[1:] {
		ui.postMain(part)
	}
	ui.threadPost(text)
	return text
}

// finishUsage posts the cost/context summary for paid (or explicitly local)
// models after non-aborted runs.
func (r *Runner) finishUsage(ui *runUI, usage transcript.Usage, aborted bool, system string, msgs []transcript.Message) {
	if aborted || usage.Total() == 0 {
		return
	}
	pu := providers.Usage{
		PromptTokens:        usage.Input,
		CompletionTokens:    usage.Output,
		CacheReadTokens:     usage.CacheRead,
		CacheCreationTokens: usage.CacheWrite,
	}
	cost := r.cfg.Model.Cost(&pu)
	if cost <= 0 && !r.cfg.Model.Local {
		return
	}

	window := r.cfg.Model.ContextWindow
	if window <= 0 {
		window = 200000
	}
	est := len(system)/4 + estimateTranscriptTokens(msgs)
	line := fmt.Sprintf("tokens in %d, out %d, cache r/w %d/%d",
		usage.Input, usage.Output, usage.CacheRead, usage.CacheWrite)
	if cost > 0 {
		line += fmt.Sprintf(" | cost $%.4f", cost)
	}
	line += fmt.Sprintf(" | context ~%d/%d (%d%%)", est, window, est*100/window)
	ui.threadPost(line)
}

// recordFinal persists the run: the final text goes into the channel log as
// a bot line (keyed by the posted message id so the next sync skips it),
// and the transcript file is rewritten.
func (r *Runner) recordFinal(msgs []transcript.Message, finalText string, aborted bool, ui *runUI) {
	if finalText != "" && !aborted {
		ts := ui.workingID()
		if ts == "" {
			ts = uuid.NewString()
		}
		if _, err := r.cfg.Store.Append(r.cfg.ChannelID, store.LogEntry{
			Date:     r.now(),
			TS:       ts,
			User:     r.cfg.BotUserID,
			UserName: r.cfg.BotName,
			Text:     finalText,
			IsBot:    true,
		}); err != nil {
			r.logger.Warn("bot log append failed", "error", err)
		}
		// Stamp the final assistant message with the log ts so the next
		// sync's high-water mark covers it.
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == transcript.RoleAssistant {
				msgs[i].TS = ts
				break
			}
		}
	}

	if err := transcript.Rewrite(r.cfg.Store.ContextPath(r.cfg.ChannelID), msgs); err != nil {
		r.logger.Warn("transcript rewrite failed", "error", err)
	}
}

func (r *Runner) postEffectError(msg string) {
	r.mu.Lock()
	ui := r.currentUI
	r.mu.Unlock()
	if ui == nil {
		return
	}
	ui.threadPostQuiet("*Error: " + firstN(msg, 200) + "*")
}

// --- event to transcript conversion ---

func assistantTranscript(ev BackendEvent) transcript.Message {
	return transcript.Message{
		Role:         transcript.RoleAssistant,
		Content:      ev.Content,
		StopReason:   ev.StopReason,
		Usage:        ev.Usage,
		ErrorMessage: ev.ErrorMessage,
	}
}

func toolTranscript(ev BackendEvent) transcript.Message {
	content := ""
	if ev.Result != nil {
		content = ev.Result.ForLLM
	}
	return transcript.ToolMessage(ev.ToolCallID, &transcript.ToolResult{
		Content: []transcript.Part{transcript.TextPart(content)},
		IsError: ev.IsError,
	})
}

func usageOf(ev BackendEvent) transcript.Usage {
	if ev.Usage == nil {
		return transcript.Usage{}
	}
	return *ev.Usage
}

// --- wire conversion ---

// wireMessages converts the transcript into provider messages, attaching
// inbound images to the last user message.
func wireMessages(msgs []transcript.Message, images []providers.ImageContent) []providers.Message {
	lastUser := -1
	for i, m := range msgs {
		if m.Role == transcript.RoleUser {
			lastUser = i
		}
	}

	var out []providers.Message
	for i, m := range msgs {
		switch m.Role {
		case transcript.RoleUser:
			pm := providers.Message{Role: "user", Content: m.Text()}
			if i == lastUser && len(images) > 0 {
				pm.Images = images
			}
			out = append(out, pm)

		case transcript.RoleAssistant:
			pm := providers.Message{Role: "assistant", Content: m.Text()}
			for _, p := range m.Content {
				if p.Type == transcript.PartToolUse {
					pm.ToolCalls = append(pm.ToolCalls, providers.ToolCall{
						ID:        p.ToolCallID,
						Name:      p.ToolName,
						Arguments: p.Args,
					})
				}
			}
			if pm.Content == "" && len(pm.ToolCalls) == 0 {
				continue
			}
			out = append(out, pm)

		case transcript.RoleTool:
			content := ""
			isErr := false
			if m.Result != nil {
				content = partsText(m.Result.Content)
				isErr = m.Result.IsError
			}
			out = append(out, providers.Message{
				Role:       "tool",
				Content:    content,
				ToolCallID: m.ToolCallID,
				IsError:    isErr,
			})
		}
	}
	return out
}

func estimateTranscriptTokens(msgs []transcript.Message) int {
	chars := 0
	for _, m := range msgs {
		for _, p := range m.Content {
			chars += len(p.Text) + len(p.Thinking) + len(p.Data)
		}
		if m.Result != nil {
			for _, p := range m.Result.Content {
				chars += len(p.Text)
			}
		}
	}
	return chars / 4
}

// --- text helpers ---

func partsText(parts []transcript.Part) string {
	var out string
	for _, p := range parts {
		if p.Type == transcript.PartText {
			out += p.Text
		}
	}
	return out
}

func partsThinking(parts []transcript.Part) string {
	var out string
	for _, p := range parts {
		if p.Type == transcript.PartThinking {
			out += p.Thinking
		}
	}
	return out
}

func isSilentReply(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), silentToken)
}

// splitFinal cuts text into main-channel sized parts, suffixing every part
// but the last with a continuation marker.
func splitFinal(text string) []string {
	if len(text) <= mainMessageCap {
		return []string{text}
	}
	var parts []string
	rest := text
	for len(rest) > splitChunkSize {
		cut := splitChunkSize
		// Prefer a line break near the boundary, and never cut mid-rune.
		if idx := strings.LastIndexByte(rest[:cut], '\n'); idx > splitChunkSize-200 {
			cut = idx
		}
		for cut > 0 && !utf8.RuneStart(rest[cut]) {
			cut--
		}
		parts = append(parts, strings.TrimRight(rest[:cut], "\n"))
		rest = strings.TrimLeft(rest[cut:], "\n")
	}
	if rest != "" {
		parts = append(parts, rest)
	}
	for i := 0; i < len(parts)-1; i++ {
		parts[i] += fmt.Sprintf("\n*(continued %d...)*", i+2)
	}
	return parts
}

// toolSummary formats the thread report for one finished tool call: status,
// name, label, elapsed, then args and result fences.
func toolSummary(ev BackendEvent, label string, elapsed time.Duration) string {
	mark := "OK"
	if ev.IsError {
		mark = "X"
	}
	if label == "" {
		label = ev.ToolName
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s (%ds)\n", mark, ev.ToolName, label, int(elapsed.Seconds()))

	if args := displayArgs(ev.Args); args != "" {
		b.WriteString("```json\n" + firstN(args, threadArgsCap) + "\n```\n")
	}
	result := ""
	if ev.Result != nil {
		result = ev.Result.ForLLM
	}
	if result != "" {
		b.WriteString("```\n" + lastN(result, threadResultCap) + "\n```")
	}
	return strings.TrimRight(b.String(), "\n")
}

func displayArgs(args map[string]interface{}) string {
	if len(args) == 0 {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	return string(data)
}

// lastN keeps the tail of s, marking the cut.
func lastN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := len(s) - n
	for cut < len(s) && !utf8.RuneStart(s[cut]) {
		cut++
	}
	return "..." + s[cut:]
}

// --- per-run UI state ---

// runUI tracks the messages a run has posted so later events can edit,
// thread under, or delete them. All mutation happens inside chain effects,
// which run one at a time.
type runUI struct {
	transport chat.Transport
	channelID string
	chain     *EffectChain

	mu      sync.Mutex
	working chat.MessageHandle
	posted  []chat.MessageHandle // thread posts and continuation parts
}

func (u *runUI) postWorking() {
	u.chain.Enqueue("post-working", func() error {
		h, err := u.transport.PostMessage(context.Background(), u.channelID, workingIndicator)
		if err != nil {
			return err
		}
		u.mu.Lock()
		u.working = h
		u.mu.Unlock()
		return nil
	})
}

func (u *runUI) editWorking(text string) {
	u.chain.Enqueue("edit-working", func() error {
		u.mu.Lock()
		h := u.working
		u.mu.Unlock()
		if h.IsZero() {
			return nil
		}
		return u.transport.UpdateMessage(context.Background(), h, text)
	})
}

// replaceWorking is editWorking under its final-text meaning; the handle
// then carries the assistant's visible reply.
func (u *runUI) replaceWorking(text string) { u.editWorking(text) }

func (u *runUI) deleteWorking() {
	u.chain.EnqueueQuiet("delete-working", func() error {
		u.mu.Lock()
		h := u.working
		u.working = chat.MessageHandle{}
		u.mu.Unlock()
		if h.IsZero() {
			return nil
		}
		return u.transport.DeleteMessage(context.Background(), h)
	})
}

func (u *runUI) postMain(text string) {
	u.chain.Enqueue("post-main", func() error {
		h, err := u.transport.PostMessage(context.Background(), u.channelID, text)
		if err != nil {
			return err
		}
		u.mu.Lock()
		u.posted = append(u.posted, h)
		u.mu.Unlock()
		return nil
	})
}

func (u *runUI) threadPost(text string) {
	for _, chunk := range threadChunks(text) {
		chunk := chunk
		u.chain.Enqueue("thread-post", func() error {
			return u.postThreadChunk(chunk)
		})
	}
}

func (u *runUI) threadPostQuiet(text string) {
	u.chain.EnqueueQuiet("thread-error-post", func() error {
		return u.postThreadChunk(text)
	})
}

func (u *runUI) postThreadChunk(text string) error {
	u.mu.Lock()
	parent := u.working
	u.mu.Unlock()
	if parent.IsZero() {
		return nil
	}
	h, err := u.transport.PostInThread(context.Background(), parent, text)
	if err != nil {
		return err
	}
	u.mu.Lock()
	u.posted = append(u.posted, h)
	u.mu.Unlock()
	return nil
}

// deleteAllVisible removes every message the run has posted, working
// indicator included. Used by the silent contract.
func (u *runUI) deleteAllVisible() {
	u.chain.EnqueueQuiet("delete-all", func() error {
		u.mu.Lock()
		handles := append([]chat.MessageHandle{}, u.posted...)
		if !u.working.IsZero() {
			handles = append(handles, u.working)
		}
		u.posted = nil
		u.working = chat.MessageHandle{}
		u.mu.Unlock()

		var firstErr error
		for _, h := range handles {
			if err := u.transport.DeleteMessage(context.Background(), h); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	})
}

func (u *runUI) setTyping(on bool) {
	u.chain.EnqueueQuiet("typing", func() error {
		return u.transport.SetTyping(context.Background(), u.channelID, on)
	})
}

func (u *runUI) workingID() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.working.MessageID
}

func threadChunks(text string) []string {
	if len(text) <= mainMessageCap {
		return []string{text}
	}
	var chunks []string
	rest := text
	for len(rest) > mainMessageCap {
		cut := mainMessageCap
		for cut > 0 && !utf8.RuneStart(rest[cut]) {
			cut--
		}
		chunks = append(chunks, rest[:cut])
		rest = rest[cut:]
	}
	if rest != "" {
		chunks = append(chunks, rest)
	}
	return chunks
}
