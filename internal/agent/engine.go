// Package agent drives the LLM tool-use loop and turns its progress into
// chat-visible output. The Engine owns the wire-level loop (prompt, stream,
// dispatch tools, feed results back) and reports progress as a stream of
// BackendEvents; the Runner consumes those events and routes text to the
// channel, the thread, and the transcript.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/EdibleTuber/Mother/internal/providers"
	"github.com/EdibleTuber/Mother/internal/tools"
	"github.com/EdibleTuber/Mother/internal/transcript"
)

const (
	defaultMaxIterations = 20

	// Visible retry budget for rate-limited backends. Transient transport
	// errors are retried silently inside the provider; only rate limits
	// reach this loop.
	maxBackendRetries = 3
	retryBaseDelay    = 2 * time.Second

	// Compact when the estimated prompt crosses this share of the window.
	compactionThreshold = 0.85
	keepRecentToolMsgs  = 4

	elidedToolResult = "[Old tool result elided to save context]"
)

// Engine runs one agent conversation turn against the LLM backend.
type Engine struct {
	provider      providers.Provider
	model         providers.ModelSpec
	registry      *tools.Registry
	maxIterations int
	logger        *slog.Logger
	tracer        trace.Tracer
}

// NewEngine builds an engine for one channel's runner.
func NewEngine(provider providers.Provider, model providers.ModelSpec, registry *tools.Registry, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		provider:      provider,
		model:         model,
		registry:      registry,
		maxIterations: defaultMaxIterations,
		logger:        logger.With("component", "engine"),
		tracer:        otel.Tracer("mother/agent"),
	}
}

// EngineRequest is one prompt: the rebuilt system prompt plus the wire-form
// transcript ending in the current user message.
type EngineRequest struct {
	System   string
	Messages []providers.Message
}

// Run executes the tool-use loop and streams BackendEvents until the run
// reaches a final message_end (endTurn, maxTokens, aborted, or error). The
// returned channel is closed when the run is over.
func (e *Engine) Run(ctx context.Context, req EngineRequest) <-chan BackendEvent {
	events := make(chan BackendEvent, 16)
	go func() {
		defer close(events)
		e.run(ctx, req, events)
	}()
	return events
}

func (e *Engine) run(ctx context.Context, req EngineRequest, events chan<- BackendEvent) {
	ctx, span := e.tracer.Start(ctx, "agent.run", trace.WithAttributes(
		attribute.String("model", e.model.ID),
		attribute.String("provider", e.provider.Name()),
	))
	defer span.End()

	messages := req.Messages
	window := e.model.ContextWindow
	if window <= 0 {
		window = 200000
	}

	for iteration := 1; iteration <= e.maxIterations; iteration++ {
		if est := estimateTokens(req.System, messages); est > int(float64(window)*compactionThreshold) {
			if compacted, ok := elideOldToolResults(messages); ok {
				events <- BackendEvent{Type: EventCompactionStart}
				messages = compacted
				e.logger.Info("compacted transcript",
					"estimated_tokens", est, "window", window)
				events <- BackendEvent{Type: EventCompactionEnd}
			}
		}

		events <- BackendEvent{Type: EventMessageStart, Role: transcript.RoleAssistant}

		resp, err := e.callWithRetry(ctx, providers.ChatRequest{
			System:    req.System,
			Messages:  messages,
			Tools:     e.registry.ProviderDefs(),
			Model:     e.model.ID,
			MaxTokens: e.model.MaxTokens,
		}, events)
		if err != nil {
			events <- e.failureEnd(ctx, err)
			return
		}

		parts := responseParts(resp)
		usage := convertUsage(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			events <- BackendEvent{
				Type:       EventMessageEnd,
				Role:       transcript.RoleAssistant,
				Content:    parts,
				StopReason: finalStopReason(resp.FinishReason),
				Usage:      usage,
			}
			return
		}

		events <- BackendEvent{
			Type:       EventMessageEnd,
			Role:       transcript.RoleAssistant,
			Content:    parts,
			StopReason: transcript.StopToolUse,
			Usage:      usage,
		}

		messages = append(messages, providers.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, tc := range resp.ToolCalls {
			if ctx.Err() != nil {
				events <- e.failureEnd(ctx, ctx.Err())
				return
			}
			messages = append(messages, e.executeTool(ctx, tc, events)...)
		}
	}

	e.logger.Warn("iteration budget exhausted", "max", e.maxIterations)
	events <- BackendEvent{
		Type:       EventMessageEnd,
		Role:       transcript.RoleAssistant,
		StopReason: transcript.StopEndTurn,
	}
}

// executeTool dispatches one tool call and returns the wire messages that
// feed its outcome back to the model.
func (e *Engine) executeTool(ctx context.Context, tc providers.ToolCall, events chan<- BackendEvent) []providers.Message {
	events <- BackendEvent{
		Type:       EventToolStart,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Args:       tc.Arguments,
	}

	toolCtx, span := e.tracer.Start(ctx, "tool."+tc.Name, trace.WithAttributes(
		attribute.String("tool", tc.Name),
	))
	started := time.Now()
	result := e.registry.Execute(toolCtx, tc.Name, stripLabel(tc.Arguments))
	span.End()

	if result.IsError {
		e.logger.Warn("tool error", "tool", tc.Name, "error", firstN(result.ForLLM, 200))
	} else {
		e.logger.Debug("tool done", "tool", tc.Name, "elapsed", time.Since(started).Round(time.Millisecond))
	}

	events <- BackendEvent{
		Type:       EventToolEnd,
		ToolCallID: tc.ID,
		ToolName:   tc.Name,
		Args:       tc.Arguments,
		IsError:    result.IsError,
		Result:     result,
	}

	msgs := []providers.Message{{
		Role:       "tool",
		Content:    result.ForLLM,
		ToolCallID: tc.ID,
		IsError:    result.IsError,
	}}
	// Image payloads travel as a follow-up user message; tool results are
	// text-only on both wire formats we speak.
	if len(result.Images) > 0 {
		msgs = append(msgs, providers.Message{Role: "user", Images: result.Images})
	}
	return msgs
}

// callWithRetry runs the streamed completion, retrying visibly on rate
// limits with the backend's Retry-After hint when it gives one.
func (e *Engine) callWithRetry(ctx context.Context, req providers.ChatRequest, events chan<- BackendEvent) (*providers.ChatResponse, error) {
	for attempt := 0; ; attempt++ {
		resp, err := e.provider.ChatStream(ctx, req, nil)
		if err == nil {
			return resp, nil
		}
		if !providers.IsRateLimited(err) || attempt >= maxBackendRetries {
			return nil, err
		}

		delay := providers.RetryAfterHint(err)
		if delay <= 0 {
			delay = retryBaseDelay << attempt
		}
		events <- BackendEvent{
			Type:       EventRetryStart,
			Attempt:    attempt + 1,
			MaxRetries: maxBackendRetries,
			RetryDelay: delay,
		}
		e.logger.Warn("backend rate limited, retrying",
			"attempt", attempt+1, "max", maxBackendRetries, "delay", delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// failureEnd maps a loop error to the final message_end: cancellation is an
// abort, anything else is a backend error.
func (e *Engine) failureEnd(ctx context.Context, err error) BackendEvent {
	if ctx.Err() != nil {
		return BackendEvent{
			Type:       EventMessageEnd,
			Role:       transcript.RoleAssistant,
			StopReason: transcript.StopAborted,
		}
	}
	e.logger.Error("backend call failed", "error", err)
	return BackendEvent{
		Type:         EventMessageEnd,
		Role:         transcript.RoleAssistant,
		StopReason:   transcript.StopError,
		ErrorMessage: err.Error(),
	}
}

func responseParts(resp *providers.ChatResponse) []transcript.Part {
	var parts []transcript.Part
	if resp.Thinking != "" {
		parts = append(parts, transcript.ThinkingPart(resp.Thinking))
	}
	if resp.Content != "" {
		parts = append(parts, transcript.TextPart(resp.Content))
	}
	for _, tc := range resp.ToolCalls {
		parts = append(parts, transcript.ToolUsePart(tc.ID, tc.Name, tc.Arguments))
	}
	return parts
}

func finalStopReason(finishReason string) string {
	if finishReason == "length" {
		return transcript.StopMaxTokens
	}
	return transcript.StopEndTurn
}

func convertUsage(u *providers.Usage) *transcript.Usage {
	if u == nil {
		return nil
	}
	return &transcript.Usage{
		Input:      u.PromptTokens,
		Output:     u.CompletionTokens,
		CacheRead:  u.CacheReadTokens,
		CacheWrite: u.CacheCreationTokens,
	}
}

// stripLabel removes the UI caption argument before dispatch; tools never
// see it.
func stripLabel(args map[string]interface{}) map[string]interface{} {
	if _, ok := args["label"]; !ok {
		return args
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k == "label" {
			continue
		}
		out[k] = v
	}
	return out
}

// estimateTokens approximates prompt size at four characters per token,
// which is close enough for the compaction threshold.
func estimateTokens(system string, msgs []providers.Message) int {
	chars := len(system)
	for _, m := range msgs {
		chars += len(m.Content)
		for _, tc := range m.ToolCalls {
			chars += len(tc.Name) + 64
			for k, v := range tc.Arguments {
				chars += len(k) + len(fmt.Sprint(v))
			}
		}
		for _, img := range m.Images {
			chars += len(img.Data)
		}
	}
	return chars / 4
}

// elideOldToolResults blanks tool results older than the last few,
// reporting whether anything changed.
func elideOldToolResults(msgs []providers.Message) ([]providers.Message, bool) {
	var toolIdx []int
	for i, m := range msgs {
		if m.Role == "tool" && m.Content != elidedToolResult {
			toolIdx = append(toolIdx, i)
		}
	}
	if len(toolIdx) <= keepRecentToolMsgs {
		return msgs, false
	}

	out := make([]providers.Message, len(msgs))
	copy(out, msgs)
	for _, i := range toolIdx[:len(toolIdx)-keepRecentToolMsgs] {
		out[i].Content = elidedToolResult
	}
	return out, true
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
