// Package transcript holds the model-facing conversation types: messages,
// content parts, turn partitioning and trimming, and the context.jsonl
// mirror kept next to each channel's log.
package transcript

import (
	"encoding/json"
	"fmt"
)

// Part types.
const (
	PartText     = "text"
	PartThinking = "thinking"
	PartImage    = "image"
	PartToolUse  = "tool_use"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Stop reasons reported on assistant messages.
const (
	StopEndTurn   = "endTurn"
	StopToolUse   = "toolUse"
	StopMaxTokens = "maxTokens"
	StopAborted   = "aborted"
	StopError     = "error"
)

// Part is one piece of message content.
type Part struct {
	Type       string         `json:"type"`
	Text       string         `json:"text,omitempty"`
	Thinking   string         `json:"thinking,omitempty"`
	MimeType   string         `json:"mimeType,omitempty"`
	Data       string         `json:"data,omitempty"`
	ToolCallID string         `json:"toolCallId,omitempty"`
	ToolName   string         `json:"toolName,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
}

func TextPart(text string) Part         { return Part{Type: PartText, Text: text} }
func ThinkingPart(thinking string) Part { return Part{Type: PartThinking, Thinking: thinking} }
func ImagePart(mimeType, data string) Part {
	return Part{Type: PartImage, MimeType: mimeType, Data: data}
}

func ToolUsePart(id, name string, args map[string]any) Part {
	return Part{Type: PartToolUse, ToolCallID: id, ToolName: name, Args: args}
}

// Usage is the token accounting attached to an assistant message.
type Usage struct {
	Input      int `json:"input"`
	Output     int `json:"output"`
	CacheRead  int `json:"cacheRead"`
	CacheWrite int `json:"cacheWrite"`
}

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.Input += other.Input
	u.Output += other.Output
	u.CacheRead += other.CacheRead
	u.CacheWrite += other.CacheWrite
}

// Total returns the sum of all token fields.
func (u Usage) Total() int {
	return u.Input + u.Output + u.CacheRead + u.CacheWrite
}

// ToolResult is the payload of a tool-role message.
type ToolResult struct {
	Content []Part `json:"content"`
	IsError bool   `json:"isError,omitempty"`
}

// Message is one transcript entry. User messages mirrored from the channel
// log carry the source TS so the sync high-water mark survives restarts.
type Message struct {
	Role         string      `json:"role"`
	Content      []Part      `json:"content,omitempty"`
	StopReason   string      `json:"stopReason,omitempty"`
	Usage        *Usage      `json:"usage,omitempty"`
	ErrorMessage string      `json:"errorMessage,omitempty"`
	ToolCallID   string      `json:"toolCallId,omitempty"`
	Result       *ToolResult `json:"result,omitempty"`
	TS           string      `json:"ts,omitempty"`
}

// UserMessage builds a plain-text user message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: []Part{TextPart(text)}}
}

// ToolMessage builds the tool-role reply for a tool call.
func ToolMessage(toolCallID string, result *ToolResult) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Result: result}
}

// Text concatenates the text parts of the message.
func (m Message) Text() string {
	var out string
	for _, p := range m.Content {
		if p.Type == PartText {
			out += p.Text
		}
	}
	return out
}

// UnmarshalJSON accepts both part-array content and bare-string content for
// user messages, normalizing the latter to a single text part.
func (m *Message) UnmarshalJSON(data []byte) error {
	type alias Message
	aux := struct {
		Content json.RawMessage `json:"content"`
		*alias
	}{alias: (*alias)(m)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if len(aux.Content) == 0 {
		return nil
	}
	switch aux.Content[0] {
	case '"':
		var s string
		if err := json.Unmarshal(aux.Content, &s); err != nil {
			return fmt.Errorf("string content: %w", err)
		}
		m.Content = []Part{TextPart(s)}
	default:
		var parts []Part
		if err := json.Unmarshal(aux.Content, &parts); err != nil {
			return fmt.Errorf("content parts: %w", err)
		}
		m.Content = parts
	}
	return nil
}
