package agent

import (
	"time"

	"github.com/EdibleTuber/Mother/internal/tools"
	"github.com/EdibleTuber/Mother/internal/transcript"
)

// Backend event types, emitted in order within a run: tool executions and
// assistant messages interleave until a message ends with a non-toolUse
// stop reason.
const (
	EventToolStart       = "tool_execution_start"
	EventToolEnd         = "tool_execution_end"
	EventMessageStart    = "message_start"
	EventMessageEnd      = "message_end"
	EventCompactionStart = "auto_compaction_start"
	EventCompactionEnd   = "auto_compaction_end"
	EventRetryStart      = "auto_retry_start"
)

// BackendEvent is one step of a streamed agent run. Which fields are set
// depends on Type.
type BackendEvent struct {
	Type string

	// tool_execution_start / tool_execution_end
	ToolCallID string
	ToolName   string
	Args       map[string]interface{}
	IsError    bool
	Result     *tools.Result

	// message_start / message_end
	Role         string
	Content      []transcript.Part
	StopReason   string
	Usage        *transcript.Usage
	ErrorMessage string

	// auto_retry_start
	Attempt    int
	MaxRetries int
	RetryDelay time.Duration
}

// Label returns the human caption for a tool event: the optional label
// argument when present, the tool name otherwise.
func (e BackendEvent) Label() string {
	if s, ok := e.Args["label"].(string); ok && s != "" {
		return s
	}
	return e.ToolName
}
