package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"time"

	"github.com/EdibleTuber/Mother/internal/guard"
)

// DefaultDelegateTimeout bounds a single delegated CLI agent run.
const DefaultDelegateTimeout = 10 * time.Minute

// DefaultDelegateArgv launches the delegate CLI in one-shot JSON mode. The
// prompt is appended as the final argument.
var DefaultDelegateArgv = []string{"claude", "-p", "--output-format", "json"}

// DelegateTool hands a task to an external CLI coding agent and returns its
// result. The delegate always runs on the host since the binary and its
// credentials live there, not in the sandbox container.
type DelegateTool struct {
	paths     *guard.PathGuard
	workspace string
	argv      []string
}

func NewDelegateTool(paths *guard.PathGuard, workspace string, argv []string) *DelegateTool {
	if len(argv) == 0 {
		argv = DefaultDelegateArgv
	}
	return &DelegateTool{paths: paths, workspace: workspace, argv: argv}
}

func (t *DelegateTool) Name() string { return "delegate" }
func (t *DelegateTool) Description() string {
	return "Delegate a coding task to a CLI agent and return its result"
}
func (t *DelegateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"prompt": map[string]interface{}{
				"type":        "string",
				"description": "Task description for the delegate agent",
			},
			"cwd": map[string]interface{}{
				"type":        "string",
				"description": "Working directory for the delegate (defaults to the workspace)",
			},
			"sessionId": map[string]interface{}{
				"type":        "string",
				"description": "Resume a previous delegate session",
			},
			"maxTurns": map[string]interface{}{
				"type":        "integer",
				"description": "Cap the delegate's agent turns",
			},
			"timeoutSec": map[string]interface{}{
				"type":        "integer",
				"description": "Abort the delegate after this many seconds (default 600)",
			},
		},
		"required": []string{"prompt"},
	}
}

// delegateOutput is the JSON envelope the delegate CLI prints in one-shot mode.
type delegateOutput struct {
	Result    string `json:"result"`
	SessionID string `json:"session_id"`
}

func (t *DelegateTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	prompt, _ := args["prompt"].(string)
	if prompt == "" {
		return ErrorResult("prompt is required")
	}

	cwd := t.workspace
	if dir, _ := args["cwd"].(string); dir != "" {
		decision := t.paths.Check(dir, t.workspace)
		if !decision.Allowed {
			return ErrorResult(decision.Reason)
		}
		cwd = decision.Resolved
	}

	argv := append([]string{}, t.argv...)
	if sessionID, _ := args["sessionId"].(string); sessionID != "" {
		argv = append(argv, "--resume", sessionID)
	}
	if turns := intArg(args, "maxTurns"); turns > 0 {
		argv = append(argv, "--max-turns", strconv.Itoa(turns))
	}
	argv = append(argv, prompt)

	timeout := DefaultDelegateTimeout
	if sec := intArg(args, "timeoutSec"); sec > 0 {
		timeout = time.Duration(sec) * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = cwd

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return ErrorResult(fmt.Sprintf("delegate timed out after %s", timeout))
		}
		msg := stderr.String()
		if msg == "" {
			msg = err.Error()
		}
		return ErrorResult(fmt.Sprintf("delegate failed: %s", msg))
	}

	var out delegateOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil || out.Result == "" {
		// Not the expected envelope; hand the raw output to the model.
		return SilentResult(stdout.String())
	}

	text := out.Result
	if out.SessionID != "" {
		text += fmt.Sprintf("\n[sessionId: %s]", out.SessionID)
	}
	return SilentResult(text)
}
