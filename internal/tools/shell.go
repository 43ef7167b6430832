package tools

import (
	"context"
	"fmt"
	"time"

	"github.com/EdibleTuber/Mother/internal/guard"
	"github.com/EdibleTuber/Mother/internal/sandbox"
)

// BashTool runs shell commands through the executor. Commands pass the same
// guard as user-typed input, so a prompt-injected `sudo` is refused here too.
type BashTool struct {
	commands *guard.CommandGuard
	exec     sandbox.Executor
}

func NewBashTool(commands *guard.CommandGuard, exec sandbox.Executor) *BashTool {
	return &BashTool{commands: commands, exec: exec}
}

func (t *BashTool) Name() string { return "bash" }
func (t *BashTool) Description() string {
	return "Execute a shell command in the workspace and return its output"
}
func (t *BashTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command": map[string]interface{}{
				"type":        "string",
				"description": "The shell command to execute",
			},
			"timeoutSec": map[string]interface{}{
				"type":        "integer",
				"description": "Timeout in seconds (default 600)",
			},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	command, _ := args["command"].(string)
	if command == "" {
		return ErrorResult("command is required")
	}

	if decision := t.commands.Check(command); !decision.Allowed {
		return ErrorResult(decision.Reason)
	}

	timeout := sandbox.DefaultShellTimeout
	if secs := intArg(args, "timeoutSec"); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	res, err := t.exec.RunShell(ctx, command, timeout)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to run command: %v", err))
	}

	output := combineOutput(res.Stdout, res.Stderr)
	if res.TimedOut {
		if output != "" {
			output += "\n"
		}
		return ErrorResult(output + fmt.Sprintf("command timed out after %s", timeout))
	}
	if res.ExitCode != 0 {
		if output != "" {
			output += "\n"
		}
		return ErrorResult(output + fmt.Sprintf("(exit code %d)", res.ExitCode))
	}
	if output == "" {
		output = "(command completed with no output)"
	}
	return SilentResult(output)
}

func combineOutput(stdout, stderr string) string {
	result := ""
	if stdout != "" {
		result = stdout
	}
	if stderr != "" {
		if result != "" {
			result += "\n"
		}
		result += "STDERR:\n" + stderr
	}
	return result
}
