package tools

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/EdibleTuber/Mother/internal/guard"
	"github.com/EdibleTuber/Mother/internal/sandbox"
)

func newBashTool(t *testing.T) *BashTool {
	t.Helper()
	return NewBashTool(guard.NewCommandGuard(guard.ListEdits{}), sandbox.NewHost(t.TempDir()))
}

func TestBashToolRuns(t *testing.T) {
	tool := newBashTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "echo hello"})
	if res.IsError {
		t.Fatalf("echo failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "hello") {
		t.Errorf("output = %q", res.ForLLM)
	}
}

func TestBashToolStderrAndExitCode(t *testing.T) {
	tool := newBashTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "ls /definitely/not/here"})
	if !res.IsError {
		t.Fatal("expected error result for failing command")
	}
	if !strings.Contains(res.ForLLM, "STDERR:") {
		t.Errorf("stderr not surfaced: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "exit code") {
		t.Errorf("exit code not surfaced: %q", res.ForLLM)
	}
}

func TestBashToolDeniesGuardedCommands(t *testing.T) {
	tool := newBashTool(t)
	tests := []struct {
		name, command, want string
	}{
		{"sudo", "sudo apt install x", "not on the allowed commands list"},
		{"fork bomb", ":(){ :|:& };:", "fork bomb"},
		{"rm root", "rm -rf /", "filesystem root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := tool.Execute(context.Background(), map[string]interface{}{"command": tt.command})
			if !res.IsError {
				t.Fatalf("command %q should be denied", tt.command)
			}
			if !strings.Contains(res.ForLLM, tt.want) {
				t.Errorf("reason = %q, want substring %q", res.ForLLM, tt.want)
			}
		})
	}
}

func TestBashToolTimeout(t *testing.T) {
	tool := newBashTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{
		"command": "sleep 5", "timeoutSec": float64(1),
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "timed out") {
		t.Errorf("got %+v", res)
	}
}

func TestBashToolEmptyOutput(t *testing.T) {
	tool := newBashTool(t)
	res := tool.Execute(context.Background(), map[string]interface{}{"command": "true"})
	if res.IsError {
		t.Fatalf("true failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "no output") {
		t.Errorf("output = %q", res.ForLLM)
	}
}

func TestDelegateToolParsesEnvelope(t *testing.T) {
	ws := t.TempDir()
	script := filepath.Join(ws, "fake-agent")
	body := "#!/bin/sh\nprintf '{\"result\":\"task complete\",\"session_id\":\"sess-1\"}'\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	tool := NewDelegateTool(guard.NewPathGuard(ws), ws, []string{script})
	res := tool.Execute(context.Background(), map[string]interface{}{"prompt": "do the thing"})
	if res.IsError {
		t.Fatalf("delegate failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "task complete") {
		t.Errorf("result missing: %q", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "[sessionId: sess-1]") {
		t.Errorf("session id missing: %q", res.ForLLM)
	}
}

func TestDelegateToolResumeFlags(t *testing.T) {
	ws := t.TempDir()
	script := filepath.Join(ws, "fake-agent")
	body := "#!/bin/sh\nprintf '{\"result\":\"args: %s\"}' \"$*\"\n"
	if err := os.WriteFile(script, []byte(body), 0o755); err != nil {
		t.Fatal(err)
	}

	tool := NewDelegateTool(guard.NewPathGuard(ws), ws, []string{script})
	res := tool.Execute(context.Background(), map[string]interface{}{
		"prompt": "continue", "sessionId": "sess-1", "maxTurns": float64(3),
	})
	if res.IsError {
		t.Fatalf("delegate failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "--resume sess-1") || !strings.Contains(res.ForLLM, "--max-turns 3") {
		t.Errorf("flags not forwarded: %q", res.ForLLM)
	}
}

func TestDelegateToolRawFallback(t *testing.T) {
	ws := t.TempDir()
	script := filepath.Join(ws, "fake-agent")
	if err := os.WriteFile(script, []byte("#!/bin/sh\necho plain text output\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	tool := NewDelegateTool(guard.NewPathGuard(ws), ws, []string{script})
	res := tool.Execute(context.Background(), map[string]interface{}{"prompt": "x"})
	if res.IsError {
		t.Fatalf("delegate failed: %s", res.ForLLM)
	}
	if !strings.Contains(res.ForLLM, "plain text output") {
		t.Errorf("raw output missing: %q", res.ForLLM)
	}
}

func TestDelegateToolRejectsBadCwd(t *testing.T) {
	ws := t.TempDir()
	tool := NewDelegateTool(guard.NewPathGuard(ws), ws, []string{"/bin/true"})
	res := tool.Execute(context.Background(), map[string]interface{}{
		"prompt": "x", "cwd": "/etc",
	})
	if !res.IsError || !strings.Contains(res.ForLLM, "outside allowed") {
		t.Errorf("got %+v", res)
	}
}

func TestRegistryDefsIncludeLabel(t *testing.T) {
	reg := NewRegistry()
	reg.Register(newBashTool(t))
	defs := reg.ProviderDefs()
	if len(defs) != 1 || defs[0].Function.Name != "bash" {
		t.Fatalf("defs = %+v", defs)
	}
	props, ok := defs[0].Function.Parameters["properties"].(map[string]interface{})
	if !ok {
		t.Fatal("parameters missing properties")
	}
	if _, ok := props["label"]; !ok {
		t.Error("label parameter not injected")
	}
	if _, ok := props["command"]; !ok {
		t.Error("original parameters lost")
	}
}

func TestRegistryUnknownTool(t *testing.T) {
	reg := NewRegistry()
	res := reg.Execute(context.Background(), "nope", nil)
	if !res.IsError || !strings.Contains(res.ForLLM, "unknown tool") {
		t.Errorf("got %+v", res)
	}
}
