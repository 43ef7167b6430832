package sandbox

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHostRunShell(t *testing.T) {
	h := NewHost(t.TempDir())
	ctx := context.Background()

	t.Run("captures stdout", func(t *testing.T) {
		res, err := h.RunShell(ctx, "echo hello", 10*time.Second)
		if err != nil {
			t.Fatalf("RunShell: %v", err)
		}
		if strings.TrimSpace(res.Stdout) != "hello" {
			t.Errorf("stdout = %q", res.Stdout)
		}
		if res.ExitCode != 0 {
			t.Errorf("exit = %d", res.ExitCode)
		}
	})

	t.Run("captures stderr and exit code", func(t *testing.T) {
		res, err := h.RunShell(ctx, "echo oops >&2; exit 3", 10*time.Second)
		if err != nil {
			t.Fatalf("RunShell: %v", err)
		}
		if strings.TrimSpace(res.Stderr) != "oops" {
			t.Errorf("stderr = %q", res.Stderr)
		}
		if res.ExitCode != 3 {
			t.Errorf("exit = %d, want 3", res.ExitCode)
		}
	})

	t.Run("timeout surfaces as TimedOut", func(t *testing.T) {
		res, err := h.RunShell(ctx, "sleep 5", 100*time.Millisecond)
		if err != nil {
			t.Fatalf("RunShell: %v", err)
		}
		if !res.TimedOut {
			t.Error("expected TimedOut")
		}
	})
}

func TestHostFileIO(t *testing.T) {
	dir := t.TempDir()
	h := NewHost(dir)
	ctx := context.Background()
	path := filepath.Join(dir, "nested", "deep", "f.txt")

	if err := h.WriteFile(ctx, path, []byte("payload")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	ok, err := h.Exists(ctx, path)
	if err != nil || !ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
	data, err := h.ReadFile(ctx, path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "payload" {
		t.Errorf("read back %q", data)
	}
	if ok, _ := h.Exists(ctx, filepath.Join(dir, "missing")); ok {
		t.Error("missing file reported as existing")
	}
}

func TestContainerHostPathTranslation(t *testing.T) {
	c := NewContainer("mother-sandbox", "/srv/mother/ws")

	tests := []struct {
		name   string
		in     string
		want   string
		wantOK bool
	}{
		{"mount root", "/workspace", "/srv/mother/ws", true},
		{"nested", "/workspace/chan1/log.jsonl", "/srv/mother/ws/chan1/log.jsonl", true},
		{"dotdot normalized", "/workspace/a/../b", "/srv/mother/ws/b", true},
		{"outside mount", "/tmp/x", "", false},
		{"mount prefix confusion", "/workspace-evil/x", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := c.HostPath(tt.in)
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("HostPath(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.wantOK)
			}
		})
	}

	if c.WorkspacePath() != "/workspace" {
		t.Errorf("WorkspacePath = %q", c.WorkspacePath())
	}
}
