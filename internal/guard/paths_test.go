package guard

import (
	"strings"
	"testing"
)

func TestPathGuardCheck(t *testing.T) {
	g := NewPathGuard("/home/mother/workspace", "/opt/data")

	tests := []struct {
		name    string
		input   string
		cwd     string
		allowed bool
	}{
		{"inside workspace", "/home/mother/workspace/notes.md", "/home/mother/workspace", true},
		{"workspace root itself", "/home/mother/workspace", "/", true},
		{"relative resolves inside", "scratch/out.txt", "/home/mother/workspace", true},
		{"relative escapes via dotdot", "../secrets", "/home/mother/workspace", false},
		{"dotdot inside stays inside", "a/../b.txt", "/home/mother/workspace", true},
		{"prefix confusion", "/home/mother/workspace-evil/x", "/home/mother/workspace", false},
		{"tmp allowed", "/tmp/scratch.txt", "/home/mother/workspace", true},
		{"extra prefix allowed", "/opt/data/set.csv", "/", true},
		{"etc passwd denied", "/etc/passwd", "/home/mother/workspace", false},
		{"root denied", "/", "/home/mother/workspace", false},
		{"sneaky dotdot through tmp", "/tmp/../etc/passwd", "/home/mother/workspace", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Check(tt.input, tt.cwd)
			if d.Allowed != tt.allowed {
				t.Errorf("Check(%q, %q).Allowed = %v, want %v (resolved %q)",
					tt.input, tt.cwd, d.Allowed, tt.allowed, d.Resolved)
			}
			if !tt.allowed && !strings.Contains(d.Reason, "outside allowed") {
				t.Errorf("denial reason %q should mention being outside allowed directories", d.Reason)
			}
		})
	}
}

func TestPathGuardReasonNamesBothForms(t *testing.T) {
	g := NewPathGuard("/home/mother/workspace")
	d := g.Check("../evil.txt", "/home/mother/workspace")
	if d.Allowed {
		t.Fatal("expected denial")
	}
	if !strings.Contains(d.Reason, "../evil.txt") {
		t.Errorf("reason %q should name the input path", d.Reason)
	}
	if !strings.Contains(d.Reason, "/home/mother/evil.txt") {
		t.Errorf("reason %q should name the resolved path", d.Reason)
	}
}

func TestPathGuardIgnoresBadExtras(t *testing.T) {
	g := NewPathGuard("/ws", "", "relative/path", "  ")
	if got := len(g.Prefixes()); got != 2 {
		t.Errorf("expected only workspace and /tmp, got %v", g.Prefixes())
	}
	if d := g.Check("relative/path/x", "/elsewhere"); d.Allowed {
		t.Error("relative extra must not become an allowed prefix")
	}
}
