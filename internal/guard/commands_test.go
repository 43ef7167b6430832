package guard

import (
	"reflect"
	"strings"
	"testing"
)

func TestCommandGuardAllows(t *testing.T) {
	g := NewCommandGuard(ListEdits{})

	tests := []struct {
		name    string
		command string
	}{
		{"simple ls", "ls -la"},
		{"pipe of allowed", "cat notes.md | grep TODO | head -5"},
		{"and chain", "mkdir -p out && cp a.txt out/"},
		{"builtin echo", "echo hello"},
		{"builtin cd then allowed", "cd /tmp && ls"},
		{"env assignment prefix", "FOO=bar git status"},
		{"quoted assignment value", `FOO="a b" git log`},
		{"path-prefixed program", "/usr/bin/git diff"},
		{"subshell", "(cd scratch && ls)"},
		{"rm without root target", "rm -rf scratch/old"},
		{"quoted separator is literal", `echo "a;b|c"`},
		{"escaped separator is literal", `echo a\;b`},
		{"stderr redirect", "go test ./... 2>&1"},
		{"redirect into pipe", "make lint 2>&1 | tail -20"},
		{"empty command", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if d := g.Check(tt.command); !d.Allowed {
				t.Errorf("Check(%q) denied: %s", tt.command, d.Reason)
			}
		})
	}
}

func TestCommandGuardDenies(t *testing.T) {
	g := NewCommandGuard(ListEdits{})

	tests := []struct {
		name    string
		command string
		reason  string
	}{
		{"sudo direct", "sudo rm x", "sudo"},
		{"sudo after pipe", "cat f | sudo tee /etc/passwd", "sudo"},
		{"sudo after and", "ls && sudo reboot", "sudo"},
		{"sudo backgrounded", "sleep 1 & sudo id", "sudo"},
		{"sudo on second line", "echo hi\nsudo id", "sudo"},
		{"bash not allowed", "bash -c 'ls'", "bash"},
		{"sh not allowed", "sh script.sh", "sh"},
		{"eval not allowed", "eval $CMD", "eval"},
		{"exec not allowed", "exec ls", "exec"},
		{"dd not allowed", "dd if=/dev/zero of=/dev/sda", "dd"},
		{"systemctl not allowed", "systemctl stop sshd", "systemctl"},
		{"shutdown not allowed", "shutdown -h now", "shutdown"},
		{"fork bomb", ":(){ :|:& };:", "fork bomb"},
		{"rm rf root", "rm -rf /", "root"},
		{"rm rf root glob", "rm -rf /*", "root"},
		{"rm separate flags", "rm -f -r /", "root"},
		{"rm reversed flags", "rm -fr /", "root"},
		{"rm long flags", "rm --recursive --force /", "root"},
		{"unknown program", "nmap localhost", "nmap"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := g.Check(tt.command)
			if d.Allowed {
				t.Fatalf("Check(%q) allowed, want denial", tt.command)
			}
			if !strings.Contains(d.Reason, tt.reason) {
				t.Errorf("Check(%q) reason = %q, want it to contain %q", tt.command, d.Reason, tt.reason)
			}
		})
	}
}

func TestCommandGuardDenialMessageShape(t *testing.T) {
	g := NewCommandGuard(ListEdits{})
	d := g.Check("nmap localhost")
	want := "Command denied: 'nmap' is not on the allowed commands list"
	if d.Reason != want {
		t.Errorf("reason = %q, want %q", d.Reason, want)
	}
}

func TestCommandGuardIdempotent(t *testing.T) {
	g := NewCommandGuard(ListEdits{})
	for _, cmd := range []string{"ls -la", "sudo id", "rm -rf /", ":(){ :|:& };:"} {
		first := g.Check(cmd)
		second := g.Check(cmd)
		if first != second {
			t.Errorf("Check(%q) not idempotent: %+v then %+v", cmd, first, second)
		}
	}
}

func TestCommandGuardEdits(t *testing.T) {
	g := NewCommandGuard(ListEdits{Add: []string{"rustup"}, Remove: []string{"ssh"}})
	if d := g.Check("rustup update"); !d.Allowed {
		t.Errorf("added command denied: %s", d.Reason)
	}
	if d := g.Check("ssh host"); d.Allowed {
		t.Error("removed command still allowed")
	}
	if !g.Allows("ls") {
		t.Error("defaults should survive edits")
	}
}

func TestParseCommandsEnv(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want ListEdits
	}{
		{"add and remove with spaces", " +rustup , -ssh ", ListEdits{Add: []string{"rustup"}, Remove: []string{"ssh"}}},
		{"bare name adds", "docker", ListEdits{Add: []string{"docker"}}},
		{"mixed", "+a,b,-c", ListEdits{Add: []string{"a", "b"}, Remove: []string{"c"}}},
		{"empty parts skipped", ",, +x ,", ListEdits{Add: []string{"x"}}},
		{"empty string", "", ListEdits{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseCommandsEnv(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("ParseCommandsEnv(%q) = %+v, want %+v", tt.in, got, tt.want)
			}
		})
	}
}

func TestSplitSegments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"semicolons", "a; b ;c", []string{"a", "b", "c"}},
		{"pipes and ands", "a | b && c || d", []string{"a", "b", "c", "d"}},
		{"quoted pipe stays", `echo "a|b"`, []string{`echo "a|b"`}},
		{"single quoted semicolon stays", "echo 'x;y'", []string{"echo 'x;y'"}},
		{"escaped semicolon stays", `echo a\;b`, []string{`echo a\;b`}},
		{"newline splits", "a\nb", []string{"a", "b"}},
		{"empty segments dropped", "a;;b", []string{"a", "b"}},
		{"stderr redirect stays", "go test ./... 2>&1", []string{"go test ./... 2>&1"}},
		{"redirect then pipe", "make build 2>&1 | tail -20", []string{"make build 2>&1", "tail -20"}},
		{"stdin dup stays", "cat <&0", []string{"cat <&0"}},
		{"combined redirect stays", "ls &>out.log", []string{"ls &>out.log"}},
		{"background ampersand splits", "sleep 1 & sudo id", []string{"sleep 1", "sudo id"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SplitSegments(tt.in)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("SplitSegments(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
