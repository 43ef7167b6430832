package sandbox

import (
	"fmt"
	"strings"
	"testing"
)

func TestTruncateTailKeepsShortOutput(t *testing.T) {
	s := "line one\nline two\n"
	got, truncated := TruncateTail(s, MaxOutputLines, MaxOutputBytes)
	if truncated {
		t.Error("short output should not be truncated")
	}
	if got != s {
		t.Errorf("short output changed: %q", got)
	}
}

func TestTruncateTailByLines(t *testing.T) {
	var b strings.Builder
	for i := 1; i <= 10; i++ {
		fmt.Fprintf(&b, "line %d\n", i)
	}
	got, truncated := TruncateTail(b.String(), 3, MaxOutputBytes)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !strings.HasPrefix(got, "[output truncated: dropped 7 lines") {
		t.Errorf("marker missing or wrong: %q", got)
	}
	for _, want := range []string{"line 8\n", "line 9\n", "line 10\n"} {
		if !strings.Contains(got, want) {
			t.Errorf("tail should keep %q, got %q", want, got)
		}
	}
	if strings.Contains(got, "line 7\n") {
		t.Errorf("dropped line survived: %q", got)
	}
}

func TestTruncateTailByBytes(t *testing.T) {
	s := strings.Repeat("x", 100) + "\n" + "tail line"
	got, truncated := TruncateTail(s, MaxOutputLines, 20)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !strings.Contains(got, "tail line") {
		t.Errorf("tail should survive a byte cut: %q", got)
	}
	if !strings.Contains(got, "[output truncated:") {
		t.Errorf("marker missing: %q", got)
	}
}

func TestTruncateTailNoTrailingNewline(t *testing.T) {
	got, truncated := TruncateTail("a\nb\nc\nd", 2, MaxOutputBytes)
	if !truncated {
		t.Fatal("expected truncation")
	}
	if !strings.HasSuffix(got, "c\nd") {
		t.Errorf("want last two lines kept, got %q", got)
	}
}
