package transcript

import (
	"fmt"
	"strings"
	"testing"
	"time"
)

func userMsg(text string) Message { return UserMessage(text) }
func assistantMsg(text string) Message {
	return Message{Role: RoleAssistant, Content: []Part{TextPart(text)}, StopReason: StopEndTurn}
}

// buildTurns makes n turns of user + assistant pairs with numbered text.
func buildTurns(n int) []Message {
	var msgs []Message
	for i := 1; i <= n; i++ {
		msgs = append(msgs, userMsg(fmt.Sprintf("question %d", i)))
		msgs = append(msgs, assistantMsg(fmt.Sprintf("answer %d", i)))
	}
	return msgs
}

func TestTrimTurnsUnderLimit(t *testing.T) {
	msgs := buildTurns(3)
	got := TrimTurns(msgs, MaxTurns)
	if len(got) != len(msgs) {
		t.Errorf("under-limit transcript changed: %d -> %d messages", len(msgs), len(got))
	}
}

func TestTrimTurnsOverLimit(t *testing.T) {
	msgs := buildTurns(14)
	got := TrimTurns(msgs, MaxTurns)

	if got[0].Role != RoleUser {
		t.Fatalf("first message role = %s", got[0].Role)
	}
	lead := got[0].Text()
	if !strings.HasPrefix(lead, "[Prior context trimmed. Last topic before trim: ") {
		t.Errorf("synthetic lead = %q", lead)
	}
	if !strings.Contains(lead, "question 4") {
		t.Errorf("lead should quote last dropped user text, got %q", lead)
	}
	if n := CountTurns(got[1:]); n != MaxTurns {
		t.Errorf("kept %d turns, want %d", n, MaxTurns)
	}
	if first := got[1].Text(); first != "question 5" {
		t.Errorf("oldest kept turn starts with %q", first)
	}
}

func TestTrimTurnsStripsHeaderInSample(t *testing.T) {
	msgs := []Message{
		userMsg("[2026-08-24T10:00:00+02:00 @+02:00] [alice]: the dropped topic"),
		assistantMsg("old answer"),
	}
	msgs = append(msgs, buildTurns(MaxTurns)...)
	got := TrimTurns(msgs, MaxTurns)
	lead := got[0].Text()
	if strings.Contains(lead, "alice]") {
		t.Errorf("header should be stripped from trim sample: %q", lead)
	}
	if !strings.Contains(lead, "the dropped topic") {
		t.Errorf("sample text missing: %q", lead)
	}
}

func TestTrimTurnsSampleCap(t *testing.T) {
	long := strings.Repeat("x", 500)
	msgs := append([]Message{userMsg(long), assistantMsg("a")}, buildTurns(MaxTurns)...)
	got := TrimTurns(msgs, MaxTurns)
	lead := got[0].Text()
	if strings.Contains(lead, strings.Repeat("x", 101)) {
		t.Errorf("sample exceeds 100 chars: %d total", len(lead))
	}
	if !strings.Contains(lead, strings.Repeat("x", 100)) {
		t.Errorf("sample should keep the first 100 chars")
	}
}

func TestStripHeader(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"full header", "[2026-08-24T10:00:00Z @+00:00] [bob]: hi there", "hi there"},
		{"no header", "plain text", "plain text"},
		{"bracket content only", "[not a header] trailing", "[not a header] trailing"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHeader(tt.in); got != tt.want {
				t.Errorf("StripHeader(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestFormatHeaderShape(t *testing.T) {
	ts := time.Date(2026, 8, 24, 9, 30, 0, 0, time.UTC)
	h := FormatHeader(ts, "alice")
	if !strings.HasPrefix(h, "[") || !strings.HasSuffix(h, "] [alice]: ") {
		t.Errorf("header shape wrong: %q", h)
	}
	if !strings.Contains(h, " @") {
		t.Errorf("header missing offset marker: %q", h)
	}
	if StripHeader(h+"body") != "body" {
		t.Errorf("FormatHeader output must be strippable: %q", h)
	}
}
