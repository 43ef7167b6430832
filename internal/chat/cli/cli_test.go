package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/EdibleTuber/Mother/internal/chat"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRunDeliversLines(t *testing.T) {
	in := strings.NewReader("hello there\n\n  \nsecond prompt\n")
	tr := New(in, io.Discard, "mother", discardLogger())

	var mu sync.Mutex
	var got []chat.InboundMessage
	err := tr.Run(context.Background(), func(msg chat.InboundMessage) {
		mu.Lock()
		got = append(got, msg)
		mu.Unlock()
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(got) != 2 {
		t.Fatalf("delivered %d messages, want 2 (blank lines skipped)", len(got))
	}
	first := got[0]
	if first.ChannelID != ChannelID || first.Text != "hello there" || !first.IsDM {
		t.Errorf("first message = %+v", first)
	}
	if first.TS == "" || first.TS == got[1].TS {
		t.Error("messages need distinct ids")
	}
	if got[1].Text != "second prompt" {
		t.Errorf("second text = %q", got[1].Text)
	}
}

// Inbound TS values feed the transcript high-water sync, so they must be
// numeric and increase across messages.
func TestRunTimestampsMonotonic(t *testing.T) {
	in := strings.NewReader("one\ntwo\nthree\n")
	tr := New(in, io.Discard, "mother", discardLogger())

	var got []chat.InboundMessage
	err := tr.Run(context.Background(), func(msg chat.InboundMessage) {
		got = append(got, msg)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("delivered %d messages, want 3", len(got))
	}

	var prev int64
	for i, msg := range got {
		n, err := strconv.ParseInt(msg.TS, 10, 64)
		if err != nil {
			t.Fatalf("message %d TS %q is not numeric: %v", i, msg.TS, err)
		}
		if n <= prev {
			t.Errorf("message %d TS %d does not increase past %d", i, n, prev)
		}
		prev = n
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	r, w := io.Pipe()
	defer w.Close()
	tr := New(r, io.Discard, "mother", discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- tr.Run(ctx, func(chat.InboundMessage) {})
	}()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("cancelled run returned %v", err)
	}
}

func TestOutputPrefixes(t *testing.T) {
	var out bytes.Buffer
	tr := New(strings.NewReader(""), &out, "mother", discardLogger())
	ctx := context.Background()

	h, err := tr.PostMessage(ctx, ChannelID, "line one\nline two")
	if err != nil {
		t.Fatal(err)
	}
	if h.MessageID == "" {
		t.Error("post returned empty handle")
	}
	if err := tr.UpdateMessage(ctx, h, "edited"); err != nil {
		t.Fatal(err)
	}
	if _, err := tr.PostInThread(ctx, h, "detail"); err != nil {
		t.Fatal(err)
	}
	if err := tr.UploadFile(ctx, ChannelID, "/tmp/chart.png", ""); err != nil {
		t.Fatal(err)
	}

	lines := strings.Split(strings.TrimRight(out.String(), "\n"), "\n")
	want := []string{
		"mother> line one",
		"mother> line two",
		"mother* edited",
		"  | detail",
		"mother> [file: /tmp/chart.png]",
	}
	if len(lines) != len(want) {
		t.Fatalf("output lines = %q", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, lines[i], want[i])
		}
	}
}
