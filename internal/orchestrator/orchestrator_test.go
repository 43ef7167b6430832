package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/EdibleTuber/Mother/internal/agent"
	"github.com/EdibleTuber/Mother/internal/chat"
	"github.com/EdibleTuber/Mother/internal/queue"
	"github.com/EdibleTuber/Mother/internal/store"
)

type fakeRunner struct {
	mu      sync.Mutex
	running bool
	abortOK bool
	notices []string
	runs    chan agent.RunParams
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{runs: make(chan agent.RunParams, 8)}
}

func (r *fakeRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *fakeRunner) Abort() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.abortOK
}

func (r *fakeRunner) PostNotice(text string) {
	r.mu.Lock()
	r.notices = append(r.notices, text)
	r.mu.Unlock()
}

func (r *fakeRunner) Run(ctx context.Context, p agent.RunParams) error {
	r.runs <- p
	return nil
}

func (r *fakeRunner) noticeList() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.notices...)
}

type noopTransport struct{}

func (noopTransport) Name() string    { return "fake" }
func (noopTransport) BotName() string { return "mother" }

func (noopTransport) Run(ctx context.Context, h chat.Handler) error {
	<-ctx.Done()
	return nil
}

func (noopTransport) PostMessage(ctx context.Context, channelID, text string) (chat.MessageHandle, error) {
	return chat.MessageHandle{}, nil
}

func (noopTransport) UpdateMessage(ctx context.Context, handle chat.MessageHandle, text string) error {
	return nil
}

func (noopTransport) DeleteMessage(ctx context.Context, handle chat.MessageHandle) error {
	return nil
}

func (noopTransport) PostInThread(ctx context.Context, parent chat.MessageHandle, text string) (chat.MessageHandle, error) {
	return chat.MessageHandle{}, nil
}

func (noopTransport) UploadFile(ctx context.Context, channelID, path, title string) error {
	return nil
}

func (noopTransport) SetTyping(ctx context.Context, channelID string, typing bool) error {
	return nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeRunner, *store.ChannelStore, time.Time) {
	t.Helper()
	st := store.New(t.TempDir())
	t.Cleanup(st.Close)
	q := queue.New(5, testLogger())
	t.Cleanup(q.Close)
	runner := newFakeRunner()
	started := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	orch := New(Config{
		Store:     st,
		Transport: noopTransport{},
		Queue:     q,
		NewRunner: func(channelID, stopHint string) Runner { return runner },
		Started:   started,
		Logger:    testLogger(),
	})
	return orch, runner, st, started
}

func inbound(ts, text string, at time.Time) chat.InboundMessage {
	return chat.InboundMessage{
		ChannelID:   "C1",
		TS:          ts,
		UserID:      "U1",
		UserName:    "alice",
		DisplayName: "Alice",
		Text:        text,
		IsDM:        true,
		Time:        at,
	}
}

func waitRun(t *testing.T, r *fakeRunner) agent.RunParams {
	t.Helper()
	select {
	case p := <-r.runs:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("no run started")
		return agent.RunParams{}
	}
}

func expectNoRun(t *testing.T, r *fakeRunner) {
	t.Helper()
	select {
	case p := <-r.runs:
		t.Fatalf("unexpected run: %+v", p)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHandleInboundQueuesRun(t *testing.T) {
	orch, runner, st, started := newTestOrchestrator(t)

	orch.HandleInbound(inbound("100", "hello there", started.Add(time.Second)))

	p := waitRun(t, runner)
	if p.TS != "100" || p.Text != "hello there" {
		t.Fatalf("run params = %+v", p)
	}
	entries, err := st.EntriesSince("C1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].User != "U1" || entries[0].Text != "hello there" {
		t.Fatalf("log entries = %+v", entries)
	}
}

func TestHandleInboundDedup(t *testing.T) {
	orch, runner, st, started := newTestOrchestrator(t)

	msg := inbound("100", "hello", started.Add(time.Second))
	orch.HandleInbound(msg)
	waitRun(t, runner)
	orch.HandleInbound(msg)

	expectNoRun(t, runner)
	entries, err := st.EntriesSince("C1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry after duplicate, got %d", len(entries))
	}
}

func TestHandleInboundPreStartLogsOnly(t *testing.T) {
	orch, runner, st, started := newTestOrchestrator(t)

	orch.HandleInbound(inbound("99", "old news", started.Add(-time.Minute)))

	expectNoRun(t, runner)
	entries, err := st.EntriesSince("C1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Text != "old news" {
		t.Fatalf("log entries = %+v", entries)
	}
}

func TestStopCommand(t *testing.T) {
	t.Run("aborts active run", func(t *testing.T) {
		orch, runner, _, started := newTestOrchestrator(t)
		runner.abortOK = true

		orch.HandleInbound(inbound("100", "  STOP ", started.Add(time.Second)))

		notices := runner.noticeList()
		if len(notices) != 1 || notices[0] != "*Stopping...*" {
			t.Fatalf("notices = %v", notices)
		}
		expectNoRun(t, runner)
	})

	t.Run("nothing running", func(t *testing.T) {
		orch, runner, _, started := newTestOrchestrator(t)

		orch.HandleInbound(inbound("100", "stop", started.Add(time.Second)))

		notices := runner.noticeList()
		if len(notices) != 1 || notices[0] != "*Nothing running*" {
			t.Fatalf("notices = %v", notices)
		}
	})
}

func TestBusyNag(t *testing.T) {
	orch, runner, _, started := newTestOrchestrator(t)
	runner.running = true

	orch.HandleInbound(inbound("100", "more work", started.Add(time.Second)))

	notices := runner.noticeList()
	if len(notices) != 1 {
		t.Fatalf("notices = %v", notices)
	}
	if notices[0] != "*Already working. Say stop to cancel.*" {
		t.Fatalf("notice = %q", notices[0])
	}
	expectNoRun(t, runner)
}

func TestBusyNagMentionsBotInGuild(t *testing.T) {
	orch, runner, _, started := newTestOrchestrator(t)
	runner.running = true

	msg := inbound("100", "more work", started.Add(time.Second))
	msg.IsDM = false
	orch.HandleInbound(msg)

	notices := runner.noticeList()
	if len(notices) != 1 || !strings.Contains(notices[0], "@mother stop") {
		t.Fatalf("notices = %v", notices)
	}
}

func TestImageAttachmentsBecomeRunImages(t *testing.T) {
	orch, runner, st, started := newTestOrchestrator(t)

	msg := inbound("100", "look at this", started.Add(time.Second))
	msg.Files = []chat.InboundFile{
		{Name: "chart.PNG", URL: "https://example.com/chart.png"},
		{Name: "notes.txt", URL: "https://example.com/notes.txt"},
	}
	orch.HandleInbound(msg)

	p := waitRun(t, runner)
	if len(p.ImagePaths) != 1 {
		t.Fatalf("image paths = %v", p.ImagePaths)
	}
	if !strings.Contains(p.ImagePaths[0], "attachments") || !strings.Contains(p.ImagePaths[0], "chart.PNG") {
		t.Fatalf("image path = %q", p.ImagePaths[0])
	}
	entries, err := st.EntriesSince("C1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || len(entries[0].Attachments) != 2 {
		t.Fatalf("log entries = %+v", entries)
	}
}

func TestEnqueuePrompt(t *testing.T) {
	orch, runner, st, _ := newTestOrchestrator(t)

	if !orch.EnqueuePrompt("C1", "scheduled reminder") {
		t.Fatal("enqueue returned false")
	}

	p := waitRun(t, runner)
	if p.Text != "scheduled reminder" || p.TS == "" {
		t.Fatalf("run params = %+v", p)
	}
	entries, err := st.EntriesSince("C1", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].User != "event" {
		t.Fatalf("log entries = %+v", entries)
	}
}

func TestEnqueuePromptWhileBusyStillQueues(t *testing.T) {
	orch, runner, _, _ := newTestOrchestrator(t)
	runner.running = true

	if !orch.EnqueuePrompt("C1", "tick") {
		t.Fatal("enqueue returned false")
	}

	p := waitRun(t, runner)
	if p.Text != "tick" {
		t.Fatalf("run params = %+v", p)
	}
	if n := len(runner.noticeList()); n != 0 {
		t.Fatalf("expected no notices, got %d", n)
	}
}

func TestRunnerCachedPerChannel(t *testing.T) {
	st := store.New(t.TempDir())
	t.Cleanup(st.Close)
	q := queue.New(5, testLogger())
	t.Cleanup(q.Close)

	var mu sync.Mutex
	created := map[string]int{}
	orch := New(Config{
		Store:     st,
		Transport: noopTransport{},
		Queue:     q,
		NewRunner: func(channelID, stopHint string) Runner {
			mu.Lock()
			created[channelID]++
			mu.Unlock()
			return newFakeRunner()
		},
		Started: time.Now().Add(-time.Hour),
		Logger:  testLogger(),
	})

	for i, ts := range []string{"1", "2", "3"} {
		msg := inbound(ts, "hi", time.Now())
		if i == 2 {
			msg.ChannelID = "C2"
		}
		orch.HandleInbound(msg)
	}

	mu.Lock()
	defer mu.Unlock()
	if created["C1"] != 1 || created["C2"] != 1 {
		t.Fatalf("created = %v", created)
	}
}

func TestIsStopCommand(t *testing.T) {
	cases := []struct {
		text string
		want bool
	}{
		{"stop", true},
		{"STOP", true},
		{"  Stop  ", true},
		{"stop it", false},
		{"", false},
		{"please stop", false},
	}
	for _, tc := range cases {
		if got := isStopCommand(tc.text); got != tc.want {
			t.Errorf("isStopCommand(%q) = %v, want %v", tc.text, got, tc.want)
		}
	}
}
