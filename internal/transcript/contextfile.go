package transcript

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/EdibleTuber/Mother/internal/store"
)

// Load reads a context.jsonl transcript. Malformed lines are skipped with a
// warning; a missing file is an empty transcript.
func Load(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open transcript: %w", err)
	}
	defer f.Close()

	var msgs []Message
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			slog.Warn("skipping malformed transcript line", "path", path, "error", err)
			continue
		}
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		return msgs, fmt.Errorf("scan transcript: %w", err)
	}
	return msgs, nil
}

// Rewrite atomically replaces the transcript file with msgs.
func Rewrite(path string, msgs []Message) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create transcript: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, m := range msgs {
		line, err := json.Marshal(m)
		if err != nil {
			f.Close()
			os.Remove(tmp)
			return fmt.Errorf("marshal transcript message: %w", err)
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// HighWater returns the newest log ts mirrored into the transcript.
func HighWater(msgs []Message) string {
	mark := ""
	for _, m := range msgs {
		if m.TS != "" && (mark == "" || store.TSLess(mark, m.TS)) {
			mark = m.TS
		}
	}
	return mark
}

// FromLogEntry converts one channel-log line into its transcript mirror.
// Human lines become prefixed user messages; bot lines already committed to
// the log resync as plain assistant messages with no usage.
func FromLogEntry(e store.LogEntry) Message {
	if e.IsBot {
		return Message{
			Role:       RoleAssistant,
			Content:    []Part{TextPart(e.Text)},
			StopReason: StopEndTurn,
			TS:         e.TS,
		}
	}
	text := FormatHeader(e.Date, e.Name()) + e.Text
	for _, a := range e.Attachments {
		text += "\n[attached: " + a.Local + "]"
	}
	return Message{Role: RoleUser, Content: []Part{TextPart(text)}, TS: e.TS}
}

// Sync appends the transcript mirror of every log entry newer than the
// transcript's high-water mark, up to and including the entry with ts upTo.
func Sync(msgs []Message, entries []store.LogEntry, upTo string) []Message {
	mark := HighWater(msgs)
	for _, e := range entries {
		if mark != "" && !store.TSLess(mark, e.TS) {
			continue
		}
		if upTo != "" && store.TSLess(upTo, e.TS) {
			break
		}
		msgs = append(msgs, FromLogEntry(e))
	}
	return msgs
}

// Snapshot is the diagnostic context-window dump overwritten on every
// prompt.
type Snapshot struct {
	SystemPrompt   string    `json:"systemPrompt"`
	Transcript     []Message `json:"transcript"`
	UserMessage    string    `json:"userMessage"`
	AttachedImages int       `json:"attachedImages"`
}

// WriteSnapshot overwrites last_prompt.jsonl with the snapshot, one JSON
// line. Failures are logged, never fatal.
func WriteSnapshot(path string, snap Snapshot) {
	line, err := json.Marshal(snap)
	if err != nil {
		slog.Warn("snapshot marshal failed", "error", err)
		return
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Warn("snapshot dir failed", "error", err)
		return
	}
	if err := os.WriteFile(path, append(line, '\n'), 0o644); err != nil {
		slog.Warn("snapshot write failed", "path", path, "error", err)
	}
}
