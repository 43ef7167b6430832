package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DedupWindow is how long a (channel, ts) pair suppresses repeats.
const DedupWindow = 60 * time.Second

// ChannelStore is shared process-wide. Appends are serialized per channel;
// the dedup map is guarded by the store lock and pruned opportunistically.
type ChannelStore struct {
	workspace string
	now       func() time.Time

	mu       sync.Mutex
	channels map[string]*channelState
	dedup    map[string]time.Time

	downloads chan Download
}

type channelState struct {
	mu   sync.Mutex
	file *os.File
}

// New creates a store rooted at the on-disk workspace directory.
func New(workspace string) *ChannelStore {
	return &ChannelStore{
		workspace: filepath.Clean(workspace),
		now:       time.Now,
		channels:  make(map[string]*channelState),
		dedup:     make(map[string]time.Time),
		downloads: make(chan Download, downloadQueueCap),
	}
}

// Workspace returns the on-disk workspace root.
func (s *ChannelStore) Workspace() string { return s.workspace }

// ChannelDir returns the on-disk directory for a channel.
func (s *ChannelStore) ChannelDir(channelID string) string {
	return filepath.Join(s.workspace, channelID)
}

func (s *ChannelStore) LogPath(channelID string) string {
	return filepath.Join(s.workspace, channelID, "log.jsonl")
}

func (s *ChannelStore) ContextPath(channelID string) string {
	return filepath.Join(s.workspace, channelID, "context.jsonl")
}

func (s *ChannelStore) SnapshotPath(channelID string) string {
	return filepath.Join(s.workspace, channelID, "last_prompt.jsonl")
}

func (s *ChannelStore) MemoryPath(channelID string) string {
	return filepath.Join(s.workspace, channelID, "MEMORY.md")
}

// EnsureChannel creates the channel directory tree on first use.
func (s *ChannelStore) EnsureChannel(channelID string) error {
	dir := s.ChannelDir(channelID)
	for _, sub := range []string{"attachments", "scratch", "skills", "daily"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return fmt.Errorf("create channel dirs: %w", err)
		}
	}
	memory := filepath.Join(dir, "MEMORY.md")
	if _, err := os.Stat(memory); os.IsNotExist(err) {
		if err := os.WriteFile(memory, nil, 0o644); err != nil {
			return fmt.Errorf("seed channel memory: %w", err)
		}
	}
	return nil
}

// Append writes one entry to the channel's log.jsonl. A repeat of the same
// (channel, ts) inside the dedup window returns false without writing. A
// zero Date is stamped with the current time.
func (s *ChannelStore) Append(channelID string, entry LogEntry) (bool, error) {
	if entry.Date.IsZero() {
		entry.Date = s.now()
	}
	if entry.Attachments == nil {
		entry.Attachments = []Attachment{}
	}

	now := s.now()
	key := channelID + "|" + entry.TS

	s.mu.Lock()
	for k, expiry := range s.dedup {
		if now.After(expiry) {
			delete(s.dedup, k)
		}
	}
	if expiry, seen := s.dedup[key]; seen && now.Before(expiry) {
		s.mu.Unlock()
		slog.Debug("duplicate message suppressed", "channel", channelID, "ts", entry.TS)
		return false, nil
	}
	s.dedup[key] = now.Add(DedupWindow)
	ch, err := s.channelLocked(channelID)
	s.mu.Unlock()
	if err != nil {
		return false, err
	}

	line, err := json.Marshal(entry)
	if err != nil {
		return false, fmt.Errorf("marshal log entry: %w", err)
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if _, err := fmt.Fprintf(ch.file, "%s\n", line); err != nil {
		return false, fmt.Errorf("append log entry: %w", err)
	}
	return true, nil
}

// channelLocked returns the per-channel appender, creating directories and
// opening the log file on first use. Caller holds s.mu.
func (s *ChannelStore) channelLocked(channelID string) (*channelState, error) {
	if ch, ok := s.channels[channelID]; ok {
		return ch, nil
	}
	if err := s.EnsureChannel(channelID); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(s.LogPath(channelID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log: %w", err)
	}
	ch := &channelState{file: f}
	s.channels[channelID] = ch
	return ch, nil
}

// LastTS returns the ts of the newest parseable line in the channel's log,
// or "" when the log is empty or absent.
func (s *ChannelStore) LastTS(channelID string) string {
	entries, err := s.readAll(channelID)
	if err != nil || len(entries) == 0 {
		return ""
	}
	return entries[len(entries)-1].TS
}

// EntriesSince returns log entries with ts strictly after the given mark, in
// file order. An empty mark returns everything.
func (s *ChannelStore) EntriesSince(channelID, afterTS string) ([]LogEntry, error) {
	entries, err := s.readAll(channelID)
	if err != nil {
		return nil, err
	}
	if afterTS == "" {
		return entries, nil
	}
	out := entries[:0]
	for _, e := range entries {
		if TSLess(afterTS, e.TS) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *ChannelStore) readAll(channelID string) ([]LogEntry, error) {
	f, err := os.Open(s.LogPath(channelID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open log: %w", err)
	}
	defer f.Close()

	var entries []LogEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var e LogEntry
		if err := json.Unmarshal(line, &e); err != nil {
			slog.Warn("skipping malformed log line", "channel", channelID, "error", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := scanner.Err(); err != nil {
		return entries, fmt.Errorf("scan log: %w", err)
	}
	return entries, nil
}

// Close flushes and closes all open log files.
func (s *ChannelStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.channels {
		ch.mu.Lock()
		_ = ch.file.Close()
		ch.mu.Unlock()
	}
	s.channels = make(map[string]*channelState)
}
