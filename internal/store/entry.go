// Package store owns the per-channel filesystem state: the append-only
// log.jsonl, lazy channel directory creation, the inbound-duplicate window,
// and the attachment download queue.
package store

import (
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Attachment records one inbound file: the original URL and where the
// download worker will place it, relative to the workspace.
type Attachment struct {
	Original string `json:"original"`
	Local    string `json:"local"`
}

// LogEntry is one line of a channel's log.jsonl.
type LogEntry struct {
	Date        time.Time    `json:"date"`
	TS          string       `json:"ts"`
	User        string       `json:"user"`
	UserName    string       `json:"userName,omitempty"`
	DisplayName string       `json:"displayName,omitempty"`
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments"`
	IsBot       bool         `json:"isBot"`
}

// Name returns the best human handle for the entry's author.
func (e LogEntry) Name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	if e.UserName != "" {
		return e.UserName
	}
	return e.User
}

// TSLess orders timestamps numerically when both parse as unsigned integers
// (snowflakes, nanosecond ticks), falling back to string order.
func TSLess(a, b string) bool {
	na, errA := strconv.ParseUint(a, 10, 64)
	nb, errB := strconv.ParseUint(b, 10, 64)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

// SanitizeFilename replaces every character outside [A-Za-z0-9._-] with '_'.
func SanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9',
			r == '.', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return b.String()
}

// AttachmentLocal builds the workspace-relative path for an inbound file.
func AttachmentLocal(channelID, ts, name string) string {
	return filepath.Join(channelID, "attachments", ts+"_"+SanitizeFilename(name))
}
