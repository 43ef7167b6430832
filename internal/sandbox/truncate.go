package sandbox

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultShellTimeout applies when a tool passes no timeout.
	DefaultShellTimeout = 600 * time.Second

	// Output limits: the tail survives, the head is dropped.
	MaxOutputLines = 2000
	MaxOutputBytes = 50 * 1024
)

// TruncateTail keeps the last maxLines lines and maxBytes bytes of s. When
// anything is dropped it prepends a marker line naming the dropped counts and
// returns true.
func TruncateTail(s string, maxLines, maxBytes int) (string, bool) {
	origBytes := len(s)
	origLines := countLines(s)
	if origBytes <= maxBytes && origLines <= maxLines {
		return s, false
	}

	kept := s
	if origLines > maxLines {
		idx := len(kept)
		if strings.HasSuffix(kept, "\n") {
			idx--
		}
		for n := 0; n < maxLines; n++ {
			next := strings.LastIndexByte(kept[:idx], '\n')
			if next < 0 {
				idx = 0
				break
			}
			idx = next
		}
		if idx > 0 {
			kept = kept[idx+1:]
		}
	}
	if len(kept) > maxBytes {
		kept = kept[len(kept)-maxBytes:]
		// Drop the partial first line left by the byte cut.
		if i := strings.IndexByte(kept, '\n'); i >= 0 && i < len(kept)-1 {
			kept = kept[i+1:]
		}
	}

	marker := fmt.Sprintf("[output truncated: dropped %d lines / %d bytes]",
		origLines-countLines(kept), origBytes-len(kept))
	return marker + "\n" + kept, true
}

// truncateOutputs applies the default limits to a command's stdout and
// stderr, reporting whether either was cut.
func truncateOutputs(stdout, stderr string) (string, string, bool) {
	out, t1 := TruncateTail(stdout, MaxOutputLines, MaxOutputBytes)
	errOut, t2 := TruncateTail(stderr, MaxOutputLines, MaxOutputBytes)
	return out, errOut, t1 || t2
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
