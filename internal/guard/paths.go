// Package guard enforces the path and command policy that fronts every tool
// execution. Both guards are built once at startup from config and are
// read-only afterwards, so checks are safe from any goroutine.
package guard

import (
	"fmt"
	"path/filepath"
	"strings"
)

// PathDecision is the outcome of a path policy check.
type PathDecision struct {
	Allowed  bool
	Resolved string
	Reason   string
}

// PathGuard allows paths that resolve to an allowed prefix or a child of one.
// Checks are lexical: with a container sandbox the checked path may only
// exist inside the container, so symlinks cannot be evaluated here.
type PathGuard struct {
	prefixes []string
}

// NewPathGuard builds a guard allowing the workspace, /tmp, and any extra
// prefixes (typically from ALLOWED_PATHS). Empty and relative extras are
// dropped.
func NewPathGuard(workspace string, extras ...string) *PathGuard {
	prefixes := []string{filepath.Clean(workspace), "/tmp"}
	for _, e := range extras {
		e = strings.TrimSpace(e)
		if e == "" || !filepath.IsAbs(e) {
			continue
		}
		prefixes = append(prefixes, filepath.Clean(e))
	}
	return &PathGuard{prefixes: prefixes}
}

// Check resolves input against cwd and allows it iff the normalized result
// equals an allowed prefix or sits below one. The denial reason names both
// the input and its resolved form.
func (g *PathGuard) Check(input, cwd string) PathDecision {
	resolved := input
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(cwd, resolved)
	}
	resolved = filepath.Clean(resolved)

	for _, prefix := range g.prefixes {
		if resolved == prefix || strings.HasPrefix(resolved, prefix+string(filepath.Separator)) {
			return PathDecision{Allowed: true, Resolved: resolved}
		}
	}
	return PathDecision{
		Allowed:  false,
		Resolved: resolved,
		Reason:   fmt.Sprintf("path %q (resolved to %q) is outside allowed directories", input, resolved),
	}
}

// Prefixes returns the allowed prefixes, for diagnostics.
func (g *PathGuard) Prefixes() []string {
	out := make([]string, len(g.prefixes))
	copy(out, g.prefixes)
	return out
}
