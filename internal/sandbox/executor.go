// Package sandbox abstracts where agent side effects happen: directly on the
// host or inside a named, already-running container with the workspace
// mounted at /workspace. All byte-level I/O and shell execution for tools
// goes through an Executor so path namespaces stay consistent.
package sandbox

import (
	"context"
	"fmt"
	"time"
)

// ShellResult carries the outcome of one shell invocation. Stdout and Stderr
// are tail-truncated when they exceed the output limits; Truncated reports
// whether anything was dropped.
type ShellResult struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	TimedOut  bool
}

// Executor runs shell commands and performs file I/O in one namespace.
type Executor interface {
	// WorkspacePath is the workspace root as seen by tools (and by the
	// model): the on-disk path on the host, /workspace in a container.
	WorkspacePath() string

	// HostPath translates a tool-visible path to its on-disk location, when
	// one exists. Components that must touch the file from the host process
	// (uploads, image loading) use this.
	HostPath(path string) (string, bool)

	// RunShell executes command under sh -c with the given timeout.
	// A non-zero exit is reported in the result, not as an error.
	RunShell(ctx context.Context, command string, timeout time.Duration) (*ShellResult, error)

	ReadFile(ctx context.Context, path string) ([]byte, error)
	WriteFile(ctx context.Context, path string, data []byte) error
	Exists(ctx context.Context, path string) (bool, error)
}

// HostName selects the host executor in config.
const HostName = "host"

// New builds the executor selected by name: "host" (or empty) for direct
// execution, anything else names a running container which is validated
// before use.
func New(ctx context.Context, name, hostWorkspace string) (Executor, error) {
	if name == "" || name == HostName {
		return NewHost(hostWorkspace), nil
	}
	exec := NewContainer(name, hostWorkspace)
	if err := exec.Validate(ctx); err != nil {
		return nil, fmt.Errorf("sandbox %q: %w", name, err)
	}
	return exec, nil
}
