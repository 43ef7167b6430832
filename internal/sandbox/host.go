package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// hostExecutor runs everything directly on the host. The shell inherits the
// process working directory; tools see the on-disk workspace path.
type hostExecutor struct {
	workspace string
}

// NewHost returns an executor that runs on the host.
func NewHost(workspace string) Executor {
	return &hostExecutor{workspace: filepath.Clean(workspace)}
}

func (h *hostExecutor) WorkspacePath() string { return h.workspace }

func (h *hostExecutor) HostPath(path string) (string, bool) {
	return path, true
}

func (h *hostExecutor) RunShell(ctx context.Context, command string, timeout time.Duration) (*ShellResult, error) {
	if timeout <= 0 {
		timeout = DefaultShellTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := &ShellResult{}
	res.Stdout, res.Stderr, res.Truncated = truncateOutputs(stdout.String(), stderr.String())

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			res.TimedOut = true
			res.ExitCode = -1
			return res, nil
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, err
	}
	return res, nil
}

func (h *hostExecutor) ReadFile(_ context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (h *hostExecutor) WriteFile(_ context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func (h *hostExecutor) Exists(_ context.Context, path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}
