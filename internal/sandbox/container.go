package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// containerMount is where the workspace is mounted inside the container.
const containerMount = "/workspace"

// containerExecCeiling caps any single exec regardless of the requested
// timeout; a wedged container must not pin a channel queue forever.
const containerExecCeiling = 30 * time.Minute

// containerExecutor execs every command into a named, already-running
// container via the docker binary. File I/O on paths under /workspace is
// translated to the host side of the mount; anything else round-trips
// through docker exec.
type containerExecutor struct {
	name          string
	hostWorkspace string
}

// NewContainer returns an executor bound to the named container. Call
// Validate before first use.
func NewContainer(name, hostWorkspace string) *containerExecutor {
	return &containerExecutor{name: name, hostWorkspace: filepath.Clean(hostWorkspace)}
}

// Validate confirms the container is running and has the workspace mount.
func (c *containerExecutor) Validate(ctx context.Context) error {
	out, err := c.docker(ctx, "inspect", "-f", "{{.State.Running}}", c.name)
	if err != nil {
		return fmt.Errorf("container not found: %w", err)
	}
	if strings.TrimSpace(out) != "true" {
		return errors.New("container is not running")
	}
	res, err := c.RunShell(ctx, "test -d "+containerMount, 30*time.Second)
	if err != nil {
		return fmt.Errorf("probe workspace mount: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("container has no %s mount", containerMount)
	}
	return nil
}

func (c *containerExecutor) WorkspacePath() string { return containerMount }

// HostPath maps /workspace/<rest> to <hostWorkspace>/<rest>. Paths outside
// the mount have no host-side location.
func (c *containerExecutor) HostPath(path string) (string, bool) {
	path = filepath.Clean(path)
	if path == containerMount {
		return c.hostWorkspace, true
	}
	if strings.HasPrefix(path, containerMount+"/") {
		return filepath.Join(c.hostWorkspace, path[len(containerMount)+1:]), true
	}
	return "", false
}

func (c *containerExecutor) RunShell(ctx context.Context, command string, timeout time.Duration) (*ShellResult, error) {
	if timeout <= 0 || timeout > containerExecCeiling {
		timeout = containerExecCeiling
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "docker", "exec", "-w", containerMount, c.name, "sh", "-c", command)
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
		return nil, fmt.Errorf("docker exec: %w", err)
	}
	return res, nil
}

func (c *containerExecutor) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if host, ok := c.HostPath(path); ok {
		return os.ReadFile(host)
	}
	cmd := exec.CommandContext(ctx, "docker", "exec", c.name, "cat", "--", path)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("read %s in container: %s", path, firstLine(stderr.String(), err))
	}
	return stdout.Bytes(), nil
}

func (c *containerExecutor) WriteFile(ctx context.Context, path string, data []byte) error {
	if host, ok := c.HostPath(path); ok {
		if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
			return err
		}
		return os.WriteFile(host, data, 0o644)
	}
	script := fmt.Sprintf("mkdir -p %q && cat > %q", filepath.Dir(path), path)
	cmd := exec.CommandContext(ctx, "docker", "exec", "-i", c.name, "sh", "-c", script)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("write %s in container: %s", path, firstLine(stderr.String(), err))
	}
	return nil
}

func (c *containerExecutor) Exists(ctx context.Context, path string) (bool, error) {
	if host, ok := c.HostPath(path); ok {
		_, err := os.Stat(host)
		if err == nil {
			return true, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	cmd := exec.CommandContext(ctx, "docker", "exec", c.name, "test", "-e", path)
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		return false, fmt.Errorf("docker exec: %w", err)
	}
	return true, nil
}

func (c *containerExecutor) docker(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "docker", args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("%s", firstLine(stderr.String(), err))
	}
	return stdout.String(), nil
}

// firstLine prefers the first stderr line over the raw exec error.
func firstLine(stderr string, err error) string {
	if s := strings.TrimSpace(stderr); s != "" {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[:i]
		}
		return s
	}
	return err.Error()
}
