package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/EdibleTuber/Mother/internal/guard"
	"github.com/EdibleTuber/Mother/internal/sandbox"
)

// AttachTool queues a workspace file for upload to the channel. The upload
// itself happens on the host, so the path must resolve through the container
// mount when running sandboxed.
type AttachTool struct {
	paths *guard.PathGuard
	exec  sandbox.Executor
	queue func(hostPath, title string)
}

func NewAttachTool(paths *guard.PathGuard, exec sandbox.Executor, queue func(hostPath, title string)) *AttachTool {
	return &AttachTool{paths: paths, exec: exec, queue: queue}
}

func (t *AttachTool) Name() string        { return "attach" }
func (t *AttachTool) Description() string { return "Send a file from the workspace to the channel" }
func (t *AttachTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to send",
			},
			"title": map[string]interface{}{
				"type":        "string",
				"description": "Display name for the file (defaults to its base name)",
			},
		},
		"required": []string{"path"},
	}
}

func (t *AttachTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

	decision := t.paths.Check(path, t.exec.WorkspacePath())
	if !decision.Allowed {
		return ErrorResult(decision.Reason)
	}

	hostPath, ok := t.exec.HostPath(decision.Resolved)
	if !ok {
		return ErrorResult(fmt.Sprintf("%s is not reachable from the host; move it under the workspace to attach it", decision.Resolved))
	}

	info, err := os.Stat(hostPath)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to stat file: %v", err))
	}
	if info.IsDir() {
		return ErrorResult(fmt.Sprintf("%s is a directory", decision.Resolved))
	}

	title, _ := args["title"].(string)
	t.queue(hostPath, title)
	name := title
	if name == "" {
		name = filepath.Base(hostPath)
	}
	return SilentResult(fmt.Sprintf("Attached %s (%d bytes) for upload to the channel", name, info.Size()))
}
