package tools

import (
	"context"
	"fmt"

	"github.com/EdibleTuber/Mother/internal/guard"
	"github.com/EdibleTuber/Mother/internal/sandbox"
)

// WriteTool writes a file inside the allowed directories, creating parent
// directories as needed.
type WriteTool struct {
	paths *guard.PathGuard
	exec  sandbox.Executor
}

func NewWriteTool(paths *guard.PathGuard, exec sandbox.Executor) *WriteTool {
	return &WriteTool{paths: paths, exec: exec}
}

func (t *WriteTool) Name() string        { return "write" }
func (t *WriteTool) Description() string { return "Write content to a file, replacing what was there" }
func (t *WriteTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to write",
			},
			"content": map[string]interface{}{
				"type":        "string",
				"description": "Full content of the file",
			},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	content, ok := args["content"].(string)
	if !ok {
		return ErrorResult("content is required")
	}

	decision := t.paths.Check(path, t.exec.WorkspacePath())
	if !decision.Allowed {
		return ErrorResult(decision.Reason)
	}

	if err := t.exec.WriteFile(ctx, decision.Resolved, []byte(content)); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}
	return SilentResult(fmt.Sprintf("Wrote %d bytes to %s", len(content), decision.Resolved))
}
