package tools

import (
	"context"
	"encoding/base64"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/EdibleTuber/Mother/internal/guard"
	"github.com/EdibleTuber/Mother/internal/sandbox"
)

// maxImageBytes caps images returned to the model (10 MB).
const maxImageBytes = 10 * 1024 * 1024

var imageMimeTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
}

// ReadTool reads files inside the allowed directories. Image files come back
// as base64 parts so vision models can see them; text files support optional
// line offset and limit.
type ReadTool struct {
	paths *guard.PathGuard
	exec  sandbox.Executor
}

func NewReadTool(paths *guard.PathGuard, exec sandbox.Executor) *ReadTool {
	return &ReadTool{paths: paths, exec: exec}
}

func (t *ReadTool) Name() string        { return "read" }
func (t *ReadTool) Description() string { return "Read a file. Images are attached for viewing." }
func (t *ReadTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to read",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "1-based line to start reading from",
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of lines to return",
			},
		},
		"required": []string{"path"},
	}
}

func (t *ReadTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}

	decision := t.paths.Check(path, t.exec.WorkspacePath())
	if !decision.Allowed {
		return ErrorResult(decision.Reason)
	}

	data, err := t.exec.ReadFile(ctx, decision.Resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}

	if mime, ok := imageMimeTypes[strings.ToLower(filepath.Ext(decision.Resolved))]; ok {
		if len(data) > maxImageBytes {
			return ErrorResult(fmt.Sprintf("image too large: %d bytes (max %d)", len(data), maxImageBytes))
		}
		encoded := base64.StdEncoding.EncodeToString(data)
		return SilentResult(fmt.Sprintf("[image: %s, %d bytes]", decision.Resolved, len(data))).
			WithImage(mime, encoded)
	}

	content := string(data)
	offset := intArg(args, "offset")
	limit := intArg(args, "limit")
	if offset > 0 || limit > 0 {
		content = sliceLines(content, offset, limit)
	}
	return SilentResult(content)
}

// sliceLines returns lines [offset, offset+limit) of content, 1-based.
// offset 0 means the first line; limit 0 means no cap.
func sliceLines(content string, offset, limit int) string {
	lines := strings.Split(content, "\n")
	if offset > 0 {
		if offset > len(lines) {
			return ""
		}
		lines = lines[offset-1:]
	}
	if limit > 0 && limit < len(lines) {
		lines = lines[:limit]
	}
	return strings.Join(lines, "\n")
}

func intArg(args map[string]interface{}, key string) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
