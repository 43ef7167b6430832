package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/EdibleTuber/Mother/internal/guard"
	"github.com/EdibleTuber/Mother/internal/sandbox"
)

// EditTool replaces an exact text span in a file. The find text must match
// exactly once unless replaceAll is set; ambiguous or missing matches come
// back as errors so the model can re-read and retry.
type EditTool struct {
	paths *guard.PathGuard
	exec  sandbox.Executor
}

func NewEditTool(paths *guard.PathGuard, exec sandbox.Executor) *EditTool {
	return &EditTool{paths: paths, exec: exec}
}

func (t *EditTool) Name() string        { return "edit" }
func (t *EditTool) Description() string { return "Replace an exact text span in an existing file" }
func (t *EditTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file to edit",
			},
			"find": map[string]interface{}{
				"type":        "string",
				"description": "Exact text to replace",
			},
			"replace": map[string]interface{}{
				"type":        "string",
				"description": "Replacement text",
			},
			"replaceAll": map[string]interface{}{
				"type":        "boolean",
				"description": "Replace every occurrence instead of requiring a unique match",
			},
		},
		"required": []string{"path", "find", "replace"},
	}
}

func (t *EditTool) Execute(ctx context.Context, args map[string]interface{}) *Result {
	path, _ := args["path"].(string)
	if path == "" {
		return ErrorResult("path is required")
	}
	find, _ := args["find"].(string)
	if find == "" {
		return ErrorResult("find is required")
	}
	replace, _ := args["replace"].(string)
	replaceAll, _ := args["replaceAll"].(bool)

	decision := t.paths.Check(path, t.exec.WorkspacePath())
	if !decision.Allowed {
		return ErrorResult(decision.Reason)
	}

	data, err := t.exec.ReadFile(ctx, decision.Resolved)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read file: %v", err))
	}
	content := string(data)

	count := strings.Count(content, find)
	if count == 0 {
		return ErrorResult(fmt.Sprintf("find text not found in %s", decision.Resolved))
	}
	if count > 1 && !replaceAll {
		return ErrorResult(fmt.Sprintf("find text matches %d locations in %s; pass replaceAll to change all of them", count, decision.Resolved))
	}

	var updated string
	replaced := count
	if replaceAll {
		updated = strings.ReplaceAll(content, find, replace)
	} else {
		updated = strings.Replace(content, find, replace, 1)
		replaced = 1
	}

	if err := t.exec.WriteFile(ctx, decision.Resolved, []byte(updated)); err != nil {
		return ErrorResult(fmt.Sprintf("failed to write file: %v", err))
	}

	return SilentResult(editSummary(decision.Resolved, find, replace, replaced))
}

// editSummary renders a short diff-style report of what changed.
func editSummary(path, find, replace string, replaced int) string {
	var b strings.Builder
	if replaced == 1 {
		fmt.Fprintf(&b, "Edited %s (1 replacement)\n", path)
	} else {
		fmt.Fprintf(&b, "Edited %s (%d replacements)\n", path, replaced)
	}
	for _, line := range diffLines(find, "-") {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	for _, line := range diffLines(replace, "+") {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// diffLines prefixes each line of text with the given marker, capping the
// excerpt at a handful of lines to keep tool results readable.
func diffLines(text, marker string) []string {
	const maxLines = 6
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	for i, line := range lines {
		if i == maxLines {
			out = append(out, fmt.Sprintf("%s ... (%d more lines)", marker, len(lines)-maxLines))
			break
		}
		out = append(out, marker+" "+line)
	}
	return out
}
