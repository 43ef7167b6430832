// Package bootstrap seeds a fresh workspace with its standing files. The
// agent owns these files afterwards; seeding never overwrites.
package bootstrap

import (
	"embed"
	"log/slog"
	"os"
	"path/filepath"
)

//go:embed templates/*.md
var templateFS embed.FS

// Workspace files seeded on first run.
const (
	MotherFile    = "MOTHER.md"
	MemoryFile    = "MEMORY.md"
	SystemFile    = "SYSTEM.md"
	ReferenceFile = "REFERENCE.md"
)

// templateFiles lists the templates to seed, in order.
var templateFiles = []string{
	MotherFile,
	MemoryFile,
	SystemFile,
	ReferenceFile,
}

// workspaceDirs are standing directories created alongside the templates.
var workspaceDirs = []string{"events", "skills"}

// ReadTemplate returns the content of an embedded template file.
func ReadTemplate(name string) (string, error) {
	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// EnsureWorkspace seeds template files and standing directories into a
// workspace. Only writes files that don't already exist. Returns the list
// of files that were created.
func EnsureWorkspace(workspaceDir string) ([]string, error) {
	if err := os.MkdirAll(workspaceDir, 0o755); err != nil {
		return nil, err
	}

	var created []string
	for _, name := range templateFiles {
		ok, err := seedTemplate(workspaceDir, name)
		if err != nil {
			slog.Warn("bootstrap: failed to seed template", "file", name, "error", err)
			continue
		}
		if ok {
			created = append(created, name)
		}
	}

	for _, dir := range workspaceDirs {
		if err := os.MkdirAll(filepath.Join(workspaceDir, dir), 0o755); err != nil {
			return created, err
		}
	}

	return created, nil
}

// seedTemplate writes a template file to the workspace if it doesn't exist.
// Returns true if the file was created, false if it already exists.
func seedTemplate(workspaceDir, name string) (bool, error) {
	dstPath := filepath.Join(workspaceDir, name)

	f, err := os.OpenFile(dstPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return false, nil
		}
		return false, err
	}
	defer f.Close()

	content, err := templateFS.ReadFile(filepath.Join("templates", name))
	if err != nil {
		os.Remove(dstPath)
		return false, err
	}

	if _, err := f.Write(content); err != nil {
		return false, err
	}

	return true, nil
}
