// Package skills discovers skill files: markdown documents with a YAML
// frontmatter header that teach the agent a reusable procedure. The catalog
// (name, description, path) goes into the system prompt; the agent reads the
// full file on demand with its read tool.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Skill is one discovered skill file.
type Skill struct {
	Name        string
	Description string
	Path        string
}

// frontmatter is the YAML header between --- markers at the top of a file.
type frontmatter struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Loader scans skill directories. Later directories shadow earlier ones on
// name collision, so channel-local skills override global ones.
type Loader struct {
	dirs []string
}

func NewLoader(dirs ...string) *Loader {
	return &Loader{dirs: dirs}
}

// List returns all discovered skills sorted by name.
func (l *Loader) List() []Skill {
	byName := make(map[string]Skill)
	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			path := skillPath(dir, entry)
			if path == "" {
				continue
			}
			skill, err := loadSkill(path)
			if err != nil {
				continue
			}
			byName[skill.Name] = skill
		}
	}

	out := make([]Skill, 0, len(byName))
	for _, s := range byName {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Catalog renders the skill list for the system prompt. Empty when no
// skills exist.
func (l *Loader) Catalog() string {
	skills := l.List()
	if len(skills) == 0 {
		return ""
	}
	var b strings.Builder
	for _, s := range skills {
		if s.Description != "" {
			fmt.Fprintf(&b, "- %s: %s (%s)\n", s.Name, s.Description, s.Path)
		} else {
			fmt.Fprintf(&b, "- %s (%s)\n", s.Name, s.Path)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// skillPath maps one directory entry to its skill file: either a flat
// <name>.md file or a <name>/SKILL.md directory. Empty when neither.
func skillPath(dir string, entry os.DirEntry) string {
	if entry.IsDir() {
		path := filepath.Join(dir, entry.Name(), "SKILL.md")
		if _, err := os.Stat(path); err != nil {
			return ""
		}
		return path
	}
	if !strings.HasSuffix(entry.Name(), ".md") {
		return ""
	}
	return filepath.Join(dir, entry.Name())
}

func loadSkill(path string) (Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Skill{}, err
	}

	base := strings.TrimSuffix(filepath.Base(path), ".md")
	if base == "SKILL" {
		// <name>/SKILL.md: the directory carries the name.
		base = filepath.Base(filepath.Dir(path))
	}
	skill := Skill{Name: base, Path: path}

	fm, ok := splitFrontmatter(string(data))
	if !ok {
		return skill, nil
	}
	var meta frontmatter
	if err := yaml.Unmarshal([]byte(fm), &meta); err != nil {
		return skill, nil
	}
	if meta.Name != "" {
		skill.Name = meta.Name
	}
	skill.Description = meta.Description
	return skill, nil
}

// splitFrontmatter extracts the YAML block between the leading --- markers.
func splitFrontmatter(content string) (string, bool) {
	if !strings.HasPrefix(content, "---\n") && !strings.HasPrefix(content, "---\r\n") {
		return "", false
	}
	rest := content[strings.Index(content, "\n")+1:]
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return "", false
	}
	return rest[:end], true
}
