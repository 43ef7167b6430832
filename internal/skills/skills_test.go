package skills

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSkill(t *testing.T, dir, name, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestListParsesFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "deploy.md", "---\nname: deploy\ndescription: Ship the current branch to production\n---\n\nSteps...\n")
	writeSkill(t, dir, "raw.md", "No frontmatter here.\n")
	writeSkill(t, dir, "notes.txt", "not a skill")

	skills := NewLoader(dir).List()
	if len(skills) != 2 {
		t.Fatalf("found %d skills, want 2: %+v", len(skills), skills)
	}
	if skills[0].Name != "deploy" || !strings.Contains(skills[0].Description, "production") {
		t.Errorf("skill[0] = %+v", skills[0])
	}
	if skills[1].Name != "raw" || skills[1].Description != "" {
		t.Errorf("skill[1] = %+v", skills[1])
	}
}

func TestListFindsSkillDirectories(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "release"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeSkill(t, filepath.Join(dir, "release"), "SKILL.md", "---\ndescription: Cut a release\n---\n\nSteps...\n")
	if err := os.MkdirAll(filepath.Join(dir, "empty"), 0o755); err != nil {
		t.Fatal(err)
	}

	skills := NewLoader(dir).List()
	if len(skills) != 1 {
		t.Fatalf("found %d skills, want 1: %+v", len(skills), skills)
	}
	if skills[0].Name != "release" || skills[0].Description != "Cut a release" {
		t.Errorf("skill = %+v", skills[0])
	}
}

func TestLaterDirShadowsEarlier(t *testing.T) {
	global := t.TempDir()
	channel := t.TempDir()
	writeSkill(t, global, "greet.md", "---\nname: greet\ndescription: global version\n---\n")
	writeSkill(t, channel, "greet.md", "---\nname: greet\ndescription: channel version\n---\n")

	skills := NewLoader(global, channel).List()
	if len(skills) != 1 {
		t.Fatalf("found %d skills, want 1", len(skills))
	}
	if skills[0].Description != "channel version" {
		t.Errorf("shadowing failed: %+v", skills[0])
	}
}

func TestCatalog(t *testing.T) {
	dir := t.TempDir()
	writeSkill(t, dir, "backup.md", "---\nname: backup\ndescription: Archive the workspace\n---\n")

	catalog := NewLoader(dir).Catalog()
	if !strings.Contains(catalog, "- backup: Archive the workspace (") {
		t.Errorf("catalog = %q", catalog)
	}

	if got := NewLoader(t.TempDir()).Catalog(); got != "" {
		t.Errorf("empty loader catalog = %q", got)
	}
}

func TestMissingDirIsFine(t *testing.T) {
	skills := NewLoader(filepath.Join(t.TempDir(), "absent")).List()
	if len(skills) != 0 {
		t.Errorf("got %d skills from missing dir", len(skills))
	}
}
