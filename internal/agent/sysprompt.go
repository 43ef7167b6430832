package agent

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/EdibleTuber/Mother/internal/skills"
	"github.com/EdibleTuber/Mother/internal/store"
)

// Character caps for context files injected into the system prompt.
const (
	motherFileCap        = 3000
	globalMemoryCap      = 1500
	channelMemoryCap     = 1000
	treeMaxDepth         = 4
	treeMaxEntries       = 150
	memberTableMaxSource = 200
)

// treeExcluded names are skipped at any depth, along with all dot-entries.
var treeExcluded = map[string]bool{
	"node_modules":      true,
	"attachments":       true,
	"log.jsonl":         true,
	"context.jsonl":     true,
	"last_prompt.jsonl": true,
}

// PromptConfig carries everything the per-run system prompt is rebuilt from.
type PromptConfig struct {
	BotName   string
	ChannelID string

	// Workspace is the root as tools see it; ChannelDir and EventsDir are
	// inside it. HostWorkspace is the on-disk root the host process reads
	// context files and the tree from.
	Workspace     string
	ChannelDir    string
	EventsDir     string
	HostWorkspace string
	HostChannel   string

	StopHint string
	Sandbox  string
	Now      time.Time

	// Recent log entries, newest last, for the member table.
	Entries []store.LogEntry

	Skills *skills.Loader
}

// BuildSystemPrompt assembles the prompt: identity and rules, session facts,
// the memory files, the channel member table, the workspace tree, and the
// skills catalog. Rebuilt on every run so edits to the files take effect
// immediately.
func BuildSystemPrompt(cfg PromptConfig) string {
	var b strings.Builder

	b.WriteString(identitySection(cfg))
	b.WriteString(sessionSection(cfg))

	writeCappedFile(&b, "MOTHER.md", filepath.Join(cfg.HostWorkspace, "MOTHER.md"), motherFileCap)
	writeCappedFile(&b, "MEMORY.md (global)", filepath.Join(cfg.HostWorkspace, "MEMORY.md"), globalMemoryCap)
	writeCappedFile(&b, "MEMORY.md (channel)", filepath.Join(cfg.HostChannel, "MEMORY.md"), channelMemoryCap)

	if table := memberTable(cfg.Entries); table != "" {
		b.WriteString("## Channel members\n")
		b.WriteString("Map user IDs to handles with this table when reading the log.\n\n")
		b.WriteString(table)
		b.WriteString("\n")
	}

	if tree := workspaceTree(cfg.HostWorkspace); tree != "" {
		b.WriteString("## Workspace contents\n```\n")
		b.WriteString(tree)
		b.WriteString("```\n\n")
	}

	if cfg.Skills != nil {
		if catalog := cfg.Skills.Catalog(); catalog != "" {
			b.WriteString("## Skills\n")
			b.WriteString("Read the skill file before using one.\n\n")
			b.WriteString(catalog)
			b.WriteString("\n")
		}
	}

	return strings.TrimRight(b.String(), "\n") + "\n"
}

func identitySection(cfg PromptConfig) string {
	name := cfg.BotName
	if name == "" {
		name = "Mother"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an autonomous agent living in a chat server. ", name)
	b.WriteString("You have a persistent workspace, shell access, and file tools. ")
	b.WriteString("You act on your own judgment and keep your workspace organized.\n\n")

	b.WriteString("Rules:\n")
	b.WriteString("- Keep replies conversational; long output belongs in files.\n")
	b.WriteString("- If no visible reply is warranted (you were not addressed, or the event ")
	b.WriteString("needs no announcement), respond with exactly [SILENT] and nothing else. ")
	b.WriteString("Everything already posted for that run is removed.\n")
	fmt.Fprintf(&b, "- The user can cancel you at any time by saying %q.\n", cfg.StopHint)
	b.WriteString("- Record durable facts in MEMORY.md (global) or the channel MEMORY.md; ")
	b.WriteString("they are injected into every prompt.\n\n")

	b.WriteString("Scheduling yourself: write a JSON file into ")
	b.WriteString(cfg.EventsDir)
	b.WriteString(" to receive a prompt later. Format:\n")
	b.WriteString("```json\n{\n  \"type\": \"immediate\" | \"one-shot\" | \"periodic\",\n")
	b.WriteString("  \"channelId\": \"<channel to prompt>\",\n  \"text\": \"<prompt you will receive>\",\n")
	b.WriteString("  \"at\": \"2026-01-02T15:04:05+07:00\",      // one-shot only, offset required\n")
	b.WriteString("  \"schedule\": \"30 9 * * 1-5\",             // periodic only, 5-field cron\n")
	b.WriteString("  \"timezone\": \"America/New_York\"          // periodic only, IANA name\n}\n```\n")
	b.WriteString("one-shot and immediate files are deleted after firing; periodic files persist. ")
	b.WriteString("Delete a periodic file to cancel it.\n\n")
	return b.String()
}

func sessionSection(cfg PromptConfig) string {
	var b strings.Builder
	b.WriteString("## Session\n")
	fmt.Fprintf(&b, "- channel id: %s\n", cfg.ChannelID)
	fmt.Fprintf(&b, "- workspace root: %s\n", cfg.Workspace)
	fmt.Fprintf(&b, "- channel directory: %s (scratch/, daily/, skills/ live here)\n", cfg.ChannelDir)
	if cfg.Sandbox != "" && cfg.Sandbox != "host" {
		fmt.Fprintf(&b, "- shell runs inside container %q; paths above are container paths\n", cfg.Sandbox)
	}
	fmt.Fprintf(&b, "- current time: %s\n\n", cfg.Now.Format("2006-01-02T15:04:05-07:00 (Monday)"))
	return b.String()
}

// writeCappedFile injects a context file, cut at limit characters with a
// truncation tag. Missing files are skipped silently.
func writeCappedFile(b *strings.Builder, title, path string, limit int) {
	data, err := os.ReadFile(path)
	if err != nil || len(strings.TrimSpace(string(data))) == 0 {
		return
	}
	content := string(data)
	truncated := false
	if len(content) > limit {
		content = content[:limit]
		truncated = true
	}
	fmt.Fprintf(b, "## %s\n%s\n", title, strings.TrimRight(content, "\n"))
	if truncated {
		b.WriteString("… (truncated)\n")
	}
	b.WriteString("\n")
}

// memberTable synthesizes an id ↔ handle table from recent log entries,
// keeping the latest name seen for each user.
func memberTable(entries []store.LogEntry) string {
	if len(entries) > memberTableMaxSource {
		entries = entries[len(entries)-memberTableMaxSource:]
	}

	type member struct {
		id, handle, display string
	}
	seen := make(map[string]member)
	var order []string
	for _, e := range entries {
		if e.IsBot || e.User == "" {
			continue
		}
		if _, ok := seen[e.User]; !ok {
			order = append(order, e.User)
		}
		seen[e.User] = member{id: e.User, handle: e.UserName, display: e.DisplayName}
	}
	if len(order) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("| user id | handle | display name |\n|---|---|---|\n")
	for _, id := range order {
		m := seen[id]
		fmt.Fprintf(&b, "| %s | %s | %s |\n", m.id, m.handle, m.display)
	}
	return b.String()
}

// workspaceTree lists the workspace up to depth 4 and 150 entries with
// human-readable sizes, skipping noisy and machine-managed entries.
func workspaceTree(root string) string {
	if root == "" {
		return ""
	}
	var b strings.Builder
	count := 0
	capped := false

	var walk func(dir string, depth int, indent string)
	walk = func(dir string, depth int, indent string) {
		if depth > treeMaxDepth || capped {
			return
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return
		}
		sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
		for _, entry := range entries {
			if capped {
				return
			}
			name := entry.Name()
			if treeExcluded[name] || strings.HasPrefix(name, ".") {
				continue
			}
			if count >= treeMaxEntries {
				capped = true
				b.WriteString(indent + "...\n")
				return
			}
			count++
			if entry.IsDir() {
				fmt.Fprintf(&b, "%s%s/\n", indent, name)
				walk(filepath.Join(dir, name), depth+1, indent+"  ")
			} else {
				fmt.Fprintf(&b, "%s%s (%s)\n", indent, name, humanSize(entry))
			}
		}
	}
	walk(root, 1, "")
	return b.String()
}

func humanSize(entry fs.DirEntry) string {
	info, err := entry.Info()
	if err != nil {
		return "?"
	}
	size := info.Size()
	switch {
	case size >= 1<<20:
		return fmt.Sprintf("%.1fM", float64(size)/(1<<20))
	case size >= 1<<10:
		return fmt.Sprintf("%.1fK", float64(size)/(1<<10))
	default:
		return fmt.Sprintf("%dB", size)
	}
}
