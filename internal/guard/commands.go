package guard

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

// CommandDecision is the outcome of a command policy check.
type CommandDecision struct {
	Allowed bool
	Reason  string
}

// Default allowed program basenames. Shells, eval/exec, sudo, dd, systemctl
// and friends are deliberately absent: anything not listed here (or in the
// builtin set) is denied.
var defaultAllowedCommands = []string{
	// file
	"ls", "cat", "head", "tail", "wc", "stat", "file", "find", "du", "df",
	"cp", "mv", "rm", "mkdir", "rmdir", "touch", "ln", "chmod", "readlink",
	"realpath", "basename", "dirname", "tree",
	// text
	"grep", "egrep", "fgrep", "rg", "sed", "awk", "cut", "sort", "uniq", "tr",
	"diff", "patch", "jq", "yq", "xargs", "tee", "strings", "column", "paste",
	"comm", "join", "split", "nl", "rev", "fold",
	// dev
	"git", "go", "gofmt", "make", "node", "npm", "npx", "python", "python3",
	"pip", "pip3", "cargo", "rustc", "ruby", "perl", "java", "javac", "gcc",
	"cc", "g++", "clang", "dotnet", "swift",
	// network
	"curl", "wget", "ping", "dig", "host", "nslookup", "ssh", "scp", "rsync",
	// archive
	"tar", "gzip", "gunzip", "zip", "unzip", "bzip2", "bunzip2", "xz", "unxz",
	"zcat", "7z",
	// packages
	"apt", "apt-get", "dpkg", "brew", "yum", "dnf", "pacman", "gem", "uv",
	// utility
	"date", "env", "printenv", "which", "whereis", "whoami", "id", "uname",
	"hostname", "uptime", "sleep", "time", "ps", "kill", "seq", "bc", "expr",
	"md5sum", "sha1sum", "sha256sum", "base64", "uuidgen", "openssl", "xxd",
	"od", "cal", "less", "more", "man",
}

// Shell builtins are implicitly allowed; a segment starting with one of these
// is not a program invocation the allow-list can judge.
var shellBuiltins = map[string]bool{
	"cd": true, "echo": true, "printf": true, "export": true, "pwd": true,
	"set": true, "unset": true, "read": true, "test": true, "[": true,
	"true": true, "false": true, "exit": true, "return": true, "shift": true,
	"wait": true, "trap": true, "source": true, ".": true, "local": true,
	"declare": true, "typeset": true, "alias": true, "unalias": true,
	"hash": true, "command": true, "builtin": true, "let": true,
	"getopts": true, "pushd": true, "popd": true, "dirs": true, "umask": true,
	"ulimit": true, "times": true, "bg": true, "fg": true, "jobs": true,
	"disown": true, "enable": true, "help": true, "logout": true,
	"mapfile": true, "readarray": true, "compgen": true, "complete": true,
	"compopt": true, "coproc": true, "select": true, "shopt": true,
}

var (
	forkBombPattern = regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`)
	assignmentForm  = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*=`)
)

// CommandGuard validates whole shell command strings against the allow-list.
type CommandGuard struct {
	allowed map[string]bool
}

// ListEdits is the parsed form of the ALLOWED_COMMANDS environment string.
type ListEdits struct {
	Add    []string
	Remove []string
}

// ParseCommandsEnv parses a comma-separated list of command edits:
// "+cmd" adds, "-cmd" removes, a bare name adds. Whitespace is trimmed.
func ParseCommandsEnv(s string) ListEdits {
	var edits ListEdits
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		switch {
		case strings.HasPrefix(part, "-"):
			if name := strings.TrimSpace(part[1:]); name != "" {
				edits.Remove = append(edits.Remove, name)
			}
		case strings.HasPrefix(part, "+"):
			if name := strings.TrimSpace(part[1:]); name != "" {
				edits.Add = append(edits.Add, name)
			}
		default:
			edits.Add = append(edits.Add, part)
		}
	}
	return edits
}

// NewCommandGuard builds a guard from the default allow-list with the given
// edits applied.
func NewCommandGuard(edits ListEdits) *CommandGuard {
	allowed := make(map[string]bool, len(defaultAllowedCommands))
	for _, c := range defaultAllowedCommands {
		allowed[c] = true
	}
	for _, c := range edits.Add {
		allowed[c] = true
	}
	for _, c := range edits.Remove {
		delete(allowed, c)
	}
	return &CommandGuard{allowed: allowed}
}

// Allows reports whether a program basename is on the allow-list.
func (g *CommandGuard) Allows(name string) bool {
	return g.allowed[name]
}

// Check validates a full shell command string. Critical patterns are rejected
// first regardless of the allow-list; then every segment's program must be an
// allowed command or a shell builtin. Checking is pure and idempotent.
func (g *CommandGuard) Check(command string) CommandDecision {
	if forkBombPattern.MatchString(command) {
		return CommandDecision{Reason: "Command denied: fork bomb pattern detected"}
	}

	for _, segment := range SplitSegments(command) {
		tokens := tokenizeSegment(segment)
		program := programOf(tokens)
		if program == "" {
			continue
		}
		if program == "rm" && rmTargetsRoot(tokens) {
			return CommandDecision{Reason: "Command denied: 'rm' recursively targeting the filesystem root"}
		}
		if shellBuiltins[program] || g.allowed[program] {
			continue
		}
		return CommandDecision{
			Reason: fmt.Sprintf("Command denied: '%s' is not on the allowed commands list", program),
		}
	}
	return CommandDecision{Allowed: true}
}

// SplitSegments splits a command on unquoted ;, |, &&, and newlines,
// honoring single quotes, double quotes, and backslash escapes. || falls
// out of the single-character | split; a lone & splits too (backgrounded
// commands are still commands) except when it belongs to a redirection
// (2>&1, <&0, &>log), which stays inside its segment. Empty segments are
// dropped.
func SplitSegments(command string) []string {
	var segments []string
	var current strings.Builder
	var inSingle, inDouble, escaped bool

	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			segments = append(segments, s)
		}
		current.Reset()
	}

	runes := []rune(command)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}
		switch {
		case r == '\\' && !inSingle:
			escaped = true
			current.WriteRune(r)
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			current.WriteRune(r)
		case r == '"' && !inSingle:
			inDouble = !inDouble
			current.WriteRune(r)
		case r == '&' && !inSingle && !inDouble:
			var prev, next rune
			if i > 0 {
				prev = runes[i-1]
			}
			if i+1 < len(runes) {
				next = runes[i+1]
			}
			switch {
			case next == '&':
				flush()
				i++
			case prev == '>' || prev == '<' || next == '>':
				current.WriteRune(r)
			default:
				flush()
			}
		case (r == ';' || r == '|' || r == '\n') && !inSingle && !inDouble:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return segments
}

// tokenizeSegment splits a segment into words, honoring quotes and escapes.
// Quote characters are stripped from the produced words.
func tokenizeSegment(segment string) []string {
	var tokens []string
	var current strings.Builder
	var inSingle, inDouble, escaped, hasContent bool

	flush := func() {
		if hasContent {
			tokens = append(tokens, current.String())
		}
		current.Reset()
		hasContent = false
	}

	for _, r := range segment {
		if escaped {
			current.WriteRune(r)
			hasContent = true
			escaped = false
			continue
		}
		switch {
		case r == '\\' && !inSingle:
			escaped = true
		case r == '\'' && !inDouble:
			inSingle = !inSingle
			hasContent = true
		case r == '"' && !inSingle:
			inDouble = !inDouble
			hasContent = true
		case (r == ' ' || r == '\t') && !inSingle && !inDouble:
			flush()
		default:
			current.WriteRune(r)
			hasContent = true
		}
	}
	flush()
	return tokens
}

// programOf extracts the program name from a tokenized segment: skip leading
// VAR=value assignments, strip subshell/group characters, take the first
// remaining token, and basename it.
func programOf(tokens []string) string {
	for _, tok := range tokens {
		tok = strings.Trim(tok, "(){}")
		if tok == "" {
			continue
		}
		if assignmentForm.MatchString(tok) {
			continue
		}
		return filepath.Base(tok)
	}
	return ""
}

// rmTargetsRoot reports whether an rm segment carries both recursive and
// force flags (any order, combined or separate) with / or /* as a target.
func rmTargetsRoot(tokens []string) bool {
	var recursive, force bool
	var targetsRoot bool
	for _, tok := range tokens[1:] {
		switch {
		case tok == "--recursive":
			recursive = true
		case tok == "--force":
			force = true
		case strings.HasPrefix(tok, "-") && len(tok) > 1 && !strings.HasPrefix(tok, "--"):
			if strings.ContainsAny(tok[1:], "rR") {
				recursive = true
			}
			if strings.Contains(tok[1:], "f") {
				force = true
			}
		case tok == "/" || tok == "/*":
			targetsRoot = true
		}
	}
	return recursive && force && targetsRoot
}
