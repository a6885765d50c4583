package pathscope

import (
	"regexp"
	"strings"
)

// ShellClass is the result of classifying a shell command before execution.
type ShellClass int

const (
	ClassSafe ShellClass = iota
	ClassModerate
	ClassDestructive
	ClassBlocked
)

func (c ShellClass) String() string {
	switch c {
	case ClassSafe:
		return "safe"
	case ClassModerate:
		return "moderate"
	case ClassDestructive:
		return "destructive"
	case ClassBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// blockedPatterns are catastrophic and refused unconditionally, at every
// access level including FULL. This list is a floor: entries may be added
// but never removed or weakened.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+-rf\s+/(\s|$)`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;`), // fork bomb
	regexp.MustCompile(`sudo\s+rm\s+-rf\s+/(\s|$)`),
}

// destructiveVerbs trigger the destructive classification whenever present
// anywhere in the lowercased command (a plain substring match).
var destructiveVerbs = []string{
	"rm ", "mv ", "chmod", "chown", "sudo", "kill ", "killall", "pkill",
	"shutdown", "reboot",
}

// destructiveGitVerbs are git subcommands that rewrite or discard history.
var destructiveGitVerbs = []string{
	"git reset --hard", "git clean", "git push --force", "git push -f",
	"git checkout --", "git branch -D", "git rebase",
}

// shellMetacharacters indicate command chaining or injection; a command
// containing one of these is destructive unless it is a pure read-only
// pipeline (every stage starts with a safe prefix).
var shellMetacharacters = []string{"$(", "`", "&&", "||", ";", "\n"}

// codeExecutionShells can run arbitrary code, so invoking them is always
// destructive regardless of arguments.
var codeExecutionShells = []string{
	"eval", "exec", "source", "python", "ruby", "perl", "node", "php",
	"bash", "zsh", "sh", "osascript", "curl", "wget", "xargs", "env",
}

// safePrefixes start read-only commands.
var safePrefixes = []string{
	"ls", "cat", "head", "tail", "grep", "find", "which", "file", "wc",
	"diff", "uptime", "whoami", "pwd", "echo", "git status", "git log",
	"git diff", "ps", "df", "du",
}

// Classify returns the ShellClass of cmd. blocked is refused unconditionally;
// destructive is refused unless the agent is VIP; safe and moderate both run
// (moderate is logged by the caller).
func Classify(cmd string) ShellClass {
	for _, re := range blockedPatterns {
		if re.MatchString(cmd) {
			return ClassBlocked
		}
	}

	lower := strings.ToLower(cmd)

	for _, verb := range destructiveVerbs {
		if strings.Contains(lower, verb) {
			return ClassDestructive
		}
	}
	for _, verb := range destructiveGitVerbs {
		if strings.Contains(lower, verb) {
			return ClassDestructive
		}
	}
	for _, shell := range codeExecutionShells {
		if containsToken(lower, shell) {
			return ClassDestructive
		}
	}

	if hasMetacharacter(cmd) && !isReadOnlyPipeline(lower) {
		return ClassDestructive
	}

	if hasSafePrefix(lower) {
		return ClassSafe
	}

	return ClassModerate
}

func hasMetacharacter(cmd string) bool {
	for _, m := range shellMetacharacters {
		if strings.Contains(cmd, m) {
			return true
		}
	}
	// Hex/unicode escape sequences used to smuggle metacharacters past naive filters.
	if strings.Contains(cmd, `\x`) || strings.Contains(cmd, `\u`) {
		return true
	}
	return false
}

// isReadOnlyPipeline reports whether every stage of a `|`-separated pipeline
// begins with a safe prefix. Stages are split on the shell metacharacters we
// already flagged, so this only matters when hasMetacharacter returned true
// because of a pipe chained with another pipe, not `&&`/`;`/backticks.
func isReadOnlyPipeline(lower string) bool {
	if !strings.Contains(lower, "|") {
		return false
	}
	for _, m := range []string{"$(", "`", "&&", "||", ";", "\n"} {
		if strings.Contains(lower, m) {
			return false
		}
	}
	stages := strings.Split(lower, "|")
	for _, stage := range stages {
		if !hasSafePrefix(strings.TrimSpace(stage)) {
			return false
		}
	}
	return true
}

func hasSafePrefix(lower string) bool {
	trimmed := strings.TrimSpace(lower)
	for _, p := range safePrefixes {
		if trimmed == p || strings.HasPrefix(trimmed, p+" ") {
			return true
		}
	}
	return false
}

// containsToken reports whether word appears in s as a standalone token
// (bounded by start/end of string or non-alphanumeric characters), avoiding
// false positives like "php" inside "alphphone".
func containsToken(s, word string) bool {
	idx := 0
	for {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		pos := idx + i
		before := byte(' ')
		if pos > 0 {
			before = s[pos-1]
		}
		after := byte(' ')
		if pos+len(word) < len(s) {
			after = s[pos+len(word)]
		}
		if !isAlnum(before) && !isAlnum(after) {
			return true
		}
		idx = pos + len(word)
		if idx >= len(s) {
			return false
		}
	}
}

func isAlnum(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}
