// Package safety implements CaretForge's static risk classifier: two pure
// functions over literal strings, grounded on dcode's
// internal/permission/ruleset.go (IsSafeCommand/isSensitiveFile), expanded
// from dcode's 2-tier safe/unsafe split into the 4-tier
// blocked/destructive/mutating/safe algorithm this design requires. Neither
// function touches the filesystem or any other external state.
package safety

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gobwas/glob"
)

// Tier is one of the four safety classifications for a command or a write
// target.
type Tier int

const (
	Safe Tier = iota
	Mutating
	Destructive
	Blocked
)

func (t Tier) String() string {
	switch t {
	case Safe:
		return "safe"
	case Mutating:
		return "mutating"
	case Destructive:
		return "destructive"
	case Blocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// Verdict is a classification plus the human-readable reason for it.
type Verdict struct {
	Tier   Tier
	Reason string
}

// blockedCommandPatterns are checked first; any match is fatal regardless
// of anything else in the command.
var blockedCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+/\s*($|[;&|])`),
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+(~|\$HOME)(\s*($|[;&|])|/\s*($|[;&|]))`),
	regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f[a-zA-Z]*|-[a-zA-Z]*f[a-zA-Z]*r[a-zA-Z]*)\s+\.\s*($|[;&|])`),
	regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), // classic fork bomb
	regexp.MustCompile(`>\s*/dev/sd[a-z][0-9]*\b`),                // redirect to a block device
	regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
	regexp.MustCompile(`\bdd\s+[^|;&]*\bof=/dev/`),
	regexp.MustCompile(`\btruncate\b[^|;&]*\s/etc/`),
	regexp.MustCompile(`\b(curl|wget)\b[^|;&]*\|\s*(sudo\s+)?(ba)?sh\b`),
}

// destructiveCommandPatterns are checked second.
var destructiveCommandPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(^|[;&|]\s*)rm\b`),
	regexp.MustCompile(`(^|[;&|]\s*)dd\b`),
	regexp.MustCompile(`\bchmod\s+(-[a-zA-Z]*R[a-zA-Z]*|--recursive)\b`),
	regexp.MustCompile(`\bchown\s+(-[a-zA-Z]*R[a-zA-Z]*|--recursive)\b`),
	regexp.MustCompile(`\bkill\s+-9\b`),
	regexp.MustCompile(`(^|[;&|]\s*)killall\b`),
	regexp.MustCompile(`(^|[;&|]\s*)pkill\b`),
	regexp.MustCompile(`(^|[;&|]\s*)sudo\b`),
	regexp.MustCompile(`(^|[;&|]\s*)su(\s|$)`),
	regexp.MustCompile(`(^|[;&|]\s*)shutdown\b`),
	regexp.MustCompile(`(^|[;&|]\s*)reboot\b`),
	regexp.MustCompile(`\bsystemctl\s+(stop|restart|disable)\b`),
	regexp.MustCompile(`(^|[;&|]\s*)iptables\b`),
	regexp.MustCompile(`>\s*/[^\s;&|]+`), // redirect to an absolute path
}

// safeCommandPrefixes is the read-only whitelist. Matched against the first
// whitespace-delimited token(s) of a command segment.
var safeCommandPrefixes = []string{
	"ls", "cat", "head", "tail", "wc", "pwd", "echo", "which", "whereis",
	"env", "printenv", "uname", "whoami", "date", "find", "grep",
	"git status", "git log", "git diff", "git branch", "git show",
	"git remote", "git rev-parse",
	"node -v", "node --version",
	"npm -v", "npm --version",
	"go version", "python --version", "python3 --version",
}

var splitPattern = regexp.MustCompile(`\|\||&&|[|;&]`)

// AnalyseCommand classifies a shell command string.
func AnalyseCommand(cmd string) Verdict {
	trimmed := strings.TrimSpace(cmd)

	for _, p := range blockedCommandPatterns {
		if p.MatchString(trimmed) {
			return Verdict{Tier: Blocked, Reason: "matches a blocked command pattern"}
		}
	}
	for _, p := range destructiveCommandPatterns {
		if p.MatchString(trimmed) {
			return Verdict{Tier: Destructive, Reason: "matches a destructive command pattern"}
		}
	}

	segments := splitSegments(trimmed)
	if len(segments) > 1 {
		for _, seg := range segments {
			v := AnalyseCommand(seg)
			if v.Tier == Blocked || v.Tier == Destructive {
				return v
			}
		}
	}

	// Rule 4 looks at the first segment only: a chain like "ls && rm -rf x"
	// is already caught by rule 2 above via recursion; a chain whose first
	// segment is a read-only command and whose later segments are also
	// innocuous is the only way to reach here and still be "safe".
	first := trimmed
	if len(segments) > 0 {
		first = segments[0]
	}
	for _, prefix := range safeCommandPrefixes {
		if first == prefix || strings.HasPrefix(first, prefix+" ") {
			return Verdict{Tier: Safe, Reason: "read-only command"}
		}
	}

	return Verdict{Tier: Mutating, Reason: "not recognized as read-only"}
}

// splitSegments splits a command on |, ||, &&, ; at the top level. This is
// a lexical split (not shell-quote-aware), matching dcode's own
// pipe/chain handling in internal/agent prompt construction.
func splitSegments(cmd string) []string {
	parts := splitPattern.Split(cmd, -1)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// blockedPathPatterns and destructivePathPatterns are glob patterns (not
// prefixes): "{,/**}" matches both the bare directory and anything beneath
// it, the same alternation dcode's permission.RuleSet used for its own
// path allow/deny globs.
var blockedPathPatterns = []string{
	"/etc{,/**}", "/usr{,/**}", "/bin{,/**}", "/sbin{,/**}", "/boot{,/**}",
	"/dev{,/**}", "/proc{,/**}", "/sys{,/**}",
	"~/.ssh{,/**}", "~/.gnupg{,/**}", "~/.aws/credentials", "~/.azure{,/**}",
	"~/.kube/config", ".env", ".env.local",
}

var destructivePathPatterns = []string{
	"~/.bashrc", "~/.zshrc", "~/.profile", "~/.bash_profile",
	"~/.gitconfig", "~/.npmrc",
}

// pathRule pairs a glob with its home-expanded form (nil if the pattern
// carries no "~"), so a "~/.ssh{,/**}"-style pattern matches both the
// literal tilde form and the resolved home directory, the same
// alternation dcode's permission.RuleSet used for its own path globs.
type pathRule struct {
	pattern string
	g glob.Glob
	expandedG glob.Glob
}

func compilePathRules(patterns []string) []pathRule {
	rules := make([]pathRule, len(patterns))
	for i, p := range patterns {
		rules[i] = pathRule{pattern: p, g: glob.MustCompile(p, '/')}
		if expanded := expandHome(p); expanded != p {
			rules[i].expandedG = glob.MustCompile(expanded, '/')
		}
	}
	return rules
}

var blockedPathRules = compilePathRules(blockedPathPatterns)
var destructivePathRules = compilePathRules(destructivePathPatterns)

func matchesAnyRule(rules []pathRule, path string) (string, bool) {
	for _, r := range rules {
		if r.g.Match(path) || (r.expandedG != nil && r.expandedG.Match(path)) {
			return r.pattern, true
		}
	}
	return "", false
}

// AnalyseWritePath classifies a filesystem write target.
func AnalyseWritePath(path string) Verdict {
	candidates := []string{filepath.Clean(path)}
	if expanded := expandHome(path); expanded != path {
		candidates = append(candidates, filepath.Clean(expanded))
	}

	for _, c := range candidates {
		if pattern, ok := matchesAnyRule(blockedPathRules, c); ok {
			return Verdict{Tier: Blocked, Reason: "path under a blocked system location: " + pattern}
		}
	}
	for _, c := range candidates {
		if pattern, ok := matchesAnyRule(destructivePathRules, c); ok {
			return Verdict{Tier: Destructive, Reason: "path is a sensitive dotfile: " + pattern}
		}
	}
	return Verdict{Tier: Mutating, Reason: "ordinary write target"}
}

func expandHome(p string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, strings.TrimPrefix(p, "~/"))
	}
	return p
}
