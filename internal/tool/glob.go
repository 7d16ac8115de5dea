package tool

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// GlobFindTool finds files matching a glob pattern using ripgrep or a
// native walk. Grounded on dcode's internal/tool/glob.go, raised from
// a 100 to a 200-match cap and with its native fallback's matcher rebuilt
// on a regex derived from the glob pattern (globToRegexp) in place of the
// dcode's filepath.Match/ad-hoc "**" split, so "**" segments, single "*"
// and "?" all compose correctly within one pass instead of being handled
// as special cases.
func GlobFindTool() *Def {
	return &Def{
		Name:        "glob_find",
		Description: "Find files matching a glob pattern. Returns up to 200 matches sorted by modification time.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type":        "string",
					"description": "Glob pattern to match (e.g., '**/*.go', 'src/**/*.ts', '*.md')",
				},
				"path": map[string]any{
					"type":        "string",
					"description": "Directory to search in (default: project root)",
				},
			},
			"required": []string{"pattern"},
		},
		Execute: func(ctx context.Context, tc *Context, input map[string]any) (*Result, error) {
			pattern, _ := input["pattern"].(string)
			if pattern == "" {
				return &Result{Output: "Error: pattern is required", IsError: true}, nil
			}

			searchDir := tc.WorkDir
			if v, ok := input["path"].(string); ok && v != "" {
				if !filepath.IsAbs(v) && tc.WorkDir != "" {
					searchDir = filepath.Join(tc.WorkDir, v)
				} else {
					searchDir = v
				}
			}
			if searchDir == "" {
				searchDir = "."
			}

			matches, err := globWithRipgrep(ctx, searchDir, pattern)
			if err != nil {
				matches, err = globNative(searchDir, pattern)
				if err != nil {
					return &Result{Output: fmt.Sprintf("Error: %v", err), IsError: true}, nil
				}
			}

			if len(matches) == 0 {
				return &Result{Output: fmt.Sprintf("No files matching pattern: %s", pattern)}, nil
			}

			type fileInfo struct {
				path    string
				modTime time.Time
			}
			files := make([]fileInfo, 0, len(matches))
			for _, m := range matches {
				info, err := os.Stat(m)
				if err != nil || info.IsDir() {
					continue
				}
				rel, _ := filepath.Rel(searchDir, m)
				if rel == "" {
					rel = m
				}
				files = append(files, fileInfo{path: rel, modTime: info.ModTime()})
			}
			sort.Slice(files, func(i, j int) bool {
				return files[i].modTime.After(files[j].modTime)
			})

			total := len(files)
			if len(files) > 200 {
				files = files[:200]
			}

			lines := make([]string, len(files))
			for i, f := range files {
				lines[i] = f.path
			}

			return &Result{Output: fmt.Sprintf("Found %d files matching '%s':\n\n%s", total, pattern, strings.Join(lines, "\n"))}, nil
		},
	}
}

func globWithRipgrep(ctx context.Context, dir, pattern string) ([]string, error) {
	cmd := exec.CommandContext(ctx, "rg", "--files", "--glob", pattern, dir)
	output, err := cmd.Output()
	if err != nil {
		return nil, err
	}
	lines := strings.Split(strings.TrimSpace(string(output)), "\n")
	matches := make([]string, 0, len(lines))
	for _, line := range lines {
		if line != "" {
			matches = append(matches, line)
		}
	}
	return matches, nil
}

var ignoredDirs = map[string]bool{
	".git": true, "node_modules": true, "__pycache__": true,
	".next": true, "dist": true, "build": true, ".cache": true, "vendor": true,
}

func globNative(dir, pattern string) ([]string, error) {
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, err
	}
	var matches []string
	err = filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if ignoredDirs[filepath.Base(path)] {
				return filepath.SkipDir
			}
			return nil
		}
		rel, _ := filepath.Rel(dir, path)
		rel = filepath.ToSlash(rel)
		if re.MatchString(rel) || re.MatchString(filepath.Base(path)) {
			matches = append(matches, path)
		}
		return nil
	})
	return matches, err
}

// globToRegexp compiles a shell glob into an anchored regular expression.
// "**" matches across path separators (including zero segments), "*"
// matches within a single segment, and "?" matches one non-separator rune.
func globToRegexp(pattern string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString("^")
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		switch runes[i] {
		case '*':
			if i+1 < len(runes) && runes[i+1] == '*' {
				b.WriteString(".*")
				i++
				if i+1 < len(runes) && runes[i+1] == '/' {
					i++
				}
			} else {
				b.WriteString("[^/]*")
			}
		case '?':
			b.WriteString("[^/]")
		case '.', '+', '(', ')', '|', '^', '$', '{', '}', '[', ']', '\\':
			b.WriteString("\\")
			b.WriteRune(runes[i])
		default:
			b.WriteRune(runes[i])
		}
	}
	b.WriteString("$")
	return regexp.Compile(b.String())
}
