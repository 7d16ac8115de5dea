package tool

import (
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// GrepSearchTool searches file contents with ripgrep, falling back to
// system grep when ripgrep is unavailable. Grounded on dcode's
// internal/tool/grep.go, raised from a 100 to a 500 per-file match cap
// and with an explicit empty-pattern tool error added — dcode relies on
// ripgrep itself to reject an empty pattern.
func GrepSearchTool() *Def {
	return &Def{
		Name: "grep_search",
		Description: "Search file contents using regex. Returns matching lines with paths and line numbers.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{
					"type": "string",
					"description": "Regular expression pattern to search for",
				},
				"path": map[string]any{
					"type": "string",
					"description": "Directory or file to search in (default: project root)",
				},
				"include": map[string]any{
					"type": "string",
					"description": "File pattern to include (e.g., '*.go', '*.ts')",
				},
			},
			"required": []string{"pattern"},
		},
		Execute: func(ctx context.Context, tc *Context, input map[string]any) (*Result, error) {
			pattern, _ := input["pattern"].(string)
			if pattern == "" {
				return &Result{Output: "Error: pattern is required", IsError: true}, nil
			}

			searchPath := tc.WorkDir
			if v, ok := input["path"].(string); ok && v != "" {
				if !filepath.IsAbs(v) && tc.WorkDir != "" {
					searchPath = filepath.Join(tc.WorkDir, v)
				} else {
					searchPath = v
				}
			}
			if searchPath == "" {
				searchPath = "."
			}

			args := []string{
				"--line-number",
				"--no-heading",
				"--color=never",
				"--max-count=500",
				"--max-filesize=1M",
			}

			if include, ok := input["include"].(string); ok && include != "" {
				args = append(args, "--glob", include)
			}

			args = append(args, pattern, searchPath)

			cmd := exec.CommandContext(ctx, "rg", args...)
			output, err := cmd.CombinedOutput()

			result := strings.TrimSpace(string(output))

			if err != nil {
				if exitErr, ok := err.(*exec.ExitError); ok && exitErr.ExitCode() == 1 {
					return &Result{Output: fmt.Sprintf("No matches found for pattern: %s", pattern)}, nil
				}
				return grepFallback(ctx, searchPath, pattern, input)
			}

			if result == "" {
				return &Result{Output: fmt.Sprintf("No matches found for pattern: %s", pattern)}, nil
			}

			lines := strings.Split(result, "\n")
			total := len(lines)
			if total > 200 {
				result = strings.Join(lines[:200], "\n") + fmt.Sprintf("\n\n... (%d more matches truncated)", total-200)
			}

			return &Result{Output: fmt.Sprintf("Found %d matches for '%s':\n\n%s", total, pattern, result)}, nil
		},
	}
}

func grepFallback(ctx context.Context, searchPath, pattern string, input map[string]any) (*Result, error) {
	args := []string{"-rn", "--color=never"}

	if include, ok := input["include"].(string); ok && include != "" {
		args = append(args, "--include="+include)
	}

	args = append(args, pattern, searchPath)

	cmd := exec.CommandContext(ctx, "grep", args...)
	output, err := cmd.CombinedOutput()

	result := strings.TrimSpace(string(output))
	if err != nil || result == "" {
		return &Result{Output: fmt.Sprintf("No matches found for pattern: %s", pattern)}, nil
	}

	lines := strings.Split(result, "\n")
	total := len(lines)
	if total > 200 {
		result = strings.Join(lines[:200], "\n") + fmt.Sprintf("\n... (%d more matches truncated)", total-200)
	}

	return &Result{Output: fmt.Sprintf("Found %d matches for '%s':\n\n%s", total, pattern, result)}, nil
}
