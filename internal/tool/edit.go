package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// EditTool performs an exact find-and-replace in a file. Grounded on
// dcode's internal/tool/edit.go, but with its 9-strategy fuzzy
// FuzzyReplace dropped entirely in favor of an exact occurrence-counting
// algorithm: a match count of exactly 1 (or replace_all) succeeds, 0 is a
// tool error, and more than 1 without replace_all is a tool error naming
// the count. See DESIGN.md for
// the fuzzy-matching drop justification.
func EditTool() *Def {
	return &Def{
		Name: "edit_file",
		Description: "Replace an exact substring in a file. Fails if the substring is missing or ambiguous unless replace_all is set.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type": "string",
					"description": "The file path to edit",
				},
				"old_string": map[string]any{
					"type": "string",
					"description": "The exact string to find",
				},
				"new_string": map[string]any{
					"type": "string",
					"description": "The replacement string",
				},
				"replace_all": map[string]any{
					"type": "boolean",
					"description": "Replace every occurrence instead of requiring a unique match. Default: false",
				},
			},
			"required": []string{"path", "old_string", "new_string"},
		},
		Execute: func(ctx context.Context, tc *Context, input map[string]any) (*Result, error) {
			path, _ := input["path"].(string)
			oldString, _ := input["old_string"].(string)
			newString, _ := input["new_string"].(string)
			replaceAll, _ := input["replace_all"].(bool)

			if path == "" || oldString == "" {
				return &Result{Output: "Error: path and old_string are required", IsError: true}, nil
			}
			path = resolvePath(tc, path)
			if abs, err := filepath.Abs(path); err == nil {
				path = abs
			}

			data, err := os.ReadFile(path)
			if err != nil {
				return &Result{Output: fmt.Sprintf("Error reading %s: %v", path, err), IsError: true}, nil
			}
			content := string(data)

			count := strings.Count(content, oldString)
			if count == 0 {
				return &Result{Output: fmt.Sprintf("Error: old_string not found in %s", path), IsError: true}, nil
			}
			if count > 1 && !replaceAll {
				return &Result{
					Output: fmt.Sprintf("Error: old_string matches %d locations in %s; pass replace_all=true or narrow the match", count, path),
					IsError: true,
				}, nil
			}

			firstIdx := strings.Index(content, oldString)
			replacements := 1
			var newContent string
			if replaceAll {
				newContent = strings.ReplaceAll(content, oldString, newString)
				replacements = count
			} else {
				newContent = content[:firstIdx] + newString + content[firstIdx+len(oldString):]
			}

			if err := os.WriteFile(path, []byte(newContent), 0644); err != nil {
				return &Result{Output: fmt.Sprintf("Error writing %s: %v", path, err), IsError: true}, nil
			}

			oldLines := strings.Count(content, "\n") + 1
			newLines := strings.Count(newContent, "\n") + 1
			delta := newLines - oldLines

			noun := "occurrences"
			if replacements == 1 {
				noun = "occurrence"
			}
			summary := fmt.Sprintf(
				"Edited %s: replaced %d %s, net line delta %+d\n\n%s",
				path, replacements, noun, delta, contextDiff(content, firstIdx, oldString, newString),
			)

			return &Result{
				Output: summary,
				Diff: &DiffSummary{OldContent: oldString, NewContent: newString, FilePath: path},
			}, nil
		},
	}
}

// contextDiff renders ±3 lines of context around the first replacement
// site, per this design.
func contextDiff(original string, firstIdx int, oldString, newString string) string {
	lineOfIdx := func(s string, idx int) int {
		return strings.Count(s[:idx], "\n")
	}
	line := lineOfIdx(original, firstIdx)

	oldLines := strings.Split(original, "\n")
	start := line - 3
	if start < 0 {
		start = 0
	}
	end := line + strings.Count(oldString, "\n") + 3
	if end > len(oldLines)-1 {
		end = len(oldLines) - 1
	}

	var b strings.Builder
	newFirstLines := strings.Split(newString, "\n")
	for i := start; i <= end && i < len(oldLines); i++ {
		prefix := " "
		if i == line {
			prefix = "- "
		}
		b.WriteString(prefix + strconv.Itoa(i+1) + " | " + oldLines[i] + "\n")
		if i == line {
			for _, nl := range newFirstLines {
				b.WriteString("+ | " + nl + "\n")
			}
		}
	}
	return b.String()
}
