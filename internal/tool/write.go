package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteTool creates or overwrites a file, creating parent directories as
// needed. Result text is exactly "Wrote {N} lines to {absolute-path}" per
// this design. Grounded on dcode's internal/tool/write.go, trimmed
// of its Created-vs-Updated byte-count message in favor of a
// fixed wording, keeping the diff-capture-before-overwrite behavior.
func WriteTool() *Def {
	return &Def{
		Name: "write_file",
		Description: "Create or overwrite a file with the given content, creating parent directories as needed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type": "string",
					"description": "The file path to write to",
				},
				"content": map[string]any{
					"type": "string",
					"description": "The full content to write to the file",
				},
			},
			"required": []string{"path", "content"},
		},
		Execute: func(ctx context.Context, tc *Context, input map[string]any) (*Result, error) {
			path, _ := input["path"].(string)
			content, _ := input["content"].(string)
			if path == "" {
				return &Result{Output: "Error: path is required", IsError: true}, nil
			}
			path = resolvePath(tc, path)

			dir := filepath.Dir(path)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return &Result{Output: fmt.Sprintf("Error creating directories: %v", err), IsError: true}, nil
			}

			var oldContent string
			existed := false
			if data, err := os.ReadFile(path); err == nil {
				existed = true
				oldContent = string(data)
			}

			if err := os.WriteFile(path, []byte(content), 0644); err != nil {
				return &Result{Output: fmt.Sprintf("Error writing file: %v", err), IsError: true}, nil
			}

			lines := strings.Count(content, "\n") + 1
			abs, err := filepath.Abs(path)
			if err != nil {
				abs = path
			}
			result := &Result{Output: fmt.Sprintf("Wrote %d lines to %s", lines, abs)}
			if existed {
				result.Diff = &DiffSummary{OldContent: oldContent, NewContent: content, FilePath: abs}
			}
			return result, nil
		},
	}
}
