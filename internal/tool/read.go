package tool

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sahilm/fuzzy"
)

// ReadTool reads a whole file as UTF-8 text. Always allowed.
//
// Grounded on dcode's internal/tool/read.go, trimmed of its
// offset/limit windowing and its image/PDF/binary attachment handling
// (none of which this design's read_file calls for) and enriched with dcode's
// similar-filename suggestion on a not-found error — reimplemented against
// github.com/sahilm/fuzzy instead of dcode's hand-rolled substring
// check, since it gives better suggestions for typos, not just prefixes.
func ReadTool() *Def {
	return &Def{
		Name: "read_file",
		Description: "Read the entire contents of a file as UTF-8 text.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{
					"type": "string",
					"description": "The file path to read",
				},
			},
			"required": []string{"path"},
		},
		Execute: func(ctx context.Context, tc *Context, input map[string]any) (*Result, error) {
			path, _ := input["path"].(string)
			if path == "" {
				return &Result{Output: "Error: path is required", IsError: true}, nil
			}
			path = resolvePath(tc, path)

			data, err := os.ReadFile(path)
			if err != nil {
				if os.IsNotExist(err) {
					return suggestSimilarFile(path), nil
				}
				return &Result{Output: fmt.Sprintf("Error reading %s: %v", path, err), IsError: true}, nil
			}
			return &Result{Output: string(data)}, nil
		},
	}
}

// resolvePath joins a relative path onto the tool context's working
// directory, matching every dcode executor's own resolution rule.
func resolvePath(tc *Context, path string) string {
	if tc != nil && tc.WorkDir != "" && !filepath.IsAbs(path) {
		return filepath.Join(tc.WorkDir, path)
	}
	return path
}

func suggestSimilarFile(path string) *Result {
	dir := filepath.Dir(path)
	entries, err := os.ReadDir(dir)
	msg := fmt.Sprintf("Error reading %s: file does not exist", path)
	if err != nil {
		return &Result{Output: msg, IsError: true}
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	matches := fuzzy.Find(filepath.Base(path), names)
	if len(matches) > 0 {
		limit := 3
		if len(matches) < limit {
			limit = len(matches)
		}
		suggestion := ""
		for i := 0; i < limit; i++ {
			if i > 0 {
				suggestion += ", "
			}
			suggestion += matches[i].Str
		}
		msg += fmt.Sprintf("\nDid you mean: %s", suggestion)
	}
	return &Result{Output: msg, IsError: true}
}
