package indexer

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func setupProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	mustWrite := func(rel, content string) {
		full := filepath.Join(dir, rel)
		if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(full, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	mustWrite("main.go", "package main\n\nfunc main() {}\n")
	mustWrite("README.md", "# hello\n")
	mustWrite("node_modules/pkg/index.js", "module.exports = {}\n")
	mustWrite("bin/app.bin", strings.Repeat("x", 10))
	mustWrite(".git/HEAD", "ref: refs/heads/main\n")
	return dir
}

func TestBuildWalkModeFiltersBuildDirs(t *testing.T) {
	dir := setupProject(t)
	idx, err := Build(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, f := range idx.Files {
		if strings.Contains(f, "node_modules") || strings.Contains(f, ".git/") {
			t.Fatalf("expected node_modules/.git to be excluded, found %s", f)
		}
	}
	found := false
	for _, f := range idx.Files {
		if f == "main.go" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected main.go in index, got %v", idx.Files)
	}
}

func TestBuildSkipsLargeFiles(t *testing.T) {
	dir := t.TempDir()
	big := make([]byte, maxFileSize+1)
	if err := os.WriteFile(filepath.Join(dir, "big.go"), big, 0644); err != nil {
		t.Fatal(err)
	}
	idx, err := Build(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Has("big.go") {
		t.Fatal("expected big.go to be excluded for exceeding the 1 MiB cap")
	}
	if idx.Counters.SkippedLarge != 1 {
		t.Fatalf("expected SkippedLarge=1, got %d", idx.Counters.SkippedLarge)
	}
}

func TestBuildSkipsNonTextExtensions(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "photo.png"), []byte("binary"), 0644); err != nil {
		t.Fatal(err)
	}
	idx, err := Build(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Has("photo.png") {
		t.Fatal("expected photo.png to be excluded as non-text")
	}
}

func TestCaretforgeIgnoreExactAndPrefixRules(t *testing.T) {
	dir := t.TempDir()
	for _, rel := range []string{"secret.txt", "scratch/a.go", "keep.go"} {
		full := filepath.Join(dir, rel)
		os.MkdirAll(filepath.Dir(full), 0755)
		os.WriteFile(full, []byte("x"), 0644)
	}
	os.WriteFile(filepath.Join(dir, ".caretforgeignore"), []byte("secret.txt\nscratch/\n"), 0644)

	idx, err := Build(context.Background(), dir)
	if err != nil {
		t.Fatal(err)
	}
	if idx.Has("secret.txt") {
		t.Fatal("expected secret.txt excluded by exact-name ignore rule")
	}
	if idx.Has("scratch/a.go") {
		t.Fatal("expected scratch/ excluded by directory-prefix ignore rule")
	}
	if !idx.Has("keep.go") {
		t.Fatal("expected keep.go to remain indexed")
	}
}

func TestTabCompleteRequiresNoTrailingWhitespace(t *testing.T) {
	idx := &Index{Files: []string{"src/main.go", "src/util.go", "README.md"}}
	got := idx.TabComplete("please check @src/")
	want := []string{"@src/main.go", "@src/util.go"}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("got %v, want %v", got, want)
	}
	if got := idx.TabComplete("please check @src/main.go "); got != nil {
		t.Fatalf("expected no completions after trailing whitespace, got %v", got)
	}
}

func TestExpandRewritesAtPathsAndCapsContent(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha content"), 0644)
	idx := &Index{Root: dir, Files: []string{"a.txt"}}

	enriched, refs := Expand(idx, dir, "please review @a.txt for bugs")
	if len(refs) != 1 || refs[0].Path != "a.txt" {
		t.Fatalf("expected one file reference to a.txt, got %+v", refs)
	}
	if !strings.Contains(enriched, "[File: a.txt]") || !strings.Contains(enriched, "alpha content") {
		t.Fatalf("expected enriched prompt to contain the file block, got %q", enriched)
	}
	if !strings.Contains(enriched, "please review a.txt for bugs") {
		t.Fatalf("expected @a.txt rewritten to bare a.txt in the trailing prompt, got %q", enriched)
	}
}

func TestExpandSkipsNonTextPaths(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "image.png"), []byte("binary"), 0644)
	idx := &Index{Root: dir, Files: []string{"image.png"}}

	enriched, refs := Expand(idx, dir, "see @image.png")
	if refs != nil {
		t.Fatalf("expected no file references for a non-text extension, got %+v", refs)
	}
	if enriched != "see @image.png" {
		t.Fatalf("expected prompt unchanged, got %q", enriched)
	}
}

func TestExpandCapsLineLength(t *testing.T) {
	dir := t.TempDir()
	longLine := strings.Repeat("a", maxLineChars+100)
	os.WriteFile(filepath.Join(dir, "long.go"), []byte(longLine), 0644)
	idx := &Index{Root: dir, Files: []string{"long.go"}}

	enriched, refs := Expand(idx, dir, "check @long.go")
	if len(refs) != 1 || !refs[0].Truncated {
		t.Fatalf("expected truncation flagged, got %+v", refs)
	}
	if !strings.Contains(enriched, strings.Repeat("a", maxLineChars)+"…") {
		t.Fatalf("expected truncated line to carry an ellipsis marker")
	}
}
