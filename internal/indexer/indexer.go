// Package indexer implements CaretForge's File Indexer: git-
// backed (or walked) file discovery, text/size/ignore filtering, @path
// prompt expansion, and @-prefix tab completion. It has no direct prior
// precedent — dcode's internal/tui/autocomplete.go only lists one
// directory at a time for its @-picker UI, not a recursive project index
// — so this package is authored fresh in dcode's general
// filesystem-walking idiom (os.ReadDir/filepath.Walk, context-bounded
// exec.Command calls, plain struct-returning functions with no global
// state), using github.com/gobwas/glob for ignore-pattern matching, the
// same library dcode's internal/permission/ruleset.go used for its
// rule globs. File classification (stat + size + text-type checks) runs
// over a bounded golang.org/x/sync/errgroup worker pool since each
// candidate's checks are independent I/O.
package indexer

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/gobwas/glob"
	"golang.org/x/sync/errgroup"
)

const (
	maxFileSize = 1 << 20 // 1 MiB, skip anything larger
	maxDepth = 4 // walk mode only
	maxFiles = 5000
	totalDeadline = 10 * time.Second
	gitListDeadline = 10 * time.Second

	maxContentBytes = 256 << 10 // 256 KiB, expansion budget
	maxLineChars = 2000
	maxTotalLines = 2000

	classifyWorkers = 32 // bounded os.Stat concurrency during Build
)

// DiscoveryMethod records how the index was built.
type DiscoveryMethod string

const (
	MethodGit DiscoveryMethod = "git"
	MethodWalk DiscoveryMethod = "walk"
)

// Counters reports why candidates were excluded from the index.
type Counters struct {
	SkippedBinary int
	SkippedLarge int
	SkippedIgnored int
	TimedOut bool
	Method DiscoveryMethod
}

// Index is a read-only snapshot of a project's indexable text files,
// built once and never mutated afterward.
type Index struct {
	Root string
	Files []string // root-relative, slash-separated
	Counters Counters
}

var ignoredWalkDirs = map[string]bool{
	"node_modules": true, ".git": true, "dist": true, "build": true,
	"target": true, "venv": true, ".venv": true, "__pycache__": true,
	".next": true, ".cache": true, "vendor": true, ".idea": true, ".vscode": true,
}

// textExtensions is the whitelist of ~120 extensions covering the source, markup, and config languages a
// coding agent is likely to reference.
var textExtensions = map[string]bool{}

func init() {
	exts := []string{
		".go", ".mod", ".sum", ".py", ".pyi", ".rb", ".rs", ".c", ".h", ".cc", ".cpp", ".hpp",
		".cs", ".java", ".kt", ".kts", ".scala", ".swift", ".m", ".mm", ".php", ".pl", ".pm",
		".lua", ".sh", ".bash", ".zsh", ".fish", ".ps1", ".bat", ".cmd",
		".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".vue", ".svelte",
		".html", ".htm", ".css", ".scss", ".sass", ".less",
		".json", ".jsonc", ".json5", ".yaml", ".yml", ".toml", ".ini", ".cfg", ".conf",
		".xml", ".xsd", ".xsl", ".proto", ".graphql", ".gql", ".sql",
		".md", ".markdown", ".rst", ".txt", ".adoc", ".tex",
		".env", ".editorconfig", ".gitignore", ".gitattributes", ".dockerignore",
		".dockerfile", ".makefile", ".mk", ".cmake", ".gradle", ".properties",
		".csv", ".tsv", ".diff", ".patch", ".svg", ".tf", ".tfvars", ".hcl",
		".el", ".clj", ".cljs", ".cljc", ".ex", ".exs", ".erl", ".hrl", ".hs", ".elm",
		".dart", ".r", ".jl", ".nim", ".zig", ".v", ".vim", ".asm", ".s",
		".htaccess", ".babelrc", ".eslintrc", ".prettierrc", ".npmrc", ".nvmrc",
		".license", ".lock", ".plist", ".rules", ".cfg", ".pem", ".crt",
	}
	for _, e := range exts {
		textExtensions[e] = true
	}
}

var textBasenames = map[string]bool{
	"Makefile": true, "Dockerfile": true, "LICENSE": true, "LICENSE.md": true,
	"README": true, "README.md": true, "CHANGELOG": true, "CHANGELOG.md": true,
	"Gemfile": true, "Rakefile": true, "Procfile": true, "Vagrantfile": true,
	"CMakeLists.txt": true, "go.mod": true, "go.sum": true, "CONTRIBUTING.md": true,
	".gitignore": true, ".gitattributes": true, ".dockerignore": true, ".env": true,
	".editorconfig": true,
}

// isTextLikely reports whether a path looks like a text file worth indexing.
func isTextLikely(path string) bool {
	base := filepath.Base(path)
	if textBasenames[base] {
		return true
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ext != "" && textExtensions[ext]
}

// ignoreRule is one compiled line from.caretforgeignore.
type ignoreRule struct {
	dirPrefix string // set when the line ended in "/"
	glob glob.Glob
	raw string
}

func loadIgnoreRules(root string) []ignoreRule {
	data, err := os.ReadFile(filepath.Join(root, ".caretforgeignore"))
	if err != nil {
		return nil
	}
	var rules []ignoreRule
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasSuffix(line, "/") {
			rules = append(rules, ignoreRule{dirPrefix: strings.TrimSuffix(line, "/")})
			continue
		}
		g, err := glob.Compile(line)
		if err != nil {
			continue
		}
		rules = append(rules, ignoreRule{glob: g, raw: line})
	}
	return rules
}

// matchesIgnore implements ignore-pattern matching: exact name, "prefix/"
// directory, "*.ext" suffix, or basename match.
func matchesIgnore(rules []ignoreRule, relPath string) bool {
	base := filepath.Base(relPath)
	for _, r := range rules {
		if r.dirPrefix != "" {
			if relPath == r.dirPrefix || strings.HasPrefix(relPath, r.dirPrefix+"/") {
				return true
			}
			continue
		}
		if r.raw == base || r.raw == relPath {
			return true
		}
		if r.glob != nil && (r.glob.Match(base) || r.glob.Match(relPath)) {
			return true
		}
	}
	return false
}

// classification is the per-candidate outcome of the stat/size/text-type
// checks, computed off the critical path by classifyAll's worker pool.
type classification struct {
	rel    string
	ignored bool
	large  bool
	binary bool
	statErr bool
}

// Build constructs an Index for root, applying discovery, ignore-filter,
// and global-limit rules.
func Build(ctx context.Context, root string) (*Index, error) {
	deadline := time.Now().Add(totalDeadline)
	buildCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	idx := &Index{Root: root}
	rules := loadIgnoreRules(root)

	candidates, method, err := discover(buildCtx, root)
	idx.Counters.Method = method
	if err != nil {
		return nil, err
	}

	results := classifyAll(buildCtx, root, rules, candidates)

	for i, rel := range candidates {
		if time.Now().After(deadline) {
			idx.Counters.TimedOut = true
			break
		}
		if len(idx.Files) >= maxFiles {
			break
		}
		c := results[i]
		switch {
		case c.ignored:
			idx.Counters.SkippedIgnored++
		case c.statErr:
			// unreadable between discovery and stat; silently dropped
		case c.large:
			idx.Counters.SkippedLarge++
		case c.binary:
			idx.Counters.SkippedBinary++
		default:
			idx.Files = append(idx.Files, rel)
		}
	}

	sort.Strings(idx.Files)
	return idx, nil
}

// classifyAll runs the stat/size/text-type check for every candidate
// concurrently, bounded to classifyWorkers in flight, and returns results
// aligned by index with candidates so Build can apply them in discovery
// order (preserving the maxFiles/timeout early-exit semantics, which
// depend on that order, while overlapping the per-file syscalls).
func classifyAll(ctx context.Context, root string, rules []ignoreRule, candidates []string) []classification {
	results := make([]classification, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(classifyWorkers)

	for i, rel := range candidates {
		i, rel := i, filepath.ToSlash(rel)
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			c := classification{rel: rel}
			if matchesIgnore(rules, rel) {
				c.ignored = true
				results[i] = c
				return nil
			}
			info, err := os.Stat(filepath.Join(root, rel))
			if err != nil {
				c.statErr = true
				results[i] = c
				return nil
			}
			if info.Size() > maxFileSize {
				c.large = true
			} else if !isTextLikely(rel) {
				c.binary = true
			}
			results[i] = c
			return nil
		})
	}
	_ = g.Wait() // worker errors are impossible here; every branch returns nil
	return results
}

// discover runs `git ls-files` with a 10s ceiling; on failure or a
// non-git root, it falls back to a depth-first walk.
func discover(ctx context.Context, root string) ([]string, DiscoveryMethod, error) {
	gitCtx, cancel := context.WithTimeout(ctx, gitListDeadline)
	defer cancel()

	cmd := exec.CommandContext(gitCtx, "git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	out, err := cmd.Output()
	if err == nil {
		lines := strings.Split(strings.TrimSpace(string(out)), "\n")
		files := make([]string, 0, len(lines))
		for _, l := range lines {
			if l != "" {
				files = append(files, l)
			}
		}
		return files, MethodGit, nil
	}

	files, err := walk(root)
	return files, MethodWalk, err
}

// walk performs the walk-mode-only filtering:
// build/dep and hidden directories skipped, symlinks resolved with cycle
// detection via a visited-real-path set, non-regular files skipped, and
// a max depth of 4.
func walk(root string) ([]string, error) {
	visited := make(map[string]bool)
	var files []string

	var walkDir func(dir string, depth int) error
	walkDir = func(dir string, depth int) error {
		if depth > maxDepth {
			return nil
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil
		}
		for _, e := range entries {
			name := e.Name()
			full := filepath.Join(dir, name)

			if e.Type()&fs.ModeSymlink != 0 {
				real, err := filepath.EvalSymlinks(full)
				if err != nil {
					continue
				}
				if visited[real] {
					continue
				}
				visited[real] = true
				info, err := os.Stat(real)
				if err != nil {
					continue
				}
				if info.IsDir() {
					if err := walkDir(full, depth+1); err != nil {
						return err
					}
					continue
				}
				if !info.Mode().IsRegular() {
					continue
				}
				rel, _ := filepath.Rel(root, full)
				files = append(files, rel)
				if len(files) >= maxFiles {
					return nil
				}
				continue
			}

			if e.IsDir() {
				if strings.HasPrefix(name, ".") || ignoredWalkDirs[name] {
					continue
				}
				if err := walkDir(full, depth+1); err != nil {
					return err
				}
				continue
			}

			info, err := e.Info()
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
			rel, _ := filepath.Rel(root, full)
			files = append(files, rel)
			if len(files) >= maxFiles {
				return nil
			}
		}
		return nil
	}

	if err := walkDir(root, 0); err != nil {
		return files, err
	}
	return files, nil
}

// Has reports whether rel (slash-separated, root-relative) is in the
// index.
func (idx *Index) Has(rel string) bool {
	for _, f := range idx.Files {
		if f == rel {
			return true
		}
	}
	return false
}

// Completions returns every indexed path starting with prefix, for
// @-tab-completion.
func (idx *Index) Completions(prefix string) []string {
	var out []string
	for _, f := range idx.Files {
		if strings.HasPrefix(f, prefix) {
			out = append(out, f)
		}
	}
	sort.Strings(out)
	return out
}

var atTokenPattern = regexp.MustCompile(`@([^\s@]+)`)
var atSuffixPattern = regexp.MustCompile(`@([^\s@]*)$`)

// TabComplete implements this tab-completion rule: if line ends
// with "@prefix" (no whitespace after the @), return the matching
// indexed paths, each re-prefixed with "@".
func (idx *Index) TabComplete(line string) []string {
	m := atSuffixPattern.FindStringSubmatch(line)
	if m == nil {
		return nil
	}
	var out []string
	for _, c := range idx.Completions(m[1]) {
		out = append(out, "@"+c)
	}
	return out
}

// FileReference describes one @path expansion performed on a prompt.
type FileReference struct {
	Path string
	Content string // the text actually inlined, after any truncation
	OriginalSize int // the file's size on disk, before truncation
	Truncated bool
}

// Expand implements this reference expansion: every @path token with a
// text-like name is read directly from root (idx is not consulted, so a
// path outside the index is expanded too), non-text paths are skipped,
// remaining files are read under the content/line caps, and an
// enriched prompt is produced with each expanded block preamble followed
// by the original prompt with its @path tokens rewritten to bare paths.
func Expand(idx *Index, root, prompt string) (string, []FileReference) {
	matches := atTokenPattern.FindAllStringSubmatchIndex(prompt, -1)
	if len(matches) == 0 {
		return prompt, nil
	}

	var refs []FileReference
	var blocks []string
	stripped := prompt

	for _, m := range matches {
		path := prompt[m[2]:m[3]]
		if !isTextLikely(path) {
			continue
		}
		full := filepath.Join(root, path)
		data, err := os.ReadFile(full)
		if err != nil {
			continue
		}
		originalSize := len(data)

		truncated := false
		if len(data) > maxContentBytes {
			data = data[:maxContentBytes]
			truncated = true
		}
		content := capLines(string(data), &truncated)

		blocks = append(blocks, fmt.Sprintf("[File: %s]\n%s", path, content))
		refs = append(refs, FileReference{Path: path, Content: content, OriginalSize: originalSize, Truncated: truncated})
		stripped = strings.Replace(stripped, "@"+path, path, 1)
	}

	if len(blocks) == 0 {
		return prompt, nil
	}

	enriched := strings.Join(blocks, "\n\n") + "\n\n…\n\n" + stripped
	return enriched, refs
}

// capLines truncates each line to maxLineChars (appending "…") and the
// whole content to maxTotalLines.
func capLines(content string, truncated *bool) string {
	lines := strings.Split(content, "\n")
	if len(lines) > maxTotalLines {
		lines = lines[:maxTotalLines]
		*truncated = true
	}
	for i, l := range lines {
		if len(l) > maxLineChars {
			lines[i] = l[:maxLineChars] + "…"
			*truncated = true
		}
	}
	return strings.Join(lines, "\n")
}
