// Package tool implements CaretForge's six fixed tool executors and the
// registry that dispatches to them. Grounded on dcode's
// internal/tool/tool.go (Def/Registry/Context shape), trimmed from
// dcode's ~20 built-in tools down to exactly the six this design names,
// and from its DiffData/FileAttachment machinery down to what those six
// tools actually need (no multi-file attachments, no per-message/session
// ids — see DESIGN.md for the drop justification of the other fourteen).
package tool

import (
	"context"
	"fmt"
	"sync"
)

// Result is what an executor returns.
type Result struct {
	Output string
	IsError bool
	Diff *DiffSummary
}

// DiffSummary carries enough information to render a before/after change;
// populated by edit_file (and by write_file when it overwrites an existing
// file).
type DiffSummary struct {
	OldContent string
	NewContent string
	FilePath string
}

// Context carries the per-call state an executor needs. WorkDir anchors
// relative paths.
type Context struct {
	WorkDir string
}

// Def defines one tool: its name, description, JSON-schema parameters, and
// the function that executes it.
type Def struct {
	Name string
	Description string
	Parameters map[string]any
	Execute func(ctx context.Context, tc *Context, input map[string]any) (*Result, error)
}

// Registry holds the fixed tool-definition set. The set is fixed at build
// time : NewRegistry always registers exactly the six tools.
type Registry struct {
	mu sync.RWMutex
	tools map[string]*Def
}

// NewRegistry builds a Registry with all six tools registered.
func NewRegistry() *Registry {
	r := &Registry{tools: make(map[string]*Def)}
	for _, def := range []*Def{
		ReadTool(),
		WriteTool(),
		EditTool(),
		ExecShellTool(),
		GrepSearchTool(),
		GlobFindTool(),
	} {
		r.tools[def.Name] = def
	}
	return r
}

// Get retrieves a tool definition by name.
func (r *Registry) Get(name string) (*Def, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.tools[name]
	return d, ok
}

// Definitions returns all tool definitions, for handing to a provider.
func (r *Registry) Definitions() []*Def {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Def, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	return out
}

// Execute runs a tool by name. An unknown tool name produces an error
// result rather than a Go error, matching dcode's Registry.Execute
// and letting the agent loop feed the failure back to the model as an
// ordinary tool message.
func (r *Registry) Execute(ctx context.Context, tc *Context, name string, input map[string]any) (*Result, error) {
	def, ok := r.Get(name)
	if !ok {
		return &Result{Output: fmt.Sprintf("Unknown tool: %s", name), IsError: true}, nil
	}
	return def.Execute(ctx, tc, input)
}
