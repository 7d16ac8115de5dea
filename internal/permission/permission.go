// Package permission implements CaretForge's session-scoped approval state
// machine. It is grounded on dcode's internal/permission/engine.go —
// specifically its "release the lock before blocking on the interactive
// prompt" concurrency pattern — but restructured from dcode's 3-mode
// (auto/prompt/deny) + per-action-override Engine down to the exact
// two-boolean {alwaysWrite, alwaysShell} session model this design
// requires. engine.go and ruleset.go, whose glob/regex rule-table design
// this package no longer needs (the classification itself now lives in
// internal/safety), were folded into this one file; see DESIGN.md.
package permission

import (
	"fmt"
	"strings"
	"sync"

	"github.com/walidabualafia/caretforge/internal/safety"
)

// PromptFunc asks the user a yes/no/always question and returns their raw
// answer (not yet interpreted). It is supplied by the REPL driver; tests
// supply a canned one.
type PromptFunc func(toolName, detail string, tier safety.Tier, allowAlways bool) (answer string, err error)

// Manager holds the two-boolean session state described in this design.
// Both flags start from CLI flags and are monotonically flipped true by
// user approval; neither is ever cleared within a session or persisted to
// disk.
type Manager struct {
	mu sync.Mutex

	alwaysWrite bool
	alwaysShell bool

	interactive bool
	prompt PromptFunc
}

// gatedTools are the tool names whose calls require a permission check; see
// this design.
var gatedTools = map[string]bool{
	"write_file": true,
	"edit_file": true,
	"exec_shell": true,
}

// IsGated reports whether a tool name is in the gated set.
func IsGated(toolName string) bool { return gatedTools[toolName] }

// NewManager builds a Manager. allowShell/allowWrite mirror the
// --allow-shell/--allow-write CLI flags ; interactive reports
// whether stdin is a terminal (golang.org/x/term.IsTerminal).
func NewManager(allowShell, allowWrite, interactive bool, prompt PromptFunc) *Manager {
	return &Manager{
		alwaysShell: allowShell,
		alwaysWrite: allowWrite,
		interactive: interactive,
		prompt: prompt,
	}
}

// Check implements the single operation this design names:
// check(toolName, args) -> bool. tier is the safety verdict already computed
// for this call's command or write path by the caller (the agent loop),
// since only the caller knows which field of args to classify.
func (m *Manager) Check(toolName string, tier safety.Tier, detail string) (bool, string) {
	switch toolName {
	case "read_file":
		return true, "read_file is always allowed"
	case "write_file", "edit_file", "exec_shell":
		return m.checkGated(toolName, tier, detail)
	default:
		return false, fmt.Sprintf("unknown tool %q is always denied", toolName)
	}
}

func (m *Manager) checkGated(toolName string, tier safety.Tier, detail string) (bool, string) {
	if tier == safety.Blocked {
		return false, "blocked: " + detail
	}

	m.mu.Lock()
	always := m.alwaysShellOrWrite(toolName)
	interactive := m.interactive
	m.mu.Unlock()

	if tier == safety.Destructive {
		if !interactive {
			return false, "destructive action denied: no interactive terminal to confirm"
		}
		return m.askAndApply(toolName, tier, detail, false /* always not offered */)
	}

	// Safe or Mutating.
	if always {
		return true, "allowed by session \"always\" flag"
	}
	if !interactive {
		return false, "denied: no interactive terminal to confirm"
	}
	return m.askAndApply(toolName, tier, detail, true)
}

func (m *Manager) alwaysShellOrWrite(toolName string) bool {
	if toolName == "exec_shell" {
		return m.alwaysShell
	}
	return m.alwaysWrite
}

// askAndApply blocks on the PromptFunc. dcode's engine.go releases its
// RWMutex before invoking PromptFunc and reacquires it afterward so other
// readers aren't stalled by a slow human; this Manager's mutex only ever
// guards the two booleans and is never held across the prompt call, which
// achieves the same non-blocking-of-other-state property more directly.
func (m *Manager) askAndApply(toolName string, tier safety.Tier, detail string, allowAlways bool) (bool, string) {
	if m.prompt == nil {
		return false, "no interactive prompt available"
	}
	answer, err := m.prompt(toolName, detail, tier, allowAlways)
	if err != nil {
		return false, fmt.Sprintf("prompt failed: %v", err)
	}
	return m.interpretAnswer(answer, toolName, allowAlways)
}

func (m *Manager) interpretAnswer(answer, toolName string, allowAlways bool) (bool, string) {
	a := strings.ToLower(strings.TrimSpace(answer))
	switch a {
	case "", "y", "yes":
		return true, "approved once by user"
	case "a", "always":
		if !allowAlways {
			return false, "\"always\" is not offered for destructive actions; denied"
		}
		m.mu.Lock()
		if toolName == "exec_shell" {
			m.alwaysShell = true
		} else {
			m.alwaysWrite = true
		}
		m.mu.Unlock()
		return true, "approved and session \"always\" flag set"
	default:
		return false, "denied by user"
	}
}
