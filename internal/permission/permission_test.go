package permission

import (
	"testing"

	"github.com/walidabualafia/caretforge/internal/safety"
)

func TestReadFileAlwaysAllowed(t *testing.T) {
	m := NewManager(false, false, false, nil)
	ok, _ := m.Check("read_file", safety.Safe, "path.txt")
	if !ok {
		t.Fatal("read_file must always be allowed")
	}
}

func TestUnknownToolAlwaysDenied(t *testing.T) {
	m := NewManager(true, true, true, func(string, string, safety.Tier, bool) (string, error) {
		return "always", nil
	})
	ok, _ := m.Check("delete_everything", safety.Safe, "")
	if ok {
		t.Fatal("unknown tool must be denied even with always flags set")
	}
}

func TestBlockedAlwaysDenied(t *testing.T) {
	m := NewManager(true, true, true, func(string, string, safety.Tier, bool) (string, error) {
		return "always", nil
	})
	ok, reason := m.Check("write_file", safety.Blocked, "/etc/passwd")
	if ok {
		t.Fatalf("blocked write must be denied even with --allow-write set, got allowed (%s)", reason)
	}
}

func TestNonInteractiveNoAlwaysDenied(t *testing.T) {
	m := NewManager(false, false, false, nil)
	if ok, _ := m.Check("exec_shell", safety.Safe, "ls"); ok {
		t.Fatal("non-interactive session with no always flag must deny safe exec_shell")
	}
	if ok, _ := m.Check("exec_shell", safety.Mutating, "npm install"); ok {
		t.Fatal("non-interactive session with no always flag must deny mutating exec_shell")
	}
}

func TestAlwaysShellBypassesPromptForSafeAndMutating(t *testing.T) {
	m := NewManager(true, false, false, nil)
	if ok, _ := m.Check("exec_shell", safety.Safe, "ls"); !ok {
		t.Fatal("alwaysShell should allow safe commands without prompting")
	}
	if ok, _ := m.Check("exec_shell", safety.Mutating, "npm install"); !ok {
		t.Fatal("alwaysShell should allow mutating commands without prompting")
	}
}

func TestDestructiveNeverBypassedByAlways(t *testing.T) {
	asked := false
	m := NewManager(true, true, true, func(tool, detail string, tier safety.Tier, allowAlways bool) (string, error) {
		asked = true
		if allowAlways {
			t.Error("destructive prompt must not offer \"always\"")
		}
		return "y", nil
	})
	ok, _ := m.Check("exec_shell", safety.Destructive, "sudo reboot")
	if !ok {
		t.Fatal("expected allow after explicit yes")
	}
	if !asked {
		t.Fatal("destructive tier must always prompt even when alwaysShell is set")
	}
}

func TestDestructiveNonInteractiveDenied(t *testing.T) {
	m := NewManager(true, true, false, nil)
	ok, _ := m.Check("exec_shell", safety.Destructive, "sudo reboot")
	if ok {
		t.Fatal("destructive action must be denied without an interactive terminal")
	}
}

func TestPromptAnswers(t *testing.T) {
	cases := []struct {
		answer string
		want   bool
	}{
		{"", true},
		{"y", true},
		{"yes", true},
		{"Y", true},
		{"a", true},
		{"always", true},
		{"n", false},
		{"no", false},
		{"anything else", false},
	}
	for _, c := range cases {
		m := NewManager(false, false, true, func(string, string, safety.Tier, bool) (string, error) {
			return c.answer, nil
		})
		ok, _ := m.Check("write_file", safety.Mutating, "out.txt")
		if ok != c.want {
			t.Errorf("answer %q: got allowed=%v, want %v", c.answer, ok, c.want)
		}
	}
}

func TestAlwaysFlagSetByApproval(t *testing.T) {
	m := NewManager(false, false, true, func(string, string, safety.Tier, bool) (string, error) {
		return "always", nil
	})
	ok, _ := m.Check("exec_shell", safety.Safe, "ls")
	if !ok {
		t.Fatal("expected allow")
	}
	if !m.alwaysShell {
		t.Fatal("expected alwaysShell to be set after an \"always\" approval")
	}
	// Subsequent checks should no longer need the prompt.
	m.prompt = nil
	ok, _ = m.Check("exec_shell", safety.Mutating, "npm ci")
	if !ok {
		t.Fatal("alwaysShell should now bypass the prompt entirely")
	}
}

func TestIsGated(t *testing.T) {
	for _, name := range []string{"write_file", "edit_file", "exec_shell"} {
		if !IsGated(name) {
			t.Errorf("%s should be gated", name)
		}
	}
	if IsGated("read_file") {
		t.Error("read_file should not be gated")
	}
}
