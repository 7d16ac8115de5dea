package agent

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/walidabualafia/caretforge/internal/message"
	"github.com/walidabualafia/caretforge/internal/provider"
	"github.com/walidabualafia/caretforge/internal/safety"
	"github.com/walidabualafia/caretforge/internal/tool"
)

// mockProvider returns one queued message.Message per call to
// CreateChatCompletion, in order, for scenario-driven tests.
type mockProvider struct {
	turns []message.Message
	calls int
}

func (m *mockProvider) Name() string { return "mock" }
func (m *mockProvider) SupportsTools() bool { return true }
func (m *mockProvider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (m *mockProvider) CreateChatCompletion(ctx context.Context, messages []message.Message, opts provider.Options) (*provider.CompletionResult, error) {
	if m.calls >= len(m.turns) {
		return &provider.CompletionResult{Message: message.Message{Role: message.RoleAssistant, Content: "done"}}, nil
	}
	msg := m.turns[m.calls]
	m.calls++
	return &provider.CompletionResult{Message: msg, FinishReason: "stop"}, nil
}

func (m *mockProvider) CreateStreamingChatCompletion(ctx context.Context, messages []message.Message, opts provider.Options, emit provider.EmitFunc) error {
	res, err := m.CreateChatCompletion(ctx, messages, opts)
	if err != nil {
		return err
	}
	if res.Message.Content != "" {
		if err := emit(provider.StreamChunk{Delta: provider.Delta{Content: res.Message.Content}}); err != nil {
			return err
		}
	}
	for i, tc := range res.Message.ToolCalls {
		if err := emit(provider.StreamChunk{Delta: provider.Delta{ToolCalls: []provider.ToolCallDelta{
			{Index: i, ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments},
		}}}); err != nil {
			return err
		}
	}
	return nil
}

// loopingProvider always returns a fresh tool call, for the iteration-cap
// scenario.
type loopingProvider struct{ n int }

func (p *loopingProvider) Name() string { return "looping" }
func (p *loopingProvider) SupportsTools() bool { return true }
func (p *loopingProvider) ListModels(ctx context.Context) ([]provider.ModelInfo, error) {
	return nil, nil
}

func (p *loopingProvider) CreateChatCompletion(ctx context.Context, messages []message.Message, opts provider.Options) (*provider.CompletionResult, error) {
	p.n++
	return &provider.CompletionResult{Message: message.Message{
		Role: message.RoleAssistant,
		ToolCalls: []message.ToolCall{
			{ID: "call", Name: "read_file", Arguments: `{"path":"missing.txt"}`},
		},
	}}, nil
}

func (p *loopingProvider) CreateStreamingChatCompletion(ctx context.Context, messages []message.Message, opts provider.Options, emit provider.EmitFunc) error {
	res, _ := p.CreateChatCompletion(ctx, messages, opts)
	for i, tc := range res.Message.ToolCalls {
		emit(provider.StreamChunk{Delta: provider.Delta{ToolCalls: []provider.ToolCallDelta{
			{Index: i, ID: tc.ID, Name: tc.Name, Arguments: tc.Arguments},
		}}})
	}
	return nil
}

func newRegistry(workDir string) (*tool.Registry, *tool.Context) {
	return tool.NewRegistry(), &tool.Context{WorkDir: workDir}
}

func TestRunPlainTurnNoToolCalls(t *testing.T) {
	prov := &mockProvider{turns: []message.Message{
		{Role: message.RoleAssistant, Content: "hello"},
	}}
	reg, tc := newRegistry(t.TempDir())

	res, err := Run(context.Background(), []message.Message{{Role: message.RoleUser, Content: "hi"}}, prov, "mock-model", false, reg, tc, Callbacks{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.ToolCallCount != 0 {
		t.Fatalf("expected 0 tool calls, got %d", res.ToolCallCount)
	}
	if res.FinalContent != "hello" {
		t.Fatalf("expected finalContent %q, got %q", "hello", res.FinalContent)
	}
	if len(res.Conversation.Messages) != 3 {
		t.Fatalf("expected 3 messages (system,user,assistant), got %d", len(res.Conversation.Messages))
	}
	if res.ID == "" {
		t.Fatal("expected a non-empty turn id")
	}
}

func TestRunOneToolCall(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"path": "package.json"})
	prov := &mockProvider{turns: []message.Message{
		{
			Role: message.RoleAssistant,
			ToolCalls: []message.ToolCall{
				{ID: "call_1", Name: "read_file", Arguments: string(args)},
			},
		},
		{Role: message.RoleAssistant, Content: "version 0.1.0"},
	}}
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"version":"0.1.0"}`), 0644); err != nil {
		t.Fatal(err)
	}
	reg, tc := newRegistry(dir)

	var gotToolCall message.ToolCall
	var gotResult string
	res, err := Run(context.Background(), []message.Message{{Role: message.RoleUser, Content: "read package.json"}}, prov, "mock-model", false, reg, tc, Callbacks{
		OnToolCall: func(tc message.ToolCall) { gotToolCall = tc },
		OnToolResult: func(tc message.ToolCall, result string, isError bool) { gotResult = result },
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.ToolCallCount != 1 {
		t.Fatalf("expected 1 tool call, got %d", res.ToolCallCount)
	}
	if gotToolCall.Name != "read_file" {
		t.Fatalf("expected onToolCall to fire for read_file, got %q", gotToolCall.Name)
	}
	if gotResult == "" {
		t.Fatal("expected onToolResult to carry the file contents")
	}
	toolMsg := res.Conversation.Messages[3]
	if toolMsg.Role != message.RoleTool || toolMsg.ToolCallID != "call_1" {
		t.Fatalf("expected messages[3] to be the tool result for call_1, got %+v", toolMsg)
	}
	if res.FinalContent != "version 0.1.0" {
		t.Fatalf("expected finalContent %q, got %q", "version 0.1.0", res.FinalContent)
	}
}

func TestRunPermissionDenial(t *testing.T) {
	args, _ := json.Marshal(map[string]string{"path": "hello.py", "content": "print(1)"})
	prov := &mockProvider{turns: []message.Message{
		{
			Role: message.RoleAssistant,
			ToolCalls: []message.ToolCall{
				{ID: "call_1", Name: "write_file", Arguments: string(args)},
			},
		},
		{Role: message.RoleAssistant, Content: "ok, skipping the write"},
	}}
	dir := t.TempDir()
	reg, tc := newRegistry(dir)

	res, err := Run(context.Background(), []message.Message{{Role: message.RoleUser, Content: "create hello.py"}}, prov, "mock-model", false, reg, tc, Callbacks{
		OnPermissionRequest: func(message.ToolCall, safety.Tier, string) bool { return false },
	})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "hello.py")); !os.IsNotExist(err) {
		t.Fatal("hello.py should not have been created after a permission denial")
	}
	toolMsg := res.Conversation.Messages[3]
	if toolMsg.Content != "Permission denied by user." {
		t.Fatalf("expected denial message, got %q", toolMsg.Content)
	}
	if res.FinalContent != "ok, skipping the write" {
		t.Fatalf("expected the next turn's text as finalContent, got %q", res.FinalContent)
	}
}

func TestClassifyTagsBlockedWritePath(t *testing.T) {
	tier, path := classify("write_file", map[string]any{"path": "/etc/passwd", "content": "x"})
	if tier != safety.Blocked {
		t.Fatalf("expected /etc/passwd to classify as blocked, got %s", tier)
	}
	if path != "/etc/passwd" {
		t.Fatalf("expected classify to surface the path as detail, got %q", path)
	}
}

func TestClassifyTagsDestructiveCommand(t *testing.T) {
	tier, _ := classify("exec_shell", map[string]any{"command": "sudo rm -rf /tmp/x"})
	if tier != safety.Destructive {
		t.Fatalf("expected destructive tier, got %s", tier)
	}
}

func TestRunIterationCap(t *testing.T) {
	prov := &loopingProvider{}
	reg, tc := newRegistry(t.TempDir())

	res, err := Run(context.Background(), []message.Message{{Role: message.RoleUser, Content: "loop forever"}}, prov, "mock-model", false, reg, tc, Callbacks{})
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if res.FinalContent != MaxIterationsText {
		t.Fatalf("expected iteration-cap text, got %q", res.FinalContent)
	}
	if res.ToolCallCount != MaxIterations {
		t.Fatalf("expected %d tool calls, got %d", MaxIterations, res.ToolCallCount)
	}
}
