package provider

import (
	"testing"

	"github.com/walidabualafia/caretforge/internal/message"
)

func TestAssemblerReassemblesByFirstSeenOrder(t *testing.T) {
	a := NewAssembler()
	a.Add(ToolCallDelta{Index: 0, ID: "call_1", Name: "read_"})
	a.Add(ToolCallDelta{Index: 1, ID: "call_2", Name: "write_file"})
	a.Add(ToolCallDelta{Index: 0, Name: "file", Arguments: `{"path":`})
	a.Add(ToolCallDelta{Index: 0, Arguments: `"a.txt"}`})

	calls := a.ToolCalls()
	if len(calls) != 2 {
		t.Fatalf("expected 2 tool calls, got %d", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].Name != "read_file" || calls[0].Arguments != `{"path":"a.txt"}` {
		t.Fatalf("unexpected first tool call: %+v", calls[0])
	}
	if calls[1].ID != "call_2" || calls[1].Name != "write_file" {
		t.Fatalf("unexpected second tool call: %+v", calls[1])
	}
}

func TestAssemblerFirstNonEmptyIDWins(t *testing.T) {
	a := NewAssembler()
	a.Add(ToolCallDelta{Index: 0, Name: "ex"})
	a.Add(ToolCallDelta{Index: 0, ID: "call_later", Name: "ec_shell"})
	a.Add(ToolCallDelta{Index: 0, ID: "call_ignored"})
	calls := a.ToolCalls()
	if calls[0].ID != "call_later" {
		t.Fatalf("expected the first non-empty id to stick, got %q", calls[0].ID)
	}
	if calls[0].Name != "exec_shell" {
		t.Fatalf("expected concatenated name, got %q", calls[0].Name)
	}
}

func TestClassifyErrorContextOverflow(t *testing.T) {
	ce := ClassifyError(errString("maximum context length exceeded"), 400, "")
	if ce.Type != ErrorTypeContextOverflow {
		t.Fatalf("expected context overflow, got %s", ce.Type)
	}
	if ce.IsRetryable {
		t.Fatal("context overflow should not be retryable")
	}
}

func TestClassifyErrorRateLimit(t *testing.T) {
	ce := ClassifyError(errString("slow down"), 429, "")
	if ce.Type != ErrorTypeRateLimit || !ce.IsRetryable {
		t.Fatalf("expected retryable rate limit, got %+v", ce)
	}
}

func TestClassifyErrorAuth(t *testing.T) {
	ce := ClassifyError(errString("bad key"), 401, "")
	if ce.Type != ErrorTypeAuth {
		t.Fatalf("expected auth error, got %s", ce.Type)
	}
}

func TestClassifyErrorServerError(t *testing.T) {
	ce := ClassifyError(errString("oops"), 503, "")
	if ce.Type != ErrorTypeAPIError || !ce.IsRetryable {
		t.Fatalf("expected retryable server error, got %+v", ce)
	}
}

func TestClassifyErrorBodyPrefixTruncated(t *testing.T) {
	longBody := make([]byte, 1000)
	for i := range longBody {
		longBody[i] = 'x'
	}
	ce := ClassifyError(errString("failed"), 500, string(longBody))
	if len(ce.Message) > 600 {
		t.Fatalf("expected truncated body in message, got length %d", len(ce.Message))
	}
}

func TestToAnthropicMessagesMergesToolResults(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleSystem, Content: "be helpful"},
		{Role: message.RoleUser, Content: "read a.txt"},
		{Role: message.RoleAssistant, ToolCalls: []message.ToolCall{{ID: "t1", Name: "read_file", Arguments: `{"path":"a.txt"}`}}},
		{Role: message.RoleTool, ToolCallID: "t1", Content: "file contents"},
	}
	system, out := toAnthropicMessages(msgs)
	if system != "be helpful" {
		t.Fatalf("expected system prompt extracted, got %q", system)
	}
	if len(out) != 3 {
		t.Fatalf("expected 3 anthropic messages (user, assistant, tool-result-as-user), got %d", len(out))
	}
	last := out[2]
	if last.Role != "user" || last.Content[0].Type != "tool_result" || last.Content[0].ToolUseID != "t1" {
		t.Fatalf("expected merged tool_result user message, got %+v", last)
	}
}

func TestToResponsesInputUsesCallID(t *testing.T) {
	msgs := []message.Message{
		{Role: message.RoleSystem, Content: "sys"},
		{Role: message.RoleTool, ToolCallID: "call_abc", Content: "result text"},
	}
	instructions, items := toResponsesInput(msgs)
	if instructions != "sys" {
		t.Fatalf("expected instructions extracted, got %q", instructions)
	}
	if len(items) != 1 || items[0].Type != "function_call_output" || items[0].CallID != "call_abc" {
		t.Fatalf("expected function_call_output keyed by call_id, got %+v", items)
	}
}

func TestToResponsesInputReplaysAssistantToolCallArguments(t *testing.T) {
	msgs := []message.Message{
		{
			Role: message.RoleAssistant,
			ToolCalls: []message.ToolCall{
				{ID: "call_xyz", Name: "read_file", Arguments: `{"path":"a.go"}`},
			},
		},
	}
	_, items := toResponsesInput(msgs)
	if len(items) != 1 || items[0].Type != "function_call" || items[0].CallID != "call_xyz" {
		t.Fatalf("expected function_call item keyed by call_id, got %+v", items)
	}
	if items[0].Arguments != `{"path":"a.go"}` {
		t.Fatalf("expected arguments carried in the Arguments field, got %q", items[0].Arguments)
	}
	if items[0].Output != "" {
		t.Fatalf("expected Output to stay empty for a function_call item, got %q", items[0].Output)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
