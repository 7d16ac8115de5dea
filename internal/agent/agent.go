// Package agent implements CaretForge's agent loop: a bounded iteration
// that interleaves streaming model responses with tool dispatch and
// permission checks. It is the orchestration hub the other four
// subsystems (provider, safety, permission, tool) are wired into.
//
// Grounded on dcode's internal/session/prompt.go PromptEngine.Run — the
// turn loop, streaming accumulation, and permission-check-before-dispatch
// control flow are dcode's own, restructured from a store-backed,
// multi-session engine down to a single pure function with no session
// persistence, no title generation, and no background compaction. See
// DESIGN.md.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/walidabualafia/caretforge/internal/logx"
	"github.com/walidabualafia/caretforge/internal/message"
	"github.com/walidabualafia/caretforge/internal/permission"
	"github.com/walidabualafia/caretforge/internal/provider"
	"github.com/walidabualafia/caretforge/internal/safety"
	"github.com/walidabualafia/caretforge/internal/tool"
)

// MaxIterations is the loop's hard iteration cap — a fixed constant,
// not user-tunable.
const MaxIterations = 20

// MaxIterationsText is the fixed final-content string returned when the
// cap is hit without a terminal assistant message.
const MaxIterationsText = "[Agent reached maximum iteration limit]"

// SystemPrompt is prepended to every conversation the loop runs.
const SystemPrompt = `You are CaretForge, an interactive coding agent. You have access to tools ` +
	`that read, write, and edit files, run shell commands, and search the working ` +
	`directory. Use them to accomplish the user's request. Prefer the smallest ` +
	`change that satisfies the request. When you are done, reply with a plain-text ` +
	`summary and no further tool calls.`

// Callbacks lets the driver observe the loop without owning its control
// flow.
type Callbacks struct {
	// OnToken is called once per streamed text delta.
	OnToken func(token string)
	// OnToolCall fires the moment a tool call is parsed, before permission
	// checks or dispatch.
	OnToolCall func(tc message.ToolCall)
	// OnToolResult fires after a tool call has produced a result (allowed,
	// denied, or errored).
	OnToolResult func(tc message.ToolCall, result string, isError bool)
	// OnPermissionRequest is consulted for every gated tool call; its
	// return value is the approve/deny decision. A nil callback denies
	// every gated call (fail closed).
	OnPermissionRequest func(tc message.ToolCall, tier safety.Tier, detail string) bool
}

// Result is the loop's return value.
type Result struct {
	ID string // per-turn id, for correlating --trace log lines
	Conversation *message.Conversation
	FinalContent string
	ToolCallCount int
	ElapsedMillis int64
}

// Run runs the agent loop. messages is the conversation prefix without
// the system message; prov and model select the backend; stream toggles
// the streaming vs non-streaming path.
//
// The tool registry's own Definitions() supply the complete tool set
// sent whole on every call — permission gating happens only after the
// model has chosen a tool, never by withholding tools from the model.
func Run(
	ctx context.Context,
	messages []message.Message,
	prov provider.Provider,
	model string,
	stream bool,
	registry *tool.Registry,
	toolCtx *tool.Context,
	cb Callbacks,
) (*Result, error) {
	start := time.Now()
	turnID := uuid.NewString()
	logx.Debug("agent turn %s: starting (%d prior messages)", turnID, len(messages))
	conv := message.NewConversation(SystemPrompt, messages)

	defs := registry.Definitions()
	toolDefs := make([]message.ToolDefinition, 0, len(defs))
	for _, d := range defs {
		toolDefs = append(toolDefs, message.ToolDefinition{
			Name: d.Name,
			Description: d.Description,
			Parameters: d.Parameters,
		})
	}

	toolCallCount := 0

	for iteration := 0; iteration < MaxIterations; iteration++ {
		assistantMsg, err := callProvider(ctx, prov, conv.Messages, model, stream, toolDefs, cb)
		if err != nil {
			return nil, err
		}
		conv.Append(assistantMsg)

		if len(assistantMsg.ToolCalls) == 0 {
			logx.Debug("agent turn %s: done after %d tool call(s)", turnID, toolCallCount)
			return &Result{
				ID: turnID,
				Conversation: conv,
				FinalContent: assistantMsg.Content,
				ToolCallCount: toolCallCount,
				ElapsedMillis: time.Since(start).Milliseconds(),
			}, nil
		}

		for _, tc := range assistantMsg.ToolCalls {
			toolCallCount++
			resultText, isError := dispatchToolCall(ctx, tc, registry, toolCtx, cb)
			conv.Append(message.Message{
				Role: message.RoleTool,
				Content: resultText,
				ToolCallID: tc.ID,
			})
			if cb.OnToolResult != nil {
				cb.OnToolResult(tc, resultText, isError)
			}
		}
	}

	logx.Warn("agent turn %s: hit max iterations (%d)", turnID, MaxIterations)
	return &Result{
		ID: turnID,
		Conversation: conv,
		FinalContent: MaxIterationsText,
		ToolCallCount: toolCallCount,
		ElapsedMillis: time.Since(start).Milliseconds(),
	}, nil
}

// callProvider performs one model turn, streaming or not, and returns the
// complete assistant message.
func callProvider(
	ctx context.Context,
	prov provider.Provider,
	convMessages []message.Message,
	model string,
	stream bool,
	toolDefs []message.ToolDefinition,
	cb Callbacks,
) (message.Message, error) {
	opts := provider.Options{
		Model: model,
		Stream: stream,
		Tools: toolDefs,
	}

	if !stream {
		res, err := prov.CreateChatCompletion(ctx, convMessages, opts)
		if err != nil {
			return message.Message{}, err
		}
		return res.Message, nil
	}

	var content []byte
	asm := provider.NewAssembler()
	err := prov.CreateStreamingChatCompletion(ctx, convMessages, opts, func(chunk provider.StreamChunk) error {
		if chunk.Delta.Content != "" {
			content = append(content, chunk.Delta.Content...)
			if cb.OnToken != nil {
				cb.OnToken(chunk.Delta.Content)
			}
		}
		for _, d := range chunk.Delta.ToolCalls {
			asm.Add(d)
		}
		return nil
	})
	if err != nil {
		return message.Message{}, err
	}

	return message.Message{
		Role: message.RoleAssistant,
		Content: string(content),
		ToolCalls: asm.ToolCalls(),
	}, nil
}

// dispatchToolCall parses arguments, fires onToolCall, checks permission
// for gated tools, executes, and never lets a tool panic or error
// escape the loop.
func dispatchToolCall(
	ctx context.Context,
	tc message.ToolCall,
	registry *tool.Registry,
	toolCtx *tool.Context,
	cb Callbacks,
) (resultText string, isError bool) {
	if cb.OnToolCall != nil {
		cb.OnToolCall(tc)
	}

	args := parseArguments(tc.Arguments)

	if permission.IsGated(tc.Name) {
		tier, detail := classify(tc.Name, args)
		allowed := false
		if cb.OnPermissionRequest != nil {
			allowed = cb.OnPermissionRequest(tc, tier, detail)
		}
		if !allowed {
			return "Permission denied by user.", false
		}
	}

	result, execErr := safeExecute(ctx, registry, toolCtx, tc.Name, args)
	if execErr != nil {
		return execErr.Error(), true
	}
	return result.Output, result.IsError
}

// parseArguments parses the tool call's arguments string as JSON. An
// unparseable string becomes the empty object — the tool itself validates
// its inputs.
func parseArguments(raw string) map[string]any {
	if raw == "" {
		return map[string]any{}
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{}
	}
	return args
}

// classify computes the safety tier for a gated tool call so the
// permission manager's decision table has something to key on.
// write_file/edit_file classify their "path" argument; exec_shell
// classifies its "command" argument.
func classify(toolName string, args map[string]any) (safety.Tier, string) {
	switch toolName {
	case "exec_shell":
		cmd, _ := args["command"].(string)
		v := safety.AnalyseCommand(cmd)
		return v.Tier, cmd
	case "write_file", "edit_file":
		path, _ := args["path"].(string)
		v := safety.AnalyseWritePath(path)
		return v.Tier, path
	default:
		return safety.Mutating, ""
	}
}

// safeExecute runs a tool executor, converting any panic into a tool
// error so a misbehaving executor can never escape the loop: any
// exception's message becomes the tool result, never a propagated panic.
func safeExecute(
	ctx context.Context,
	registry *tool.Registry,
	toolCtx *tool.Context,
	name string,
	args map[string]any,
) (result *tool.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = &tool.Result{Output: fmt.Sprintf("tool %s panicked: %v", name, r), IsError: true}
			err = nil
		}
	}()
	res, execErr := registry.Execute(ctx, toolCtx, name, args)
	if execErr != nil {
		return nil, fmt.Errorf("tool %s failed: %w", name, execErr)
	}
	return res, nil
}
