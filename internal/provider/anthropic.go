package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/walidabualafia/caretforge/internal/logx"
	"github.com/walidabualafia/caretforge/internal/message"
)

// AnthropicProvider implements Variant B: the Anthropic Messages API,
// reached with a raw http.Client and manually scanned SSE — grounded on
// dcode's internal/provider/anthropic.go for the request/response shapes
// and its hand-rolled SSE event scanner, but authenticated with a plain
// API key (x-api-key/anthropic-version headers) rather than dcode's
// OAuth token flow, since this adapter targets bring-your-own-key use.
type AnthropicProvider struct {
	httpClient *http.Client
	endpoint string
	apiKey string
	version string
}

// NewAnthropicProvider builds a Variant B provider.
func NewAnthropicProvider(httpClient *http.Client, endpoint, apiKey, version string) *AnthropicProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AnthropicProvider{httpClient: httpClient, endpoint: endpoint, apiKey: apiKey, version: version}
}

func (p *AnthropicProvider) Name() string { return "anthropic" }
func (p *AnthropicProvider) SupportsTools() bool { return true }

func (p *AnthropicProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{
		{ID: "claude-opus-4-1", Description: "Claude Opus"},
		{ID: "claude-sonnet-4-5", Description: "Claude Sonnet"},
	}, nil
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
	ID string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content string `json:"content,omitempty"`
	IsError bool `json:"is_error,omitempty"`
}

type anthropicMessage struct {
	Role string `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model string `json:"model"`
	System string `json:"system,omitempty"`
	Messages []anthropicMessage `json:"messages"`
	MaxTokens int `json:"max_tokens"`
	Tools []anthropicTool `json:"tools,omitempty"`
	Stream bool `json:"stream,omitempty"`
}

type anthropicTool struct {
	Name string `json:"name"`
	Description string `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	Content []anthropicContentBlock `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage struct {
		InputTokens int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// toAnthropicMessages converts canonical messages to Anthropic's shape.
// The system message (always index 0) becomes the top-level `system`
// field. Canonical tool-role messages are merged into a following `user`
// message whose content is a list of tool_result blocks; assistant tool
// calls become tool_use content blocks.
func toAnthropicMessages(messages []message.Message) (system string, out []anthropicMessage) {
	for _, m := range messages {
		switch m.Role {
		case message.RoleSystem:
			system = m.Content
		case message.RoleUser:
			out = append(out, anthropicMessage{Role: "user", Content: []anthropicContentBlock{{Type: "text", Text: m.Content}}})
		case message.RoleAssistant:
			am := anthropicMessage{Role: "assistant"}
			if m.Content != "" {
				am.Content = append(am.Content, anthropicContentBlock{Type: "text", Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				am.Content = append(am.Content, anthropicContentBlock{
					Type: "tool_use", ID: tc.ID, Name: tc.Name, Input: json.RawMessage(tc.Arguments),
				})
			}
			out = append(out, am)
		case message.RoleTool:
			block := anthropicContentBlock{Type: "tool_result", ToolUseID: m.ToolCallID, Content: m.Content}
			if len(out) > 0 && out[len(out)-1].Role == "user" && len(out[len(out)-1].Content) > 0 &&
				out[len(out)-1].Content[0].Type == "tool_result" {
				last := &out[len(out)-1]
				last.Content = append(last.Content, block)
			} else {
				out = append(out, anthropicMessage{Role: "user", Content: []anthropicContentBlock{block}})
			}
		}
	}
	return system, out
}

func fromAnthropicResponse(resp anthropicResponse) CompletionResult {
	var m message.Message
	m.Role = message.RoleAssistant
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			m.Content += block.Text
		case "tool_use":
			m.ToolCalls = append(m.ToolCalls, message.ToolCall{
				ID: block.ID, Name: block.Name, Arguments: string(block.Input),
			})
		}
	}
	finish := "stop"
	if resp.StopReason == "tool_use" {
		finish = "tool_calls"
	}
	return CompletionResult{
		Message: m,
		FinishReason: finish,
		Usage: &Usage{InputTokens: resp.Usage.InputTokens, OutputTokens: resp.Usage.OutputTokens},
	}
}

func (p *AnthropicProvider) buildRequest(ctx context.Context, messages []message.Message, opts Options, stream bool) (*http.Request, error) {
	system, anthMessages := toAnthropicMessages(messages)
	body := anthropicRequest{
		Model: opts.Model,
		System: system,
		Messages: anthMessages,
		MaxTokens: opts.MaxTokens,
		Stream: stream,
	}
	for _, t := range opts.Tools {
		body.Tools = append(body.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.endpoint, "/")+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("x-api-key", p.apiKey)
	req.Header.Set("anthropic-version", p.version)
	return req, nil
}

func (p *AnthropicProvider) CreateChatCompletion(ctx context.Context, messages []message.Message, opts Options) (*CompletionResult, error) {
	req, err := p.buildRequest(ctx, messages, opts, false)
	if err != nil {
		return nil, ClassifyError(err, 0, "")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, ClassifyError(err, 0, "")
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, ClassifyError(fmt.Errorf("anthropic request failed"), resp.StatusCode, string(data))
	}
	var parsed anthropicResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, ClassifyError(err, resp.StatusCode, string(data))
	}
	result := fromAnthropicResponse(parsed)
	return &result, nil
}

// sseEvent is one parsed "event:...\ndata:...\n\n" block.
type sseEvent struct {
	Event string
	Data string
}

func scanSSE(r io.Reader) <-chan sseEvent {
	ch := make(chan sseEvent)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		var cur sseEvent
		for scanner.Scan() {
			line := scanner.Text()
			switch {
			case strings.HasPrefix(line, "event:"):
				cur.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			case strings.HasPrefix(line, "data:"):
				cur.Data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			case line == "":
				if cur.Data != "" || cur.Event != "" {
					ch <- cur
				}
				cur = sseEvent{}
			}
		}
	}()
	return ch
}

// CreateStreamingChatCompletion consumes Anthropic's typed SSE events per
// the variant's wire format: content_block_start introduces a block (tool_use blocks
// carry id/name at start time), content_block_delta carries text_delta or
// input_json_delta (concatenated by block index), message_delta carries
// the terminal stop_reason. Malformed lines are logged and skipped, not
// fatal.
func (p *AnthropicProvider) CreateStreamingChatCompletion(ctx context.Context, messages []message.Message, opts Options, emit EmitFunc) error {
	req, err := p.buildRequest(ctx, messages, opts, true)
	if err != nil {
		return ClassifyError(err, 0, "")
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ClassifyError(err, 0, "")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return ClassifyError(fmt.Errorf("anthropic stream request failed"), resp.StatusCode, string(data))
	}

	blockTypes := make(map[int]string)

	for evt := range scanSSE(resp.Body) {
		switch evt.Event {
		case "content_block_start":
			var payload struct {
				Index int `json:"index"`
				ContentBlock struct {
					Type string `json:"type"`
					ID string `json:"id"`
					Name string `json:"name"`
				} `json:"content_block"`
			}
			if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
				logx.Warn("anthropic: skipping malformed content_block_start: %v", err)
				continue
			}
			blockTypes[payload.Index] = payload.ContentBlock.Type
			if payload.ContentBlock.Type == "tool_use" {
				if err := emit(StreamChunk{Delta: Delta{ToolCalls: []ToolCallDelta{
					{Index: payload.Index, ID: payload.ContentBlock.ID, Name: payload.ContentBlock.Name},
				}}}); err != nil {
					return err
				}
			}
		case "content_block_delta":
			var payload struct {
				Index int `json:"index"`
				Delta struct {
					Type string `json:"type"`
					Text string `json:"text"`
					PartialJSON string `json:"partial_json"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
				logx.Warn("anthropic: skipping malformed content_block_delta: %v", err)
				continue
			}
			var chunk StreamChunk
			switch payload.Delta.Type {
			case "text_delta":
				chunk.Delta.Content = payload.Delta.Text
			case "input_json_delta":
				chunk.Delta.ToolCalls = []ToolCallDelta{{Index: payload.Index, Arguments: payload.Delta.PartialJSON}}
			default:
				continue
			}
			if err := emit(chunk); err != nil {
				return err
			}
		case "message_delta":
			var payload struct {
				Delta struct {
					StopReason string `json:"stop_reason"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
				logx.Warn("anthropic: skipping malformed message_delta: %v", err)
				continue
			}
			finish := "stop"
			if payload.Delta.StopReason == "tool_use" {
				finish = "tool_calls"
			}
			if err := emit(StreamChunk{FinishReason: finish}); err != nil {
				return err
			}
		case "message_stop":
			return nil
		}
	}
	return nil
}
