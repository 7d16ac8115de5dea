package provider

import (
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

// ResponsesProvider implements Variant C: the OpenAI
// Responses API. Authored fresh — dcode never speaks this protocol
// (its openai.go/openai_compatible.go both target chat completions) — but
// built in the same raw-HTTP-client style as AnthropicProvider, since the
// go-openai SDK used for Variant A does not cover the Responses
// endpoint's item/event shape. Follows this design's pre-resolved Open
// Question (a): tool results are addressed by call_id, not item_id, when
// feeding function_call_output back on the next turn.
type ResponsesProvider struct {
	httpClient *http.Client
	endpoint string
	apiKey string
}

func NewResponsesProvider(httpClient *http.Client, endpoint, apiKey string) *ResponsesProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &ResponsesProvider{httpClient: httpClient, endpoint: endpoint, apiKey: apiKey}
}

func (p *ResponsesProvider) Name() string { return "openai-responses" }
func (p *ResponsesProvider) SupportsTools() bool { return true }

func (p *ResponsesProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{ID: "gpt-4.1"}, {ID: "gpt-4.1-mini"}}, nil
}

type responsesInputItem struct {
	Type string `json:"type,omitempty"`
	Role string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
	CallID string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Output string `json:"output,omitempty"`
	Name string `json:"name,omitempty"`
}

type responsesTool struct {
	Type string `json:"type"`
	Name string `json:"name"`
	Description string `json:"description"`
	Parameters map[string]any `json:"parameters"`
}

type responsesRequest struct {
	Model string `json:"model"`
	Instructions string `json:"instructions,omitempty"`
	Input []responsesInputItem `json:"input"`
	Tools []responsesTool `json:"tools,omitempty"`
	Stream bool `json:"stream,omitempty"`
}

// toResponsesInput converts canonical messages to the Responses API's
// heterogeneous input list: user/assistant messages plus
// function_call_output items carrying call_id/output for prior tool
// results. The system message becomes `instructions`.
func toResponsesInput(messages []message.Message) (instructions string, items []responsesInputItem) {
	for _, m := range messages {
		switch m.Role {
		case message.RoleSystem:
			instructions = m.Content
		case message.RoleUser:
			items = append(items, responsesInputItem{Role: "user", Content: m.Content})
		case message.RoleAssistant:
			if m.Content != "" {
				items = append(items, responsesInputItem{Role: "assistant", Content: m.Content})
			}
			for _, tc := range m.ToolCalls {
				items = append(items, responsesInputItem{
					Type: "function_call", CallID: tc.ID, Name: tc.Name, Arguments: tc.Arguments,
				})
			}
		case message.RoleTool:
			items = append(items, responsesInputItem{
				Type: "function_call_output", CallID: m.ToolCallID, Output: m.Content,
			})
		}
	}
	return instructions, items
}

func (p *ResponsesProvider) buildRequest(ctx context.Context, messages []message.Message, opts Options, stream bool) (*http.Request, error) {
	instructions, items := toResponsesInput(messages)
	body := responsesRequest{Model: opts.Model, Instructions: instructions, Input: items, Stream: stream}
	for _, t := range opts.Tools {
		body.Tools = append(body.Tools, responsesTool{Type: "function", Name: t.Name, Description: t.Description, Parameters: t.Parameters})
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(p.endpoint, "/")+"/openai/v1/responses", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/json")
	req.Header.Set("authorization", "Bearer "+p.apiKey)
	return req, nil
}

type responsesOutputItem struct {
	Type string `json:"type"`
	CallID string `json:"call_id,omitempty"`
	Name string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content,omitempty"`
}

type responsesResponse struct {
	Output []responsesOutputItem `json:"output"`
}

func (p *ResponsesProvider) CreateChatCompletion(ctx context.Context, messages []message.Message, opts Options) (*CompletionResult, error) {
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
		return nil, ClassifyError(fmt.Errorf("responses request failed"), resp.StatusCode, string(data))
	}
	var parsed responsesResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, ClassifyError(err, resp.StatusCode, string(data))
	}

	var m message.Message
	m.Role = message.RoleAssistant
	finish := "stop"
	for _, item := range parsed.Output {
		switch item.Type {
		case "message":
			for _, c := range item.Content {
				if c.Type == "output_text" {
					m.Content += c.Text
				}
			}
		case "function_call":
			m.ToolCalls = append(m.ToolCalls, message.ToolCall{ID: item.CallID, Name: item.Name, Arguments: item.Arguments})
			finish = "tool_calls"
		case "reasoning":
			// ignored, per the variant's wire format
		}
	}
	return &CompletionResult{Message: m, FinishReason: finish}, nil
}

// CreateStreamingChatCompletion consumes the Responses API's named SSE
// events. function_call items are keyed by item_id at
// response.output_item.added time but carry a separate call_id;
// downstream tool-result addressing uses call_id, so this adapter tracks
// item_id only internally to resolve each arguments-delta event back to
// the assembler index; the arguments-done event is not used.
func (p *ResponsesProvider) CreateStreamingChatCompletion(ctx context.Context, messages []message.Message, opts Options, emit EmitFunc) error {
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
		return ClassifyError(fmt.Errorf("responses stream request failed"), resp.StatusCode, string(data))
	}

	itemIndex := make(map[string]int)
	nextIndex := 0

	for evt := range scanSSE(resp.Body) {
		switch evt.Event {
		case "response.output_text.delta":
			var payload struct {
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
				logx.Warn("responses: skipping malformed output_text.delta: %v", err)
				continue
			}
			if err := emit(StreamChunk{Delta: Delta{Content: payload.Delta}}); err != nil {
				return err
			}
		case "response.output_item.added":
			var payload struct {
				Item struct {
					ID string `json:"id"`
					Type string `json:"type"`
					CallID string `json:"call_id"`
					Name string `json:"name"`
				} `json:"item"`
			}
			if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
				logx.Warn("responses: skipping malformed output_item.added: %v", err)
				continue
			}
			if payload.Item.Type != "function_call" {
				continue
			}
			idx, ok := itemIndex[payload.Item.ID]
			if !ok {
				idx = nextIndex
				nextIndex++
				itemIndex[payload.Item.ID] = idx
			}
			if err := emit(StreamChunk{Delta: Delta{ToolCalls: []ToolCallDelta{
				{Index: idx, ID: payload.Item.CallID, Name: payload.Item.Name},
			}}}); err != nil {
				return err
			}
		case "response.function_call_arguments.delta":
			var payload struct {
				ItemID string `json:"item_id"`
				Delta string `json:"delta"`
			}
			if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
				logx.Warn("responses: skipping malformed function_call_arguments.delta: %v", err)
				continue
			}
			idx, ok := itemIndex[payload.ItemID]
			if !ok {
				idx = nextIndex
				nextIndex++
				itemIndex[payload.ItemID] = idx
			}
			if err := emit(StreamChunk{Delta: Delta{ToolCalls: []ToolCallDelta{{Index: idx, Arguments: payload.Delta}}}}); err != nil {
				return err
			}
		case "response.function_call_arguments.done":
			// Terminal arguments for this item_id already fully emitted via
			// deltas above; nothing further to assemble.
		case "response.completed":
			return nil
		}
	}
	return nil
}
