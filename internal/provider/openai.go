package provider

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	openai "github.com/sashabaranov/go-openai"

	"github.com/walidabualafia/caretforge/internal/message"
)

// OpenAIProvider implements Variant A: an OpenAI-style
// chat-completions endpoint shaped like an Azure deployment URL —
// {endpoint}/openai/deployments/{model}{path}?api-version={version},
// authenticated with an api-key header. Grounded on dcode's
// internal/provider/openai_compatible.go for the SDK-usage style (request
// construction, tool-call-delta accumulation) and on azure.go for the
// deployment-shaped base URL/header wiring — go-openai's
// DefaultAzureConfig already builds exactly this URL/header pair, so no
// hand-rolled HTTP client is needed here.
type OpenAIProvider struct {
	client *openai.Client
	name string
	apiVersion string
	modelList []string
}

// NewOpenAIProvider builds a Variant A provider. endpoint is the base
// "https://{resource}.openai.azure.com" style host; apiVersion is the
// `api-version` query parameter the variant's wire format names.
func NewOpenAIProvider(name, endpoint, apiKey, apiVersion string) *OpenAIProvider {
	cfg := openai.DefaultAzureConfig(apiKey, endpoint)
	cfg.APIVersion = apiVersion
	return &OpenAIProvider{
		client: openai.NewClientWithConfig(cfg),
		name: name,
		apiVersion: apiVersion,
	}
}

func (p *OpenAIProvider) Name() string { return p.name }
func (p *OpenAIProvider) SupportsTools() bool { return true }

func (p *OpenAIProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	resp, err := p.client.ListModels(ctx)
	if err != nil {
		return nil, ClassifyError(err, 0, "")
	}
	out := make([]ModelInfo, 0, len(resp.Models))
	for _, m := range resp.Models {
		out = append(out, ModelInfo{ID: m.ID, Description: m.OwnedBy})
	}
	return out, nil
}

func (p *OpenAIProvider) CreateChatCompletion(ctx context.Context, messages []message.Message, opts Options) (*CompletionResult, error) {
	req := toOpenAIRequest(messages, opts, false)
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, classifyOpenAIErr(err)
	}
	if len(resp.Choices) == 0 {
		return nil, &ClassifiedError{Type: ErrorTypeAPIError, Message: "provider returned no choices"}
	}
	choice := resp.Choices[0]
	return &CompletionResult{
		Message: fromOpenAIMessage(choice.Message),
		FinishReason: string(choice.FinishReason),
		Usage: &Usage{
			InputTokens: resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		},
	}, nil
}

func (p *OpenAIProvider) CreateStreamingChatCompletion(ctx context.Context, messages []message.Message, opts Options, emit EmitFunc) error {
	req := toOpenAIRequest(messages, opts, true)
	stream, err := p.client.CreateChatCompletionStream(ctx, req)
	if err != nil {
		return classifyOpenAIErr(err)
	}
	defer stream.Close()

	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return classifyOpenAIErr(err)
		}
		if len(resp.Choices) == 0 {
			continue
		}
		choice := resp.Choices[0]
		chunk := StreamChunk{
			Delta: Delta{Content: choice.Delta.Content},
			FinishReason: string(choice.FinishReason),
		}
		for _, tc := range choice.Delta.ToolCalls {
			idx := 0
			if tc.Index != nil {
				idx = *tc.Index
			}
			id := tc.ID
			name := tc.Function.Name
			args := tc.Function.Arguments
			chunk.Delta.ToolCalls = append(chunk.Delta.ToolCalls, ToolCallDelta{
				Index: idx, ID: id, Name: name, Arguments: args,
			})
		}
		if err := emit(chunk); err != nil {
			return err
		}
	}
}

func toOpenAIRequest(messages []message.Message, opts Options, stream bool) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model: opts.Model,
		Messages: toOpenAIMessages(messages),
		Temperature: float32(opts.Temperature),
		MaxTokens: opts.MaxTokens,
		Stream: stream,
	}
	if len(opts.Tools) > 0 {
		req.Tools = toOpenAITools(opts.Tools)
	}
	return req
}

func toOpenAIMessages(messages []message.Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		om := openai.ChatCompletionMessage{
			Role: string(m.Role),
			Content: m.Content,
		}
		if m.Role == message.RoleTool {
			om.ToolCallID = m.ToolCallID
		}
		for _, tc := range m.ToolCalls {
			om.ToolCalls = append(om.ToolCalls, openai.ToolCall{
				ID: tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name: tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		out = append(out, om)
	}
	return out
}

func toOpenAITools(tools []message.ToolDefinition) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name: t.Name,
				Description: t.Description,
				Parameters: t.Parameters,
			},
		})
	}
	return out
}

func fromOpenAIMessage(m openai.ChatCompletionMessage) message.Message {
	out := message.Message{Role: message.Role(m.Role), Content: m.Content}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, message.ToolCall{
			ID: tc.ID,
			Name: tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out
}

func classifyOpenAIErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		body, _ := json.Marshal(apiErr)
		return ClassifyError(err, apiErr.HTTPStatusCode, string(body))
	}
	return ClassifyError(err, 0, "")
}
