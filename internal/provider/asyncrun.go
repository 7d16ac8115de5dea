package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/walidabualafia/caretforge/internal/logx"
	"github.com/walidabualafia/caretforge/internal/message"
)

// AsyncRunProvider implements Variant D : a
// thread/run-based backend reached by creating a thread+run, polling the
// run until it settles, then reading back the assistant's messages.
// Authored fresh in the style of AnthropicProvider/ResponsesProvider (raw
// http.Client, manual SSE for the streaming variant) since dcode
// never speaks this protocol; its external-CLI bearer-token caching
// mirrors the general "shell out to a helper binary" idiom dcode
// uses elsewhere (internal/tool/bash.go) rather than any specific
// dcode auth code.
type AsyncRunProvider struct {
	httpClient *http.Client
	endpoint string
	apiKey string
	tokenCmd []string // e.g. {"az", "account", "get-access-token",...}

	mu sync.Mutex
	cachedToken string
	expiresAt time.Time
}

// NewAsyncRunProvider builds a Variant D provider. Exactly one of apiKey
// or tokenCmd should be set; if tokenCmd is set, its stdout is parsed as
// `{"accessToken": "..."}`\-shaped JSON on each refresh.
func NewAsyncRunProvider(httpClient *http.Client, endpoint, apiKey string, tokenCmd []string) *AsyncRunProvider {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &AsyncRunProvider{httpClient: httpClient, endpoint: endpoint, apiKey: apiKey, tokenCmd: tokenCmd}
}

func (p *AsyncRunProvider) Name() string { return "async-run" }
func (p *AsyncRunProvider) SupportsTools() bool { return false } // backend handles tools server-side

func (p *AsyncRunProvider) ListModels(ctx context.Context) ([]ModelInfo, error) {
	return []ModelInfo{{ID: "default"}}, nil
}

// authHeader returns the value an outgoing request's Authorization-style
// header should carry: an api-key header when apiKey is configured, or a
// bearer token acquired by spawning tokenCmd and cached in memory with a
// 1-hour expiry minus a 60s safety margin. No retry is
// attempted if the refresh itself fails — consistent with this design's
// out-of-scope items excluding retry/backoff around provider auth.
func (p *AsyncRunProvider) authHeader(ctx context.Context) (name, value string, err error) {
	if p.apiKey != "" {
		return "api-key", p.apiKey, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cachedToken != "" && time.Now().Before(p.expiresAt) {
		return "authorization", "Bearer " + p.cachedToken, nil
	}

	if len(p.tokenCmd) == 0 {
		return "", "", fmt.Errorf("no api key or token command configured")
	}

	cmd := exec.CommandContext(ctx, p.tokenCmd[0], p.tokenCmd[1:]...)
	out, err := cmd.Output()
	if err != nil {
		return "", "", fmt.Errorf("token command failed: %w", err)
	}

	var parsed struct {
		AccessToken string `json:"accessToken"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return "", "", fmt.Errorf("token command returned unparseable output: %w", err)
	}

	p.cachedToken = parsed.AccessToken
	p.expiresAt = time.Now().Add(time.Hour - 60*time.Second)
	return "authorization", "Bearer " + p.cachedToken, nil
}

func (p *AsyncRunProvider) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(p.endpoint, "/")+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("content-type", "application/json")
	}
	name, value, err := p.authHeader(ctx)
	if err != nil {
		return nil, err
	}
	req.Header.Set(name, value)
	return req, nil
}

func (p *AsyncRunProvider) do(req *http.Request, out any) error {
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ClassifyError(err, 0, "")
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ClassifyError(fmt.Errorf("async-run request failed"), resp.StatusCode, string(data))
	}
	if out != nil {
		if err := json.Unmarshal(data, out); err != nil {
			return ClassifyError(err, resp.StatusCode, string(data))
		}
	}
	return nil
}

type runStatus struct {
	ID string `json:"id"`
	Status string `json:"status"`
}

type threadMessage struct {
	Role string `json:"role"`
	Content []struct {
		Type string `json:"type"`
		Text struct {
			Value string `json:"value"`
		} `json:"text"`
	} `json:"content"`
}

var terminalRunStatuses = map[string]bool{
	"completed": true, "failed": true, "cancelled": true, "expired": true, "incomplete": true,
}

// CreateChatCompletion runs the non-streaming flow the variant's wire format
// describes: create a thread+run, poll with exponential backoff from
// 500ms to 5s until a terminal status (120s ceiling), then on completed
// read back the thread's messages (descending, limit 10) and return the
// first assistant message's concatenated text. requires_action fails —
// client-side function calling is unsupported by this adapter.
func (p *AsyncRunProvider) CreateChatCompletion(ctx context.Context, messages []message.Message, opts Options) (*CompletionResult, error) {
	createReq, err := p.newRequest(ctx, http.MethodPost, "/threads/runs", map[string]any{
		"model": opts.Model,
		"messages": toAsyncRunMessages(messages),
	})
	if err != nil {
		return nil, err
	}
	var created struct {
		ID       string `json:"id"`
		ThreadID string `json:"thread_id"`
	}
	if err := p.do(createReq, &created); err != nil {
		return nil, err
	}

	status, err := p.pollRun(ctx, created.ID)
	if err != nil {
		return nil, err
	}
	if status.Status == "requires_action" {
		return nil, &ClassifiedError{Type: ErrorTypeAPIError, Message: "client-side function calling is unsupported by the async-run adapter"}
	}
	if status.Status != "completed" {
		return nil, &ClassifiedError{Type: ErrorTypeAPIError, Message: fmt.Sprintf("run ended with status %q", status.Status)}
	}

	listReq, err := p.newRequest(ctx, http.MethodGet, fmt.Sprintf("/threads/%s/messages?order=desc&limit=10", created.ThreadID), nil)
	if err != nil {
		return nil, err
	}
	var list struct {
		Data []threadMessage `json:"data"`
	}
	if err := p.do(listReq, &list); err != nil {
		return nil, err
	}

	for _, m := range list.Data {
		if m.Role != "assistant" {
			continue
		}
		var text strings.Builder
		for _, c := range m.Content {
			if c.Type == "text" {
				text.WriteString(c.Text.Value)
			}
		}
		return &CompletionResult{
			Message: message.Message{Role: message.RoleAssistant, Content: text.String()},
			FinishReason: "stop",
		}, nil
	}
	return nil, &ClassifiedError{Type: ErrorTypeAPIError, Message: "run completed but no assistant message was found"}
}

func (p *AsyncRunProvider) pollRun(ctx context.Context, runID string) (*runStatus, error) {
	backoff := RetryConfig{InitialDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 2.0}
	deadline := time.Now().Add(120 * time.Second)
	attempt := 0
	for {
		req, err := p.newRequest(ctx, http.MethodGet, fmt.Sprintf("/threads/runs/%s", runID), nil)
		if err != nil {
			return nil, err
		}
		var status runStatus
		if err := p.do(req, &status); err != nil {
			return nil, err
		}
		if terminalRunStatuses[status.Status] || status.Status == "requires_action" {
			return &status, nil
		}
		if time.Now().After(deadline) {
			return nil, &ClassifiedError{Type: ErrorTypeTimeout, Message: "run polling exceeded 120s ceiling"}
		}
		select {
		case <-ctx.Done():
			return nil, ClassifyError(ctx.Err(), 0, "")
		case <-time.After(ComputeBackoff(attempt, backoff)):
		}
		attempt++
	}
}

func toAsyncRunMessages(messages []message.Message) []map[string]string {
	out := make([]map[string]string, 0, len(messages))
	for _, m := range messages {
		if m.Role == message.RoleTool {
			continue // unsupported by this adapter; tools run server-side
		}
		out = append(out, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	return out
}

// CreateStreamingChatCompletion consumes the streaming variant's typed
// SSE events : thread.message.delta carries text deltas,
// thread.run.completed terminates, thread.run.failed is fatal.
func (p *AsyncRunProvider) CreateStreamingChatCompletion(ctx context.Context, messages []message.Message, opts Options, emit EmitFunc) error {
	req, err := p.newRequest(ctx, http.MethodPost, "/threads/runs", map[string]any{
		"model": opts.Model,
		"messages": toAsyncRunMessages(messages),
		"stream": true,
	})
	if err != nil {
		return err
	}
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return ClassifyError(err, 0, "")
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return ClassifyError(fmt.Errorf("async-run stream request failed"), resp.StatusCode, string(data))
	}

	for evt := range scanSSE(resp.Body) {
		switch evt.Event {
		case "thread.message.delta":
			var payload struct {
				Delta struct {
					Content []struct {
						Type string `json:"type"`
						Text struct {
							Value string `json:"value"`
						} `json:"text"`
					} `json:"content"`
				} `json:"delta"`
			}
			if err := json.Unmarshal([]byte(evt.Data), &payload); err != nil {
				logx.Warn("async-run: skipping malformed thread.message.delta: %v", err)
				continue
			}
			for _, c := range payload.Delta.Content {
				if c.Type == "text" && c.Text.Value != "" {
					if err := emit(StreamChunk{Delta: Delta{Content: c.Text.Value}}); err != nil {
						return err
					}
				}
			}
		case "thread.run.completed":
			if err := emit(StreamChunk{FinishReason: "stop"}); err != nil {
				return err
			}
			return nil
		case "thread.run.failed":
			return &ClassifiedError{Type: ErrorTypeAPIError, Message: "run failed: " + evt.Data}
		}
	}
	return nil
}
