// Package assistant talks to the hosted conversational-assistant API that
// owns the run lifecycle. carbot only creates threads, posts messages,
// starts runs, observes their status and feeds tool outputs back.
package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kx3-io/carbot/pkg/protocol"
)

// Client is the abstraction the run-completion driver works against.
type Client interface {
	CreateThread(ctx context.Context) (string, error)
	AddMessage(ctx context.Context, threadID, content string) error
	CreateRun(ctx context.Context, threadID string) (*protocol.Run, error)
	GetRun(ctx context.Context, threadID, runID string) (*protocol.Run, error)
	SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []protocol.ToolOutput) error
	LatestAssistantMessage(ctx context.Context, threadID string) (string, error)
}

// HTTPClient implements Client against the OpenAI Assistants v2 API.
type HTTPClient struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	assistantID string
}

// Option configures an HTTPClient.
type Option func(*HTTPClient)

// WithBaseURL sets a custom API base URL.
func WithBaseURL(u string) Option {
	return func(c *HTTPClient) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *HTTPClient) { c.client = h }
}

// NewClient creates an Assistants API client bound to one assistant.
func NewClient(apiKey, assistantID string, opts ...Option) *HTTPClient {
	c := &HTTPClient{
		client:      &http.Client{Timeout: 60 * time.Second},
		baseURL:     "https://api.openai.com/v1",
		apiKey:      apiKey,
		assistantID: assistantID,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *HTTPClient) CreateThread(ctx context.Context) (string, error) {
	var resp threadResponse
	if err := c.do(ctx, http.MethodPost, "/threads", struct{}{}, &resp); err != nil {
		return "", fmt.Errorf("assistant: create thread: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("assistant: create thread: empty thread id")
	}
	return resp.ID, nil
}

func (c *HTTPClient) AddMessage(ctx context.Context, threadID, content string) error {
	body := messageRequest{Role: "user", Content: content}
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/messages", body, nil); err != nil {
		return fmt.Errorf("assistant: add message: %w", err)
	}
	return nil
}

func (c *HTTPClient) CreateRun(ctx context.Context, threadID string) (*protocol.Run, error) {
	body := runRequest{AssistantID: c.assistantID}
	var resp runResponse
	if err := c.do(ctx, http.MethodPost, "/threads/"+threadID+"/runs", body, &resp); err != nil {
		return nil, fmt.Errorf("assistant: create run: %w", err)
	}
	if resp.ID == "" {
		return nil, fmt.Errorf("assistant: create run: empty run id")
	}
	return parseRun(&resp), nil
}

func (c *HTTPClient) GetRun(ctx context.Context, threadID, runID string) (*protocol.Run, error) {
	var resp runResponse
	if err := c.do(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+runID, nil, &resp); err != nil {
		return nil, fmt.Errorf("assistant: get run: %w", err)
	}
	return parseRun(&resp), nil
}

func (c *HTTPClient) SubmitToolOutputs(ctx context.Context, threadID, runID string, outputs []protocol.ToolOutput) error {
	body := submitOutputsRequest{}
	for _, o := range outputs {
		body.ToolOutputs = append(body.ToolOutputs, toolOutput{ToolCallID: o.CallID, Output: o.Output})
	}
	path := "/threads/" + threadID + "/runs/" + runID + "/submit_tool_outputs"
	if err := c.do(ctx, http.MethodPost, path, body, nil); err != nil {
		return fmt.Errorf("assistant: submit tool outputs: %w", err)
	}
	return nil
}

func (c *HTTPClient) LatestAssistantMessage(ctx context.Context, threadID string) (string, error) {
	var resp messageListResponse
	path := "/threads/" + threadID + "/messages?limit=1&order=desc"
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return "", fmt.Errorf("assistant: list messages: %w", err)
	}
	for _, msg := range resp.Data {
		if msg.Role != "assistant" {
			continue
		}
		for _, part := range msg.Content {
			if part.Type == "text" && part.Text.Value != "" {
				return part.Text.Value, nil
			}
		}
	}
	return "", nil
}

// --- Assistants API wire format ---

type threadResponse struct {
	ID string `json:"id"`
}

type messageRequest struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type runRequest struct {
	AssistantID string `json:"assistant_id"`
}

type runResponse struct {
	ID             string          `json:"id"`
	ThreadID       string          `json:"thread_id"`
	Status         string          `json:"status"`
	RequiredAction *requiredAction `json:"required_action,omitempty"`
	LastError      *runError       `json:"last_error,omitempty"`
}

type requiredAction struct {
	Type              string `json:"type"`
	SubmitToolOutputs struct {
		ToolCalls []apiToolCall `json:"tool_calls"`
	} `json:"submit_tool_outputs"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type runError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type submitOutputsRequest struct {
	ToolOutputs []toolOutput `json:"tool_outputs"`
}

type toolOutput struct {
	ToolCallID string `json:"tool_call_id"`
	Output     string `json:"output"`
}

type messageListResponse struct {
	Data []struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text struct {
				Value string `json:"value"`
			} `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// --- Conversion helpers ---

func parseRun(resp *runResponse) *protocol.Run {
	run := &protocol.Run{
		ID:       resp.ID,
		ThreadID: resp.ThreadID,
		Status:   protocol.RunStatus(resp.Status),
	}
	if resp.LastError != nil {
		run.LastError = resp.LastError.Message
	}
	if resp.RequiredAction != nil {
		for _, tc := range resp.RequiredAction.SubmitToolOutputs.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				args = map[string]any{"_raw": tc.Function.Arguments}
			}
			run.PendingToolCalls = append(run.PendingToolCalls, protocol.ToolCall{
				ID:        tc.ID,
				Name:      tc.Function.Name,
				Arguments: args,
			})
		}
	}
	return run
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("OpenAI-Beta", "assistants=v2")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api error (status %d): %s", resp.StatusCode, string(respBody))
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
