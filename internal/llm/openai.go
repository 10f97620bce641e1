package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kaptinlin/jsonrepair"

	scouterrors "scout/internal/errors"
	"scout/internal/logging"
)

// OpenAICompatibleClient speaks the chat-completions wire protocol used by
// OpenAI and the many gateways that mimic it.
type OpenAICompatibleClient struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	logger  logging.Logger
}

// ClientOptions configures an OpenAI-compatible client.
type ClientOptions struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration
	Logger  logging.Logger
}

// NewOpenAICompatibleClient builds a client for one model endpoint.
func NewOpenAICompatibleClient(opts ClientOptions) (*OpenAICompatibleClient, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("llm: empty base URL")
	}
	if opts.Model == "" {
		return nil, fmt.Errorf("llm: empty model name")
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = 120 * time.Second
	}
	return &OpenAICompatibleClient{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		model:   opts.Model,
		http:    &http.Client{Timeout: timeout},
		logger:  logging.OrNop(opts.Logger),
	}, nil
}

func (c *OpenAICompatibleClient) Model() string { return c.model }

type wireMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []wireToolCall `json:"tool_calls,omitempty"`
}

type wireToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	Messages    []wireMessage `json:"messages"`
	Tools       []wireTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
}

type wireTool struct {
	Type     string `json:"type"`
	Function struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	} `json:"function"`
}

type wireResponse struct {
	Choices []struct {
		Message      wireMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Model string `json:"model"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error,omitempty"`
}

// Complete sends one chat-completions request. Non-2xx statuses come back as
// HTTPStatusError so the retry and fallback layers can classify them.
func (c *OpenAICompatibleClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	body, err := json.Marshal(c.toWire(req))
	if err != nil {
		return nil, fmt.Errorf("marshal completion request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion request: %w", err)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("read completion response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &scouterrors.HTTPStatusError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("model %s: status %d: %s", c.model, resp.StatusCode, truncateBody(payload)),
		}
	}

	var wire wireResponse
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("decode completion response: %w", err)
	}
	if wire.Error != nil {
		return nil, fmt.Errorf("model %s: %s: %s", c.model, wire.Error.Type, wire.Error.Message)
	}
	if len(wire.Choices) == 0 {
		return nil, fmt.Errorf("model %s: empty choices", c.model)
	}

	choice := wire.Choices[0]
	out := &CompletionResponse{
		Content:    choice.Message.Content,
		StopReason: choice.FinishReason,
		Model:      wire.Model,
		Usage: TokenUsage{
			PromptTokens:     wire.Usage.PromptTokens,
			CompletionTokens: wire.Usage.CompletionTokens,
			TotalTokens:      wire.Usage.TotalTokens,
		},
	}
	for _, call := range choice.Message.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:           call.ID,
			Name:         call.Function.Name,
			Arguments:    parseArguments(call.Function.Arguments, c.logger),
			RawArguments: call.Function.Arguments,
		})
	}
	return out, nil
}

func (c *OpenAICompatibleClient) toWire(req CompletionRequest) wireRequest {
	wire := wireRequest{
		Model:       c.model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	for _, msg := range req.Messages {
		wm := wireMessage{
			Role:       msg.Role,
			Content:    msg.Content,
			Name:       msg.Name,
			ToolCallID: msg.ToolCallID,
		}
		for _, call := range msg.ToolCalls {
			var wc wireToolCall
			wc.ID = call.ID
			wc.Type = "function"
			wc.Function.Name = call.Name
			if call.RawArguments != "" {
				wc.Function.Arguments = call.RawArguments
			} else if raw, err := json.Marshal(call.Arguments); err == nil {
				wc.Function.Arguments = string(raw)
			} else {
				wc.Function.Arguments = "{}"
			}
			wm.ToolCalls = append(wm.ToolCalls, wc)
		}
		wire.Messages = append(wire.Messages, wm)
	}
	for _, tool := range req.Tools {
		var wt wireTool
		wt.Type = "function"
		wt.Function.Name = tool.Name
		wt.Function.Description = tool.Description
		wt.Function.Parameters = tool.Parameters
		wire.Tools = append(wire.Tools, wt)
	}
	return wire
}

// parseArguments decodes tool-call arguments, repairing malformed JSON
// before giving up.
func parseArguments(raw string, logger logging.Logger) map[string]any {
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err == nil {
		return args
	}
	repaired, err := jsonrepair.JSONRepair(raw)
	if err != nil {
		logger.Warn("unparseable tool arguments: %.120s", raw)
		return nil
	}
	if err := json.Unmarshal([]byte(repaired), &args); err != nil {
		logger.Warn("unparseable tool arguments after repair: %.120s", raw)
		return nil
	}
	return args
}

func truncateBody(payload []byte) string {
	const limit = 300
	if len(payload) <= limit {
		return string(payload)
	}
	return string(payload[:limit]) + "..."
}
