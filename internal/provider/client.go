package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/screenloom/backend/internal/models"
)

const (
	requestTimeout = 120 * time.Second
	maxToolRounds  = 4
)

// Request is one completion call. ForceJSON constrains the model to a JSON
// object response; AllowTools exposes the image-search tool.
type Request struct {
	System     string
	Prompt     string
	ForceJSON  bool
	AllowTools bool
}

// Response carries the model output and the token usage of every round that
// produced it (tool rounds included).
type Response struct {
	Content string
	Usage   models.TokenCounts
}

// Client is the generation provider contract consumed by the planner and the
// screen generator.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// ImageSearcher resolves image-search tool calls. External collaborator; the
// default implementation returns deterministic placeholder URLs.
type ImageSearcher interface {
	Search(ctx context.Context, query string, count int) ([]string, error)
}

// HTTPClient talks to an OpenAI-compatible chat-completions endpoint.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	images     ImageSearcher
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, apiKey, model string, images ImageSearcher, logger *slog.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: requestTimeout},
		images:     images,
		logger:     logger,
	}
}

var _ Client = (*HTTPClient)(nil)

type chatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []toolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type toolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	Tools          []json.RawMessage `json:"tools,omitempty"`
	ResponseFormat *responseFormat   `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

var imageSearchTool = json.RawMessage(`{
	"type": "function",
	"function": {
		"name": "image_search",
		"description": "Search for stock photo URLs matching a query.",
		"parameters": {
			"type": "object",
			"properties": {
				"query": {"type": "string"},
				"count": {"type": "integer"}
			},
			"required": ["query"]
		}
	}
}`)

// Complete runs the chat call, resolving image-search tool calls for up to
// maxToolRounds rounds. Usage from every round is accumulated into the
// returned Response so billing sees all tokens spent.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (*Response, error) {
	messages := []chatMessage{}
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})

	var usage models.TokenCounts
	for round := 0; ; round++ {
		body := chatRequest{Model: c.model, Messages: messages}
		if req.ForceJSON {
			body.ResponseFormat = &responseFormat{Type: "json_object"}
		}
		if req.AllowTools && round < maxToolRounds {
			body.Tools = []json.RawMessage{imageSearchTool}
		}

		resp, err := c.send(ctx, body)
		if err != nil {
			return nil, err
		}
		usage = usage.Add(models.TokenCounts{
			Total:      resp.Usage.TotalTokens,
			Prompt:     resp.Usage.PromptTokens,
			Completion: resp.Usage.CompletionTokens,
		})
		if len(resp.Choices) == 0 {
			return nil, fmt.Errorf("provider returned no choices")
		}
		msg := resp.Choices[0].Message
		if len(msg.ToolCalls) == 0 || round >= maxToolRounds {
			return &Response{Content: msg.Content, Usage: usage}, nil
		}

		messages = append(messages, msg)
		for _, tc := range msg.ToolCalls {
			result := c.runTool(ctx, tc)
			messages = append(messages, chatMessage{Role: "tool", Content: result, ToolCallID: tc.ID})
		}
	}
}

func (c *HTTPClient) send(ctx context.Context, body chatRequest) (*chatResponse, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("provider call: %w", err)
	}
	defer httpResp.Body.Close()

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		return nil, fmt.Errorf("provider returned status %d", httpResp.StatusCode)
	}
	var resp chatResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decode provider response: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) runTool(ctx context.Context, tc toolCall) string {
	if tc.Function.Name != "image_search" {
		return `{"error":"unknown tool"}`
	}
	var args struct {
		Query string `json:"query"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
		return `{"error":"invalid arguments"}`
	}
	if args.Count <= 0 {
		args.Count = 3
	}
	urls, err := c.images.Search(ctx, args.Query, args.Count)
	if err != nil {
		c.logger.Warn("image search failed", "query", args.Query, "error", err)
		return `{"urls":[]}`
	}
	out, _ := json.Marshal(map[string][]string{"urls": urls})
	return string(out)
}
