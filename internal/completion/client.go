// Package completion calls the upstream text-generation endpoint over the
// OpenAI-compatible chat completions wire format. Works with OpenRouter,
// DeepSeek, vLLM, and other compatible providers.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 120 * time.Second

var (
	// ErrTimeout marks a call abandoned after the hard per-call timeout.
	ErrTimeout = errors.New("completion timed out")
	// ErrUpstream marks transport errors, non-success statuses, and
	// malformed response bodies.
	ErrUpstream = errors.New("completion failed")
)

// Message is one {role, content} pair in the ordered prompt.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the full prompt for one generation call.
type Request struct {
	Messages    []Message
	Model       string
	Temperature float64
	MaxTokens   int
}

// Result is a complete generation. No partial output is modeled: a call
// either yields the whole text or fails.
type Result struct {
	Text  string
	Model string
	Usage Usage
}

// Usage is the upstream-reported token breakdown.
type Usage struct {
	Prompt     int
	Completion int
	Total      int
}

// Config wires the client to one upstream endpoint.
type Config struct {
	BaseURL string // includes the /v1 prefix
	APIKey  string
	Referer string
	Timeout time.Duration
	// HTTPClient overrides the transport, mainly for tests.
	HTTPClient *http.Client
}

// Client issues one outbound call per inbound user message. It never retries:
// a failure is reported upward and the relay decides what to tell the user.
type Client struct {
	baseURL    string
	apiKey     string
	referer    string
	timeout    time.Duration
	httpClient *http.Client
}

// NewClient builds the upstream client.
func NewClient(cfg Config) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, errors.New("completion base URL required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     strings.TrimSpace(cfg.APIKey),
		referer:    strings.TrimSpace(cfg.Referer),
		timeout:    timeout,
		httpClient: httpClient,
	}, nil
}

// Complete performs a single attempt against the upstream endpoint. Timeouts
// surface as ErrTimeout; every other failure wraps ErrUpstream.
func (c *Client) Complete(ctx context.Context, req Request) (Result, error) {
	if len(req.Messages) == 0 {
		return Result{}, fmt.Errorf("%w: empty prompt", ErrUpstream)
	}
	if strings.TrimSpace(req.Model) == "" {
		return Result{}, fmt.Errorf("%w: model required", ErrUpstream)
	}

	body, err := json.Marshal(wireRequest{
		Model:       req.Model,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      false,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: encode request: %v", ErrUpstream, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.referer != "" {
		// OpenRouter requires a referer and recommends a title.
		httpReq.Header.Set("HTTP-Referer", c.referer)
		httpReq.Header.Set("X-Title", "Venus AI")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, ErrTimeout
		}
		return Result{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errResp wireError
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		if errResp.Error.Message != "" {
			return Result{}, fmt.Errorf("%w: status %d: %s", ErrUpstream, resp.StatusCode, errResp.Error.Message)
		}
		return Result{}, fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	var wire wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return Result{}, ErrTimeout
		}
		return Result{}, fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}
	if len(wire.Choices) == 0 {
		return Result{}, fmt.Errorf("%w: no choices in response", ErrUpstream)
	}
	text := wire.Choices[0].Message.Content
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: empty generated text", ErrUpstream)
	}
	model := wire.Model
	if model == "" {
		model = req.Model
	}
	return Result{
		Text:  text,
		Model: model,
		Usage: Usage{
			Prompt:     wire.Usage.PromptTokens,
			Completion: wire.Usage.CompletionTokens,
			Total:      wire.Usage.TotalTokens,
		},
	}, nil
}

// OpenAI-compatible wire types.

type wireRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	Stream      bool      `json:"stream"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type wireError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}
