// Package llmclient implements the chat-completion transport shared by
// Debug's Simple, Complex, and Middle sub-tasks (spec.md §4.8): a plain
// HTTP/JSON call against an OpenAI-compatible chat-completions endpoint,
// with per-task model/token-budget selection mirroring
// original_source/util/llm_api.py's get_llm_response.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/codeready-toolchain/speql/pkg/config"
)

// Task names the four call sites Debug drives through this client.
type Task string

const (
	TaskSimple  Task = "simple"
	TaskComplex Task = "complex"
	TaskExplain Task = "explain"
	TaskMiddle  Task = "middle"
)

func (t Task) valid() bool {
	switch t {
	case TaskSimple, TaskComplex, TaskExplain, TaskMiddle:
		return true
	default:
		return false
	}
}

// ErrTimeout signals the call exceeded the configured LLM timeout.
var ErrTimeout = errors.New("llmclient: inference timeout")

// ErrFailed signals any other transport or API failure.
var ErrFailed = errors.New("llmclient: api error")

// defaultMaxTokens matches the reference implementation's default
// max_tokens for simple/complex/explain calls. Middle always overrides to
// 128 regardless of what the caller requests — the prediction is a short
// span of SQL, not a full rewrite.
const defaultMaxTokens = 8192
const middleMaxTokens = 128

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is one Debug call.
type Request struct {
	Task Task
	// Iterator selects the fast model on 0 and the accurate model on any
	// later retry, matching the reference implementation's escalation
	// policy. Middle ignores this and always uses the fast model.
	Iterator  int
	Messages  []Message
	MaxTokens int // 0 uses defaultMaxTokens; ignored for Middle.
	// Predict requests OpenAI's predicted-output optimization, seeded with
	// the final message's content. Only meaningful for TaskComplex;
	// debug.Complex sets it on every rewrite call, and the
	// predict_inference feature flag is not consulted.
	Predict bool
}

// Response is a completed call.
type Response struct {
	Content          string
	PromptTokens     int
	CompletionTokens int
	Elapsed          time.Duration
}

// Client is a chat-completions HTTP client.
type Client struct {
	http          *http.Client
	endpoint      string
	apiKey        string
	fastModel     string
	accurateModel string
	timeout       time.Duration
}

// New builds a Client from the LLM transport config.
func New(cfg config.LLMConfig) *Client {
	return &Client{
		http:          &http.Client{},
		endpoint:      cfg.Endpoint,
		apiKey:        cfg.APIKey,
		fastModel:     cfg.FastModel,
		accurateModel: cfg.AccurateModel,
		timeout:       cfg.Timeout,
	}
}

type chatRequest struct {
	Model      string      `json:"model"`
	Messages   []Message   `json:"messages"`
	MaxTokens  int         `json:"max_tokens"`
	Prediction *prediction `json:"prediction,omitempty"`
}

type prediction struct {
	Type    string `json:"type"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Complete runs one chat-completion call. It never panics and always
// returns a typed error the caller can classify with errors.Is(err,
// ErrTimeout) — unlike the reference implementation, which swallows every
// failure into a sentinel content string; Go callers get to decide how to
// react to a timeout instead of string-matching the response.
func (c *Client) Complete(ctx context.Context, req Request) (Response, error) {
	if !req.Task.valid() {
		return Response{}, fmt.Errorf("%w: invalid task %q", ErrFailed, req.Task)
	}

	model := c.fastModel
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	switch req.Task {
	case TaskMiddle:
		maxTokens = middleMaxTokens
	default:
		if req.Iterator != 0 {
			model = c.accurateModel
		}
	}

	body := chatRequest{Model: model, Messages: req.Messages, MaxTokens: maxTokens}
	if req.Task == TaskComplex && req.Predict && len(req.Messages) > 0 {
		body.Prediction = &prediction{Type: "content", Content: req.Messages[len(req.Messages)-1].Content}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: marshal request: %v", ErrFailed, err)
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(callCtx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("%w: build request: %v", ErrFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		if callCtx.Err() != nil {
			return Response{}, fmt.Errorf("%w: %v", ErrTimeout, err)
		}
		return Response{}, fmt.Errorf("%w: %v", ErrFailed, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("%w: read response: %v", ErrFailed, err)
	}
	if resp.StatusCode == http.StatusGatewayTimeout || resp.StatusCode == http.StatusRequestTimeout {
		return Response{}, fmt.Errorf("%w: status %d", ErrTimeout, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("%w: status %d: %s", ErrFailed, resp.StatusCode, string(raw))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("%w: decode response: %v", ErrFailed, err)
	}
	if len(parsed.Choices) == 0 {
		return Response{}, fmt.Errorf("%w: empty choices", ErrFailed)
	}

	elapsed := time.Since(start)
	slog.Debug("llmclient call complete",
		"task", req.Task, "iterator", req.Iterator, "model", model,
		"elapsed", elapsed, "prompt_tokens", parsed.Usage.PromptTokens,
		"completion_tokens", parsed.Usage.CompletionTokens)

	return Response{
		Content:          parsed.Choices[0].Message.Content,
		PromptTokens:     parsed.Usage.PromptTokens,
		CompletionTokens: parsed.Usage.CompletionTokens,
		Elapsed:          elapsed,
	}, nil
}
