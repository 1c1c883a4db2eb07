package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clawinfra/deskclaw/internal/config"
)

const anthropicVersion = "2023-06-01"

// Client talks to one chat-completions endpoint. It holds no cross-request
// mutable state beyond the configuration set at construction.
type Client struct {
	baseURL    string
	apiKey     string
	provider   string
	maxRetries int
	httpClient *http.Client
	logger     *slog.Logger

	// sleep is swappable so retry timing is testable.
	sleep func(time.Duration)
}

// NewClient builds a client from the AI config section.
func NewClient(cfg config.AIConfig, logger *slog.Logger) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		provider:   DetectProvider(cfg.BaseURL),
		maxRetries: cfg.MaxRetries,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "api-client"),
		sleep:      time.Sleep,
	}
}

// Provider returns the detected provider tag.
func (c *Client) Provider() string { return c.provider }

// DetectProvider infers the provider family from the base URL.
func DetectProvider(baseURL string) string {
	u := strings.ToLower(baseURL)
	switch {
	case strings.Contains(u, "anthropic"):
		return ProviderAnthropic
	case strings.Contains(u, "localhost:11434"), strings.Contains(u, "ollama"):
		return ProviderOllama
	default:
		return ProviderOpenAI
	}
}

// reasoningModelPrefixes name model families that reject max_tokens and
// require max_completion_tokens instead.
var reasoningModelPrefixes = []string{"o1", "o3", "o4", "gpt-5"}

func isReasoningModel(model string) bool {
	m := strings.ToLower(model)
	for _, p := range reasoningModelPrefixes {
		if strings.HasPrefix(m, p) {
			return true
		}
	}
	return false
}

// tokenField picks the token-limit field name for a model.
func tokenField(model string) string {
	if isReasoningModel(model) {
		return "max_completion_tokens"
	}
	return "max_tokens"
}

func alternateTokenField(field string) string {
	if field == "max_tokens" {
		return "max_completion_tokens"
	}
	return "max_tokens"
}

// mentionsBothTokenFields reports whether an error body names both token
// field spellings, the signature of a model wanting the other one.
func mentionsBothTokenFields(body string) bool {
	return strings.Contains(body, "max_tokens") && strings.Contains(body, "max_completion_tokens")
}

func (c *Client) buildBody(req ChatRequest, field string, stream bool) map[string]any {
	body := map[string]any{
		"model":       req.Model,
		"messages":    req.Messages,
		"temperature": req.Temperature,
	}
	if stream {
		body["stream"] = true
	}
	if req.MaxTokens > 0 {
		body[field] = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		body["tools"] = req.Tools
	}
	if req.Verbosity != "" {
		body["verbosity"] = req.Verbosity
	}
	if req.ReasoningEffort != "" {
		body["reasoning_effort"] = req.ReasoningEffort
	}
	return body
}

func (c *Client) newRequest(ctx context.Context, payload map[string]any) (*http.Request, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if c.provider == ProviderAnthropic {
		httpReq.Header.Set("x-api-key", c.apiKey)
		httpReq.Header.Set("anthropic-version", anthropicVersion)
	} else if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	return httpReq, nil
}

// send runs the retry loop: max_retries+1 attempts, exponential backoff on
// 5xx and transport faults, retry-after on 429. It returns either a live
// response (2xx or a non-retryable status) or a structured failure.
func (c *Client) send(ctx context.Context, payload map[string]any) (*http.Response, *APIResponse) {
	var lastErr string
	var lastStatus int

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request", "attempt", attempt, "last_status", lastStatus)
		}

		httpReq, err := c.newRequest(ctx, payload)
		if err != nil {
			return nil, &APIResponse{Success: false, Error: err.Error()}
		}

		resp, err := c.httpClient.Do(httpReq)
		if err != nil {
			// transport fault: timeout, connection refused, DNS
			lastErr = err.Error()
			lastStatus = 0
			if attempt < c.maxRetries {
				c.sleep(backoff(attempt))
			}
			continue
		}

		switch {
		case resp.StatusCode >= 500:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = extractAPIError(body, resp.StatusCode)
			lastStatus = resp.StatusCode
			if attempt < c.maxRetries {
				c.sleep(backoff(attempt))
			}

		case resp.StatusCode == http.StatusTooManyRequests:
			wait := backoff(attempt)
			if ra := resp.Header.Get("retry-after"); ra != "" {
				if secs, err := strconv.Atoi(ra); err == nil && secs >= 0 {
					wait = time.Duration(secs) * time.Second
				}
			}
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			lastErr = extractAPIError(body, resp.StatusCode)
			lastStatus = resp.StatusCode
			if attempt < c.maxRetries {
				c.sleep(wait)
			}

		default:
			return resp, nil
		}
	}

	return nil, &APIResponse{
		Success:    false,
		Error:      fmt.Sprintf("request failed after %d attempts: %s", c.maxRetries+1, lastErr),
		StatusCode: lastStatus,
	}
}

// ChatCompletion issues a non-streaming chat completion. Faults never
// surface as Go errors; the caller always gets a structured APIResponse.
func (c *Client) ChatCompletion(ctx context.Context, req ChatRequest) *APIResponse {
	field := tokenField(req.Model)
	res := c.complete(ctx, req, field, false)

	// A 400 naming both token-field spellings means the model wants the
	// other one; retry exactly once with the field swapped.
	if !res.Success && res.StatusCode == http.StatusBadRequest && mentionsBothTokenFields(res.Error) {
		c.logger.Info("retrying with alternate token field", "model", req.Model, "field", alternateTokenField(field))
		res = c.complete(ctx, req, alternateTokenField(field), false)
	}
	return res
}

func (c *Client) complete(ctx context.Context, req ChatRequest, field string, stream bool) *APIResponse {
	resp, failure := c.send(ctx, c.buildBody(req, field, stream))
	if failure != nil {
		return failure
	}
	defer resp.Body.Close()

	if stream && resp.StatusCode < 300 {
		return assembleStream(resp.Body, resp.StatusCode, resp.Header)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &APIResponse{Success: false, Error: "read response: " + err.Error(), StatusCode: resp.StatusCode}
	}

	if resp.StatusCode >= 300 {
		return &APIResponse{
			Success:    false,
			Error:      extractAPIError(body, resp.StatusCode),
			StatusCode: resp.StatusCode,
			Headers:    resp.Header,
		}
	}

	var data map[string]any
	if err := json.Unmarshal(body, &data); err != nil {
		return &APIResponse{Success: false, Error: "malformed response JSON: " + err.Error(), StatusCode: resp.StatusCode}
	}

	return &APIResponse{Success: true, Data: data, StatusCode: resp.StatusCode, Headers: resp.Header}
}

// ChatCompletionStream issues the same request with stream=true and
// assembles the SSE deltas into a response shaped exactly like the
// non-streaming one, so callers never branch on transport mode.
func (c *Client) ChatCompletionStream(ctx context.Context, req ChatRequest) *APIResponse {
	field := tokenField(req.Model)
	res := c.complete(ctx, req, field, true)

	if !res.Success && res.StatusCode == http.StatusBadRequest && mentionsBothTokenFields(res.Error) {
		c.logger.Info("retrying stream with alternate token field", "model", req.Model, "field", alternateTokenField(field))
		res = c.complete(ctx, req, alternateTokenField(field), true)
	}
	return res
}

// backoff returns the exponential wait before retry attempt+1: 1s, 2s, 4s,
// capped at 30s.
func backoff(attempt int) time.Duration {
	d := time.Second << uint(attempt)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

// extractAPIError pulls the provider's error message out of a failure body.
func extractAPIError(body []byte, status int) string {
	var envelope struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Sprintf("HTTP %d: %s", status, envelope.Error.Message)
	}

	text := strings.TrimSpace(string(body))
	if len(text) > 512 {
		text = text[:512]
	}
	if text == "" {
		return fmt.Sprintf("HTTP %d", status)
	}
	return fmt.Sprintf("HTTP %d: %s", status, text)
}
