// Package models is the HTTP transport to chat-completion endpoints. It
// hides provider differences (OpenAI, Anthropic, OpenAI-compatible local
// servers) behind one client with retrying requests and SSE stream assembly.
package models

import "net/http"

// Provider tags returned by DetectProvider.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// ChatMessage is one wire-format message. Content is usually a string but
// Anthropic tool results carry structured block lists, so it stays open.
type ChatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is a model-requested function invocation.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

// ToolFunction carries the function name and its JSON-encoded arguments.
type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ChatRequest is the provider-independent request shape. The client maps it
// to the provider's exact field names.
type ChatRequest struct {
	Model       string
	Messages    []ChatMessage
	Temperature float64
	MaxTokens   int
	Tools       []map[string]any
	// Verbosity and ReasoningEffort are forwarded only when set; newer
	// OpenAI model families accept them.
	Verbosity       string
	ReasoningEffort string
}

// APIResponse is the structured outcome of one chat-completion call. The
// client never returns a Go error to its caller: transport and protocol
// faults all land here with Success=false.
type APIResponse struct {
	Success    bool           `json:"success"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	StatusCode int            `json:"status_code,omitempty"`
	Headers    http.Header    `json:"-"`
}

// Content extracts the assistant text from choices[0].message.content, or
// "" when the response has no such field.
func (r *APIResponse) Content() string {
	if r == nil || r.Data == nil {
		return ""
	}
	choices, ok := r.Data["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	msg, ok := choice["message"].(map[string]any)
	if !ok {
		return ""
	}
	content, _ := msg["content"].(string)
	return content
}

// FinishReason extracts choices[0].finish_reason, or "".
func (r *APIResponse) FinishReason() string {
	if r == nil || r.Data == nil {
		return ""
	}
	choices, ok := r.Data["choices"].([]any)
	if !ok || len(choices) == 0 {
		return ""
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return ""
	}
	reason, _ := choice["finish_reason"].(string)
	return reason
}
