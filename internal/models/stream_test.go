package models

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func sse(lines ...string) string {
	return strings.Join(lines, "\n") + "\n"
}

func TestAssembleTextDeltas(t *testing.T) {
	body := sse(
		`data: {"choices":[{"delta":{"role":"assistant","content":"Hel"}}]}`,
		``,
		`: keep-alive comment`,
		`data: {"choices":[{"delta":{"content":"lo"}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
		`data: [DONE]`,
	)

	res := assembleStream(strings.NewReader(body), 200, nil)
	if !res.Success {
		t.Fatalf("assembly failed: %+v", res)
	}
	if res.Content() != "Hello" {
		t.Errorf("Content = %q, want Hello", res.Content())
	}
	if res.FinishReason() != "stop" {
		t.Errorf("FinishReason = %q, want stop", res.FinishReason())
	}

	// same shape as a non-streaming body
	choices := res.Data["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	if msg["role"] != "assistant" {
		t.Errorf("message role = %v", msg["role"])
	}
}

func TestAssembleToolCallFragments(t *testing.T) {
	body := sse(
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"web_","arguments":""}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"name":"search","arguments":"{\"query\":"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_2","function":{"name":"email","arguments":"{}"}}]}}]}`,
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"go\"}"}}]}}]}`,
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}`,
		`data: [DONE]`,
	)

	res := assembleStream(strings.NewReader(body), 200, nil)
	if !res.Success {
		t.Fatalf("assembly failed: %+v", res)
	}

	choices := res.Data["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	calls, ok := msg["tool_calls"].([]any)
	if !ok || len(calls) != 2 {
		t.Fatalf("tool_calls = %v", msg["tool_calls"])
	}

	first := calls[0].(map[string]any)
	fn := first["function"].(map[string]any)
	if first["id"] != "call_1" || fn["name"] != "web_search" {
		t.Errorf("first call = %v", first)
	}
	if fn["arguments"] != `{"query":"go"}` {
		t.Errorf("arguments = %q", fn["arguments"])
	}

	second := calls[1].(map[string]any)
	if second["id"] != "call_2" {
		t.Errorf("index order broken: %v", second)
	}
}

func TestAssembleReasoningVariants(t *testing.T) {
	body := sse(
		`data: {"choices":[{"delta":{"reasoning_content":"thinking "}}]}`,
		`data: {"choices":[{"delta":{"reasoning_content":[{"text":"in "},{"text":"segments"}]}}]}`,
		`data: {"choices":[{"delta":{"content":"answer"}}]}`,
		`data: [DONE]`,
	)

	res := assembleStream(strings.NewReader(body), 200, nil)
	choices := res.Data["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)

	if msg["reasoning_content"] != "thinking in segments" {
		t.Errorf("reasoning_content = %q", msg["reasoning_content"])
	}
	if msg["content"] != "answer" {
		t.Errorf("content = %q", msg["content"])
	}
}

func TestAssembleAnthropicEvents(t *testing.T) {
	body := sse(
		`data: {"type":"message_start","message":{"role":"assistant"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"thinking_delta","thinking":"hmm"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"Hel"}}`,
		`data: {"type":"content_block_delta","delta":{"type":"text_delta","text":"lo"}}`,
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":5}}`,
		`data: [DONE]`,
	)

	res := assembleStream(strings.NewReader(body), 200, nil)
	if res.Content() != "Hello" {
		t.Errorf("Content = %q", res.Content())
	}
	if res.FinishReason() != "end_turn" {
		t.Errorf("FinishReason = %q", res.FinishReason())
	}

	choices := res.Data["choices"].([]any)
	msg := choices[0].(map[string]any)["message"].(map[string]any)
	if msg["reasoning_content"] != "hmm" {
		t.Errorf("reasoning_content = %q", msg["reasoning_content"])
	}
	usage, ok := res.Data["usage"].(map[string]any)
	if !ok || usage["output_tokens"] != float64(5) {
		t.Errorf("usage = %v", res.Data["usage"])
	}
}

func TestAssembleSkipsMalformedChunks(t *testing.T) {
	body := sse(
		`data: {broken json`,
		`data: {"choices":[{"delta":{"content":"ok"}}]}`,
		`data: [DONE]`,
	)

	res := assembleStream(strings.NewReader(body), 200, nil)
	if !res.Success || res.Content() != "ok" {
		t.Errorf("malformed chunk must be skipped: %+v", res)
	}
}

func TestChatCompletionStreamEndToEnd(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte(sse(
			`data: {"choices":[{"delta":{"content":"streamed "}}]}`,
			`data: {"choices":[{"delta":{"content":"reply"}}]}`,
			`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}`,
			`data: [DONE]`,
		)))
	}))
	defer srv.Close()

	c, _ := newTestClient(srv.URL, 0)
	res := c.ChatCompletionStream(context.Background(), ChatRequest{
		Model:    "gpt-4o-mini",
		Messages: []ChatMessage{{Role: "user", Content: "hi"}},
	})

	if !res.Success {
		t.Fatalf("stream failed: %+v", res)
	}
	if res.Content() != "streamed reply" {
		t.Errorf("Content = %q", res.Content())
	}
	if res.FinishReason() != "stop" {
		t.Errorf("FinishReason = %q", res.FinishReason())
	}
}
