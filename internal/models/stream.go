package models

import (
	"bufio"
	"encoding/json"
	"io"
	"net/http"
	"sort"
	"strings"
)

// streamAssembler accumulates SSE deltas into the pieces of one assistant
// message. It understands both the OpenAI chunk vocabulary
// (choices[0].delta) and the Anthropic event vocabulary
// (content_block_delta / message_delta).
type streamAssembler struct {
	content      strings.Builder
	reasoning    strings.Builder
	toolCalls    map[int]*toolCallAccum
	finishReason string
	usage        map[string]any
}

type toolCallAccum struct {
	id        string
	name      strings.Builder
	arguments strings.Builder
}

func newStreamAssembler() *streamAssembler {
	return &streamAssembler{toolCalls: make(map[int]*toolCallAccum)}
}

// feed consumes one SSE data payload. Malformed chunks are skipped.
func (a *streamAssembler) feed(raw []byte) {
	var chunk map[string]any
	if err := json.Unmarshal(raw, &chunk); err != nil {
		return
	}

	// Anthropic events carry a type discriminator.
	if t, _ := chunk["type"].(string); t != "" {
		a.feedAnthropic(t, chunk)
		return
	}
	a.feedOpenAI(chunk)
}

func (a *streamAssembler) feedOpenAI(chunk map[string]any) {
	choices, ok := chunk["choices"].([]any)
	if !ok || len(choices) == 0 {
		return
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return
	}

	if reason, _ := choice["finish_reason"].(string); reason != "" {
		a.finishReason = reason
	}
	if usage, ok := chunk["usage"].(map[string]any); ok {
		a.usage = usage
	}

	delta, ok := choice["delta"].(map[string]any)
	if !ok {
		return
	}

	if text, _ := delta["content"].(string); text != "" {
		a.content.WriteString(text)
	}

	// Reasoning text arrives either as a plain string or as an array of
	// {text: ...} segments depending on the backend.
	switch r := delta["reasoning_content"].(type) {
	case string:
		a.reasoning.WriteString(r)
	case []any:
		for _, seg := range r {
			if m, ok := seg.(map[string]any); ok {
				if text, _ := m["text"].(string); text != "" {
					a.reasoning.WriteString(text)
				}
			}
		}
	}
	if r, _ := delta["reasoning"].(string); r != "" {
		a.reasoning.WriteString(r)
	}

	calls, ok := delta["tool_calls"].([]any)
	if !ok {
		return
	}
	for _, c := range calls {
		frag, ok := c.(map[string]any)
		if !ok {
			continue
		}
		idx := 0
		if f, ok := frag["index"].(float64); ok {
			idx = int(f)
		}
		accum := a.toolCalls[idx]
		if accum == nil {
			accum = &toolCallAccum{}
			a.toolCalls[idx] = accum
		}
		if id, _ := frag["id"].(string); id != "" {
			accum.id = id
		}
		if fn, ok := frag["function"].(map[string]any); ok {
			if name, _ := fn["name"].(string); name != "" {
				accum.name.WriteString(name)
			}
			if args, _ := fn["arguments"].(string); args != "" {
				accum.arguments.WriteString(args)
			}
		}
	}
}

func (a *streamAssembler) feedAnthropic(eventType string, chunk map[string]any) {
	switch eventType {
	case "content_block_delta":
		delta, ok := chunk["delta"].(map[string]any)
		if !ok {
			return
		}
		switch dt, _ := delta["type"].(string); dt {
		case "text_delta":
			if text, _ := delta["text"].(string); text != "" {
				a.content.WriteString(text)
			}
		case "thinking_delta":
			if text, _ := delta["thinking"].(string); text != "" {
				a.reasoning.WriteString(text)
			}
		}

	case "message_delta":
		if delta, ok := chunk["delta"].(map[string]any); ok {
			if reason, _ := delta["stop_reason"].(string); reason != "" {
				a.finishReason = reason
			}
		}
		if usage, ok := chunk["usage"].(map[string]any); ok {
			a.usage = usage
		}
	}
}

// assemble produces a response body shaped identically to the
// non-streaming choices[0].message form.
func (a *streamAssembler) assemble() map[string]any {
	message := map[string]any{
		"role":    "assistant",
		"content": a.content.String(),
	}
	if a.reasoning.Len() > 0 {
		message["reasoning_content"] = a.reasoning.String()
	}

	if len(a.toolCalls) > 0 {
		indexes := make([]int, 0, len(a.toolCalls))
		for idx := range a.toolCalls {
			indexes = append(indexes, idx)
		}
		sort.Ints(indexes)

		calls := make([]any, 0, len(indexes))
		for _, idx := range indexes {
			accum := a.toolCalls[idx]
			calls = append(calls, map[string]any{
				"id":   accum.id,
				"type": "function",
				"function": map[string]any{
					"name":      accum.name.String(),
					"arguments": accum.arguments.String(),
				},
			})
		}
		message["tool_calls"] = calls
	}

	body := map[string]any{
		"choices": []any{
			map[string]any{
				"index":         float64(0),
				"message":       message,
				"finish_reason": a.finishReason,
			},
		},
	}
	if a.usage != nil {
		body["usage"] = a.usage
	}
	return body
}

// assembleStream reads a text/event-stream body to completion and returns
// the assembled response. Lines without a data: prefix are ignored; a
// [DONE] payload ends the stream.
func assembleStream(r io.Reader, status int, headers http.Header) *APIResponse {
	assembler := newStreamAssembler()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		if payload == "" {
			continue
		}
		assembler.feed([]byte(payload))
	}
	if err := scanner.Err(); err != nil {
		return &APIResponse{Success: false, Error: "stream read: " + err.Error(), StatusCode: status}
	}

	return &APIResponse{
		Success:    true,
		Data:       assembler.assemble(),
		StatusCode: status,
		Headers:    headers,
	}
}
