// Package orchestrator owns the conversational service: the tool-calling
// bridge between model responses and skill execution, and the bounded loop
// that drives a conversation turn to completion.
package orchestrator

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/clawinfra/deskclaw/internal/models"
	"github.com/clawinfra/deskclaw/internal/skills"
)

// ToolInvocation is one parsed model-requested skill call.
type ToolInvocation struct {
	ID        string
	SkillID   string
	Arguments map[string]any
}

// ToolDefinitions renders the enabled, AI-callable skills as tool
// declarations in the provider's format. Returns nil when none qualify.
func ToolDefinitions(reg *skills.Registry, provider string) []map[string]any {
	var defs []map[string]any
	for _, meta := range reg.List(skills.ListFilter{Status: skills.StatusEnabled}) {
		if !meta.AICallable {
			continue
		}
		skill, ok := reg.Get(meta.SkillID)
		if !ok {
			continue
		}
		schema := parameterSchema(skill.Parameters())

		if provider == models.ProviderAnthropic {
			defs = append(defs, map[string]any{
				"name":         meta.SkillID,
				"description":  meta.Description,
				"input_schema": schema,
			})
		} else {
			defs = append(defs, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        meta.SkillID,
					"description": meta.Description,
					"parameters":  schema,
				},
			})
		}
	}
	return defs
}

// parameterSchema converts declared skill parameters to a JSON-schema
// object the tool-calling APIs understand.
func parameterSchema(params []skills.Parameter) map[string]any {
	properties := make(map[string]any, len(params))
	var required []string

	for _, p := range params {
		prop := map[string]any{
			"type":        string(p.Type),
			"description": p.Description,
		}
		if len(p.Constraints.Choices) > 0 {
			prop["enum"] = p.Constraints.Choices
		}
		if p.Constraints.Min != nil {
			prop["minimum"] = *p.Constraints.Min
		}
		if p.Constraints.Max != nil {
			prop["maximum"] = *p.Constraints.Max
		}
		if p.Type == skills.TypeArray && p.Constraints.ItemsType != "" {
			prop["items"] = map[string]any{"type": string(p.Constraints.ItemsType)}
		}
		properties[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// BuildToolAwarenessPrompt describes the callable skills in prose, used as
// a system-message preface for models without native tool calling.
func BuildToolAwarenessPrompt(reg *skills.Registry) string {
	var b strings.Builder
	b.WriteString("You have access to the following desktop skills:\n")

	found := false
	for _, meta := range reg.List(skills.ListFilter{Status: skills.StatusEnabled}) {
		if !meta.AICallable {
			continue
		}
		found = true
		fmt.Fprintf(&b, "- %s: %s\n", meta.SkillID, meta.Description)
	}
	if !found {
		return ""
	}
	b.WriteString("Use the tool-calling mechanism to invoke a skill when the user's request calls for one.")
	return b.String()
}

// IsToolCallResponse reports whether a response asks for tool execution.
func IsToolCallResponse(data map[string]any, provider string) bool {
	return len(ParseToolCalls(data, provider)) > 0
}

// ParseToolCalls extracts the requested invocations in response order.
// Malformed entries are skipped rather than failing the whole batch.
func ParseToolCalls(data map[string]any, provider string) []ToolInvocation {
	if data == nil {
		return nil
	}
	if provider == models.ProviderAnthropic {
		if blocks, ok := data["content"].([]any); ok {
			return parseAnthropicBlocks(blocks)
		}
	}
	return parseOpenAICalls(data)
}

func parseOpenAICalls(data map[string]any) []ToolInvocation {
	msg := firstChoiceMessage(data)
	if msg == nil {
		return nil
	}
	rawCalls, ok := msg["tool_calls"].([]any)
	if !ok {
		return nil
	}

	var out []ToolInvocation
	for _, rc := range rawCalls {
		call, ok := rc.(map[string]any)
		if !ok {
			continue
		}
		fn, ok := call["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		if name == "" {
			continue
		}

		args := make(map[string]any)
		if rawArgs, _ := fn["arguments"].(string); rawArgs != "" {
			// broken argument JSON degrades to an empty parameter map
			_ = json.Unmarshal([]byte(rawArgs), &args)
		}

		id, _ := call["id"].(string)
		out = append(out, ToolInvocation{ID: id, SkillID: name, Arguments: args})
	}
	return out
}

func parseAnthropicBlocks(blocks []any) []ToolInvocation {
	var out []ToolInvocation
	for _, b := range blocks {
		block, ok := b.(map[string]any)
		if !ok || block["type"] != "tool_use" {
			continue
		}
		name, _ := block["name"].(string)
		if name == "" {
			continue
		}
		args, _ := block["input"].(map[string]any)
		if args == nil {
			args = make(map[string]any)
		}
		id, _ := block["id"].(string)
		out = append(out, ToolInvocation{ID: id, SkillID: name, Arguments: args})
	}
	return out
}

// FormatAssistantToolCallMessage reconstructs the assistant turn that
// requested the tools, for appending to the message list.
func FormatAssistantToolCallMessage(data map[string]any, provider string) models.ChatMessage {
	if provider == models.ProviderAnthropic {
		if blocks, ok := data["content"].([]any); ok {
			return models.ChatMessage{Role: "assistant", Content: blocks}
		}
	}

	msg := firstChoiceMessage(data)
	out := models.ChatMessage{Role: "assistant", Content: ""}
	if msg == nil {
		return out
	}
	if content, _ := msg["content"].(string); content != "" {
		out.Content = content
	}
	if rawCalls, ok := msg["tool_calls"].([]any); ok {
		for _, rc := range rawCalls {
			call, ok := rc.(map[string]any)
			if !ok {
				continue
			}
			fn, _ := call["function"].(map[string]any)
			if fn == nil {
				continue
			}
			id, _ := call["id"].(string)
			name, _ := fn["name"].(string)
			args, _ := fn["arguments"].(string)
			out.ToolCalls = append(out.ToolCalls, models.ToolCall{
				ID:   id,
				Type: "function",
				Function: models.ToolFunction{Name: name, Arguments: args},
			})
		}
	}
	return out
}

// renderResult flattens a skill result into the text handed back to the
// model.
func renderResult(result *skills.Result) string {
	if result == nil {
		return "no result"
	}
	text := result.Message
	if !result.Success && result.Error != "" {
		text = fmt.Sprintf("%s (error: %s)", text, result.Error)
	}
	if len(result.Data) > 0 {
		if raw, err := json.Marshal(result.Data); err == nil {
			text = text + "\n" + string(raw)
		}
	}
	return text
}

// FormatToolResult renders one executed result as a message in the
// provider's expected shape.
func FormatToolResult(callID string, result *skills.Result, provider string) models.ChatMessage {
	if provider == models.ProviderAnthropic {
		return models.ChatMessage{
			Role: "user",
			Content: []any{anthropicResultBlock(callID, result)},
		}
	}
	return models.ChatMessage{
		Role:       "tool",
		Content:    renderResult(result),
		ToolCallID: callID,
	}
}

// FormatToolResultBatch renders a whole iteration's results. Anthropic
// batches multiple results into a single user message with one block per
// result; every other provider (and a single Anthropic result) gets one
// message per result.
func FormatToolResultBatch(callIDs []string, results []*skills.Result, provider string) []models.ChatMessage {
	if provider == models.ProviderAnthropic && len(results) > 1 {
		blocks := make([]any, 0, len(results))
		for i, result := range results {
			blocks = append(blocks, anthropicResultBlock(callIDs[i], result))
		}
		return []models.ChatMessage{{Role: "user", Content: blocks}}
	}

	out := make([]models.ChatMessage, 0, len(results))
	for i, result := range results {
		out = append(out, FormatToolResult(callIDs[i], result, provider))
	}
	return out
}

func anthropicResultBlock(callID string, result *skills.Result) map[string]any {
	return map[string]any{
		"type":        "tool_result",
		"tool_use_id": callID,
		"content":     renderResult(result),
	}
}

func firstChoiceMessage(data map[string]any) map[string]any {
	choices, ok := data["choices"].([]any)
	if !ok || len(choices) == 0 {
		return nil
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return nil
	}
	msg, _ := choice["message"].(map[string]any)
	return msg
}
