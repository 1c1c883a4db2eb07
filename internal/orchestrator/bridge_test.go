package orchestrator

import (
	"encoding/json"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/clawinfra/deskclaw/internal/models"
	"github.com/clawinfra/deskclaw/internal/skills"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testRegistry(t *testing.T) *skills.Registry {
	t.Helper()
	reg := skills.NewRegistry(testLogger())

	callable := &fakeSkill{
		meta: skills.Metadata{
			SkillID:     "web_search",
			Name:        "Web Search",
			Description: "Searches the web",
			Category:    "information",
			AICallable:  true,
		},
		params: []skills.Parameter{
			{Name: "query", Type: skills.TypeString, Required: true, Description: "Search query"},
			{Name: "limit", Type: skills.TypeInteger, Description: "Result cap"},
		},
	}
	hidden := &fakeSkill{
		meta: skills.Metadata{
			SkillID:     "internal_only",
			Name:        "Internal",
			Description: "Not model-callable",
			Category:    "internal",
			AICallable:  false,
		},
	}
	disabled := &fakeSkill{
		meta: skills.Metadata{
			SkillID:     "switched_off",
			Name:        "Off",
			Description: "Disabled skill",
			Category:    "internal",
			AICallable:  true,
		},
	}

	for _, s := range []*fakeSkill{callable, hidden, disabled} {
		if err := reg.Register(s); err != nil {
			t.Fatal(err)
		}
	}
	reg.SetStatus("web_search", skills.StatusEnabled)
	reg.SetStatus("internal_only", skills.StatusEnabled)
	return reg
}

func TestToolDefinitionsOpenAI(t *testing.T) {
	defs := ToolDefinitions(testRegistry(t), models.ProviderOpenAI)
	if len(defs) != 1 {
		t.Fatalf("got %d definitions, want only the enabled AI-callable skill", len(defs))
	}

	fn := defs[0]["function"].(map[string]any)
	if fn["name"] != "web_search" {
		t.Errorf("name = %v", fn["name"])
	}
	schema := fn["parameters"].(map[string]any)
	props := schema["properties"].(map[string]any)
	if _, ok := props["query"]; !ok {
		t.Error("query property missing from schema")
	}
	required := schema["required"].([]string)
	if len(required) != 1 || required[0] != "query" {
		t.Errorf("required = %v", required)
	}
}

func TestToolDefinitionsAnthropic(t *testing.T) {
	defs := ToolDefinitions(testRegistry(t), models.ProviderAnthropic)
	if len(defs) != 1 {
		t.Fatalf("got %d definitions", len(defs))
	}
	if defs[0]["name"] != "web_search" {
		t.Errorf("name = %v", defs[0]["name"])
	}
	if _, ok := defs[0]["input_schema"].(map[string]any); !ok {
		t.Error("anthropic definition must carry input_schema")
	}
}

func TestBuildToolAwarenessPrompt(t *testing.T) {
	prompt := BuildToolAwarenessPrompt(testRegistry(t))
	if prompt == "" {
		t.Fatal("expected a prompt for the callable skill")
	}
	if !contains(prompt, "web_search") {
		t.Errorf("prompt missing skill id: %q", prompt)
	}
	if contains(prompt, "internal_only") || contains(prompt, "switched_off") {
		t.Errorf("prompt leaks non-callable skills: %q", prompt)
	}

	empty := skills.NewRegistry(testLogger())
	if got := BuildToolAwarenessPrompt(empty); got != "" {
		t.Errorf("empty registry should yield no prompt, got %q", got)
	}
}

func openAIToolCallResponse() map[string]any {
	raw := `{
		"choices": [{
			"message": {
				"role": "assistant",
				"content": null,
				"tool_calls": [
					{"id": "call_1", "type": "function", "function": {"name": "web_search", "arguments": "{\"query\": \"go\"}"}},
					{"id": "call_2", "type": "function", "function": {"name": "email", "arguments": "not json"}}
				]
			},
			"finish_reason": "tool_calls"
		}]
	}`
	var data map[string]any
	_ = json.Unmarshal([]byte(raw), &data)
	return data
}

func anthropicToolCallResponse() map[string]any {
	raw := `{
		"content": [
			{"type": "text", "text": "Let me look that up."},
			{"type": "tool_use", "id": "toolu_1", "name": "web_search", "input": {"query": "go"}},
			{"type": "tool_use", "id": "toolu_2", "name": "email", "input": {}}
		],
		"stop_reason": "tool_use"
	}`
	var data map[string]any
	_ = json.Unmarshal([]byte(raw), &data)
	return data
}

func TestParseToolCallsOpenAI(t *testing.T) {
	calls := ParseToolCalls(openAIToolCallResponse(), models.ProviderOpenAI)
	if len(calls) != 2 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].ID != "call_1" || calls[0].SkillID != "web_search" {
		t.Errorf("first call = %+v", calls[0])
	}
	if calls[0].Arguments["query"] != "go" {
		t.Errorf("arguments = %v", calls[0].Arguments)
	}
	// broken argument JSON degrades to an empty map, not a dropped call
	if calls[1].SkillID != "email" || len(calls[1].Arguments) != 0 {
		t.Errorf("second call = %+v", calls[1])
	}
}

func TestParseToolCallsAnthropic(t *testing.T) {
	calls := ParseToolCalls(anthropicToolCallResponse(), models.ProviderAnthropic)
	if len(calls) != 2 {
		t.Fatalf("got %d calls", len(calls))
	}
	if calls[0].ID != "toolu_1" || calls[0].SkillID != "web_search" || calls[0].Arguments["query"] != "go" {
		t.Errorf("first call = %+v", calls[0])
	}
}

func TestIsToolCallResponse(t *testing.T) {
	if !IsToolCallResponse(openAIToolCallResponse(), models.ProviderOpenAI) {
		t.Error("openai tool response not detected")
	}
	if !IsToolCallResponse(anthropicToolCallResponse(), models.ProviderAnthropic) {
		t.Error("anthropic tool response not detected")
	}

	plain := map[string]any{"choices": []any{map[string]any{
		"message": map[string]any{"role": "assistant", "content": "just text"},
	}}}
	if IsToolCallResponse(plain, models.ProviderOpenAI) {
		t.Error("plain response misdetected as tool call")
	}
	if IsToolCallResponse(nil, models.ProviderOpenAI) {
		t.Error("nil data misdetected")
	}
}

func TestFormatAssistantToolCallMessage(t *testing.T) {
	msg := FormatAssistantToolCallMessage(openAIToolCallResponse(), models.ProviderOpenAI)
	if msg.Role != "assistant" || len(msg.ToolCalls) != 2 {
		t.Errorf("message = %+v", msg)
	}
	if msg.ToolCalls[0].Function.Name != "web_search" {
		t.Errorf("tool call = %+v", msg.ToolCalls[0])
	}

	amsg := FormatAssistantToolCallMessage(anthropicToolCallResponse(), models.ProviderAnthropic)
	blocks, ok := amsg.Content.([]any)
	if !ok || len(blocks) != 3 {
		t.Errorf("anthropic assistant message should keep its blocks: %+v", amsg)
	}
}

func TestFormatToolResult(t *testing.T) {
	result := skills.OkData("found 3 results", map[string]any{"count": 3})

	msg := FormatToolResult("call_1", result, models.ProviderOpenAI)
	if msg.Role != "tool" || msg.ToolCallID != "call_1" {
		t.Errorf("openai result message = %+v", msg)
	}
	text := msg.Content.(string)
	if !contains(text, "found 3 results") || !contains(text, `"count":3`) {
		t.Errorf("content = %q", text)
	}

	amsg := FormatToolResult("toolu_1", result, models.ProviderAnthropic)
	if amsg.Role != "user" {
		t.Errorf("anthropic result role = %q", amsg.Role)
	}
	blocks := amsg.Content.([]any)
	block := blocks[0].(map[string]any)
	if block["type"] != "tool_result" || block["tool_use_id"] != "toolu_1" {
		t.Errorf("block = %v", block)
	}
}

func TestFormatToolResultBatchAnthropic(t *testing.T) {
	results := []*skills.Result{skills.Ok("one"), skills.Ok("two")}
	ids := []string{"toolu_1", "toolu_2"}

	batched := FormatToolResultBatch(ids, results, models.ProviderAnthropic)
	if len(batched) != 1 {
		t.Fatalf("anthropic multi-result must batch into one message, got %d", len(batched))
	}
	blocks := batched[0].Content.([]any)
	if len(blocks) != 2 {
		t.Errorf("blocks = %d, want 2", len(blocks))
	}

	// a single anthropic result stays a single plain message
	single := FormatToolResultBatch(ids[:1], results[:1], models.ProviderAnthropic)
	if len(single) != 1 || len(single[0].Content.([]any)) != 1 {
		t.Errorf("single result batching = %+v", single)
	}

	// other providers get one message per result
	openai := FormatToolResultBatch(ids, results, models.ProviderOpenAI)
	if len(openai) != 2 {
		t.Errorf("openai batch = %d messages, want 2", len(openai))
	}
}

func TestFormatFailedToolResultMentionsError(t *testing.T) {
	failed := skills.Fail("search failed", "network unreachable")
	msg := FormatToolResult("call_1", failed, models.ProviderOpenAI)
	text := msg.Content.(string)
	if !contains(text, "network unreachable") {
		t.Errorf("error detail missing: %q", text)
	}
}

func contains(s, sub string) bool {
	return strings.Contains(s, sub)
}
