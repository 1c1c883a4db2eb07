package conversation

import (
	"fmt"
	"testing"
)

func TestAddAndMessages(t *testing.T) {
	c := New(10)
	c.Add(RoleSystem, "you are helpful")
	c.Add(RoleUser, "hi")
	c.Add(RoleAssistant, "hello")

	msgs := c.Messages()
	if len(msgs) != 3 {
		t.Fatalf("len = %d, want 3", len(msgs))
	}
	if msgs[0].Role != RoleSystem || msgs[2].Content != "hello" {
		t.Errorf("unexpected transcript: %+v", msgs)
	}
	if msgs[1].Timestamp.IsZero() {
		t.Error("timestamp not set on Add")
	}
}

func TestTrimKeepsSystemMessages(t *testing.T) {
	c := New(5)
	c.Add(RoleSystem, "persona")
	c.Add(RoleSystem, "tool instructions")

	for i := 0; i < 10; i++ {
		c.Add(RoleUser, fmt.Sprintf("question %d", i))
		c.Add(RoleAssistant, fmt.Sprintf("answer %d", i))
	}

	msgs := c.Messages()
	if len(msgs) != 5 {
		t.Fatalf("len = %d, want 5", len(msgs))
	}
	// both system messages survive, in their original order, ahead of the tail
	if msgs[0].Content != "persona" || msgs[1].Content != "tool instructions" {
		t.Errorf("system messages not pinned first: %+v", msgs[:2])
	}
	// the tail is the most recent non-system messages
	if msgs[4].Content != "answer 9" || msgs[3].Content != "question 9" || msgs[2].Content != "answer 8" {
		t.Errorf("wrong tail: %q, %q, %q", msgs[2].Content, msgs[3].Content, msgs[4].Content)
	}
}

func TestTrimAllSlotsTakenBySystem(t *testing.T) {
	c := New(2)
	c.Add(RoleSystem, "a")
	c.Add(RoleSystem, "b")
	c.Add(RoleSystem, "c")
	c.Add(RoleUser, "hi")

	msgs := c.Messages()
	for _, m := range msgs {
		if m.Role != RoleSystem {
			t.Errorf("non-system message survived with no capacity left: %+v", m)
		}
	}
	if len(msgs) != 3 {
		t.Errorf("system messages must never be dropped, got %d", len(msgs))
	}
}

func TestClear(t *testing.T) {
	c := New(10)
	c.Add(RoleSystem, "persona")
	c.Add(RoleUser, "hi")
	c.Clear()

	if c.Len() != 0 {
		t.Errorf("Clear left %d messages", c.Len())
	}
}

func TestToAPIFormat(t *testing.T) {
	c := New(10)
	c.AddMessage(Message{Role: RoleUser, Content: "hi", Tokens: 1})

	api := c.ToAPIFormat()
	if len(api) != 1 {
		t.Fatalf("len = %d", len(api))
	}
	if api[0]["role"] != RoleUser || api[0]["content"] != "hi" {
		t.Errorf("unexpected shape: %v", api[0])
	}
	if len(api[0]) != 2 {
		t.Errorf("API format must carry only role and content, got %v", api[0])
	}
}

func TestEstimateTokens(t *testing.T) {
	c := New(10)
	c.AddMessage(Message{Role: RoleUser, Content: "12345678", Tokens: 3})
	c.Add(RoleAssistant, "12345678") // heuristic: 8/4 + 1 = 3

	if got := c.EstimateTokens(); got != 6 {
		t.Errorf("EstimateTokens = %d, want 6", got)
	}
}

func TestDefaultBound(t *testing.T) {
	c := New(0)
	for i := 0; i < DefaultMaxMessages+20; i++ {
		c.Add(RoleUser, "m")
	}
	if c.Len() != DefaultMaxMessages {
		t.Errorf("len = %d, want %d", c.Len(), DefaultMaxMessages)
	}
}
