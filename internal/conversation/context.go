// Package conversation maintains the bounded chat transcript passed to the
// model on every turn.
package conversation

import (
	"sync"
	"time"
)

// Roles a message can carry.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one turn of the transcript.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
	// Tokens is a rough size estimate, filled by the caller when known.
	Tokens int `json:"tokens,omitempty"`
}

// Context is a bounded conversation transcript. When the bound is exceeded
// it trims oldest-first, but system messages are pinned: trimming keeps
// every system message, ordered ahead of the surviving non-system tail.
type Context struct {
	mu          sync.Mutex
	messages    []Message
	maxMessages int
}

// DefaultMaxMessages bounds the transcript when no explicit limit is given.
const DefaultMaxMessages = 50

// New creates a conversation context holding at most maxMessages messages.
func New(maxMessages int) *Context {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Context{maxMessages: maxMessages}
}

// Add appends a message and trims if the bound is exceeded.
func (c *Context) Add(role, content string) {
	c.AddMessage(Message{Role: role, Content: content, Timestamp: time.Now()})
}

// AddMessage appends a prepared message and trims if the bound is exceeded.
func (c *Context) AddMessage(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	c.messages = append(c.messages, msg)
	c.trim()
}

// trim enforces the bound. Caller holds the lock.
func (c *Context) trim() {
	if len(c.messages) <= c.maxMessages {
		return
	}

	var system, rest []Message
	for _, m := range c.messages {
		if m.Role == RoleSystem {
			system = append(system, m)
		} else {
			rest = append(rest, m)
		}
	}

	keep := c.maxMessages - len(system)
	if keep < 0 {
		keep = 0
	}
	if len(rest) > keep {
		rest = rest[len(rest)-keep:]
	}

	c.messages = append(system, rest...)
}

// Messages returns a copy of the transcript in order.
func (c *Context) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Len returns the current number of messages.
func (c *Context) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Clear drops the whole transcript, system messages included.
func (c *Context) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}

// ToAPIFormat renders the transcript as the minimal role/content maps the
// chat completion endpoints accept. Timestamps and token counts stay local.
func (c *Context) ToAPIFormat() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]map[string]any, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, map[string]any{
			"role":    m.Role,
			"content": m.Content,
		})
	}
	return out
}

// EstimateTokens sums the recorded token counts, falling back to a
// four-characters-per-token heuristic for messages without one.
func (c *Context) EstimateTokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := 0
	for _, m := range c.messages {
		if m.Tokens > 0 {
			total += m.Tokens
			continue
		}
		total += len(m.Content)/4 + 1
	}
	return total
}
