// Package llm defines the streaming contract between the agent and the
// model providers, plus the three wire adapters (OpenAI-compatible,
// Anthropic, Ollama-native). Provider SDK types never leave this package;
// the unified Event/Turn vocabulary is the only thing the agent sees.
package llm

import (
	"context"
	"strings"
)

// Message is one conversation entry. Role is "user", "assistant" or "tool".
// Assistant messages may carry tool calls alongside text; tool messages
// answer exactly one tool call by ID.
type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall // assistant only, in issuance order
	ToolCallID string     // tool role only
}

// ToolCall is a structured request by the model to run a named tool.
// Arguments is the raw JSON text as the provider delivered it.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Usage is the provider-reported token accounting for one turn. Zero when
// the provider does not report usage.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// ToolDef describes a tool in provider-neutral form. Schema is a JSON
// Schema object; each adapter reshapes it into its own dialect.
type ToolDef struct {
	Name        string
	Description string
	Schema      map[string]any
}

// EventType discriminates stream events.
type EventType string

const (
	// EventText carries a concatenable assistant text delta.
	EventText EventType = "text"
	// EventToolCall carries one complete tool call (name and argument JSON
	// fully assembled).
	EventToolCall EventType = "tool_call"
	// EventDone is emitted exactly once, after all other events, with the
	// turn's usage.
	EventDone EventType = "done"
)

// Event is the unified stream vocabulary. Events arrive in issuance order.
type Event struct {
	Type     EventType
	Text     string
	ToolCall *ToolCall
	Usage    Usage
}

// Turn is the assembled result of one stream.
type Turn struct {
	Text      string
	ToolCalls []ToolCall
	Usage     Usage
}

// Client streams one model turn. Cancellation travels through ctx: on
// cancel the adapter closes the underlying connection and Stream returns
// ctx.Err(). The returned Turn mirrors what the events already delivered.
type Client interface {
	Stream(ctx context.Context, systemPrompt string, conversation []Message, tools []ToolDef, onEvent func(Event)) (Turn, error)
	Model() string
}

func emit(onEvent func(Event), ev Event) {
	if onEvent != nil {
		onEvent(ev)
	}
}

// UserMessage and friends keep call sites terse.
func UserMessage(text string) Message  { return Message{Role: "user", Content: text} }
func ToolResult(callID, content string) Message {
	return Message{Role: "tool", Content: content, ToolCallID: callID}
}

// ToolNameByID resolves a tool call ID to its tool name by walking the
// conversation backwards. Used by the Ollama adapter, whose wire dialect
// binds tool results by name rather than by ID.
func ToolNameByID(conversation []Message, callID string) string {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return ""
	}
	for i := len(conversation) - 1; i >= 0; i-- {
		if conversation[i].Role != "assistant" {
			continue
		}
		for _, tc := range conversation[i].ToolCalls {
			if tc.ID == callID {
				return tc.Name
			}
		}
	}
	return ""
}
