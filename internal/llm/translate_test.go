package llm

import (
	"encoding/json"
	"testing"
)

func sampleConversation() []Message {
	return []Message{
		UserMessage("read the config"),
		{
			Role:    "assistant",
			Content: "Reading two files.",
			ToolCalls: []ToolCall{
				{ID: "call_0", Name: "read", Arguments: `{"path":"a.txt"}`},
				{ID: "call_1", Name: "read", Arguments: `{"path":"b.txt"}`},
			},
		},
		ToolResult("call_0", "1:aa|alpha"),
		ToolResult("call_1", "1:bb|beta"),
		{Role: "assistant", Content: "Both read."},
	}
}

func TestToolNameByID(t *testing.T) {
	t.Parallel()

	conv := sampleConversation()
	if got := ToolNameByID(conv, "call_1"); got != "read" {
		t.Fatalf("ToolNameByID=%q, want read", got)
	}
	if got := ToolNameByID(conv, "missing"); got != "" {
		t.Fatalf("ToolNameByID(missing)=%q, want empty", got)
	}
}

func TestBuildOpenAIMessages(t *testing.T) {
	t.Parallel()

	msgs := buildOpenAIMessages("SYSTEM", sampleConversation())
	// system + user + assistant + two tool results + assistant
	if len(msgs) != 6 {
		t.Fatalf("message count=%d, want 6", len(msgs))
	}
	if msgs[0].OfSystem == nil {
		t.Fatalf("first message is not system")
	}
	assistant := msgs[2].OfAssistant
	if assistant == nil {
		t.Fatalf("third message is not assistant")
	}
	if len(assistant.ToolCalls) != 2 {
		t.Fatalf("tool calls=%d, want 2", len(assistant.ToolCalls))
	}
	if assistant.ToolCalls[0].Function.Name != "read" {
		t.Fatalf("tool call name=%q", assistant.ToolCalls[0].Function.Name)
	}
	// Tool results stay distinct messages in the OpenAI dialect.
	if msgs[3].OfTool == nil || msgs[4].OfTool == nil {
		t.Fatalf("tool results were not emitted as tool messages")
	}
}

func TestBuildAnthropicMessagesGroupsToolResults(t *testing.T) {
	t.Parallel()

	msgs := buildAnthropicMessages(sampleConversation())
	// user + assistant + ONE grouped tool-result user message + assistant
	if len(msgs) != 4 {
		t.Fatalf("message count=%d, want 4", len(msgs))
	}
	grouped := msgs[2]
	if grouped.Role != "user" {
		t.Fatalf("tool results must ride in a user message, got role=%q", grouped.Role)
	}
	if len(grouped.Content) != 2 {
		t.Fatalf("grouped blocks=%d, want 2", len(grouped.Content))
	}
	for _, block := range grouped.Content {
		if block.OfToolResult == nil {
			t.Fatalf("block is not a tool_result")
		}
	}
	assistant := msgs[1]
	if len(assistant.Content) != 3 { // text + two tool_use blocks
		t.Fatalf("assistant blocks=%d, want 3", len(assistant.Content))
	}
}

func TestBuildOllamaMessages(t *testing.T) {
	t.Parallel()

	msgs := buildOllamaMessages("SYSTEM", sampleConversation())
	if len(msgs) != 6 {
		t.Fatalf("message count=%d, want 6", len(msgs))
	}
	if msgs[0].Role != "system" {
		t.Fatalf("first role=%q", msgs[0].Role)
	}
	if msgs[3].Role != "tool" || msgs[3].ToolName != "read" {
		t.Fatalf("tool result missing tool_name: %+v", msgs[3])
	}
	if len(msgs[2].ToolCalls) != 2 {
		t.Fatalf("assistant tool calls=%d, want 2", len(msgs[2].ToolCalls))
	}
	var args map[string]any
	if err := json.Unmarshal(msgs[2].ToolCalls[0].Function.Arguments, &args); err != nil {
		t.Fatalf("arguments not valid JSON: %v", err)
	}
	if args["path"] != "a.txt" {
		t.Fatalf("arguments=%v", args)
	}
}

func TestNormalizeArgsJSON(t *testing.T) {
	t.Parallel()

	if got := normalizeArgsJSON("not json"); got != "{}" {
		t.Fatalf("got %q", got)
	}
	if got := normalizeArgsJSON(`{"a":1}`); got != `{"a":1}` {
		t.Fatalf("got %q", got)
	}
	if got := normalizeArgsJSON(""); got != "{}" {
		t.Fatalf("got %q", got)
	}
}
