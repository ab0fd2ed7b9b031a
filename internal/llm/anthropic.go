package llm

import (
	"context"
	"fmt"
	"strings"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	aoption "github.com/anthropics/anthropic-sdk-go/option"
)

const anthropicMaxOutputTokens = 8192

// anthropicClient adapts the Anthropic messages wire protocol. Assistant
// turns are sequences of content blocks; tool results travel inside a
// follow-up user message, so consecutive tool results are coalesced into
// one user message with multiple tool_result blocks.
type anthropicClient struct {
	client anthropic.Client
	model  string
}

// NewAnthropic builds a client for the Anthropic API.
func NewAnthropic(model, baseURL, apiKey string) Client {
	opts := []aoption.RequestOption{aoption.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, aoption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &anthropicClient{client: anthropic.NewClient(opts...), model: strings.TrimSpace(model)}
}

func (c *anthropicClient) Model() string { return c.model }

func (c *anthropicClient) Stream(ctx context.Context, systemPrompt string, conversation []Message, tools []ToolDef, onEvent func(Event)) (Turn, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: anthropicMaxOutputTokens,
		Messages:  buildAnthropicMessages(conversation),
	}
	if strings.TrimSpace(systemPrompt) != "" {
		params.System = []anthropic.TextBlockParam{{Text: systemPrompt}}
	}
	if len(tools) > 0 {
		params.Tools = buildAnthropicTools(tools)
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	msg := anthropic.Message{}
	var textBuf strings.Builder
	for stream.Next() {
		event := stream.Current()
		if err := msg.Accumulate(event); err != nil {
			return Turn{}, err
		}
		if variant, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := variant.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				textBuf.WriteString(delta.Text)
				emit(onEvent, Event{Type: EventText, Text: delta.Text})
			}
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return Turn{}, ctx.Err()
		}
		return Turn{}, err
	}

	turn := Turn{
		Text: textBuf.String(),
		Usage: Usage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}

	// Complete tool_use blocks only exist after the terminal event; extract
	// them from the accumulated message in block order.
	for _, block := range msg.Content {
		tu, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}
		id := strings.TrimSpace(tu.ID)
		if id == "" {
			id = fmt.Sprintf("call_%d", len(turn.ToolCalls))
		}
		call := ToolCall{ID: id, Name: strings.TrimSpace(tu.Name), Arguments: string(tu.Input)}
		turn.ToolCalls = append(turn.ToolCalls, call)
		emit(onEvent, Event{Type: EventToolCall, ToolCall: &call})
	}

	emit(onEvent, Event{Type: EventDone, Usage: turn.Usage})
	return turn, nil
}

func buildAnthropicTools(tools []ToolDef) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, def := range tools {
		required, _ := def.Schema["required"].([]string)
		if required == nil {
			if raw, ok := def.Schema["required"].([]any); ok {
				for _, v := range raw {
					if s, ok := v.(string); ok {
						required = append(required, s)
					}
				}
			}
		}
		param := anthropic.ToolParam{
			Name:        def.Name,
			Description: anthropic.String(def.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Type:       "object",
				Properties: def.Schema["properties"],
				Required:   required,
			},
		}
		out = append(out, anthropic.ToolUnionParam{OfTool: &param})
	}
	return out
}

func buildAnthropicMessages(conversation []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(conversation))
	var pendingResults []anthropic.ContentBlockParamUnion

	flushResults := func() {
		if len(pendingResults) == 0 {
			return
		}
		out = append(out, anthropic.NewUserMessage(pendingResults...))
		pendingResults = nil
	}

	for _, msg := range conversation {
		switch msg.Role {
		case "tool":
			pendingResults = append(pendingResults, anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false))
		case "assistant":
			flushResults()
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if txt := strings.TrimSpace(msg.Content); txt != "" {
				blocks = append(blocks, anthropic.NewTextBlock(txt))
			}
			for _, tc := range msg.ToolCalls {
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, decodeArgs(tc.Arguments), tc.Name))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, anthropic.NewAssistantMessage(blocks...))
		default:
			flushResults()
			if strings.TrimSpace(msg.Content) == "" {
				continue
			}
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	flushResults()
	if len(out) == 0 {
		out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock("Continue.")))
	}
	return out
}
