package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	openai "github.com/openai/openai-go"
	ooption "github.com/openai/openai-go/option"
	oshared "github.com/openai/openai-go/shared"
)

// openAIClient adapts the OpenAI-compatible chat completions wire protocol.
// Streaming tool calls arrive as delta fragments keyed by tool-call index; the
// adapter assembles each into a complete call and emits it once the stream
// closes.
type openAIClient struct {
	client openai.Client
	model  string
}

// NewOpenAI builds a client for api.openai.com or any compatible gateway.
func NewOpenAI(model, baseURL, apiKey string) Client {
	opts := []ooption.RequestOption{ooption.WithAPIKey(strings.TrimSpace(apiKey))}
	if strings.TrimSpace(baseURL) != "" {
		opts = append(opts, ooption.WithBaseURL(strings.TrimSpace(baseURL)))
	}
	return &openAIClient{client: openai.NewClient(opts...), model: strings.TrimSpace(model)}
}

func (c *openAIClient) Model() string { return c.model }

func (c *openAIClient) Stream(ctx context.Context, systemPrompt string, conversation []Message, tools []ToolDef, onEvent func(Event)) (Turn, error) {
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(c.model),
		Messages: buildOpenAIMessages(systemPrompt, conversation),
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if len(tools) > 0 {
		params.Tools = buildOpenAITools(tools)
	}

	stream := c.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	type partialCall struct {
		Index int64
		ID    string
		Name  string
		Args  strings.Builder
	}
	partials := map[int64]*partialCall{}

	var textBuf strings.Builder
	var usage Usage
	for stream.Next() {
		chunk := stream.Current()
		if chunk.Usage.PromptTokens > 0 || chunk.Usage.CompletionTokens > 0 {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			textBuf.WriteString(delta.Content)
			emit(onEvent, Event{Type: EventText, Text: delta.Content})
		}
		for _, tc := range delta.ToolCalls {
			pc := partials[tc.Index]
			if pc == nil {
				pc = &partialCall{Index: tc.Index}
				partials[tc.Index] = pc
			}
			if id := strings.TrimSpace(tc.ID); id != "" {
				pc.ID = id
			}
			if name := strings.TrimSpace(tc.Function.Name); name != "" {
				pc.Name = name
			}
			pc.Args.WriteString(tc.Function.Arguments)
		}
	}
	if err := stream.Err(); err != nil {
		if ctx.Err() != nil {
			return Turn{}, ctx.Err()
		}
		return Turn{}, err
	}

	turn := Turn{Text: textBuf.String(), Usage: usage}

	indices := make([]int64, 0, len(partials))
	for idx := range partials {
		indices = append(indices, idx)
	}
	sort.Slice(indices, func(i, j int) bool { return indices[i] < indices[j] })
	for n, idx := range indices {
		pc := partials[idx]
		if strings.TrimSpace(pc.Name) == "" {
			continue
		}
		id := pc.ID
		if id == "" {
			id = fmt.Sprintf("call_%d", n)
		}
		call := ToolCall{ID: id, Name: pc.Name, Arguments: pc.Args.String()}
		turn.ToolCalls = append(turn.ToolCalls, call)
		emit(onEvent, Event{Type: EventToolCall, ToolCall: &call})
	}

	emit(onEvent, Event{Type: EventDone, Usage: usage})
	return turn, nil
}

func buildOpenAIMessages(systemPrompt string, conversation []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(conversation)+1)
	if strings.TrimSpace(systemPrompt) != "" {
		out = append(out, openai.SystemMessage(systemPrompt))
	}
	for _, msg := range conversation {
		switch msg.Role {
		case "assistant":
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if msg.Content != "" {
				assistant.Content.OfString = openai.String(msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				args := strings.TrimSpace(tc.Arguments)
				if args == "" || !json.Valid([]byte(args)) {
					args = "{}"
				}
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		case "tool":
			out = append(out, openai.ToolMessage(msg.Content, msg.ToolCallID))
		default:
			out = append(out, openai.UserMessage(msg.Content))
		}
	}
	return out
}

func buildOpenAITools(tools []ToolDef) []openai.ChatCompletionToolParam {
	out := make([]openai.ChatCompletionToolParam, 0, len(tools))
	for _, def := range tools {
		out = append(out, openai.ChatCompletionToolParam{
			Function: oshared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: openai.String(def.Description),
				Parameters:  oshared.FunctionParameters(def.Schema),
			},
		})
	}
	return out
}
