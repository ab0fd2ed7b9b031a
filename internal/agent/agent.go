// Package agent drives the conversation: it streams model turns, dispatches
// tool calls, injects queued user input between steps, accounts context
// usage and performs handovers when the context window fills up.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/navcli/nav/internal/llm"
	"github.com/navcli/nav/internal/sessionlog"
	"github.com/navcli/nav/internal/tools"
	"github.com/navcli/nav/internal/usage"
)

// MaxSteps bounds one run; the loop normally exits when the model returns
// text without tool calls.
const MaxSteps = 50

// DefaultHandoverThreshold is the context-window fill ratio that triggers a
// handover.
const DefaultHandoverThreshold = 0.8

// Sink is the slice of the TUI the agent talks to.
type Sink interface {
	SetRunning(bool)
	NewRunContext(parent context.Context) context.Context
	IsCancelled() bool
	DrainQueued() []string

	StreamText(delta string)
	EndStream()
	ToolCall(summary string)
	ToolResult(summary string, isError bool)
	Diff(unified string)
	StartSpinner()
	StopSpinner()

	Info(s string)
	Error(s string)
	Success(s string)
	Bannerf(format string, args ...any)
}

// Options wires an Agent.
type Options struct {
	Logger       *slog.Logger
	Client       llm.Client
	Provider     string
	SystemPrompt string
	Registry     *tools.Registry
	ToolContext  tools.Context
	Sink         Sink
	SessionLog   *sessionlog.Logger
	Usage        *usage.Store

	// ContextWindow is the model's context size in tokens; 0 means unknown,
	// which disables auto-handover.
	ContextWindow     int64
	HandoverThreshold float64
	AutoHandover      bool
}

// Agent owns the conversation. Nothing else appends to it.
type Agent struct {
	log      *slog.Logger
	client   llm.Client
	provider string

	systemPrompt string
	registry     *tools.Registry
	toolCtx      tools.Context
	sink         Sink
	sessionLog   *sessionlog.Logger
	usageStore   *usage.Store

	contextWindow     int64
	handoverThreshold float64
	autoHandover      bool

	conversation        []llm.Message
	lastInputTokens     int64
	pendingAutoHandover bool
}

// New validates options and builds an Agent.
func New(opts Options) (*Agent, error) {
	if opts.Client == nil {
		return nil, errors.New("missing Client")
	}
	if opts.Registry == nil {
		return nil, errors.New("missing Registry")
	}
	if opts.Sink == nil {
		return nil, errors.New("missing Sink")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	threshold := opts.HandoverThreshold
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultHandoverThreshold
	}
	return &Agent{
		log:               logger,
		client:            opts.Client,
		provider:          strings.TrimSpace(opts.Provider),
		systemPrompt:      opts.SystemPrompt,
		registry:          opts.Registry,
		toolCtx:           opts.ToolContext,
		sink:              opts.Sink,
		sessionLog:        opts.SessionLog,
		usageStore:        opts.Usage,
		contextWindow:     opts.ContextWindow,
		handoverThreshold: threshold,
		autoHandover:      opts.AutoHandover,
	}, nil
}

// Model returns the active model id.
func (a *Agent) Model() string { return a.client.Model() }

// ConversationLen reports how many messages the conversation holds.
func (a *Agent) ConversationLen() int { return len(a.conversation) }

// Clear drops the conversation; the system prompt is retained.
func (a *Agent) Clear() {
	a.conversation = nil
	a.lastInputTokens = 0
	a.pendingAutoHandover = false
}

// SetClient hot-swaps the provider adapter between turns; the conversation
// is preserved and replayed to the new provider.
func (a *Agent) SetClient(client llm.Client, provider string) {
	a.client = client
	a.provider = strings.TrimSpace(provider)
}

// SetSystemPrompt replaces the system prompt. A prompt with different bytes
// breaks the provider's prompt cache; /clear calls it with a freshly built
// prompt, which differs only when AGENTS.md changed on disk.
func (a *Agent) SetSystemPrompt(prompt string) { a.systemPrompt = prompt }

// Run executes one user turn to completion.
func (a *Agent) Run(ctx context.Context, prompt string) error {
	// A handover deferred from the previous turn runs now, with the fresh
	// user intent as its additional instructions.
	if a.pendingAutoHandover && a.contextWindow > 0 {
		a.pendingAutoHandover = false
		return a.Handover(ctx, prompt)
	}

	a.appendMessage(llm.UserMessage(prompt))
	a.sink.SetRunning(true)
	defer a.sink.SetRunning(false)
	runCtx := a.sink.NewRunContext(ctx)
	return a.loop(runCtx)
}

func (a *Agent) loop(ctx context.Context) error {
	for step := 0; step < MaxSteps; step++ {
		a.injectQueued()

		turn, streamErr := a.streamStep(ctx, step)
		if streamErr != nil {
			if errors.Is(streamErr, context.Canceled) || a.sink.IsCancelled() {
				// Keep whatever text was streamed before the cancel.
				if turn.Text != "" {
					a.appendMessage(llm.Message{Role: "assistant", Content: turn.Text})
				}
				return nil
			}
			a.sink.Error(fmt.Sprintf("model error: %v", streamErr))
			a.logRecord(sessionlog.TypeError, map[string]any{"error": streamErr.Error()})
			return nil
		}

		a.recordUsage(turn.Usage)
		over := a.overThreshold(turn.Usage.InputTokens)

		if len(turn.ToolCalls) == 0 {
			if turn.Text != "" {
				a.appendMessage(llm.Message{Role: "assistant", Content: turn.Text})
			}
			if over && a.autoHandover {
				a.pendingAutoHandover = true
				a.log.Debug("handover deferred to next turn", "input_tokens", turn.Usage.InputTokens)
			}
			if a.hasQueued() {
				continue
			}
			return nil
		}

		a.appendMessage(llm.Message{Role: "assistant", Content: turn.Text, ToolCalls: turn.ToolCalls})
		a.executeToolCalls(ctx, turn.ToolCalls)

		if over && a.autoHandover {
			return a.Handover(ctx, "")
		}
	}
	a.sink.Info(fmt.Sprintf("stopped after %d steps", MaxSteps))
	return nil
}

// streamStep runs one provider stream, forwarding events to the sink. The
// returned Turn is assembled from the events so partial text survives a
// cancelled stream.
func (a *Agent) streamStep(ctx context.Context, step int) (llm.Turn, error) {
	a.sink.StartSpinner()
	defer a.sink.EndStream()

	var turn llm.Turn
	_, err := a.client.Stream(ctx, a.systemPrompt, a.conversation, a.registry.Defs(), func(ev llm.Event) {
		switch ev.Type {
		case llm.EventText:
			turn.Text += ev.Text
			a.sink.StreamText(ev.Text)
		case llm.EventToolCall:
			turn.ToolCalls = append(turn.ToolCalls, *ev.ToolCall)
		case llm.EventDone:
			turn.Usage = ev.Usage
		}
	})
	a.sink.StopSpinner()
	if err != nil {
		return turn, err
	}
	a.log.Debug("step streamed", "step", step, "tool_calls", len(turn.ToolCalls), "input_tokens", turn.Usage.InputTokens)
	a.logRecord(sessionlog.TypeAssistantMessage, map[string]any{"content": turn.Text, "tool_calls": len(turn.ToolCalls)})
	return turn, nil
}

func (a *Agent) executeToolCalls(ctx context.Context, calls []llm.ToolCall) {
	for _, call := range calls {
		// A cancel skips tools not yet started; running commands are never
		// killed, the process manager backgrounds them as usual.
		if ctx.Err() != nil || a.sink.IsCancelled() {
			return
		}
		a.sink.ToolCall(describeCall(call))
		a.logRecord(sessionlog.TypeToolCall, map[string]any{"id": call.ID, "name": call.Name, "arguments": call.Arguments})

		if strings.TrimSpace(call.Arguments) != "" && !json.Valid([]byte(call.Arguments)) {
			a.sink.Error(fmt.Sprintf("tool %s: arguments are not valid JSON; dispatching with empty arguments", call.Name))
		}

		res := a.registry.Dispatch(a.toolCtx, call)
		a.appendToolResult(call.ID, res.Output)
		a.sink.ToolResult(res.Summary, res.IsError)
		if res.Diff != "" {
			a.sink.Diff(res.Diff)
		}
	}
}

func (a *Agent) injectQueued() {
	queued := a.sink.DrainQueued()
	if len(queued) == 0 {
		return
	}
	text := strings.Join(queued, "\n")
	a.appendMessage(llm.UserMessage(text))
	a.sink.Info("interjection: " + text)
}

func (a *Agent) hasQueued() bool {
	queued := a.sink.DrainQueued()
	if len(queued) == 0 {
		return false
	}
	a.appendMessage(llm.UserMessage(strings.Join(queued, "\n")))
	return true
}

func (a *Agent) overThreshold(inputTokens int64) bool {
	if a.contextWindow <= 0 || inputTokens <= 0 {
		return false
	}
	return float64(inputTokens)/float64(a.contextWindow) >= a.handoverThreshold
}

func (a *Agent) recordUsage(u llm.Usage) {
	if u.InputTokens > 0 {
		a.lastInputTokens = u.InputTokens
	}
	if u.InputTokens == 0 && u.OutputTokens == 0 {
		return
	}
	a.logRecord(sessionlog.TypeUsage, map[string]any{"input_tokens": u.InputTokens, "output_tokens": u.OutputTokens})
	if a.usageStore != nil {
		if err := a.usageStore.Record(a.provider, a.client.Model(), u.InputTokens, u.OutputTokens); err != nil {
			a.log.Warn("usage record failed", "err", err)
		}
	}
}

const handoverSummaryPrompt = "Summarize concisely what was done in this session so far: the task, key decisions, files touched, and what remains. The summary will seed a fresh session."

// Handover asks the model for a summary, then restarts the conversation
// from it. The system prompt is reused byte-identical so the provider's
// prompt cache stays warm.
func (a *Agent) Handover(ctx context.Context, instructions string) error {
	if len(a.conversation) == 0 {
		a.sink.Error("nothing to hand over: conversation is empty")
		return nil
	}

	a.sink.SetRunning(true)
	defer a.sink.SetRunning(false)
	runCtx := a.sink.NewRunContext(ctx)

	a.appendMessage(llm.UserMessage(handoverSummaryPrompt))
	a.sink.StartSpinner()
	var summary strings.Builder
	_, err := a.client.Stream(runCtx, a.systemPrompt, a.conversation, nil, func(ev llm.Event) {
		if ev.Type == llm.EventText {
			summary.WriteString(ev.Text)
			a.sink.StreamText(ev.Text)
		}
	})
	a.sink.StopSpinner()
	a.sink.EndStream()

	if err != nil || a.sink.IsCancelled() || strings.TrimSpace(summary.String()) == "" {
		// Roll back the synthesized prompt and keep the conversation.
		a.conversation = a.conversation[:len(a.conversation)-1]
		if err != nil && !errors.Is(err, context.Canceled) {
			a.sink.Error(fmt.Sprintf("handover failed: %v", err))
		}
		return nil
	}

	a.Clear()
	a.sink.Bannerf("handover: conversation restarted from summary")

	prompt := "Continue working on the task. Here's a summary of what was done previously:\n\n" + strings.TrimSpace(summary.String())
	if strings.TrimSpace(instructions) != "" {
		prompt += "\n\nAdditional instructions: " + strings.TrimSpace(instructions)
	}
	return a.Run(ctx, prompt)
}

func (a *Agent) appendMessage(msg llm.Message) {
	a.conversation = append(a.conversation, msg)
	if msg.Role == "user" {
		a.logRecord(sessionlog.TypeUserMessage, map[string]any{"content": msg.Content})
	}
}

func (a *Agent) appendToolResult(callID, content string) {
	a.conversation = append(a.conversation, llm.ToolResult(callID, content))
	a.logRecord(sessionlog.TypeToolResult, map[string]any{"tool_call_id": callID, "content": content})
}

func (a *Agent) logRecord(t sessionlog.RecordType, data map[string]any) {
	if a.sessionLog != nil {
		a.sessionLog.Append(t, data)
	}
}

func describeCall(call llm.ToolCall) string {
	args := strings.TrimSpace(call.Arguments)
	if len(args) > 80 {
		args = args[:80] + "…"
	}
	return fmt.Sprintf("%s %s", call.Name, args)
}
