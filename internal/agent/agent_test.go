package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/navcli/nav/internal/llm"
	"github.com/navcli/nav/internal/proc"
	"github.com/navcli/nav/internal/tools"
)

// scriptedTurn is one canned provider response.
type scriptedTurn struct {
	text      string
	toolCalls []llm.ToolCall
	usage     llm.Usage
	// cancelMidStream trips the run's cancel after the text is emitted and
	// makes the stream fail like a closed connection.
	cancelMidStream bool
	err             error
}

// fakeClient replays scripted turns and records the conversations it saw.
type fakeClient struct {
	mu      sync.Mutex
	script  []scriptedTurn
	seen    [][]llm.Message
	systems []string
}

func (f *fakeClient) Model() string { return "fake-model" }

func (f *fakeClient) Stream(ctx context.Context, systemPrompt string, conversation []llm.Message, defs []llm.ToolDef, onEvent func(llm.Event)) (llm.Turn, error) {
	f.mu.Lock()
	f.seen = append(f.seen, append([]llm.Message(nil), conversation...))
	f.systems = append(f.systems, systemPrompt)
	if len(f.script) == 0 {
		f.mu.Unlock()
		return llm.Turn{}, fmt.Errorf("script exhausted")
	}
	turn := f.script[0]
	f.script = f.script[1:]
	f.mu.Unlock()

	if turn.err != nil {
		return llm.Turn{}, turn.err
	}
	if turn.text != "" {
		onEvent(llm.Event{Type: llm.EventText, Text: turn.text})
	}
	if turn.cancelMidStream {
		cancelFromCtx(ctx)
		return llm.Turn{}, ctx.Err()
	}
	for i := range turn.toolCalls {
		onEvent(llm.Event{Type: llm.EventToolCall, ToolCall: &turn.toolCalls[i]})
	}
	onEvent(llm.Event{Type: llm.EventDone, Usage: turn.usage})
	return llm.Turn{Text: turn.text, ToolCalls: turn.toolCalls, Usage: turn.usage}, nil
}

type cancelKey struct{}

func cancelFromCtx(ctx context.Context) {
	if cancel, ok := ctx.Value(cancelKey{}).(context.CancelFunc); ok {
		cancel()
	}
}

// fakeSink satisfies Sink and lets tests queue interjections.
type fakeSink struct {
	mu        sync.Mutex
	queued    []string
	cancelled bool
	cancel    context.CancelFunc
	infos     []string
	errors    []string
	banners   []string
	streamed  strings.Builder
}

func (s *fakeSink) SetRunning(running bool) {
	if running {
		s.mu.Lock()
		s.cancelled = false
		s.mu.Unlock()
	}
}

func (s *fakeSink) NewRunContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	wrapped := context.WithValue(ctx, cancelKey{}, context.CancelFunc(func() {
		s.mu.Lock()
		s.cancelled = true
		s.mu.Unlock()
		cancel()
	}))
	return wrapped
}

func (s *fakeSink) IsCancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *fakeSink) DrainQueued() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.queued
	s.queued = nil
	return out
}

func (s *fakeSink) push(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, line)
}

func (s *fakeSink) StreamText(delta string)          { s.streamed.WriteString(delta) }
func (s *fakeSink) EndStream()                       {}
func (s *fakeSink) ToolCall(string)                  {}
func (s *fakeSink) ToolResult(string, bool)          {}
func (s *fakeSink) Diff(string)                      {}
func (s *fakeSink) StartSpinner()                    {}
func (s *fakeSink) StopSpinner()                     {}
func (s *fakeSink) Info(msg string)                  { s.infos = append(s.infos, msg) }
func (s *fakeSink) Error(msg string)                 { s.errors = append(s.errors, msg) }
func (s *fakeSink) Success(string)                   {}
func (s *fakeSink) Bannerf(f string, args ...any)    { s.banners = append(s.banners, fmt.Sprintf(f, args...)) }

func newTestAgent(t *testing.T, client *fakeClient, sink *fakeSink, opts Options) *Agent {
	t.Helper()
	dir := t.TempDir()
	m := proc.NewManager(proc.Options{Dir: dir})
	t.Cleanup(m.KillAll)
	opts.Client = client
	opts.Sink = sink
	opts.Registry = tools.NewRegistry(nil)
	opts.ToolContext = tools.Context{Dir: dir, Procs: m}
	opts.SystemPrompt = "SYSTEM"
	a, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

// checkWellFormed pins the conversation invariant: every tool result follows
// an assistant message carrying its id, in issuance order.
func checkWellFormed(t *testing.T, conv []llm.Message) {
	t.Helper()
	var expect []string
	for _, msg := range conv {
		switch msg.Role {
		case "assistant":
			if len(expect) > 0 {
				t.Fatalf("assistant message before tool results for %v", expect)
			}
			for _, tc := range msg.ToolCalls {
				expect = append(expect, tc.ID)
			}
		case "tool":
			if len(expect) == 0 {
				t.Fatalf("tool result %q with no pending assistant call", msg.ToolCallID)
			}
			if msg.ToolCallID != expect[0] {
				t.Fatalf("tool result order: got %q, want %q", msg.ToolCallID, expect[0])
			}
			expect = expect[1:]
		}
	}
}

func TestRunTextOnly(t *testing.T) {
	t.Parallel()

	client := &fakeClient{script: []scriptedTurn{{text: "hi there", usage: llm.Usage{InputTokens: 5, OutputTokens: 2}}}}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{})

	if err := a.Run(context.Background(), "hello"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if a.ConversationLen() != 2 {
		t.Fatalf("conversation=%d messages, want 2", a.ConversationLen())
	}
	if sink.streamed.String() != "hi there" {
		t.Fatalf("streamed=%q", sink.streamed.String())
	}
	if a.lastInputTokens != 5 {
		t.Fatalf("lastInputTokens=%d", a.lastInputTokens)
	}
}

func TestRunDispatchesToolCalls(t *testing.T) {
	t.Parallel()

	client := &fakeClient{script: []scriptedTurn{
		{
			text: "listing",
			toolCalls: []llm.ToolCall{
				{ID: "c1", Name: "shell", Arguments: `{"command":"echo one","wait_ms":5000}`},
				{ID: "c2", Name: "shell", Arguments: `{"command":"echo two","wait_ms":5000}`},
			},
		},
		{text: "done"},
	}}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{})

	if err := a.Run(context.Background(), "run the commands"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	conv := a.conversation
	checkWellFormed(t, conv)
	// user, assistant(+2 calls), 2 tool results, assistant
	if len(conv) != 5 {
		t.Fatalf("conversation=%d messages, want 5", len(conv))
	}
	if !strings.Contains(conv[2].Content, "one") || !strings.Contains(conv[3].Content, "two") {
		t.Fatalf("tool results out of order: %q / %q", conv[2].Content, conv[3].Content)
	}
	if conv[4].Content != "done" {
		t.Fatalf("final message=%q", conv[4].Content)
	}
}

func TestUnknownToolBecomesResult(t *testing.T) {
	t.Parallel()

	client := &fakeClient{script: []scriptedTurn{
		{toolCalls: []llm.ToolCall{{ID: "c1", Name: "teleport", Arguments: "{}"}}},
		{text: "ok"},
	}}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{})

	if err := a.Run(context.Background(), "go"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	checkWellFormed(t, a.conversation)
	if !strings.Contains(a.conversation[2].Content, "Unknown tool: teleport") {
		t.Fatalf("result=%q", a.conversation[2].Content)
	}
}

func TestInterjectionBetweenSteps(t *testing.T) {
	t.Parallel()

	client := &fakeClient{script: []scriptedTurn{
		{toolCalls: []llm.ToolCall{{ID: "c1", Name: "shell", Arguments: `{"command":"true","wait_ms":5000}`}}},
		{text: "done"},
	}}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{})

	sink.push("also check the tests")
	if err := a.Run(context.Background(), "fix the bug"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// The queued line must appear as its own user message before the second
	// stream saw the conversation.
	second := client.seen[1]
	var foundInterjection bool
	for _, msg := range second {
		if msg.Role == "user" && msg.Content == "also check the tests" {
			foundInterjection = true
		}
	}
	if !foundInterjection {
		t.Fatalf("interjection not replayed to provider: %+v", second)
	}
}

func TestCancelKeepsPartialTextAndSkipsTools(t *testing.T) {
	t.Parallel()

	client := &fakeClient{script: []scriptedTurn{
		{
			text:            "partial answer",
			toolCalls:       []llm.ToolCall{{ID: "c1", Name: "shell", Arguments: `{"command":"true","wait_ms":5000}`}},
			cancelMidStream: true,
		},
		{text: "continued"},
	}}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{})

	if err := a.Run(context.Background(), "do something"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(a.conversation) != 2 {
		t.Fatalf("conversation=%d, want user + partial assistant", len(a.conversation))
	}
	if a.conversation[1].Content != "partial answer" {
		t.Fatalf("partial text=%q", a.conversation[1].Content)
	}
	if len(a.conversation[1].ToolCalls) != 0 {
		t.Fatalf("tool calls dispatched after cancel")
	}

	// A later run proceeds normally.
	if err := a.Run(context.Background(), "continue"); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if a.conversation[len(a.conversation)-1].Content != "continued" {
		t.Fatalf("second run did not complete: %+v", a.conversation)
	}
}

func TestStreamErrorSurfacesAndKeepsSession(t *testing.T) {
	t.Parallel()

	client := &fakeClient{script: []scriptedTurn{
		{err: fmt.Errorf("connection reset")},
		{text: "recovered"},
	}}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{})

	if err := a.Run(context.Background(), "first"); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if len(sink.errors) == 0 || !strings.Contains(sink.errors[0], "connection reset") {
		t.Fatalf("errors=%v", sink.errors)
	}
	if err := a.Run(context.Background(), "retry"); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if a.conversation[len(a.conversation)-1].Content != "recovered" {
		t.Fatalf("session did not recover")
	}
}

func TestMidTurnAutoHandover(t *testing.T) {
	t.Parallel()

	client := &fakeClient{script: []scriptedTurn{
		// Tool-call turn over the threshold: handover fires mid-turn.
		{
			toolCalls: []llm.ToolCall{{ID: "c1", Name: "shell", Arguments: `{"command":"true","wait_ms":5000}`}},
			usage:     llm.Usage{InputTokens: 900},
		},
		// Summary stream.
		{text: "summary of work"},
		// Post-handover run.
		{text: "fresh start"},
	}}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{
		ContextWindow: 1000, HandoverThreshold: 0.8, AutoHandover: true,
	})

	if err := a.Run(context.Background(), "big task"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(sink.banners) != 1 {
		t.Fatalf("handover banners=%d, want exactly 1", len(sink.banners))
	}
	// After handover the conversation holds only the composed prompt and
	// the fresh reply.
	if len(a.conversation) != 2 {
		t.Fatalf("conversation=%d messages, want 2", len(a.conversation))
	}
	if !strings.Contains(a.conversation[0].Content, "summary of work") {
		t.Fatalf("composed prompt=%q", a.conversation[0].Content)
	}
	// System prompt is byte-identical across the handover.
	for _, sys := range client.systems {
		if sys != "SYSTEM" {
			t.Fatalf("system prompt changed: %q", sys)
		}
	}
}

func TestDeferredAutoHandover(t *testing.T) {
	t.Parallel()

	client := &fakeClient{script: []scriptedTurn{
		// Text-only turn over threshold: handover deferred.
		{text: "big answer", usage: llm.Usage{InputTokens: 950}},
		// Next Run converts into a handover: summary stream first.
		{text: "the summary"},
		// Then the composed continuation.
		{text: "continuing"},
	}}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{
		ContextWindow: 1000, HandoverThreshold: 0.8, AutoHandover: true,
	})

	if err := a.Run(context.Background(), "turn one"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !a.pendingAutoHandover {
		t.Fatal("handover not deferred")
	}
	if err := a.Run(context.Background(), "turn two"); err != nil {
		t.Fatalf("second Run: %v", err)
	}
	if len(sink.banners) != 1 {
		t.Fatalf("handover banners=%d, want exactly 1", len(sink.banners))
	}
	final := a.conversation[0].Content
	if !strings.Contains(final, "the summary") || !strings.Contains(final, "Additional instructions: turn two") {
		t.Fatalf("composed prompt=%q", final)
	}
}

func TestHandoverEmptySummaryRollsBack(t *testing.T) {
	t.Parallel()

	client := &fakeClient{script: []scriptedTurn{
		{text: "an answer"},
		{text: "   "},
	}}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{})

	if err := a.Run(context.Background(), "hello"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	before := a.ConversationLen()
	if err := a.Handover(context.Background(), ""); err != nil {
		t.Fatalf("Handover: %v", err)
	}
	if a.ConversationLen() != before {
		t.Fatalf("conversation changed after failed handover: %d -> %d", before, a.ConversationLen())
	}
}

func TestHandoverRefusedOnEmptyConversation(t *testing.T) {
	t.Parallel()

	client := &fakeClient{}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{})

	if err := a.Handover(context.Background(), ""); err != nil {
		t.Fatalf("Handover: %v", err)
	}
	if len(sink.errors) == 0 {
		t.Fatal("no error surfaced for empty-conversation handover")
	}
}

func TestClearKeepsSystemPrompt(t *testing.T) {
	t.Parallel()

	client := &fakeClient{script: []scriptedTurn{{text: "one"}, {text: "two"}}}
	sink := &fakeSink{}
	a := newTestAgent(t, client, sink, Options{})

	if err := a.Run(context.Background(), "first"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	a.Clear()
	if a.ConversationLen() != 0 {
		t.Fatalf("conversation not cleared")
	}
	if err := a.Run(context.Background(), "second"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if client.systems[len(client.systems)-1] != "SYSTEM" {
		t.Fatalf("system prompt lost after clear")
	}
}
