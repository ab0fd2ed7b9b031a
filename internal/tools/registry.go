// Package tools implements the operations the model can invoke: read, edit,
// write, shell and shell_status. Every tool maps JSON arguments to a typed
// request, runs against the working directory and the process manager, and
// returns a uniform Result the agent forwards to the model.
package tools

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/navcli/nav/internal/llm"
	"github.com/navcli/nav/internal/proc"
)

// Result is the uniform tool outcome. Output goes back to the model;
// Summary and Diff feed the terminal display.
type Result struct {
	Output  string
	Summary string
	Diff    string
	IsError bool
}

func errorResult(format string, args ...any) Result {
	msg := fmt.Sprintf(format, args...)
	return Result{Output: msg, Summary: msg, IsError: true}
}

// Context is what a tool invocation runs against.
type Context struct {
	Dir   string
	Procs *proc.Manager
}

// Tool is one named operation with a JSON-schema parameter description.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]any
	Run(ctx Context, args json.RawMessage) Result
}

// Registry holds the tool set in a stable order.
type Registry struct {
	log    *slog.Logger
	list   []Tool
	byName map[string]Tool
}

// NewRegistry builds the default registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	r := &Registry{log: logger, byName: map[string]Tool{}}
	for _, t := range []Tool{readTool{}, editTool{}, writeTool{}, shellTool{}, shellStatusTool{}} {
		r.list = append(r.list, t)
		r.byName[t.Name()] = t
	}
	return r
}

// Defs returns the provider-neutral tool definitions; each LLM adapter
// reshapes them into its own schema dialect.
func (r *Registry) Defs() []llm.ToolDef {
	out := make([]llm.ToolDef, 0, len(r.list))
	for _, t := range r.list {
		out = append(out, llm.ToolDef{Name: t.Name(), Description: t.Description(), Schema: t.Schema()})
	}
	return out
}

// Dispatch runs one tool call. Unknown tools and argument failures come back
// as error results, never as process failures.
func (r *Registry) Dispatch(ctx Context, call llm.ToolCall) Result {
	name := strings.TrimSpace(call.Name)
	t, ok := r.byName[name]
	if !ok {
		return errorResult("Unknown tool: %s", name)
	}
	args := json.RawMessage(strings.TrimSpace(call.Arguments))
	if len(args) == 0 || !json.Valid(args) {
		r.log.Warn("bad tool arguments", "tool", name)
		args = json.RawMessage("{}")
	}
	res := t.Run(ctx, args)
	r.log.Debug("tool done", "tool", name, "err", res.IsError)
	return res
}

func objectSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
