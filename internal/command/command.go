// Package command intercepts slash-prefixed input lines before they reach
// the agent. Built-ins mutate runtime state (clear, model switch,
// handover); unknown names fall through to user-defined markdown commands
// in .nav/commands/.
package command

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/navcli/nav/internal/agent"
	"github.com/navcli/nav/internal/config"
	"github.com/navcli/nav/internal/llm"
	"github.com/navcli/nav/internal/usage"
)

// Deps is everything a command may touch.
type Deps struct {
	Agent  *agent.Agent
	Sink   agent.Sink
	Config *config.Config
	Usage  *usage.Store
}

// IsCommand reports whether a line should be dispatched here.
func IsCommand(line string) bool {
	return strings.HasPrefix(strings.TrimSpace(line), "/")
}

// Dispatch runs one slash command. It always handles the line: unknown
// commands produce an error message rather than reaching the agent.
func Dispatch(ctx context.Context, line string, deps Deps) {
	line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "/"))
	name, rest, _ := strings.Cut(line, " ")
	name = strings.ToLower(name)
	rest = strings.TrimSpace(rest)

	switch name {
	case "clear":
		deps.Agent.Clear()
		// AGENTS.md may have changed on disk; rebuild the prompt
		// prefix now that the cache is cold anyway.
		deps.Agent.SetSystemPrompt(agent.BuildSystemPrompt(deps.Config.Dir))
		deps.Sink.Success("conversation cleared")
	case "model":
		switchModel(deps, rest)
	case "handover":
		if deps.Agent.ConversationLen() == 0 {
			deps.Sink.Error("nothing to hand over: conversation is empty")
			return
		}
		if err := deps.Agent.Handover(ctx, rest); err != nil {
			deps.Sink.Error(fmt.Sprintf("handover: %v", err))
		}
	case "usage":
		if deps.Usage == nil {
			deps.Sink.Error("usage ledger is not available")
			return
		}
		report, err := deps.Usage.Report()
		if err != nil {
			deps.Sink.Error(fmt.Sprintf("usage: %v", err))
			return
		}
		deps.Sink.Info(report)
	case "help":
		showHelp(deps)
	default:
		if prompt, ok := customCommand(deps.Config.Dir, name, rest); ok {
			if err := deps.Agent.Run(ctx, prompt); err != nil {
				deps.Sink.Error(fmt.Sprintf("/%s: %v", name, err))
			}
			return
		}
		deps.Sink.Error(fmt.Sprintf("unknown command: /%s (try /help)", name))
	}
}

func switchModel(deps Deps, model string) {
	if model == "" {
		deps.Sink.Info(fmt.Sprintf("model: %s (%s)", deps.Agent.Model(), deps.Config.Provider))
		return
	}
	provider, baseURL, apiKey := deps.Config.ResolveModel(model)
	client, err := llm.NewClient(provider, model, baseURL, apiKey)
	if err != nil {
		deps.Sink.Error(fmt.Sprintf("model switch failed: %v", err))
		return
	}
	deps.Agent.SetClient(client, provider)
	deps.Config.Model = model
	deps.Config.Provider = provider
	deps.Config.BaseURL = baseURL
	deps.Sink.Success(fmt.Sprintf("model: %s (%s); conversation preserved", model, provider))
}

func showHelp(deps Deps) {
	var b strings.Builder
	b.WriteString("Commands:\n")
	b.WriteString("  /clear                  drop the conversation, keep the session\n")
	b.WriteString("  /model [name]           show or switch the model\n")
	b.WriteString("  /handover [notes]       summarize and restart the conversation\n")
	b.WriteString("  /usage                  token usage totals\n")
	b.WriteString("  /help                   this list\n")
	if customs := listCustomCommands(deps.Config.Dir); len(customs) > 0 {
		b.WriteString("Custom commands (.nav/commands):\n")
		for _, c := range customs {
			b.WriteString("  /" + c + "\n")
		}
	}
	deps.Sink.Info(strings.TrimSuffix(b.String(), "\n"))
}

func commandsDir(dir string) string {
	return filepath.Join(dir, ".nav", "commands")
}

// customCommand loads .nav/commands/<name>.md and substitutes {input}.
func customCommand(dir, name, input string) (string, bool) {
	if strings.ContainsAny(name, "/\\.") {
		return "", false
	}
	data, err := os.ReadFile(filepath.Join(commandsDir(dir), name+".md"))
	if err != nil {
		return "", false
	}
	prompt := strings.ReplaceAll(string(data), "{input}", input)
	return strings.TrimSpace(prompt), true
}

func listCustomCommands(dir string) []string {
	entries, err := os.ReadDir(commandsDir(dir))
	if err != nil {
		return nil
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		out = append(out, strings.TrimSuffix(e.Name(), ".md"))
	}
	sort.Strings(out)
	return out
}
