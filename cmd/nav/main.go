// Command nav is an interactive coding assistant: it drives an LLM through
// a tool loop that reads, edits and writes files with hashline anchors, runs
// shell commands, and manages long-running processes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/navcli/nav/internal/agent"
	"github.com/navcli/nav/internal/command"
	"github.com/navcli/nav/internal/config"
	"github.com/navcli/nav/internal/llm"
	"github.com/navcli/nav/internal/proc"
	"github.com/navcli/nav/internal/sessionlog"
	"github.com/navcli/nav/internal/tools"
	"github.com/navcli/nav/internal/tui"
	"github.com/navcli/nav/internal/usage"
)

// Version is set via -ldflags at build time.
var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("nav", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var flags config.Flags
	fs.StringVar(&flags.Model, "m", "", "Model name")
	fs.StringVar(&flags.Model, "model", "", "Model name")
	fs.StringVar(&flags.Provider, "p", "", "Provider: openai|anthropic|ollama (default: detected from model)")
	fs.StringVar(&flags.Provider, "provider", "", "Provider: openai|anthropic|ollama")
	fs.StringVar(&flags.BaseURL, "b", "", "API base URL")
	fs.StringVar(&flags.BaseURL, "base-url", "", "API base URL")
	fs.BoolVar(&flags.Verbose, "v", false, "Verbose logging")
	fs.BoolVar(&flags.Verbose, "verbose", false, "Verbose logging")
	fs.BoolVar(&flags.Sandbox, "s", false, "Run shell commands under the platform sandbox")
	fs.BoolVar(&flags.Sandbox, "sandbox", false, "Run shell commands under the platform sandbox")
	fs.BoolVar(&flags.EnableHandover, "enable-handover", false, "Automatically hand over when the context window fills")
	showVersion := fs.Bool("version", false, "Print version and exit")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: nav [flags] [\"one-shot prompt\"]\n\nFlags:\n")
		fs.PrintDefaults()
	}
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 1
	}
	if *showVersion {
		fmt.Printf("nav %s\n", Version)
		return 0
	}
	oneShot := strings.TrimSpace(strings.Join(fs.Args(), " "))

	cfg, err := config.Resolve(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nav: %v\n", err)
		return 1
	}

	level := slog.LevelWarn
	if cfg.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if cfg.Sandbox {
		if runtime.GOOS != "darwin" {
			fmt.Fprintf(os.Stderr, "nav: sandbox is only supported on macOS\n")
			return 1
		}
		if _, err := exec.LookPath("sandbox-exec"); err != nil {
			fmt.Fprintf(os.Stderr, "nav: sandbox requested but sandbox-exec is unavailable\n")
			return 1
		}
	}

	client, err := llm.NewClient(cfg.Provider, cfg.Model, cfg.BaseURL, cfg.APIKey)
	if err != nil {
		fmt.Fprintf(os.Stderr, "nav: %v\n", err)
		return 1
	}

	sessionLog, err := sessionlog.New(sessionlog.Options{Logger: logger, Dir: cfg.Dir})
	if err != nil {
		logger.Warn("session log unavailable", "err", err)
	}
	defer sessionLog.Close()
	sessionLog.Append(sessionlog.TypeConfig, map[string]any{
		"model": cfg.Model, "provider": cfg.Provider, "base_url": cfg.BaseURL,
		"context_window": cfg.ContextWindow, "handover_threshold": cfg.HandoverThreshold,
		"sandbox": cfg.Sandbox, "version": Version,
	})

	var usageStore *usage.Store
	if home, err := os.UserHomeDir(); err == nil {
		usageStore, err = usage.Open(filepath.Join(home, ".nav", "usage.db"))
		if err != nil {
			logger.Warn("usage ledger unavailable", "err", err)
		}
	}
	defer usageStore.Close()

	procs := proc.NewManager(proc.Options{Logger: logger, Dir: cfg.Dir})

	ui, err := tui.New(tui.Options{Logger: logger})
	if err != nil {
		fmt.Fprintf(os.Stderr, "nav: terminal: %v\n", err)
		return 1
	}
	defer ui.Restore()

	systemPrompt := agent.BuildSystemPrompt(cfg.Dir)
	sessionLog.Append(sessionlog.TypeSystemPrompt, map[string]any{"content": systemPrompt})

	ag, err := agent.New(agent.Options{
		Logger:            logger,
		Client:            client,
		Provider:          cfg.Provider,
		SystemPrompt:      systemPrompt,
		Registry:          tools.NewRegistry(logger),
		ToolContext:       tools.Context{Dir: cfg.Dir, Procs: procs},
		Sink:              ui,
		SessionLog:        sessionLog,
		Usage:             usageStore,
		ContextWindow:     cfg.ContextWindow,
		HandoverThreshold: cfg.HandoverThreshold,
		AutoHandover:      cfg.EnableHandover,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "nav: %v\n", err)
		return 1
	}

	// On a signal, stop every tracked process and restore the terminal
	// before dying with the conventional exit code.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		procs.KillAll()
		ui.Restore()
		_ = sessionLog.Close()
		switch sig {
		case syscall.SIGTERM:
			os.Exit(143)
		default:
			os.Exit(130)
		}
	}()

	ctx := context.Background()
	deps := command.Deps{Agent: ag, Sink: ui, Config: cfg, Usage: usageStore}

	if oneShot != "" {
		if err := ag.Run(ctx, oneShot); err != nil {
			logger.Error("run failed", "err", err)
			procs.KillAll()
			return 1
		}
		procs.KillAll()
		return 0
	}

	ui.Bannerf("nav %s | %s (%s) | %s", Version, cfg.Model, cfg.Provider, cfg.Dir)
	ui.Info("Escape cancels a running turn; exit, quit or Ctrl+D to leave.")

	for {
		line, err := ui.Prompt()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Error("prompt failed", "err", err)
			break
		}
		if line == "" {
			continue
		}
		if command.IsCommand(line) {
			command.Dispatch(ctx, line, deps)
			continue
		}
		if err := ag.Run(ctx, line); err != nil {
			ui.Error(fmt.Sprintf("run failed: %v", err))
		}
	}

	procs.KillAll()
	return 0
}
