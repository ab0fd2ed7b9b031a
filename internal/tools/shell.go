package tools

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/navcli/nav/internal/proc"
)

type shellTool struct{}

func (shellTool) Name() string { return "shell" }

func (shellTool) Description() string {
	return "Run a shell command in the project directory. If the command outlives the wait budget it keeps running in the background and returns a pid for shell_status; wait_ms=0 backgrounds immediately."
}

func (shellTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"command": map[string]any{"type": "string", "description": "Command passed to sh -c"},
		"wait_ms": map[string]any{"type": "integer", "description": "Milliseconds to wait before backgrounding (default 30000; 0 backgrounds immediately)"},
	}, "command")
}

type shellArgs struct {
	Command string `json:"command"`
	WaitMs  *int   `json:"wait_ms"`
}

func (shellTool) Run(ctx Context, raw json.RawMessage) Result {
	var args shellArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("shell: bad arguments: %v", err)
	}
	if strings.TrimSpace(args.Command) == "" {
		return errorResult("shell: missing command")
	}

	budget := proc.DefaultWaitBudget
	if args.WaitMs != nil {
		if *args.WaitMs < 0 {
			return errorResult("shell: wait_ms must be >= 0")
		}
		budget = time.Duration(*args.WaitMs) * time.Millisecond
	}

	res, err := ctx.Procs.Run(args.Command, budget)
	if err != nil {
		return errorResult("shell: %v", err)
	}

	if res.Completed {
		out := res.Output
		if out == "" {
			out = "(no output)"
		}
		if res.Truncated {
			out += fmt.Sprintf("\n[output truncated at %d bytes]", proc.MaxOutput)
		}
		return Result{Output: out, Summary: fmt.Sprintf("$ %s", args.Command)}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Command still running after %dms; moved to background as pid %d.\n", budget.Milliseconds(), res.Pid)
	fmt.Fprintf(&b, "Use shell_status with pid=%d to check on it.\n", res.Pid)
	if res.Output != "" {
		b.WriteString("Output so far:\n")
		b.WriteString(res.Output)
	}
	return Result{Output: b.String(), Summary: fmt.Sprintf("$ %s [pid %d]", args.Command, res.Pid)}
}

type shellStatusTool struct{}

func (shellStatusTool) Name() string { return "shell_status" }

func (shellStatusTool) Description() string {
	return "Inspect background shell commands. Without a pid, lists all tracked processes. With a pid: action=status (summary + output tail), output (full captured output), tail (last bytes, limit sets how many), kill (send SIGTERM)."
}

func (shellStatusTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"pid":    map[string]any{"type": "integer", "description": "Pid returned by the shell tool"},
		"action": map[string]any{"type": "string", "enum": []string{"status", "output", "tail", "kill"}},
		"limit":  map[string]any{"type": "integer", "description": "For tail: number of bytes (default 2048)"},
	})
}

type shellStatusArgs struct {
	Pid    int    `json:"pid"`
	Action string `json:"action"`
	Limit  int    `json:"limit"`
}

func (shellStatusTool) Run(ctx Context, raw json.RawMessage) Result {
	var args shellStatusArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("shell_status: bad arguments: %v", err)
	}

	if args.Pid == 0 {
		procs := ctx.Procs.List()
		if len(procs) == 0 {
			return Result{Output: "No background processes.", Summary: "shell_status"}
		}
		var b strings.Builder
		for _, p := range procs {
			state := "running"
			if code := p.ExitCode(); code != nil {
				state = fmt.Sprintf("exited (code %d)", *code)
			}
			fmt.Fprintf(&b, "pid %d  %s  %s\n", p.Pid, state, p.Command)
		}
		return Result{Output: b.String(), Summary: fmt.Sprintf("shell_status: %d tracked", len(procs))}
	}

	action := strings.TrimSpace(args.Action)
	if action == "" {
		action = "status"
	}
	switch action {
	case "status":
		out, err := ctx.Procs.Status(args.Pid)
		if err != nil {
			return errorResult("shell_status: %v", err)
		}
		return Result{Output: out, Summary: fmt.Sprintf("status pid %d", args.Pid)}
	case "output":
		out, err := ctx.Procs.Output(args.Pid)
		if err != nil {
			return errorResult("shell_status: %v", err)
		}
		return Result{Output: out, Summary: fmt.Sprintf("output pid %d", args.Pid)}
	case "tail":
		out, err := ctx.Procs.Tail(args.Pid, args.Limit)
		if err != nil {
			return errorResult("shell_status: %v", err)
		}
		if out == "" {
			out = "(no output)"
		}
		return Result{Output: out, Summary: fmt.Sprintf("tail pid %d", args.Pid)}
	case "kill":
		found, err := ctx.Procs.Kill(args.Pid)
		if err != nil {
			return errorResult("shell_status: kill: %v", err)
		}
		if !found {
			return Result{Output: fmt.Sprintf("No tracked process with pid %d.", args.Pid), Summary: fmt.Sprintf("kill pid %d", args.Pid)}
		}
		return Result{Output: fmt.Sprintf("Sent terminate signal to pid %d.", args.Pid), Summary: fmt.Sprintf("kill pid %d", args.Pid)}
	default:
		return errorResult("shell_status: unknown action %q (use status, output, tail or kill)", action)
	}
}
