package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// BuildSystemPrompt assembles the fixed prompt prefix. Everything here is
// stable for the life of the process so the provider's KV cache hits across
// turns; only a change to AGENTS.md on disk justifies rebuilding it.
func BuildSystemPrompt(dir string) string {
	var b strings.Builder
	b.WriteString(`You are nav, a coding assistant working in the user's project directory through tools.

Editing rules:
- Files are shown with "line:hash|" prefixes. These line:hash pairs are anchors; copy them exactly into edit operations.
- Anchors are only valid against the file as last read. If an edit reports stale anchors, use the corrected anchors from the error or re-read the file.
- Batch related edits into one call; all anchors refer to the file before the batch.
- Prefer edit over write for existing files; write replaces whole files.

Shell rules:
- Commands run in the project directory with sh -c. Long commands are moved to the background; use shell_status to follow them.
- Never use interactive commands (editors, pagers); TERM is dumb.

Keep answers short. Act through tools instead of describing what you would do.`)

	fmt.Fprintf(&b, "\n\nPlatform: %s/%s\nProject directory: %s\n", runtime.GOOS, runtime.GOARCH, dir)

	if agents := readAgentsFile(dir); agents != "" {
		b.WriteString("\nProject notes (AGENTS.md):\n")
		b.WriteString(agents)
		b.WriteString("\n")
	}
	return b.String()
}

const agentsFileMax = 16 * 1024

func readAgentsFile(dir string) string {
	data, err := os.ReadFile(filepath.Join(dir, "AGENTS.md"))
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(string(data))
	if len(text) > agentsFileMax {
		text = text[:agentsFileMax]
	}
	return text
}
