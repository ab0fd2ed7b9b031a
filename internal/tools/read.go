package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/navcli/nav/internal/hashline"
)

const (
	// MaxReadLines bounds how many display lines one read returns.
	MaxReadLines = 2000
	// MaxReadBytes bounds how many bytes one read returns.
	MaxReadBytes = 256 * 1024
)

type readTool struct{}

func (readTool) Name() string { return "read" }

func (readTool) Description() string {
	return "Read a file. Returns lines prefixed with \"line:hash|\"; use those line:hash pairs as anchors in the edit tool. Supports offset (1-based line) and limit for large files."
}

func (readTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path":   map[string]any{"type": "string", "description": "File path, relative to the project directory"},
		"offset": map[string]any{"type": "integer", "description": "1-based line to start from"},
		"limit":  map[string]any{"type": "integer", "description": "Maximum lines to return"},
	}, "path")
}

type readArgs struct {
	Path   string `json:"path"`
	Offset int    `json:"offset"`
	Limit  int    `json:"limit"`
}

func (readTool) Run(ctx Context, raw json.RawMessage) Result {
	var args readArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("read: bad arguments: %v", err)
	}
	if strings.TrimSpace(args.Path) == "" {
		return errorResult("read: missing path")
	}
	path := resolvePath(ctx.Dir, args.Path)

	info, err := os.Stat(path)
	if err != nil {
		return errorResult("read: %v", err)
	}
	if info.IsDir() {
		return errorResult("read: %s is a directory; use the shell tool (ls, find) to list it", args.Path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return errorResult("read: %v", err)
	}

	lines := hashline.SplitLines(string(data))
	total := len(lines)
	if total == 0 {
		return Result{Output: "(empty file)", Summary: fmt.Sprintf("read %s (empty)", args.Path)}
	}

	offset := args.Offset
	if offset < 1 {
		offset = 1
	}
	if offset > total && total > 0 {
		return errorResult("read: offset %d is past the end of %s (%d lines)", offset, args.Path, total)
	}
	limit := args.Limit
	if limit <= 0 || limit > MaxReadLines {
		limit = MaxReadLines
	}
	end := offset + limit - 1
	if end > total {
		end = total
	}

	var b strings.Builder
	bytesOut := 0
	truncatedBytes := false
	shown := 0
	for n := offset; n <= end; n++ {
		line := hashline.FormatLine(n, lines[n-1]) + "\n"
		if bytesOut+len(line) > MaxReadBytes {
			truncatedBytes = true
			break
		}
		b.WriteString(line)
		bytesOut += len(line)
		shown++
	}

	lastShown := offset + shown - 1
	if truncatedBytes {
		fmt.Fprintf(&b, "[truncated at %d bytes. Use offset=%d to continue]\n", MaxReadBytes, lastShown+1)
	} else if lastShown < total {
		fmt.Fprintf(&b, "[%d more lines. Use offset=%d to continue]\n", total-lastShown, lastShown+1)
	}

	summary := fmt.Sprintf("read %s", args.Path)
	if offset > 1 || lastShown < total {
		summary = fmt.Sprintf("read %s:%d-%d", args.Path, offset, lastShown)
	}
	return Result{Output: b.String(), Summary: summary}
}

// resolvePath anchors relative paths at the project directory.
func resolvePath(dir, path string) string {
	path = strings.TrimSpace(path)
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(dir, path)
}
