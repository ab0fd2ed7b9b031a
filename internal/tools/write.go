package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/navcli/nav/internal/hashline"
)

type writeTool struct{}

func (writeTool) Name() string { return "write" }

func (writeTool) Description() string {
	return "Create or overwrite a file with the given content. Parent directories are created as needed. Prefer the edit tool for changing existing files."
}

func (writeTool) Schema() map[string]any {
	return objectSchema(map[string]any{
		"path":    map[string]any{"type": "string", "description": "File path, relative to the project directory"},
		"content": map[string]any{"type": "string", "description": "Full file content"},
	}, "path", "content")
}

type writeArgs struct {
	Path    string          `json:"path"`
	Content json.RawMessage `json:"content"`
}

func (writeTool) Run(ctx Context, raw json.RawMessage) Result {
	var args writeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("write: bad arguments: %v", err)
	}
	if strings.TrimSpace(args.Path) == "" {
		return errorResult("write: missing path")
	}

	content, err := coerceContent(args.Content)
	if err != nil {
		return errorResult("write: %v", err)
	}

	path := resolvePath(ctx.Dir, args.Path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errorResult("write: %v", err)
	}

	_, statErr := os.Stat(path)
	existed := statErr == nil

	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return errorResult("write: %v", err)
	}

	verb := "created"
	if existed {
		verb = "overwrote"
	}
	lineCount := len(hashline.SplitLines(content))
	return Result{
		Output:  fmt.Sprintf("%s %s (%d lines, %d bytes)", verb, args.Path, lineCount, len(content)),
		Summary: fmt.Sprintf("write %s (%d lines)", args.Path, lineCount),
	}
}

// coerceContent tolerates models that pass a JSON object where a string is
// expected; the object is serialized as pretty JSON.
func coerceContent(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", fmt.Errorf("content is not a string: %v", err)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", err
	}
	return string(pretty) + "\n", nil
}
