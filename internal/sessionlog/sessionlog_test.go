package sessionlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestAppendAndTruncate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	l, err := New(Options{Dir: dir})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	l.Append(TypeUserMessage, map[string]any{"content": "hello"})
	l.Append(TypeToolResult, map[string]any{
		"tool_call_id": "c1",
		"content":      strings.Repeat("x", toolResultMax+100),
	})
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	entries, err := os.ReadDir(filepath.Join(dir, ".nav", "logs"))
	if err != nil || len(entries) != 1 {
		t.Fatalf("log dir: %v, %d entries", err, len(entries))
	}
	f, err := os.Open(filepath.Join(dir, ".nav", "logs", entries[0].Name()))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()

	var records []record
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var r record
		if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
			t.Fatalf("bad log line: %v", err)
		}
		records = append(records, r)
	}
	if len(records) != 2 {
		t.Fatalf("records=%d, want 2", len(records))
	}
	if records[0].Type != TypeUserMessage || records[1].Type != TypeToolResult {
		t.Fatalf("types=%v %v", records[0].Type, records[1].Type)
	}
	data := records[1].Data.(map[string]any)
	if content := data["content"].(string); len(content) != toolResultMax {
		t.Fatalf("tool result length=%d, want %d", len(content), toolResultMax)
	}
	if data["truncated"] != true {
		t.Fatalf("missing truncated flag")
	}
}
