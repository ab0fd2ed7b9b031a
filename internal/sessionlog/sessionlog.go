// Package sessionlog appends structured records of a session (messages,
// tool calls, tool results, errors, usage) to a JSON-lines file under
// .nav/logs/. One file per process.
package sessionlog

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// RecordType enumerates what a log line describes.
type RecordType string

const (
	TypeConfig           RecordType = "config"
	TypeSystemPrompt     RecordType = "system_prompt"
	TypeUserMessage      RecordType = "user_message"
	TypeAssistantMessage RecordType = "assistant_message"
	TypeToolCall         RecordType = "tool_call"
	TypeToolResult       RecordType = "tool_result"
	TypeError            RecordType = "error"
	TypeUsage            RecordType = "usage"
)

// toolResultMax bounds how much tool output lands in the log.
const toolResultMax = 5000

type record struct {
	Type      RecordType `json:"type"`
	Timestamp string     `json:"timestamp"`
	Data      any        `json:"data"`
}

// Options configures a Logger.
type Options struct {
	Logger *slog.Logger
	// Dir is the project directory; the log lives in Dir/.nav/logs/.
	Dir string
}

// Logger is an append-only session log. Appends are serialized by a mutex,
// so records from concurrent callers never interleave within a line.
type Logger struct {
	log  *slog.Logger
	mu   sync.Mutex
	file *os.File
}

// New opens a fresh timestamped log file.
func New(opts Options) (*Logger, error) {
	dir := strings.TrimSpace(opts.Dir)
	if dir == "" {
		return nil, errors.New("missing Dir")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}

	logDir := filepath.Join(dir, ".nav", "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(logDir, time.Now().Format("20060102-150405")+".jsonl")
	file, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Logger{log: logger, file: file}, nil
}

// Append writes one record. Logging failures are reported to the slog
// logger and otherwise ignored; the session must not die for its log.
func (l *Logger) Append(t RecordType, data any) {
	if l == nil || l.file == nil {
		return
	}
	if t == TypeToolResult {
		data = truncateToolResult(data)
	}
	line, err := json.Marshal(record{Type: t, Timestamp: time.Now().UTC().Format(time.RFC3339Nano), Data: data})
	if err != nil {
		l.log.Warn("sessionlog marshal failed", "err", err)
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		l.log.Warn("sessionlog write failed", "err", err)
	}
}

func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

func truncateToolResult(data any) any {
	m, ok := data.(map[string]any)
	if !ok {
		return data
	}
	content, ok := m["content"].(string)
	if !ok || len(content) <= toolResultMax {
		return data
	}
	out := make(map[string]any, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out["content"] = content[:toolResultMax]
	out["truncated"] = true
	return out
}
