// Package tui owns the terminal. It runs stdin in raw mode for the life of
// the process so it can capture Escape while the agent runs, keeps normal
// input line-buffered through its own small line editor, and renders
// streamed model output, tool activity and diffs.
package tui

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

const (
	colReset = "\x1b[0m"
	colDim   = "\x1b[2m"
	colCyan  = "\x1b[36m"
	colRed   = "\x1b[31m"
	colGreen = "\x1b[32m"
	colBold  = "\x1b[1m"
)

var spinnerFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

// TUI multiplexes the terminal between the prompt loop and a running agent.
// Exactly one goroutine reads stdin; submitted lines either resolve Prompt
// or, while the agent runs, land in the interjection queue.
type TUI struct {
	log *slog.Logger
	out io.Writer

	rawState *term.State

	lines   chan string // submitted lines in prompting mode
	eof     chan struct{}
	eofOnce sync.Once

	mu        sync.Mutex
	running   bool
	queue     []string
	cancel    context.CancelFunc
	cancelled bool
	editBuf   []rune
	col       int // cursor column on the current physical line
	streaming bool

	spinnerStop chan struct{}
	spinnerOn   bool
}

// Options configures a TUI.
type Options struct {
	Logger *slog.Logger
}

// New puts the terminal into raw mode and starts the key reader.
func New(opts Options) (*TUI, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	}
	t := &TUI{
		log:   logger,
		out:   os.Stdout,
		lines: make(chan string),
		eof:   make(chan struct{}),
	}
	if term.IsTerminal(int(os.Stdin.Fd())) {
		state, err := term.MakeRaw(int(os.Stdin.Fd()))
		if err != nil {
			return nil, err
		}
		t.rawState = state
	} else {
		t.log.Debug("stdin is not a terminal; raw key capture disabled")
	}
	go t.readKeys()
	return t, nil
}

// Restore returns the terminal to its original mode. Idempotent.
func (t *TUI) Restore() {
	if t.rawState != nil {
		_ = term.Restore(int(os.Stdin.Fd()), t.rawState)
		t.rawState = nil
	}
}

// Prompt draws the input marker and resolves with the next submitted line.
// Returns io.EOF on exit/quit/q, Ctrl+D on an empty line, or closed stdin.
func (t *TUI) Prompt() (string, error) {
	t.write(colBold + "> " + colReset)
	select {
	case line := <-t.lines:
		line = strings.TrimSpace(line)
		switch line {
		case "exit", "quit", "q":
			return "", io.EOF
		}
		return line, nil
	case <-t.eof:
		return "", io.EOF
	}
}

// SetRunning toggles between prompting and running modes. Entering running
// mode resets the cancel latch; leaving it stops the spinner.
func (t *TUI) SetRunning(running bool) {
	t.mu.Lock()
	t.running = running
	if running {
		t.cancelled = false
	}
	t.mu.Unlock()
	if !running {
		t.StopSpinner()
	}
}

// NewRunContext returns the context for one agent run; Escape cancels it.
func (t *TUI) NewRunContext(parent context.Context) context.Context {
	ctx, cancel := context.WithCancel(parent)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
	return ctx
}

// IsCancelled reports whether Escape was pressed during the current run.
func (t *TUI) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// DrainQueued returns and clears the lines typed while the agent was
// running.
func (t *TUI) DrainQueued() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.queue
	t.queue = nil
	return out
}

func (t *TUI) readKeys() {
	buf := make([]byte, 64)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			t.closeEOF()
			return
		}
		for _, b := range buf[:n] {
			t.handleKey(b)
		}
	}
}

func (t *TUI) handleKey(b byte) {
	switch b {
	case 0x1b: // Escape
		t.mu.Lock()
		running := t.running
		cancel := t.cancel
		already := t.cancelled
		if running && !already {
			t.cancelled = true
		}
		t.mu.Unlock()
		if running && !already && cancel != nil {
			cancel()
			t.Line(colRed + "■ stopped" + colReset)
		}
	case 0x03: // Ctrl+C
		t.closeEOF()
	case 0x04: // Ctrl+D
		t.mu.Lock()
		empty := len(t.editBuf) == 0
		t.mu.Unlock()
		if empty {
			t.closeEOF()
		}
	case '\r', '\n':
		t.mu.Lock()
		line := string(t.editBuf)
		t.editBuf = t.editBuf[:0]
		running := t.running
		if running && strings.TrimSpace(line) != "" {
			t.queue = append(t.queue, line)
		}
		t.mu.Unlock()
		t.write("\r\n")
		if running {
			if strings.TrimSpace(line) != "" {
				t.Line(colDim + "queued: " + line + colReset)
			}
			return
		}
		select {
		case t.lines <- line:
		case <-t.eof:
		}
	case 0x7f, 0x08: // Backspace
		t.mu.Lock()
		if len(t.editBuf) > 0 {
			t.editBuf = t.editBuf[:len(t.editBuf)-1]
			t.write("\b \b")
		}
		t.mu.Unlock()
	default:
		if b < 0x20 {
			return
		}
		t.mu.Lock()
		t.editBuf = append(t.editBuf, rune(b))
		t.mu.Unlock()
		t.write(string(rune(b)))
	}
}

func (t *TUI) closeEOF() {
	t.eofOnce.Do(func() { close(t.eof) })
}

// --- rendering ---

func (t *TUI) write(s string) {
	_, _ = io.WriteString(t.out, s)
}

// Line prints one full line, translating newlines for raw mode.
func (t *TUI) Line(s string) {
	t.write("\r" + strings.ReplaceAll(s, "\n", "\r\n") + "\r\n")
}

// StreamText renders an assistant text delta as it arrives.
func (t *TUI) StreamText(delta string) {
	t.StopSpinner()
	t.mu.Lock()
	if !t.streaming {
		t.streaming = true
		t.col = 0
	}
	width := t.width()
	var b strings.Builder
	for _, r := range delta {
		if r == '\n' {
			b.WriteString("\r\n")
			t.col = 0
			continue
		}
		if width > 0 && t.col >= width-1 {
			b.WriteString("\r\n")
			t.col = 0
		}
		b.WriteRune(r)
		t.col++
	}
	t.mu.Unlock()
	t.write(b.String())
}

// EndStream closes the current streamed line, if any. Tool output always
// goes through here first so it never interleaves with streamed text.
func (t *TUI) EndStream() {
	t.mu.Lock()
	open := t.streaming && t.col > 0
	t.streaming = false
	t.col = 0
	t.mu.Unlock()
	if open {
		t.write("\r\n")
	}
}

// ToolCall shows a dispatched tool call.
func (t *TUI) ToolCall(summary string) {
	t.EndStream()
	t.StopSpinner()
	t.Line(colCyan + "→ " + summary + colReset)
}

// ToolResult shows a tool outcome; errors go red.
func (t *TUI) ToolResult(summary string, isError bool) {
	if isError {
		t.Line(colRed + "  ✗ " + summary + colReset)
		return
	}
	t.Line(colDim + "  ✓ " + summary + colReset)
}

// Diff renders a unified diff with +/- coloring.
func (t *TUI) Diff(unified string) {
	for _, line := range strings.Split(strings.TrimSuffix(unified, "\n"), "\n") {
		switch {
		case strings.HasPrefix(line, "+"):
			t.Line(colGreen + line + colReset)
		case strings.HasPrefix(line, "-"):
			t.Line(colRed + line + colReset)
		case strings.HasPrefix(line, "@@"):
			t.Line(colCyan + line + colReset)
		default:
			t.Line(colDim + line + colReset)
		}
	}
}

// Info, Error and Success print status lines.
func (t *TUI) Info(s string)    { t.Line(colDim + s + colReset) }
func (t *TUI) Error(s string)   { t.Line(colRed + s + colReset) }
func (t *TUI) Success(s string) { t.Line(colGreen + s + colReset) }

// StartSpinner animates a glyph until output arrives.
func (t *TUI) StartSpinner() {
	t.mu.Lock()
	if t.spinnerOn {
		t.mu.Unlock()
		return
	}
	t.spinnerOn = true
	stop := make(chan struct{})
	t.spinnerStop = stop
	t.mu.Unlock()

	go func() {
		ticker := time.NewTicker(90 * time.Millisecond)
		defer ticker.Stop()
		i := 0
		for {
			select {
			case <-stop:
				t.write("\r \r")
				return
			case <-ticker.C:
				t.write("\r" + colCyan + spinnerFrames[i%len(spinnerFrames)] + colReset + " ")
				i++
			}
		}
	}()
}

// StopSpinner halts the animation. Idempotent.
func (t *TUI) StopSpinner() {
	t.mu.Lock()
	if !t.spinnerOn {
		t.mu.Unlock()
		return
	}
	t.spinnerOn = false
	stop := t.spinnerStop
	t.spinnerStop = nil
	t.mu.Unlock()
	close(stop)
}

func (t *TUI) width() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil || w <= 0 {
		return 0
	}
	return w
}

// Bannerf prints an emphasized status banner.
func (t *TUI) Bannerf(format string, args ...any) {
	t.Line(colBold + fmt.Sprintf(format, args...) + colReset)
}
