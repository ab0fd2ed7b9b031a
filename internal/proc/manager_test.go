//go:build !windows

package proc

import (
	"strings"
	"testing"
	"time"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m := NewManager(Options{Dir: t.TempDir()})
	t.Cleanup(m.KillAll)
	return m
}

func TestRunCompletesWithinBudget(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	res, err := m.Run("sleep 0.05 && echo done", 500*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Completed {
		t.Fatalf("not completed: %+v", res)
	}
	if !strings.Contains(res.Output, "done") {
		t.Fatalf("output=%q", res.Output)
	}
	if res.ExitCode == nil || *res.ExitCode != 0 {
		t.Fatalf("exit code=%v", res.ExitCode)
	}
	// Completed commands are not tracked.
	if _, ok := m.Get(res.Pid); ok {
		t.Fatalf("completed pid %d still tracked", res.Pid)
	}
}

func TestRunBackgroundsOnBudget(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	res, err := m.Run("sleep 0.05 && echo done", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Completed {
		t.Fatalf("should have backgrounded: %+v", res)
	}
	p, ok := m.Get(res.Pid)
	if !ok {
		t.Fatalf("pid %d not tracked", res.Pid)
	}

	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("background process never observed exiting")
	}

	out, err := m.Output(res.Pid)
	if err != nil {
		t.Fatalf("Output: %v", err)
	}
	if !strings.Contains(out, "done") {
		t.Fatalf("background output missing command output:\n%s", out)
	}
	if !strings.Contains(out, "exited (code 0)") {
		t.Fatalf("background output missing exit state:\n%s", out)
	}
}

func TestNonZeroExitCodeAppended(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	res, err := m.Run("exit 3", time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Output, "exit code: 3") {
		t.Fatalf("output=%q", res.Output)
	}
}

func TestOutputBounded(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	// ~1 MiB of output against a 256 KiB cap.
	res, err := m.Run("yes 0123456789012345678901234567890123456789 | head -c 1048576", 5*time.Second)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Completed {
		t.Fatalf("not completed")
	}
	if len(res.Output) > MaxOutput+64 {
		t.Fatalf("output length %d exceeds cap", len(res.Output))
	}
	if !res.Truncated {
		t.Fatalf("truncation not reported")
	}
}

func TestTailBounded(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	res, err := m.Run("seq 1 1000; sleep 1", 50*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	tail, err := m.Tail(res.Pid, 100)
	if err != nil {
		t.Fatalf("Tail: %v", err)
	}
	if len(tail) > 100+len("...\n") {
		t.Fatalf("tail length %d exceeds bound", len(tail))
	}
	if !strings.HasPrefix(tail, "...\n") {
		t.Fatalf("truncated tail missing marker: %q", tail[:8])
	}
}

func TestKill(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	res, err := m.Run("sleep 30", 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	found, err := m.Kill(res.Pid)
	if err != nil {
		t.Fatalf("Kill: %v", err)
	}
	if !found {
		t.Fatalf("pid %d not found", res.Pid)
	}
	p, _ := m.Get(res.Pid)
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		t.Fatal("killed process did not exit")
	}
	if code := p.ExitCode(); code == nil || *code == 0 {
		t.Fatalf("exit code=%v, want non-zero", code)
	}

	if found, _ := m.Kill(999999); found {
		t.Fatalf("kill of unknown pid reported found")
	}
}

func TestStatusView(t *testing.T) {
	t.Parallel()

	m := newTestManager(t)
	longCommand := "sleep 5 # " + strings.Repeat("x", 100)
	res, err := m.Run(longCommand, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	status, err := m.Status(res.Pid)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if !strings.Contains(status, "state: running") {
		t.Fatalf("status=%q", status)
	}
	if strings.Contains(status, strings.Repeat("x", 70)) {
		t.Fatalf("command not truncated in status:\n%s", status)
	}
	if _, err := m.Status(424242); err != ErrNotFound {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}
}
