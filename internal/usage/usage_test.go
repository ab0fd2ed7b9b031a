package usage

import (
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestRecordAndTotals(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "usage.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	if err := s.Record("anthropic", "claude-sonnet", 100, 20); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record("anthropic", "claude-sonnet", 50, 10); err != nil {
		t.Fatalf("Record: %v", err)
	}
	if err := s.Record("ollama", "qwen3", 30, 5); err != nil {
		t.Fatalf("Record: %v", err)
	}

	totals, err := s.Totals(time.Time{})
	if err != nil {
		t.Fatalf("Totals: %v", err)
	}
	if len(totals) != 2 {
		t.Fatalf("totals=%d, want 2", len(totals))
	}
	if totals[0].Model != "claude-sonnet" || totals[0].InputTokens != 150 || totals[0].OutputTokens != 30 || totals[0].Turns != 2 {
		t.Fatalf("first total=%+v", totals[0])
	}

	report, err := s.Report()
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if !strings.Contains(report, "claude-sonnet") || !strings.Contains(report, "qwen3") {
		t.Fatalf("report:\n%s", report)
	}
}
