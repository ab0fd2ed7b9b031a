// Package usage keeps a small SQLite ledger of provider token usage, one
// row per model turn. It persists accounting only, never conversation
// content.
package usage

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the usage ledger.
type Store struct {
	db *sql.DB
}

// Open creates or opens the ledger database.
func Open(path string) (*Store, error) {
	p := filepath.Clean(strings.TrimSpace(path))
	if p == "" {
		return nil, errors.New("missing db path")
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", p)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return &Store{db: db}, nil
}

func initSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return err
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=3000;`); err != nil {
		return err
	}
	_, err := db.Exec(`
CREATE TABLE IF NOT EXISTS turns (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	at_unix_ms INTEGER NOT NULL,
	provider TEXT NOT NULL,
	model TEXT NOT NULL,
	input_tokens INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS turns_at ON turns(at_unix_ms);
`)
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Record appends one turn's usage.
func (s *Store) Record(provider, model string, inputTokens, outputTokens int64) error {
	if s == nil || s.db == nil {
		return nil
	}
	_, err := s.db.Exec(
		`INSERT INTO turns (at_unix_ms, provider, model, input_tokens, output_tokens) VALUES (?, ?, ?, ?, ?)`,
		time.Now().UnixMilli(), strings.TrimSpace(provider), strings.TrimSpace(model), inputTokens, outputTokens,
	)
	return err
}

// Total is aggregated usage for one model.
type Total struct {
	Model        string
	Turns        int64
	InputTokens  int64
	OutputTokens int64
}

// Totals aggregates per-model usage since the given time; a zero time means
// all recorded history.
func (s *Store) Totals(since time.Time) ([]Total, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not open")
	}
	rows, err := s.db.Query(
		`SELECT model, COUNT(*), SUM(input_tokens), SUM(output_tokens)
		 FROM turns WHERE at_unix_ms >= ? GROUP BY model ORDER BY SUM(input_tokens) DESC`,
		since.UnixMilli(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Total
	for rows.Next() {
		var t Total
		if err := rows.Scan(&t.Model, &t.Turns, &t.InputTokens, &t.OutputTokens); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Report renders today's and lifetime totals for the /usage command.
func (s *Store) Report() (string, error) {
	now := time.Now()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	today, err := s.Totals(midnight)
	if err != nil {
		return "", err
	}
	all, err := s.Totals(time.Time{})
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString("Today:\n")
	writeTotals(&b, today)
	b.WriteString("All time:\n")
	writeTotals(&b, all)
	return b.String(), nil
}

func writeTotals(b *strings.Builder, totals []Total) {
	if len(totals) == 0 {
		b.WriteString("  (none)\n")
		return
	}
	for _, t := range totals {
		fmt.Fprintf(b, "  %-30s %5d turns  in %9d  out %9d\n", t.Model, t.Turns, t.InputTokens, t.OutputTokens)
	}
}
