// Package diff computes line diffs between two file states and renders them
// as unified hunks for the terminal and for edit-tool results.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Op classifies a diff line.
type Op int

const (
	OpContext Op = iota
	OpAdd
	OpDelete
)

// Line is one line of a hunk, numbered in the side it belongs to.
type Line struct {
	Op      Op
	OldNum  int // 1-based; 0 for added lines
	NewNum  int // 1-based; 0 for deleted lines
	Content string
}

// Hunk groups nearby changes with surrounding context.
type Hunk struct {
	OldStart, OldCount int
	NewStart, NewCount int
	Lines              []Line
}

// Stats summarizes a diff.
type Stats struct {
	Added   int
	Removed int
}

func (s Stats) String() string {
	return fmt.Sprintf("+%d, -%d", s.Added, s.Removed)
}

const contextLines = 3

// Compute diffs old against new at line granularity (no cleanup pass is
// run on the edit script), then folds the edit script into unified hunks.
func Compute(oldContent, newContent string) ([]Hunk, Stats) {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	a, b, lineArray := dmp.DiffLinesToChars(oldContent, newContent)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lineArray)

	var all []Line
	var stats Stats
	oldNum, newNum := 1, 1
	for _, d := range diffs {
		for _, content := range splitKeepingLines(d.Text) {
			switch d.Type {
			case diffmatchpatch.DiffEqual:
				all = append(all, Line{Op: OpContext, OldNum: oldNum, NewNum: newNum, Content: content})
				oldNum++
				newNum++
			case diffmatchpatch.DiffDelete:
				all = append(all, Line{Op: OpDelete, OldNum: oldNum, Content: content})
				oldNum++
				stats.Removed++
			case diffmatchpatch.DiffInsert:
				all = append(all, Line{Op: OpAdd, NewNum: newNum, Content: content})
				newNum++
				stats.Added++
			}
		}
	}
	return fold(all), stats
}

func splitKeepingLines(text string) []string {
	if text == "" {
		return nil
	}
	lines := strings.Split(text, "\n")
	if lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// fold groups changed lines into hunks with up to contextLines of context on
// each side, merging hunks whose context would overlap.
func fold(all []Line) []Hunk {
	var hunks []Hunk
	i := 0
	for i < len(all) {
		if all[i].Op == OpContext {
			i++
			continue
		}
		start := i - contextLines
		if start < 0 {
			start = 0
		}
		end := i
		last := i
		for end < len(all) {
			if all[end].Op != OpContext {
				last = end
				end++
				continue
			}
			if end-last > contextLines*2 {
				break
			}
			end++
		}
		stop := last + contextLines + 1
		if stop > len(all) {
			stop = len(all)
		}
		hunks = append(hunks, makeHunk(all[start:stop]))
		i = stop
	}
	return hunks
}

func makeHunk(lines []Line) Hunk {
	h := Hunk{Lines: append([]Line(nil), lines...)}
	for _, l := range lines {
		if l.Op != OpAdd {
			if h.OldStart == 0 {
				h.OldStart = l.OldNum
			}
			h.OldCount++
		}
		if l.Op != OpDelete {
			if h.NewStart == 0 {
				h.NewStart = l.NewNum
			}
			h.NewCount++
		}
	}
	if h.OldStart == 0 {
		h.OldStart = h.NewStart
	}
	if h.NewStart == 0 {
		h.NewStart = h.OldStart
	}
	return h
}

// Unified renders hunks in unified format without file headers.
func Unified(hunks []Hunk) string {
	var b strings.Builder
	for _, h := range hunks {
		fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
		for _, l := range h.Lines {
			switch l.Op {
			case OpAdd:
				b.WriteByte('+')
			case OpDelete:
				b.WriteByte('-')
			default:
				b.WriteByte(' ')
			}
			b.WriteString(l.Content)
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// ChangedRanges returns the [start, end] new-file line ranges touched by each
// hunk, used to re-emit fresh hashlines after an edit.
func ChangedRanges(hunks []Hunk) [][2]int {
	var out [][2]int
	for _, h := range hunks {
		if h.NewCount == 0 {
			out = append(out, [2]int{h.NewStart, h.NewStart})
			continue
		}
		out = append(out, [2]int{h.NewStart, h.NewStart + h.NewCount - 1})
	}
	return out
}
