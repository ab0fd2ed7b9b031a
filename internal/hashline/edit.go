package hashline

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// ErrNoChanges reports that applying a batch produced byte-identical content.
// The caller should tell the model to re-read instead of pretending success.
var ErrNoChanges = errors.New("edits produced no changes")

// Edit is one of three operations. Exactly one field is set.
type Edit struct {
	SetLine      *SetLine
	ReplaceLines *ReplaceLines
	InsertAfter  *InsertAfter
}

// SetLine replaces one line. NewText may hold several lines or be empty,
// which deletes the line.
type SetLine struct {
	Anchor  string
	NewText string
}

// ReplaceLines replaces an inclusive anchor range.
type ReplaceLines struct {
	StartAnchor string
	EndAnchor   string
	NewText     string
}

// InsertAfter inserts non-empty text after the anchored line.
type InsertAfter struct {
	Anchor string
	Text   string
}

// Result is a successful application.
type Result struct {
	Content string
	Added   int
	Removed int
}

// resolved is an edit with parsed anchors, ready to splice.
type resolved struct {
	start   Anchor // for insertAfter this is the anchored line itself
	end     Anchor
	newText string
	insert  bool
}

func (r resolved) endLine() int { return r.end.Line }

// Apply validates every anchor in the batch against content and, only if all
// are valid, splices the edits bottom-up so that every anchor keeps referring
// to the pre-batch snapshot. A malformed edit fails on its own error; an
// out-of-range anchor yields a plain error listing every out-of-range
// anchor; otherwise any stale anchor yields a *MismatchError covering all
// stale anchors. In every failure case the content is left untouched.
func Apply(content string, edits []Edit) (Result, error) {
	if len(edits) == 0 {
		return Result{}, errors.New("no edits given")
	}
	lines := SplitLines(content)

	work := make([]resolved, 0, len(edits))
	var stale []Anchor
	var oob []error
	for i, e := range edits {
		r, err := resolve(e)
		if err != nil {
			return Result{}, fmt.Errorf("edit %d: %w", i+1, err)
		}
		for _, a := range anchorsOf(r) {
			if a.Line < 1 || a.Line > len(lines) {
				oob = append(oob, fmt.Errorf("edit %d: line %d is out of range (file has %d lines)", i+1, a.Line, len(lines)))
				continue
			}
			if !strings.EqualFold(LineHash(lines[a.Line-1]), a.Hash) {
				stale = append(stale, a)
			}
		}
		work = append(work, r)
	}
	if len(oob) > 0 {
		return Result{}, errors.Join(oob...)
	}
	if len(stale) > 0 {
		return Result{}, newMismatchError(lines, stale)
	}

	// Bottom-up: later lines first, so earlier splices cannot shift the
	// positions a pending edit refers to. At the same end line an insert
	// applies before a replacement so the inserted text ends up after the
	// replacement block, not inside it.
	sort.SliceStable(work, func(i, j int) bool {
		if work[i].endLine() != work[j].endLine() {
			return work[i].endLine() > work[j].endLine()
		}
		return work[i].insert && !work[j].insert
	})

	out := make([]string, len(lines))
	copy(out, lines)
	added, removed := 0, 0
	for _, r := range work {
		if r.insert {
			ins := SplitLines(stripEchoedPrefixes(r.newText))
			at := r.start.Line
			out = append(out[:at], append(append([]string{}, ins...), out[at:]...)...)
			added += len(ins)
			continue
		}
		repl := SplitLines(stripEchoedPrefixes(r.newText))
		lo, hi := r.start.Line-1, r.end.Line
		removed += hi - lo
		added += len(repl)
		out = append(out[:lo], append(append([]string{}, repl...), out[hi:]...)...)
	}

	result := JoinLines(out)
	if result == content {
		return Result{}, ErrNoChanges
	}
	return Result{Content: result, Added: added, Removed: removed}, nil
}

func resolve(e Edit) (resolved, error) {
	switch {
	case e.SetLine != nil:
		a, err := ParseAnchor(e.SetLine.Anchor)
		if err != nil {
			return resolved{}, err
		}
		return resolved{start: a, end: a, newText: e.SetLine.NewText}, nil
	case e.ReplaceLines != nil:
		start, err := ParseAnchor(e.ReplaceLines.StartAnchor)
		if err != nil {
			return resolved{}, err
		}
		end, err := ParseAnchor(e.ReplaceLines.EndAnchor)
		if err != nil {
			return resolved{}, err
		}
		if start.Line > end.Line {
			return resolved{}, fmt.Errorf("inverted range: start line %d is after end line %d", start.Line, end.Line)
		}
		return resolved{start: start, end: end, newText: e.ReplaceLines.NewText}, nil
	case e.InsertAfter != nil:
		a, err := ParseAnchor(e.InsertAfter.Anchor)
		if err != nil {
			return resolved{}, err
		}
		if strings.TrimSpace(e.InsertAfter.Text) == "" {
			return resolved{}, errors.New("insert_after requires non-empty text")
		}
		return resolved{start: a, end: a, newText: e.InsertAfter.Text, insert: true}, nil
	default:
		return resolved{}, errors.New("edit has no operation set")
	}
}

func anchorsOf(r resolved) []Anchor {
	if r.start == r.end {
		return []Anchor{r.start}
	}
	return []Anchor{r.start, r.end}
}

var displayPrefixRe = regexp.MustCompile(`^\s*\d+:[0-9a-fA-F]{1,4}\|`)

// stripEchoedPrefixes defends against models that echo the display form back
// into replacement text. When at least half of the non-empty lines carry a
// valid "L:HH|" prefix, the prefix is stripped from every line that has one.
func stripEchoedPrefixes(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	nonEmpty, prefixed := 0, 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		nonEmpty++
		if displayPrefixRe.MatchString(line) {
			prefixed++
		}
	}
	if nonEmpty == 0 || prefixed*2 < nonEmpty {
		return text
	}
	for i, line := range lines {
		if loc := displayPrefixRe.FindStringIndex(line); loc != nil {
			lines[i] = line[loc[1]:]
		}
	}
	return strings.Join(lines, "\n")
}
