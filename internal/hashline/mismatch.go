package hashline

import (
	"sort"
	"strings"
)

// mismatchContext is how many neighbor lines surround each changed line in a
// mismatch report.
const mismatchContext = 2

// MismatchError reports stale anchors. Its Error text is sent back to the model
// verbatim; it shows the current display form of every changed line plus
// context so the model can copy the corrected anchors without a full re-read.
type MismatchError struct {
	Stale  []Anchor
	report string
}

func (e *MismatchError) Error() string { return e.report }

func newMismatchError(lines []string, stale []Anchor) *MismatchError {
	changed := make(map[int]bool, len(stale))
	nums := make([]int, 0, len(stale))
	for _, a := range stale {
		if !changed[a.Line] {
			changed[a.Line] = true
			nums = append(nums, a.Line)
		}
	}
	sort.Ints(nums)

	var b strings.Builder
	b.WriteString("Some line references are stale; the file has changed since it was read.\n")
	b.WriteString("Current content of the affected lines (>>> marks changed lines):\n\n")

	prevEnd := 0
	for _, n := range nums {
		lo := n - mismatchContext
		if lo < 1 {
			lo = 1
		}
		hi := n + mismatchContext
		if hi > len(lines) {
			hi = len(lines)
		}
		if prevEnd > 0 && lo > prevEnd+1 {
			b.WriteString("...\n")
		}
		if lo <= prevEnd {
			lo = prevEnd + 1
		}
		for i := lo; i <= hi; i++ {
			if changed[i] {
				b.WriteString(">>> ")
			} else {
				b.WriteString("    ")
			}
			b.WriteString(FormatLine(i, lines[i-1]))
			b.WriteByte('\n')
		}
		prevEnd = hi
	}
	b.WriteString("\nRetry the edit with the corrected line references.")
	return &MismatchError{Stale: stale, report: b.String()}
}
