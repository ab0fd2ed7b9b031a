// Package hashline implements line-addressable file editing. Every line is
// identified by a (line number, short content hash) anchor; edits validate
// their anchors against the current file state before any mutation, so a
// stale edit fails instead of corrupting the file.
package hashline

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// LineHash returns the two-hex-digit digest of a line. All whitespace is
// removed before hashing so reflow and indentation changes alone do not
// invalidate an anchor; a trailing CR is stripped first so CRLF and LF
// files hash identically.
func LineHash(line string) string {
	line = strings.TrimSuffix(line, "\r")
	stripped := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, line)
	return fmt.Sprintf("%02x", xxhash.Sum64String(stripped)%256)
}

// SplitLines splits content into lines without their terminators. A trailing
// newline does not produce a final empty line.
func SplitLines(content string) []string {
	if content == "" {
		return nil
	}
	lines := strings.Split(content, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

// JoinLines is the inverse of SplitLines: every line gets a trailing newline.
// An empty line set yields empty content.
func JoinLines(lines []string) string {
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

// Format renders content in display form, one "L:HH|content" line per input
// line. startLine is the 1-based number of the first line.
func Format(content string, startLine int) string {
	if startLine < 1 {
		startLine = 1
	}
	var b strings.Builder
	for i, line := range SplitLines(content) {
		b.WriteString(FormatLine(startLine+i, line))
		b.WriteByte('\n')
	}
	return b.String()
}

// FormatLine renders a single display line without the trailing newline.
func FormatLine(n int, line string) string {
	return fmt.Sprintf("%d:%s|%s", n, LineHash(line), line)
}

// FormatRange renders lines[start-1:end] (1-based, inclusive) in display form.
func FormatRange(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	var b strings.Builder
	for n := start; n <= end; n++ {
		b.WriteString(FormatLine(n, lines[n-1]))
		b.WriteByte('\n')
	}
	return b.String()
}
