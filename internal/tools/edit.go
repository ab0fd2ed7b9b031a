package tools

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/navcli/nav/internal/diff"
	"github.com/navcli/nav/internal/hashline"
)

// editContext is how many extra lines of fresh hashlines surround each
// changed region in the tool output, so the model can keep editing without
// a re-read.
const editContext = 2

type editTool struct{}

func (editTool) Name() string { return "edit" }

func (editTool) Description() string {
	return "Edit a file using line:hash anchors from a previous read. Operations: set_line (replace one line), replace_lines (replace an inclusive range), insert_after (insert after a line). All anchors refer to the file as last read; stale anchors fail with the current content so you can retry."
}

func (editTool) Schema() map[string]any {
	anchor := map[string]any{"type": "string", "description": "line:hash reference, e.g. \"12:a3\""}
	return objectSchema(map[string]any{
		"path": map[string]any{"type": "string", "description": "File path, relative to the project directory"},
		"edits": map[string]any{
			"type":        "array",
			"description": "Edits to apply atomically; anchors all refer to the pre-edit file",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"set_line": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"anchor":   anchor,
							"new_text": map[string]any{"type": "string", "description": "Replacement text; may span lines; empty deletes the line"},
						},
						"required": []string{"anchor", "new_text"},
					},
					"replace_lines": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"start_anchor": anchor,
							"end_anchor":   anchor,
							"new_text":     map[string]any{"type": "string", "description": "Replacement text; empty deletes the range"},
						},
						"required": []string{"start_anchor", "end_anchor", "new_text"},
					},
					"insert_after": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"anchor": anchor,
							"text":   map[string]any{"type": "string", "description": "Text to insert after the anchored line"},
						},
						"required": []string{"anchor", "text"},
					},
				},
			},
		},
	}, "path", "edits")
}

type editArgs struct {
	Path  string            `json:"path"`
	Edits []json.RawMessage `json:"edits"`
}

// wireEdit accepts both the nested shape ({"set_line":{...}}) and the flat
// shape ({"type":"set_line",...}) some models produce.
type wireEdit struct {
	Type string `json:"type"`

	SetLine      *wireSetLine      `json:"set_line"`
	ReplaceLines *wireReplaceLines `json:"replace_lines"`
	InsertAfter  *wireInsertAfter  `json:"insert_after"`

	// Flat-shape fields.
	Anchor      string  `json:"anchor"`
	NewText     *string `json:"new_text"`
	StartAnchor string  `json:"start_anchor"`
	EndAnchor   string  `json:"end_anchor"`
	Text        string  `json:"text"`
}

type wireSetLine struct {
	Anchor  string `json:"anchor"`
	NewText string `json:"new_text"`
}

type wireReplaceLines struct {
	StartAnchor string `json:"start_anchor"`
	EndAnchor   string `json:"end_anchor"`
	NewText     string `json:"new_text"`
}

type wireInsertAfter struct {
	Anchor string `json:"anchor"`
	Text   string `json:"text"`
}

func normalizeEdit(raw json.RawMessage) (hashline.Edit, error) {
	var w wireEdit
	if err := json.Unmarshal(raw, &w); err != nil {
		return hashline.Edit{}, fmt.Errorf("bad edit: %v", err)
	}
	switch {
	case w.SetLine != nil:
		return hashline.Edit{SetLine: &hashline.SetLine{Anchor: w.SetLine.Anchor, NewText: w.SetLine.NewText}}, nil
	case w.ReplaceLines != nil:
		return hashline.Edit{ReplaceLines: &hashline.ReplaceLines{StartAnchor: w.ReplaceLines.StartAnchor, EndAnchor: w.ReplaceLines.EndAnchor, NewText: w.ReplaceLines.NewText}}, nil
	case w.InsertAfter != nil:
		return hashline.Edit{InsertAfter: &hashline.InsertAfter{Anchor: w.InsertAfter.Anchor, Text: w.InsertAfter.Text}}, nil
	}
	switch strings.TrimSpace(w.Type) {
	case "set_line":
		newText := ""
		if w.NewText != nil {
			newText = *w.NewText
		}
		return hashline.Edit{SetLine: &hashline.SetLine{Anchor: w.Anchor, NewText: newText}}, nil
	case "replace_lines":
		newText := ""
		if w.NewText != nil {
			newText = *w.NewText
		}
		return hashline.Edit{ReplaceLines: &hashline.ReplaceLines{StartAnchor: w.StartAnchor, EndAnchor: w.EndAnchor, NewText: newText}}, nil
	case "insert_after":
		return hashline.Edit{InsertAfter: &hashline.InsertAfter{Anchor: w.Anchor, Text: w.Text}}, nil
	}
	return hashline.Edit{}, errors.New("edit has no recognized operation (set_line, replace_lines or insert_after)")
}

func (editTool) Run(ctx Context, raw json.RawMessage) Result {
	var args editArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return errorResult("edit: bad arguments: %v", err)
	}
	if strings.TrimSpace(args.Path) == "" {
		return errorResult("edit: missing path")
	}
	if len(args.Edits) == 0 {
		return errorResult("edit: no edits given")
	}

	edits := make([]hashline.Edit, 0, len(args.Edits))
	for i, rawEdit := range args.Edits {
		e, err := normalizeEdit(rawEdit)
		if err != nil {
			return errorResult("edit %d: %v", i+1, err)
		}
		edits = append(edits, e)
	}

	path := resolvePath(ctx.Dir, args.Path)
	data, err := os.ReadFile(path)
	if err != nil {
		return errorResult("edit: %v", err)
	}
	oldContent := string(data)

	res, err := hashline.Apply(oldContent, edits)
	if errors.Is(err, hashline.ErrNoChanges) {
		return errorResult("edit: no changes; the file already matches. Re-read %s if you expected a different state.", args.Path)
	}
	if err != nil {
		return Result{Output: err.Error(), Summary: fmt.Sprintf("edit %s failed", args.Path), IsError: true}
	}

	info, statErr := os.Stat(path)
	mode := os.FileMode(0o644)
	if statErr == nil {
		mode = info.Mode()
	}
	if err := os.WriteFile(path, []byte(res.Content), mode); err != nil {
		return errorResult("edit: write failed: %v", err)
	}

	hunks, stats := diff.Compute(oldContent, res.Content)
	newLines := hashline.SplitLines(res.Content)

	var b strings.Builder
	fmt.Fprintf(&b, "Applied %d edit(s) to %s (%s).\n", len(edits), args.Path, stats)
	b.WriteString("Updated lines (fresh anchors; no re-read needed):\n")
	for _, r := range diff.ChangedRanges(hunks) {
		start := r[0] - editContext
		end := r[1] + editContext
		b.WriteString(hashline.FormatRange(newLines, start, end))
	}

	return Result{
		Output:  b.String(),
		Summary: fmt.Sprintf("edit %s (%s)", args.Path, stats),
		Diff:    diff.Unified(hunks),
	}
}
