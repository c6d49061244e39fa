package notify

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// renderInlineDiff marks deletions with strikethrough and insertions with
// bold, in chat markdown.
func renderInlineDiff(original, edited string) string {
	if original == edited {
		return escapeMarkdown(edited)
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, edited, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	var result strings.Builder
	for _, diff := range diffs {
		text := escapeMarkdown(diff.Text)
		switch diff.Type {
		case diffmatchpatch.DiffInsert:
			result.WriteString("**")
			result.WriteString(text)
			result.WriteString("**")
		case diffmatchpatch.DiffDelete:
			result.WriteString("~~")
			result.WriteString(text)
			result.WriteString("~~")
		case diffmatchpatch.DiffEqual:
			result.WriteString(text)
		}
	}
	return result.String()
}

// renderEditDiff renders an edit for a notice. Small edits get an inline
// diff; when more than 70% of the text changed the inline form is
// unreadable, so it falls back to a before/after block.
func renderEditDiff(original, edited string) string {
	if original == edited {
		return escapeMarkdown(edited)
	}

	if original == "" {
		return "**" + escapeMarkdown(edited) + "**"
	}
	if edited == "" {
		return "~~" + escapeMarkdown(original) + "~~"
	}

	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(original, edited, false)
	diffs = dmp.DiffCleanupSemantic(diffs)

	totalChars := 0
	changedChars := 0
	for _, diff := range diffs {
		totalChars += len(diff.Text)
		if diff.Type != diffmatchpatch.DiffEqual {
			changedChars += len(diff.Text)
		}
	}

	changeRatio := float64(changedChars) / float64(totalChars)
	if changeRatio > 0.7 {
		return "Before:\n" + escapeMarkdown(original) + "\n\nAfter:\n" + escapeMarkdown(edited)
	}

	return renderInlineDiff(original, edited)
}

var markdownEscaper = strings.NewReplacer(
	"*", "\\*",
	"_", "\\_",
	"~", "\\~",
	"`", "\\`",
)

func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
