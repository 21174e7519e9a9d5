package docx

import (
	"strings"

	"github.com/toricodesthings/docling-service/internal/types"
)

// StyleHint classifies a style name by case-insensitive substring match.
func StyleHint(styleName string) types.StyleHint {
	lower := strings.ToLower(styleName)
	switch {
	case strings.Contains(lower, "heading 1"):
		return types.StyleHeading1
	case strings.Contains(lower, "heading 2"):
		return types.StyleHeading2
	case strings.Contains(lower, "heading 3"):
		return types.StyleHeading3
	default:
		return types.StyleBody
	}
}

func headingPrefix(h types.StyleHint) string {
	switch h {
	case types.StyleHeading1:
		return "# "
	case types.StyleHeading2:
		return "## "
	case types.StyleHeading3:
		return "### "
	}
	return ""
}

// Transcribe renders blocks in document order. Each table row becomes one
// "| a | b |" line and a blank line closes the table. Empty paragraphs are
// kept as blank lines so paragraph breaks survive.
func Transcribe(blocks []types.Block) string {
	var lines []string
	for _, blk := range blocks {
		switch b := blk.(type) {
		case *types.Table:
			for _, row := range b.CellTexts() {
				lines = append(lines, "| "+strings.Join(row, " | ")+" |")
			}
			lines = append(lines, "")
		case *types.Paragraph:
			text := b.Text()
			if text == "" {
				lines = append(lines, "")
				continue
			}
			lines = append(lines, headingPrefix(StyleHint(b.StyleName))+text)
		default:
			lines = append(lines, "")
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
