package format

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/toricodesthings/docling-service/internal/types"
)

// PageText is the raw text recovered from one page, 1-indexed.
type PageText struct {
	PageNumber int
	Text       string
}

// PageHeader returns the markdown header placed above a page's text.
func PageHeader(page int, method types.Method) string {
	if method == types.MethodOCR {
		return fmt.Sprintf("## Page %d (OCR)", page)
	}
	return fmt.Sprintf("## Page %d", page)
}

// Combine wraps every non-blank page with its header. Blank pages are dropped.
func Combine(pages []PageText, method types.Method) string {
	var b strings.Builder
	for _, p := range pages {
		txt := Normalize(p.Text)
		if txt == "" {
			continue
		}
		b.WriteString(PageHeader(p.PageNumber, method))
		b.WriteString("\n\n")
		b.WriteString(txt)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

// Envelope builds the markdown returned for a PDF: a title line with the
// uploaded filename followed by the page sections.
func Envelope(filename, body string) string {
	return "# " + filename + "\n\n" + body
}

// CharCount counts characters, not bytes.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}

func Normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	return strings.TrimSpace(s)
}
