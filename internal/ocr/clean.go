package ocr

import (
	"regexp"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
)

var (
	zeroWidthChars     = regexp.MustCompile("[\u200B-\u200D\uFEFF\u00AD\u2060]")
	standaloneImgName  = regexp.MustCompile(`(?mi)^[\w-]*(?:img|image|figure|fig|photo|pic)[\w-]*\.(jpeg|jpg|png|gif|webp|svg|bmp|tiff?)[ \t]*$`)
	standaloneImgLink  = regexp.MustCompile(`(?m)^!\[[^\]]*\]\([^)]*\)[ \t]*$`)
	excessiveNewlines  = regexp.MustCompile(`\n{4,}`)
	trailingSpaces     = regexp.MustCompile(`(?m)[ \t]+$`)
	htmlTable          = regexp.MustCompile(`(?is)<table\b.*?</table>`)
	sanitizer          = bluemonday.UGCPolicy()
	tableToMarkdown    = converter.NewConverter(converter.WithPlugins(
		base.NewBasePlugin(),
		commonmark.NewCommonmarkPlugin(),
		table.NewTablePlugin(),
	))
)

// Clean applies light-touch normalisation to raw OCR output: invisible
// characters and bare image references are removed, HTML tables (some
// engines emit them inside markdown) become markdown tables, and blank runs
// are collapsed.
func Clean(text string) string {
	if text == "" {
		return ""
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	text = zeroWidthChars.ReplaceAllString(text, "")
	text = standaloneImgName.ReplaceAllString(text, "")
	text = standaloneImgLink.ReplaceAllString(text, "")
	text = htmlTable.ReplaceAllStringFunc(text, convertTable)

	text = trailingSpaces.ReplaceAllString(text, "")
	text = excessiveNewlines.ReplaceAllString(text, "\n\n\n")

	return strings.TrimSpace(text)
}

func convertTable(fragment string) string {
	safe := sanitizer.Sanitize(fragment)
	md, err := tableToMarkdown.ConvertString(safe)
	if err != nil {
		return safe
	}
	return "\n" + strings.TrimSpace(md) + "\n"
}
