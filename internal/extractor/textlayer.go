package extractor

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/ledongthuc/pdf"

	"github.com/toricodesthings/docling-service/internal/format"
)

// TextLayer reads the embedded text of a PDF page by page.
type TextLayer struct {
	Logger *slog.Logger
}

// Pages returns the text of every page that could be read, plus the
// document's page count. A page that fails is logged and skipped. An error
// is returned only when the document itself cannot be opened.
func (t TextLayer) Pages(path string) ([]format.PageText, int, error) {
	logger := t.Logger
	if logger == nil {
		logger = slog.Default()
	}

	f, r, err := openPDF(path)
	if err != nil {
		return nil, 0, fmt.Errorf("open pdf: %w", err)
	}
	defer func() { _ = f.Close() }()

	total := r.NumPage()
	logger.Debug("pdf opened", "pages", total)

	fonts := make(map[string]*pdf.Font)
	out := make([]format.PageText, 0, total)
	for i := 1; i <= total; i++ {
		text, err := pageText(r, i, fonts)
		if err != nil {
			logger.Warn("text layer page failed", "page", i, "error", err)
			continue
		}
		out = append(out, format.PageText{PageNumber: i, Text: text})
	}
	return out, total, nil
}

// openPDF guards against the reader panicking on malformed trailers.
func openPDF(path string) (f *os.File, r *pdf.Reader, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			if f != nil {
				_ = f.Close()
			}
			f, r, err = nil, nil, fmt.Errorf("malformed pdf: %v", rec)
		}
	}()
	return pdf.Open(path)
}

func pageText(r *pdf.Reader, n int, fonts map[string]*pdf.Font) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page %d: %v", n, rec)
		}
	}()

	p := r.Page(n)
	if p.V.IsNull() {
		return "", fmt.Errorf("page %d: missing page object", n)
	}
	for _, name := range p.Fonts() {
		if _, ok := fonts[name]; !ok {
			font := p.Font(name)
			fonts[name] = &font
		}
	}
	return p.GetPlainText(fonts)
}
