package types

import "strings"

// Method names the strategy that produced a document's text.
type Method string

const (
	MethodTextExtraction  Method = "text-extraction"
	MethodOCR             Method = "ocr"
	MethodStructuredParse Method = "structured-parse"
)

// Kind is the document family an endpoint accepts.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindDOCX Kind = "docx"
)

// Extension returns the file extension (with dot) expected for the kind.
func (k Kind) Extension() string {
	return "." + string(k)
}

type PageResult struct {
	PageNumber int     `json:"page"`
	Method     Method  `json:"method"`
	WordCount  int     `json:"word_count"`
	Quality    float64 `json:"quality"`
}

// ExtractionResult is what the pipeline returns for one document.
// Text is nil when no strategy recovered anything. When Text is non-empty,
// PageCount and Method are always set.
type ExtractionResult struct {
	Text      *string      `json:"text,omitempty"`
	PageCount *int         `json:"page_count,omitempty"`
	Method    Method       `json:"method,omitempty"`
	Pages     []PageResult `json:"pages,omitempty"`
}

// HasText reports whether the result carries usable text.
func (r ExtractionResult) HasText() bool {
	return r.Text != nil && *r.Text != ""
}

// ── DOCX document tree ──────────────────────────────────────────────────────

type StyleHint string

const (
	StyleHeading1 StyleHint = "heading1"
	StyleHeading2 StyleHint = "heading2"
	StyleHeading3 StyleHint = "heading3"
	StyleBody     StyleHint = "body"
)

// Block is one top-level element of a document body: a *Paragraph or a *Table.
type Block interface {
	block()
}

type Paragraph struct {
	// Runs holds the text of each run in order.
	Runs []string
	// StyleName is the human style name ("Heading 1"), or the style id when
	// the styles part does not define it.
	StyleName string
}

type Table struct {
	// Rows[i][j] holds the runs of the cell at row i, column j.
	Rows [][][]string
}

func (*Paragraph) block() {}
func (*Table) block()     {}

// Text joins the paragraph's runs with a single space and trims the result.
func (p *Paragraph) Text() string {
	return JoinRuns(p.Runs)
}

// CellTexts returns each row as a slice of joined cell texts.
func (t *Table) CellTexts() [][]string {
	out := make([][]string, 0, len(t.Rows))
	for _, row := range t.Rows {
		cells := make([]string, 0, len(row))
		for _, runs := range row {
			cells = append(cells, JoinRuns(runs))
		}
		out = append(out, cells)
	}
	return out
}

func JoinRuns(runs []string) string {
	return strings.TrimSpace(strings.Join(runs, " "))
}

// ── Responses ───────────────────────────────────────────────────────────────

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

type ConversionResponse struct {
	Status           string  `json:"status"`
	Filename         string  `json:"filename"`
	Markdown         *string `json:"markdown,omitempty"`
	JSON             any     `json:"json,omitempty"`
	CharCount        int     `json:"char_count"`
	PageCount        *int    `json:"page_count"`
	ExtractionMethod *string `json:"extraction_method,omitempty"`
	Error            *string `json:"error,omitempty"`
	Code             string  `json:"code,omitempty"`
}

type InfoResponse struct {
	Service      string   `json:"service"`
	Version      string   `json:"version"`
	Capabilities []string `json:"capabilities"`
	OCREngine    string   `json:"ocr_engine"`
	OCRMaxPages  int      `json:"ocr_max_pages"`
}
