// Package structure builds the JSON representation returned alongside the
// markdown: a flat list of typed blocks.
package structure

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"

	"github.com/toricodesthings/docling-service/internal/docx"
	"github.com/toricodesthings/docling-service/internal/types"
)

type Node struct {
	Type  string     `json:"type"` // heading | paragraph | list | code | table
	Level int        `json:"level,omitempty"`
	Text  string     `json:"text,omitempty"`
	Items []string   `json:"items,omitempty"`
	Rows  [][]string `json:"rows,omitempty"`
}

type Document struct {
	Filename string             `json:"filename"`
	Method   types.Method       `json:"method"`
	Pages    []types.PageResult `json:"pages,omitempty"`
	Blocks   []Node             `json:"blocks"`
}

var md = goldmark.New(goldmark.WithExtensions(extension.Table))

// FromMarkdown parses markdown (GFM tables included) into top-level blocks.
func FromMarkdown(source string) []Node {
	src := []byte(source)
	doc := md.Parser().Parse(text.NewReader(src))

	nodes := []Node{}
	for child := doc.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Heading:
			nodes = append(nodes, Node{Type: "heading", Level: n.Level, Text: inlineText(n, src)})
		case *ast.Paragraph:
			nodes = append(nodes, Node{Type: "paragraph", Text: inlineText(n, src)})
		case *ast.TextBlock:
			nodes = append(nodes, Node{Type: "paragraph", Text: inlineText(n, src)})
		case *ast.List:
			var items []string
			for item := n.FirstChild(); item != nil; item = item.NextSibling() {
				items = append(items, inlineText(item, src))
			}
			nodes = append(nodes, Node{Type: "list", Items: items})
		case *ast.FencedCodeBlock, *ast.CodeBlock:
			nodes = append(nodes, Node{Type: "code", Text: blockLines(n, src)})
		case *east.Table:
			nodes = append(nodes, Node{Type: "table", Rows: tableRows(n, src)})
		case *ast.ThematicBreak:
		default:
			if t := inlineText(n, src); t != "" {
				nodes = append(nodes, Node{Type: "paragraph", Text: t})
			}
		}
	}
	return nodes
}

// FromBlocks converts a DOCX tree directly; markdown tables written by the
// transcriber have no delimiter row, so they would not re-parse as tables.
func FromBlocks(blocks []types.Block) []Node {
	nodes := []Node{}
	for _, blk := range blocks {
		switch b := blk.(type) {
		case *types.Paragraph:
			t := b.Text()
			if t == "" {
				continue
			}
			if lvl := headingLevel(docx.StyleHint(b.StyleName)); lvl > 0 {
				nodes = append(nodes, Node{Type: "heading", Level: lvl, Text: t})
			} else {
				nodes = append(nodes, Node{Type: "paragraph", Text: t})
			}
		case *types.Table:
			nodes = append(nodes, Node{Type: "table", Rows: b.CellTexts()})
		}
	}
	return nodes
}

func headingLevel(h types.StyleHint) int {
	switch h {
	case types.StyleHeading1:
		return 1
	case types.StyleHeading2:
		return 2
	case types.StyleHeading3:
		return 3
	}
	return 0
}

func tableRows(t *east.Table, src []byte) [][]string {
	var rows [][]string
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, inlineText(cell, src))
		}
		rows = append(rows, cells)
	}
	return rows
}

// inlineText flattens the text below n. Line breaks become spaces.
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := node.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte(' ')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.Label(src))
			return ast.WalkSkipChildren, nil
		}
		return ast.WalkContinue, nil
	})
	return strings.Join(strings.Fields(b.String()), " ")
}

func blockLines(n ast.Node, src []byte) string {
	var b strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(src))
	}
	return strings.TrimRight(b.String(), "\n")
}
