// Package docx reads the body of a .docx file into paragraphs and tables and
// renders it as markdown.
package docx

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/toricodesthings/docling-service/internal/types"
)

const (
	nsMain   = "http://schemas.openxmlformats.org/wordprocessingml/2006/main"
	nsStrict = "http://purl.oclc.org/ooxml/wordprocessingml/main"
)

func isWord(n xml.Name) bool {
	return n.Space == nsMain || n.Space == nsStrict
}

// Read parses word/document.xml, resolving paragraph style ids to style
// names through word/styles.xml when present.
func Read(path string) ([]types.Block, error) {
	r, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip: %w", err)
	}
	defer r.Close()

	var docFile, stylesFile *zip.File
	for _, f := range r.File {
		switch f.Name {
		case "word/document.xml":
			docFile = f
		case "word/styles.xml":
			stylesFile = f
		}
	}
	if docFile == nil {
		return nil, fmt.Errorf("word/document.xml not found in archive")
	}

	styles := map[string]string{}
	if stylesFile != nil {
		rc, err := stylesFile.Open()
		if err != nil {
			return nil, fmt.Errorf("open styles.xml: %w", err)
		}
		styles, err = readStyles(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("parse styles.xml: %w", err)
		}
	}

	rc, err := docFile.Open()
	if err != nil {
		return nil, fmt.Errorf("open document.xml: %w", err)
	}
	defer rc.Close()

	blocks, err := readBody(rc, styles)
	if err != nil {
		return nil, fmt.Errorf("parse document.xml: %w", err)
	}
	return blocks, nil
}

// readStyles maps styleId -> display name ("Heading1" -> "heading 1").
func readStyles(r io.Reader) (map[string]string, error) {
	var doc struct {
		Styles []struct {
			ID   string `xml:"styleId,attr"`
			Name struct {
				Val string `xml:"val,attr"`
			} `xml:"name"`
		} `xml:"style"`
	}
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(doc.Styles))
	for _, s := range doc.Styles {
		if s.ID != "" && s.Name.Val != "" {
			out[s.ID] = s.Name.Val
		}
	}
	return out, nil
}

// bodyReader walks document.xml tokens. Only the outermost table produces
// rows; text of nested tables and text boxes joins the enclosing cell or
// paragraph.
type bodyReader struct {
	styles map[string]string
	blocks []types.Block

	tblDepth int
	table    *types.Table
	row      [][]string
	cell     []string

	pDepth int
	para   *types.Paragraph

	inRun  bool
	inText bool
	run    strings.Builder
}

func readBody(r io.Reader, styles map[string]string) ([]types.Block, error) {
	br := &bodyReader{styles: styles}
	dec := xml.NewDecoder(r)
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if isWord(t.Name) {
				br.start(t)
			}
		case xml.CharData:
			if br.inText {
				br.run.Write(t)
			}
		case xml.EndElement:
			if isWord(t.Name) {
				br.end(t.Name.Local)
			}
		}
	}
	return br.blocks, nil
}

func (b *bodyReader) start(t xml.StartElement) {
	switch t.Name.Local {
	case "tbl":
		b.tblDepth++
		if b.tblDepth == 1 {
			b.table = &types.Table{}
		}
	case "tr":
		if b.tblDepth == 1 {
			b.row = nil
		}
	case "tc":
		if b.tblDepth == 1 {
			b.cell = []string{}
		}
	case "p":
		b.pDepth++
		if b.pDepth == 1 && b.tblDepth == 0 {
			b.para = &types.Paragraph{}
		}
	case "pStyle":
		if b.pDepth == 1 && b.para != nil {
			id := attr(t, "val")
			if name, ok := b.styles[id]; ok {
				b.para.StyleName = name
			} else {
				b.para.StyleName = id
			}
		}
	case "r":
		b.inRun = true
		b.run.Reset()
	case "t":
		b.inText = true
	case "tab":
		// <w:tab/> under <w:tabs> is a tab stop definition, not content.
		if b.inRun && !b.inText {
			b.run.WriteByte('\t')
		}
	case "br", "cr":
		if b.inRun && !b.inText {
			b.run.WriteByte('\n')
		}
	}
}

func (b *bodyReader) end(local string) {
	switch local {
	case "t":
		b.inText = false
	case "r":
		b.inRun = false
		b.flushRun()
	case "p":
		b.pDepth--
		if b.pDepth == 0 && b.para != nil {
			b.blocks = append(b.blocks, b.para)
			b.para = nil
		}
	case "tc":
		if b.tblDepth == 1 {
			b.row = append(b.row, b.cell)
			b.cell = nil
		}
	case "tr":
		if b.tblDepth == 1 && b.table != nil {
			b.table.Rows = append(b.table.Rows, b.row)
			b.row = nil
		}
	case "tbl":
		if b.tblDepth == 1 && b.table != nil {
			b.blocks = append(b.blocks, b.table)
			b.table = nil
		}
		b.tblDepth--
	}
}

// flushRun assigns a finished run to the open cell, or else the open paragraph.
func (b *bodyReader) flushRun() {
	text := strings.TrimSpace(b.run.String())
	b.run.Reset()
	if text == "" {
		return
	}
	switch {
	case b.tblDepth > 0 && b.cell != nil:
		b.cell = append(b.cell, text)
	case b.para != nil:
		b.para.Runs = append(b.para.Runs, text)
	}
}

func attr(t xml.StartElement, local string) string {
	for _, a := range t.Attr {
		if a.Name.Local == local {
			return a.Value
		}
	}
	return ""
}
