package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/docling-service/internal/extractor"
	"github.com/toricodesthings/docling-service/internal/format"
	"github.com/toricodesthings/docling-service/internal/types"
)

type fakeText struct {
	pages []format.PageText
	total int
	err   error
}

func (f fakeText) Pages(string) ([]format.PageText, int, error) {
	return f.pages, f.total, f.err
}

type fakeRaster struct {
	available int // pages in the document
	err       error

	first, last int
	calls       int
}

func (f *fakeRaster) Rasterize(_ context.Context, _ string, first, last int) ([]extractor.Raster, error) {
	f.calls++
	f.first, f.last = first, last
	if f.err != nil {
		return nil, f.err
	}
	var out []extractor.Raster
	for n := first; n <= last && n <= f.available; n++ {
		out = append(out, extractor.Raster{PageNumber: n, PNG: []byte(fmt.Sprintf("page-%d", n))})
	}
	return out, nil
}

type fakeOCR struct {
	text  map[string]string
	fails map[string]bool
	calls int
}

func (f *fakeOCR) Name() string { return "fake" }

func (f *fakeOCR) Recognize(_ context.Context, png []byte) (string, error) {
	f.calls++
	if f.fails[string(png)] {
		return "", errors.New("engine crashed")
	}
	return f.text[string(png)], nil
}

func TestExtractTextLayer(t *testing.T) {
	raster := &fakeRaster{available: 2}
	engine := &fakeOCR{}
	p := &Processor{
		Text: fakeText{total: 3, pages: []format.PageText{
			{PageNumber: 1, Text: "Alpha page"},
			{PageNumber: 3, Text: "Gamma page"},
		}},
		Raster: raster,
		OCR:    engine,
	}

	res := p.Extract(context.Background(), "doc.pdf")

	require.True(t, res.HasText())
	assert.Equal(t, types.MethodTextExtraction, res.Method)
	require.NotNil(t, res.PageCount)
	assert.Equal(t, 3, *res.PageCount)
	assert.Equal(t, "## Page 1\n\nAlpha page\n\n## Page 3\n\nGamma page", *res.Text)
	assert.Zero(t, raster.calls, "OCR must not run when the text layer has content")
	assert.Len(t, res.Pages, 2)
	assert.Equal(t, 2, res.Pages[0].WordCount)
}

func TestExtractFallsBackToOCR(t *testing.T) {
	raster := &fakeRaster{available: 2}
	engine := &fakeOCR{text: map[string]string{"page-1": "scanned one", "page-2": "scanned two"}}
	p := &Processor{
		Text:        fakeText{total: 2, pages: []format.PageText{{PageNumber: 1, Text: "  "}, {PageNumber: 2}}},
		Raster:      raster,
		OCR:         engine,
		OCRMaxPages: 10,
		OCRSem:      semaphore.NewWeighted(1),
	}

	res := p.Extract(context.Background(), "scan.pdf")

	require.True(t, res.HasText())
	assert.Equal(t, types.MethodOCR, res.Method)
	assert.Equal(t, 2, *res.PageCount)
	assert.Equal(t, "## Page 1 (OCR)\n\nscanned one\n\n## Page 2 (OCR)\n\nscanned two", *res.Text)
	assert.Equal(t, 1, raster.first)
	assert.Equal(t, 2, raster.last, "range is bounded by the known page count")
}

func TestExtractOCRPageCap(t *testing.T) {
	raster := &fakeRaster{available: 50}
	engine := &fakeOCR{text: map[string]string{"page-1": "x"}}
	p := &Processor{
		Text:        fakeText{total: 50},
		Raster:      raster,
		OCR:         engine,
		OCRMaxPages: 4,
	}

	res := p.Extract(context.Background(), "big.pdf")

	require.True(t, res.HasText())
	assert.Equal(t, 4, raster.last)
	assert.Equal(t, 4, engine.calls)
	assert.Equal(t, 4, *res.PageCount)
}

func TestExtractOCRPageFailureIsNotFatal(t *testing.T) {
	raster := &fakeRaster{available: 3}
	engine := &fakeOCR{
		text:  map[string]string{"page-1": "one", "page-3": "three"},
		fails: map[string]bool{"page-2": true},
	}
	p := &Processor{Text: fakeText{total: 3}, Raster: raster, OCR: engine}

	res := p.Extract(context.Background(), "scan.pdf")

	require.True(t, res.HasText())
	assert.Contains(t, *res.Text, "## Page 1 (OCR)")
	assert.NotContains(t, *res.Text, "## Page 2")
	assert.Contains(t, *res.Text, "## Page 3 (OCR)")
}

func TestExtractUsesPageCounterWhenTextLayerUnreadable(t *testing.T) {
	raster := &fakeRaster{available: 2}
	engine := &fakeOCR{text: map[string]string{"page-2": "found"}}
	p := &Processor{
		Text:        fakeText{err: errors.New("xref broken")},
		CountPages:  func(string) (int, error) { return 2, nil },
		Raster:      raster,
		OCR:         engine,
		OCRMaxPages: 10,
	}

	res := p.Extract(context.Background(), "broken.pdf")

	require.True(t, res.HasText())
	assert.Equal(t, 2, raster.last)
	assert.Equal(t, "## Page 2 (OCR)\n\nfound", *res.Text)
}

func TestExtractNothingRecovered(t *testing.T) {
	p := &Processor{
		Text:   fakeText{total: 2},
		Raster: &fakeRaster{available: 2},
		OCR:    &fakeOCR{},
	}

	res := p.Extract(context.Background(), "blank.pdf")

	assert.Nil(t, res.Text)
	assert.False(t, res.HasText())
	require.NotNil(t, res.PageCount, "page count is kept for diagnostics")
	assert.Equal(t, 2, *res.PageCount)
}

func TestExtractCorruptDocument(t *testing.T) {
	p := &Processor{
		Text:       fakeText{err: errors.New("not a pdf")},
		CountPages: func(string) (int, error) { return 0, errors.New("not a pdf") },
		Raster:     &fakeRaster{err: errors.New("pdftoppm: syntax error")},
		OCR:        &fakeOCR{},
	}

	res := p.Extract(context.Background(), "corrupt.pdf")

	assert.Nil(t, res.Text)
	assert.Nil(t, res.PageCount)
}

func TestExtractOCRCapacityCancelled(t *testing.T) {
	sem := semaphore.NewWeighted(1)
	require.True(t, sem.TryAcquire(1))
	defer sem.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	raster := &fakeRaster{available: 1}
	p := &Processor{Text: fakeText{total: 1}, Raster: raster, OCR: &fakeOCR{}, OCRSem: sem}

	res := p.Extract(ctx, "scan.pdf")

	assert.False(t, res.HasText())
	assert.Zero(t, raster.calls)
}

func TestDiagnosticsSkipBlankPages(t *testing.T) {
	p := &Processor{MinWords: 2}
	got := p.diagnostics([]format.PageText{
		{PageNumber: 1, Text: strings.Repeat("word ", 5)},
		{PageNumber: 2, Text: " "},
	}, types.MethodOCR)

	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].PageNumber)
	assert.Equal(t, types.MethodOCR, got[0].Method)
	assert.Equal(t, 5, got[0].WordCount)
}
