// Package pipeline extracts text from a PDF by trying strategies in order:
// the embedded text layer first, then OCR of rendered pages. A strategy is
// abandoned only when it recovers no text at all; failures of individual
// pages are logged and skipped.
package pipeline

import (
	"context"
	"log/slog"

	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/docling-service/internal/extractor"
	"github.com/toricodesthings/docling-service/internal/format"
	"github.com/toricodesthings/docling-service/internal/ocr"
	"github.com/toricodesthings/docling-service/internal/quality"
	"github.com/toricodesthings/docling-service/internal/types"
)

// TextReader reads the text layer of every page.
type TextReader interface {
	Pages(path string) ([]format.PageText, int, error)
}

// Rasterizer renders an inclusive, 1-indexed page range to images.
type Rasterizer interface {
	Rasterize(ctx context.Context, path string, first, last int) ([]extractor.Raster, error)
}

type Processor struct {
	Text   TextReader
	Raster Rasterizer
	OCR    ocr.Engine
	// CountPages is consulted when the text layer could not be read.
	CountPages func(path string) (int, error)
	// OCRSem bounds how many documents are OCR'd at once. Optional.
	OCRSem *semaphore.Weighted
	// OCRMaxPages caps how many leading pages are rendered for OCR.
	OCRMaxPages int
	// MinWords feeds the per-page quality score.
	MinWords int
	Logger   *slog.Logger
}

func (p *Processor) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Extract runs the strategies in order and returns the first non-empty
// result. When nothing is recovered, Text is nil and PageCount carries the
// page count if it could be determined.
func (p *Processor) Extract(ctx context.Context, path string) types.ExtractionResult {
	log := p.logger()

	res, pageCount, ok := p.fromTextLayer(path)
	if ok {
		log.Info("extracted via text layer", "pages", pageCount, "chars", len(*res.Text))
		return res
	}

	log.Info("no text layer content, trying OCR", "pages", pageCount)
	if res, ok := p.fromOCR(ctx, path, pageCount); ok {
		log.Info("extracted via OCR", "pages", *res.PageCount, "chars", len(*res.Text))
		return res
	}

	log.Warn("no text recovered by any strategy")
	out := types.ExtractionResult{}
	if pageCount > 0 {
		out.PageCount = &pageCount
	}
	return out
}

// fromTextLayer returns the page count it observed even when it yields no
// text, so OCR can bound its page range.
func (p *Processor) fromTextLayer(path string) (types.ExtractionResult, int, bool) {
	if p.Text == nil {
		return types.ExtractionResult{}, 0, false
	}
	pages, total, err := p.Text.Pages(path)
	if err != nil {
		p.logger().Error("text layer extraction failed", "error", err)
		return types.ExtractionResult{}, 0, false
	}

	text := format.Combine(pages, types.MethodTextExtraction)
	if text == "" {
		return types.ExtractionResult{}, total, false
	}
	return types.ExtractionResult{
		Text:      &text,
		PageCount: &total,
		Method:    types.MethodTextExtraction,
		Pages:     p.diagnostics(pages, types.MethodTextExtraction),
	}, total, true
}

func (p *Processor) fromOCR(ctx context.Context, path string, knownPages int) (types.ExtractionResult, bool) {
	log := p.logger()
	if p.Raster == nil || p.OCR == nil {
		log.Warn("OCR not configured")
		return types.ExtractionResult{}, false
	}

	if knownPages <= 0 && p.CountPages != nil {
		n, err := p.CountPages(path)
		if err != nil {
			log.Warn("page count unavailable", "error", err)
		} else {
			knownPages = n
		}
	}
	last := p.OCRMaxPages
	if last <= 0 {
		last = 10
	}
	if knownPages > 0 && knownPages < last {
		last = knownPages
	}

	if p.OCRSem != nil {
		if err := p.OCRSem.Acquire(ctx, 1); err != nil {
			log.Error("OCR capacity wait aborted", "error", err)
			return types.ExtractionResult{}, false
		}
		defer p.OCRSem.Release(1)
	}

	rasters, err := p.Raster.Rasterize(ctx, path, 1, last)
	if err != nil {
		log.Error("rasterization failed", "error", err)
		return types.ExtractionResult{}, false
	}
	log.Info("rasterized pages for OCR", "pages", len(rasters), "engine", p.OCR.Name())

	pages := make([]format.PageText, 0, len(rasters))
	for _, r := range rasters {
		text, err := p.OCR.Recognize(ctx, r.PNG)
		if err != nil {
			log.Warn("OCR page failed", "page", r.PageNumber, "error", err)
			text = ""
		}
		pages = append(pages, format.PageText{PageNumber: r.PageNumber, Text: text})
	}

	text := format.Combine(pages, types.MethodOCR)
	if text == "" {
		return types.ExtractionResult{}, false
	}
	count := len(rasters)
	return types.ExtractionResult{
		Text:      &text,
		PageCount: &count,
		Method:    types.MethodOCR,
		Pages:     p.diagnostics(pages, types.MethodOCR),
	}, true
}

func (p *Processor) diagnostics(pages []format.PageText, method types.Method) []types.PageResult {
	minWords := p.MinWords
	if minWords <= 0 {
		minWords = 20
	}
	out := make([]types.PageResult, 0, len(pages))
	for _, pg := range pages {
		if format.Normalize(pg.Text) == "" {
			continue
		}
		r := quality.Score(pg.Text, minWords)
		out = append(out, types.PageResult{
			PageNumber: pg.PageNumber,
			Method:     method,
			WordCount:  r.WordCount,
			Quality:    r.Quality,
		})
	}
	return out
}
