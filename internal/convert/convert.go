// Package convert turns an uploaded document into a ConversionResponse.
// Each call owns a scratch directory that is removed before it returns.
package convert

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/toricodesthings/docling-service/internal/docx"
	"github.com/toricodesthings/docling-service/internal/format"
	"github.com/toricodesthings/docling-service/internal/structure"
	"github.com/toricodesthings/docling-service/internal/types"
)

// PDFExtractor is satisfied by *pipeline.Processor.
type PDFExtractor interface {
	Extract(ctx context.Context, path string) types.ExtractionResult
}

type Service struct {
	PDF PDFExtractor
	// ReadDOCX parses a .docx body; defaults to docx.Read.
	ReadDOCX func(path string) ([]types.Block, error)
	// TempDir is the parent of per-request scratch dirs ("" = os.TempDir()).
	TempDir string
	// MaxBytes caps the upload size. 0 means unlimited.
	MaxBytes int64
	Logger   *slog.Logger
}

type Request struct {
	Kind        types.Kind
	Filename    string
	Body        io.Reader
	IncludeJSON bool
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

// ValidateExtension checks the filename against the endpoint's kind,
// ignoring case.
func ValidateExtension(kind types.Kind, filename string) error {
	if strings.TrimSpace(filename) == "" {
		return invalid("filename required")
	}
	if !strings.EqualFold(filepath.Ext(filename), kind.Extension()) {
		return invalid("File must be a %s", strings.ToUpper(string(kind)))
	}
	return nil
}

// Convert validates, persists and converts one upload.
func (s *Service) Convert(ctx context.Context, req Request) (types.ConversionResponse, error) {
	log := s.logger().With("filename", req.Filename, "kind", req.Kind)

	if err := ValidateExtension(req.Kind, req.Filename); err != nil {
		return types.ConversionResponse{}, err
	}

	path, cleanup, err := s.saveToTemp(req.Body, req.Kind.Extension())
	if err != nil {
		return types.ConversionResponse{}, err
	}
	defer func() {
		cleanup()
		log.Debug("cleaned up temp file")
	}()

	if err := checkMagic(path, req.Kind); err != nil {
		return types.ConversionResponse{}, err
	}

	switch req.Kind {
	case types.KindPDF:
		return s.convertPDF(ctx, log, path, req)
	case types.KindDOCX:
		return s.convertDOCX(log, path, req)
	default:
		return types.ConversionResponse{}, invalid("unsupported document kind %q", req.Kind)
	}
}

func (s *Service) convertPDF(ctx context.Context, log *slog.Logger, path string, req Request) (types.ConversionResponse, error) {
	if s.PDF == nil {
		return types.ConversionResponse{}, fmt.Errorf("pdf extraction not configured")
	}

	res := s.PDF.Extract(ctx, path)
	if !res.HasText() {
		log.Warn("could not extract text from PDF")
		return types.ConversionResponse{}, &ExtractionError{
			Msg:       "Could not extract text. PDF may be corrupted or unreadable.",
			PageCount: res.PageCount,
		}
	}

	md := format.Envelope(req.Filename, *res.Text)
	resp := success(req.Filename, md, res.Method)
	resp.PageCount = res.PageCount
	if req.IncludeJSON {
		resp.JSON = structure.Document{
			Filename: req.Filename,
			Method:   res.Method,
			Pages:    res.Pages,
			Blocks:   structure.FromMarkdown(md),
		}
	}

	log.Info("converted PDF", "chars", resp.CharCount, "method", res.Method)
	return resp, nil
}

func (s *Service) convertDOCX(log *slog.Logger, path string, req Request) (types.ConversionResponse, error) {
	read := s.ReadDOCX
	if read == nil {
		read = docx.Read
	}

	blocks, err := read(path)
	if err != nil {
		return types.ConversionResponse{}, fmt.Errorf("read docx: %w", err)
	}

	md := docx.Transcribe(blocks)
	if md == "" {
		log.Warn("DOCX contains no text")
		return types.ConversionResponse{}, &ExtractionError{Msg: "Could not extract text. Document is empty."}
	}

	resp := success(req.Filename, md, types.MethodStructuredParse)
	if req.IncludeJSON {
		resp.JSON = structure.Document{
			Filename: req.Filename,
			Method:   types.MethodStructuredParse,
			Blocks:   structure.FromBlocks(blocks),
		}
	}

	log.Info("converted DOCX", "blocks", len(blocks), "chars", resp.CharCount)
	return resp, nil
}

func success(filename, md string, method types.Method) types.ConversionResponse {
	m := string(method)
	return types.ConversionResponse{
		Status:           types.StatusSuccess,
		Filename:         filename,
		Markdown:         &md,
		CharCount:        format.CharCount(md),
		ExtractionMethod: &m,
	}
}

// saveToTemp streams body into a fresh scratch dir. cleanup removes the
// whole dir and is safe to call once on every path.
func (s *Service) saveToTemp(body io.Reader, ext string) (path string, cleanup func(), err error) {
	tmpDir, err := os.MkdirTemp(s.TempDir, "docproc-*")
	if err != nil {
		return "", nil, fmt.Errorf("temp dir: %w", err)
	}
	cleanup = func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			s.logger().Warn("failed to delete temp dir", "error", err)
		}
	}

	outPath := filepath.Join(tmpDir, "upload"+ext)
	f, err := os.Create(outPath)
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("create: %w", err)
	}

	src := body
	if s.MaxBytes > 0 {
		src = &io.LimitedReader{R: body, N: s.MaxBytes + 1}
	}
	n, err := io.Copy(f, src)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write: %w", err)
	}
	if s.MaxBytes > 0 && n > s.MaxBytes {
		cleanup()
		return "", nil, &ValidationError{
			Status: http.StatusRequestEntityTooLarge,
			Msg:    fmt.Sprintf("file exceeds %dMB limit", s.MaxBytes/(1<<20)),
		}
	}
	if n == 0 {
		cleanup()
		return "", nil, invalid("empty file")
	}

	return outPath, cleanup, nil
}

// checkMagic catches uploads whose content does not match their extension.
// PDF readers tolerate junk before the header, so the first KB is searched.
func checkMagic(path string, kind types.Kind) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open for validation: %w", err)
	}
	defer f.Close()

	head := make([]byte, 1024)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	switch kind {
	case types.KindPDF:
		if !bytes.Contains(head, []byte("%PDF")) {
			return &ExtractionError{Msg: "Could not extract text. File is not a valid PDF."}
		}
	case types.KindDOCX:
		if !bytes.HasPrefix(head, []byte("PK\x03\x04")) {
			return &ExtractionError{Msg: "Could not extract text. File is not a valid DOCX archive."}
		}
	}
	return nil
}
