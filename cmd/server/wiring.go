package main

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/docling-service/internal/config"
	"github.com/toricodesthings/docling-service/internal/convert"
	"github.com/toricodesthings/docling-service/internal/docx"
	"github.com/toricodesthings/docling-service/internal/extractor"
	"github.com/toricodesthings/docling-service/internal/ocr"
	"github.com/toricodesthings/docling-service/internal/pipeline"
)

// newConverter assembles the capability objects once at startup.
func newConverter(cfg config.Config, logger *slog.Logger) *convert.Service {
	processor := &pipeline.Processor{
		Text:       extractor.TextLayer{Logger: logger},
		CountPages: extractor.PageCount,
		Raster: extractor.Poppler{
			DPI:     cfg.OCRDPI,
			Timeout: cfg.PopplerTimeout,
			MaxDim:  cfg.OCRMaxImageDim,
		},
		OCR:         newOCREngine(cfg),
		OCRSem:      semaphore.NewWeighted(cfg.MaxOCRConcurrent),
		OCRMaxPages: cfg.OCRMaxPages,
		MinWords:    cfg.MinWords,
		Logger:      logger,
	}

	return &convert.Service{
		PDF:      processor,
		ReadDOCX: docx.Read,
		TempDir:  cfg.TempDir,
		MaxBytes: cfg.MaxUploadBytes,
		Logger:   logger,
	}
}

func newOCREngine(cfg config.Config) ocr.Engine {
	if cfg.OCREngine == "mistral" {
		return &ocr.Mistral{
			APIKey:  cfg.MistralAPIKey,
			Model:   cfg.OCRModel,
			BaseURL: cfg.MistralBaseURL,
			Client: &http.Client{
				Timeout: 60 * time.Second,
				Transport: &http.Transport{
					MaxIdleConns:        10,
					IdleConnTimeout:     30 * time.Second,
					TLSHandshakeTimeout: 10 * time.Second,
				},
			},
		}
	}
	return ocr.NewTesseract(strings.Split(cfg.OCRLanguage, "+")...)
}
