package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"runtime"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/toricodesthings/docling-service/internal/config"
	"github.com/toricodesthings/docling-service/internal/convert"
	"github.com/toricodesthings/docling-service/internal/types"
)

// Converter is satisfied by *convert.Service.
type Converter interface {
	Convert(ctx context.Context, req convert.Request) (types.ConversionResponse, error)
}

type app struct {
	cfg    config.Config
	conv   Converter
	logger *slog.Logger

	requestSem *semaphore.Weighted
	limiters   *limiterStore
	metrics    *serverMetrics
}

func newApp(cfg config.Config, logger *slog.Logger, conv Converter) *app {
	if logger == nil {
		logger = slog.Default()
	}
	return &app{
		cfg:        cfg,
		conv:       conv,
		logger:     logger,
		requestSem: semaphore.NewWeighted(cfg.MaxConcurrentRequests),
		limiters:   newLimiterStore(cfg.RateLimitEvery, cfg.RateLimitBurst),
		metrics:    newServerMetrics(),
	}
}

type serverMetrics struct {
	mu            sync.RWMutex
	totalRequests int64
	activeReqs    int64
	conversions   map[string]int64 // by extraction method, "error" for failures
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{conversions: map[string]int64{}}
}

func (m *serverMetrics) incActive() {
	m.mu.Lock()
	m.activeReqs++
	m.totalRequests++
	m.mu.Unlock()
}

func (m *serverMetrics) decActive() {
	m.mu.Lock()
	m.activeReqs--
	m.mu.Unlock()
}

func (m *serverMetrics) recordConversion(outcome string) {
	m.mu.Lock()
	m.conversions[outcome]++
	m.mu.Unlock()
}

func (m *serverMetrics) get() (total, active int64, conversions map[string]int64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conversions = make(map[string]int64, len(m.conversions))
	for k, v := range m.conversions {
		conversions[k] = v
	}
	return m.totalRequests, m.activeReqs, conversions
}

func (a *app) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(a.withLogging)
	r.Use(a.withRecovery)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusNotFound, "not_found", "Not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErr(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	r.Get("/health", a.handleHealth)
	r.Get("/info", a.handleInfo)
	r.With(a.withInternalAuth).Get("/metrics", a.handleMetrics)

	r.Group(func(r chi.Router) {
		r.Use(a.withInternalAuth)
		r.Use(a.withRateLimit)
		r.Use(a.withConcurrencyLimit)

		r.Post("/convert-pdf", a.handleConvert(types.KindPDF, false))
		r.Post("/convert-pdf-json", a.handleConvert(types.KindPDF, true))
		r.Post("/convert-docx", a.handleConvert(types.KindDOCX, false))
		r.Post("/convert-docx-json", a.handleConvert(types.KindDOCX, true))
	})

	return r
}

// housekeeping periodically logs runtime stats and drops idle rate limiters.
func (a *app) housekeeping(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		total, active, _ := a.metrics.get()
		a.logger.Info("stats",
			"active", active,
			"total", total,
			"goroutines", runtime.NumGoroutine(),
			"mem_mb", m.Alloc/(1<<20))
		a.limiters.reset()
	}
}

// ---------- Handlers ----------

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": serviceName,
	})
}

func (a *app) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, types.InfoResponse{
		Service: serviceName,
		Version: version,
		Capabilities: []string{
			"pdf_to_markdown",
			"docx_to_markdown",
			"text_extraction",
			"ocr",
			"structured_json",
		},
		OCREngine:   a.cfg.OCREngine,
		OCRMaxPages: a.cfg.OCRMaxPages,
	})
}

func (a *app) handleMetrics(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	total, active, conversions := a.metrics.get()

	writeJSON(w, http.StatusOK, map[string]any{
		"activeRequests": active,
		"totalRequests":  total,
		"conversions":    conversions,
		"goroutines":     runtime.NumGoroutine(),
		"memAllocMB":     m.Alloc / (1 << 20),
		"memSysMB":       m.Sys / (1 << 20),
	})
}

// handleConvert streams the multipart "file" part straight into the
// converter, so the upload touches disk only once.
func (a *app) handleConvert(kind types.Kind, forceJSON bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// Multipart framing overhead on top of the file itself.
		r.Body = http.MaxBytesReader(w, r.Body, a.cfg.MaxUploadBytes+1<<20)

		includeJSON := forceJSON
		if v := r.URL.Query().Get("include_json"); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				a.rejectUpload(w, "", "include_json must be a boolean")
				return
			}
			includeJSON = includeJSON || b
		}

		mr, err := r.MultipartReader()
		if err != nil {
			a.rejectUpload(w, "", "multipart/form-data body required")
			return
		}
		part, err := nextFilePart(mr)
		if err != nil {
			a.rejectUpload(w, "", convert.SanitizeError(err, a.cfg.TempDir))
			return
		}
		defer part.Close()

		filename := part.FileName()
		log := a.logger.With("request_id", middleware.GetReqID(r.Context()), "filename", filename)
		log.Info("received file", "kind", kind)

		ctx, cancel := context.WithTimeout(r.Context(), a.cfg.ConvertTimeout)
		defer cancel()

		resp, err := a.conv.Convert(ctx, convert.Request{
			Kind:        kind,
			Filename:    filename,
			Body:        part,
			IncludeJSON: includeJSON,
		})
		if err != nil {
			status, errResp := convert.Respond(filename, err, a.cfg.TempDir)
			if status >= http.StatusInternalServerError {
				log.Error("conversion failed", "error", err)
			} else {
				log.Warn("conversion rejected", "status", status, "error", err)
			}
			a.metrics.recordConversion("error")
			writeJSON(w, status, errResp)
			return
		}

		a.metrics.recordConversion(*resp.ExtractionMethod)
		writeJSON(w, http.StatusOK, resp)
	}
}

// rejectUpload answers a malformed upload with the same envelope as any
// other failed conversion.
func (a *app) rejectUpload(w http.ResponseWriter, filename, msg string) {
	status, resp := convert.Respond(filename, &convert.ValidationError{Status: http.StatusBadRequest, Msg: msg}, a.cfg.TempDir)
	a.metrics.recordConversion("error")
	writeJSON(w, status, resp)
}

var errNoFile = errors.New("form field \"file\" required")

// nextFilePart skips ahead to the "file" form field.
func nextFilePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoFile
		}
		if err != nil {
			return nil, err
		}
		if p.FormName() == "file" {
			return p, nil
		}
		p.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"status": types.StatusError,
		"error":  message,
		"code":   code,
	})
}
