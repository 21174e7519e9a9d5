package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toricodesthings/docling-service/internal/config"
	"github.com/toricodesthings/docling-service/internal/convert"
	"github.com/toricodesthings/docling-service/internal/pipeline"
	"github.com/toricodesthings/docling-service/internal/types"
)

type fakeConverter struct {
	req  convert.Request
	body string
	resp types.ConversionResponse
	err  error
	fn   func()
}

func (f *fakeConverter) Convert(_ context.Context, req convert.Request) (types.ConversionResponse, error) {
	if f.fn != nil {
		f.fn()
	}
	f.req = req
	b, _ := io.ReadAll(req.Body)
	f.body = string(b)
	return f.resp, f.err
}

type fakePDF struct{ result types.ExtractionResult }

func (f fakePDF) Extract(context.Context, string) types.ExtractionResult { return f.result }

func ptr[T any](v T) *T { return &v }

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Load(viper.New())
	cfg.TempDir = t.TempDir()
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func okResponse() types.ConversionResponse {
	return types.ConversionResponse{
		Status:           types.StatusSuccess,
		Filename:         "a.pdf",
		Markdown:         ptr("# a.pdf\n\n## Page 1\n\nhi"),
		CharCount:        22,
		PageCount:        ptr(1),
		ExtractionMethod: ptr(string(types.MethodTextExtraction)),
	}
}

func multipartBody(t *testing.T, field, filename, content string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, h http.Handler, path, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, "file", filename, content)
	req := httptest.NewRequest(http.MethodPost, path, body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	a := newApp(testConfig(t), quietLogger(), &fakeConverter{})
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok", "service": serviceName}, decode(t, rec))
}

func TestInfo(t *testing.T) {
	a := newApp(testConfig(t), quietLogger(), &fakeConverter{})
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/info", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var info types.InfoResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, serviceName, info.Service)
	assert.Equal(t, version, info.Version)
	assert.Contains(t, info.Capabilities, "pdf_to_markdown")
	assert.Contains(t, info.Capabilities, "docx_to_markdown")
	assert.Equal(t, "tesseract", info.OCREngine)
	assert.Equal(t, 10, info.OCRMaxPages)
}

func TestConvertPDFHandler(t *testing.T) {
	conv := &fakeConverter{resp: okResponse()}
	a := newApp(testConfig(t), quietLogger(), conv)

	rec := upload(t, a.routes(), "/convert-pdf", "a.pdf", "%PDF-1.4")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, types.KindPDF, conv.req.Kind)
	assert.Equal(t, "a.pdf", conv.req.Filename)
	assert.Equal(t, "%PDF-1.4", conv.body)
	assert.False(t, conv.req.IncludeJSON)

	out := decode(t, rec)
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "text-extraction", out["extraction_method"])

	_, _, conversions := a.metrics.get()
	assert.Equal(t, int64(1), conversions["text-extraction"])
}

func TestConvertJSONVariants(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/convert-pdf?include_json=true", true},
		{"/convert-pdf?include_json=0", false},
		{"/convert-pdf-json", true},
		{"/convert-docx-json", true},
	}
	for _, tc := range cases {
		t.Run(tc.path, func(t *testing.T) {
			conv := &fakeConverter{resp: okResponse()}
			a := newApp(testConfig(t), quietLogger(), conv)
			rec := upload(t, a.routes(), tc.path, "a.pdf", "x")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tc.want, conv.req.IncludeJSON)
		})
	}
}

func TestConvertBadIncludeJSON(t *testing.T) {
	a := newApp(testConfig(t), quietLogger(), &fakeConverter{resp: okResponse()})
	rec := upload(t, a.routes(), "/convert-pdf?include_json=maybe", "a.pdf", "x")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assertErrorEnvelope(t, rec)
}

func TestConvertMissingFileField(t *testing.T) {
	conv := &fakeConverter{resp: okResponse()}
	a := newApp(testConfig(t), quietLogger(), conv)

	body, ct := multipartBody(t, "document", "a.pdf", "%PDF")
	req := httptest.NewRequest(http.MethodPost, "/convert-pdf", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := assertErrorEnvelope(t, rec)
	assert.Contains(t, out["error"], "file")
	assert.Empty(t, conv.req.Filename)
}

// assertErrorEnvelope checks a failed upload uses the ConversionResponse shape.
func assertErrorEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	out := decode(t, rec)
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "validation_failed", out["code"])
	assert.Contains(t, out, "filename")
	assert.Contains(t, out, "char_count")
	assert.Contains(t, out, "page_count")
	return out
}

func TestConvertNotMultipart(t *testing.T) {
	a := newApp(testConfig(t), quietLogger(), &fakeConverter{})
	req := httptest.NewRequest(http.MethodPost, "/convert-docx", bytes.NewBufferString(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.routes().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := assertErrorEnvelope(t, rec)
	assert.Contains(t, out["error"], "multipart")

	_, _, conversions := a.metrics.get()
	assert.Equal(t, int64(1), conversions["error"])
}

func TestConvertWrongExtension(t *testing.T) {
	cfg := testConfig(t)
	svc := &convert.Service{PDF: fakePDF{}, TempDir: cfg.TempDir, Logger: quietLogger()}
	a := newApp(cfg, quietLogger(), svc)

	rec := upload(t, a.routes(), "/convert-pdf", "notes.docx", "%PDF-1.4")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "error", out["status"])
	assert.Equal(t, "validation_failed", out["code"])
	assert.Equal(t, "notes.docx", out["filename"])

	_, _, conversions := a.metrics.get()
	assert.Equal(t, int64(1), conversions["error"])
}

func TestConvertEndToEndWithService(t *testing.T) {
	cfg := testConfig(t)
	svc := &convert.Service{
		PDF: fakePDF{result: types.ExtractionResult{
			Text:      ptr("## Page 1\n\nhello"),
			PageCount: ptr(1),
			Method:    types.MethodTextExtraction,
		}},
		TempDir: cfg.TempDir,
		Logger:  quietLogger(),
	}
	a := newApp(cfg, quietLogger(), svc)

	rec := upload(t, a.routes(), "/convert-pdf", "Report.pdf", "%PDF-1.7\n")

	require.Equal(t, http.StatusOK, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "# Report.pdf\n\n## Page 1\n\nhello", out["markdown"])
	assert.EqualValues(t, 1, out["page_count"])
}

func TestConvertFailurePageCount(t *testing.T) {
	cfg := testConfig(t)
	svc := &convert.Service{
		PDF:     fakePDF{result: types.ExtractionResult{PageCount: ptr(4)}},
		TempDir: cfg.TempDir,
		Logger:  quietLogger(),
	}
	a := newApp(cfg, quietLogger(), svc)

	rec := upload(t, a.routes(), "/convert-pdf", "scan.pdf", "%PDF-1.7\n")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := decode(t, rec)
	assert.Equal(t, "extraction_failed", out["code"])
	assert.EqualValues(t, 4, out["page_count"])
}

func TestInternalAuth(t *testing.T) {
	cfg := testConfig(t)
	cfg.InternalSharedSecret = "0123456789abcdef0123456789abcdef"
	a := newApp(cfg, quietLogger(), &fakeConverter{resp: okResponse()})
	h := a.routes()

	rec := upload(t, h, "/convert-pdf", "a.pdf", "x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	body, ct := multipartBody(t, "file", "a.pdf", "x")
	req := httptest.NewRequest(http.MethodPost, "/convert-pdf", body)
	req.Header.Set("Content-Type", ct)
	req.Header.Set("X-Internal-Auth", cfg.InternalSharedSecret)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Health stays open.
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimitEvery = time.Hour
	cfg.RateLimitBurst = 1
	a := newApp(cfg, quietLogger(), &fakeConverter{resp: okResponse()})
	h := a.routes()

	assert.Equal(t, http.StatusOK, upload(t, h, "/convert-pdf", "a.pdf", "x").Code)
	rec := upload(t, h, "/convert-pdf", "a.pdf", "x")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))

	a.limiters.reset()
	assert.Equal(t, http.StatusOK, upload(t, h, "/convert-pdf", "a.pdf", "x").Code)
}

func TestConcurrencyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxConcurrentRequests = 1
	a := newApp(cfg, quietLogger(), &fakeConverter{resp: okResponse()})
	require.True(t, a.requestSem.TryAcquire(1))

	rec := upload(t, a.routes(), "/convert-pdf", "a.pdf", "x")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	a.requestSem.Release(1)
	assert.Equal(t, http.StatusOK, upload(t, a.routes(), "/convert-pdf", "a.pdf", "x").Code)
}

func TestRoutingErrors(t *testing.T) {
	a := newApp(testConfig(t), quietLogger(), &fakeConverter{})
	h := a.routes()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/convert-pdf", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", decode(t, rec)["code"])
}

func TestRecovery(t *testing.T) {
	conv := &fakeConverter{fn: func() { panic("boom") }}
	a := newApp(testConfig(t), quietLogger(), conv)

	rec := upload(t, a.routes(), "/convert-pdf", "a.pdf", "x")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "internal_error", decode(t, rec)["code"])

	_, active, _ := a.metrics.get()
	assert.Zero(t, active)
}

func TestGetClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", getClientIP(r))

	r.Header.Set("X-Real-IP", " 10.0.0.2 ")
	assert.Equal(t, "10.0.0.2", getClientIP(r))

	r.Header.Set("X-Forwarded-For", "1.2.3.4, 10.0.0.3")
	assert.Equal(t, "1.2.3.4", getClientIP(r))
}

func TestSanitizeLogString(t *testing.T) {
	assert.Equal(t, "ab", sanitizeLogString("a\r\nb"))
	assert.Len(t, sanitizeLogString(string(make([]byte, 300))), 203)
}

func TestNewConverterWiresConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.MinWords = 42
	cfg.OCRMaxPages = 3

	svc := newConverter(cfg, quietLogger())

	p, ok := svc.PDF.(*pipeline.Processor)
	require.True(t, ok)
	assert.Equal(t, 42, p.MinWords)
	assert.Equal(t, 3, p.OCRMaxPages)
	assert.Equal(t, cfg.TempDir, svc.TempDir)
}
