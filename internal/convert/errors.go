package convert

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/toricodesthings/docling-service/internal/types"
)

// ValidationError rejects an upload before any parsing work.
type ValidationError struct {
	Status int // 400, or 413 for oversized uploads
	Msg    string
}

func (e *ValidationError) Error() string { return e.Msg }

// ExtractionError means every strategy ran and none recovered text.
type ExtractionError struct {
	Msg       string
	PageCount *int
}

func (e *ExtractionError) Error() string { return e.Msg }

func invalid(format string, args ...any) error {
	return &ValidationError{Status: http.StatusBadRequest, Msg: fmt.Sprintf(format, args...)}
}

// Respond maps a conversion error to an HTTP status and an error envelope.
// tempDirs are masked in the message along with os.TempDir().
func Respond(filename string, err error, tempDirs ...string) (int, types.ConversionResponse) {
	resp := types.ConversionResponse{
		Status:   types.StatusError,
		Filename: filename,
	}

	var ve *ValidationError
	var ee *ExtractionError
	status := http.StatusInternalServerError
	switch {
	case errors.As(err, &ve):
		status = ve.Status
		resp.Code = "validation_failed"
		if status == http.StatusRequestEntityTooLarge {
			resp.Code = "too_large"
		}
	case errors.As(err, &ee):
		status = http.StatusBadRequest
		resp.Code = "extraction_failed"
		resp.PageCount = ee.PageCount
	default:
		resp.Code = "internal_error"
	}

	msg := SanitizeError(err, tempDirs...)
	resp.Error = &msg
	return status, resp
}

const maxErrorRunes = 300

// SanitizeError keeps temp paths out of client-facing messages and caps
// the length at maxErrorRunes.
func SanitizeError(err error, tempDirs ...string) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	// Configured dirs first: they may live under os.TempDir().
	dirs := make([]string, 0, len(tempDirs)+1)
	dirs = append(dirs, tempDirs...)
	dirs = append(dirs, os.TempDir())
	for _, dir := range dirs {
		dir = strings.TrimRight(dir, "/")
		if dir != "" {
			msg = strings.ReplaceAll(msg, dir, "[tmp]")
		}
	}
	if utf8.RuneCountInString(msg) > maxErrorRunes {
		msg = string([]rune(msg)[:maxErrorRunes]) + "..."
	}
	return msg
}
