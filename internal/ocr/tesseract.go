package ocr

import (
	"context"
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// Tesseract runs recognition locally through libtesseract.
type Tesseract struct {
	Languages []string

	clientFactory func() *gosseract.Client
}

func NewTesseract(languages ...string) *Tesseract {
	return &Tesseract{Languages: languages, clientFactory: gosseract.NewClient}
}

func (e *Tesseract) Name() string { return "tesseract" }

// Recognize uses a fresh client per page; gosseract clients are not safe for
// concurrent use.
func (e *Tesseract) Recognize(ctx context.Context, png []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	c := e.clientFactory()
	defer c.Close()

	if len(e.Languages) > 0 {
		if err := c.SetLanguage(e.Languages...); err != nil {
			return "", fmt.Errorf("set languages: %w", err)
		}
	}
	if err := c.SetImageFromBytes(png); err != nil {
		return "", fmt.Errorf("set image: %w", err)
	}
	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("recognize text: %w", err)
	}
	return Clean(text), nil
}
