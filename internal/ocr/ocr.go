// Package ocr recognises text in rendered page images.
package ocr

import "context"

// Engine turns one PNG page image into plain text.
type Engine interface {
	Name() string
	Recognize(ctx context.Context, png []byte) (string, error)
}
