// Package ocr turns a receipt image, referenced by a signed URL, into raw
// text through a text-recognition service.
package ocr

import (
	"context"
	"errors"
)

// ErrNoTextFound is returned when the recognition service detects nothing on
// the image. The pipeline treats this as terminal for the run: downstream
// extraction has nothing to work with.
var ErrNoTextFound = errors.New("no text detected in receipt image")

// TextDetector provides an interface for text-recognition operations.
// This interface enables mocking and testing of OCR functionality.
type TextDetector interface {
	// DetectText fetches the image behind the signed URL and returns the
	// full detected text, or ErrNoTextFound.
	DetectText(ctx context.Context, imageURL string) (string, error)
}
