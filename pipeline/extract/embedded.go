// Package extract provides the pipeline's TextExtractor implementations:
// pulling embedded text straight out of a PDF's content streams, and a
// page-parallel OCR fallback for scanned (image-only) deeds.
package extract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/sirupsen/logrus"
)

// EmbeddedTextExtractor reads the text already embedded in a PDF's content
// streams. It is the fast path: most deeds registered electronically carry
// a text layer, and OCR is only needed for scanned paper filings.
type EmbeddedTextExtractor struct {
	log *logrus.Entry
}

// NewEmbeddedTextExtractor constructs an EmbeddedTextExtractor.
func NewEmbeddedTextExtractor(log *logrus.Entry) *EmbeddedTextExtractor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &EmbeddedTextExtractor{log: log.WithField("component", "embedded_text_extractor")}
}

// Extract opens path and concatenates every page's embedded text, in page
// order. Errors are returned unclassified; the engine records any Extract
// error as OcrError regardless of the concrete implementation.
func (e *EmbeddedTextExtractor) Extract(ctx context.Context, path string) (string, int, time.Duration, error) {
	start := time.Now()

	f, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, time.Since(start), fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var sb strings.Builder
	pageCount := r.NumPage()
	for i := 1; i <= pageCount; i++ {
		select {
		case <-ctx.Done():
			return "", pageCount, time.Since(start), ctx.Err()
		default:
		}

		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", pageCount, time.Since(start), fmt.Errorf("reading page %d of %s: %w", i, path, err)
		}
		sb.WriteString(text)
		sb.WriteString("\n")
	}

	return sb.String(), pageCount, time.Since(start), nil
}

// HasEmbeddedText does a cheap pre-check so callers can decide whether to
// fall back to OCR without paying for a full extraction pass.
func HasEmbeddedText(path string) (bool, error) {
	if _, err := os.Stat(path); err != nil {
		return false, err
	}
	f, r, err := pdf.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	for i := 1; i <= r.NumPage() && i <= 3; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err == nil && strings.TrimSpace(text) != "" {
			return true, nil
		}
	}
	return false, nil
}
