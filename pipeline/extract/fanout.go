package extract

import (
	"context"
	"fmt"
	"time"

	"github.com/ledongthuc/pdf"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PageRasterizer renders one page of a PDF to an image suitable for OCR.
// Implementations wrap whatever external renderer is available on the
// host (poppler, mupdf, ghostscript); FanOutExtractor only needs the
// resulting bytes.
type PageRasterizer interface {
	Render(ctx context.Context, path string, pageNum int) ([]byte, error)
}

// PageOCREngine recognizes text in one rasterized page image.
type PageOCREngine interface {
	Recognize(ctx context.Context, image []byte) (string, error)
}

// FanOutExtractor is the page-parallel OCR TextExtractor used for scanned
// (image-only) deeds. The fan-out width is the pageWorkers value passed to
// NewFanOutExtractor, a per-document sub-pool independent of the
// document-level ocr_workers pool. The Engine does not build one from
// Config.EnablePageParallelOCR or Config.OCRPageWorkers; it only validates
// those fields. Grounded on errgroup's fan-out/
// fan-in pattern as used in the pack's gazette proxy server
// (errgroup.Group{} + Go/Wait, first error wins, remaining goroutines
// still drain so nothing leaks).
type FanOutExtractor struct {
	rasterizer  PageRasterizer
	ocr         PageOCREngine
	pageWorkers int
	log         *logrus.Entry
}

// NewFanOutExtractor constructs a FanOutExtractor. pageWorkers bounds how
// many pages of a single document are rasterized/OCR'd concurrently (spec
// range 1..8); it is independent of the document-level ocr_workers count.
func NewFanOutExtractor(rasterizer PageRasterizer, ocr PageOCREngine, pageWorkers int, log *logrus.Entry) *FanOutExtractor {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if pageWorkers < 1 {
		pageWorkers = 1
	}
	return &FanOutExtractor{
		rasterizer:  rasterizer,
		ocr:         ocr,
		pageWorkers: pageWorkers,
		log:         log.WithField("component", "fanout_text_extractor"),
	}
}

// Extract rasterizes and OCRs every page of path concurrently, bounded by
// pageWorkers, and reassembles the pages in order.
func (f *FanOutExtractor) Extract(ctx context.Context, path string) (string, int, time.Duration, error) {
	start := time.Now()

	file, r, err := pdf.Open(path)
	if err != nil {
		return "", 0, time.Since(start), fmt.Errorf("opening %s: %w", path, err)
	}
	pageCount := r.NumPage()
	file.Close()

	pages := make([]string, pageCount)
	sem := make(chan struct{}, f.pageWorkers)

	grp, gctx := errgroup.WithContext(ctx)
	for i := 1; i <= pageCount; i++ {
		pageNum := i
		grp.Go(func() error {
			select {
			case sem <- struct{}{}:
			case <-gctx.Done():
				return gctx.Err()
			}
			defer func() { <-sem }()

			img, err := f.rasterizer.Render(gctx, path, pageNum)
			if err != nil {
				return fmt.Errorf("rendering page %d of %s: %w", pageNum, path, err)
			}
			text, err := f.ocr.Recognize(gctx, img)
			if err != nil {
				return fmt.Errorf("recognizing page %d of %s: %w", pageNum, path, err)
			}
			pages[pageNum-1] = text
			return nil
		})
	}

	if err := grp.Wait(); err != nil {
		return "", pageCount, time.Since(start), err
	}

	var out string
	for _, p := range pages {
		out += p + "\n"
	}
	return out, pageCount, time.Since(start), nil
}
