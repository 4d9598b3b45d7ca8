package pipeline

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/kaveri/deedscan/worker"
)

// Config configures one Engine run. All fields are required and are
// validated on Start.
type Config struct {
	OCRWorkers            int           // 1..20, Stage-1 pool size
	LLMWorkers            int           // 1..20, Stage-2 pool size
	QueueSize             int           // 1..10, bounded channel capacity Q
	EnablePageParallelOCR bool          // Stage 1 may fan out pages within a document
	OCRPageWorkers        int           // 1..8, sub-pool size when the flag is on
	LLMTimeout            time.Duration // per-document Stage-2 budget, default 300s
}

// DefaultConfig returns spec.md's documented defaults. queue_size = 2 is
// the deliberate default (one item per stage-pair in flight beyond the
// workers themselves) rather than the source's de-facto 1; smaller values
// are legal and simply trade throughput for a tighter memory bound.
func DefaultConfig() Config {
	return Config{
		OCRWorkers:     4,
		LLMWorkers:     2,
		QueueSize:      2,
		OCRPageWorkers: 4,
		LLMTimeout:     300 * time.Second,
	}
}

// Validate checks every field against spec.md §4.D.1's documented ranges.
// No global cap is placed on OCRWorkers × OCRPageWorkers.
func (c Config) Validate() error {
	switch {
	case c.OCRWorkers < 1 || c.OCRWorkers > 20:
		return &ConfigError{Field: "ocr_workers", Reason: "must be between 1 and 20"}
	case c.LLMWorkers < 1 || c.LLMWorkers > 20:
		return &ConfigError{Field: "llm_workers", Reason: "must be between 1 and 20"}
	case c.QueueSize < 1 || c.QueueSize > 10:
		return &ConfigError{Field: "queue_size", Reason: "must be between 1 and 10"}
	case c.EnablePageParallelOCR && (c.OCRPageWorkers < 1 || c.OCRPageWorkers > 8):
		return &ConfigError{Field: "ocr_page_workers", Reason: "must be between 1 and 8 when page-parallel OCR is enabled"}
	case c.LLMTimeout <= 0:
		return &ConfigError{Field: "llm_timeout", Reason: "must be positive"}
	}
	return nil
}

// Engine is the PipelineEngine: the scheduler that owns both worker pools
// and the bounded StageResult channel. One Engine per process; config is
// a value passed to Start, never a global.
type Engine struct {
	coordinator *BatchCoordinator
	repo        Repository
	files       FileStore
	structured  StructuredExtractor
	validator   Validator
	log         *logrus.Entry

	extractMu       sync.Mutex
	embeddedExtract TextExtractor
	ocrExtract      TextExtractor
	useOCR          bool // false = embedded mode, true = ocr mode

	mu        sync.Mutex
	running   bool
	cancelled atomic.Bool
	runDone   chan struct{}

	stats *stats
}

// NewEngine constructs an Engine. embeddedExtractor and ocrExtractor are
// the two TextExtractor implementations named in spec.md §6; the active
// one is selected by ToggleEmbeddedOcr and is swappable only while idle.
func NewEngine(coordinator *BatchCoordinator, repo Repository, files FileStore, embeddedExtractor, ocrExtractor TextExtractor, structured StructuredExtractor, validator Validator, log *logrus.Entry) *Engine {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Engine{
		coordinator:     coordinator,
		repo:            repo,
		files:           files,
		embeddedExtract: embeddedExtractor,
		ocrExtract:      ocrExtractor,
		structured:      structured,
		validator:       validator,
		log:             log.WithField("component", "pipeline_engine"),
		stats:           &stats{},
	}
}

// currentExtractor returns the TextExtractor implementation currently
// selected for Stage 1.
func (e *Engine) currentExtractor() TextExtractor {
	e.extractMu.Lock()
	defer e.extractMu.Unlock()
	if e.useOCR {
		return e.ocrExtract
	}
	return e.embeddedExtract
}

// ToggleEmbeddedOcr flips the active TextExtractor implementation. Rejected
// with ErrBusy while a batch is running, per spec.md §4.D.1.
func (e *Engine) ToggleEmbeddedOcr(useOCR bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return ErrBusy
	}
	e.extractMu.Lock()
	e.useOCR = useOCR
	e.extractMu.Unlock()
	return nil
}

// IsRunning reports the engine's single authoritative liveness boolean.
func (e *Engine) IsRunning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.running
}

// Stats returns a consistent, non-torn snapshot of the run's counters.
func (e *Engine) Stats() Snapshot {
	return e.stats.snapshot()
}

// workItem is one document claimed into the active run.
type workItem struct {
	documentID string
	sourcePath string
}

// deriveDocumentID recovers the document id from an inbox path of the
// form <batch_id>__<document_id>.pdf.
func deriveDocumentID(batchID, path string) string {
	base := filepath.Base(path)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	return strings.TrimPrefix(base, batchID+"__")
}

// workCursor is the mutex-guarded FIFO cursor Stage-1 workers take
// documents from, in filesystem enumeration order.
type workCursor struct {
	mu    sync.Mutex
	items []workItem
	next  int
}

func (c *workCursor) take() (workItem, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.next >= len(c.items) {
		return workItem{}, false
	}
	it := c.items[c.next]
	c.next++
	return it, true
}

// Start admits the oldest pending, non-empty batch into a new run and
// launches both worker pools. It returns as soon as the pools are
// launched; processing proceeds asynchronously. See spec.md §4.D.2.
func (e *Engine) Start(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return ErrAlreadyRunning
	}
	e.running = true
	e.runDone = make(chan struct{})
	e.mu.Unlock()

	batchID, paths, err := e.coordinator.BeginRun(ctx)
	if err != nil {
		e.mu.Lock()
		e.running = false
		close(e.runDone)
		e.mu.Unlock()
		return err
	}

	items := make([]workItem, len(paths))
	for i, p := range paths {
		items[i] = workItem{documentID: deriveDocumentID(batchID, p), sourcePath: p}
	}

	e.cancelled.Store(false)
	e.stats.reset(len(items))

	cursor := &workCursor{items: items}
	ch := make(chan StageResult, cfg.QueueSize)

	var stage1 worker.Group
	stage1.Go(cfg.OCRWorkers, func(workerID int) {
		e.stage1Loop(ctx, workerID, batchID, cursor, ch)
	})

	var stage2 worker.Group
	stage2.Go(cfg.LLMWorkers, func(workerID int) {
		e.stage2Loop(ctx, workerID, batchID, cfg.LLMTimeout, ch)
	})

	go func() {
		stage1.Wait()
		close(ch)
		stage2.Wait()
		e.finishRun(ctx, batchID)
	}()

	return nil
}

// stage1Loop is the Stage-1 (OCR) worker loop from spec.md §4.D.3.
func (e *Engine) stage1Loop(ctx context.Context, workerID int, batchID string, cursor *workCursor, ch chan<- StageResult) {
	for {
		item, ok := cursor.take()
		if !ok {
			return
		}

		if e.cancelled.Load() {
			e.routeCancelled(ctx, item, batchID)
			continue
		}

		e.stats.enterOCR(item.sourcePath)
		text, pageCount, elapsed, err := e.currentExtractor().Extract(ctx, item.sourcePath)
		e.stats.exitOCR()

		if err != nil {
			e.recordFailure(ctx, item, batchID, ErrKindOCR, err)
			continue
		}

		if e.cancelled.Load() {
			e.routeCancelled(ctx, item, batchID)
			continue
		}

		sr := StageResult{
			DocumentID:   item.documentID,
			BatchID:      batchID,
			SourcePath:   item.sourcePath,
			Text:         text,
			OCRElapsedMs: elapsed.Milliseconds(),
			OCRPageCount: pageCount,
		}
		ch <- sr // blocks on full queue: the backpressure point
		e.stats.queueDelta(1)
	}
}

// stage2Loop is the Stage-2 (LLM) worker loop from spec.md §4.D.4.
func (e *Engine) stage2Loop(ctx context.Context, workerID int, batchID string, llmTimeout time.Duration, ch <-chan StageResult) {
	for sr := range ch {
		e.stats.queueDelta(-1)

		if e.cancelled.Load() {
			e.routeCancelledResult(ctx, sr, batchID)
			continue
		}

		e.stats.enterLLM(sr.SourcePath)
		doc, err := e.parseWithTimeout(ctx, sr, llmTimeout)
		if err == nil {
			err = e.validator.Clean(ctx, &doc)
			if err != nil {
				err = NewStageError(ErrKindValidation, sr.DocumentID, err)
			}
		}
		if err == nil {
			doc.BatchID = batchID
			if uErr := e.repo.UpsertDocument(ctx, doc); uErr != nil {
				err = NewStageError(ErrKindIO, sr.DocumentID, uErr)
			}
		}
		if err == nil {
			if rErr := e.files.Route(ctx, sr.SourcePath, OutcomeSucceeded); rErr != nil {
				err = NewStageError(ErrKindIO, sr.DocumentID, rErr)
			}
		}
		e.stats.exitLLM()

		if err != nil {
			e.recordFailureResult(ctx, sr, batchID, err)
			continue
		}

		e.stats.recordSucceeded()
	}
}

// parseWithTimeout calls StructuredExtractor.Parse bounded by llmTimeout
// and classifies a context deadline as LlmTimeout.
func (e *Engine) parseWithTimeout(ctx context.Context, sr StageResult, llmTimeout time.Duration) (ExtractedDocument, error) {
	callCtx, cancel := context.WithTimeout(ctx, llmTimeout)
	defer cancel()

	doc, err := e.structured.Parse(callCtx, sr.Text)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return ExtractedDocument{}, NewStageError(ErrKindLlmTimeout, sr.DocumentID, err)
		}
		var se *StageError
		if asStageError(err, &se) {
			return ExtractedDocument{}, se
		}
		return ExtractedDocument{}, NewStageError(ErrKindLlmParse, sr.DocumentID, err)
	}
	doc.DocumentID = sr.DocumentID
	return doc, nil
}

func asStageError(err error, out **StageError) bool {
	se, ok := err.(*StageError)
	if ok {
		*out = se
	}
	return ok
}

func (e *Engine) routeCancelled(ctx context.Context, item workItem, batchID string) {
	e.recordOutcome(ctx, item.documentID, item.sourcePath, batchID, ErrKindCancelled, "cancelled before OCR", true)
}

func (e *Engine) routeCancelledResult(ctx context.Context, sr StageResult, batchID string) {
	e.recordOutcome(ctx, sr.DocumentID, sr.SourcePath, batchID, ErrKindCancelled, "cancelled before LLM extraction", true)
}

func (e *Engine) recordFailure(ctx context.Context, item workItem, batchID string, kind ErrorKind, err error) {
	e.recordOutcome(ctx, item.documentID, item.sourcePath, batchID, kind, err.Error(), false)
}

func (e *Engine) recordFailureResult(ctx context.Context, sr StageResult, batchID string, err error) {
	kind := ErrKindLlmParse
	var se *StageError
	if asStageError(err, &se) {
		kind = se.Kind
	}
	e.recordOutcome(ctx, sr.DocumentID, sr.SourcePath, batchID, kind, err.Error(), false)
}

// recordOutcome is the shared failure/cancellation path: record the
// failure in the Repository and route the source file to failed/. Per
// spec.md §4.D.3/§4.D.4, cancellation and failure are both merged into
// the failed/ bucket.
func (e *Engine) recordOutcome(ctx context.Context, documentID, sourcePath, batchID string, kind ErrorKind, diagnostic string, cancelled bool) {
	if err := e.repo.RecordFailure(ctx, documentID, batchID, kind, diagnostic); err != nil {
		e.log.WithError(err).WithField("document_id", documentID).Error("failed to record failure")
	}
	if err := e.files.Route(ctx, sourcePath, OutcomeFailed); err != nil {
		e.log.WithError(err).WithField("document_id", documentID).Error("failed to route document to failed/")
	}
	if cancelled {
		e.stats.recordCancelled()
	} else {
		e.stats.recordFailed()
	}
}

// finishRun is the termination sequence from spec.md §4.D.6.
func (e *Engine) finishRun(ctx context.Context, batchID string) {
	e.stats.stop()
	snap := e.stats.snapshot()

	status := BatchCompleted
	if e.cancelled.Load() {
		status = BatchCancelled
	}

	if err := e.coordinator.EndRun(ctx, batchID, status, snap.Succeeded, snap.Failed, snap.Cancelled); err != nil {
		e.log.WithError(err).WithField("batch_id", batchID).Error("failed to end run")
	}

	e.mu.Lock()
	e.running = false
	done := e.runDone
	e.mu.Unlock()
	close(done)
}

// Stop triggers cooperative cancellation, waits for the active run to
// fully terminate, and returns the number of documents that did not reach
// Succeeded. Stop is idempotent: calling it when no batch is running
// returns 0 immediately.
func (e *Engine) Stop() int {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return 0
	}
	done := e.runDone
	e.mu.Unlock()

	e.cancelled.Store(true)
	<-done

	snap := e.stats.snapshot()
	return snap.Failed + snap.Cancelled
}
