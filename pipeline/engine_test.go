package pipeline_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaveri/deedscan/pipeline"
)

// fakeFileStore is an in-memory stand-in for a filesystem-backed FileStore.
// It reproduces exactly the verbs Engine and BatchCoordinator depend on.
type fakeFileStore struct {
	mu        sync.Mutex
	inbox     map[string][]string // batchID -> paths
	processed []string
	failed    map[string][]string // batchID -> paths
	seen      map[string]int      // stem -> count, for collision suffixing
}

func newFakeFileStore() *fakeFileStore {
	return &fakeFileStore{
		inbox:  make(map[string][]string),
		failed: make(map[string][]string),
		seen:   make(map[string]int),
	}
}

func (f *fakeFileStore) Admit(ctx context.Context, batchID string, srcPaths []string) ([]string, []string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var ids, admitted []string
	for _, src := range srcPaths {
		stem := src
		n := f.seen[stem]
		f.seen[stem] = n + 1
		docID := stem
		if n > 0 {
			docID = fmt.Sprintf("%s_%d", stem, n)
		}
		path := fmt.Sprintf("inbox/%s__%s.pdf", batchID, docID)
		f.inbox[batchID] = append(f.inbox[batchID], path)
		ids = append(ids, docID)
		admitted = append(admitted, path)
	}
	return ids, admitted, nil
}

func (f *fakeFileStore) Claim(ctx context.Context, batchID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := f.inbox[batchID]
	f.inbox[batchID] = nil
	return append([]string(nil), paths...), nil
}

func (f *fakeFileStore) Route(ctx context.Context, sourcePath string, outcome pipeline.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if outcome == pipeline.OutcomeSucceeded {
		f.processed = append(f.processed, sourcePath)
		return nil
	}
	batchID := batchIDFromPath(sourcePath)
	f.failed[batchID] = append(f.failed[batchID], sourcePath)
	return nil
}

func (f *fakeFileStore) CollectFailed(ctx context.Context, batchID string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	paths := f.failed[batchID]
	f.failed[batchID] = nil
	return append([]string(nil), paths...), nil
}

func (f *fakeFileStore) isProcessed(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range f.processed {
		if p == path {
			return true
		}
	}
	return false
}

func (f *fakeFileStore) isFailed(path string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, paths := range f.failed {
		for _, p := range paths {
			if p == path {
				return true
			}
		}
	}
	return false
}

// inbox/<batch_id>__<document_id>.pdf
func batchIDFromPath(path string) string {
	var batchID string
	fmt.Sscanf(path, "inbox/%s", &batchID)
	for i := 0; i+1 < len(batchID); i++ {
		if batchID[i] == '_' && batchID[i+1] == '_' {
			return batchID[:i]
		}
	}
	return batchID
}

func docIDFromPath(path string) string {
	var rest string
	fmt.Sscanf(path, "inbox/%s", &rest)
	for i := 0; i+1 < len(rest); i++ {
		if rest[i] == '_' && rest[i+1] == '_' {
			rest = rest[i+2:]
			break
		}
	}
	rest = rest[:len(rest)-len(".pdf")]
	return rest
}

// fakeRepository is an in-memory Repository recording every call so tests
// can assert on call counts, not just end state.
type fakeRepository struct {
	mu           sync.Mutex
	batches      map[string]pipeline.Batch
	documents    map[string]pipeline.ExtractedDocument
	upsertCalls  map[string]int
	failures     map[string][]pipeline.ErrorKind
	failuresByID map[string][]string // batchID -> documentIDs
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		batches:      make(map[string]pipeline.Batch),
		documents:    make(map[string]pipeline.ExtractedDocument),
		upsertCalls:  make(map[string]int),
		failures:     make(map[string][]pipeline.ErrorKind),
		failuresByID: make(map[string][]string),
	}
}

func (r *fakeRepository) UpsertBatch(ctx context.Context, b pipeline.Batch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches[b.BatchID] = b
	return nil
}

func (r *fakeRepository) UpdateBatchStatus(ctx context.Context, batchID string, status pipeline.BatchStatus, processingStartedAt, finishedAt *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	b := r.batches[batchID]
	b.Status = status
	r.batches[batchID] = b
	return nil
}

func (r *fakeRepository) UpsertDocument(ctx context.Context, doc pipeline.ExtractedDocument) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.documents[doc.DocumentID] = doc
	r.upsertCalls[doc.DocumentID]++
	return nil
}

func (r *fakeRepository) RecordFailure(ctx context.Context, documentID, batchID string, kind pipeline.ErrorKind, diagnostic string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[documentID] = append(r.failures[documentID], kind)
	r.failuresByID[batchID] = append(r.failuresByID[batchID], documentID)
	return nil
}

func (r *fakeRepository) GetFailedByBatch(ctx context.Context) (map[string][]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string][]string, len(r.failuresByID))
	for k, v := range r.failuresByID {
		out[k] = append([]string(nil), v...)
	}
	return out, nil
}

func (r *fakeRepository) GetBatch(ctx context.Context, batchID string) (pipeline.Batch, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[batchID]
	if !ok {
		return pipeline.Batch{}, fmt.Errorf("batch %s not found", batchID)
	}
	return b, nil
}

// fakeExtractor returns canned text per path, optionally sleeping first.
type fakeExtractor struct {
	delay   time.Duration
	text    string
	failFor map[string]bool
}

func (e *fakeExtractor) Extract(ctx context.Context, path string) (string, int, time.Duration, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.failFor[path] {
		return "", 0, e.delay, fmt.Errorf("ocr failed for %s", path)
	}
	text := e.text
	if text == "" {
		text = docIDFromPath(path)
	}
	return text, 1, e.delay, nil
}

// fakeStructuredExtractor returns a minimal valid record, unless the text
// is in failFor, in which case it returns an LlmParse-classified error.
type fakeStructuredExtractor struct {
	delay   time.Duration
	failFor map[string]bool
}

func (e *fakeStructuredExtractor) Parse(ctx context.Context, text string) (pipeline.ExtractedDocument, error) {
	if e.delay > 0 {
		time.Sleep(e.delay)
	}
	if e.failFor[text] {
		return pipeline.ExtractedDocument{}, pipeline.NewStageError(pipeline.ErrKindLlmParse, "", fmt.Errorf("bad shape for %q", text))
	}
	return pipeline.ExtractedDocument{
		TransactionDate: time.Now(),
		Property:        pipeline.Property{SurveyNumber: "123/4"},
	}, nil
}

type passthroughValidator struct{}

func (passthroughValidator) Clean(ctx context.Context, doc *pipeline.ExtractedDocument) error { return nil }

func newTestEngine(files *fakeFileStore, repo *fakeRepository, ocr pipeline.TextExtractor, llm pipeline.StructuredExtractor) (*pipeline.BatchCoordinator, *pipeline.Engine) {
	coord := pipeline.NewBatchCoordinator(repo, files, nil)
	eng := pipeline.NewEngine(coord, repo, files, ocr, ocr, llm, passthroughValidator{}, nil)
	return coord, eng
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, cond(), "condition not met within %s", timeout)
}

func TestEngine_HappyPathSingleDocument(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	ocr := &fakeExtractor{delay: 10 * time.Millisecond, text: "text-A"}
	llm := &fakeStructuredExtractor{}

	coord, eng := newTestEngine(files, repo, ocr, llm)
	ctx := context.Background()

	batchID, err := coord.NewBatch(ctx, []string{"A"})
	require.NoError(t, err)

	require.NoError(t, eng.Start(ctx, pipeline.DefaultConfig()))

	waitUntil(t, time.Second, func() bool { return !eng.IsRunning() })

	snap := eng.Stats()
	assert.Equal(t, 1, snap.Total)
	assert.Equal(t, 1, snap.Succeeded)
	assert.Equal(t, 0, snap.Failed)

	b, ok := coord.Get(batchID)
	require.True(t, ok)
	assert.Equal(t, pipeline.BatchCompleted, b.Status)
	assert.True(t, files.isProcessed(fmt.Sprintf("inbox/%s__A.pdf", batchID)))
}

func TestEngine_Backpressure(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	ocr := &fakeExtractor{text: "slow-llm"}
	llm := &fakeStructuredExtractor{delay: 50 * time.Millisecond}

	coord, eng := newTestEngine(files, repo, ocr, llm)
	ctx := context.Background()

	paths := make([]string, 10)
	for i := range paths {
		paths[i] = fmt.Sprintf("doc-%d", i)
	}
	_, err := coord.NewBatch(ctx, paths)
	require.NoError(t, err)

	cfg := pipeline.DefaultConfig()
	cfg.OCRWorkers = 4
	cfg.LLMWorkers = 1
	cfg.QueueSize = 1

	start := time.Now()
	require.NoError(t, eng.Start(ctx, cfg))
	waitUntil(t, 5*time.Second, func() bool { return !eng.IsRunning() })
	elapsed := time.Since(start)

	// LLM is the serial bottleneck: 10 documents at 50ms each.
	assert.GreaterOrEqual(t, elapsed, 500*time.Millisecond)

	snap := eng.Stats()
	assert.Equal(t, 10, snap.Succeeded)
}

func TestEngine_MidRunStop(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	ocr := &fakeExtractor{text: "slow-llm"}
	llm := &fakeStructuredExtractor{delay: 50 * time.Millisecond}

	coord, eng := newTestEngine(files, repo, ocr, llm)
	ctx := context.Background()

	paths := make([]string, 10)
	for i := range paths {
		paths[i] = fmt.Sprintf("doc-%d", i)
	}
	batchID, err := coord.NewBatch(ctx, paths)
	require.NoError(t, err)

	cfg := pipeline.DefaultConfig()
	cfg.OCRWorkers = 4
	cfg.LLMWorkers = 1
	cfg.QueueSize = 1
	require.NoError(t, eng.Start(ctx, cfg))

	time.Sleep(120 * time.Millisecond)
	stopped := eng.Stop()
	assert.False(t, eng.IsRunning())
	assert.Greater(t, stopped, 0)

	snap := eng.Stats()
	assert.Equal(t, snap.Total, snap.Succeeded+snap.Failed+snap.Cancelled)

	b, ok := coord.Get(batchID)
	require.True(t, ok)
	assert.Equal(t, pipeline.BatchCancelled, b.Status)
}

func TestEngine_LLMFailureIsIsolated(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	ocr := &fakeExtractor{} // derives text == document id per path
	llm := &fakeStructuredExtractor{failFor: map[string]bool{"doc-2": true}}

	coord, eng := newTestEngine(files, repo, ocr, llm)
	ctx := context.Background()

	paths := []string{"doc-0", "doc-1", "doc-2", "doc-3", "doc-4"}
	batchID, err := coord.NewBatch(ctx, paths)
	require.NoError(t, err)

	require.NoError(t, eng.Start(ctx, pipeline.DefaultConfig()))
	waitUntil(t, time.Second, func() bool { return !eng.IsRunning() })

	snap := eng.Stats()
	assert.Equal(t, 5, snap.Total)
	assert.Equal(t, 4, snap.Succeeded)
	assert.Equal(t, 1, snap.Failed)

	assert.Zero(t, repo.upsertCalls["doc-2"])
	for _, id := range []string{"doc-0", "doc-1", "doc-3", "doc-4"} {
		assert.Equal(t, 1, repo.upsertCalls[id])
	}

	assert.True(t, files.isFailed(fmt.Sprintf("inbox/%s__doc-2.pdf", batchID)))
	for _, id := range []string{"doc-0", "doc-1", "doc-3", "doc-4"} {
		assert.True(t, files.isProcessed(fmt.Sprintf("inbox/%s__%s.pdf", batchID, id)))
	}

	b, ok := coord.Get(batchID)
	require.True(t, ok)
	assert.Equal(t, pipeline.BatchCompleted, b.Status)
}

func TestEngine_RetryBatch(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	llm := &fakeStructuredExtractor{failFor: map[string]bool{"doc-only": true}}
	ocr := &fakeExtractor{}

	coord, eng := newTestEngine(files, repo, ocr, llm)
	ctx := context.Background()

	originalBatchID, err := coord.NewBatch(ctx, []string{"doc-only"})
	require.NoError(t, err)
	require.NoError(t, eng.Start(ctx, pipeline.DefaultConfig()))
	waitUntil(t, time.Second, func() bool { return !eng.IsRunning() })

	snap := eng.Stats()
	require.Equal(t, 1, snap.Failed)

	originalBatch, ok := coord.Get(originalBatchID)
	require.True(t, ok)
	assert.Equal(t, pipeline.BatchCompleted, originalBatch.Status)
	assert.Equal(t, 1, originalBatch.Failed)

	retryBatchID, err := coord.RetryBatch(ctx, originalBatchID)
	require.NoError(t, err)
	assert.NotEmpty(t, retryBatchID)
	assert.NotEqual(t, originalBatchID, retryBatchID)

	llm.failFor = nil // fix the extractor before re-running

	require.NoError(t, eng.Start(ctx, pipeline.DefaultConfig()))
	waitUntil(t, time.Second, func() bool { return !eng.IsRunning() })

	retrySnap := eng.Stats()
	assert.Equal(t, 1, retrySnap.Succeeded)

	retryBatch, ok := coord.Get(retryBatchID)
	require.True(t, ok)
	assert.Equal(t, pipeline.BatchCompleted, retryBatch.Status)
	assert.Equal(t, 1, retryBatch.Succeeded)

	// the original batch is left untouched by the retry.
	originalBatch, ok = coord.Get(originalBatchID)
	require.True(t, ok)
	assert.Equal(t, pipeline.BatchCompleted, originalBatch.Status)
	assert.Equal(t, 1, originalBatch.Failed)
}

func TestEngine_DuplicateStemGetsSuffixed(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	ocr := &fakeExtractor{}
	llm := &fakeStructuredExtractor{}

	coord, eng := newTestEngine(files, repo, ocr, llm)
	ctx := context.Background()

	batchID, err := coord.NewBatch(ctx, []string{"deed", "deed"})
	require.NoError(t, err)

	require.NoError(t, eng.Start(ctx, pipeline.DefaultConfig()))
	waitUntil(t, time.Second, func() bool { return !eng.IsRunning() })

	snap := eng.Stats()
	assert.Equal(t, 2, snap.Succeeded)

	assert.Equal(t, 1, repo.upsertCalls["deed"])
	assert.Equal(t, 1, repo.upsertCalls["deed_1"])

	b, ok := coord.Get(batchID)
	require.True(t, ok)
	assert.Equal(t, pipeline.BatchCompleted, b.Status)
}
