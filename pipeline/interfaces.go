package pipeline

import (
	"context"
	"time"
)

// Outcome is the terminal disposition a FileStore routes a document by.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// FileStore owns the inbox/processed/failed/retry-fee directories and the
// atomic move semantics between them. See spec §4.A.
type FileStore interface {
	// Admit copies or moves srcPaths into the inbox under the batch's
	// namespace, computing a stable, batch-unique document id per file
	// from the filename stem. Returns the document ids and the paths
	// they now live at inside the inbox.
	Admit(ctx context.Context, batchID string, srcPaths []string) (documentIDs []string, admittedPaths []string, err error)

	// Claim lists all inbox files belonging to batchID. Idempotent.
	Claim(ctx context.Context, batchID string) (paths []string, err error)

	// Route moves sourcePath to processed/ (Succeeded) or failed/
	// (anything else). Never overwrites an existing destination; appends
	// a monotonic suffix on collision.
	Route(ctx context.Context, sourcePath string, outcome Outcome) error

	// CollectFailed enumerates failed/, optionally filtered to one batch.
	CollectFailed(ctx context.Context, batchID string) (paths []string, err error)
}

// Repository is the minimal persistence surface the pipeline needs. See
// spec §4.B. All operations are idempotent by their named key.
type Repository interface {
	UpsertBatch(ctx context.Context, b Batch) error
	UpdateBatchStatus(ctx context.Context, batchID string, status BatchStatus, processingStartedAt, finishedAt *time.Time) error
	UpsertDocument(ctx context.Context, doc ExtractedDocument) error
	RecordFailure(ctx context.Context, documentID, batchID string, kind ErrorKind, diagnostic string) error
	GetFailedByBatch(ctx context.Context) (map[string][]string, error)

	// GetBatch returns the persisted row for batchID, the counterpart read
	// to UpsertBatch/UpdateBatchStatus. Used by out-of-process callers (the
	// pipelinectl stats command) that have no access to a live Engine's
	// in-memory Snapshot.
	GetBatch(ctx context.Context, batchID string) (Batch, error)
}

// TextExtractor turns a PDF on disk into OCR'd (or embedded) text. It must
// be an idempotent, pure function of the file, and must honor ctx
// cancellation at its internal suspension points if it has any.
type TextExtractor interface {
	Extract(ctx context.Context, path string) (text string, pageCount int, elapsed time.Duration, err error)
}

// StructuredExtractor turns OCR text into a structured record via a
// remote LLM call. Implementations classify failures into the LlmTimeout /
// LlmRateLimited / LlmParse / LlmInvalidShape error kinds.
type StructuredExtractor interface {
	Parse(ctx context.Context, text string) (ExtractedDocument, error)
}

// Validator cleans a freshly-parsed ExtractedDocument in place: monetary
// string normalization, Aadhaar/PAN shape checks, registration-fee
// cross-check, and father-name/date-of-birth extraction from name strings.
type Validator interface {
	Clean(ctx context.Context, doc *ExtractedDocument) error
}
