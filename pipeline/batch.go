package pipeline

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// validBatchTransitions defines the legal status DAG for a Batch:
// Pending -> Running -> {Completed | Cancelled}. No other transition is
// permitted. Shaped after the teacher's workflow-phase transition map,
// narrowed from twelve phases down to the four statuses spec.md names.
var validBatchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending: {BatchRunning},
	BatchRunning: {BatchCompleted, BatchCancelled},
}

// CanTransitionTo reports whether moving from s to target is a legal
// Batch status transition.
func (s BatchStatus) CanTransitionTo(target BatchStatus) bool {
	for _, t := range validBatchTransitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// IsTerminal reports whether s is a terminal Batch status.
func (s BatchStatus) IsTerminal() bool {
	return s == BatchCompleted || s == BatchCancelled
}

// BatchCoordinator tracks batch identity, claims work into a run,
// transitions status, and aggregates per-run stats. See spec §4.E.
type BatchCoordinator struct {
	mu    sync.Mutex
	repo  Repository
	files FileStore
	log   *logrus.Entry

	// pending holds batch ids admitted via NewBatch, oldest first, not
	// yet claimed by BeginRun. FIFO within the running batch per spec's
	// non-goal of cross-batch prioritization.
	pending []string
	batches map[string]*Batch
}

// NewBatchCoordinator constructs a coordinator over a Repository and
// FileStore. log may be nil, in which case a standalone entry is used.
func NewBatchCoordinator(repo Repository, files FileStore, log *logrus.Entry) *BatchCoordinator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &BatchCoordinator{
		repo:    repo,
		files:   files,
		log:     log.WithField("component", "batch_coordinator"),
		batches: make(map[string]*Batch),
	}
}

// newBatchID mints a globally-unique, time-sortable batch id:
// BATCH-<yyyymmddThhmmssZ>-<random>.
func newBatchID(now time.Time) string {
	return fmt.Sprintf("BATCH-%s-%06d", now.UTC().Format("20060102T150405Z"), rand.Intn(1_000_000))
}

// NewBatch creates a new Pending batch over sourcePaths: admits the files
// through the FileStore, persists the batch row, and returns its id.
func (c *BatchCoordinator) NewBatch(ctx context.Context, sourcePaths []string) (string, error) {
	if len(sourcePaths) == 0 {
		return "", fmt.Errorf("pipeline: cannot create a batch with no source files")
	}

	c.mu.Lock()
	now := time.Now()
	batchID := newBatchID(now)
	for {
		if _, exists := c.batches[batchID]; !exists {
			break
		}
		batchID = newBatchID(time.Now())
	}
	c.mu.Unlock()

	if _, _, err := c.files.Admit(ctx, batchID, sourcePaths); err != nil {
		return "", fmt.Errorf("admitting batch %s: %w", batchID, err)
	}

	b := Batch{
		BatchID:   batchID,
		BatchName: filepath.Base(sourcePaths[0]),
		CreatedAt: now,
		Status:    BatchPending,
		Total:     len(sourcePaths),
	}

	if err := c.repo.UpsertBatch(ctx, b); err != nil {
		return "", fmt.Errorf("persisting batch %s: %w", batchID, err)
	}

	c.mu.Lock()
	c.batches[batchID] = &b
	c.pending = append(c.pending, batchID)
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{"batch_id": batchID, "total": b.Total}).Info("batch admitted")
	return batchID, nil
}

// BeginRun selects the oldest Pending batch whose inbox is non-empty,
// flips it to Running, and returns its id and the claimed document
// source paths (filesystem enumeration order). Returns ErrNoPendingBatch
// if there is nothing to run.
func (c *BatchCoordinator) BeginRun(ctx context.Context) (batchID string, paths []string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.pending) > 0 {
		candidate := c.pending[0]
		c.pending = c.pending[1:]

		claimed, cErr := c.files.Claim(ctx, candidate)
		if cErr != nil {
			return "", nil, fmt.Errorf("claiming batch %s: %w", candidate, cErr)
		}
		if len(claimed) == 0 {
			continue
		}

		b := c.batches[candidate]
		if b == nil {
			continue
		}
		if !b.Status.CanTransitionTo(BatchRunning) {
			return "", nil, fmt.Errorf("pipeline: batch %s cannot transition from %s to %s", candidate, b.Status, BatchRunning)
		}

		now := time.Now()
		b.Status = BatchRunning
		b.ProcessingStartedAt = &now

		if err := c.repo.UpdateBatchStatus(ctx, candidate, BatchRunning, &now, nil); err != nil {
			return "", nil, fmt.Errorf("updating batch %s status: %w", candidate, err)
		}

		c.log.WithFields(logrus.Fields{"batch_id": candidate, "documents": len(claimed)}).Info("run started")
		return candidate, claimed, nil
	}

	return "", nil, ErrNoPendingBatch
}

// EndRun marks batchID terminal (Completed or Cancelled) with the given
// final counts and sets finished_at.
func (c *BatchCoordinator) EndRun(ctx context.Context, batchID string, status BatchStatus, succeeded, failed, cancelled int) error {
	c.mu.Lock()
	b := c.batches[batchID]
	if b == nil {
		c.mu.Unlock()
		return fmt.Errorf("pipeline: unknown batch %s", batchID)
	}
	if !b.Status.CanTransitionTo(status) {
		c.mu.Unlock()
		return fmt.Errorf("pipeline: batch %s cannot transition from %s to %s", batchID, b.Status, status)
	}

	now := time.Now()
	b.Status = status
	b.FinishedAt = &now
	b.Succeeded = succeeded
	b.Failed = failed
	b.Cancelled = cancelled
	startedAt := b.ProcessingStartedAt
	final := *b
	c.mu.Unlock()

	if err := c.repo.UpdateBatchStatus(ctx, batchID, status, startedAt, &now); err != nil {
		return fmt.Errorf("updating batch %s status: %w", batchID, err)
	}
	if err := c.repo.UpsertBatch(ctx, final); err != nil {
		return fmt.Errorf("persisting batch %s counts: %w", batchID, err)
	}

	c.log.WithFields(logrus.Fields{
		"batch_id": batchID, "status": status,
		"succeeded": succeeded, "failed": failed, "cancelled": cancelled,
	}).Info("run ended")
	return nil
}

// RetryBatch enumerates failed/ for batchID, moves those files back into
// the inbox under a brand-new batch id (spec's chosen resolution for the
// "preserve id or mint new" open question, so retry progress is
// observable), and creates a new Pending batch. The original batch is
// left in its terminal status, untouched.
func (c *BatchCoordinator) RetryBatch(ctx context.Context, batchID string) (string, error) {
	failedPaths, err := c.files.CollectFailed(ctx, batchID)
	if err != nil {
		return "", fmt.Errorf("collecting failed documents for batch %s: %w", batchID, err)
	}
	if len(failedPaths) == 0 {
		return "", fmt.Errorf("pipeline: batch %s has no failed documents to retry", batchID)
	}

	return c.NewBatch(ctx, failedPaths)
}

// Get returns a copy of the tracked batch state, if known.
func (c *BatchCoordinator) Get(batchID string) (Batch, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.batches[batchID]
	if !ok {
		return Batch{}, false
	}
	return *b, true
}
