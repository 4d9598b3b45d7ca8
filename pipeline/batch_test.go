package pipeline_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaveri/deedscan/pipeline"
)

func TestBatchStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, pipeline.BatchPending.CanTransitionTo(pipeline.BatchRunning))
	assert.False(t, pipeline.BatchPending.CanTransitionTo(pipeline.BatchCompleted))
	assert.True(t, pipeline.BatchRunning.CanTransitionTo(pipeline.BatchCompleted))
	assert.True(t, pipeline.BatchRunning.CanTransitionTo(pipeline.BatchCancelled))
	assert.False(t, pipeline.BatchCompleted.CanTransitionTo(pipeline.BatchRunning))

	assert.False(t, pipeline.BatchPending.IsTerminal())
	assert.False(t, pipeline.BatchRunning.IsTerminal())
	assert.True(t, pipeline.BatchCompleted.IsTerminal())
	assert.True(t, pipeline.BatchCancelled.IsTerminal())
}

func TestBatchCoordinator_NewBatchRejectsEmpty(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	coord := pipeline.NewBatchCoordinator(repo, files, nil)

	_, err := coord.NewBatch(context.Background(), nil)
	assert.Error(t, err)
}

func TestBatchCoordinator_BeginRunSkipsEmptyInbox(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	coord := pipeline.NewBatchCoordinator(repo, files, nil)
	ctx := context.Background()

	firstID, err := coord.NewBatch(ctx, []string{"a"})
	require.NoError(t, err)
	secondID, err := coord.NewBatch(ctx, []string{"b"})
	require.NoError(t, err)

	// drain the first batch's inbox out from under the coordinator, as if
	// an operator moved the file away manually.
	files.mu.Lock()
	files.inbox[firstID] = nil
	files.mu.Unlock()

	gotBatchID, paths, err := coord.BeginRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, secondID, gotBatchID)
	assert.Len(t, paths, 1)
}

func TestBatchCoordinator_BeginRunNoPending(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	coord := pipeline.NewBatchCoordinator(repo, files, nil)

	_, _, err := coord.BeginRun(context.Background())
	assert.ErrorIs(t, err, pipeline.ErrNoPendingBatch)
}

func TestBatchCoordinator_EndRunRejectsIllegalTransition(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	coord := pipeline.NewBatchCoordinator(repo, files, nil)
	ctx := context.Background()

	batchID, err := coord.NewBatch(ctx, []string{"a"})
	require.NoError(t, err)

	// batch is still Pending; EndRun requires Running first.
	err = coord.EndRun(ctx, batchID, pipeline.BatchCompleted, 1, 0, 0)
	assert.Error(t, err)
}

func TestBatchCoordinator_RetryBatchRequiresFailedDocs(t *testing.T) {
	files := newFakeFileStore()
	repo := newFakeRepository()
	coord := pipeline.NewBatchCoordinator(repo, files, nil)
	ctx := context.Background()

	batchID, err := coord.NewBatch(ctx, []string{"a"})
	require.NoError(t, err)

	_, err = coord.RetryBatch(ctx, batchID)
	assert.Error(t, err)
}
