package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kaveri/deedscan/pipeline"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLocalFileStore_AdmitClaimRoute(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	store, err := NewLocalFileStore(root, nil)
	require.NoError(t, err)

	src := writeTempFile(t, srcDir, "A.pdf", "deed-A")
	ctx := context.Background()

	ids, admitted, err := store.Admit(ctx, "BATCH-1", []string{src})
	require.NoError(t, err)
	assert.Equal(t, []string{"A"}, ids)
	require.Len(t, admitted, 1)
	assert.FileExists(t, admitted[0])
	assert.NoFileExists(t, src)

	claimed, err := store.Claim(ctx, "BATCH-1")
	require.NoError(t, err)
	assert.Equal(t, admitted, claimed)

	require.NoError(t, store.Route(ctx, claimed[0], pipeline.OutcomeSucceeded))
	assert.NoFileExists(t, claimed[0])

	processedPath := filepath.Join(root, dirProcessed, "A.pdf")
	assert.FileExists(t, processedPath)
}

func TestLocalFileStore_AdmitSuffixesCollidingStems(t *testing.T) {
	root := t.TempDir()
	srcDir1 := t.TempDir()
	srcDir2 := t.TempDir()
	store, err := NewLocalFileStore(root, nil)
	require.NoError(t, err)

	// two different source directories producing the same filename stem,
	// as happens on a re-upload (spec §8 scenario 6).
	src1 := writeTempFile(t, srcDir1, "deed.pdf", "one")
	src2 := writeTempFile(t, srcDir2, "deed.pdf", "two")
	ctx := context.Background()

	ids, admitted, err := store.Admit(ctx, "BATCH-2", []string{src1, src2})
	require.NoError(t, err)
	assert.Equal(t, []string{"deed", "deed_1"}, ids)
	require.Len(t, admitted, 2)
	assert.FileExists(t, admitted[0])
	assert.FileExists(t, admitted[1])
}

func TestLocalFileStore_RouteFailedThenCollect(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	store, err := NewLocalFileStore(root, nil)
	require.NoError(t, err)

	src := writeTempFile(t, srcDir, "B.pdf", "deed-B")
	ctx := context.Background()

	_, admitted, err := store.Admit(ctx, "BATCH-3", []string{src})
	require.NoError(t, err)

	require.NoError(t, store.Route(ctx, admitted[0], pipeline.OutcomeFailed))

	failed, err := store.CollectFailed(ctx, "BATCH-3")
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, filepath.Join(root, dirFailed, "BATCH-3__B.pdf"), failed[0])
}

func TestLocalFileStore_CollectFailedUnfilteredSpansAllBatches(t *testing.T) {
	root := t.TempDir()
	srcDir := t.TempDir()
	store, err := NewLocalFileStore(root, nil)
	require.NoError(t, err)

	ctx := context.Background()
	srcB := writeTempFile(t, srcDir, "B.pdf", "deed-B")
	_, admittedB, err := store.Admit(ctx, "BATCH-3", []string{srcB})
	require.NoError(t, err)
	require.NoError(t, store.Route(ctx, admittedB[0], pipeline.OutcomeFailed))

	srcC := writeTempFile(t, srcDir, "C.pdf", "deed-C")
	_, admittedC, err := store.Admit(ctx, "BATCH-4", []string{srcC})
	require.NoError(t, err)
	require.NoError(t, store.Route(ctx, admittedC[0], pipeline.OutcomeFailed))

	all, err := store.CollectFailed(ctx, "")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		filepath.Join(root, dirFailed, "BATCH-3__B.pdf"),
		filepath.Join(root, dirFailed, "BATCH-4__C.pdf"),
	}, all)

	onlyThree, err := store.CollectFailed(ctx, "BATCH-3")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, dirFailed, "BATCH-3__B.pdf")}, onlyThree)
}

func TestLocalFileStore_ClaimUnknownBatchIsEmpty(t *testing.T) {
	root := t.TempDir()
	store, err := NewLocalFileStore(root, nil)
	require.NoError(t, err)

	paths, err := store.Claim(context.Background(), "NO-SUCH-BATCH")
	require.NoError(t, err)
	assert.Empty(t, paths)
}
