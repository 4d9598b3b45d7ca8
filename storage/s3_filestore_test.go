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

func TestS3FileStore_AdmitClaimRoute(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "deed.pdf")
	require.NoError(t, os.WriteFile(src, []byte("deed contents"), 0o644))

	client := NewMockS3Client()
	store := NewS3FileStoreWithClient(client, "deeds-bucket", nil)
	ctx := context.Background()

	ids, paths, err := store.Admit(ctx, "BATCH-1", []string{src})
	require.NoError(t, err)
	assert.Equal(t, []string{"deed"}, ids)
	assert.Equal(t, []string{"inbox/BATCH-1__deed.pdf"}, paths)

	claimed, err := store.Claim(ctx, "BATCH-1")
	require.NoError(t, err)
	assert.Equal(t, paths, claimed)

	require.NoError(t, store.Route(ctx, paths[0], pipeline.OutcomeSucceeded))
	assert.Contains(t, client.Objects, "processed/deed.pdf")
	assert.NotContains(t, client.Objects, paths[0])
}

func TestS3FileStore_RouteFailedThenCollect(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "bad.pdf")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0o644))

	client := NewMockS3Client()
	store := NewS3FileStoreWithClient(client, "deeds-bucket", nil)
	ctx := context.Background()

	_, paths, err := store.Admit(ctx, "BATCH-2", []string{src})
	require.NoError(t, err)

	require.NoError(t, store.Route(ctx, paths[0], pipeline.OutcomeFailed))

	failed, err := store.CollectFailed(ctx, "BATCH-2")
	require.NoError(t, err)
	assert.Equal(t, []string{"failed/BATCH-2__bad.pdf"}, failed)

	all, err := store.CollectFailed(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"failed/BATCH-2__bad.pdf"}, all)
}

func TestS3FileStore_AdmitSuffixesCollidingStems(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	srcA := filepath.Join(dirA, "deed.pdf")
	srcB := filepath.Join(dirB, "deed.pdf")
	require.NoError(t, os.WriteFile(srcA, []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(srcB, []byte("b"), 0o644))

	client := NewMockS3Client()
	store := NewS3FileStoreWithClient(client, "deeds-bucket", nil)

	ids, _, err := store.Admit(context.Background(), "BATCH-3", []string{srcA, srcB})
	require.NoError(t, err)
	assert.Equal(t, []string{"deed", "deed_1"}, ids)
}
