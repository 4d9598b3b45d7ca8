//go:build integration

package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/kaveri/deedscan/db"
	"github.com/kaveri/deedscan/pipeline"
)

func setupPostgresContainer(t *testing.T) (*db.PostgresDB, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "deedscan",
			"POSTGRES_PASSWORD": "deedscan",
			"POSTGRES_DB":       "deedscan",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	connString := fmt.Sprintf("postgresql://deedscan:deedscan@%s:%s/deedscan?sslmode=disable", host, port.Port())

	pg, err := db.NewPostgresDB(connString)
	require.NoError(t, err)

	schema, err := os.ReadFile(filepath.Join("schema.sql"))
	require.NoError(t, err)
	require.NoError(t, pg.Exec(ctx, string(schema)))

	cleanup := func() {
		pg.Close()
		_ = container.Terminate(ctx)
	}
	return pg, cleanup
}

func TestPostgresRepository_BatchLifecycle(t *testing.T) {
	pg, cleanup := setupPostgresContainer(t)
	defer cleanup()
	repo := NewPostgresRepository(pg)
	ctx := context.Background()

	b := pipeline.Batch{BatchID: "BATCH-001", BatchName: "deed.pdf", CreatedAt: time.Now(), Status: pipeline.BatchPending, Total: 1}
	require.NoError(t, repo.UpsertBatch(ctx, b))

	now := time.Now()
	require.NoError(t, repo.UpdateBatchStatus(ctx, "BATCH-001", pipeline.BatchRunning, &now, nil))

	finished := now.Add(time.Minute)
	require.NoError(t, repo.UpdateBatchStatus(ctx, "BATCH-001", pipeline.BatchCompleted, &now, &finished))
}

func TestPostgresRepository_UpsertDocumentIsIdempotent(t *testing.T) {
	pg, cleanup := setupPostgresContainer(t)
	defer cleanup()
	repo := NewPostgresRepository(pg)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBatch(ctx, pipeline.Batch{BatchID: "BATCH-002", CreatedAt: time.Now(), Status: pipeline.BatchPending, Total: 1}))

	aadhaar := "123456789012"
	doc := pipeline.ExtractedDocument{
		DocumentID:         "deed",
		BatchID:            "BATCH-002",
		TransactionDate:    time.Date(2023, 4, 12, 0, 0, 0, 0, time.UTC),
		RegistrationOffice: "Sub-Registrar, Bengaluru Rural",
		Property:           pipeline.Property{SurveyNumber: "45/2"},
		Buyers:             []pipeline.Party{{Name: "Ramesh Kumar", Aadhaar: &aadhaar}},
	}
	require.NoError(t, repo.UpsertDocument(ctx, doc))

	// Second write replaces the buyer rows instead of accumulating them.
	doc.Buyers = []pipeline.Party{{Name: "Ramesh Kumar"}, {Name: "Suma Kumar"}}
	require.NoError(t, repo.UpsertDocument(ctx, doc))

	var buyerCount int
	require.NoError(t, pg.QueryRow(ctx, `SELECT COUNT(*) FROM buyers WHERE document_id = $1`, "deed").Scan(&buyerCount))
	assert.Equal(t, 2, buyerCount)
}

func TestPostgresRepository_RecordFailureAndGetFailedByBatch(t *testing.T) {
	pg, cleanup := setupPostgresContainer(t)
	defer cleanup()
	repo := NewPostgresRepository(pg)
	ctx := context.Background()

	require.NoError(t, repo.UpsertBatch(ctx, pipeline.Batch{BatchID: "BATCH-003", CreatedAt: time.Now(), Status: pipeline.BatchPending, Total: 1}))
	require.NoError(t, repo.RecordFailure(ctx, "bad-deed", "BATCH-003", pipeline.ErrKindOCR, "page 1 unreadable"))

	byBatch, err := repo.GetFailedByBatch(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bad-deed"}, byBatch["BATCH-003"])
}

var _ pipeline.Repository = (*PostgresRepository)(nil)
