// Package repository holds the persistence backends the pipeline can be
// wired against. PostgresRepository is the primary one, built directly on
// pgx rather than an ORM so UpsertDocument can run its delete-then-insert
// of child rows inside a single explicit transaction.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/kaveri/deedscan/db"
	"github.com/kaveri/deedscan/pipeline"
)

// PostgresRepository implements pipeline.Repository against a Postgres
// database reached through db.PostgresDB's pgxpool wrapper.
type PostgresRepository struct {
	db *db.PostgresDB
}

// NewPostgresRepository constructs a PostgresRepository over an already
// connected PostgresDB.
func NewPostgresRepository(pg *db.PostgresDB) *PostgresRepository {
	return &PostgresRepository{db: pg}
}

// UpsertBatch inserts or updates a batch row by batch_id.
func (r *PostgresRepository) UpsertBatch(ctx context.Context, b pipeline.Batch) error {
	return r.db.Exec(ctx, `
		INSERT INTO batches (batch_id, batch_name, created_at, processing_started_at, finished_at, status, total, succeeded, failed, cancelled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (batch_id) DO UPDATE
		SET batch_name = EXCLUDED.batch_name,
		    processing_started_at = EXCLUDED.processing_started_at,
		    finished_at = EXCLUDED.finished_at,
		    status = EXCLUDED.status,
		    total = EXCLUDED.total,
		    succeeded = EXCLUDED.succeeded,
		    failed = EXCLUDED.failed,
		    cancelled = EXCLUDED.cancelled
	`, b.BatchID, b.BatchName, b.CreatedAt, b.ProcessingStartedAt, b.FinishedAt, b.Status, b.Total, b.Succeeded, b.Failed, b.Cancelled)
}

// UpdateBatchStatus flips a batch's status and timestamps without touching
// its counts.
func (r *PostgresRepository) UpdateBatchStatus(ctx context.Context, batchID string, status pipeline.BatchStatus, processingStartedAt, finishedAt *time.Time) error {
	return r.db.Exec(ctx, `
		UPDATE batches
		SET status = $2, processing_started_at = COALESCE($3, processing_started_at), finished_at = $4
		WHERE batch_id = $1
	`, batchID, status, processingStartedAt, finishedAt)
}

// UpsertDocument persists an ExtractedDocument and its property/party rows.
// Children are deleted and reinserted inside one transaction so a retried
// document (same document_id within the same batch) is idempotent:
// last writer wins.
func (r *PostgresRepository) UpsertDocument(ctx context.Context, doc pipeline.ExtractedDocument) error {
	tx, err := r.db.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning document transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO documents (document_id, batch_id, transaction_date, registration_office)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (document_id) DO UPDATE
		SET batch_id = EXCLUDED.batch_id,
		    transaction_date = EXCLUDED.transaction_date,
		    registration_office = EXCLUDED.registration_office
	`, doc.DocumentID, doc.BatchID, doc.TransactionDate, doc.RegistrationOffice); err != nil {
		return fmt.Errorf("upserting document %s: %w", doc.DocumentID, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO properties (document_id, survey_number, village, taluk, district, area_value, area_unit, consideration_value, market_value, stamp_duty, registration_fee, total_fee)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (document_id) DO UPDATE
		SET survey_number = EXCLUDED.survey_number,
		    village = EXCLUDED.village,
		    taluk = EXCLUDED.taluk,
		    district = EXCLUDED.district,
		    area_value = EXCLUDED.area_value,
		    area_unit = EXCLUDED.area_unit,
		    consideration_value = EXCLUDED.consideration_value,
		    market_value = EXCLUDED.market_value,
		    stamp_duty = EXCLUDED.stamp_duty,
		    registration_fee = EXCLUDED.registration_fee,
		    total_fee = EXCLUDED.total_fee
	`, doc.DocumentID, doc.Property.SurveyNumber, doc.Property.Village, doc.Property.Taluk, doc.Property.District,
		doc.Property.AreaValue, doc.Property.AreaUnit, doc.Property.ConsiderationValue, doc.Property.MarketValue,
		doc.Property.StampDuty, doc.Property.RegistrationFee, doc.Property.TotalFee); err != nil {
		return fmt.Errorf("upserting property for %s: %w", doc.DocumentID, err)
	}

	if err := replaceParties(ctx, tx, "buyers", doc.DocumentID, doc.Buyers); err != nil {
		return err
	}
	if err := replaceParties(ctx, tx, "sellers", doc.DocumentID, doc.Sellers); err != nil {
		return err
	}
	if err := replaceParties(ctx, tx, "confirming_parties", doc.DocumentID, doc.ConfirmingParties); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// replaceParties deletes all rows for documentID in table and reinserts
// parties. table is always one of a closed, code-controlled set of
// literals, never user input.
func replaceParties(ctx context.Context, tx pgx.Tx, table, documentID string, parties []pipeline.Party) error {
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, table), documentID); err != nil {
		return fmt.Errorf("clearing %s for %s: %w", table, documentID, err)
	}

	for _, p := range parties {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`
			INSERT INTO %s (document_id, name, father_name, date_of_birth, aadhaar, pan, property_share)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`, table), documentID, p.Name, p.FatherName, p.DateOfBirth, p.Aadhaar, p.PAN, p.PropertyShare); err != nil {
			return fmt.Errorf("inserting %s row for %s: %w", table, documentID, err)
		}
	}
	return nil
}

// RecordFailure upserts a terminal failure row for a document, keyed by
// document_id so a retried attempt overwrites the prior diagnostic.
func (r *PostgresRepository) RecordFailure(ctx context.Context, documentID, batchID string, kind pipeline.ErrorKind, diagnostic string) error {
	return r.db.Exec(ctx, `
		INSERT INTO document_failures (document_id, batch_id, kind, diagnostic, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (document_id) DO UPDATE
		SET batch_id = EXCLUDED.batch_id,
		    kind = EXCLUDED.kind,
		    diagnostic = EXCLUDED.diagnostic,
		    recorded_at = EXCLUDED.recorded_at
	`, documentID, batchID, kind, diagnostic, time.Now())
}

// GetFailedByBatch returns every recorded failure, grouped by batch id.
func (r *PostgresRepository) GetFailedByBatch(ctx context.Context) (map[string][]string, error) {
	rows, err := r.db.Query(ctx, `SELECT batch_id, document_id FROM document_failures ORDER BY batch_id, document_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var batchID, documentID string
		if err := rows.Scan(&batchID, &documentID); err != nil {
			return nil, err
		}
		out[batchID] = append(out[batchID], documentID)
	}
	return out, rows.Err()
}

// GetBatch returns the persisted row for batchID.
func (r *PostgresRepository) GetBatch(ctx context.Context, batchID string) (pipeline.Batch, error) {
	row := r.db.QueryRow(ctx, `
		SELECT batch_id, batch_name, created_at, processing_started_at, finished_at, status, total, succeeded, failed, cancelled
		FROM batches WHERE batch_id = $1
	`, batchID)

	var b pipeline.Batch
	var status string
	if err := row.Scan(&b.BatchID, &b.BatchName, &b.CreatedAt, &b.ProcessingStartedAt, &b.FinishedAt, &status,
		&b.Total, &b.Succeeded, &b.Failed, &b.Cancelled); err != nil {
		return pipeline.Batch{}, fmt.Errorf("loading batch %s: %w", batchID, err)
	}
	b.Status = pipeline.BatchStatus(status)
	return b, nil
}

var _ pipeline.Repository = (*PostgresRepository)(nil)
