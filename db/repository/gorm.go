package repository

import (
	"context"
	"fmt"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/kaveri/deedscan/pipeline"
)

// batchRecord is the GORM model backing the batches table. Mirrors
// pipeline.Batch field-for-field; kept as a separate type so the pipeline
// package carries no ORM tags.
type batchRecord struct {
	BatchID             string `gorm:"column:batch_id;primaryKey"`
	BatchName           string `gorm:"column:batch_name"`
	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	FinishedAt          *time.Time
	Status              string `gorm:"column:status"`
	Total               int
	Succeeded           int
	Failed              int
	Cancelled           int
}

func (batchRecord) TableName() string { return "batches" }

type documentRecord struct {
	DocumentID         string `gorm:"column:document_id;primaryKey"`
	BatchID            string `gorm:"column:batch_id"`
	TransactionDate    time.Time
	RegistrationOffice string
}

func (documentRecord) TableName() string { return "documents" }

type propertyRecord struct {
	DocumentID         string `gorm:"column:document_id;primaryKey"`
	SurveyNumber       string
	Village            string
	Taluk              string
	District           string
	AreaValue          float64
	AreaUnit           string
	ConsiderationValue string
	MarketValue        string
	StampDuty          string
	RegistrationFee    string
	TotalFee           string
}

func (propertyRecord) TableName() string { return "properties" }

type partyRecord struct {
	ID            uint `gorm:"primaryKey"`
	DocumentID    string
	Name          string
	FatherName    string
	DateOfBirth   *time.Time
	Aadhaar       *string
	PAN           *string
	PropertyShare string
}

type documentFailureRecord struct {
	DocumentID string `gorm:"column:document_id;primaryKey"`
	BatchID    string `gorm:"column:batch_id"`
	Kind       string
	Diagnostic string
	RecordedAt time.Time
}

func (documentFailureRecord) TableName() string { return "document_failures" }

// GormRepository implements pipeline.Repository with gorm.io/gorm
// (gorm.Open(postgres.Open(...)), AutoMigrate, Model().Where().Updates()).
// Offered alongside PostgresRepository's raw pgx path for deployments that
// prefer GORM's migration and query ergonomics over direct SQL control.
type GormRepository struct {
	db *gorm.DB
}

// NewGormRepository opens a GORM connection against connString and
// auto-migrates the schema.
func NewGormRepository(connString string) (*GormRepository, error) {
	db, err := gorm.Open(postgres.Open(connString), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("opening gorm connection: %w", err)
	}

	if err := db.AutoMigrate(
		&batchRecord{}, &documentRecord{}, &propertyRecord{},
		&documentFailureRecord{},
	); err != nil {
		return nil, fmt.Errorf("auto-migrating schema: %w", err)
	}
	for _, table := range []string{"buyers", "sellers", "confirming_parties"} {
		if err := db.Table(table).AutoMigrate(&partyRecord{}); err != nil {
			return nil, fmt.Errorf("auto-migrating %s: %w", table, err)
		}
	}

	return &GormRepository{db: db}, nil
}

func (r *GormRepository) UpsertBatch(ctx context.Context, b pipeline.Batch) error {
	rec := batchRecord{
		BatchID: b.BatchID, BatchName: b.BatchName, CreatedAt: b.CreatedAt,
		ProcessingStartedAt: b.ProcessingStartedAt, FinishedAt: b.FinishedAt,
		Status: string(b.Status), Total: b.Total, Succeeded: b.Succeeded,
		Failed: b.Failed, Cancelled: b.Cancelled,
	}
	return r.db.WithContext(ctx).Save(&rec).Error
}

func (r *GormRepository) UpdateBatchStatus(ctx context.Context, batchID string, status pipeline.BatchStatus, processingStartedAt, finishedAt *time.Time) error {
	updates := map[string]interface{}{"status": string(status), "finished_at": finishedAt}
	if processingStartedAt != nil {
		updates["processing_started_at"] = processingStartedAt
	}
	return r.db.WithContext(ctx).Model(&batchRecord{}).Where("batch_id = ?", batchID).Updates(updates).Error
}

func (r *GormRepository) UpsertDocument(ctx context.Context, doc pipeline.ExtractedDocument) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		docRec := documentRecord{
			DocumentID: doc.DocumentID, BatchID: doc.BatchID,
			TransactionDate: doc.TransactionDate, RegistrationOffice: doc.RegistrationOffice,
		}
		if err := tx.Save(&docRec).Error; err != nil {
			return fmt.Errorf("saving document %s: %w", doc.DocumentID, err)
		}

		propRec := propertyRecord{
			DocumentID: doc.DocumentID, SurveyNumber: doc.Property.SurveyNumber,
			Village: doc.Property.Village, Taluk: doc.Property.Taluk, District: doc.Property.District,
			AreaValue: doc.Property.AreaValue, AreaUnit: doc.Property.AreaUnit,
			ConsiderationValue: doc.Property.ConsiderationValue, MarketValue: doc.Property.MarketValue,
			StampDuty: doc.Property.StampDuty, RegistrationFee: doc.Property.RegistrationFee, TotalFee: doc.Property.TotalFee,
		}
		if err := tx.Save(&propRec).Error; err != nil {
			return fmt.Errorf("saving property for %s: %w", doc.DocumentID, err)
		}

		if err := replacePartyTable(tx, "buyers", doc.DocumentID, doc.Buyers); err != nil {
			return err
		}
		if err := replacePartyTable(tx, "sellers", doc.DocumentID, doc.Sellers); err != nil {
			return err
		}
		return replacePartyTable(tx, "confirming_parties", doc.DocumentID, doc.ConfirmingParties)
	})
}

func replacePartyTable(tx *gorm.DB, table, documentID string, parties []pipeline.Party) error {
	if err := tx.Table(table).Where("document_id = ?", documentID).Delete(&partyRecord{}).Error; err != nil {
		return fmt.Errorf("clearing %s for %s: %w", table, documentID, err)
	}
	if len(parties) == 0 {
		return nil
	}
	records := make([]partyRecord, len(parties))
	for i, p := range parties {
		records[i] = partyRecord{
			DocumentID: documentID, Name: p.Name, FatherName: p.FatherName,
			DateOfBirth: p.DateOfBirth, Aadhaar: p.Aadhaar, PAN: p.PAN, PropertyShare: p.PropertyShare,
		}
	}
	if err := tx.Table(table).Create(&records).Error; err != nil {
		return fmt.Errorf("inserting %s rows for %s: %w", table, documentID, err)
	}
	return nil
}

func (r *GormRepository) RecordFailure(ctx context.Context, documentID, batchID string, kind pipeline.ErrorKind, diagnostic string) error {
	rec := documentFailureRecord{
		DocumentID: documentID, BatchID: batchID, Kind: string(kind),
		Diagnostic: diagnostic, RecordedAt: time.Now(),
	}
	return r.db.WithContext(ctx).Save(&rec).Error
}

func (r *GormRepository) GetFailedByBatch(ctx context.Context) (map[string][]string, error) {
	var records []documentFailureRecord
	if err := r.db.WithContext(ctx).Order("batch_id, document_id").Find(&records).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]string)
	for _, rec := range records {
		out[rec.BatchID] = append(out[rec.BatchID], rec.DocumentID)
	}
	return out, nil
}

func (r *GormRepository) GetBatch(ctx context.Context, batchID string) (pipeline.Batch, error) {
	var rec batchRecord
	if err := r.db.WithContext(ctx).Where("batch_id = ?", batchID).First(&rec).Error; err != nil {
		return pipeline.Batch{}, fmt.Errorf("loading batch %s: %w", batchID, err)
	}
	return pipeline.Batch{
		BatchID: rec.BatchID, BatchName: rec.BatchName, CreatedAt: rec.CreatedAt,
		ProcessingStartedAt: rec.ProcessingStartedAt, FinishedAt: rec.FinishedAt,
		Status: pipeline.BatchStatus(rec.Status), Total: rec.Total,
		Succeeded: rec.Succeeded, Failed: rec.Failed, Cancelled: rec.Cancelled,
	}, nil
}

var _ pipeline.Repository = (*GormRepository)(nil)
