package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mmdatafocus/lg_backend/utils"
)

// MigrationBatch records one bounded import run with its aggregate totals.
// content_hash makes file uploads idempotent per tenant.
type MigrationBatch struct {
	ID            int        `gorm:"primary_key" json:"id"`
	BusinessId    string     `gorm:"uniqueIndex:idx_batch_hash;not null" json:"business_id"`
	UserId        int        `gorm:"index" json:"user_id"`
	UserName      string     `gorm:"size:100" json:"user_name"`
	StartedAt     time.Time  `gorm:"not null" json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at"`
	SourceFiles   string     `gorm:"type:text" json:"source_files"`
	ContentHash   *string    `gorm:"uniqueIndex:idx_batch_hash;size:64" json:"content_hash"`
	ImportedCount int        `gorm:"not null;default:0" json:"imported_count"`
	UpdatedCount  int        `gorm:"not null;default:0" json:"updated_count"`
	FailedCount   int        `gorm:"not null;default:0" json:"failed_count"`
	SkippedCount  int        `gorm:"not null;default:0" json:"skipped_count"`
	Failures      string     `gorm:"type:text" json:"failures"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

// BatchFailure is one failed group's identifier and reason.
type BatchFailure struct {
	Identifier string `json:"identifier"`
	Reason     string `json:"reason"`
}

func (b *MigrationBatch) FailureList() []BatchFailure {
	if b.Failures == "" {
		return nil
	}
	var failures []BatchFailure
	if err := json.Unmarshal([]byte(b.Failures), &failures); err != nil {
		return nil
	}
	return failures
}

func (b *MigrationBatch) SetFailures(failures []BatchFailure) {
	if len(failures) == 0 {
		b.Failures = ""
		return
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return
	}
	b.Failures = string(data)
}

// FindBatchByContentHash returns the earlier batch that already processed the
// same file content, or ErrorRecordNotFound.
func FindBatchByContentHash(ctx context.Context, contentHash string) (*MigrationBatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModelWhere[MigrationBatch](ctx, "business_id = ? AND content_hash = ?", businessId, contentHash)
}

func CreateMigrationBatch(tx *gorm.DB, batch *MigrationBatch) error {
	return tx.Create(batch).Error
}

// FinalizeMigrationBatch stamps totals and completion time in one write.
func FinalizeMigrationBatch(tx *gorm.DB, batch *MigrationBatch) error {
	now := time.Now()
	batch.FinishedAt = &now
	return tx.Model(batch).Updates(map[string]interface{}{
		"FinishedAt":    batch.FinishedAt,
		"ImportedCount": batch.ImportedCount,
		"UpdatedCount":  batch.UpdatedCount,
		"FailedCount":   batch.FailedCount,
		"SkippedCount":  batch.SkippedCount,
		"Failures":      batch.Failures,
	}).Error
}

func GetMigrationBatch(ctx context.Context, id int) (*MigrationBatch, error) {
	return utils.FetchModel[MigrationBatch](ctx, id)
}

func GetMigrationBatches(ctx context.Context) ([]*MigrationBatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[MigrationBatch](ctx, "business_id = ?", businessId)
}
