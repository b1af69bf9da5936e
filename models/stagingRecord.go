package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/utils"
)

// StagingRecord holds one ingested snapshot of an LG, exactly as resolved
// from the upload. The natural key lives inside the payload; grouping by it
// happens at import time, not via a stored index.
type StagingRecord struct {
	ID               int                 `gorm:"primary_key" json:"id"`
	BusinessId       string              `gorm:"index;not null" json:"business_id"`
	Payload          string              `gorm:"type:json;not null" json:"payload"`
	RecordKind       StagingRecordKind   `gorm:"size:20;not null;default:'FullRecord'" json:"record_kind"`
	Status           StagingRecordStatus `gorm:"index;size:20;not null;default:'Pending'" json:"status"`
	ValidationErrors string              `gorm:"type:text" json:"validation_errors"`
	HistorySequence  *int                `json:"history_sequence"`
	HistoryTimestamp *time.Time          `json:"history_timestamp"`
	LgRecordId       *int                `gorm:"index" json:"lg_record_id"`
	BatchId          *int                `gorm:"index" json:"batch_id"`
	SourceFile       string              `gorm:"size:255" json:"source_file"`
	ContentHash      string              `gorm:"index;size:64" json:"content_hash"`
	CreatedAt        time.Time           `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time           `gorm:"autoUpdateTime" json:"updated_at"`
}

func (s *StagingRecord) PayloadMap() (map[string]interface{}, error) {
	payload := map[string]interface{}{}
	if s.Payload == "" {
		return payload, nil
	}
	if err := json.Unmarshal([]byte(s.Payload), &payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (s *StagingRecord) SetPayloadMap(payload map[string]interface{}) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	s.Payload = string(b)
	return nil
}

func (s *StagingRecord) ValidationErrorMap() map[string]string {
	out := map[string]string{}
	if s.ValidationErrors == "" {
		return out
	}
	if err := json.Unmarshal([]byte(s.ValidationErrors), &out); err != nil {
		return map[string]string{}
	}
	return out
}

func (s *StagingRecord) SetValidationErrors(errs map[string]string) {
	if len(errs) == 0 {
		s.ValidationErrors = ""
		return
	}
	b, err := json.Marshal(errs)
	if err != nil {
		return
	}
	s.ValidationErrors = string(b)
}

func CreateStagingRecord(ctx context.Context, record *StagingRecord) error {
	db := config.GetDB()
	return db.WithContext(ctx).Create(record).Error
}

func SaveStagingRecord(ctx context.Context, record *StagingRecord) error {
	db := config.GetDB()
	return db.WithContext(ctx).Save(record).Error
}

func GetStagingRecord(ctx context.Context, id int) (*StagingRecord, error) {
	return utils.FetchModel[StagingRecord](ctx, id)
}

func GetStagingRecords(ctx context.Context, status *StagingRecordStatus) ([]*StagingRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*StagingRecord
	dbCtx := db.WithContext(ctx).Where("business_id = ?", businessId)
	if status != nil && *status != "" {
		dbCtx = dbCtx.Where("status = ?", *status)
	}
	if err := dbCtx.Order("id ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// FindSupersedingStagingRecord finds the most recent staging record for the
// same tenant and natural key whose status is in the given set. The natural
// key is read from the JSON payload at query time.
func FindSupersedingStagingRecord(ctx context.Context, businessId string, lgNumber string, statuses []StagingRecordStatus, excludeId int) (*StagingRecord, error) {
	db := config.GetDB()
	var record StagingRecord
	dbCtx := db.WithContext(ctx).
		Where("business_id = ?", businessId).
		Where("UPPER(JSON_UNQUOTE(JSON_EXTRACT(payload, '$.lg_number'))) = UPPER(?)", lgNumber).
		Where("status IN ?", statuses)
	if excludeId > 0 {
		dbCtx = dbCtx.Where("id <> ?", excludeId)
	}
	err := dbCtx.Order("id DESC").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// FindStagingByContentHash returns the most recent staging row ingested from
// the same file content, or ErrorRecordNotFound. Imported rows keep their
// hash, so a file stays recognized after its batch committed.
func FindStagingByContentHash(ctx context.Context, contentHash string) (*StagingRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var record StagingRecord
	err := db.WithContext(ctx).
		Where("business_id = ? AND content_hash = ?", businessId, contentHash).
		Order("id DESC").First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}
	return &record, nil
}

// DeleteStagingRecords removes not-yet-imported staging rows. Ids outside the
// caller's tenant are reported as not found, never touched. A set containing
// an imported row is rejected whole before anything is deleted.
func DeleteStagingRecords(ctx context.Context, ids []int) (int, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return 0, errors.New("business id is required")
	}
	if len(ids) == 0 {
		return 0, errors.New("no staging record ids given")
	}

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&StagingRecord{}).
		Where("business_id = ? AND id IN ?", businessId, ids).
		Count(&count).Error; err != nil {
		return 0, err
	}
	if int(count) != len(ids) {
		return 0, utils.ErrorRecordNotFound
	}

	var imported int64
	if err := db.WithContext(ctx).Model(&StagingRecord{}).
		Where("business_id = ? AND id IN ? AND status = ?", businessId, ids, StagingStatusImported).
		Count(&imported).Error; err != nil {
		return 0, err
	}
	if imported > 0 {
		return 0, errors.New("imported staging records cannot be deleted")
	}

	result := db.WithContext(ctx).
		Where("business_id = ? AND id IN ?", businessId, ids).
		Delete(&StagingRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	return int(result.RowsAffected), nil
}

// MarkStagingImported stamps a group of staging rows after a successful replay.
func MarkStagingImported(tx *gorm.DB, ids []int, lgRecordId int, batchId int) error {
	if len(ids) == 0 {
		return nil
	}
	return tx.Model(&StagingRecord{}).Where("id IN ?", ids).Updates(map[string]interface{}{
		"Status":     StagingStatusImported,
		"LgRecordId": lgRecordId,
		"BatchId":    batchId,
	}).Error
}

// MarkStagingError stamps a group of staging rows with a captured failure
// reason. Runs against the given handle so it can be called after an inner
// rollback using the outer transaction.
func MarkStagingError(tx *gorm.DB, ids []int, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	errJSON, err := json.Marshal(map[string]string{"import": reason})
	if err != nil {
		return err
	}
	return tx.Model(&StagingRecord{}).Where("id IN ?", ids).Updates(map[string]interface{}{
		"Status":           StagingStatusError,
		"ValidationErrors": string(errJSON),
	}).Error
}
