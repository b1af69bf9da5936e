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

// LgChangeLog records one replayed or live amendment of an LgRecord. The
// change log is the record's sole amendment history after migration, so
// (lg_record_id, change_index) must stay unique and gap-free per record.
type LgChangeLog struct {
	ID              int       `gorm:"primary_key" json:"id"`
	BusinessId      string    `gorm:"index;not null" json:"business_id"`
	LgRecordId      int       `gorm:"uniqueIndex:idx_lg_change;not null" json:"lg_record_id"`
	StagingRecordId *int      `gorm:"index" json:"staging_record_id"`
	ChangeIndex     int       `gorm:"uniqueIndex:idx_lg_change;not null" json:"change_index"`
	Changes         string    `gorm:"type:text;not null" json:"changes"`
	Description     string    `gorm:"type:text" json:"description"`
	UserId          int       `gorm:"index" json:"user_id"`
	UserName        string    `gorm:"size:100" json:"user_name"`
	AppliedAt       time.Time `gorm:"autoCreateTime" json:"applied_at"`
}

// LgFieldChange is one field's before/after pair inside a change log entry.
type LgFieldChange struct {
	Old interface{} `json:"old"`
	New interface{} `json:"new"`
}

func appendChangeLog(tx *gorm.DB, record *LgRecord, changes map[string]LgFieldChange, stagingRecordId *int, description string) (*LgChangeLog, error) {

	changesJSON, err := json.Marshal(changes)
	if err != nil {
		return nil, err
	}

	ctx := tx.Statement.Context
	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)

	var maxIndex int
	if err := tx.Model(&LgChangeLog{}).
		Where("lg_record_id = ?", record.ID).
		Select("COALESCE(MAX(change_index), 0)").Scan(&maxIndex).Error; err != nil {
		return nil, err
	}

	entry := LgChangeLog{
		BusinessId:      record.BusinessId,
		LgRecordId:      record.ID,
		StagingRecordId: stagingRecordId,
		ChangeIndex:     maxIndex + 1,
		Changes:         string(changesJSON),
		Description:     description,
		UserId:          userId,
		UserName:        userName,
	}
	if err := tx.Create(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

// GetLgChangeLogs returns a record's amendment history in replay order.
func GetLgChangeLogs(ctx context.Context, lgRecordId int) ([]*LgChangeLog, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	db := config.GetDB()
	var results []*LgChangeLog
	err := db.WithContext(ctx).
		Where("business_id = ? AND lg_record_id = ?", businessId, lgRecordId).
		Order("change_index ASC").Find(&results).Error
	if err != nil {
		return nil, err
	}
	return results, nil
}
