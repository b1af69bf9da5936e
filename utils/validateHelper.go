package utils

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/mmdatafocus/lg_backend/config"
)

// ValidateResourceId checks that a referenced row exists inside the caller's
// tenant scope before it is linked from another record.
func ValidateResourceId[T any](ctx context.Context, id int) error {
	var model T
	db := config.GetDB()
	err := db.WithContext(ctx).Select("id").First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("%w: %T id %d", ErrorRecordNotFound, model, id)
		}
		return err
	}
	return nil
}

// ValidateUnique fails when a row already matches the condition. Pass
// excludeId > 0 to skip the row being updated.
func ValidateUnique[T any](ctx context.Context, excludeId int, query string, args ...interface{}) error {
	var count int64
	var model T
	db := config.GetDB()
	tx := db.WithContext(ctx).Model(&model).Where(query, args...)
	if excludeId > 0 {
		tx = tx.Where("id <> ?", excludeId)
	}
	if err := tx.Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return fmt.Errorf("duplicate %T found", model)
	}
	return nil
}

// ResourceCountWhere counts rows matching the condition inside tenant scope.
func ResourceCountWhere[T any](ctx context.Context, query string, args ...interface{}) (int64, error) {
	var count int64
	var model T
	db := config.GetDB()
	err := db.WithContext(ctx).Model(&model).Where(query, args...).Count(&count).Error
	return count, err
}
