package utils

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/mmdatafocus/lg_backend/config"
)

// FetchModel loads a single row by primary key within the caller's tenant scope.
func FetchModel[T any](ctx context.Context, id int) (*T, error) {
	var model T
	db := config.GetDB()
	err := db.WithContext(ctx).First(&model, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &model, nil
}

// FetchModelWhere loads the first row matching the given condition.
func FetchModelWhere[T any](ctx context.Context, query string, args ...interface{}) (*T, error) {
	var model T
	db := config.GetDB()
	err := db.WithContext(ctx).Where(query, args...).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrorRecordNotFound
		}
		return nil, err
	}
	return &model, nil
}

// FetchAllModels loads every row matching the condition, newest first.
func FetchAllModels[T any](ctx context.Context, query string, args ...interface{}) ([]*T, error) {
	var models []*T
	db := config.GetDB()
	tx := db.WithContext(ctx).Order("id desc")
	if query != "" {
		tx = tx.Where(query, args...)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	return models, nil
}
