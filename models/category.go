package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/utils"
)

// LgCategory classifies guarantee records. A row with an empty business_id is
// universal: visible to every tenant, maintained by admins only.
type LgCategory struct {
	ID         int       `gorm:"primary_key" json:"id"`
	BusinessId string    `gorm:"index" json:"business_id"`
	Code       string    `gorm:"index;size:50;not null" json:"code" binding:"required"`
	Name       string    `gorm:"index;size:255;not null" json:"name" binding:"required"`
	IsDefault  *bool     `gorm:"not null;default:false" json:"is_default"`
	IsActive   *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt  time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLgCategory struct {
	Code      string `json:"code" binding:"required"`
	Name      string `json:"name" binding:"required"`
	IsDefault bool   `json:"is_default"`
}

func CreateLgCategory(ctx context.Context, input *NewLgCategory) (*LgCategory, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateUnique[LgCategory](ctx, 0, "business_id = ? AND code = ?", businessId, input.Code); err != nil {
		return nil, errors.New("category code already exists")
	}

	category := LgCategory{
		BusinessId: businessId,
		Code:       input.Code,
		Name:       input.Name,
		IsDefault:  &input.IsDefault,
		IsActive:   utils.NewTrue(),
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IsDefault {
			// only one default per scope
			if err := tx.Model(&LgCategory{}).
				Where("business_id = ?", businessId).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Create(&category).Error
	})
	if err != nil {
		return nil, err
	}
	return &category, nil
}

func UpdateLgCategory(ctx context.Context, id int, input *NewLgCategory) (*LgCategory, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := utils.ValidateUnique[LgCategory](ctx, id, "business_id = ? AND code = ?", businessId, input.Code); err != nil {
		return nil, errors.New("category code already exists")
	}

	category, err := utils.FetchModel[LgCategory](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if input.IsDefault && (category.IsDefault == nil || !*category.IsDefault) {
			if err := tx.Model(&LgCategory{}).
				Where("business_id = ?", businessId).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}
		return tx.Model(&category).Updates(map[string]interface{}{
			"Code":      input.Code,
			"Name":      input.Name,
			"IsDefault": input.IsDefault,
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return category, nil
}

func DeleteLgCategory(ctx context.Context, id int) (*LgCategory, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	result, err := utils.FetchModel[LgCategory](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&LgRecord{}).
		Where("business_id = ? AND category_id = ?", businessId, id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("category has been used in lg record")
	}

	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

func GetLgCategory(ctx context.Context, id int) (*LgCategory, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	return utils.FetchModelWhere[LgCategory](ctx, "id = ? AND business_id IN ?", id, []string{businessId, ""})
}

// GetLgCategories returns the tenant's categories plus universal ones.
func GetLgCategories(ctx context.Context) ([]*LgCategory, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	return utils.FetchAllModels[LgCategory](ctx, "business_id IN ?", []string{businessId, ""})
}

// FindCategoryByCodeOrName resolves in priority order: tenant code, tenant
// name, universal code, universal name. Matching is case-insensitive.
func FindCategoryByCodeOrName(ctx context.Context, businessId string, value string) (*LgCategory, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	db := config.GetDB()

	lookups := []struct {
		scope  string
		column string
	}{
		{businessId, "code"},
		{businessId, "name"},
		{"", "code"},
		{"", "name"},
	}
	for _, l := range lookups {
		var category LgCategory
		err := db.WithContext(ctx).
			Where("business_id = ? AND LOWER("+l.column+") = LOWER(?)", l.scope, value).
			First(&category).Error
		if err == nil {
			return &category, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, utils.ErrorRecordNotFound
}

// GetDefaultCategory prefers the tenant's default, falling back to the
// universal default. Returns ErrorRecordNotFound when neither is configured.
func GetDefaultCategory(ctx context.Context, businessId string) (*LgCategory, error) {
	ctx = utils.SetSkipTenantScopeInContext(ctx, true)
	db := config.GetDB()

	for _, scope := range []string{businessId, ""} {
		var category LgCategory
		err := db.WithContext(ctx).
			Where("business_id = ? AND is_default = ?", scope, true).
			First(&category).Error
		if err == nil {
			return &category, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
	}
	return nil, utils.ErrorRecordNotFound
}
