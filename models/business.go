package models

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mmdatafocus/lg_backend/config"
)

type Business struct {
	ID                string    `gorm:"primary_key;size:36" json:"id"`
	Name              string    `gorm:"size:255;not null" json:"name" binding:"required"`
	Email             string    `gorm:"size:255" json:"email"`
	Phone             string    `gorm:"size:50" json:"phone"`
	Address           string    `gorm:"type:text" json:"address"`
	Timezone          string    `gorm:"size:50" json:"timezone"`
	BaseCurrencyId    int       `gorm:"index" json:"base_currency_id"`
	DefaultCategoryId int       `gorm:"index" json:"default_category_id"`
	IsActive          *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBusiness struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	Timezone string `json:"timezone"`
}

func CreateBusiness(ctx context.Context, input *NewBusiness) (*Business, error) {
	business := Business{
		ID:       uuid.NewString(),
		Name:     input.Name,
		Email:    input.Email,
		Phone:    input.Phone,
		Address:  input.Address,
		Timezone: input.Timezone,
	}
	if business.Timezone == "" {
		business.Timezone = "Asia/Yangon"
	}

	db := config.GetDB()
	err := db.WithContext(ctx).Create(&business).Error
	if err != nil {
		return nil, err
	}
	return &business, nil
}

func GetBusinessById(ctx context.Context, businessId string) (*Business, error) {
	if businessId == "" {
		return nil, errors.New("business id is required")
	}

	var business Business
	cacheKey := "Business:" + businessId
	exists, err := config.GetRedisObject(cacheKey, &business)
	if err == nil && exists {
		return &business, nil
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Where("id = ?", businessId).First(&business).Error
	if err != nil {
		return nil, err
	}
	_ = config.SetRedisObject(cacheKey, &business, time.Hour)
	return &business, nil
}
