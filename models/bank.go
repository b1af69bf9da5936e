package models

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/utils"
)

type Bank struct {
	ID          int       `gorm:"primary_key" json:"id"`
	BusinessId  string    `gorm:"index;not null" json:"business_id"`
	Name        string    `gorm:"index;size:255;not null" json:"name" binding:"required"`
	ShortName   string    `gorm:"index;size:50" json:"short_name"`
	FormerNames string    `gorm:"type:text" json:"former_names"`
	Address     string    `gorm:"type:text" json:"address"`
	Phone       string    `gorm:"size:50" json:"phone"`
	SwiftCode   string    `gorm:"size:20" json:"swift_code"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewBank struct {
	Name        string   `json:"name" binding:"required"`
	ShortName   string   `json:"short_name"`
	FormerNames []string `json:"former_names"`
	Address     string   `json:"address"`
	Phone       string   `json:"phone"`
	SwiftCode   string   `json:"swift_code"`
}

// FormerNameList decodes the stored JSON array of former names.
func (b *Bank) FormerNameList() []string {
	if b.FormerNames == "" {
		return nil
	}
	var names []string
	if err := json.Unmarshal([]byte(b.FormerNames), &names); err != nil {
		return nil
	}
	return names
}

func (input *NewBank) validate(ctx context.Context, businessId string, id int) error {
	if id > 0 {
		if err := utils.ValidateResourceId[Bank](ctx, id); err != nil {
			return err
		}
	}
	if err := utils.ValidateUnique[Bank](ctx, id, "business_id = ? AND name = ?", businessId, input.Name); err != nil {
		return errors.New("bank name already exists")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, ""); err != nil {
			return err
		}
	}
	return nil
}

func encodeFormerNames(names []string) (string, error) {
	if len(names) == 0 {
		return "", nil
	}
	b, err := json.Marshal(utils.UniqueSlice(names))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func CreateBank(ctx context.Context, input *NewBank) (*Bank, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, 0); err != nil {
		return nil, err
	}

	formerNames, err := encodeFormerNames(input.FormerNames)
	if err != nil {
		return nil, err
	}

	bank := Bank{
		BusinessId:  businessId,
		Name:        input.Name,
		ShortName:   input.ShortName,
		FormerNames: formerNames,
		Address:     input.Address,
		Phone:       input.Phone,
		SwiftCode:   input.SwiftCode,
		IsActive:    utils.NewTrue(),
	}

	// db action
	db := config.GetDB()
	err = db.WithContext(ctx).Create(&bank).Error
	if err != nil {
		return nil, err
	}
	return &bank, nil
}

func UpdateBank(ctx context.Context, id int, input *NewBank) (*Bank, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if err := input.validate(ctx, businessId, id); err != nil {
		return nil, err
	}

	bank, err := utils.FetchModel[Bank](ctx, id)
	if err != nil {
		return nil, err
	}

	// a renamed bank keeps its previous name as a former name so stale
	// migration payloads still resolve
	formerNameList := input.FormerNames
	if bank.Name != input.Name {
		formerNameList = append(formerNameList, bank.Name)
	}
	formerNames, err := encodeFormerNames(formerNameList)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Model(&bank).Updates(map[string]interface{}{
		"Name":        input.Name,
		"ShortName":   input.ShortName,
		"FormerNames": formerNames,
		"Address":     input.Address,
		"Phone":       input.Phone,
		"SwiftCode":   input.SwiftCode,
	}).Error
	if err != nil {
		return nil, err
	}

	return bank, nil
}

func DeleteBank(ctx context.Context, id int) (*Bank, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	result, err := utils.FetchModel[Bank](ctx, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	var count int64
	if err := db.WithContext(ctx).Model(&LgRecord{}).
		Where("business_id = ? AND (issuing_bank_id = ? OR advising_bank_id = ?)", businessId, id, id).
		Count(&count).Error; err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, errors.New("bank has been used in lg record")
	}

	err = db.WithContext(ctx).Delete(&result).Error
	if err != nil {
		return nil, err
	}
	return result, nil
}

func GetBank(ctx context.Context, id int) (*Bank, error) {
	return utils.FetchModel[Bank](ctx, id)
}

func GetBanks(ctx context.Context) ([]*Bank, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[Bank](ctx, "business_id = ?", businessId)
}
