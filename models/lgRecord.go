package models

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/utils"
)

// LgRecord is the authoritative letter-of-guarantee entity. lg_number is the
// natural key, stored upper-cased and unique per tenant.
type LgRecord struct {
	ID                 int             `gorm:"primary_key" json:"id"`
	BusinessId         string          `gorm:"uniqueIndex:idx_lg_number;not null" json:"business_id"`
	LgNumber           string          `gorm:"uniqueIndex:idx_lg_number;size:100;not null" json:"lg_number" binding:"required"`
	LgType             LgType          `gorm:"size:50;not null" json:"lg_type" binding:"required"`
	Status             LgStatus        `gorm:"size:20;not null;default:'Active'" json:"status"`
	Amount             decimal.Decimal `gorm:"type:decimal(20,4);not null" json:"amount"`
	CurrencyId         int             `gorm:"index;not null" json:"currency_id" binding:"required"`
	IssuingBankId      int             `gorm:"index;not null" json:"issuing_bank_id" binding:"required"`
	AdvisingBankId     int             `gorm:"index" json:"advising_bank_id"`
	CategoryId         int             `gorm:"index" json:"category_id"`
	IssueDate          *time.Time      `json:"issue_date"`
	ExpiryDate         *time.Time      `json:"expiry_date"`
	LgPeriodMonths     int             `json:"lg_period_months"`
	BeneficiaryName    string          `gorm:"size:255" json:"beneficiary_name"`
	BeneficiaryAddress string          `gorm:"type:text" json:"beneficiary_address"`
	ApplicantName      string          `gorm:"size:255" json:"applicant_name"`
	ApplicantAddress   string          `gorm:"type:text" json:"applicant_address"`
	GuaranteeRule      GuaranteeRule   `gorm:"size:50" json:"guarantee_rule"`
	OtherRuleText      string          `gorm:"type:text" json:"other_rule_text"`
	OperationalStatus  string          `gorm:"size:100" json:"operational_status"`
	OwnerName          string          `gorm:"size:100" json:"owner_name"`
	OwnerPhone         string          `gorm:"size:50" json:"owner_phone"`
	ManagerEmail       string          `gorm:"size:255" json:"manager_email"`
	IsValid            *bool           `gorm:"not null;default:true" json:"is_valid"`
	CreatedAt          time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewLgRecord struct {
	LgNumber           string          `json:"lg_number" binding:"required"`
	LgType             LgType          `json:"lg_type" binding:"required"`
	Status             LgStatus        `json:"status"`
	Amount             decimal.Decimal `json:"amount"`
	CurrencyId         int             `json:"currency_id" binding:"required"`
	IssuingBankId      int             `json:"issuing_bank_id" binding:"required"`
	AdvisingBankId     int             `json:"advising_bank_id"`
	CategoryId         int             `json:"category_id"`
	IssueDate          *time.Time      `json:"issue_date"`
	ExpiryDate         *time.Time      `json:"expiry_date"`
	LgPeriodMonths     int             `json:"lg_period_months"`
	BeneficiaryName    string          `json:"beneficiary_name"`
	BeneficiaryAddress string          `json:"beneficiary_address"`
	ApplicantName      string          `json:"applicant_name"`
	ApplicantAddress   string          `json:"applicant_address"`
	GuaranteeRule      GuaranteeRule   `json:"guarantee_rule"`
	OtherRuleText      string          `json:"other_rule_text"`
	OperationalStatus  string          `json:"operational_status"`
	OwnerName          string          `json:"owner_name"`
	OwnerPhone         string          `json:"owner_phone"`
	ManagerEmail       string          `json:"manager_email"`
}

// LgNumberExists checks the natural key against committed records.
func LgNumberExists(tx *gorm.DB, businessId string, lgNumber string) (bool, error) {
	var count int64
	err := tx.Model(&LgRecord{}).
		Where("business_id = ? AND lg_number = ?", businessId, strings.ToUpper(strings.TrimSpace(lgNumber))).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// CreateLgRecord creates the production entity inside the given transaction.
// Pass tx = nil to run against the shared handle.
func CreateLgRecord(ctx context.Context, tx *gorm.DB, input *NewLgRecord) (*LgRecord, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if tx == nil {
		tx = config.GetDB().WithContext(ctx)
	}

	lgNumber := strings.ToUpper(strings.TrimSpace(input.LgNumber))
	if lgNumber == "" {
		return nil, errors.New("lg number is required")
	}
	exists, err := LgNumberExists(tx, businessId, lgNumber)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("lg record %s already exists", lgNumber)
	}

	record := LgRecord{
		BusinessId:         businessId,
		LgNumber:           lgNumber,
		LgType:             input.LgType,
		Status:             input.Status,
		Amount:             input.Amount,
		CurrencyId:         input.CurrencyId,
		IssuingBankId:      input.IssuingBankId,
		AdvisingBankId:     input.AdvisingBankId,
		CategoryId:         input.CategoryId,
		IssueDate:          input.IssueDate,
		ExpiryDate:         input.ExpiryDate,
		LgPeriodMonths:     clampLgPeriodMonths(input.LgPeriodMonths),
		BeneficiaryName:    input.BeneficiaryName,
		BeneficiaryAddress: input.BeneficiaryAddress,
		ApplicantName:      input.ApplicantName,
		ApplicantAddress:   input.ApplicantAddress,
		GuaranteeRule:      input.GuaranteeRule,
		OtherRuleText:      input.OtherRuleText,
		OperationalStatus:  input.OperationalStatus,
		OwnerName:          input.OwnerName,
		OwnerPhone:         input.OwnerPhone,
		ManagerEmail:       input.ManagerEmail,
		IsValid:            utils.NewTrue(),
	}
	if record.Status == "" {
		record.Status = LgStatusActive
	}
	record.applyExpiryRules(time.Now())

	if err := tx.Create(&record).Error; err != nil {
		return nil, err
	}
	return &record, nil
}

// AmendLgRecord is the shared amendment primitive: it applies a field-to-value
// change set to a record, captures the before/after pair per field, and
// appends the next change log entry. Both the migration replayer and live
// amendments go through here so history stays uniform.
//
// updates is keyed by struct field name (e.g. "Amount", "ExpiryDate").
func AmendLgRecord(ctx context.Context, tx *gorm.DB, recordId int, updates map[string]interface{}, stagingRecordId *int, description string) (*LgRecord, error) {

	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	if tx == nil {
		tx = config.GetDB().WithContext(ctx)
	}

	var record LgRecord
	if err := tx.Where("business_id = ?", businessId).First(&record, recordId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.ErrorRecordNotFound
		}
		return nil, err
	}

	if len(updates) == 0 {
		return &record, nil
	}

	if v, ok := updates["LgNumber"]; ok {
		if s, ok := v.(string); ok {
			updates["LgNumber"] = strings.ToUpper(strings.TrimSpace(s))
		}
	}
	if v, ok := updates["LgPeriodMonths"]; ok {
		if n, ok := v.(int); ok {
			updates["LgPeriodMonths"] = clampLgPeriodMonths(n)
		}
	}

	changes := map[string]LgFieldChange{}
	rv := reflect.ValueOf(&record).Elem()
	for field, newValue := range updates {
		f := rv.FieldByName(field)
		if !f.IsValid() {
			return nil, fmt.Errorf("unknown lg record field: %s", field)
		}
		changes[field] = LgFieldChange{Old: f.Interface(), New: newValue}
	}

	if err := tx.Model(&record).Updates(updates).Error; err != nil {
		return nil, err
	}

	// reload so expiry rules see the applied values
	if err := tx.Where("business_id = ?", businessId).First(&record, recordId).Error; err != nil {
		return nil, err
	}
	if _, touched := updates["ExpiryDate"]; touched {
		record.applyExpiryRules(time.Now())
		if err := tx.Model(&record).Updates(map[string]interface{}{
			"Status":  record.Status,
			"IsValid": record.IsValid,
		}).Error; err != nil {
			return nil, err
		}
	}

	if _, err := appendChangeLog(tx, &record, changes, stagingRecordId, description); err != nil {
		return nil, err
	}
	return &record, nil
}

// ReconcileLgRecord force-sets terminal fields after replay. It bypasses
// amendment business rules and leaves no change log entry: the values come
// from the last snapshot and are authoritative.
func ReconcileLgRecord(ctx context.Context, tx *gorm.DB, recordId int, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if tx == nil {
		tx = config.GetDB().WithContext(ctx)
	}
	return tx.Model(&LgRecord{}).Where("id = ?", recordId).Updates(updates).Error
}

func (r *LgRecord) applyExpiryRules(now time.Time) {
	if r.ExpiryDate == nil {
		return
	}
	if r.ExpiryDate.Before(utils.ConvertToDate(now)) {
		r.IsValid = utils.NewFalse()
		if r.Status == LgStatusActive {
			r.Status = LgStatusExpired
		}
	} else {
		r.IsValid = utils.NewTrue()
	}
}

func clampLgPeriodMonths(months int) int {
	if months == 0 {
		return 0
	}
	if months < 3 {
		return 3
	}
	if months > 12 {
		return 12
	}
	return months
}

func GetLgRecord(ctx context.Context, id int) (*LgRecord, error) {
	return utils.FetchModel[LgRecord](ctx, id)
}

func GetLgRecordByNumber(ctx context.Context, lgNumber string) (*LgRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchModelWhere[LgRecord](ctx, "business_id = ? AND lg_number = ?",
		businessId, strings.ToUpper(strings.TrimSpace(lgNumber)))
}

func GetLgRecords(ctx context.Context) ([]*LgRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}
	return utils.FetchAllModels[LgRecord](ctx, "business_id = ?", businessId)
}
