package migration

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/models"
	"github.com/mmdatafocus/lg_backend/utils"
)

// resolverStrategy is one lookup attempt in an ordered chain. The chain
// short-circuits on the first hit; a miss falls through to the next strategy.
type resolverStrategy interface {
	resolve(ctx context.Context, businessId string, value string) (int, bool, error)
}

type bankNameStrategy struct{}

func (bankNameStrategy) resolve(ctx context.Context, businessId string, value string) (int, bool, error) {
	var bank models.Bank
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND LOWER(name) = LOWER(?)", businessId, value).
		First(&bank).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return bank.ID, true, nil
}

type bankShortNameStrategy struct{}

func (bankShortNameStrategy) resolve(ctx context.Context, businessId string, value string) (int, bool, error) {
	var bank models.Bank
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND LOWER(short_name) = LOWER(?)", businessId, value).
		First(&bank).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return bank.ID, true, nil
}

// bankFormerNameStrategy matches against the JSON array of recorded former
// names, so renamed banks still resolve from stale exports.
type bankFormerNameStrategy struct{}

func (bankFormerNameStrategy) resolve(ctx context.Context, businessId string, value string) (int, bool, error) {
	var bank models.Bank
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND JSON_SEARCH(LOWER(former_names), 'one', LOWER(?)) IS NOT NULL", businessId, value).
		First(&bank).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return bank.ID, true, nil
}

type currencyCodeStrategy struct{}

func (currencyCodeStrategy) resolve(ctx context.Context, businessId string, value string) (int, bool, error) {
	var currency models.Currency
	err := config.GetDB().WithContext(ctx).
		Where("business_id = ? AND LOWER(symbol) = LOWER(?)", businessId, value).
		First(&currency).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	return currency.ID, true, nil
}

var bankStrategies = []resolverStrategy{
	bankNameStrategy{},
	bankShortNameStrategy{},
	bankFormerNameStrategy{},
}

var currencyStrategies = []resolverStrategy{
	currencyCodeStrategy{},
}

func runStrategyChain(ctx context.Context, businessId string, value string, chain []resolverStrategy) (int, bool, error) {
	for _, strategy := range chain {
		id, ok, err := strategy.resolve(ctx, businessId, value)
		if err != nil {
			return 0, false, err
		}
		if ok {
			return id, true, nil
		}
	}
	return 0, false, nil
}

// ResolvePayload narrows raw reference values into internal ids, writing
// "<field>_id" keys back into the payload. Unresolvable values stay as
// submitted with a logged warning; the validator decides whether that is an
// error. It never overwrites an id the caller already supplied.
func ResolvePayload(ctx context.Context, businessId string, payload map[string]interface{}) error {
	logger := config.GetLogger()

	if err := resolveReference(ctx, businessId, payload, FieldIssuingBank, FieldIssuingBankId, bankStrategies, logger); err != nil {
		return err
	}
	if id, ok := payloadInt(payload, FieldIssuingBankId); ok && id > 0 {
		if err := fillBankContact(ctx, payload, id); err != nil {
			return err
		}
	}
	if err := resolveReference(ctx, businessId, payload, FieldAdvisingBank, FieldAdvisingBankId, bankStrategies, logger); err != nil {
		return err
	}
	if err := resolveReference(ctx, businessId, payload, FieldCurrency, FieldCurrencyId, currencyStrategies, logger); err != nil {
		return err
	}
	if err := resolveCategory(ctx, businessId, payload, logger); err != nil {
		return err
	}

	derivePeriodMonths(payload)
	return nil
}

func resolveReference(ctx context.Context, businessId string, payload map[string]interface{}, rawField string, idField string, chain []resolverStrategy, logger *logrus.Logger) error {
	if id, ok := payloadInt(payload, idField); ok && id > 0 {
		return nil
	}
	// a numeric raw value is treated as an already-resolved id
	if id, ok := payloadInt(payload, rawField); ok && id > 0 {
		payload[idField] = id
		return nil
	}

	value := payloadString(payload, rawField)
	if value == "" {
		return nil
	}

	id, ok, err := runStrategyChain(ctx, businessId, value, chain)
	if err != nil {
		return err
	}
	if !ok {
		logger.WithFields(logrus.Fields{
			"field": rawField,
			"value": value,
		}).Warn("[migration.resolver] no match found; value left raw")
		return nil
	}
	payload[idField] = id
	return nil
}

// fillBankContact backfills the issuing bank's recorded address/phone into
// the payload. Only empty fields are filled; an explicitly supplied value is
// never overwritten.
func fillBankContact(ctx context.Context, payload map[string]interface{}, bankId int) error {
	var bank models.Bank
	err := config.GetDB().WithContext(ctx).First(&bank, bankId).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	if payloadString(payload, FieldIssuingBankAddress) == "" && bank.Address != "" {
		payload[FieldIssuingBankAddress] = bank.Address
	}
	if payloadString(payload, FieldIssuingBankPhone) == "" && bank.Phone != "" {
		payload[FieldIssuingBankPhone] = bank.Phone
	}
	return nil
}

// resolveCategory tries tenant code, tenant name, universal code, universal
// name, then the designated default. A missing default is a configuration
// error: the reference stays null for the validator to flag.
func resolveCategory(ctx context.Context, businessId string, payload map[string]interface{}, logger *logrus.Logger) error {
	if id, ok := payloadInt(payload, FieldCategoryId); ok && id > 0 {
		return nil
	}

	value := payloadString(payload, FieldCategory)
	if value != "" {
		category, err := models.FindCategoryByCodeOrName(ctx, businessId, value)
		if err == nil {
			payload[FieldCategoryId] = category.ID
			return nil
		}
		if !errors.Is(err, utils.ErrorRecordNotFound) {
			return err
		}
	}

	category, err := models.GetDefaultCategory(ctx, businessId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			logger.WithFields(logrus.Fields{
				"business_id": businessId,
				"value":       value,
			}).Warn("[migration.resolver] no category match and no default category configured")
			return nil
		}
		return err
	}
	payload[FieldCategoryId] = category.ID
	return nil
}

// derivePeriodMonths computes the guarantee period when both dates are
// present and the field was not supplied. Unparseable dates skip the
// computation silently.
func derivePeriodMonths(payload map[string]interface{}) {
	if _, ok := payloadInt(payload, FieldLgPeriodMonths); ok {
		return
	}
	issue, ok := payloadDate(payload, FieldIssueDate)
	if !ok {
		return
	}
	expiry, ok := payloadDate(payload, FieldExpiryDate)
	if !ok {
		return
	}
	if expiry.Before(issue) {
		return
	}
	payload[FieldLgPeriodMonths] = PeriodMonths(issue, expiry)
}

// PeriodMonths counts calendar whole months between two dates, rounds a
// partial month up, snaps to the nearest multiple of three and clamps into
// [3, 12].
func PeriodMonths(issue time.Time, expiry time.Time) int {
	months := (expiry.Year()-issue.Year())*12 + int(expiry.Month()) - int(issue.Month())
	if expiry.Day() > issue.Day() {
		months++
	}
	if months < 0 {
		months = 0
	}

	rounded := 3 * int(math.Round(float64(months)/3.0))
	if rounded < 3 {
		return 3
	}
	if rounded > 12 {
		return 12
	}
	return rounded
}
