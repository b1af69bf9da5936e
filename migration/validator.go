package migration

import (
	"context"
	"fmt"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/models"
)

// Raw rule messages. Each passes through the per-field enhancement table
// before reaching the caller, so the same rule reads differently depending on
// which field tripped it.
const (
	msgMissing        = "Missing or empty field."
	msgInvalidNumber  = "Invalid numeric value."
	msgInvalidDate    = "Invalid date format."
	msgExpiryOrder    = "Expiry date must be after issue date."
	msgUnknownRef     = "Reference could not be resolved."
	msgUnknownLg      = "No existing LG record with this number."
	msgNegativeAmount = "Amount must be greater than zero."
)

// fullRecordMandatory is the fixed mandatory list for the full-record profile.
var fullRecordMandatory = []string{
	FieldLgNumber,
	FieldLgType,
	FieldAmount,
	FieldIssueDate,
	FieldExpiryDate,
	FieldBeneficiaryName,
	FieldApplicantName,
}

// messageEnhancements rephrases raw rule violations per field.
var messageEnhancements = map[string]map[string]string{
	FieldLgNumber: {
		msgMissing: "LG number is required to identify the guarantee.",
	},
	FieldLgType: {
		msgMissing: "Guarantee type is required (e.g. Performance, Bid Bond).",
	},
	FieldAmount: {
		msgMissing:       "Guarantee amount is required.",
		msgInvalidNumber: "Guarantee amount must be a number; remove currency symbols.",
	},
	FieldCurrencyId: {
		msgUnknownRef: "Currency code did not match any configured currency.",
		msgMissing:    "Currency is required; use the 3-letter code.",
	},
	FieldIssuingBankId: {
		msgUnknownRef: "Issuing bank did not match any configured bank name, short name or former name.",
		msgMissing:    "Issuing bank is required.",
	},
	FieldAdvisingBankId: {
		msgUnknownRef: "Advising bank did not match any configured bank.",
	},
	FieldCategoryId: {
		msgUnknownRef: "No category matched and no default category is configured for this business.",
	},
	FieldIssueDate: {
		msgMissing:     "Issue date is required.",
		msgInvalidDate: "Issue date could not be parsed; use YYYY-MM-DD.",
	},
	FieldExpiryDate: {
		msgMissing:     "Expiry date is required.",
		msgInvalidDate: "Expiry date could not be parsed; use YYYY-MM-DD.",
		msgExpiryOrder: "Expiry date must fall after the issue date.",
	},
	FieldOperationalStatus: {
		msgMissing: "Operational status is required for Advance Payment guarantees.",
	},
	FieldOtherRuleText: {
		msgMissing: "Describe the governing rule when the rule is Other.",
	},
}

func enhanceMessage(field string, raw string) string {
	if byField, ok := messageEnhancements[field]; ok {
		if enhanced, ok := byField[raw]; ok {
			return enhanced
		}
	}
	return raw
}

// ValidateRecord applies the profile selected by the record kind and returns
// a field-to-message map, empty when the record is valid. It reads the
// database for referential checks but never writes anything.
func ValidateRecord(ctx context.Context, businessId string, kind models.StagingRecordKind, payload map[string]interface{}) (map[string]string, error) {
	if kind == models.RecordKindInstruction {
		return validateInstruction(ctx, businessId, payload)
	}
	return validateFullRecord(ctx, businessId, payload)
}

func validateFullRecord(ctx context.Context, businessId string, payload map[string]interface{}) (map[string]string, error) {
	errs := map[string]string{}

	for _, field := range fullRecordMandatory {
		if payloadString(payload, field) == "" {
			errs[field] = enhanceMessage(field, msgMissing)
		}
	}

	if s := payloadString(payload, FieldAmount); s != "" {
		amount, ok := payloadDecimal(payload, FieldAmount)
		if !ok {
			errs[FieldAmount] = enhanceMessage(FieldAmount, msgInvalidNumber)
		} else if !amount.IsPositive() {
			errs[FieldAmount] = enhanceMessage(FieldAmount, msgNegativeAmount)
		}
	}

	issue, issueOk := payloadDate(payload, FieldIssueDate)
	if payloadString(payload, FieldIssueDate) != "" && !issueOk {
		errs[FieldIssueDate] = enhanceMessage(FieldIssueDate, msgInvalidDate)
	}
	expiry, expiryOk := payloadDate(payload, FieldExpiryDate)
	if payloadString(payload, FieldExpiryDate) != "" && !expiryOk {
		errs[FieldExpiryDate] = enhanceMessage(FieldExpiryDate, msgInvalidDate)
	}
	if issueOk && expiryOk && !expiry.After(issue) {
		errs[FieldExpiryDate] = enhanceMessage(FieldExpiryDate, msgExpiryOrder)
	}

	// conditional rules
	if models.LgType(payloadString(payload, FieldLgType)) == models.LgTypeAdvancePayment &&
		payloadString(payload, FieldOperationalStatus) == "" {
		errs[FieldOperationalStatus] = enhanceMessage(FieldOperationalStatus, msgMissing)
	}
	if models.GuaranteeRule(payloadString(payload, FieldGuaranteeRule)) == models.GuaranteeRuleOther &&
		payloadString(payload, FieldOtherRuleText) == "" {
		errs[FieldOtherRuleText] = enhanceMessage(FieldOtherRuleText, msgMissing)
	}

	// mandatory references resolve to ids
	if _, ok := payloadInt(payload, FieldCurrencyId); !ok {
		if payloadString(payload, FieldCurrency) == "" {
			errs[FieldCurrencyId] = enhanceMessage(FieldCurrencyId, msgMissing)
		} else {
			errs[FieldCurrencyId] = enhanceMessage(FieldCurrencyId, msgUnknownRef)
		}
	}
	if _, ok := payloadInt(payload, FieldIssuingBankId); !ok {
		if payloadString(payload, FieldIssuingBank) == "" {
			errs[FieldIssuingBankId] = enhanceMessage(FieldIssuingBankId, msgMissing)
		} else {
			errs[FieldIssuingBankId] = enhanceMessage(FieldIssuingBankId, msgUnknownRef)
		}
	}
	if _, ok := payloadInt(payload, FieldCategoryId); !ok {
		errs[FieldCategoryId] = enhanceMessage(FieldCategoryId, msgUnknownRef)
	}

	// resolved ids are re-verified: resolution success does not survive
	// concurrent reference changes
	refChecks := []struct {
		field string
		table string
		scope bool
	}{
		{FieldCurrencyId, "currencies", true},
		{FieldIssuingBankId, "banks", true},
		{FieldAdvisingBankId, "banks", true},
		{FieldCategoryId, "lg_categories", false},
	}
	for _, check := range refChecks {
		id, ok := payloadInt(payload, check.field)
		if !ok || id <= 0 {
			continue
		}
		exists, err := referenceExists(ctx, businessId, check.table, id, check.scope)
		if err != nil {
			return nil, err
		}
		if !exists {
			errs[check.field] = enhanceMessage(check.field, msgUnknownRef)
		}
	}

	return errs, nil
}

// validateInstruction only checks that the referenced guarantee already
// exists among committed records: instructions amend, they never create.
func validateInstruction(ctx context.Context, businessId string, payload map[string]interface{}) (map[string]string, error) {
	errs := map[string]string{}

	lgNumber := payloadString(payload, FieldLgNumber)
	if lgNumber == "" {
		errs[FieldLgNumber] = enhanceMessage(FieldLgNumber, msgMissing)
		return errs, nil
	}

	exists, err := models.LgNumberExists(config.GetDB().WithContext(ctx), businessId, lgNumber)
	if err != nil {
		return nil, err
	}
	if !exists {
		errs[FieldLgNumber] = enhanceMessage(FieldLgNumber, msgUnknownLg)
	}
	return errs, nil
}

func referenceExists(ctx context.Context, businessId string, table string, id int, tenantScoped bool) (bool, error) {
	db := config.GetDB()
	var count int64
	dbCtx := db.WithContext(ctx).Table(table).Where("id = ?", id)
	if tenantScoped {
		dbCtx = dbCtx.Where("business_id = ?", businessId)
	} else {
		// categories may be universal (empty business_id)
		dbCtx = dbCtx.Where("business_id IN ?", []string{businessId, ""})
	}
	if err := dbCtx.Count(&count).Error; err != nil {
		return false, fmt.Errorf("reference check failed for %s: %w", table, err)
	}
	return count > 0, nil
}
