package migration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/models"
	"github.com/mmdatafocus/lg_backend/utils"
)

// GroupResult summarizes one replayed snapshot group.
type GroupResult struct {
	LgNumber    string
	LgRecordId  int
	ChangeCount int
}

// replayGroup materializes one production record and its change history from
// an ordered snapshot group. It must run inside the caller's nested
// transaction: any error rolls the whole group back.
func replayGroup(ctx context.Context, tx *gorm.DB, group SnapshotGroup) (*GroupResult, error) {
	businessId, _ := utils.GetBusinessIdFromContext(ctx)
	logger := config.GetLogger()

	exists, err := models.LgNumberExists(tx, businessId, group.LgNumber)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("lg record %s already exists", group.LgNumber)
	}

	first := group.Snapshots[0]
	input, err := buildNewLgRecord(ctx, first.Payload)
	if err != nil {
		return nil, err
	}

	record, err := models.CreateLgRecord(ctx, tx, input)
	if err != nil {
		return nil, err
	}

	// Side-document upload is best effort: a storage failure is logged and
	// never fails the group.
	if docURL := payloadString(first.Payload, FieldDocumentUrl); docURL != "" {
		attachSideDocument(ctx, tx, logger, businessId, record.ID, docURL)
	}

	changeCount := 0
	prev := first.Payload
	for _, snapshot := range group.Snapshots[1:] {
		diff := DiffPayloads(prev, snapshot.Payload)
		updates := amendmentUpdates(diff, snapshot.Payload)
		if len(updates) > 0 {
			stagingId := snapshot.Record.ID
			description := fmt.Sprintf("Migrated amendment from staging record #%d", stagingId)
			if _, err := models.AmendLgRecord(ctx, tx, record.ID, updates, &stagingId, description); err != nil {
				return nil, err
			}
			changeCount++
		}
		// an empty diff still advances the cursor
		prev = snapshot.Payload
	}

	if err := reconcileFinalState(ctx, tx, record.ID, prev); err != nil {
		return nil, err
	}

	return &GroupResult{
		LgNumber:    group.LgNumber,
		LgRecordId:  record.ID,
		ChangeCount: changeCount,
	}, nil
}

// buildNewLgRecord maps the earliest snapshot's resolved payload onto the
// creation schema, enriched with the importing user's contact data where the
// schema demands values the snapshot lacks.
func buildNewLgRecord(ctx context.Context, payload map[string]interface{}) (*models.NewLgRecord, error) {
	input := &models.NewLgRecord{
		LgNumber:           payloadString(payload, FieldLgNumber),
		LgType:             models.LgType(payloadString(payload, FieldLgType)),
		Status:             models.LgStatus(payloadString(payload, FieldStatus)),
		BeneficiaryName:    payloadString(payload, FieldBeneficiaryName),
		BeneficiaryAddress: payloadString(payload, FieldBeneficiaryAddress),
		ApplicantName:      payloadString(payload, FieldApplicantName),
		ApplicantAddress:   payloadString(payload, FieldApplicantAddress),
		GuaranteeRule:      models.GuaranteeRule(payloadString(payload, FieldGuaranteeRule)),
		OtherRuleText:      payloadString(payload, FieldOtherRuleText),
		OperationalStatus:  payloadString(payload, FieldOperationalStatus),
		OwnerName:          payloadString(payload, FieldOwnerName),
		OwnerPhone:         payloadString(payload, FieldOwnerPhone),
		ManagerEmail:       payloadString(payload, FieldManagerEmail),
	}

	if amount, ok := payloadDecimal(payload, FieldAmount); ok {
		input.Amount = amount
	}
	if id, ok := payloadInt(payload, FieldCurrencyId); ok {
		input.CurrencyId = id
	}
	if id, ok := payloadInt(payload, FieldIssuingBankId); ok {
		input.IssuingBankId = id
	}
	if id, ok := payloadInt(payload, FieldAdvisingBankId); ok {
		input.AdvisingBankId = id
	}
	if id, ok := payloadInt(payload, FieldCategoryId); ok {
		input.CategoryId = id
	}
	if d, ok := payloadDate(payload, FieldIssueDate); ok {
		input.IssueDate = &d
	}
	if d, ok := payloadDate(payload, FieldExpiryDate); ok {
		input.ExpiryDate = &d
	}
	if months, ok := payloadInt(payload, FieldLgPeriodMonths); ok {
		input.LgPeriodMonths = months
	}

	// enrichment: the creation schema wants owner contact data the legacy
	// exports rarely carry; fall back to the importing user's profile
	if input.OwnerPhone == "" || input.ManagerEmail == "" {
		if userId, ok := utils.GetUserIdFromContext(ctx); ok && userId > 0 {
			user, err := models.GetUser(ctx, userId)
			if err == nil {
				if input.OwnerPhone == "" {
					input.OwnerPhone = user.Phone
				}
				if input.ManagerEmail == "" {
					input.ManagerEmail = user.Email
				}
				if input.OwnerName == "" {
					input.OwnerName = user.Name
				}
			}
		}
	}

	return input, nil
}

// amendmentFieldMap translates diffable canonical fields into LgRecord struct
// fields with a typed conversion. Raw reference labels (bank/currency names)
// are not listed: only their resolved ids apply to the record.
var amendmentFieldMap = map[string]func(payload map[string]interface{}) (string, interface{}, bool){
	FieldLgType: func(p map[string]interface{}) (string, interface{}, bool) {
		return "LgType", models.LgType(payloadString(p, FieldLgType)), payloadString(p, FieldLgType) != ""
	},
	FieldStatus: func(p map[string]interface{}) (string, interface{}, bool) {
		return "Status", models.LgStatus(payloadString(p, FieldStatus)), payloadString(p, FieldStatus) != ""
	},
	FieldAmount: func(p map[string]interface{}) (string, interface{}, bool) {
		amount, ok := payloadDecimal(p, FieldAmount)
		return "Amount", amount, ok
	},
	FieldCurrencyId: func(p map[string]interface{}) (string, interface{}, bool) {
		id, ok := payloadInt(p, FieldCurrencyId)
		return "CurrencyId", id, ok && id > 0
	},
	FieldIssuingBankId: func(p map[string]interface{}) (string, interface{}, bool) {
		id, ok := payloadInt(p, FieldIssuingBankId)
		return "IssuingBankId", id, ok && id > 0
	},
	FieldAdvisingBankId: func(p map[string]interface{}) (string, interface{}, bool) {
		id, ok := payloadInt(p, FieldAdvisingBankId)
		return "AdvisingBankId", id, ok && id > 0
	},
	FieldCategoryId: func(p map[string]interface{}) (string, interface{}, bool) {
		id, ok := payloadInt(p, FieldCategoryId)
		return "CategoryId", id, ok && id > 0
	},
	FieldIssueDate: func(p map[string]interface{}) (string, interface{}, bool) {
		d, ok := payloadDate(p, FieldIssueDate)
		if !ok {
			return "IssueDate", nil, false
		}
		return "IssueDate", &d, true
	},
	FieldExpiryDate: func(p map[string]interface{}) (string, interface{}, bool) {
		d, ok := payloadDate(p, FieldExpiryDate)
		if !ok {
			return "ExpiryDate", nil, false
		}
		return "ExpiryDate", &d, true
	},
	FieldLgPeriodMonths: func(p map[string]interface{}) (string, interface{}, bool) {
		months, ok := payloadInt(p, FieldLgPeriodMonths)
		return "LgPeriodMonths", months, ok
	},
	FieldBeneficiaryName: func(p map[string]interface{}) (string, interface{}, bool) {
		return "BeneficiaryName", payloadString(p, FieldBeneficiaryName), true
	},
	FieldBeneficiaryAddress: func(p map[string]interface{}) (string, interface{}, bool) {
		return "BeneficiaryAddress", payloadString(p, FieldBeneficiaryAddress), true
	},
	FieldApplicantName: func(p map[string]interface{}) (string, interface{}, bool) {
		return "ApplicantName", payloadString(p, FieldApplicantName), true
	},
	FieldApplicantAddress: func(p map[string]interface{}) (string, interface{}, bool) {
		return "ApplicantAddress", payloadString(p, FieldApplicantAddress), true
	},
	FieldGuaranteeRule: func(p map[string]interface{}) (string, interface{}, bool) {
		return "GuaranteeRule", models.GuaranteeRule(payloadString(p, FieldGuaranteeRule)), true
	},
	FieldOtherRuleText: func(p map[string]interface{}) (string, interface{}, bool) {
		return "OtherRuleText", payloadString(p, FieldOtherRuleText), true
	},
	FieldOperationalStatus: func(p map[string]interface{}) (string, interface{}, bool) {
		return "OperationalStatus", payloadString(p, FieldOperationalStatus), true
	},
	FieldOwnerName: func(p map[string]interface{}) (string, interface{}, bool) {
		return "OwnerName", payloadString(p, FieldOwnerName), true
	},
	FieldOwnerPhone: func(p map[string]interface{}) (string, interface{}, bool) {
		return "OwnerPhone", payloadString(p, FieldOwnerPhone), true
	},
	FieldManagerEmail: func(p map[string]interface{}) (string, interface{}, bool) {
		return "ManagerEmail", payloadString(p, FieldManagerEmail), true
	},
}

// amendmentUpdates converts a payload diff into the amendment primitive's
// field-to-value change set. Diffed fields without a production column (raw
// labels, addresses the record does not carry) are dropped.
func amendmentUpdates(diff map[string]models.LgFieldChange, next map[string]interface{}) map[string]interface{} {
	updates := map[string]interface{}{}
	for field := range diff {
		convert, ok := amendmentFieldMap[field]
		if !ok {
			continue
		}
		column, value, ok := convert(next)
		if !ok {
			continue
		}
		updates[column] = value
	}
	return updates
}

// reconcileFinalState force-sets the terminal fields from the last snapshot.
// Amendment business rules (period clamping, expiry status derivation) must
// not override what the final snapshot explicitly states.
func reconcileFinalState(ctx context.Context, tx *gorm.DB, recordId int, last map[string]interface{}) error {
	updates := map[string]interface{}{}

	if amount, ok := payloadDecimal(last, FieldAmount); ok {
		updates["Amount"] = amount
	}
	if status := payloadString(last, FieldStatus); status != "" {
		updates["Status"] = models.LgStatus(status)
	}
	if expiry, ok := payloadDate(last, FieldExpiryDate); ok {
		isValid := !expiry.Before(utils.ConvertToDate(time.Now()))
		updates["IsValid"] = isValid
		if !isValid && payloadString(last, FieldStatus) == "" {
			updates["Status"] = models.LgStatusExpired
		}
	}

	return models.ReconcileLgRecord(ctx, tx, recordId, updates)
}

// attachSideDocument links an attachment locator from the snapshot to the
// created record. Best effort by design: migration must not depend on the
// legacy file store being reachable.
func attachSideDocument(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, businessId string, recordId int, docURL string) {
	// a bare object key (no scheme) can be checked against the bucket
	if !strings.Contains(docURL, "://") {
		if ok, err := utils.ObjectExistsInGCS(ctx, docURL); err == nil && !ok {
			logger.WithFields(logrus.Fields{
				"lg_record_id": recordId,
				"document_url": docURL,
			}).Warn("[migration.replayer] side document not found in storage")
		}
		docURL = utils.BuildObjectAccessURL(docURL)
	}

	document := models.Document{
		BusinessId:    businessId,
		DocumentUrl:   docURL,
		ReferenceType: models.DocumentReferenceTypeLgRecord,
		ReferenceId:   recordId,
	}
	if err := tx.Create(&document).Error; err != nil {
		config.LogError(logger, "migration", "attachSideDocument", "create document", docURL, err)
	}
}
