package migration

import "strings"

// Canonical payload field names. Every upload header variant and manual-entry
// key is funneled onto these before resolution and validation.
const (
	FieldLgNumber           = "lg_number"
	FieldLgType             = "lg_type"
	FieldStatus             = "status"
	FieldAmount             = "amount"
	FieldCurrency           = "currency"
	FieldCurrencyId         = "currency_id"
	FieldIssuingBank        = "issuing_bank"
	FieldIssuingBankId      = "issuing_bank_id"
	FieldIssuingBankAddress = "issuing_bank_address"
	FieldIssuingBankPhone   = "issuing_bank_phone"
	FieldAdvisingBank       = "advising_bank"
	FieldAdvisingBankId     = "advising_bank_id"
	FieldCategory           = "category"
	FieldCategoryId         = "category_id"
	FieldIssueDate          = "issue_date"
	FieldExpiryDate         = "expiry_date"
	FieldLgPeriodMonths     = "lg_period_months"
	FieldBeneficiaryName    = "beneficiary_name"
	FieldBeneficiaryAddress = "beneficiary_address"
	FieldApplicantName      = "applicant_name"
	FieldApplicantAddress   = "applicant_address"
	FieldGuaranteeRule      = "guarantee_rule"
	FieldOtherRuleText      = "other_rule_text"
	FieldOperationalStatus  = "operational_status"
	FieldOwnerName          = "owner_name"
	FieldOwnerPhone         = "owner_phone"
	FieldManagerEmail       = "manager_email"
	FieldDocumentUrl        = "document_url"
	FieldRecordKind         = "record_kind"
	FieldHistorySequence    = "history_sequence"
	FieldHistoryTimestamp   = "history_timestamp"
)

// headerSynonyms maps normalized upload headers onto canonical fields. Keys
// must already be in normalized form (see NormalizeHeader).
var headerSynonyms = map[string]string{
	"lg_number":        FieldLgNumber,
	"lg_no":            FieldLgNumber,
	"lg_id":            FieldLgNumber,
	"guarantee_no":     FieldLgNumber,
	"guarantee_number": FieldLgNumber,
	"lg_ref":           FieldLgNumber,
	"reference_no":     FieldLgNumber,

	"lg_type":        FieldLgType,
	"type":           FieldLgType,
	"guarantee_type": FieldLgType,
	"instrument_type": FieldLgType,

	"status":    FieldStatus,
	"lg_status": FieldStatus,

	"amount":           FieldAmount,
	"lg_amount":        FieldAmount,
	"guarantee_amount": FieldAmount,
	"value":            FieldAmount,
	"principal":        FieldAmount,
	"principal_amount": FieldAmount,

	"currency":      FieldCurrency,
	"currency_code": FieldCurrency,
	"ccy":           FieldCurrency,

	"issuing_bank":      FieldIssuingBank,
	"issuer":            FieldIssuingBank,
	"issuer_bank":       FieldIssuingBank,
	"bank":              FieldIssuingBank,
	"bank_name":         FieldIssuingBank,
	"issuing_bank_name": FieldIssuingBank,

	"issuing_bank_address": FieldIssuingBankAddress,
	"bank_address":         FieldIssuingBankAddress,
	"issuing_bank_phone":   FieldIssuingBankPhone,
	"bank_phone":           FieldIssuingBankPhone,

	"advising_bank":      FieldAdvisingBank,
	"advising_bank_name": FieldAdvisingBank,
	"adviser_bank":       FieldAdvisingBank,

	"category":      FieldCategory,
	"lg_category":   FieldCategory,
	"category_code": FieldCategory,
	"category_name": FieldCategory,

	"issue_date":    FieldIssueDate,
	"issuance_date": FieldIssueDate,
	"issued_on":     FieldIssueDate,
	"date_of_issue": FieldIssueDate,
	"start_date":    FieldIssueDate,

	"expiry_date":    FieldExpiryDate,
	"expiration_date": FieldExpiryDate,
	"expires_on":     FieldExpiryDate,
	"date_of_expiry": FieldExpiryDate,
	"end_date":       FieldExpiryDate,
	"maturity_date":  FieldExpiryDate,

	"lg_period_months": FieldLgPeriodMonths,
	"lg_period":        FieldLgPeriodMonths,
	"period_months":    FieldLgPeriodMonths,
	"tenor":            FieldLgPeriodMonths,
	"tenor_months":     FieldLgPeriodMonths,

	"beneficiary_name":    FieldBeneficiaryName,
	"beneficiary":         FieldBeneficiaryName,
	"beneficiary_address": FieldBeneficiaryAddress,

	"applicant_name":    FieldApplicantName,
	"applicant":         FieldApplicantName,
	"customer_name":     FieldApplicantName,
	"applicant_address": FieldApplicantAddress,

	"guarantee_rule":  FieldGuaranteeRule,
	"rule":            FieldGuaranteeRule,
	"governing_rule":  FieldGuaranteeRule,
	"other_rule_text": FieldOtherRuleText,
	"other_rule":      FieldOtherRuleText,

	"operational_status": FieldOperationalStatus,
	"op_status":          FieldOperationalStatus,

	"owner_name":    FieldOwnerName,
	"owner":         FieldOwnerName,
	"owner_phone":   FieldOwnerPhone,
	"manager_email": FieldManagerEmail,

	"document_url": FieldDocumentUrl,
	"document":     FieldDocumentUrl,
	"attachment":   FieldDocumentUrl,

	"record_kind": FieldRecordKind,

	"history_sequence":  FieldHistorySequence,
	"sequence":          FieldHistorySequence,
	"seq":               FieldHistorySequence,
	"history_seq":       FieldHistorySequence,
	"history_timestamp": FieldHistoryTimestamp,
	"snapshot_date":     FieldHistoryTimestamp,
	"as_of_date":        FieldHistoryTimestamp,
	"last_updated":      FieldHistoryTimestamp,
}

// metadataFields carry ordering/bookkeeping hints and are excluded from
// snapshot diffs.
var metadataFields = map[string]bool{
	FieldRecordKind:       true,
	FieldHistorySequence:  true,
	FieldHistoryTimestamp: true,
}

// amountFields get thousands separators stripped before numeric parsing.
var amountFields = map[string]bool{
	FieldAmount: true,
}

// dateFields are parsed permissively; an unparseable value becomes absent.
var dateFields = map[string]bool{
	FieldIssueDate:        true,
	FieldExpiryDate:       true,
	FieldHistoryTimestamp: true,
}

// NormalizeHeader trims, lower-cases and converts spaces/dots/dashes to
// underscores so "Guarantee No", "guarantee-no" and "GUARANTEE_NO" all match.
func NormalizeHeader(header string) string {
	h := strings.TrimSpace(strings.ToLower(header))
	h = strings.NewReplacer(" ", "_", "-", "_", ".", "_", "/", "_").Replace(h)
	for strings.Contains(h, "__") {
		h = strings.ReplaceAll(h, "__", "_")
	}
	return strings.Trim(h, "_")
}

// CanonicalField maps one upload header onto its canonical field. A header
// that already is a canonical field passes through.
func CanonicalField(header string) (string, bool) {
	normalized := NormalizeHeader(header)
	if canonical, ok := headerSynonyms[normalized]; ok {
		return canonical, true
	}
	return normalized, false
}

func IsMetadataField(field string) bool {
	return metadataFields[field]
}
