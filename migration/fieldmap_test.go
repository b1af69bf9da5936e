package migration

import "testing"

func TestNormalizeHeader(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"Guarantee No", "guarantee_no"},
		{"  LG-Number  ", "lg_number"},
		{"GUARANTEE_NO", "guarantee_no"},
		{"Issue.Date", "issue_date"},
		{"Expiry / Date", "expiry_date"},
		{"beneficiary  name", "beneficiary_name"},
		{"_amount_", "amount"},
	}
	for _, tc := range cases {
		if got := NormalizeHeader(tc.in); got != tc.expected {
			t.Fatalf("NormalizeHeader(%q) expected %q, got %q", tc.in, tc.expected, got)
		}
	}
}

func TestCanonicalFieldSynonyms(t *testing.T) {
	cases := []struct {
		header   string
		expected string
	}{
		{"LG No", FieldLgNumber},
		{"guarantee_number", FieldLgNumber},
		{"Reference No", FieldLgNumber},
		{"CCY", FieldCurrency},
		{"currency_code", FieldCurrency},
		{"Issuer Bank", FieldIssuingBank},
		{"Bank Name", FieldIssuingBank},
		{"Maturity Date", FieldExpiryDate},
		{"Date of Expiry", FieldExpiryDate},
		{"Tenor", FieldLgPeriodMonths},
		{"Beneficiary", FieldBeneficiaryName},
		{"Customer Name", FieldApplicantName},
		{"Snapshot Date", FieldHistoryTimestamp},
		{"Seq", FieldHistorySequence},
		{"Attachment", FieldDocumentUrl},
		{"lg_number", FieldLgNumber},
	}
	for _, tc := range cases {
		got, ok := CanonicalField(tc.header)
		if !ok {
			t.Fatalf("CanonicalField(%q) expected a synonym match", tc.header)
		}
		if got != tc.expected {
			t.Fatalf("CanonicalField(%q) expected %q, got %q", tc.header, tc.expected, got)
		}
	}
}

func TestCanonicalFieldUnknownPassesThroughNormalized(t *testing.T) {
	got, ok := CanonicalField("Internal Remark")
	if ok {
		t.Fatalf("CanonicalField should not claim a synonym match for an unknown header")
	}
	if got != "internal_remark" {
		t.Fatalf("expected normalized passthrough %q, got %q", "internal_remark", got)
	}
}

func TestIsMetadataField(t *testing.T) {
	for _, field := range []string{FieldRecordKind, FieldHistorySequence, FieldHistoryTimestamp} {
		if !IsMetadataField(field) {
			t.Fatalf("%q should be a metadata field", field)
		}
	}
	if IsMetadataField(FieldAmount) {
		t.Fatalf("%q should not be a metadata field", FieldAmount)
	}
}
