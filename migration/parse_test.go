package migration

import (
	"strings"
	"testing"
	"time"
)

func TestContentHashIsStable(t *testing.T) {
	a := ContentHash([]byte("lg_number,amount\nLG-1,1000\n"))
	b := ContentHash([]byte("lg_number,amount\nLG-1,1000\n"))
	c := ContentHash([]byte("lg_number,amount\nLG-1,2000\n"))

	if a != b {
		t.Fatalf("same content must hash identically: %s vs %s", a, b)
	}
	if a == c {
		t.Fatalf("different content must not collide")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %q", a)
	}
}

func TestParseUploadCSV(t *testing.T) {
	data := strings.Join([]string{
		`Guarantee No,Type,Amount,Issue Date,Maturity Date,Beneficiary,Applicant,CCY,Issuer`,
		`LG-2024-001,Performance,"1,500,000",15/01/2024,15/01/2025,Ministry of Power,Alpha Ltd,USD,First Commercial Bank`,
		`LG-2024-002,Bid Bond,250000.50,02 Jan 2024,soon,City Hall,Beta Co,EUR,Metro Bank`,
	}, "\n")

	rows, err := ParseUpload("export.csv", []byte(data))
	if err != nil {
		t.Fatalf("ParseUpload: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}

	first := rows[0]
	if got := payloadString(first, FieldLgNumber); got != "LG-2024-001" {
		t.Fatalf("lg_number expected LG-2024-001, got %q", got)
	}
	if got := payloadString(first, FieldAmount); got != "1500000" {
		t.Fatalf("thousands separators should be stripped, got %q", got)
	}
	if got := payloadString(first, FieldIssueDate); got != "2024-01-15" {
		t.Fatalf("issue_date should normalize to ISO, got %q", got)
	}
	if got := payloadString(first, FieldExpiryDate); got != "2025-01-15" {
		t.Fatalf("maturity_date should map to expiry_date in ISO, got %q", got)
	}
	if got := payloadString(first, FieldCurrency); got != "USD" {
		t.Fatalf("ccy should map to currency, got %q", got)
	}
	if got := payloadString(first, FieldIssuingBank); got != "First Commercial Bank" {
		t.Fatalf("issuer should map to issuing_bank, got %q", got)
	}

	second := rows[1]
	if got := payloadString(second, FieldIssueDate); got != "2024-01-02" {
		t.Fatalf("textual date should parse, got %q", got)
	}
	if _, present := second[FieldExpiryDate]; present {
		t.Fatalf("unparseable date must become absent, not fail the upload")
	}
}

func TestParseUploadJSON(t *testing.T) {
	data := []byte(`[
		{"guarantee_no": "LG-9", "amount": 1000.25, "issue date": "2024-03-01", "seq": 1},
		{"guarantee_no": "LG-9", "amount": "1,200", "issue date": "2024-04-01", "seq": 2}
	]`)

	rows, err := ParseUpload("history.json", data)
	if err != nil {
		t.Fatalf("ParseUpload: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if got := payloadString(rows[0], FieldAmount); got != "1000.25" {
		t.Fatalf("json numeric amount expected 1000.25, got %q", got)
	}
	if got := payloadString(rows[1], FieldAmount); got != "1200" {
		t.Fatalf("formatted string amount expected 1200, got %q", got)
	}
	if _, ok := payloadInt(rows[1], FieldHistorySequence); !ok {
		t.Fatalf("seq should map to history_sequence and stay numeric")
	}
}

func TestParseUploadSniffsFormatWithoutExtension(t *testing.T) {
	rows, err := ParseUpload("export", []byte(`[{"lg_number": "LG-1", "amount": "10"}]`))
	if err != nil {
		t.Fatalf("ParseUpload should sniff json: %v", err)
	}
	if len(rows) != 1 || payloadString(rows[0], FieldLgNumber) != "LG-1" {
		t.Fatalf("unexpected sniffed rows: %+v", rows)
	}
}

func TestParseUploadRejectsBadInput(t *testing.T) {
	if _, err := ParseUpload("x.csv", []byte("  \n ")); err == nil {
		t.Fatalf("empty file must be rejected")
	}
	if _, err := ParseUpload("x.csv", []byte("lg_number,amount\n")); err == nil {
		t.Fatalf("header-only csv must be rejected")
	}
	if _, err := ParseUpload("x.json", []byte(`{"lg_number": `)); err == nil {
		t.Fatalf("truncated json must be rejected")
	}
}

func TestParseFlexibleDate(t *testing.T) {
	cases := []struct {
		in       string
		expected string
	}{
		{"2024-01-15", "2024-01-15"},
		{"15/01/2024", "2024-01-15"},
		{"2 Jan 2024", "2024-01-02"},
		{"January 2, 2024", "2024-01-02"},
		{"20240115", "2024-01-15"},
		{"2024/01/15", "2024-01-15"},
		{"45292", "2024-01-01"}, // excel serial
	}
	for _, tc := range cases {
		got, ok := ParseFlexibleDate(tc.in)
		if !ok {
			t.Fatalf("ParseFlexibleDate(%q) expected a parse", tc.in)
		}
		if got.Format("2006-01-02") != tc.expected {
			t.Fatalf("ParseFlexibleDate(%q) expected %s, got %s", tc.in, tc.expected, got.Format("2006-01-02"))
		}
	}

	for _, bad := range []string{"", "soon", "13/13/2024", "99"} {
		if _, ok := ParseFlexibleDate(bad); ok {
			t.Fatalf("ParseFlexibleDate(%q) should not parse", bad)
		}
	}
}

func TestNormalizeRowDates(t *testing.T) {
	row := map[string]interface{}{
		FieldIssueDate:  "15/01/2024",
		FieldExpiryDate: "never",
		FieldAmount:     "2,500,000.75",
	}
	normalizeRow(row)

	if got := row[FieldIssueDate]; got != "2024-01-15" {
		t.Fatalf("issue_date expected ISO form, got %v", got)
	}
	if _, present := row[FieldExpiryDate]; present {
		t.Fatalf("unparseable expiry_date should be deleted")
	}
	if got := row[FieldAmount]; got != "2500000.75" {
		t.Fatalf("amount expected 2500000.75, got %v", got)
	}
}

func TestPayloadDateNarrowing(t *testing.T) {
	row := map[string]interface{}{FieldIssueDate: "2024-06-30"}
	d, ok := payloadDate(row, FieldIssueDate)
	if !ok {
		t.Fatalf("payloadDate should parse an ISO value")
	}
	if !d.Equal(time.Date(2024, 6, 30, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date %v", d)
	}
}
