package migration

import (
	"testing"
	"time"
)

func TestPeriodMonths(t *testing.T) {
	day := func(y int, m time.Month, d int) time.Time {
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}

	cases := []struct {
		name     string
		issue    time.Time
		expiry   time.Time
		expected int
	}{
		{"eleven days clamps up to the minimum", day(2024, 1, 1), day(2024, 1, 12), 3},
		{"seventeen and a half months clamps down", day(2024, 1, 1), day(2025, 6, 15), 12},
		{"exact six months stays six", day(2024, 1, 10), day(2024, 7, 10), 6},
		{"seven months snaps down to six", day(2024, 1, 10), day(2024, 8, 10), 6},
		{"eight months snaps up to nine", day(2024, 1, 10), day(2024, 9, 10), 9},
		{"ten months snaps down to nine", day(2024, 1, 10), day(2024, 11, 10), 9},
		{"eleven months snaps up to twelve", day(2024, 1, 10), day(2024, 12, 10), 12},
		{"partial month rounds up before snapping", day(2024, 1, 10), day(2024, 7, 25), 6},
		{"one day over a month boundary", day(2024, 3, 31), day(2024, 4, 1), 3},
		{"same day yields the minimum", day(2024, 5, 5), day(2024, 5, 5), 3},
	}

	for _, tc := range cases {
		if got := PeriodMonths(tc.issue, tc.expiry); got != tc.expected {
			t.Fatalf("%s: PeriodMonths(%s, %s) expected %d, got %d",
				tc.name, tc.issue.Format("2006-01-02"), tc.expiry.Format("2006-01-02"), tc.expected, got)
		}
	}
}

func TestDerivePeriodMonths(t *testing.T) {
	payload := map[string]interface{}{
		FieldIssueDate:  "2024-01-01",
		FieldExpiryDate: "2024-07-01",
	}
	derivePeriodMonths(payload)
	if months, ok := payloadInt(payload, FieldLgPeriodMonths); !ok || months != 6 {
		t.Fatalf("expected derived period of 6 months, got %v", payload[FieldLgPeriodMonths])
	}

	// an explicit value wins over derivation
	explicit := map[string]interface{}{
		FieldIssueDate:      "2024-01-01",
		FieldExpiryDate:     "2024-07-01",
		FieldLgPeriodMonths: "9",
	}
	derivePeriodMonths(explicit)
	if months, _ := payloadInt(explicit, FieldLgPeriodMonths); months != 9 {
		t.Fatalf("explicit period must not be overwritten, got %d", months)
	}

	// expiry before issue derives nothing
	inverted := map[string]interface{}{
		FieldIssueDate:  "2024-07-01",
		FieldExpiryDate: "2024-01-01",
	}
	derivePeriodMonths(inverted)
	if _, present := inverted[FieldLgPeriodMonths]; present {
		t.Fatalf("inverted dates must not derive a period")
	}
}
