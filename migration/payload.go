package migration

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payload values arrive loosely typed (strings from CSV/XLSX, numbers or
// strings from JSON, resolved integer ids written back by the resolver).
// These getters narrow them without mutating the payload.

func payloadString(payload map[string]interface{}, field string) string {
	v, ok := payload[field]
	if !ok || v == nil {
		return ""
	}
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func payloadInt(payload map[string]interface{}, field string) (int, bool) {
	v, ok := payload[field]
	if !ok || v == nil {
		return 0, false
	}
	switch t := v.(type) {
	case int:
		return t, true
	case float64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func payloadDecimal(payload map[string]interface{}, field string) (decimal.Decimal, bool) {
	s := payloadString(payload, field)
	if s == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

func payloadDate(payload map[string]interface{}, field string) (time.Time, bool) {
	s := payloadString(payload, field)
	if s == "" {
		return time.Time{}, false
	}
	return ParseFlexibleDate(s)
}

// dateLayouts covers the formats seen in legacy spreadsheet exports.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"02/01/2006",
	"01/02/2006",
	"02-01-2006",
	"2/1/2006",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006",
	"January 2, 2006",
	"2006/01/02",
	"20060102",
}

// ParseFlexibleDate tries the known layouts in order. Callers treat a false
// return as "no date", never as an upload failure.
func ParseFlexibleDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	// excel serial dates (days since 1899-12-30)
	if serial, err := strconv.ParseFloat(value, 64); err == nil && serial > 20000 && serial < 80000 {
		base := time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)
		return base.AddDate(0, 0, int(serial)), true
	}
	return time.Time{}, false
}

// normalizeDateValue rewrites a parseable date into ISO form so the same
// calendar day always compares equal in diffs regardless of source format.
func normalizeDateValue(value string) (string, bool) {
	t, ok := ParseFlexibleDate(value)
	if !ok {
		return "", false
	}
	return t.Format("2006-01-02"), true
}
