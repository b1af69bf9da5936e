package migration

import (
	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/lg_backend/models"
)

// DiffPayloads computes the shallow field-level delta between two snapshot
// payloads, skipping metadata/bookkeeping keys. It is pure: no I/O, and the
// same inputs always produce the same diff.
func DiffPayloads(prev map[string]interface{}, next map[string]interface{}) map[string]models.LgFieldChange {
	diff := map[string]models.LgFieldChange{}

	for field, nextValue := range next {
		if IsMetadataField(field) {
			continue
		}
		prevValue, existed := prev[field]
		if existed && payloadValuesEqual(prevValue, nextValue) {
			continue
		}
		if !existed && payloadString(next, field) == "" {
			continue
		}
		diff[field] = models.LgFieldChange{Old: prevValue, New: nextValue}
	}

	for field, prevValue := range prev {
		if IsMetadataField(field) {
			continue
		}
		if _, stillThere := next[field]; stillThere {
			continue
		}
		if payloadString(prev, field) == "" {
			continue
		}
		diff[field] = models.LgFieldChange{Old: prevValue, New: nil}
	}

	return diff
}

// payloadValuesEqual compares two loosely typed payload values. Numbers
// compare numerically so "1000" and 1000.0 and "1,000" stay equal across
// source formats; everything else compares as trimmed strings.
func payloadValuesEqual(a interface{}, b interface{}) bool {
	as := payloadString(map[string]interface{}{"v": a}, "v")
	bs := payloadString(map[string]interface{}{"v": b}, "v")

	if ad, err := decimal.NewFromString(stripThousands(as)); err == nil {
		if bd, err := decimal.NewFromString(stripThousands(bs)); err == nil {
			return ad.Equal(bd)
		}
	}
	return as == bs
}

func stripThousands(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			continue
		}
		out = append(out, s[i])
	}
	return string(out)
}
