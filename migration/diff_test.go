package migration

import (
	"testing"
)

func TestDiffPayloadsIdentityIsEmpty(t *testing.T) {
	payload := map[string]interface{}{
		FieldLgNumber:   "LG-1",
		FieldAmount:     "1000",
		FieldExpiryDate: "2025-01-01",
	}
	diff := DiffPayloads(payload, payload)
	if len(diff) != 0 {
		t.Fatalf("diff of a payload against itself must be empty, got %v", diff)
	}
}

func TestDiffPayloadsDetectsChanges(t *testing.T) {
	prev := map[string]interface{}{
		FieldLgNumber:   "LG-1",
		FieldAmount:     "1000",
		FieldStatus:     "Active",
		FieldExpiryDate: "2025-01-01",
	}
	next := map[string]interface{}{
		FieldLgNumber:   "LG-1",
		FieldAmount:     "1500",
		FieldStatus:     "Active",
		FieldExpiryDate: "2025-06-01",
	}

	diff := DiffPayloads(prev, next)
	if len(diff) != 2 {
		t.Fatalf("expected 2 changed fields, got %d: %v", len(diff), diff)
	}
	amount, ok := diff[FieldAmount]
	if !ok {
		t.Fatalf("amount change missing from diff")
	}
	if amount.Old != "1000" || amount.New != "1500" {
		t.Fatalf("amount change expected 1000 -> 1500, got %v -> %v", amount.Old, amount.New)
	}
	if _, ok := diff[FieldExpiryDate]; !ok {
		t.Fatalf("expiry_date change missing from diff")
	}
	if _, ok := diff[FieldStatus]; ok {
		t.Fatalf("unchanged status must not appear in diff")
	}
}

func TestDiffPayloadsComparesNumbersNumerically(t *testing.T) {
	prev := map[string]interface{}{FieldAmount: "1,000"}
	next := map[string]interface{}{FieldAmount: 1000.0}

	diff := DiffPayloads(prev, next)
	if len(diff) != 0 {
		t.Fatalf("1,000 and 1000.0 must compare equal, got %v", diff)
	}
}

func TestDiffPayloadsSkipsMetadata(t *testing.T) {
	prev := map[string]interface{}{
		FieldLgNumber:        "LG-1",
		FieldHistorySequence: 1,
	}
	next := map[string]interface{}{
		FieldLgNumber:        "LG-1",
		FieldHistorySequence: 2,
		FieldHistoryTimestamp: "2024-05-01",
	}

	diff := DiffPayloads(prev, next)
	if len(diff) != 0 {
		t.Fatalf("metadata fields must not produce diffs, got %v", diff)
	}
}

func TestDiffPayloadsTracksRemovedValues(t *testing.T) {
	prev := map[string]interface{}{
		FieldLgNumber:      "LG-1",
		FieldOwnerName:     "U Aung",
		FieldOtherRuleText: "",
	}
	next := map[string]interface{}{
		FieldLgNumber: "LG-1",
	}

	diff := DiffPayloads(prev, next)
	removed, ok := diff[FieldOwnerName]
	if !ok {
		t.Fatalf("removed non-empty field must appear in diff")
	}
	if removed.Old != "U Aung" || removed.New != nil {
		t.Fatalf("removal expected {U Aung, nil}, got %v -> %v", removed.Old, removed.New)
	}
	if _, ok := diff[FieldOtherRuleText]; ok {
		t.Fatalf("removed empty field must not appear in diff")
	}
}

func TestDiffPayloadsIgnoresNewEmptyFields(t *testing.T) {
	prev := map[string]interface{}{FieldLgNumber: "LG-1"}
	next := map[string]interface{}{
		FieldLgNumber:  "LG-1",
		FieldOwnerName: "",
	}

	diff := DiffPayloads(prev, next)
	if len(diff) != 0 {
		t.Fatalf("a newly appearing empty field is not a change, got %v", diff)
	}
}
