package migration

import (
	"testing"
	"time"

	"github.com/mmdatafocus/lg_backend/models"
)

func stagingRecordForTest(t *testing.T, id int, payload map[string]interface{}, seq *int, ts *time.Time) *models.StagingRecord {
	t.Helper()
	record := &models.StagingRecord{
		ID:               id,
		HistorySequence:  seq,
		HistoryTimestamp: ts,
	}
	if err := record.SetPayloadMap(payload); err != nil {
		t.Fatalf("SetPayloadMap: %v", err)
	}
	return record
}

func intPtr(v int) *int { return &v }

func timePtr(v time.Time) *time.Time { return &v }

func TestBuildSnapshotGroupsMergesCaseInsensitiveKeys(t *testing.T) {
	records := []*models.StagingRecord{
		stagingRecordForTest(t, 1, map[string]interface{}{FieldLgNumber: "lg-001"}, nil, nil),
		stagingRecordForTest(t, 2, map[string]interface{}{FieldLgNumber: "LG-001"}, nil, nil),
		stagingRecordForTest(t, 3, map[string]interface{}{FieldLgNumber: "LG-002"}, nil, nil),
	}

	groups, keyless, err := BuildSnapshotGroups(records)
	if err != nil {
		t.Fatalf("BuildSnapshotGroups: %v", err)
	}
	if len(keyless) != 0 {
		t.Fatalf("expected no keyless records, got %d", len(keyless))
	}
	if len(groups) != 2 {
		t.Fatalf("expected 2 groups, got %d", len(groups))
	}
	if groups[0].LgNumber != "LG-001" || groups[1].LgNumber != "LG-002" {
		t.Fatalf("groups must be ordered by natural key, got %s, %s", groups[0].LgNumber, groups[1].LgNumber)
	}
	if len(groups[0].Snapshots) != 2 {
		t.Fatalf("case variants of the same key must merge, got %d snapshots", len(groups[0].Snapshots))
	}
}

func TestBuildSnapshotGroupsSeparatesKeylessRecords(t *testing.T) {
	records := []*models.StagingRecord{
		stagingRecordForTest(t, 1, map[string]interface{}{FieldAmount: "100"}, nil, nil),
		stagingRecordForTest(t, 2, map[string]interface{}{FieldLgNumber: "  "}, nil, nil),
		stagingRecordForTest(t, 3, map[string]interface{}{FieldLgNumber: "LG-1"}, nil, nil),
	}

	groups, keyless, err := BuildSnapshotGroups(records)
	if err != nil {
		t.Fatalf("BuildSnapshotGroups: %v", err)
	}
	if len(groups) != 1 {
		t.Fatalf("expected 1 group, got %d", len(groups))
	}
	if len(keyless) != 2 {
		t.Fatalf("records without a usable key must be returned separately, got %d", len(keyless))
	}
}

func TestSnapshotOrderBySequence(t *testing.T) {
	records := []*models.StagingRecord{
		stagingRecordForTest(t, 1, map[string]interface{}{FieldLgNumber: "LG-1"}, intPtr(3), nil),
		stagingRecordForTest(t, 2, map[string]interface{}{FieldLgNumber: "LG-1"}, intPtr(1), nil),
		stagingRecordForTest(t, 3, map[string]interface{}{FieldLgNumber: "LG-1"}, intPtr(2), nil),
	}

	groups, _, err := BuildSnapshotGroups(records)
	if err != nil {
		t.Fatalf("BuildSnapshotGroups: %v", err)
	}
	got := groups[0].StagingIds()
	expected := []int{2, 3, 1}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("sequence order expected %v, got %v", expected, got)
		}
	}
}

func TestSnapshotOrderSequenceBeatsTimestamp(t *testing.T) {
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)

	records := []*models.StagingRecord{
		stagingRecordForTest(t, 1, map[string]interface{}{FieldLgNumber: "LG-1"}, nil, timePtr(early)),
		stagingRecordForTest(t, 2, map[string]interface{}{FieldLgNumber: "LG-1"}, intPtr(5), timePtr(late)),
	}

	groups, _, err := BuildSnapshotGroups(records)
	if err != nil {
		t.Fatalf("BuildSnapshotGroups: %v", err)
	}
	got := groups[0].StagingIds()
	if got[0] != 2 {
		t.Fatalf("a record with a sequence must sort before one without, got order %v", got)
	}
}

func TestSnapshotOrderFallsBackToTimestampThenId(t *testing.T) {
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	records := []*models.StagingRecord{
		stagingRecordForTest(t, 9, map[string]interface{}{FieldLgNumber: "LG-1"}, nil, timePtr(late)),
		stagingRecordForTest(t, 5, map[string]interface{}{FieldLgNumber: "LG-1"}, nil, timePtr(early)),
		stagingRecordForTest(t, 7, map[string]interface{}{FieldLgNumber: "LG-1"}, nil, timePtr(early)),
	}

	groups, _, err := BuildSnapshotGroups(records)
	if err != nil {
		t.Fatalf("BuildSnapshotGroups: %v", err)
	}
	got := groups[0].StagingIds()
	expected := []int{5, 7, 9}
	for i := range expected {
		if got[i] != expected[i] {
			t.Fatalf("timestamp-then-id order expected %v, got %v", expected, got)
		}
	}
}

func TestSnapshotOrderIsDeterministicAcrossRuns(t *testing.T) {
	build := func() []int {
		records := []*models.StagingRecord{
			stagingRecordForTest(t, 4, map[string]interface{}{FieldLgNumber: "LG-1"}, nil, nil),
			stagingRecordForTest(t, 2, map[string]interface{}{FieldLgNumber: "LG-1"}, nil, nil),
			stagingRecordForTest(t, 3, map[string]interface{}{FieldLgNumber: "LG-1"}, nil, nil),
		}
		groups, _, err := BuildSnapshotGroups(records)
		if err != nil {
			t.Fatalf("BuildSnapshotGroups: %v", err)
		}
		return groups[0].StagingIds()
	}

	first := build()
	for i := 0; i < 10; i++ {
		again := build()
		for j := range first {
			if first[j] != again[j] {
				t.Fatalf("replay order must be reproducible: %v vs %v", first, again)
			}
		}
	}
}
