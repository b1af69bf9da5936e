package migration

import (
	"sort"
	"strings"

	"github.com/mmdatafocus/lg_backend/models"
)

// Snapshot pairs a staging record with its decoded payload so the replay
// pipeline parses each payload exactly once.
type Snapshot struct {
	Record  *models.StagingRecord
	Payload map[string]interface{}
}

// SnapshotGroup is one natural key's ordered timeline. The first snapshot is
// the creation event; the rest replay as amendments.
type SnapshotGroup struct {
	LgNumber  string
	Snapshots []Snapshot
}

// BuildSnapshotGroups groups staging records by upper-cased natural key and
// orders each group by (history_sequence, history_timestamp, staging id).
// Records without a usable natural key are returned separately so the caller
// can mark them failed instead of silently dropping them.
func BuildSnapshotGroups(records []*models.StagingRecord) ([]SnapshotGroup, []*models.StagingRecord, error) {
	groups := map[string]*SnapshotGroup{}
	var keyless []*models.StagingRecord

	for _, record := range records {
		payload, err := record.PayloadMap()
		if err != nil {
			return nil, nil, err
		}
		key := strings.ToUpper(payloadString(payload, FieldLgNumber))
		if key == "" {
			keyless = append(keyless, record)
			continue
		}
		group, ok := groups[key]
		if !ok {
			group = &SnapshotGroup{LgNumber: key}
			groups[key] = group
		}
		group.Snapshots = append(group.Snapshots, Snapshot{Record: record, Payload: payload})
	}

	result := make([]SnapshotGroup, 0, len(groups))
	for _, group := range groups {
		sortSnapshots(group.Snapshots)
		result = append(result, *group)
	}
	// deterministic group order for reproducible batch output
	sort.Slice(result, func(i, j int) bool {
		return result[i].LgNumber < result[j].LgNumber
	})
	return result, keyless, nil
}

// sortSnapshots imposes the total replay order. Sequence beats timestamp;
// the staging id breaks every remaining tie so replay is reproducible.
func sortSnapshots(snapshots []Snapshot) {
	sort.SliceStable(snapshots, func(i, j int) bool {
		a, b := snapshots[i].Record, snapshots[j].Record

		switch {
		case a.HistorySequence != nil && b.HistorySequence != nil:
			if *a.HistorySequence != *b.HistorySequence {
				return *a.HistorySequence < *b.HistorySequence
			}
		case a.HistorySequence != nil:
			return true
		case b.HistorySequence != nil:
			return false
		}

		switch {
		case a.HistoryTimestamp != nil && b.HistoryTimestamp != nil:
			if !a.HistoryTimestamp.Equal(*b.HistoryTimestamp) {
				return a.HistoryTimestamp.Before(*b.HistoryTimestamp)
			}
		case a.HistoryTimestamp != nil:
			return true
		case b.HistoryTimestamp != nil:
			return false
		}

		return a.ID < b.ID
	})
}

// StagingIds returns the group's staging row ids in replay order.
func (g *SnapshotGroup) StagingIds() []int {
	ids := make([]int, 0, len(g.Snapshots))
	for _, s := range g.Snapshots {
		ids = append(ids, s.Record.ID)
	}
	return ids
}
