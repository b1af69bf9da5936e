package migration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/lg_backend/models"
	"github.com/mmdatafocus/lg_backend/utils"
)

// supersedingStatuses are the staging statuses that make an earlier record
// for the same natural key a duplicate. Imported records are excluded: a
// committed record is an already-exists conflict, not a staging duplicate.
var supersedingStatuses = []models.StagingRecordStatus{
	models.StagingStatusReadyForImport,
	models.StagingStatusPending,
	models.StagingStatusError,
	models.StagingStatusNeedsReview,
	models.StagingStatusDuplicate,
}

// IngestOptions carries per-record ingestion metadata. ContentHash is the
// fingerprint of the upload the record came from; it stays on the row so
// re-uploads of the same file are recognized server-side.
type IngestOptions struct {
	RecordKind  models.StagingRecordKind
	SourceFile  string
	ContentHash string
}

// IngestRecord runs one payload through resolve, validate, expiry and
// duplicate classification and persists the staging row with its final
// status. Validation outcomes are data on the row, never an error return.
func IngestRecord(ctx context.Context, payload map[string]interface{}, opts IngestOptions) (*models.StagingRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	kind := opts.RecordKind
	if kind == "" {
		kind = models.RecordKindFullRecord
	}
	if k := payloadString(payload, FieldRecordKind); k != "" {
		kind = models.StagingRecordKind(k)
	}

	record := &models.StagingRecord{
		BusinessId:  businessId,
		RecordKind:  kind,
		Status:      models.StagingStatusPending,
		SourceFile:  opts.SourceFile,
		ContentHash: opts.ContentHash,
	}
	if seq, ok := payloadInt(payload, FieldHistorySequence); ok {
		record.HistorySequence = &seq
	}
	if ts, ok := payloadDate(payload, FieldHistoryTimestamp); ok {
		record.HistoryTimestamp = &ts
	}

	status, validationErrors, err := classify(ctx, businessId, kind, payload, 0)
	if err != nil {
		return nil, err
	}

	record.Status = status
	record.SetValidationErrors(validationErrors)
	if err := record.SetPayloadMap(payload); err != nil {
		return nil, err
	}
	if err := models.CreateStagingRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// RevalidateStagingRecord re-runs the full pipeline against the stored
// payload, optionally merged with a partial update. Safe to call repeatedly;
// an imported record is never touched.
func RevalidateStagingRecord(ctx context.Context, id int, partial map[string]interface{}) (*models.StagingRecord, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	record, err := models.GetStagingRecord(ctx, id)
	if err != nil {
		return nil, err
	}
	if record.Status == models.StagingStatusImported {
		return nil, errors.New("imported staging records cannot be revalidated")
	}

	payload, err := record.PayloadMap()
	if err != nil {
		return nil, err
	}
	for key, value := range partial {
		canonical, _ := CanonicalField(key)
		if value == nil || payloadString(map[string]interface{}{canonical: value}, canonical) == "" {
			delete(payload, canonical)
			continue
		}
		payload[canonical] = value
	}
	normalizeRow(payload)

	// the stored ordering columns always mirror the merged payload; a partial
	// update that drops a hint clears the column too
	if seq, ok := payloadInt(payload, FieldHistorySequence); ok {
		record.HistorySequence = &seq
	} else {
		record.HistorySequence = nil
	}
	if ts, ok := payloadDate(payload, FieldHistoryTimestamp); ok {
		record.HistoryTimestamp = &ts
	} else {
		record.HistoryTimestamp = nil
	}

	status, validationErrors, err := classify(ctx, businessId, record.RecordKind, payload, record.ID)
	if err != nil {
		return nil, err
	}

	record.Status = status
	record.SetValidationErrors(validationErrors)
	if err := record.SetPayloadMap(payload); err != nil {
		return nil, err
	}
	if err := models.SaveStagingRecord(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// classify resolves and validates one payload and decides the staging status:
// Error on validation failures, Expired when temporally invalid, Duplicate
// when a superseding record for the same natural key already sits in staging,
// ReadyForImport otherwise.
func classify(ctx context.Context, businessId string, kind models.StagingRecordKind, payload map[string]interface{}, excludeId int) (models.StagingRecordStatus, map[string]string, error) {
	if err := ResolvePayload(ctx, businessId, payload); err != nil {
		return "", nil, err
	}

	validationErrors, err := ValidateRecord(ctx, businessId, kind, payload)
	if err != nil {
		return "", nil, err
	}
	if len(validationErrors) > 0 {
		return models.StagingStatusError, validationErrors, nil
	}

	if expiry, ok := payloadDate(payload, FieldExpiryDate); ok {
		if expiry.Before(utils.ConvertToDate(time.Now())) {
			return models.StagingStatusExpired, map[string]string{
				FieldExpiryDate: "Guarantee already expired before ingestion.",
			}, nil
		}
	}

	lgNumber := payloadString(payload, FieldLgNumber)
	if lgNumber != "" {
		existing, err := models.FindSupersedingStagingRecord(ctx, businessId, lgNumber, supersedingStatuses, excludeId)
		if err != nil && !errors.Is(err, utils.ErrorRecordNotFound) {
			return "", nil, err
		}
		if err == nil && !ordersAfter(payload, existing) {
			return models.StagingStatusDuplicate, map[string]string{
				FieldLgNumber: fmt.Sprintf("Superseded by staging record #%d for the same LG number.", existing.ID),
			}, nil
		}
	}

	return models.StagingStatusReadyForImport, validationErrors, nil
}

// ordersAfter reports whether the incoming payload sits strictly later on the
// replay timeline than an already staged record for the same natural key.
// The comparison mirrors the snapshot sort order: sequence first, timestamp
// second, a present hint beats an absent one. A tie (including two records
// with no hints at all) makes the incoming record a duplicate, so a later
// snapshot of the same guarantee stages cleanly while a plain re-submission
// does not.
func ordersAfter(payload map[string]interface{}, existing *models.StagingRecord) bool {
	var incomingSeq *int
	if seq, ok := payloadInt(payload, FieldHistorySequence); ok {
		incomingSeq = &seq
	}
	var incomingTs *time.Time
	if ts, ok := payloadDate(payload, FieldHistoryTimestamp); ok {
		incomingTs = &ts
	}

	switch {
	case incomingSeq != nil && existing.HistorySequence != nil:
		if *incomingSeq != *existing.HistorySequence {
			return *incomingSeq > *existing.HistorySequence
		}
	case existing.HistorySequence != nil:
		// the existing record has a sequence and the incoming one does not;
		// unhinted snapshots sort last, so the incoming record is later
		return true
	case incomingSeq != nil:
		return false
	}

	switch {
	case incomingTs != nil && existing.HistoryTimestamp != nil:
		if !incomingTs.Equal(*existing.HistoryTimestamp) {
			return incomingTs.After(*existing.HistoryTimestamp)
		}
	case existing.HistoryTimestamp != nil:
		return true
	case incomingTs != nil:
		return false
	}

	return false
}
