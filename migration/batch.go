package migration

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bsm/redislock"
	"gorm.io/gorm"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/models"
	"github.com/mmdatafocus/lg_backend/utils"
)

const migrationLockName = "LgMigration"
const migrationLockTTL = 10 * time.Minute

var ErrNoEligibleRecords = errors.New("no staging records are ready for import")
var ErrMigrationLocked = errors.New("another import is already running for this business")

// acquireMigrationLock serializes import runs per tenant so concurrent
// batches cannot race on the natural-key namespace.
func acquireMigrationLock(ctx context.Context, businessId string) (*redislock.Lock, error) {
	lock, err := utils.BusinessLock(ctx, migrationLockName, businessId, migrationLockTTL)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, ErrMigrationLocked
		}
		return nil, err
	}
	return lock, nil
}

// RunHistoricalImport reconstructs production records from staged snapshot
// timelines. Each natural-key group runs inside its own nested transaction:
// one group's failure rolls back only that group, marks its staging rows with
// the captured reason and the batch moves on.
func RunHistoricalImport(ctx context.Context, sourceFiles []string) (*models.MigrationBatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	lock, err := acquireMigrationLock(ctx, businessId)
	if err != nil {
		return nil, err
	}
	defer lock.Release(context.Background())

	ready := models.StagingStatusReadyForImport
	records, err := models.GetStagingRecords(ctx, &ready)
	if err != nil {
		return nil, err
	}
	records = filterByKind(records, models.RecordKindFullRecord)
	if len(records) == 0 {
		return nil, ErrNoEligibleRecords
	}

	groups, keyless, err := BuildSnapshotGroups(records)
	if err != nil {
		return nil, err
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	batch := &models.MigrationBatch{
		BusinessId:  businessId,
		UserId:      userId,
		UserName:    userName,
		StartedAt:   time.Now(),
		SourceFiles: strings.Join(sourceFiles, ","),
	}
	if err := stampBatchContentHash(ctx, batch, records); err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.CreateMigrationBatch(tx, batch); err != nil {
			return err
		}

		var failures []models.BatchFailure

		for _, record := range keyless {
			if err := models.MarkStagingError(tx, []int{record.ID}, "missing lg number"); err != nil {
				return err
			}
			batch.FailedCount++
			failures = append(failures, models.BatchFailure{
				Identifier: fmt.Sprintf("staging #%d", record.ID),
				Reason:     "missing lg number",
			})
		}

		for _, group := range groups {
			var result *GroupResult
			groupErr := tx.Transaction(func(groupTx *gorm.DB) error {
				var err error
				result, err = replayGroup(ctx, groupTx, group)
				if err != nil {
					return err
				}
				return models.MarkStagingImported(groupTx, group.StagingIds(), result.LgRecordId, batch.ID)
			})
			if groupErr != nil {
				// the savepoint rolled the group's rows back; the error marking
				// goes through the outer transaction and survives
				if err := models.MarkStagingError(tx, group.StagingIds(), groupErr.Error()); err != nil {
					return err
				}
				batch.FailedCount++
				failures = append(failures, models.BatchFailure{
					Identifier: group.LgNumber,
					Reason:     groupErr.Error(),
				})
				continue
			}
			batch.ImportedCount++
			batch.UpdatedCount += result.ChangeCount
		}

		batch.SetFailures(failures)
		return models.FinalizeMigrationBatch(tx, batch)
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

// RunFinalizeImport commits ready staging records one-to-one: a full record
// becomes exactly one new production entity with no replay; an instruction
// amends the committed record it references. Two full records sharing a
// natural key within the same run demote the later one to Duplicate before
// any database work happens for it.
func RunFinalizeImport(ctx context.Context) (*models.MigrationBatch, error) {
	businessId, ok := utils.GetBusinessIdFromContext(ctx)
	if !ok || businessId == "" {
		return nil, errors.New("business id is required")
	}

	lock, err := acquireMigrationLock(ctx, businessId)
	if err != nil {
		return nil, err
	}
	defer lock.Release(context.Background())

	ready := models.StagingStatusReadyForImport
	records, err := models.GetStagingRecords(ctx, &ready)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNoEligibleRecords
	}

	userId, _ := utils.GetUserIdFromContext(ctx)
	userName, _ := utils.GetUserNameFromContext(ctx)
	batch := &models.MigrationBatch{
		BusinessId: businessId,
		UserId:     userId,
		UserName:   userName,
		StartedAt:  time.Now(),
	}
	if err := stampBatchContentHash(ctx, batch, records); err != nil {
		return nil, err
	}

	db := config.GetDB()
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.CreateMigrationBatch(tx, batch); err != nil {
			return err
		}

		var failures []models.BatchFailure
		seenNumbers := map[string]bool{}

		for _, record := range records {
			payload, err := record.PayloadMap()
			if err != nil {
				return err
			}
			lgNumber := strings.ToUpper(payloadString(payload, FieldLgNumber))

			if record.RecordKind == models.RecordKindFullRecord && lgNumber != "" {
				if seenNumbers[lgNumber] {
					record.Status = models.StagingStatusDuplicate
					record.SetValidationErrors(map[string]string{
						FieldLgNumber: "Another record in this run carries the same LG number.",
					})
					if err := tx.Save(record).Error; err != nil {
						return err
					}
					batch.SkippedCount++
					continue
				}
				seenNumbers[lgNumber] = true
			}

			recordErr := tx.Transaction(func(recordTx *gorm.DB) error {
				switch record.RecordKind {
				case models.RecordKindInstruction:
					return applyInstruction(ctx, recordTx, record, payload, batch)
				default:
					return finalizeFullRecord(ctx, recordTx, record, payload, batch)
				}
			})
			if recordErr != nil {
				if err := models.MarkStagingError(tx, []int{record.ID}, recordErr.Error()); err != nil {
					return err
				}
				batch.FailedCount++
				failures = append(failures, models.BatchFailure{
					Identifier: fmt.Sprintf("staging #%d (%s)", record.ID, lgNumber),
					Reason:     recordErr.Error(),
				})
			}
		}

		batch.SetFailures(failures)
		return models.FinalizeMigrationBatch(tx, batch)
	})
	if err != nil {
		return nil, err
	}
	return batch, nil
}

func finalizeFullRecord(ctx context.Context, tx *gorm.DB, record *models.StagingRecord, payload map[string]interface{}, batch *models.MigrationBatch) error {
	input, err := buildNewLgRecord(ctx, payload)
	if err != nil {
		return err
	}
	created, err := models.CreateLgRecord(ctx, tx, input)
	if err != nil {
		return err
	}
	if err := models.MarkStagingImported(tx, []int{record.ID}, created.ID, batch.ID); err != nil {
		return err
	}
	batch.ImportedCount++
	return nil
}

// applyInstruction amends the committed record an instruction snapshot
// references, using the shared amendment primitive.
func applyInstruction(ctx context.Context, tx *gorm.DB, record *models.StagingRecord, payload map[string]interface{}, batch *models.MigrationBatch) error {
	existing, err := models.GetLgRecordByNumber(ctx, payloadString(payload, FieldLgNumber))
	if err != nil {
		return err
	}

	current := lgRecordAsPayload(existing)
	diff := DiffPayloads(current, payload)
	updates := amendmentUpdates(diff, payload)
	if len(updates) > 0 {
		stagingId := record.ID
		description := fmt.Sprintf("Instruction applied from staging record #%d", stagingId)
		if _, err := models.AmendLgRecord(ctx, tx, existing.ID, updates, &stagingId, description); err != nil {
			return err
		}
		batch.UpdatedCount++
	} else {
		batch.SkippedCount++
	}
	return models.MarkStagingImported(tx, []int{record.ID}, existing.ID, batch.ID)
}

// lgRecordAsPayload projects a committed record into canonical payload form
// so instructions diff against current state instead of blind-overwriting.
func lgRecordAsPayload(record *models.LgRecord) map[string]interface{} {
	payload := map[string]interface{}{
		FieldLgNumber:           record.LgNumber,
		FieldLgType:             string(record.LgType),
		FieldStatus:             string(record.Status),
		FieldAmount:             record.Amount.String(),
		FieldCurrencyId:         record.CurrencyId,
		FieldIssuingBankId:      record.IssuingBankId,
		FieldAdvisingBankId:     record.AdvisingBankId,
		FieldCategoryId:         record.CategoryId,
		FieldLgPeriodMonths:     record.LgPeriodMonths,
		FieldBeneficiaryName:    record.BeneficiaryName,
		FieldBeneficiaryAddress: record.BeneficiaryAddress,
		FieldApplicantName:      record.ApplicantName,
		FieldApplicantAddress:   record.ApplicantAddress,
		FieldGuaranteeRule:      string(record.GuaranteeRule),
		FieldOtherRuleText:      record.OtherRuleText,
		FieldOperationalStatus:  record.OperationalStatus,
		FieldOwnerName:          record.OwnerName,
		FieldOwnerPhone:         record.OwnerPhone,
		FieldManagerEmail:       record.ManagerEmail,
	}
	if record.IssueDate != nil {
		payload[FieldIssueDate] = record.IssueDate.Format("2006-01-02")
	}
	if record.ExpiryDate != nil {
		payload[FieldExpiryDate] = record.ExpiryDate.Format("2006-01-02")
	}
	return payload
}

// stampBatchContentHash copies the upload fingerprint onto the batch when all
// consumed rows came from one upload and no earlier batch already carries it.
// In the mixed case the per-row hashes still answer re-upload checks.
func stampBatchContentHash(ctx context.Context, batch *models.MigrationBatch, records []*models.StagingRecord) error {
	var hash string
	for _, r := range records {
		if r.ContentHash == "" {
			continue
		}
		if hash == "" {
			hash = r.ContentHash
			continue
		}
		if r.ContentHash != hash {
			return nil
		}
	}
	if hash == "" {
		return nil
	}
	if _, err := models.FindBatchByContentHash(ctx, hash); err == nil {
		return nil
	} else if !errors.Is(err, utils.ErrorRecordNotFound) {
		return err
	}
	batch.ContentHash = &hash
	return nil
}

func filterByKind(records []*models.StagingRecord, kind models.StagingRecordKind) []*models.StagingRecord {
	out := records[:0]
	for _, r := range records {
		if r.RecordKind == kind {
			out = append(out, r)
		}
	}
	return out
}
