package migration_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmdatafocus/lg_backend/config"
	"github.com/mmdatafocus/lg_backend/migration"
	"github.com/mmdatafocus/lg_backend/models"
	"github.com/mmdatafocus/lg_backend/utils"
)

func setupIntegrationDB(t *testing.T) context.Context {
	t.Helper()
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "lgflow_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	ctx := context.Background()
	ctx = utils.SetUserNameInContext(ctx, "Test")
	ctx = utils.SetUsernameInContext(ctx, "test@local")

	biz, err := models.CreateBusiness(ctx, &models.NewBusiness{
		Name:  "LG Test Co",
		Email: "owner@lg.test",
	})
	if err != nil {
		t.Fatalf("CreateBusiness: %v", err)
	}
	ctx = utils.SetBusinessIdInContext(ctx, biz.ID)

	user, err := models.CreateUser(ctx, &models.NewUser{
		Username: "test@local",
		Password: "testpassw0rd",
		Name:     "Test",
		Email:    "test@lg.test",
		Phone:    "+959123456789",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	ctx = utils.SetUserIdInContext(ctx, user.ID)

	if _, err := models.CreateCurrency(ctx, &models.NewCurrency{
		Symbol:        "USD",
		Name:          "US Dollar",
		DecimalPlaces: models.DecimalPlacesTwo,
	}); err != nil {
		t.Fatalf("CreateCurrency: %v", err)
	}
	if _, err := models.CreateBank(ctx, &models.NewBank{
		Name:      "First Commercial Bank",
		ShortName: "FCB",
	}); err != nil {
		t.Fatalf("CreateBank: %v", err)
	}
	if _, err := models.CreateLgCategory(ctx, &models.NewLgCategory{
		Code:      "GEN",
		Name:      "General",
		IsDefault: true,
	}); err != nil {
		t.Fatalf("CreateLgCategory: %v", err)
	}

	return ctx
}

func TestHistoricalImportEndToEnd(t *testing.T) {
	ctx := setupIntegrationDB(t)

	data := []byte(strings.Join([]string{
		`LG No,Type,Amount,Currency,Issue Date,Expiry Date,Issuing Bank,Beneficiary,Applicant,Seq`,
		`LG-E2E-001,Performance,"1,000,000",USD,2024-01-01,2030-12-31,First Commercial Bank,Ministry of Power,Alpha Ltd,1`,
		`LG-E2E-001,Performance,"1,500,000",USD,2024-01-01,2030-12-31,First Commercial Bank,Ministry of Power,Alpha Ltd,2`,
	}, "\n"))

	hash := migration.ContentHash(data)
	if _, err := models.FindBatchByContentHash(ctx, hash); err == nil {
		t.Fatalf("content hash must be unknown before the first import")
	}

	rows, err := migration.ParseUpload("e2e.csv", data)
	if err != nil {
		t.Fatalf("ParseUpload: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	for i, row := range rows {
		record, err := migration.IngestRecord(ctx, row, migration.IngestOptions{SourceFile: "e2e.csv", ContentHash: hash})
		if err != nil {
			t.Fatalf("IngestRecord row %d: %v", i, err)
		}
		if record.Status != models.StagingStatusReadyForImport {
			t.Fatalf("row %d expected ReadyForImport, got %s (%s)", i, record.Status, record.ValidationErrors)
		}
	}

	// the staged rows already answer re-upload checks before any import runs
	if _, err := models.FindStagingByContentHash(ctx, hash); err != nil {
		t.Fatalf("FindStagingByContentHash after staging: %v", err)
	}

	batch, err := migration.RunHistoricalImport(ctx, []string{"e2e.csv"})
	if err != nil {
		t.Fatalf("RunHistoricalImport: %v", err)
	}
	if batch.ImportedCount != 1 || batch.UpdatedCount != 1 || batch.FailedCount != 0 {
		t.Fatalf("expected 1 imported / 1 updated / 0 failed, got %d/%d/%d",
			batch.ImportedCount, batch.UpdatedCount, batch.FailedCount)
	}

	record, err := models.GetLgRecordByNumber(ctx, "LG-E2E-001")
	if err != nil {
		t.Fatalf("GetLgRecordByNumber: %v", err)
	}
	if !record.Amount.Equal(decimal.RequireFromString("1500000")) {
		t.Fatalf("final amount must come from the last snapshot, got %s", record.Amount)
	}
	if record.IsValid == nil || !*record.IsValid {
		t.Fatalf("a guarantee expiring in the future must be valid")
	}

	entries, err := models.GetLgChangeLogs(ctx, record.ID)
	if err != nil {
		t.Fatalf("GetLgChangeLogs: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one amendment entry, got %d", len(entries))
	}
	changes := map[string]models.LgFieldChange{}
	if err := json.Unmarshal([]byte(entries[0].Changes), &changes); err != nil {
		t.Fatalf("decode change log: %v", err)
	}
	if _, ok := changes["Amount"]; !ok {
		t.Fatalf("amendment entry must record the amount delta, got %s", entries[0].Changes)
	}

	imported := models.StagingStatusImported
	stagingRows, err := models.GetStagingRecords(ctx, &imported)
	if err != nil {
		t.Fatalf("GetStagingRecords: %v", err)
	}
	if len(stagingRows) != 2 {
		t.Fatalf("both snapshots must be marked imported, got %d", len(stagingRows))
	}
	for _, row := range stagingRows {
		if row.LgRecordId == nil || *row.LgRecordId != record.ID {
			t.Fatalf("imported staging rows must link to the production record")
		}
	}

	// idempotent re-upload: the content hash now resolves to the finished batch
	prior, err := models.FindBatchByContentHash(ctx, hash)
	if err != nil {
		t.Fatalf("FindBatchByContentHash after import: %v", err)
	}
	if prior.ID != batch.ID {
		t.Fatalf("content hash must resolve to the batch that processed it")
	}

	// replaying with nothing left ready must refuse, not double-import
	if _, err := migration.RunHistoricalImport(ctx, nil); err == nil {
		t.Fatalf("a second import with nothing eligible must fail")
	}
}

func TestStagingDuplicatePrecedence(t *testing.T) {
	ctx := setupIntegrationDB(t)

	base := map[string]interface{}{
		migration.FieldLgNumber:        "LG-DUP-001",
		migration.FieldLgType:          "Performance",
		migration.FieldAmount:          "500000",
		migration.FieldCurrency:        "USD",
		migration.FieldIssuingBank:     "FCB",
		migration.FieldIssueDate:       "2024-02-01",
		migration.FieldExpiryDate:      "2030-02-01",
		migration.FieldBeneficiaryName: "Ministry of Power",
		migration.FieldApplicantName:   "Alpha Ltd",
	}
	withSeq := func(seq int) map[string]interface{} {
		payload := map[string]interface{}{}
		for k, v := range base {
			payload[k] = v
		}
		payload[migration.FieldHistorySequence] = seq
		return payload
	}

	newer, err := migration.IngestRecord(ctx, withSeq(2), migration.IngestOptions{SourceFile: "manual"})
	if err != nil {
		t.Fatalf("IngestRecord newer: %v", err)
	}
	if newer.Status != models.StagingStatusReadyForImport {
		t.Fatalf("newer snapshot expected ReadyForImport, got %s (%s)", newer.Status, newer.ValidationErrors)
	}

	older, err := migration.IngestRecord(ctx, withSeq(1), migration.IngestOptions{SourceFile: "manual"})
	if err != nil {
		t.Fatalf("IngestRecord older: %v", err)
	}
	if older.Status != models.StagingStatusDuplicate {
		t.Fatalf("older snapshot staged after a newer one must be Duplicate, got %s", older.Status)
	}
	if msg := older.ValidationErrorMap()[migration.FieldLgNumber]; !strings.Contains(msg, "Superseded") {
		t.Fatalf("duplicate must carry a superseded explanation, got %q", msg)
	}

	// correcting the duplicate's sequence past the newer record revalidates clean
	fixed, err := migration.RevalidateStagingRecord(ctx, older.ID, map[string]interface{}{
		migration.FieldHistorySequence: 3,
	})
	if err != nil {
		t.Fatalf("RevalidateStagingRecord: %v", err)
	}
	if fixed.Status != models.StagingStatusReadyForImport {
		t.Fatalf("revalidated record expected ReadyForImport, got %s (%s)", fixed.Status, fixed.ValidationErrors)
	}
	if fixed.HistorySequence == nil || *fixed.HistorySequence != 3 {
		t.Fatalf("revalidation must store the corrected sequence, got %v", fixed.HistorySequence)
	}

	// clearing the hint must clear the stored ordering column with it
	cleared, err := migration.RevalidateStagingRecord(ctx, older.ID, map[string]interface{}{
		migration.FieldHistorySequence: "",
	})
	if err != nil {
		t.Fatalf("RevalidateStagingRecord clear: %v", err)
	}
	if cleared.HistorySequence != nil {
		t.Fatalf("a cleared hint must not leave a stale sequence column, got %d", *cleared.HistorySequence)
	}

	reloaded, err := models.GetStagingRecord(ctx, older.ID)
	if err != nil {
		t.Fatalf("GetStagingRecord: %v", err)
	}
	if reloaded.HistorySequence != nil {
		t.Fatalf("the cleared sequence must persist as null, got %d", *reloaded.HistorySequence)
	}
}

func TestHistoricalImportPartialFailureIsolation(t *testing.T) {
	ctx := setupIntegrationDB(t)

	// the middle group collides with an already committed guarantee
	if _, err := models.CreateLgRecord(ctx, nil, &models.NewLgRecord{
		LgNumber:        "LG-ISO-B",
		LgType:          models.LgTypePerformance,
		Amount:          decimal.RequireFromString("100"),
		BeneficiaryName: "Existing Beneficiary",
		ApplicantName:   "Existing Applicant",
	}); err != nil {
		t.Fatalf("CreateLgRecord: %v", err)
	}

	stage := func(lgNumber string) *models.StagingRecord {
		payload := map[string]interface{}{
			migration.FieldLgNumber:        lgNumber,
			migration.FieldLgType:          "Performance",
			migration.FieldAmount:          "750000",
			migration.FieldCurrency:        "USD",
			migration.FieldIssuingBank:     "First Commercial Bank",
			migration.FieldIssueDate:       "2024-03-01",
			migration.FieldExpiryDate:      "2030-03-01",
			migration.FieldBeneficiaryName: "Ministry of Power",
			migration.FieldApplicantName:   "Alpha Ltd",
		}
		record, err := migration.IngestRecord(ctx, payload, migration.IngestOptions{SourceFile: "iso.csv"})
		if err != nil {
			t.Fatalf("IngestRecord %s: %v", lgNumber, err)
		}
		if record.Status != models.StagingStatusReadyForImport {
			t.Fatalf("%s expected ReadyForImport, got %s (%s)", lgNumber, record.Status, record.ValidationErrors)
		}
		return record
	}

	stage("LG-ISO-A")
	failed := stage("LG-ISO-B")
	stage("LG-ISO-C")

	batch, err := migration.RunHistoricalImport(ctx, []string{"iso.csv"})
	if err != nil {
		t.Fatalf("RunHistoricalImport: %v", err)
	}
	if batch.ImportedCount != 2 || batch.FailedCount != 1 {
		t.Fatalf("expected 2 imported / 1 failed, got %d/%d", batch.ImportedCount, batch.FailedCount)
	}
	failures := batch.FailureList()
	if len(failures) != 1 || failures[0].Identifier != "LG-ISO-B" {
		t.Fatalf("failure list must name the failed group, got %+v", failures)
	}

	for _, lgNumber := range []string{"LG-ISO-A", "LG-ISO-C"} {
		if _, err := models.GetLgRecordByNumber(ctx, lgNumber); err != nil {
			t.Fatalf("group %s must have committed: %v", lgNumber, err)
		}
	}

	// the failed group's rows roll back; its staging record carries the reason
	errored, err := models.GetStagingRecord(ctx, failed.ID)
	if err != nil {
		t.Fatalf("GetStagingRecord: %v", err)
	}
	if errored.Status != models.StagingStatusError {
		t.Fatalf("failed group expected Error status, got %s", errored.Status)
	}
	if reason := errored.ValidationErrorMap()["import"]; !strings.Contains(reason, "already exists") {
		t.Fatalf("failed group must carry the captured reason, got %q", reason)
	}

	existing, err := models.GetLgRecordByNumber(ctx, "LG-ISO-B")
	if err != nil {
		t.Fatalf("GetLgRecordByNumber LG-ISO-B: %v", err)
	}
	if !existing.Amount.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("pre-existing record must be untouched by the failed group, got %s", existing.Amount)
	}
}

func TestFinalizeImportRetainsUploadHash(t *testing.T) {
	ctx := setupIntegrationDB(t)

	data := []byte(strings.Join([]string{
		`LG No,Type,Amount,Currency,Issue Date,Expiry Date,Issuing Bank,Beneficiary,Applicant`,
		`LG-FIN-001,Performance,"2,000,000",USD,2024-04-01,2030-04-01,First Commercial Bank,Ministry of Power,Alpha Ltd`,
	}, "\n"))
	hash := migration.ContentHash(data)

	rows, err := migration.ParseUpload("fin.csv", data)
	if err != nil {
		t.Fatalf("ParseUpload: %v", err)
	}
	for i, row := range rows {
		record, err := migration.IngestRecord(ctx, row, migration.IngestOptions{SourceFile: "fin.csv", ContentHash: hash})
		if err != nil {
			t.Fatalf("IngestRecord row %d: %v", i, err)
		}
		if record.Status != models.StagingStatusReadyForImport {
			t.Fatalf("row %d expected ReadyForImport, got %s (%s)", i, record.Status, record.ValidationErrors)
		}
	}

	batch, err := migration.RunFinalizeImport(ctx)
	if err != nil {
		t.Fatalf("RunFinalizeImport: %v", err)
	}
	if batch.ImportedCount != 1 || batch.FailedCount != 0 {
		t.Fatalf("expected 1 imported / 0 failed, got %d/%d", batch.ImportedCount, batch.FailedCount)
	}

	// a re-upload of the same bytes is recognized without the client ever
	// echoing the hash back
	prior, err := models.FindBatchByContentHash(ctx, hash)
	if err != nil {
		t.Fatalf("FindBatchByContentHash after finalize: %v", err)
	}
	if prior.ID != batch.ID {
		t.Fatalf("the finalize batch must carry the upload hash, got batch %d", prior.ID)
	}
	staged, err := models.FindStagingByContentHash(ctx, hash)
	if err != nil {
		t.Fatalf("FindStagingByContentHash after finalize: %v", err)
	}
	if staged.Status != models.StagingStatusImported {
		t.Fatalf("the consumed staging row keeps its hash, got status %s", staged.Status)
	}
}

func TestDeleteStagingRejectsMixedSetsWhole(t *testing.T) {
	ctx := setupIntegrationDB(t)

	stage := func(lgNumber string) *models.StagingRecord {
		record, err := migration.IngestRecord(ctx, map[string]interface{}{
			migration.FieldLgNumber:        lgNumber,
			migration.FieldLgType:          "Performance",
			migration.FieldAmount:          "300000",
			migration.FieldCurrency:        "USD",
			migration.FieldIssuingBank:     "FCB",
			migration.FieldIssueDate:       "2024-05-01",
			migration.FieldExpiryDate:      "2030-05-01",
			migration.FieldBeneficiaryName: "Ministry of Power",
			migration.FieldApplicantName:   "Alpha Ltd",
		}, migration.IngestOptions{SourceFile: "manual"})
		if err != nil {
			t.Fatalf("IngestRecord %s: %v", lgNumber, err)
		}
		return record
	}

	kept := stage("LG-DEL-001")
	removable := stage("LG-DEL-002")

	db := config.GetDB().WithContext(ctx)
	if err := models.MarkStagingImported(db, []int{kept.ID}, 0, 0); err != nil {
		t.Fatalf("MarkStagingImported: %v", err)
	}

	// a set containing an imported row is rejected before anything is deleted
	if _, err := models.DeleteStagingRecords(ctx, []int{kept.ID, removable.ID}); err == nil {
		t.Fatalf("deleting a set with an imported row must fail")
	}
	if _, err := models.GetStagingRecord(ctx, removable.ID); err != nil {
		t.Fatalf("the rejected delete must not remove the deletable row: %v", err)
	}

	deleted, err := models.DeleteStagingRecords(ctx, []int{removable.ID})
	if err != nil {
		t.Fatalf("DeleteStagingRecords: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted row, got %d", deleted)
	}
}

func TestSessionUserContextStampsTenantAndRole(t *testing.T) {
	ctx := setupIntegrationDB(t)

	admin, err := models.CreateUser(ctx, &models.NewUser{
		Username: "admin@local",
		Password: "adminpassw0rd",
		Name:     "Admin",
		Role:     models.UserRoleAdmin,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	sessionCtx, err := models.SessionUserContext(
		utils.SetUsernameInContext(context.Background(), "admin@local"))
	if err != nil {
		t.Fatalf("SessionUserContext: %v", err)
	}
	if businessId, _ := utils.GetBusinessIdFromContext(sessionCtx); businessId != admin.BusinessId {
		t.Fatalf("session context must carry the user's business, got %q", businessId)
	}
	if userId, _ := utils.GetUserIdFromContext(sessionCtx); userId != admin.ID {
		t.Fatalf("session context must carry the user id, got %d", userId)
	}
	if isAdmin, _ := utils.GetIsAdminFromContext(sessionCtx); !isAdmin {
		t.Fatalf("an admin session must set the admin flag")
	}

	if _, err := models.SessionUserContext(context.Background()); err == nil {
		t.Fatalf("a context without a session username must be rejected")
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("lg-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("lg-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=lgflow_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
