package migration

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mmdatafocus/lg_backend/models"
	"github.com/mmdatafocus/lg_backend/utils"
)

const maxUploadSizeBytes = 10 << 20 // 10MB

// UploadResponse reports the per-status outcome of one file upload. Per-record
// validation failures are data here, never a request failure.
type UploadResponse struct {
	BatchHash  string         `json:"batch_hash"`
	Total      int            `json:"total"`
	Counts     map[string]int `json:"counts"`
	StagingIds []int          `json:"staging_ids"`
}

// resolveSessionContext stamps the session user's tenant identity into the
// request context.
func resolveSessionContext(c *gin.Context) (context.Context, error) {
	return models.SessionUserContext(c.Request.Context())
}

// UploadHandler ingests a JSON/CSV/XLSX file. The whole upload is rejected
// before any staging when the file cannot be parsed or its content hash
// matches an already processed batch.
func UploadHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := resolveSessionContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
			return
		}
		if fileHeader.Size > maxUploadSizeBytes {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file exceeds 10MB limit"})
			return
		}

		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
			return
		}
		defer file.Close()
		data, err := io.ReadAll(io.LimitReader(file, maxUploadSizeBytes+1))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
			return
		}

		hash := ContentHash(data)
		if prior, err := models.FindBatchByContentHash(ctx, hash); err == nil {
			c.JSON(http.StatusConflict, gin.H{
				"error":    "file already processed",
				"batch_id": prior.ID,
			})
			return
		} else if !errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		// staged rows carry the hash too, so a re-upload stays recognized
		// whether or not an import has consumed them yet
		if prior, err := models.FindStagingByContentHash(ctx, hash); err == nil {
			c.JSON(http.StatusConflict, gin.H{
				"error":      "file already staged",
				"staging_id": prior.ID,
			})
			return
		} else if !errors.Is(err, utils.ErrorRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		rows, err := ParseUpload(fileHeader.Filename, data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		response := UploadResponse{
			BatchHash: hash,
			Total:     len(rows),
			Counts:    map[string]int{},
		}
		for _, row := range rows {
			record, err := IngestRecord(ctx, row, IngestOptions{SourceFile: fileHeader.Filename, ContentHash: hash})
			if err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
			response.Counts[string(record.Status)]++
			response.StagingIds = append(response.StagingIds, record.ID)
		}

		c.JSON(http.StatusOK, gin.H{"data": response})
	}
}

// ManualEntryHandler stages one record's canonical-field payload directly,
// bypassing header mapping but sharing the rest of the pipeline.
func ManualEntryHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := resolveSessionContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var raw map[string]interface{}
		if err := c.ShouldBindJSON(&raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if len(raw) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
			return
		}

		payload := map[string]interface{}{}
		for key, value := range raw {
			canonical, _ := CanonicalField(key)
			payload[canonical] = value
		}
		normalizeRow(payload)

		record, err := IngestRecord(ctx, payload, IngestOptions{SourceFile: "manual"})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": record})
	}
}

// RevalidateHandler re-runs the pipeline for one staging record, optionally
// merging a partial payload correction first.
func RevalidateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := resolveSessionContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}

		partial := map[string]interface{}{}
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&partial); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
				return
			}
		}

		record, err := RevalidateStagingRecord(ctx, id, partial)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, utils.ErrorRecordNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": record})
	}
}

// DeleteStagingHandler removes one or more not-yet-imported staging records.
func DeleteStagingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := resolveSessionContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req struct {
			Ids []int `json:"ids"`
		}
		if idParam := c.Param("id"); idParam != "" {
			id, err := strconv.Atoi(idParam)
			if err != nil || id <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
				return
			}
			req.Ids = []int{id}
		} else if err := c.ShouldBindJSON(&req); err != nil || len(req.Ids) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "ids are required"})
			return
		}

		deleted, err := models.DeleteStagingRecords(ctx, req.Ids)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, utils.ErrorRecordNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"deleted": deleted})
	}
}

// ListStagingHandler exposes staging records with their payload, status and
// validation log for the correction UI.
func ListStagingHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := resolveSessionContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var status *models.StagingRecordStatus
		if s := strings.TrimSpace(c.Query("status")); s != "" {
			v := models.StagingRecordStatus(s)
			status = &v
		}

		records, err := models.GetStagingRecords(ctx, status)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": records})
	}
}

// HistoricalImportHandler runs the reconstruction pipeline over everything
// ready for import.
func HistoricalImportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := resolveSessionContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		var req struct {
			SourceFiles []string `json:"source_files"`
		}
		if c.Request.ContentLength > 0 {
			_ = c.ShouldBindJSON(&req)
		}

		batch, err := RunHistoricalImport(ctx, req.SourceFiles)
		if err != nil {
			c.JSON(importErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": batchSummary(batch)})
	}
}

// FinalizeImportHandler commits ready records one-to-one with no replay.
func FinalizeImportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := resolveSessionContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		batch, err := RunFinalizeImport(ctx)
		if err != nil {
			c.JSON(importErrorStatus(err), gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": batchSummary(batch)})
	}
}

func importErrorStatus(err error) int {
	switch {
	case errors.Is(err, ErrNoEligibleRecords):
		return http.StatusBadRequest
	case errors.Is(err, ErrMigrationLocked):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func batchSummary(batch *models.MigrationBatch) gin.H {
	return gin.H{
		"id":       batch.ID,
		"imported": batch.ImportedCount,
		"updated":  batch.UpdatedCount,
		"failed":   batch.FailedCount,
		"skipped":  batch.SkippedCount,
		"failures": batch.FailureList(),
	}
}

// ListBatchesHandler returns import runs newest first.
func ListBatchesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := resolveSessionContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		batches, err := models.GetMigrationBatches(ctx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": batches})
	}
}

func GetBatchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := resolveSessionContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}

		batch, err := models.GetMigrationBatch(ctx, id)
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, utils.ErrorRecordNotFound) {
				status = http.StatusNotFound
			}
			c.JSON(status, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": batch})
	}
}

// ChangeLogHandler returns one record's replayed amendment history.
func ChangeLogHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, err := resolveSessionContext(c)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		id, err := strconv.Atoi(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
			return
		}

		entries, err := models.GetLgChangeLogs(ctx, id)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"data": entries})
	}
}

// RegisterRoutes wires the migration surface under the given group.
func RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/upload", UploadHandler())
	rg.POST("/manual", ManualEntryHandler())
	rg.GET("/staging", ListStagingHandler())
	rg.POST("/staging/:id/revalidate", RevalidateHandler())
	rg.DELETE("/staging/:id", DeleteStagingHandler())
	rg.DELETE("/staging", DeleteStagingHandler())
	rg.POST("/import/historical", HistoricalImportHandler())
	rg.POST("/import/finalize", FinalizeImportHandler())
	rg.GET("/batches", ListBatchesHandler())
	rg.GET("/batches/:id", GetBatchHandler())
	rg.GET("/lg-records/:id/changelog", ChangeLogHandler())
}
