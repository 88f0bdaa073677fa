package possync

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/models"
	"gorm.io/gorm"
)

func StatusHandler(w *Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cursor models.SyncCursor
		err := w.db.WithContext(c.Request.Context()).Where("source = ?", w.source).Take(&cursor).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, StatusResponse{
			Source:            w.source,
			LastSyncAt:        formatTime(cursor.LastSyncAt),
			LastSuccessSyncAt: formatTime(cursor.LastSuccessSyncAt),
			Cursor:            DecodeCursorState(cursor.CursorStateJSON),
		})
	}
}

func TriggerSyncHandler(w *Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, err := w.CreateRun(c.Request.Context(), models.SyncTriggeredManual)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		w.dispatch(c.Request.Context(), run.ID)
		c.JSON(http.StatusOK, gin.H{"id": run.ID})
	}
}

func SyncHistoryHandler(w *Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 20
		if v := strings.TrimSpace(c.Query("limit")); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				limit = n
			}
		}

		var runs []models.SyncRun
		if err := w.db.WithContext(c.Request.Context()).
			Where("source = ?", w.source).
			Order("id desc").
			Limit(limit).
			Find(&runs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		items := make([]SyncRunResponse, 0, len(runs))
		for _, run := range runs {
			items = append(items, mapRunToResponse(run))
		}
		c.JSON(http.StatusOK, SyncHistoryResponse{Items: items})
	}
}

func SyncRunDetailHandler(w *Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := w.runFromParam(c)
		if !ok {
			return
		}

		var errs []models.SyncError
		if err := w.db.WithContext(c.Request.Context()).Where("sync_run_id = ?", run.ID).Order("id desc").Find(&errs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, SyncRunDetailResponse{
			SyncRunResponse: mapRunToResponse(*run),
			Errors:          mapErrors(errs),
		})
	}
}

func RetrySyncRunHandler(w *Worker) gin.HandlerFunc {
	return func(c *gin.Context) {
		run, ok := w.runFromParam(c)
		if !ok {
			return
		}

		newRun := models.SyncRun{
			Source:      run.Source,
			Status:      models.SyncRunStatusQueued,
			TriggeredBy: models.SyncTriggeredRetry,
			ParentRunId: &run.ID,
		}
		if err := w.db.WithContext(c.Request.Context()).Create(&newRun).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		w.dispatch(c.Request.Context(), newRun.ID)
		c.JSON(http.StatusOK, gin.H{"id": newRun.ID})
	}
}

// dispatch publishes the run for the push worker. Without Pub/Sub the run is
// executed in-process.
func (w *Worker) dispatch(ctx context.Context, runId uint) {
	err := PublishSyncRun(ctx, runId, w.source)
	if err == nil {
		return
	}
	config.LogError(w.logger, "handlers.go", "dispatch", "PublishSyncRun", runId, err)
	go func() {
		if err := w.ProcessRun(context.WithoutCancel(ctx), runId); err != nil {
			config.LogError(w.logger, "handlers.go", "dispatch", "ProcessRun", runId, err)
		}
	}()
}

func (w *Worker) runFromParam(c *gin.Context) (*models.SyncRun, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return nil, false
	}
	var run models.SyncRun
	if err := w.db.WithContext(c.Request.Context()).Where("id = ? AND source = ?", id, w.source).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return nil, false
	}
	return &run, true
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	resp := SyncRunResponse{
		ID:            run.ID,
		Source:        run.Source,
		Status:        run.Status,
		StartedAt:     formatTime(run.StartedAt),
		FinishedAt:    formatTime(run.FinishedAt),
		DurationMs:    run.DurationMs,
		RecordsSynced: run.RecordsSynced,
		ErrorCount:    run.ErrorCount,
		TriggeredBy:   run.TriggeredBy,
	}
	if len(run.StatsJSON) > 0 {
		_ = json.Unmarshal(run.StatsJSON, &resp.Stats)
	}
	return resp
}

func mapErrors(errorsList []models.SyncError) []SyncErrorResponse {
	out := make([]SyncErrorResponse, 0, len(errorsList))
	for _, errItem := range errorsList {
		out = append(out, SyncErrorResponse{
			ID:         errItem.ID,
			EntityType: errItem.EntityType,
			ExternalId: errItem.ExternalId,
			ErrorCode:  errItem.ErrorCode,
			Message:    errItem.Message,
		})
	}
	return out
}

// Register mounts the sync endpoints under group.
func Register(group *gin.RouterGroup, w *Worker) {
	group.GET("/status", StatusHandler(w))
	group.POST("/sync", TriggerSyncHandler(w))
	group.GET("/sync-runs", SyncHistoryHandler(w))
	group.GET("/sync-runs/:id", SyncRunDetailHandler(w))
	group.POST("/sync-runs/:id/retry", RetrySyncRunHandler(w))
}
