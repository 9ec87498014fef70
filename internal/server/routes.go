package server

import (
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/chirino/memory-policy/internal/cost"
	"github.com/chirino/memory-policy/internal/engine"
	"github.com/chirino/memory-policy/internal/merge"
	"github.com/chirino/memory-policy/internal/model"
	"github.com/chirino/memory-policy/internal/retention"
	registrystore "github.com/chirino/memory-policy/internal/registry/store"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var ready atomic.Bool

func markReady() { ready.Store(true) }

// MountRoutes mounts every API route on the router.
func MountRoutes(r *gin.Engine, eng *engine.Engine) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP"})
	})
	r.GET("/ready", func(c *gin.Context) {
		if ready.Load() {
			c.JSON(http.StatusOK, gin.H{"status": "UP"})
			return
		}
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "DOWN"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	g := r.Group("/v1")

	g.POST("/classify", func(c *gin.Context) { classifyScope(c, eng) })
	g.POST("/architecture", func(c *gin.Context) { selectArchitecture(c, eng) })

	g.POST("/records", func(c *gin.Context) { createRecord(c, eng) })
	g.GET("/records", func(c *gin.Context) { listRecords(c, eng) })
	g.GET("/records/:recordId", func(c *gin.Context) { getRecord(c, eng) })
	g.PUT("/records/:recordId", func(c *gin.Context) { updateRecord(c, eng) })
	g.DELETE("/records/:recordId", func(c *gin.Context) { deleteRecord(c, eng) })
	g.POST("/records/:recordId/touch", func(c *gin.Context) { touchRecord(c, eng) })

	g.POST("/retention/evaluate", func(c *gin.Context) { evaluateRetention(c, eng) })
	g.POST("/retention/sweep", func(c *gin.Context) { runSweep(c, eng) })

	g.POST("/dedup/run", func(c *gin.Context) { runDedup(c, eng) })
	g.GET("/dedup/pending", func(c *gin.Context) { listPendingDedup(c, eng) })
	g.POST("/dedup/confirm", func(c *gin.Context) { confirmDedup(c, eng) })

	g.POST("/context/merge", func(c *gin.Context) { mergeContext(c, eng) })
	g.POST("/cost/analyze", func(c *gin.Context) { analyzeCost(c, eng) })
}

func classifyScope(c *gin.Context, eng *engine.Engine) {
	var req struct {
		Description string `json:"description"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result, err := eng.ClassifyScope(req.Description)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func selectArchitecture(c *gin.Context, eng *engine.Engine) {
	var req struct {
		Description         string `json:"description"`
		ExpectedRecordCount *int64 `json:"expectedRecordCount,omitempty"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decision, err := eng.SelectArchitecture(req.Description, req.ExpectedRecordCount)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func createRecord(c *gin.Context, eng *engine.Engine) {
	var record model.MemoryRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record.ID = uuid.Nil
	if err := eng.Store().Upsert(c.Request.Context(), &record); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, record)
}

func listRecords(c *gin.Context, eng *engine.Engine) {
	ownerKey := c.Query("ownerKey")
	if ownerKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ownerKey is required"})
		return
	}
	records, err := eng.Store().ListByOwner(c.Request.Context(), ownerKey)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": records})
}

func getRecord(c *gin.Context, eng *engine.Engine) {
	id, err := uuid.Parse(c.Param("recordId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "record not found"})
		return
	}
	record, err := eng.Store().Get(c.Request.Context(), id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func updateRecord(c *gin.Context, eng *engine.Engine) {
	id, err := uuid.Parse(c.Param("recordId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "record not found"})
		return
	}
	var record model.MemoryRecord
	if err := c.ShouldBindJSON(&record); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	record.ID = id
	if err := eng.Store().Upsert(c.Request.Context(), &record); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, record)
}

func deleteRecord(c *gin.Context, eng *engine.Engine) {
	id, err := uuid.Parse(c.Param("recordId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "record not found"})
		return
	}
	if err := eng.Store().Delete(c.Request.Context(), id); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func touchRecord(c *gin.Context, eng *engine.Engine) {
	id, err := uuid.Parse(c.Param("recordId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": "record not found"})
		return
	}
	if err := eng.Store().Touch(c.Request.Context(), id, time.Now()); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func evaluateRetention(c *gin.Context, eng *engine.Engine) {
	var req struct {
		RecordID          uuid.UUID `json:"recordId"`
		DeletionRequested bool      `json:"deletionRequested"`
		SessionEnded      bool      `json:"sessionEnded"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	decision, err := eng.EvaluateRetention(c.Request.Context(), req.RecordID, retention.Request{
		DeletionRequested: req.DeletionRequested,
		SessionEnded:      req.SessionEnded,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, decision)
}

func runSweep(c *gin.Context, eng *engine.Engine) {
	var req struct {
		OwnerKey string `json:"ownerKey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.OwnerKey != "" {
		summary, err := eng.SweepOwner(c.Request.Context(), req.OwnerKey)
		if err != nil {
			handleError(c, err)
			return
		}
		c.JSON(http.StatusOK, summary)
		return
	}
	summaries, err := eng.SweepAll(c.Request.Context())
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": summaries})
}

func runDedup(c *gin.Context, eng *engine.Engine) {
	var req struct {
		OwnerKey string `json:"ownerKey"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	groups, err := eng.RunDedup(c.Request.Context(), req.OwnerKey)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": groups})
}

func listPendingDedup(c *gin.Context, eng *engine.Engine) {
	c.JSON(http.StatusOK, gin.H{"data": eng.PendingDedupGroups()})
}

func confirmDedup(c *gin.Context, eng *engine.Engine) {
	var req struct {
		GroupID uuid.UUID `json:"groupId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := eng.ConfirmDedup(c.Request.Context(), req.GroupID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func mergeContext(c *gin.Context, eng *engine.Engine) {
	var req struct {
		Query         string                 `json:"query"`
		OwnerKeys     map[model.Scope]string `json:"ownerKeys"`
		LimitPerScope int                    `json:"limitPerScope"`
		GlobalLimit   int                    `json:"globalLimit"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	results, err := eng.MergeContext(c.Request.Context(), merge.Request{
		Query:         req.Query,
		OwnerKeys:     req.OwnerKeys,
		LimitPerScope: req.LimitPerScope,
		GlobalLimit:   req.GlobalLimit,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": results})
}

func analyzeCost(c *gin.Context, eng *engine.Engine) {
	var usage cost.UsageStats
	if err := c.ShouldBindJSON(&usage); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	report, err := eng.AnalyzeCost(usage)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func handleError(c *gin.Context, err error) {
	var notFound *registrystore.NotFoundError
	var validation *registrystore.ValidationError
	var conflict *registrystore.ConflictError
	var unavailable *registrystore.UnavailableError
	var invalidInput *model.InvalidInputError
	var policyViolation *model.PolicyViolationError

	switch {
	case errors.As(err, &notFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "not_found", "error": err.Error()})
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"code": "validation_error", "error": err.Error()})
	case errors.As(err, &invalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"code": "invalid_input", "error": err.Error()})
	case errors.As(err, &policyViolation):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"code": "policy_violation", "error": err.Error()})
	case errors.As(err, &conflict):
		c.JSON(http.StatusConflict, gin.H{"code": "conflict", "error": err.Error()})
	case errors.Is(err, retention.ErrSweepInProgress):
		c.JSON(http.StatusConflict, gin.H{"code": "sweep_in_progress", "error": err.Error()})
	case errors.As(err, &unavailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{"code": "store_unavailable", "error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
	}
}
