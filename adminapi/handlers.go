package adminapi

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/menu_backend/ingest"
	"github.com/mmdatafocus/menu_backend/metrics"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/utils"
	"github.com/mmdatafocus/menu_backend/workflow"
	"github.com/shopspring/decimal"
)

type verifyRequest struct {
	Name     *string `json:"name" validate:"omitempty,max=200"`
	Category *string `json:"category" validate:"omitempty,max=50"`
}

type mergeRequest struct {
	SourceId    int  `json:"source_id" validate:"required,gt=0"`
	TargetId    int  `json:"target_id" validate:"required,gt=0,nefield=SourceId"`
	AdoptPrices bool `json:"adopt_prices"`
}

type resolveRequest struct {
	Name  string          `json:"name" validate:"required,max=500"`
	Price decimal.Decimal `json:"price"`
}

// bind decodes and validates a JSON body, answering 400 itself on failure.
func (s *Server) bind(c *gin.Context, req any) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return false
	}
	if err := s.validate.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return false
	}
	return true
}

func idParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func (s *Server) ListUnverified(c *gin.Context) {
	items, err := s.engine.ListUnverifiedItems(c.Request.Context())
	if err != nil {
		s.fail(c, "ListUnverified", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": items})
}

func (s *Server) ExportUnverified(c *gin.Context) {
	var buf bytes.Buffer
	n, err := s.store.ExportUnverifiedXLSX(c.Request.Context(), &buf)
	if err != nil {
		s.fail(c, "ExportUnverified", err)
		return
	}
	filename := fmt.Sprintf("unverified-%s.xlsx", time.Now().UTC().Format("20060102-150405"))
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Header("X-Item-Count", strconv.Itoa(n))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

func (s *Server) Verify(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	var req verifyRequest
	if c.Request.ContentLength != 0 && !s.bind(c, &req) {
		return
	}
	in := workflow.VerifyInput{ItemId: id, Name: req.Name}
	if req.Category != nil {
		category := models.Category(*req.Category)
		in.Category = &category
	}
	res, err := s.engine.VerifyItem(c.Request.Context(), in)
	metrics.ObserveWorkflow("verify", err)
	if err != nil {
		s.fail(c, "Verify", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) ListMerges(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}
	history, err := s.engine.ListMergeHistory(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, "ListMerges", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"items": history})
}

func (s *Server) Merge(c *gin.Context) {
	var req mergeRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.engine.Merge(c.Request.Context(), req.SourceId, req.TargetId, req.AdoptPrices)
	metrics.ObserveWorkflow("merge", err)
	if err != nil {
		s.fail(c, "Merge", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) UndoMerge(c *gin.Context) {
	id, ok := idParam(c)
	if !ok {
		return
	}
	item, err := s.engine.UndoMerge(c.Request.Context(), id)
	metrics.ObserveWorkflow("undo", err)
	if err != nil {
		s.fail(c, "UndoMerge", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"item": item})
}

func (s *Server) Rebuild(c *gin.Context) {
	report, err := s.engine.RebuildCatalogFromBrain(c.Request.Context())
	metrics.ObserveWorkflow("rebuild", err)
	if err != nil {
		s.fail(c, "Rebuild", err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) Stats(c *gin.Context) {
	stats, err := s.engine.Stats(c.Request.Context())
	if err != nil {
		s.fail(c, "Stats", err)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Resolve runs one raw name through the matcher. It writes to the catalog
// like any ingested line but stores no line item.
func (s *Server) Resolve(c *gin.Context) {
	var req resolveRequest
	if !s.bind(c, &req) {
		return
	}
	res, err := s.matcher.ResolvePriced(c.Request.Context(), req.Name, req.Price)
	if err != nil {
		s.fail(c, "Resolve", err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (s *Server) IngestOrders(c *gin.Context) {
	var orders []ingest.OrderPayload
	if err := c.ShouldBindJSON(&orders); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": utils.ProcessValidationErrors(err)})
		return
	}
	report, err := s.pool.Process(c.Request.Context(), orders)
	if err != nil {
		s.fail(c, "IngestOrders", err)
		return
	}
	c.JSON(http.StatusOK, report)
}
