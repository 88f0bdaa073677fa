// Package adminapi serves the operator-facing HTTP API of the resolver:
// review of unverified items, verification, merges, undo and rebuilds.
package adminapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/menu_backend/catalog"
	"github.com/mmdatafocus/menu_backend/config"
	"github.com/mmdatafocus/menu_backend/ingest"
	"github.com/mmdatafocus/menu_backend/matcher"
	"github.com/mmdatafocus/menu_backend/metrics"
	"github.com/mmdatafocus/menu_backend/models"
	"github.com/mmdatafocus/menu_backend/normalizer"
	"github.com/mmdatafocus/menu_backend/workflow"
	"github.com/sirupsen/logrus"
)

type Server struct {
	engine   *workflow.Engine
	matcher  *matcher.Matcher
	pool     *ingest.Pool
	store    *catalog.Store
	validate *validator.Validate
	logger   *logrus.Logger
}

func NewServer(engine *workflow.Engine, m *matcher.Matcher, pool *ingest.Pool, store *catalog.Store, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = config.GetLogger()
	}
	return &Server{
		engine:   engine,
		matcher:  m,
		pool:     pool,
		store:    store,
		validate: validator.New(),
		logger:   logger,
	}
}

// NewRouter builds the gin engine with the ambient middleware chain. Routes
// under the returned group require an operator token; callers may mount
// further authenticated routes on it.
func (s *Server) NewRouter() (*gin.Engine, *gin.RouterGroup) {
	r := gin.New()
	r.Use(CorrelationId())
	r.Use(cors.New(CorsConfig()))
	r.Use(metrics.GinMiddleware())
	r.Use(RequestLogger(s.logger))
	r.Use(gin.Recovery())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	api := r.Group("/api", OperatorAuth())
	api.GET("/items/unverified", s.ListUnverified)
	api.GET("/items/unverified/export", s.ExportUnverified)
	api.POST("/items/:id/verify", s.Verify)
	api.GET("/merges", s.ListMerges)
	api.POST("/merges", s.Merge)
	api.POST("/merges/:id/undo", s.UndoMerge)
	api.POST("/rebuild", s.Rebuild)
	api.GET("/stats", s.Stats)
	api.POST("/resolve", s.Resolve)
	api.POST("/orders", s.IngestOrders)

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})
	return r, api
}

// statusFor maps workflow and catalog errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrAmbiguousMerge):
		return http.StatusUnprocessableEntity
	case errors.Is(err, workflow.ErrUndoUnavailable), errors.Is(err, workflow.ErrItemInactive):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrItemNotFound), errors.Is(err, catalog.ErrMergeNotFound):
		return http.StatusNotFound
	case errors.Is(err, models.ErrInvalidCategory), errors.Is(err, workflow.ErrInvalidName),
		errors.Is(err, normalizer.ErrMalformedInput):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, funcName string, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		config.LogError(s.logger, "adminapi", funcName, c.FullPath(), nil, err)
		_ = c.Error(err)
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
