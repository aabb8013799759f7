// Package api exposes the operator HTTP surface: plan review and apply,
// analysis and sync triggers, the job queue, and a server-sent event
// stream of job progress.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/medialib/curator/pkg/cleanup"
	"github.com/medialib/curator/pkg/database"
	"github.com/medialib/curator/pkg/events"
	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/plan"
	"github.com/medialib/curator/pkg/queue"
	"github.com/medialib/curator/pkg/store"
	"github.com/medialib/curator/pkg/version"
)

// PlanService is the plan lifecycle surface. Satisfied by *plan.Service.
type PlanService interface {
	List(ctx context.Context, f store.PlanFilter) ([]models.AnalysisPlan, error)
	Get(ctx context.Context, planID string) (*plan.Detail, error)
	ReviewChange(ctx context.Context, changeID string, accept bool) error
	EditChange(ctx context.Context, changeID string, proposed json.RawMessage) error
	BulkReview(ctx context.Context, planID string, action store.BulkAction, field models.ChangeField, minConfidence float64) (int, error)
	Apply(ctx context.Context, planID string, opts plan.ApplyOptions) (*plan.ApplyResult, error)
	Cancel(ctx context.Context, planID string) error
	Delete(ctx context.Context, planID string) error
}

// JobService is the job queue surface the handlers need.
type JobService interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	List(ctx context.Context, f store.JobFilter) ([]models.Job, error)
	Cancel(ctx context.Context, id string) error
}

// StatsService aggregates plan statistics. Satisfied by *store.PlanStore.
type StatsService interface {
	Stats(ctx context.Context) (*store.PlanStats, error)
}

// HistoryService lists sync history. Satisfied by *store.SyncHistoryStore.
type HistoryService interface {
	Recent(ctx context.Context, limit int) ([]models.SyncHistory, error)
}

// Pool is the worker pool surface the handlers need.
type Pool interface {
	CancelJob(jobID string) bool
	Health() *queue.PoolHealth
}

// Sweeper runs a retention sweep on demand. Satisfied by *cleanup.Service.
type Sweeper interface {
	Run(ctx context.Context) (*cleanup.Result, error)
}

// Pinger checks database connectivity. Satisfied by *database.Client.
type Pinger interface {
	Health(ctx context.Context) (*database.HealthStatus, error)
}

// Server holds the handler dependencies.
type Server struct {
	plans   PlanService
	jobs    JobService
	stats   StatsService
	history HistoryService
	pool    Pool
	sweeper Sweeper
	bus     *events.Bus
	db      Pinger
	logger  *slog.Logger
}

// NewServer creates the API server. pool, sweeper, bus and db may be nil
// in tests; the affected endpoints degrade accordingly.
func NewServer(plans PlanService, jobs JobService, stats StatsService, history HistoryService, pool Pool, sweeper Sweeper, bus *events.Bus, db Pinger, logger *slog.Logger) *Server {
	return &Server{
		plans:   plans,
		jobs:    jobs,
		stats:   stats,
		history: history,
		pool:    pool,
		sweeper: sweeper,
		bus:     bus,
		db:      db,
		logger:  logger.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.logger), securityHeaders())

	r.GET("/health", s.healthHandler)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/plans", s.listPlansHandler)
		v1.GET("/plans/stats", s.planStatsHandler)
		v1.GET("/plans/:id", s.getPlanHandler)
		v1.GET("/plans/:id/costs", s.planCostsHandler)
		v1.POST("/plans/:id/apply", s.applyPlanHandler)
		v1.POST("/plans/:id/cancel", s.cancelPlanHandler)
		v1.POST("/plans/:id/bulk", s.bulkReviewHandler)
		v1.DELETE("/plans/:id", s.deletePlanHandler)
		v1.PATCH("/changes/:id", s.reviewChangeHandler)

		v1.POST("/analysis", s.triggerAnalysisHandler)

		v1.POST("/sync", s.triggerSyncHandler)
		v1.GET("/sync/history", s.syncHistoryHandler)

		v1.GET("/jobs", s.listJobsHandler)
		v1.GET("/jobs/:id", s.getJobHandler)
		v1.POST("/jobs/:id/cancel", s.cancelJobHandler)
		v1.GET("/jobs/:id/events", s.jobEventsHandler)
		v1.GET("/events", s.globalEventsHandler)

		v1.POST("/cleanup", s.triggerCleanupHandler)
	}

	return r
}

// healthHandler handles GET /health.
func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	body := gin.H{
		"status":  "healthy",
		"version": version.Full(),
	}
	if s.pool != nil {
		body["queue"] = s.pool.Health()
	}
	if s.db != nil {
		dbHealth, err := s.db.Health(ctx)
		body["database"] = dbHealth
		if err != nil {
			body["status"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, body)
			return
		}
	}
	c.JSON(http.StatusOK, body)
}
