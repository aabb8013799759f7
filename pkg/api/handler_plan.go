package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/plan"
	"github.com/medialib/curator/pkg/store"
)

// listPlansHandler handles GET /api/v1/plans with optional status,
// page and per_page query parameters.
func (s *Server) listPlansHandler(c *gin.Context) {
	var filter store.PlanFilter
	if v := c.Query("status"); v != "" {
		status := models.PlanStatus(v)
		if !status.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status: " + v})
			return
		}
		filter.Status = &status
	}

	page, err := positiveIntQuery(c, "page", 1)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	perPage, err := positiveIntQuery(c, "per_page", defaultPerPage)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	filter.Limit = perPage
	filter.Offset = (page - 1) * perPage

	plans, err := s.plans.List(c.Request.Context(), filter)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"plans":    plans,
		"count":    len(plans),
		"page":     page,
		"per_page": perPage,
	})
}

const defaultPerPage = 50

func positiveIntQuery(c *gin.Context, name string, fallback int) (int, error) {
	v := c.Query(name)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("%s must be a positive integer", name)
	}
	return n, nil
}

// getPlanHandler handles GET /api/v1/plans/:id. Changes come back grouped
// per scene with review counts.
func (s *Server) getPlanHandler(c *gin.Context) {
	detail, err := s.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, detail)
}

// planCostsHandler handles GET /api/v1/plans/:id/costs. The cost snapshot
// is taken at analysis time and persisted in the plan's metadata.
func (s *Server) planCostsHandler(c *gin.Context) {
	detail, err := s.plans.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	costs, ok := detail.Plan.Metadata["costs"]
	if !ok {
		costs = gin.H{}
	}
	c.JSON(http.StatusOK, gin.H{"plan_id": detail.Plan.ID, "costs": costs})
}

// ReviewChangeRequest is the body of PATCH /api/v1/changes/:id. Either
// field works alone: proposed_value edits the value (resetting the
// change to pending), accept approves or rejects it.
type ReviewChangeRequest struct {
	Accept        *bool           `json:"accept"`
	ProposedValue json.RawMessage `json:"proposed_value,omitempty"`
}

// reviewChangeHandler handles PATCH /api/v1/changes/:id.
func (s *Server) reviewChangeHandler(c *gin.Context) {
	var req ReviewChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Accept == nil && len(req.ProposedValue) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "accept or proposed_value is required"})
		return
	}

	changeID := c.Param("id")
	if len(req.ProposedValue) > 0 {
		if err := s.plans.EditChange(c.Request.Context(), changeID, req.ProposedValue); err != nil {
			renderError(c, err)
			return
		}
	}
	if req.Accept != nil {
		if err := s.plans.ReviewChange(c.Request.Context(), changeID, *req.Accept); err != nil {
			renderError(c, err)
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// BulkReviewRequest is the body of POST /api/v1/plans/:id/bulk.
type BulkReviewRequest struct {
	Action        store.BulkAction   `json:"action" binding:"required"`
	Field         models.ChangeField `json:"field,omitempty"`
	MinConfidence float64            `json:"min_confidence,omitempty"`
}

// bulkReviewHandler handles POST /api/v1/plans/:id/bulk.
func (s *Server) bulkReviewHandler(c *gin.Context) {
	var req BulkReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	affected, err := s.plans.BulkReview(c.Request.Context(), c.Param("id"), req.Action, req.Field, req.MinConfidence)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"affected": affected})
}

// ApplyPlanRequest is the body of POST /api/v1/plans/:id/apply.
type ApplyPlanRequest struct {
	Field     models.ChangeField `json:"field,omitempty"`
	ChangeIDs []string           `json:"change_ids,omitempty"`
}

// applyPlanHandler handles POST /api/v1/plans/:id/apply. The apply runs
// synchronously; individual change failures are collected in the result
// rather than failing the request.
func (s *Server) applyPlanHandler(c *gin.Context) {
	var req ApplyPlanRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := s.plans.Apply(c.Request.Context(), c.Param("id"), plan.ApplyOptions{
		Field:     req.Field,
		ChangeIDs: req.ChangeIDs,
	})
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// cancelPlanHandler handles POST /api/v1/plans/:id/cancel.
func (s *Server) cancelPlanHandler(c *gin.Context) {
	if err := s.plans.Cancel(c.Request.Context(), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

// deletePlanHandler handles DELETE /api/v1/plans/:id.
func (s *Server) deletePlanHandler(c *gin.Context) {
	if err := s.plans.Delete(c.Request.Context(), c.Param("id")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// planStatsHandler handles GET /api/v1/plans/stats.
func (s *Server) planStatsHandler(c *gin.Context) {
	stats, err := s.stats.Stats(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
