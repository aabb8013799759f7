package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/medialib/curator/pkg/models"
	"github.com/medialib/curator/pkg/store"
)

// listJobsHandler handles GET /api/v1/jobs.
func (s *Server) listJobsHandler(c *gin.Context) {
	var filter store.JobFilter
	if v := c.Query("status"); v != "" {
		status := models.JobStatus(v)
		filter.Status = &status
	}
	if v := c.Query("type"); v != "" {
		jobType := models.JobType(v)
		filter.Type = &jobType
	}
	filter.Limit = 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}

	jobs, err := s.jobs.List(c.Request.Context(), filter)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

// getJobHandler handles GET /api/v1/jobs/:id.
func (s *Server) getJobHandler(c *gin.Context) {
	job, err := s.jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

// cancelJobHandler handles POST /api/v1/jobs/:id/cancel. A job running on
// this process is cancelled through the pool and the worker writes the
// terminal state; otherwise the store cancels it directly.
func (s *Server) cancelJobHandler(c *gin.Context) {
	jobID := c.Param("id")
	if s.pool != nil && s.pool.CancelJob(jobID) {
		c.JSON(http.StatusOK, gin.H{"status": "cancelling"})
		return
	}
	if err := s.jobs.Cancel(c.Request.Context(), jobID); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}
