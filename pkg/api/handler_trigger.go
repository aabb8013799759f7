package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/medialib/curator/pkg/analysis"
	"github.com/medialib/curator/pkg/models"
)

// TriggerAnalysisRequest is the body of POST /api/v1/analysis. It becomes
// the analysis job's metadata document.
type TriggerAnalysisRequest struct {
	SceneIDs      []string         `json:"scene_ids,omitempty"`
	PlanName      string           `json:"plan_name,omitempty"`
	Options       analysis.Options `json:"options"`
	Organized     *bool            `json:"organized,omitempty"`
	Analyzed      *bool            `json:"analyzed,omitempty"`
	VideoAnalyzed *bool            `json:"video_analyzed,omitempty"`
	StudioID      *string          `json:"studio_id,omitempty"`
}

// triggerAnalysisHandler handles POST /api/v1/analysis. The run executes
// asynchronously; the response carries the job to poll or subscribe to.
func (s *Server) triggerAnalysisHandler(c *gin.Context) {
	var req TriggerAnalysisRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	metadata := map[string]any{
		"trigger": "operator",
		"options": req.Options,
	}
	if len(req.SceneIDs) > 0 {
		metadata["scene_ids"] = req.SceneIDs
	}
	if req.PlanName != "" {
		metadata["plan_name"] = req.PlanName
	}
	if req.Organized != nil {
		metadata["organized"] = *req.Organized
	}
	if req.Analyzed != nil {
		metadata["analyzed"] = *req.Analyzed
	}
	if req.VideoAnalyzed != nil {
		metadata["video_analyzed"] = *req.VideoAnalyzed
	}
	if req.StudioID != nil {
		metadata["studio_id"] = *req.StudioID
	}

	s.createJob(c, models.JobTypeAnalysis, metadata)
}

// TriggerSyncRequest is the body of POST /api/v1/sync.
type TriggerSyncRequest struct {
	// Mode is full, incremental or targeted; default incremental.
	Mode     string   `json:"mode,omitempty"`
	Force    bool     `json:"force,omitempty"`
	SceneIDs []string `json:"scene_ids,omitempty"`
	Query    string   `json:"query,omitempty"`
}

// triggerSyncHandler handles POST /api/v1/sync.
func (s *Server) triggerSyncHandler(c *gin.Context) {
	var req TriggerSyncRequest
	if err := c.ShouldBindJSON(&req); err != nil && err.Error() != "EOF" {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var jobType models.JobType
	switch req.Mode {
	case "full":
		jobType = models.JobTypeSyncFull
	case "incremental", "":
		jobType = models.JobTypeSyncIncremental
	case "targeted":
		jobType = models.JobTypeSyncTargeted
		if len(req.SceneIDs) == 0 && req.Query == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "targeted sync needs scene_ids or query"})
			return
		}
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid mode: " + req.Mode})
		return
	}

	metadata := map[string]any{"trigger": "operator"}
	if req.Force {
		metadata["force"] = true
	}
	if len(req.SceneIDs) > 0 {
		metadata["scene_ids"] = req.SceneIDs
	}
	if req.Query != "" {
		metadata["query"] = req.Query
	}

	s.createJob(c, jobType, metadata)
}

// triggerCleanupHandler handles POST /api/v1/cleanup: an immediate
// retention sweep outside the scheduled cadence.
func (s *Server) triggerCleanupHandler(c *gin.Context) {
	if s.sweeper == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cleanup not configured"})
		return
	}
	result, err := s.sweeper.Run(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// syncHistoryHandler handles GET /api/v1/sync/history.
func (s *Server) syncHistoryHandler(c *gin.Context) {
	history, err := s.history.Recent(c.Request.Context(), 50)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": history, "count": len(history)})
}

func (s *Server) createJob(c *gin.Context, jobType models.JobType, metadata map[string]any) {
	job := &models.Job{Type: jobType, Metadata: metadata}
	if err := s.jobs.Create(c.Request.Context(), job); err != nil {
		renderError(c, err)
		return
	}
	s.logger.Info("job enqueued", "job_type", string(jobType), "job_id", job.ID)
	c.JSON(http.StatusAccepted, job)
}
