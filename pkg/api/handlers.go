package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/models"
	"github.com/deepresearch/researchd/pkg/queue"
	"github.com/deepresearch/researchd/pkg/session"
	"github.com/deepresearch/researchd/pkg/version"
)

// Server holds the dependencies the three external-interface operations
// (§6) need: a job executor to enqueue and read research jobs, and an
// active-task tracker to answer the session-scoped slot query.
type Server struct {
	jobs        *queue.ResearchJobExecutor
	activeTasks *session.ActiveTaskTracker
}

// NewServer constructs a Server. Neither dependency may be nil.
func NewServer(jobs *queue.ResearchJobExecutor, activeTasks *session.ActiveTaskTracker) *Server {
	return &Server{jobs: jobs, activeTasks: activeTasks}
}

// createResearchJob handles POST /api/v1/research-jobs.
func (s *Server) createResearchJob(c *gin.Context) {
	var req EnqueueResearchJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	modelTier := config.ModelTier(req.ModelTier)
	breadth := config.Breadth(req.Breadth)
	depth := config.Depth(req.Depth)
	docLength := config.DocumentLength(req.DocumentLength)
	if !modelTier.IsValid() || !breadth.IsValid() || !depth.IsValid() || !docLength.IsValid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid model_tier, breadth, depth, or document_length"})
		return
	}

	request := models.ResearchRequest{
		ResearchIdea:   req.ResearchIdea,
		ModelTier:      models.ModelTier(req.ModelTier),
		Breadth:        models.Breadth(req.Breadth),
		Depth:          models.Depth(req.Depth),
		DocumentLength: models.DocumentLength(req.DocumentLength),
	}

	jobID, err := s.jobs.EnqueueResearchJob(c.Request.Context(), req.UserID, req.SessionID, request)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue research job"})
		return
	}
	c.JSON(http.StatusAccepted, EnqueueResearchJobResponse{JobID: jobID})
}

// getResearchJob handles GET /api/v1/research-jobs/:id.
func (s *Server) getResearchJob(c *gin.Context) {
	job, err := s.jobs.GetResearchJob(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load research job"})
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "research job not found"})
		return
	}
	c.JSON(http.StatusOK, newResearchJobResponse(job))
}

// getActiveTask handles GET /api/v1/sessions/:id/active-task.
func (s *Server) getActiveTask(c *gin.Context) {
	task, err := s.activeTasks.GetActive(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load active task"})
		return
	}
	if task == nil {
		c.JSON(http.StatusNoContent, nil)
		return
	}
	c.JSON(http.StatusOK, newActiveTaskResponse(task))
}

// health reports liveness and the build version.
func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version.Full()})
}
