package api

import "github.com/deepresearch/researchd/pkg/models"

// EnqueueResearchJobResponse is the response of POST /api/v1/research-jobs.
type EnqueueResearchJobResponse struct {
	JobID string `json:"job_id"`
}

// ResearchJobResponse is the full persisted record returned by
// get_research_job (§6). Result is only populated once the job has
// actually completed, mirroring the original service's behavior of never
// exposing a stale or in-progress result field.
type ResearchJobResponse struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	SessionID       string  `json:"session_id"`
	CurrentNode     string  `json:"current_node"`
	ProgressMessage string  `json:"progress_message"`
	Result          *string `json:"result,omitempty"`
	Error           *string `json:"error,omitempty"`
}

func newResearchJobResponse(job *models.ResearchJob) ResearchJobResponse {
	resp := ResearchJobResponse{
		ID:              job.ID.String(),
		Type:            "research",
		Status:          string(job.Status),
		SessionID:       job.SessionID,
		CurrentNode:     string(job.CurrentNode),
		ProgressMessage: job.ProgressMessage,
		Error:           job.Error,
	}
	if job.Status == models.JobStatusCompleted {
		resp.Result = job.ResultText
	}
	return resp
}

// ActiveTaskResponse mirrors get_active_research_job_for_session (§6).
type ActiveTaskResponse struct {
	ID              string  `json:"id"`
	Type            string  `json:"type"`
	Status          string  `json:"status"`
	CurrentNode     *string `json:"current_node,omitempty"`
	ProgressMessage *string `json:"progress_message,omitempty"`
}

func newActiveTaskResponse(task *models.ActiveTask) ActiveTaskResponse {
	resp := ActiveTaskResponse{
		ID:              task.ID,
		Type:            task.Type,
		Status:          string(task.Status),
		ProgressMessage: task.ProgressMessage,
	}
	if task.CurrentNode != nil {
		tag := string(*task.CurrentNode)
		resp.CurrentNode = &tag
	}
	return resp
}
