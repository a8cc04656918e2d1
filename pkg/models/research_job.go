package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle status shared by ResearchJob and PdfJob.
type JobStatus string

const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ModelTier selects which LLM provider tier a job runs against.
type ModelTier string

const (
	ModelTierMini ModelTier = "mini"
	ModelTierPro  ModelTier = "pro"
)

// Breadth controls how many expert perspectives a job fans out to.
type Breadth string

const (
	BreadthLow    Breadth = "low"
	BreadthMedium Breadth = "medium"
	BreadthHigh   Breadth = "high"
)

// Depth controls how many corroborating documents a pipeline node requires
// before it is willing to stop gathering sources.
type Depth string

const (
	DepthLow    Depth = "low"
	DepthMedium Depth = "medium"
	DepthHigh   Depth = "high"
)

// DocumentLength is a hint passed through to the fusion stage.
type DocumentLength string

const (
	DocumentLengthLow    DocumentLength = "low"
	DocumentLengthMedium DocumentLength = "medium"
	DocumentLengthHigh   DocumentLength = "high"
)

// PipelineNode tags a stage of the resumable research pipeline.
type PipelineNode string

const (
	NodeQueued       PipelineNode = "queued"
	NodeOutline      PipelineNode = "outline"
	NodePerspectives PipelineNode = "perspectives"
	NodeContent      PipelineNode = "content"
	NodeFusion       PipelineNode = "fusion"
	NodeDone         PipelineNode = "done"
)

// ResearchRequest is the immutable portion of a ResearchJob, fixed at
// submission time and never rewritten by a worker.
type ResearchRequest struct {
	ResearchIdea   string         `json:"research_idea"`
	ModelTier      ModelTier      `json:"model_tier"`
	Breadth        Breadth        `json:"breadth"`
	Depth          Depth          `json:"depth"`
	DocumentLength DocumentLength `json:"document_length"`
}

// ResearchJob is the durable record backing one deep-research run.
//
// Invariants (enforced by the repository layer, not by the struct itself):
//   - Status == running implies WorkerID != nil && StartedAt != nil.
//   - Status == completed implies ResultText != nil && WorkerID == nil && ResumeFromNode == nil.
//   - Status == failed implies Error != nil.
//   - Attempts only increases, bumped on every failure/requeue.
type ResearchJob struct {
	ID              uuid.UUID
	UserID          string
	SessionID       string
	Status          JobStatus
	CurrentNode     PipelineNode
	ProgressMessage string
	ResumeFromNode  *PipelineNode
	Attempts        int
	WorkerID        *string
	Error           *string
	ResultText      *string
	Request         ResearchRequest
	GraphState      PipelineState

	CreatedAt      time.Time
	UpdatedAt      time.Time
	NextRunAt      time.Time
	LeaseDeadline  *time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	FailedAt       *time.Time
}

// IsClaimable reports whether the claim predicate (status=queued,
// next_run_at <= asOf) holds for this job.
func (j *ResearchJob) IsClaimable(asOf time.Time) bool {
	return j.Status == JobStatusQueued && !j.NextRunAt.After(asOf)
}
