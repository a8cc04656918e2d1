package models

import (
	"time"

	"github.com/google/uuid"
)

// PdfEnqueueReason tags why a PdfJob was created; it is stored in the
// pdf_jobs.reason column.
type PdfEnqueueReason string

const (
	// PdfReasonScrapeTimeout fires when web_search's per-URL scrape of a
	// detected PDF exceeds its timeout before any text is extracted.
	PdfReasonScrapeTimeout PdfEnqueueReason = "scrape_timeout"
	// PdfReasonURLToolTimeout fires when url_search's scrape of a detected
	// PDF exceeds its timeout.
	PdfReasonURLToolTimeout PdfEnqueueReason = "url_tool_timeout"
	// PdfReasonPrimaryTimeout names a streaming-extractor deadline that
	// elapses before completion. No code path in this repository enqueues a
	// PdfJob with this reason.
	PdfReasonPrimaryTimeout PdfEnqueueReason = "primary_timeout"
)

// PdfJob is the durable record backing a background PDF extraction retry.
// It is only enqueued when the deadline-bounded inline extraction attempt
// made by a research worker does not complete before its own deadline.
type PdfJob struct {
	ID        uuid.UUID
	SessionID string
	SourceURL string
	Title     string
	Status    JobStatus
	Attempts  int
	Reason    PdfEnqueueReason

	PartialTextAvailable bool
	LastError            *string
	WorkerID             *string

	ResultCharacters *int
	ResultPageCount  *int

	CreatedAt     time.Time
	UpdatedAt     time.Time
	NextRunAt     time.Time
	LeaseDeadline *time.Time
}

// IsClaimable reports whether the claim predicate holds for this job.
func (j *PdfJob) IsClaimable(asOf time.Time) bool {
	return j.Status == JobStatusQueued && !j.NextRunAt.After(asOf)
}
