// Package queue provides the durable-job polling/claim/execute/backoff
// skeleton shared by the research-job queue and the PDF background queue.
// Job-specific behavior (claiming, execution, checkpointing, terminal
// writes) is supplied by a JobExecutor implementation; Worker and
// WorkerPool only own the polling loop, lease heartbeat, and backoff.
package queue

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors for queue operations.
var (
	// ErrNoJobsAvailable indicates no claimable job exists right now.
	ErrNoJobsAvailable = errors.New("no jobs available")
)

// JobHandle is the minimal surface a Worker needs to drive one claimed job
// through heartbeat and finalization, without depending on the concrete
// job type (ResearchJob vs PdfJob).
type JobHandle interface {
	JobID() string
	Attempts() int
}

// Outcome is the terminal result of one Execute call.
type Outcome struct {
	Completed bool // true => job reached a terminal completed state
	Err       error
}

// JobExecutor owns one job domain's (claim, execute, finalize) cycle. The
// worker loop calls these in sequence and handles only cross-cutting
// concerns: poll backoff, lease heartbeat, and graceful shutdown.
type JobExecutor interface {
	// ClaimNext claims and leases the next claimable job for workerID,
	// setting its lease to leaseDuration from now. Returns
	// ErrNoJobsAvailable if nothing is claimable.
	ClaimNext(ctx context.Context, workerID string, leaseDuration time.Duration) (JobHandle, error)

	// Heartbeat extends a claimed job's lease. Called periodically while
	// Execute is in flight so a live worker is never reclaimed as orphaned.
	Heartbeat(ctx context.Context, handle JobHandle, leaseDuration time.Duration) error

	// Execute runs the job, writing checkpoints/results itself as it goes.
	// It returns the terminal outcome; it does not write terminal status.
	Execute(ctx context.Context, handle JobHandle) Outcome

	// Finalize writes the terminal state for outcome: completed, or
	// failed/requeued with backoff depending on attempts so far.
	Finalize(ctx context.Context, handle JobHandle, outcome Outcome) error
}

// WorkerHealth reports one worker's current state for observability.
type WorkerHealth struct {
	ID            string    `json:"id"`
	Status        string    `json:"status"` // "idle" or "working"
	CurrentJobID  string    `json:"current_job_id,omitempty"`
	JobsProcessed int       `json:"jobs_processed"`
	LastActivity  time.Time `json:"last_activity"`
}

// PoolHealth aggregates health across a WorkerPool.
type PoolHealth struct {
	PodID            string         `json:"pod_id"`
	ActiveWorkers    int            `json:"active_workers"`
	TotalWorkers     int            `json:"total_workers"`
	WorkerStats      []WorkerHealth `json:"worker_stats"`
	LastOrphanScan   time.Time      `json:"last_orphan_scan"`
	OrphansRecovered int            `json:"orphans_recovered"`
}
