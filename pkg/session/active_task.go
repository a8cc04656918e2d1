// Package session tracks each session's ActiveTask: the single-slot,
// derived view of "what is this session's research job doing right now".
// There is no ActiveTask table — research_jobs is the only durable record,
// and the tracker is a live query against it (SetActive writes nothing and
// ClearIfMatches only re-reads it), so the slot can never drift from the job
// it describes.
package session

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepresearch/researchd/pkg/models"
)

// ActiveTaskTracker answers "what research job is session X's active
// task" and lets a worker set/clear that slot without racing a newer job
// queued in the same session. SetActive and ClearIfMatches are, in effect,
// pass-throughs: research_jobs.status is the only state that matters, and
// the executor's own checkpoint/finalize writes already set it. The guard
// they add is the "_if_matches" conditional the coherence rule in §4.9
// requires (never clear a slot a newer job now owns).
type ActiveTaskTracker struct {
	pool *pgxpool.Pool
}

// NewActiveTaskTracker constructs a tracker over pool.
func NewActiveTaskTracker(pool *pgxpool.Pool) *ActiveTaskTracker {
	return &ActiveTaskTracker{pool: pool}
}

// GetActive implements get_active_research_job_for_session: at most one job
// in {queued, running} for the session, preferring running, then the most
// recently updated.
func (t *ActiveTaskTracker) GetActive(ctx context.Context, sessionID string) (*models.ActiveTask, error) {
	row := t.pool.QueryRow(ctx, `
		SELECT id, status, current_node, progress_message
		FROM research_jobs
		WHERE session_id = $1 AND status IN ('queued', 'running')
		ORDER BY (status = 'running') DESC, updated_at DESC
		LIMIT 1`,
		sessionID,
	)

	var (
		id              string
		status          string
		currentNode     string
		progressMessage *string
	)
	if err := row.Scan(&id, &status, &currentNode, &progressMessage); err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("session: get active task: %w", err)
	}

	node := models.PipelineNode(currentNode)
	return &models.ActiveTask{
		ID:              id,
		Type:            "research",
		Status:          models.JobStatus(status),
		CurrentNode:     &node,
		ProgressMessage: progressMessage,
	}, nil
}

// SetActive is a no-op: the job row the executor already claimed/checkpoints
// is the entire state the slot reports. It exists so callers can follow
// §4.9's Execute/Finalize sequence ("set ActiveTask to running", "restore
// ActiveTask to queued") literally, without a second write racing the
// first. jobID and sessionID are accepted for that symmetry and to keep
// the interface honest about what it is guarding, even though nothing is
// written here.
func (t *ActiveTaskTracker) SetActive(_ context.Context, _, _ string, _ models.JobStatus) error {
	return nil
}

// ClearIfMatches implements the coherence guard: "only clear the slot if it
// still references jobID". Since the slot is derived from research_jobs
// itself, the guard is already satisfied by the job's own status column --
// a completed/failed job simply stops matching the {queued,running}
// predicate GetActive uses. This exists to preserve the call site named in
// §4.9 and to make the invariant explicit rather than implicit.
func (t *ActiveTaskTracker) ClearIfMatches(ctx context.Context, sessionID, jobID string) error {
	active, err := t.GetActive(ctx, sessionID)
	if err != nil {
		return err
	}
	if active != nil && active.ID != jobID {
		return fmt.Errorf("session: active task for %s now references job %s, not %s", sessionID, active.ID, jobID)
	}
	return nil
}
