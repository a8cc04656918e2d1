package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/models"
	"github.com/deepresearch/researchd/pkg/pdf"
	"github.com/deepresearch/researchd/pkg/repair"
	"github.com/deepresearch/researchd/pkg/research"
	"github.com/deepresearch/researchd/pkg/scrape"
	"github.com/deepresearch/researchd/pkg/session"
	"github.com/deepresearch/researchd/pkg/tools"
)

// TranscriptWriter persists a completion message to a session's transcript
// via the external message store. That store lives outside this service
// (see the chat surface's own "AI message" persistence in the original
// research_worker.py). The only implementation in this repo is
// cmd/researchd's slogTranscriptWriter, which logs the message instead of
// storing it.
type TranscriptWriter interface {
	AppendAssistantMessage(ctx context.Context, sessionID, text string) error
}

// progressMessage is the fixed stage -> user-visible message table (§6).
func progressMessage(node models.PipelineNode) string {
	switch node {
	case models.NodeOutline:
		return "Analyzing your request, gathering context, and drafting an outline."
	case models.NodePerspectives:
		return "Ensuring all important angles of your idea are covered."
	case models.NodeContent:
		return "Performing deep, well-rounded research to collect information."
	case models.NodeFusion:
		return "Writing your final research document."
	default:
		return "Preparing your research workflow."
	}
}

const (
	progressMessagePreparing = "Preparing your research workflow."
	progressMessageCompleted = "Research completed."
	progressMessageFailed    = "Research could not be completed."
)

// researchJobHandle satisfies queue.JobHandle and carries the claimed row
// plus whatever Execute produced, so Finalize can write it without a
// second round trip to re-fetch the job.
type researchJobHandle struct {
	job           models.ResearchJob
	graphStateRaw []byte
	resultText    string
}

func (h *researchJobHandle) JobID() string { return h.job.ID.String() }
func (h *researchJobHandle) Attempts() int { return h.job.Attempts }

// ResearchJobExecutor implements queue.JobExecutor against the
// research_jobs table (C9), driving one pkg/research.Pipeline per job.
type ResearchJobExecutor struct {
	pool        *pgxpool.Pool
	cfg         *config.Config
	queueCfg    *config.QueueConfig
	activeTasks *session.ActiveTaskTracker
	transcripts TranscriptWriter

	llm         agent.LLMClient
	search      tools.SearchClient
	scrapePool  *scrape.Pool
	pdfService  *pdf.Service
	vectorStore tools.VectorStore
	pdfJobs     tools.PdfJobEnqueuer
}

// NewResearchJobExecutor wires the durable store and every shared
// collaborator a per-job pkg/research.Pipeline and pkg/tools.Tools need.
func NewResearchJobExecutor(
	pool *pgxpool.Pool,
	cfg *config.Config,
	activeTasks *session.ActiveTaskTracker,
	transcripts TranscriptWriter,
	llm agent.LLMClient,
	search tools.SearchClient,
	scrapePool *scrape.Pool,
	pdfService *pdf.Service,
	vectorStore tools.VectorStore,
	pdfJobs tools.PdfJobEnqueuer,
) *ResearchJobExecutor {
	return &ResearchJobExecutor{
		pool:        pool,
		cfg:         cfg,
		queueCfg:    cfg.ResearchQueue,
		activeTasks: activeTasks,
		transcripts: transcripts,
		llm:         llm,
		search:      search,
		scrapePool:  scrapePool,
		pdfService:  pdfService,
		vectorStore: vectorStore,
		pdfJobs:     pdfJobs,
	}
}

// EnqueueResearchJob implements enqueue_research_job (§6): writes a new
// job row ready for the next poll cycle to claim.
func (e *ResearchJobExecutor) EnqueueResearchJob(ctx context.Context, userID, sessionID string, request models.ResearchRequest) (string, error) {
	id := uuid.NewString()
	requestJSON, err := json.Marshal(request)
	if err != nil {
		return "", fmt.Errorf("queue: marshal research request: %w", err)
	}
	graphState, err := research.Serialize(models.PipelineState{ResearchIdea: request.ResearchIdea})
	if err != nil {
		return "", fmt.Errorf("queue: serialize initial graph state: %w", err)
	}
	resumeFrom := string(models.NodeOutline)

	_, err = e.pool.Exec(ctx, `
		INSERT INTO research_jobs (id, user_id, session_id, status, current_node, progress_message, resume_from_node, attempts, request, graph_state, next_run_at)
		VALUES ($1, $2, $3, 'queued', 'queued', $4, $5, 0, $6, $7, now())`,
		id, userID, sessionID, progressMessagePreparing, resumeFrom, requestJSON, graphState,
	)
	if err != nil {
		return "", fmt.Errorf("queue: enqueue research job: %w", err)
	}
	return id, nil
}

// GetResearchJob implements get_research_job (§6): the full persisted
// record for one job, regardless of its current status.
func (e *ResearchJobExecutor) GetResearchJob(ctx context.Context, jobID string) (*models.ResearchJob, error) {
	row := e.pool.QueryRow(ctx, `
		SELECT id, user_id, session_id, status, current_node, progress_message,
		       resume_from_node, attempts, worker_id, error, result_text,
		       request, graph_state, created_at, updated_at, next_run_at,
		       lease_deadline, started_at, completed_at, failed_at
		FROM research_jobs WHERE id = $1`,
		jobID,
	)
	job, _, err := scanResearchJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("queue: get research job %s: %w", jobID, err)
	}
	return &job, nil
}

// ClaimNext implements the Claim step of §4.9: a single SKIP LOCKED claim
// so concurrent workers never block each other; the worker's own poll loop
// supplies the "repeat until the batch is exhausted" behavior.
func (e *ResearchJobExecutor) ClaimNext(ctx context.Context, workerID string, leaseDuration time.Duration) (JobHandle, error) {
	row := e.pool.QueryRow(ctx, `
		WITH candidate AS (
			SELECT id FROM research_jobs
			WHERE status = 'queued' AND next_run_at <= now()
			ORDER BY next_run_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE research_jobs AS j
		SET status = 'running',
		    worker_id = $1,
		    started_at = COALESCE(j.started_at, now()),
		    progress_message = CASE WHEN j.current_node = 'queued' THEN $3 ELSE j.progress_message END,
		    lease_deadline = now() + ($2 * interval '1 second'),
		    updated_at = now()
		FROM candidate
		WHERE j.id = candidate.id
		RETURNING j.id, j.user_id, j.session_id, j.status, j.current_node, j.progress_message,
		          j.resume_from_node, j.attempts, j.worker_id, j.error, j.result_text,
		          j.request, j.graph_state, j.created_at, j.updated_at, j.next_run_at,
		          j.lease_deadline, j.started_at, j.completed_at, j.failed_at`,
		workerID, leaseDuration.Seconds(), progressMessagePreparing,
	)

	job, graphStateRaw, err := scanResearchJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("queue: claim research job: %w", err)
	}
	return &researchJobHandle{job: job, graphStateRaw: graphStateRaw}, nil
}

// Heartbeat extends a claimed job's lease.
func (e *ResearchJobExecutor) Heartbeat(ctx context.Context, handle JobHandle, leaseDuration time.Duration) error {
	_, err := e.pool.Exec(ctx,
		`UPDATE research_jobs SET lease_deadline = now() + ($1 * interval '1 second'), updated_at = now() WHERE id = $2`,
		leaseDuration.Seconds(), handle.JobID(),
	)
	if err != nil {
		return fmt.Errorf("queue: heartbeat research job %s: %w", handle.JobID(), err)
	}
	return nil
}

// Execute drives one research job's pipeline to completion, checkpointing
// after every stage. It never writes terminal status itself — Finalize
// does that once Execute returns.
func (e *ResearchJobExecutor) Execute(ctx context.Context, handle JobHandle) Outcome {
	h, ok := handle.(*researchJobHandle)
	if !ok {
		return Outcome{Err: fmt.Errorf("queue: unexpected handle type %T", handle)}
	}
	job := h.job

	if err := e.activeTasks.SetActive(ctx, job.SessionID, job.ID.String(), models.JobStatusRunning); err != nil {
		slog.Warn("active task set failed, continuing", "job_id", job.ID, "error", err)
	}

	perJobTools := tools.New(
		job.SessionID,
		config.Depth(job.Request.Depth),
		e.search,
		e.scrapePool,
		e.pdfService,
		e.vectorStore,
		e.pdfJobs,
		e.llm,
		e.cfg.LLMProviderRegistry.GetAll()[e.cfg.Defaults.MiniLLMProvider],
		e.cfg.Tools,
	)
	repairer := repair.New(e.llm, e.cfg.LLMProviderRegistry.GetAll()[e.cfg.Defaults.MiniLLMProvider], e.cfg.Pipeline)

	pipeline, err := research.New(e.llm, perJobTools, repairer, e.cfg, job.Request)
	if err != nil {
		return Outcome{Err: fmt.Errorf("queue: build pipeline for job %s: %w", job.ID, err)}
	}

	onProgress := func(ctx context.Context, node models.PipelineNode) error {
		_, err := e.pool.Exec(ctx,
			`UPDATE research_jobs SET current_node = $1, progress_message = $2, updated_at = now() WHERE id = $3`,
			string(node), progressMessage(node), job.ID.String(),
		)
		return err
	}
	onCheckpoint := func(ctx context.Context, completedNode models.PipelineNode, serializedState []byte, nextNode *models.PipelineNode) error {
		var resumeFrom *string
		if nextNode != nil {
			tag := string(*nextNode)
			resumeFrom = &tag
		}
		_, err := e.pool.Exec(ctx,
			`UPDATE research_jobs SET graph_state = $1, resume_from_node = $2, updated_at = now() WHERE id = $3`,
			serializedState, resumeFrom, job.ID.String(),
		)
		return err
	}

	state, err := pipeline.RunResumable(ctx, job.Request.ResearchIdea, h.graphStateRaw, job.ResumeFromNode, onProgress, onCheckpoint)
	if err != nil {
		return Outcome{Err: err}
	}
	if state.FinalDocument == nil {
		return Outcome{Err: fmt.Errorf("queue: job %s finished with no final document", job.ID)}
	}

	h.resultText = state.FinalDocument.AsStr()
	return Outcome{Completed: true}
}

// Finalize implements the success/failure branches of §4.9's Execute step.
func (e *ResearchJobExecutor) Finalize(ctx context.Context, handle JobHandle, outcome Outcome) error {
	h, ok := handle.(*researchJobHandle)
	if !ok {
		return fmt.Errorf("queue: unexpected handle type %T", handle)
	}
	job := h.job

	if outcome.Completed && outcome.Err == nil {
		if err := e.transcripts.AppendAssistantMessage(ctx, job.SessionID, h.resultText); err != nil {
			slog.Error("failed to persist completion transcript message", "job_id", job.ID, "error", err)
		}
		_, err := e.pool.Exec(ctx, `
			UPDATE research_jobs
			SET status = 'completed', result_text = $1, current_node = 'done', progress_message = $2,
			    resume_from_node = NULL, worker_id = NULL, completed_at = now(), updated_at = now()
			WHERE id = $3`,
			h.resultText, progressMessageCompleted, job.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("queue: finalize completed job %s: %w", job.ID, err)
		}
		if err := e.activeTasks.ClearIfMatches(ctx, job.SessionID, job.ID.String()); err != nil {
			slog.Info("active task already reassigned, leaving slot alone", "job_id", job.ID, "error", err)
		}
		return nil
	}

	nextAttempt := job.Attempts + 1
	if nextAttempt >= e.queueCfg.MaxRetries {
		errText := "unknown error"
		if outcome.Err != nil {
			errText = outcome.Err.Error()
		}
		_, err := e.pool.Exec(ctx, `
			UPDATE research_jobs
			SET status = 'failed', attempts = $1, error = $2, current_node = 'done', progress_message = $3,
			    worker_id = NULL, failed_at = now(), updated_at = now()
			WHERE id = $4`,
			nextAttempt, errText, progressMessageFailed, job.ID.String(),
		)
		if err != nil {
			return fmt.Errorf("queue: finalize failed job %s: %w", job.ID, err)
		}
		if err := e.activeTasks.ClearIfMatches(ctx, job.SessionID, job.ID.String()); err != nil {
			slog.Info("active task already reassigned, leaving slot alone", "job_id", job.ID, "error", err)
		}
		return nil
	}

	delay := backoffDelay(e.queueCfg, job.Attempts)
	_, err := e.pool.Exec(ctx, `
		UPDATE research_jobs
		SET status = 'queued', attempts = $1, next_run_at = now() + ($2 * interval '1 second'),
		    worker_id = NULL, lease_deadline = NULL, updated_at = now()
		WHERE id = $3`,
		nextAttempt, delay.Seconds(), job.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("queue: finalize requeued job %s: %w", job.ID, err)
	}
	if err := e.activeTasks.SetActive(ctx, job.SessionID, job.ID.String(), models.JobStatusQueued); err != nil {
		slog.Warn("active task restore-to-queued failed", "job_id", job.ID, "error", err)
	}
	return nil
}

// ReclaimExpiredLeases implements queue.LeaseReclaimer: any running job
// whose lease has elapsed without a heartbeat is presumed orphaned by a
// dead worker and requeued immediately for another worker to pick up.
func (e *ResearchJobExecutor) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	tag, err := e.pool.Exec(ctx, `
		UPDATE research_jobs
		SET status = 'queued', worker_id = NULL, lease_deadline = NULL, next_run_at = now(), updated_at = now()
		WHERE status = 'running' AND lease_deadline IS NOT NULL AND lease_deadline < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("queue: reclaim expired research job leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// scanResearchJob scans one claimed row and returns both the decoded job
// and the raw graph_state bytes, which Execute feeds to RunResumable
// directly rather than round-tripping through Serialize again.
func scanResearchJob(row pgx.Row) (models.ResearchJob, []byte, error) {
	var (
		job            models.ResearchJob
		currentNode    string
		resumeFromNode *string
		requestRaw     []byte
		graphStateRaw  []byte
	)
	err := row.Scan(
		&job.ID, &job.UserID, &job.SessionID, &job.Status, &currentNode, &job.ProgressMessage,
		&resumeFromNode, &job.Attempts, &job.WorkerID, &job.Error, &job.ResultText,
		&requestRaw, &graphStateRaw, &job.CreatedAt, &job.UpdatedAt, &job.NextRunAt,
		&job.LeaseDeadline, &job.StartedAt, &job.CompletedAt, &job.FailedAt,
	)
	if err != nil {
		return models.ResearchJob{}, nil, err
	}

	job.CurrentNode = models.PipelineNode(currentNode)
	if resumeFromNode != nil {
		node := models.PipelineNode(*resumeFromNode)
		job.ResumeFromNode = &node
	}
	if len(requestRaw) > 0 {
		if err := json.Unmarshal(requestRaw, &job.Request); err != nil {
			return models.ResearchJob{}, nil, fmt.Errorf("queue: unmarshal research request: %w", err)
		}
	}
	job.GraphState = research.Deserialize(graphStateRaw)

	return job, graphStateRaw, nil
}
