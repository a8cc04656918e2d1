package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/models"
	"github.com/deepresearch/researchd/pkg/pdf"
)

// pdfJobHandle adapts a claimed PdfJob row to the generic JobHandle surface.
type pdfJobHandle struct {
	job    models.PdfJob
	result *pdf.Result
}

func (h *pdfJobHandle) JobID() string { return h.job.ID.String() }
func (h *pdfJobHandle) Attempts() int { return h.job.Attempts }

// PdfJobExecutor drains the pdf_jobs fallback queue: every job here already
// failed the inline deadline-bounded attempt, so it runs only the in-memory
// extraction path and, on success, atomically replaces the session's vector
// entries for that source.
type PdfJobExecutor struct {
	pool        *pgxpool.Pool
	queueCfg    *config.QueueConfig
	pdfService  *pdf.Service
	vectorStore VectorReplacer
}

// VectorReplacer is the narrow slice of tools.VectorStore the PDF executor
// needs; named locally so pkg/queue never imports pkg/tools.
type VectorReplacer interface {
	ReplaceBySource(ctx context.Context, sessionID, source string, docs []models.VectorDocument) error
}

// NewPdfJobExecutor constructs a PdfJobExecutor.
func NewPdfJobExecutor(pool *pgxpool.Pool, queueCfg *config.QueueConfig, pdfService *pdf.Service, vectorStore VectorReplacer) *PdfJobExecutor {
	return &PdfJobExecutor{pool: pool, queueCfg: queueCfg, pdfService: pdfService, vectorStore: vectorStore}
}

func (e *PdfJobExecutor) ClaimNext(ctx context.Context, workerID string, leaseDuration time.Duration) (JobHandle, error) {
	row := e.pool.QueryRow(ctx, `
		WITH candidate AS (
			SELECT id FROM pdf_jobs
			WHERE status = 'queued' AND next_run_at <= now()
			ORDER BY next_run_at
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE pdf_jobs AS j
		SET status = 'running', worker_id = $1, lease_deadline = now() + ($2 * interval '1 second'), updated_at = now()
		FROM candidate
		WHERE j.id = candidate.id
		RETURNING j.id, j.session_id, j.source_url, j.title, j.status, j.attempts, j.reason,
			j.partial_text_available, j.last_error, j.worker_id, j.result_characters,
			j.result_page_count, j.created_at, j.updated_at, j.next_run_at, j.lease_deadline`,
		workerID, leaseDuration.Seconds(),
	)

	job, err := scanPdfJob(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNoJobsAvailable
		}
		return nil, fmt.Errorf("queue: claim pdf job: %w", err)
	}
	return &pdfJobHandle{job: job}, nil
}

func (e *PdfJobExecutor) Heartbeat(ctx context.Context, handle JobHandle, leaseDuration time.Duration) error {
	_, err := e.pool.Exec(ctx,
		`UPDATE pdf_jobs SET lease_deadline = now() + ($2 * interval '1 second') WHERE id = $1`,
		handle.JobID(), leaseDuration.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("queue: heartbeat pdf job: %w", err)
	}
	return nil
}

func (e *PdfJobExecutor) Execute(ctx context.Context, handle JobHandle) Outcome {
	h := handle.(*pdfJobHandle)

	result, err := e.pdfService.ExtractInMemory(ctx, h.job.SourceURL, h.job.Title)
	if err != nil {
		return Outcome{Err: fmt.Errorf("queue: in-memory pdf extraction: %w", err)}
	}
	if result.Status != pdf.StatusComplete {
		return Outcome{Err: fmt.Errorf("queue: pdf extraction did not complete: %s", result.Error)}
	}
	h.result = result

	doc := models.VectorDocument{
		Source:  h.job.SourceURL,
		Title:   result.Title,
		Content: result.Title + "\n\n" + result.Text,
		Metadata: map[string]any{
			"source":            h.job.SourceURL,
			"title":             result.Title,
			"content_type":      "application/pdf",
			"is_pdf":            true,
			"extraction_method": "background_in_memory",
			"pdf_job_id":        h.job.ID.String(),
			"processed_at":      time.Now().UTC().Format(time.RFC3339),
		},
	}
	if err := e.vectorStore.ReplaceBySource(ctx, h.job.SessionID, h.job.SourceURL, []models.VectorDocument{doc}); err != nil {
		return Outcome{Err: fmt.Errorf("queue: replace vector documents: %w", err)}
	}
	return Outcome{Completed: true}
}

func (e *PdfJobExecutor) Finalize(ctx context.Context, handle JobHandle, outcome Outcome) error {
	h := handle.(*pdfJobHandle)

	if outcome.Completed {
		chars := len(h.result.Text)
		pages := h.result.PageCount
		_, err := e.pool.Exec(ctx, `
			UPDATE pdf_jobs
			SET status = 'completed', worker_id = NULL, lease_deadline = NULL,
				result_characters = $2, result_page_count = $3, last_error = NULL, updated_at = now()
			WHERE id = $1`,
			h.job.ID, chars, pages,
		)
		if err != nil {
			return fmt.Errorf("queue: finalize completed pdf job: %w", err)
		}
		return nil
	}

	errMsg := outcome.Err.Error()
	nextAttempt := h.job.Attempts + 1
	if nextAttempt >= e.queueCfg.MaxRetries {
		_, err := e.pool.Exec(ctx, `
			UPDATE pdf_jobs
			SET status = 'failed', worker_id = NULL, lease_deadline = NULL,
				attempts = $2, last_error = $3, updated_at = now()
			WHERE id = $1`,
			h.job.ID, nextAttempt, errMsg,
		)
		if err != nil {
			return fmt.Errorf("queue: finalize failed pdf job: %w", err)
		}
		return nil
	}

	delay := backoffDelay(e.queueCfg, h.job.Attempts)
	_, err := e.pool.Exec(ctx, `
		UPDATE pdf_jobs
		SET status = 'queued', worker_id = NULL, lease_deadline = NULL,
			attempts = $2, last_error = $3, next_run_at = now() + ($4 * interval '1 second'), updated_at = now()
		WHERE id = $1`,
		h.job.ID, nextAttempt, errMsg, delay.Seconds(),
	)
	if err != nil {
		return fmt.Errorf("queue: requeue pdf job: %w", err)
	}
	return nil
}

// ReclaimExpiredLeases satisfies queue.LeaseReclaimer.
func (e *PdfJobExecutor) ReclaimExpiredLeases(ctx context.Context) (int, error) {
	tag, err := e.pool.Exec(ctx, `
		UPDATE pdf_jobs
		SET status = 'queued', worker_id = NULL, lease_deadline = NULL, next_run_at = now()
		WHERE status = 'running' AND lease_deadline < now()`,
	)
	if err != nil {
		return 0, fmt.Errorf("queue: reclaim expired pdf leases: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func scanPdfJob(row pgx.Row) (models.PdfJob, error) {
	var (
		job              models.PdfJob
		status           string
		reason           string
		resultCharacters *int
		resultPageCount  *int
	)
	err := row.Scan(
		&job.ID, &job.SessionID, &job.SourceURL, &job.Title, &status, &job.Attempts, &reason,
		&job.PartialTextAvailable, &job.LastError, &job.WorkerID, &resultCharacters,
		&resultPageCount, &job.CreatedAt, &job.UpdatedAt, &job.NextRunAt, &job.LeaseDeadline,
	)
	if err != nil {
		return models.PdfJob{}, err
	}
	job.Status = models.JobStatus(status)
	job.Reason = models.PdfEnqueueReason(reason)
	job.ResultCharacters = resultCharacters
	job.ResultPageCount = resultPageCount
	return job, nil
}
