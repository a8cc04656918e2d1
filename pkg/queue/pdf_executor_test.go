package queue

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/models"
	"github.com/deepresearch/researchd/pkg/pdf"
	util "github.com/deepresearch/researchd/test/util"
)

type fakeVectorReplacer struct{}

func (f *fakeVectorReplacer) ReplaceBySource(context.Context, string, string, []models.VectorDocument) error {
	return nil
}

func testPdfQueueConfig() *config.QueueConfig {
	cfg := config.DefaultPdfQueueConfig()
	cfg.MaxRetries = 2
	return cfg
}

func TestPdfJobExecutor_ClaimNext_NoJobsAvailable(t *testing.T) {
	client := util.SetupTestDatabase(t)
	executor := NewPdfJobExecutor(client.Pool, testPdfQueueConfig(), pdf.NewService(config.DefaultPdfConfig(), nil), &fakeVectorReplacer{})

	_, err := executor.ClaimNext(context.Background(), "worker-1", leaseDuration)
	assert.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestPdfJobExecutor_ClaimNext_ClaimsQueuedJob(t *testing.T) {
	client := util.SetupTestDatabase(t)
	executor := NewPdfJobExecutor(client.Pool, testPdfQueueConfig(), pdf.NewService(config.DefaultPdfConfig(), nil), &fakeVectorReplacer{})
	ctx := context.Background()

	jobID := uuid.NewString()
	_, err := client.Pool.Exec(ctx, `
		INSERT INTO pdf_jobs (id, session_id, source_url, title, status, reason, partial_text_available, next_run_at, created_at, updated_at)
		VALUES ($1, 'sess-1', 'http://example.invalid/doc.pdf', 'Doc', 'queued', 'scrape_timeout', false, now(), now(), now())`,
		jobID,
	)
	require.NoError(t, err)

	handle, err := executor.ClaimNext(ctx, "worker-1", leaseDuration)
	require.NoError(t, err)
	assert.Equal(t, jobID, handle.JobID())
	assert.Equal(t, 0, handle.Attempts())

	require.NoError(t, executor.Heartbeat(ctx, handle, leaseDuration))

	var status string
	require.NoError(t, client.Pool.QueryRow(ctx, `SELECT status FROM pdf_jobs WHERE id = $1`, jobID).Scan(&status))
	assert.Equal(t, "running", status)
}

func TestPdfJobExecutor_Finalize_CompletedWritesResultStats(t *testing.T) {
	client := util.SetupTestDatabase(t)
	executor := NewPdfJobExecutor(client.Pool, testPdfQueueConfig(), pdf.NewService(config.DefaultPdfConfig(), nil), &fakeVectorReplacer{})
	ctx := context.Background()

	jobID := uuid.NewString()
	_, err := client.Pool.Exec(ctx, `
		INSERT INTO pdf_jobs (id, session_id, source_url, title, status, reason, partial_text_available, next_run_at, created_at, updated_at)
		VALUES ($1, 'sess-1', 'http://example.invalid/doc.pdf', 'Doc', 'running', 'scrape_timeout', false, now(), now(), now())`,
		jobID,
	)
	require.NoError(t, err)

	id, err := uuid.Parse(jobID)
	require.NoError(t, err)
	handle := &pdfJobHandle{
		job:    models.PdfJob{ID: id, Attempts: 0},
		result: &pdf.Result{Text: "extracted body text", PageCount: 3},
	}

	require.NoError(t, executor.Finalize(ctx, handle, Outcome{Completed: true}))

	var status string
	var chars, pages int
	require.NoError(t, client.Pool.QueryRow(ctx,
		`SELECT status, result_characters, result_page_count FROM pdf_jobs WHERE id = $1`, jobID,
	).Scan(&status, &chars, &pages))
	assert.Equal(t, "completed", status)
	assert.Equal(t, len("extracted body text"), chars)
	assert.Equal(t, 3, pages)
}

func TestPdfJobExecutor_Execute_UnreachableHostFailsThenRequeuesThenFails(t *testing.T) {
	client := util.SetupTestDatabase(t)
	executor := NewPdfJobExecutor(client.Pool, testPdfQueueConfig(), pdf.NewService(config.DefaultPdfConfig(), nil), &fakeVectorReplacer{})
	ctx := context.Background()

	jobID := uuid.NewString()
	_, err := client.Pool.Exec(ctx, `
		INSERT INTO pdf_jobs (id, session_id, source_url, title, status, reason, partial_text_available, next_run_at, created_at, updated_at)
		VALUES ($1, 'sess-2', 'http://127.0.0.1:1/unreachable.pdf', 'Doc', 'queued', 'scrape_timeout', false, now(), now(), now())`,
		jobID,
	)
	require.NoError(t, err)

	// Attempt 1: connection fails, requeues (attempts 0 -> 1, 1 < MaxRetries=2).
	handle, err := executor.ClaimNext(ctx, "worker-1", leaseDuration)
	require.NoError(t, err)
	outcome := executor.Execute(ctx, handle)
	require.Error(t, outcome.Err)
	require.NoError(t, executor.Finalize(ctx, handle, outcome))

	var status string
	require.NoError(t, client.Pool.QueryRow(ctx, `SELECT status FROM pdf_jobs WHERE id = $1`, jobID).Scan(&status))
	assert.Equal(t, "queued", status)

	_, err = client.Pool.Exec(ctx, `UPDATE pdf_jobs SET next_run_at = now() - interval '1 hour' WHERE id = $1`, jobID)
	require.NoError(t, err)

	// Attempt 2: fails again, attempts 1 -> 2, 2 >= MaxRetries=2 => failed.
	handle, err = executor.ClaimNext(ctx, "worker-1", leaseDuration)
	require.NoError(t, err)
	outcome = executor.Execute(ctx, handle)
	require.Error(t, outcome.Err)
	require.NoError(t, executor.Finalize(ctx, handle, outcome))

	require.NoError(t, client.Pool.QueryRow(ctx, `SELECT status FROM pdf_jobs WHERE id = $1`, jobID).Scan(&status))
	assert.Equal(t, "failed", status)
}

func TestPdfJobExecutor_ReclaimExpiredLeases(t *testing.T) {
	client := util.SetupTestDatabase(t)
	executor := NewPdfJobExecutor(client.Pool, testPdfQueueConfig(), pdf.NewService(config.DefaultPdfConfig(), nil), &fakeVectorReplacer{})
	ctx := context.Background()

	jobID := uuid.NewString()
	_, err := client.Pool.Exec(ctx, `
		INSERT INTO pdf_jobs (id, session_id, source_url, title, status, reason, partial_text_available, worker_id, lease_deadline, next_run_at, created_at, updated_at)
		VALUES ($1, 'sess-3', 'http://example.invalid/doc.pdf', 'Doc', 'running', 'scrape_timeout', false, 'dead-worker', now() - interval '1 minute', now(), now(), now())`,
		jobID,
	)
	require.NoError(t, err)

	recovered, err := executor.ReclaimExpiredLeases(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, recovered)

	var status string
	require.NoError(t, client.Pool.QueryRow(ctx, `SELECT status FROM pdf_jobs WHERE id = $1`, jobID).Scan(&status))
	assert.Equal(t, "queued", status)
}
