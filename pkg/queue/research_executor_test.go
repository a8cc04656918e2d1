package queue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/researchd/pkg/agent"
	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/models"
	"github.com/deepresearch/researchd/pkg/session"
	util "github.com/deepresearch/researchd/test/util"
)

// scriptedLowBreadthClient answers exactly what the low-breadth pipeline
// needs (outline, one perspective, one section) in a single turn each, the
// same canned-response idiom pkg/research's own tests use.
type scriptedLowBreadthClient struct{}

func (scriptedLowBreadthClient) Generate(_ context.Context, input *agent.GenerateInput) (<-chan agent.Chunk, error) {
	var prompt string
	for _, m := range input.Messages {
		if m.Role == agent.RoleSystem {
			prompt = m.Content
		}
	}
	var text string
	switch {
	case strings.Contains(prompt, "generate a detailed outline"):
		text = `{"document_title":"Doc","document_description":"D","sections":[{"section_title":"Intro","description":"d"}]}`
	case strings.Contains(prompt, "generate the perspectives"):
		text = `{"experts":[{"name":"E","profession":"P","role":"R"}]}`
	case strings.Contains(prompt, "role is:"):
		text = "expert content for the section"
	case strings.Contains(prompt, "Summarize the following content"):
		text = "a short summary"
	}
	ch := make(chan agent.Chunk, 1)
	ch <- &agent.TextChunk{Content: text}
	close(ch)
	return ch, nil
}

func (scriptedLowBreadthClient) Close() error { return nil }

type alwaysFailingClient struct{}

func (alwaysFailingClient) Generate(context.Context, *agent.GenerateInput) (<-chan agent.Chunk, error) {
	return nil, errors.New("llm unavailable")
}

func (alwaysFailingClient) Close() error { return nil }

type fakeTranscriptWriter struct {
	mu   sync.Mutex
	msgs map[string]string
}

func (w *fakeTranscriptWriter) AppendAssistantMessage(_ context.Context, sessionID, text string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.msgs == nil {
		w.msgs = make(map[string]string)
	}
	w.msgs[sessionID] = text
	return nil
}

func testExecutorConfig(t *testing.T) *config.Config {
	t.Helper()
	providers := map[string]*config.LLMProviderConfig{
		"primary":   {},
		"secondary": {},
		"mini":      {},
	}
	return &config.Config{
		Defaults: &config.Defaults{
			LLMProvider:          "primary",
			MiniLLMProvider:      "mini",
			SecondaryLLMProvider: "secondary",
		},
		Pipeline:            config.DefaultPipelineConfig(),
		Tools:               config.DefaultToolsConfig(),
		ResearchQueue:       config.DefaultResearchQueueConfig(),
		LLMProviderRegistry: config.NewLLMProviderRegistry(providers),
	}
}

func TestResearchJobExecutor_EnqueueClaimExecuteFinalize_Success(t *testing.T) {
	client := util.SetupTestDatabase(t)
	cfg := testExecutorConfig(t)
	activeTasks := session.NewActiveTaskTracker(client.Pool)
	transcripts := &fakeTranscriptWriter{}

	executor := NewResearchJobExecutor(client.Pool, cfg, activeTasks, transcripts,
		scriptedLowBreadthClient{}, nil, nil, nil, nil, nil)

	ctx := context.Background()
	sessionID := "sess-1"
	jobID, err := executor.EnqueueResearchJob(ctx, "user-1", sessionID, models.ResearchRequest{
		ResearchIdea: "idea", ModelTier: models.ModelTierPro, Breadth: models.BreadthLow, Depth: models.DepthLow,
	})
	require.NoError(t, err)

	active, err := activeTasks.GetActive(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, jobID, active.ID)
	assert.Equal(t, models.JobStatusQueued, active.Status)

	handle, err := executor.ClaimNext(ctx, "worker-1", leaseDuration)
	require.NoError(t, err)
	assert.Equal(t, jobID, handle.JobID())

	require.NoError(t, executor.Heartbeat(ctx, handle, leaseDuration))

	outcome := executor.Execute(ctx, handle)
	require.NoError(t, outcome.Err)
	assert.True(t, outcome.Completed)

	require.NoError(t, executor.Finalize(ctx, handle, outcome))

	transcripts.mu.Lock()
	msg, wrote := transcripts.msgs[sessionID]
	transcripts.mu.Unlock()
	require.True(t, wrote)
	assert.Contains(t, msg, "expert content for the section")

	active, err = activeTasks.GetActive(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, active, "a completed job must clear the active task slot")
}

func TestResearchJobExecutor_GetResearchJob(t *testing.T) {
	client := util.SetupTestDatabase(t)
	cfg := testExecutorConfig(t)
	activeTasks := session.NewActiveTaskTracker(client.Pool)
	executor := NewResearchJobExecutor(client.Pool, cfg, activeTasks, &fakeTranscriptWriter{}, scriptedLowBreadthClient{}, nil, nil, nil, nil, nil)

	ctx := context.Background()
	jobID, err := executor.EnqueueResearchJob(ctx, "user-1", "sess-get", models.ResearchRequest{
		ResearchIdea: "idea", ModelTier: models.ModelTierMini, Breadth: models.BreadthLow, Depth: models.DepthLow,
	})
	require.NoError(t, err)

	job, err := executor.GetResearchJob(ctx, jobID)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, jobID, job.ID.String())
	assert.Equal(t, "sess-get", job.SessionID)
	assert.Equal(t, models.JobStatusQueued, job.Status)
	assert.Equal(t, models.NodeQueued, job.CurrentNode)
	assert.Nil(t, job.ResultText)

	missing, err := executor.GetResearchJob(ctx, "00000000-0000-0000-0000-000000000000")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestResearchJobExecutor_ClaimNext_NoJobsAvailable(t *testing.T) {
	client := util.SetupTestDatabase(t)
	cfg := testExecutorConfig(t)
	activeTasks := session.NewActiveTaskTracker(client.Pool)
	executor := NewResearchJobExecutor(client.Pool, cfg, activeTasks, &fakeTranscriptWriter{}, scriptedLowBreadthClient{}, nil, nil, nil, nil, nil)

	_, err := executor.ClaimNext(context.Background(), "worker-1", leaseDuration)
	assert.ErrorIs(t, err, ErrNoJobsAvailable)
}

func TestResearchJobExecutor_Finalize_RequeuesThenFails(t *testing.T) {
	client := util.SetupTestDatabase(t)
	cfg := testExecutorConfig(t)
	cfg.ResearchQueue.MaxRetries = 2
	activeTasks := session.NewActiveTaskTracker(client.Pool)
	executor := NewResearchJobExecutor(client.Pool, cfg, activeTasks, &fakeTranscriptWriter{}, alwaysFailingClient{}, nil, nil, nil, nil, nil)

	ctx := context.Background()
	sessionID := "sess-2"
	jobID, err := executor.EnqueueResearchJob(ctx, "user-1", sessionID, models.ResearchRequest{
		ResearchIdea: "idea", Breadth: models.BreadthLow, Depth: models.DepthLow,
	})
	require.NoError(t, err)

	// Attempt 1: fails, requeues (attempts 0 -> 1, 1 < MaxRetries=2).
	handle, err := executor.ClaimNext(ctx, "worker-1", leaseDuration)
	require.NoError(t, err)
	outcome := executor.Execute(ctx, handle)
	require.Error(t, outcome.Err)
	require.NoError(t, executor.Finalize(ctx, handle, outcome))

	active, err := activeTasks.GetActive(ctx, sessionID)
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, models.JobStatusQueued, active.Status)

	// Force the retry's next_run_at into the past so the second claim
	// doesn't have to wait out the backoff.
	_, err = client.Pool.Exec(ctx, `UPDATE research_jobs SET next_run_at = now() - interval '1 hour' WHERE id = $1`, jobID)
	require.NoError(t, err)

	// Attempt 2: fails again, attempts 1 -> 2, 2 >= MaxRetries=2 => failed.
	handle, err = executor.ClaimNext(ctx, "worker-1", leaseDuration)
	require.NoError(t, err)
	outcome = executor.Execute(ctx, handle)
	require.Error(t, outcome.Err)
	require.NoError(t, executor.Finalize(ctx, handle, outcome))

	active, err = activeTasks.GetActive(ctx, sessionID)
	require.NoError(t, err)
	assert.Nil(t, active, "a permanently failed job must clear the active task slot")
}
