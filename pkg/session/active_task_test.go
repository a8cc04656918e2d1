package session

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/researchd/pkg/models"
	util "github.com/deepresearch/researchd/test/util"
)

func insertResearchJob(t *testing.T, tracker *ActiveTaskTracker, sessionID string, status models.JobStatus, currentNode models.PipelineNode) string {
	t.Helper()
	id := uuid.NewString()
	_, err := tracker.pool.Exec(context.Background(), `
		INSERT INTO research_jobs (id, user_id, session_id, status, current_node, progress_message, request)
		VALUES ($1, 'u1', $2, $3, $4, 'msg', '{}'::jsonb)`,
		id, sessionID, string(status), string(currentNode),
	)
	require.NoError(t, err)
	return id
}

func TestActiveTaskTracker_GetActive(t *testing.T) {
	client := util.SetupTestDatabase(t)
	tracker := NewActiveTaskTracker(client.Pool)
	ctx := context.Background()

	t.Run("no jobs yields nil", func(t *testing.T) {
		got, err := tracker.GetActive(ctx, uuid.NewString())
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("completed and failed jobs are invisible", func(t *testing.T) {
		sessionID := uuid.NewString()
		insertResearchJob(t, tracker, sessionID, models.JobStatusCompleted, models.NodeDone)
		insertResearchJob(t, tracker, sessionID, models.JobStatusFailed, models.NodeOutline)

		got, err := tracker.GetActive(ctx, sessionID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("prefers running over queued regardless of recency", func(t *testing.T) {
		sessionID := uuid.NewString()
		insertResearchJob(t, tracker, sessionID, models.JobStatusQueued, models.NodeQueued)
		runningID := insertResearchJob(t, tracker, sessionID, models.JobStatusRunning, models.NodeContent)

		got, err := tracker.GetActive(ctx, sessionID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, runningID, got.ID)
		assert.Equal(t, models.JobStatusRunning, got.Status)
		require.NotNil(t, got.CurrentNode)
		assert.Equal(t, models.NodeContent, *got.CurrentNode)
	})
}

func TestActiveTaskTracker_ClearIfMatches(t *testing.T) {
	client := util.SetupTestDatabase(t)
	tracker := NewActiveTaskTracker(client.Pool)
	ctx := context.Background()

	t.Run("matching job id clears without error", func(t *testing.T) {
		sessionID := uuid.NewString()
		jobID := insertResearchJob(t, tracker, sessionID, models.JobStatusCompleted, models.NodeDone)
		assert.NoError(t, tracker.ClearIfMatches(ctx, sessionID, jobID))
	})

	t.Run("a newer running job guards the slot from an older job id", func(t *testing.T) {
		sessionID := uuid.NewString()
		staleID := uuid.NewString()
		insertResearchJob(t, tracker, sessionID, models.JobStatusRunning, models.NodeContent)

		err := tracker.ClearIfMatches(ctx, sessionID, staleID)
		assert.Error(t, err)
	})
}

func TestActiveTaskTracker_SetActive(t *testing.T) {
	client := util.SetupTestDatabase(t)
	tracker := NewActiveTaskTracker(client.Pool)
	assert.NoError(t, tracker.SetActive(context.Background(), "session", "job", models.JobStatusRunning))
}
