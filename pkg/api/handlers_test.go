package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/deepresearch/researchd/pkg/config"
	"github.com/deepresearch/researchd/pkg/queue"
	"github.com/deepresearch/researchd/pkg/session"
	util "github.com/deepresearch/researchd/test/util"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testQueueConfig() *config.Config {
	return &config.Config{ResearchQueue: &config.QueueConfig{MaxRetries: 3}}
}

// TestCreateResearchJob_Validation exercises only the request-validation
// branch: no database round trip is needed since binding/enum checks fail
// before the executor is ever touched.
func TestCreateResearchJob_Validation(t *testing.T) {
	s := &Server{}
	router := NewRouter(s)

	tests := []struct {
		name string
		body string
	}{
		{"missing required field", `{"user_id":"u1","session_id":"s1"}`},
		{"invalid model_tier", `{"user_id":"u1","session_id":"s1","research_idea":"idea","model_tier":"bogus","breadth":"low","depth":"low","document_length":"low"}`},
		{"invalid breadth", `{"user_id":"u1","session_id":"s1","research_idea":"idea","model_tier":"mini","breadth":"bogus","depth":"low","document_length":"low"}`},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/research-jobs", bytes.NewBufferString(tc.body))
			req.Header.Set("Content-Type", "application/json")
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestGetResearchJob_NotFound(t *testing.T) {
	client := util.SetupTestDatabase(t)
	jobs := queue.NewResearchJobExecutor(client.Pool, testQueueConfig(), nil, nil, nil, nil, nil, nil, nil, nil)
	s := NewServer(jobs, session.NewActiveTaskTracker(client.Pool))
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/research-jobs/00000000-0000-0000-0000-000000000000", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAndGetResearchJob(t *testing.T) {
	client := util.SetupTestDatabase(t)
	jobs := queue.NewResearchJobExecutor(client.Pool, testQueueConfig(), nil, nil, nil, nil, nil, nil, nil, nil)
	s := NewServer(jobs, session.NewActiveTaskTracker(client.Pool))
	router := NewRouter(s)

	body := `{"user_id":"u1","session_id":"s1","research_idea":"idea","model_tier":"mini","breadth":"low","depth":"low","document_length":"low"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/research-jobs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var created EnqueueResearchJobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	require.NotEmpty(t, created.JobID)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/research-jobs/"+created.JobID, nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var job ResearchJobResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &job))
	assert.Equal(t, created.JobID, job.ID)
	assert.Equal(t, "queued", job.Status)
	assert.Nil(t, job.Result)
}

func TestGetActiveTask_NoneQueued(t *testing.T) {
	client := util.SetupTestDatabase(t)
	jobs := queue.NewResearchJobExecutor(client.Pool, testQueueConfig(), nil, nil, nil, nil, nil, nil, nil, nil)
	s := NewServer(jobs, session.NewActiveTaskTracker(client.Pool))
	router := NewRouter(s)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/no-such-session/active-task", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestGetActiveTask_ReflectsQueuedJob(t *testing.T) {
	client := util.SetupTestDatabase(t)
	jobs := queue.NewResearchJobExecutor(client.Pool, testQueueConfig(), nil, nil, nil, nil, nil, nil, nil, nil)
	s := NewServer(jobs, session.NewActiveTaskTracker(client.Pool))
	router := NewRouter(s)

	body := `{"user_id":"u1","session_id":"active-session","research_idea":"idea","model_tier":"mini","breadth":"low","depth":"low","document_length":"low"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/research-jobs", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	getReq := httptest.NewRequest(http.MethodGet, "/api/v1/sessions/active-session/active-task", nil)
	getRec := httptest.NewRecorder()
	router.ServeHTTP(getRec, getReq)
	require.Equal(t, http.StatusOK, getRec.Code)

	var task ActiveTaskResponse
	require.NoError(t, json.Unmarshal(getRec.Body.Bytes(), &task))
	assert.Equal(t, "research", task.Type)
	assert.Equal(t, "queued", task.Status)
}
