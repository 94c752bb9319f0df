package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenarist/scenarist/pkg/config"
	"github.com/scenarist/scenarist/pkg/models"
	"github.com/scenarist/scenarist/pkg/queue"
	queuememory "github.com/scenarist/scenarist/pkg/queue/memory"
	storagememory "github.com/scenarist/scenarist/pkg/storage/memory"
)

type testServer struct {
	router http.Handler
	queues *queuememory.Manager
	store  *storagememory.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	queues := queuememory.NewManager(logger)
	t.Cleanup(func() { queues.Close() })
	store := storagememory.NewStore()
	cfg := &config.Config{
		ExecutionQueue: "scenario-execution",
		RequestTimeout: 5 * time.Second,
	}
	apiHandler := NewAPI(queues, store, logger, cfg)
	return &testServer{
		router: SetupRouter(apiHandler, cfg),
		queues: queues,
		store:  store,
	}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func scenarioBody(t *testing.T) []byte {
	t.Helper()
	raw, err := json.Marshal(models.Scenario{
		ID:   "login-flow",
		Name: "Login flow",
		Steps: models.Steps{
			models.NavigateStep{StepMeta: models.StepMeta{ID: "open"}, URL: "https://example.com/login"},
			models.InputStep{StepMeta: models.StepMeta{ID: "user"}, Selector: "#username", Text: "alex"},
			models.ClickStep{StepMeta: models.StepMeta{ID: "go"}, Selector: "#submit"},
		},
	})
	require.NoError(t, err)
	return raw
}

func TestSubmitScenarioCreatesRunAndEnqueues(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/tests/checkout/runs", scenarioBody(t))
	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp struct {
		RunID  string         `json:"run_id"`
		Result *models.Result `json:"result"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.RunID)
	require.NotNil(t, resp.Result)
	assert.Equal(t, models.StatusRunning, resp.Result.Status)
	require.Len(t, resp.Result.StepResults, 3)
	for _, sr := range resp.Result.StepResults {
		assert.Equal(t, models.StatusPending, sr.Status)
	}

	// The record is readable before any worker touches the job.
	stored, err := ts.store.GetResult(context.Background(), resp.RunID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRunning, stored.Status)

	// The job carries the full payload, keyed by the returned run id.
	var delivered atomic.Pointer[queue.Job]
	require.NoError(t, ts.queues.RegisterWorker(context.Background(), "scenario-execution", func(_ context.Context, job queue.Job) (any, error) {
		delivered.Store(&job)
		return nil, nil
	}))
	require.Eventually(t, func() bool { return delivered.Load() != nil }, 2*time.Second, 10*time.Millisecond)

	var payload models.ExecutionPayload
	require.NoError(t, json.Unmarshal(delivered.Load().Payload, &payload))
	assert.Equal(t, "checkout", payload.TestID)
	assert.Equal(t, resp.RunID, payload.RunID)
	assert.Equal(t, "login-flow", payload.Scenario.ID)
	require.Len(t, payload.Scenario.Steps, 3)
}

func TestSubmitScenarioRejectsMalformedBody(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/tests/checkout/runs", []byte(`{not json`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	size, err := ts.queues.QueueSize(context.Background(), "scenario-execution")
	require.NoError(t, err)
	assert.Zero(t, size, "nothing may be enqueued for a rejected request")
}

func TestSubmitScenarioRejectsInvalidScenario(t *testing.T) {
	ts := newTestServer(t)

	raw, err := json.Marshal(models.Scenario{ID: "empty", Name: "Empty", Steps: models.Steps{}})
	require.NoError(t, err)

	rec := ts.do(t, http.MethodPost, "/api/v1/tests/checkout/runs", raw)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	size, err := ts.queues.QueueSize(context.Background(), "scenario-execution")
	require.NoError(t, err)
	assert.Zero(t, size)
}

func TestGetRunReturnsStoredResult(t *testing.T) {
	ts := newTestServer(t)

	scenario := models.Scenario{
		ID:   "s-1",
		Name: "One step",
		Steps: models.Steps{
			models.WaitStep{StepMeta: models.StepMeta{ID: "pause"}, Milliseconds: 100},
		},
	}
	result := models.NewResult("run-42", scenario)
	result.StepResults[0].Status = models.StatusPassed
	result.Finalize(models.StatusPassed)
	require.NoError(t, ts.store.CreateResult(context.Background(), "t-1", result))

	rec := ts.do(t, http.MethodGet, "/api/v1/runs/run-42", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got models.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "run-42", got.ID)
	assert.Equal(t, models.StatusPassed, got.Status)
	assert.Equal(t, 1, got.Summary.PassedSteps)
}

func TestGetRunUnknownIsNotFound(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/runs/who-dis", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "Run not found")
}

func TestGetTestRunsListsMostRecentFirst(t *testing.T) {
	ts := newTestServer(t)
	scenario := models.Scenario{
		ID:   "s-1",
		Name: "One step",
		Steps: models.Steps{
			models.WaitStep{StepMeta: models.StepMeta{ID: "pause"}, Milliseconds: 100},
		},
	}
	for _, runID := range []string{"run-1", "run-2", "run-3"} {
		require.NoError(t, ts.store.CreateResult(context.Background(), "checkout", models.NewResult(runID, scenario)))
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/tests/checkout/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got []models.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "run-3", got[0].ID)
	assert.Equal(t, "run-1", got[2].ID)
}

func TestGetTestRunsUnknownTestIsEmptyList(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/api/v1/tests/nothing-here/runs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestQueueStatusCountsPendingJobs(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := ts.queues.Enqueue(ctx, "scenario-execution", models.JobTypeExecuteScenario, models.ExecutionPayload{RunID: "r"})
		require.NoError(t, err)
	}

	rec := ts.do(t, http.MethodGet, "/api/v1/queues/scenario-execution/status", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "scenario-execution", got["queue"])
	assert.EqualValues(t, 2, got["pending_jobs"])
}

func TestPing(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/ping", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "pong", rec.Body.String())
}
