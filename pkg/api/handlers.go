package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	httperrors "github.com/scenarist/scenarist/errors"
	"github.com/scenarist/scenarist/pkg/config"
	"github.com/scenarist/scenarist/pkg/models"
	"github.com/scenarist/scenarist/pkg/queue"
	"github.com/scenarist/scenarist/pkg/storage"
)

type API struct {
	QueueManager queue.Manager
	ResultStore  storage.ResultStore
	Logger       *slog.Logger
	Config       *config.Config
}

func NewAPI(qm queue.Manager, rs storage.ResultStore, logger *slog.Logger, cfg *config.Config) *API {
	return &API{QueueManager: qm, ResultStore: rs, Logger: logger, Config: cfg}
}

// submitRunResponse is the body of a 202 from HandleSubmitScenario.
type submitRunResponse struct {
	RunID  string         `json:"run_id"`
	Result *models.Result `json:"result"`
}

// HandleSubmitScenario accepts a Scenario, creates the RUNNING Result
// record and enqueues the execution job. The response carries the run id
// the client polls with, plus the initial Result.
func (a *API) HandleSubmitScenario(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testId")
	logger := a.Logger.With(slog.String("handler", "HandleSubmitScenario"), slog.String("test_id", testID))
	if testID == "" {
		httperrors.BadRequest(w, logger, nil, "Missing test ID")
		return
	}

	var scenario models.Scenario
	if err := json.NewDecoder(r.Body).Decode(&scenario); err != nil {
		httperrors.BadRequest(w, logger, err, "Invalid JSON request body")
		return
	}
	defer r.Body.Close()
	if err := scenario.Validate(); err != nil {
		httperrors.BadRequest(w, logger, err, fmt.Sprintf("Invalid scenario: %v", err))
		return
	}

	runID := uuid.NewString()
	logger = logger.With(slog.String("run_id", runID))
	result := models.NewResult(runID, scenario)

	// The record goes in before the job so a worker picking the job up
	// always finds a run to report against.
	if err := a.ResultStore.CreateResult(r.Context(), testID, result); err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to create run record")
		return
	}

	jobID, err := a.QueueManager.Enqueue(r.Context(), a.Config.ExecutionQueue, models.JobTypeExecuteScenario, models.ExecutionPayload{
		TestID:   testID,
		RunID:    runID,
		Scenario: scenario,
	})
	if err != nil {
		// The RUNNING record stays behind; it will never move again and
		// that is visible to whoever polls it.
		httperrors.InternalServerError(w, logger, err, "Failed to enqueue execution job")
		return
	}
	logger.Info("Scenario run enqueued",
		slog.String("job_id", jobID),
		slog.String("scenario_id", scenario.ID),
		slog.Int("steps", len(scenario.Steps)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(submitRunResponse{RunID: runID, Result: result}); err != nil {
		logger.Error("Failed to encode submit response", slog.String("error", err.Error()))
	}
}

// HandleGetRun returns the current Result for a run id. This is the
// polling read path; submission never waits for execution.
func (a *API) HandleGetRun(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runId")
	logger := a.Logger.With(slog.String("handler", "HandleGetRun"), slog.String("run_id", runID))
	if runID == "" {
		httperrors.BadRequest(w, logger, nil, "Missing run ID")
		return
	}

	result, err := a.ResultStore.GetResult(r.Context(), runID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httperrors.NotFound(w, logger, nil, "Run not found")
			return
		}
		httperrors.InternalServerError(w, logger, err, "Failed to retrieve run")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(result); err != nil {
		logger.Error("Failed to encode run response", slog.String("error", err.Error()))
	}
}

// HandleGetTestRuns lists the stored Results for a test id, most recent
// first.
func (a *API) HandleGetTestRuns(w http.ResponseWriter, r *http.Request) {
	testID := chi.URLParam(r, "testId")
	logger := a.Logger.With(slog.String("handler", "HandleGetTestRuns"), slog.String("test_id", testID))
	if testID == "" {
		httperrors.BadRequest(w, logger, nil, "Missing test ID")
		return
	}

	results, err := a.ResultStore.ListResultsByTest(r.Context(), testID)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, fmt.Sprintf("Failed to retrieve runs for test %s", testID))
		return
	}
	if results == nil {
		results = []models.Result{}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(results); err != nil {
		logger.Error("Failed to encode runs response", slog.String("test_id", testID), slog.String("error", err.Error()))
	}
}

// HandleGetQueueStatus reports how many jobs wait in the named queue.
func (a *API) HandleGetQueueStatus(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	logger := a.Logger.With(slog.String("handler", "HandleGetQueueStatus"), slog.String("queue", name))
	if name == "" {
		httperrors.BadRequest(w, logger, nil, "Missing queue name")
		return
	}

	size, err := a.QueueManager.QueueSize(r.Context(), name)
	if err != nil {
		httperrors.InternalServerError(w, logger, err, "Failed to get queue status")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]any{"queue": name, "pending_jobs": size}); err != nil {
		logger.Error("Failed to encode queue status response", slog.String("error", err.Error()))
	}
}
