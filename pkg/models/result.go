package models

import "time"

// Constants for run and step status. A run ends PASSED, FAILED or ERROR;
// a step additionally moves through PENDING and RUNNING and may end SKIPPED.
const (
	StatusPending = "PENDING"
	StatusRunning = "RUNNING"
	StatusPassed  = "PASSED"
	StatusFailed  = "FAILED"
	StatusError   = "ERROR"
	StatusSkipped = "SKIPPED"
)

// IsTerminalRunStatus reports whether a run status admits no further
// transitions.
func IsTerminalRunStatus(status string) bool {
	switch status {
	case StatusPassed, StatusFailed, StatusError:
		return true
	}
	return false
}

// Result is the full record of one scenario run. Its ID is the run id.
// StepResults always has one entry per scenario step, in step order, from
// the moment the Result is created.
type Result struct {
	ID          string       `json:"id"`
	ScenarioID  string       `json:"scenario_id"`
	Status      string       `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     time.Time    `json:"ended_at"`
	StepResults []StepResult `json:"step_results"`
	Summary     Summary      `json:"summary"`
}

// StepResult records one step's execution within a run.
type StepResult struct {
	StepID      string       `json:"step_id"`
	Status      string       `json:"status"`
	StartedAt   time.Time    `json:"started_at"`
	EndedAt     time.Time    `json:"ended_at"`
	Logs        []LogEntry   `json:"logs,omitempty"`
	Screenshots []Screenshot `json:"screenshots,omitempty"`
	Error       *StepFault   `json:"error,omitempty"`
}

// LogEntry is one timestamped message attached to a step result.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Screenshot points at one captured image in the artifact store.
type Screenshot struct {
	ID         string    `json:"id"`
	StepID     string    `json:"step_id"`
	Timestamp  time.Time `json:"timestamp"`
	StorageKey string    `json:"storage_key"`
	URL        string    `json:"url"`
}

// StepFault describes why a step failed.
type StepFault struct {
	Message string `json:"message"`
	Stack   string `json:"stack,omitempty"`
}

// Summary holds the per-run step counts, recomputed once when the run
// finalizes.
type Summary struct {
	TotalSteps   int   `json:"total_steps"`
	PassedSteps  int   `json:"passed_steps"`
	FailedSteps  int   `json:"failed_steps"`
	SkippedSteps int   `json:"skipped_steps"`
	ErrorSteps   int   `json:"error_steps"`
	DurationMS   int64 `json:"duration_ms"`
}

// NewResult builds the initial RUNNING record for a run: one PENDING
// StepResult per scenario step, preserving step order.
func NewResult(runID string, scenario Scenario) *Result {
	stepResults := make([]StepResult, 0, len(scenario.Steps))
	for _, step := range scenario.Steps {
		stepResults = append(stepResults, StepResult{
			StepID: step.Meta().ID,
			Status: StatusPending,
		})
	}
	return &Result{
		ID:          runID,
		ScenarioID:  scenario.ID,
		Status:      StatusRunning,
		StartedAt:   time.Now().UTC(),
		StepResults: stepResults,
		Summary:     Summary{TotalSteps: len(scenario.Steps)},
	}
}

// Finalize sets the terminal status and end time and recomputes the
// summary from the step results. Called exactly once per run.
func (r *Result) Finalize(status string) {
	r.Status = status
	r.EndedAt = time.Now().UTC()

	summary := Summary{TotalSteps: len(r.StepResults)}
	for _, sr := range r.StepResults {
		switch sr.Status {
		case StatusPassed:
			summary.PassedSteps++
		case StatusFailed:
			summary.FailedSteps++
		case StatusSkipped:
			summary.SkippedSteps++
		default:
			// Steps still PENDING or RUNNING were abandoned by a run
			// that ended ERROR.
			summary.ErrorSteps++
		}
	}
	summary.DurationMS = r.EndedAt.Sub(r.StartedAt).Milliseconds()
	r.Summary = summary
}
