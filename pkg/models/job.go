package models

// JobTypeExecuteScenario labels scenario-execution jobs on the queue.
const JobTypeExecuteScenario = "execute_scenario"

// ExecutionPayload is the job body enqueued for one scenario run. RunID is
// generated by the submitter; redelivered jobs therefore carry the same run
// id, which is what lets consumers detect and skip duplicates.
type ExecutionPayload struct {
	TestID   string   `json:"test_id"`
	RunID    string   `json:"run_id"`
	Scenario Scenario `json:"scenario"`
}

// ExecutionOutcome is the value a worker reports when a run completes.
type ExecutionOutcome struct {
	RunID  string  `json:"run_id"`
	Result *Result `json:"result"`
}
