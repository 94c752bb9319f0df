// Package worker consumes scenario jobs from the execution queue and
// drives the step executor. Every decodable delivery is reported back to
// the queue as completed, whatever the run's outcome, so a broken
// scenario can never start a redelivery loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/scenarist/scenarist/pkg/browser"
	"github.com/scenarist/scenarist/pkg/models"
	"github.com/scenarist/scenarist/pkg/queue"
	"github.com/scenarist/scenarist/pkg/storage"
)

// defaultStatsInterval is how often the worker logs its counters.
const defaultStatsInterval = 5 * time.Minute

// ScenarioExecutor runs one scenario and always yields a Result.
type ScenarioExecutor interface {
	Execute(ctx context.Context, runID string, scenario models.Scenario) *models.Result
}

// Stats is a point-in-time snapshot of the worker's job counters.
// Processed equals Succeeded plus Failed whenever no job is mid-flight.
type Stats struct {
	Processed uint64 `json:"processed"`
	Succeeded uint64 `json:"succeeded"`
	Failed    uint64 `json:"failed"`
}

// Worker ties the execution queue to the step executor. It owns the
// browser's lifecycle and releases it in Stop. The queue manager is NOT
// closed by Stop: the caller closes it afterwards, once no deliveries
// remain in flight. That ordering is the shutdown contract.
type Worker struct {
	executor  ScenarioExecutor
	queues    queue.Manager
	store     storage.ResultStore
	browser   browser.Browser
	queueName string
	interval  time.Duration
	logger    *slog.Logger

	processed atomic.Uint64
	succeeded atomic.Uint64
	failed    atomic.Uint64

	started   atomic.Bool
	stopOnce  sync.Once
	stopStats chan struct{}
	statsDone chan struct{}
}

// New wires a worker for the named execution queue. A statsInterval of
// zero or less selects the default of five minutes.
func New(exec ScenarioExecutor, queues queue.Manager, store storage.ResultStore, b browser.Browser, queueName string, statsInterval time.Duration, logger *slog.Logger) *Worker {
	if statsInterval <= 0 {
		statsInterval = defaultStatsInterval
	}
	return &Worker{
		executor:  exec,
		queues:    queues,
		store:     store,
		browser:   b,
		queueName: queueName,
		interval:  statsInterval,
		logger:    logger,
		stopStats: make(chan struct{}),
		statsDone: make(chan struct{}),
	}
}

// Start declares the execution queue, attaches the job processor and
// begins periodic statistics emission.
func (w *Worker) Start(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return errors.New("worker already started")
	}
	if err := w.queues.CreateQueue(ctx, w.queueName); err != nil {
		w.started.Store(false)
		return fmt.Errorf("creating queue %s: %w", w.queueName, err)
	}
	if err := w.queues.RegisterWorker(ctx, w.queueName, w.processJob); err != nil {
		w.started.Store(false)
		return fmt.Errorf("registering worker on queue %s: %w", w.queueName, err)
	}
	go w.statsLoop()
	w.logger.Info("Worker started",
		slog.String("queue", w.queueName),
		slog.Duration("stats_interval", w.interval))
	return nil
}

// Stop halts statistics emission and releases the browser only. The
// caller closes the queue manager after Stop returns, so deliveries
// already handed to the processor drain before the connection drops.
func (w *Worker) Stop(ctx context.Context) error {
	w.stopOnce.Do(func() { close(w.stopStats) })
	if w.started.Load() {
		<-w.statsDone
	}
	if err := w.browser.Close(ctx); err != nil {
		return fmt.Errorf("closing browser: %w", err)
	}
	stats := w.Stats()
	w.logger.Info("Worker stopped",
		slog.Uint64("jobs_processed", stats.Processed),
		slog.Uint64("jobs_succeeded", stats.Succeeded),
		slog.Uint64("jobs_failed", stats.Failed))
	return nil
}

// Stats returns the current job counters.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed: w.processed.Load(),
		Succeeded: w.succeeded.Load(),
		Failed:    w.failed.Load(),
	}
}

// processJob handles one delivery from the execution queue. A run that
// produced any Result counts as a succeeded job, whether the scenario
// passed or not; only an executor blow-up counts as failed, and even
// then the delivery is completed with a synthetic ERROR result rather
// than handed back to the broker.
func (w *Worker) processJob(ctx context.Context, job queue.Job) (any, error) {
	var payload models.ExecutionPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return nil, fmt.Errorf("decoding payload of job %s: %w", job.ID, err)
	}
	w.processed.Add(1)

	logger := w.logger.With(
		slog.String("run_id", payload.RunID),
		slog.String("test_id", payload.TestID))

	// Redeliveries are keyed by run id: a job whose run already reached
	// a terminal status is completed with the stored result instead of
	// executing the scenario a second time.
	if stored, err := w.store.GetResult(ctx, payload.RunID); err == nil && models.IsTerminalRunStatus(stored.Status) {
		logger.Info("Run already finished, completing duplicate delivery with stored result",
			slog.String("status", stored.Status))
		w.succeeded.Add(1)
		return models.ExecutionOutcome{RunID: payload.RunID, Result: stored}, nil
	} else if err != nil && !errors.Is(err, storage.ErrNotFound) {
		logger.Warn("Could not check for a previous result, executing anyway",
			slog.String("error", err.Error()))
	}

	result, execErr := w.runScenario(ctx, payload)
	if execErr != nil {
		logger.Error("Scenario execution aborted", slog.String("error", execErr.Error()))
		result = syntheticErrorResult(payload)
		w.failed.Add(1)
	} else {
		w.succeeded.Add(1)
	}

	if err := w.store.SaveResult(ctx, result); err != nil {
		logger.Error("Failed to persist run result", slog.String("error", err.Error()))
	}

	return models.ExecutionOutcome{RunID: payload.RunID, Result: result}, nil
}

// runScenario invokes the executor, converting a panic into an error so
// one poisoned job cannot take the consumer down.
func (w *Worker) runScenario(ctx context.Context, payload models.ExecutionPayload) (result *models.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Panic during scenario execution",
				slog.String("run_id", payload.RunID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = fmt.Errorf("scenario execution panicked: %v", r)
		}
	}()
	return w.executor.Execute(ctx, payload.RunID, payload.Scenario), nil
}

// syntheticErrorResult stands in for a run the executor never reported
// on. No step was individually observed, so StepResults stays empty and
// the summary records every step as skipped.
func syntheticErrorResult(payload models.ExecutionPayload) *models.Result {
	now := time.Now().UTC()
	return &models.Result{
		ID:          payload.RunID,
		ScenarioID:  payload.Scenario.ID,
		Status:      models.StatusError,
		StartedAt:   now,
		EndedAt:     now,
		StepResults: []models.StepResult{},
		Summary: models.Summary{
			TotalSteps:   len(payload.Scenario.Steps),
			SkippedSteps: len(payload.Scenario.Steps),
		},
	}
}

func (w *Worker) statsLoop() {
	defer close(w.statsDone)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopStats:
			return
		case <-ticker.C:
			w.logStats()
		}
	}
}

// logStats emits the job counters plus a coarse memory snapshot.
func (w *Worker) logStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	w.logger.Info("Worker statistics",
		slog.Uint64("jobs_processed", w.processed.Load()),
		slog.Uint64("jobs_succeeded", w.succeeded.Load()),
		slog.Uint64("jobs_failed", w.failed.Load()),
		slog.String("heap_alloc", fmt.Sprintf("%.2f MB", float64(m.HeapAlloc)/1024/1024)),
		slog.String("sys", fmt.Sprintf("%.2f MB", float64(m.Sys)/1024/1024)),
		slog.Uint64("num_gc", uint64(m.NumGC)),
		slog.Int("goroutines", runtime.NumGoroutine()))
}
