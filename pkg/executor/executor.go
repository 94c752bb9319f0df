// Package executor runs one scenario at a time against an isolated
// browsing context and produces the full per-step result tree.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/scenarist/scenarist/pkg/artifacts"
	"github.com/scenarist/scenarist/pkg/browser"
	"github.com/scenarist/scenarist/pkg/models"
)

const (
	defaultStepTimeout       = 30 * time.Second
	defaultNavigationTimeout = 30 * time.Second
	pageCloseTimeout         = 10 * time.Second
)

// Executor drives scenarios through a shared browser. It is safe for
// concurrent Execute calls; each call works on its own page.
type Executor struct {
	browser           browser.Browser
	artifacts         artifacts.Store
	stepTimeout       time.Duration
	navigationTimeout time.Duration
	logger            *slog.Logger
}

// New creates an executor. Non-positive timeouts fall back to 30s.
func New(b browser.Browser, store artifacts.Store, stepTimeout, navigationTimeout time.Duration, logger *slog.Logger) *Executor {
	if stepTimeout <= 0 {
		stepTimeout = defaultStepTimeout
	}
	if navigationTimeout <= 0 {
		navigationTimeout = defaultNavigationTimeout
	}
	return &Executor{
		browser:           b,
		artifacts:         store,
		stepTimeout:       stepTimeout,
		navigationTimeout: navigationTimeout,
		logger:            logger.With(slog.String("component", "executor")),
	}
}

// Execute runs the scenario to completion and returns the finalized
// result. It is synchronous and never returns an error: a step failure
// ends the run FAILED, a driving-layer fault ends it ERROR, and the
// result tree always holds one entry per scenario step.
func (e *Executor) Execute(ctx context.Context, runID string, scenario models.Scenario) *models.Result {
	logger := e.logger.With(
		slog.String("run_id", runID),
		slog.String("scenario_id", scenario.ID),
	)
	result := models.NewResult(runID, scenario)

	page, err := e.browser.NewPage(ctx)
	if err != nil {
		logger.Error("Failed to open browsing context", slog.String("error", err.Error()))
		result.Finalize(models.StatusError)
		return result
	}
	defer e.closePage(page, logger)

	r := &run{
		exec:   e,
		page:   page,
		result: result,
		runID:  runID,
		logger: logger,
	}

	status := models.StatusPassed
	for i, step := range scenario.Steps {
		failed, sessionFault := r.executeStep(ctx, i, step)
		if sessionFault {
			status = models.StatusError
			break
		}
		if failed {
			r.skipFrom(i + 1)
			status = models.StatusFailed
			break
		}
	}

	result.Finalize(status)
	logger.Info("Scenario finished",
		slog.String("status", result.Status),
		slog.Int64("duration_ms", result.Summary.DurationMS))
	return result
}

// closePage destroys the browsing context even when the run's own context
// is already cancelled.
func (e *Executor) closePage(page browser.Page, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), pageCloseTimeout)
	defer cancel()
	if err := page.Close(ctx); err != nil {
		logger.Warn("Failed to close browsing context", slog.String("error", err.Error()))
	}
}

// run carries one execution's mutable state. It implements
// models.StepRunner, so every step kind dispatches into a method below and
// a kind without a handler cannot compile.
type run struct {
	exec    *Executor
	page    browser.Page
	result  *models.Result
	current *models.StepResult
	runID   string
	logger  *slog.Logger
}

var _ models.StepRunner = (*run)(nil)

// executeStep runs one step and records its outcome. It reports whether
// the step failed and whether the failure was a session-level fault.
func (r *run) executeStep(ctx context.Context, index int, step models.Step) (failed, sessionFault bool) {
	meta := step.Meta()
	sr := &r.result.StepResults[index]
	sr.Status = models.StatusRunning
	sr.StartedAt = time.Now().UTC()
	r.current = sr

	stepCtx, cancel := context.WithTimeout(ctx, r.exec.timeoutFor(step))
	err := step.Apply(stepCtx, r)
	cancel()

	if err == nil {
		sr.Status = models.StatusPassed
		sr.EndedAt = time.Now().UTC()
		if meta.ScreenshotOnSuccess {
			r.captureScreenshot(ctx, sr, meta.ID, meta.ID)
		}
		return false, false
	}

	var stepErr *StepError
	switch {
	case errors.As(err, &stepErr):
		// keep it
	case errors.Is(err, context.DeadlineExceeded):
		stepErr = stepErrorf(err, "step %s timed out after %s", meta.ID, r.exec.timeoutFor(step))
	case errors.Is(err, context.Canceled):
		// Cancellation that the step timeout did not cause means the
		// session or the process is going away.
		fault := &RunnerError{Message: fmt.Sprintf("browsing session lost during step %s", meta.ID), Cause: err}
		r.logger.Error("Browsing session fault",
			slog.String("step_id", meta.ID),
			slog.String("error", fault.Error()))
		return true, true
	default:
		stepErr = stepErrorf(err, "step %s failed: %v", meta.ID, err)
	}

	now := time.Now().UTC()
	sr.Status = models.StatusFailed
	sr.EndedAt = now
	sr.Error = &models.StepFault{Message: stepErr.Message}
	sr.Logs = append(sr.Logs, models.LogEntry{
		Timestamp: now,
		Level:     "ERROR",
		Message:   stepErr.Message,
	})
	r.logger.Warn("Step failed",
		slog.String("step_id", meta.ID),
		slog.String("error", stepErr.Message))
	r.captureScreenshot(ctx, sr, meta.ID, "error")
	return true, false
}

// skipFrom marks every remaining step SKIPPED without touching it.
func (r *run) skipFrom(index int) {
	for i := index; i < len(r.result.StepResults); i++ {
		r.result.StepResults[i].Status = models.StatusSkipped
	}
}

// timeoutFor picks the budget for one step. Navigation gets its own
// budget; an explicit wait gets its duration on top of the step budget so
// a long wait cannot time itself out.
func (e *Executor) timeoutFor(step models.Step) time.Duration {
	switch s := step.(type) {
	case models.NavigateStep:
		return e.navigationTimeout
	case models.WaitStep:
		return e.stepTimeout + time.Duration(s.Milliseconds)*time.Millisecond
	default:
		return e.stepTimeout
	}
}

func (r *run) Navigate(ctx context.Context, step models.NavigateStep) error {
	if err := r.page.Navigate(ctx, step.URL); err != nil {
		return wrapPageErr(err, "navigation to %q failed", step.URL)
	}
	return nil
}

func (r *run) Input(ctx context.Context, step models.InputStep) error {
	if err := r.page.Fill(ctx, step.Selector, step.Text); err != nil {
		return wrapPageErr(err, "input into %q failed", step.Selector)
	}
	return nil
}

func (r *run) Click(ctx context.Context, step models.ClickStep) error {
	if err := r.page.Click(ctx, step.Selector); err != nil {
		return wrapPageErr(err, "click on %q failed", step.Selector)
	}
	return nil
}

func (r *run) AssertText(ctx context.Context, step models.AssertTextStep) error {
	actual, err := r.page.Text(ctx, step.Selector)
	if err != nil {
		return wrapPageErr(err, "reading text of %q failed", step.Selector)
	}
	if step.ExactMatch {
		if actual != step.Text {
			return stepErrorf(nil, "text assertion failed for %q: expected %q, got %q", step.Selector, step.Text, actual)
		}
		return nil
	}
	if !strings.Contains(actual, step.Text) {
		return stepErrorf(nil, "text assertion failed for %q: expected to contain %q, got %q", step.Selector, step.Text, actual)
	}
	return nil
}

func (r *run) AssertVisible(ctx context.Context, step models.AssertVisibleStep) error {
	visible, err := r.page.Visible(ctx, step.Selector)
	if err != nil {
		return wrapPageErr(err, "reading visibility of %q failed", step.Selector)
	}
	if visible != step.ExpectedVisible {
		return stepErrorf(nil, "visibility assertion failed for %q: expected visible=%t, got visible=%t", step.Selector, step.ExpectedVisible, visible)
	}
	return nil
}

func (r *run) AssertURL(ctx context.Context, step models.AssertURLStep) error {
	current, err := r.page.URL(ctx)
	if err != nil {
		return wrapPageErr(err, "reading current url failed")
	}
	if step.ExactMatch {
		if current != step.URL {
			return stepErrorf(nil, "url assertion failed: expected %q, got %q", step.URL, current)
		}
		return nil
	}
	if !strings.Contains(current, step.URL) {
		return stepErrorf(nil, "url assertion failed: expected to contain %q, got %q", step.URL, current)
	}
	return nil
}

func (r *run) Wait(ctx context.Context, step models.WaitStep) error {
	timer := time.NewTimer(time.Duration(step.Milliseconds) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *run) Screenshot(ctx context.Context, step models.ScreenshotStep) error {
	data, err := r.page.Screenshot(ctx)
	if err != nil {
		return wrapPageErr(err, "screenshot %q failed", step.Label)
	}
	r.storeScreenshot(ctx, r.current, step.ID, step.Label, data)
	return nil
}

// wrapPageErr turns a page-call error into a step failure unless the
// error is a context cancellation, which the step loop inspects itself.
func wrapPageErr(err error, format string, args ...any) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return stepErrorf(err, format+": %v", append(args, err)...)
}

// captureScreenshot grabs and stores an image without ever failing the
// step. Capture and upload problems are logged and absorbed.
func (r *run) captureScreenshot(ctx context.Context, sr *models.StepResult, stepID, label string) {
	data, err := r.page.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("Screenshot capture failed",
			slog.String("step_id", stepID),
			slog.String("label", label),
			slog.String("error", err.Error()))
		return
	}
	r.storeScreenshot(ctx, sr, stepID, label, data)
}

// storeScreenshot uploads captured bytes and appends the reference to the
// step. Upload failures are logged, never propagated.
func (r *run) storeScreenshot(ctx context.Context, sr *models.StepResult, stepID, label string, data []byte) {
	takenAt := time.Now().UTC()
	key := screenshotKey(r.runID, stepID, label, takenAt)
	if _, err := r.exec.artifacts.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "image/png"); err != nil {
		r.logger.Warn("Screenshot upload failed",
			slog.String("step_id", stepID),
			slog.String("key", key),
			slog.String("error", err.Error()))
		return
	}
	sr.Screenshots = append(sr.Screenshots, models.Screenshot{
		ID:         uuid.NewString(),
		StepID:     stepID,
		Timestamp:  takenAt,
		StorageKey: key,
		URL:        r.exec.artifacts.PublicURL(key),
	})
}

// screenshotKey derives the object key for one capture.
func screenshotKey(runID, stepID, label string, takenAt time.Time) string {
	name := fmt.Sprintf("%s-%d.png", sanitizeLabel(label), takenAt.UnixMilli())
	return path.Join("runs", runID, stepID, name)
}

// sanitizeLabel keeps object keys flat and URL-safe.
func sanitizeLabel(label string) string {
	if label == "" {
		return "screenshot"
	}
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, label)
}
