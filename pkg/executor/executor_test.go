package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scenarist/scenarist/pkg/artifacts"
	"github.com/scenarist/scenarist/pkg/browser"
	"github.com/scenarist/scenarist/pkg/models"
)

// fakePage scripts the driving layer per test. Unset hooks succeed.
type fakePage struct {
	navigateFunc   func(ctx context.Context, url string) error
	fillFunc       func(ctx context.Context, selector, value string) error
	clickFunc      func(ctx context.Context, selector string) error
	textFunc       func(ctx context.Context, selector string) (string, error)
	visibleFunc    func(ctx context.Context, selector string) (bool, error)
	urlFunc        func(ctx context.Context) (string, error)
	screenshotFunc func(ctx context.Context) ([]byte, error)
	closeCalls     int
}

func (p *fakePage) Navigate(ctx context.Context, url string) error {
	if p.navigateFunc != nil {
		return p.navigateFunc(ctx, url)
	}
	return nil
}

func (p *fakePage) Fill(ctx context.Context, selector, value string) error {
	if p.fillFunc != nil {
		return p.fillFunc(ctx, selector, value)
	}
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	if p.clickFunc != nil {
		return p.clickFunc(ctx, selector)
	}
	return nil
}

func (p *fakePage) Text(ctx context.Context, selector string) (string, error) {
	if p.textFunc != nil {
		return p.textFunc(ctx, selector)
	}
	return "", nil
}

func (p *fakePage) Visible(ctx context.Context, selector string) (bool, error) {
	if p.visibleFunc != nil {
		return p.visibleFunc(ctx, selector)
	}
	return true, nil
}

func (p *fakePage) URL(ctx context.Context) (string, error) {
	if p.urlFunc != nil {
		return p.urlFunc(ctx)
	}
	return "", nil
}

func (p *fakePage) Screenshot(ctx context.Context) ([]byte, error) {
	if p.screenshotFunc != nil {
		return p.screenshotFunc(ctx)
	}
	return []byte("png"), nil
}

func (p *fakePage) Close(_ context.Context) error {
	p.closeCalls++
	return nil
}

type fakeBrowser struct {
	page       *fakePage
	newPageErr error
	closeCalls int
}

func (b *fakeBrowser) NewPage(_ context.Context) (browser.Page, error) {
	if b.newPageErr != nil {
		return nil, b.newPageErr
	}
	return b.page, nil
}

func (b *fakeBrowser) Close(_ context.Context) error {
	b.closeCalls++
	return nil
}

// failingUploads wraps a store and rejects every upload.
type failingUploads struct {
	artifacts.Store
}

func (f *failingUploads) Upload(context.Context, string, io.Reader, int64, string) (string, error) {
	return "", errors.New("bucket unavailable")
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestExecutor(t *testing.T, page *fakePage) (*Executor, *artifacts.Memory) {
	t.Helper()
	store := artifacts.NewMemory("test-artifacts")
	exec := New(&fakeBrowser{page: page}, store, 0, 0, testLogger())
	return exec, store
}

func passingScenario() models.Scenario {
	return models.Scenario{
		ID:   "sc-pass",
		Name: "everything passes",
		Steps: models.Steps{
			models.NavigateStep{StepMeta: models.StepMeta{ID: "s1"}, URL: "https://example.com"},
			models.InputStep{StepMeta: models.StepMeta{ID: "s2"}, Selector: "#user", Text: "alice"},
			models.ClickStep{StepMeta: models.StepMeta{ID: "s3"}, Selector: "#submit"},
			models.AssertTextStep{StepMeta: models.StepMeta{ID: "s4"}, Selector: "#title", Text: "Example", ExactMatch: true},
			models.AssertVisibleStep{StepMeta: models.StepMeta{ID: "s5"}, Selector: "#banner", ExpectedVisible: true},
			models.AssertURLStep{StepMeta: models.StepMeta{ID: "s6"}, URL: "example.com"},
			models.WaitStep{StepMeta: models.StepMeta{ID: "s7"}, Milliseconds: 10},
			models.ScreenshotStep{StepMeta: models.StepMeta{ID: "s8"}, Label: "final state"},
		},
	}
}

func TestExecuteAllStepsPass(t *testing.T) {
	page := &fakePage{
		textFunc:    func(_ context.Context, _ string) (string, error) { return "Example", nil },
		urlFunc:     func(_ context.Context) (string, error) { return "https://example.com/home", nil },
		visibleFunc: func(_ context.Context, _ string) (bool, error) { return true, nil },
	}
	exec, store := newTestExecutor(t, page)
	scenario := passingScenario()

	result := exec.Execute(context.Background(), "run-1", scenario)

	assert.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, "run-1", result.ID)
	assert.Equal(t, scenario.ID, result.ScenarioID)
	require.Len(t, result.StepResults, len(scenario.Steps))
	for i, sr := range result.StepResults {
		assert.Equal(t, models.StatusPassed, sr.Status, "step %d", i)
		assert.Equal(t, scenario.Steps[i].Meta().ID, sr.StepID)
		assert.False(t, sr.EndedAt.IsZero(), "step %d end time", i)
	}
	assert.Equal(t, len(scenario.Steps), result.Summary.PassedSteps)
	assert.Zero(t, result.Summary.FailedSteps)
	assert.Zero(t, result.Summary.SkippedSteps)
	assert.False(t, result.EndedAt.IsZero())
	assert.Equal(t, 1, page.closeCalls, "page must be closed exactly once")
	assert.Equal(t, 1, store.Len(), "the explicit screenshot step stores one artifact")
}

func TestExecuteFailureCascade(t *testing.T) {
	page := &fakePage{
		clickFunc: func(_ context.Context, selector string) error {
			return fmt.Errorf("no element matching selector %q", selector)
		},
	}
	exec, store := newTestExecutor(t, page)
	scenario := models.Scenario{
		ID:   "sc-fail",
		Name: "fails at the click",
		Steps: models.Steps{
			models.NavigateStep{StepMeta: models.StepMeta{ID: "s1"}, URL: "https://example.com"},
			models.ClickStep{StepMeta: models.StepMeta{ID: "s2"}, Selector: "#missing"},
			models.InputStep{StepMeta: models.StepMeta{ID: "s3"}, Selector: "#user", Text: "x"},
			models.WaitStep{StepMeta: models.StepMeta{ID: "s4"}, Milliseconds: 10},
		},
	}

	result := exec.Execute(context.Background(), "run-2", scenario)

	assert.Equal(t, models.StatusFailed, result.Status)
	require.Len(t, result.StepResults, 4)
	assert.Equal(t, models.StatusPassed, result.StepResults[0].Status)

	failed := result.StepResults[1]
	assert.Equal(t, models.StatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Contains(t, failed.Error.Message, "#missing")
	require.Len(t, failed.Logs, 1)
	assert.Equal(t, "ERROR", failed.Logs[0].Level)
	require.Len(t, failed.Screenshots, 1)
	assert.Contains(t, failed.Screenshots[0].StorageKey, "/error-")
	assert.Equal(t, "s2", failed.Screenshots[0].StepID)

	assert.Equal(t, models.StatusSkipped, result.StepResults[2].Status)
	assert.Equal(t, models.StatusSkipped, result.StepResults[3].Status)

	assert.Equal(t, 4, result.Summary.TotalSteps)
	assert.Equal(t, 1, result.Summary.PassedSteps)
	assert.Equal(t, 1, result.Summary.FailedSteps)
	assert.Equal(t, 2, result.Summary.SkippedSteps)
	assert.Zero(t, result.Summary.ErrorSteps)
	assert.Equal(t, 1, store.Len(), "only the error screenshot is stored")
}

func TestExecuteMissingSelectorScenario(t *testing.T) {
	page := &fakePage{
		clickFunc: func(_ context.Context, selector string) error {
			return fmt.Errorf("no element matching selector %q", selector)
		},
		textFunc: func(_ context.Context, _ string) (string, error) { return "Example", nil },
	}
	exec, _ := newTestExecutor(t, page)
	scenario := models.Scenario{
		ID:   "sc-example",
		Name: "example.com smoke",
		Steps: models.Steps{
			models.NavigateStep{StepMeta: models.StepMeta{ID: "s1"}, URL: "https://example.com"},
			models.ClickStep{StepMeta: models.StepMeta{ID: "s2"}, Selector: "#missing"},
			models.AssertTextStep{StepMeta: models.StepMeta{ID: "s3"}, Selector: "#title", Text: "Example", ExactMatch: true},
		},
	}

	result := exec.Execute(context.Background(), "run-3", scenario)

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.StatusPassed, result.StepResults[0].Status)
	assert.Equal(t, models.StatusFailed, result.StepResults[1].Status)
	assert.Len(t, result.StepResults[1].Screenshots, 1)
	assert.Equal(t, models.StatusSkipped, result.StepResults[2].Status)
	assert.Equal(t, models.Summary{
		TotalSteps:   3,
		PassedSteps:  1,
		FailedSteps:  1,
		SkippedSteps: 1,
		ErrorSteps:   0,
		DurationMS:   result.Summary.DurationMS,
	}, result.Summary)
}

func TestExecutePageAcquisitionFailure(t *testing.T) {
	store := artifacts.NewMemory("test-artifacts")
	exec := New(&fakeBrowser{newPageErr: errors.New("browser did not start")}, store, 0, 0, testLogger())
	scenario := passingScenario()

	result := exec.Execute(context.Background(), "run-4", scenario)

	assert.Equal(t, models.StatusError, result.Status)
	require.Len(t, result.StepResults, len(scenario.Steps))
	for _, sr := range result.StepResults {
		assert.Equal(t, models.StatusPending, sr.Status)
	}
	assert.False(t, result.EndedAt.IsZero())
	assert.Equal(t, len(scenario.Steps), result.Summary.ErrorSteps)
}

func TestExecuteSessionFaultMidRun(t *testing.T) {
	page := &fakePage{
		clickFunc: func(context.Context, string) error { return context.Canceled },
	}
	exec, _ := newTestExecutor(t, page)
	scenario := models.Scenario{
		ID:   "sc-session",
		Name: "session dies at the click",
		Steps: models.Steps{
			models.NavigateStep{StepMeta: models.StepMeta{ID: "s1"}, URL: "https://example.com"},
			models.ClickStep{StepMeta: models.StepMeta{ID: "s2"}, Selector: "#ok"},
			models.WaitStep{StepMeta: models.StepMeta{ID: "s3"}, Milliseconds: 10},
		},
	}

	result := exec.Execute(context.Background(), "run-5", scenario)

	assert.Equal(t, models.StatusError, result.Status)
	assert.Equal(t, models.StatusPassed, result.StepResults[0].Status)
	assert.Equal(t, models.StatusRunning, result.StepResults[1].Status, "the in-flight step is abandoned, not failed")
	assert.Equal(t, models.StatusPending, result.StepResults[2].Status)
	assert.Equal(t, 1, result.Summary.PassedSteps)
	assert.Equal(t, 2, result.Summary.ErrorSteps)
	assert.Equal(t, 1, page.closeCalls)
}

func TestWaitStepTakesAtLeastItsDuration(t *testing.T) {
	exec, _ := newTestExecutor(t, &fakePage{})
	scenario := models.Scenario{
		ID:   "sc-wait",
		Name: "waits half a second",
		Steps: models.Steps{
			models.WaitStep{StepMeta: models.StepMeta{ID: "s1"}, Milliseconds: 500},
		},
	}

	result := exec.Execute(context.Background(), "run-6", scenario)

	assert.Equal(t, models.StatusPassed, result.Status)
	sr := result.StepResults[0]
	assert.Equal(t, models.StatusPassed, sr.Status)
	assert.GreaterOrEqual(t, sr.EndedAt.Sub(sr.StartedAt), 500*time.Millisecond)
}

func TestScreenshotOnSuccessIsLabeledByStepID(t *testing.T) {
	exec, store := newTestExecutor(t, &fakePage{})
	scenario := models.Scenario{
		ID:   "sc-capture",
		Name: "captures after the click",
		Steps: models.Steps{
			models.ClickStep{StepMeta: models.StepMeta{ID: "click-login", ScreenshotOnSuccess: true}, Selector: "#login"},
		},
	}

	result := exec.Execute(context.Background(), "run-7", scenario)

	assert.Equal(t, models.StatusPassed, result.Status)
	sr := result.StepResults[0]
	require.Len(t, sr.Screenshots, 1)
	shot := sr.Screenshots[0]
	assert.Equal(t, "click-login", shot.StepID)
	assert.Contains(t, shot.StorageKey, "runs/run-7/click-login/click-login-")
	assert.True(t, strings.HasPrefix(shot.URL, "/artifacts/"), "url %q must be relative", shot.URL)
	assert.NotEmpty(t, shot.ID)
	assert.Equal(t, 1, store.Len())
}

func TestScreenshotUploadFailureNeverFailsTheStep(t *testing.T) {
	store := &failingUploads{Store: artifacts.NewMemory("test-artifacts")}
	exec := New(&fakeBrowser{page: &fakePage{}}, store, 0, 0, testLogger())
	scenario := models.Scenario{
		ID:   "sc-upload-fail",
		Name: "upload always fails",
		Steps: models.Steps{
			models.ScreenshotStep{StepMeta: models.StepMeta{ID: "s1"}, Label: "checkpoint"},
			models.ClickStep{StepMeta: models.StepMeta{ID: "s2", ScreenshotOnSuccess: true}, Selector: "#ok"},
		},
	}

	result := exec.Execute(context.Background(), "run-8", scenario)

	assert.Equal(t, models.StatusPassed, result.Status)
	assert.Equal(t, models.StatusPassed, result.StepResults[0].Status)
	assert.Equal(t, models.StatusPassed, result.StepResults[1].Status)
	assert.Empty(t, result.StepResults[0].Screenshots)
	assert.Empty(t, result.StepResults[1].Screenshots)
}

func TestExplicitScreenshotCaptureFailureFailsTheStep(t *testing.T) {
	page := &fakePage{
		screenshotFunc: func(context.Context) ([]byte, error) { return nil, errors.New("target crashed") },
	}
	exec, _ := newTestExecutor(t, page)
	scenario := models.Scenario{
		ID:   "sc-capture-fail",
		Name: "capture breaks",
		Steps: models.Steps{
			models.ScreenshotStep{StepMeta: models.StepMeta{ID: "s1"}, Label: "checkpoint"},
			models.WaitStep{StepMeta: models.StepMeta{ID: "s2"}, Milliseconds: 10},
		},
	}

	result := exec.Execute(context.Background(), "run-9", scenario)

	assert.Equal(t, models.StatusFailed, result.Status)
	assert.Equal(t, models.StatusFailed, result.StepResults[0].Status)
	assert.Equal(t, models.StatusSkipped, result.StepResults[1].Status)
}

func TestStepTimeoutFailsTheStepAndCascades(t *testing.T) {
	page := &fakePage{
		clickFunc: func(ctx context.Context, _ string) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	store := artifacts.NewMemory("test-artifacts")
	exec := New(&fakeBrowser{page: page}, store, 50*time.Millisecond, 50*time.Millisecond, testLogger())
	scenario := models.Scenario{
		ID:   "sc-timeout",
		Name: "click hangs",
		Steps: models.Steps{
			models.ClickStep{StepMeta: models.StepMeta{ID: "s1"}, Selector: "#slow"},
			models.WaitStep{StepMeta: models.StepMeta{ID: "s2"}, Milliseconds: 10},
		},
	}

	result := exec.Execute(context.Background(), "run-10", scenario)

	assert.Equal(t, models.StatusFailed, result.Status)
	failed := result.StepResults[0]
	assert.Equal(t, models.StatusFailed, failed.Status)
	require.NotNil(t, failed.Error)
	assert.Contains(t, failed.Error.Message, "timed out")
	assert.Equal(t, models.StatusSkipped, result.StepResults[1].Status)
}
