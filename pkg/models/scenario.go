package models

import (
	"context"
	"encoding/json"
	"fmt"
)

// Scenario is an ordered, named sequence of browser steps submitted for
// execution. Steps are immutable once submitted; their order defines the
// execution order.
type Scenario struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       Steps  `json:"steps"`
}

// Validate checks the fields the submission boundary requires before a
// scenario may be enqueued.
func (s Scenario) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("scenario id is required")
	}
	if s.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("scenario must contain at least one step")
	}
	seen := make(map[string]struct{}, len(s.Steps))
	for i, step := range s.Steps {
		id := step.Meta().ID
		if id == "" {
			return fmt.Errorf("step %d: id is required", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("step %d: duplicate step id %q", i, id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// Wire-type discriminators for the step variants.
const (
	StepTypeNavigate      = "navigate"
	StepTypeInput         = "input"
	StepTypeClick         = "click"
	StepTypeAssertText    = "assert_text"
	StepTypeAssertVisible = "assert_visible"
	StepTypeAssertURL     = "assert_url"
	StepTypeWait          = "wait"
	StepTypeScreenshot    = "screenshot"
)

// Step is one typed browser action or assertion. The set of step kinds is
// closed: every kind lives in this package and dispatches through Apply,
// so a StepRunner missing a handler for any kind does not compile.
type Step interface {
	// Apply invokes the StepRunner method matching this step kind.
	Apply(ctx context.Context, r StepRunner) error
	// Meta returns the fields every step kind shares.
	Meta() StepMeta

	isStep()
}

// StepRunner executes steps. One method per step kind; implementations
// must handle all of them, which is what keeps the dispatch exhaustive.
type StepRunner interface {
	Navigate(ctx context.Context, step NavigateStep) error
	Input(ctx context.Context, step InputStep) error
	Click(ctx context.Context, step ClickStep) error
	AssertText(ctx context.Context, step AssertTextStep) error
	AssertVisible(ctx context.Context, step AssertVisibleStep) error
	AssertURL(ctx context.Context, step AssertURLStep) error
	Wait(ctx context.Context, step WaitStep) error
	Screenshot(ctx context.Context, step ScreenshotStep) error
}

// StepMeta carries the fields common to every step kind.
type StepMeta struct {
	ID          string `json:"id"`
	Description string `json:"description,omitempty"`
	// ScreenshotOnSuccess requests a capture after the step's action
	// succeeds, labeled by the step id.
	ScreenshotOnSuccess bool `json:"screenshot_on_success,omitempty"`
}

// NavigateStep loads a URL in the browsing context.
type NavigateStep struct {
	StepMeta
	URL string `json:"url"`
}

// InputStep sets a value on the element matched by the selector.
type InputStep struct {
	StepMeta
	Selector string `json:"selector"`
	Text     string `json:"text"`
}

// ClickStep clicks the element matched by the selector.
type ClickStep struct {
	StepMeta
	Selector string `json:"selector"`
}

// AssertTextStep compares the matched element's text content against Text.
// ExactMatch requires equality; otherwise substring containment suffices.
type AssertTextStep struct {
	StepMeta
	Selector   string `json:"selector"`
	Text       string `json:"text"`
	ExactMatch bool   `json:"exact_match,omitempty"`
}

// AssertVisibleStep checks the matched element's visibility against
// ExpectedVisible.
type AssertVisibleStep struct {
	StepMeta
	Selector        string `json:"selector"`
	ExpectedVisible bool   `json:"expected_visible"`
}

// AssertURLStep compares the current page URL against URL, exact or
// substring per ExactMatch.
type AssertURLStep struct {
	StepMeta
	URL        string `json:"url"`
	ExactMatch bool   `json:"exact_match,omitempty"`
}

// WaitStep suspends execution for the given duration.
type WaitStep struct {
	StepMeta
	Milliseconds int `json:"milliseconds"`
}

// ScreenshotStep captures the page unconditionally under Label.
type ScreenshotStep struct {
	StepMeta
	Label string `json:"label"`
}

func (s NavigateStep) Apply(ctx context.Context, r StepRunner) error { return r.Navigate(ctx, s) }
func (s InputStep) Apply(ctx context.Context, r StepRunner) error    { return r.Input(ctx, s) }
func (s ClickStep) Apply(ctx context.Context, r StepRunner) error    { return r.Click(ctx, s) }
func (s AssertTextStep) Apply(ctx context.Context, r StepRunner) error {
	return r.AssertText(ctx, s)
}
func (s AssertVisibleStep) Apply(ctx context.Context, r StepRunner) error {
	return r.AssertVisible(ctx, s)
}
func (s AssertURLStep) Apply(ctx context.Context, r StepRunner) error { return r.AssertURL(ctx, s) }
func (s WaitStep) Apply(ctx context.Context, r StepRunner) error      { return r.Wait(ctx, s) }
func (s ScreenshotStep) Apply(ctx context.Context, r StepRunner) error {
	return r.Screenshot(ctx, s)
}

func (s NavigateStep) Meta() StepMeta      { return s.StepMeta }
func (s InputStep) Meta() StepMeta         { return s.StepMeta }
func (s ClickStep) Meta() StepMeta         { return s.StepMeta }
func (s AssertTextStep) Meta() StepMeta    { return s.StepMeta }
func (s AssertVisibleStep) Meta() StepMeta { return s.StepMeta }
func (s AssertURLStep) Meta() StepMeta     { return s.StepMeta }
func (s WaitStep) Meta() StepMeta          { return s.StepMeta }
func (s ScreenshotStep) Meta() StepMeta    { return s.StepMeta }

func (NavigateStep) isStep()      {}
func (InputStep) isStep()         {}
func (ClickStep) isStep()         {}
func (AssertTextStep) isStep()    {}
func (AssertVisibleStep) isStep() {}
func (AssertURLStep) isStep()     {}
func (WaitStep) isStep()          {}
func (ScreenshotStep) isStep()    {}

func (s NavigateStep) MarshalJSON() ([]byte, error) {
	type alias NavigateStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{StepTypeNavigate, alias(s)})
}

func (s InputStep) MarshalJSON() ([]byte, error) {
	type alias InputStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{StepTypeInput, alias(s)})
}

func (s ClickStep) MarshalJSON() ([]byte, error) {
	type alias ClickStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{StepTypeClick, alias(s)})
}

func (s AssertTextStep) MarshalJSON() ([]byte, error) {
	type alias AssertTextStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{StepTypeAssertText, alias(s)})
}

func (s AssertVisibleStep) MarshalJSON() ([]byte, error) {
	type alias AssertVisibleStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{StepTypeAssertVisible, alias(s)})
}

func (s AssertURLStep) MarshalJSON() ([]byte, error) {
	type alias AssertURLStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{StepTypeAssertURL, alias(s)})
}

func (s WaitStep) MarshalJSON() ([]byte, error) {
	type alias WaitStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{StepTypeWait, alias(s)})
}

func (s ScreenshotStep) MarshalJSON() ([]byte, error) {
	type alias ScreenshotStep
	return json.Marshal(struct {
		Type string `json:"type"`
		alias
	}{StepTypeScreenshot, alias(s)})
}

// Steps is an ordered step sequence that round-trips through JSON using
// the "type" discriminator on each element.
type Steps []Step

func (s *Steps) UnmarshalJSON(data []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	steps := make(Steps, 0, len(raw))
	for i, item := range raw {
		step, err := decodeStep(item)
		if err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
		steps = append(steps, step)
	}
	*s = steps
	return nil
}

func decodeStep(raw json.RawMessage) (Step, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, err
	}
	switch head.Type {
	case StepTypeNavigate:
		var step NavigateStep
		err := json.Unmarshal(raw, &step)
		return step, err
	case StepTypeInput:
		var step InputStep
		err := json.Unmarshal(raw, &step)
		return step, err
	case StepTypeClick:
		var step ClickStep
		err := json.Unmarshal(raw, &step)
		return step, err
	case StepTypeAssertText:
		var step AssertTextStep
		err := json.Unmarshal(raw, &step)
		return step, err
	case StepTypeAssertVisible:
		var step AssertVisibleStep
		err := json.Unmarshal(raw, &step)
		return step, err
	case StepTypeAssertURL:
		var step AssertURLStep
		err := json.Unmarshal(raw, &step)
		return step, err
	case StepTypeWait:
		var step WaitStep
		err := json.Unmarshal(raw, &step)
		return step, err
	case StepTypeScreenshot:
		var step ScreenshotStep
		err := json.Unmarshal(raw, &step)
		return step, err
	default:
		return nil, fmt.Errorf("unknown step type %q", head.Type)
	}
}
