package executor

import "fmt"

// StepError is an expected step failure: a failed assertion, a selector
// that matched nothing, a navigation fault, or a step timeout. It marks
// the step FAILED and skips every remaining step; it never escapes the
// executor.
type StepError struct {
	Message string
	Cause   error
}

func (e *StepError) Error() string { return e.Message }

func (e *StepError) Unwrap() error { return e.Cause }

func stepErrorf(cause error, format string, args ...any) *StepError {
	return &StepError{Message: fmt.Sprintf(format, args...), Cause: cause}
}

// RunnerError is an unexpected driving-layer fault not tied to a single
// step, such as a lost browser session. It ends the run with status ERROR.
type RunnerError struct {
	Message string
	Cause   error
}

func (e *RunnerError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *RunnerError) Unwrap() error { return e.Cause }
