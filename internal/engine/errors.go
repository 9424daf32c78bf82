package engine

import (
	"errors"
	"fmt"
	"time"
)

var ErrNotReady = errors.New("engine is not ready")

// StartupError means the engine never became ready. It is fatal to the
// process.
type StartupError struct {
	Reason string
	Err    error
}

func (e *StartupError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine startup failed: %s: %v", e.Reason, e.Err)
	}
	return "engine startup failed: " + e.Reason
}

func (e *StartupError) Unwrap() error { return e.Err }

// SubmissionError means the engine rejected a graph or could not be reached.
type SubmissionError struct {
	StatusCode int
	Detail     string
	Err        error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("submit prompt: %v", e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("submit prompt: engine returned status=%d: %s", e.StatusCode, e.Detail)
	default:
		return "submit prompt: " + e.Detail
	}
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// PollTimeoutError means the job was not observed complete within budget.
// The engine job itself is not cancelled.
type PollTimeoutError struct {
	PromptID string
	Budget   time.Duration
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("Timeout: %s (not complete after %s, %d polls)", e.PromptID, e.Budget, e.Attempts)
}
