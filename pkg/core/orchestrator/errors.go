package orchestrator

import (
	"errors"
	"fmt"

	"github.com/vango-go/agrivoice/pkg/core/phase"
)

// ErrCancelled is returned when a request was cancelled or superseded. It is
// not a failure and carries no user-visible message.
var ErrCancelled = errors.New("advice request cancelled")

// ErrInvalidRequest is wrapped by validation failures on Request.
var ErrInvalidRequest = errors.New("invalid advice request")

// FetchError reports a failed phase in one of the data pipelines.
type FetchError struct {
	Pipeline phase.Pipeline
	Phase    phase.Phase
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s pipeline failed at %s: %v", e.Pipeline, e.Phase, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// SynthesisError reports a failed planner step. Pipelines stay done.
type SynthesisError struct {
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: %v", e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// IsCancelled reports whether err is a cancellation rather than a failure.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
