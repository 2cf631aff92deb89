package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrUnknownModel        = errors.New("unknown model")
	ErrUnknownSlot         = errors.New("unknown attachment slot")
	ErrIndexOutOfRange     = errors.New("attachment index out of range")
	ErrMissingRequiredSlot = errors.New("missing required attachment")
	ErrUnsupportedEndpoint = errors.New("unsupported endpoint")
	ErrOutOfDomain         = errors.New("parameter outside model domain")
	ErrAuth                = errors.New("authentication failed")
	ErrSubmission          = errors.New("submission rejected")
	ErrRemoteTask          = errors.New("remote task failed")
	ErrPipelineAbort       = errors.New("pipeline aborted")
	ErrIncompatibleMode    = errors.New("model incompatible with pipeline")
	ErrNetwork             = errors.New("network error")
	ErrPollLimit           = errors.New("poll attempts exhausted")
	ErrCancelled           = errors.New("cancelled")
	ErrMessageFinal        = errors.New("message is final")
)

// ValidationError reports a local input problem detected before any network call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// MissingRequiredSlotError names the first required slot without a value.
// It is also a validation error.
type MissingRequiredSlotError struct {
	Slot string
}

func (e *MissingRequiredSlotError) Error() string {
	return fmt.Sprintf("validation: required attachment %q is empty", e.Slot)
}

func (e *MissingRequiredSlotError) Is(target error) bool {
	return target == ErrMissingRequiredSlot || target == ErrValidation
}

// SubmissionError is returned when the initial request to the provider fails,
// either because it was rejected (Status set) or because the call itself
// errored (Cause set).
type SubmissionError struct {
	Status int
	Detail string
	Cause  error
}

func (e *SubmissionError) Error() string {
	switch {
	case e.Cause != nil:
		return "submission failed: " + e.Cause.Error()
	case e.Status == 0:
		return "submission rejected: " + e.Detail
	default:
		return fmt.Sprintf("submission rejected: status %d: %s", e.Status, e.Detail)
	}
}

func (e *SubmissionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrSubmission}
	}
	return []error{ErrSubmission, e.Cause}
}

// RemoteTaskError describes a remote job that reached a non-success terminal status.
type RemoteTaskError struct {
	Reason string
	Code   string
}

func (e *RemoteTaskError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("remote task failed: %s (%s)", e.Reason, e.Code)
	}
	return "remote task failed: " + e.Reason
}

func (e *RemoteTaskError) Unwrap() error { return ErrRemoteTask }

// PipelineAbortError wraps the stage A failure that stopped a composite pipeline.
type PipelineAbortError struct {
	Cause error
}

func (e *PipelineAbortError) Error() string {
	return fmt.Sprintf("pipeline aborted: %v", e.Cause)
}

func (e *PipelineAbortError) Is(target error) bool { return target == ErrPipelineAbort }

func (e *PipelineAbortError) Unwrap() error { return e.Cause }

// IncompatibleModeError is returned when a pipeline cannot run against a model.
type IncompatibleModeError struct {
	ModelID string
	Reason  string
}

func (e *IncompatibleModeError) Error() string {
	return fmt.Sprintf("model %s cannot run pipeline: %s", e.ModelID, e.Reason)
}

func (e *IncompatibleModeError) Unwrap() error { return ErrIncompatibleMode }

// ErrorCode maps an error onto the short code persisted with failed messages
// and used to pick a localized status label.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCancelled):
		return "cancelled"
	case errors.Is(err, ErrPipelineAbort):
		return "pipeline_abort"
	case errors.Is(err, ErrAuth):
		return "auth"
	case errors.Is(err, ErrSubmission):
		return "submission"
	case errors.Is(err, ErrRemoteTask):
		return "remote_task"
	case errors.Is(err, ErrPollLimit):
		return "poll_limit"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrIncompatibleMode):
		return "incompatible_mode"
	case errors.Is(err, ErrMessageFinal):
		return "message_final"
	case errors.Is(err, ErrUnknownModel), errors.Is(err, ErrUnknownSlot),
		errors.Is(err, ErrUnsupportedEndpoint), errors.Is(err, ErrOutOfDomain),
		errors.Is(err, ErrIndexOutOfRange):
		return "config"
	default:
		return "internal"
	}
}
