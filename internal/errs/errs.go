// Package errs defines the structured error type carried across the planner,
// executor, orchestrator and transport.
//
// Every failure a client can observe is an *Error wrapping a
// model.ErrorEnvelope, so the transport can forward the envelope verbatim in a
// RUN_ERROR frame.
package errs

import (
	"errors"
	"fmt"

	"vimani/internal/model"
)

// Codes emitted by the service.
const (
	CodePlannerMissingAPIKey = "PLANNER_MISSING_API_KEY"
	CodePlannerInitFailed    = "PLANNER_INIT_FAILED"
	CodePlannerCallFailed    = "PLANNER_LLM_CALL_FAILED"
	CodePlannerInvalidOutput = "PLANNER_INVALID_OUTPUT"
	CodePlanningTimeout      = "PLANNING_TIMEOUT"
	CodeRegistryNotFound     = "REGISTRY_NOT_FOUND"
	CodeMockFailure          = "MOCK_FAILURE"
	CodeRunTaskFailed        = "RUN_TASK_FAILED"
	CodeRunCancelled         = "RUN_CANCELLED"
	CodeRunAlreadyActive     = "RUN_ALREADY_ACTIVE"
	CodeUnknownMessage       = "UNKNOWN_MESSAGE"
	CodeInvalidMessage       = "INVALID_MESSAGE"
	CodeQueueFull            = "QUEUE_FULL"
	CodeWSFailure            = "WS_FAILURE"
)

// Error is an error carrying a client-facing envelope.
type Error struct {
	Envelope model.ErrorEnvelope
	cause    error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Envelope.Code, e.Envelope.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Envelope.Code, e.Envelope.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a RUN severity error that is not retryable.
func New(source model.ErrorSource, code, message string) *Error {
	return &Error{Envelope: model.ErrorEnvelope{
		Code:     code,
		Message:  message,
		Source:   source,
		Severity: model.SeverityRun,
	}}
}

// Wrap is New with an underlying cause kept for errors.Is/As.
func Wrap(cause error, source model.ErrorSource, code, message string) *Error {
	e := New(source, code, message)
	e.cause = cause
	return e
}

// Retryable marks the error as retryable.
func (e *Error) Retryable() *Error {
	e.Envelope.Retryable = true
	return e
}

// ForStep scopes the error to a single step.
func (e *Error) ForStep(stepID string) *Error {
	e.Envelope.StepID = stepID
	e.Envelope.Severity = model.SeverityStep
	return e
}

// EnvelopeOf extracts the envelope from err, falling back to fallbackCode
// with the error text as message.
func EnvelopeOf(err error, fallbackCode string) model.ErrorEnvelope {
	var e *Error
	if errors.As(err, &e) {
		return e.Envelope
	}
	return model.ErrorEnvelope{
		Code:     fallbackCode,
		Message:  err.Error(),
		Source:   model.SourceOrchestrator,
		Severity: model.SeverityRun,
	}
}

// Is reports whether err carries an envelope with the given code.
func Is(err error, code string) bool {
	var e *Error
	return errors.As(err, &e) && e.Envelope.Code == code
}
