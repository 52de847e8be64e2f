package model

import "time"

// ErrorEnvelope is the structured error shape shared by every component.
type ErrorEnvelope struct {
	Code      string        `json:"code"`
	Message   string        `json:"message"`
	Source    ErrorSource   `json:"source"`
	StepID    string        `json:"step_id,omitempty"`
	Retryable bool          `json:"retryable"`
	Severity  ErrorSeverity `json:"severity"`
}

// ExecEvent is emitted by an executor while running a plan.
type ExecEvent struct {
	Type    EventType      `json:"type"`
	StepID  string         `json:"step_id,omitempty"`
	Message string         `json:"message,omitempty"`
	Output  map[string]any `json:"output,omitempty"`
	Error   *ErrorEnvelope `json:"error,omitempty"`
	TS      float64        `json:"ts,omitempty"`
}

// Timestamp returns t as fractional unix seconds.
func Timestamp(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

// Event is a frame sent to the client over the transport.
type Event struct {
	Type       EventType         `json:"type"`
	RunID      string            `json:"run_id,omitempty"`
	Message    any               `json:"message,omitempty"`
	Plan       *Plan             `json:"plan,omitempty"`
	Errors     []ValidationError `json:"errors,omitempty"`
	Event      *ExecEvent        `json:"event,omitempty"`
	StepID     string            `json:"step_id,omitempty"`
	Error      *ErrorEnvelope    `json:"error,omitempty"`
	Status     RunStatus         `json:"status,omitempty"`
	ArchiveRef string            `json:"archive_ref,omitempty"`
	Result     *RunResult        `json:"result,omitempty"`
}

// DebugEvent builds a DEBUG frame.
func DebugEvent(runID, msg string) Event {
	return Event{Type: EventDebug, RunID: runID, Message: msg}
}

// RunErrorEvent builds a RUN_ERROR frame.
func RunErrorEvent(runID string, env ErrorEnvelope) Event {
	return Event{Type: EventRunError, RunID: runID, Error: &env}
}

// StepDecisionMessage is the client's answer to NEED_STEP_DECISION.
type StepDecisionMessage struct {
	RunID    string       `json:"run_id" validate:"required"`
	StepID   string       `json:"step_id" validate:"required"`
	Decision StepDecision `json:"decision" validate:"required,oneof=RETRY_STEP SKIP_STEP SKIP_DEPENDENTS REPLAN ABORT_RUN"`
	Notes    string       `json:"notes,omitempty"`
}

// RunSummary is the payload of the final RUN_SUMMARY event.
type RunSummary struct {
	Status       RunStatus `json:"status"`
	SkippedSteps []string  `json:"skipped_steps"`
	TotalSteps   int       `json:"total_steps"`
}

// Output renders the summary as an ExecEvent output map.
func (s RunSummary) Output() map[string]any {
	skipped := s.SkippedSteps
	if skipped == nil {
		skipped = []string{}
	}
	return map[string]any{
		"status":        s.Status,
		"skipped_steps": skipped,
		"total_steps":   s.TotalSteps,
	}
}
