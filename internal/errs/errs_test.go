package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"vimani/internal/model"
)

func TestErrorBuilders(t *testing.T) {
	err := New(model.SourceExecutor, CodeMockFailure, "boom").Retryable().ForStep("S2")

	assert.Equal(t, "MOCK_FAILURE: boom", err.Error())
	assert.True(t, err.Envelope.Retryable)
	assert.Equal(t, model.SeverityStep, err.Envelope.Severity)
	assert.Equal(t, "S2", err.Envelope.StepID)
}

func TestEnvelopeOf(t *testing.T) {
	t.Run("wrapped structured error", func(t *testing.T) {
		inner := New(model.SourcePlanner, CodePlannerMissingAPIKey, "missing key")
		wrapped := fmt.Errorf("init: %w", inner)

		env := EnvelopeOf(wrapped, CodeRunTaskFailed)
		assert.Equal(t, CodePlannerMissingAPIKey, env.Code)
		assert.Equal(t, model.SourcePlanner, env.Source)
		assert.True(t, Is(wrapped, CodePlannerMissingAPIKey))
	})

	t.Run("plain error", func(t *testing.T) {
		env := EnvelopeOf(errors.New("kaput"), CodeRunTaskFailed)
		assert.Equal(t, CodeRunTaskFailed, env.Code)
		assert.Equal(t, "kaput", env.Message)
		assert.Equal(t, model.SeverityRun, env.Severity)
	})
}

func TestWrapUnwrap(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := Wrap(cause, model.SourcePlanner, CodePlannerCallFailed, "call failed")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "dial tcp: refused")
}
