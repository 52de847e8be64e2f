package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vimani/internal/model"
)

func TestRunStore(t *testing.T) {
	s := NewRunStore(2)
	base := time.Unix(1700000000, 0)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	a := s.Create("clickup", "first")
	assert.Equal(t, model.PhaseCreated, a.Phase)
	assert.NotEmpty(t, a.RunID)

	require.NoError(t, s.Update(a.RunID, func(st *model.RunState) {
		st.Phase = model.PhaseExecuting
		st.StepStatus["S1"] = model.StepRunning
	}))

	got, ok := s.Get(a.RunID)
	require.True(t, ok)
	assert.Equal(t, model.PhaseExecuting, got.Phase)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))

	got.StepStatus["S1"] = model.StepDone
	again, _ := s.Get(a.RunID)
	assert.Equal(t, model.StepRunning, again.StepStatus["S1"], "Get returns a copy")

	b := s.Create("clickup", "second")
	c := s.Create("clickup", "third")
	assert.Equal(t, 2, s.Len())

	_, ok = s.Get(a.RunID)
	assert.False(t, ok, "oldest run evicted")

	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, c.RunID, list[0].RunID)
	assert.Equal(t, b.RunID, list[1].RunID)

	assert.ErrorIs(t, s.Update(a.RunID, func(*model.RunState) {}), ErrRunNotFound)

	s.Delete(b.RunID)
	assert.Equal(t, 1, s.Len())
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.runFinished("SUCCESS")
		m.execEvent(model.EventStepDone)
		m.planRejected()
		m.runStarted()()
	})
}
