package executor

import (
	"context"
	"fmt"
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"vimani/internal/errs"
	"vimani/internal/model"
)

// Simulated pretends to call the tool. Every step takes StepDelay and
// successful create operations are recorded in an in-memory workspace, so
// FetchState before and after a run differ.
type Simulated struct {
	delay time.Duration
	now   func() time.Time

	mu        sync.Mutex
	workspace map[string][]map[string]any
}

// resource collections, keyed by the second segment of an op id
// (clickup.space.create -> spaces).
var collections = map[string]string{
	"space":  "spaces",
	"folder": "folders",
	"list":   "lists",
	"task":   "tasks",
}

func NewSimulated(stepDelay time.Duration) *Simulated {
	return &Simulated{
		delay:     stepDelay,
		now:       time.Now,
		workspace: map[string][]map[string]any{},
	}
}

func (s *Simulated) FetchState(ctx context.Context, toolKey string, userContext map[string]any) (map[string]any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	state := map[string]any{}
	for _, name := range []string{"spaces", "folders", "lists", "tasks"} {
		items := make([]map[string]any, len(s.workspace[name]))
		copy(items, s.workspace[name])
		state[name] = items
	}
	return state, nil
}

func (s *Simulated) ExecutePlan(ctx context.Context, req Request) iter.Seq[model.ExecEvent] {
	return func(yield func(model.ExecEvent) bool) {
		for _, step := range req.Plan.Steps {
			if !yield(s.event(model.EventStepStarted, step.StepID)) {
				return
			}
			logEv := s.event(model.EventStepLog, step.StepID)
			logEv.Message = "Executing " + step.OpID
			if !yield(logEv) {
				return
			}

			if !s.wait(ctx) {
				return
			}

			if step.StepID == req.FailOnStepID {
				ev := s.event(model.EventStepFailed, step.StepID)
				env := errs.New(model.SourceExecutor, errs.CodeMockFailure, "Mock failure for testing").
					Retryable().ForStep(step.StepID).Envelope
				ev.Error = &env
				yield(ev)
				return
			}

			ev := s.event(model.EventStepDone, step.StepID)
			ev.Output = map[string]any{"ok": true, "step_id": step.StepID}
			if id, ok := s.apply(req.ToolKey, step); ok {
				ev.Output["resource_id"] = id
			}
			if !yield(ev) {
				return
			}
		}
		yield(s.event(model.EventRunSummary, ""))
	}
}

func (s *Simulated) event(t model.EventType, stepID string) model.ExecEvent {
	return model.ExecEvent{Type: t, StepID: stepID, TS: model.Timestamp(s.now())}
}

func (s *Simulated) wait(ctx context.Context) bool {
	if s.delay <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(s.delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// apply records the effect of a create operation. Other operations are no-ops.
func (s *Simulated) apply(toolKey string, step model.PlanStep) (string, bool) {
	parts := strings.Split(step.OpID, ".")
	if len(parts) != 3 || parts[2] != "create" {
		return "", false
	}
	name, ok := collections[parts[1]]
	if !ok {
		return "", false
	}

	id := fmt.Sprintf("%s_%s", parts[1], uuid.NewString()[:8])
	item := map[string]any{"id": id, "tool_key": toolKey, "step_id": step.StepID}
	for k, v := range step.Params {
		item[k] = v
	}

	s.mu.Lock()
	s.workspace[name] = append(s.workspace[name], item)
	s.mu.Unlock()
	return id, true
}
