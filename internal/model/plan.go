package model

// PlanStep is one operation invocation in a plan.
type PlanStep struct {
	StepID    string         `json:"step_id" yaml:"step_id"`
	OpID      string         `json:"op_id" yaml:"op_id"`
	Params    map[string]any `json:"params" yaml:"params"`
	DependsOn []string       `json:"depends_on" yaml:"depends_on"`
	OnFail    OnFailAction   `json:"on_fail" yaml:"on_fail"`
}

// Plan is the planner's proposal for fulfilling an intent.
type Plan struct {
	PlanID    string     `json:"plan_id" yaml:"plan_id"`
	ToolKey   string     `json:"tool_key" yaml:"tool_key"`
	Objective string     `json:"objective" yaml:"objective"`
	Steps     []PlanStep `json:"steps" yaml:"steps"`
}

// Normalize fills defaults so the plan serializes with empty objects and
// arrays rather than nulls.
func (p *Plan) Normalize() {
	if p.Steps == nil {
		p.Steps = []PlanStep{}
	}
	for i := range p.Steps {
		s := &p.Steps[i]
		if s.Params == nil {
			s.Params = map[string]any{}
		}
		if s.DependsOn == nil {
			s.DependsOn = []string{}
		}
		if s.OnFail == "" {
			s.OnFail = OnFailSkipDependents
		}
	}
}

// Step returns the step with the given id.
func (p Plan) Step(id string) (PlanStep, bool) {
	for _, s := range p.Steps {
		if s.StepID == id {
			return s, true
		}
	}
	return PlanStep{}, false
}

// StepIDs lists step ids in plan order.
func (p Plan) StepIDs() []string {
	ids := make([]string, 0, len(p.Steps))
	for _, s := range p.Steps {
		ids = append(ids, s.StepID)
	}
	return ids
}

// Dependents returns the ids of steps that list stepID in depends_on.
func (p Plan) Dependents(stepID string) []string {
	var out []string
	for _, s := range p.Steps {
		for _, dep := range s.DependsOn {
			if dep == stepID {
				out = append(out, s.StepID)
				break
			}
		}
	}
	return out
}

// SingleStep wraps one step in a plan of its own, keeping the parent's identity.
func (p Plan) SingleStep(step PlanStep) Plan {
	return Plan{
		PlanID:    p.PlanID + "_step_" + step.StepID,
		ToolKey:   p.ToolKey,
		Objective: p.Objective,
		Steps:     []PlanStep{step},
	}
}

// ValidationError describes why a plan was rejected.
type ValidationError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Path    string         `json:"path,omitempty"`
	StepID  string         `json:"step_id,omitempty"`
	OpID    string         `json:"op_id,omitempty"`
	Details map[string]any `json:"details,omitempty"`
}
