package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vimani/internal/model"
	"vimani/internal/registry"
)

func testRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.NewLoader(t.TempDir()).Load("clickup")
	require.NoError(t, err)
	return reg
}

func step(id, op string, params map[string]any, deps ...string) model.PlanStep {
	return model.PlanStep{StepID: id, OpID: op, Params: params, DependsOn: deps}
}

func validPlan() model.Plan {
	return model.Plan{
		PlanID:    "p1",
		ToolKey:   "clickup",
		Objective: "Set up workspace",
		Steps: []model.PlanStep{
			step("S1", "clickup.space.create", map[string]any{"name": "Space A"}),
			step("S2", "clickup.folder.create", map[string]any{"name": "Folder A"}, "S1"),
		},
	}
}

func codes(errs []model.ValidationError) []string {
	out := make([]string, 0, len(errs))
	for _, e := range errs {
		out = append(out, e.Code)
	}
	return out
}

func TestValidatePlan(t *testing.T) {
	reg := testRegistry(t)
	v, err := NewPlanValidator(0)
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(p *model.Plan)
		want   []model.ValidationError
	}{
		{
			name:   "valid plan",
			mutate: func(p *model.Plan) {},
			want:   nil,
		},
		{
			name:   "unknown operation",
			mutate: func(p *model.Plan) { p.Steps[0].OpID = "clickup.unknown" },
			want: []model.ValidationError{{
				Code:    CodeUnknownOperation,
				Message: "Operation 'clickup.unknown' not found in registry",
				StepID:  "S1",
				OpID:    "clickup.unknown",
			}},
		},
		{
			name:   "missing dependency",
			mutate: func(p *model.Plan) { p.Steps[1].DependsOn = []string{"S9"} },
			want: []model.ValidationError{{
				Code:    CodeInvalidDependency,
				Message: "Dependency 'S9' not found",
				StepID:  "S2",
				Path:    "depends_on",
			}},
		},
		{
			name:   "self dependency",
			mutate: func(p *model.Plan) { p.Steps[0].DependsOn = []string{"S1"} },
			want: []model.ValidationError{
				{Code: CodeInvalidDependency, Message: "Step cannot depend on itself", StepID: "S1", Path: "depends_on"},
				{Code: CodeInvalidDependency, Message: "Cycle detected in dependencies", StepID: "S1", Path: "depends_on"},
			},
		},
		{
			name:   "cycle",
			mutate: func(p *model.Plan) { p.Steps[0].DependsOn = []string{"S2"} },
			want: []model.ValidationError{
				{Code: CodeInvalidDependency, Message: "Cycle detected in dependencies", StepID: "S1", Path: "depends_on"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validPlan()
			tt.mutate(&p)
			assert.Equal(t, tt.want, v.Validate(p, reg))
		})
	}
}

func TestValidatePlanParams(t *testing.T) {
	reg := testRegistry(t)
	v, err := NewPlanValidator(0)
	require.NoError(t, err)

	p := validPlan()
	p.Steps[1].Params = map[string]any{}
	p.Steps = append(p.Steps, step("S3", "clickup.list.create", map[string]any{"name": "L", "priority": 9}, "S2"))

	got := v.Validate(p, reg)
	require.Len(t, got, 2)

	assert.Equal(t, CodeInvalidParams, got[0].Code)
	assert.Equal(t, "S2", got[0].StepID)
	assert.Equal(t, "clickup.folder.create", got[0].OpID)
	assert.Contains(t, got[0].Message, "name")

	assert.Equal(t, CodeInvalidParams, got[1].Code)
	assert.Equal(t, "S3", got[1].StepID)
	assert.Equal(t, "priority", got[1].Path)
}

func TestValidatePlanSchemaCacheSurvivesReload(t *testing.T) {
	loader := registry.NewLoader(t.TempDir())
	v, err := NewPlanValidator(0)
	require.NoError(t, err)

	var prev *registry.Registry
	for i := 0; i < 5; i++ {
		reg, err := loader.Load("clickup")
		require.NoError(t, err)
		assert.NotSame(t, prev, reg)
		prev = reg

		assert.Empty(t, v.Validate(validPlan(), reg))
		loader.Reload()
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	assert.Len(t, v.ops, 2, "one entry per operation used")
}

func TestValidatePlanSchemaAndLimit(t *testing.T) {
	reg := testRegistry(t)
	v, err := NewPlanValidator(2)
	require.NoError(t, err)

	t.Run("empty plan id", func(t *testing.T) {
		p := validPlan()
		p.PlanID = ""
		got := v.Validate(p, reg)
		require.NotEmpty(t, got)
		assert.Equal(t, CodeSchemaInvalid, got[0].Code)
		assert.Equal(t, "plan_id", got[0].Path)
	})

	t.Run("no steps", func(t *testing.T) {
		p := validPlan()
		p.Steps = nil
		assert.Equal(t, []string{CodeSchemaInvalid}, codes(v.Validate(p, reg)))
	})

	t.Run("bad on_fail", func(t *testing.T) {
		p := validPlan()
		p.Steps[1].OnFail = "EXPLODE"
		got := v.Validate(p, reg)
		require.Len(t, got, 1)
		assert.Equal(t, "steps/1/on_fail", got[0].Path)
	})

	t.Run("too many steps", func(t *testing.T) {
		p := validPlan()
		p.Steps = append(p.Steps, step("S3", "clickup.list.create", map[string]any{"name": "L"}, "S2"))
		got := v.Validate(p, reg)
		require.Len(t, got, 1)
		assert.Equal(t, model.ValidationError{
			Code:    CodeLimitExceeded,
			Message: "Plan has 3 steps; max is 2",
			Path:    "steps",
		}, got[0])
	})
}

func TestValidatePlanOrderAcrossChecks(t *testing.T) {
	reg := testRegistry(t)
	v, err := NewPlanValidator(1)
	require.NoError(t, err)

	p := validPlan()
	p.PlanID = ""
	p.Steps[0].OpID = "nope"
	p.Steps[1].DependsOn = []string{"S7"}

	assert.Equal(t,
		[]string{CodeSchemaInvalid, CodeLimitExceeded, CodeUnknownOperation, CodeInvalidDependency},
		codes(v.Validate(p, reg)))
}

func TestFindCycleStopsAtFirst(t *testing.T) {
	p := model.Plan{Steps: []model.PlanStep{
		step("A", "x", nil, "B"),
		step("B", "x", nil, "A"),
		step("C", "x", nil, "D"),
		step("D", "x", nil, "C"),
	}}
	node, found := findCycle(p)
	assert.True(t, found)
	assert.Equal(t, "A", node)

	_, found = findCycle(validPlan())
	assert.False(t, found)
}
