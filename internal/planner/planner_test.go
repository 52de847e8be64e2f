package planner

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vimani/internal/config"
	"vimani/internal/errs"
	"vimani/internal/model"
)

func TestMockPlanner(t *testing.T) {
	p := NewMock()
	ctx := context.Background()

	out, err := p.Next(ctx, Input{ToolKey: "clickup", Intent: "setup"})
	require.NoError(t, err)
	assert.Equal(t, OutputForm, out.Type)
	assert.Equal(t, "I need a bit more information to set this up correctly.", out.Text)
	require.Len(t, out.Fields, 3)
	assert.Equal(t, "team_size", out.Fields[0].Key)
	assert.True(t, out.Fields[0].Required)
	assert.Len(t, out.Fields[1].Options, 3)
	assert.False(t, out.Fields[2].Required)

	out, err = p.Next(ctx, Input{
		ToolKey:      "clickup",
		Intent:       "setup",
		Conversation: []model.Message{out.FormMessage(), model.UserText("team_size=8", nil)},
	})
	require.NoError(t, err)
	assert.Equal(t, OutputPlan, out.Type)
	require.NotNil(t, out.Plan)
	assert.Equal(t, "mock-plan", out.Plan.PlanID)
	assert.Equal(t, []string{"S1", "S2", "S3"}, out.Plan.StepIDs())
	assert.Equal(t, []string{"S2"}, out.Plan.Steps[2].DependsOn)
	assert.Equal(t, model.OnFailSkipDependents, out.Plan.Steps[0].OnFail)
}

func TestNewSelectsPlanner(t *testing.T) {
	log := zerolog.Nop()

	p, err := New(config.PlannerConfig{Mode: "mock"}, nil, log)
	require.NoError(t, err)
	assert.Equal(t, "planner=MockPlanner", p.Describe())

	_, err = New(config.PlannerConfig{Mode: "llm"}, nil, log)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.CodePlannerMissingAPIKey))

	p, err = New(config.PlannerConfig{Mode: "llm", APIKey: "k", Model: "gpt-4.1-mini", BaseURL: "http://x", Timeout: time.Second}, nil, log)
	require.NoError(t, err)
	assert.Equal(t, "planner=LLMPlanner model=gpt-4.1-mini", p.Describe())
}

// fakeResponses serves canned Responses API bodies in order and records requests.
type fakeResponses struct {
	mu       sync.Mutex
	replies  []string
	status   int
	requests []responsesRequest
}

func (f *fakeResponses) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	body, _ := io.ReadAll(r.Body)
	var req responsesRequest
	_ = json.Unmarshal(body, &req)
	f.requests = append(f.requests, req)

	if f.status != 0 {
		w.WriteHeader(f.status)
		_, _ = w.Write([]byte(`{"error":{"message":"nope"}}`))
		return
	}
	text := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	resp := map[string]any{
		"output": []any{
			map[string]any{"type": "reasoning", "content": []any{}},
			map[string]any{"type": "message", "content": []any{map[string]any{"type": "output_text", "text": text}}},
		},
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func newTestLLM(t *testing.T, f *fakeResponses) *LLM {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)

	p, err := NewLLM(config.PlannerConfig{
		Mode:    "llm",
		Model:   "test-model",
		APIKey:  "sk-test",
		BaseURL: srv.URL + "/",
		Timeout: 5 * time.Second,
	}, srv.Client(), zerolog.Nop())
	require.NoError(t, err)
	return p
}

func TestLLMFormNormalization(t *testing.T) {
	f := &fakeResponses{replies: []string{`{
		"type": "form",
		"text": "  ",
		"fields": [
			{"id": "team_size", "label": "Team size", "type": "number"},
			{"key": "priority", "label": "Priority", "type": "select", "required": true,
			 "placeholder": "pick", "options": [{"id": "low", "label": "Low"}]}
		]
	}`}}
	p := newTestLLM(t, f)

	out, err := p.Next(context.Background(), Input{ToolKey: "clickup", Intent: "x"})
	require.NoError(t, err)

	assert.Equal(t, OutputForm, out.Type)
	assert.Equal(t, defaultFormText, out.Text)
	require.Len(t, out.Fields, 2)
	assert.Equal(t, "team_size", out.Fields[0].Key)
	assert.False(t, out.Fields[0].Required)
	assert.Nil(t, out.Fields[0].Placeholder)
	assert.Equal(t, []model.Choice{}, out.Fields[0].Options)
	assert.Equal(t, "pick", *out.Fields[1].Placeholder)
	assert.Equal(t, []model.Choice{{ID: "low", Label: "Low"}}, out.Fields[1].Options)

	require.Len(t, f.requests, 1)
	req := f.requests[0]
	assert.Equal(t, "test-model", req.Model)
	assert.Equal(t, "json_object", req.Text.Format.Type)
	assert.Equal(t, "system", req.Input[0].Role)
	assert.NotContains(t, req.Input[0].Content, "CORRECTIVE INSTRUCTION")

	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(req.Input[1].Content), &payload))
	assert.Equal(t, "clickup", payload["tool_key"])
}

func TestLLMPlanDefaults(t *testing.T) {
	f := &fakeResponses{replies: []string{`{
		"type": "plan",
		"steps": [
			{"step_id": "S1", "op_id": "clickup.space.create"},
			{"step_id": "S2", "op_id": "clickup.folder.create", "params": {"name": "F"}, "depends_on": ["S1"]}
		]
	}`}}
	p := newTestLLM(t, f)

	out, err := p.Next(context.Background(), Input{ToolKey: "clickup"})
	require.NoError(t, err)
	require.NotNil(t, out.Plan)

	assert.NotEmpty(t, out.Plan.PlanID)
	assert.Equal(t, "clickup", out.Plan.ToolKey)
	assert.Equal(t, "", out.Plan.Objective)
	assert.Equal(t, map[string]any{}, out.Plan.Steps[0].Params)
	assert.Equal(t, []string{}, out.Plan.Steps[0].DependsOn)
	assert.Equal(t, "F", out.Plan.Steps[1].Params["name"])
}

func TestProcessPlan(t *testing.T) {
	t.Run("missing steps default to empty", func(t *testing.T) {
		var data map[string]any
		require.NoError(t, json.Unmarshal([]byte(`{"type": "plan", "plan": {"objective": "o"}}`), &data))

		out, err := processPlan(data, "clickup")
		require.NoError(t, err)
		require.NotNil(t, out.Plan)
		assert.Equal(t, []model.PlanStep{}, out.Plan.Steps)
		assert.Equal(t, "clickup", out.Plan.ToolKey)
	})

	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"unknown plan key", `{"plan": {"steps": [], "priority": "high"}}`, `unknown field "priority"`},
		{"unknown step key", `{"steps": [{"step_id": "S1", "op_id": "a", "retries": 2}]}`, `unknown field "retries"`},
		{"steps not a list", `{"plan": {"steps": "S1"}}`, "invalid plan object"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var data map[string]any
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &data))

			_, err := processPlan(data, "clickup")
			require.Error(t, err)
			env := errs.EnvelopeOf(err, "")
			assert.Equal(t, errs.CodePlannerInvalidOutput, env.Code)
			assert.Contains(t, env.Message, tt.want)
		})
	}
}

func TestLLMCorrectiveRetry(t *testing.T) {
	f := &fakeResponses{replies: []string{
		`{"type": "form", "text": "hi", "fields": []}`,
		`{"type": "plan", "plan": {"plan_id": "p", "tool_key": "clickup", "objective": "o", "steps": [{"step_id": "S1", "op_id": "a"}]}}`,
	}}
	p := newTestLLM(t, f)

	out, err := p.Next(context.Background(), Input{ToolKey: "clickup"})
	require.NoError(t, err)
	assert.Equal(t, OutputPlan, out.Type)

	require.Len(t, f.requests, 2)
	assert.Contains(t, f.requests[1].Input[0].Content, "CORRECTIVE INSTRUCTION: Previous output was invalid: Planner form output must include at least one field")
}

func TestLLMRetryFailureReturnsFirstError(t *testing.T) {
	f := &fakeResponses{replies: []string{
		`{"type": "essay"}`,
		`[1, 2, 3]`,
	}}
	p := newTestLLM(t, f)

	_, err := p.Next(context.Background(), Input{ToolKey: "clickup"})
	require.Error(t, err)

	env := errs.EnvelopeOf(err, "")
	assert.Equal(t, errs.CodePlannerInvalidOutput, env.Code)
	assert.Contains(t, env.Message, "got: essay")
	assert.True(t, env.Retryable)
	assert.Equal(t, model.SourcePlanner, env.Source)
}

func TestLLMCallFailed(t *testing.T) {
	f := &fakeResponses{status: http.StatusUnauthorized}
	p := newTestLLM(t, f)

	_, err := p.Next(context.Background(), Input{ToolKey: "clickup"})
	require.Error(t, err)
	env := errs.EnvelopeOf(err, "")
	assert.Equal(t, errs.CodePlannerCallFailed, env.Code)
	assert.Contains(t, env.Message, "status 401")
	assert.Len(t, f.requests, 1, "transport failures are not retried")
}

func TestParseFieldsErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"not a list", `{"a":1}`, "'fields' as a list"},
		{"not an object", `[1]`, "index 0: must be an object"},
		{"missing label", `[{"key":"a","type":"text"}]`, "missing required key 'label'"},
		{"missing key", `[{"label":"A","type":"text"}]`, "'key' or 'id'"},
		{"bad type", `[{"key":"a","label":"A","type":"date"}]`, "'type' must be one of"},
		{"bad required", `[{"key":"a","label":"A","type":"text","required":"yes"}]`, "'required' must be a boolean"},
		{"bad placeholder", `[{"key":"a","label":"A","type":"text","placeholder":3}]`, "'placeholder' must be a string or null"},
		{"bad option", `[{"key":"a","label":"A","type":"select","options":[{"id":1,"label":"x"}]}]`, "option at index 0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var raw any
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &raw))
			_, err := parseFields(raw)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
