package planner

import (
	"context"

	"vimani/internal/model"
)

// Mock asks for details once and then always proposes the same three step
// ClickUp setup plan.
type Mock struct{}

func NewMock() *Mock { return &Mock{} }

func (m *Mock) Describe() string { return "planner=MockPlanner" }

func (m *Mock) Next(ctx context.Context, in Input) (Output, error) {
	if err := ctx.Err(); err != nil {
		return Output{}, err
	}

	if !model.HasUserMessage(in.Conversation) {
		return Output{
			Role: model.RoleAssistant,
			Type: OutputForm,
			Text: "I need a bit more information to set this up correctly.",
			Fields: []model.MessageField{
				{
					Key:         "team_size",
					Label:       "Team size",
					Type:        model.FieldNumber,
					Required:    true,
					Placeholder: model.StrPtr("e.g. 5"),
					Options:     []model.Choice{},
				},
				{
					Key:      "priority",
					Label:    "Priority",
					Type:     model.FieldSelect,
					Required: true,
					Options: []model.Choice{
						{ID: "low", Label: "Low"},
						{ID: "medium", Label: "Medium"},
						{ID: "high", Label: "High"},
					},
				},
				{
					Key:         "notes",
					Label:       "Notes",
					Type:        model.FieldTextarea,
					Placeholder: model.StrPtr("Anything else we should know?"),
					Options:     []model.Choice{},
				},
			},
		}, nil
	}

	toolKey := in.ToolKey
	if toolKey == "" {
		toolKey = "clickup"
	}
	plan := model.Plan{
		PlanID:    "mock-plan",
		ToolKey:   toolKey,
		Objective: in.Intent,
		Steps: []model.PlanStep{
			{StepID: "S1", OpID: "clickup.space.create", Params: map[string]any{"name": "Main Space"}},
			{StepID: "S2", OpID: "clickup.folder.create", Params: map[string]any{"name": "Primary Folder"}, DependsOn: []string{"S1"}},
			{StepID: "S3", OpID: "clickup.list.create", Params: map[string]any{"name": "Initial List"}, DependsOn: []string{"S2"}},
		},
	}
	plan.Normalize()
	return Output{Role: model.RoleAssistant, Type: OutputPlan, Plan: &plan}, nil
}
