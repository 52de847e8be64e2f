// Package planner turns an intent and a conversation into either a form
// (asking the user for more detail) or a plan of registry operations.
package planner

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"

	"vimani/internal/config"
	"vimani/internal/model"
	"vimani/internal/registry"
)

// OutputType distinguishes the two things a planner can return.
type OutputType string

const (
	OutputForm OutputType = "form"
	OutputPlan OutputType = "plan"
)

// Input is everything the planner sees on a turn.
type Input struct {
	ToolKey           string                  `json:"tool_key"`
	Intent            string                  `json:"intent"`
	OperationRegistry *registry.Registry      `json:"operation_registry"`
	PreState          map[string]any          `json:"pre_state"`
	Conversation      []model.Message         `json:"conversation"`
	ValidationErrors  []model.ValidationError `json:"validation_errors"`
}

// Output is a single planner turn.
type Output struct {
	Role   string               `json:"role"`
	Type   OutputType           `json:"type"`
	Text   string               `json:"text,omitempty"`
	Fields []model.MessageField `json:"fields,omitempty"`
	Plan   *model.Plan          `json:"plan,omitempty"`
}

// FormMessage renders a form output as a conversation message.
func (o Output) FormMessage() model.Message {
	return model.Message{
		Role:   model.RoleAssistant,
		Type:   model.MessageForm,
		Text:   o.Text,
		Fields: o.Fields,
	}
}

// Planner produces the next planning turn.
type Planner interface {
	Next(ctx context.Context, in Input) (Output, error)
	// Describe is a short label used in debug frames.
	Describe() string
}

// New builds the planner selected by cfg.Mode. httpClient may be nil.
func New(cfg config.PlannerConfig, httpClient *http.Client, log zerolog.Logger) (Planner, error) {
	if cfg.Mode == "llm" {
		return NewLLM(cfg, httpClient, log)
	}
	return NewMock(), nil
}
