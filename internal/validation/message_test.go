package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type startRun struct {
	ToolKey string `json:"tool_key" validate:"required"`
	Intent  string `json:"intent" validate:"required"`
	Mode    string `json:"mode" validate:"omitempty,oneof=a b"`
}

func TestStruct(t *testing.T) {
	assert.NoError(t, Struct(startRun{ToolKey: "clickup", Intent: "x"}))

	err := Struct(startRun{Mode: "c"})
	assert.EqualError(t, err, "tool_key is required; intent is required; mode must be one of: a b")
}
