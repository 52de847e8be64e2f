// Package executor runs validated plans against a tool and reports progress
// as a stream of execution events.
package executor

import (
	"context"
	"iter"

	"vimani/internal/model"
)

// Request is one ExecutePlan call.
type Request struct {
	ToolKey     string
	Plan        model.Plan
	UserContext map[string]any
	// FailOnStepID forces the named step to fail. Used by demos and tests.
	FailOnStepID string
}

// Executor runs plans for a tool.
type Executor interface {
	// FetchState returns a snapshot of the tool's workspace.
	FetchState(ctx context.Context, toolKey string, userContext map[string]any) (map[string]any, error)
	// ExecutePlan yields events while running req.Plan. Stopping the
	// iteration early stops execution. The sequence ends when ctx is done.
	ExecutePlan(ctx context.Context, req Request) iter.Seq[model.ExecEvent]
}
