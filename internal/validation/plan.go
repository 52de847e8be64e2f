// Package validation checks planner output before it reaches the executor and
// validates inbound transport messages.
package validation

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"vimani/internal/model"
	"vimani/internal/registry"
)

// Validation error codes.
const (
	CodeSchemaInvalid     = "SCHEMA_INVALID"
	CodeLimitExceeded     = "LIMIT_EXCEEDED"
	CodeUnknownOperation  = "UNKNOWN_OPERATION"
	CodeInvalidParams     = "INVALID_PARAMS"
	CodeInvalidDependency = "INVALID_DEPENDENCY"
)

// DefaultMaxSteps caps the number of steps in a plan.
const DefaultMaxSteps = 5

//go:embed schemas/plan.schema.json
var planSchemaJSON []byte

const planSchemaURL = "plan.schema.json"

// PlanValidator validates plans against the plan schema and an operation registry.
// It is safe for concurrent use.
type PlanValidator struct {
	plan     *jsonschema.Schema
	maxSteps int

	mu  sync.Mutex
	ops map[opKey]*jsonschema.Schema
}

// opKey identifies a compiled input schema. Reloaded registries with the
// same content share entries.
type opKey struct {
	toolKey string
	version string
	opID    string
	schema  string
}

// NewPlanValidator compiles the plan schema. maxSteps <= 0 uses DefaultMaxSteps.
func NewPlanValidator(maxSteps int) (*PlanValidator, error) {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(planSchemaURL, bytes.NewReader(planSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add plan schema: %w", err)
	}
	sch, err := c.Compile(planSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile plan schema: %w", err)
	}
	return &PlanValidator{plan: sch, maxSteps: maxSteps, ops: map[opKey]*jsonschema.Schema{}}, nil
}

// Validate returns every problem found in plan, in check order:
// schema, step limit, registry lookup and params, then dependencies.
func (v *PlanValidator) Validate(plan model.Plan, reg *registry.Registry) []model.ValidationError {
	var out []model.ValidationError

	plan.Normalize()
	if msg, path, ok := check(v.plan, plan); !ok {
		out = append(out, model.ValidationError{Code: CodeSchemaInvalid, Message: msg, Path: path})
	}

	if len(plan.Steps) > v.maxSteps {
		out = append(out, model.ValidationError{
			Code:    CodeLimitExceeded,
			Message: fmt.Sprintf("Plan has %d steps; max is %d", len(plan.Steps), v.maxSteps),
			Path:    "steps",
		})
	}

	for _, step := range plan.Steps {
		op, ok := reg.Operation(step.OpID)
		if !ok {
			out = append(out, model.ValidationError{
				Code:    CodeUnknownOperation,
				Message: fmt.Sprintf("Operation '%s' not found in registry", step.OpID),
				StepID:  step.StepID,
				OpID:    step.OpID,
			})
			continue
		}
		sch, err := v.opSchema(reg, op)
		if err != nil {
			out = append(out, model.ValidationError{
				Code:    CodeInvalidParams,
				Message: fmt.Sprintf("input schema for '%s' is invalid: %v", op.OpID, err),
				StepID:  step.StepID,
				OpID:    step.OpID,
			})
			continue
		}
		if msg, path, ok := check(sch, step.Params); !ok {
			out = append(out, model.ValidationError{
				Code:    CodeInvalidParams,
				Message: msg,
				Path:    path,
				StepID:  step.StepID,
				OpID:    step.OpID,
			})
		}
	}

	return append(out, checkDependencies(plan)...)
}

func (v *PlanValidator) opSchema(reg *registry.Registry, op registry.Operation) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(op.InputSchema)
	if err != nil {
		return nil, err
	}
	key := opKey{toolKey: reg.ToolKey, version: reg.Version, opID: op.OpID, schema: string(raw)}

	v.mu.Lock()
	defer v.mu.Unlock()
	if sch, ok := v.ops[key]; ok {
		return sch, nil
	}

	url := fmt.Sprintf("ops/%s/%s.json", reg.ToolKey, op.OpID)
	c := jsonschema.NewCompiler()
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, err
	}
	sch, err := c.Compile(url)
	if err != nil {
		return nil, err
	}
	v.ops[key] = sch
	return sch, nil
}

// check validates value against sch and reports the most specific failure.
func check(sch *jsonschema.Schema, value any) (msg, path string, ok bool) {
	doc, err := toJSONValue(value)
	if err != nil {
		return err.Error(), "", false
	}
	err = sch.Validate(doc)
	if err == nil {
		return "", "", true
	}
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return err.Error(), "", false
	}
	leaf := verr
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	return leaf.Message, strings.TrimPrefix(leaf.InstanceLocation, "/"), false
}

// toJSONValue round-trips v through JSON so the schema sees plain JSON types.
func toJSONValue(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func checkDependencies(plan model.Plan) []model.ValidationError {
	var out []model.ValidationError

	known := make(map[string]bool, len(plan.Steps))
	for _, s := range plan.Steps {
		known[s.StepID] = true
	}

	for _, s := range plan.Steps {
		for _, dep := range s.DependsOn {
			if !known[dep] {
				out = append(out, model.ValidationError{
					Code:    CodeInvalidDependency,
					Message: fmt.Sprintf("Dependency '%s' not found", dep),
					StepID:  s.StepID,
					Path:    "depends_on",
				})
			}
			if dep == s.StepID {
				out = append(out, model.ValidationError{
					Code:    CodeInvalidDependency,
					Message: "Step cannot depend on itself",
					StepID:  s.StepID,
					Path:    "depends_on",
				})
			}
		}
	}

	if node, found := findCycle(plan); found {
		out = append(out, model.ValidationError{
			Code:    CodeInvalidDependency,
			Message: "Cycle detected in dependencies",
			StepID:  node,
			Path:    "depends_on",
		})
	}
	return out
}

// findCycle runs a depth-first search from each step in plan order and
// returns the root step whose traversal reached a node already on the stack.
func findCycle(plan model.Plan) (string, bool) {
	edges := make(map[string][]string, len(plan.Steps))
	for _, s := range plan.Steps {
		edges[s.StepID] = s.DependsOn
	}

	permanent := map[string]bool{}
	temporary := map[string]bool{}

	var visit func(id string) bool
	visit = func(id string) bool {
		if permanent[id] {
			return false
		}
		if temporary[id] {
			return true
		}
		temporary[id] = true
		for _, dep := range edges[id] {
			if visit(dep) {
				return true
			}
		}
		delete(temporary, id)
		permanent[id] = true
		return false
	}

	for _, s := range plan.Steps {
		if visit(s.StepID) {
			return s.StepID, true
		}
	}
	return "", false
}
