package model

import "time"

// RunResult is returned when a run finishes, successfully or not.
type RunResult struct {
	RunID           string           `json:"run_id"`
	Status          RunStatus        `json:"status"`
	ToolKey         string           `json:"tool_key"`
	Intent          string           `json:"intent"`
	RegistryVersion string           `json:"registry_version,omitempty"`
	Plan            *Plan            `json:"plan,omitempty"`
	ExecutionTrace  []ExecEvent      `json:"execution_trace"`
	StepResults     []map[string]any `json:"step_results"`
	Errors          []ErrorEnvelope  `json:"errors"`
	PreState        map[string]any   `json:"pre_state"`
	PostState       map[string]any   `json:"post_state"`
	ArchiveRef      string           `json:"archive_ref,omitempty"`
}

// RunState is the live, mutable view of a run held by the run store.
type RunState struct {
	RunID            string                `json:"run_id"`
	ToolKey          string                `json:"tool_key"`
	Intent           string                `json:"intent"`
	Phase            RunPhase              `json:"phase"`
	Status           RunStatus             `json:"status,omitempty"`
	Conversation     []Message             `json:"conversation"`
	PreState         map[string]any        `json:"pre_state,omitempty"`
	PostState        map[string]any        `json:"post_state,omitempty"`
	Plan             *Plan                 `json:"plan,omitempty"`
	ValidationErrors []ValidationError     `json:"validation_errors"`
	ExecTrace        []ExecEvent           `json:"exec_trace"`
	StepStatus       map[string]StepStatus `json:"step_status"`
	CreatedAt        time.Time             `json:"created_at"`
	UpdatedAt        time.Time             `json:"updated_at"`
}

// Clone returns a copy whose slices and maps can be read without holding the store lock.
func (s *RunState) Clone() *RunState {
	c := *s
	c.Conversation = append([]Message(nil), s.Conversation...)
	c.ValidationErrors = append([]ValidationError(nil), s.ValidationErrors...)
	c.ExecTrace = append([]ExecEvent(nil), s.ExecTrace...)
	c.StepStatus = make(map[string]StepStatus, len(s.StepStatus))
	for k, v := range s.StepStatus {
		c.StepStatus[k] = v
	}
	if s.Plan != nil {
		p := *s.Plan
		c.Plan = &p
	}
	return &c
}

// ArchiveRecord is what the archivist persists for a finished run.
type ArchiveRecord struct {
	RunID           string         `json:"run_id"`
	ToolKey         string         `json:"tool_key"`
	Intent          string         `json:"intent"`
	RegistryVersion string         `json:"registry_version,omitempty"`
	Conversation    []Message      `json:"conversation"`
	Plan            *Plan          `json:"plan,omitempty"`
	ExecTrace       []ExecEvent    `json:"exec_trace"`
	PreState        map[string]any `json:"pre_state"`
	PostState       map[string]any `json:"post_state"`
	Status          RunStatus      `json:"status"`
	StoredAt        float64        `json:"stored_at,omitempty"`
	ArchiveRef      string         `json:"archive_ref,omitempty"`
}
