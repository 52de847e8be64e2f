package model

// RunStatus is the terminal outcome of a run.
type RunStatus string

const (
	RunStatusSuccess   RunStatus = "SUCCESS"
	RunStatusPartial   RunStatus = "PARTIAL"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

// RunPhase tracks where a run currently is in the orchestration loop.
type RunPhase string

const (
	PhaseCreated          RunPhase = "CREATED"
	PhasePreStateFetched  RunPhase = "PRE_STATE_FETCHED"
	PhasePlanning         RunPhase = "PLANNING"
	PhasePlanValidating   RunPhase = "PLAN_VALIDATING"
	PhaseExecuting        RunPhase = "EXECUTING"
	PhasePausedForUser    RunPhase = "PAUSED_FOR_USER"
	PhasePostStateFetched RunPhase = "POST_STATE_FETCHED"
	PhaseArchiving        RunPhase = "ARCHIVING"
	PhaseDone             RunPhase = "DONE"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageQuestion MessageType = "question"
	MessageChoice   MessageType = "choice"
	MessageForm     MessageType = "form"
	MessageStatus   MessageType = "status"
)

type ErrorSource string

const (
	SourcePlanner      ErrorSource = "PLANNER"
	SourceExecutor     ErrorSource = "EXECUTOR"
	SourceOrchestrator ErrorSource = "ORCHESTRATOR"
)

type ErrorSeverity string

const (
	SeverityStep ErrorSeverity = "STEP"
	SeverityRun  ErrorSeverity = "RUN"
)

type StepStatus string

const (
	StepPending StepStatus = "PENDING"
	StepRunning StepStatus = "RUNNING"
	StepDone    StepStatus = "DONE"
	StepFailed  StepStatus = "FAILED"
	StepPaused  StepStatus = "PAUSED"
	StepSkipped StepStatus = "SKIPPED"
)

// StepDecision is the user's answer to a failed step.
type StepDecision string

const (
	DecisionRetryStep      StepDecision = "RETRY_STEP"
	DecisionSkipStep       StepDecision = "SKIP_STEP"
	DecisionSkipDependents StepDecision = "SKIP_DEPENDENTS"
	DecisionReplan         StepDecision = "REPLAN"
	DecisionAbortRun       StepDecision = "ABORT_RUN"
)

type OnFailAction string

const (
	OnFailStop           OnFailAction = "STOP"
	OnFailSkipDependents OnFailAction = "SKIP_DEPENDENTS"
	OnFailContinue       OnFailAction = "CONTINUE"
)

// EventType names both outbound transport frames and executor events.
type EventType string

const (
	EventRunCreated       EventType = "RUN_CREATED"
	EventDebug            EventType = "DEBUG"
	EventPlannerMessage   EventType = "PLANNER_MESSAGE"
	EventPlanInvalid      EventType = "PLAN_INVALID"
	EventPlanAccepted     EventType = "PLAN_ACCEPTED"
	EventExecEvent        EventType = "EXEC_EVENT"
	EventNeedStepDecision EventType = "NEED_STEP_DECISION"
	EventRunDone          EventType = "RUN_DONE"
	EventRunError         EventType = "RUN_ERROR"
	EventStepStarted      EventType = "STEP_STARTED"
	EventStepLog          EventType = "STEP_LOG"
	EventStepDone         EventType = "STEP_DONE"
	EventStepFailed       EventType = "STEP_FAILED"
	EventRunSummary       EventType = "RUN_SUMMARY"
)
