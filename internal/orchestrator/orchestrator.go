// Package orchestrator drives a run end to end: planning with the user in the
// loop, plan validation and correction, step-by-step execution with failure
// decisions, and archiving.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"vimani/internal/archivist"
	"vimani/internal/config"
	"vimani/internal/errs"
	"vimani/internal/executor"
	"vimani/internal/model"
	"vimani/internal/planner"
	"vimani/internal/registry"
	"vimani/internal/validation"
)

// FailOnStepKey is the user context key naming a step the executor must fail.
const FailOnStepKey = "fail_on_step_id"

// RunRequest starts a run.
type RunRequest struct {
	ToolKey     string         `json:"tool_key" validate:"required"`
	Intent      string         `json:"intent" validate:"required"`
	UserContext map[string]any `json:"user_context,omitempty"`
}

// Session is the client end of a run.
type Session interface {
	Send(ctx context.Context, ev model.Event) error
	// NextUserMessage blocks until the user answers a planner message.
	NextUserMessage(ctx context.Context) (model.Message, error)
	// NextStepDecision blocks until the user decides on a failed step.
	NextStepDecision(ctx context.Context) (model.StepDecisionMessage, error)
}

// Options are the collaborators of a Service.
type Options struct {
	Registry   *registry.Loader
	Executor   executor.Executor
	Validator  *validation.PlanValidator
	Archivist  archivist.Archivist
	Store      *RunStore
	Metrics    *Metrics
	Planner    config.PlannerConfig
	HTTPClient *http.Client
	Log        zerolog.Logger
}

type Service struct {
	cfg    config.OrchestratorConfig
	opts   Options
	log    zerolog.Logger
	tracer trace.Tracer
}

// New builds a Service. A nil Store gets an in-memory one sized by
// cfg.MaxStoredRuns; a nil Archivist disables archiving.
func New(cfg config.OrchestratorConfig, opts Options) *Service {
	if cfg.MaxPlanningTurns <= 0 {
		cfg.MaxPlanningTurns = 10
	}
	if cfg.MaxCorrections < 0 {
		cfg.MaxCorrections = 0
	}
	if opts.Store == nil {
		opts.Store = NewRunStore(cfg.MaxStoredRuns)
	}
	return &Service{
		cfg:    cfg,
		opts:   opts,
		log:    opts.Log.With().Str("component", "orchestrator").Logger(),
		tracer: otel.Tracer("vimani/orchestrator"),
	}
}

// NewPlanner builds the configured planner for one run.
func (s *Service) NewPlanner() (planner.Planner, error) {
	return planner.New(s.opts.Planner, s.opts.HTTPClient, s.log)
}

// PlannerConfig reports the planner settings runs are started with.
func (s *Service) PlannerConfig() config.PlannerConfig { return s.opts.Planner }

func (s *Service) Store() *RunStore { return s.opts.Store }

func (s *Service) Registry() *registry.Loader { return s.opts.Registry }

// Archivist returns the configured archivist, or nil.
func (s *Service) Archivist() archivist.Archivist { return s.opts.Archivist }

// StartRun runs req to completion. Planning and validation failures are
// reported in the result with status FAILED; the error is non-nil only when
// the run could not proceed at all (unknown registry, planner or executor
// errors, cancelled context or a dead session).
func (s *Service) StartRun(ctx context.Context, req RunRequest, p planner.Planner, sess Session) (*model.RunResult, error) {
	st := s.opts.Store.Create(req.ToolKey, req.Intent)

	ctx, span := s.tracer.Start(ctx, "orchestrator.run", trace.WithAttributes(
		attribute.String("vimani.run_id", st.RunID),
		attribute.String("vimani.tool_key", req.ToolKey),
	))
	defer span.End()
	defer s.opts.Metrics.runStarted()()

	r := &run{
		svc:         s,
		sess:        sess,
		planner:     p,
		log:         s.log.With().Str("run_id", st.RunID).Str("tool_key", req.ToolKey).Logger(),
		id:          st.RunID,
		toolKey:     req.ToolKey,
		intent:      req.Intent,
		userContext: req.UserContext,
	}
	r.log.Info().Str("event", "run_started").Str("intent", req.Intent).Msg("run started")

	start := time.Now()
	res, err := r.execute(ctx)
	if err != nil {
		status := model.RunStatusFailed
		if errors.Is(err, context.Canceled) {
			status = model.RunStatusCancelled
		}
		r.update(func(st *model.RunState) {
			st.Phase = model.PhaseDone
			st.Status = status
		})
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.opts.Metrics.runFinished(string(status))
		r.log.Error().Err(err).Str("event", "run_failed").Dur("duration", time.Since(start)).Msg("run aborted")
		return nil, err
	}

	span.SetAttributes(attribute.String("vimani.status", string(res.Status)))
	s.opts.Metrics.runFinished(string(res.Status))
	r.log.Info().
		Str("event", "run_finished").
		Str("status", string(res.Status)).
		Str("archive_ref", res.ArchiveRef).
		Dur("duration", time.Since(start)).
		Msg("run finished")
	return res, nil
}

type run struct {
	svc     *Service
	sess    Session
	planner planner.Planner
	log     zerolog.Logger

	id          string
	toolKey     string
	intent      string
	userContext map[string]any

	reg          *registry.Registry
	preState     map[string]any
	conversation []model.Message
	turns        int
}

// execution is the mutable state of the step loop. A replan resets it.
type execution struct {
	plan    model.Plan
	skipped map[string]bool
	trace   []model.ExecEvent
	results []map[string]any
	errors  []model.ErrorEnvelope
	failOn  string
	aborted bool
}

func newExecution(plan model.Plan, failOn string) *execution {
	return &execution{
		plan:    plan,
		skipped: map[string]bool{},
		trace:   []model.ExecEvent{},
		results: []map[string]any{},
		errors:  []model.ErrorEnvelope{},
		failOn:  failOn,
	}
}

func (ex *execution) skippedIDs() []string {
	ids := make([]string, 0, len(ex.skipped))
	for id := range ex.skipped {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (ex *execution) dependsOnSkipped(step model.PlanStep) bool {
	for _, dep := range step.DependsOn {
		if ex.skipped[dep] {
			return true
		}
	}
	return false
}

func (ex *execution) status() model.RunStatus {
	if ex.aborted {
		return model.RunStatusCancelled
	}
	if len(ex.skipped) > 0 {
		return model.RunStatusPartial
	}
	for _, ev := range ex.trace {
		if ev.Type == model.EventStepFailed {
			return model.RunStatusPartial
		}
	}
	return model.RunStatusSuccess
}

func (r *run) execute(ctx context.Context) (*model.RunResult, error) {
	reg, err := r.svc.opts.Registry.Load(r.toolKey)
	if err != nil {
		return nil, err
	}
	r.reg = reg

	pre, err := r.svc.opts.Executor.FetchState(ctx, r.toolKey, r.userContext)
	if err != nil {
		return nil, fmt.Errorf("fetch pre-state: %w", err)
	}
	r.preState = pre
	r.update(func(st *model.RunState) {
		st.Phase = model.PhasePreStateFetched
		st.PreState = pre
	})

	if err := r.send(ctx, model.Event{Type: model.EventRunCreated}); err != nil {
		return nil, err
	}
	if err := r.debug(ctx, "orchestrator skeleton ok"); err != nil {
		return nil, err
	}

	plan, err := r.planLoop(ctx)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return r.failed(model.ErrorEnvelope{
			Code:     errs.CodePlanningTimeout,
			Message:  "Planning loop ended without a plan",
			Source:   model.SourcePlanner,
			Severity: model.SeverityRun,
		}), nil
	}

	plan, verrs, err := r.correct(ctx, plan)
	if err != nil {
		return nil, err
	}
	if len(verrs) > 0 {
		envs := make([]model.ErrorEnvelope, 0, len(verrs))
		for _, ve := range verrs {
			sev := model.SeverityRun
			if ve.StepID != "" {
				sev = model.SeverityStep
			}
			envs = append(envs, model.ErrorEnvelope{
				Code:     ve.Code,
				Message:  ve.Message,
				Source:   model.SourcePlanner,
				StepID:   ve.StepID,
				Severity: sev,
			})
		}
		return r.failed(envs...), nil
	}

	if err := r.accept(ctx, *plan); err != nil {
		return nil, err
	}

	failOn, _ := r.userContext[FailOnStepKey].(string)
	resolved := "none"
	if failOn != "" {
		resolved = fmt.Sprintf("%q", failOn)
	}
	if err := r.debug(ctx, "fail_on_step_id resolved to "+resolved); err != nil {
		return nil, err
	}

	ex := newExecution(*plan, failOn)
	for {
		replan, err := r.runSteps(ctx, ex)
		if err != nil {
			return nil, err
		}
		if ex.aborted || !replan {
			break
		}

		r.turns = 0
		next, err := r.planLoop(ctx)
		if err != nil {
			return nil, err
		}
		if next == nil || len(r.validate(*next)) > 0 {
			ex.aborted = true
			break
		}
		if err := r.accept(ctx, *next); err != nil {
			return nil, err
		}
		ex = newExecution(*next, ex.failOn)
		r.update(func(st *model.RunState) { st.ExecTrace = []model.ExecEvent{} })
	}

	return r.finish(ctx, ex)
}

// planLoop asks the planner for a plan, answering forms through the session,
// until a plan arrives or the turn budget is spent. A nil plan means the
// budget ran out.
func (r *run) planLoop(ctx context.Context) (*model.Plan, error) {
	r.update(func(st *model.RunState) { st.Phase = model.PhasePlanning })

	for r.turns < r.svc.cfg.MaxPlanningTurns {
		r.turns++
		out, err := r.next(ctx, nil)
		if err != nil {
			return nil, err
		}
		switch {
		case out.Type == planner.OutputForm:
			if err := r.askUser(ctx, out); err != nil {
				return nil, err
			}
		case out.Type == planner.OutputPlan && out.Plan != nil:
			return out.Plan, nil
		default:
			if err := r.debug(ctx, fmt.Sprintf("Unexpected planner output type: %s", out.Type)); err != nil {
				return nil, err
			}
		}
	}
	return nil, nil
}

// correct validates plan and feeds errors back to the planner until the plan
// is valid or the correction budget is spent.
func (r *run) correct(ctx context.Context, plan *model.Plan) (*model.Plan, []model.ValidationError, error) {
	r.update(func(st *model.RunState) { st.Phase = model.PhasePlanValidating })
	verrs := r.validate(*plan)

	corrections := 0
loop:
	for len(verrs) > 0 && corrections < r.svc.cfg.MaxCorrections {
		r.svc.opts.Metrics.planRejected()
		if err := r.send(ctx, model.Event{Type: model.EventPlanInvalid, Errors: verrs}); err != nil {
			return nil, nil, err
		}

		out, err := r.next(ctx, verrs)
		if err != nil {
			return nil, nil, err
		}
		switch {
		case out.Type == planner.OutputForm:
			if r.turns >= r.svc.cfg.MaxPlanningTurns {
				break loop
			}
			r.turns++
			if err := r.askUser(ctx, out); err != nil {
				return nil, nil, err
			}
		case out.Type == planner.OutputPlan && out.Plan != nil:
			plan = out.Plan
			verrs = r.validate(*plan)
			corrections++
		default:
			break loop
		}
	}

	if len(verrs) > 0 {
		r.svc.opts.Metrics.planRejected()
	}
	return plan, verrs, nil
}

func (r *run) validate(plan model.Plan) []model.ValidationError {
	verrs := r.svc.opts.Validator.Validate(plan, r.reg)
	r.update(func(st *model.RunState) {
		st.ValidationErrors = append([]model.ValidationError{}, verrs...)
	})
	return verrs
}

func (r *run) next(ctx context.Context, verrs []model.ValidationError) (planner.Output, error) {
	ctx, span := r.svc.tracer.Start(ctx, "planner.next")
	defer span.End()

	out, err := r.planner.Next(ctx, planner.Input{
		ToolKey:           r.toolKey,
		Intent:            r.intent,
		OperationRegistry: r.reg,
		PreState:          r.preState,
		Conversation:      r.conversation,
		ValidationErrors:  verrs,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return planner.Output{}, err
	}
	span.SetAttributes(attribute.String("vimani.planner_output", string(out.Type)))
	return out, nil
}

func (r *run) askUser(ctx context.Context, out planner.Output) error {
	msg := out.FormMessage()
	r.conversation = append(r.conversation, msg)
	if err := r.send(ctx, model.Event{Type: model.EventPlannerMessage, Message: msg}); err != nil {
		return err
	}
	r.update(func(st *model.RunState) {
		st.Phase = model.PhasePausedForUser
		st.Conversation = append(st.Conversation, msg)
	})

	reply, err := r.sess.NextUserMessage(ctx)
	if err != nil {
		return err
	}
	if reply.Role == "" {
		reply.Role = model.RoleUser
	}
	if reply.Type == "" {
		reply.Type = model.MessageText
	}
	r.conversation = append(r.conversation, reply)
	r.update(func(st *model.RunState) {
		st.Phase = model.PhasePlanning
		st.Conversation = append(st.Conversation, reply)
	})
	return nil
}

func (r *run) accept(ctx context.Context, plan model.Plan) error {
	plan.Normalize()
	r.update(func(st *model.RunState) {
		p := plan
		st.Plan = &p
		st.Phase = model.PhaseExecuting
		st.ValidationErrors = []model.ValidationError{}
		st.StepStatus = make(map[string]model.StepStatus, len(plan.Steps))
		for _, s := range plan.Steps {
			st.StepStatus[s.StepID] = model.StepPending
		}
	})
	return r.send(ctx, model.Event{Type: model.EventPlanAccepted, Plan: &plan})
}

// runSteps executes the plan one step at a time. It reports true when the
// user asked for a new plan.
func (r *run) runSteps(ctx context.Context, ex *execution) (bool, error) {
	for _, step := range ex.plan.Steps {
		if ex.skipped[step.StepID] {
			continue
		}
		if ex.dependsOnSkipped(step) {
			r.skip(ex, step.StepID)
			continue
		}

		retry := false
	attempt:
		for {
			failTarget := ""
			userContext := r.userContext
			if retry {
				userContext = withoutFailHook(r.userContext)
			} else if ex.failOn == step.StepID {
				failTarget = step.StepID
			}

			failed, done, err := r.runStep(ctx, ex, step, failTarget, userContext)
			if err != nil {
				return false, err
			}
			if failed == nil {
				if done && ex.failOn == step.StepID {
					ex.failOn = ""
				}
				break
			}

			decision, err := r.awaitDecision(ctx, failed)
			if err != nil {
				return false, err
			}
			r.log.Info().
				Str("event", "step_decision").
				Str("step_id", step.StepID).
				Str("decision", string(decision)).
				Msg("step decision received")

			switch decision {
			case model.DecisionAbortRun:
				ex.aborted = true
				return false, nil
			case model.DecisionRetryStep:
				retry = true
				continue attempt
			case model.DecisionSkipStep:
				r.skip(ex, step.StepID)
			case model.DecisionSkipDependents:
				r.skip(ex, step.StepID)
				for _, id := range ex.plan.Dependents(step.StepID) {
					r.skip(ex, id)
				}
			case model.DecisionReplan:
				msg := "Unknown error"
				if failed.Error != nil {
					msg = failed.Error.Message
				}
				note := model.AssistantText(fmt.Sprintf("Step %s failed: %s. Please provide a new plan.", step.StepID, msg))
				r.conversation = append(r.conversation, note)
				r.update(func(st *model.RunState) { st.Conversation = append(st.Conversation, note) })
				return true, nil
			}
			if ex.failOn == step.StepID {
				ex.failOn = ""
			}
			break
		}
	}
	return false, nil
}

// runStep executes a single-step plan, forwarding events. It returns the
// STEP_FAILED event for step, if any, and whether STEP_DONE was seen.
func (r *run) runStep(ctx context.Context, ex *execution, step model.PlanStep, failTarget string, userContext map[string]any) (*model.ExecEvent, bool, error) {
	ctx, span := r.svc.tracer.Start(ctx, "executor.step", trace.WithAttributes(
		attribute.String("vimani.step_id", step.StepID),
		attribute.String("vimani.op_id", step.OpID),
	))
	defer span.End()

	single := ex.plan.SingleStep(step)
	single.ToolKey = r.toolKey
	single.Objective = "Execute step " + step.StepID

	done := false
	events := r.svc.opts.Executor.ExecutePlan(ctx, executor.Request{
		ToolKey:      r.toolKey,
		Plan:         single,
		UserContext:  userContext,
		FailOnStepID: failTarget,
	})
	for ev := range events {
		if ev.Type == model.EventRunSummary {
			continue
		}
		if err := r.send(ctx, model.Event{Type: model.EventExecEvent, Event: &ev}); err != nil {
			return nil, false, err
		}
		r.svc.opts.Metrics.execEvent(ev.Type)
		ex.trace = append(ex.trace, ev)
		r.record(ev)

		if ev.StepID != step.StepID {
			continue
		}
		switch ev.Type {
		case model.EventStepFailed:
			if ev.Error != nil {
				ex.errors = append(ex.errors, *ev.Error)
			}
			span.SetStatus(codes.Error, ev.Message)
			return &ev, done, nil
		case model.EventStepDone:
			done = true
			ex.results = append(ex.results, ev.Output)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	return nil, done, nil
}

func (r *run) awaitDecision(ctx context.Context, failed *model.ExecEvent) (model.StepDecision, error) {
	if err := r.send(ctx, model.Event{
		Type:   model.EventNeedStepDecision,
		StepID: failed.StepID,
		Error:  failed.Error,
	}); err != nil {
		return "", err
	}
	r.update(func(st *model.RunState) {
		st.Phase = model.PhasePausedForUser
		st.StepStatus[failed.StepID] = model.StepPaused
	})

	for {
		d, err := r.sess.NextStepDecision(ctx)
		if err != nil {
			return "", err
		}
		if d.RunID == r.id && d.StepID == failed.StepID {
			r.update(func(st *model.RunState) {
				st.Phase = model.PhaseExecuting
				st.StepStatus[failed.StepID] = model.StepFailed
			})
			return d.Decision, nil
		}
		r.log.Debug().
			Str("decision_run_id", d.RunID).
			Str("decision_step_id", d.StepID).
			Msg("dropping step decision for another step")
	}
}

func (r *run) finish(ctx context.Context, ex *execution) (*model.RunResult, error) {
	post, err := r.svc.opts.Executor.FetchState(ctx, r.toolKey, r.userContext)
	if err != nil {
		return nil, fmt.Errorf("fetch post-state: %w", err)
	}
	r.update(func(st *model.RunState) {
		st.Phase = model.PhasePostStateFetched
		st.PostState = post
	})

	status := ex.status()
	summary := model.RunSummary{Status: status, SkippedSteps: ex.skippedIDs(), TotalSteps: len(ex.plan.Steps)}
	sumEv := model.ExecEvent{
		Type:    model.EventRunSummary,
		Message: fmt.Sprintf("Run completed with status %s", status),
		Output:  summary.Output(),
		TS:      model.Timestamp(time.Now()),
	}
	if err := r.send(ctx, model.Event{Type: model.EventExecEvent, Event: &sumEv}); err != nil {
		return nil, err
	}
	r.svc.opts.Metrics.execEvent(sumEv.Type)
	ex.trace = append(ex.trace, sumEv)
	r.record(sumEv)

	plan := ex.plan
	res := &model.RunResult{
		RunID:           r.id,
		Status:          status,
		ToolKey:         r.toolKey,
		Intent:          r.intent,
		RegistryVersion: r.reg.Version,
		Plan:            &plan,
		ExecutionTrace:  ex.trace,
		StepResults:     ex.results,
		Errors:          ex.errors,
		PreState:        r.preState,
		PostState:       post,
	}

	r.update(func(st *model.RunState) { st.Phase = model.PhaseArchiving })
	res.ArchiveRef = r.archive(ctx, res)

	r.update(func(st *model.RunState) {
		st.Phase = model.PhaseDone
		st.Status = status
	})
	return res, nil
}

// archive stores the run and returns its ref. Failures are reported to the
// client as DEBUG frames and otherwise ignored.
func (r *run) archive(ctx context.Context, res *model.RunResult) string {
	a := r.svc.opts.Archivist
	if a == nil {
		return ""
	}
	ref, err := a.StoreRun(ctx, model.ArchiveRecord{
		RunID:           res.RunID,
		ToolKey:         res.ToolKey,
		Intent:          res.Intent,
		RegistryVersion: res.RegistryVersion,
		Conversation:    r.conversation,
		Plan:            res.Plan,
		ExecTrace:       res.ExecutionTrace,
		PreState:        res.PreState,
		PostState:       res.PostState,
		Status:          res.Status,
	})
	if err != nil {
		r.log.Warn().Err(err).Str("event", "archive_failed").Msg("archivist skipped")
		_ = r.debug(ctx, fmt.Sprintf("Archivist skipped: %v", err))
		return ""
	}
	return ref
}

func (r *run) failed(envs ...model.ErrorEnvelope) *model.RunResult {
	r.update(func(st *model.RunState) {
		st.Phase = model.PhaseDone
		st.Status = model.RunStatusFailed
	})
	return &model.RunResult{
		RunID:           r.id,
		Status:          model.RunStatusFailed,
		ToolKey:         r.toolKey,
		Intent:          r.intent,
		RegistryVersion: r.reg.Version,
		ExecutionTrace:  []model.ExecEvent{},
		StepResults:     []map[string]any{},
		Errors:          envs,
		PreState:        r.preState,
		PostState:       map[string]any{},
	}
}

func (r *run) skip(ex *execution, stepID string) {
	ex.skipped[stepID] = true
	r.update(func(st *model.RunState) { st.StepStatus[stepID] = model.StepSkipped })
}

// record mirrors an executor event into the run store.
func (r *run) record(ev model.ExecEvent) {
	r.update(func(st *model.RunState) {
		st.ExecTrace = append(st.ExecTrace, ev)
		switch ev.Type {
		case model.EventStepStarted:
			st.StepStatus[ev.StepID] = model.StepRunning
		case model.EventStepDone:
			st.StepStatus[ev.StepID] = model.StepDone
		case model.EventStepFailed:
			st.StepStatus[ev.StepID] = model.StepFailed
		}
	})
}

func (r *run) update(fn func(*model.RunState)) {
	if err := r.svc.opts.Store.Update(r.id, fn); err != nil {
		r.log.Debug().Err(err).Msg("run evicted from store")
	}
}

func (r *run) send(ctx context.Context, ev model.Event) error {
	ev.RunID = r.id
	return r.sess.Send(ctx, ev)
}

func (r *run) debug(ctx context.Context, msg string) error {
	return r.send(ctx, model.DebugEvent(r.id, msg))
}

func withoutFailHook(userContext map[string]any) map[string]any {
	out := make(map[string]any, len(userContext))
	for k, v := range userContext {
		if k != FailOnStepKey {
			out[k] = v
		}
	}
	return out
}
