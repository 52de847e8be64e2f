package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"vimani/internal/archivist"
	"vimani/internal/executor"
	"vimani/internal/model"
	"vimani/internal/orchestrator"
	"vimani/internal/registry"
	"vimani/internal/validation"
)

// maxSmokeDecisions bounds answered step decisions; later failures abort.
const maxSmokeDecisions = 3

func newSmokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Run one orchestration in-process and print every event",
		Long: "Runs the orchestrator without a server. Forms are answered with --answer and failed steps " +
			"with --decision. Events are printed as JSON lines; the command fails when the run ends FAILED.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			toolKey, _ := cmd.Flags().GetString("tool")
			intent, _ := cmd.Flags().GetString("intent")
			failOn, _ := cmd.Flags().GetString("fail-on-step")
			answer, _ := cmd.Flags().GetString("answer")
			decision, _ := cmd.Flags().GetString("decision")
			noArchive, _ := cmd.Flags().GetBool("no-archive")
			if d, _ := cmd.Flags().GetDuration("step-delay"); cmd.Flags().Changed("step-delay") {
				cfg.Executor.StepDelay = d
			}

			sess := newConsoleSession(cmd.OutOrStdout(), answer, model.StepDecision(decision))
			if err := validation.Struct(model.StepDecisionMessage{RunID: "-", StepID: "-", Decision: sess.decision}); err != nil {
				return fmt.Errorf("--decision: %w", err)
			}

			var arc archivist.Archivist
			if !noArchive {
				arc, err = archivist.New(cmd.Context(), cfg, log)
				if err != nil {
					return err
				}
				defer arc.Close()
			}

			v, err := validation.NewPlanValidator(cfg.Orchestrator.MaxPlanSteps)
			if err != nil {
				return err
			}
			svc := orchestrator.New(cfg.Orchestrator, orchestrator.Options{
				Registry:  registry.NewLoader(cfg.AppDir),
				Executor:  executor.NewSimulated(cfg.Executor.StepDelay),
				Validator: v,
				Archivist: arc,
				Planner:   cfg.Planner,
				Log:       log,
			})
			p, err := svc.NewPlanner()
			if err != nil {
				return err
			}

			req := orchestrator.RunRequest{ToolKey: toolKey, Intent: intent, UserContext: map[string]any{}}
			if failOn != "" {
				req.UserContext[orchestrator.FailOnStepKey] = failOn
			}
			res, err := svc.StartRun(cmd.Context(), req, p, sess)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "status=%s run_id=%s archive_ref=%s steps=%d\n",
				res.Status, res.RunID, res.ArchiveRef, len(res.StepResults))
			if res.Status == model.RunStatusFailed {
				return fmt.Errorf("run %s failed", res.RunID)
			}
			return nil
		},
	}
	cmd.Flags().String("tool", "clickup", "tool key whose registry the plan targets")
	cmd.Flags().String("intent", "Set up a workspace for a small team", "intent handed to the planner")
	cmd.Flags().String("fail-on-step", "", "step id the simulated executor fails")
	cmd.Flags().String("answer", "Team of 5, high priority", "reply to every planner form")
	cmd.Flags().String("decision", string(model.DecisionSkipDependents), "answer to every failed step")
	cmd.Flags().Duration("step-delay", 0, "simulated executor delay per step")
	cmd.Flags().Bool("no-archive", false, "do not archive the finished run")
	return cmd
}

// consoleSession prints events and answers prompts from fixed replies.
type consoleSession struct {
	mu  sync.Mutex
	enc *json.Encoder

	answer   string
	decision model.StepDecision

	runID     string
	failed    string
	decisions int
}

func newConsoleSession(w io.Writer, answer string, decision model.StepDecision) *consoleSession {
	return &consoleSession{enc: json.NewEncoder(w), answer: answer, decision: decision}
}

func (s *consoleSession) Send(ctx context.Context, ev model.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch ev.Type {
	case model.EventRunCreated:
		s.runID = ev.RunID
	case model.EventNeedStepDecision:
		s.failed = ev.StepID
	}
	return s.enc.Encode(ev)
}

func (s *consoleSession) NextUserMessage(ctx context.Context) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	return model.UserText(s.answer, map[string]any{"source": "smoke"}), nil
}

func (s *consoleSession) NextStepDecision(ctx context.Context) (model.StepDecisionMessage, error) {
	if err := ctx.Err(); err != nil {
		return model.StepDecisionMessage{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions++
	d := s.decision
	if s.decisions > maxSmokeDecisions {
		d = model.DecisionAbortRun
	}
	return model.StepDecisionMessage{RunID: s.runID, StepID: s.failed, Decision: d}, nil
}
