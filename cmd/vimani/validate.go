package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"vimani/internal/model"
	"vimani/internal/registry"
	"vimani/internal/validation"
)

func newValidatePlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate-plan <file>",
		Short: "Validate a plan file (JSON or YAML) against a tool registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			plan, err := readPlan(args[0])
			if err != nil {
				return err
			}
			toolKey, _ := cmd.Flags().GetString("tool")
			if toolKey == "" {
				toolKey = plan.ToolKey
			}

			reg, err := registry.NewLoader(cfg.AppDir).Load(toolKey)
			if err != nil {
				return err
			}
			v, err := validation.NewPlanValidator(cfg.Orchestrator.MaxPlanSteps)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			verrs := v.Validate(plan, reg)
			if len(verrs) == 0 {
				fmt.Fprintf(out, "plan %s is valid for %s (%d steps)\n", plan.PlanID, reg.ToolKey, len(plan.Steps))
				return nil
			}
			for _, e := range verrs {
				if e.StepID != "" {
					fmt.Fprintf(out, "%s\t%s\t%s\n", e.Code, e.StepID, e.Message)
				} else {
					fmt.Fprintf(out, "%s\t-\t%s\n", e.Code, e.Message)
				}
			}
			return fmt.Errorf("plan has %d validation errors", len(verrs))
		},
	}
	cmd.Flags().String("tool", "", "registry tool key (default: the plan's tool_key)")
	return cmd
}

func readPlan(path string) (model.Plan, error) {
	var plan model.Plan
	data, err := os.ReadFile(path)
	if err != nil {
		return plan, fmt.Errorf("read plan: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &plan)
	default:
		err = json.Unmarshal(data, &plan)
	}
	if err != nil {
		return plan, fmt.Errorf("decode plan %s: %w", path, err)
	}
	plan.Normalize()
	return plan, nil
}
