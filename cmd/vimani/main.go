// Command vimani serves the orchestrator and offers local tooling around it.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"vimani/internal/config"
	"vimani/internal/logger"
)

var (
	version = "0.1.0"
	commit  = ""
)

// @title Vimani Orchestrator API
// @version 1.0
// @BasePath /
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	root.SetContext(ctx)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vimani",
		Short: "Vimani: intent to plan to execution orchestrator",
		Long:  "Vimani turns a user intent for a tool into a validated plan, executes it step by step and archives the run.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringP("log", "l", "", "log level override (trace, debug, info, warn, error)")
	cmd.PersistentFlags().String("app-dir", "", "directory holding .env, registries/ and the run archive (default $VIMANI_APP_DIR or .)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newSmokeCmd())
	cmd.AddCommand(newValidatePlanCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vimani %s %s\n", version, commit)
		},
	}
}

// loadConfig reads configuration for the app dir given on the command line.
func loadConfig(cmd *cobra.Command) (*config.AppConfig, error) {
	appDir, _ := cmd.Flags().GetString("app-dir")
	cfg, err := config.Load(appDir)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log"); lvl != "" {
		cfg.Log.Level = lvl
	}
	return cfg, nil
}

func newLogger(cfg *config.AppConfig) zerolog.Logger {
	return logger.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
}
