package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"vimani/internal/config"
	"vimani/internal/otel"
	"vimani/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// each (re)build reads the environment again so .env edits apply
			load := func() (*config.AppConfig, error) {
				cfg, err := loadConfig(cmd)
				if err != nil {
					return nil, err
				}
				if cmd.Flags().Changed("host") {
					cfg.Host, _ = cmd.Flags().GetString("host")
				}
				if cmd.Flags().Changed("port") {
					cfg.Port, _ = cmd.Flags().GetInt("port")
				}
				if cmd.Flags().Changed("reload") {
					cfg.Reload, _ = cmd.Flags().GetBool("reload")
				}
				if err := cfg.Validate(); err != nil {
					return nil, err
				}
				return cfg, nil
			}

			cfg, err := load()
			if err != nil {
				return err
			}
			log := newLogger(cfg)

			shutdown, err := otel.Init(cmd.Context(), log)
			if err != nil {
				return err
			}
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					log.Warn().Err(err).Msg("tracer shutdown")
				}
			}()

			return server.Run(cmd.Context(), load, log)
		},
	}
	cmd.Flags().String("host", "", "bind host (default $VIMANI_HOST or 127.0.0.1)")
	cmd.Flags().Int("port", 0, "listen port (default $PORT or 8000)")
	cmd.Flags().Bool("reload", false, "rebuild the server when .env or registries under the app dir change")
	return cmd
}
