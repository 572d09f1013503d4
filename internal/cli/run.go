package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewRunCmd creates the command running the agent until it is interrupted.
func NewRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the agent in the foreground",
		Long:  `Start every enabled service and run until SIGINT or SIGTERM. Downloads interrupted by shutdown resume on the next run.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireApp(cmd.Context())
			if err != nil {
				return err
			}

			if err := app.ConnectMQTT(); err != nil {
				return fmt.Errorf("failed to initialize MQTT connection: %w", err)
			}

			registry := app.Registry()
			if _, err := registry.RegisterServices(app.Config); err != nil {
				return err
			}
			if err := registry.StartServices(); err != nil {
				return err
			}
			app.Logger.Info().Str("version", app.Version).Msg("All services started successfully")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			<-ctx.Done()

			app.Logger.Info().Msg("Shutting down gracefully...")
			return registry.StopServices()
		},
	}
}
