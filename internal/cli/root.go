package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

type appKey struct{}

// NewRootCmd creates the root command for ota-agent.
func NewRootCmd(version string) *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "ota-agent",
		Short:         "Download and verify OTA system updates",
		Long:          `ota-agent checks an update server for new firmware, downloads it in the background and verifies its checksum.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Annotations["skipApp"] == "true" {
				return nil
			}
			app, err := NewApp(configPath, version, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			cmd.SetContext(withApp(cmd.Context(), app))
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if app := appFrom(cmd.Context()); app != nil {
				return app.Close()
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", defaultConfigPath, "Path to the config file")

	versionCmd := &cobra.Command{
		Use:         "version",
		Short:       "Print version information",
		Annotations: map[string]string{"skipApp": "true"},
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "ota-agent %s\n", version)
		},
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewCheckCmd())
	rootCmd.AddCommand(NewIgnoreCmd())
	rootCmd.AddCommand(NewDownloadCmd())
	rootCmd.AddCommand(NewCancelCmd())
	rootCmd.AddCommand(NewDeleteCmd())
	rootCmd.AddCommand(NewDevicesCmd())
	rootCmd.AddCommand(NewStatusCmd())
	rootCmd.AddCommand(NewNewsCmd())
	rootCmd.AddCommand(NewPageCmd())

	return rootCmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute(version string) {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
