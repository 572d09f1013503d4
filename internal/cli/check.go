package cli

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/oxygenupdater/ota-agent/internal/services"
)

// NewCheckCmd creates the one-shot update check command.
func NewCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the update server once",
		Long:  `Fetch server status, messages, update data and news for the selected device and print the result.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireApp(cmd.Context())
			if err != nil {
				return err
			}

			registry, components, err := startAgent(app)
			if err != nil {
				return err
			}
			defer stopAgent(app, registry)

			result, err := components.UpdateCheck.Check(cmd.Context())
			printCheckResult(cmd.OutOrStdout(), result)
			return err
		},
	}
}

// NewIgnoreCmd creates the command dismissing the current update.
func NewIgnoreCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ignore",
		Short: "Dismiss the current update notification",
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireApp(cmd.Context())
			if err != nil {
				return err
			}

			_, components, err := buildAgent(app)
			if err != nil {
				return err
			}
			count, err := components.UpdateCheck.IgnoreUpdate()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Update ignored (%d times)\n", count)
			return nil
		},
	}
}

func printCheckResult(out io.Writer, result *services.CheckResult) {
	if result == nil {
		return
	}

	fmt.Fprintf(out, "Server status:  %s\n", result.ServerStatus.Status)
	if result.AppUpdate.Available {
		kind := "optional"
		if result.AppUpdate.Immediate {
			kind = "required"
		}
		fmt.Fprintf(out, "Agent update:   %s -> %s (%s)\n", result.AppUpdate.CurrentVersion, result.AppUpdate.LatestVersion, kind)
	}

	switch update := result.Update; {
	case update == nil:
	case !update.UpdateInformationAvailable:
		fmt.Fprintln(out, "Update:         no information for this device")
	case update.SystemIsUpToDate:
		fmt.Fprintln(out, "Update:         system is up to date")
	default:
		fmt.Fprintf(out, "Update:         %s (%s, %s)\n", update.VersionNumber, update.OTAVersionNumber, formatBytes(update.DownloadSize))
		if update.Description != "" {
			fmt.Fprintf(out, "                %s\n", update.Description)
		}
	}

	if result.NewsCount > 0 {
		fmt.Fprintf(out, "News:           %d articles\n", result.NewsCount)
	}
	if result.Enqueued {
		fmt.Fprintln(out, "Download:       enqueued, continues with the next run")
	}
}

func formatBytes(n int64) string {
	if n < 0 {
		n = 0
	}
	return humanize.IBytes(uint64(n))
}
