package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/services"
)

var errNoUpdate = errors.New("no downloadable update for this device")

// NewDownloadCmd creates the foreground download command.
func NewDownloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "download",
		Short: "Download and verify the latest update",
		Long: `Check for the latest update, then download and verify it in the foreground.
Interrupting the command pauses the download; it resumes from the same byte offset next time.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := requireApp(cmd.Context())
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			registry, components, err := startAgent(app)
			if err != nil {
				return err
			}
			defer stopAgent(app, registry)

			updates := components.Tracker.Subscribe(ctx)

			result, err := components.UpdateCheck.Check(ctx)
			if err != nil {
				return err
			}
			update := result.Update
			if !update.IsDownloadable() || update.SystemIsUpToDate {
				return errNoUpdate
			}

			out := cmd.OutOrStdout()
			if components.Downloads.IsDownloaded(update) && components.Downloads.Status().Status == constants.DownloadStatusVerificationCompleted {
				fmt.Fprintf(out, "%s is already downloaded\n", update.Filename)
				return nil
			}
			if !result.Enqueued {
				if _, err := components.Downloads.Enqueue(update); err != nil {
					return err
				}
			}

			fmt.Fprintf(out, "Downloading %s (%s)\n", update.Filename, formatBytes(update.DownloadSize))
			err = waitForDownload(ctx, out, updates)
			if ctx.Err() != nil {
				// Stopping the agent alone would leave the work queued for the next start.
				components.Downloads.Pause()
			}
			return err
		},
	}
}

// NewCancelCmd creates the command cancelling the download and deleting its files.
func NewCancelCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel",
		Short: "Cancel the download and delete the update package",
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
			if err != nil {
				return err
			}
			if !result.Update.IsDownloadable() {
				return errNoUpdate
			}

			if components.Downloads.Cancel(result.Update, true) {
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", result.Update.Filename)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Download cancelled, %s could not be deleted\n", result.Update.Filename)
			}
			return nil
		},
	}
}

// NewDeleteCmd creates the command removing the downloaded update package.
func NewDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete",
		Short: "Delete the downloaded update package",
		Long:  `Delete the downloaded update package and keep any partial download for a later resume.`,
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
			if err != nil {
				return err
			}
			update := result.Update
			if !components.Downloads.IsDownloaded(update) {
				fmt.Fprintln(cmd.OutOrStdout(), "No downloaded update")
				return nil
			}
			if !components.Downloads.DeleteDownloadedFile(update) {
				return fmt.Errorf("failed to delete %s", update.Filename)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", update.Filename)
			return nil
		},
	}
}

// waitForDownload prints status updates until verification finishes, the
// download fails or ctx is cancelled.
func waitForDownload(ctx context.Context, out io.Writer, updates <-chan services.StatusUpdate) error {
	last := constants.DownloadStatus("")
	for {
		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nDownload paused")
			return nil
		case update, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					fmt.Fprintln(out, "\nDownload paused")
					return nil
				}
				return errors.New("download status updates stopped")
			}

			switch {
			case update.Status == constants.DownloadStatusDownloading:
				fmt.Fprintf(out, "\r%3d%%  %s / %s", update.Percent(), formatBytes(update.BytesDone()), formatBytes(update.TotalBytes()))
			case update.Status != last:
				if last == constants.DownloadStatusDownloading {
					fmt.Fprintln(out)
				}
				fmt.Fprintln(out, update.Status)
			}
			last = update.Status

			if update.Status == constants.DownloadStatusVerificationCompleted {
				return nil
			}
			if update.Status.Failed() {
				return fmt.Errorf("%s: %s", update.Status, failureReason(update))
			}
		}
	}
}

func failureReason(update services.StatusUpdate) string {
	if update.WorkInfo == nil {
		return "unknown reason"
	}
	if reason := update.WorkInfo.Output.String(constants.WorkDataFailureReason); reason != "" {
		return reason
	}
	return "unknown reason"
}
