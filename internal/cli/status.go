package cli

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/database"
	"github.com/oxygenupdater/ota-agent/internal/services"
	"github.com/oxygenupdater/ota-agent/internal/work"
)

const defaultHistoryLimit = 5

// NewStatusCmd creates the command printing the agent's persisted state.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show device selection, download state and recent checks",
		RunE:  showStatus,
	}
	cmd.Flags().IntP("limit", "n", defaultHistoryLimit, "Number of recent update checks to show")
	return cmd
}

func showStatus(cmd *cobra.Command, _ []string) error {
	app, err := requireApp(cmd.Context())
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	out := cmd.OutOrStdout()

	identity := app.DeviceInfo.GetDeviceIdentity()
	prefs := app.Preferences

	w := tabwriter.NewWriter(out, 0, 0, tabSpacing, ' ', 0)
	fmt.Fprintf(w, "Product:\t%s\n", orUnknown(identity.ProductName))
	fmt.Fprintf(w, "OTA version:\t%s\n", orUnknown(identity.OTAVersion))
	fmt.Fprintf(w, "Device:\t%s\n", orUnknown(prefs.GetString(constants.PrefDeviceName, "")))
	fmt.Fprintf(w, "Update method:\t%s\n", orUnknown(prefs.GetString(constants.PrefUpdateMethodName, "")))
	fmt.Fprintf(w, "Last checked:\t%s\n", orUnknown(prefs.GetString(constants.PrefLastCheckedDate, "")))
	fmt.Fprintf(w, "Updates ignored:\t%d\n", prefs.GetInt64(constants.PrefUpdateIgnoreCount, 0))

	snapshot, err := work.Snapshot(app.Config.Storage.WorkStateFile, app.FileClient)
	if err != nil {
		return err
	}
	status, info := downloadStatusFromSnapshot(snapshot)
	fmt.Fprintf(w, "Download:\t%s\n", status)
	if info != nil {
		if status == constants.DownloadStatusDownloading || status == constants.DownloadStatusPaused {
			fmt.Fprintf(w, "Progress:\t%s\n", formatBytes(prefs.GetInt64(constants.PrefDownloadBytesDone, 0)))
		}
		if reason := info.Output.String(constants.WorkDataFailureReason); reason != "" {
			fmt.Fprintf(w, "Failure:\t%s\n", reason)
		}
	}

	news := database.NewNewsStore(app.DB)
	if unread, err := news.UnreadCount(cmd.Context()); err == nil {
		fmt.Fprintf(w, "Unread news:\t%d\n", unread)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	return printRecentChecks(cmd.Context(), out, database.NewCheckHistory(app.DB), limit)
}

// downloadStatusFromSnapshot maps whichever slot changed last.
func downloadStatusFromSnapshot(snapshot map[string]work.Info) (constants.DownloadStatus, *work.Info) {
	infos := make([]work.Info, 0, 2)
	for _, slot := range []string{constants.WorkUniqueDownload, constants.WorkUniqueMD5Verification} {
		if info, ok := snapshot[slot]; ok {
			infos = append(infos, info)
		}
	}
	if len(infos) == 0 {
		return constants.DownloadStatusNotDownloading, nil
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].UpdatedAt.Before(infos[j].UpdatedAt) })
	newest := infos[len(infos)-1]
	return services.MapWorkState(newest.State, newest.HasTag(constants.WorkTagVerification)), &newest
}

func printRecentChecks(ctx context.Context, out io.Writer, history *database.CheckHistory, limit int) error {
	if limit <= 0 {
		return nil
	}
	checks, err := history.Recent(ctx, limit)
	if err != nil {
		return err
	}
	if len(checks) == 0 {
		return nil
	}

	fmt.Fprintln(out, "\nRecent checks:")
	w := tabwriter.NewWriter(out, 0, 0, tabSpacing, ' ', 0)
	fmt.Fprintln(w, "TIME\tSERVER\tVERSION\tRESULT")
	for _, c := range checks {
		result := "update available"
		switch {
		case c.Error != "":
			result = c.Error
		case c.UpToDate:
			result = "up to date"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.CheckedAt.Local().Format(time.DateTime), c.ServerStatus, orUnknown(c.Version), result)
	}
	return w.Flush()
}

func orUnknown(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
