package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/services"
)

// NewPageCmd creates the command showing or selecting the remembered page.
func NewPageCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "page [update|news|device|about|settings]",
		Short:     "Show or select the page front ends open on",
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"update", "news", "device", "about", "settings"},
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := requireApp(cmd.Context())
			if err != nil {
				return err
			}

			coordinator := services.NewCoordinator(nil, nil, app.Preferences, app.DeviceInfo.GetProductName(), app.Logger)
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), coordinator.CurrentPage())
				return nil
			}

			page, ok := constants.ParsePage(args[0])
			if !ok {
				return fmt.Errorf("unknown page %q", args[0])
			}
			return coordinator.SelectPage(page)
		},
	}
}
