package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/models"
)

const tabSpacing = 2

// NewDevicesCmd creates the device and update method selection commands.
func NewDevicesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List supported devices",
		Long: `List the devices supported by the update server. The selected device is
marked with *, devices matching this phone's product name with +.`,
		RunE: listDevices,
	}

	methodsCmd := &cobra.Command{
		Use:   "methods [device-id]",
		Short: "List update methods of a device",
		Args:  cobra.MaximumNArgs(1),
		RunE:  listUpdateMethods,
	}

	selectCmd := &cobra.Command{
		Use:   "select <device-id> <update-method-id>",
		Short: "Select the device and update method to check updates for",
		Args:  cobra.ExactArgs(2),
		RunE:  selectDevice,
	}

	cmd.AddCommand(methodsCmd, selectCmd)
	return cmd
}

func listDevices(cmd *cobra.Command, _ []string) error {
	app, err := requireApp(cmd.Context())
	if err != nil {
		return err
	}

	devices, err := app.Repository.FetchDevices(cmd.Context())
	if err != nil {
		return err
	}

	selected := app.Preferences.GetInt64(constants.PrefDeviceID, constants.DefaultID)
	product := app.DeviceInfo.GetProductName()

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, tabSpacing, ' ', 0)
	fmt.Fprintln(w, "\tID\tNAME\tENABLED")
	for _, d := range devices {
		fmt.Fprintf(w, "%s\t%d\t%s\t%t\n", deviceMarker(d, selected, product), d.ID, d.Name, d.Enabled)
	}
	return w.Flush()
}

func deviceMarker(d models.Device, selected int64, product string) string {
	marker := ""
	if d.ID == selected {
		marker += "*"
	}
	if product != "" && d.MatchesProduct(product) {
		marker += "+"
	}
	return marker
}

func listUpdateMethods(cmd *cobra.Command, args []string) error {
	app, err := requireApp(cmd.Context())
	if err != nil {
		return err
	}

	deviceID := app.Preferences.GetInt64(constants.PrefDeviceID, constants.DefaultID)
	if len(args) == 1 {
		if deviceID, err = strconv.ParseInt(args[0], 10, 64); err != nil {
			return fmt.Errorf("invalid device id %q", args[0])
		}
	}
	if deviceID == constants.DefaultID {
		return fmt.Errorf("no device selected, pass a device id")
	}

	methods, err := app.Repository.FetchUpdateMethods(cmd.Context(), deviceID)
	if err != nil {
		return err
	}

	selected := app.Preferences.GetInt64(constants.PrefUpdateMethodID, constants.DefaultID)
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, tabSpacing, ' ', 0)
	fmt.Fprintln(w, "\tID\tNAME\tRECOMMENDED")
	for _, m := range methods {
		marker := ""
		if m.ID == selected {
			marker = "*"
		}
		fmt.Fprintf(w, "%s\t%d\t%s\t%t\n", marker, m.ID, m.Name, m.Recommended)
	}
	return w.Flush()
}

func selectDevice(cmd *cobra.Command, args []string) error {
	app, err := requireApp(cmd.Context())
	if err != nil {
		return err
	}

	deviceID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid device id %q", args[0])
	}
	methodID, err := strconv.ParseInt(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid update method id %q", args[1])
	}

	devices, err := app.Repository.FetchDevices(cmd.Context())
	if err != nil {
		return err
	}
	device, ok := findDevice(devices, deviceID)
	if !ok {
		return fmt.Errorf("device %d is not supported by the update server", deviceID)
	}

	methods, err := app.Repository.FetchUpdateMethods(cmd.Context(), deviceID)
	if err != nil {
		return err
	}
	method, ok := findMethod(methods, methodID)
	if !ok {
		return fmt.Errorf("update method %d is not available for %s", methodID, device.Name)
	}

	for key, value := range map[string]any{
		constants.PrefDeviceID:         device.ID,
		constants.PrefDeviceName:       device.Name,
		constants.PrefUpdateMethodID:   method.ID,
		constants.PrefUpdateMethodName: method.Name,
	} {
		if err := app.Preferences.Set(key, value); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Selected %s (%s)\n", device.Name, method.Name)
	return nil
}

func findDevice(devices []models.Device, id int64) (models.Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return models.Device{}, false
}

func findMethod(methods []models.UpdateMethod, id int64) (models.UpdateMethod, bool) {
	for _, m := range methods {
		if m.ID == id {
			return m, true
		}
	}
	return models.UpdateMethod{}, false
}
