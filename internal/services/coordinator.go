package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/models"
	"github.com/oxygenupdater/ota-agent/internal/state_managers"
)

// EventSink receives the dialogs, banners and status changes raised by the Coordinator.
type EventSink interface {
	Emit(event models.UIEvent) error
}

// NetworkBroadcaster publishes network availability changes.
type NetworkBroadcaster interface {
	Subscribe(ctx context.Context) <-chan bool
}

// CheckListener is notified with the results of an update check.
type CheckListener interface {
	OnServerStatus(status models.ServerStatus)
	OnAppUpdate(info models.AppUpdateInfo)
	OnDevices(devices []models.Device)
	OnServerMessages(messages []models.ServerMessage)
	OnUpdateData(update *models.UpdateData)
}

// Coordinator turns network, server, device, self-update and download state
// into UI events, and owns page navigation.
type Coordinator struct {
	Network     NetworkBroadcaster
	Tracker     *DownloadStatusTracker
	Preferences state_managers.PreferenceStore
	ProductName string
	Sinks       []EventSink
	Logger      zerolog.Logger

	mu           sync.Mutex
	networkLost  bool
	shownMessage map[int64]bool
	lastStatus   constants.ServerStatusCode

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ CheckListener = (*Coordinator)(nil)

// NewCoordinator creates a Coordinator emitting to sinks.
func NewCoordinator(network NetworkBroadcaster, tracker *DownloadStatusTracker, preferences state_managers.PreferenceStore,
	productName string, logger zerolog.Logger, sinks ...EventSink) *Coordinator {

	return &Coordinator{
		Network:      network,
		Tracker:      tracker,
		Preferences:  preferences,
		ProductName:  productName,
		Sinks:        sinks,
		Logger:       logger,
		shownMessage: make(map[int64]bool),
	}
}

// Start begins observing network availability and download status.
func (c *Coordinator) Start() error {
	if c.ctx != nil {
		return errors.New("coordinator is already running")
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())

	if c.Network != nil {
		networkCh := c.Network.Subscribe(c.ctx)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for available := range networkCh {
				c.OnNetworkChange(available)
			}
		}()
	}

	if c.Tracker != nil {
		statusCh := c.Tracker.Subscribe(c.ctx)
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			for update := range statusCh {
				c.OnDownloadStatus(update)
			}
		}()
	}

	c.Logger.Info().Str("page", c.CurrentPage().String()).Msg("Coordinator started successfully")
	return nil
}

// Stop ends all observation.
func (c *Coordinator) Stop() error {
	if c.ctx == nil {
		return errors.New("coordinator is not running")
	}
	c.cancel()
	c.wg.Wait()
	c.ctx = nil
	c.cancel = nil

	c.Logger.Info().Msg("Coordinator stopped successfully")
	return nil
}

// OnNetworkChange shows a dismissible banner while offline.
func (c *Coordinator) OnNetworkChange(available bool) {
	c.mu.Lock()
	wasLost := c.networkLost
	c.networkLost = !available
	c.mu.Unlock()

	switch {
	case !available && !wasLost:
		c.emit(constants.UIEventNetworkBanner, constants.SeverityWarning, "No network connection")
	case available && wasLost:
		c.emit(constants.UIEventNetworkBannerDismiss, constants.SeverityInfo, "")
	}
}

// OnServerStatus raises blocking dialogs for maintenance and outdated agents.
func (c *Coordinator) OnServerStatus(status models.ServerStatus) {
	c.mu.Lock()
	changed := c.lastStatus != status.Status
	c.lastStatus = status.Status
	c.mu.Unlock()

	switch status.Status {
	case constants.ServerStatusMaintenance:
		c.emit(constants.UIEventMaintenanceDialog, constants.SeverityBlocking, "The update server is under maintenance")
	case constants.ServerStatusOutdated:
		c.emit(constants.UIEventAppOutdatedDialog, constants.SeverityBlocking, "This agent is outdated and must be updated")
	case constants.ServerStatusUnreachable:
		if changed {
			c.Logger.Warn().Msg("Update server is unreachable")
		}
	}
}

// OnAppUpdate shows a blocking dialog for immediate self updates and a banner for flexible ones.
// An immediate update forced by an OUTDATED server status raises no second dialog.
func (c *Coordinator) OnAppUpdate(info models.AppUpdateInfo) {
	if !info.Available {
		return
	}
	if info.Immediate {
		c.mu.Lock()
		outdated := c.lastStatus == constants.ServerStatusOutdated
		c.mu.Unlock()
		// OnServerStatus has already shown the dialog for this check.
		if outdated {
			return
		}
		c.emit(constants.UIEventAppOutdatedDialog, constants.SeverityBlocking,
			fmt.Sprintf("Version %s is required, %s is installed", info.LatestVersion, info.CurrentVersion))
		return
	}
	c.emit(constants.UIEventAppUpdateBanner, constants.SeverityInfo,
		fmt.Sprintf("Version %s is available", info.LatestVersion))
}

// OnDevices warns when this phone is not supported or does not match the selected device.
func (c *Coordinator) OnDevices(devices []models.Device) {
	if c.ProductName == "" || len(devices) == 0 {
		return
	}

	supported := false
	for _, d := range devices {
		if d.Enabled && d.MatchesProduct(c.ProductName) {
			supported = true
			break
		}
	}

	if !supported && !c.Preferences.GetBool(constants.PrefIgnoreUnsupportedDeviceWarnings, false) {
		if _, err := c.Preferences.Increment(constants.PrefUnsupportedDeviceIgnoreCount); err != nil {
			c.Logger.Error().Err(err).Msg("Failed to update unsupported device counter")
		}
		c.emit(constants.UIEventUnsupportedDeviceDialog, constants.SeverityWarning,
			fmt.Sprintf("%s is not supported by the update server", c.ProductName))
		return
	}

	selectedID := c.Preferences.GetInt64(constants.PrefDeviceID, constants.DefaultID)
	if selectedID == constants.DefaultID || c.Preferences.GetBool(constants.PrefIgnoreIncorrectDeviceWarnings, false) {
		return
	}
	for _, d := range devices {
		if d.ID == selectedID && !d.MatchesProduct(c.ProductName) {
			c.emit(constants.UIEventIncorrectDeviceDialog, constants.SeverityWarning,
				fmt.Sprintf("Selected device %s does not match this phone (%s)", d.Name, c.ProductName))
			return
		}
	}
}

// OnServerMessages shows each message for the selected device once.
func (c *Coordinator) OnServerMessages(messages []models.ServerMessage) {
	deviceID := c.Preferences.GetInt64(constants.PrefDeviceID, constants.DefaultID)
	methodID := c.Preferences.GetInt64(constants.PrefUpdateMethodID, constants.DefaultID)

	for _, m := range messages {
		if !m.AppliesTo(deviceID, methodID) {
			continue
		}

		c.mu.Lock()
		shown := c.shownMessage[m.ID]
		c.shownMessage[m.ID] = true
		c.mu.Unlock()
		if shown {
			continue
		}

		severity := constants.SeverityInfo
		if m.Priority == constants.MessagePriorityHigh {
			severity = constants.SeverityWarning
		}
		c.emit(constants.UIEventServerMessageBanner, severity, m.Text)
	}
}

// OnUpdateData announces updates that have not been installed yet.
func (c *Coordinator) OnUpdateData(update *models.UpdateData) {
	if update == nil || !update.UpdateInformationAvailable || update.SystemIsUpToDate {
		return
	}
	c.emit(constants.UIEventUpdateAvailable, constants.SeverityInfo,
		fmt.Sprintf("Update %s is available", update.VersionNumber))
}

// OnDownloadStatus forwards a download status publication with its progress.
func (c *Coordinator) OnDownloadStatus(update StatusUpdate) {
	event := c.newEvent(constants.UIEventDownloadStatus, constants.SeverityInfo, "")
	event.DownloadStatus = update.Status
	event.BytesDone = update.BytesDone()
	event.TotalBytes = update.TotalBytes()
	event.Percent = update.Percent()

	if update.Status.Failed() {
		event.Severity = constants.SeverityWarning
		if update.WorkInfo != nil {
			event.Message = update.WorkInfo.Output.String(constants.WorkDataFailureReason)
		}
	}
	c.dispatch(event)
}

// SelectPage records the page shown to the user.
func (c *Coordinator) SelectPage(page constants.Page) error {
	return c.Preferences.Set(constants.PrefLastPage, page.String())
}

// CurrentPage returns the last selected page, defaulting to the update page.
func (c *Coordinator) CurrentPage() constants.Page {
	page, _ := constants.ParsePage(c.Preferences.GetString(constants.PrefLastPage, constants.PageUpdate.String()))
	return page
}

func (c *Coordinator) emit(kind constants.UIEventKind, severity, message string) {
	c.dispatch(c.newEvent(kind, severity, message))
}

func (c *Coordinator) newEvent(kind constants.UIEventKind, severity, message string) models.UIEvent {
	return models.UIEvent{
		Kind:      kind,
		Severity:  severity,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}

func (c *Coordinator) dispatch(event models.UIEvent) {
	for _, sink := range c.Sinks {
		if err := sink.Emit(event); err != nil {
			c.Logger.Error().Err(err).Str("kind", string(event.Kind)).Msg("Failed to deliver UI event")
		}
	}
}

// LogSink writes UI events to the log.
type LogSink struct {
	Logger zerolog.Logger
}

// Emit implements EventSink.
func (s LogSink) Emit(event models.UIEvent) error {
	var e *zerolog.Event
	switch event.Severity {
	case constants.SeverityBlocking:
		e = s.Logger.Error()
	case constants.SeverityWarning:
		e = s.Logger.Warn()
	default:
		e = s.Logger.Info()
	}

	e = e.Str("kind", string(event.Kind))
	if event.Kind == constants.UIEventDownloadStatus {
		e = e.Str("status", string(event.DownloadStatus)).Int64("bytes_done", event.BytesDone).Int("percent", event.Percent)
	}
	e.Msg(event.Message)
	return nil
}
