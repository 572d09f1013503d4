package service_registry

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/database"
	"github.com/oxygenupdater/ota-agent/internal/registry"
	"github.com/oxygenupdater/ota-agent/internal/services"
	"github.com/oxygenupdater/ota-agent/internal/state_managers"
	"github.com/oxygenupdater/ota-agent/internal/utils"
	"github.com/oxygenupdater/ota-agent/internal/work"
	"github.com/oxygenupdater/ota-agent/pkg/download"
	"github.com/oxygenupdater/ota-agent/pkg/file"
	"github.com/oxygenupdater/ota-agent/pkg/identity"
	"github.com/oxygenupdater/ota-agent/pkg/mqtt"
	"github.com/oxygenupdater/ota-agent/pkg/server"
)

// Dependencies are the shared clients every service is built from.
type Dependencies struct {
	FileClient  file.FileOperations
	DeviceInfo  identity.DeviceInfoInterface
	Preferences state_managers.PreferenceStore
	Repository  server.Repository
	MqttClient  mqtt.MQTTClient // nil when MQTT is disabled
	DB          *sql.DB         // nil disables the news cache and check history
	Version     string          // Running agent version, compared by the self-update check
}

// Components exposes the built services so that commands can drive them directly.
type Components struct {
	Network      *services.NetworkMonitor
	Work         *work.Manager
	Tracker      *services.DownloadStatusTracker
	Downloads    *services.DownloadService
	Coordinator  *services.Coordinator
	UpdateCheck  *services.UpdateCheckService
	StatusReport *services.StatusReportService
	News         *database.NewsStore
	History      *database.CheckHistory
}

// ServiceRegistry manages the lifecycle of the agent's services.
type ServiceRegistry struct {
	services    map[string]registry.Service // Stores registered services
	serviceKeys []string                    // Maintains order of service registration
	deps        Dependencies
	Logger      zerolog.Logger
}

// NewServiceRegistry initializes a new service registry with dependencies.
func NewServiceRegistry(deps Dependencies, logger zerolog.Logger) *ServiceRegistry {
	return &ServiceRegistry{
		services: make(map[string]registry.Service),
		deps:     deps,
		Logger:   logger,
	}
}

// RegisterService adds a new service to the registry.
func (sr *ServiceRegistry) RegisterService(name string, svc registry.Service) {
	if _, exists := sr.services[name]; exists {
		sr.Logger.Warn().Msgf("Service %s is already registered", name)
		return
	}
	sr.services[name] = svc
	sr.serviceKeys = append(sr.serviceKeys, name)
	sr.Logger.Info().Msgf("Registered service: %s", name)
}

// Registered returns the names of registered services in start order.
func (sr *ServiceRegistry) Registered() []string {
	return append([]string(nil), sr.serviceKeys...)
}

// StartServices initiates all registered services in order.
// If a service fails to start, it stops already started services.
func (sr *ServiceRegistry) StartServices() error {
	startedServices := []string{}

	for _, name := range sr.serviceKeys {
		svc := sr.services[name]
		sr.Logger.Info().Msgf("Starting service: %s", name)
		if err := svc.Start(); err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to start service: %s", name)

			sr.Logger.Warn().Msg("Stopping already started services due to startup failure...")
			for i := len(startedServices) - 1; i >= 0; i-- {
				_ = sr.services[startedServices[i]].Stop()
			}
			return fmt.Errorf("failed to start %s: %w", name, err)
		}
		startedServices = append(startedServices, name)
	}

	return nil
}

// StopServices stops all services in reverse order.
func (sr *ServiceRegistry) StopServices() error {
	var stopErrors []error
	for i := len(sr.serviceKeys) - 1; i >= 0; i-- {
		name := sr.serviceKeys[i]
		if err := sr.services[name].Stop(); err != nil {
			stopErrors = append(stopErrors, fmt.Errorf("failed to stop %s: %w", name, err))
		}
	}
	if len(stopErrors) > 0 {
		for _, e := range stopErrors {
			sr.Logger.Error().Err(e).Msg("Service stop failure")
		}
		return errors.Join(stopErrors...)
	}
	return nil
}

// RegisterServices builds every component and registers the managed ones in
// start order. A component whose entry is not managed is still built and
// returned in Components, but its Start and Stop are left to the caller.
func (sr *ServiceRegistry) RegisterServices(config *utils.Config) (*Components, error) {
	c := &Components{
		Tracker: services.NewDownloadStatusTracker(sr.Logger.With().Str("component", "tracker").Logger()),
	}
	if sr.deps.DB != nil {
		c.News = database.NewNewsStore(sr.deps.DB)
		c.History = database.NewCheckHistory(sr.deps.DB)
	}

	// The coordinator subscribes to the tracker before the download service
	// replays persisted work, so it sees the restored status.
	servicesInOrder := []struct {
		name        string
		enabled     bool
		managed     bool
		constructor func() (registry.Service, error)
	}{
		{
			name:    "network",
			enabled: true,
			managed: true,
			constructor: func() (registry.Service, error) {
				c.Network = services.NewNetworkMonitor(
					config.Network.ProbeAddress,
					config.Network.ProbeTimeout,
					config.Network.Interval,
					sr.componentLogger("network"),
				)
				return c.Network, nil
			},
		},
		{
			name:    "coordinator",
			enabled: true,
			managed: true,
			constructor: func() (registry.Service, error) {
				logger := sr.componentLogger("coordinator")
				sinks := []services.EventSink{services.LogSink{Logger: logger}}
				if sr.deps.MqttClient != nil && config.Services.Notifications.Enabled {
					sinks = append(sinks, services.NewNotificationPublisher(
						config.Services.Notifications.Topic,
						config.Services.Notifications.QOS,
						sr.deps.MqttClient,
						logger,
					))
				}
				c.Coordinator = services.NewCoordinator(c.Network, c.Tracker, sr.deps.Preferences,
					sr.deps.DeviceInfo.GetProductName(), logger, sinks...)
				return c.Coordinator, nil
			},
		},
		{
			name:    "work",
			enabled: true,
			managed: true,
			constructor: func() (registry.Service, error) {
				logger := sr.componentLogger("work")
				c.Work = work.NewManager(config.Storage.WorkStateFile, sr.deps.FileClient, c.Network,
					config.Services.Download.Workers, logger)

				downloader := download.NewDownloader(&http.Client{}, config.Server.UserAgent)
				downloader.ProgressInterval = config.Services.Download.ProgressInterval

				c.Work.RegisterWorker(services.DownloadWorkerName, services.NewDownloadWorker(
					downloader,
					sr.deps.Repository,
					sr.deps.Preferences,
					sr.deps.FileClient,
					config.Storage.TempDir,
					config.Storage.DownloadsDir,
					logger,
				))
				c.Work.RegisterWorker(services.VerificationWorkerName, services.NewVerificationWorker(
					sr.deps.FileClient,
					config.Storage.DownloadsDir,
					logger,
				))
				return c.Work, nil
			},
		},
		{
			name:    "downloads",
			enabled: true,
			managed: true,
			constructor: func() (registry.Service, error) {
				c.Downloads = services.NewDownloadService(
					c.Work,
					c.Tracker,
					sr.deps.Preferences,
					sr.deps.FileClient,
					config.Storage.TempDir,
					config.Storage.DownloadsDir,
					config.Services.Download.BackoffDelay,
					config.Services.Download.MaxAttempts,
					sr.componentLogger("downloads"),
				)
				return c.Downloads, nil
			},
		},
		{
			name:    "update_check",
			enabled: true,
			managed: config.Services.UpdateCheck.Enabled,
			constructor: func() (registry.Service, error) {
				logger := sr.componentLogger("update_check")
				c.UpdateCheck = services.NewUpdateCheckService(
					sr.deps.Repository,
					sr.deps.DeviceInfo,
					sr.deps.Preferences,
					c.Downloads,
					services.NewSelfUpdateChecker(sr.deps.Version, logger),
					config.Services.UpdateCheck.Schedule,
					config.Services.UpdateCheck.AutoDownload,
					logger,
				)
				c.UpdateCheck.Listener = c.Coordinator
				if c.News != nil {
					c.UpdateCheck.News = c.News
				}
				if c.History != nil {
					c.UpdateCheck.History = c.History
				}
				return c.UpdateCheck, nil
			},
		},
		{
			name:    "status_report",
			enabled: sr.deps.MqttClient != nil && config.Services.StatusReport.Enabled,
			managed: true,
			constructor: func() (registry.Service, error) {
				c.StatusReport = services.NewStatusReportService(
					config.Services.StatusReport.Topic,
					config.Services.StatusReport.Interval,
					config.Services.StatusReport.QOS,
					sr.deps.DeviceInfo,
					c.Tracker,
					func() string { return sr.deps.Preferences.GetString(constants.PrefLastCheckedDate, "") },
					sr.deps.MqttClient,
					sr.componentLogger("status_report"),
				)
				return c.StatusReport, nil
			},
		},
	}

	registeredServices := []string{}
	for _, svc := range servicesInOrder {
		if !svc.enabled {
			continue
		}
		serviceInstance, err := svc.constructor()
		if err != nil {
			sr.Logger.Error().Err(err).Msgf("Failed to create %s service", svc.name)
			return nil, err
		}
		if svc.managed {
			sr.RegisterService(svc.name, serviceInstance)
			registeredServices = append(registeredServices, svc.name)
		}
	}

	sr.Logger.Info().Msgf("Registered services in order: %v", registeredServices)
	return c, nil
}

func (sr *ServiceRegistry) componentLogger(name string) zerolog.Logger {
	return sr.Logger.With().Str("component", name).Logger()
}
