// Package cli provides the ota-agent command-line interface.
package cli

import (
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/database"
	"github.com/oxygenupdater/ota-agent/internal/service_registry"
	"github.com/oxygenupdater/ota-agent/internal/state_managers"
	"github.com/oxygenupdater/ota-agent/internal/utils"
	"github.com/oxygenupdater/ota-agent/pkg/file"
	"github.com/oxygenupdater/ota-agent/pkg/identity"
	"github.com/oxygenupdater/ota-agent/pkg/mqtt"
	"github.com/oxygenupdater/ota-agent/pkg/server"
)

// App holds the dependencies shared by CLI commands.
type App struct {
	Config      *utils.Config
	Logger      zerolog.Logger
	Version     string
	FileClient  file.FileOperations
	DeviceInfo  *identity.DeviceInfo
	Preferences *state_managers.PreferenceStateManager
	Repository  *server.Client
	DB          *sql.DB

	mqtt *mqtt.MqttService
}

// NewApp loads the config at configPath and opens local state.
func NewApp(configPath, version string, logOutput io.Writer) (*App, error) {
	fileClient := file.NewFileService()

	config, err := utils.LoadConfig(configPath, fileClient)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", configPath, err)
	}
	logger := utils.NewLogger(config, logOutput)

	deviceInfo := identity.NewDeviceInfo(config.Identity.DeviceFile, fileClient)
	if err := deviceInfo.LoadDeviceInfo(); err != nil {
		return nil, fmt.Errorf("failed to load device information: %w", err)
	}

	if err := fileClient.EnsureDir(config.Storage.TempDir); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	preferences, err := state_managers.NewPreferenceStateManager(config.Storage.PreferencesFile, fileClient,
		logger.With().Str("component", "preferences").Logger())
	if err != nil {
		return nil, fmt.Errorf("failed to load preferences: %w", err)
	}

	repository, err := server.NewClient(config.Server.BaseURL, config.Server.Timeout, config.Server.UserAgent,
		logger.With().Str("component", "server").Logger())
	if err != nil {
		return nil, err
	}

	db, err := database.Open(config.Storage.DatabaseFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	return &App{
		Config:      config,
		Logger:      logger,
		Version:     version,
		FileClient:  fileClient,
		DeviceInfo:  deviceInfo,
		Preferences: preferences,
		Repository:  repository,
		DB:          db,
	}, nil
}

// ConnectMQTT connects to the broker when MQTT is enabled in the config.
func (a *App) ConnectMQTT() error {
	if !a.Config.MQTT.Enabled {
		return nil
	}

	svc := mqtt.NewMqttService(a.FileClient, a.Logger.With().Str("component", "mqtt").Logger())
	err := svc.Initialize(mqtt.Options{
		Broker:        a.Config.MQTT.Broker,
		ClientID:      a.Config.MQTT.ClientID,
		CACertificate: a.Config.MQTT.CACertificate,
		Username:      a.Config.MQTT.Username,
		Password:      a.Config.MQTT.Password,
	})
	if err != nil {
		return err
	}
	a.mqtt = svc
	return nil
}

// Registry returns a service registry over the app's dependencies.
func (a *App) Registry() *service_registry.ServiceRegistry {
	deps := service_registry.Dependencies{
		FileClient:  a.FileClient,
		DeviceInfo:  a.DeviceInfo,
		Preferences: a.Preferences,
		Repository:  a.Repository,
		DB:          a.DB,
		Version:     a.Version,
	}
	if a.mqtt != nil {
		deps.MqttClient = a.mqtt
	}
	return service_registry.NewServiceRegistry(deps, a.Logger)
}

// Close releases the database and the MQTT connection.
func (a *App) Close() error {
	if a.mqtt != nil {
		a.mqtt.Disconnect(250)
		a.mqtt = nil
	}
	if a.DB == nil {
		return nil
	}
	err := a.DB.Close()
	a.DB = nil
	if err != nil && !errors.Is(err, sql.ErrConnDone) {
		return err
	}
	return nil
}
