package utils

import (
	"time"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/pkg/file"
)

// Config represents the structure of the configuration file.
type Config struct {
	Logging struct {
		Level   string `yaml:"level"`   // zerolog level name
		Console bool   `yaml:"console"` // Human readable output instead of JSON
	} `yaml:"logging"`

	Server struct {
		BaseURL   string        `yaml:"base_url"`   // Root of the update server API
		Timeout   time.Duration `yaml:"timeout"`    // Per request timeout
		UserAgent string        `yaml:"user_agent"` // User-Agent sent with API and download requests
	} `yaml:"server"`

	Identity struct {
		DeviceFile string `yaml:"device_file"` // Path to the device properties file
	} `yaml:"identity"`

	Storage struct {
		PreferencesFile string `yaml:"preferences_file"` // Preference store
		WorkStateFile   string `yaml:"work_state_file"`  // Persisted work slot state
		DatabaseFile    string `yaml:"database_file"`    // SQLite news cache
		TempDir         string `yaml:"temp_dir"`         // Private directory for partial downloads
		DownloadsDir    string `yaml:"downloads_dir"`    // Public directory for finished downloads
	} `yaml:"storage"`

	Network struct {
		ProbeAddress string        `yaml:"probe_address"` // host:port dialled to confirm connectivity
		ProbeTimeout time.Duration `yaml:"probe_timeout"` // Dial timeout
		Interval     time.Duration `yaml:"interval"`      // Time between probes
	} `yaml:"network"`

	MQTT struct {
		Enabled       bool   `yaml:"enabled"`        // Publish UI events over MQTT
		Broker        string `yaml:"broker"`         // MQTT broker address
		ClientID      string `yaml:"client_id"`      // MQTT client ID
		CACertificate string `yaml:"ca_certificate"` // Path to the CA certificate, empty for plain TCP
		Username      string `yaml:"username"`
		Password      string `yaml:"password"`
	} `yaml:"mqtt"`

	Services struct {
		UpdateCheck struct {
			Enabled      bool   `yaml:"enabled"`       // Enable periodic update checks
			Schedule     string `yaml:"schedule"`      // Crontab for update checks
			AutoDownload bool   `yaml:"auto_download"` // Enqueue downloads for new updates
		} `yaml:"update_check"`

		Download struct {
			BackoffDelay     time.Duration `yaml:"backoff_delay"`     // Linear backoff step between retries
			MaxAttempts      int           `yaml:"max_attempts"`      // Attempts before a download fails
			Workers          int           `yaml:"workers"`           // Concurrent work items
			ProgressInterval time.Duration `yaml:"progress_interval"` // Throttle for progress notifications
		} `yaml:"download"`

		Notifications struct {
			Enabled bool   `yaml:"enabled"` // Publish coordinator events to MQTT
			Topic   string `yaml:"topic"`   // Topic prefix for UI events
			QOS     int    `yaml:"qos"`     // MQTT QoS level for UI events
		} `yaml:"notifications"`

		StatusReport struct {
			Enabled  bool          `yaml:"enabled"`  // Periodically publish the download status
			Topic    string        `yaml:"topic"`    // MQTT topic for status reports
			Interval time.Duration `yaml:"interval"` // Interval between reports
			QOS      int           `yaml:"qos"`      // MQTT QoS level for status reports
		} `yaml:"status_report"`
	} `yaml:"services"`
}

// LoadConfig loads the YAML configuration from the specified file and fills in defaults.
func LoadConfig(filename string, fileClient file.FileOperations) (*Config, error) {
	var config Config
	err := fileClient.ReadYamlFile(filename, &config)
	if err != nil {
		return nil, err
	}

	config.ApplyDefaults()
	return &config, nil
}

// ApplyDefaults fills zero values with working defaults.
func (c *Config) ApplyDefaults() {
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}
	if c.Server.UserAgent == "" {
		c.Server.UserAgent = "ota-agent"
	}
	if c.Storage.PreferencesFile == "" {
		c.Storage.PreferencesFile = "data/preferences.json"
	}
	if c.Storage.WorkStateFile == "" {
		c.Storage.WorkStateFile = "data/work.json"
	}
	if c.Storage.DatabaseFile == "" {
		c.Storage.DatabaseFile = "data/ota-agent.db"
	}
	if c.Storage.TempDir == "" {
		c.Storage.TempDir = "data/tmp"
	}
	if c.Storage.DownloadsDir == "" {
		c.Storage.DownloadsDir = "downloads"
	}
	if c.Network.ProbeTimeout == 0 {
		c.Network.ProbeTimeout = 3 * time.Second
	}
	if c.Network.Interval == 0 {
		c.Network.Interval = 10 * time.Second
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = "ota-agent"
	}
	if c.Services.UpdateCheck.Schedule == "" {
		c.Services.UpdateCheck.Schedule = "0 */6 * * *"
	}
	if c.Services.Download.BackoffDelay == 0 {
		c.Services.Download.BackoffDelay = constants.DefaultBackoffDelay
	}
	if c.Services.Download.MaxAttempts == 0 {
		c.Services.Download.MaxAttempts = constants.DefaultMaxWorkAttempts
	}
	if c.Services.Download.Workers == 0 {
		c.Services.Download.Workers = 2
	}
	if c.Services.Download.ProgressInterval == 0 {
		c.Services.Download.ProgressInterval = constants.DefaultProgressInterval
	}
	if c.Services.Notifications.Topic == "" {
		c.Services.Notifications.Topic = "ota-agent/events"
	}
	if c.Services.StatusReport.Topic == "" {
		c.Services.StatusReport.Topic = "ota-agent/status"
	}
	if c.Services.StatusReport.Interval == 0 {
		c.Services.StatusReport.Interval = time.Minute
	}
}
