package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/pkg/identity"
	"github.com/oxygenupdater/ota-agent/pkg/mqtt"
)

// StatusReport is the periodic snapshot published by the StatusReportService.
type StatusReport struct {
	ProductName    string                   `json:"product_name"`
	OTAVersion     string                   `json:"ota_version"`
	DownloadStatus constants.DownloadStatus `json:"download_status"`
	BytesDone      int64                    `json:"bytes_done"`
	TotalBytes     int64                    `json:"total_bytes"`
	LastChecked    string                   `json:"last_checked,omitempty"`
	Timestamp      time.Time                `json:"timestamp"`
}

// StatusReportService periodically publishes the download status of this device.
type StatusReportService struct {
	PubTopic    string
	Interval    time.Duration
	QOS         int
	DeviceInfo  identity.DeviceInfoInterface
	Tracker     *DownloadStatusTracker
	LastChecked func() string
	MqttClient  mqtt.MQTTClient
	Logger      zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewStatusReportService initializes a new StatusReportService.
func NewStatusReportService(pubTopic string, interval time.Duration, qos int, deviceInfo identity.DeviceInfoInterface,
	tracker *DownloadStatusTracker, lastChecked func() string, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *StatusReportService {

	return &StatusReportService{
		PubTopic:    pubTopic,
		Interval:    interval,
		QOS:         qos,
		DeviceInfo:  deviceInfo,
		Tracker:     tracker,
		LastChecked: lastChecked,
		MqttClient:  mqttClient,
		Logger:      logger,
	}
}

// Start launches the report loop in a separate goroutine.
func (s *StatusReportService) Start() error {
	if s.ctx != nil {
		s.Logger.Warn().Msg("StatusReportService is already running")
		return errors.New("status report service is already running")
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.runReportLoop()
	}()

	s.Logger.Info().Str("topic", s.PubTopic).Msg("StatusReportService started successfully")
	return nil
}

// Stop gracefully stops the report loop.
func (s *StatusReportService) Stop() error {
	if s.ctx == nil {
		s.Logger.Warn().Msg("StatusReportService is not running")
		return errors.New("status report service is not running")
	}

	s.cancel()
	s.wg.Wait()

	s.ctx = nil
	s.cancel = nil

	s.Logger.Info().Msg("StatusReportService stopped successfully")
	return nil
}

func (s *StatusReportService) runReportLoop() {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.publish()
		case <-s.ctx.Done():
			s.Logger.Info().Msg("StatusReportService stopping gracefully")
			return
		}
	}
}

func (s *StatusReportService) publish() {
	current := s.Tracker.Current()
	device := s.DeviceInfo.GetDeviceIdentity()

	report := StatusReport{
		ProductName:    device.ProductName,
		OTAVersion:     device.OTAVersion,
		DownloadStatus: current.Status,
		BytesDone:      current.BytesDone(),
		TotalBytes:     current.TotalBytes(),
		Timestamp:      time.Now().UTC(),
	}
	if s.LastChecked != nil {
		report.LastChecked = s.LastChecked()
	}

	payload, err := json.Marshal(report)
	if err != nil {
		s.Logger.Error().Err(err).Msg("Failed to serialize status report")
		return
	}

	token := s.MqttClient.Publish(s.PubTopic, byte(s.QOS), true, payload)
	token.Wait()

	if err := token.Error(); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to publish status report")
	} else {
		s.Logger.Debug().Msg("Status report published successfully")
	}
}
