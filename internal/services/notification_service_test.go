package services

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/mocks"
	"github.com/oxygenupdater/ota-agent/internal/models"
	"github.com/oxygenupdater/ota-agent/pkg/identity"
)

func TestNotificationPublisher_PublishesPerKind(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "agent/events/maintenance_dialog", byte(1), true, mock.Anything).Return(mocks.CompletedToken(nil))
	client.On("Publish", "agent/events/download_status", byte(1), false, mock.Anything).Return(mocks.CompletedToken(nil))

	p := NewNotificationPublisher("agent/events", 1, client, zerolog.Nop())

	require.NoError(t, p.Emit(models.UIEvent{Kind: constants.UIEventMaintenanceDialog, Severity: constants.SeverityBlocking}))
	require.NoError(t, p.Emit(models.UIEvent{
		Kind:           constants.UIEventDownloadStatus,
		Severity:       constants.SeverityInfo,
		DownloadStatus: constants.DownloadStatusDownloading,
		Percent:        42,
	}))

	client.AssertExpectations(t)

	payload := client.Calls[1].Arguments.Get(3).([]byte)
	var event models.UIEvent
	require.NoError(t, json.Unmarshal(payload, &event))
	assert.Equal(t, constants.DownloadStatusDownloading, event.DownloadStatus)
	assert.Equal(t, 42, event.Percent)
}

func TestNotificationPublisher_Errors(t *testing.T) {
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "t/network_banner", byte(0), false, mock.Anything).Return(mocks.CompletedToken(errors.New("not connected")))

	timedOut := new(mocks.MockToken)
	timedOut.On("WaitTimeout", mock.Anything).Return(false)
	client.On("Publish", "t/update_available", byte(0), false, mock.Anything).Return(timedOut)

	p := NewNotificationPublisher("t", 0, client, zerolog.Nop())
	p.Timeout = time.Millisecond

	assert.ErrorContains(t, p.Emit(models.UIEvent{Kind: constants.UIEventNetworkBanner}), "not connected")
	assert.ErrorContains(t, p.Emit(models.UIEvent{Kind: constants.UIEventUpdateAvailable}), "timed out")
}

func TestStatusReportService_PublishesSnapshot(t *testing.T) {
	deviceInfo := new(mocks.MockDeviceInfo)
	deviceInfo.On("GetDeviceIdentity").Return(&identity.Identity{ProductName: "OnePlus7Pro", OTAVersion: "OnePlus7ProOxygen_21.O.25"})

	published := make(chan []byte, 4)
	client := new(mocks.MockMQTTClient)
	client.On("Publish", "agent/status", byte(1), true, mock.Anything).
		Run(func(args mock.Arguments) { published <- args.Get(3).([]byte) }).
		Return(mocks.CompletedToken(nil))

	tracker := NewDownloadStatusTracker(zerolog.Nop())
	tracker.Set(constants.DownloadStatusCompleted)

	s := NewStatusReportService("agent/status", 10*time.Millisecond, 1, deviceInfo, tracker,
		func() string { return "2026-10-01T00:00:00Z" }, client, zerolog.Nop())
	require.NoError(t, s.Start())
	assert.Error(t, s.Start())

	var report StatusReport
	select {
	case payload := <-published:
		require.NoError(t, json.Unmarshal(payload, &report))
	case <-time.After(time.Second):
		t.Fatal("no status report published")
	}

	require.NoError(t, s.Stop())
	assert.Error(t, s.Stop())

	assert.Equal(t, "OnePlus7Pro", report.ProductName)
	assert.Equal(t, constants.DownloadStatusCompleted, report.DownloadStatus)
	assert.Equal(t, "2026-10-01T00:00:00Z", report.LastChecked)
}
