package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/oxygenupdater/ota-agent/internal/models"
)

// MockRepository is a mock implementation of the server Repository interface
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) FetchDevices(ctx context.Context) ([]models.Device, error) {
	args := m.Called(ctx)
	devices, _ := args.Get(0).([]models.Device)
	return devices, args.Error(1)
}

func (m *MockRepository) FetchUpdateMethods(ctx context.Context, deviceID int64) ([]models.UpdateMethod, error) {
	args := m.Called(ctx, deviceID)
	methods, _ := args.Get(0).([]models.UpdateMethod)
	return methods, args.Error(1)
}

func (m *MockRepository) FetchUpdateData(ctx context.Context, deviceID, updateMethodID int64, incrementalVersion string) (*models.UpdateData, error) {
	args := m.Called(ctx, deviceID, updateMethodID, incrementalVersion)
	update, _ := args.Get(0).(*models.UpdateData)
	return update, args.Error(1)
}

func (m *MockRepository) FetchServerStatus(ctx context.Context) models.ServerStatus {
	args := m.Called(ctx)
	return args.Get(0).(models.ServerStatus)
}

func (m *MockRepository) FetchServerMessages(ctx context.Context, deviceID, updateMethodID int64) ([]models.ServerMessage, error) {
	args := m.Called(ctx, deviceID, updateMethodID)
	messages, _ := args.Get(0).([]models.ServerMessage)
	return messages, args.Error(1)
}

func (m *MockRepository) FetchNews(ctx context.Context, deviceID, updateMethodID int64) ([]models.NewsItem, error) {
	args := m.Called(ctx, deviceID, updateMethodID)
	news, _ := args.Get(0).([]models.NewsItem)
	return news, args.Error(1)
}

func (m *MockRepository) LogDownloadError(ctx context.Context, report models.DownloadErrorReport) error {
	args := m.Called(ctx, report)
	return args.Error(0)
}
