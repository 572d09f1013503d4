package mocks

import (
	"github.com/stretchr/testify/mock"

	"github.com/oxygenupdater/ota-agent/pkg/identity"
)

// MockDeviceInfo mocks identity.DeviceInfoInterface.
type MockDeviceInfo struct {
	mock.Mock
}

func (m *MockDeviceInfo) LoadDeviceInfo() error {
	return m.Called().Error(0)
}

func (m *MockDeviceInfo) GetDeviceIdentity() *identity.Identity {
	return m.Called().Get(0).(*identity.Identity)
}

func (m *MockDeviceInfo) GetProductName() string {
	return m.Called().String(0)
}

func (m *MockDeviceInfo) GetIncrementalVersion() string {
	return m.Called().String(0)
}
