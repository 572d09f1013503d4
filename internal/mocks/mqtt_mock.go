package mocks

import (
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/mock"
)

// MockMQTTClient mocks pkg/mqtt.MQTTClient.
type MockMQTTClient struct {
	mock.Mock
}

func (m *MockMQTTClient) Connect() mqtt.Token {
	args := m.Called()
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	args := m.Called(topic, qos, retained, payload)
	return args.Get(0).(mqtt.Token)
}

func (m *MockMQTTClient) Disconnect(quiesce uint) {
	m.Called(quiesce)
}

// MockToken mocks mqtt.Token. Set expectations only for the methods the code under test calls.
type MockToken struct {
	mock.Mock
}

func (t *MockToken) Wait() bool {
	return t.Called().Bool(0)
}

func (t *MockToken) WaitTimeout(timeout time.Duration) bool {
	return t.Called(timeout).Bool(0)
}

func (t *MockToken) Done() <-chan struct{} {
	return t.Called().Get(0).(<-chan struct{})
}

func (t *MockToken) Error() error {
	return t.Called().Error(0)
}

// CompletedToken returns a token that reports immediate completion with err.
func CompletedToken(err error) *MockToken {
	token := new(MockToken)
	token.On("Wait").Return(true)
	token.On("WaitTimeout", mock.Anything).Return(true)
	token.On("Error").Return(err)
	return token
}
