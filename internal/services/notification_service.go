package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/oxygenupdater/ota-agent/internal/constants"
	"github.com/oxygenupdater/ota-agent/internal/models"
	"github.com/oxygenupdater/ota-agent/pkg/mqtt"
)

// NotificationPublisher is an EventSink publishing UI events over MQTT.
// Each kind goes to its own subtopic, e.g. <topic>/download_status.
type NotificationPublisher struct {
	Topic      string
	QOS        int
	MqttClient mqtt.MQTTClient
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// NewNotificationPublisher creates a NotificationPublisher.
func NewNotificationPublisher(topic string, qos int, mqttClient mqtt.MQTTClient, logger zerolog.Logger) *NotificationPublisher {
	return &NotificationPublisher{
		Topic:      topic,
		QOS:        qos,
		MqttClient: mqttClient,
		Timeout:    5 * time.Second,
		Logger:     logger,
	}
}

// Emit implements EventSink. Blocking events are retained so late subscribers see them.
func (n *NotificationPublisher) Emit(event models.UIEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to serialize event: %w", err)
	}

	topic := n.Topic + "/" + strings.ToLower(string(event.Kind))
	retained := event.Severity == constants.SeverityBlocking

	token := n.MqttClient.Publish(topic, byte(n.QOS), retained, payload)
	if !token.WaitTimeout(n.Timeout) {
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	n.Logger.Debug().Str("topic", topic).Msg("UI event published")
	return nil
}
