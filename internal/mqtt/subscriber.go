package mqtt

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"pump-backend/internal/models"
)

// Subscriber is the monitor-side consumer of the telemetry fan-out. It
// decodes published readings and hands them to the monitor over a bounded
// channel; a full channel drops the message rather than blocking the paho
// callback.
type Subscriber struct {
	client mqtt.Client
	logger *slog.Logger

	// Readings is read by the monitor service
	Readings chan *models.ValidatedReading

	telemetryTopic string // e.g. "telemetry/+"
}

// SubscriberConfig holds configuration for the MQTT subscriber
type SubscriberConfig struct {
	TelemetryTopic string // e.g. "telemetry/+"
	ChannelSize    int
}

// NewSubscriber creates a subscriber writing into its own bounded channel
func NewSubscriber(client mqtt.Client, config SubscriberConfig, logger *slog.Logger) *Subscriber {
	return &Subscriber{
		client:         client,
		logger:         logger.With("component", "mqtt_subscriber"),
		Readings:       make(chan *models.ValidatedReading, config.ChannelSize),
		telemetryTopic: config.TelemetryTopic,
	}
}

// Subscribe attaches the telemetry handler to the broker
func (s *Subscriber) Subscribe() error {
	token := s.client.Subscribe(s.telemetryTopic, 1, s.handleTelemetry)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", s.telemetryTopic, token.Error())
	}
	s.logger.Info("subscribed", "topic", s.telemetryTopic)
	return nil
}

// handleTelemetry decodes one published reading and forwards it
func (s *Subscriber) handleTelemetry(_ mqtt.Client, msg mqtt.Message) {
	var reading models.ValidatedReading
	if err := json.Unmarshal(msg.Payload(), &reading); err != nil {
		s.logger.Warn("dropping undecodable telemetry message",
			"topic", msg.Topic(), "error", err)
		return
	}

	if reading.DeviceID == "" {
		reading.DeviceID = extractDeviceID(msg.Topic())
	}
	if reading.DeviceID == "" {
		s.logger.Warn("telemetry message has no device id", "topic", msg.Topic())
		return
	}

	select {
	case s.Readings <- &reading:
	case <-time.After(1 * time.Second):
		s.logger.Warn("readings channel full, dropping message",
			"device_id", reading.DeviceID)
	}
}

// extractDeviceID pulls the device id out of a topic like
// "telemetry/{device_id}"
func extractDeviceID(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) >= 2 {
		return parts[1]
	}
	return ""
}
