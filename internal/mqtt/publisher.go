package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"pump-backend/internal/infra"
	"pump-backend/internal/models"
)

// Publisher fans validated readings out to dashboard subscribers. It drains
// the readings channel until the context is cancelled or the channel closes.
type Publisher struct {
	client mqtt.Client
	logger *slog.Logger
	retry  infra.RetryConfig

	// Readings is written by the ingest pipeline
	Readings chan *models.ValidatedReading

	telemetryTopic string // e.g. "telemetry/{device_id}"
}

// PublisherConfig holds configuration for the MQTT publisher
type PublisherConfig struct {
	TelemetryTopic string // e.g. "telemetry/{device_id}"
	ChannelSize    int
}

// NewPublisher creates a publisher reading from its own bounded channel
func NewPublisher(client mqtt.Client, config PublisherConfig, logger *slog.Logger) *Publisher {
	return &Publisher{
		client:         client,
		logger:         logger.With("component", "mqtt_publisher"),
		retry:          infra.DefaultRetryConfig(),
		Readings:       make(chan *models.ValidatedReading, config.ChannelSize),
		telemetryTopic: config.TelemetryTopic,
	}
}

// Start begins publishing readings from the channel. Runs until the context
// is cancelled or the channel is closed.
func (p *Publisher) Start(ctx context.Context) {
	p.logger.Info("publisher started")

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("publisher shutting down")
			return
		case reading, ok := <-p.Readings:
			if !ok {
				p.logger.Info("readings channel closed, publisher shutting down")
				return
			}
			if err := p.publishReading(ctx, reading); err != nil {
				p.logger.Error("failed to publish reading",
					"device_id", reading.DeviceID, "error", err)
			}
		}
	}
}

// publishReading sends one validated reading, retrying transient broker
// failures with backoff
func (p *Publisher) publishReading(ctx context.Context, reading *models.ValidatedReading) error {
	payload, err := json.Marshal(reading)
	if err != nil {
		return fmt.Errorf("failed to marshal reading: %w", err)
	}

	topic := formatTopic(p.telemetryTopic, reading.DeviceID)
	return infra.WithRetry(ctx, p.retry, func() error {
		token := p.client.Publish(topic, 1, false, payload)
		if token.Wait() && token.Error() != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, token.Error())
		}
		return nil
	})
}

// formatTopic replaces the {device_id} placeholder with the actual device id
func formatTopic(topicPattern, deviceID string) string {
	return strings.ReplaceAll(topicPattern, "{device_id}", deviceID)
}
