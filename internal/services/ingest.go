package services

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"time"

	"pump-backend/internal/gateway"
	"pump-backend/internal/models"
	"pump-backend/internal/telemetry"
)

// HistoryStore is the slice of the database the ingest pipeline writes to
type HistoryStore interface {
	SaveReading(ctx context.Context, reading *models.ValidatedReading) error
	UpsertDevice(ctx context.Context, device *models.Device) error
}

// IngestService turns raw device frames into validated readings: decode,
// score, persist, then fan out to subscribers. Persistence is best effort;
// a database hiccup never blocks the fan-out.
type IngestService struct {
	validator *telemetry.Validator
	store     HistoryStore
	logger    *slog.Logger

	// Frames is fed by the gateway's read pumps
	Frames <-chan *gateway.Frame

	// Out receives every validated reading; the MQTT publisher reads it
	Out chan<- *models.ValidatedReading
}

// NewIngestService wires the pipeline between the gateway and the publisher
func NewIngestService(
	validator *telemetry.Validator,
	store HistoryStore,
	frames <-chan *gateway.Frame,
	out chan<- *models.ValidatedReading,
	logger *slog.Logger,
) *IngestService {
	return &IngestService{
		validator: validator,
		store:     store,
		logger:    logger.With("component", "ingest"),
		Frames:    frames,
		Out:       out,
	}
}

// Start processes frames until the context is cancelled
func (s *IngestService) Start(ctx context.Context) {
	s.logger.Info("ingest service started")

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ingest service shutting down")
			return
		case frame, ok := <-s.Frames:
			if !ok {
				return
			}
			s.processFrame(ctx, frame)
		}
	}
}

// processFrame handles a single inbound frame. No schema is enforced at the
// transport layer: an undecodable payload still goes through the validator
// as an empty reading and comes out with a floor score.
func (s *IngestService) processFrame(ctx context.Context, frame *gateway.Frame) {
	var raw map[string]any
	if err := json.Unmarshal(frame.Payload, &raw); err != nil {
		s.logger.Warn("frame is not a JSON object, validating as empty",
			"device_id", frame.DeviceID, "error", err)
		raw = map[string]any{}
	}

	reading := s.validator.Validate(frame.DeviceID, raw)

	if err := s.store.SaveReading(ctx, &reading); err != nil {
		s.logger.Error("failed to persist reading",
			"device_id", frame.DeviceID, "error", err)
	}

	s.registerDevice(ctx, frame.DeviceID)

	select {
	case s.Out <- &reading:
	case <-time.After(1 * time.Second):
		s.logger.Warn("fan-out channel full, dropping reading",
			"device_id", frame.DeviceID)
	}
}

// registerDevice refreshes the directory record on every message so
// last_seen tracks inbound traffic. Best effort.
func (s *IngestService) registerDevice(ctx context.Context, deviceID string) {
	now := time.Now()
	device := &models.Device{
		DeviceKey:    deviceKeyFor(deviceID),
		Name:         deviceID,
		Location:     "Unknown",
		RegisteredAt: now,
		LastSeen:     now,
		IsActive:     true,
	}

	if err := s.store.UpsertDevice(ctx, device); err != nil {
		s.logger.Warn("failed to register device", "device_id", deviceID, "error", err)
	}
}

// deviceKeyFor derives a stable directory key for devices that were never
// provisioned through the CRUD surface
func deviceKeyFor(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64() & 0x7fffffffffffffff)
}
