package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/mitchellh/mapstructure"

	"pump-backend/internal/models"
	"pump-backend/internal/registry"
)

// Dispatcher sends commands to individual devices through the connection
// registry, classifying every failure so callers can tell an unknown device
// from a flaky link. Sends are fire-and-forget at the transport layer: only
// the synchronous write is awaited, never a device-side application ack.
type Dispatcher struct {
	registry *registry.Registry
	logger   *slog.Logger
}

// New creates a dispatcher bound to a registry
func New(reg *registry.Registry, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		registry: reg,
		logger:   logger.With("component", "dispatcher"),
	}
}

// Send serializes a command envelope and writes it to the device's open
// transport. On success the envelope is returned as an echo for the caller.
func (d *Dispatcher) Send(ctx context.Context, deviceID, command string, value any) (*models.CommandEnvelope, error) {
	if d == nil || d.registry == nil {
		return nil, internalError(deviceID, "connection registry is not initialized", nil)
	}

	conn, ok := d.registry.Get(deviceID)
	if !ok {
		ids := d.registry.ListIDs()
		err := notFoundError(deviceID, &Details{
			ActiveConnections: len(ids),
			ActiveDevices:     ids,
		})
		d.logOutcome(deviceID, command, err)
		return nil, err
	}

	if !conn.Ready() {
		err := unavailableError(deviceID)
		d.logOutcome(deviceID, command, err)
		return nil, err
	}

	value, derr := normalizeValue(deviceID, command, value)
	if derr != nil {
		d.logOutcome(deviceID, command, derr)
		return nil, derr
	}

	envelope := models.NewCommandEnvelope(command, value)
	payload, err := json.Marshal(envelope)
	if err != nil {
		derr := internalError(deviceID, "failed to serialize command: "+err.Error(), err)
		d.logOutcome(deviceID, command, derr)
		return nil, derr
	}

	if err := conn.Send(ctx, payload); err != nil {
		derr := sendFailedError(deviceID, err)
		d.logOutcome(deviceID, command, derr)
		return nil, derr
	}

	d.logger.Info("command dispatched",
		"device_id", deviceID,
		"command", command,
		"command_id", envelope.CommandID)
	return envelope, nil
}

// normalizeValue converts loose JSON maps from the HTTP layer into the typed
// wire payload for the command tags this backend interprets. Opaque tags
// (pump/mode toggles) pass through untouched.
func normalizeValue(deviceID, command string, value any) (any, *Error) {
	if command != models.CommandAddSchedule || value == nil {
		return value, nil
	}
	if _, ok := value.(models.AddSchedulePayload); ok {
		return value, nil
	}

	var payload models.AddSchedulePayload
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &payload,
	})
	if err != nil {
		return nil, internalError(deviceID, "failed to build payload decoder", err)
	}
	if err := decoder.Decode(value); err != nil {
		return nil, internalError(deviceID, "malformed add_schedule value: "+err.Error(), err)
	}
	return payload, nil
}

func (d *Dispatcher) logOutcome(deviceID, command string, err *Error) {
	d.logger.Warn("command dispatch failed",
		"device_id", deviceID,
		"command", command,
		"code", err.Code,
		"error", err.Message)
}
