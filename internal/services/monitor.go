package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"pump-backend/internal/infra"
	"pump-backend/internal/models"
	"pump-backend/internal/quality"
)

// ActiveFlagChecker reads the authoritative is_active flag for a device
type ActiveFlagChecker interface {
	DeviceActive(ctx context.Context, name string) (bool, error)
}

// LinkStatus reports whether the monitor's own link to the backend is up
type LinkStatus interface {
	IsConnected() bool
}

// MonitorServiceConfig holds tunables for the monitor
type MonitorServiceConfig struct {
	// TickInterval drives re-evaluation when no telemetry arrives, so
	// staleness is detected on a silent link
	TickInterval time.Duration
	// ActivePollInterval bounds how often the upstream flag is re-read
	ActivePollInterval time.Duration
}

// DefaultMonitorServiceConfig returns default configuration
func DefaultMonitorServiceConfig() MonitorServiceConfig {
	return MonitorServiceConfig{
		TickInterval:       10 * time.Second,
		ActivePollInterval: 30 * time.Second,
	}
}

// deviceState is the monitor's per-device slot: the quality tracker plus the
// cached upstream flag and the latest verdict
type deviceState struct {
	tracker        *quality.Tracker
	upstreamActive bool
	lastPoll       time.Time
	verdict        models.ConnectionVerdict
}

// MonitorService is the consuming side of the telemetry stream. It feeds
// each reading into the device's quality tracker, re-evaluates on a fixed
// tick, and serves composite verdicts plus last-known-good snapshots.
// Nothing here blocks the event path: upstream flag reads happen on their
// own goroutines and feed back into cached state.
type MonitorService struct {
	config MonitorServiceConfig
	flags  ActiveFlagChecker
	link   LinkStatus
	logger *slog.Logger
	retry  infra.RetryConfig

	// Readings is fed by the MQTT subscriber
	Readings <-chan *models.ValidatedReading

	mu      sync.RWMutex
	devices map[string]*deviceState
}

// NewMonitorService creates a monitor consuming the given readings channel
func NewMonitorService(
	config MonitorServiceConfig,
	flags ActiveFlagChecker,
	link LinkStatus,
	readings <-chan *models.ValidatedReading,
	logger *slog.Logger,
) *MonitorService {
	return &MonitorService{
		config:   config,
		flags:    flags,
		link:     link,
		logger:   logger.With("component", "monitor"),
		retry:    infra.DefaultRetryConfig(),
		Readings: readings,
		devices:  make(map[string]*deviceState),
	}
}

// Start runs the event loop and the staleness tick until ctx is cancelled
func (m *MonitorService) Start(ctx context.Context) {
	m.logger.Info("monitor started", "tick_interval", m.config.TickInterval)

	ticker := time.NewTicker(m.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("monitor shutting down")
			return
		case reading, ok := <-m.Readings:
			if !ok {
				return
			}
			m.handleReading(ctx, reading)
		case <-ticker.C:
			m.evaluateAll(ctx)
		}
	}
}

// handleReading folds one telemetry event into the device's tracker and
// re-evaluates immediately
func (m *MonitorService) handleReading(ctx context.Context, reading *models.ValidatedReading) {
	state := m.getOrCreateDevice(ctx, reading.DeviceID)
	state.tracker.MarkConnected()
	state.tracker.RecordReading(*reading)
	m.evaluateDevice(ctx, reading.DeviceID, state)
}

// evaluateAll recomputes every device's verdict; this is what catches a
// device that simply went silent
func (m *MonitorService) evaluateAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		m.mu.RLock()
		state := m.devices[id]
		m.mu.RUnlock()
		if state != nil {
			m.evaluateDevice(ctx, id, state)
		}
	}
}

// evaluateDevice recomputes one device's composite verdict and caches it
func (m *MonitorService) evaluateDevice(ctx context.Context, deviceID string, state *deviceState) {
	m.maybePollActiveFlag(ctx, deviceID, state)

	m.mu.RLock()
	upstreamActive := state.upstreamActive
	m.mu.RUnlock()

	verdict := state.tracker.Evaluate(m.link.IsConnected(), upstreamActive)

	m.mu.Lock()
	previous := state.verdict
	state.verdict = verdict
	m.mu.Unlock()

	if previous.DeviceOnline != verdict.DeviceOnline {
		m.logger.Info("device verdict changed",
			"device_id", deviceID,
			"online", verdict.DeviceOnline,
			"quality_level", verdict.QualityLevel,
			"quality_score", verdict.QualityScore,
			"data_age_seconds", verdict.DataAgeSeconds)
	}
}

// maybePollActiveFlag refreshes the cached upstream flag off the event path
func (m *MonitorService) maybePollActiveFlag(ctx context.Context, deviceID string, state *deviceState) {
	m.mu.Lock()
	due := time.Since(state.lastPoll) >= m.config.ActivePollInterval
	if due {
		state.lastPoll = time.Now()
	}
	m.mu.Unlock()
	if !due {
		return
	}

	go func() {
		var active bool
		err := infra.WithRetry(ctx, m.retry, func() error {
			var err error
			active, err = m.flags.DeviceActive(ctx, deviceID)
			return err
		})
		if err != nil {
			m.logger.Warn("failed to read upstream active flag",
				"device_id", deviceID, "error", err)
			return
		}
		m.mu.Lock()
		state.upstreamActive = active
		m.mu.Unlock()
	}()
}

// getOrCreateDevice returns the monitor slot for deviceID, creating it on
// first sight with an immediate upstream flag poll
func (m *MonitorService) getOrCreateDevice(ctx context.Context, deviceID string) *deviceState {
	m.mu.Lock()
	if state, ok := m.devices[deviceID]; ok {
		m.mu.Unlock()
		return state
	}
	state := &deviceState{tracker: quality.NewTracker(deviceID)}
	m.devices[deviceID] = state
	m.mu.Unlock()

	m.maybePollActiveFlag(ctx, deviceID, state)
	return state
}

// Verdict returns the latest cached verdict for deviceID
func (m *MonitorService) Verdict(deviceID string) (models.ConnectionVerdict, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	state, ok := m.devices[deviceID]
	if !ok {
		return models.ConnectionVerdict{}, false
	}
	return state.verdict, true
}

// LastGood returns the last structurally-valid reading for deviceID. When
// the device is currently offline the snapshot is flagged stale so a
// dashboard can show held values instead of zeros.
func (m *MonitorService) LastGood(deviceID string) (models.ValidatedReading, bool) {
	m.mu.RLock()
	state, ok := m.devices[deviceID]
	m.mu.RUnlock()
	if !ok {
		return models.ValidatedReading{}, false
	}

	m.mu.RLock()
	online := state.verdict.DeviceOnline
	m.mu.RUnlock()
	return state.tracker.LastGood(online)
}

// DeviceIDs lists every device the monitor has seen
func (m *MonitorService) DeviceIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.devices))
	for id := range m.devices {
		ids = append(ids, id)
	}
	return ids
}
