package quality

import (
	"sync"
	"time"

	"pump-backend/internal/models"
)

// Signal weights and thresholds for the composite verdict
const (
	linkWeight      = 0.3
	dataWeight      = 0.4
	freshnessWeight = 0.3

	// StaleThreshold is how old the newest reading may be before the
	// device stops counting as online regardless of the other signals
	StaleThreshold = 15 * time.Second

	onlineScoreFloor      = 50
	reconnectPenalty      = 20
	validReadingBonus     = 5
	invalidReadingPenalty = 10
)

// Tracker holds the smoothed per-device signals behind the composite
// online/quality verdict. The smoothing exists specifically so one dropped
// packet degrades the score without instantly flipping the verdict.
//
// Each device gets its own tracker; there is no cross-device state.
type Tracker struct {
	// Clock is overridable for deterministic tests
	Clock func() time.Time

	mu                sync.Mutex
	deviceID          string
	linkConnected     bool
	reconnectAttempts int
	dataScore         float64
	lastData          time.Time
	lastGood          *models.ValidatedReading
}

// NewTracker creates a tracker for one device. Signals start optimistic; the
// first evaluation with no data will still report offline because freshness
// gates the verdict.
func NewTracker(deviceID string) *Tracker {
	return &Tracker{
		Clock:     time.Now,
		deviceID:  deviceID,
		dataScore: 100,
	}
}

// MarkConnected records the transport coming up and resets the reconnect
// counter
func (t *Tracker) MarkConnected() {
	t.mu.Lock()
	t.linkConnected = true
	t.reconnectAttempts = 0
	t.mu.Unlock()
}

// MarkDisconnected records the transport going down
func (t *Tracker) MarkDisconnected() {
	t.mu.Lock()
	t.linkConnected = false
	t.mu.Unlock()
}

// RecordReconnectAttempt degrades link quality by one attempt
func (t *Tracker) RecordReconnectAttempt() {
	t.mu.Lock()
	t.reconnectAttempts++
	t.mu.Unlock()
}

// RecordReading folds one validated telemetry event into the running data
// score: +5 toward 100 when the reading is structurally valid, -10 toward 0
// when it is not. Valid readings become the last-known-good snapshot.
func (t *Tracker) RecordReading(reading models.ValidatedReading) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.lastData = t.Clock()
	if reading.IsValid {
		t.dataScore += validReadingBonus
		if t.dataScore > 100 {
			t.dataScore = 100
		}
		good := reading
		t.lastGood = &good
	} else {
		t.dataScore -= invalidReadingPenalty
		if t.dataScore < 0 {
			t.dataScore = 0
		}
	}
}

// Evaluate fuses the three signals into one verdict. serverConnected is the
// consumer's own link to the backend; upstreamActive is the authoritative
// store's is_active flag for the device.
func (t *Tracker) Evaluate(serverConnected, upstreamActive bool) models.ConnectionVerdict {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.Clock()

	link := 0.0
	if t.linkConnected {
		link = 100 - float64(t.reconnectAttempts)*reconnectPenalty
		if link < 0 {
			link = 0
		}
	}

	dataAge := time.Duration(1<<62 - 1)
	if !t.lastData.IsZero() {
		dataAge = now.Sub(t.lastData)
	}
	freshness := freshnessScore(dataAge)

	composite := linkWeight*link + dataWeight*t.dataScore + freshnessWeight*freshness

	hasRecentData := !t.lastData.IsZero() && dataAge < StaleThreshold
	online := hasRecentData && upstreamActive && composite > onlineScoreFloor

	return models.ConnectionVerdict{
		DeviceID:        t.deviceID,
		DeviceOnline:    online,
		ServerConnected: serverConnected,
		QualityLevel:    models.LevelForScore(composite),
		QualityScore:    composite,
		DataAgeSeconds:  dataAge.Seconds(),
		EvaluatedAt:     now,
	}
}

// LastGood returns the last structurally-valid reading, flagged stale when
// the device is not currently online. Dashboards show these values during a
// brief outage instead of a false all-zero crash state.
func (t *Tracker) LastGood(online bool) (models.ValidatedReading, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.lastGood == nil {
		return models.ValidatedReading{}, false
	}
	reading := *t.lastGood
	reading.IsStale = !online
	return reading, true
}

// freshnessScore is a step function of how old the newest reading is
func freshnessScore(age time.Duration) float64 {
	switch {
	case age < 5*time.Second:
		return 100
	case age < 15*time.Second:
		return 80
	case age < 30*time.Second:
		return 60
	case age < 60*time.Second:
		return 40
	default:
		return 20
	}
}
