package models

import "time"

// Device is a directory record for a field unit. Name is the stable external
// identifier used on the wire; DeviceKey is the directory's numeric key.
type Device struct {
	DeviceKey    int64     `json:"device_key"`
	Name         string    `json:"name"`
	Location     string    `json:"location"`
	RegisteredAt time.Time `json:"registered_at"`
	LastSeen     time.Time `json:"last_seen"`
	IsActive     bool      `json:"is_active"`
}

// QualityLevel buckets a composite score into an operator-facing label
type QualityLevel string

const (
	QualityExcellent QualityLevel = "excellent"
	QualityGood      QualityLevel = "good"
	QualityFair      QualityLevel = "fair"
	QualityPoor      QualityLevel = "poor"
	QualityCritical  QualityLevel = "critical"
)

// LevelForScore maps a 0-100 composite score to its quality level
func LevelForScore(score float64) QualityLevel {
	switch {
	case score >= 90:
		return QualityExcellent
	case score >= 70:
		return QualityGood
	case score >= 50:
		return QualityFair
	case score >= 30:
		return QualityPoor
	default:
		return QualityCritical
	}
}

// ConnectionVerdict is the fused "is this device actually usable right now"
// decision, recomputed on every telemetry event and on the periodic tick
type ConnectionVerdict struct {
	DeviceID        string       `json:"device_id"`
	DeviceOnline    bool         `json:"device_online"`
	ServerConnected bool         `json:"server_connected"`
	QualityLevel    QualityLevel `json:"quality_level"`
	QualityScore    float64      `json:"quality_score"`
	DataAgeSeconds  float64      `json:"data_age_seconds"`
	EvaluatedAt     time.Time    `json:"evaluated_at"`
}
