package models

import "time"

// Issue types recorded by the telemetry validator
const (
	IssueMissingField      = "missing_field"
	IssueBadType           = "bad_type"
	IssueOutOfRange        = "out_of_range"
	IssueInconsistentPower = "inconsistent_power"
	IssueBadTimestamp      = "bad_timestamp"
	IssueStaleReading      = "stale_reading"
	IssueSensorDisconnect  = "sensor_disconnect_suspected"
)

// ValidationIssue describes a single problem found in a raw reading
type ValidationIssue struct {
	Type   string `json:"type"`
	Field  string `json:"field,omitempty"`
	Detail string `json:"detail"`
}

// ValidatedReading is the best-effort typed result of validating one raw
// telemetry payload, with a 0-100 trust score
type ValidatedReading struct {
	DeviceID     string            `json:"device_id"`
	Voltage      float64           `json:"voltage"`
	Current      float64           `json:"current"`
	Power        float64           `json:"power"`
	Energy       float64           `json:"energy"`
	PIRStatus    bool              `json:"pir_status"`
	PumpStatus   bool              `json:"pump_status"`
	AutoMode     bool              `json:"auto_mode"`
	Timestamp    time.Time         `json:"timestamp"`
	QualityScore int               `json:"quality_score"`
	IsValid      bool              `json:"is_valid"`
	IsStale      bool              `json:"is_stale"`
	Issues       []ValidationIssue `json:"issues,omitempty"`
}
