package telemetry

import (
	"fmt"
	"math"
	"time"

	"pump-backend/internal/models"
)

// Scoring constants. Deductions accumulate from a perfect score of 100 and
// the result is floored at zero; a reading is usable while it stays at or
// above ValidThreshold.
const (
	ValidThreshold = 40

	missingFieldPenalty  = 20
	rangePenalty         = 15
	energyRangePenalty   = 10
	consistencyPenalty   = 15
	badTimestampPenalty  = 10
	maxStalenessPenalty  = 20
	allZeroPenalty       = 25
	stalenessGracePeriod = 60 * time.Second
)

// Validator turns raw, possibly malformed sensor payloads into a typed
// reading plus a 0-100 trust score. It never rejects a payload outright;
// every problem it finds deducts points and is recorded as an issue.
type Validator struct {
	// Clock is only consulted for the unparsable-timestamp fallback and
	// the staleness check; overridable so tests stay deterministic.
	Clock func() time.Time
}

// NewValidator returns a validator using the wall clock
func NewValidator() *Validator {
	return &Validator{Clock: time.Now}
}

type numericField struct {
	name     string
	required bool
	min, max float64
	penalty  int
}

var numericFields = []numericField{
	{name: "voltage", required: true, min: 0, max: 250, penalty: rangePenalty},
	{name: "current", required: true, min: 0, max: 15, penalty: rangePenalty},
	{name: "power", required: true, min: 0, max: 3000, penalty: rangePenalty},
	{name: "energy", required: false, min: 0, max: 100000, penalty: energyRangePenalty},
}

// Validate scores one raw payload for deviceID. It never returns an error:
// the worst possible input still yields a zero-score reading with its issue
// list explaining every deduction.
func (v *Validator) Validate(deviceID string, raw map[string]any) models.ValidatedReading {
	now := v.Clock()
	reading := models.ValidatedReading{
		DeviceID:  deviceID,
		Timestamp: now,
	}
	score := 100

	values := make(map[string]float64, len(numericFields))
	for _, f := range numericFields {
		rawVal, present := raw[f.name]
		if !present {
			if f.required {
				score -= missingFieldPenalty
				reading.Issues = append(reading.Issues, models.ValidationIssue{
					Type:   models.IssueMissingField,
					Field:  f.name,
					Detail: fmt.Sprintf("required field %q absent", f.name),
				})
			}
			continue
		}

		val, ok := coerceFloat(rawVal, 0)
		if !ok {
			if f.required {
				score -= missingFieldPenalty
			}
			reading.Issues = append(reading.Issues, models.ValidationIssue{
				Type:   models.IssueBadType,
				Field:  f.name,
				Detail: fmt.Sprintf("value %v is not numeric, using 0", rawVal),
			})
			values[f.name] = 0
			continue
		}

		if val < f.min || val > f.max {
			score -= f.penalty
			reading.Issues = append(reading.Issues, models.ValidationIssue{
				Type:   models.IssueOutOfRange,
				Field:  f.name,
				Detail: fmt.Sprintf("%.3f outside [%g, %g]", val, f.min, f.max),
			})
		}
		values[f.name] = val
	}

	reading.Voltage = values["voltage"]
	reading.Current = values["current"]
	reading.Power = values["power"]
	reading.Energy = values["energy"]

	reading.PIRStatus, _ = coerceBool(raw["pir_status"], false)
	reading.PumpStatus, _ = coerceBool(raw["pump_status"], false)
	reading.AutoMode, _ = coerceBool(raw["auto_mode"], false)

	// Cross-field plausibility: power should track voltage * current
	if reading.Voltage > 0 && reading.Current > 0 {
		expected := reading.Voltage * reading.Current
		delta := math.Abs(reading.Power - expected)
		if delta > math.Max(5, 0.10*expected) {
			score -= consistencyPenalty
			reading.Issues = append(reading.Issues, models.ValidationIssue{
				Type:  models.IssueInconsistentPower,
				Field: "power",
				Detail: fmt.Sprintf("expected %.2fW from V*I, got %.2fW (delta %.2fW)",
					expected, reading.Power, delta),
			})
		}
	}

	if rawTS, present := raw["timestamp"]; present {
		ts, ok := coerceTime(rawTS)
		if !ok {
			score -= badTimestampPenalty
			reading.Issues = append(reading.Issues, models.ValidationIssue{
				Type:   models.IssueBadTimestamp,
				Field:  "timestamp",
				Detail: fmt.Sprintf("unparsable timestamp %v, substituting server time", rawTS),
			})
		} else {
			reading.Timestamp = ts
			if age := now.Sub(ts); age > stalenessGracePeriod {
				// roughly one point per 6s beyond the grace period
				penalty := int(math.Min(float64(maxStalenessPenalty),
					(age-stalenessGracePeriod).Seconds()/6))
				score -= penalty
				reading.Issues = append(reading.Issues, models.ValidationIssue{
					Type:   models.IssueStaleReading,
					Field:  "timestamp",
					Detail: fmt.Sprintf("reading is %.0fs old", age.Seconds()),
				})
			}
		}
	}

	// An all-zero electrical snapshot usually means the sensor harness is
	// unplugged, not that the pump is idle. Deliberately blunt: a genuinely
	// idle device also trips this.
	if reading.Voltage == 0 && reading.Current == 0 && reading.Power == 0 {
		score -= allZeroPenalty
		reading.Issues = append(reading.Issues, models.ValidationIssue{
			Type:   models.IssueSensorDisconnect,
			Detail: "voltage, current and power all zero",
		})
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	reading.QualityScore = score
	reading.IsValid = score >= ValidThreshold
	return reading
}
