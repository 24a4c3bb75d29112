package telemetry_test

import (
	"reflect"
	"testing"
	"time"

	"pump-backend/internal/models"
	"pump-backend/internal/telemetry"
)

func fixedClockValidator(at time.Time) *telemetry.Validator {
	v := telemetry.NewValidator()
	v.Clock = func() time.Time { return at }
	return v
}

func hasIssue(reading models.ValidatedReading, issueType string) bool {
	for _, issue := range reading.Issues {
		if issue.Type == issueType {
			return true
		}
	}
	return false
}

func TestValidateCleanReading(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedClockValidator(now)

	reading := v.Validate("pump-1", map[string]any{
		"voltage":     220.0,
		"current":     2.0,
		"power":       440.0,
		"energy":      12.5,
		"pump_status": true,
		"timestamp":   now.Format(time.RFC3339),
	})

	if reading.QualityScore < 85 {
		t.Fatalf("clean reading scored %d, want >= 85 (issues: %v)",
			reading.QualityScore, reading.Issues)
	}
	if !reading.IsValid {
		t.Fatal("clean reading should be valid")
	}
	if reading.Voltage != 220 || reading.Current != 2 || reading.Power != 440 {
		t.Fatalf("unexpected coerced values: %+v", reading)
	}
	if !reading.PumpStatus {
		t.Fatal("pump_status true was not coerced")
	}
}

func TestValidateMissingRequiredFields(t *testing.T) {
	v := fixedClockValidator(time.Now())

	reading := v.Validate("pump-1", map[string]any{"energy": 1.0})

	if reading.QualityScore > 40 {
		t.Fatalf("reading missing voltage/current/power scored %d, want <= 40",
			reading.QualityScore)
	}
	missing := 0
	for _, issue := range reading.Issues {
		if issue.Type == models.IssueMissingField {
			missing++
		}
	}
	if missing != 3 {
		t.Fatalf("want 3 missing_field issues, got %d: %v", missing, reading.Issues)
	}
}

func TestValidateNumericStrings(t *testing.T) {
	v := fixedClockValidator(time.Now())

	reading := v.Validate("pump-1", map[string]any{
		"voltage": "220",
		"current": "2.0",
		"power":   "440",
	})

	if reading.Voltage != 220 || reading.Current != 2 || reading.Power != 440 {
		t.Fatalf("numeric strings not coerced: %+v", reading)
	}
	if !reading.IsValid {
		t.Fatalf("numeric-string reading should be valid, score %d", reading.QualityScore)
	}
}

func TestValidateBooleanForms(t *testing.T) {
	v := fixedClockValidator(time.Now())

	cases := []struct {
		value any
		want  bool
	}{
		{true, true},
		{"true", true},
		{"YES", true},
		{"on", true},
		{1, true},
		{1.0, true},
		{false, false},
		{"off", false},
		{"0", false},
		{0, false},
		{"garbage", false}, // unrecognized falls back to default
	}

	for _, tc := range cases {
		reading := v.Validate("pump-1", map[string]any{
			"voltage": 220.0, "current": 2.0, "power": 440.0,
			"pir_status": tc.value,
		})
		if reading.PIRStatus != tc.want {
			t.Errorf("pir_status=%v coerced to %v, want %v", tc.value, reading.PIRStatus, tc.want)
		}
	}
}

func TestValidateBadTypeFallsBack(t *testing.T) {
	v := fixedClockValidator(time.Now())

	reading := v.Validate("pump-1", map[string]any{
		"voltage": "not-a-number",
		"current": 2.0,
		"power":   440.0,
	})

	if reading.Voltage != 0 {
		t.Fatalf("uncoercible voltage should fall back to 0, got %v", reading.Voltage)
	}
	if !hasIssue(reading, models.IssueBadType) {
		t.Fatalf("want bad_type issue, got %v", reading.Issues)
	}
}

func TestValidateRangeDeductions(t *testing.T) {
	v := fixedClockValidator(time.Now())

	reading := v.Validate("pump-1", map[string]any{
		"voltage": 400.0, // outside [0, 250]
		"current": 2.0,
		"power":   800.0,
	})

	if !hasIssue(reading, models.IssueOutOfRange) {
		t.Fatalf("want out_of_range issue, got %v", reading.Issues)
	}
	// 100 - 15 (range) = 85; still valid, range violations degrade only
	if !reading.IsValid {
		t.Fatalf("out-of-range reading should still be valid, score %d", reading.QualityScore)
	}
}

func TestValidatePowerConsistency(t *testing.T) {
	v := fixedClockValidator(time.Now())

	// 220V * 2A = 440W expected; 800W is far beyond the 10% tolerance
	reading := v.Validate("pump-1", map[string]any{
		"voltage": 220.0,
		"current": 2.0,
		"power":   800.0,
	})
	if !hasIssue(reading, models.IssueInconsistentPower) {
		t.Fatalf("want inconsistent_power issue, got %v", reading.Issues)
	}

	// within 10%: 440 vs 470
	reading = v.Validate("pump-1", map[string]any{
		"voltage": 220.0,
		"current": 2.0,
		"power":   470.0,
	})
	if hasIssue(reading, models.IssueInconsistentPower) {
		t.Fatalf("470W for 440W expected is inside tolerance, got %v", reading.Issues)
	}
}

func TestValidateUnparsableTimestamp(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedClockValidator(now)

	reading := v.Validate("pump-1", map[string]any{
		"voltage":   220.0,
		"current":   2.0,
		"power":     440.0,
		"timestamp": "not a time",
	})

	if !hasIssue(reading, models.IssueBadTimestamp) {
		t.Fatalf("want bad_timestamp issue, got %v", reading.Issues)
	}
	if !reading.Timestamp.Equal(now) {
		t.Fatalf("unparsable timestamp should substitute server time, got %v", reading.Timestamp)
	}
	if reading.QualityScore != 90 {
		t.Fatalf("want 100-10=90, got %d", reading.QualityScore)
	}
}

func TestValidateStalenessDeduction(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedClockValidator(now)

	// 120s old: 60s beyond the grace period, about 10 points
	reading := v.Validate("pump-1", map[string]any{
		"voltage":   220.0,
		"current":   2.0,
		"power":     440.0,
		"timestamp": now.Add(-120 * time.Second).Format(time.RFC3339),
	})
	if !hasIssue(reading, models.IssueStaleReading) {
		t.Fatalf("want stale_reading issue, got %v", reading.Issues)
	}
	if reading.QualityScore != 90 {
		t.Fatalf("120s-old reading: want 100-10=90, got %d", reading.QualityScore)
	}

	// very old readings cap at the max staleness penalty
	reading = v.Validate("pump-1", map[string]any{
		"voltage":   220.0,
		"current":   2.0,
		"power":     440.0,
		"timestamp": now.Add(-time.Hour).Format(time.RFC3339),
	})
	if reading.QualityScore != 80 {
		t.Fatalf("hour-old reading: want 100-20=80, got %d", reading.QualityScore)
	}
}

func TestValidateAllZeroGuard(t *testing.T) {
	v := fixedClockValidator(time.Now())

	reading := v.Validate("pump-1", map[string]any{
		"voltage": 0.0,
		"current": 0.0,
		"power":   0.0,
	})

	if !hasIssue(reading, models.IssueSensorDisconnect) {
		t.Fatalf("want sensor_disconnect_suspected issue, got %v", reading.Issues)
	}
	if reading.QualityScore != 75 {
		t.Fatalf("all-zero reading: want 100-25=75, got %d", reading.QualityScore)
	}
}

func TestValidateDeterministic(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedClockValidator(now)

	raw := map[string]any{
		"voltage":   "221.5",
		"current":   2.1,
		"power":     900.0,
		"energy":    -5.0,
		"timestamp": now.Add(-200 * time.Second).Format(time.RFC3339),
	}

	first := v.Validate("pump-1", raw)
	second := v.Validate("pump-1", raw)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("validation is not deterministic:\n%+v\n%+v", first, second)
	}
}

func TestValidateScoreFloorsAtZero(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	v := fixedClockValidator(now)

	reading := v.Validate("pump-1", map[string]any{
		"timestamp": "garbage",
	})

	if reading.QualityScore < 0 {
		t.Fatalf("score must floor at 0, got %d", reading.QualityScore)
	}
	if reading.IsValid {
		t.Fatal("empty reading must not be valid")
	}
}
