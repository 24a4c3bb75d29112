package telemetry

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Field devices ship noisy payloads: numbers arrive as strings, booleans as
// 0/1 or "on"/"off", timestamps in half a dozen layouts. The coercers accept
// all of those shapes and report whether the value was usable, so the
// validator can score the fallback instead of rejecting the reading.

// coerceFloat converts a raw JSON value to float64. Returns the fallback and
// false when the value is absent-shaped or not numeric.
func coerceFloat(v any, fallback float64) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case uint:
		return float64(t), true
	case uint64:
		return float64(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return fallback, false
		}
		return f, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return fallback, false
		}
		return f, true
	case bool:
		// Some firmware reports numeric flags as booleans
		if t {
			return 1, true
		}
		return 0, true
	default:
		return fallback, false
	}
}

// coerceBool converts a raw JSON value to bool. Accepts native booleans,
// nonzero numerics, and the usual string spellings.
func coerceBool(v any, fallback bool) (bool, bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case float64:
		return t != 0, true
	case int:
		return t != 0, true
	case int64:
		return t != 0, true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return fallback, false
		}
		return f != 0, true
	case string:
		switch strings.ToLower(strings.TrimSpace(t)) {
		case "true", "1", "yes", "on":
			return true, true
		case "false", "0", "no", "off":
			return false, true
		default:
			return fallback, false
		}
	default:
		return fallback, false
	}
}

// timestampLayouts are tried in order when a device sends its clock as text
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// coerceTime converts a raw JSON value to a time. Numeric values are read as
// unix seconds (or milliseconds when implausibly large for seconds).
func coerceTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case float64:
		return unixTime(int64(t)), true
	case int64:
		return unixTime(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return time.Time{}, false
		}
		return unixTime(n), true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, false
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts, true
			}
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return unixTime(n), true
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// unixTime interprets n as milliseconds when it is too large to be a
// plausible seconds value (past year 33658 in seconds)
func unixTime(n int64) time.Time {
	if n > 1e12 {
		return time.UnixMilli(n)
	}
	return time.Unix(n, 0)
}
