package database

// SQL schemas for all ClickHouse tables

const (
	// TelemetryReadingsTableSQL stores every validated reading with its score
	TelemetryReadingsTableSQL = `
		CREATE TABLE IF NOT EXISTS telemetry_readings (
			timestamp DateTime64(3),
			device_id String,
			voltage Float64,
			current Float64,
			power Float64,
			energy Float64,
			pir_status UInt8,
			pump_status UInt8,
			auto_mode UInt8,
			quality_score UInt8,
			is_valid UInt8
		) ENGINE = MergeTree()
		ORDER BY (device_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// TelemetryIssuesTableSQL keeps the validator's findings for auditing
	TelemetryIssuesTableSQL = `
		CREATE TABLE IF NOT EXISTS telemetry_issues (
			timestamp DateTime64(3),
			device_id String,
			issue_type String,
			field String,
			detail String
		) ENGINE = MergeTree()
		ORDER BY (device_id, timestamp)
		PARTITION BY toYYYYMM(timestamp)
	`

	// DeviceDirectoryTableSQL is the authoritative device record; the
	// ReplacingMergeTree keeps the newest row per device key
	DeviceDirectoryTableSQL = `
		CREATE TABLE IF NOT EXISTS device_directory (
			device_key Int64,
			name String,
			location String,
			registered_at DateTime64(3),
			last_seen DateTime64(3),
			is_active UInt8
		) ENGINE = ReplacingMergeTree(last_seen)
		ORDER BY device_key
	`

	// DeviceSchedulesTableSQL holds the automation rules replayed to a
	// device on reconnect
	DeviceSchedulesTableSQL = `
		CREATE TABLE IF NOT EXISTS device_schedules (
			schedule_id Int64,
			device_key Int64,
			title String,
			start_time String,
			is_active UInt8,
			updated_at DateTime64(3)
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY (device_key, schedule_id)
	`
)

// AllTables returns all table creation statements
func AllTables() []string {
	return []string{
		TelemetryReadingsTableSQL,
		TelemetryIssuesTableSQL,
		DeviceDirectoryTableSQL,
		DeviceSchedulesTableSQL,
	}
}
