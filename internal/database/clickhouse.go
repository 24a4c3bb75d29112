package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"pump-backend/internal/models"
)

// ClickHouseDB persists telemetry history and backs the device directory and
// schedule store the coordination layer consumes
type ClickHouseDB struct {
	conn   driver.Conn
	logger *slog.Logger
}

// NewClickHouseDB creates a new ClickHouse database connection
func NewClickHouseDB(addr, database, username, password string, logger *slog.Logger) (*ClickHouseDB, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{addr},
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	db := &ClickHouseDB{conn: conn, logger: logger.With("component", "database")}
	db.logger.Info("connected to ClickHouse", "addr", addr)

	if err := db.InitSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return db, nil
}

// InitSchema creates the necessary tables if they don't exist
func (db *ClickHouseDB) InitSchema(ctx context.Context) error {
	for _, tableSQL := range AllTables() {
		if err := db.conn.Exec(ctx, tableSQL); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	db.logger.Info("database schema initialized")
	return nil
}

// SaveReading persists one validated reading plus each issue the validator
// recorded against it
func (db *ClickHouseDB) SaveReading(ctx context.Context, reading *models.ValidatedReading) error {
	query := `
		INSERT INTO telemetry_readings
			(timestamp, device_id, voltage, current, power, energy,
			 pir_status, pump_status, auto_mode, quality_score, is_valid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		reading.Timestamp,
		reading.DeviceID,
		reading.Voltage,
		reading.Current,
		reading.Power,
		reading.Energy,
		boolToUInt8(reading.PIRStatus),
		boolToUInt8(reading.PumpStatus),
		boolToUInt8(reading.AutoMode),
		uint8(reading.QualityScore),
		boolToUInt8(reading.IsValid),
	)
	if err != nil {
		return fmt.Errorf("failed to insert telemetry reading: %w", err)
	}

	for _, issue := range reading.Issues {
		err := db.conn.Exec(ctx,
			`INSERT INTO telemetry_issues (timestamp, device_id, issue_type, field, detail) VALUES (?, ?, ?, ?, ?)`,
			reading.Timestamp, reading.DeviceID, issue.Type, issue.Field, issue.Detail,
		)
		if err != nil {
			return fmt.Errorf("failed to insert telemetry issue: %w", err)
		}
	}
	return nil
}

// UpsertDevice inserts or refreshes a directory record. Auto-registration on
// first message is best effort; callers log and move on.
func (db *ClickHouseDB) UpsertDevice(ctx context.Context, device *models.Device) error {
	query := `
		INSERT INTO device_directory (device_key, name, location, registered_at, last_seen, is_active)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	err := db.conn.Exec(ctx, query,
		device.DeviceKey,
		device.Name,
		device.Location,
		device.RegisteredAt,
		device.LastSeen,
		boolToUInt8(device.IsActive),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert device: %w", err)
	}
	return nil
}

// ResolveDevice maps a wire name to the directory's stable key. Implements
// schedule.Directory.
func (db *ClickHouseDB) ResolveDevice(ctx context.Context, name string) (int64, error) {
	query := `
		SELECT device_key
		FROM device_directory FINAL
		WHERE name = ?
		LIMIT 1
	`

	var key int64
	if err := db.conn.QueryRow(ctx, query, name).Scan(&key); err != nil {
		return 0, fmt.Errorf("device %q not found in directory: %w", name, err)
	}
	return key, nil
}

// DeviceActive reports the directory's is_active flag for one device; the
// monitor treats this as the upstream authority on whether the device should
// be considered usable at all
func (db *ClickHouseDB) DeviceActive(ctx context.Context, name string) (bool, error) {
	query := `
		SELECT is_active
		FROM device_directory FINAL
		WHERE name = ?
		LIMIT 1
	`

	var active uint8
	if err := db.conn.QueryRow(ctx, query, name).Scan(&active); err != nil {
		return false, fmt.Errorf("failed to read device flag for %q: %w", name, err)
	}
	return active != 0, nil
}

// ActiveSchedules loads the active rules for one device ordered by
// start_time ascending. Implements schedule.Store.
func (db *ClickHouseDB) ActiveSchedules(ctx context.Context, deviceKey int64) ([]models.ScheduleRule, error) {
	query := `
		SELECT schedule_id, device_key, title, start_time
		FROM device_schedules FINAL
		WHERE device_key = ? AND is_active = 1
		ORDER BY start_time ASC
	`

	rows, err := db.conn.Query(ctx, query, deviceKey)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}
	defer rows.Close()

	var rules []models.ScheduleRule
	for rows.Next() {
		rule := models.ScheduleRule{IsActive: true}
		if err := rows.Scan(&rule.ScheduleID, &rule.DeviceID, &rule.Title, &rule.StartTime); err != nil {
			return nil, fmt.Errorf("failed to scan schedule row: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Close closes the database connection
func (db *ClickHouseDB) Close() error {
	return db.conn.Close()
}

func boolToUInt8(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
