package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"pump-backend/internal/models"
)

// Directory resolves a device's wire name to the directory's stable key
type Directory interface {
	ResolveDevice(ctx context.Context, name string) (int64, error)
}

// Store loads the active automation rules for one device, ordered by
// start_time ascending so replay order is deterministic
type Store interface {
	ActiveSchedules(ctx context.Context, deviceKey int64) ([]models.ScheduleRule, error)
}

// CommandSender is the slice of the dispatcher the coordinator needs
type CommandSender interface {
	Send(ctx context.Context, deviceID, command string, value any) (*models.CommandEnvelope, error)
}

// Coordinator replays a device's active schedule rules to it whenever the
// device (re)establishes its transport. A device that was offline and missed
// in-band updates is brought back to a consistent schedule set this way.
type Coordinator struct {
	directory  Directory
	store      Store
	dispatcher CommandSender
	logger     *slog.Logger
}

// NewCoordinator wires a coordinator to its collaborators
func NewCoordinator(directory Directory, store Store, dispatcher CommandSender, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		directory:  directory,
		store:      store,
		dispatcher: dispatcher,
		logger:     logger.With("component", "schedule_sync"),
	}
}

// SyncAll pushes every active rule for deviceName, one at a time, in
// start_time order. Per-rule failures are isolated: a malformed rule is
// recorded and the remaining rules still go out. The report never comes
// with a Go error; callers inspect Success and Errors.
func (c *Coordinator) SyncAll(ctx context.Context, deviceName string) models.SyncReport {
	deviceKey, err := c.directory.ResolveDevice(ctx, deviceName)
	if err != nil {
		c.logger.Warn("schedule sync aborted", "device_id", deviceName, "error", err)
		return models.SyncReport{Success: false, Error: "device not found"}
	}

	rules, err := c.store.ActiveSchedules(ctx, deviceKey)
	if err != nil {
		c.logger.Error("failed to load schedules", "device_id", deviceName, "error", err)
		return models.SyncReport{Success: false, Error: "failed to load schedules: " + err.Error()}
	}

	report := models.SyncReport{TotalSchedules: len(rules)}
	for _, rule := range rules {
		hour, minute, err := parseStartTime(rule.StartTime)
		if err != nil {
			report.Errors = append(report.Errors, models.SyncRuleError{
				ScheduleID: rule.ScheduleID,
				Error:      err.Error(),
			})
			c.logger.Warn("skipping malformed schedule rule",
				"device_id", deviceName,
				"schedule_id", rule.ScheduleID,
				"start_time", rule.StartTime,
				"error", err)
			continue
		}

		payload := models.AddSchedulePayload{
			Hour:       hour,
			Minute:     minute,
			ScheduleID: rule.ScheduleID,
			Title:      rule.Title,
		}
		if _, err := c.dispatcher.Send(ctx, deviceName, models.CommandAddSchedule, payload); err != nil {
			report.Errors = append(report.Errors, models.SyncRuleError{
				ScheduleID: rule.ScheduleID,
				Error:      err.Error(),
			})
			continue
		}
		report.SyncedCount++
	}

	report.Success = len(report.Errors) == 0
	c.logger.Info("schedule sync complete",
		"device_id", deviceName,
		"synced", report.SyncedCount,
		"total", report.TotalSchedules,
		"errors", len(report.Errors))
	return report
}

// startTimeLayouts cover rules stored as a full datetime rather than a bare
// clock time
var startTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// parseStartTime extracts hour and minute from either "HH:MM[:SS]" or a full
// datetime string
func parseStartTime(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, 0, fmt.Errorf("empty start_time")
	}

	for _, layout := range startTimeLayouts {
		if ts, perr := time.Parse(layout, s); perr == nil {
			return ts.Hour(), ts.Minute(), nil
		}
	}

	parts := strings.Split(s, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return 0, 0, fmt.Errorf("unrecognized start_time %q", s)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in start_time %q", s)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in start_time %q", s)
	}
	return hour, minute, nil
}
