package models

// ScheduleRule is one automation rule owned by the schedule store. This
// backend only ever reads rules; it never mutates them.
type ScheduleRule struct {
	ScheduleID int64  `json:"schedule_id"`
	DeviceID   int64  `json:"device_id"`
	Title      string `json:"title"`
	StartTime  string `json:"start_time"` // "HH:MM[:SS]" or a full datetime
	IsActive   bool   `json:"is_active"`
}

// SyncRuleError records the failure of a single rule during a sync pass
type SyncRuleError struct {
	ScheduleID int64  `json:"schedule_id"`
	Error      string `json:"error"`
}

// SyncReport aggregates the outcome of replaying one device's active rules
type SyncReport struct {
	Success        bool            `json:"success"`
	SyncedCount    int             `json:"syncedCount"`
	TotalSchedules int             `json:"totalSchedules,omitempty"`
	Errors         []SyncRuleError `json:"errors,omitempty"`
	Error          string          `json:"error,omitempty"`
}
