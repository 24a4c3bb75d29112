package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Command tags interpreted by this backend. Other tags (pump/mode toggles)
// pass through opaque.
const (
	CommandAddSchedule = "add_schedule"
	CommandTogglePump  = "toggle_pump"
	CommandModeToggle  = "mode_toggle"
)

// CommandEnvelope is a single server-to-device instruction. It is created
// immediately before send and discarded afterwards; CommandID exists for
// log correlation, not for ack matching.
type CommandEnvelope struct {
	Command   string    `json:"command"`
	Value     any       `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	CommandID string    `json:"command_id"`
}

// NewCommandEnvelope stamps a command with a dispatch time and a unique id
// (millisecond timestamp plus a random suffix).
func NewCommandEnvelope(command string, value any) *CommandEnvelope {
	now := time.Now().UTC()
	return &CommandEnvelope{
		Command:   command,
		Value:     value,
		Timestamp: now,
		CommandID: fmt.Sprintf("cmd-%d-%s", now.UnixMilli(), uuid.NewString()[:8]),
	}
}

// AddSchedulePayload is the value carried by an add_schedule command
type AddSchedulePayload struct {
	Hour       int    `json:"hour" mapstructure:"hour"`
	Minute     int    `json:"minute" mapstructure:"minute"`
	ScheduleID int64  `json:"schedule_id" mapstructure:"schedule_id"`
	Title      string `json:"title" mapstructure:"title"`
}
