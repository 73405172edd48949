package domain

import (
	"errors"
	"time"
)

// ErrReminderNotFound is returned by reminder stores for unknown ids.
var ErrReminderNotFound = errors.New("reminder not found")

// Reminder log statuses.
const (
	ReminderLogSent   = "sent"
	ReminderLogFailed = "failed"
)

// ReminderType enumerates when a reminder fires.
type ReminderType string

const (
	ReminderEventBefore   ReminderType = "event_before"
	ReminderDailyBriefing ReminderType = "daily_briefing"
	ReminderRecurring     ReminderType = "recurring"
	ReminderDeadline      ReminderType = "deadline"
)

// ReminderTypes lists every valid reminder type.
var ReminderTypes = []ReminderType{ReminderEventBefore, ReminderDailyBriefing, ReminderRecurring, ReminderDeadline}

// Valid reports whether t is one of ReminderTypes.
func (t ReminderType) Valid() bool {
	for _, v := range ReminderTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Reminder is a stored reminder definition.
type Reminder struct {
	ID              string       `json:"id"`
	Title           string       `json:"title"`
	Description     string       `json:"description,omitempty"`
	Type            ReminderType `json:"type"`
	GoogleEventID   string       `json:"googleEventId,omitempty"`
	MinutesBefore   int          `json:"minutesBefore,omitempty"`
	CronExpression  string       `json:"cronExpression,omitempty"`
	DeadlineAt      *time.Time   `json:"deadlineAt,omitempty"`
	Active          bool         `json:"active"`
	LastTriggeredAt *time.Time   `json:"lastTriggeredAt,omitempty"`
	CreatedAt       time.Time    `json:"createdAt"`
}

// ReminderPatch holds a partial reminder update. Nil fields are left unchanged.
type ReminderPatch struct {
	Title          *string    `json:"title,omitempty"`
	Description    *string    `json:"description,omitempty"`
	Active         *bool      `json:"active,omitempty"`
	MinutesBefore  *int       `json:"minutesBefore,omitempty"`
	CronExpression *string    `json:"cronExpression,omitempty"`
	DeadlineAt     *time.Time `json:"deadlineAt,omitempty"`
}

// ReminderLog records one delivery of a reminder.
type ReminderLog struct {
	ReminderID  string    `json:"reminderId"`
	Message     string    `json:"message"`
	Status      string    `json:"status"`
	TriggeredAt time.Time `json:"triggeredAt"`
}
