package domain

import (
	"errors"
	"time"
)

// ErrNotConnected reports that the upstream calendar/task account has not been
// authorized (or its authorization was revoked).
var ErrNotConnected = errors.New("google account not connected")

// EventTime mirrors the calendar API's start/end shape: timed events carry an
// RFC 3339 DateTime, all-day events carry only a YYYY-MM-DD Date.
type EventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// AllDay reports whether the time has no time-of-day component.
func (t EventTime) AllDay() bool {
	return t.DateTime == ""
}

// String returns DateTime for timed values and Date otherwise.
func (t EventTime) String() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

// Instant parses DateTime. ok is false for all-day or malformed values.
func (t EventTime) Instant() (time.Time, bool) {
	if t.DateTime == "" {
		return time.Time{}, false
	}
	ts, err := time.Parse(time.RFC3339, t.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// Event is a calendar event.
type Event struct {
	ID          string    `json:"id"`
	Summary     string    `json:"summary"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Start       EventTime `json:"start"`
	End         EventTime `json:"end"`
	Status      string    `json:"status,omitempty"`
	HTMLLink    string    `json:"htmlLink,omitempty"`
}

// EventInput holds the fields of a new event. ID is optional; when set the
// provider uses it as a client-assigned id so repeated inserts collapse.
type EventInput struct {
	ID          string
	Summary     string
	Description string
	Location    string
	Start       EventTime
	End         EventTime
}

// EventPatch holds a partial event update. Nil fields are left unchanged.
type EventPatch struct {
	Summary     *string
	Description *string
	Location    *string
	Start       *EventTime
	End         *EventTime
}

// Task statuses used by the task provider.
const (
	TaskNeedsAction = "needsAction"
	TaskCompleted   = "completed"
)

// Task is a to-do item.
type Task struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Notes   string `json:"notes,omitempty"`
	Status  string `json:"status"`
	Due     string `json:"due,omitempty"`
	Updated string `json:"updated,omitempty"`
}

// TaskList is a named list of tasks.
type TaskList struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Updated string `json:"updated,omitempty"`
}

// TaskInput holds the fields of a new task. Due is an RFC 3339 instant.
type TaskInput struct {
	Title string
	Notes string
	Due   string
}

// TaskPatch holds a partial task update. Nil fields are left unchanged.
type TaskPatch struct {
	Title  *string
	Notes  *string
	Due    *string
	Status *string
}
