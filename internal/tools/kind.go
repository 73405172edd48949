// Package tools implements the calendar and task tools the language model may
// call. Tool names are mapped once onto the closed Kind enum; everything past
// that boundary dispatches on Kind.
package tools

import "fmt"

// Kind identifies one tool.
type Kind int

const (
	ListEvents Kind = iota
	CreateEvent
	UpdateEvent
	DeleteEvent
	ListTasks
	CreateTask
	CompleteTask
	DeleteTask

	kindCount
)

var kindNames = [kindCount]string{
	ListEvents:   "list_events",
	CreateEvent:  "create_event",
	UpdateEvent:  "update_event",
	DeleteEvent:  "delete_event",
	ListTasks:    "list_tasks",
	CreateTask:   "create_task",
	CompleteTask: "complete_task",
	DeleteTask:   "delete_task",
}

var kindDescriptions = [kindCount]string{
	ListEvents:   "List calendar events for a date range. Use when user asks about schedule, events, or what's happening on a day.",
	CreateEvent:  "Create a new calendar event. Use when user wants to schedule a meeting, appointment, or event.",
	UpdateEvent:  "Update/modify an existing calendar event. Search by the original title first.",
	DeleteEvent:  "Delete a calendar event by searching for it.",
	ListTasks:    "List Google Tasks (to-do items). Use when user asks about tasks, to-do list, or what needs to be done.",
	CreateTask:   "Create a new task/to-do item. Call this once per task. For multiple tasks, call this function multiple times.",
	CompleteTask: "Mark a task as completed. Use when user says they finished a task.",
	DeleteTask:   "Delete a task. Use when user wants to remove a task.",
}

// Kinds returns every tool kind in catalog order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKind maps a model-supplied tool name onto its Kind.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return Kind(k), true
		}
	}
	return 0, false
}

func (k Kind) String() string {
	if k < 0 || k >= kindCount {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Description is the text the model sees when choosing tools.
func (k Kind) Description() string {
	if k < 0 || k >= kindCount {
		return ""
	}
	return kindDescriptions[k]
}

// Mutating reports whether repeated calls of the kind create duplicates.
func (k Kind) Mutating() bool {
	return k == CreateEvent || k == CreateTask
}
