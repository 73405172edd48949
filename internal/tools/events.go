package tools

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"

	"assistant-agent/internal/domain"
)

const defaultEventLength = time.Hour

type eventSummary struct {
	ID       string  `json:"id"`
	Summary  string  `json:"summary"`
	Start    string  `json:"start"`
	End      string  `json:"end"`
	Location *string `json:"location"`
	AllDay   bool    `json:"allDay"`
}

type listEventsResult struct {
	Status string         `json:"status"`
	Count  int            `json:"count"`
	Date   string         `json:"date"`
	Days   int            `json:"days"`
	Events []eventSummary `json:"events"`
}

type createdEvent struct {
	ID        string  `json:"id"`
	Summary   string  `json:"summary"`
	Date      string  `json:"date"`
	StartTime string  `json:"start_time"`
	EndTime   string  `json:"end_time"`
	Location  *string `json:"location"`
}

type createEventResult struct {
	Status string       `json:"status"`
	Event  createdEvent `json:"event"`
}

type updateEventResult struct {
	Status          string   `json:"status"`
	OriginalSummary string   `json:"original_summary"`
	Changes         []string `json:"changes"`
}

type deleteEventResult struct {
	Status         string `json:"status"`
	DeletedSummary string `json:"deleted_summary"`
	Date           string `json:"date"`
}

func (r *Registry) listEvents(ctx context.Context, a *ListEventsArgs) (any, error) {
	from, date, err := r.day(a.Date)
	if err != nil {
		return nil, err
	}
	days := 1
	if s := strings.TrimSpace(a.Days); s != "" {
		days, err = strconv.Atoi(s)
		if err != nil || days < 1 {
			return nil, fmt.Errorf("days %q must be a positive integer", a.Days)
		}
	}
	events, err := r.calendar.ListEvents(ctx, from, addDays(from, days), eventListLimit)
	if err != nil {
		return nil, err
	}
	return listEventsResult{
		Status: statusOK,
		Count:  len(events),
		Date:   date,
		Days:   days,
		Events: lo.Map(events, func(e domain.Event, _ int) eventSummary {
			return eventSummary{
				ID:       e.ID,
				Summary:  e.Summary,
				Start:    e.Start.String(),
				End:      e.End.String(),
				Location: optional(e.Location),
				AllDay:   e.Start.AllDay(),
			}
		}),
	}, nil
}

func (r *Registry) createEvent(ctx context.Context, a *CreateEventArgs, key string) (any, error) {
	if strings.TrimSpace(a.Summary) == "" || strings.TrimSpace(a.StartTime) == "" {
		return nil, errors.New("summary and start_time are required")
	}
	day, _, err := r.day(a.Date)
	if err != nil {
		return nil, err
	}
	start, err := r.clockOn(day, a.StartTime)
	if err != nil {
		return nil, err
	}
	end := start.Add(defaultEventLength)
	if strings.TrimSpace(a.EndTime) != "" {
		if end, err = r.clockOn(day, a.EndTime); err != nil {
			return nil, err
		}
	}
	event, err := r.calendar.CreateEvent(ctx, domain.EventInput{
		ID:          key,
		Summary:     a.Summary,
		Description: a.Description,
		Location:    a.Location,
		Start:       r.eventTime(start),
		End:         r.eventTime(end),
	})
	if err != nil {
		return nil, err
	}
	// A replayed key returns the event stored under it, so report what the
	// calendar holds rather than what was asked for.
	date, startClock := r.clockOf(event.Start)
	_, endClock := r.clockOf(event.End)
	return createEventResult{
		Status: statusOK,
		Event: createdEvent{
			ID:        event.ID,
			Summary:   event.Summary,
			Date:      date,
			StartTime: startClock,
			EndTime:   endClock,
			Location:  optional(event.Location),
		},
	}, nil
}

// clockOf splits an event time into its local date and HH:MM. All-day values
// have no clock.
func (r *Registry) clockOf(t domain.EventTime) (string, string) {
	ts, ok := t.Instant()
	if !ok {
		return t.Date, ""
	}
	ts = ts.In(r.loc)
	return ts.Format(dateLayout), ts.Format("15:04")
}

func (r *Registry) updateEvent(ctx context.Context, a *UpdateEventArgs) (any, error) {
	day, date, err := r.day(a.Date)
	if err != nil {
		return nil, err
	}
	match, err := r.findEvent(ctx, a.SearchSummary, day, date)
	if err != nil {
		return nil, err
	}

	var (
		patch   domain.EventPatch
		changes = []string{}
	)
	if a.NewSummary != "" {
		patch.Summary = &a.NewSummary
		changes = append(changes, fmt.Sprintf("title -> %q", a.NewSummary))
	}
	if strings.TrimSpace(a.NewStartTime) != "" {
		start, err := r.clockOn(day, a.NewStartTime)
		if err != nil {
			return nil, err
		}
		patch.Start = lo.ToPtr(r.eventTime(start))
		changes = append(changes, "start -> "+start.Format("15:04"))

		if strings.TrimSpace(a.NewEndTime) == "" {
			origStart, okStart := match.Start.Instant()
			origEnd, okEnd := match.End.Instant()
			if okStart && okEnd {
				patch.End = lo.ToPtr(r.eventTime(start.Add(origEnd.Sub(origStart))))
			}
		}
	}
	if strings.TrimSpace(a.NewEndTime) != "" {
		end, err := r.clockOn(day, a.NewEndTime)
		if err != nil {
			return nil, err
		}
		patch.End = lo.ToPtr(r.eventTime(end))
		changes = append(changes, "end -> "+end.Format("15:04"))
	}
	if a.NewDescription != "" {
		patch.Description = &a.NewDescription
		changes = append(changes, "description updated")
	}
	if a.NewLocation != "" {
		patch.Location = &a.NewLocation
		changes = append(changes, fmt.Sprintf("location -> %q", a.NewLocation))
	}

	if _, err := r.calendar.UpdateEvent(ctx, match.ID, patch); err != nil {
		return nil, err
	}
	return updateEventResult{Status: statusOK, OriginalSummary: match.Summary, Changes: changes}, nil
}

func (r *Registry) deleteEvent(ctx context.Context, a *DeleteEventArgs) (any, error) {
	day, date, err := r.day(a.Date)
	if err != nil {
		return nil, err
	}
	match, err := r.findEvent(ctx, a.Summary, day, date)
	if err != nil {
		return nil, err
	}
	if err := r.calendar.DeleteEvent(ctx, match.ID); err != nil {
		return nil, err
	}
	return deleteEventResult{Status: statusOK, DeletedSummary: match.Summary, Date: date}, nil
}

// findEvent returns the first event of the day whose summary contains query,
// ignoring case.
func (r *Registry) findEvent(ctx context.Context, query string, day time.Time, date string) (domain.Event, error) {
	q := strings.TrimSpace(query)
	if q == "" {
		return domain.Event{}, errors.New("event title to search for is required")
	}
	events, err := r.calendar.ListEvents(ctx, day, addDays(day, 1), eventListLimit)
	if err != nil {
		return domain.Event{}, err
	}
	match, ok := lo.Find(events, func(e domain.Event) bool {
		return containsFold(e.Summary, q)
	})
	if !ok {
		return domain.Event{}, notFoundError{fmt.Sprintf("event %q not found on %s", query, date)}
	}
	return match, nil
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
