package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/api/calendar/v3"

	"assistant-agent/internal/domain"
)

const maxEventResults = 250

// ListEvents returns single (expanded) events in [from, to) ordered by start.
func (p *Provider) ListEvents(ctx context.Context, from, to time.Time, limit int) ([]domain.Event, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("google: list events: range end %s is not after start %s", to, from)
	}
	if limit <= 0 || limit > maxEventResults {
		limit = maxEventResults
	}
	svc, err := p.calendarService(ctx)
	if err != nil {
		return nil, err
	}
	res, err := svc.Events.List(p.calendarID).
		TimeMin(from.Format(time.RFC3339)).
		TimeMax(to.Format(time.RFC3339)).
		SingleEvents(true).
		OrderBy("startTime").
		MaxResults(int64(limit)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, mapErr("list events", err)
	}
	out := make([]domain.Event, 0, len(res.Items))
	for _, item := range res.Items {
		if item == nil || item.Status == "cancelled" {
			continue
		}
		out = append(out, eventFromAPI(item))
	}
	return out, nil
}

func (p *Provider) GetEvent(ctx context.Context, id string) (domain.Event, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Event{}, errors.New("google: get event: id is required")
	}
	svc, err := p.calendarService(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	ev, err := svc.Events.Get(p.calendarID, id).Context(ctx).Do()
	if err != nil {
		return domain.Event{}, mapErr("get event", err)
	}
	return eventFromAPI(ev), nil
}

// CreateEvent inserts an event. When in.ID is set and the calendar already
// holds that id, the existing event is returned instead of a duplicate.
func (p *Provider) CreateEvent(ctx context.Context, in domain.EventInput) (domain.Event, error) {
	if strings.TrimSpace(in.Summary) == "" {
		return domain.Event{}, errors.New("google: create event: summary is required")
	}
	svc, err := p.calendarService(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	ev := &calendar.Event{
		Id:          in.ID,
		Summary:     in.Summary,
		Description: in.Description,
		Location:    in.Location,
		Start:       toAPITime(in.Start),
		End:         toAPITime(in.End),
	}
	created, err := svc.Events.Insert(p.calendarID, ev).Context(ctx).Do()
	if err != nil {
		if in.ID != "" && isStatus(err, http.StatusConflict) {
			existing, getErr := svc.Events.Get(p.calendarID, in.ID).Context(ctx).Do()
			if getErr != nil {
				return domain.Event{}, mapErr("get existing event", getErr)
			}
			p.logger.Info("event already exists, reusing", "event", in.ID)
			return eventFromAPI(existing), nil
		}
		return domain.Event{}, mapErr("create event", err)
	}
	return eventFromAPI(created), nil
}

// UpdateEvent patches the fields set in patch.
func (p *Provider) UpdateEvent(ctx context.Context, id string, patch domain.EventPatch) (domain.Event, error) {
	if strings.TrimSpace(id) == "" {
		return domain.Event{}, errors.New("google: update event: id is required")
	}
	svc, err := p.calendarService(ctx)
	if err != nil {
		return domain.Event{}, err
	}
	ev := &calendar.Event{}
	if patch.Summary != nil {
		ev.Summary = *patch.Summary
		ev.ForceSendFields = append(ev.ForceSendFields, "Summary")
	}
	if patch.Description != nil {
		ev.Description = *patch.Description
		ev.ForceSendFields = append(ev.ForceSendFields, "Description")
	}
	if patch.Location != nil {
		ev.Location = *patch.Location
		ev.ForceSendFields = append(ev.ForceSendFields, "Location")
	}
	if patch.Start != nil {
		ev.Start = toAPITime(*patch.Start)
	}
	if patch.End != nil {
		ev.End = toAPITime(*patch.End)
	}
	updated, err := svc.Events.Patch(p.calendarID, id, ev).Context(ctx).Do()
	if err != nil {
		return domain.Event{}, mapErr("update event", err)
	}
	return eventFromAPI(updated), nil
}

func (p *Provider) DeleteEvent(ctx context.Context, id string) error {
	if strings.TrimSpace(id) == "" {
		return errors.New("google: delete event: id is required")
	}
	svc, err := p.calendarService(ctx)
	if err != nil {
		return err
	}
	if err := svc.Events.Delete(p.calendarID, id).Context(ctx).Do(); err != nil {
		return mapErr("delete event", err)
	}
	return nil
}

func toAPITime(t domain.EventTime) *calendar.EventDateTime {
	if t.DateTime == "" && t.Date == "" {
		return nil
	}
	return &calendar.EventDateTime{
		DateTime: t.DateTime,
		Date:     t.Date,
		TimeZone: t.TimeZone,
	}
}

func fromAPITime(t *calendar.EventDateTime) domain.EventTime {
	if t == nil {
		return domain.EventTime{}
	}
	return domain.EventTime{DateTime: t.DateTime, Date: t.Date, TimeZone: t.TimeZone}
}

func eventFromAPI(ev *calendar.Event) domain.Event {
	return domain.Event{
		ID:          ev.Id,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Start:       fromAPITime(ev.Start),
		End:         fromAPITime(ev.End),
		Status:      ev.Status,
		HTMLLink:    ev.HtmlLink,
	}
}
